package kafka

import (
	"github.com/shopspring/decimal"

	"github.com/azizikri/loyalty-coupon/internal/domain"
)

const (
	StatusSuccess = "SUCCESS"
	StatusError   = "ERROR"
)

const (
	ErrCodeInsufficientSpend = "INSUFFICIENT_SPEND"
	ErrCodeInvalidTier       = "INVALID_TIER"
	ErrCodeMemberNotFound    = "MEMBER_NOT_FOUND"
	ErrCodeCouponNotFound    = "COUPON_NOT_FOUND"
	ErrCodeAlreadyIssued     = "ALREADY_ISSUED"
	ErrCodeAlreadyRedeemed   = "ALREADY_REDEEMED"
	ErrCodeExpired           = "EXPIRED"
	ErrCodeInvalidTarget     = "INVALID_TARGET"
	ErrCodeBusy              = "BUSY"
	ErrCodeInvalidRequest    = "INVALID_REQUEST"
	ErrCodeInternalError     = "INTERNAL_ERROR"
)

type RequestPayload struct {
	SchemaVersion int    `json:"schema_version"`
	CorrelationID string `json:"correlation_id"`
	ReplyTo       string `json:"reply_to"`
	MemberID      int64  `json:"member_id,omitempty"`
	TierID        int    `json:"tier_id,omitempty"`
	TargetRef     string `json:"target_ref,omitempty"`
}

// ErrorDetail carries the data attached to typed business errors.
type ErrorDetail struct {
	Accumulation *decimal.Decimal `json:"accumulation,omitempty"`
	TierID       int              `json:"tier_id,omitempty"`
	ValidTierIDs []int            `json:"valid_tier_ids,omitempty"`
	CouponID     int64            `json:"coupon_id,omitempty"`
	RedeemedRef  string           `json:"redeemed_ref,omitempty"`
}

type ResponsePayload struct {
	SchemaVersion int                 `json:"schema_version"`
	CorrelationID string              `json:"correlation_id"`
	Status        string              `json:"status"`
	ErrorCode     string              `json:"error_code,omitempty"`
	ErrorMessage  string              `json:"error_message,omitempty"`
	ErrorDetail   *ErrorDetail        `json:"error_detail,omitempty"`
	Coupon        *domain.CouponView  `json:"coupon,omitempty"`
	Coupons       []domain.CouponView `json:"coupons,omitempty"`
	Redemption    *domain.Redemption  `json:"redemption,omitempty"`
	Tiers         []domain.Tier       `json:"tiers,omitempty"`
}
