package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	OrderStatusPaid      = "paid"
	OrderStatusCompleted = "completed"
)

// QualifyingOrderStatuses lists the purchase order states that count toward spend.
var QualifyingOrderStatuses = []string{OrderStatusPaid, OrderStatusCompleted}

type CouponStatus string

const (
	StatusActive   CouponStatus = "active"
	StatusExpired  CouponStatus = "expired"
	StatusRedeemed CouponStatus = "redeemed"
)

type Member struct {
	ID   int64
	Name string
}

type PurchaseOrder struct {
	MemberID int64
	OrderRef string
	Amount   decimal.Decimal
	Status   string
}

type Tier struct {
	ID             int             `json:"tier_id"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	Description    string          `json:"description"`
}

// Coupon is a ledger row. IssuedAt and ExpiresAt are calendar dates (UTC midnight).
type Coupon struct {
	ID              int64
	MemberID        int64
	TierID          int
	IssuancePeriod  string
	QualifyingSpend decimal.Decimal
	IssuedAt        time.Time
	ExpiresAt       time.Time
	Expired         bool
	RedeemedRef     *string
	RedeemedAt      *time.Time
	CreatedAt       time.Time
}

func (c Coupon) Active() bool {
	return !c.Expired && c.RedeemedRef == nil
}

func (c Coupon) Status() CouponStatus {
	return statusOf(c.Expired, c.RedeemedRef)
}

// CouponView is a coupon joined with its tier and owner, as returned by the read paths.
type CouponView struct {
	CouponID       int64           `json:"coupon_id"`
	MemberID       int64           `json:"member_id"`
	MemberName     string          `json:"member_name"`
	TierID         int             `json:"tier_id"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	Description    string          `json:"description"`
	IssuedAt       time.Time       `json:"issued_at"`
	ExpiresAt      time.Time       `json:"expires_at"`
	Expired        bool            `json:"expired"`
	RedeemedRef    *string         `json:"redeemed_ref,omitempty"`
	RedeemedAt     *time.Time      `json:"redeemed_at,omitempty"`
}

func (v CouponView) Status() CouponStatus {
	return statusOf(v.Expired, v.RedeemedRef)
}

func (v CouponView) Active() bool {
	return !v.Expired && v.RedeemedRef == nil
}

type Redemption struct {
	CouponID   int64     `json:"coupon_id"`
	MemberID   int64     `json:"member_id"`
	TierID     int       `json:"tier_id"`
	TargetRef  string    `json:"target_ref"`
	RedeemedAt time.Time `json:"redeemed_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// redemption wins over expiry: a coupon used before it lapsed stays "redeemed".
func statusOf(expired bool, redeemedRef *string) CouponStatus {
	switch {
	case redeemedRef != nil:
		return StatusRedeemed
	case expired:
		return StatusExpired
	default:
		return StatusActive
	}
}
