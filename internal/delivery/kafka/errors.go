package kafka

import (
	"context"
	"errors"
	"fmt"

	"github.com/azizikri/loyalty-coupon/internal/domain"
)

var (
	ErrInvalidRequest = errors.New("invalid request payload")
	ErrReplyTimeout   = fmt.Errorf("timeout waiting for response: %w", context.DeadlineExceeded)
)

// encodeError turns a service error into its wire form. Storage faults and
// anything unrecognised leave the process as an opaque internal error.
func encodeError(err error) (string, string, *ErrorDetail) {
	var (
		insufficient *domain.InsufficientSpendError
		invalidTier  *domain.InvalidTierError
		redeemed     *domain.AlreadyRedeemedError
	)

	switch {
	case errors.As(err, &insufficient):
		spend := insufficient.Spend
		return ErrCodeInsufficientSpend, domain.ErrInsufficientSpend.Error(), &ErrorDetail{Accumulation: &spend}
	case errors.As(err, &invalidTier):
		return ErrCodeInvalidTier, domain.ErrInvalidTier.Error(), &ErrorDetail{
			TierID:       invalidTier.TierID,
			ValidTierIDs: invalidTier.ValidTierIDs,
		}
	case errors.As(err, &redeemed):
		return ErrCodeAlreadyRedeemed, domain.ErrAlreadyRedeemed.Error(), &ErrorDetail{
			CouponID:    redeemed.CouponID,
			RedeemedRef: redeemed.RedeemedRef,
		}
	case errors.Is(err, domain.ErrMemberNotFound):
		return ErrCodeMemberNotFound, domain.ErrMemberNotFound.Error(), nil
	case errors.Is(err, domain.ErrCouponNotFound):
		return ErrCodeCouponNotFound, domain.ErrCouponNotFound.Error(), nil
	case errors.Is(err, domain.ErrAlreadyIssued):
		return ErrCodeAlreadyIssued, domain.ErrAlreadyIssued.Error(), nil
	case errors.Is(err, domain.ErrAlreadyRedeemed):
		return ErrCodeAlreadyRedeemed, domain.ErrAlreadyRedeemed.Error(), nil
	case errors.Is(err, domain.ErrExpired):
		return ErrCodeExpired, domain.ErrExpired.Error(), nil
	case errors.Is(err, domain.ErrInvalidTarget):
		return ErrCodeInvalidTarget, domain.ErrInvalidTarget.Error(), nil
	case errors.Is(err, domain.ErrBusy):
		return ErrCodeBusy, domain.ErrBusy.Error(), nil
	case errors.Is(err, ErrInvalidRequest):
		return ErrCodeInvalidRequest, err.Error(), nil
	default:
		return ErrCodeInternalError, "internal error", nil
	}
}

// decodeError rebuilds the service error carried by an error reply.
func decodeError(resp *ResponsePayload) error {
	detail := resp.ErrorDetail
	if detail == nil {
		detail = &ErrorDetail{}
	}

	switch resp.ErrorCode {
	case ErrCodeInsufficientSpend:
		e := &domain.InsufficientSpendError{}
		if detail.Accumulation != nil {
			e.Spend = *detail.Accumulation
		}
		return e
	case ErrCodeInvalidTier:
		return &domain.InvalidTierError{TierID: detail.TierID, ValidTierIDs: detail.ValidTierIDs}
	case ErrCodeAlreadyRedeemed:
		if detail.CouponID == 0 {
			return domain.ErrAlreadyRedeemed
		}
		return &domain.AlreadyRedeemedError{CouponID: detail.CouponID, RedeemedRef: detail.RedeemedRef}
	case ErrCodeMemberNotFound:
		return domain.ErrMemberNotFound
	case ErrCodeCouponNotFound:
		return domain.ErrCouponNotFound
	case ErrCodeAlreadyIssued:
		return domain.ErrAlreadyIssued
	case ErrCodeExpired:
		return domain.ErrExpired
	case ErrCodeInvalidTarget:
		return domain.ErrInvalidTarget
	case ErrCodeBusy:
		return domain.ErrBusy
	case ErrCodeInvalidRequest:
		return fmt.Errorf("%w: %s", ErrInvalidRequest, resp.ErrorMessage)
	default:
		return &domain.StorageError{Op: "coupon reply", Err: errors.New(resp.ErrorMessage)}
	}
}

// retryable reports whether a failed request is worth re-queueing.
func retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, domain.ErrBusy) {
		return true
	}
	return !domain.IsBusinessError(err) && !errors.Is(err, ErrInvalidRequest)
}
