package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrInsufficientSpend = errors.New("accumulation amount too low")
	ErrInvalidTier       = errors.New("invalid tier")
	ErrMemberNotFound    = errors.New("member not found")
	ErrCouponNotFound    = errors.New("coupon not found")
	ErrAlreadyIssued     = errors.New("coupon already issued for this period")
	ErrAlreadyRedeemed   = errors.New("coupon has already been redeemed")
	ErrExpired           = errors.New("coupon has expired")
	ErrInvalidTarget     = errors.New("redemption target not found")
	ErrBusy              = errors.New("another request for this member is in progress")
	ErrStorage           = errors.New("storage failure")
)

type InsufficientSpendError struct {
	Spend decimal.Decimal
}

func (e *InsufficientSpendError) Error() string {
	return fmt.Sprintf("%s: %s", ErrInsufficientSpend, e.Spend.String())
}

func (e *InsufficientSpendError) Is(target error) bool {
	return target == ErrInsufficientSpend
}

type InvalidTierError struct {
	TierID       int
	ValidTierIDs []int
}

func (e *InvalidTierError) Error() string {
	return fmt.Sprintf("%s: %d not in catalog %v", ErrInvalidTier, e.TierID, e.ValidTierIDs)
}

func (e *InvalidTierError) Is(target error) bool {
	return target == ErrInvalidTier
}

// AlreadyRedeemedError reports the prior redemption that blocked this one.
type AlreadyRedeemedError struct {
	CouponID    int64
	RedeemedRef string
}

func (e *AlreadyRedeemedError) Error() string {
	return fmt.Sprintf("%s: coupon %d linked to %q", ErrAlreadyRedeemed, e.CouponID, e.RedeemedRef)
}

func (e *AlreadyRedeemedError) Is(target error) bool {
	return target == ErrAlreadyRedeemed
}

// StorageError carries the underlying persistence fault. Callers outside the
// service should log it and report ErrStorage without the wrapped detail.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrStorage, e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func (e *StorageError) Is(target error) bool {
	return target == ErrStorage
}

// IsBusinessError reports whether err belongs to the typed business-rule set.
func IsBusinessError(err error) bool {
	for _, target := range []error{
		ErrInsufficientSpend,
		ErrInvalidTier,
		ErrMemberNotFound,
		ErrCouponNotFound,
		ErrAlreadyIssued,
		ErrAlreadyRedeemed,
		ErrExpired,
		ErrInvalidTarget,
		ErrBusy,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// Storage wraps err as a StorageError unless it is nil or already a business error.
func Storage(op string, err error) error {
	if err == nil || IsBusinessError(err) || errors.Is(err, ErrStorage) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}
