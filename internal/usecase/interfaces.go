package usecase

import (
	"context"

	"github.com/azizikri/loyalty-coupon/internal/domain"
)

type CouponGateway interface {
	IssueCoupon(ctx context.Context, memberID int64) (*domain.CouponView, error)
	ListHistory(ctx context.Context, memberID int64) ([]domain.CouponView, error)
	ListRedeemable(ctx context.Context, memberID int64) ([]domain.CouponView, error)
	RedeemCoupon(ctx context.Context, memberID int64, tierID int, targetRef string) (*domain.Redemption, error)
	ListTiers(ctx context.Context) ([]domain.Tier, error)
}
