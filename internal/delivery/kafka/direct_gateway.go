package kafka

import (
	"context"

	"github.com/azizikri/loyalty-coupon/internal/domain"
	"github.com/azizikri/loyalty-coupon/internal/usecase"
)

// DirectGateway calls the service in-process when event-driven mode is off.
type DirectGateway struct {
	service *usecase.CouponService
}

func NewDirectGateway(service *usecase.CouponService) usecase.CouponGateway {
	return &DirectGateway{service: service}
}

func (g *DirectGateway) IssueCoupon(ctx context.Context, memberID int64) (*domain.CouponView, error) {
	return g.service.IssueCoupon(ctx, memberID)
}

func (g *DirectGateway) ListHistory(ctx context.Context, memberID int64) ([]domain.CouponView, error) {
	return g.service.ListHistory(ctx, memberID)
}

func (g *DirectGateway) ListRedeemable(ctx context.Context, memberID int64) ([]domain.CouponView, error) {
	return g.service.ListRedeemable(ctx, memberID)
}

func (g *DirectGateway) RedeemCoupon(ctx context.Context, memberID int64, tierID int, targetRef string) (*domain.Redemption, error) {
	return g.service.RedeemCoupon(ctx, memberID, tierID, targetRef)
}

func (g *DirectGateway) ListTiers(ctx context.Context) ([]domain.Tier, error) {
	return g.service.ListTiers(ctx)
}
