package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/azizikri/loyalty-coupon/internal/domain"
)

// Querier is the coupon ledger surface available both inside and outside a transaction.
type Querier interface {
	GetMember(ctx context.Context, memberID int64) (domain.Member, error)
	QualifyingSpend(ctx context.Context, memberID int64, statuses []string) (decimal.Decimal, error)
	ListTiers(ctx context.Context) ([]domain.Tier, error)
	InsertCoupon(ctx context.Context, arg InsertCouponParams) (int64, error)
	SweepExpired(ctx context.Context, arg SweepExpiredParams) (int64, error)
	RedeemActiveCoupon(ctx context.Context, arg RedeemCouponParams) (int64, error)
	ListCouponsForTier(ctx context.Context, memberID int64, tierID int) ([]domain.Coupon, error)
	TargetExists(ctx context.Context, memberID int64, targetRef string) (bool, error)
	GetCouponView(ctx context.Context, couponID int64) (domain.CouponView, error)
	ListCouponViews(ctx context.Context, memberID int64) ([]domain.CouponView, error)
	ListRedeemableCouponViews(ctx context.Context, memberID int64, asOf time.Time) ([]domain.CouponView, error)
}

type Store interface {
	Querier
	ExecTx(ctx context.Context, fn func(Querier) error) error
}

type store struct {
	*Queries
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) Store {
	return &store{
		Queries: NewQueries(pool),
		pool:    pool,
	}
}

func (s *store) ExecTx(ctx context.Context, fn func(Querier) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	q := s.Queries.WithTx(tx)
	if err := fn(q); err != nil {
		// Rollback must still run when ctx is already cancelled.
		rbCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if rbErr := tx.Rollback(rbCtx); rbErr != nil {
			return fmt.Errorf("tx err: %w, rollback err: %v", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
