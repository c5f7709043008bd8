package usecase

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/azizikri/loyalty-coupon/internal/clock"
	"github.com/azizikri/loyalty-coupon/internal/domain"
	"github.com/azizikri/loyalty-coupon/internal/lock"
	"github.com/azizikri/loyalty-coupon/internal/metrics"
	"github.com/azizikri/loyalty-coupon/internal/repository"
)

type CouponService struct {
	store   repository.Store
	ids     *snowflake.Node
	locker  lock.Locker
	clock   clock.Clock
	loc     *time.Location
	metrics *metrics.CouponMetrics
	log     *zap.Logger
}

type Option func(*CouponService)

func WithLocker(l lock.Locker) Option {
	return func(s *CouponService) { s.locker = l }
}

func WithClock(c clock.Clock) Option {
	return func(s *CouponService) { s.clock = c }
}

// WithLocation sets the zone in which "today" is evaluated.
func WithLocation(loc *time.Location) Option {
	return func(s *CouponService) {
		if loc != nil {
			s.loc = loc
		}
	}
}

func WithMetrics(m *metrics.CouponMetrics) Option {
	return func(s *CouponService) { s.metrics = m }
}

func WithLogger(log *zap.Logger) Option {
	return func(s *CouponService) {
		if log != nil {
			s.log = log
		}
	}
}

func NewCouponService(store repository.Store, ids *snowflake.Node, opts ...Option) *CouponService {
	s := &CouponService{
		store:  store,
		ids:    ids,
		locker: lock.NewLocal(0),
		clock:  clock.New(),
		loc:    time.UTC,
		log:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *CouponService) now() time.Time {
	return s.clock.Now().In(s.loc)
}

// IssueCoupon grants the member a coupon for the tier their qualifying spend
// reaches. At most one coupon per (member, tier, calendar month) is issued.
func (s *CouponService) IssueCoupon(ctx context.Context, memberID int64) (*domain.CouponView, error) {
	var (
		view   domain.CouponView
		tierID int
	)

	err := s.withMemberLock(ctx, memberID, func() error {
		return s.store.ExecTx(ctx, func(q repository.Querier) error {
			if err := memberExists(ctx, q, memberID); err != nil {
				return err
			}

			spend, err := q.QualifyingSpend(ctx, memberID, domain.QualifyingOrderStatuses)
			if err != nil {
				return fmt.Errorf("aggregate spend: %w", err)
			}

			resolved, ok := domain.ResolveTier(spend)
			if !ok {
				return &domain.InsufficientSpendError{Spend: spend}
			}
			tierID = resolved

			tiers, err := q.ListTiers(ctx)
			if err != nil {
				return fmt.Errorf("list tiers: %w", err)
			}
			catalog := domain.TierCatalog(tiers)
			if _, err := catalog.Validate(tierID); err != nil {
				return err
			}

			window := domain.NewValidityWindow(s.now())
			couponID := s.ids.Generate().Int64()
			rows, err := q.InsertCoupon(ctx, repository.InsertCouponParams{
				CouponID:        couponID,
				MemberID:        memberID,
				TierID:          tierID,
				IssuancePeriod:  window.Period,
				QualifyingSpend: spend,
				IssuedAt:        window.IssuedAt,
				ExpiresAt:       window.ExpiresAt,
			})
			if err != nil {
				if repository.IsForeignKeyViolation(err) {
					// The tier row vanished between the catalog read and the insert.
					return &domain.InvalidTierError{TierID: tierID, ValidTierIDs: catalog.IDs()}
				}
				if repository.IsUniqueViolation(err) {
					return fmt.Errorf("coupon id %d collided: %w", couponID, err)
				}
				return fmt.Errorf("insert coupon: %w", err)
			}
			if rows == 0 {
				return domain.ErrAlreadyIssued
			}

			view, err = q.GetCouponView(ctx, couponID)
			if err != nil {
				return fmt.Errorf("load issued coupon: %w", err)
			}
			return nil
		})
	})

	label := ""
	if err == nil {
		label = strconv.Itoa(tierID)
	}
	s.metrics.ObserveIssuance(label, err)
	if err != nil {
		return nil, s.fail("issue coupon", err, zap.Int64("member_id", memberID))
	}

	s.log.Info("coupon issued",
		zap.Int64("member_id", memberID),
		zap.Int("tier_id", view.TierID),
		zap.Int64("coupon_id", view.CouponID),
		zap.String("expires_at", view.ExpiresAt.Format(domain.DateLayout)),
	)
	return &view, nil
}

// ListHistory returns every coupon the member holds, after the expiry sweep.
func (s *CouponService) ListHistory(ctx context.Context, memberID int64) ([]domain.CouponView, error) {
	return s.list(ctx, "list coupon history", memberID, func(q repository.Querier, _ time.Time) ([]domain.CouponView, error) {
		return q.ListCouponViews(ctx, memberID)
	})
}

// ListRedeemable returns the member's active coupons, soonest-expiring first.
func (s *CouponService) ListRedeemable(ctx context.Context, memberID int64) ([]domain.CouponView, error) {
	return s.list(ctx, "list redeemable coupons", memberID, func(q repository.Querier, today time.Time) ([]domain.CouponView, error) {
		return q.ListRedeemableCouponViews(ctx, memberID, today)
	})
}

func (s *CouponService) list(
	ctx context.Context,
	op string,
	memberID int64,
	read func(q repository.Querier, today time.Time) ([]domain.CouponView, error),
) ([]domain.CouponView, error) {
	var views []domain.CouponView
	today := domain.Date(s.now())

	err := s.store.ExecTx(ctx, func(q repository.Querier) error {
		if err := memberExists(ctx, q, memberID); err != nil {
			return err
		}

		swept, err := q.SweepExpired(ctx, repository.SweepExpiredParams{AsOf: today, MemberID: memberID})
		if err != nil {
			return fmt.Errorf("sweep expired: %w", err)
		}
		s.metrics.ObserveSwept(swept)

		views, err = read(q, today)
		return err
	})
	if err != nil {
		return nil, s.fail(op, err, zap.Int64("member_id", memberID))
	}
	if views == nil {
		views = []domain.CouponView{}
	}
	return views, nil
}

// RedeemCoupon links the member's soonest-expiring active coupon of tierID to
// targetRef. A coupon is redeemed at most once and never after it expired.
func (s *CouponService) RedeemCoupon(ctx context.Context, memberID int64, tierID int, targetRef string) (*domain.Redemption, error) {
	targetRef = strings.TrimSpace(targetRef)
	if targetRef == "" {
		s.metrics.ObserveRedemption(domain.ErrInvalidTarget)
		return nil, domain.ErrInvalidTarget
	}

	var result domain.Redemption
	err := s.withMemberLock(ctx, memberID, func() error {
		return s.store.ExecTx(ctx, func(q repository.Querier) error {
			if err := memberExists(ctx, q, memberID); err != nil {
				return err
			}

			tiers, err := q.ListTiers(ctx)
			if err != nil {
				return fmt.Errorf("list tiers: %w", err)
			}
			if _, err := domain.TierCatalog(tiers).Validate(tierID); err != nil {
				return err
			}

			ok, err := q.TargetExists(ctx, memberID, targetRef)
			if err != nil {
				return fmt.Errorf("check target: %w", err)
			}
			if !ok {
				return domain.ErrInvalidTarget
			}

			now := s.now()
			swept, err := q.SweepExpired(ctx, repository.SweepExpiredParams{
				AsOf:     domain.Date(now),
				MemberID: memberID,
			})
			if err != nil {
				return fmt.Errorf("sweep expired: %w", err)
			}

			couponID, err := q.RedeemActiveCoupon(ctx, repository.RedeemCouponParams{
				MemberID:   memberID,
				TierID:     tierID,
				TargetRef:  targetRef,
				RedeemedAt: now,
			})
			if err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					return explainNoActiveCoupon(ctx, q, memberID, tierID)
				}
				return fmt.Errorf("redeem coupon: %w", err)
			}
			s.metrics.ObserveSwept(swept)

			view, err := q.GetCouponView(ctx, couponID)
			if err != nil {
				return fmt.Errorf("load redeemed coupon: %w", err)
			}
			result = domain.Redemption{
				CouponID:   couponID,
				MemberID:   memberID,
				TierID:     tierID,
				TargetRef:  targetRef,
				RedeemedAt: now,
				ExpiresAt:  view.ExpiresAt,
			}
			return nil
		})
	})

	s.metrics.ObserveRedemption(err)
	if err != nil {
		return nil, s.fail("redeem coupon", err,
			zap.Int64("member_id", memberID),
			zap.Int("tier_id", tierID),
		)
	}

	s.log.Info("coupon redeemed",
		zap.Int64("member_id", memberID),
		zap.Int("tier_id", tierID),
		zap.Int64("coupon_id", result.CouponID),
		zap.String("target_ref", targetRef),
	)
	return &result, nil
}

// SweepExpired flags every coupon whose expiry date is before asOf.
func (s *CouponService) SweepExpired(ctx context.Context, asOf time.Time) (int64, error) {
	rows, err := s.store.SweepExpired(ctx, repository.SweepExpiredParams{AsOf: domain.Date(asOf)})
	if err != nil {
		return 0, s.fail("sweep expired", err)
	}
	s.metrics.ObserveSwept(rows)
	return rows, nil
}

func (s *CouponService) ListTiers(ctx context.Context) ([]domain.Tier, error) {
	tiers, err := s.store.ListTiers(ctx)
	if err != nil {
		return nil, s.fail("list tiers", err)
	}
	if tiers == nil {
		tiers = []domain.Tier{}
	}
	return tiers, nil
}

func (s *CouponService) withMemberLock(ctx context.Context, memberID int64, fn func() error) error {
	release, err := s.locker.Acquire(ctx, lock.MemberKey(memberID))
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, lock.ErrNotAcquired) {
			return domain.ErrBusy
		}
		return fmt.Errorf("acquire member lock: %w", err)
	}
	defer release()
	return fn()
}

// fail passes business errors through and turns anything else into a logged
// StorageError.
func (s *CouponService) fail(op string, err error, fields ...zap.Field) error {
	wrapped := domain.Storage(op, err)
	if errors.Is(wrapped, domain.ErrStorage) {
		s.log.Error(op+" failed", append(fields, zap.Error(err))...)
	}
	return wrapped
}

func memberExists(ctx context.Context, q repository.Querier, memberID int64) error {
	if _, err := q.GetMember(ctx, memberID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrMemberNotFound
		}
		return fmt.Errorf("get member: %w", err)
	}
	return nil
}

// explainNoActiveCoupon picks the business error for a redemption that matched
// nothing. The member's latest coupon of the tier decides: redeemed reports the
// prior redemption, lapsed unredeemed reports Expired.
func explainNoActiveCoupon(ctx context.Context, q repository.Querier, memberID int64, tierID int) error {
	coupons, err := q.ListCouponsForTier(ctx, memberID, tierID)
	if err != nil {
		return fmt.Errorf("list coupons for tier: %w", err)
	}
	if len(coupons) == 0 {
		return domain.ErrCouponNotFound
	}

	// newest first
	latest := coupons[0]
	if latest.RedeemedRef != nil {
		return &domain.AlreadyRedeemedError{CouponID: latest.ID, RedeemedRef: *latest.RedeemedRef}
	}
	if latest.Expired {
		return domain.ErrExpired
	}
	return domain.ErrCouponNotFound
}
