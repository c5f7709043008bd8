package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/azizikri/loyalty-coupon/internal/clock"
	"github.com/azizikri/loyalty-coupon/internal/domain"
	"github.com/azizikri/loyalty-coupon/internal/lock"
	"github.com/azizikri/loyalty-coupon/internal/repository"
)

type mockStore struct {
	getMemberFn          func(ctx context.Context, memberID int64) (domain.Member, error)
	qualifyingSpendFn    func(ctx context.Context, memberID int64, statuses []string) (decimal.Decimal, error)
	listTiersFn          func(ctx context.Context) ([]domain.Tier, error)
	insertCouponFn       func(ctx context.Context, arg repository.InsertCouponParams) (int64, error)
	sweepExpiredFn       func(ctx context.Context, arg repository.SweepExpiredParams) (int64, error)
	redeemActiveCouponFn func(ctx context.Context, arg repository.RedeemCouponParams) (int64, error)
	listCouponsForTierFn func(ctx context.Context, memberID int64, tierID int) ([]domain.Coupon, error)
	targetExistsFn       func(ctx context.Context, memberID int64, targetRef string) (bool, error)
	getCouponViewFn      func(ctx context.Context, couponID int64) (domain.CouponView, error)
	execTxFn             func(ctx context.Context, fn func(repository.Querier) error) error
}

func (m *mockStore) GetMember(ctx context.Context, memberID int64) (domain.Member, error) {
	if m.getMemberFn != nil {
		return m.getMemberFn(ctx, memberID)
	}
	return domain.Member{ID: memberID, Name: "alice"}, nil
}

func (m *mockStore) QualifyingSpend(ctx context.Context, memberID int64, statuses []string) (decimal.Decimal, error) {
	if m.qualifyingSpendFn != nil {
		return m.qualifyingSpendFn(ctx, memberID, statuses)
	}
	return decimal.Zero, nil
}

func (m *mockStore) ListTiers(ctx context.Context) ([]domain.Tier, error) {
	if m.listTiersFn != nil {
		return m.listTiersFn(ctx)
	}
	return repository.DefaultTiers(), nil
}

func (m *mockStore) InsertCoupon(ctx context.Context, arg repository.InsertCouponParams) (int64, error) {
	if m.insertCouponFn != nil {
		return m.insertCouponFn(ctx, arg)
	}
	return 1, nil
}

func (m *mockStore) SweepExpired(ctx context.Context, arg repository.SweepExpiredParams) (int64, error) {
	if m.sweepExpiredFn != nil {
		return m.sweepExpiredFn(ctx, arg)
	}
	return 0, nil
}

func (m *mockStore) RedeemActiveCoupon(ctx context.Context, arg repository.RedeemCouponParams) (int64, error) {
	if m.redeemActiveCouponFn != nil {
		return m.redeemActiveCouponFn(ctx, arg)
	}
	return 0, pgx.ErrNoRows
}

func (m *mockStore) ListCouponsForTier(ctx context.Context, memberID int64, tierID int) ([]domain.Coupon, error) {
	if m.listCouponsForTierFn != nil {
		return m.listCouponsForTierFn(ctx, memberID, tierID)
	}
	return nil, nil
}

func (m *mockStore) TargetExists(ctx context.Context, memberID int64, targetRef string) (bool, error) {
	if m.targetExistsFn != nil {
		return m.targetExistsFn(ctx, memberID, targetRef)
	}
	return true, nil
}

func (m *mockStore) GetCouponView(ctx context.Context, couponID int64) (domain.CouponView, error) {
	if m.getCouponViewFn != nil {
		return m.getCouponViewFn(ctx, couponID)
	}
	return domain.CouponView{CouponID: couponID}, nil
}

func (m *mockStore) ListCouponViews(ctx context.Context, memberID int64) ([]domain.CouponView, error) {
	return nil, nil
}

func (m *mockStore) ListRedeemableCouponViews(ctx context.Context, memberID int64, asOf time.Time) ([]domain.CouponView, error) {
	return nil, nil
}

func (m *mockStore) ExecTx(ctx context.Context, fn func(repository.Querier) error) error {
	if m.execTxFn != nil {
		return m.execTxFn(ctx, fn)
	}
	return fn(m)
}

type busyLocker struct{}

func (busyLocker) Acquire(ctx context.Context, key string) (func(), error) {
	return nil, fmt.Errorf("%w: %s", lock.ErrNotAcquired, key)
}

func testNode(t *testing.T) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return node
}

func spendOf(v int64) func(context.Context, int64, []string) (decimal.Decimal, error) {
	return func(context.Context, int64, []string) (decimal.Decimal, error) {
		return decimal.NewFromInt(v), nil
	}
}

func TestIssueCoupon_MemberNotFound(t *testing.T) {
	store := &mockStore{
		getMemberFn: func(ctx context.Context, memberID int64) (domain.Member, error) {
			return domain.Member{}, pgx.ErrNoRows
		},
	}

	svc := NewCouponService(store, testNode(t))
	_, err := svc.IssueCoupon(context.Background(), 7)
	if !errors.Is(err, domain.ErrMemberNotFound) {
		t.Fatalf("expected ErrMemberNotFound, got %v", err)
	}
}

func TestIssueCoupon_InsufficientSpend(t *testing.T) {
	store := &mockStore{
		qualifyingSpendFn: spendOf(4999),
		insertCouponFn: func(ctx context.Context, arg repository.InsertCouponParams) (int64, error) {
			t.Fatal("insert must not run below the minimum spend")
			return 0, nil
		},
	}

	svc := NewCouponService(store, testNode(t))
	_, err := svc.IssueCoupon(context.Background(), 1)

	var insufficient *domain.InsufficientSpendError
	require.ErrorAs(t, err, &insufficient)
	assert.True(t, insufficient.Spend.Equal(decimal.NewFromInt(4999)))
	assert.ErrorIs(t, err, domain.ErrInsufficientSpend)
}

func TestIssueCoupon_InvalidTier(t *testing.T) {
	store := &mockStore{
		qualifyingSpendFn: spendOf(8000),
		listTiersFn: func(ctx context.Context) ([]domain.Tier, error) {
			tiers := repository.DefaultTiers()
			return []domain.Tier{tiers[3], tiers[0], tiers[2]}, nil
		},
	}

	svc := NewCouponService(store, testNode(t))
	_, err := svc.IssueCoupon(context.Background(), 1)

	var invalid *domain.InvalidTierError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, 2, invalid.TierID)
	assert.Equal(t, []int{1, 3, 4}, invalid.ValidTierIDs)
}

func TestIssueCoupon_AlreadyIssued(t *testing.T) {
	store := &mockStore{
		qualifyingSpendFn: spendOf(8000),
		insertCouponFn: func(ctx context.Context, arg repository.InsertCouponParams) (int64, error) {
			return 0, nil
		},
	}

	svc := NewCouponService(store, testNode(t))
	_, err := svc.IssueCoupon(context.Background(), 1)
	if !errors.Is(err, domain.ErrAlreadyIssued) {
		t.Fatalf("expected ErrAlreadyIssued, got %v", err)
	}
}

func TestIssueCoupon_TierRemovedBeforeInsert(t *testing.T) {
	store := &mockStore{
		qualifyingSpendFn: spendOf(20000),
		insertCouponFn: func(ctx context.Context, arg repository.InsertCouponParams) (int64, error) {
			return 0, fmt.Errorf("insert: %w", repository.ErrForeignKey)
		},
	}

	svc := NewCouponService(store, testNode(t))
	_, err := svc.IssueCoupon(context.Background(), 1)

	var invalid *domain.InvalidTierError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, 4, invalid.TierID)
}

func TestIssueCoupon_InsertParams(t *testing.T) {
	fc := clock.NewFakeClock(time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC))
	var got repository.InsertCouponParams
	store := &mockStore{
		qualifyingSpendFn: spendOf(12000),
		insertCouponFn: func(ctx context.Context, arg repository.InsertCouponParams) (int64, error) {
			got = arg
			return 1, nil
		},
	}

	svc := NewCouponService(store, testNode(t), WithClock(fc))
	_, err := svc.IssueCoupon(context.Background(), 1)
	require.NoError(t, err)

	assert.NotZero(t, got.CouponID)
	assert.Equal(t, 3, got.TierID)
	assert.Equal(t, "2024-03", got.IssuancePeriod)
	assert.Equal(t, "2024-03-16", got.IssuedAt.Format(domain.DateLayout))
	assert.Equal(t, "2024-04-15", got.ExpiresAt.Format(domain.DateLayout))
	assert.True(t, got.QualifyingSpend.Equal(decimal.NewFromInt(12000)))
}

func TestIssueCoupon_Busy(t *testing.T) {
	store := &mockStore{
		execTxFn: func(ctx context.Context, fn func(repository.Querier) error) error {
			t.Fatal("no transaction without the member lock")
			return nil
		},
	}

	svc := NewCouponService(store, testNode(t), WithLocker(busyLocker{}))
	_, err := svc.IssueCoupon(context.Background(), 1)
	if !errors.Is(err, domain.ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
}

func TestIssueCoupon_StorageFailureIsLogged(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	store := &mockStore{
		qualifyingSpendFn: func(ctx context.Context, memberID int64, statuses []string) (decimal.Decimal, error) {
			return decimal.Zero, errors.New("connection reset by peer")
		},
	}

	svc := NewCouponService(store, testNode(t), WithLogger(zap.New(core)))
	_, err := svc.IssueCoupon(context.Background(), 1)

	require.ErrorIs(t, err, domain.ErrStorage)
	assert.False(t, domain.IsBusinessError(err))
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "issue coupon failed", logs.All()[0].Message)
}

func TestRedeemCoupon_EmptyTarget(t *testing.T) {
	svc := NewCouponService(&mockStore{}, testNode(t))
	_, err := svc.RedeemCoupon(context.Background(), 1, 1, "   ")
	if !errors.Is(err, domain.ErrInvalidTarget) {
		t.Fatalf("expected ErrInvalidTarget, got %v", err)
	}
}

func TestRedeemCoupon_UnknownTarget(t *testing.T) {
	store := &mockStore{
		targetExistsFn: func(ctx context.Context, memberID int64, targetRef string) (bool, error) {
			return false, nil
		},
	}

	svc := NewCouponService(store, testNode(t))
	_, err := svc.RedeemCoupon(context.Background(), 1, 1, "car-9")
	if !errors.Is(err, domain.ErrInvalidTarget) {
		t.Fatalf("expected ErrInvalidTarget, got %v", err)
	}
}

func TestRedeemCoupon_InvalidTier(t *testing.T) {
	svc := NewCouponService(&mockStore{}, testNode(t))
	_, err := svc.RedeemCoupon(context.Background(), 1, 9, "car-1")
	if !errors.Is(err, domain.ErrInvalidTier) {
		t.Fatalf("expected ErrInvalidTier, got %v", err)
	}
}

func TestRedeemCoupon_Classification(t *testing.T) {
	ref := "car-1"
	expired := domain.Coupon{ID: 1, Expired: true}
	redeemed := domain.Coupon{ID: 2, RedeemedRef: &ref}
	redeemedLate := domain.Coupon{ID: 3, Expired: true, RedeemedRef: &ref}

	cases := []struct {
		name    string
		coupons []domain.Coupon
		want    error
	}{
		{name: "none", coupons: nil, want: domain.ErrCouponNotFound},
		{name: "expired", coupons: []domain.Coupon{expired}, want: domain.ErrExpired},
		{name: "redeemed", coupons: []domain.Coupon{redeemed}, want: domain.ErrAlreadyRedeemed},
		{name: "redeemed_then_lapsed", coupons: []domain.Coupon{redeemedLate}, want: domain.ErrAlreadyRedeemed},
		{name: "latest_redeemed", coupons: []domain.Coupon{redeemed, expired}, want: domain.ErrAlreadyRedeemed},
		{name: "latest_lapsed", coupons: []domain.Coupon{expired, redeemed}, want: domain.ErrExpired},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := &mockStore{
				listCouponsForTierFn: func(ctx context.Context, memberID int64, tierID int) ([]domain.Coupon, error) {
					return tc.coupons, nil
				},
			}

			svc := NewCouponService(store, testNode(t))
			_, err := svc.RedeemCoupon(context.Background(), 1, 1, "car-2")
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestRedeemCoupon_AlreadyRedeemedCarriesPrior(t *testing.T) {
	ref := "car-1"
	store := &mockStore{
		listCouponsForTierFn: func(ctx context.Context, memberID int64, tierID int) ([]domain.Coupon, error) {
			return []domain.Coupon{{ID: 42, RedeemedRef: &ref}}, nil
		},
	}

	svc := NewCouponService(store, testNode(t))
	_, err := svc.RedeemCoupon(context.Background(), 1, 1, "car-2")

	var already *domain.AlreadyRedeemedError
	require.ErrorAs(t, err, &already)
	assert.Equal(t, int64(42), already.CouponID)
	assert.Equal(t, "car-1", already.RedeemedRef)
}

func TestRedeemCoupon_SweepsMemberFirst(t *testing.T) {
	fc := clock.NewFakeClock(time.Date(2024, 4, 16, 3, 0, 0, 0, time.UTC))
	var (
		sweptFor repository.SweepExpiredParams
		order    []string
	)
	store := &mockStore{
		sweepExpiredFn: func(ctx context.Context, arg repository.SweepExpiredParams) (int64, error) {
			sweptFor = arg
			order = append(order, "sweep")
			return 0, nil
		},
		redeemActiveCouponFn: func(ctx context.Context, arg repository.RedeemCouponParams) (int64, error) {
			order = append(order, "redeem")
			return 5, nil
		},
	}

	svc := NewCouponService(store, testNode(t), WithClock(fc))
	got, err := svc.RedeemCoupon(context.Background(), 1, 1, "car-1")
	require.NoError(t, err)

	assert.Equal(t, []string{"sweep", "redeem"}, order)
	assert.Equal(t, int64(1), sweptFor.MemberID)
	assert.Equal(t, "2024-04-16", sweptFor.AsOf.Format(domain.DateLayout))
	assert.Equal(t, int64(5), got.CouponID)
	assert.Equal(t, "car-1", got.TargetRef)
}

// memory-backed behaviour

type fixture struct {
	svc   *CouponService
	store *repository.Memory
	clock *clock.FakeClock
}

func newFixture(t *testing.T, now time.Time, opts ...Option) *fixture {
	t.Helper()
	store := repository.NewMemory()
	for _, tier := range repository.DefaultTiers() {
		store.PutTier(tier)
	}
	store.AddMember(domain.Member{ID: 1, Name: "alice"})
	store.AddOrder(domain.PurchaseOrder{MemberID: 1, OrderRef: "car-1", Amount: decimal.NewFromInt(5000), Status: domain.OrderStatusPaid})
	store.AddOrder(domain.PurchaseOrder{MemberID: 1, OrderRef: "car-2", Amount: decimal.NewFromInt(3000), Status: domain.OrderStatusCompleted})
	store.AddOrder(domain.PurchaseOrder{MemberID: 1, OrderRef: "car-3", Amount: decimal.NewFromInt(50000), Status: "refunded"})

	fc := clock.NewFakeClock(now)
	opts = append([]Option{WithClock(fc)}, opts...)
	return &fixture{
		svc:   NewCouponService(store, testNode(t), opts...),
		store: store,
		clock: fc,
	}
}

var march15 = time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)

func TestIssueCoupon_Spend8000(t *testing.T) {
	f := newFixture(t, march15)

	got, err := f.svc.IssueCoupon(context.Background(), 1)
	require.NoError(t, err)

	assert.Equal(t, 2, got.TierID)
	assert.Equal(t, "alice", got.MemberName)
	assert.True(t, got.DiscountAmount.Equal(decimal.NewFromInt(700)))
	assert.Equal(t, "2024-03-16", got.IssuedAt.Format(domain.DateLayout))
	assert.Equal(t, "2024-04-15", got.ExpiresAt.Format(domain.DateLayout))
	assert.Equal(t, domain.StatusActive, got.Status())

	coupons := f.store.Coupons()
	require.Len(t, coupons, 1)
	assert.Equal(t, got.CouponID, coupons[0].ID)
	assert.Equal(t, "2024-03", coupons[0].IssuancePeriod)
}

func TestIssueCoupon_TodayFollowsLocation(t *testing.T) {
	taipei, err := time.LoadLocation("Asia/Taipei")
	require.NoError(t, err)

	f := newFixture(t, time.Date(2024, 1, 31, 17, 0, 0, 0, time.UTC), WithLocation(taipei))
	got, err := f.svc.IssueCoupon(context.Background(), 1)
	require.NoError(t, err)

	assert.Equal(t, "2024-02-02", got.IssuedAt.Format(domain.DateLayout))
	assert.Equal(t, "2024-03-01", got.ExpiresAt.Format(domain.DateLayout))
	assert.Equal(t, "2024-02", f.store.Coupons()[0].IssuancePeriod)
}

func TestIssueCoupon_OncePerPeriod(t *testing.T) {
	f := newFixture(t, march15)
	ctx := context.Background()

	_, err := f.svc.IssueCoupon(ctx, 1)
	require.NoError(t, err)

	f.clock.AdvanceDays(10)
	_, err = f.svc.IssueCoupon(ctx, 1)
	assert.ErrorIs(t, err, domain.ErrAlreadyIssued)

	f.clock.AdvanceDays(30)
	_, err = f.svc.IssueCoupon(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, f.store.Coupons(), 2)
}

func TestIssueCoupon_HigherTierSamePeriod(t *testing.T) {
	f := newFixture(t, march15)
	ctx := context.Background()

	_, err := f.svc.IssueCoupon(ctx, 1)
	require.NoError(t, err)

	f.store.AddOrder(domain.PurchaseOrder{MemberID: 1, OrderRef: "car-4", Amount: decimal.NewFromInt(4000), Status: domain.OrderStatusPaid})
	got, err := f.svc.IssueCoupon(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, got.TierID)
}

func TestIssueCoupon_ConcurrentSameMember(t *testing.T) {
	for name, opts := range map[string][]Option{
		"member_lock":      nil,
		"unique_key_alone": {WithLocker(noLock{})},
	} {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, march15, opts...)

			const workers = 16
			var (
				wg        sync.WaitGroup
				mu        sync.Mutex
				successes int
				dupes     int
			)
			wg.Add(workers)
			for i := 0; i < workers; i++ {
				go func() {
					defer wg.Done()
					_, err := f.svc.IssueCoupon(context.Background(), 1)
					mu.Lock()
					defer mu.Unlock()
					switch {
					case err == nil:
						successes++
					case errors.Is(err, domain.ErrAlreadyIssued):
						dupes++
					default:
						t.Errorf("unexpected error: %v", err)
					}
				}()
			}
			wg.Wait()

			assert.Equal(t, 1, successes)
			assert.Equal(t, workers-1, dupes)
			assert.Len(t, f.store.Coupons(), 1)
		})
	}
}

type noLock struct{}

func (noLock) Acquire(ctx context.Context, key string) (func(), error) {
	return func() {}, nil
}

func TestRedeemCoupon_ExactlyOnce(t *testing.T) {
	f := newFixture(t, march15)
	ctx := context.Background()

	issued, err := f.svc.IssueCoupon(ctx, 1)
	require.NoError(t, err)

	f.clock.AdvanceDays(2)
	got, err := f.svc.RedeemCoupon(ctx, 1, 2, "car-1")
	require.NoError(t, err)
	assert.Equal(t, issued.CouponID, got.CouponID)
	assert.Equal(t, "2024-04-15", got.ExpiresAt.Format(domain.DateLayout))

	_, err = f.svc.RedeemCoupon(ctx, 1, 2, "car-2")
	var already *domain.AlreadyRedeemedError
	require.ErrorAs(t, err, &already)
	assert.Equal(t, issued.CouponID, already.CouponID)
	assert.Equal(t, "car-1", already.RedeemedRef)

	c := f.store.Coupons()[0]
	require.NotNil(t, c.RedeemedRef)
	assert.Equal(t, "car-1", *c.RedeemedRef)
}

func TestRedeemCoupon_ConcurrentSingleWinner(t *testing.T) {
	f := newFixture(t, march15)
	ctx := context.Background()

	_, err := f.svc.IssueCoupon(ctx, 1)
	require.NoError(t, err)

	const workers = 12
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			_, err := f.svc.RedeemCoupon(ctx, 1, 2, "car-1")
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
				return
			}
			if !errors.Is(err, domain.ErrAlreadyRedeemed) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
}

func TestRedeemCoupon_LastValidDay(t *testing.T) {
	f := newFixture(t, march15)
	ctx := context.Background()

	_, err := f.svc.IssueCoupon(ctx, 1)
	require.NoError(t, err)

	f.clock.AdvanceDays(31) // 2024-04-15
	_, err = f.svc.RedeemCoupon(ctx, 1, 2, "car-1")
	require.NoError(t, err)
}

func TestRedeemCoupon_ExpiredNeverMutates(t *testing.T) {
	f := newFixture(t, march15)
	ctx := context.Background()

	_, err := f.svc.IssueCoupon(ctx, 1)
	require.NoError(t, err)

	f.clock.AdvanceDays(32) // 2024-04-16
	_, err = f.svc.RedeemCoupon(ctx, 1, 2, "car-1")
	require.ErrorIs(t, err, domain.ErrExpired)
	assert.Nil(t, f.store.Coupons()[0].RedeemedRef)

	history, err := f.svc.ListHistory(ctx, 1)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, domain.StatusExpired, history[0].Status())
}

func TestRedeemCoupon_SecondAttemptAfterEarlierCouponLapsed(t *testing.T) {
	f := newFixture(t, march15)
	ctx := context.Background()

	march, err := f.svc.IssueCoupon(ctx, 1)
	require.NoError(t, err)

	f.clock.AdvanceDays(40) // 2024-04-24
	april, err := f.svc.IssueCoupon(ctx, 1)
	require.NoError(t, err)
	require.NotEqual(t, march.CouponID, april.CouponID)

	got, err := f.svc.RedeemCoupon(ctx, 1, 2, "car-1")
	require.NoError(t, err)
	assert.Equal(t, april.CouponID, got.CouponID)

	_, err = f.svc.RedeemCoupon(ctx, 1, 2, "car-2")
	var already *domain.AlreadyRedeemedError
	require.ErrorAs(t, err, &already)
	assert.Equal(t, april.CouponID, already.CouponID)
	assert.Equal(t, "car-1", already.RedeemedRef)
	assert.False(t, errors.Is(err, domain.ErrExpired))
}

func TestRedeemCoupon_NoCoupon(t *testing.T) {
	f := newFixture(t, march15)
	_, err := f.svc.RedeemCoupon(context.Background(), 1, 3, "car-1")
	assert.ErrorIs(t, err, domain.ErrCouponNotFound)
}

func TestRedeemCoupon_TargetOfAnotherMember(t *testing.T) {
	f := newFixture(t, march15)
	f.store.AddMember(domain.Member{ID: 2, Name: "bob"})
	f.store.AddOrder(domain.PurchaseOrder{MemberID: 2, OrderRef: "car-bob", Amount: decimal.NewFromInt(10), Status: domain.OrderStatusPaid})

	_, err := f.svc.IssueCoupon(context.Background(), 1)
	require.NoError(t, err)

	_, err = f.svc.RedeemCoupon(context.Background(), 1, 2, "car-bob")
	assert.ErrorIs(t, err, domain.ErrInvalidTarget)
}

func day(s string) time.Time {
	t, err := time.Parse(domain.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestListRedeemable_FiltersAndOrders(t *testing.T) {
	f := newFixture(t, march15)
	ref := "car-1"
	f.store.PutCoupon(domain.Coupon{ID: 1, MemberID: 1, TierID: 1, IssuedAt: day("2024-03-02"), ExpiresAt: day("2024-04-01")})
	f.store.PutCoupon(domain.Coupon{ID: 2, MemberID: 1, TierID: 2, IssuedAt: day("2024-02-21"), ExpiresAt: day("2024-03-20")})
	f.store.PutCoupon(domain.Coupon{ID: 3, MemberID: 1, TierID: 3, IssuedAt: day("2024-02-10"), ExpiresAt: day("2024-03-09")})
	f.store.PutCoupon(domain.Coupon{ID: 4, MemberID: 1, TierID: 4, IssuedAt: day("2024-02-16"), ExpiresAt: day("2024-03-15"), RedeemedRef: &ref})
	f.store.PutCoupon(domain.Coupon{ID: 5, MemberID: 1, TierID: 4, IssuedAt: day("2024-02-16"), ExpiresAt: day("2024-03-15")})

	got, err := f.svc.ListRedeemable(context.Background(), 1)
	require.NoError(t, err)

	ids := make([]int64, 0, len(got))
	for _, v := range got {
		assert.Nil(t, v.RedeemedRef)
		assert.False(t, v.Expired)
		ids = append(ids, v.CouponID)
	}
	assert.Equal(t, []int64{5, 2, 1}, ids)

	history, err := f.svc.ListHistory(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, history, 5)
	assert.Equal(t, int64(3), history[0].CouponID)
	assert.Equal(t, domain.StatusExpired, history[0].Status())
}

func TestListRedeemable_IncludesExpiryDay(t *testing.T) {
	f := newFixture(t, march15)
	ctx := context.Background()

	issued, err := f.svc.IssueCoupon(ctx, 1)
	require.NoError(t, err)

	f.clock.AdvanceDays(31) // 2024-04-15, the expiry date
	got, err := f.svc.ListRedeemable(ctx, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, issued.CouponID, got[0].CouponID)

	f.clock.AdvanceDays(1)
	got, err = f.svc.ListRedeemable(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestList_SweepsOnlyRequestingMember(t *testing.T) {
	f := newFixture(t, march15)
	f.store.AddMember(domain.Member{ID: 2, Name: "bob"})
	f.store.PutCoupon(domain.Coupon{ID: 1, MemberID: 1, TierID: 1, IssuedAt: day("2024-02-10"), ExpiresAt: day("2024-03-09")})
	f.store.PutCoupon(domain.Coupon{ID: 2, MemberID: 2, TierID: 1, IssuedAt: day("2024-02-10"), ExpiresAt: day("2024-03-09")})

	_, err := f.svc.ListHistory(context.Background(), 1)
	require.NoError(t, err)

	coupons := f.store.Coupons()
	assert.True(t, coupons[0].Expired)
	assert.False(t, coupons[1].Expired)

	_, err = f.svc.ListRedeemable(context.Background(), 2)
	require.NoError(t, err)
	assert.True(t, f.store.Coupons()[1].Expired)
}

func TestListHistory_Empty(t *testing.T) {
	f := newFixture(t, march15)
	got, err := f.svc.ListHistory(context.Background(), 1)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestListHistory_MemberNotFound(t *testing.T) {
	f := newFixture(t, march15)
	_, err := f.svc.ListHistory(context.Background(), 404)
	assert.ErrorIs(t, err, domain.ErrMemberNotFound)
}

func TestSweepExpired_Boundary(t *testing.T) {
	f := newFixture(t, march15)
	f.store.PutCoupon(domain.Coupon{ID: 1, MemberID: 1, TierID: 1, IssuedAt: day("2024-02-15"), ExpiresAt: day("2024-03-14")})
	f.store.PutCoupon(domain.Coupon{ID: 2, MemberID: 1, TierID: 2, IssuedAt: day("2024-02-16"), ExpiresAt: day("2024-03-15")})

	n, err := f.svc.SweepExpired(context.Background(), day("2024-03-15"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = f.svc.SweepExpired(context.Background(), day("2024-03-15"))
	require.NoError(t, err)
	assert.Zero(t, n)

	coupons := f.store.Coupons()
	assert.True(t, coupons[0].Expired)
	assert.False(t, coupons[1].Expired)
}

func TestListTiers(t *testing.T) {
	f := newFixture(t, march15)
	tiers, err := f.svc.ListTiers(context.Background())
	require.NoError(t, err)
	require.Len(t, tiers, 4)
	assert.Equal(t, 1, tiers[0].ID)
}
