package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/azizikri/loyalty-coupon/internal/domain"
)

// ErrForeignKey mirrors a foreign key violation in the in-memory store.
var ErrForeignKey = errors.New("violates foreign key constraint")

// Memory is an in-process Store with the same constraints as the Postgres
// schema: unique (member, tier, period), tier and member foreign keys, and
// all-or-nothing transactions. Transactions are serialized.
type Memory struct {
	mu      sync.Mutex
	members map[int64]domain.Member
	orders  []domain.PurchaseOrder
	tiers   map[int]domain.Tier
	coupons map[int64]domain.Coupon
	now     func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		members: make(map[int64]domain.Member),
		tiers:   make(map[int]domain.Tier),
		coupons: make(map[int64]domain.Coupon),
		now:     time.Now,
	}
}

// DefaultTiers is the catalog seeded by the tier migration.
func DefaultTiers() []domain.Tier {
	return []domain.Tier{
		{ID: 1, DiscountAmount: decimal.NewFromInt(500), Description: "Accumulated spend of 5000 or more: 500 off your next order"},
		{ID: 2, DiscountAmount: decimal.NewFromInt(700), Description: "Accumulated spend of 7000 or more: 700 off your next order"},
		{ID: 3, DiscountAmount: decimal.NewFromInt(1200), Description: "Accumulated spend of 12000 or more: 1200 off your next order"},
		{ID: 4, DiscountAmount: decimal.NewFromInt(2000), Description: "Accumulated spend of 20000 or more: 2000 off your next order"},
	}
}

func (m *Memory) AddMember(member domain.Member) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.members[member.ID] = member
}

func (m *Memory) AddOrder(order domain.PurchaseOrder) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders = append(m.orders, order)
}

func (m *Memory) PutTier(tier domain.Tier) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tiers[tier.ID] = tier
}

func (m *Memory) DeleteTier(tierID int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tiers, tierID)
}

// PutCoupon writes a ledger row directly, bypassing issuance.
func (m *Memory) PutCoupon(c domain.Coupon) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.coupons[c.ID] = c
}

// Coupons returns a snapshot of the ledger ordered by coupon id.
func (m *Memory) Coupons() []domain.Coupon {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Coupon, 0, len(m.coupons))
	for _, c := range m.coupons {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *Memory) ExecTx(ctx context.Context, fn func(Querier) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memTx{m: m, coupons: make(map[int64]domain.Coupon, len(m.coupons))}
	for id, c := range m.coupons {
		tx.coupons[id] = c
	}

	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	m.coupons = tx.coupons
	return nil
}

func (m *Memory) live() *memTx {
	return &memTx{m: m, coupons: m.coupons}
}

func (m *Memory) GetMember(ctx context.Context, memberID int64) (domain.Member, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.live().GetMember(ctx, memberID)
}

func (m *Memory) QualifyingSpend(ctx context.Context, memberID int64, statuses []string) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.live().QualifyingSpend(ctx, memberID, statuses)
}

func (m *Memory) ListTiers(ctx context.Context) ([]domain.Tier, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.live().ListTiers(ctx)
}

func (m *Memory) InsertCoupon(ctx context.Context, arg InsertCouponParams) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.live().InsertCoupon(ctx, arg)
}

func (m *Memory) SweepExpired(ctx context.Context, arg SweepExpiredParams) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.live().SweepExpired(ctx, arg)
}

func (m *Memory) RedeemActiveCoupon(ctx context.Context, arg RedeemCouponParams) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.live().RedeemActiveCoupon(ctx, arg)
}

func (m *Memory) ListCouponsForTier(ctx context.Context, memberID int64, tierID int) ([]domain.Coupon, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.live().ListCouponsForTier(ctx, memberID, tierID)
}

func (m *Memory) TargetExists(ctx context.Context, memberID int64, targetRef string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.live().TargetExists(ctx, memberID, targetRef)
}

func (m *Memory) GetCouponView(ctx context.Context, couponID int64) (domain.CouponView, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.live().GetCouponView(ctx, couponID)
}

func (m *Memory) ListCouponViews(ctx context.Context, memberID int64) ([]domain.CouponView, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.live().ListCouponViews(ctx, memberID)
}

func (m *Memory) ListRedeemableCouponViews(ctx context.Context, memberID int64, asOf time.Time) ([]domain.CouponView, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.live().ListRedeemableCouponViews(ctx, memberID, asOf)
}

// memTx operates on coupons while m.mu is held by the caller.
type memTx struct {
	m       *Memory
	coupons map[int64]domain.Coupon
}

func (t *memTx) GetMember(_ context.Context, memberID int64) (domain.Member, error) {
	member, ok := t.m.members[memberID]
	if !ok {
		return domain.Member{}, pgx.ErrNoRows
	}
	return member, nil
}

func (t *memTx) QualifyingSpend(_ context.Context, memberID int64, statuses []string) (decimal.Decimal, error) {
	qualifying := make(map[string]struct{}, len(statuses))
	for _, s := range statuses {
		qualifying[s] = struct{}{}
	}

	total := decimal.Zero
	for _, o := range t.m.orders {
		if o.MemberID != memberID {
			continue
		}
		if _, ok := qualifying[o.Status]; ok {
			total = total.Add(o.Amount)
		}
	}
	return total, nil
}

func (t *memTx) ListTiers(_ context.Context) ([]domain.Tier, error) {
	tiers := make([]domain.Tier, 0, len(t.m.tiers))
	for _, tier := range t.m.tiers {
		tiers = append(tiers, tier)
	}
	sort.Slice(tiers, func(i, j int) bool { return tiers[i].ID < tiers[j].ID })
	return tiers, nil
}

func (t *memTx) InsertCoupon(_ context.Context, arg InsertCouponParams) (int64, error) {
	if _, ok := t.m.members[arg.MemberID]; !ok {
		return 0, fmt.Errorf("insert coupon: member %d %w", arg.MemberID, ErrForeignKey)
	}
	if _, ok := t.m.tiers[arg.TierID]; !ok {
		return 0, fmt.Errorf("insert coupon: tier %d %w", arg.TierID, ErrForeignKey)
	}
	if !arg.IssuedAt.Before(arg.ExpiresAt) {
		return 0, errors.New("insert coupon: violates check constraint coupons_window_chk")
	}
	if _, ok := t.coupons[arg.CouponID]; ok {
		return 0, fmt.Errorf("insert coupon: duplicate key coupon_id %d", arg.CouponID)
	}
	for _, c := range t.coupons {
		if c.MemberID == arg.MemberID && c.TierID == arg.TierID && c.IssuancePeriod == arg.IssuancePeriod {
			return 0, nil
		}
	}

	t.coupons[arg.CouponID] = domain.Coupon{
		ID:              arg.CouponID,
		MemberID:        arg.MemberID,
		TierID:          arg.TierID,
		IssuancePeriod:  arg.IssuancePeriod,
		QualifyingSpend: arg.QualifyingSpend,
		IssuedAt:        domain.Date(arg.IssuedAt),
		ExpiresAt:       domain.Date(arg.ExpiresAt),
		CreatedAt:       t.m.now(),
	}
	return 1, nil
}

func (t *memTx) SweepExpired(_ context.Context, arg SweepExpiredParams) (int64, error) {
	asOf := domain.Date(arg.AsOf)
	var n int64
	for id, c := range t.coupons {
		if c.Expired || !c.ExpiresAt.Before(asOf) {
			continue
		}
		if arg.MemberID != 0 && c.MemberID != arg.MemberID {
			continue
		}
		c.Expired = true
		t.coupons[id] = c
		n++
	}
	return n, nil
}

func (t *memTx) RedeemActiveCoupon(_ context.Context, arg RedeemCouponParams) (int64, error) {
	var (
		target domain.Coupon
		found  bool
	)
	for _, c := range t.coupons {
		if c.MemberID != arg.MemberID || c.TierID != arg.TierID || !c.Active() {
			continue
		}
		if !found || c.ExpiresAt.Before(target.ExpiresAt) ||
			(c.ExpiresAt.Equal(target.ExpiresAt) && c.ID < target.ID) {
			target, found = c, true
		}
	}
	if !found {
		return 0, pgx.ErrNoRows
	}

	ref := arg.TargetRef
	redeemedAt := arg.RedeemedAt
	target.RedeemedRef = &ref
	target.RedeemedAt = &redeemedAt
	t.coupons[target.ID] = target
	return target.ID, nil
}

func (t *memTx) ListCouponsForTier(_ context.Context, memberID int64, tierID int) ([]domain.Coupon, error) {
	var out []domain.Coupon
	for _, c := range t.coupons {
		if c.MemberID == memberID && c.TierID == tierID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ExpiresAt.Equal(out[j].ExpiresAt) {
			return out[i].ExpiresAt.After(out[j].ExpiresAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (t *memTx) TargetExists(_ context.Context, memberID int64, targetRef string) (bool, error) {
	for _, o := range t.m.orders {
		if o.MemberID == memberID && o.OrderRef == targetRef {
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) GetCouponView(_ context.Context, couponID int64) (domain.CouponView, error) {
	c, ok := t.coupons[couponID]
	if !ok {
		return domain.CouponView{}, pgx.ErrNoRows
	}
	return t.view(c), nil
}

func (t *memTx) ListCouponViews(_ context.Context, memberID int64) ([]domain.CouponView, error) {
	return t.collect(func(c domain.Coupon) bool {
		return c.MemberID == memberID
	}), nil
}

func (t *memTx) ListRedeemableCouponViews(_ context.Context, memberID int64, asOf time.Time) ([]domain.CouponView, error) {
	today := domain.Date(asOf)
	return t.collect(func(c domain.Coupon) bool {
		return c.MemberID == memberID && c.Active() && !c.ExpiresAt.Before(today)
	}), nil
}

func (t *memTx) collect(keep func(domain.Coupon) bool) []domain.CouponView {
	var views []domain.CouponView
	for _, c := range t.coupons {
		if keep(c) {
			views = append(views, t.view(c))
		}
	}
	sort.Slice(views, func(i, j int) bool {
		if !views[i].ExpiresAt.Equal(views[j].ExpiresAt) {
			return views[i].ExpiresAt.Before(views[j].ExpiresAt)
		}
		return views[i].CouponID < views[j].CouponID
	})
	return views
}

func (t *memTx) view(c domain.Coupon) domain.CouponView {
	tier := t.m.tiers[c.TierID]
	return domain.CouponView{
		CouponID:       c.ID,
		MemberID:       c.MemberID,
		MemberName:     t.m.members[c.MemberID].Name,
		TierID:         c.TierID,
		DiscountAmount: tier.DiscountAmount,
		Description:    tier.Description,
		IssuedAt:       c.IssuedAt,
		ExpiresAt:      c.ExpiresAt,
		Expired:        c.Expired,
		RedeemedRef:    c.RedeemedRef,
		RedeemedAt:     c.RedeemedAt,
	}
}

var (
	_ Store   = (*Memory)(nil)
	_ Querier = (*memTx)(nil)
	_ Store   = (*store)(nil)
)
