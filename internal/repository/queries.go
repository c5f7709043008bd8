package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/azizikri/loyalty-coupon/internal/domain"
)

// DBTX is satisfied by *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Queries struct {
	db DBTX
}

func NewQueries(db DBTX) *Queries {
	return &Queries{db: db}
}

func (q *Queries) WithTx(tx pgx.Tx) *Queries {
	return &Queries{db: tx}
}

const getMember = `
SELECT id, name FROM members WHERE id = $1
`

func (q *Queries) GetMember(ctx context.Context, memberID int64) (domain.Member, error) {
	var m domain.Member
	err := q.db.QueryRow(ctx, getMember, memberID).Scan(&m.ID, &m.Name)
	return m, err
}

const qualifyingSpend = `
SELECT COALESCE(SUM(amount), 0)::text
FROM purchase_orders
WHERE member_id = $1 AND status = ANY($2)
`

func (q *Queries) QualifyingSpend(ctx context.Context, memberID int64, statuses []string) (decimal.Decimal, error) {
	var raw string
	if err := q.db.QueryRow(ctx, qualifyingSpend, memberID, statuses).Scan(&raw); err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(raw)
}

const listTiers = `
SELECT tier_id, discount_amount::text, description
FROM coupon_tiers
ORDER BY tier_id
`

func (q *Queries) ListTiers(ctx context.Context) ([]domain.Tier, error) {
	rows, err := q.db.Query(ctx, listTiers)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tiers []domain.Tier
	for rows.Next() {
		var (
			t      domain.Tier
			amount string
		)
		if err := rows.Scan(&t.ID, &amount, &t.Description); err != nil {
			return nil, err
		}
		if t.DiscountAmount, err = decimal.NewFromString(amount); err != nil {
			return nil, err
		}
		tiers = append(tiers, t)
	}
	return tiers, rows.Err()
}

const insertCoupon = `
INSERT INTO coupons (
    coupon_id, member_id, tier_id, issuance_period, qualifying_spend, issued_at, expires_at
) VALUES ($1, $2, $3, $4, $5::numeric, $6, $7)
ON CONFLICT (member_id, tier_id, issuance_period) DO NOTHING
`

type InsertCouponParams struct {
	CouponID        int64
	MemberID        int64
	TierID          int
	IssuancePeriod  string
	QualifyingSpend decimal.Decimal
	IssuedAt        time.Time
	ExpiresAt       time.Time
}

// InsertCoupon returns the number of rows written; zero means the
// (member, tier, period) key is already taken.
func (q *Queries) InsertCoupon(ctx context.Context, arg InsertCouponParams) (int64, error) {
	tag, err := q.db.Exec(ctx, insertCoupon,
		arg.CouponID,
		arg.MemberID,
		arg.TierID,
		arg.IssuancePeriod,
		arg.QualifyingSpend.String(),
		arg.IssuedAt,
		arg.ExpiresAt,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const sweepExpired = `
UPDATE coupons
SET expired = true
WHERE NOT expired
  AND expires_at < $1
  AND ($2::bigint = 0 OR member_id = $2)
`

type SweepExpiredParams struct {
	AsOf time.Time
	// MemberID restricts the sweep to one member; zero sweeps every coupon.
	MemberID int64
}

func (q *Queries) SweepExpired(ctx context.Context, arg SweepExpiredParams) (int64, error) {
	tag, err := q.db.Exec(ctx, sweepExpired, arg.AsOf, arg.MemberID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const redeemActiveCoupon = `
UPDATE coupons
SET redeemed_ref = $3, redeemed_at = $4
WHERE coupon_id = (
    SELECT coupon_id
    FROM coupons
    WHERE member_id = $1
      AND tier_id = $2
      AND NOT expired
      AND redeemed_ref IS NULL
    ORDER BY expires_at, coupon_id
    LIMIT 1
    FOR UPDATE
)
  AND NOT expired
  AND redeemed_ref IS NULL
RETURNING coupon_id
`

type RedeemCouponParams struct {
	MemberID   int64
	TierID     int
	TargetRef  string
	RedeemedAt time.Time
}

// RedeemActiveCoupon links the soonest-expiring active coupon to the target and
// returns its id, or pgx.ErrNoRows when no active coupon matched.
func (q *Queries) RedeemActiveCoupon(ctx context.Context, arg RedeemCouponParams) (int64, error) {
	var couponID int64
	err := q.db.QueryRow(ctx, redeemActiveCoupon,
		arg.MemberID,
		arg.TierID,
		arg.TargetRef,
		arg.RedeemedAt,
	).Scan(&couponID)
	return couponID, err
}

const listCouponsForTier = `
SELECT coupon_id, member_id, tier_id, issuance_period, qualifying_spend::text,
       issued_at, expires_at, expired, redeemed_ref, redeemed_at, created_at
FROM coupons
WHERE member_id = $1 AND tier_id = $2
ORDER BY expires_at DESC, coupon_id DESC
`

func (q *Queries) ListCouponsForTier(ctx context.Context, memberID int64, tierID int) ([]domain.Coupon, error) {
	rows, err := q.db.Query(ctx, listCouponsForTier, memberID, tierID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var coupons []domain.Coupon
	for rows.Next() {
		var (
			c     domain.Coupon
			spend string
		)
		if err := rows.Scan(
			&c.ID,
			&c.MemberID,
			&c.TierID,
			&c.IssuancePeriod,
			&spend,
			&c.IssuedAt,
			&c.ExpiresAt,
			&c.Expired,
			&c.RedeemedRef,
			&c.RedeemedAt,
			&c.CreatedAt,
		); err != nil {
			return nil, err
		}
		if c.QualifyingSpend, err = decimal.NewFromString(spend); err != nil {
			return nil, err
		}
		coupons = append(coupons, c)
	}
	return coupons, rows.Err()
}

const targetExists = `
SELECT EXISTS (
    SELECT 1 FROM purchase_orders WHERE member_id = $1 AND order_ref = $2
)
`

func (q *Queries) TargetExists(ctx context.Context, memberID int64, targetRef string) (bool, error) {
	var exists bool
	err := q.db.QueryRow(ctx, targetExists, memberID, targetRef).Scan(&exists)
	return exists, err
}

const couponViewColumns = `
SELECT c.coupon_id, c.member_id, m.name, c.tier_id, t.discount_amount::text, t.description,
       c.issued_at, c.expires_at, c.expired, c.redeemed_ref, c.redeemed_at
FROM coupons c
JOIN coupon_tiers t ON t.tier_id = c.tier_id
JOIN members m ON m.id = c.member_id
`

const getCouponView = couponViewColumns + `
WHERE c.coupon_id = $1
`

func (q *Queries) GetCouponView(ctx context.Context, couponID int64) (domain.CouponView, error) {
	return scanCouponView(q.db.QueryRow(ctx, getCouponView, couponID))
}

const listCouponViews = couponViewColumns + `
WHERE c.member_id = $1
ORDER BY c.expires_at, c.coupon_id
`

func (q *Queries) ListCouponViews(ctx context.Context, memberID int64) ([]domain.CouponView, error) {
	rows, err := q.db.Query(ctx, listCouponViews, memberID)
	if err != nil {
		return nil, err
	}
	return collectCouponViews(rows)
}

const listRedeemableCouponViews = couponViewColumns + `
WHERE c.member_id = $1
  AND NOT c.expired
  AND c.redeemed_ref IS NULL
  AND c.expires_at >= $2
ORDER BY c.expires_at, c.coupon_id
`

func (q *Queries) ListRedeemableCouponViews(ctx context.Context, memberID int64, asOf time.Time) ([]domain.CouponView, error) {
	rows, err := q.db.Query(ctx, listRedeemableCouponViews, memberID, asOf)
	if err != nil {
		return nil, err
	}
	return collectCouponViews(rows)
}

func collectCouponViews(rows pgx.Rows) ([]domain.CouponView, error) {
	defer rows.Close()

	var views []domain.CouponView
	for rows.Next() {
		v, err := scanCouponView(rows)
		if err != nil {
			return nil, err
		}
		views = append(views, v)
	}
	return views, rows.Err()
}

func scanCouponView(row pgx.Row) (domain.CouponView, error) {
	var (
		v      domain.CouponView
		amount string
	)
	if err := row.Scan(
		&v.CouponID,
		&v.MemberID,
		&v.MemberName,
		&v.TierID,
		&amount,
		&v.Description,
		&v.IssuedAt,
		&v.ExpiresAt,
		&v.Expired,
		&v.RedeemedRef,
		&v.RedeemedAt,
	); err != nil {
		return domain.CouponView{}, err
	}
	discount, err := decimal.NewFromString(amount)
	if err != nil {
		return domain.CouponView{}, err
	}
	v.DiscountAmount = discount
	return v, nil
}
