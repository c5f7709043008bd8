package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/azizikri/loyalty-coupon/internal/domain"
)

const (
	OutcomeSuccess           = "success"
	OutcomeInsufficientSpend = "insufficient_spend"
	OutcomeInvalidTier       = "invalid_tier"
	OutcomeMemberNotFound    = "member_not_found"
	OutcomeAlreadyIssued     = "already_issued"
	OutcomeAlreadyRedeemed   = "already_redeemed"
	OutcomeCouponNotFound    = "coupon_not_found"
	OutcomeExpired           = "expired"
	OutcomeInvalidTarget     = "invalid_target"
	OutcomeBusy              = "busy"
	OutcomeStorage           = "storage"
	OutcomeUnknown           = "unknown"
)

// CouponMetrics counts ledger transitions. A nil *CouponMetrics is a no-op.
type CouponMetrics struct {
	issuance     *prometheus.CounterVec
	redemption   *prometheus.CounterVec
	swept        prometheus.Counter
	issuedByTier *prometheus.CounterVec
}

func New(registerer prometheus.Registerer) *CouponMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &CouponMetrics{
		issuance: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "loyalty_coupon_issuance_total",
			Help: "Coupon issuance attempts by outcome.",
		}, []string{"outcome"}),
		redemption: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "loyalty_coupon_redemption_total",
			Help: "Coupon redemption attempts by outcome.",
		}, []string{"outcome"}),
		swept: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "loyalty_coupon_expired_swept_total",
			Help: "Coupons flagged expired by the lazy sweep.",
		}),
		issuedByTier: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "loyalty_coupon_issued_by_tier_total",
			Help: "Coupons issued by tier.",
		}, []string{"tier"}),
	}

	registerer.MustRegister(m.issuance, m.redemption, m.swept, m.issuedByTier)
	return m
}

func (m *CouponMetrics) ObserveIssuance(tierLabel string, err error) {
	if m == nil {
		return
	}
	outcome := Classify(err)
	m.issuance.WithLabelValues(outcome).Inc()
	if outcome == OutcomeSuccess && tierLabel != "" {
		m.issuedByTier.WithLabelValues(tierLabel).Inc()
	}
}

func (m *CouponMetrics) ObserveRedemption(err error) {
	if m == nil {
		return
	}
	m.redemption.WithLabelValues(Classify(err)).Inc()
}

func (m *CouponMetrics) ObserveSwept(rows int64) {
	if m == nil || rows <= 0 {
		return
	}
	m.swept.Add(float64(rows))
}

// Classify maps an operation error to a low-cardinality outcome label.
func Classify(err error) string {
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.Is(err, domain.ErrInsufficientSpend):
		return OutcomeInsufficientSpend
	case errors.Is(err, domain.ErrInvalidTier):
		return OutcomeInvalidTier
	case errors.Is(err, domain.ErrMemberNotFound):
		return OutcomeMemberNotFound
	case errors.Is(err, domain.ErrAlreadyIssued):
		return OutcomeAlreadyIssued
	case errors.Is(err, domain.ErrAlreadyRedeemed):
		return OutcomeAlreadyRedeemed
	case errors.Is(err, domain.ErrCouponNotFound):
		return OutcomeCouponNotFound
	case errors.Is(err, domain.ErrExpired):
		return OutcomeExpired
	case errors.Is(err, domain.ErrInvalidTarget):
		return OutcomeInvalidTarget
	case errors.Is(err, domain.ErrBusy):
		return OutcomeBusy
	case errors.Is(err, domain.ErrStorage):
		return OutcomeStorage
	default:
		return OutcomeUnknown
	}
}
