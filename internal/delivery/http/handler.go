package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/azizikri/loyalty-coupon/internal/domain"
	"github.com/azizikri/loyalty-coupon/internal/usecase"
)

const emptyHistoryMessage = "No coupons yet. Accumulate 5000 in purchases to receive a 500 coupon."

type RedeemRequest struct {
	TargetRef string `json:"target_ref"`
}

type CouponResponse struct {
	CouponID       int64           `json:"coupon_id,string"`
	MemberID       int64           `json:"member_id"`
	MemberName     string          `json:"member_name"`
	TierID         int             `json:"tier_id"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	Description    string          `json:"description"`
	IssuedAt       string          `json:"issued_at"`
	ExpiresAt      string          `json:"expires_at"`
	Status         string          `json:"status"`
	RedeemedRef    *string         `json:"redeemed_ref,omitempty"`
	RedeemedAt     *time.Time      `json:"redeemed_at,omitempty"`
}

type CouponListResponse struct {
	MemberID int64            `json:"member_id"`
	Coupons  []CouponResponse `json:"coupons"`
	Message  string           `json:"message,omitempty"`
}

type RedemptionResponse struct {
	CouponID   int64     `json:"coupon_id,string"`
	MemberID   int64     `json:"member_id"`
	TierID     int       `json:"tier_id"`
	TargetRef  string    `json:"target_ref"`
	RedeemedAt time.Time `json:"redeemed_at"`
	ExpiresAt  string    `json:"expires_at"`
}

type TierListResponse struct {
	Tiers []domain.Tier `json:"tiers"`
}

type ErrorResponse struct {
	Error          string           `json:"error"`
	Accumulation   *decimal.Decimal `json:"accumulation,omitempty"`
	AssignedTierID int              `json:"assigned_tier_id,omitempty"`
	ValidTierIDs   []int            `json:"valid_tier_ids,omitempty"`
	CouponID       int64            `json:"coupon_id,omitempty,string"`
	RedeemedRef    string           `json:"redeemed_ref,omitempty"`
}

type Handler struct {
	gateway usecase.CouponGateway
	log     *zap.Logger
}

func NewHandler(gateway usecase.CouponGateway, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{gateway: gateway, log: log}
}

func (h *Handler) Routes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/tiers", h.ListTiers)
		r.Route("/members/{memberID}/coupons", func(r chi.Router) {
			r.Post("/", h.IssueCoupon)
			r.Get("/", h.ListHistory)
			r.Get("/redeemable", h.ListRedeemable)
			r.Put("/{tierID}/redemption", h.RedeemCoupon)
		})
	})
}

func (h *Handler) IssueCoupon(w http.ResponseWriter, r *http.Request) {
	memberID, ok := memberIDParam(w, r)
	if !ok {
		return
	}

	coupon, err := h.gateway.IssueCoupon(r.Context(), memberID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toCouponResponse(*coupon))
}

func (h *Handler) ListHistory(w http.ResponseWriter, r *http.Request) {
	memberID, ok := memberIDParam(w, r)
	if !ok {
		return
	}

	coupons, err := h.gateway.ListHistory(r.Context(), memberID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := CouponListResponse{MemberID: memberID, Coupons: toCouponResponses(coupons)}
	if len(resp.Coupons) == 0 {
		resp.Message = emptyHistoryMessage
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) ListRedeemable(w http.ResponseWriter, r *http.Request) {
	memberID, ok := memberIDParam(w, r)
	if !ok {
		return
	}

	coupons, err := h.gateway.ListRedeemable(r.Context(), memberID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, CouponListResponse{MemberID: memberID, Coupons: toCouponResponses(coupons)})
}

func (h *Handler) RedeemCoupon(w http.ResponseWriter, r *http.Request) {
	memberID, ok := memberIDParam(w, r)
	if !ok {
		return
	}

	tierID, err := strconv.Atoi(chi.URLParam(r, "tierID"))
	if err != nil || tierID <= 0 {
		http.Error(w, "invalid tier id", http.StatusBadRequest)
		return
	}

	var req RedeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.TargetRef) == "" {
		http.Error(w, "target_ref is required", http.StatusBadRequest)
		return
	}

	redemption, err := h.gateway.RedeemCoupon(r.Context(), memberID, tierID, req.TargetRef)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, RedemptionResponse{
		CouponID:   redemption.CouponID,
		MemberID:   redemption.MemberID,
		TierID:     redemption.TierID,
		TargetRef:  redemption.TargetRef,
		RedeemedAt: redemption.RedeemedAt,
		ExpiresAt:  redemption.ExpiresAt.Format(domain.DateLayout),
	})
}

func (h *Handler) ListTiers(w http.ResponseWriter, r *http.Request) {
	tiers, err := h.gateway.ListTiers(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, TierListResponse{Tiers: tiers})
}

func memberIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	memberID, err := strconv.ParseInt(chi.URLParam(r, "memberID"), 10, 64)
	if err != nil || memberID <= 0 {
		http.Error(w, "invalid member id", http.StatusBadRequest)
		return 0, false
	}
	return memberID, true
}

// writeError maps business errors to their status codes. Anything else is
// logged and reported without detail.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		insufficient *domain.InsufficientSpendError
		invalidTier  *domain.InvalidTierError
		redeemed     *domain.AlreadyRedeemedError
	)

	switch {
	case errors.As(err, &insufficient):
		spend := insufficient.Spend
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error:        domain.ErrInsufficientSpend.Error(),
			Accumulation: &spend,
		})
	case errors.As(err, &invalidTier):
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error:          domain.ErrInvalidTier.Error(),
			AssignedTierID: invalidTier.TierID,
			ValidTierIDs:   invalidTier.ValidTierIDs,
		})
	case errors.As(err, &redeemed):
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error:       domain.ErrAlreadyRedeemed.Error(),
			CouponID:    redeemed.CouponID,
			RedeemedRef: redeemed.RedeemedRef,
		})
	case errors.Is(err, domain.ErrMemberNotFound):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: domain.ErrMemberNotFound.Error()})
	case errors.Is(err, domain.ErrCouponNotFound):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: domain.ErrCouponNotFound.Error()})
	case errors.Is(err, domain.ErrAlreadyIssued):
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: domain.ErrAlreadyIssued.Error()})
	case errors.Is(err, domain.ErrAlreadyRedeemed):
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: domain.ErrAlreadyRedeemed.Error()})
	case errors.Is(err, domain.ErrBusy):
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: domain.ErrBusy.Error()})
	case errors.Is(err, domain.ErrExpired):
		writeJSON(w, http.StatusGone, ErrorResponse{Error: domain.ErrExpired.Error()})
	case errors.Is(err, domain.ErrInvalidTarget):
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{Error: domain.ErrInvalidTarget.Error()})
	case errors.Is(err, context.DeadlineExceeded):
		h.log.Warn("request timed out", zap.String("path", r.URL.Path), zap.Error(err))
		writeJSON(w, http.StatusGatewayTimeout, ErrorResponse{Error: "request timed out"})
	default:
		h.log.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func toCouponResponse(v domain.CouponView) CouponResponse {
	return CouponResponse{
		CouponID:       v.CouponID,
		MemberID:       v.MemberID,
		MemberName:     v.MemberName,
		TierID:         v.TierID,
		DiscountAmount: v.DiscountAmount,
		Description:    v.Description,
		IssuedAt:       v.IssuedAt.Format(domain.DateLayout),
		ExpiresAt:      v.ExpiresAt.Format(domain.DateLayout),
		Status:         string(v.Status()),
		RedeemedRef:    v.RedeemedRef,
		RedeemedAt:     v.RedeemedAt,
	}
}

func toCouponResponses(views []domain.CouponView) []CouponResponse {
	out := make([]CouponResponse, 0, len(views))
	for _, v := range views {
		out = append(out, toCouponResponse(v))
	}
	return out
}
