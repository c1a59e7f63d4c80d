// Package handler exposes the coupon engine's operations over JSON HTTP.
// Handlers translate between wire DTOs and domain types; all behavior lives
// in the domain services.
package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-faster/errors"

	"github.com/xenking/promo-engine/internal/domain/catalog"
	"github.com/xenking/promo-engine/internal/domain/code"
	"github.com/xenking/promo-engine/internal/domain/coupon"
	"github.com/xenking/promo-engine/internal/domain/redemption"
)

// Handler carries the domain services behind the HTTP surface.
type Handler struct {
	store   *coupon.Store
	issuer  *code.Issuer
	service *redemption.Service
}

// New constructs a Handler with the required domain dependencies.
func New(store *coupon.Store, issuer *code.Issuer, service *redemption.Service) *Handler {
	return &Handler{store: store, issuer: issuer, service: service}
}

// Register mounts all routes on the mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/coupons", h.createCoupon)
	mux.HandleFunc("GET /v1/coupons/{id}", h.getCoupon)
	mux.HandleFunc("POST /v1/coupons/{id}/activate", h.activateCoupon)
	mux.HandleFunc("POST /v1/coupons/{id}/pause", h.pauseCoupon)
	mux.HandleFunc("POST /v1/coupons/{id}/archive", h.archiveCoupon)
	mux.HandleFunc("GET /v1/coupons/{id}/analytics", h.couponAnalytics)

	mux.HandleFunc("POST /v1/coupons/{id}/codes/generate", h.generateCodes)
	mux.HandleFunc("POST /v1/coupons/{id}/codes/assign", h.assignCodes)
	mux.HandleFunc("POST /v1/coupons/{id}/codes/revoke", h.revokeCodes)

	mux.HandleFunc("POST /v1/coupons/validate", h.validateCoupon)
	mux.HandleFunc("POST /v1/coupons/apply", h.applyCoupon)
	mux.HandleFunc("POST /v1/redemptions/{orderID}/cancel", h.cancelRedemption)
	mux.HandleFunc("POST /v1/redemptions/{orderID}/refund", h.refundRedemption)
}

// errorResponse is the uniform error body.
type errorResponse struct {
	Code    int    `json:"code"`
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func decodeJSON(r *http.Request, into any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(into); err != nil {
		return errors.Wrap(err, "decode request body")
	}
	return nil
}

func badRequest(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusBadRequest, errorResponse{
		Code:    http.StatusBadRequest,
		Message: err.Error(),
	})
}

// writeError maps domain errors to HTTP statuses. Apply declines carry their
// validation reason so clients can distinguish them from transport errors.
func writeError(w http.ResponseWriter, err error) {
	var declined *redemption.DeclinedError
	if errors.As(err, &declined) {
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{
			Code:    http.StatusUnprocessableEntity,
			Reason:  string(declined.Reason),
			Message: declined.Message,
		})
		return
	}

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, coupon.ErrCouponNotFound),
		errors.Is(err, code.ErrCodeNotFound),
		errors.Is(err, redemption.ErrRedemptionNotFound):
		status = http.StatusNotFound
	case errors.Is(err, coupon.ErrInvalidParams):
		status = http.StatusBadRequest
	case errors.Is(err, coupon.ErrArchived),
		errors.Is(err, coupon.ErrNoUsableCodes),
		errors.Is(err, code.ErrNotEnoughCodes),
		errors.Is(err, code.ErrCodeRedeemed),
		errors.Is(err, code.ErrDuplicateCode),
		isTransitionError(err):
		status = http.StatusConflict
	case errors.Is(err, code.ErrGenerationExhausted):
		status = http.StatusServiceUnavailable
	case errors.Is(err, catalog.ErrUnavailable),
		errors.Is(err, catalog.ErrProductNotFound):
		status = http.StatusBadGateway
	}

	writeJSON(w, status, errorResponse{Code: status, Message: err.Error()})
}

func isTransitionError(err error) bool {
	var te *coupon.TransitionError
	return errors.As(err, &te)
}
