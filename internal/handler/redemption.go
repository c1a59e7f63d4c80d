package handler

import (
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/promo-engine/internal/domain/coupon"
	"github.com/xenking/promo-engine/internal/domain/redemption"
)

// validateRequest is the wire shape shared by validate and apply.
type validateRequest struct {
	Code          string      `json:"code"`
	CustomerID    string      `json:"customer_id"`
	StoreID       string      `json:"store_id"`
	Channel       string      `json:"channel"`
	PaymentMethod string      `json:"payment_method,omitempty"`
	OrderID       string      `json:"order_id,omitempty"`
	Cart          coupon.Cart `json:"cart"`
	Context       struct {
		IP     string `json:"ip,omitempty"`
		Device string `json:"device,omitempty"`
	} `json:"context"`
}

func (req *validateRequest) toDomain() redemption.ValidateRequest {
	return redemption.ValidateRequest{
		Code:          req.Code,
		CustomerID:    req.CustomerID,
		StoreID:       req.StoreID,
		Channel:       req.Channel,
		PaymentMethod: req.PaymentMethod,
		IP:            req.Context.IP,
		Device:        req.Context.Device,
		Cart:          req.Cart,
	}
}

type validateResponse struct {
	Valid         bool                  `json:"valid"`
	Reason        string                `json:"reason,omitempty"`
	Message       string                `json:"message,omitempty"`
	Discount      decimal.Decimal       `json:"computed_discount"`
	AffectedItems []coupon.AffectedItem `json:"affected_items"`
	Warnings      []string              `json:"warnings,omitempty"`
	Stackability  coupon.Stacking       `json:"stackability"`
}

func (h *Handler) validateCoupon(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, err)
		return
	}

	res, err := h.service.Validate(r.Context(), req.toDomain())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, validateResponse{
		Valid:         res.Valid,
		Reason:        string(res.Reason),
		Message:       res.Message,
		Discount:      res.Discount,
		AffectedItems: res.Items,
		Warnings:      res.Warnings,
		Stackability:  res.Stacking,
	})
}

type applyResponse struct {
	RedemptionID   string                `json:"redemption_id"`
	DiscountAmount decimal.Decimal       `json:"discount_amount"`
	AffectedItems  []coupon.AffectedItem `json:"affected_items"`
	Warnings       []string              `json:"warnings,omitempty"`
	Stackability   coupon.Stacking       `json:"stackability"`
}

func (h *Handler) applyCoupon(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, err)
		return
	}

	res, err := h.service.Apply(r.Context(), req.toDomain(), req.OrderID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, applyResponse{
		RedemptionID:   res.RedemptionID,
		DiscountAmount: res.Discount,
		AffectedItems:  res.Items,
		Warnings:       res.Warnings,
		Stackability:   res.Stacking,
	})
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

type refundRequest struct {
	RefundID string          `json:"refund_id"`
	Amount   decimal.Decimal `json:"amount"`
	Reason   string          `json:"reason"`
}

type redemptionResponse struct {
	ID           string          `json:"id"`
	OrderID      string          `json:"order_id"`
	Code         string          `json:"code"`
	Status       string          `json:"status"`
	Discount     decimal.Decimal `json:"discount_amount"`
	CancelReason string          `json:"cancel_reason,omitempty"`
	RefundID     string          `json:"refund_id,omitempty"`
	RefundAmount decimal.Decimal `json:"refund_amount"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

func toRedemptionResponse(r *redemption.Redemption) redemptionResponse {
	return redemptionResponse{
		ID:           r.ID,
		OrderID:      r.OrderID,
		Code:         r.Code,
		Status:       string(r.Status),
		Discount:     r.Discount,
		CancelReason: r.CancelReason,
		RefundID:     r.RefundID,
		RefundAmount: r.RefundAmount,
		UpdatedAt:    r.UpdatedAt,
	}
}

func (h *Handler) cancelRedemption(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, err)
		return
	}

	red, err := h.service.Cancel(r.Context(), r.PathValue("orderID"), req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRedemptionResponse(red))
}

func (h *Handler) refundRedemption(w http.ResponseWriter, r *http.Request) {
	var req refundRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, err)
		return
	}

	red, err := h.service.Refund(r.Context(), r.PathValue("orderID"), req.RefundID, req.Amount, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRedemptionResponse(red))
}
