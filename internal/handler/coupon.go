package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/promo-engine/internal/domain/coupon"
)

// couponRequest is the wire shape for creating a definition.
type couponRequest struct {
	Name   string          `json:"name"`
	Type   string          `json:"type"`
	Params json.RawMessage `json:"params"`

	Target struct {
		Products       []string        `json:"products,omitempty"`
		Categories     []string        `json:"categories,omitempty"`
		Collections    []string        `json:"collections,omitempty"`
		Exclusions     []string        `json:"exclusions,omitempty"`
		MinCartValue   decimal.Decimal `json:"min_cart_value"`
		MinQuantity    int             `json:"min_qty"`
		PaymentMethods []string        `json:"payment_methods,omitempty"`
		FirstOrderOnly bool            `json:"first_order_only"`
	} `json:"target"`

	Limits struct {
		PerCustomerTotal int `json:"per_customer_total"`
		PerCustomerDaily int `json:"per_customer_daily"`
	} `json:"limits"`

	MaxDiscount decimal.Decimal `json:"max_discount_value"`
	ValidFrom   *time.Time      `json:"valid_from,omitempty"`
	ValidUntil  *time.Time      `json:"valid_until,omitempty"`
	Channels    []string        `json:"channels,omitempty"`
	Stores      []string        `json:"stores,omitempty"`
	Stacking    coupon.Stacking `json:"stacking"`
}

// couponResponse mirrors the stored definition.
type couponResponse struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Type        string          `json:"type"`
	Params      coupon.Params   `json:"params"`
	Status      string          `json:"status"`
	MaxDiscount decimal.Decimal `json:"max_discount_value"`
	ValidFrom   *time.Time      `json:"valid_from,omitempty"`
	ValidUntil  *time.Time      `json:"valid_until,omitempty"`
	Channels    []string        `json:"channels"`
	Stores      []string        `json:"stores"`
	Stacking    coupon.Stacking `json:"stacking"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

func (h *Handler) createCoupon(w http.ResponseWriter, r *http.Request) {
	var req couponRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, err)
		return
	}

	def, err := req.toDomain()
	if err != nil {
		badRequest(w, err)
		return
	}
	if err := h.store.Create(r.Context(), def); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCouponResponse(def))
}

func (req *couponRequest) toDomain() (*coupon.Definition, error) {
	t := coupon.DiscountType(req.Type)
	params, err := coupon.DecodeParams(t, req.Params)
	if err != nil {
		return nil, err
	}

	def := &coupon.Definition{
		Name:   req.Name,
		Type:   t,
		Params: params,
		Target: coupon.Target{
			Products:       coupon.NewSet(req.Target.Products...),
			Categories:     coupon.NewSet(req.Target.Categories...),
			Collections:    coupon.NewSet(req.Target.Collections...),
			Exclusions:     coupon.NewSet(req.Target.Exclusions...),
			MinCartValue:   req.Target.MinCartValue,
			MinQuantity:    req.Target.MinQuantity,
			PaymentMethods: coupon.NewSet(req.Target.PaymentMethods...),
			FirstOrderOnly: req.Target.FirstOrderOnly,
		},
		PerCustomerLimit:      req.Limits.PerCustomerTotal,
		PerCustomerDailyLimit: req.Limits.PerCustomerDaily,
		MaxDiscount:           req.MaxDiscount,
		Channels:              coupon.NewSet(req.Channels...),
		Stores:                coupon.NewSet(req.Stores...),
		Stacking:              req.Stacking,
	}
	if req.ValidFrom != nil {
		def.ValidFrom = *req.ValidFrom
	}
	if req.ValidUntil != nil {
		def.ValidUntil = *req.ValidUntil
	}
	return def, nil
}

func toCouponResponse(d *coupon.Definition) couponResponse {
	resp := couponResponse{
		ID:          d.ID,
		Name:        d.Name,
		Type:        string(d.Type),
		Params:      d.Params,
		Status:      string(d.Status),
		MaxDiscount: d.MaxDiscount,
		Channels:    d.Channels.Values(),
		Stores:      d.Stores.Values(),
		Stacking:    d.Stacking,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
	if !d.ValidFrom.IsZero() {
		resp.ValidFrom = &d.ValidFrom
	}
	if !d.ValidUntil.IsZero() {
		resp.ValidUntil = &d.ValidUntil
	}
	return resp
}

func (h *Handler) getCoupon(w http.ResponseWriter, r *http.Request) {
	d, err := h.store.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCouponResponse(d))
}

func (h *Handler) activateCoupon(w http.ResponseWriter, r *http.Request) {
	d, err := h.store.Activate(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCouponResponse(d))
}

func (h *Handler) pauseCoupon(w http.ResponseWriter, r *http.Request) {
	d, err := h.store.Pause(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCouponResponse(d))
}

func (h *Handler) archiveCoupon(w http.ResponseWriter, r *http.Request) {
	d, err := h.store.Archive(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCouponResponse(d))
}

// couponAnalytics rolls up redemptions for ?from=...&to=... (RFC 3339; both
// optional, defaulting to the last 30 days).
func (h *Handler) couponAnalytics(w http.ResponseWriter, r *http.Request) {
	to := time.Now().UTC()
	from := to.AddDate(0, 0, -30)

	if v := r.URL.Query().Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			badRequest(w, errors.Wrap(err, "parse from"))
			return
		}
		from = t
	}
	if v := r.URL.Query().Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			badRequest(w, errors.Wrap(err, "parse to"))
			return
		}
		to = t
	}

	a, err := h.service.Analytics(r.Context(), r.PathValue("id"), from, to)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}
