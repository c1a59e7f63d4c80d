//go:build integration

package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"testing"
)

func TestValidate_HappyPath(t *testing.T) {
	_, codes := newActiveCoupon(t, "Validate happy", 1)

	resp := doPost(t, "/v1/coupons/validate", checkoutBody(codes[0], "cust-validate", ""))
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	body := decodeJSON[validateResponse](t, resp)
	if !body.Valid {
		t.Fatalf("expected valid, got reason %q", body.Reason)
	}
	if body.Discount != "10" {
		t.Errorf("discount: got %q, want 10", body.Discount)
	}
}

func TestValidate_UnknownCode(t *testing.T) {
	resp := doPost(t, "/v1/coupons/validate", checkoutBody("NO-SUCH-CODE", "cust-validate", ""))
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	body := decodeJSON[validateResponse](t, resp)
	if body.Valid {
		t.Fatal("expected invalid")
	}
	if body.Reason != "CODE_NOT_FOUND" {
		t.Errorf("reason: got %q, want CODE_NOT_FOUND", body.Reason)
	}
}

func TestApply_ConsumesCode(t *testing.T) {
	_, codes := newActiveCoupon(t, "Apply consumes", 1)

	resp := doPost(t, "/v1/coupons/apply", checkoutBody(codes[0], "cust-apply", "order-apply-1"))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	body := decodeJSON[applyResponse](t, resp)
	resp.Body.Close()
	if body.RedemptionID == "" {
		t.Fatal("expected a redemption id")
	}
	if body.Discount != "10" {
		t.Errorf("discount: got %q, want 10", body.Discount)
	}

	// The single-use code is spent.
	resp = doPost(t, "/v1/coupons/apply", checkoutBody(codes[0], "cust-apply", "order-apply-2"))
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("second apply: expected 422, got %d", resp.StatusCode)
	}
	declined := decodeJSON[errorResponse](t, resp)
	if declined.Reason == "" {
		t.Error("expected a decline reason")
	}
}

func TestCancel_ReleasesCode(t *testing.T) {
	_, codes := newActiveCoupon(t, "Cancel releases", 1)

	resp := doPost(t, "/v1/coupons/apply", checkoutBody(codes[0], "cust-cancel", "order-cancel-1"))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("apply: expected 201, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = doPost(t, "/v1/redemptions/order-cancel-1/cancel", map[string]any{"reason": "order cancelled"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("cancel: expected 200, got %d", resp.StatusCode)
	}
	r := decodeJSON[redemptionResponse](t, resp)
	resp.Body.Close()
	if r.Status != "CANCELLED" {
		t.Fatalf("status: got %q, want CANCELLED", r.Status)
	}

	// Cancel again: idempotent, keeps the first reason.
	resp = doPost(t, "/v1/redemptions/order-cancel-1/cancel", map[string]any{"reason": "again"})
	r = decodeJSON[redemptionResponse](t, resp)
	resp.Body.Close()
	if r.CancelReason != "order cancelled" {
		t.Errorf("cancel reason: got %q, want the original", r.CancelReason)
	}

	// The released code is usable again.
	resp = doPost(t, "/v1/coupons/apply", checkoutBody(codes[0], "cust-cancel", "order-cancel-2"))
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("reapply: expected 201, got %d", resp.StatusCode)
	}
}

func TestRefund(t *testing.T) {
	_, codes := newActiveCoupon(t, "Refund flow", 1)

	resp := doPost(t, "/v1/coupons/apply", checkoutBody(codes[0], "cust-refund", "order-refund-1"))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("apply: expected 201, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = doPost(t, "/v1/redemptions/order-refund-1/refund", map[string]any{
		"refund_id": "ref-1",
		"amount":    "100",
		"reason":    "returned",
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("refund: expected 200, got %d", resp.StatusCode)
	}
	r := decodeJSON[redemptionResponse](t, resp)
	if r.Status != "REFUNDED" {
		t.Errorf("status: got %q, want REFUNDED", r.Status)
	}
	if r.RefundID != "ref-1" {
		t.Errorf("refund id: got %q, want ref-1", r.RefundID)
	}
}

func TestCancel_UnknownOrder(t *testing.T) {
	resp := doPost(t, "/v1/redemptions/no-such-order/cancel", map[string]any{"reason": "whatever"})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestAnalytics(t *testing.T) {
	id, codes := newActiveCoupon(t, "Analytics rollup", 2)

	for n, c := range codes {
		orderID := "order-analytics-" + string(rune('a'+n))
		resp := doPost(t, "/v1/coupons/apply", checkoutBody(c, "cust-analytics-"+string(rune('a'+n)), orderID))
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("apply %d: expected 201, got %d", n, resp.StatusCode)
		}
		resp.Body.Close()
	}

	resp := doPost(t, "/v1/redemptions/order-analytics-a/cancel", map[string]any{"reason": "cancel"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("cancel: expected 200, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = doGet(t, "/v1/coupons/"+id+"/analytics")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("analytics: expected 200, got %d", resp.StatusCode)
	}

	a := decodeJSON[analyticsResponse](t, resp)
	if a.Total != 2 {
		t.Errorf("total: got %d, want 2", a.Total)
	}
	if a.Active != 1 {
		t.Errorf("active: got %d, want 1", a.Active)
	}
	if a.Cancelled != 1 {
		t.Errorf("cancelled: got %d, want 1", a.Cancelled)
	}
	if a.TotalDiscount != "20" {
		t.Errorf("total discount: got %q, want 20", a.TotalDiscount)
	}
}

// Concurrent applies by one customer with different codes of the same coupon
// take different code row locks, so the per-customer limit must hold through
// the customer-scope lock inside the ledger transaction.
func TestApply_CustomerLimitUnderConcurrency(t *testing.T) {
	resp := doPost(t, "/v1/coupons", map[string]any{
		"name":   "One per customer",
		"type":   "PERCENT",
		"params": map[string]any{"percent_off": "10"},
		"limits": map[string]any{"per_customer_total": 1},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create coupon: got %d", resp.StatusCode)
	}
	c := decodeJSON[couponResponse](t, resp)
	resp.Body.Close()

	const parallel = 8

	resp = doPost(t, "/v1/coupons/"+c.ID+"/codes/generate", map[string]any{
		"count":    parallel,
		"max_uses": 1,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("generate codes: got %d", resp.StatusCode)
	}
	g := decodeJSON[generateResponse](t, resp)
	resp.Body.Close()

	resp = doPost(t, "/v1/coupons/"+c.ID+"/activate", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("activate: got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Plain client calls here: test helpers must not fail the test from
	// spawned goroutines.
	statuses := make(chan int, parallel)
	var wg sync.WaitGroup
	for n := range parallel {
		wg.Add(1)
		go func() {
			defer wg.Done()
			body := checkoutBody(g.Codes[n], "cust-limit-race", fmt.Sprintf("order-limit-race-%d", n))
			data, err := json.Marshal(body)
			if err != nil {
				statuses <- 0
				return
			}
			r, err := httpClient.Post(baseURL+"/v1/coupons/apply", "application/json", bytes.NewReader(data))
			if err != nil {
				statuses <- 0
				return
			}
			statuses <- r.StatusCode
			r.Body.Close()
		}()
	}
	wg.Wait()
	close(statuses)

	created, declined := 0, 0
	for code := range statuses {
		switch code {
		case http.StatusCreated:
			created++
		case http.StatusUnprocessableEntity:
			declined++
		default:
			t.Errorf("unexpected status %d", code)
		}
	}
	if created != 1 {
		t.Errorf("accepted applies: got %d, want exactly 1", created)
	}
	if declined != parallel-1 {
		t.Errorf("declined applies: got %d, want %d", declined, parallel-1)
	}
}
