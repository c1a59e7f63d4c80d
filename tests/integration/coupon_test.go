//go:build integration

package integration

import (
	"net/http"
	"regexp"
	"testing"
)

var uuidPattern = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

func TestCreateCoupon(t *testing.T) {
	resp := doPost(t, "/v1/coupons", map[string]any{
		"name":   "Integration percent",
		"type":   "PERCENT",
		"params": map[string]any{"percent_off": "15"},
	})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	c := decodeJSON[couponResponse](t, resp)
	if !uuidPattern.MatchString(c.ID) {
		t.Errorf("id: got %q, want a uuid", c.ID)
	}
	if c.Status != "DRAFT" {
		t.Errorf("status: got %q, want DRAFT", c.Status)
	}

	got := doGet(t, "/v1/coupons/"+c.ID)
	defer got.Body.Close()
	if got.StatusCode != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", got.StatusCode)
	}
}

func TestCreateCoupon_InvalidParams(t *testing.T) {
	resp := doPost(t, "/v1/coupons", map[string]any{
		"name":   "Broken",
		"type":   "PERCENT",
		"params": map[string]any{"percent_off": "150"},
	})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestGetCoupon_NotFound(t *testing.T) {
	resp := doGet(t, "/v1/coupons/00000000-0000-0000-0000-000000000000")
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}

	body := decodeJSON[errorResponse](t, resp)
	if body.Code != http.StatusNotFound {
		t.Errorf("error code: got %d, want 404", body.Code)
	}
}

func TestCouponLifecycle(t *testing.T) {
	id, _ := newActiveCoupon(t, "Lifecycle coupon", 2)

	resp := doPost(t, "/v1/coupons/"+id+"/pause", nil)
	c := decodeJSON[couponResponse](t, resp)
	resp.Body.Close()
	if c.Status != "PAUSED" {
		t.Fatalf("pause: got %q, want PAUSED", c.Status)
	}

	resp = doPost(t, "/v1/coupons/"+id+"/activate", nil)
	c = decodeJSON[couponResponse](t, resp)
	resp.Body.Close()
	if c.Status != "ACTIVE" {
		t.Fatalf("reactivate: got %q, want ACTIVE", c.Status)
	}

	resp = doPost(t, "/v1/coupons/"+id+"/archive", nil)
	c = decodeJSON[couponResponse](t, resp)
	resp.Body.Close()
	if c.Status != "ARCHIVED" {
		t.Fatalf("archive: got %q, want ARCHIVED", c.Status)
	}

	resp = doPost(t, "/v1/coupons/"+id+"/activate", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("activate archived: expected 409, got %d", resp.StatusCode)
	}
}

func TestActivate_WithoutCodes(t *testing.T) {
	resp := doPost(t, "/v1/coupons", map[string]any{
		"name":   "No codes yet",
		"type":   "PERCENT",
		"params": map[string]any{"percent_off": "5"},
	})
	c := decodeJSON[couponResponse](t, resp)
	resp.Body.Close()

	resp = doPost(t, "/v1/coupons/"+c.ID+"/activate", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
}

func TestGenerateCodes_Unique(t *testing.T) {
	_, codes := newActiveCoupon(t, "Bulk batch", 200)

	seen := make(map[string]struct{}, len(codes))
	for _, c := range codes {
		if _, dup := seen[c]; dup {
			t.Fatalf("duplicate code %q in batch", c)
		}
		seen[c] = struct{}{}
	}
}
