package coupon

import (
	"encoding/json"
	"sort"

	"github.com/shopspring/decimal"
)

// Set is a string set with O(1) membership tests. It marshals to a sorted
// JSON array so stored documents are stable.
type Set map[string]struct{}

// NewSet builds a Set from the given values.
func NewSet(values ...string) Set {
	s := make(Set, len(values))
	for _, v := range values {
		s[v] = struct{}{}
	}
	return s
}

// Has reports membership.
func (s Set) Has(v string) bool {
	_, ok := s[v]
	return ok
}

// Empty reports whether the set has no members.
func (s Set) Empty() bool { return len(s) == 0 }

// Values returns the members sorted.
func (s Set) Values() []string {
	out := make([]string, 0, len(s))
	for v := range s {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// MarshalJSON encodes the set as a sorted array.
func (s Set) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Values())
}

// UnmarshalJSON decodes an array into the set.
func (s *Set) UnmarshalJSON(data []byte) error {
	var values []string
	if err := json.Unmarshal(data, &values); err != nil {
		return err
	}
	*s = NewSet(values...)
	return nil
}

// Target scopes which carts and line items a coupon applies to.
type Target struct {
	// Products, Categories, and Collections are inclusion sets: when all
	// three are empty every item is eligible, otherwise an item must match
	// at least one of them. Exclusions always wins over inclusion.
	Products    Set `json:"products,omitempty"`
	Categories  Set `json:"categories,omitempty"`
	Collections Set `json:"collections,omitempty"`
	Exclusions  Set `json:"exclusions,omitempty"`

	MinCartValue decimal.Decimal `json:"min_cart_value"`
	MinQuantity  int             `json:"min_qty"`

	// PaymentMethods is an allow-list; empty means any method.
	PaymentMethods Set `json:"payment_methods,omitempty"`

	FirstOrderOnly bool `json:"first_order_only"`
}

// Matches reports whether the line item is eligible under the target's
// inclusion and exclusion sets.
func (t Target) Matches(item LineItem) bool {
	if t.Exclusions.Has(item.SKU) {
		return false
	}
	if t.Products.Empty() && t.Categories.Empty() && t.Collections.Empty() {
		return true
	}
	return t.Products.Has(item.SKU) ||
		t.Categories.Has(item.Category) ||
		t.Collections.Has(item.Collection)
}

// EligibleItems returns the cart items that match the target, in cart order.
func (t Target) EligibleItems(cart Cart) []LineItem {
	items := make([]LineItem, 0, len(cart.Items))
	for _, item := range cart.Items {
		if t.Matches(item) {
			items = append(items, item)
		}
	}
	return items
}
