package coupon

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParamsValidate(t *testing.T) {
	tests := []struct {
		name    string
		params  Params
		wantErr bool
	}{
		{"percent ok", PercentParams{PercentOff: dec("25")}, false},
		{"percent zero", PercentParams{}, true},
		{"percent over 100", PercentParams{PercentOff: dec("101")}, true},
		{"amount ok", AmountParams{AmountOff: dec("9.99")}, false},
		{"amount negative", AmountParams{AmountOff: dec("-1")}, true},
		{"bogo ok", BogoParams{BuyQty: 2, GetQty: 1, Reward: RewardFree}, false},
		{"bogo zero buy", BogoParams{GetQty: 1, Reward: RewardFree}, true},
		{"bogo percent without value", BogoParams{BuyQty: 1, GetQty: 1, Reward: RewardPercentOff}, true},
		{"bogo unknown reward", BogoParams{BuyQty: 1, GetQty: 1, Reward: "HALF"}, true},
		{"yopo ok", YopoParams{GroupSize: 3, Payable: PayHighest}, false},
		{"yopo group of one", YopoParams{GroupSize: 1, Payable: PayLowest}, true},
		{"yopo unknown payable", YopoParams{GroupSize: 3, Payable: "MIDDLE"}, true},
		{"free item ok", FreeItemParams{SKU: "GIFT", Qty: 1}, false},
		{"free item no sku", FreeItemParams{Qty: 1}, true},
		{"free item zero qty", FreeItemParams{SKU: "GIFT"}, true},
		{"shipping ok", ShippingOffParams{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.params.Validate()
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidParams)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestDecodeParams(t *testing.T) {
	p, err := DecodeParams(TypeBogo, []byte(`{"x":2,"y":1,"reward":"FREE"}`))
	require.NoError(t, err)

	bogo, ok := p.(BogoParams)
	require.True(t, ok)
	assert.Equal(t, 2, bogo.BuyQty)
	assert.Equal(t, 1, bogo.GetQty)
	assert.Equal(t, RewardFree, bogo.Reward)
}

func TestDecodeParams_EmptyShipping(t *testing.T) {
	p, err := DecodeParams(TypeShippingOff, nil)
	require.NoError(t, err)
	assert.Equal(t, TypeShippingOff, p.DiscountType())
}

func TestDecodeParams_UnknownType(t *testing.T) {
	_, err := DecodeParams("MYSTERY", []byte(`{}`))
	require.ErrorIs(t, err, ErrInvalidParams)
}
