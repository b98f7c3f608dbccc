package frontier

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidate_Accepts(t *testing.T) {
	assert.NoError(t, Validate(threeAssetInput(2, 1, 0), 1))

	// Bounds that sum to exactly one pin the portfolio but remain feasible.
	in := threeAssetInput(10, 1, 0)
	in.Assets[0].MinWeight, in.Assets[0].MaxWeight = 0.2, 0.2
	in.Assets[1].MinWeight, in.Assets[1].MaxWeight = 0.3, 0.3
	in.Assets[2].MinWeight, in.Assets[2].MaxWeight = 0.5, 0.5
	assert.NoError(t, Validate(in, DefaultPoints))

	// Zero volatility is allowed.
	in = threeAssetInput(10, 1, 0)
	in.Assets[0].Volatility = 0
	assert.NoError(t, Validate(in, DefaultPoints))
}

func TestValidate_Rejects(t *testing.T) {
	testCases := []struct {
		name   string
		points int
		mutate func(in *Input)
	}{
		{"zero points", 0, func(in *Input) {}},
		{"infinite volatility", 1, func(in *Input) { in.Assets[2].Volatility = math.Inf(1) }},
		{"negative min", 1, func(in *Input) { in.Assets[0].MinWeight = -0.1 }},
		{"nan bound", 1, func(in *Input) { in.Assets[1].MaxWeight = math.NaN() }},
		{"nan correlation", 1, func(in *Input) {
			in.Correlation[2][1], in.Correlation[1][2] = math.NaN(), math.NaN()
		}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			in := threeAssetInput(10, 1, 0)
			tc.mutate(&in)
			assert.ErrorIs(t, Validate(in, tc.points), ErrInvalidInput)
		})
	}
}
