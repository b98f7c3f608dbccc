package frontier

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidInput marks malformed input rejected before any computation.
var ErrInvalidInput = errors.New("invalid input")

const inputTolerance = 1e-9

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Validate checks an Input and the number of frontier points against the
// input contract.
func Validate(in Input, points int) error {
	n := len(in.Assets)
	if n == 0 {
		return invalid("no assets provided")
	}
	if in.ForecastConfidence < 2 {
		return invalid("forecast confidence must be at least 2, got %d", in.ForecastConfidence)
	}
	if in.NumSimulations < 1 {
		return invalid("number of simulations must be at least 1, got %d", in.NumSimulations)
	}
	if points < 1 {
		return invalid("number of frontier points must be at least 1, got %d", points)
	}

	var minSum, maxSum float64
	for i, a := range in.Assets {
		if !finite(a.Return) {
			return invalid("asset %d (%s) has non-finite return", i, a.ID)
		}
		if !finite(a.Volatility) || a.Volatility < 0 {
			return invalid("asset %d (%s) has invalid volatility %v", i, a.ID, a.Volatility)
		}
		if !finite(a.MinWeight) || !finite(a.MaxWeight) {
			return invalid("asset %d (%s) has non-finite weight bounds", i, a.ID)
		}
		if a.MinWeight < 0 || a.MaxWeight > 1 {
			return invalid("asset %d (%s) bounds [%v, %v] outside [0, 1]", i, a.ID, a.MinWeight, a.MaxWeight)
		}
		if a.MinWeight > a.MaxWeight {
			return invalid("asset %d (%s) min weight %v exceeds max weight %v", i, a.ID, a.MinWeight, a.MaxWeight)
		}
		minSum += a.MinWeight
		maxSum += a.MaxWeight
	}
	if minSum > 1+inputTolerance {
		return invalid("minimum weights sum to %v, above 1", minSum)
	}
	if maxSum < 1-inputTolerance {
		return invalid("maximum weights sum to %v, below 1", maxSum)
	}

	if len(in.Correlation) != n {
		return invalid("correlation matrix has %d rows, expected %d", len(in.Correlation), n)
	}
	for i, row := range in.Correlation {
		if len(row) != n {
			return invalid("correlation row %d has %d columns, expected %d", i, len(row), n)
		}
	}
	for i := 0; i < n; i++ {
		if math.Abs(in.Correlation[i][i]-1) > inputTolerance {
			return invalid("correlation diagonal at %d is %v, expected 1", i, in.Correlation[i][i])
		}
		for j := 0; j < i; j++ {
			rho := in.Correlation[i][j]
			if !finite(rho) || math.Abs(rho) > 1+inputTolerance {
				return invalid("correlation [%d][%d] = %v outside [-1, 1]", i, j, rho)
			}
			if math.Abs(rho-in.Correlation[j][i]) > inputTolerance {
				return invalid("correlation matrix is not symmetric at [%d][%d]", i, j)
			}
		}
	}

	return nil
}
