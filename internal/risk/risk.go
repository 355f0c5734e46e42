// Package risk encodes volatility-targeted position sizing guard-rails.
package risk

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidVolatility guards the sizing division when calibration produced a
// non-positive sigma. The entry is rejected, not re-sized.
var ErrInvalidVolatility = errors.New("invalid volatility for sizing")

// Sizer converts capital, a volatility target, and a leverage cap into order
// quantities.
type Sizer struct {
	Capital          float64
	VolatilityTarget float64
	MaxLeverage      float64
}

// Quantity returns the absolute position size for an entry:
// capital * min(max_leverage, volatility_target/sigma) / reference price.
func (s Sizer) Quantity(sigma, referencePrice float64) (float64, error) {
	if sigma <= 0 || math.IsNaN(sigma) {
		return 0, fmt.Errorf("%w: sigma=%g", ErrInvalidVolatility, sigma)
	}
	if referencePrice <= 0 {
		return 0, fmt.Errorf("reference price must be positive, got %g", referencePrice)
	}
	deployed := s.Capital * math.Min(s.MaxLeverage, s.VolatilityTarget/sigma)
	return deployed / referencePrice, nil
}
