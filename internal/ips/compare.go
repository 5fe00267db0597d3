package ips

import (
	"fmt"
	"math"
)

// fpEpsilon absorbs float noise in values computed by subtraction (spreads,
// mids), so exact-boundary inputs land on the intended side of the rule.
const fpEpsilon = 1e-9

// Compare applies a direction/threshold rule to a value. tol widens the pass
// region: a lte threshold accepts up to threshold+tol, a gte threshold down
// to threshold-tol. The two calibrated tolerances (delta ±0.01, bid-ask
// spread +$0.02) come from the registry entry; everything else uses 0.
// Inclusive boundaries pass and strict boundaries fail even when the value
// carries subtraction noise.
func Compare(value float64, dir Direction, threshold float64, thresholdMax *float64, tol float64) bool {
	switch dir {
	case LT:
		return value < threshold+tol-fpEpsilon
	case LTE:
		return value <= threshold+tol+fpEpsilon
	case GT:
		return value > threshold-tol+fpEpsilon
	case GTE:
		return value >= threshold-tol-fpEpsilon
	case EQ:
		return math.Abs(value-threshold) <= math.Max(tol, fpEpsilon)
	case NEQ:
		return math.Abs(value-threshold) > math.Max(tol, fpEpsilon)
	case Between:
		if thresholdMax == nil {
			return false
		}
		return value >= threshold-tol-fpEpsilon && value <= *thresholdMax+tol+fpEpsilon
	default:
		return false
	}
}

// TargetString renders the rule for the factor-score detail table.
func TargetString(dir Direction, threshold float64, thresholdMax *float64) string {
	switch dir {
	case LT:
		return fmt.Sprintf("< %g", threshold)
	case LTE:
		return fmt.Sprintf("<= %g", threshold)
	case GT:
		return fmt.Sprintf("> %g", threshold)
	case GTE:
		return fmt.Sprintf(">= %g", threshold)
	case EQ:
		return fmt.Sprintf("= %g", threshold)
	case NEQ:
		return fmt.Sprintf("!= %g", threshold)
	case Between:
		if thresholdMax != nil {
			return fmt.Sprintf("between %g and %g", threshold, *thresholdMax)
		}
		return fmt.Sprintf("between %g and ?", threshold)
	default:
		return string(dir)
	}
}
