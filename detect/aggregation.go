package detect

import (
	"fmt"
	"math"
	"sort"

	"fdsengine/core"
)

// Aggregate reduces an ordered, oldest-first sequence of values to a scalar.
// Empty input, and SLOPE with fewer than two points, return
// core.ErrUnsupportedAggregation.
func Aggregate(kind core.Aggregation, values []float64) (float64, error) {
	n := len(values)
	if n == 0 {
		return 0, fmt.Errorf("%w: %s over no values", core.ErrUnsupportedAggregation, kind)
	}

	switch kind {
	case core.AggregationLast:
		return values[n-1], nil
	case core.AggregationMax:
		m := values[0]
		for _, v := range values[1:] {
			m = math.Max(m, v)
		}
		return m, nil
	case core.AggregationMin:
		m := values[0]
		for _, v := range values[1:] {
			m = math.Min(m, v)
		}
		return m, nil
	case core.AggregationSum:
		return sum(values), nil
	case core.AggregationAvg:
		return mean(values), nil
	case core.AggregationStd:
		mu := mean(values)
		var ss float64
		for _, v := range values {
			d := v - mu
			ss += d * d
		}
		return math.Sqrt(ss / float64(n)), nil
	case core.AggregationMedian:
		sorted := make([]float64, n)
		copy(sorted, values)
		sort.Float64s(sorted)
		mid := n / 2
		if n%2 == 1 {
			return sorted[mid], nil
		}
		return (sorted[mid-1] + sorted[mid]) / 2, nil
	case core.AggregationSlope:
		return slope(values)
	}
	return 0, fmt.Errorf("%w: unknown aggregation %q", core.ErrInvalidConfiguration, kind)
}

// slope is the least-squares slope of values against their 0-based index,
// computed as cov(x, y) / var(x) around the means.
func slope(values []float64) (float64, error) {
	n := len(values)
	if n < 2 {
		return 0, fmt.Errorf("%w: SLOPE needs at least 2 points, got %d", core.ErrUnsupportedAggregation, n)
	}
	mx := float64(n-1) / 2
	my := mean(values)
	var cov, varx float64
	for i, y := range values {
		dx := float64(i) - mx
		cov += dx * (y - my)
		varx += dx * dx
	}
	return cov / varx, nil
}

func sum(values []float64) float64 {
	// Kahan summation keeps large transaction amounts from drifting
	var s, c float64
	for _, v := range values {
		y := v - c
		t := s + y
		c = (t - s) - y
		s = t
	}
	return s
}

func mean(values []float64) float64 {
	return sum(values) / float64(len(values))
}
