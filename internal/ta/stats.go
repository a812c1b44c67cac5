package ta

import "math"

func MeanStd(values []float64) (float64, float64) {
	if len(values) == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))
	var variance float64
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(values))
	return mean, math.Sqrt(variance)
}

// PctChanges returns the consecutive percent changes of a series as
// fractions. Samples following a zero value are skipped.
func PctChanges(values []float64) []float64 {
	if len(values) < 2 {
		return nil
	}
	out := make([]float64, 0, len(values)-1)
	for i := 1; i < len(values); i++ {
		prev := values[i-1]
		if prev == 0 {
			continue
		}
		out = append(out, (values[i]-prev)/prev)
	}
	return out
}

// AbsPctChanges is PctChanges with every change taken as a magnitude.
func AbsPctChanges(values []float64) []float64 {
	changes := PctChanges(values)
	for i, c := range changes {
		changes[i] = math.Abs(c)
	}
	return changes
}

// PctReturn computes the return of values[idx] over values[idx-lag] as a
// fraction, NaN when out of range or the base is zero.
func PctReturn(values []float64, idx, lag int) float64 {
	if lag <= 0 || idx-lag < 0 || idx >= len(values) {
		return math.NaN()
	}
	base := values[idx-lag]
	if base == 0 {
		return math.NaN()
	}
	return (values[idx] / base) - 1
}

// ZScore positions values[idx] against the preceding window of size window.
func ZScore(values []float64, idx, window int) float64 {
	if window <= 0 || idx-window < 0 || idx >= len(values) {
		return math.NaN()
	}
	mean, std := MeanStd(values[idx-window : idx])
	if std == 0 {
		return 0
	}
	return (values[idx] - mean) / std
}
