package main

import "time"

func clampJitterRatio(ratio float64) float64 {
	switch {
	case ratio < 0:
		return 0
	case ratio > 1:
		return 1
	default:
		return ratio
	}
}

// jitteredIntervalWithSample spreads base by up to ±ratio using sample in [0, 1].
func jitteredIntervalWithSample(base time.Duration, ratio, sample float64) time.Duration {
	if base <= 0 {
		return 0
	}
	ratio = clampJitterRatio(ratio)
	if ratio == 0 {
		return base
	}
	sample = min(max(sample, 0), 1)
	factor := max(1+((sample*2)-1)*ratio, 0)
	return max(time.Duration(float64(base)*factor), time.Millisecond)
}
