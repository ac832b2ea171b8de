package risk

const (
	DefaultSurgeThreshold = 0.30

	minSurgeSamples = 5
	recentWindow    = 3
	olderWindow     = 7
)

// SurgeDetector compares the latest samples with the ones just before them.
type SurgeDetector struct {
	Threshold float64
}

func NewSurgeDetector(threshold float64) SurgeDetector {
	if threshold <= 0 {
		threshold = DefaultSurgeThreshold
	}
	return SurgeDetector{Threshold: threshold}
}

// Detect reports whether history (oldest first) ends in a surge, and the
// relative growth. Fewer than five samples is never a surge.
func (d SurgeDetector) Detect(history []float64) (bool, float64) {
	g, ok := Growth(history)
	if !ok {
		return false, 0
	}
	return g > d.Threshold, g
}

// Growth is (mean of the last 3 - mean of the 7 before them) / that older
// mean, with the divisor floored at 1. With fewer than six samples the
// oldest sample stands in for the older window.
func Growth(history []float64) (float64, bool) {
	n := len(history)
	if n < minSurgeSamples {
		return 0, false
	}
	recent := mean(history[n-recentWindow:])

	var older float64
	if n < recentWindow+3 {
		older = history[0]
	} else {
		start := n - recentWindow - olderWindow
		if start < 0 {
			start = 0
		}
		older = mean(history[start : n-recentWindow])
	}

	div := older
	if div < 1 {
		div = 1
	}
	return (recent - older) / div, true
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}
