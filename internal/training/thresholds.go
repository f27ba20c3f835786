package training

import "fmt"

// Thresholds are the minimum metrics a model needs before deployment.
type Thresholds struct {
	MinMAP50     float64
	MinPrecision float64
	MinRecall    float64
}

// DefaultThresholds requires 0.5 for mAP50, precision and recall.
func DefaultThresholds() Thresholds {
	return Thresholds{MinMAP50: 0.5, MinPrecision: 0.5, MinRecall: 0.5}
}

// Failures lists every threshold m misses.
func (t Thresholds) Failures(m Metrics) []string {
	var out []string
	check := func(name string, got, want float64) {
		if got < want {
			out = append(out, fmt.Sprintf("%s %.3f is below %.3f", name, got, want))
		}
	}
	check("mAP50", m.MAP50, t.MinMAP50)
	check("precision", m.Precision, t.MinPrecision)
	check("recall", m.Recall, t.MinRecall)
	return out
}

// DeploymentReady reports whether m meets every threshold.
func (t Thresholds) DeploymentReady(m Metrics) bool {
	return len(t.Failures(m)) == 0
}
