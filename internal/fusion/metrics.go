package fusion

import (
	"fmt"
	"math"
)

// Metric scores a batch of predictions against targets.
type Metric struct {
	Name string
	// K is 0 for plain categorical accuracy, otherwise the top-k cutoff.
	K int
}

// DefaultMetrics is categorical accuracy, top-k, top-10 and top-50.
func DefaultMetrics(k int) []Metric {
	return []Metric{
		{Name: "categorical_accuracy"},
		{Name: "top_k_categorical_accuracy", K: k},
		{Name: "top_10_accuracy", K: 10},
		{Name: "top_50_accuracy", K: 50},
	}
}

func (m Metric) String() string {
	if m.K == 0 {
		return m.Name
	}
	return fmt.Sprintf("%s@%d", m.Name, m.K)
}

// Hits counts rows where the metric is satisfied. pred and truth are
// row-major with cols entries per row; only the first rows rows are scored.
func (m Metric) Hits(pred, truth []float32, rows, cols int) int {
	hits := 0
	for r := 0; r < rows; r++ {
		p := pred[r*cols : (r+1)*cols]
		want := argmax(truth[r*cols : (r+1)*cols])
		if m.K == 0 {
			if argmax(p) == want {
				hits++
			}
			continue
		}
		if inTopK(p, want, m.K) {
			hits++
		}
	}
	return hits
}

// argmax returns the first index of the largest value.
func argmax(v []float32) int {
	best := 0
	for i, x := range v {
		if x > v[best] {
			best = i
		}
	}
	return best
}

// inTopK reports whether fewer than k entries beat p[target].
func inTopK(p []float32, target, k int) bool {
	t := p[target]
	if math.IsNaN(float64(t)) {
		return false
	}
	above := 0
	for _, x := range p {
		if x > t {
			above++
		}
	}
	return above < k
}
