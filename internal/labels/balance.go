package labels

import (
	"math/rand"
	"sort"

	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
)

// BestBeams returns the argmax of every row. Ties go to the lowest index.
func BestBeams(y [][]float64) []int {
	best := make([]int, len(y))
	for i, row := range y {
		for j, v := range row {
			if v > row[best[i]] {
				best[i] = j
			}
		}
	}
	return best
}

// Histogram counts how often each class is the best beam.
func Histogram(best []int) map[int]int {
	h := make(map[int]int)
	for _, b := range best {
		h[b]++
	}
	return h
}

// Summary describes how the best beams are spread over the classes that
// appear at least once.
type Summary struct {
	Samples int
	Classes int
	Min     float64
	Max     float64
	Mean    float64
	Median  float64
}

// Summarize computes a Summary over the best beams of y.
func Summarize(y [][]float64) (Summary, error) {
	h := Histogram(BestBeams(y))
	if len(h) == 0 {
		return Summary{}, errors.New("no samples to summarize")
	}
	counts := make(stats.Float64Data, 0, len(h))
	for _, c := range h {
		counts = append(counts, float64(c))
	}

	s := Summary{Samples: len(y), Classes: len(h)}
	var err error
	if s.Min, err = counts.Min(); err != nil {
		return Summary{}, err
	}
	if s.Max, err = counts.Max(); err != nil {
		return Summary{}, err
	}
	if s.Mean, err = counts.Mean(); err != nil {
		return Summary{}, err
	}
	if s.Median, err = counts.Median(); err != nil {
		return Summary{}, err
	}
	return s, nil
}

// BalanceIndices oversamples every best-beam class up to the count of the
// most frequent one. The result starts with 0..len(best)-1 followed by
// extra indices drawn with replacement from each class's own samples.
func BalanceIndices(best []int, rng *rand.Rand) []int {
	byClass := make(map[int][]int)
	for i, b := range best {
		byClass[b] = append(byClass[b], i)
	}
	most := 0
	classes := make([]int, 0, len(byClass))
	for c, idx := range byClass {
		classes = append(classes, c)
		if len(idx) > most {
			most = len(idx)
		}
	}
	sort.Ints(classes)

	out := make([]int, len(best), len(classes)*most)
	for i := range best {
		out[i] = i
	}
	for _, c := range classes {
		idx := byClass[c]
		for k := len(idx); k < most; k++ {
			out = append(out, idx[rng.Intn(len(idx))])
		}
	}
	return out
}
