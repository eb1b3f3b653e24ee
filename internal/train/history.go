package train

import (
	"time"
)

// Scores are the loss and metric averages over one pass of a split.
type Scores struct {
	Loss    float64
	Metrics map[string]float64
}

// Epoch records one epoch of Fit.
type Epoch struct {
	Epoch      int
	Train      Scores
	Validation Scores
	Duration   time.Duration
}

// History is the per-epoch record returned by Fit.
type History struct {
	Epochs []Epoch
}

// Series pulls one value per epoch out of the history. key is "loss" or a
// metric name; validation selects the validation split.
func (h *History) Series(key string, validation bool) []float64 {
	out := make([]float64, len(h.Epochs))
	for i, e := range h.Epochs {
		s := e.Train
		if validation {
			s = e.Validation
		}
		if key == "loss" {
			out[i] = s.Loss
		} else {
			out[i] = s.Metrics[key]
		}
	}
	return out
}

// tally accumulates per-row loss and metric hits.
type tally struct {
	rows    int
	loss    float64
	hits    map[string]int
	metrics []string
}

func newTally(names []string) *tally {
	return &tally{hits: make(map[string]int), metrics: names}
}

func (t *tally) scores() Scores {
	s := Scores{Metrics: make(map[string]float64, len(t.metrics))}
	if t.rows == 0 {
		return s
	}
	s.Loss = t.loss / float64(t.rows)
	for _, name := range t.metrics {
		s.Metrics[name] = float64(t.hits[name]) / float64(t.rows)
	}
	return s
}
