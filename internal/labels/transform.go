// Package labels turns raw beam-power grids into training targets.
package labels

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
)

// Mode selects how a power row becomes a label.
type Mode int

const (
	// ThresholdedNormalized keeps entries within thresholdBelowMax dB of the
	// row maximum and normalizes the row into a distribution.
	ThresholdedNormalized Mode = iota
	// RawLog stores 20*log10(power) with no epsilon, so exact zeros become -Inf.
	RawLog
)

func (m Mode) String() string {
	switch m {
	case ThresholdedNormalized:
		return "thresholded_normalized"
	case RawLog:
		return "raw_log"
	}
	return "mode(?)"
}

// logEpsilon keeps log10 finite for zero power in the thresholded path.
const logEpsilon = 1e-30

// Errors returned by the label transforms.
var (
	// ErrBadThreshold rejects a non-positive threshold below max.
	ErrBadThreshold = errors.New("threshold below max must be positive")
	// ErrBadPower rejects negative, NaN or infinite power entries.
	ErrBadPower = errors.New("power values must be finite and non-negative")
	// ErrBadShape rejects grids that are not (N, H, W) or do not match their data.
	ErrBadShape = errors.New("power grid must have shape (N, H, W)")
	// ErrUnknownMode rejects a Mode outside ThresholdedNormalized and RawLog.
	ErrUnknownMode = errors.New("unknown label mode")
)

// BeamsLogScale thresholds and normalizes every row of y in place and returns y.
// A row whose surviving entries sum to zero becomes uniform.
func BeamsLogScale(y [][]float64, thresholdBelowMax float64) ([][]float64, error) {
	if !(thresholdBelowMax > 0) || math.IsInf(thresholdBelowMax, 0) {
		return nil, errors.Wrapf(ErrBadThreshold, "got %v", thresholdBelowMax)
	}
	logOut := []float64{}
	for i, row := range y {
		if len(row) == 0 {
			continue
		}
		if cap(logOut) < len(row) {
			logOut = make([]float64, len(row))
		}
		logOut = logOut[:len(row)]
		for j, v := range row {
			if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, errors.Wrapf(ErrBadPower, "row %d col %d: %v", i, j, v)
			}
			logOut[j] = 20 * math.Log10(v+logEpsilon)
		}
		minValue := floats.Max(logOut) - thresholdBelowMax
		for j := range row {
			if logOut[j] < minValue {
				row[j] = 0
			}
		}
		normalize(row)
	}
	return y, nil
}

func normalize(row []float64) {
	sum := floats.Sum(row)
	if sum == 0 {
		for j := range row {
			row[j] = 1 / float64(len(row))
		}
		return
	}
	floats.Scale(1/sum, row)
}

// Transform converts a power grid of shape (N, H, W) into labels of shape
// (N, H*W). Values are taken in magnitude and scaled by the global maximum
// before the per-row mode is applied.
func Transform(data []float64, shape []int, mode Mode, thresholdBelowMax float64) ([][]float64, int, error) {
	if len(shape) != 3 {
		return nil, 0, errors.Wrapf(ErrBadShape, "got %v", shape)
	}
	n, numClasses := shape[0], shape[1]*shape[2]
	if n*numClasses != len(data) {
		return nil, 0, errors.Wrapf(ErrBadShape, "shape %v with %d values", shape, len(data))
	}

	flat := make([]float64, len(data))
	for i, v := range data {
		if math.IsNaN(v) {
			return nil, 0, errors.Wrapf(ErrBadPower, "index %d: %v", i, v)
		}
		flat[i] = math.Abs(v)
	}
	if len(flat) > 0 {
		if max := floats.Max(flat); max > 0 {
			floats.Scale(1/max, flat)
		}
	}

	y := make([][]float64, n)
	for i := range y {
		y[i] = flat[i*numClasses : (i+1)*numClasses : (i+1)*numClasses]
	}

	switch mode {
	case ThresholdedNormalized:
		if _, err := BeamsLogScale(y, thresholdBelowMax); err != nil {
			return nil, 0, err
		}
	case RawLog:
		for _, row := range y {
			for j, v := range row {
				row[j] = 20 * math.Log10(v)
			}
		}
	default:
		return nil, 0, errors.Wrapf(ErrUnknownMode, "%d", mode)
	}
	return y, numClasses, nil
}
