package labels

import (
	"github.com/pkg/errors"

	"beamfusion/internal/npzio"
)

// OutputArray is the array name holding beam power grids in label files.
const OutputArray = "output_classification"

// BeamOutput loads the power grid in path and returns thresholded,
// normalized labels and the number of classes.
func BeamOutput(path string, thresholdBelowMax float64) ([][]float64, int, error) {
	return load(path, ThresholdedNormalized, thresholdBelowMax)
}

// CustomLabel loads the power grid in path and returns raw log-power labels.
func CustomLabel(path string) ([][]float64, int, error) {
	return load(path, RawLog, 0)
}

func load(path string, mode Mode, thresholdBelowMax float64) ([][]float64, int, error) {
	arr, err := npzio.Read(path, OutputArray)
	if err != nil {
		return nil, 0, err
	}
	y, numClasses, err := Transform(arr.Data, arr.Shape, mode, thresholdBelowMax)
	if err != nil {
		return nil, 0, errors.Wrapf(err, "labels from %s", path)
	}
	return y, numClasses, nil
}
