package labels

import (
	"math"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"beamfusion/internal/npzio"
)

func checkDistribution(t *testing.T, y [][]float64) {
	t.Helper()
	for i, row := range y {
		sum, nonZero := 0.0, 0
		for _, v := range row {
			require.GreaterOrEqual(t, v, 0.0, "row %d", i)
			sum += v
			if v != 0 {
				nonZero++
			}
		}
		assert.InDelta(t, 1.0, sum, 1e-6, "row %d", i)
		assert.GreaterOrEqual(t, nonZero, 1, "row %d", i)
		assert.LessOrEqual(t, nonZero, len(row), "row %d", i)
	}
}

func TestBeamsLogScaleRandomRows(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	y := make([][]float64, 50)
	for i := range y {
		y[i] = make([]float64, 64)
		for j := range y[i] {
			y[i][j] = rng.Float64() * math.Pow(10, float64(rng.Intn(6)-3))
		}
	}
	out, err := BeamsLogScale(y, 6)
	require.NoError(t, err)
	checkDistribution(t, out)
}

func TestBeamsLogScaleThreshold(t *testing.T) {
	// 0.5 is ~6.02 dB below 1 and gets dropped, 0.6 is ~4.4 dB below and stays
	y := [][]float64{{1, 0.5, 0.6, 0}}
	out, err := BeamsLogScale(y, 6)
	require.NoError(t, err)
	assert.InDelta(t, 1/1.6, out[0][0], 1e-12)
	assert.Equal(t, 0.0, out[0][1])
	assert.InDelta(t, 0.6/1.6, out[0][2], 1e-12)
	assert.Equal(t, 0.0, out[0][3])
}

func TestBeamsLogScaleZeroRowIsUniform(t *testing.T) {
	out, err := BeamsLogScale([][]float64{{0, 0, 0, 0}}, 6)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.25, 0.25, 0.25, 0.25}, out[0])
	checkDistribution(t, out)
}

func TestBeamsLogScaleRejects(t *testing.T) {
	_, err := BeamsLogScale([][]float64{{1}}, 0)
	require.ErrorIs(t, err, ErrBadThreshold)

	_, err = BeamsLogScale([][]float64{{1, -1}}, 6)
	require.ErrorIs(t, err, ErrBadPower)

	_, err = BeamsLogScale([][]float64{{1, math.NaN()}}, 6)
	require.ErrorIs(t, err, ErrBadPower)
}

func TestTransformUniformGrid(t *testing.T) {
	data := make([]float64, 2*4*4)
	for i := range data {
		data[i] = 5
	}
	y, numClasses, err := Transform(data, []int{2, 4, 4}, ThresholdedNormalized, 6)
	require.NoError(t, err)
	require.Equal(t, 16, numClasses)
	require.Len(t, y, 2)
	for _, row := range y {
		require.Len(t, row, 16)
		for _, v := range row {
			assert.InDelta(t, 1.0/16, v, 1e-12)
		}
	}
}

func TestTransformSingleDominantBeam(t *testing.T) {
	y, numClasses, err := Transform([]float64{10, 0.001, 0.001, 0.001}, []int{1, 2, 2}, ThresholdedNormalized, 6)
	require.NoError(t, err)
	require.Equal(t, 4, numClasses)
	assert.InDelta(t, 1.0, y[0][0], 1e-12)
	assert.Equal(t, []float64{0, 0, 0}, y[0][1:])
}

func TestTransformTakesMagnitude(t *testing.T) {
	y, _, err := Transform([]float64{-10, 1, 1, 1}, []int{1, 2, 2}, ThresholdedNormalized, 6)
	require.NoError(t, err)
	assert.Equal(t, 0, BestBeams(y)[0])
	checkDistribution(t, y)
}

func TestTransformRawLog(t *testing.T) {
	y, numClasses, err := Transform([]float64{10, 1, 0.1, 0}, []int{1, 2, 2}, RawLog, 0)
	require.NoError(t, err)
	require.Equal(t, 4, numClasses)
	assert.InDelta(t, 0, y[0][0], 1e-12)
	assert.InDelta(t, -20, y[0][1], 1e-9)
	assert.InDelta(t, -40, y[0][2], 1e-9)
	assert.True(t, math.IsInf(y[0][3], -1))
}

func TestTransformRejectsBadShape(t *testing.T) {
	_, _, err := Transform([]float64{1, 2, 3}, []int{1, 2, 2}, ThresholdedNormalized, 6)
	require.ErrorIs(t, err, ErrBadShape)

	_, _, err = Transform([]float64{1, 2}, []int{2}, ThresholdedNormalized, 6)
	require.ErrorIs(t, err, ErrBadShape)

	_, _, err = Transform([]float64{1}, []int{1, 1, 1}, Mode(9), 6)
	require.ErrorIs(t, err, ErrUnknownMode)
}

func TestBeamOutputFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "beams_output_train.npz")
	data := make([]float64, 3*2*4)
	for i := range data {
		data[i] = float64(i%7) + 0.5
	}
	require.NoError(t, npzio.Write(path, map[string]*npzio.Array{
		OutputArray: {Shape: []int{3, 2, 4}, Data: data},
	}))

	y, numClasses, err := BeamOutput(path, 6)
	require.NoError(t, err)
	require.Equal(t, 8, numClasses)
	require.Len(t, y, 3)
	checkDistribution(t, y)

	raw, numClasses, err := CustomLabel(path)
	require.NoError(t, err)
	require.Equal(t, 8, numClasses)
	for _, row := range raw {
		for _, v := range row {
			assert.LessOrEqual(t, v, 0.0)
		}
	}
}
