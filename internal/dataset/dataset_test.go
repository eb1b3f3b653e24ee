package dataset

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"beamfusion/internal/config"
	"beamfusion/internal/labels"
	"beamfusion/internal/logging"
	"beamfusion/internal/npzio"
)

func writeSynthetic(t *testing.T) string {
	dir := t.TempDir()
	require.NoError(t, Generate("train", DefaultSynthetic).WriteFolder(dir, "train", 20))
	require.NoError(t, Generate("validation", DefaultSynthetic).WriteFolder(dir, "validation", 20))
	return dir
}

func TestLoadAllModalities(t *testing.T) {
	dir := writeSynthetic(t)
	mods, err := config.ParseModalities([]string{"coord", "img", "lidar"})
	require.NoError(t, err)

	train, val, err := Load(Options{
		Folder:            dir,
		Modalities:        mods,
		ImageResizeFactor: 20,
		ThresholdBelowMax: 6,
	}, logging.Nop())
	require.NoError(t, err)

	for _, sp := range []*Split{train, val} {
		require.Equal(t, DefaultSynthetic.Samples, sp.Len())
		require.Equal(t, 8, sp.NumClasses)
		assert.Equal(t, []int{2}, sp.Inputs[config.Coord].Shape)
		assert.Equal(t, []int{6, 8, 1}, sp.Inputs[config.Image].Shape)
		assert.Equal(t, []int{8, 8, 2}, sp.Inputs[config.Lidar].Shape)
	}
}

func TestLoadCustomLabel(t *testing.T) {
	dir := writeSynthetic(t)
	mods, err := config.ParseModalities([]string{"coord"})
	require.NoError(t, err)

	train, val, err := Load(Options{
		Folder:            dir,
		Modalities:        mods,
		ImageResizeFactor: 20,
		ThresholdBelowMax: 6,
		CustomLabel:       true,
	}, logging.Nop())
	require.NoError(t, err)

	for name, sp := range map[string]*Split{"train": train, "validation": val} {
		raw := Generate(name, DefaultSynthetic)
		want, classes, err := labels.Transform(raw.Power.Data, raw.Power.Shape, labels.RawLog, 6)
		require.NoError(t, err)
		require.Equal(t, classes, sp.NumClasses)

		top := math.Inf(-1)
		for i, row := range sp.Labels {
			assert.InDeltaSlice(t, want[i], row, 1e-9)
			for _, v := range row {
				assert.LessOrEqual(t, v, 0.0)
				top = math.Max(top, v)
			}
		}
		// the global maximum maps to 0 dB
		assert.InDelta(t, 0, top, 1e-9)
	}
}

func TestLoadMissingFile(t *testing.T) {
	dir := writeSynthetic(t)
	require.NoError(t, os.Remove(filepath.Join(dir, "lidar_input", "lidar_validation.npz")))
	mods, err := config.ParseModalities([]string{"lidar"})
	require.NoError(t, err)

	_, _, err = Load(Options{Folder: dir, Modalities: mods, ThresholdBelowMax: 6}, logging.Nop())
	require.Error(t, err)
}

func TestLoadSampleCountMismatch(t *testing.T) {
	dir := writeSynthetic(t)
	short := &npzio.Array{Shape: []int{3, 2}, Data: make([]float64, 6)}
	require.NoError(t, npzio.Write(filepath.Join(dir, "coord_input", "coord_train.npz"),
		map[string]*npzio.Array{"coordinates": short}))
	mods, err := config.ParseModalities([]string{"coord"})
	require.NoError(t, err)

	_, _, err = Load(Options{Folder: dir, Modalities: mods, ThresholdBelowMax: 6}, logging.Nop())
	require.ErrorIs(t, err, ErrShapeMismatch)
}

func TestFromArrayChannelsFirst(t *testing.T) {
	// one 1x2 sample with 3 channels: pixel0=(1,2,3) pixel1=(4,5,6)
	f, err := FromArray(config.Lidar, []int{1, 1, 2, 3}, []float64{1, 2, 3, 4, 5, 6})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, f.Shape)
	assert.Equal(t, []float32{1, 4, 2, 5, 3, 6}, f.Data)

	f, err = FromArray(config.Image, []int{2, 2, 2}, make([]float64, 8))
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2, 1}, f.Shape)

	_, err = FromArray(config.Coord, []int{4}, make([]float64, 4))
	require.ErrorIs(t, err, ErrShapeMismatch)
	_, err = FromArray(config.Lidar, []int{2, 2, 2}, make([]float64, 8))
	require.ErrorIs(t, err, ErrShapeMismatch)
}

func TestChannelsFirstAcrossSamples(t *testing.T) {
	// value = 100*sample + 10*pixel + channel, two 2x1 samples with 2 channels
	v := []float64{0, 1, 10, 11, 100, 101, 110, 111}
	f, err := FromArray(config.Lidar, []int{2, 2, 1, 2}, v)
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 10, 1, 11, 100, 110, 101, 111}, f.Data)
	assert.Equal(t, []float32{100, 110, 101, 111}, f.Sample(1))

	// a single channel keeps its layout
	f, err = FromArray(config.Image, []int{1, 1, 2, 1}, []float64{3, 4})
	require.NoError(t, err)
	assert.Equal(t, []float32{3, 4}, f.Data)
}

func TestSelect(t *testing.T) {
	mods, err := config.ParseModalities([]string{"coord"})
	require.NoError(t, err)
	sp, err := Generate("train", DefaultSynthetic).Split(mods, labels.ThresholdedNormalized, 6)
	require.NoError(t, err)

	sub := sp.Select([]int{3, 3, 0})
	require.Equal(t, 3, sub.Len())
	require.NoError(t, sub.Validate())
	assert.Equal(t, sp.Inputs[config.Coord].Sample(3), sub.Inputs[config.Coord].Sample(0))
	assert.Equal(t, sp.Inputs[config.Coord].Sample(3), sub.Inputs[config.Coord].Sample(1))
	assert.Equal(t, sp.Labels[0], sub.Labels[2])
}

func TestGenerateIsDeterministic(t *testing.T) {
	a := Generate("train", DefaultSynthetic)
	b := Generate("train", DefaultSynthetic)
	c := Generate("validation", DefaultSynthetic)
	assert.Equal(t, a.Power.Data, b.Power.Data)
	assert.NotEqual(t, a.Power.Data, c.Power.Data)
}
