package train

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"beamfusion/internal/arch"
	"beamfusion/internal/config"
	"beamfusion/internal/dataset"
	"beamfusion/internal/fusion"
	"beamfusion/internal/labels"
	"beamfusion/internal/logging"
)

func splits(t *testing.T, names ...string) (config.Modalities, *dataset.Split, *dataset.Split) {
	t.Helper()
	mods, err := config.ParseModalities(names)
	require.NoError(t, err)
	train, err := dataset.Generate("train", dataset.DefaultSynthetic).Split(mods, labels.ThresholdedNormalized, 6)
	require.NoError(t, err)
	val, err := dataset.Generate("validation", dataset.DefaultSynthetic).Split(mods, labels.ThresholdedNormalized, 6)
	require.NoError(t, err)
	return mods, train, val
}

func options(mods config.Modalities, sp *dataset.Split, batch, epochs int) Options {
	shapes := make(map[config.Modality][]int)
	for _, m := range mods.List() {
		shapes[m] = sp.Inputs[m].Shape
	}
	return Options{
		Modalities:   mods,
		InputShapes:  shapes,
		NumClasses:   sp.NumClasses,
		Strategy:     arch.OneHot,
		ImageKind:    arch.LightImage,
		Loss:         fusion.CategoricalCrossentropy,
		LearningRate: 0.01,
		TopK:         5,
		BatchSize:    batch,
		Epochs:       epochs,
		Seed:         7,
	}
}

func compileCoord(t *testing.T, batch int, training bool) *fusion.Compiled {
	t.Helper()
	mods, err := config.ParseModalities([]string{"coord"})
	require.NoError(t, err)
	g := gorgonia.NewGraph()
	m, err := fusion.Build(g, mods, fusion.Options{
		NumClasses:  8,
		InputShapes: map[config.Modality][]int{config.Coord: {2}},
		Strategy:    arch.OneHot,
		ImageKind:   arch.LightImage,
		BatchSize:   batch,
		Training:    training,
	})
	require.NoError(t, err)
	c, err := fusion.Compile(g, m, fusion.CompileOptions{
		Loss:          fusion.CategoricalCrossentropy,
		LearningRate:  0.001,
		TopK:          5,
		Differentiate: training,
	})
	require.NoError(t, err)
	return c
}

func TestWeightsRoundTrip(t *testing.T) {
	a := compileCoord(t, 4, true)
	b := compileCoord(t, 4, false)

	w, err := Snapshot(a.Model.Learnables())
	require.NoError(t, err)
	require.Len(t, w, len(a.Model.Learnables()))
	require.NoError(t, w.Restore(b.Model.Learnables()))

	for _, n := range b.Model.Learnables() {
		assert.Equal(t, w[n.Name()].Data(), n.Value().Data(), n.Name())
	}

	delete(w, a.Model.Learnables()[0].Name())
	assert.Error(t, w.Restore(b.Model.Learnables()))
}

func TestWeightsShapeMismatch(t *testing.T) {
	c := compileCoord(t, 4, false)
	n := c.Model.Learnables()[0]
	w := Weights{n.Name(): tensor.New(tensor.WithShape(1, 1), tensor.WithBacking([]float32{1}))}
	assert.Error(t, w.Restore(gorgonia.Nodes{n}))
}

func TestFeedPadsShortBatch(t *testing.T) {
	_, sp, _ := splits(t, "coord")
	c := compileCoord(t, 4, false)

	target, err := feed(c, sp, []int{0, 2})
	require.NoError(t, err)
	require.Len(t, target, 4*8)
	for j := 0; j < 8; j++ {
		assert.Equal(t, float32(sp.Labels[2][j]), target[8+j])
		assert.Zero(t, target[16+j])
		assert.Zero(t, target[24+j])
	}

	in := c.Model.Input(config.Coord).Value().Data().([]float32)
	assert.Equal(t, sp.Inputs[config.Coord].Sample(0), in[0:2])
	assert.Equal(t, sp.Inputs[config.Coord].Sample(2), in[2:4])
	assert.Equal(t, []float32{0, 0, 0, 0}, in[4:])

	_, err = feed(c, sp, []int{0, 1, 2, 3, 4})
	assert.Error(t, err)
}

func TestFitCoord(t *testing.T) {
	mods, train, val := splits(t, "coord")
	tr, err := New(options(mods, train, 8, 3), logging.Nop())
	require.NoError(t, err)
	defer tr.Close()

	h, err := tr.Fit(train, val)
	require.NoError(t, err)
	require.Len(t, h.Epochs, 3)
	for i, e := range h.Epochs {
		assert.Equal(t, i+1, e.Epoch)
		assert.False(t, math.IsNaN(e.Train.Loss) || math.IsInf(e.Train.Loss, 0))
		assert.False(t, math.IsNaN(e.Validation.Loss) || math.IsInf(e.Validation.Loss, 0))
		for _, name := range []string{"categorical_accuracy", "top_k_categorical_accuracy", "top_10_accuracy", "top_50_accuracy"} {
			v, ok := e.Validation.Metrics[name]
			require.True(t, ok, name)
			assert.True(t, v >= 0 && v <= 1, name)
		}
		// 8 classes, so top-10 always hits
		assert.Equal(t, 1.0, e.Validation.Metrics["top_10_accuracy"])
	}
	assert.Len(t, h.Series("loss", true), 3)
}

func TestEvaluatePadsTail(t *testing.T) {
	mods, train, val := splits(t, "coord")
	tr, err := New(options(mods, train, 5, 1), logging.Nop())
	require.NoError(t, err)
	defer tr.Close()

	// 24 samples in batches of 5 leaves a tail of 4
	s, err := tr.Evaluate(val)
	require.NoError(t, err)
	assert.False(t, math.IsNaN(s.Loss))
	assert.Greater(t, s.Loss, 0.0)

	sub := val.Select([]int{0, 1, 2})
	s3, err := tr.Evaluate(sub)
	require.NoError(t, err)
	assert.False(t, math.IsNaN(s3.Loss))
}

func TestFitFusedCoordImage(t *testing.T) {
	mods, train, val := splits(t, "img", "coord")
	tr, err := New(options(mods, train, 12, 1), logging.Nop())
	require.NoError(t, err)
	defer tr.Close()
	require.Equal(t, []config.Modality{config.Coord, config.Image}, tr.Model().Modalities)

	h, err := tr.Fit(train, val)
	require.NoError(t, err)
	require.Len(t, h.Epochs, 1)
	assert.False(t, math.IsNaN(h.Epochs[0].Train.Loss))
}

func TestFitRejects(t *testing.T) {
	mods, train, val := splits(t, "coord")
	tr, err := New(options(mods, train, 8, 1), logging.Nop())
	require.NoError(t, err)
	defer tr.Close()

	_, err = tr.Fit(train.Select([]int{0, 1}), val)
	assert.Error(t, err)

	other := *val
	other.NumClasses = 3
	_, err = tr.Fit(train, &other)
	assert.True(t, errors.Is(err, dataset.ErrShapeMismatch))

	_, err = New(Options{BatchSize: 0}, logging.Nop())
	assert.Error(t, err)
}

func TestForEachStopsOnError(t *testing.T) {
	boom := errors.New("boom")
	var seen []int
	err := forEach(5, "test", false, func(i int) error {
		seen = append(seen, i)
		if i == 2 {
			return boom
		}
		return nil
	})
	assert.Equal(t, boom, err)
	assert.Equal(t, []int{0, 1, 2}, seen)
}

func TestPlotHistory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "plots")
	h := &History{Epochs: []Epoch{
		{Epoch: 1, Train: Scores{Loss: 2, Metrics: map[string]float64{"categorical_accuracy": 0.1}},
			Validation: Scores{Loss: 2.1, Metrics: map[string]float64{"categorical_accuracy": 0.1}}},
	}}
	require.NoError(t, PlotHistory(h, dir))
	for _, name := range []string{"loss.png", "accuracy.png"} {
		fi, err := os.Stat(filepath.Join(dir, name))
		require.NoError(t, err)
		assert.NotZero(t, fi.Size())
	}

	assert.Error(t, PlotHistory(&History{}, dir))
}

func TestRunSynthetic(t *testing.T) {
	cfg := config.Default()
	cfg.Synthetic = true
	cfg.Inputs = []string{"coord", "lidar"}
	cfg.Epochs = 2
	cfg.BatchSize = 64
	cfg.Progress = false
	cfg.Balance = true
	cfg.Plots = true
	cfg.PlotDir = t.TempDir()

	h, err := Run(cfg, logging.Nop())
	require.NoError(t, err)
	require.Len(t, h.Epochs, 2)
	_, err = os.Stat(filepath.Join(cfg.PlotDir, "loss.png"))
	assert.NoError(t, err)
}

func TestRunRejects(t *testing.T) {
	cfg := config.Default()
	cfg.Synthetic = true
	cfg.Progress = false

	bad := cfg
	bad.Inputs = []string{"radar"}
	_, err := Run(bad, logging.Nop())
	assert.True(t, errors.Is(err, config.ErrUnknownModality))

	bad = cfg
	bad.Inputs = []string{"img"}
	bad.ImageModel = "coord_mlp"
	_, err = Run(bad, logging.Nop())
	assert.True(t, errors.Is(err, arch.ErrUnknownArchitecture))

	bad = cfg
	bad.Strategy = "ranking"
	_, err = Run(bad, logging.Nop())
	assert.True(t, errors.Is(err, arch.ErrUnknownStrategy))

	bad = cfg
	bad.Synthetic = false
	_, err = Run(bad, logging.Nop())
	assert.Error(t, err)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func TestRunRegStrategy(t *testing.T) {
	cfg := config.Default()
	cfg.Synthetic = true
	cfg.Progress = false
	cfg.Strategy = "reg"
	cfg.Epochs = 3
	cfg.BatchSize = 8

	h, err := Run(cfg, logging.Nop())
	require.NoError(t, err)
	require.Len(t, h.Epochs, 3)
	for _, e := range h.Epochs {
		assert.True(t, finite(e.Train.Loss), "epoch %d train loss %v", e.Epoch, e.Train.Loss)
		assert.True(t, finite(e.Validation.Loss), "epoch %d validation loss %v", e.Epoch, e.Validation.Loss)
	}
}

func TestRunInceptionImage(t *testing.T) {
	cfg := config.Default()
	cfg.Synthetic = true
	cfg.Progress = false
	cfg.Inputs = []string{"img"}
	cfg.ImageModel = "inception_single"
	cfg.BatchSize = 12

	h, err := Run(cfg, logging.Nop())
	require.NoError(t, err)
	require.Len(t, h.Epochs, 1)
	assert.True(t, finite(h.Epochs[0].Train.Loss))
	assert.True(t, finite(h.Epochs[0].Validation.Loss))
}

func TestRunCustomLabelWarnsOnInf(t *testing.T) {
	dir := t.TempDir()
	for _, split := range []string{"train", "validation"} {
		raw := dataset.Generate(split, dataset.DefaultSynthetic)
		// zero power becomes -Inf dB
		raw.Power.Data[0] = 0
		require.NoError(t, raw.WriteFolder(dir, split, 20))
	}

	cfg := config.Default()
	cfg.DataFolder = dir
	cfg.CustomLabel = true
	cfg.Progress = false
	cfg.BatchSize = 8

	core, logs := observer.New(zap.WarnLevel)
	h, err := Run(cfg, zap.New(core).Sugar())
	require.NoError(t, err)
	require.Len(t, h.Epochs, 1)
	assert.Equal(t, 1, logs.FilterMessageSnippet("-Inf").Len())
}

func TestForEachWithProgress(t *testing.T) {
	var seen []int
	err := forEach(4, "test", true, func(i int) error {
		seen = append(seen, i)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 3}, seen)

	boom := errors.New("boom")
	seen = nil
	err = forEach(4, "test", true, func(i int) error {
		seen = append(seen, i)
		if i == 1 {
			return boom
		}
		return nil
	})
	assert.Equal(t, boom, err)
	assert.Equal(t, []int{0, 1}, seen)
}
