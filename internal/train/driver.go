package train

import (
	"math"
	"math/rand"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"beamfusion/internal/arch"
	"beamfusion/internal/config"
	"beamfusion/internal/dataset"
	"beamfusion/internal/fusion"
	"beamfusion/internal/labels"
)

// Run loads the data described by cfg, trains the fused model and, when
// asked, plots the history.
func Run(cfg config.Config, logger *zap.SugaredLogger) (*History, error) {
	mods, err := cfg.Validate()
	if err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}
	strategy, err := arch.ParseStrategy(cfg.Strategy)
	if err != nil {
		return nil, err
	}
	loss, err := fusion.ParseLoss(cfg.Loss)
	if err != nil {
		return nil, err
	}
	imageKind, err := arch.ParseKind(cfg.ImageModel)
	if err != nil {
		return nil, err
	}

	train, val, err := loadSplits(cfg, mods, logger)
	if err != nil {
		return nil, err
	}
	logger.Infow("dataset ready",
		"inputs", mods.Strings(),
		"fused", mods.Multimodal(),
		"train", train.Len(),
		"validation", val.Len(),
		"classes", train.NumClasses)

	if sum, err := labels.Summarize(train.Labels); err == nil {
		logger.Infow("best beam spread",
			"samples", sum.Samples,
			"classes_seen", sum.Classes,
			"min", sum.Min,
			"max", sum.Max,
			"mean", sum.Mean,
			"median", sum.Median)
	}
	if cfg.CustomLabel && hasInf(train.Labels) {
		logger.Warnw("custom labels contain -Inf entries; cross-entropy will not be finite")
	}
	if cfg.Balance {
		idx := labels.BalanceIndices(labels.BestBeams(train.Labels), rand.New(rand.NewSource(cfg.Seed)))
		logger.Infow("balanced training split", "before", train.Len(), "after", len(idx))
		train = train.Select(idx)
	}

	shapes := make(map[config.Modality][]int, mods.Len())
	for _, m := range mods.List() {
		shapes[m] = train.Inputs[m].Shape
	}
	batch := cfg.BatchSize
	if train.Len() < batch {
		logger.Warnw("batch size larger than training split", "batch_size", batch, "samples", train.Len())
		batch = train.Len()
	}

	t, err := New(Options{
		Modalities:   mods,
		InputShapes:  shapes,
		NumClasses:   train.NumClasses,
		Strategy:     strategy,
		ImageKind:    imageKind,
		Loss:         loss,
		LearningRate: cfg.LearningRate,
		TopK:         cfg.TopK,
		BatchSize:    batch,
		Epochs:       cfg.Epochs,
		Seed:         cfg.Seed,
		Progress:     cfg.Progress,
	}, logger)
	if err != nil {
		return nil, err
	}
	defer t.Close()
	logger.Infof("model:\n%s", t.Model().Summary())

	history, err := t.Fit(train, val)
	if err != nil {
		return history, err
	}
	if cfg.Plots {
		if err := PlotHistory(history, cfg.PlotDir); err != nil {
			return history, err
		}
		logger.Infow("wrote plots", "dir", cfg.PlotDir)
	}
	return history, nil
}

func loadSplits(cfg config.Config, mods config.Modalities, logger *zap.SugaredLogger) (*dataset.Split, *dataset.Split, error) {
	mode := labels.ThresholdedNormalized
	if cfg.CustomLabel {
		mode = labels.RawLog
	}
	if cfg.Synthetic {
		logger.Infow("using synthetic data", "samples", dataset.DefaultSynthetic.Samples)
		train, err := dataset.Generate("train", dataset.DefaultSynthetic).Split(mods, mode, cfg.ThresholdBelowMax)
		if err != nil {
			return nil, nil, errors.Wrap(err, "synthetic train split")
		}
		val, err := dataset.Generate("validation", dataset.DefaultSynthetic).Split(mods, mode, cfg.ThresholdBelowMax)
		if err != nil {
			return nil, nil, errors.Wrap(err, "synthetic validation split")
		}
		return train, val, nil
	}
	return dataset.Load(dataset.Options{
		Folder:            cfg.DataFolder,
		Modalities:        mods,
		ImageResizeFactor: cfg.ImageResizeFactor,
		ThresholdBelowMax: cfg.ThresholdBelowMax,
		CustomLabel:       cfg.CustomLabel,
	}, logger)
}

func hasInf(y [][]float64) bool {
	for _, row := range y {
		for _, v := range row {
			if math.IsInf(v, 0) {
				return true
			}
		}
	}
	return false
}
