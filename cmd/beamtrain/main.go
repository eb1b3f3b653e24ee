package main

import (
	"log"
	"os"

	arg "github.com/alexflint/go-arg"

	"beamfusion/internal/config"
	"beamfusion/internal/logging"
	"beamfusion/internal/train"
)

type args struct {
	DataFolder  string   `arg:"positional" help:"location of the dataset"`
	Input       []string `arg:"--input" help:"which data to use: coord, img, lidar"`
	Plots       bool     `arg:"-p,--plots" help:"write loss and accuracy plots"`
	Epochs      *int     `arg:"--epochs" help:"number of training epochs"`
	LR          *float64 `arg:"--lr" help:"learning rate"`
	CustomLabel bool     `arg:"--custom_label" help:"train on raw log-power labels"`
	Strategy    string   `arg:"--strategy" help:"one_hot or reg"`
	ImageModel  string   `arg:"--image-model" help:"light_image or inception_single"`
	BatchSize   *int     `arg:"--batch-size" help:"samples per batch"`
	Threshold   *float64 `arg:"--threshold" help:"dB below the row maximum kept in labels"`
	Balance     bool     `arg:"--balance" help:"oversample rare best beams in the training split"`
	Synthetic   bool     `arg:"--synthetic" help:"train on generated data instead of data_folder"`
	Config      string   `arg:"--config,env:BEAM_CONFIG" help:"YAML config file"`
}

func (args) Description() string {
	return "trains a multimodal beam-selection model on coordinates, images and LIDAR"
}

func fail(err error) {
	if err != nil {
		log.Fatal(err)
	}
}

func main() {
	var a args
	arg.MustParse(&a)

	cfg, err := config.LoadFile(a.Config)
	fail(err)
	apply(&cfg, a)

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	fail(err)
	defer logger.Sync()

	if _, err := train.Run(cfg, logger.Sugar()); err != nil {
		logger.Sugar().Errorw("training failed", "error", err)
		logger.Sync()
		os.Exit(1)
	}
}

// apply overrides cfg with the flags that were set.
func apply(cfg *config.Config, a args) {
	if a.DataFolder != "" {
		cfg.DataFolder = a.DataFolder
	}
	if len(a.Input) > 0 {
		cfg.Inputs = a.Input
	}
	if a.Plots {
		cfg.Plots = true
	}
	if a.Epochs != nil {
		cfg.Epochs = *a.Epochs
	}
	if a.LR != nil {
		cfg.LearningRate = *a.LR
	}
	if a.CustomLabel {
		cfg.CustomLabel = true
	}
	if a.Strategy != "" {
		cfg.Strategy = a.Strategy
	}
	if a.ImageModel != "" {
		cfg.ImageModel = a.ImageModel
	}
	if a.BatchSize != nil {
		cfg.BatchSize = *a.BatchSize
	}
	if a.Threshold != nil {
		cfg.ThresholdBelowMax = *a.Threshold
	}
	if a.Balance {
		cfg.Balance = true
	}
	if a.Synthetic {
		cfg.Synthetic = true
	}
}
