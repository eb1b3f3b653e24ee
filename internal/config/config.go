package config

import (
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	"github.com/pkg/errors"
)

// EnvPrefix scopes environment overrides, e.g. BEAM_EPOCHS=10 or BEAM_LOG__LEVEL=debug.
const EnvPrefix = "BEAM_"

// Config is the full set of run settings. Field tags are the keys used in
// YAML files and, upper-cased, after the BEAM_ prefix in the environment.
type Config struct {
	DataFolder        string   `koanf:"data_folder"`
	Inputs            []string `koanf:"inputs"`
	Epochs            int      `koanf:"epochs"`
	LearningRate      float64  `koanf:"lr"`
	BatchSize         int      `koanf:"batch_size"`
	ThresholdBelowMax float64  `koanf:"threshold_below_max"`
	CustomLabel       bool     `koanf:"custom_label"`
	Strategy          string   `koanf:"strategy"`
	ImageModel        string   `koanf:"image_model"`
	Loss              string   `koanf:"loss"`
	TopK              int      `koanf:"top_k"`
	ImageResizeFactor int      `koanf:"image_resize_factor"`
	Balance           bool     `koanf:"balance"`
	Seed              int64    `koanf:"seed"`
	Synthetic         bool     `koanf:"synthetic"`
	Progress          bool     `koanf:"progress"`
	Plots             bool     `koanf:"plots"`
	PlotDir           string   `koanf:"plot_dir"`

	Log LogConfig `koanf:"log"`
}

// LogConfig selects the zap level and the console or json encoder.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// Default mirrors the settings the reference experiments were run with.
func Default() Config {
	return Config{
		Inputs:            []string{"coord"},
		Epochs:            1,
		LearningRate:      0.001,
		BatchSize:         32,
		ThresholdBelowMax: 6,
		Strategy:          "one_hot",
		ImageModel:        "light_image",
		Loss:              "categorical_crossentropy",
		TopK:              5,
		ImageResizeFactor: 20,
		Seed:              1,
		Progress:          true,
		PlotDir:           ".",
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load layers defaults, an optional YAML provider and BEAM_ environment
// variables, in that order.
func Load(provider koanf.Provider) (Config, error) {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return Config{}, errors.Wrap(err, "loading defaults")
	}
	if provider != nil {
		if err := k.Load(provider, yaml.Parser()); err != nil {
			return Config{}, errors.Wrap(err, "loading config file")
		}
	}
	err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, EnvPrefix)), "__", ".", -1)
	}), nil)
	if err != nil {
		return Config{}, errors.Wrap(err, "loading env")
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, errors.Wrap(err, "unmarshalling config")
	}
	return cfg, nil
}

// LoadFile is Load with a file provider, or defaults+env when path is empty.
func LoadFile(path string) (Config, error) {
	if path == "" {
		return Load(nil)
	}
	return Load(file.Provider(path))
}

// Validate checks the fields that do not depend on the dataset and returns
// the parsed modality set.
func (c Config) Validate() (Modalities, error) {
	mods, err := ParseModalities(c.Inputs)
	if err != nil {
		return Modalities{}, err
	}
	switch {
	case c.DataFolder == "" && !c.Synthetic:
		return Modalities{}, errors.New("data folder is required")
	case c.Epochs < 1:
		return Modalities{}, errors.Errorf("epochs must be positive, got %d", c.Epochs)
	case c.LearningRate <= 0:
		return Modalities{}, errors.Errorf("learning rate must be positive, got %v", c.LearningRate)
	case c.BatchSize < 1:
		return Modalities{}, errors.Errorf("batch size must be positive, got %d", c.BatchSize)
	case c.ThresholdBelowMax <= 0:
		return Modalities{}, errors.Errorf("threshold must be positive, got %v", c.ThresholdBelowMax)
	case c.TopK < 1:
		return Modalities{}, errors.Errorf("top_k must be positive, got %d", c.TopK)
	}
	return mods, nil
}
