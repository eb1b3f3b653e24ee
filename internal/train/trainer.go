// Package train fits composed models and reports per-epoch history.
package train

import (
	"math/rand"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gorgonia.org/gorgonia"

	"beamfusion/internal/arch"
	"beamfusion/internal/config"
	"beamfusion/internal/dataset"
	"beamfusion/internal/fusion"
)

// Options configure a Trainer.
type Options struct {
	Modalities   config.Modalities
	InputShapes  map[config.Modality][]int
	NumClasses   int
	Strategy     arch.Strategy
	ImageKind    arch.Kind
	Loss         fusion.Loss
	LearningRate float64
	TopK         int
	BatchSize    int
	Epochs       int
	Seed         int64
	Progress     bool
}

// Trainer owns a training graph (with dropout and gradients) and an
// evaluation graph of the same model. Weights live in the training graph
// and are copied to the evaluation graph before every evaluation.
type Trainer struct {
	opts   Options
	logger *zap.SugaredLogger
	rng    *rand.Rand

	train   *fusion.Compiled
	trainVM gorgonia.VM
	eval    *fusion.Compiled
	evalVM  gorgonia.VM
}

// New builds both graphs. batch is the fixed batch size of the graphs.
func New(opts Options, logger *zap.SugaredLogger) (*Trainer, error) {
	if opts.BatchSize < 1 {
		return nil, errors.Errorf("batch size must be positive, got %d", opts.BatchSize)
	}
	t := &Trainer{opts: opts, logger: logger, rng: rand.New(rand.NewSource(opts.Seed))}

	var err error
	if t.train, err = t.compile(true); err != nil {
		return nil, errors.Wrap(err, "training graph")
	}
	if t.eval, err = t.compile(false); err != nil {
		return nil, errors.Wrap(err, "evaluation graph")
	}
	t.trainVM = gorgonia.NewTapeMachine(t.train.Model.Output.Graph(),
		gorgonia.BindDualValues(t.train.Model.Learnables()...))
	t.evalVM = gorgonia.NewTapeMachine(t.eval.Model.Output.Graph())
	return t, nil
}

func (t *Trainer) compile(training bool) (*fusion.Compiled, error) {
	g := gorgonia.NewGraph()
	m, err := fusion.Build(g, t.opts.Modalities, fusion.Options{
		NumClasses:  t.opts.NumClasses,
		InputShapes: t.opts.InputShapes,
		Strategy:    t.opts.Strategy,
		ImageKind:   t.opts.ImageKind,
		BatchSize:   t.opts.BatchSize,
		Training:    training,
	})
	if err != nil {
		return nil, err
	}
	return fusion.Compile(g, m, fusion.CompileOptions{
		Loss:          t.opts.Loss,
		LearningRate:  t.opts.LearningRate,
		TopK:          t.opts.TopK,
		Differentiate: training,
	})
}

// Close releases both machines.
func (t *Trainer) Close() error {
	err := t.trainVM.Close()
	if eerr := t.evalVM.Close(); err == nil {
		err = eerr
	}
	return err
}

// Model is the training-graph model.
func (t *Trainer) Model() *fusion.Model {
	return t.train.Model
}

func (t *Trainer) metricNames() []string {
	names := make([]string, len(t.train.Metrics))
	for i, m := range t.train.Metrics {
		names[i] = m.Name
	}
	return names
}

// Fit trains for the configured number of epochs. Each epoch visits the
// training samples in a fresh random order in full batches; a trailing
// partial batch is left out of that epoch.
func (t *Trainer) Fit(train, validation *dataset.Split) (*History, error) {
	bs := t.opts.BatchSize
	if train.Len() < bs {
		return nil, errors.Errorf("%d training samples are fewer than one batch of %d", train.Len(), bs)
	}
	if err := t.checkSplit(train); err != nil {
		return nil, errors.Wrap(err, "train split")
	}
	if validation != nil {
		if err := t.checkSplit(validation); err != nil {
			return nil, errors.Wrap(err, "validation split")
		}
	}

	learnables := t.train.Model.Learnables()
	cols := t.opts.NumClasses
	batches := train.Len() / bs
	history := &History{}

	for epoch := 1; epoch <= t.opts.Epochs; epoch++ {
		start := time.Now()
		perm := t.rng.Perm(train.Len())
		tl := newTally(t.metricNames())

		err := forEach(batches, "epoch", t.opts.Progress, func(b int) error {
			target, err := feed(t.train, train, perm[b*bs:(b+1)*bs])
			if err != nil {
				return err
			}
			if err := t.trainVM.RunAll(); err != nil {
				return errors.Wrap(err, "forward/backward pass")
			}
			if err := t.train.Solver.Step(gorgonia.NodesToValueGrads(learnables)); err != nil {
				return errors.Wrap(err, "optimizer step")
			}
			loss, err := t.train.LossValue()
			if err != nil {
				return err
			}
			preds, err := t.train.Predictions()
			if err != nil {
				return err
			}
			tl.rows += bs
			tl.loss += loss * float64(bs)
			for _, m := range t.train.Metrics {
				tl.hits[m.Name] += m.Hits(preds, target, bs, cols)
			}
			t.trainVM.Reset()
			return nil
		})
		if err != nil {
			return history, errors.Wrapf(err, "epoch %d", epoch)
		}

		e := Epoch{Epoch: epoch, Train: tl.scores()}
		if validation != nil {
			if e.Validation, err = t.Evaluate(validation); err != nil {
				return history, errors.Wrapf(err, "epoch %d validation", epoch)
			}
		}
		e.Duration = time.Since(start)
		history.Epochs = append(history.Epochs, e)

		t.logger.Infow("epoch done",
			"epoch", epoch,
			"epochs", t.opts.Epochs,
			"loss", e.Train.Loss,
			"categorical_accuracy", e.Train.Metrics["categorical_accuracy"],
			"val_loss", e.Validation.Loss,
			"val_categorical_accuracy", e.Validation.Metrics["categorical_accuracy"],
			"val_top_10_accuracy", e.Validation.Metrics["top_10_accuracy"],
			"duration", e.Duration)
	}
	return history, nil
}

// Evaluate scores split with the current weights and no dropout.
func (t *Trainer) Evaluate(split *dataset.Split) (Scores, error) {
	w, err := Snapshot(t.train.Model.Learnables())
	if err != nil {
		return Scores{}, err
	}
	if err := w.Restore(t.eval.Model.Learnables()); err != nil {
		return Scores{}, err
	}

	bs := t.opts.BatchSize
	cols := t.opts.NumClasses
	tl := newTally(t.metricNames())
	batches := (split.Len() + bs - 1) / bs
	for b := 0; b < batches; b++ {
		end := (b + 1) * bs
		if end > split.Len() {
			end = split.Len()
		}
		idx := make([]int, 0, bs)
		for i := b * bs; i < end; i++ {
			idx = append(idx, i)
		}
		target, err := feed(t.eval, split, idx)
		if err != nil {
			return Scores{}, err
		}
		if err := t.evalVM.RunAll(); err != nil {
			return Scores{}, errors.Wrap(err, "forward pass")
		}
		preds, err := t.eval.Predictions()
		if err != nil {
			return Scores{}, err
		}
		rows := len(idx)
		tl.rows += rows
		tl.loss += t.opts.Loss.RowSum(preds, target, rows, cols)
		for _, m := range t.eval.Metrics {
			tl.hits[m.Name] += m.Hits(preds, target, rows, cols)
		}
		t.evalVM.Reset()
	}
	return tl.scores(), nil
}

func (t *Trainer) checkSplit(s *dataset.Split) error {
	if s.NumClasses != t.opts.NumClasses {
		return errors.Wrapf(dataset.ErrShapeMismatch, "split has %d classes, model %d", s.NumClasses, t.opts.NumClasses)
	}
	for _, mod := range t.opts.Modalities.List() {
		f, ok := s.Inputs[mod]
		if !ok {
			return errors.Errorf("split has no %s input", mod)
		}
		want := t.opts.InputShapes[mod]
		if len(want) != len(f.Shape) {
			return errors.Wrapf(dataset.ErrShapeMismatch, "%s: sample shape %v, model expects %v", mod, f.Shape, want)
		}
		for i := range want {
			if want[i] != f.Shape[i] {
				return errors.Wrapf(dataset.ErrShapeMismatch, "%s: sample shape %v, model expects %v", mod, f.Shape, want)
			}
		}
	}
	return nil
}
