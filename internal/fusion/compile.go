package fusion

import (
	"math"

	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"beamfusion/internal/arch"
)

// Loss selects the training objective.
type Loss int

const (
	CategoricalCrossentropy Loss = iota
	MeanSquaredError
)

var ErrUnknownLoss = errors.New("unknown loss")

func (l Loss) String() string {
	switch l {
	case CategoricalCrossentropy:
		return "categorical_crossentropy"
	case MeanSquaredError:
		return "mse"
	}
	return "loss(?)"
}

// ParseLoss maps a loss name to a Loss.
func ParseLoss(s string) (Loss, error) {
	switch s {
	case "categorical_crossentropy":
		return CategoricalCrossentropy, nil
	case "mse":
		return MeanSquaredError, nil
	}
	return 0, errors.Wrapf(ErrUnknownLoss, "%q", s)
}

// crossEntropyEpsilon matches the clipping constant of the reference framework.
const crossEntropyEpsilon = 1e-7

// CompileOptions configure Compile.
type CompileOptions struct {
	Loss         Loss
	LearningRate float64
	TopK         int
	// Differentiate adds gradient nodes for the learnables. Evaluation graphs
	// leave it off.
	Differentiate bool
}

// Compiled is a model with its target placeholder, loss and metrics.
type Compiled struct {
	Model   *Model
	Target  *gorgonia.Node
	Loss    *gorgonia.Node
	Metrics []Metric
	// Solver is nil unless the graph was differentiated.
	Solver gorgonia.Solver

	lossVal gorgonia.Value
	predVal gorgonia.Value
}

// Compile adds the loss over a (batch, classes) target and, for training
// graphs, the gradients and an Adam solver.
func Compile(g *gorgonia.ExprGraph, m *Model, opts CompileOptions) (*Compiled, error) {
	if opts.TopK < 1 {
		return nil, errors.Errorf("top k must be positive, got %d", opts.TopK)
	}
	c := &Compiled{
		Model:   m,
		Metrics: DefaultMetrics(opts.TopK),
		Target: gorgonia.NewMatrix(g, arch.Dtype,
			gorgonia.WithShape(m.BatchSize(), m.NumClasses),
			gorgonia.WithName("target")),
	}

	var err error
	switch opts.Loss {
	case CategoricalCrossentropy:
		c.Loss, err = crossEntropy(m.Output, c.Target)
	case MeanSquaredError:
		c.Loss, err = meanSquared(m.Output, c.Target)
	default:
		err = errors.Wrapf(ErrUnknownLoss, "%d", opts.Loss)
	}
	if err != nil {
		return nil, errors.Wrap(err, "building loss")
	}
	gorgonia.Read(c.Loss, &c.lossVal)
	gorgonia.Read(m.Output, &c.predVal)

	if opts.Differentiate {
		if opts.LearningRate <= 0 {
			return nil, errors.Errorf("learning rate must be positive, got %v", opts.LearningRate)
		}
		if _, err := gorgonia.Grad(c.Loss, m.Learnables()...); err != nil {
			return nil, errors.Wrap(err, "differentiating loss")
		}
		c.Solver = gorgonia.NewAdamSolver(gorgonia.WithLearnRate(opts.LearningRate))
	}
	return c, nil
}

// LossValue is the loss of the last run.
func (c *Compiled) LossValue() (float64, error) {
	if c.lossVal == nil {
		return 0, errors.New("graph has not been run")
	}
	v, ok := c.lossVal.Data().(float32)
	if !ok {
		return 0, errors.Errorf("unexpected loss value %T", c.lossVal.Data())
	}
	return float64(v), nil
}

// Predictions are the (batch*classes) outputs of the last run.
func (c *Compiled) Predictions() ([]float32, error) {
	if c.predVal == nil {
		return nil, errors.New("graph has not been run")
	}
	v, ok := c.predVal.Data().([]float32)
	if !ok {
		return nil, errors.Errorf("unexpected prediction value %T", c.predVal.Data())
	}
	return v, nil
}

// crossEntropy renormalizes predictions over classes, clips them to
// [eps, 1-eps], then takes the mean over the batch of -sum(y * log(p)).
// Clipping keeps linear heads, whose outputs can be negative, finite.
func crossEntropy(pred, y *gorgonia.Node) (*gorgonia.Node, error) {
	g := pred.Graph()
	eps := gorgonia.NodeFromAny(g, float32(crossEntropyEpsilon), gorgonia.WithName("eps"))
	ceil := gorgonia.NodeFromAny(g, float32(1-crossEntropyEpsilon), gorgonia.WithName("one_minus_eps"))

	total, err := gorgonia.Sum(pred, 1)
	if err != nil {
		return nil, err
	}
	if total, err = gorgonia.Add(total, eps); err != nil {
		return nil, err
	}
	if total, err = gorgonia.Reshape(total, tensor.Shape{pred.Shape()[0], 1}); err != nil {
		return nil, err
	}
	probs, err := gorgonia.BroadcastHadamardDiv(pred, total, nil, []byte{1})
	if err != nil {
		return nil, err
	}
	if probs, err = clip(probs, eps, ceil); err != nil {
		return nil, err
	}

	logP, err := gorgonia.Log(probs)
	if err != nil {
		return nil, err
	}
	mul, err := gorgonia.HadamardProd(y, logP)
	if err != nil {
		return nil, err
	}
	sum, err := gorgonia.Sum(mul, 1)
	if err != nil {
		return nil, err
	}
	mean, err := gorgonia.Mean(sum)
	if err != nil {
		return nil, err
	}
	return gorgonia.Neg(mean)
}

// clip bounds x to [lo, hi] as max(x, lo) = relu(x-lo)+lo followed by
// min(x, hi) = x-relu(x-hi). Gradients are zero where a bound applies.
func clip(x, lo, hi *gorgonia.Node) (*gorgonia.Node, error) {
	d, err := gorgonia.Sub(x, lo)
	if err != nil {
		return nil, err
	}
	if d, err = gorgonia.Rectify(d); err != nil {
		return nil, err
	}
	if x, err = gorgonia.Add(d, lo); err != nil {
		return nil, err
	}
	if d, err = gorgonia.Sub(x, hi); err != nil {
		return nil, err
	}
	if d, err = gorgonia.Rectify(d); err != nil {
		return nil, err
	}
	return gorgonia.Sub(x, d)
}

func meanSquared(pred, y *gorgonia.Node) (*gorgonia.Node, error) {
	diff, err := gorgonia.Sub(pred, y)
	if err != nil {
		return nil, err
	}
	sq, err := gorgonia.Square(diff)
	if err != nil {
		return nil, err
	}
	return gorgonia.Mean(sq)
}

// RowSum evaluates the loss on host values and returns its sum over the
// first rows rows, so padded batches can be averaged exactly.
func (l Loss) RowSum(pred, truth []float32, rows, cols int) float64 {
	total := 0.0
	for r := 0; r < rows; r++ {
		p := pred[r*cols : (r+1)*cols]
		y := truth[r*cols : (r+1)*cols]
		switch l {
		case CategoricalCrossentropy:
			sum := crossEntropyEpsilon
			for _, v := range p {
				sum += float64(v)
			}
			for i, v := range p {
				q := math.Min(math.Max(float64(v)/sum, crossEntropyEpsilon), 1-crossEntropyEpsilon)
				total -= float64(y[i]) * math.Log(q)
			}
		case MeanSquaredError:
			for i, v := range p {
				d := float64(v) - float64(y[i])
				total += d * d / float64(cols)
			}
		}
	}
	return total
}
