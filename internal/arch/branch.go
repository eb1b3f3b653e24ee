package arch

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Spec fully determines a branch.
type Spec struct {
	Kind       Kind
	NumClasses int
	// InputShape is channels-last: (H, W, C) for grids, (F) for coordinates.
	InputShape []int
	Chain      Chain
	Strategy   Strategy
	BatchSize  int
	// Training adds dropout layers.
	Training bool
	// Prefix namespaces parameter names. Defaults to the kind name.
	Prefix string
}

// Branch is one built modality sub-graph.
type Branch struct {
	Spec       Spec
	Input      *gorgonia.Node
	Output     *gorgonia.Node
	Activation Activation
	Layers     []LayerInfo

	learnables gorgonia.Nodes
}

// Learnables returns the parameters in construction order. Two branches
// built from the same Spec list matching parameters at matching positions.
func (b *Branch) Learnables() gorgonia.Nodes {
	return b.learnables
}

// OutputShape is the shape of Output including the batch axis.
func (b *Branch) OutputShape() tensor.Shape {
	return b.Output.Shape().Clone()
}

// ParamCount is the number of trainable scalars.
func (b *Branch) ParamCount() int {
	n := 0
	for _, p := range b.learnables {
		n += p.Shape().TotalSize()
	}
	return n
}

// Summary renders a layer table.
func (b *Branch) Summary() string {
	return summarize(b.Spec.Prefix, b.Input, b.Layers, b.ParamCount())
}

func summarize(title string, input *gorgonia.Node, layers []LayerInfo, total int) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Model: %q\n", title)
	fmt.Fprintf(&sb, "%-36s %-20s %12s\n", "Layer", "Output Shape", "Param #")
	fmt.Fprintf(&sb, "%-36s %-20v %12s\n", input.Name(), input.Shape(), "0")
	for _, l := range layers {
		fmt.Fprintf(&sb, "%-36s %-20v %12s\n", l.Name, l.Shape, humanize.Comma(int64(l.Params)))
	}
	fmt.Fprintf(&sb, "Total params: %s\n", humanize.Comma(int64(total)))
	return sb.String()
}

func (s *Spec) validate() error {
	if _, ok := kindNames[s.Kind]; !ok {
		return errors.Wrapf(ErrUnknownArchitecture, "kind %d", s.Kind)
	}
	if s.Strategy != OneHot && s.Strategy != Reg {
		return errors.Wrapf(ErrUnknownStrategy, "strategy %d", s.Strategy)
	}
	if s.Chain != Complete && s.Chain != Segment {
		return errors.Wrapf(ErrUnknownChain, "chain %d", s.Chain)
	}
	if s.NumClasses < 1 {
		return errors.Errorf("%s: num classes must be positive, got %d", s.Kind, s.NumClasses)
	}
	if s.BatchSize < 1 {
		return errors.Errorf("%s: batch size must be positive, got %d", s.Kind, s.BatchSize)
	}
	want := 3
	if s.Kind == CoordMLP {
		want = 1
	}
	if len(s.InputShape) != want {
		return errors.Errorf("%s: input shape %v must have %d dims", s.Kind, s.InputShape, want)
	}
	for _, d := range s.InputShape {
		if d < 1 {
			return errors.Errorf("%s: input shape %v has a non-positive dim", s.Kind, s.InputShape)
		}
	}
	if s.Prefix == "" {
		s.Prefix = s.Kind.String()
	}
	return nil
}

// Build adds the branch described by spec to g.
func Build(g *gorgonia.ExprGraph, spec Spec) (*Branch, error) {
	if err := spec.validate(); err != nil {
		return nil, err
	}

	var input *gorgonia.Node
	if spec.Kind == CoordMLP {
		input = gorgonia.NewMatrix(g, Dtype,
			gorgonia.WithShape(spec.BatchSize, spec.InputShape[0]),
			gorgonia.WithName(spec.Prefix+"/input"))
	} else {
		h, w, c := spec.InputShape[0], spec.InputShape[1], spec.InputShape[2]
		input = gorgonia.NewTensor(g, Dtype, 4,
			gorgonia.WithShape(spec.BatchSize, c, h, w),
			gorgonia.WithName(spec.Prefix+"/input"))
	}

	b := newBuilder(g, spec.Prefix, spec.Training)
	var features *gorgonia.Node
	switch spec.Kind {
	case InceptionSingle:
		features = inceptionFeatures(b, input)
	case LightImage:
		features = lightImageFeatures(b, input)
	case CoordMLP:
		features = coordFeatures(b, input)
	case LidarMarcus:
		features = lidarFeatures(b, input)
	}

	branch := &Branch{Spec: spec, Input: input, Output: features, Activation: ReLU}
	if spec.Chain == Complete {
		branch.Output, branch.Activation = head(b, spec, features)
	}
	if b.err != nil {
		return nil, errors.Wrapf(b.err, "building %s", spec.Kind)
	}
	branch.Layers = b.layers
	branch.learnables = b.params
	return branch, nil
}
