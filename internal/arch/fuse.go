package arch

import (
	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
)

// FusionPrefix names the parameters of the fusion layer.
const FusionPrefix = "fusion"

// Fused is the projection joining several branch outputs.
type Fused struct {
	Output     *gorgonia.Node
	Layers     []LayerInfo
	Learnables gorgonia.Nodes
}

// Fuse concatenates 2D branch outputs along the feature axis and projects
// them to numClasses units with ReLU.
func Fuse(g *gorgonia.ExprGraph, branches []*Branch, numClasses int) (*Fused, error) {
	if len(branches) < 2 {
		return nil, errors.Errorf("fusing needs at least 2 branches, got %d", len(branches))
	}
	outs := make([]*gorgonia.Node, len(branches))
	for i, br := range branches {
		if br.Output.Dims() != 2 {
			return nil, errors.Errorf("branch %s output %v is not (batch, features)", br.Spec.Prefix, br.Output.Shape())
		}
		if i > 0 && br.Output.Shape()[0] != outs[0].Shape()[0] {
			return nil, errors.Errorf("branch %s batch %d differs from %d", br.Spec.Prefix, br.Output.Shape()[0], outs[0].Shape()[0])
		}
		outs[i] = br.Output
	}

	b := newBuilder(g, FusionPrefix, false)
	out := b.dense(b.concat(1, outs...), numClasses, ReLU)
	if b.err != nil {
		return nil, errors.Wrap(b.err, "building fusion")
	}
	return &Fused{Output: out, Layers: b.layers, Learnables: b.params}, nil
}
