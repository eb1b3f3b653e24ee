// Package fusion composes modality branches into one trainable model and
// attaches the loss, optimizer and metrics.
package fusion

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"

	"beamfusion/internal/arch"
	"beamfusion/internal/config"
)

// Model is the composed network. With one modality it is that branch as-is.
type Model struct {
	Modalities []config.Modality
	Branches   []*arch.Branch
	Output     *gorgonia.Node
	Activation arch.Activation
	NumClasses int

	fused *arch.Fused
}

// Inputs are the branch input nodes in modality order.
func (m *Model) Inputs() []*gorgonia.Node {
	in := make([]*gorgonia.Node, len(m.Branches))
	for i, b := range m.Branches {
		in[i] = b.Input
	}
	return in
}

// Input returns the input node fed by modality mod.
func (m *Model) Input(mod config.Modality) *gorgonia.Node {
	for i, x := range m.Modalities {
		if x == mod {
			return m.Branches[i].Input
		}
	}
	return nil
}

// BatchSize is the fixed leading dimension of every input.
func (m *Model) BatchSize() int {
	return m.Output.Shape()[0]
}

// Learnables lists branch parameters followed by the fusion layer's.
func (m *Model) Learnables() gorgonia.Nodes {
	var nodes gorgonia.Nodes
	for _, b := range m.Branches {
		nodes = append(nodes, b.Learnables()...)
	}
	if m.fused != nil {
		nodes = append(nodes, m.fused.Learnables...)
	}
	return nodes
}

// Summary renders each branch followed by the fusion layers.
func (m *Model) Summary() string {
	var sb strings.Builder
	for _, b := range m.Branches {
		sb.WriteString(b.Summary())
	}
	if m.fused != nil {
		sb.WriteString("Fusion:\n")
		for _, l := range m.fused.Layers {
			fmt.Fprintf(&sb, "  %s %v\n", l.Name, l.Shape)
		}
	}
	return sb.String()
}

// Compose joins complete branches. branches[i] must be the branch for mods[i].
func Compose(g *gorgonia.ExprGraph, mods []config.Modality, branches []*arch.Branch, numClasses int) (*Model, error) {
	if len(mods) != len(branches) {
		return nil, errors.Errorf("%d modalities but %d branches", len(mods), len(branches))
	}
	if len(branches) < 1 || len(branches) > 3 {
		return nil, errors.Errorf("composing needs 1 to 3 branches, got %d", len(branches))
	}
	m := &Model{
		Modalities: append([]config.Modality(nil), mods...),
		Branches:   branches,
		NumClasses: numClasses,
	}
	if len(branches) == 1 {
		m.Output, m.Activation = branches[0].Output, branches[0].Activation
		return m, nil
	}
	fused, err := arch.Fuse(g, branches, numClasses)
	if err != nil {
		return nil, err
	}
	m.fused, m.Output, m.Activation = fused, fused.Output, arch.ReLU
	return m, nil
}

// KindFor is the architecture used for each modality.
func KindFor(mod config.Modality, imageKind arch.Kind) arch.Kind {
	switch mod {
	case config.Coord:
		return arch.CoordMLP
	case config.Lidar:
		return arch.LidarMarcus
	}
	return imageKind
}

// Options configure Build.
type Options struct {
	NumClasses  int
	InputShapes map[config.Modality][]int
	Strategy    arch.Strategy
	// ImageKind is LightImage or InceptionSingle.
	ImageKind arch.Kind
	BatchSize int
	Training  bool
}

// Build creates a complete branch per active modality and composes them.
func Build(g *gorgonia.ExprGraph, mods config.Modalities, opts Options) (*Model, error) {
	if mods.Has(config.Image) && opts.ImageKind != arch.LightImage && opts.ImageKind != arch.InceptionSingle {
		return nil, errors.Wrapf(arch.ErrUnknownArchitecture, "%s cannot take images", opts.ImageKind)
	}
	list := mods.List()
	branches := make([]*arch.Branch, len(list))
	for i, mod := range list {
		shape, ok := opts.InputShapes[mod]
		if !ok {
			return nil, errors.Errorf("no input shape for %s", mod)
		}
		b, err := arch.Build(g, arch.Spec{
			Kind:       KindFor(mod, opts.ImageKind),
			NumClasses: opts.NumClasses,
			InputShape: shape,
			Chain:      arch.Complete,
			Strategy:   opts.Strategy,
			BatchSize:  opts.BatchSize,
			Training:   opts.Training,
			Prefix:     mod.String(),
		})
		if err != nil {
			return nil, errors.Wrapf(err, "%s branch", mod)
		}
		branches[i] = b
	}
	return Compose(g, list, branches, opts.NumClasses)
}
