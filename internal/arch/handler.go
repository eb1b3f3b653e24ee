package arch

import (
	"gorgonia.org/gorgonia"
)

// Handler builds branches from string descriptors, the form used in run
// configuration.
type Handler struct {
	BatchSize int
	Training  bool
}

// CreateArchitecture parses the descriptor and builds the branch. An unknown
// modelType, chain or strategy is an error.
func (h Handler) CreateArchitecture(g *gorgonia.ExprGraph, modelType string, numClasses int, inputShape []int, chain, strategy string) (*Branch, error) {
	kind, err := ParseKind(modelType)
	if err != nil {
		return nil, err
	}
	c, err := ParseChain(chain)
	if err != nil {
		return nil, err
	}
	s, err := ParseStrategy(strategy)
	if err != nil {
		return nil, err
	}
	return Build(g, Spec{
		Kind:       kind,
		NumClasses: numClasses,
		InputShape: inputShape,
		Chain:      c,
		Strategy:   s,
		BatchSize:  h.BatchSize,
		Training:   h.Training,
	})
}
