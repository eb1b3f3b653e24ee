package train

import (
	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Weights are trained parameter values keyed by node name. Graphs are
// static, so moving a model between the training and evaluation graphs
// means copying values across.
type Weights map[string]tensor.Tensor

// Snapshot clones the current value of every node.
func Snapshot(nodes gorgonia.Nodes) (Weights, error) {
	w := make(Weights, len(nodes))
	for _, n := range nodes {
		val := n.Value()
		if val == nil {
			return nil, errors.Errorf("parameter %s has no value", n.Name())
		}
		t, ok := val.(tensor.Tensor)
		if !ok {
			return nil, errors.Errorf("parameter %s holds %T", n.Name(), val)
		}
		w[n.Name()] = t.Clone().(tensor.Tensor)
	}
	return w, nil
}

// Restore binds the stored values onto nodes of the same name and shape.
func (w Weights) Restore(nodes gorgonia.Nodes) error {
	for _, n := range nodes {
		val, ok := w[n.Name()]
		if !ok {
			return errors.Errorf("no stored value for %s", n.Name())
		}
		if !val.Shape().Eq(n.Shape()) {
			return errors.Errorf("%s: stored shape %v, node shape %v", n.Name(), val.Shape(), n.Shape())
		}
		if err := gorgonia.Let(n, val); err != nil {
			return errors.Wrapf(err, "restoring %s", n.Name())
		}
	}
	return nil
}
