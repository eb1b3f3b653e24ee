package train

import (
	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"beamfusion/internal/dataset"
	"beamfusion/internal/fusion"
)

// feed binds the samples at idx to the model inputs and target. When idx is
// shorter than the batch the remaining rows are zero. It returns the target
// values it bound.
func feed(c *fusion.Compiled, split *dataset.Split, idx []int) ([]float32, error) {
	m := c.Model
	bs := m.BatchSize()
	if len(idx) > bs {
		return nil, errors.Errorf("%d samples do not fit batch of %d", len(idx), bs)
	}

	for i, mod := range m.Modalities {
		f, ok := split.Inputs[mod]
		if !ok {
			return nil, errors.Errorf("split has no %s input", mod)
		}
		input := m.Branches[i].Input
		size := f.Size()
		if input.Shape().TotalSize() != bs*size {
			return nil, errors.Wrapf(dataset.ErrShapeMismatch, "%s input %v does not take samples of %v", mod, input.Shape(), f.Shape)
		}
		buf := make([]float32, bs*size)
		for r, s := range idx {
			copy(buf[r*size:], f.Sample(s))
		}
		t := tensor.New(tensor.WithShape(input.Shape().Clone()...), tensor.WithBacking(buf))
		if err := gorgonia.Let(input, t); err != nil {
			return nil, errors.Wrapf(err, "feeding %s", mod)
		}
	}

	cols := m.NumClasses
	target := make([]float32, bs*cols)
	for r, s := range idx {
		row := split.Labels[s]
		if len(row) != cols {
			return nil, errors.Wrapf(dataset.ErrShapeMismatch, "label row %d has %d classes, want %d", s, len(row), cols)
		}
		for j, v := range row {
			target[r*cols+j] = float32(v)
		}
	}
	t := tensor.New(tensor.WithShape(bs, cols), tensor.WithBacking(target))
	if err := gorgonia.Let(c.Target, t); err != nil {
		return nil, errors.Wrap(err, "feeding target")
	}
	return target, nil
}
