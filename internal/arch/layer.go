package arch

import (
	"fmt"

	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Dtype of every parameter and activation.
var Dtype = tensor.Float32

// LayerInfo describes one built layer for summaries.
type LayerInfo struct {
	Name   string
	Shape  tensor.Shape
	Params int
}

// builder appends layers to a graph. The first error sticks and turns every
// later call into a no-op, so topologies read as straight-line code.
type builder struct {
	g        *gorgonia.ExprGraph
	prefix   string
	training bool

	params gorgonia.Nodes
	layers []LayerInfo
	counts map[string]int
	err    error
}

func newBuilder(g *gorgonia.ExprGraph, prefix string, training bool) *builder {
	return &builder{g: g, prefix: prefix, training: training, counts: make(map[string]int)}
}

func (b *builder) name(kind string) string {
	b.counts[kind]++
	return fmt.Sprintf("%s/%s_%d", b.prefix, kind, b.counts[kind])
}

func (b *builder) fail(err error, layer string) {
	if b.err == nil && err != nil {
		b.err = errors.Wrap(err, layer)
	}
}

func (b *builder) record(name string, out *gorgonia.Node, params ...*gorgonia.Node) {
	n := 0
	for _, p := range params {
		n += p.Shape().TotalSize()
	}
	b.params = append(b.params, params...)
	b.layers = append(b.layers, LayerInfo{Name: name, Shape: out.Shape().Clone(), Params: n})
}

func (b *builder) weight(name string, shape ...int) *gorgonia.Node {
	return gorgonia.NewTensor(b.g, Dtype, len(shape),
		gorgonia.WithShape(shape...),
		gorgonia.WithName(name),
		gorgonia.WithInit(gorgonia.GlorotU(1.0)))
}

func (b *builder) bias(name string, shape ...int) *gorgonia.Node {
	return gorgonia.NewTensor(b.g, Dtype, len(shape),
		gorgonia.WithShape(shape...),
		gorgonia.WithName(name),
		gorgonia.WithInit(gorgonia.Zeroes()))
}

func (b *builder) activate(x *gorgonia.Node, act Activation, layer string) *gorgonia.Node {
	var err error
	switch act {
	case ReLU:
		x, err = gorgonia.Rectify(x)
	case Softmax:
		x, err = gorgonia.SoftMax(x)
	}
	b.fail(err, layer)
	return x
}

// conv is a stride-1 "same" convolution with bias and ReLU over NCHW input.
func (b *builder) conv(x *gorgonia.Node, filters, kh, kw int) *gorgonia.Node {
	if b.err != nil {
		return nil
	}
	name := b.name("conv2d")
	inC := x.Shape()[1]
	w := b.weight(name+"/W", filters, inC, kh, kw)
	bias := b.bias(name+"/b", 1, filters, 1, 1)

	out, err := gorgonia.Conv2d(x, w, tensor.Shape{kh, kw}, []int{kh / 2, kw / 2}, []int{1, 1}, []int{1, 1})
	if err != nil {
		b.fail(err, name)
		return nil
	}
	if out = b.crop(out, x.Shape()[2], x.Shape()[3], name); out == nil {
		return nil
	}
	if out, err = gorgonia.BroadcastAdd(out, bias, nil, []byte{0, 2, 3}); err != nil {
		b.fail(err, name)
		return nil
	}
	if out = b.activate(out, ReLU, name); out == nil {
		return nil
	}
	b.record(name, out, w, bias)
	return out
}

// crop trims the extra leading row/column left by symmetric padding of an
// even kernel. Keras pads even kernels only after, so output i starts at
// input i, which is padded position i+1.
func (b *builder) crop(x *gorgonia.Node, h, w int, layer string) *gorgonia.Node {
	s := x.Shape()
	if s[2] == h && s[3] == w {
		return x
	}
	out, err := gorgonia.Slice(x,
		gorgonia.S(0, s[0]),
		gorgonia.S(0, s[1]),
		gorgonia.S(s[2]-h, s[2]),
		gorgonia.S(s[3]-w, s[3]))
	b.fail(err, layer)
	return out
}

// maxPoolSame pools with stride 1 and keeps the spatial size.
func (b *builder) maxPoolSame(x *gorgonia.Node, kh, kw int) *gorgonia.Node {
	if b.err != nil {
		return nil
	}
	name := b.name("max_pooling2d")
	out, err := gorgonia.MaxPool2D(x, tensor.Shape{kh, kw}, []int{kh / 2, kw / 2}, []int{1, 1})
	if err != nil {
		b.fail(err, name)
		return nil
	}
	if out = b.crop(out, x.Shape()[2], x.Shape()[3], name); out == nil {
		return nil
	}
	b.record(name, out)
	return out
}

// maxPool is an unpadded pool whose stride equals its window.
func (b *builder) maxPool(x *gorgonia.Node, kh, kw int) *gorgonia.Node {
	if b.err != nil {
		return nil
	}
	name := b.name("max_pooling2d")
	s := x.Shape()
	if s[2] < kh || s[3] < kw {
		b.fail(errors.Errorf("input %v smaller than pool %dx%d", s, kh, kw), name)
		return nil
	}
	out, err := gorgonia.MaxPool2D(x, tensor.Shape{kh, kw}, []int{0, 0}, []int{kh, kw})
	if err != nil {
		b.fail(err, name)
		return nil
	}
	b.record(name, out)
	return out
}

// dropout is only part of training graphs.
func (b *builder) dropout(x *gorgonia.Node, prob float64) *gorgonia.Node {
	if b.err != nil || !b.training {
		return x
	}
	name := b.name("dropout")
	out, err := gorgonia.Dropout(x, prob)
	if err != nil {
		b.fail(err, name)
		return nil
	}
	b.record(name, out)
	return out
}

func (b *builder) flatten(x *gorgonia.Node) *gorgonia.Node {
	if b.err != nil {
		return nil
	}
	name := b.name("flatten")
	s := x.Shape()
	out, err := gorgonia.Reshape(x, tensor.Shape{s[0], s.TotalSize() / s[0]})
	if err != nil {
		b.fail(err, name)
		return nil
	}
	b.record(name, out)
	return out
}

// dense maps (B, F) to (B, units).
func (b *builder) dense(x *gorgonia.Node, units int, act Activation) *gorgonia.Node {
	if b.err != nil {
		return nil
	}
	name := b.name("dense")
	w := b.weight(name+"/W", x.Shape()[1], units)
	bias := b.bias(name+"/b", 1, units)

	out, err := gorgonia.Mul(x, w)
	if err != nil {
		b.fail(err, name)
		return nil
	}
	if out, err = gorgonia.BroadcastAdd(out, bias, nil, []byte{0}); err != nil {
		b.fail(err, name)
		return nil
	}
	if out = b.activate(out, act, name); out == nil {
		return nil
	}
	b.record(name, out, w, bias)
	return out
}

func (b *builder) concat(axis int, xs ...*gorgonia.Node) *gorgonia.Node {
	if b.err != nil {
		return nil
	}
	name := b.name("concatenate")
	out, err := gorgonia.Concat(axis, xs...)
	if err != nil {
		b.fail(err, name)
		return nil
	}
	b.record(name, out)
	return out
}
