package arch

import (
	"gorgonia.org/gorgonia"
)

const inceptionDropout = 0.25

// head turns branch features into NumClasses predictions: softmax for
// OneHot, linear for Reg.
func head(b *builder, spec Spec, features *gorgonia.Node) (*gorgonia.Node, Activation) {
	act := Softmax
	if spec.Strategy == Reg {
		act = Linear
	}
	x := features
	if spec.Kind == InceptionSingle {
		x = b.dropout(x, inceptionDropout)
	}
	if spec.Kind != CoordMLP {
		x = b.flatten(x)
	}
	return b.dense(x, spec.NumClasses, act), act
}
