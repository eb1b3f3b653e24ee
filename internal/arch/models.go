package arch

import (
	"gorgonia.org/gorgonia"
)

// inceptionFeatures runs three towers side by side and stacks their channels.
func inceptionFeatures(b *builder, x *gorgonia.Node) *gorgonia.Node {
	t1 := b.conv(x, 4, 1, 1)
	t1 = b.conv(t1, 8, 2, 2)
	t1 = b.conv(t1, 16, 3, 3)

	t2 := b.conv(x, 4, 1, 1)
	t2 = b.conv(t2, 16, 3, 3)
	t2 = b.conv(t2, 16, 5, 5)

	t3 := b.maxPoolSame(x, 3, 3)
	t3 = b.conv(t3, 4, 1, 1)

	if b.err != nil {
		return nil
	}
	return b.concat(1, t1, t2, t3)
}

func lightImageFeatures(b *builder, x *gorgonia.Node) *gorgonia.Node {
	x = b.conv(x, 8, 2, 2)
	x = b.maxPoolSame(x, 2, 2)
	x = b.conv(x, 10, 3, 3)
	x = b.maxPoolSame(x, 2, 2)
	return b.conv(x, 12, 9, 9)
}

func coordFeatures(b *builder, x *gorgonia.Node) *gorgonia.Node {
	for _, units := range []int{128, 64, 16, 32, 4} {
		x = b.dense(x, units, ReLU)
	}
	return x
}

const lidarDropout = 0.3

// lidarFeatures pools rows first and columns second.
func lidarFeatures(b *builder, x *gorgonia.Node) *gorgonia.Node {
	x = b.conv(x, 10, 13, 13)
	x = b.conv(x, 30, 11, 11)
	x = b.conv(x, 25, 9, 9)
	x = b.maxPool(x, 2, 1)
	x = b.dropout(x, lidarDropout)
	x = b.conv(x, 20, 7, 7)
	x = b.maxPool(x, 1, 2)
	x = b.conv(x, 15, 5, 5)
	x = b.dropout(x, lidarDropout)
	x = b.conv(x, 10, 3, 3)
	return b.conv(x, 1, 1, 1)
}
