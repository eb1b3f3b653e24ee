package arch

import (
	"github.com/pkg/errors"
)

// Kind names a fixed branch topology.
type Kind int

const (
	InceptionSingle Kind = iota
	LightImage
	CoordMLP
	LidarMarcus
)

// Strategy picks the prediction head.
type Strategy int

const (
	// OneHot ends in a softmax dense layer of NumClasses units.
	OneHot Strategy = iota
	// Reg ends in a linear dense layer of NumClasses units.
	Reg
)

// Chain selects how much of the branch is built.
type Chain int

const (
	// Complete appends the prediction head.
	Complete Chain = iota
	// Segment stops at the feature extractor, before flattening.
	Segment
)

// Activation applied by a layer.
type Activation int

const (
	Linear Activation = iota
	ReLU
	Softmax
)

// Parse and Build errors. Unknown descriptors never fall back to a default.
var (
	ErrUnknownArchitecture = errors.New("unknown architecture")
	ErrUnknownStrategy     = errors.New("unknown strategy")
	ErrUnknownChain        = errors.New("unknown chain")
)

var kindNames = map[Kind]string{
	InceptionSingle: "inception_single",
	LightImage:      "light_image",
	CoordMLP:        "coord_mlp",
	LidarMarcus:     "lidar_marcus",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "kind(?)"
}

// ParseKind maps a model type name to a Kind.
func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	return 0, errors.Wrapf(ErrUnknownArchitecture, "%q", s)
}

func (s Strategy) String() string {
	switch s {
	case OneHot:
		return "one_hot"
	case Reg:
		return "reg"
	}
	return "strategy(?)"
}

// ParseStrategy maps a strategy name to a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch s {
	case "one_hot":
		return OneHot, nil
	case "reg":
		return Reg, nil
	}
	return 0, errors.Wrapf(ErrUnknownStrategy, "%q", s)
}

func (c Chain) String() string {
	switch c {
	case Complete:
		return "complete"
	case Segment:
		return "segment"
	}
	return "chain(?)"
}

// ParseChain maps a chain name to a Chain.
func ParseChain(s string) (Chain, error) {
	switch s {
	case "complete":
		return Complete, nil
	case "segment":
		return Segment, nil
	}
	return 0, errors.Wrapf(ErrUnknownChain, "%q", s)
}

func (a Activation) String() string {
	switch a {
	case Linear:
		return "linear"
	case ReLU:
		return "relu"
	case Softmax:
		return "softmax"
	}
	return "activation(?)"
}
