package config

import (
	"github.com/pkg/errors"
)

// Modality is one sensor input type.
type Modality int

const (
	Coord Modality = iota
	Image
	Lidar
)

// ErrUnknownModality is returned for names outside coord|img|lidar.
var ErrUnknownModality = errors.New("unknown modality")

func (m Modality) String() string {
	switch m {
	case Coord:
		return "coord"
	case Image:
		return "img"
	case Lidar:
		return "lidar"
	}
	return "modality(?)"
}

// ParseModality maps a command-line name to a Modality.
func ParseModality(s string) (Modality, error) {
	switch s {
	case "coord":
		return Coord, nil
	case "img":
		return Image, nil
	case "lidar":
		return Lidar, nil
	}
	return 0, errors.Wrapf(ErrUnknownModality, "%q", s)
}

// Modalities is the set of active inputs for a run, in fusion order.
type Modalities struct {
	list []Modality
}

// ParseModalities validates names and orders them the way branches are fused:
// (coord,lidar), (coord,img), (lidar,img) and (lidar,img,coord).
func ParseModalities(names []string) (Modalities, error) {
	if len(names) == 0 {
		return Modalities{}, errors.New("at least one input modality is required")
	}
	if len(names) > 3 {
		return Modalities{}, errors.Errorf("at most 3 input modalities, got %d", len(names))
	}
	var seen [3]bool
	for _, n := range names {
		m, err := ParseModality(n)
		if err != nil {
			return Modalities{}, err
		}
		if seen[m] {
			return Modalities{}, errors.Errorf("modality %s given twice", m)
		}
		seen[m] = true
	}

	var list []Modality
	switch {
	case len(names) == 3:
		list = []Modality{Lidar, Image, Coord}
	default:
		for _, m := range []Modality{Coord, Lidar, Image} {
			if seen[m] {
				list = append(list, m)
			}
		}
	}
	return Modalities{list: list}, nil
}

// List returns the modalities in fusion order.
func (s Modalities) List() []Modality {
	out := make([]Modality, len(s.list))
	copy(out, s.list)
	return out
}

// Has reports whether m is active.
func (s Modalities) Has(m Modality) bool {
	for _, x := range s.list {
		if x == m {
			return true
		}
	}
	return false
}

// Len is the number of active modalities.
func (s Modalities) Len() int { return len(s.list) }

// Multimodal is true when more than one branch has to be fused.
func (s Modalities) Multimodal() bool { return len(s.list) > 1 }

func (s Modalities) Strings() []string {
	out := make([]string, len(s.list))
	for i, m := range s.list {
		out[i] = m.String()
	}
	return out
}
