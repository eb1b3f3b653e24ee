// Package dataset loads per-modality feature arrays and beam labels for the
// train and validation splits.
package dataset

import (
	"fmt"
	"path/filepath"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorgonia.org/tensor"

	"beamfusion/internal/config"
	"beamfusion/internal/labels"
	"beamfusion/internal/npzio"
)

// ErrShapeMismatch is returned when a modality does not line up with the labels.
var ErrShapeMismatch = errors.New("dataset shape mismatch")

// Features holds one modality for every sample. Image-like data is stored
// channels-first per sample, while Shape keeps the channels-last
// description (H, W, C) or (F) that architectures are declared with.
type Features struct {
	Shape []int
	Data  []float32
}

// Size is the number of values per sample.
func (f *Features) Size() int {
	n := 1
	for _, d := range f.Shape {
		n *= d
	}
	return n
}

// Sample returns the values for sample i.
func (f *Features) Sample(i int) []float32 {
	s := f.Size()
	return f.Data[i*s : (i+1)*s]
}

// Split is one of train or validation.
type Split struct {
	Inputs     map[config.Modality]*Features
	Labels     [][]float64
	NumClasses int
}

// Len is the number of samples.
func (s *Split) Len() int { return len(s.Labels) }

// Select returns a new split made of the given sample indices, repeats allowed.
func (s *Split) Select(indices []int) *Split {
	out := &Split{
		Inputs:     make(map[config.Modality]*Features, len(s.Inputs)),
		Labels:     make([][]float64, len(indices)),
		NumClasses: s.NumClasses,
	}
	for i, idx := range indices {
		out.Labels[i] = s.Labels[idx]
	}
	for m, f := range s.Inputs {
		size := f.Size()
		nf := &Features{Shape: f.Shape, Data: make([]float32, 0, len(indices)*size)}
		for _, idx := range indices {
			nf.Data = append(nf.Data, f.Sample(idx)...)
		}
		out.Inputs[m] = nf
	}
	return out
}

// Validate checks that every modality has one entry per label row.
func (s *Split) Validate() error {
	for m, f := range s.Inputs {
		size := f.Size()
		if size == 0 || len(f.Data)%size != 0 {
			return errors.Wrapf(ErrShapeMismatch, "%s: %d values do not fit sample shape %v", m, len(f.Data), f.Shape)
		}
		if n := len(f.Data) / size; n != s.Len() {
			return errors.Wrapf(ErrShapeMismatch, "%s has %d samples, labels have %d", m, n, s.Len())
		}
	}
	for i, row := range s.Labels {
		if len(row) != s.NumClasses {
			return errors.Wrapf(ErrShapeMismatch, "label row %d has %d classes, want %d", i, len(row), s.NumClasses)
		}
	}
	return nil
}

// Options locates files under the data folder.
type Options struct {
	Folder            string
	Modalities        config.Modalities
	ImageResizeFactor int
	ThresholdBelowMax float64
	CustomLabel       bool
}

type source struct {
	file  string
	array string
}

func (o Options) inputSource(m config.Modality, split string) source {
	switch m {
	case config.Coord:
		return source{filepath.Join(o.Folder, "coord_input", fmt.Sprintf("coord_%s.npz", split)), "coordinates"}
	case config.Image:
		return source{filepath.Join(o.Folder, "image_input", fmt.Sprintf("img_input_%s_%d.npz", split, o.ImageResizeFactor)), "inputs"}
	default:
		return source{filepath.Join(o.Folder, "lidar_input", fmt.Sprintf("lidar_%s.npz", split)), "input"}
	}
}

func (o Options) labelFile(split string) string {
	return filepath.Join(o.Folder, "beam_output", fmt.Sprintf("beams_output_%s.npz", split))
}

// Load reads the train and validation splits. Files are read concurrently.
func Load(opts Options, logger *zap.SugaredLogger) (*Split, *Split, error) {
	mods := opts.Modalities.List()
	names := []string{"train", "validation"}
	splits := []*Split{{}, {}}
	feats := [][]*Features{make([]*Features, len(mods)), make([]*Features, len(mods))}

	var g errgroup.Group
	for s, name := range names {
		s, name := s, name
		for i, m := range mods {
			i, m := i, m
			src := opts.inputSource(m, name)
			g.Go(func() error {
				logger.Infow("reading dataset", "modality", m, "split", name, "file", src.file)
				f, err := loadFeatures(m, src)
				feats[s][i] = f
				return err
			})
		}
		g.Go(func() error {
			file := opts.labelFile(name)
			logger.Infow("reading dataset", "modality", "beams", "split", name, "file", file)
			var err error
			sp := splits[s]
			if opts.CustomLabel {
				sp.Labels, sp.NumClasses, err = labels.CustomLabel(file)
			} else {
				sp.Labels, sp.NumClasses, err = labels.BeamOutput(file, opts.ThresholdBelowMax)
			}
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	for s, sp := range splits {
		sp.Inputs = make(map[config.Modality]*Features, len(mods))
		for i, m := range mods {
			sp.Inputs[m] = feats[s][i]
		}
		if err := sp.Validate(); err != nil {
			return nil, nil, errors.Wrapf(err, "%s split", names[s])
		}
	}
	if splits[0].NumClasses != splits[1].NumClasses {
		return nil, nil, errors.Wrapf(ErrShapeMismatch, "train has %d classes, validation has %d",
			splits[0].NumClasses, splits[1].NumClasses)
	}
	for m, f := range splits[0].Inputs {
		if !equalShape(f.Shape, splits[1].Inputs[m].Shape) {
			return nil, nil, errors.Wrapf(ErrShapeMismatch, "%s: train sample shape %v, validation %v",
				m, f.Shape, splits[1].Inputs[m].Shape)
		}
	}
	return splits[0], splits[1], nil
}

func equalShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func loadFeatures(m config.Modality, src source) (*Features, error) {
	arr, err := npzio.Read(src.file, src.array)
	if err != nil {
		return nil, err
	}
	if arr.Len() == 0 || arr.Stride() == 0 {
		return nil, errors.Wrapf(ErrShapeMismatch, "%s: empty %s array %v", src.file, m, arr.Shape)
	}
	f, err := FromArray(m, arr.Shape, arr.Data)
	return f, errors.Wrapf(err, "%s", src.file)
}

// FromArray converts a channels-last (N, ...) array into Features for m.
// Coordinates must be (N, F). Images may be (N, H, W) or (N, H, W, C).
// LIDAR must be (N, H, W, D).
func FromArray(m config.Modality, shape []int, data []float64) (*Features, error) {
	switch {
	case m == config.Coord && len(shape) == 2:
		return &Features{Shape: []int{shape[1]}, Data: toFloat32(data)}, nil
	case m == config.Image && len(shape) == 3:
		return &Features{Shape: []int{shape[1], shape[2], 1}, Data: toFloat32(data)}, nil
	case (m == config.Image || m == config.Lidar) && len(shape) == 4:
		h, w, c := shape[1], shape[2], shape[3]
		cf, err := channelsFirst(data, shape[0], h, w, c)
		if err != nil {
			return nil, err
		}
		return &Features{Shape: []int{h, w, c}, Data: cf}, nil
	}
	return nil, errors.Wrapf(ErrShapeMismatch, "%s input with shape %v", m, shape)
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}

// channelsFirst permutes (N, H, W, C) data to (N, C, H, W).
func channelsFirst(v []float64, n, h, w, c int) ([]float32, error) {
	data := toFloat32(v)
	if c == 1 {
		return data, nil
	}
	t := tensor.New(tensor.WithShape(n, h, w, c), tensor.WithBacking(data))
	if err := t.T(0, 3, 1, 2); err != nil {
		return nil, errors.Wrap(err, "permuting to channels-first")
	}
	if err := t.Transpose(); err != nil {
		return nil, errors.Wrap(err, "permuting to channels-first")
	}
	return t.Data().([]float32), nil
}
