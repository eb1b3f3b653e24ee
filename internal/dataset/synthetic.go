package dataset

import (
	"crypto/md5"
	"encoding/binary"
	"math"
	"math/rand"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"beamfusion/internal/config"
	"beamfusion/internal/labels"
	"beamfusion/internal/npzio"
)

// SyntheticOptions sizes a generated dataset.
type SyntheticOptions struct {
	Samples    int
	BeamRows   int
	BeamCols   int
	ImageShape [3]int // H, W, C
	LidarShape [3]int // H, W, D
}

// DefaultSynthetic is small enough to train in tests.
var DefaultSynthetic = SyntheticOptions{
	Samples:    24,
	BeamRows:   2,
	BeamCols:   4,
	ImageShape: [3]int{6, 8, 1},
	LidarShape: [3]int{8, 8, 2},
}

// Raw holds generated arrays the way they appear on disk, keyed by modality,
// plus the complex-free beam power grid.
type Raw struct {
	Inputs map[config.Modality]*npzio.Array
	Power  *npzio.Array
}

// Generate builds a deterministic pseudo-dataset. The split name seeds the
// generator through an md5 hash, so train and validation differ but repeat
// across runs. The best beam follows the vehicle position, which every
// modality encodes in its own way.
func Generate(split string, opts SyntheticOptions) *Raw {
	hash := md5.Sum([]byte(split))
	r := rand.New(rand.NewSource(int64(binary.BigEndian.Uint64(hash[:8]))))

	n, rows, cols := opts.Samples, opts.BeamRows, opts.BeamCols
	ih, iw, ic := opts.ImageShape[0], opts.ImageShape[1], opts.ImageShape[2]
	lh, lw, ld := opts.LidarShape[0], opts.LidarShape[1], opts.LidarShape[2]

	raw := &Raw{
		Inputs: map[config.Modality]*npzio.Array{
			config.Coord: {Shape: []int{n, 2}, Data: make([]float64, n*2)},
			config.Image: {Shape: []int{n, ih, iw, ic}, Data: make([]float64, n*ih*iw*ic)},
			config.Lidar: {Shape: []int{n, lh, lw, ld}, Data: make([]float64, n*lh*lw*ld)},
		},
		Power: &npzio.Array{Shape: []int{n, rows, cols}, Data: make([]float64, n*rows*cols)},
	}

	for s := 0; s < n; s++ {
		x, y := r.Float64(), r.Float64()
		raw.Inputs[config.Coord].Data[s*2] = x*2 - 1
		raw.Inputs[config.Coord].Data[s*2+1] = y*2 - 1

		// beam power peaks at the cell under the position and falls off with distance
		br, bc := int(y*float64(rows)), int(x*float64(cols))
		for i := 0; i < rows; i++ {
			for j := 0; j < cols; j++ {
				d := math.Hypot(float64(i-br), float64(j-bc))
				raw.Power.Data[(s*rows+i)*cols+j] = math.Exp(-d*1.5) * (0.9 + 0.2*r.Float64())
			}
		}

		mark(raw.Inputs[config.Image].Data[s*ih*iw*ic:], ih, iw, ic, x, y, r)
		mark(raw.Inputs[config.Lidar].Data[s*lh*lw*ld:], lh, lw, ld, x, y, r)
	}
	return raw
}

// mark paints a bright blob at (x, y) on a noisy channels-last grid.
func mark(dst []float64, h, w, c int, x, y float64, r *rand.Rand) {
	py, px := int(y*float64(h)), int(x*float64(w))
	for i := 0; i < h; i++ {
		for j := 0; j < w; j++ {
			v := 0.1 * r.Float64()
			if abs(i-py) <= 1 && abs(j-px) <= 1 {
				v = 1
			}
			for k := 0; k < c; k++ {
				dst[(i*w+j)*c+k] = v
			}
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// Split converts generated arrays into an in-memory split.
func (raw *Raw) Split(mods config.Modalities, mode labels.Mode, thresholdBelowMax float64) (*Split, error) {
	y, numClasses, err := labels.Transform(raw.Power.Data, raw.Power.Shape, mode, thresholdBelowMax)
	if err != nil {
		return nil, err
	}
	sp := &Split{Inputs: make(map[config.Modality]*Features), Labels: y, NumClasses: numClasses}
	for _, m := range mods.List() {
		arr := raw.Inputs[m]
		if sp.Inputs[m], err = FromArray(m, arr.Shape, arr.Data); err != nil {
			return nil, err
		}
	}
	return sp, sp.Validate()
}

// WriteFolder lays raw out under folder using the same file names Load reads.
func (raw *Raw) WriteFolder(folder, split string, imageResizeFactor int) error {
	opts := Options{Folder: folder, ImageResizeFactor: imageResizeFactor}
	for m, arr := range raw.Inputs {
		src := opts.inputSource(m, split)
		if err := os.MkdirAll(filepath.Dir(src.file), 0o755); err != nil {
			return errors.Wrap(err, "creating dataset folder")
		}
		if err := npzio.Write(src.file, map[string]*npzio.Array{src.array: arr}); err != nil {
			return err
		}
	}
	file := opts.labelFile(split)
	if err := os.MkdirAll(filepath.Dir(file), 0o755); err != nil {
		return errors.Wrap(err, "creating dataset folder")
	}
	return npzio.Write(file, map[string]*npzio.Array{labels.OutputArray: raw.Power})
}
