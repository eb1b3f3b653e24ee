// Package npzio reads named arrays out of numpy .npz archives into flat
// float64 buffers.
package npzio

import (
	"math/cmplx"
	"strings"

	"github.com/pkg/errors"
	"github.com/sbinet/npyio/npz"
)

var (
	// ErrMissingArray is returned when the archive has no array by that name.
	ErrMissingArray = errors.New("array not found")
	// ErrBadShape is returned when Data does not hold Len*Stride values.
	ErrBadShape = errors.New("data does not match shape")
	// ErrUnsupportedType is returned for dtypes other than bool, ints, floats and complex.
	ErrUnsupportedType = errors.New("unsupported dtype")
)

// Array is a C-ordered numeric array. Complex arrays keep their moduli in
// Data and set Complex.
type Array struct {
	Shape   []int
	Data    []float64
	Complex bool
}

// Len is the size of the first axis.
func (a *Array) Len() int {
	if len(a.Shape) == 0 {
		return 0
	}
	return a.Shape[0]
}

// Stride is the number of elements in one entry of the first axis.
func (a *Array) Stride() int {
	if len(a.Shape) == 0 {
		return 0
	}
	n := 1
	for _, d := range a.Shape[1:] {
		n *= d
	}
	return n
}

// check reports whether Data holds exactly the values Shape describes.
func (a *Array) check() error {
	if len(a.Shape) == 0 || a.Len()*a.Stride() != len(a.Data) {
		return errors.Wrapf(ErrBadShape, "%d values for shape %v", len(a.Data), a.Shape)
	}
	return nil
}

// Read opens path and decodes the array called name.
func Read(path, name string) (*Array, error) {
	f, err := npz.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", path)
	}
	defer f.Close()

	key := ""
	for _, k := range f.Keys() {
		if k == name || strings.TrimSuffix(k, ".npy") == name {
			key = k
			break
		}
	}
	if key == "" {
		return nil, errors.Wrapf(ErrMissingArray, "%s in %s (have %v)", name, path, f.Keys())
	}

	hdr := f.Header(key)
	if hdr == nil {
		return nil, errors.Wrapf(ErrMissingArray, "%s in %s", name, path)
	}
	if hdr.Descr.Fortran {
		return nil, errors.Errorf("%s in %s: fortran-ordered arrays are not supported", name, path)
	}

	arr := &Array{Shape: append([]int(nil), hdr.Descr.Shape...)}
	if arr.Data, arr.Complex, err = decode(f, key, hdr.Descr.Type); err != nil {
		return nil, errors.Wrapf(err, "reading %s from %s", name, path)
	}
	if err := arr.check(); err != nil {
		return nil, errors.Wrapf(err, "%s in %s", name, path)
	}
	return arr, nil
}

func decode(f *npz.Reader, key, dtype string) ([]float64, bool, error) {
	switch strings.TrimLeft(dtype, "<|=") {
	case "f8":
		var v []float64
		err := f.Read(key, &v)
		return v, false, err
	case "f4":
		var v []float32
		if err := f.Read(key, &v); err != nil {
			return nil, false, err
		}
		out := make([]float64, len(v))
		for i, x := range v {
			out[i] = float64(x)
		}
		return out, false, nil
	case "i8":
		var v []int64
		if err := f.Read(key, &v); err != nil {
			return nil, false, err
		}
		out := make([]float64, len(v))
		for i, x := range v {
			out[i] = float64(x)
		}
		return out, false, nil
	case "i4":
		var v []int32
		if err := f.Read(key, &v); err != nil {
			return nil, false, err
		}
		out := make([]float64, len(v))
		for i, x := range v {
			out[i] = float64(x)
		}
		return out, false, nil
	case "i1":
		var v []int8
		if err := f.Read(key, &v); err != nil {
			return nil, false, err
		}
		out := make([]float64, len(v))
		for i, x := range v {
			out[i] = float64(x)
		}
		return out, false, nil
	case "u1":
		var v []uint8
		if err := f.Read(key, &v); err != nil {
			return nil, false, err
		}
		out := make([]float64, len(v))
		for i, x := range v {
			out[i] = float64(x)
		}
		return out, false, nil
	case "b1":
		var v []bool
		if err := f.Read(key, &v); err != nil {
			return nil, false, err
		}
		out := make([]float64, len(v))
		for i, x := range v {
			if x {
				out[i] = 1
			}
		}
		return out, false, nil
	case "c16":
		var v []complex128
		if err := f.Read(key, &v); err != nil {
			return nil, false, err
		}
		out := make([]float64, len(v))
		for i, x := range v {
			out[i] = cmplx.Abs(x)
		}
		return out, true, nil
	case "c8":
		var v []complex64
		if err := f.Read(key, &v); err != nil {
			return nil, false, err
		}
		out := make([]float64, len(v))
		for i, x := range v {
			out[i] = cmplx.Abs(complex128(x))
		}
		return out, true, nil
	}
	return nil, false, errors.Wrap(ErrUnsupportedType, dtype)
}
