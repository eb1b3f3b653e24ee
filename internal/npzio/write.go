package npzio

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

var npyMagic = []byte("\x93NUMPY\x01\x00")

// Write stores arrays as little-endian float64 .npy members of an npz
// archive. Complex arrays are written as their moduli.
func Write(path string, arrays map[string]*Array) error {
	for name, a := range arrays {
		if err := a.check(); err != nil {
			return errors.Wrapf(err, "array %s", name)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "creating %s", path)
	}
	zw := zip.NewWriter(f)

	names := make([]string, 0, len(arrays))
	for name := range arrays {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		w, err := zw.Create(name + ".npy")
		if err != nil {
			f.Close()
			return errors.Wrapf(err, "adding %s to %s", name, path)
		}
		if _, err := w.Write(encodeNpy(arrays[name])); err != nil {
			f.Close()
			return errors.Wrapf(err, "writing %s to %s", name, path)
		}
	}
	if err := zw.Close(); err != nil {
		f.Close()
		return errors.Wrapf(err, "finishing %s", path)
	}
	return errors.Wrapf(f.Close(), "closing %s", path)
}

func encodeNpy(a *Array) []byte {
	dims := make([]string, len(a.Shape))
	for i, d := range a.Shape {
		dims[i] = fmt.Sprint(d)
	}
	shape := strings.Join(dims, ", ")
	if len(dims) == 1 {
		shape += ","
	}
	header := fmt.Sprintf("{'descr': '<f8', 'fortran_order': False, 'shape': (%s), }", shape)
	// magic + uint16 length + header + '\n' must be a multiple of 64
	total := len(npyMagic) + 2 + len(header) + 1
	if rem := total % 64; rem != 0 {
		header += strings.Repeat(" ", 64-rem)
	}
	header += "\n"

	var buf bytes.Buffer
	buf.Write(npyMagic)
	binary.Write(&buf, binary.LittleEndian, uint16(len(header)))
	buf.WriteString(header)
	b := make([]byte, 8)
	for _, v := range a.Data {
		binary.LittleEndian.PutUint64(b, math.Float64bits(v))
		buf.Write(b)
	}
	return buf.Bytes()
}
