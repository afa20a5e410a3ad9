// Package npy writes arrays in the NumPy .npy v1.0 format, optionally
// zstd-compressed.
package npy

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"
)

const (
	magic   = "\x93NUMPY"
	align   = 64
	descC64 = "<c8"
	descF64 = "<f8"

	// ZstdSuffix is appended to compressed output names.
	ZstdSuffix = ".zst"
)

// Header renders the preamble for a C-ordered array.
func Header(descr string, shape []int) []byte {
	dims := make([]string, len(shape))
	for i, n := range shape {
		dims[i] = strconv.Itoa(n)
	}
	tuple := strings.Join(dims, ", ")
	if len(shape) == 1 {
		tuple += ","
	}
	dict := fmt.Sprintf("{'descr': '%s', 'fortran_order': False, 'shape': (%s), }", descr, tuple)
	// magic(6) + version(2) + length(2) + dict + newline, padded to align.
	pre := len(magic) + 4
	total := pre + len(dict) + 1
	if rem := total % align; rem != 0 {
		dict += strings.Repeat(" ", align-rem)
	}
	dict += "\n"

	out := make([]byte, 0, pre+len(dict))
	out = append(out, magic...)
	out = append(out, 1, 0)
	out = binary.LittleEndian.AppendUint16(out, uint16(len(dict)))
	return append(out, dict...)
}

// WriteComplex64 writes data as an array of the given shape. data holds one
// row that is written repeat times; the shape must cover repeat·len(data)
// elements.
func WriteComplex64(w io.Writer, shape []int, data []complex64, repeat int) error {
	if n := elements(shape); n != repeat*len(data) {
		return fmt.Errorf("npy: shape %v holds %d elements, have %d×%d", shape, n, repeat, len(data))
	}
	bw := bufio.NewWriterSize(w, 1<<20)
	if _, err := bw.Write(Header(descC64, shape)); err != nil {
		return err
	}
	for i := 0; i < repeat; i++ {
		if err := binary.Write(bw, binary.LittleEndian, data); err != nil {
			return fmt.Errorf("npy: write row %d: %w", i, err)
		}
	}
	return bw.Flush()
}

// WriteFloat64 writes data as an array of the given shape.
func WriteFloat64(w io.Writer, shape []int, data []float64) error {
	if n := elements(shape); n != len(data) {
		return fmt.Errorf("npy: shape %v holds %d elements, have %d", shape, n, len(data))
	}
	bw := bufio.NewWriterSize(w, 1<<20)
	if _, err := bw.Write(Header(descF64, shape)); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, data); err != nil {
		return fmt.Errorf("npy: write data: %w", err)
	}
	return bw.Flush()
}

func elements(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

// Path returns the output name for base: ".npy" is added when missing, and
// ZstdSuffix when compressing.
func Path(base string, compress bool) string {
	if !strings.HasSuffix(base, ".npy") {
		base += ".npy"
	}
	if compress {
		base += ZstdSuffix
	}
	return base
}

type fileWriter struct {
	f   *os.File
	enc *zstd.Encoder
}

func (w *fileWriter) Write(p []byte) (int, error) {
	if w.enc != nil {
		return w.enc.Write(p)
	}
	return w.f.Write(p)
}

func (w *fileWriter) Close() error {
	if w.enc != nil {
		if err := w.enc.Close(); err != nil {
			w.f.Close()
			return err
		}
	}
	return w.f.Close()
}

// Create opens path for writing, wrapping it in a zstd stream when compress
// is set.
func Create(path string, compress bool) (io.WriteCloser, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	w := &fileWriter{f: f}
	if compress {
		w.enc, err = zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("zstd writer: %w", err)
		}
	}
	return w, nil
}
