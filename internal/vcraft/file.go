package vcraft

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// HeaderSize is the fixed size of the ASCII header block.
const HeaderSize = 4096

// File is a single capture file covering a group of coarse channels.
type File struct {
	path   string
	hdr    Header
	src    io.ReaderAt
	closer func() error
}

// Open maps a capture file for reading and parses its header.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	src, unmap, err := mapFile(f, st.Size())
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("map %s: %w", path, err)
	}
	vf, err := newFile(path, src)
	if err != nil {
		unmap()
		f.Close()
		return nil, err
	}
	vf.closer = func() error {
		uerr := unmap()
		cerr := f.Close()
		if uerr != nil {
			return uerr
		}
		return cerr
	}
	if want := int64(HeaderSize) + int64(vf.hdr.NSamps)*int64(vf.hdr.NChan())*2; st.Size() < want {
		vf.Close()
		return nil, fmt.Errorf("%w: %s holds %d bytes, header promises %d", ErrHeader, path, st.Size(), want)
	}
	return vf, nil
}

// NewReader parses a capture held by any ReaderAt, e.g. an in-memory buffer.
func NewReader(src io.ReaderAt) (*File, error) {
	return newFile("", src)
}

func newFile(path string, src io.ReaderAt) (*File, error) {
	raw := make([]byte, HeaderSize)
	if _, err := src.ReadAt(raw, 0); err != nil && err != io.EOF {
		return nil, fmt.Errorf("read header %s: %w", path, err)
	}
	hdr, err := ParseHeader(raw)
	if err != nil {
		return nil, fmt.Errorf("parse header %s: %w", path, err)
	}
	return &File{path: path, hdr: hdr, src: src, closer: func() error { return nil }}, nil
}

// Path returns the file path, empty for in-memory captures.
func (f *File) Path() string { return f.path }

// Header implements Stream.
func (f *File) Header() Header { return f.hdr }

// Close releases the mapping.
func (f *File) Close() error { return f.closer() }

// Read implements Stream. Static sample offsets are not applied here; Mux
// applies them per file.
func (f *File) Read(offset, count int) (*Block, error) {
	nchan := f.hdr.NChan()
	out := NewBlock(count, nchan)
	if err := f.readInto(out, 0, offset, count); err != nil {
		return nil, err
	}
	return out, nil
}

// readInto decodes count samples starting at offset into channels
// [chan0, chan0+nchan) of dst.
func (f *File) readInto(dst *Block, chan0, offset, count int) error {
	if err := checkRange(offset, count, f.hdr.NSamps); err != nil {
		return err
	}
	nchan := f.hdr.NChan()
	rowBytes := nchan * 2
	buf := make([]byte, count*rowBytes)
	pos := int64(HeaderSize) + int64(offset)*int64(rowBytes)
	if _, err := f.src.ReadAt(buf, pos); err != nil && err != io.EOF {
		return fmt.Errorf("read samples %s: %w", f.path, err)
	}
	for t := 0; t < count; t++ {
		row := buf[t*rowBytes : (t+1)*rowBytes]
		for c := 0; c < nchan; c++ {
			re := float32(int8(row[2*c]))
			im := float32(int8(row[2*c+1]))
			dst.Set(t, chan0+c, complex(re, im))
		}
	}
	return nil
}

// ParseHeader decodes the ASCII header block. Each line is
// "KEY VALUE [# comment]"; unknown keys are ignored. TRIGGER_MJD stands in
// for a missing MJD.
func ParseHeader(raw []byte) (Header, error) {
	raw = bytes.TrimRight(raw, "\x00")
	fields := make(map[string]string)
	sc := bufio.NewScanner(bytes.NewReader(raw))
	for sc.Scan() {
		line := sc.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		parts := strings.Fields(line)
		if len(parts) < 2 {
			continue
		}
		fields[strings.ToUpper(parts[0])] = parts[1]
	}

	var hdr Header
	var err error
	get := func(key string) (string, bool) {
		v, ok := fields[key]
		if !ok && err == nil {
			err = fmt.Errorf("%w: missing %s", ErrHeader, key)
		}
		return v, ok
	}

	if v, ok := get("ANT"); ok {
		hdr.AntName = strings.ToLower(v)
	}
	if v, ok := get("ANTENNA_NO"); ok && err == nil {
		hdr.AntNo, err = strconv.Atoi(v)
	}
	if v, ok := fields["POL"]; ok {
		hdr.Pol = strings.ToLower(v)
	}
	if _, ok := fields["MJD"]; !ok {
		if v, ok := fields["TRIGGER_MJD"]; ok {
			fields["MJD"] = v
		}
	}
	if v, ok := get("MJD"); ok && err == nil {
		hdr.StartMJD, err = strconv.ParseFloat(v, 64)
	}
	if v, ok := get("FRAME_ID"); ok && err == nil {
		hdr.StartFrameID, err = strconv.ParseInt(v, 10, 64)
	}
	if v, ok := get("NSAMPS"); ok && err == nil {
		hdr.NSamps, err = strconv.Atoi(v)
	}
	if v, ok := get("FREQS"); ok && err == nil {
		for _, s := range strings.Split(v, ",") {
			var f float64
			f, err = strconv.ParseFloat(strings.TrimSpace(s), 64)
			if err != nil {
				break
			}
			hdr.Freqs = append(hdr.Freqs, f)
		}
	}
	if v, ok := fields["UPPER_SIDEBAND"]; ok && err == nil {
		hdr.UpperSideband, err = strconv.ParseBool(v)
	}
	if v, ok := fields["NBITS"]; ok && err == nil && v != "8" {
		err = fmt.Errorf("%w: unsupported NBITS %s", ErrHeader, v)
	}
	if err != nil {
		return Header{}, err
	}
	if len(hdr.Freqs) == 0 {
		return Header{}, fmt.Errorf("%w: no coarse channels", ErrHeader)
	}
	hdr.SampleOffsets = []int{0}
	return hdr, nil
}

// FormatHeader renders hdr as a HeaderSize block.
func FormatHeader(hdr Header) ([]byte, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "ANT %s\n", hdr.AntName)
	fmt.Fprintf(&b, "ANTENNA_NO %d\n", hdr.AntNo)
	if hdr.Pol != "" {
		fmt.Fprintf(&b, "POL %s\n", hdr.Pol)
	}
	fmt.Fprintf(&b, "MJD %.12f\n", hdr.StartMJD)
	fmt.Fprintf(&b, "FRAME_ID %d\n", hdr.StartFrameID)
	fmt.Fprintf(&b, "NSAMPS %d\n", hdr.NSamps)
	freqs := make([]string, len(hdr.Freqs))
	for i, f := range hdr.Freqs {
		freqs[i] = strconv.FormatFloat(f, 'f', -1, 64)
	}
	fmt.Fprintf(&b, "FREQS %s\n", strings.Join(freqs, ","))
	fmt.Fprintf(&b, "UPPER_SIDEBAND %t\n", hdr.UpperSideband)
	b.WriteString("NBITS 8\n")
	if b.Len() > HeaderSize {
		return nil, fmt.Errorf("%w: header exceeds %d bytes", ErrHeader, HeaderSize)
	}
	out := make([]byte, HeaderSize)
	copy(out, b.String())
	return out, nil
}

// Write stores a capture: header followed by the block quantised to int8.
func Write(w io.Writer, hdr Header, data *Block) error {
	if data.NChan != hdr.NChan() {
		return fmt.Errorf("%w: block has %d channels, header %d", ErrHeader, data.NChan, hdr.NChan())
	}
	hdr.NSamps = data.NSamp
	raw, err := FormatHeader(hdr)
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(w)
	if _, err := bw.Write(raw); err != nil {
		return err
	}
	row := make([]byte, data.NChan*2)
	for t := 0; t < data.NSamp; t++ {
		for c := 0; c < data.NChan; c++ {
			v := data.At(t, c)
			row[2*c] = byte(quantise(real(v)))
			row[2*c+1] = byte(quantise(imag(v)))
		}
		if _, err := bw.Write(row); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func quantise(v float32) int8 {
	switch {
	case v > 127:
		return 127
	case v < -128:
		return -128
	case v >= 0:
		return int8(v + 0.5)
	default:
		return int8(v - 0.5)
	}
}
