package vcraft

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
)

// Mux joins the capture files of one antenna and polarisation into a single
// stream whose channels are the files' channels in path order.
type Mux struct {
	hdr     Header
	files   []*File
	offsets []int
}

// NewMux builds a stream over files that all belong to one antenna.
// sampleOffset is added to every read of every file.
func NewMux(files []*File, sampleOffset int) (*Mux, error) {
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: no files to mux", ErrHeader)
	}
	files = append([]*File(nil), files...)
	sort.SliceStable(files, func(i, j int) bool { return files[i].path < files[j].path })

	first := files[0].hdr
	hdr := first
	hdr.Freqs = nil
	hdr.SampleOffsets = nil
	offsets := make([]int, len(files))
	for i, f := range files {
		h := f.hdr
		if h.AntName != first.AntName {
			return nil, fmt.Errorf("%w: mux mixes antennas %s and %s", ErrHeader, first.AntName, h.AntName)
		}
		if h.StartFrameID != first.StartFrameID {
			return nil, fmt.Errorf("%w: %s frame id %d differs from %d", ErrHeader, f.path, h.StartFrameID, first.StartFrameID)
		}
		hdr.Freqs = append(hdr.Freqs, h.Freqs...)
		if h.NSamps < hdr.NSamps {
			hdr.NSamps = h.NSamps
		}
		offsets[i] = sampleOffset
		hdr.SampleOffsets = append(hdr.SampleOffsets, sampleOffset)
	}
	return &Mux{hdr: hdr, files: files, offsets: offsets}, nil
}

// Header implements Stream.
func (m *Mux) Header() Header { return m.hdr }

// Read implements Stream.
func (m *Mux) Read(offset, count int) (*Block, error) {
	out := NewBlock(count, m.hdr.NChan())
	chan0 := 0
	for i, f := range m.files {
		if err := f.readInto(out, chan0, offset+m.offsets[i], count); err != nil {
			return nil, err
		}
		chan0 += f.hdr.NChan()
	}
	return out, nil
}

// Close closes every underlying file.
func (m *Mux) Close() error {
	var first error
	for _, f := range m.files {
		if err := f.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// MuxByAntenna groups files by antenna name and applies the hardware sample
// delay of each antenna, returning one stream per antenna ordered by
// antenna number.
func MuxByAntenna(files []*File, delays map[string]int) ([]*Mux, error) {
	groups := make(map[string][]*File)
	var names []string
	for _, f := range files {
		name := f.hdr.AntName
		if _, ok := groups[name]; !ok {
			names = append(names, name)
		}
		groups[name] = append(groups[name], f)
	}
	muxes := make([]*Mux, 0, len(names))
	for _, name := range names {
		m, err := NewMux(groups[name], delays[name])
		if err != nil {
			return nil, err
		}
		muxes = append(muxes, m)
	}
	sort.SliceStable(muxes, func(i, j int) bool { return muxes[i].hdr.AntNo < muxes[j].hdr.AntNo })
	return muxes, nil
}

// LoadHardwareDelays reads a hardware delay file of "antenna samples" lines.
// Delays are negated and rounded to the nearest multiple of 8 samples. A
// missing file yields an empty map.
func LoadHardwareDelays(path string) (map[string]int, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]int{}, nil
		}
		return nil, fmt.Errorf("open hardware delays: %w", err)
	}
	defer f.Close()
	return ParseHardwareDelays(f)
}

// ParseHardwareDelays parses the hardware delay format from r.
func ParseHardwareDelays(r io.Reader) (map[string]int, error) {
	delays := make(map[string]int)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		bits := strings.Fields(line)
		if strings.HasPrefix(line, "#") || len(bits) != 2 {
			continue
		}
		v, err := strconv.Atoi(bits[1])
		if err != nil {
			return nil, fmt.Errorf("hardware delay %q: %w", line, err)
		}
		raw := -v
		if raw%8 != 0 {
			raw = int(8 * math.RoundToEven(float64(raw)/8))
		}
		delays[strings.ToLower(bits[0])] = raw
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read hardware delays: %w", err)
	}
	return delays, nil
}
