// Package vcraft reads raw per-antenna voltage captures.
//
// A capture is a set of files per antenna, each holding a fixed-size ASCII
// header followed by interleaved 8-bit I/Q samples for a group of coarse
// channels. Streams are immutable once opened and safe for concurrent reads.
package vcraft

import (
	"errors"
	"fmt"
)

// SamplesPerMicrosecond is the oversampled coarse channel rate (32/27 MHz).
const SamplesPerMicrosecond = 32.0 / 27.0

var (
	// ErrOutOfRange is returned when a read extends past the recorded samples.
	ErrOutOfRange = errors.New("vcraft: read outside recorded samples")
	// ErrHeader is returned for malformed or incomplete headers.
	ErrHeader = errors.New("vcraft: invalid header")
)

// Header describes one antenna/polarisation capture.
type Header struct {
	AntName       string
	AntNo         int
	Pol           string
	StartMJD      float64
	StartFrameID  int64
	Freqs         []float64 // coarse channel centre frequencies, MHz
	UpperSideband bool
	NSamps        int
	SampleOffsets []int // static per-file sample offsets applied on read
}

// NChan returns the number of coarse channels.
func (h Header) NChan() int { return len(h.Freqs) }

// MaxSampleOffset returns the largest static sample offset, or zero.
func (h Header) MaxSampleOffset() int {
	m := 0
	for _, o := range h.SampleOffsets {
		if o > m {
			m = o
		}
	}
	return m
}

// Stream is a readable capture.
type Stream interface {
	Header() Header
	// Read returns count samples for every coarse channel starting at the
	// given sample offset.
	Read(offset, count int) (*Block, error)
}

// Block is a count × nchan window of complex voltages stored channel-major so
// a channel's time series is contiguous.
type Block struct {
	NSamp int
	NChan int
	Data  []complex64
}

// NewBlock allocates a zeroed block.
func NewBlock(nsamp, nchan int) *Block {
	return &Block{NSamp: nsamp, NChan: nchan, Data: make([]complex64, nsamp*nchan)}
}

// Shape returns (samples, channels).
func (b *Block) Shape() (int, int) { return b.NSamp, b.NChan }

// Channel returns the contiguous time series of coarse channel c.
func (b *Block) Channel(c int) []complex64 {
	return b.Data[c*b.NSamp : (c+1)*b.NSamp]
}

// At returns sample t of channel c.
func (b *Block) At(t, c int) complex64 { return b.Data[c*b.NSamp+t] }

// Set stores sample t of channel c.
func (b *Block) Set(t, c int, v complex64) { b.Data[c*b.NSamp+t] = v }

func checkRange(offset, count, nsamps int) error {
	if offset < 0 || count < 0 || offset+count > nsamps {
		return fmt.Errorf("%w: offset=%d count=%d nsamps=%d", ErrOutOfRange, offset, count, nsamps)
	}
	return nil
}
