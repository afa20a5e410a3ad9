package beamform

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/craft-frb/tabeam/internal/calc"
	"github.com/craft-frb/tabeam/internal/vcraft"
)

// NumAntennas is the size of the full array.
const NumAntennas = 36

// Antenna is one antenna's capture with its instrumental parameters. It is
// read-only once the correlator is built.
type Antenna struct {
	Name         string
	Number       int
	Pol          string
	Stream       vcraft.Stream
	TriggerFrame int64
	StartMJD     float64
	Position     [3]float64 // ITRF, m
	FixedDelay   float64    // µs
}

// NewAntenna describes a stream from its header. Position and fixed delay
// are filled in by NewCorrelator.
func NewAntenna(s vcraft.Stream) *Antenna {
	h := s.Header()
	return &Antenna{
		Name:         strings.ToLower(h.AntName),
		Number:       h.AntNo,
		Pol:          strings.ToLower(h.Pol),
		Stream:       s,
		TriggerFrame: h.StartFrameID,
		StartMJD:     h.StartMJD,
	}
}

func (a *Antenna) String() string {
	return fmt.Sprintf("%s(#%d)", a.Name, a.Number)
}

// AntennaIndex maps an array antenna name ak01..ak36 to its zero-based
// calibration index.
func AntennaIndex(name string) (int, error) {
	name = strings.ToLower(name)
	if !strings.HasPrefix(name, "ak") {
		return 0, fmt.Errorf("beamform: antenna %q is not an array antenna", name)
	}
	n, err := strconv.Atoi(name[2:])
	if err != nil || n < 1 || n > NumAntennas {
		return 0, fmt.Errorf("beamform: antenna %q is not an array antenna", name)
	}
	return n - 1, nil
}

// DelaySeries is the per-sample delay in µs across the default window:
// Delay + Rate·i/(N−1) − Fixed.
type DelaySeries struct {
	Delay float64
	Rate  float64
	Fixed float64
	N     int
}

// At returns the delay of sample i.
func (d DelaySeries) At(i int) float64 {
	t := 0.0
	if d.N > 1 {
		t = float64(i) / float64(d.N-1)
	}
	return d.Delay + d.Rate*t - d.Fixed
}

// Window fills dst with the delays of samples [start, start+len(dst)).
func (d DelaySeries) Window(dst []float64, start int) []float64 {
	for i := range dst {
		dst[i] = d.At(start + i)
	}
	return dst
}

// AntennaDelays holds the delay components used for one antenna, for
// diagnostics.
type AntennaDelays struct {
	Antenna   calc.FringeParams
	Reference calc.FringeParams
	Delay     float64
	Rate      float64
	Fixed     float64
}
