package beamform

// Spectrum is the coherent output of one antenna, shaped
// (NInt, NChan, NPol). Every integration carries the same window spectrum,
// so only one row is stored.
type Spectrum struct {
	Antenna  string
	NInt     int
	NChan    int
	NPol     int
	Row      []complex64 // fine channels, coarse-major
	Window   Window
	NaNCount int
}

// Shape returns (integrations, fine channels, polarisations).
func (s *Spectrum) Shape() [3]int { return [3]int{s.NInt, s.NChan, s.NPol} }

// At returns fine channel ch of any integration.
func (s *Spectrum) At(_, ch int) complex64 { return s.Row[ch] }

// Dynspec is an incoherent power dynamic spectrum shaped (NChan, NSamp)
// with 1 ms time resolution.
type Dynspec struct {
	Antenna string
	NChan   int
	NSamp   int
	Data    []float64 // channel-major
	TimeMJD []float64
}

// Channel returns the power time series of coarse channel c.
func (d *Dynspec) Channel(c int) []float64 {
	return d.Data[c*d.NSamp : (c+1)*d.NSamp]
}

// At returns the power of channel c in time bin t.
func (d *Dynspec) At(c, t int) float64 { return d.Data[c*d.NSamp+t] }
