package calc

import (
	"fmt"
)

// Snapshots are the model evaluated at the start, middle and end of one
// integration.
type Snapshots struct {
	Start, Mid, End map[string]Record
}

// Evaluate samples p at the three integration epochs.
func Evaluate(p Provider, startMJD, midMJD, endMJD float64) (Snapshots, error) {
	var s Snapshots
	var err error
	if s.Start, err = p.Eval(startMJD); err != nil {
		return Snapshots{}, fmt.Errorf("evaluate start: %w", err)
	}
	if s.Mid, err = p.Eval(midMJD); err != nil {
		return Snapshots{}, fmt.Errorf("evaluate mid: %w", err)
	}
	if s.End, err = p.Eval(endMJD); err != nil {
		return Snapshots{}, fmt.Errorf("evaluate end: %w", err)
	}
	return s, nil
}

// FringeParams is the delay model of one antenna over one integration.
// Delays are in microseconds, projections in metres.
type FringeParams struct {
	Antenna    string
	U, V, W    float64
	Delay      float64 // at mid integration
	DelayStart float64
	DelayEnd   float64
	DelayRate  float64 // (DelayEnd - DelayStart) / nInt
}

func (f FringeParams) String() string {
	return fmt.Sprintf("FR %s uvw=(%g,%g,%g) m = %g us", f.Antenna, f.U, f.V, f.W, f.Delay)
}

// Fringe extracts an antenna's fringe parameters from the three snapshots.
func Fringe(s Snapshots, antenna string, nInt int) (FringeParams, error) {
	mid, ok := s.Mid[antenna]
	if !ok {
		return FringeParams{}, fmt.Errorf("%w: %s", ErrUnknownAntenna, antenna)
	}
	start, ok := s.Start[antenna]
	if !ok {
		return FringeParams{}, fmt.Errorf("%w: %s at start", ErrUnknownAntenna, antenna)
	}
	end, ok := s.End[antenna]
	if !ok {
		return FringeParams{}, fmt.Errorf("%w: %s at end", ErrUnknownAntenna, antenna)
	}
	if nInt <= 0 {
		nInt = 1
	}
	fp := FringeParams{
		Antenna:    antenna,
		U:          mid[U],
		V:          mid[V],
		W:          mid[W],
		Delay:      mid[Delay],
		DelayStart: start[Delay],
		DelayEnd:   end[Delay],
	}
	fp.DelayRate = (fp.DelayEnd - fp.DelayStart) / float64(nInt)
	return fp, nil
}

// Relative returns the delay and rate of ant with respect to ref, both
// anchored at the integration start.
func Relative(ant, ref FringeParams) (delay, rate float64) {
	return ant.DelayStart - ref.DelayStart, ant.DelayRate - ref.DelayRate
}
