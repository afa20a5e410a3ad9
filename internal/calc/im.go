// Package calc evaluates the geometric delay model produced by the
// correlator model server.
//
// Models are read from DiFX-style ".im" files: per scan, a sequence of
// polynomials each valid for a fixed interval, giving delay (µs) and baseline
// projections U, V, W (m) for every telescope.
package calc

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
)

var (
	// ErrFormat is returned for malformed model files.
	ErrFormat = errors.New("calc: malformed model file")
	// ErrNoPolynomial is returned when no polynomial covers an epoch.
	ErrNoPolynomial = errors.New("calc: no polynomial covers epoch")
	// ErrUnknownAntenna is returned for antennas absent from a model.
	ErrUnknownAntenna = errors.New("calc: antenna not in model")
)

// Quantity names as they appear in the model file.
const (
	Delay = "DELAY (us)"
	U     = "U (m)"
	V     = "V (m)"
	W     = "W (m)"
)

var quantities = []string{Delay, U, V, W}

// Record holds one telescope's evaluated model values keyed by quantity.
type Record map[string]float64

// Provider evaluates the model at an epoch for every telescope.
type Provider interface {
	Eval(mjd float64) (map[string]Record, error)
}

type polynomial struct {
	mjd   int
	sec   float64
	coefs map[int]map[string][]float64 // telescope index -> quantity -> coefficients
}

func (p *polynomial) startMJD() float64 { return float64(p.mjd) + p.sec/86400 }

// Model is a parsed polynomial model for source 0 of scan 0.
type Model struct {
	Telescopes []string
	Order      int
	Interval   float64 // seconds
	polys      []*polynomial
}

// Load parses a model file.
func Load(path string) (*Model, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open model: %w", err)
	}
	defer f.Close()
	m, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return m, nil
}

// Parse reads "KEY: value" lines. Only scan 0, source 0 is retained.
func Parse(r io.Reader) (*Model, error) {
	kv := make(map[string]string)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := sc.Text()
		i := strings.Index(line, ":")
		if i < 0 || strings.HasPrefix(line, "#") {
			continue
		}
		k := strings.TrimSpace(line[:i])
		kv[k] = strings.TrimSpace(line[i+1:])
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	m := &Model{}
	ntel, err := intKey(kv, "NUM TELESCOPES")
	if err != nil {
		return nil, err
	}
	for i := 0; i < ntel; i++ {
		name, ok := kv[fmt.Sprintf("TELESCOPE %d NAME", i)]
		if !ok {
			return nil, fmt.Errorf("%w: missing telescope %d name", ErrFormat, i)
		}
		m.Telescopes = append(m.Telescopes, strings.ToLower(name))
	}
	if m.Order, err = intKey(kv, "POLYNOMIAL ORDER"); err != nil {
		return nil, err
	}
	interval, err := intKey(kv, "INTERVAL (SECS)")
	if err != nil {
		return nil, err
	}
	m.Interval = float64(interval)
	npoly, err := intKey(kv, "SCAN 0 NUM POLY")
	if err != nil {
		return nil, err
	}

	for p := 0; p < npoly; p++ {
		prefix := fmt.Sprintf("SCAN 0 POLY %d ", p)
		poly := &polynomial{coefs: make(map[int]map[string][]float64)}
		if poly.mjd, err = intKey(kv, prefix+"MJD"); err != nil {
			return nil, err
		}
		sec, err := intKey(kv, prefix+"SEC")
		if err != nil {
			return nil, err
		}
		poly.sec = float64(sec)
		for a := range m.Telescopes {
			poly.coefs[a] = make(map[string][]float64)
			for _, q := range quantities {
				key := fmt.Sprintf("%sSRC 0 ANT %d %s", prefix, a, q)
				v, ok := kv[key]
				if !ok {
					return nil, fmt.Errorf("%w: missing %q", ErrFormat, key)
				}
				c, err := floats(v)
				if err != nil {
					return nil, fmt.Errorf("%w: %q: %v", ErrFormat, key, err)
				}
				poly.coefs[a][q] = c
			}
		}
		m.polys = append(m.polys, poly)
	}
	sort.Slice(m.polys, func(i, j int) bool { return m.polys[i].startMJD() < m.polys[j].startMJD() })
	return m, nil
}

// Eval implements Provider: every telescope's delay and UVW at mjd.
func (m *Model) Eval(mjd float64) (map[string]Record, error) {
	poly, err := m.find(mjd)
	if err != nil {
		return nil, err
	}
	dt := (mjd - poly.startMJD()) * 86400
	out := make(map[string]Record, len(m.Telescopes))
	for a, name := range m.Telescopes {
		rec := make(Record, len(quantities))
		for _, q := range quantities {
			rec[q] = horner(poly.coefs[a][q], dt)
		}
		out[name] = rec
	}
	return out, nil
}

func (m *Model) find(mjd float64) (*polynomial, error) {
	for _, p := range m.polys {
		start := p.startMJD()
		if mjd >= start && mjd <= start+m.Interval/86400 {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: mjd %.9f", ErrNoPolynomial, mjd)
}

func horner(c []float64, x float64) float64 {
	v := 0.0
	for i := len(c) - 1; i >= 0; i-- {
		v = v*x + c[i]
	}
	return v
}

func intKey(kv map[string]string, key string) (int, error) {
	v, ok := kv[key]
	if !ok {
		return 0, fmt.Errorf("%w: missing %q", ErrFormat, key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %v", ErrFormat, key, err)
	}
	return n, nil
}

func floats(s string) ([]float64, error) {
	parts := strings.Fields(s)
	out := make([]float64, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
