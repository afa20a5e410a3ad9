// Package aips loads exported AIPS calibration solutions: a bandpass table
// plus fringe-fit and self-calibration solution tables, and turns them into a
// per-antenna complex correction that can be looked up by frequency.
package aips

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math/cmplx"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

var (
	// ErrManifest is returned when the solution tables cannot be located.
	ErrManifest = errors.New("aips: calibration manifest")
	// ErrHeader is returned for bandpass headers lacking NAXIS2 or TFDIM11.
	ErrHeader = errors.New("aips: bandpass header")
	// ErrNoRows is returned when a table has no entry for an antenna.
	ErrNoRows = errors.New("aips: no solution rows")
)

// Source exposes antenna-indexed extraction from the three tables. Antenna
// indices are zero-based.
type Source interface {
	// PhaseBandpass returns the complex bandpass in increasing frequency
	// order.
	PhaseBandpass(iant int, pol string) ([]complex128, error)
	// DelayFring returns the fringe-fit delay in seconds.
	DelayFring(iant int, pol string) (float64, error)
	// PhaseFring returns the fringe-fit complex gain.
	PhaseFring(iant int, pol string) (complex128, error)
	// PhaseSelfcal returns the self-calibration complex gain.
	PhaseSelfcal(iant int, pol string) (complex128, error)
}

// Header holds the metadata read from the bandpass file.
type Header struct {
	NAnt  int
	NFreq int
}

// ReadHeader scans the bandpass file for the NAXIS2 (antenna count) and
// TFDIM11 (frequency grid size) keywords.
func ReadHeader(path string) (Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return Header{}, fmt.Errorf("open bandpass: %w", err)
	}
	defer f.Close()

	var h Header
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := sc.Text()
		fields := strings.Fields(line)
		switch {
		case strings.Contains(line, "NAXIS2") && len(fields) > 2:
			h.NAnt, _ = strconv.Atoi(fields[2])
		case strings.Contains(line, "TFDIM11") && len(fields) > 2:
			h.NFreq, _ = strconv.Atoi(fields[2])
		}
	}
	if err := sc.Err(); err != nil {
		return Header{}, fmt.Errorf("read bandpass header: %w", err)
	}
	if h.NAnt == 0 || h.NFreq == 0 {
		return Header{}, fmt.Errorf("%w: nant=%d nfreq=%d in %s", ErrHeader, h.NAnt, h.NFreq, path)
	}
	return h, nil
}

// Manifest names the companion solution tables.
type Manifest struct {
	Fring   string
	Selfcal string
}

// FindManifest looks for exactly one README* file in dir and extracts the
// fringe-fit ("delays") and self-calibration ("selfcal") ".sn.txt" table
// names from it. Relative names resolve against dir.
func FindManifest(dir string) (Manifest, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "README*"))
	if err != nil {
		return Manifest{}, fmt.Errorf("%w: %v", ErrManifest, err)
	}
	if len(matches) != 1 {
		return Manifest{}, fmt.Errorf("%w: expected one README in %s, found %d", ErrManifest, dir, len(matches))
	}
	f, err := os.Open(matches[0])
	if err != nil {
		return Manifest{}, fmt.Errorf("%w: %v", ErrManifest, err)
	}
	defer f.Close()
	m, err := ParseManifest(f)
	if err != nil {
		return Manifest{}, err
	}
	if !filepath.IsAbs(m.Fring) {
		m.Fring = filepath.Join(dir, m.Fring)
	}
	if !filepath.IsAbs(m.Selfcal) {
		m.Selfcal = filepath.Join(dir, m.Selfcal)
	}
	return m, nil
}

// ParseManifest extracts table names from manifest text.
func ParseManifest(r io.Reader) (Manifest, error) {
	var m Manifest
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		fields := strings.Fields(line)
		if len(fields) == 0 || !strings.Contains(line, ".sn.txt") {
			continue
		}
		if strings.Contains(line, "delays") {
			m.Fring = fields[0]
		}
		if strings.Contains(line, "selfcal") {
			m.Selfcal = fields[0]
		}
	}
	if err := sc.Err(); err != nil {
		return Manifest{}, fmt.Errorf("%w: %v", ErrManifest, err)
	}
	if m.Fring == "" || m.Selfcal == "" {
		return Manifest{}, fmt.Errorf("%w: fring=%q selfcal=%q", ErrManifest, m.Fring, m.Selfcal)
	}
	return m, nil
}

type key struct {
	ant int
	pol string
}

type snRow struct {
	gain  complex128
	delay float64
}

// Tables is a Source backed by whitespace-separated text exports. Bandpass
// rows are "ANT POL CHAN RE IM"; solution rows are "ANT POL RE IM DELAY".
// Antenna numbers in the files are one-based.
type Tables struct {
	nfreq    int
	bandpass map[key][]complex128
	fring    map[key]snRow
	selfcal  map[key]snRow
}

// LoadTables reads the bandpass and both solution tables.
func LoadTables(bandpassPath string, nfreq int, m Manifest) (*Tables, error) {
	t := &Tables{nfreq: nfreq, bandpass: make(map[key][]complex128)}
	if err := readRows(bandpassPath, 5, func(f []string) error {
		ant, pol, err := antPol(f)
		if err != nil {
			return err
		}
		ch, err := strconv.Atoi(f[2])
		if err != nil {
			return err
		}
		if ch < 0 || ch >= nfreq {
			return fmt.Errorf("channel %d outside grid of %d", ch, nfreq)
		}
		v, err := complexOf(f[3], f[4])
		if err != nil {
			return err
		}
		k := key{ant, pol}
		bp, ok := t.bandpass[k]
		if !ok {
			bp = make([]complex128, nfreq)
			for i := range bp {
				bp[i] = cmplx.NaN()
			}
			t.bandpass[k] = bp
		}
		bp[ch] = v
		return nil
	}); err != nil {
		return nil, err
	}
	var err error
	if t.fring, err = readSN(m.Fring); err != nil {
		return nil, err
	}
	if t.selfcal, err = readSN(m.Selfcal); err != nil {
		return nil, err
	}
	return t, nil
}

func readSN(path string) (map[key]snRow, error) {
	rows := make(map[key]snRow)
	err := readRows(path, 5, func(f []string) error {
		ant, pol, err := antPol(f)
		if err != nil {
			return err
		}
		g, err := complexOf(f[2], f[3])
		if err != nil {
			return err
		}
		d, err := strconv.ParseFloat(f[4], 64)
		if err != nil {
			return err
		}
		rows[key{ant, pol}] = snRow{gain: g, delay: d}
		return nil
	})
	return rows, err
}

func readRows(path string, ncol int, fn func([]string) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrManifest, err)
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	n := 0
	for sc.Scan() {
		n++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < ncol || !isNumeric(fields[0]) {
			continue
		}
		if err := fn(fields); err != nil {
			return fmt.Errorf("%s:%d: %w", path, n, err)
		}
	}
	return sc.Err()
}

func isNumeric(s string) bool {
	_, err := strconv.Atoi(s)
	return err == nil
}

func antPol(f []string) (int, string, error) {
	ant, err := strconv.Atoi(f[0])
	if err != nil {
		return 0, "", err
	}
	return ant - 1, strings.ToLower(f[1]), nil
}

func complexOf(re, im string) (complex128, error) {
	r, err := strconv.ParseFloat(re, 64)
	if err != nil {
		return 0, err
	}
	i, err := strconv.ParseFloat(im, 64)
	if err != nil {
		return 0, err
	}
	return complex(r, i), nil
}

// PhaseBandpass implements Source.
func (t *Tables) PhaseBandpass(iant int, pol string) ([]complex128, error) {
	bp, ok := t.bandpass[key{iant, strings.ToLower(pol)}]
	if !ok {
		return nil, fmt.Errorf("%w: bandpass antenna %d pol %s", ErrNoRows, iant, pol)
	}
	for ch, v := range bp {
		if cmplx.IsNaN(v) {
			return nil, fmt.Errorf("%w: bandpass antenna %d pol %s channel %d", ErrNoRows, iant, pol, ch)
		}
	}
	return append([]complex128(nil), bp...), nil
}

// DelayFring implements Source.
func (t *Tables) DelayFring(iant int, pol string) (float64, error) {
	r, ok := t.fring[key{iant, strings.ToLower(pol)}]
	if !ok {
		return 0, fmt.Errorf("%w: fring antenna %d pol %s", ErrNoRows, iant, pol)
	}
	return r.delay, nil
}

// PhaseFring implements Source.
func (t *Tables) PhaseFring(iant int, pol string) (complex128, error) {
	r, ok := t.fring[key{iant, strings.ToLower(pol)}]
	if !ok {
		return 0, fmt.Errorf("%w: fring antenna %d pol %s", ErrNoRows, iant, pol)
	}
	return r.gain, nil
}

// PhaseSelfcal implements Source.
func (t *Tables) PhaseSelfcal(iant int, pol string) (complex128, error) {
	r, ok := t.selfcal[key{iant, strings.ToLower(pol)}]
	if !ok {
		return 0, fmt.Errorf("%w: selfcal antenna %d pol %s", ErrNoRows, iant, pol)
	}
	return r.gain, nil
}
