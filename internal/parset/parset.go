// Package parset reads flat "key = value" telescope parameter sets.
package parset

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// ErrMissingKey is returned when a required parameter is absent.
var ErrMissingKey = errors.New("parset: missing key")

// RefAntKey names the fringe-rotation reference antenna.
const RefAntKey = "cp.ingest.tasks.FringeRotationTask.params.refant"

// Table is an immutable parameter lookup.
type Table map[string]string

// Load reads a parameter set file.
func Load(path string) (Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open parset: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads "key = value" lines, skipping comments and lines without '='.
func Parse(r io.Reader) (Table, error) {
	t := make(Table)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if !strings.Contains(line, "=") || strings.HasPrefix(line, "#") {
			continue
		}
		name, value, _ := strings.Cut(strings.TrimSpace(line), "=")
		t[strings.TrimSpace(name)] = strings.TrimSpace(value)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read parset: %w", err)
	}
	return t, nil
}

// Get returns a required value.
func (t Table) Get(key string) (string, error) {
	v, ok := t[key]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrMissingKey, key)
	}
	return v, nil
}

// AntennaLocation returns the ITRF position (m) of antenna number antNo.
func (t Table) AntennaLocation(antNo int) ([3]float64, error) {
	key := fmt.Sprintf("common.antenna.ant%d.location.itrf", antNo)
	v, err := t.Get(key)
	if err != nil {
		return [3]float64{}, err
	}
	v = strings.NewReplacer("[", "", "]", "").Replace(v)
	parts := strings.Split(v, ",")
	if len(parts) != 3 {
		return [3]float64{}, fmt.Errorf("parset: %s: expected 3 coordinates, got %d", key, len(parts))
	}
	var loc [3]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return [3]float64{}, fmt.Errorf("parset: %s: %w", key, err)
		}
		loc[i] = f
	}
	return loc, nil
}

// FixedDelayMicros returns the fixed instrumental delay of antenna antNo,
// stored in nanoseconds, converted to microseconds.
func (t Table) FixedDelayMicros(antNo int) (float64, error) {
	key := fmt.Sprintf("common.antenna.ant%d.delay", antNo)
	v, err := t.Get(key)
	if err != nil {
		return 0, err
	}
	ns, err := strconv.ParseFloat(strings.TrimSpace(strings.Replace(v, "ns", "", 1)), 64)
	if err != nil {
		return 0, fmt.Errorf("parset: %s: %w", key, err)
	}
	return ns / 1e3, nil
}

// RefAnt returns the lower-cased reference antenna name.
func (t Table) RefAnt() (string, error) {
	v, err := t.Get(RefAntKey)
	if err != nil {
		return "", err
	}
	return strings.ToLower(v), nil
}
