package calc

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
)

// Source is the phase centre of a model.
type Source struct {
	Name string
	RA   float64 // degrees
	Dec  float64 // degrees
}

// LoadSource reads the single source from a ".calc" file of "KEY: value"
// lines. RA and Dec are stored in radians in the file.
func LoadSource(path string) (Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return Source{}, fmt.Errorf("open calc file: %w", err)
	}
	defer f.Close()
	return ParseSource(f)
}

// ParseSource parses the calc file format from r.
func ParseSource(r io.Reader) (Source, error) {
	d := make(map[string]string)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		bits := strings.Split(line, ":")
		if len(bits) != 2 {
			continue
		}
		d[strings.TrimSpace(bits[0])] = strings.TrimSpace(bits[1])
	}
	if err := sc.Err(); err != nil {
		return Source{}, err
	}
	if d["NUM SOURCES"] != "1" {
		return Source{}, fmt.Errorf("%w: expected exactly one source, got %q", ErrFormat, d["NUM SOURCES"])
	}
	ra, err := strconv.ParseFloat(d["SOURCE 0 RA"], 64)
	if err != nil {
		return Source{}, fmt.Errorf("%w: source RA: %v", ErrFormat, err)
	}
	dec, err := strconv.ParseFloat(d["SOURCE 0 DEC"], 64)
	if err != nil {
		return Source{}, fmt.Errorf("%w: source Dec: %v", ErrFormat, err)
	}
	return Source{
		Name: d["SOURCE 0 NAME"],
		RA:   ra * 180 / math.Pi,
		Dec:  dec * 180 / math.Pi,
	}, nil
}
