// Package candidate reads the detection record that triggered a voltage
// capture.
package candidate

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// MJDField is the zero-based column holding the detection epoch.
const MJDField = 7

// ErrCandidate is returned when a file does not hold exactly one usable
// record.
var ErrCandidate = errors.New("candidate: invalid snoopy file")

// Candidate is one whitespace-separated detection record.
type Candidate struct {
	Fields []string
}

// MJD returns the detection epoch.
func (c Candidate) MJD() (float64, error) {
	if len(c.Fields) <= MJDField {
		return 0, fmt.Errorf("%w: record has %d fields, need %d", ErrCandidate, len(c.Fields), MJDField+1)
	}
	mjd, err := strconv.ParseFloat(c.Fields[MJDField], 64)
	if err != nil {
		return 0, fmt.Errorf("%w: mjd: %v", ErrCandidate, err)
	}
	return mjd, nil
}

// Load reads a snoopy file.
func Load(path string) (Candidate, error) {
	f, err := os.Open(path)
	if err != nil {
		return Candidate{}, fmt.Errorf("open candidate: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse returns the single non-comment record. Blank lines and lines
// starting with '#' are skipped.
func Parse(r io.Reader) (Candidate, error) {
	var records [][]string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		if strings.TrimSpace(line) == "" || strings.HasPrefix(line, "#") {
			continue
		}
		records = append(records, strings.Fields(line))
	}
	if err := sc.Err(); err != nil {
		return Candidate{}, fmt.Errorf("read candidate: %w", err)
	}
	if len(records) != 1 {
		return Candidate{}, fmt.Errorf("%w: found %d records, want 1", ErrCandidate, len(records))
	}
	return Candidate{Fields: records[0]}, nil
}
