package calc

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testIM = `# model
NUM TELESCOPES:     2
TELESCOPE 0 NAME:   AK01
TELESCOPE 1 NAME:   AK02
POLYNOMIAL ORDER:   1
INTERVAL (SECS):    120
SCAN 0 NUM POLY:    2
SCAN 0 POLY 0 MJD:  58000
SCAN 0 POLY 0 SEC:  0
SCAN 0 POLY 0 SRC 0 ANT 0 DELAY (us): 10 0.5
SCAN 0 POLY 0 SRC 0 ANT 0 U (m): 1 0
SCAN 0 POLY 0 SRC 0 ANT 0 V (m): 2 0
SCAN 0 POLY 0 SRC 0 ANT 0 W (m): 3 0
SCAN 0 POLY 0 SRC 0 ANT 1 DELAY (us): 20 -0.25
SCAN 0 POLY 0 SRC 0 ANT 1 U (m): 4 0
SCAN 0 POLY 0 SRC 0 ANT 1 V (m): 5 0
SCAN 0 POLY 0 SRC 0 ANT 1 W (m): 6 0.1
SCAN 0 POLY 1 MJD:  58000
SCAN 0 POLY 1 SEC:  120
SCAN 0 POLY 1 SRC 0 ANT 0 DELAY (us): 70 0.5
SCAN 0 POLY 1 SRC 0 ANT 0 U (m): 1 0
SCAN 0 POLY 1 SRC 0 ANT 0 V (m): 2 0
SCAN 0 POLY 1 SRC 0 ANT 0 W (m): 3 0
SCAN 0 POLY 1 SRC 0 ANT 1 DELAY (us): -10 -0.25
SCAN 0 POLY 1 SRC 0 ANT 1 U (m): 4 0
SCAN 0 POLY 1 SRC 0 ANT 1 V (m): 5 0
SCAN 0 POLY 1 SRC 0 ANT 1 W (m): 18 0.1
`

func mjdAt(sec float64) float64 { return 58000 + sec/86400 }

func TestModelEval(t *testing.T) {
	m, err := Parse(strings.NewReader(testIM))
	require.NoError(t, err)
	assert.Equal(t, []string{"ak01", "ak02"}, m.Telescopes)

	res, err := m.Eval(mjdAt(10))
	require.NoError(t, err)
	assert.InDelta(t, 15, res["ak01"][Delay], 1e-6)
	assert.InDelta(t, 17.5, res["ak02"][Delay], 1e-6)
	assert.InDelta(t, 7, res["ak02"][W], 1e-6)

	res, err = m.Eval(mjdAt(130))
	require.NoError(t, err)
	assert.InDelta(t, 75, res["ak01"][Delay], 1e-6)

	_, err = m.Eval(mjdAt(1000))
	assert.ErrorIs(t, err, ErrNoPolynomial)
}

func TestParseMissingCoefficients(t *testing.T) {
	broken := strings.Replace(testIM, "SCAN 0 POLY 1 SRC 0 ANT 1 W (m): 18 0.1\n", "", 1)
	_, err := Parse(strings.NewReader(broken))
	assert.ErrorIs(t, err, ErrFormat)
}

func TestFringeAndRelative(t *testing.T) {
	m, err := Parse(strings.NewReader(testIM))
	require.NoError(t, err)
	snaps, err := Evaluate(m, mjdAt(0), mjdAt(4), mjdAt(8))
	require.NoError(t, err)

	ant, err := Fringe(snaps, "ak02", 1)
	require.NoError(t, err)
	assert.InDelta(t, 20, ant.DelayStart, 1e-6)
	assert.InDelta(t, 19, ant.Delay, 1e-6)
	assert.InDelta(t, 18, ant.DelayEnd, 1e-6)
	assert.InDelta(t, -2, ant.DelayRate, 1e-6)
	assert.InDelta(t, 4, ant.U, 1e-9)

	ref, err := Fringe(snaps, "ak01", 1)
	require.NoError(t, err)
	delay, rate := Relative(ant, ref)
	assert.InDelta(t, 10, delay, 1e-6)
	assert.InDelta(t, -6, rate, 1e-6)

	perInt, err := Fringe(snaps, "ak01", 4)
	require.NoError(t, err)
	assert.InDelta(t, 1, perInt.DelayRate, 1e-6)

	_, err = Fringe(snaps, "ak09", 1)
	assert.ErrorIs(t, err, ErrUnknownAntenna)
}

func TestParseSource(t *testing.T) {
	in := "NUM SOURCES: 1\nSOURCE 0 NAME: FRB181112\nSOURCE 0 RA: 3.14159265358979\nSOURCE 0 DEC: -0.5\nJOB START TIME: 58000\n"
	src, err := ParseSource(strings.NewReader(in))
	require.NoError(t, err)
	assert.Equal(t, "FRB181112", src.Name)
	assert.InDelta(t, 180, src.RA, 1e-9)
	assert.InDelta(t, -28.6478897565, src.Dec, 1e-6)

	_, err = ParseSource(strings.NewReader("NUM SOURCES: 2\n"))
	assert.ErrorIs(t, err, ErrFormat)
}
