package calibration

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Policy decides what Interpolate does with a raw value outside the
// calibrated domain.
type Policy string

const (
	// PolicyClamp returns the temperature of the nearest boundary sample.
	PolicyClamp Policy = "clamp"
	// PolicyExtrapolate extends the outermost segment linearly and logs
	// a warning.
	PolicyExtrapolate Policy = "extrapolate"
)

// Valid reports whether p is a known policy.
func (p Policy) Valid() bool {
	return p == PolicyClamp || p == PolicyExtrapolate
}

// MinSamples is the smallest usable table.
const MinSamples = 2

// CalibrationError means a table could not be built.
type CalibrationError struct {
	Source string
	Reason string
}

func (e *CalibrationError) Error() string {
	if e.Source == "" {
		return "calibration: " + e.Reason
	}
	return fmt.Sprintf("calibration %s: %s", e.Source, e.Reason)
}

// Sample is one calibration point.
type Sample struct {
	Raw         float64 `json:"raw"`
	Temperature float64 `json:"temperature"`
}

// Table is a piecewise-linear raw-to-temperature curve. It is immutable
// after Load and safe for concurrent use.
type Table struct {
	name    string
	policy  Policy
	samples []Sample
}

// Sentinel is returned by Interpolate for raw values it cannot convert.
func Sentinel() float64 {
	return math.NaN()
}

// IsSentinel reports whether v is the "no temperature" sentinel.
func IsSentinel(v float64) bool {
	return math.IsNaN(v)
}

// New builds a table from samples. Samples are copied and sorted by raw
// value.
func New(name string, policy Policy, samples []Sample) (*Table, error) {
	if !policy.Valid() {
		return nil, &CalibrationError{Source: name, Reason: fmt.Sprintf("unknown policy %q", policy)}
	}
	sorted := make([]Sample, len(samples))
	copy(sorted, samples)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Raw < sorted[j].Raw })

	// Repeated raw values would make a zero-width segment; the first wins.
	s := sorted[:0]
	for i, v := range sorted {
		if i > 0 && v.Raw == s[len(s)-1].Raw {
			logrus.WithFields(logrus.Fields{
				"table": name,
				"raw":   v.Raw,
			}).Warn("dropping duplicate calibration sample")
			continue
		}
		s = append(s, v)
	}

	if len(s) < MinSamples {
		return nil, &CalibrationError{
			Source: name,
			Reason: fmt.Sprintf("need at least %d valid samples, got %d", MinSamples, len(s)),
		}
	}

	return &Table{name: name, policy: policy, samples: s}, nil
}

// Load parses CSV from r: a header row followed by (temperature, raw)
// rows. Rows that are short or do not parse as two finite numbers are
// skipped.
func Load(name string, r io.Reader, policy Policy) (*Table, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var samples []Sample
	skipped := 0
	header := true
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if pkgerrors.As(err, &perr) {
				skipped++
				continue
			}
			return nil, pkgerrors.Wrapf(err, "failed to read calibration %s", name)
		}
		if header {
			header = false
			continue
		}

		s, ok := parseRow(record)
		if !ok {
			skipped++
			continue
		}
		samples = append(samples, s)
	}

	if skipped > 0 {
		logrus.WithFields(logrus.Fields{
			"table":   name,
			"skipped": skipped,
		}).Debug("skipped malformed calibration rows")
	}

	t, err := New(name, policy, samples)
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"table":   name,
		"samples": len(t.samples),
		"policy":  policy,
	}).Info("calibration loaded")

	return t, nil
}

// LoadFile opens path and calls Load with the file name as table name.
func LoadFile(name, path string, policy Policy) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &CalibrationError{Source: name, Reason: err.Error()}
	}
	defer f.Close()

	return Load(name, f, policy)
}

func parseRow(record []string) (Sample, bool) {
	if len(record) < 2 {
		return Sample{}, false
	}
	ts, rs := strings.TrimSpace(record[0]), strings.TrimSpace(record[1])
	if ts == "" || rs == "" {
		return Sample{}, false
	}
	temp, err := strconv.ParseFloat(ts, 64)
	if err != nil || math.IsNaN(temp) || math.IsInf(temp, 0) {
		return Sample{}, false
	}
	raw, err := strconv.ParseFloat(rs, 64)
	if err != nil || math.IsNaN(raw) || math.IsInf(raw, 0) {
		return Sample{}, false
	}
	return Sample{Raw: raw, Temperature: temp}, true
}

// Name returns the table name.
func (t *Table) Name() string { return t.name }

// Policy returns the out-of-domain policy.
func (t *Table) Policy() Policy { return t.policy }

// Len returns the number of samples.
func (t *Table) Len() int { return len(t.samples) }

// Samples returns a copy of the samples in ascending raw order.
func (t *Table) Samples() []Sample {
	return append([]Sample(nil), t.samples...)
}

// Domain returns the smallest and largest calibrated raw values.
func (t *Table) Domain() (lo, hi float64) {
	return t.samples[0].Raw, t.samples[len(t.samples)-1].Raw
}

// Interpolate converts raw to a temperature. raw must be finite and
// positive, otherwise the sentinel is returned.
func (t *Table) Interpolate(raw float64) float64 {
	if math.IsNaN(raw) || math.IsInf(raw, 0) || raw <= 0 {
		return Sentinel()
	}

	lo, hi := t.Domain()
	n := len(t.samples)

	if raw < lo || raw > hi {
		if t.policy == PolicyClamp {
			if raw < lo {
				return t.samples[0].Temperature
			}
			return t.samples[n-1].Temperature
		}

		logrus.WithFields(logrus.Fields{
			"table": t.name,
			"raw":   raw,
			"min":   lo,
			"max":   hi,
		}).Warnf("%s raw value %g outside calibration range [%g, %g]", t.name, raw, lo, hi)

		if raw < lo {
			return lerp(t.samples[0], t.samples[1], raw)
		}
		return lerp(t.samples[n-2], t.samples[n-1], raw)
	}

	// First sample with Raw >= raw.
	i := sort.Search(n, func(i int) bool { return t.samples[i].Raw >= raw })
	if t.samples[i].Raw == raw {
		return t.samples[i].Temperature
	}
	return lerp(t.samples[i-1], t.samples[i], raw)
}

func lerp(a, b Sample, raw float64) float64 {
	return a.Temperature + (raw-a.Raw)/(b.Raw-a.Raw)*(b.Temperature-a.Temperature)
}
