package report

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Entry is the scalar part of a logged record.
type Entry struct {
	Index             int
	Recognized        string
	Closest           string
	Reason            string
	AngleDeg          float64
	TranslationLength float64
}

// ParseRecords reads the records of a success, error or inestimable log.
func ParseRecords(r io.Reader) ([]Entry, error) {
	var (
		entries []Entry
		cur     *Entry
	)
	sc := bufio.NewScanner(r)
	for line := 1; sc.Scan(); line++ {
		text := strings.TrimSpace(sc.Text())
		if strings.HasPrefix(text, "[") && strings.HasSuffix(text, "]") {
			n, err := strconv.Atoi(text[1 : len(text)-1])
			if err != nil {
				return nil, errors.Wrapf(err, "line %d: bad record index", line)
			}
			entries = append(entries, Entry{Index: n})
			cur = &entries[len(entries)-1]
			continue
		}
		if cur == nil || !strings.HasPrefix(text, "@") {
			continue
		}
		key, value, ok := strings.Cut(text[1:], ":")
		if !ok {
			continue
		}
		var err error
		switch key {
		case "Object_Recognized":
			cur.Recognized = value
		case "Closest_Object":
			cur.Closest = value
		case "Reason":
			cur.Reason = value
		case "Error Quaternion Angle (degree)":
			cur.AngleDeg, err = strconv.ParseFloat(value, 64)
		case "Error Translation Length":
			cur.TranslationLength, err = strconv.ParseFloat(value, 64)
		}
		if err != nil {
			return nil, errors.Wrapf(err, "line %d: %s", line, key)
		}
	}
	return entries, sc.Err()
}

// ReadValues reads a file of one number per line.
func ReadValues(path string) ([]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []float64
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		v, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing %s", path)
		}
		out = append(out, v)
	}
	return out, sc.Err()
}

// Summary collects the logs of one run directory.
type Summary struct {
	Successes    []Entry
	Errors       []Entry
	Inestimable  []Entry
	TimeToSteady []float64
	SuccessRuns  []float64
}

// ReasonCounts tallies rejection reasons of the error log.
func (s Summary) ReasonCounts() map[string]int {
	out := map[string]int{}
	for _, e := range s.Errors {
		reason := e.Reason
		if reason == "" {
			reason = "unknown"
		}
		out[reason]++
	}
	return out
}

// Load reads every log file of dir. Missing files are treated as empty.
func Load(dir string) (*Summary, error) {
	s := &Summary{}
	for name, dst := range map[string]*[]Entry{
		SuccessLog:     &s.Successes,
		ErrorLog:       &s.Errors,
		InestimableLog: &s.Inestimable,
	} {
		entries, err := readRecordFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		*dst = entries
	}
	for name, dst := range map[string]*[]float64{
		TimeToSteadyLog:    &s.TimeToSteady,
		SuccessBetweenFail: &s.SuccessRuns,
	} {
		values, err := ReadValues(filepath.Join(dir, name))
		if err != nil && !os.IsNotExist(err) {
			return nil, err
		}
		*dst = values
	}
	return s, nil
}

func readRecordFile(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	entries, err := ParseRecords(f)
	return entries, errors.Wrapf(err, "parsing %s", path)
}
