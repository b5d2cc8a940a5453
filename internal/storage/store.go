package storage

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const (
	metadataFile = "metadata.json"
	eventsFile   = "events.csv"
	runTimestamp = "20060102T150405"
)

type Store struct {
	baseDir string
}

func New(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

func (s *Store) Init() error {
	return os.MkdirAll(s.baseDir, 0755)
}

func (s *Store) BaseDir() string { return s.baseDir }

type RunMetadata struct {
	ID                  string             `json:"id"`
	Run                 string             `json:"run"`
	Timestamp           time.Time          `json:"timestamp"`
	Seed                uint64             `json:"seed"`
	Classes             []string           `json:"classes"`
	Objects             int                `json:"objects"`
	ResimulateAfterFail bool               `json:"resimulate_after_fail"`
	Trials              int                `json:"trials"`
	Metrics             map[string]float64 `json:"metrics"`
}

// RunName is the directory name of a run:
// <YYYYMMDDTHHMMSS>_<seed>_<class>..._<objects>.
func RunName(at time.Time, seed uint64, classes []string, objects int) string {
	parts := []string{at.Format(runTimestamp), strconv.FormatUint(seed, 10)}
	parts = append(parts, classes...)
	parts = append(parts, strconv.Itoa(objects))
	return strings.Join(parts, "_")
}

// CreateRun makes the directory of a new run and returns its name.
func (s *Store) CreateRun(at time.Time, seed uint64, classes []string, objects int) (string, error) {
	run := RunName(at, seed, classes, objects)
	if err := os.MkdirAll(s.RunDir(run), 0755); err != nil {
		return "", errors.Wrapf(err, "creating run directory %s", run)
	}
	return run, nil
}

func (s *Store) RunDir(run string) string {
	return filepath.Join(s.baseDir, run)
}

// SaveMetadata writes metadata.json into the run directory, assigning an id
// on first save.
func (s *Store) SaveMetadata(meta *RunMetadata) error {
	if meta.ID == "" {
		meta.ID = uuid.NewString()
	}
	path := filepath.Join(s.RunDir(meta.Run), metadataFile)
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(meta)
}

// EventRow is one scored estimate or trial transition in events.csv.
type EventRow struct {
	Trial     int
	Kind      string
	Object    string
	Accepted  bool
	Reason    string
	AngleDeg  float64
	Remaining int
}

var eventHeader = []string{"trial", "kind", "object", "accepted", "reason", "angle_deg", "remaining"}

func (s *Store) SaveEvents(run string, rows []EventRow) error {
	path := filepath.Join(s.RunDir(run), eventsFile)
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(eventHeader); err != nil {
		return err
	}
	for _, r := range rows {
		row := []string{
			strconv.Itoa(r.Trial),
			r.Kind,
			r.Object,
			strconv.FormatBool(r.Accepted),
			r.Reason,
			strconv.FormatFloat(r.AngleDeg, 'f', 6, 64),
			strconv.Itoa(r.Remaining),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func (s *Store) LoadEvents(run string) ([]EventRow, error) {
	f, err := os.Open(filepath.Join(s.RunDir(run), eventsFile))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) < 2 {
		return []EventRow{}, nil
	}

	rows := make([]EventRow, 0, len(records)-1)
	for _, rec := range records[1:] {
		if len(rec) != len(eventHeader) {
			continue
		}
		trial, err := strconv.Atoi(rec[0])
		if err != nil {
			continue
		}
		accepted, _ := strconv.ParseBool(rec[3])
		angle, _ := strconv.ParseFloat(rec[5], 64)
		remaining, _ := strconv.Atoi(rec[6])
		rows = append(rows, EventRow{
			Trial:     trial,
			Kind:      rec[1],
			Object:    rec[2],
			Accepted:  accepted,
			Reason:    rec[4],
			AngleDeg:  angle,
			Remaining: remaining,
		})
	}
	return rows, nil
}

// List returns the metadata of every run, newest first.
func (s *Store) List() ([]RunMetadata, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunMetadata{}, nil
		}
		return nil, err
	}

	runs := make([]RunMetadata, 0)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		meta, err := s.Load(entry.Name())
		if err != nil {
			continue
		}
		runs = append(runs, *meta)
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].Timestamp.After(runs[j].Timestamp) })
	return runs, nil
}

func (s *Store) Load(run string) (*RunMetadata, error) {
	data, err := os.ReadFile(filepath.Join(s.RunDir(run), metadataFile))
	if err != nil {
		return nil, err
	}
	var meta RunMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, errors.Wrapf(err, "parsing metadata of %s", run)
	}
	return &meta, nil
}
