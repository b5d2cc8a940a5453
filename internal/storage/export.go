package storage

import (
	"encoding/json"
	"io"
	"os"
)

type ExportData struct {
	Meta   RunMetadata `json:"meta"`
	Events []EventRow  `json:"events"`
}

// ExportJSON writes a run's metadata and events to path, or to stdout when
// path is "-".
func (s *Store) ExportJSON(run, path string) error {
	meta, err := s.Load(run)
	if err != nil {
		return err
	}
	events, err := s.LoadEvents(run)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	data := ExportData{Meta: *meta, Events: events}

	var w io.Writer = os.Stdout
	if path != "-" {
		file, err := os.Create(path)
		if err != nil {
			return err
		}
		defer file.Close()
		w = file
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}
