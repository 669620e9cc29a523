package queue

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/zsyeh/coursepilot/internal/models"
)

// ManifestEntry is one record of the manifest file.
type ManifestEntry struct {
	Name string `json:"name"`
	ID   string `json:"id"`
}

// UnmarshalJSON accepts numeric ids from hand-edited manifests.
func (e *ManifestEntry) UnmarshalJSON(data []byte) error {
	var raw struct {
		Name string          `json:"name"`
		ID   json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	e.Name = raw.Name

	var s string
	if err := json.Unmarshal(raw.ID, &s); err == nil {
		e.ID = s
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(raw.ID, &n); err != nil {
		return fmt.Errorf("manifest id must be a string or number: %s", raw.ID)
	}
	e.ID = n.String()
	return nil
}

// LoadManifest reads the manifest at path.
func LoadManifest(path string) ([]ManifestEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var entries []ManifestEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}
	return entries, nil
}

// SaveManifest writes entries as indented UTF-8 JSON without escaping
// non-ASCII text.
func SaveManifest(path string, entries []ManifestEntry) error {
	if entries == nil {
		entries = []ManifestEntry{}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(entries); err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating manifest dir: %w", err)
		}
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}
	return nil
}

// Normalize turns catalog entries into manifest records. Share courses are
// addressed by their secret, hike courses by their numeric id. Entries
// without an id and repeated ids are dropped.
func Normalize(catalog []models.CatalogEntry) []ManifestEntry {
	seen := make(map[string]bool, len(catalog))
	entries := make([]ManifestEntry, 0, len(catalog))
	for _, c := range catalog {
		var id string
		switch c.Source {
		case models.SourceHike:
			if c.CourseID != 0 {
				id = strconv.FormatInt(c.CourseID, 10)
			}
		default:
			id = c.Secret
		}
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		entries = append(entries, ManifestEntry{Name: c.Name, ID: id})
	}
	return entries
}
