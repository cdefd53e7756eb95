package index

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// MetaFilename is the name of the change-tracking metadata file, stored
// inside the index location next to the Bleve index itself.
const MetaFilename = "index_meta.json"

// Meta maps document paths to the modification time, in seconds since the
// epoch, observed when the document was last indexed. The on-disk form is a
// flat JSON object so the file stays trivially inspectable.
type Meta map[string]float64

// ShouldReindex reports whether a document needs (re-)indexing given its
// current modification time. Unknown documents always need indexing; known
// documents need it only when they are newer than the recorded time.
func (m Meta) ShouldReindex(docPath string, mtime float64) bool {
	recorded, ok := m[docPath]
	if !ok {
		return true
	}
	return recorded < mtime
}

// Tracker persists per-document modification times so unchanged documents can
// be skipped on subsequent build passes.
type Tracker struct {
	dir string
}

// NewTracker creates a tracker that stores its metadata inside dir.
func NewTracker(dir string) *Tracker {
	return &Tracker{dir: dir}
}

// Path returns the path to the metadata file.
func (t *Tracker) Path() string {
	return filepath.Join(t.dir, MetaFilename)
}

// Load reads the metadata mapping from disk. A missing file is not an error:
// it yields an empty mapping, which makes every document look new.
func (t *Tracker) Load() (Meta, error) {
	data, err := os.ReadFile(t.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return Meta{}, nil
		}
		return nil, fmt.Errorf("failed to read index metadata: %w", err)
	}

	var meta Meta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("failed to parse index metadata: %w", err)
	}
	if meta == nil {
		meta = Meta{}
	}

	return meta, nil
}

// Save writes the metadata mapping to disk atomically.
// Uses write-to-temp + rename so a crash never leaves a torn file behind.
func (t *Tracker) Save(meta Meta) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal index metadata: %w", err)
	}

	if err := os.MkdirAll(t.dir, 0755); err != nil {
		return fmt.Errorf("failed to create index directory: %w", err)
	}

	path := t.Path()
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write metadata temp file: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to rename metadata file: %w", err)
	}

	return nil
}

// MtimeSeconds converts a file's modification time to the float seconds
// representation recorded in the metadata mapping.
func MtimeSeconds(info os.FileInfo) float64 {
	return float64(info.ModTime().UnixNano()) / 1e9
}
