package index

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/index/scorch"
	"github.com/blevesearch/bleve/v2/index/scorch/mergeplan"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/sha1n/pagesearch/internal/domain"
)

const (
	// IndexDirname is the name of the Bleve index directory inside the index location
	IndexDirname = "lines.bleve"

	// LockFilename is the name of the write lock file inside the index location
	LockFilename = "write.lock"
)

var (
	// ErrIndexNotFound indicates no index exists at the configured location
	ErrIndexNotFound = errors.New("index does not exist")

	// ErrIndexLocked indicates another writer currently holds the index write lock
	ErrIndexLocked = errors.New("index is locked by another writer")

	// ErrWriterClosed indicates the writer was already committed or discarded
	ErrWriterClosed = errors.New("writer is closed")
)

// storedLine is the document shape kept in the Bleve index. Coordinates are
// stored in the PageXML points syntax so they project back losslessly.
type storedLine struct {
	LineID       string `json:"line_id"`
	DocumentPath string `json:"document_path"`
	Content      string `json:"content"`
	Coords       string `json:"coords"`
	ImagePath    string `json:"image_path"`
}

// Store owns the on-disk search index for transcribed lines at a fixed
// location. The location also holds the change-tracking metadata and the
// write lock, so everything the index needs travels in one directory.
type Store struct {
	dir string
}

// NewStore creates a store rooted at the given index location.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the index location.
func (s *Store) Dir() string {
	return s.dir
}

// IndexPath returns the path of the Bleve index directory.
func (s *Store) IndexPath() string {
	return filepath.Join(s.dir, IndexDirname)
}

// LockPath returns the path of the write lock file.
func (s *Store) LockPath() string {
	return filepath.Join(s.dir, LockFilename)
}

// Exists checks whether an index has been created at this location.
func (s *Store) Exists() bool {
	_, err := os.Stat(s.IndexPath())
	return err == nil
}

// CreateIndexMapping creates the Bleve index mapping for line documents.
func CreateIndexMapping() mapping.IndexMapping {
	docMapping := bleve.NewDocumentMapping()

	// Content - analyzed for full-text search. Term vectors are required for
	// matched-term extraction from hit locations.
	contentField := bleve.NewTextFieldMapping()
	contentField.Analyzer = standard.Name
	contentField.Store = true
	contentField.IncludeTermVectors = true
	docMapping.AddFieldMappingsAt(domain.LineFieldContent, contentField)

	// Document path - keyword (not analyzed), stored; term queries on it drive
	// per-document reconciliation and the corpus listing
	pathField := bleve.NewTextFieldMapping()
	pathField.Analyzer = keyword.Name
	pathField.Store = true
	docMapping.AddFieldMappingsAt(domain.LineFieldDocumentPath, pathField)

	// Coords - stored only, opaque to search
	coordsField := bleve.NewTextFieldMapping()
	coordsField.Index = false
	coordsField.Store = true
	docMapping.AddFieldMappingsAt(domain.LineFieldCoords, coordsField)

	// Image path - stored only
	imageField := bleve.NewTextFieldMapping()
	imageField.Index = false
	imageField.Store = true
	docMapping.AddFieldMappingsAt(domain.LineFieldImagePath, imageField)

	// Line id - stored but not indexed (we use the document ID)
	idField := bleve.NewTextFieldMapping()
	idField.Index = false
	idField.Store = true
	docMapping.AddFieldMappingsAt(domain.LineFieldID, idField)

	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultMapping = docMapping
	indexMapping.DefaultAnalyzer = standard.Name
	// Bare query terms search line content
	indexMapping.DefaultField = domain.LineFieldContent

	return indexMapping
}

// openForWrite opens the index read-write, creating it on first use.
func (s *Store) openForWrite() (bleve.Index, error) {
	idx, err := bleve.Open(s.IndexPath())
	if err == nil {
		return idx, nil
	}

	idx, err = bleve.New(s.IndexPath(), CreateIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create index: %w", err)
	}

	return idx, nil
}

// BeginWrite opens the index for writing, creating it on first use, and takes
// the write lock. At most one writer can exist per index location, in-process
// or across processes; a concurrent attempt fails with ErrIndexLocked rather
// than blocking.
func (s *Store) BeginWrite() (*Writer, error) {
	lock := NewFileLock(s.LockPath())
	acquired, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire write lock: %w", err)
	}
	if !acquired {
		return nil, fmt.Errorf("%s: %w", s.LockPath(), ErrIndexLocked)
	}

	idx, err := s.openForWrite()
	if err != nil {
		_ = lock.Unlock()
		return nil, err
	}

	return &Writer{index: idx, batch: idx.NewBatch(), lock: lock}, nil
}

// OpenReadOnly opens the index for searching without taking the write lock,
// so queries can run while a build holds the writer elsewhere.
func (s *Store) OpenReadOnly() (bleve.Index, error) {
	if !s.Exists() {
		return nil, fmt.Errorf("%s: %w", s.IndexPath(), ErrIndexNotFound)
	}

	idx, err := bleve.OpenUsing(s.IndexPath(), map[string]any{"read_only": true})
	if err != nil {
		return nil, fmt.Errorf("failed to open index: %w", err)
	}

	return idx, nil
}

// Optimize compacts the index into as few segments as possible. If a build is
// in progress it waits up to waitTimeout for the write lock. Index backends
// without forced merges make this a no-op.
func (s *Store) Optimize(ctx context.Context, waitTimeout time.Duration) (err error) {
	if !s.Exists() {
		return fmt.Errorf("%s: %w", s.IndexPath(), ErrIndexNotFound)
	}

	lock := NewFileLock(s.LockPath())
	if err := lock.LockWithContext(ctx, waitTimeout); err != nil {
		return fmt.Errorf("failed to acquire write lock: %w", err)
	}
	defer func() {
		if uerr := lock.Unlock(); uerr != nil && err == nil {
			err = uerr
		}
	}()

	idx, err := bleve.Open(s.IndexPath())
	if err != nil {
		return fmt.Errorf("failed to open index: %w", err)
	}
	defer func() {
		if cerr := idx.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	advanced, err := idx.Advanced()
	if err != nil {
		return fmt.Errorf("failed to access index internals: %w", err)
	}

	sc, ok := advanced.(*scorch.Scorch)
	if !ok {
		slog.Debug("Index backend does not support forced merges, skipping")
		return nil
	}

	if merr := sc.ForceMerge(ctx, &mergeplan.SingleSegmentMergePlanOptions); merr != nil {
		return fmt.Errorf("force merge failed: %w", merr)
	}

	return nil
}

// Stats describes the current size of the index.
type Stats struct {
	Lines     uint64
	SizeBytes int64
}

// Stats reports the number of indexed lines and the index size on disk.
func (s *Store) Stats() (stats Stats, err error) {
	idx, err := s.OpenReadOnly()
	if err != nil {
		return Stats{}, err
	}
	defer func() {
		if cerr := idx.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	count, err := idx.DocCount()
	if err != nil {
		return Stats{}, fmt.Errorf("failed to count lines: %w", err)
	}

	size, err := dirSize(s.IndexPath())
	if err != nil {
		return Stats{}, fmt.Errorf("failed to measure index size: %w", err)
	}

	return Stats{Lines: count, SizeBytes: size}, nil
}

// LogStats logs the line count and on-disk size of the index.
func (s *Store) LogStats() {
	stats, err := s.Stats()
	if err != nil {
		slog.Warn("Failed to collect index stats", "error", err)
		return
	}
	slog.Info("Index stats",
		"lines", stats.Lines,
		"size_mb", fmt.Sprintf("%.2f", float64(stats.SizeBytes)/(1024*1024)))
}

// dirSize sums the sizes of all regular files under path.
func dirSize(path string) (int64, error) {
	var total int64
	err := filepath.WalkDir(path, func(p string, d fs.DirEntry, werr error) error {
		if werr != nil {
			return werr
		}
		if d.IsDir() {
			return nil
		}
		info, ierr := d.Info()
		if ierr != nil {
			return ierr
		}
		total += info.Size()
		return nil
	})
	return total, err
}

// Writer batches index mutations into a single transaction. Queued operations
// become visible all at once when Commit applies them; Discard drops them.
// Exactly one of Commit or Discard terminates a writer.
type Writer struct {
	index  bleve.Index
	batch  *bleve.Batch
	lock   *FileLock
	closed bool
}

// Upsert queues a line for indexing, keyed on its line id. Committing a
// queued id that already exists replaces the stored document in place.
func (w *Writer) Upsert(rec domain.LineRecord) error {
	if w.closed {
		return ErrWriterClosed
	}

	doc := storedLine{
		LineID:       rec.LineID,
		DocumentPath: rec.DocumentPath,
		Content:      rec.Content,
		Coords:       domain.FormatPoints(rec.Coords),
		ImagePath:    rec.ImagePath,
	}
	return w.batch.Index(rec.LineID, doc)
}

// Delete queues removal of a line id. Unknown ids are a no-op at commit time.
func (w *Writer) Delete(lineID string) {
	if w.closed {
		return
	}
	w.batch.Delete(lineID)
}

// Queued returns the number of operations waiting in the batch.
func (w *Writer) Queued() int {
	return w.batch.Size()
}

// DocumentLineIDs returns the ids of every line committed for the given
// document path. Operations still queued in the batch are not visible.
func (w *Writer) DocumentLineIDs(docPath string) ([]string, error) {
	if w.closed {
		return nil, ErrWriterClosed
	}

	count, err := w.index.DocCount()
	if err != nil {
		return nil, fmt.Errorf("failed to count lines: %w", err)
	}
	if count == 0 {
		return nil, nil
	}

	q := bleve.NewTermQuery(docPath)
	q.SetField(domain.LineFieldDocumentPath)
	req := bleve.NewSearchRequest(q)
	req.Size = int(count)

	res, err := w.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate document lines: %w", err)
	}

	ids := make([]string, 0, len(res.Hits))
	for _, hit := range res.Hits {
		ids = append(ids, hit.ID)
	}
	return ids, nil
}

// Commit atomically applies every queued operation, then releases the index
// and the write lock. Readers observe either none or all of the batch.
func (w *Writer) Commit() (err error) {
	if w.closed {
		return ErrWriterClosed
	}
	w.closed = true
	defer w.release(&err)

	if berr := w.index.Batch(w.batch); berr != nil {
		return fmt.Errorf("batch commit failed: %w", berr)
	}
	return nil
}

// Discard releases the writer without applying queued operations. Calling it
// after Commit is a no-op, so it is safe to defer right after BeginWrite.
func (w *Writer) Discard() (err error) {
	if w.closed {
		return nil
	}
	w.closed = true
	w.release(&err)
	return err
}

// release closes the index and drops the write lock, keeping the first error.
func (w *Writer) release(errp *error) {
	if cerr := w.index.Close(); cerr != nil && *errp == nil {
		*errp = fmt.Errorf("failed to close index: %w", cerr)
	}
	if uerr := w.lock.Unlock(); uerr != nil && *errp == nil {
		*errp = fmt.Errorf("failed to release write lock: %w", uerr)
	}
}
