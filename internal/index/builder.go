package index

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/sha1n/pagesearch/internal/config"
	"github.com/sha1n/pagesearch/internal/domain"
)

// DocumentParser extracts transcription lines from a source document.
type DocumentParser interface {
	ParseDocument(path string) ([]domain.TextLine, error)
}

// ProgressFunc receives a notification after each document is processed
// during a build pass. It runs synchronously on the building goroutine and
// must not panic; a panic aborts the pass before its commit.
type ProgressFunc func(done, total int, path string)

// DocumentFailure records a document that could not be processed.
type DocumentFailure struct {
	Path string
	Err  error
}

// BuildReport summarizes a single build pass over the corpus.
type BuildReport struct {
	DocsIndexed  int // documents whose lines were added or updated
	DocsSkipped  int // documents skipped because they were unchanged
	LinesWritten int
	LinesDeleted int // stale lines removed from changed documents
	Failures     []DocumentFailure
}

// Builder keeps the line index in sync with a corpus of transcribed documents.
type Builder struct {
	settings *config.IndexSettings
	store    *Store
	tracker  *Tracker
	scanner  *Scanner
	parser   DocumentParser
	progress ProgressFunc
}

// NewBuilder creates a builder for the configured corpus and index location.
func NewBuilder(settings *config.IndexSettings, parser DocumentParser) *Builder {
	patterns := settings.Exclude
	if len(patterns) == 0 {
		patterns = DefaultExcludePatterns
	}

	return &Builder{
		settings: settings,
		store:    NewStore(settings.Dir),
		tracker:  NewTracker(settings.Dir),
		scanner:  NewScannerWithPatterns(patterns),
		parser:   parser,
	}
}

// SetProgress registers a callback invoked after each document is processed.
// A nil callback disables progress reporting.
func (b *Builder) SetProgress(fn ProgressFunc) {
	b.progress = fn
}

// Store returns the store the builder writes to.
func (b *Builder) Store() *Store {
	return b.store
}

// buildState carries the per-pass bookkeeping shared across documents.
type buildState struct {
	writer  *Writer
	images  map[string]string
	meta    Meta
	newMeta Meta
	report  *BuildReport
}

// Build walks the corpus once and brings the index up to date with it.
// Unchanged documents are skipped without re-parsing, changed ones are
// re-indexed in full, and documents that fail to parse are recorded on the
// report and retried on the next pass. All index mutations are committed in
// a single batch.
func (b *Builder) Build(ctx context.Context) (*BuildReport, error) {
	root := b.settings.DocumentDir
	docs, err := b.scanner.ScanDocuments(root)
	if err != nil {
		return nil, fmt.Errorf("failed to scan documents: %w", err)
	}

	report := &BuildReport{}
	if len(docs) == 0 {
		slog.Info("No documents to index")
		return report, nil
	}

	images, err := b.scanner.ScanImages(b.settings.ImageRoot())
	if err != nil {
		return nil, fmt.Errorf("failed to scan images: %w", err)
	}

	if err := os.MkdirAll(b.settings.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}

	meta, err := b.tracker.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load index metadata: %w", err)
	}

	writer, err := b.store.BeginWrite()
	if err != nil {
		return nil, err
	}
	defer func() { _ = writer.Discard() }()

	st := &buildState{
		writer:  writer,
		images:  images,
		meta:    meta,
		newMeta: Meta{},
		report:  report,
	}

	for i, doc := range docs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		err := b.indexDocument(st, root, doc)
		if b.progress != nil {
			b.progress(i+1, len(docs), doc)
		}
		if err != nil {
			return nil, err
		}
	}

	if err := writer.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit index batch: %w", err)
	}

	if report.DocsIndexed > 0 {
		if err := b.tracker.Save(st.newMeta); err != nil {
			return nil, fmt.Errorf("failed to save index metadata: %w", err)
		}
		slog.Info("Added or updated documents", "documents", report.DocsIndexed, "lines", report.LinesWritten)
		slog.Info("Skipped unmodified documents", "count", report.DocsSkipped)
	} else {
		slog.Info("No new or modified documents to index")
	}

	b.store.LogStats()

	return report, nil
}

// indexDocument brings a single document's lines up to date in the batch.
// Per-document problems are recorded on the report; only writer failures
// abort the pass.
func (b *Builder) indexDocument(st *buildState, root, doc string) error {
	full := filepath.Join(root, doc)

	info, err := os.Stat(full)
	if err != nil {
		slog.Error("Failed to stat document", "document", doc, "error", err)
		st.report.Failures = append(st.report.Failures, DocumentFailure{Path: doc, Err: err})
		return nil
	}

	mtime := MtimeSeconds(info)
	if !st.meta.ShouldReindex(doc, mtime) {
		slog.Debug("Skipping unchanged document", "document", doc)
		st.newMeta[doc] = st.meta[doc]
		st.report.DocsSkipped++
		return nil
	}

	lines, err := b.parser.ParseDocument(full)
	if err != nil {
		slog.Error("Failed to parse document", "document", doc, "error", err)
		st.report.Failures = append(st.report.Failures, DocumentFailure{Path: doc, Err: err})
		return nil
	}

	if len(lines) == 0 {
		slog.Debug("No text lines found, skipping", "document", doc)
		return nil
	}

	imagePath, ok := st.images[ImageKey(doc)]
	if !ok {
		slog.Debug("No matching page image found, skipping", "document", doc)
		return nil
	}

	keep := make(map[string]bool, len(lines))
	for _, line := range lines {
		rec := domain.LineRecord{
			LineID:       LineID(doc, line.Coords),
			DocumentPath: doc,
			Content:      line.Transcription,
			Coords:       line.Coords,
			ImagePath:    imagePath,
		}
		keep[rec.LineID] = true

		if err := st.writer.Upsert(rec); err != nil {
			return fmt.Errorf("failed to queue line for %s: %w", doc, err)
		}
		st.report.LinesWritten++
	}

	// Drop previously indexed lines whose coordinates no longer exist
	existing, err := st.writer.DocumentLineIDs(doc)
	if err != nil {
		return fmt.Errorf("failed to look up existing lines for %s: %w", doc, err)
	}
	for _, id := range existing {
		if !keep[id] {
			st.writer.Delete(id)
			st.report.LinesDeleted++
		}
	}

	st.report.DocsIndexed++
	st.newMeta[doc] = mtime
	slog.Debug("Indexed document", "document", doc, "lines", len(lines))

	return nil
}
