package integration

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sha1n/pagesearch/internal/config"
	"github.com/sha1n/pagesearch/internal/domain"
	"github.com/sha1n/pagesearch/internal/index"
	mcputil "github.com/sha1n/pagesearch/internal/mcp"
	"github.com/sha1n/pagesearch/internal/pagexml"
	"github.com/sha1n/pagesearch/tests/integration/testkit"
)

// ========================================
// Build Pipeline Tests
// ========================================

func TestBuildPipeline_EndToEnd(t *testing.T) {
	settings, report := buildCorpus(t, map[string][]testkit.PageLine{
		"charter": {
			{Text: "In principio erat verbum", Points: "10,20 410,20 410,60 10,60"},
			{Text: "et verbum caro factum est"},
		},
	})

	if report.DocsIndexed != 1 {
		t.Errorf("Expected 1 indexed document, got %d", report.DocsIndexed)
	}
	if report.LinesWritten != 2 {
		t.Errorf("Expected 2 written lines, got %d", report.LinesWritten)
	}

	// Both lines match, each with correct metadata and matched terms
	hits := searchCorpus(t, settings, "verbum")
	if len(hits) != 2 {
		t.Fatalf("Expected 2 hits, got %d", len(hits))
	}
	for _, hit := range hits {
		if hit.Line.DocumentPath != "charter.xml" {
			t.Errorf("Expected document 'charter.xml', got %q", hit.Line.DocumentPath)
		}
		if !strings.HasSuffix(hit.Line.ImagePath, "charter.jpg") {
			t.Errorf("Expected image path ending in 'charter.jpg', got %q", hit.Line.ImagePath)
		}
		if len(hit.MatchedTerms) != 1 || hit.MatchedTerms[0] != "verbum" {
			t.Errorf("Expected matched terms [verbum], got %v", hit.MatchedTerms)
		}
		if hit.Line.LineID != index.LineID(hit.Line.DocumentPath, hit.Line.Coords) {
			t.Errorf("Line id %q does not match its derivation inputs", hit.Line.LineID)
		}
	}

	// Grouping collapses both lines into one document group
	groups := index.GroupByDocument(hits)
	if len(groups) != 1 {
		t.Fatalf("Expected 1 group, got %d", len(groups))
	}
	if groups[0].NumLines() != 2 {
		t.Errorf("Expected 2 lines in the group, got %d", groups[0].NumLines())
	}

	// Highlighting wraps the matched word
	marked := index.Highlight(hits[0].Line.Content, hits[0].MatchedTerms)
	if !strings.Contains(marked, "<strong>verbum</strong>") {
		t.Errorf("Expected highlight markup, got %q", marked)
	}

	// The build recorded the document's mtime in the metadata file
	meta, err := index.NewTracker(settings.Dir).Load()
	if err != nil {
		t.Fatalf("Failed to load metadata: %v", err)
	}
	if _, ok := meta["charter.xml"]; !ok {
		t.Errorf("Expected metadata entry for charter.xml, got %v", meta)
	}
}

func TestBuildPipeline_SecondPassSkipsEverything(t *testing.T) {
	settings, _ := buildCorpus(t, map[string][]testkit.PageLine{
		"a":       {{Text: "prima linea"}},
		"deeds/b": {{Text: "secunda linea"}},
	})

	report := rebuildCorpus(t, settings)

	if report.DocsIndexed != 0 {
		t.Errorf("Expected no indexed documents on second pass, got %d", report.DocsIndexed)
	}
	if report.DocsSkipped != 2 {
		t.Errorf("Expected 2 skipped documents, got %d", report.DocsSkipped)
	}
	if report.LinesWritten != 0 {
		t.Errorf("Expected no written lines on second pass, got %d", report.LinesWritten)
	}

	if got := countLines(t, settings); got != 2 {
		t.Errorf("Expected 2 indexed lines after rebuild, got %d", got)
	}
}

func TestBuildPipeline_UpsertsChangedContentInPlace(t *testing.T) {
	linePoints := "10,20 410,20 410,60 10,60"
	settings, _ := buildCorpus(t, map[string][]testkit.PageLine{
		"charter": {{Text: "vetus lectio", Points: linePoints}},
	})

	// Same polygon, new transcription: the line id stays, content changes
	docPath := filepath.Join(settings.DocumentDir, "charter.xml")
	if err := testkit.WritePageXMLFile(docPath, testkit.PageLine{Text: "nova lectio", Points: linePoints}); err != nil {
		t.Fatalf("Failed to rewrite document: %v", err)
	}
	touchFuture(t, docPath)

	report := rebuildCorpus(t, settings)
	if report.DocsIndexed != 1 {
		t.Errorf("Expected 1 re-indexed document, got %d", report.DocsIndexed)
	}
	if report.LinesDeleted != 0 {
		t.Errorf("Expected no deleted lines for a stable polygon, got %d", report.LinesDeleted)
	}

	if got := countLines(t, settings); got != 1 {
		t.Errorf("Expected 1 indexed line after upsert, got %d", got)
	}
	if hits := searchCorpus(t, settings, "vetus"); len(hits) != 0 {
		t.Errorf("Expected old content to be gone, got %d hits", len(hits))
	}
	if hits := searchCorpus(t, settings, "nova"); len(hits) != 1 {
		t.Errorf("Expected new content to be found, got %d hits", len(hits))
	}
}

func TestBuildPipeline_DropsRemovedLines(t *testing.T) {
	keptPoints := "10,20 410,20 410,60 10,60"
	droppedPoints := "10,80 410,80 410,120 10,120"
	settings, _ := buildCorpus(t, map[string][]testkit.PageLine{
		"charter": {
			{Text: "linea manens", Points: keptPoints},
			{Text: "linea peritura", Points: droppedPoints},
		},
	})

	docPath := filepath.Join(settings.DocumentDir, "charter.xml")
	if err := testkit.WritePageXMLFile(docPath, testkit.PageLine{Text: "linea manens", Points: keptPoints}); err != nil {
		t.Fatalf("Failed to rewrite document: %v", err)
	}
	touchFuture(t, docPath)

	report := rebuildCorpus(t, settings)
	if report.LinesDeleted != 1 {
		t.Errorf("Expected 1 deleted line, got %d", report.LinesDeleted)
	}

	if got := countLines(t, settings); got != 1 {
		t.Errorf("Expected 1 indexed line after reconciliation, got %d", got)
	}
	if hits := searchCorpus(t, settings, "peritura"); len(hits) != 0 {
		t.Errorf("Expected dropped line to be unfindable, got %d hits", len(hits))
	}
}

// ========================================
// Query Tests
// ========================================

func TestQuery_FuzzyFindsNearSpelling(t *testing.T) {
	settings, _ := buildCorpus(t, map[string][]testkit.PageLine{
		"roll": {{Text: "iusticia et pax in terra"}},
	})

	// Medieval orthography: the index holds "iusticia", the query asks for
	// the classical spelling within edit distance 1
	hits := searchCorpus(t, settings, "iustitia~1")
	if len(hits) != 1 {
		t.Fatalf("Expected 1 fuzzy hit, got %d", len(hits))
	}
	if len(hits[0].MatchedTerms) != 1 || hits[0].MatchedTerms[0] != "iusticia" {
		t.Errorf("Expected matched term to be the indexed spelling, got %v", hits[0].MatchedTerms)
	}
}

func TestQuery_PhraseMatchesAdjacentWordsOnly(t *testing.T) {
	settings, _ := buildCorpus(t, map[string][]testkit.PageLine{
		"a": {{Text: "in principio erat verbum"}},
		"b": {{Text: "principio in erat alio"}},
	})

	hits := searchCorpus(t, settings, `"principio erat"`)
	if len(hits) != 1 {
		t.Fatalf("Expected 1 phrase hit, got %d", len(hits))
	}
	if hits[0].Line.DocumentPath != "a.xml" {
		t.Errorf("Expected phrase to match a.xml, got %q", hits[0].Line.DocumentPath)
	}
}

// ========================================
// Search Tool MCP Tests
// ========================================

func TestSearchTool_ReturnsGroupedHighlightedResults(t *testing.T) {
	settings, _ := buildCorpus(t, map[string][]testkit.PageLine{
		"deeds/alpha": {
			{Text: "in nomine domini amen"},
			{Text: "per gratiam domini nostri"},
		},
		"beta": {{Text: "notum sit omnibus quod domini"}},
	})

	handler := index.NewSearchHandler(index.NewStore(settings.Dir), 20)
	result, _, err := handler.Handle(context.Background(), &mcp.CallToolRequest{}, index.SearchArgument{
		Query: "domini",
	})
	if err != nil {
		t.Fatalf("Handle returned error: %v", err)
	}
	if result.IsError {
		t.Fatalf("Expected success, got error: %s", extractTextContent(result))
	}

	content := extractTextContent(result)
	if !strings.Contains(content, "Found 3 lines matching the query in 2 documents.") {
		t.Errorf("Expected summary line, got: %s", content)
	}
	if !strings.Contains(content, "### deeds/alpha.xml (2 matching lines)") {
		t.Errorf("Expected alpha group header, got: %s", content)
	}
	if !strings.Contains(content, "<strong>domini</strong>") {
		t.Errorf("Expected highlight markup, got: %s", content)
	}

	// The document with more matching lines is rendered first
	alphaAt := strings.Index(content, "deeds/alpha.xml")
	betaAt := strings.Index(content, "beta.xml")
	if alphaAt < 0 || betaAt < 0 || alphaAt > betaAt {
		t.Errorf("Expected alpha before beta, got: %s", content)
	}
}

func TestSearchTool_MissingIndex(t *testing.T) {
	handler := index.NewSearchHandler(index.NewStore(filepath.Join(t.TempDir(), "index")), 20)

	result, _, err := handler.Handle(context.Background(), &mcp.CallToolRequest{}, index.SearchArgument{
		Query: "anything",
	})
	if err != nil {
		t.Fatalf("Handle returned error: %v", err)
	}
	if !result.IsError {
		t.Error("Expected error result for missing index")
	}
	if content := extractTextContent(result); !strings.Contains(content, "No index found") {
		t.Errorf("Expected missing index message, got: %s", content)
	}
}

func TestDocumentsTool_ListsCorpusDocuments(t *testing.T) {
	settings, _ := buildCorpus(t, map[string][]testkit.PageLine{
		"deeds/alpha": {
			{Text: "in nomine domini amen"},
			{Text: "per gratiam domini nostri"},
		},
		"beta": {{Text: "notum sit omnibus"}},
	})

	handler := index.NewDocumentsHandler(index.NewStore(settings.Dir))
	result, _, err := handler.Handle(context.Background(), &mcp.CallToolRequest{}, index.ListDocumentsArgument{})
	if err != nil {
		t.Fatalf("Handle returned error: %v", err)
	}
	if result.IsError {
		t.Fatalf("Expected success, got error: %s", extractTextContent(result))
	}

	content := extractTextContent(result)
	if !strings.Contains(content, "The index contains 3 lines from 2 documents.") {
		t.Errorf("Expected summary line, got: %s", content)
	}
	if !strings.Contains(content, "- deeds/alpha.xml (2 lines)") {
		t.Errorf("Expected alpha row, got: %s", content)
	}
	if !strings.Contains(content, "- beta.xml (1 lines)") {
		t.Errorf("Expected beta row, got: %s", content)
	}
}

// ========================================
// MCP Server Integration Tests
// ========================================

func TestMCPServer_ToolsRegistered(t *testing.T) {
	settings, _ := buildCorpus(t, map[string][]testkit.PageLine{
		"charter": {{Text: "in principio erat verbum"}},
	})

	server := mcputil.CreateServer(mcputil.ServerConfig{
		Name:       "test-server",
		Version:    "1.0.0",
		Store:      index.NewStore(settings.Dir),
		MaxResults: 20,
	})

	if server == nil {
		t.Fatal("Expected server to be created")
	}

	// The MCP SDK doesn't expose a way to list registered tools directly,
	// but we can verify the server was created successfully and the tools
	// work by invoking them through handlers (tested above).
}

func TestMCPServer_NoToolsWhenStoreNil(t *testing.T) {
	server := mcputil.CreateServer(mcputil.ServerConfig{
		Name:    "test-server",
		Version: "1.0.0",
		Store:   nil,
	})

	if server == nil {
		t.Fatal("Expected server to be created")
	}

	// Server should be created successfully without tools
}

func TestServeFlags_ResolveIntoSettings(t *testing.T) {
	indexDir := filepath.Join(t.TempDir(), "index")
	flags := testkit.NewTestFlags(t, &testkit.FlagOptions{
		Transport: "sse",
		IndexDir:  indexDir,
	})

	settings, err := config.LoadSettingsWithFlags(flags)
	if err != nil {
		t.Fatalf("Failed to load settings: %v", err)
	}

	if settings.Transport != "sse" {
		t.Errorf("Expected transport 'sse', got %q", settings.Transport)
	}
	if settings.Host != "localhost" {
		t.Errorf("Expected host 'localhost', got %q", settings.Host)
	}
	wantPort, _ := flags.GetInt("port")
	if settings.Port != wantPort {
		t.Errorf("Expected port %d, got %d", wantPort, settings.Port)
	}
	if settings.Index.Dir != indexDir {
		t.Errorf("Expected index dir %q, got %q", indexDir, settings.Index.Dir)
	}

	if err := config.ValidateSettings(settings); err != nil {
		t.Errorf("Expected resolved settings to validate, got: %v", err)
	}
}

// ========================================
// Helper Functions
// ========================================

// buildCorpus materializes a PageXML corpus, runs a full build pass over it
// and returns the index settings for follow-up operations
func buildCorpus(t *testing.T, pages map[string][]testkit.PageLine) (*config.IndexSettings, *index.BuildReport) {
	t.Helper()

	base := t.TempDir()
	docs := filepath.Join(base, "pages")

	env := testkit.NewTestEnv(testkit.NewCorpusService(docs, pages))
	if _, err := env.Start(); err != nil {
		t.Fatalf("Failed to set up corpus: %v", err)
	}
	t.Cleanup(func() { _ = env.Stop() })

	settings := &config.IndexSettings{
		Dir:             filepath.Join(base, "index"),
		DocumentDir:     docs,
		OptimizeTimeout: time.Minute,
	}

	return settings, rebuildCorpus(t, settings)
}

// rebuildCorpus runs one build pass over an existing corpus
func rebuildCorpus(t *testing.T, settings *config.IndexSettings) *index.BuildReport {
	t.Helper()

	builder := index.NewBuilder(settings, pagexml.NewParser())
	report, err := builder.Build(context.Background())
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	for _, failure := range report.Failures {
		t.Errorf("Document failed to index: %s: %v", failure.Path, failure.Err)
	}
	return report
}

func searchCorpus(t *testing.T, settings *config.IndexSettings, query string) []domain.QueryHit {
	t.Helper()

	engine := index.NewEngine(index.NewStore(settings.Dir))
	hits, err := engine.Search(context.Background(), query)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	return hits
}

func countLines(t *testing.T, settings *config.IndexSettings) uint64 {
	t.Helper()

	stats, err := index.NewStore(settings.Dir).Stats()
	if err != nil {
		t.Fatalf("Failed to collect stats: %v", err)
	}
	return stats.Lines
}

// touchFuture bumps a file's mtime well past any prior build pass
func touchFuture(t *testing.T, path string) {
	t.Helper()

	future := time.Now().Add(time.Hour)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatalf("Failed to update mtime: %v", err)
	}
}

// extractTextContent extracts text from MCP result
func extractTextContent(result *mcp.CallToolResult) string {
	var sb strings.Builder
	for _, c := range result.Content {
		if tc, ok := c.(*mcp.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	return sb.String()
}
