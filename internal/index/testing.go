package index

import (
	"errors"
	"strings"

	"github.com/sha1n/pagesearch/internal/domain"
)

// MockParser returns configured lines per document and records the paths it
// was asked to parse. This is exported for use in integration tests.
type MockParser struct {
	lines map[string][]domain.TextLine
	errs  map[string]error
	calls []string
}

// NewMockParser creates a new mock parser.
func NewMockParser() *MockParser {
	return &MockParser{
		lines: make(map[string][]domain.TextLine),
		errs:  make(map[string]error),
	}
}

// AddDocument configures the lines returned for paths ending in pathSuffix.
func (m *MockParser) AddDocument(pathSuffix string, lines ...domain.TextLine) {
	m.lines[pathSuffix] = lines
}

// AddError configures a parse failure for paths ending in pathSuffix.
func (m *MockParser) AddError(pathSuffix string, err error) {
	m.errs[pathSuffix] = err
}

// ParseDocument returns the configured response for the given path.
func (m *MockParser) ParseDocument(path string) ([]domain.TextLine, error) {
	m.calls = append(m.calls, path)

	for suffix, err := range m.errs {
		if strings.HasSuffix(path, suffix) {
			return nil, err
		}
	}
	for suffix, lines := range m.lines {
		if strings.HasSuffix(path, suffix) {
			return lines, nil
		}
	}

	return nil, errors.New("no mock response configured for: " + path)
}

// GetCalls returns all parsed paths in call order.
func (m *MockParser) GetCalls() []string {
	return m.calls
}

// CallCount returns the number of times a path ending in pathSuffix was parsed.
func (m *MockParser) CallCount(pathSuffix string) int {
	count := 0
	for _, call := range m.calls {
		if strings.HasSuffix(call, pathSuffix) {
			count++
		}
	}
	return count
}
