package testkit

import (
	"encoding/xml"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sha1n/pagesearch/internal/app"
	"github.com/spf13/pflag"
)

// Service represents a test service that can be started and stopped
type Service interface {
	Start() (map[string]any, error)
	Stop() error
	GetName() string
}

// TestEnvContext provides access to properties collected during environment startup
type TestEnvContext interface {
	GetProperties() map[string]any
	GetProperty(name string) (any, bool)
}

// TestEnv manages the lifecycle of test services
type TestEnv interface {
	Start() (map[string]any, error)
	Stop() error
	GetContext() TestEnvContext
}

type testEnvContextImpl struct {
	properties map[string]any
}

func (c *testEnvContextImpl) GetProperties() map[string]any {
	return c.properties
}

func (c *testEnvContextImpl) GetProperty(name string) (any, bool) {
	val, ok := c.properties[name]
	return val, ok
}

type testEnvImpl struct {
	services []Service
	context  *testEnvContextImpl
}

// NewTestEnv creates a new test environment with the given services
func NewTestEnv(services ...Service) TestEnv {
	return &testEnvImpl{
		services: services,
		context:  &testEnvContextImpl{properties: make(map[string]any)},
	}
}

func (e *testEnvImpl) Start() (map[string]any, error) {
	for _, s := range e.services {
		props, err := s.Start()
		if err != nil {
			return nil, err
		}
		for k, v := range props {
			e.context.properties[k] = v
		}
	}
	return e.context.properties, nil
}

func (e *testEnvImpl) Stop() error {
	var lastErr error
	// Stop in reverse order
	for i := len(e.services) - 1; i >= 0; i-- {
		if err := e.services[i].Stop(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

func (e *testEnvImpl) GetContext() TestEnvContext {
	return e.context
}

// PageLine is a transcribed line to place in a generated test document.
// Points is the PageXML points attribute value; when empty, a distinct
// rectangle is generated per line so line ids never collide.
type PageLine struct {
	Text   string
	Points string
}

var xmlTextEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

// WritePageXMLFile writes a minimal PageXML document containing the given
// transcription lines.
func WritePageXMLFile(path string, lines ...PageLine) error {
	var b strings.Builder
	b.WriteString(xml.Header)
	b.WriteString(`<PcGts xmlns="http://schema.primaresearch.org/PAGE/gts/pagecontent/2013-07-15">` + "\n")
	b.WriteString("  <Page>\n    <TextRegion>\n")
	for i, line := range lines {
		points := line.Points
		if points == "" {
			y := 20 + 40*i
			points = fmt.Sprintf("10,%d 410,%d 410,%d 10,%d", y, y, y+30, y+30)
		}
		b.WriteString("      <TextLine>\n")
		fmt.Fprintf(&b, "        <Coords points=\"%s\"/>\n", points)
		fmt.Fprintf(&b, "        <TextEquiv><Unicode>%s</Unicode></TextEquiv>\n", xmlTextEscaper.Replace(line.Text))
		b.WriteString("      </TextLine>\n")
	}
	b.WriteString("    </TextRegion>\n  </Page>\n</PcGts>\n")
	return os.WriteFile(path, []byte(b.String()), 0644)
}

// CorpusService materializes a PageXML corpus with page images on disk so
// tests can run real build passes against it. Keys of pages are document
// paths relative to the corpus root, without the .xml extension.
type CorpusService struct {
	dir   string
	pages map[string][]PageLine
}

// NewCorpusService creates a corpus service rooted at dir
func NewCorpusService(dir string, pages map[string][]PageLine) *CorpusService {
	return &CorpusService{dir: dir, pages: pages}
}

func (c *CorpusService) Start() (map[string]any, error) {
	for name, lines := range c.pages {
		docPath := filepath.Join(c.dir, name+".xml")
		if err := os.MkdirAll(filepath.Dir(docPath), 0755); err != nil {
			return nil, err
		}
		if err := WritePageXMLFile(docPath, lines...); err != nil {
			return nil, err
		}
		imagePath := filepath.Join(c.dir, name+".jpg")
		if err := os.WriteFile(imagePath, []byte("jpg"), 0644); err != nil {
			return nil, err
		}
	}
	return map[string]any{"documents_dir": c.dir}, nil
}

func (c *CorpusService) Stop() error {
	return nil
}

func (c *CorpusService) GetName() string {
	return "pagexml-corpus"
}

// GetFreePort returns a free port from the kernel
func GetFreePort() (int, error) {
	return getFreePortWithAddr("localhost:0")
}

// MustGetFreePort returns a free port or fails the test
func MustGetFreePort(t testing.TB) int {
	t.Helper()
	port, err := GetFreePort()
	if err != nil {
		t.Fatalf("Failed to get free port: %v", err)
	}
	return port
}

func getFreePortWithAddr(addrStr string) (int, error) {
	addr, err := net.ResolveTCPAddr("tcp", addrStr)
	if err != nil {
		return 0, err
	}

	l, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return 0, err
	}
	defer func() { _ = l.Close() }()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// FlagOptions configures NewTestFlags
type FlagOptions struct {
	Port      int    // Uses free port if 0
	Transport string // Defaults to "sse"
	AuthType  string // Defaults to "none"
	Host      string // Defaults to "localhost"
	IndexDir  string // Leaves the settings default in place if empty
}

// NewTestFlags creates a configured pflag.FlagSet for testing
func NewTestFlags(t testing.TB, opts *FlagOptions) *pflag.FlagSet {
	t.Helper()

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	app.RegisterCommonFlags(flags)
	app.RegisterServeFlags(flags)

	port := 0
	transport := "sse"
	authType := "none"
	host := "localhost"
	indexDir := ""

	if opts != nil {
		if opts.Port != 0 {
			port = opts.Port
		}
		if opts.Transport != "" {
			transport = opts.Transport
		}
		if opts.AuthType != "" {
			authType = opts.AuthType
		}
		if opts.Host != "" {
			host = opts.Host
		}
		if opts.IndexDir != "" {
			indexDir = opts.IndexDir
		}
	}

	if port == 0 {
		port = MustGetFreePort(t)
	}

	_ = flags.Set("port", fmt.Sprintf("%d", port))
	_ = flags.Set("transport", transport)
	_ = flags.Set("auth-type", authType)
	_ = flags.Set("host", host)
	if indexDir != "" {
		_ = flags.Set("index-dir", indexDir)
	}

	return flags
}
