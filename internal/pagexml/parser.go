package pagexml

import (
	"encoding/xml"
	"fmt"
	"os"
	"strings"

	"github.com/sha1n/pagesearch/internal/domain"
)

// element is a generic XML tree node. PageXML documents carry varying
// schema-version namespaces, so all matching is done on local names.
type element struct {
	XMLName  xml.Name
	Attrs    []xml.Attr `xml:",any,attr"`
	Text     string     `xml:",chardata"`
	Children []element  `xml:",any"`
}

// attr returns the value of the named attribute, or "" when absent.
func (e *element) attr(name string) string {
	for _, a := range e.Attrs {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

// child returns the first direct child with the given local name, or nil.
func (e *element) child(local string) *element {
	for i := range e.Children {
		if e.Children[i].XMLName.Local == local {
			return &e.Children[i]
		}
	}
	return nil
}

// firstDescendant returns the first descendant with the given local name
// in document order, or nil.
func (e *element) firstDescendant(local string) *element {
	for i := range e.Children {
		c := &e.Children[i]
		if c.XMLName.Local == local {
			return c
		}
		if found := c.firstDescendant(local); found != nil {
			return found
		}
	}
	return nil
}

// collectDescendants appends every descendant with the given local name
// in document order.
func (e *element) collectDescendants(local string, out *[]*element) {
	for i := range e.Children {
		c := &e.Children[i]
		if c.XMLName.Local == local {
			*out = append(*out, c)
		}
		c.collectDescendants(local, out)
	}
}

// Parser reads PageXML transcription documents, the export format of
// OCR/HTR platforms such as Transkribus and eScriptorium. It implements
// the index package's DocumentParser interface.
type Parser struct{}

// NewParser creates a PageXML parser.
func NewParser() *Parser {
	return &Parser{}
}

// ParseDocument reads a PageXML file and extracts its transcription lines.
func (p *Parser) ParseDocument(path string) ([]domain.TextLine, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	lines, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return lines, nil
}

// Parse extracts the transcription lines of a PageXML document in document
// order. A TextLine missing its polygon or its text is kept with the
// respective field empty; a polygon with a non-integer coordinate fails
// the whole document.
func Parse(data []byte) ([]domain.TextLine, error) {
	var root element
	if err := xml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("malformed XML: %w", err)
	}

	var textLines []*element
	root.collectDescendants("TextLine", &textLines)

	lines := make([]domain.TextLine, 0, len(textLines))
	for _, tl := range textLines {
		var line domain.TextLine

		if coords := tl.child("Coords"); coords != nil {
			points, err := domain.ParsePoints(coords.attr("points"))
			if err != nil {
				return nil, fmt.Errorf("invalid Coords points: %w", err)
			}
			line.Coords = points
		}

		if unicode := tl.firstDescendant("Unicode"); unicode != nil {
			line.Transcription = strings.TrimSpace(unicode.Text)
		}

		lines = append(lines, line)
	}

	return lines, nil
}
