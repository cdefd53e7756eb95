package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// Point is a single polygon vertex in image pixel coordinates.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// LineRecord represents one transcribed text line extracted from a scanned
// document page. It is the primary data structure stored in the Bleve search index.
type LineRecord struct {
	// LineID uniquely identifies the line across index generations.
	// Format: "<document path>_<sha-256 hex digest of the flattened polygon>"
	LineID string `json:"line_id"`

	// DocumentPath is the path of the PageXML document the line was read from.
	DocumentPath string `json:"document_path"`

	// Content is the transcribed text of the line.
	Content string `json:"content"`

	// Coords is the line's bounding polygon in image pixel coordinates.
	Coords []Point `json:"coords"`

	// ImagePath is the path of the page scan the polygon refers to.
	ImagePath string `json:"image_path"`
}

// TextLine is a transcription line as parsed from a source document: the
// polygon and text with no identity attached yet.
type TextLine struct {
	// Coords is the line's bounding polygon in image pixel coordinates.
	Coords []Point

	// Transcription is the line text, trimmed of surrounding whitespace.
	Transcription string
}

// Bleve field name constants for consistent field references in queries and mappings.
const (
	LineFieldID           = "line_id"
	LineFieldDocumentPath = "document_path"
	LineFieldContent      = "content"
	LineFieldCoords       = "coords"
	LineFieldImagePath    = "image_path"
)

// FormatPoints renders a polygon in the PageXML points attribute syntax:
// space-separated "x,y" pairs, e.g. "10,20 30,45 10,45".
func FormatPoints(points []Point) string {
	parts := make([]string, len(points))
	for i, p := range points {
		parts[i] = strconv.Itoa(p.X) + "," + strconv.Itoa(p.Y)
	}
	return strings.Join(parts, " ")
}

// ParsePoints parses the PageXML points attribute syntax into a polygon.
// Whitespace between pairs is flexible; an empty string yields a nil polygon.
func ParsePoints(s string) ([]Point, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return nil, nil
	}

	points := make([]Point, 0, len(fields))
	for _, f := range fields {
		xs, ys, ok := strings.Cut(f, ",")
		if !ok {
			return nil, fmt.Errorf("malformed point %q: expected x,y", f)
		}
		x, err := strconv.Atoi(xs)
		if err != nil {
			return nil, fmt.Errorf("malformed point %q: %w", f, err)
		}
		y, err := strconv.Atoi(ys)
		if err != nil {
			return nil, fmt.Errorf("malformed point %q: %w", f, err)
		}
		points = append(points, Point{X: x, Y: y})
	}

	return points, nil
}
