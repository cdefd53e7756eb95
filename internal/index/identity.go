package index

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/sha1n/pagesearch/internal/domain"
)

// LineID derives the stable identifier for a transcribed line. The polygon's
// coordinate values are flattened in order, joined with "_" and hashed with
// SHA-256; the document path prefixes the hex digest. The same document path
// and polygon always yield the same id, so re-indexing a line whose text
// changed replaces its previous entry instead of accumulating duplicates.
func LineID(docPath string, coords []domain.Point) string {
	var sb strings.Builder
	for i, p := range coords {
		if i > 0 {
			sb.WriteByte('_')
		}
		sb.WriteString(strconv.Itoa(p.X))
		sb.WriteByte('_')
		sb.WriteString(strconv.Itoa(p.Y))
	}

	digest := sha256.Sum256([]byte(sb.String()))
	return docPath + "_" + hex.EncodeToString(digest[:])
}
