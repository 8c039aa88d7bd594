// Package naming derives storage identities and content types for uploads.
package naming

import (
	"path/filepath"
	"strings"
	"unicode"

	"github.com/google/uuid"

	"imgsvc/internal/models"
)

// Resolution is the naming outcome for one upload.
type Resolution struct {
	ID          string
	Extension   string
	StorageKey  string
	ContentType string
}

// Resolve assigns a fresh identity to an upload and derives its storage key and
// normalized content type.
func Resolve(originalFilename, declaredContentType string) Resolution {
	return resolveWithID(uuid.NewString(), originalFilename, declaredContentType)
}

func resolveWithID(id, originalFilename, declaredContentType string) Resolution {
	ext := Extension(originalFilename)
	return Resolution{
		ID:          id,
		Extension:   ext,
		StorageKey:  id + ext,
		ContentType: NormalizeContentType(ext, declaredContentType),
	}
}

// Extension returns the extension of filename including the leading dot, or
// "" when there is none. Extensions holding path separators or control
// characters are dropped so every storage key is addressable.
func Extension(filename string) string {
	ext := filepath.Ext(strings.TrimSpace(filename))
	if strings.ContainsAny(ext, `/\`) || strings.IndexFunc(ext, unicode.IsControl) >= 0 {
		return ""
	}
	return ext
}

// NormalizeContentType applies the upload content-type precedence:
// svg files with a missing or generic declared type become image/svg+xml,
// other missing types become application/octet-stream, anything else is kept.
func NormalizeContentType(ext, declared string) string {
	blank := strings.TrimSpace(declared) == ""
	generic := blank || strings.EqualFold(strings.TrimSpace(declared), models.MediaTypeOctetStream)

	switch {
	case generic && strings.EqualFold(ext, ".svg"):
		return models.MediaTypeSVG
	case blank:
		return models.MediaTypeOctetStream
	default:
		return declared
	}
}

// ValidID reports whether id has the shape of an identity produced by Resolve.
func ValidID(id string) bool {
	_, ok := CanonicalID(id)
	return ok
}

// CanonicalID returns id in the lowercase hyphenated form Resolve produces.
func CanonicalID(id string) (string, bool) {
	parsed, err := uuid.Parse(strings.TrimSpace(id))
	if err != nil {
		return "", false
	}
	return parsed.String(), true
}
