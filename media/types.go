package media

import (
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// inferFileType infers a normalized media type from the file extension,
// falling back to content sniffing when the extension is not recognized.
// Returns the matched type and whether it is in the allowed set.
func inferFileType(path string, allowedTypes []string) (string, bool) {
	ext := normalizeType(strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), "."))
	if containsType(allowedTypes, ext) {
		return ext, true
	}

	// MIME-based fallback for misnamed files
	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return "", false
	}

	parts := strings.SplitN(mtype.String(), "/", 2)
	if len(parts) != 2 {
		return "", false
	}

	detected := normalizeType(strings.ToLower(parts[1]))
	if containsType(allowedTypes, detected) {
		return detected, true
	}

	return "", false
}

// normalizeType maps MIME subtype aliases to their canonical names
func normalizeType(t string) string {
	if t == "mpeg" {
		return "mp3"
	}
	return t
}

func containsType(allowed []string, t string) bool {
	if t == "" {
		return false
	}
	for _, a := range allowed {
		if normalizeType(strings.ToLower(a)) == t {
			return true
		}
	}
	return false
}
