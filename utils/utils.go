package utils

import (
	"path/filepath"
	"regexp"
)

var unsafeFilename = regexp.MustCompile(`[^\w.\-]`)

// SanitizeFilename makes name safe for a Content-Disposition header.
func SanitizeFilename(name string) string {
	clean := unsafeFilename.ReplaceAllString(filepath.Base(name), "_")
	if clean == "" || clean == "." {
		return "file"
	}
	return clean
}
