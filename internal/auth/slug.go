package auth

import (
	"strings"
	"unicode"

	"github.com/google/uuid"
)

// Slugify lower-cases name and collapses every run of non-alphanumerics
// into one "-". "Acme, Inc." becomes "acme-inc".
func Slugify(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(name) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	slug := strings.Trim(b.String(), "-")
	if slug == "" {
		return "tenant"
	}
	return slug
}

// withSuffix appends a short random suffix for slug collisions.
func withSuffix(slug string) string {
	return slug + "-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
}
