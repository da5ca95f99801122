package utils

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// File names are rendered in listings and bot replies, so no markup survives.
var namePolicy = bluemonday.StrictPolicy()

// SanitizeName strips any markup and control characters from a user-supplied
// display name.
func SanitizeName(input string) string {
	cleaned := namePolicy.Sanitize(input)
	cleaned = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, cleaned)
	return strings.TrimSpace(cleaned)
}
