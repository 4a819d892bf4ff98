package observability

import (
	"strings"
	"unicode"
)

// clip drops control characters and truncates to limit runes so request data
// cannot forge log lines or blow up label cardinality.
func clip(value string, limit int) string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, value)
	if runes := []rune(cleaned); len(runes) > limit {
		return string(runes[:limit])
	}
	return cleaned
}

// SanitizeRoute cleans a route pattern or path for logs and metric attributes.
func SanitizeRoute(route string) string {
	if route == "" {
		return "/"
	}
	return clip(route, 180)
}

func SanitizeMethod(method string) string { return clip(method, 10) }

// SanitizeIdentifier cleans caller-supplied ids such as an admin uid or X-Client-ID.
func SanitizeIdentifier(id string) string { return clip(id, 64) }
