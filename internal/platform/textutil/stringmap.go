// Package textutil holds small string helpers shared by the provider adapters.
package textutil

import (
	"sort"
	"strings"
	"unicode/utf8"
)

// Limits bounds the size of a normalised map. Zero fields are unlimited.
type Limits struct {
	MaxKeyLength   int
	MaxValueLength int
	MaxEntries     int
}

// StripeMetadata matches the metadata limits the payment provider enforces.
var StripeMetadata = Limits{MaxKeyLength: 40, MaxValueLength: 500, MaxEntries: 50}

// NormalizeStringMap trims keys and values and drops entries whose key or value
// is empty. Oversized keys and values are truncated on a rune boundary; entries
// beyond MaxEntries are dropped in key order. It returns nil when nothing remains.
func NormalizeStringMap(values map[string]string, limits Limits) map[string]string {
	if len(values) == 0 {
		return nil
	}
	result := make(map[string]string, len(values))
	for key, value := range values {
		key = truncate(strings.TrimSpace(key), limits.MaxKeyLength)
		value = truncate(strings.TrimSpace(value), limits.MaxValueLength)
		if key == "" || value == "" {
			continue
		}
		result[key] = value
	}
	if limits.MaxEntries > 0 && len(result) > limits.MaxEntries {
		keys := make([]string, 0, len(result))
		for key := range result {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys[limits.MaxEntries:] {
			delete(result, key)
		}
	}
	if len(result) == 0 {
		return nil
	}
	return result
}

func truncate(value string, limit int) string {
	if limit <= 0 || len(value) <= limit {
		return value
	}
	value = value[:limit]
	for !utf8.ValidString(value) {
		value = value[:len(value)-1]
	}
	return value
}
