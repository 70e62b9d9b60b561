package common

import "unicode/utf8"

// DefaultRawBodyLimit is the number of characters of an ESP response body
// kept on a ProviderResponse.
const DefaultRawBodyLimit = 1024

// TruncateRaw cuts raw to at most limit runes. A non-positive limit yields "".
func TruncateRaw(raw string, limit int) string {
	if limit <= 0 {
		return ""
	}
	if utf8.RuneCountInString(raw) <= limit {
		return raw
	}
	return string([]rune(raw)[:limit])
}
