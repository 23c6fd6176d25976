package credstore

import "strings"

// Mask preserves the first 4 and last 4 characters with "..." between;
// keys shorter than 9 characters display as "********" (§4.5, §8).
func Mask(k string) string {
	if len(k) < 9 {
		return "********"
	}
	return k[:4] + "..." + k[len(k)-4:]
}

// knownPrefixes maps a recognized provider key prefix to its minimum
// valid length (§4.5).
var knownPrefixes = []struct {
	prefix    string
	minLength int
}{
	{"sk-ant-", 20},
	{"sk-", 20},
	{"AIza", 20},
}

// ValidateFormat is a pure prefix/length check; it never makes a network
// call (§4.5). Unknown-shaped keys require at least 10 characters.
func ValidateFormat(key string) bool {
	for _, kp := range knownPrefixes {
		if strings.HasPrefix(key, kp.prefix) {
			return len(key) >= kp.minLength
		}
	}
	return len(key) >= 10
}
