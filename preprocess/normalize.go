// Package preprocess implements the query pipeline (§4.7): normalize,
// typo-correct, synonym-expand, then select the embedding text.
package preprocess

import "strings"

// Normalize collapses whitespace and lowercases, per §4.7 stage 1.
func Normalize(raw string) string {
	return strings.ToLower(strings.Join(strings.Fields(raw), " "))
}
