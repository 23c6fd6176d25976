package preprocess

import "strings"

// Correction records one word-level typo fix for UI feedback (§3
// Processed query, §4.7 stage 2).
type Correction struct {
	Original      string
	Corrected     string
	EditDistance  int
}

// SpellConfig tunes the symmetric-delete spell index (§4.7).
type SpellConfig struct {
	MinWordSizeOneTypo int
	MinWordSizeTwoTypos int
	MaxDeleteDistance   int
}

// DefaultSpellConfig returns the §4.7 defaults.
func DefaultSpellConfig() SpellConfig {
	return SpellConfig{MinWordSizeOneTypo: 5, MinWordSizeTwoTypos: 9, MaxDeleteDistance: 2}
}

// SpellIndex is a symmetric-delete spelling index built from one or more
// layered dictionaries (general-English, domain corpus, bigram) merged
// by frequency (§4.7, §9: "the algorithm itself is standard"). No
// third-party SymSpell binding exists in the ecosystem libraries this
// module otherwise draws from, so this is a from-scratch implementation
// of the documented algorithm (see DESIGN.md).
type SpellIndex struct {
	cfg       SpellConfig
	frequency map[string]int
	deletes   map[string][]string
	protected map[string]struct{}
}

// NewSpellIndex builds an empty index with the given config.
func NewSpellIndex(cfg SpellConfig) *SpellIndex {
	return &SpellIndex{
		cfg:       cfg,
		frequency: make(map[string]int),
		deletes:   make(map[string][]string),
		protected: make(map[string]struct{}),
	}
}

// LoadDictionary merges a word->frequency dictionary into the index,
// generating its symmetric-delete variants. Later calls layer
// additional dictionaries (domain corpus, bigram) on top of earlier
// ones without clearing existing entries.
func (s *SpellIndex) LoadDictionary(words map[string]int) {
	for word, freq := range words {
		word = strings.ToLower(word)
		s.frequency[word] += freq
		for _, variant := range deletions(word, s.cfg.MaxDeleteDistance) {
			s.deletes[variant] = appendUnique(s.deletes[variant], word)
		}
		s.deletes[word] = appendUnique(s.deletes[word], word)
	}
}

// AddProtectedWord marks a word as never-corrected (case-insensitive).
func (s *SpellIndex) AddProtectedWord(word string) {
	s.protected[strings.ToLower(word)] = struct{}{}
}

// IsProtected reports whether word (any case) is protected.
func (s *SpellIndex) IsProtected(word string) bool {
	_, ok := s.protected[strings.ToLower(word)]
	return ok
}

func appendUnique(list []string, word string) []string {
	for _, w := range list {
		if w == word {
			return list
		}
	}
	return append(list, word)
}

// deletions generates every string reachable from word by deleting up
// to maxDist characters (the symmetric-delete precompute).
func deletions(word string, maxDist int) []string {
	set := map[string]struct{}{}
	frontier := []string{word}
	for d := 0; d < maxDist; d++ {
		next := make([]string, 0)
		for _, w := range frontier {
			for i := range w {
				variant := w[:i] + w[i+1:]
				if _, seen := set[variant]; !seen {
					set[variant] = struct{}{}
					next = append(next, variant)
				}
			}
		}
		frontier = next
		if len(frontier) == 0 {
			break
		}
	}
	out := make([]string, 0, len(set))
	for w := range set {
		out = append(out, w)
	}
	return out
}

// levenshtein computes true edit distance, used to verify symmetric-
// delete candidates (a word reached through a shared deletion can be
// more edits away than allowed: "ab" and "ba" share "a" but are 2 apart).
func levenshtein(a, b string) int {
	la, lb := len(a), len(b)
	if la == 0 {
		return lb
	}
	if lb == 0 {
		return la
	}
	prev := make([]int, lb+1)
	curr := make([]int, lb+1)
	for j := 0; j <= lb; j++ {
		prev[j] = j
	}
	for i := 1; i <= la; i++ {
		curr[0] = i
		for j := 1; j <= lb; j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			del := prev[j] + 1
			ins := curr[j-1] + 1
			sub := prev[j-1] + cost
			curr[j] = min3(del, ins, sub)
		}
		prev, curr = curr, prev
	}
	return prev[lb]
}

func min3(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}

// maxEditDistance returns the allowed edit distance for a word of the
// given length, or -1 if the word is too short to correct at all
// (§4.7 stage 2 correction rules).
func (s *SpellIndex) maxEditDistance(wordLen int) int {
	if wordLen < s.cfg.MinWordSizeOneTypo {
		return -1
	}
	if wordLen < s.cfg.MinWordSizeTwoTypos {
		return 1
	}
	return 2
}

// CorrectWord looks up word and returns a Correction if a better
// dictionary entry exists within the allowed edit distance, else nil.
func (s *SpellIndex) CorrectWord(word string) *Correction {
	lower := strings.ToLower(word)
	if s.IsProtected(lower) {
		return nil
	}
	maxDist := s.maxEditDistance(len(lower))
	if maxDist < 0 {
		return nil
	}

	candidates := map[string]struct{}{}
	if _, ok := s.frequency[lower]; ok {
		candidates[lower] = struct{}{}
	}
	for _, variant := range deletions(lower, s.cfg.MaxDeleteDistance) {
		for _, w := range s.deletes[variant] {
			candidates[w] = struct{}{}
		}
	}
	for _, w := range s.deletes[lower] {
		candidates[w] = struct{}{}
	}

	bestWord := ""
	bestDist := maxDist + 1
	bestFreq := -1
	for w := range candidates {
		dist := levenshtein(lower, w)
		if dist > maxDist {
			continue
		}
		freq := s.frequency[w]
		if dist < bestDist || (dist == bestDist && freq > bestFreq) {
			bestDist = dist
			bestFreq = freq
			bestWord = w
		}
	}

	if bestWord == "" || bestWord == lower || bestDist == 0 {
		return nil
	}
	return &Correction{Original: word, Corrected: bestWord, EditDistance: bestDist}
}

// CorrectQuery applies CorrectWord to every whitespace-separated token
// and rejoins (§4.7 stage 2).
func (s *SpellIndex) CorrectQuery(query string) (corrected string, corrections []Correction) {
	words := strings.Fields(query)
	out := make([]string, len(words))
	for i, w := range words {
		out[i] = w
		if c := s.CorrectWord(w); c != nil {
			out[i] = c.Corrected
			corrections = append(corrections, *c)
		}
	}
	return strings.Join(out, " "), corrections
}
