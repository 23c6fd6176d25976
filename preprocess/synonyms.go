package preprocess

import "strings"

// TermGroup is the set of equivalent surface forms accepted at one
// position of an expanded query (§3, GLOSSARY "Term group").
type TermGroup struct {
	Surface string   // the original matched text at this position
	Terms   []string // equivalent forms, Surface included
}

// ExpandedQuery is an ordered outer-AND of inner-OR term groups (§4.7
// stage 3).
type ExpandedQuery struct {
	TermGroups []TermGroup
}

// BM25Expression renders the expanded query as outer-AND of inner-OR for
// BM25 queries (§4.7 stage 3): `(a OR b OR c) AND (d OR e)`.
func (e ExpandedQuery) BM25Expression() string {
	groups := make([]string, 0, len(e.TermGroups))
	for _, g := range e.TermGroups {
		if len(g.Terms) == 1 {
			groups = append(groups, g.Terms[0])
			continue
		}
		groups = append(groups, "("+strings.Join(g.Terms, " OR ")+")")
	}
	return strings.Join(groups, " AND ")
}

// SynonymMap holds multi-word synonym entries keyed by their canonical
// group, matched greedily left-to-right with longest-match preference
// (§4.7 stage 3).
type SynonymMap struct {
	// groups maps every surface form (lowercase) to the full term group
	// it belongs to.
	groups map[string][]string
	// maxWords is the longest surface form in words, used to bound the
	// greedy longest-match window.
	maxWords int
}

// NewSynonymMap builds an empty map.
func NewSynonymMap() *SynonymMap {
	return &SynonymMap{groups: make(map[string][]string), maxWords: 1}
}

// AddGroup registers one equivalence class; every member maps to the
// full set (a multi-word member is space-separated, e.g. "hit points").
func (m *SynonymMap) AddGroup(terms ...string) {
	lower := make([]string, len(terms))
	for i, t := range terms {
		lower[i] = strings.ToLower(t)
	}
	for _, t := range lower {
		m.groups[t] = lower
		if n := len(strings.Fields(t)); n > m.maxWords {
			m.maxWords = n
		}
	}
}

// DefaultTTRPGSynonyms returns a seed table of common tabletop-RPG
// synonym groups, authored fresh from the spec's own worked example
// (§4.7: "{hp, hit points, health}") — the original implementation's
// equivalent table was not present in the retrieved source, so this is
// not a transcription (see DESIGN.md).
func DefaultTTRPGSynonyms() *SynonymMap {
	m := NewSynonymMap()
	m.AddGroup("hp", "hit points", "health")
	m.AddGroup("ac", "armor class", "armour class")
	m.AddGroup("dc", "difficulty class")
	m.AddGroup("str", "strength")
	m.AddGroup("dex", "dexterity")
	m.AddGroup("con", "constitution")
	m.AddGroup("int", "intelligence")
	m.AddGroup("wis", "wisdom")
	m.AddGroup("cha", "charisma")
	m.AddGroup("npc", "non-player character", "non player character")
	m.AddGroup("pc", "player character")
	m.AddGroup("gm", "game master", "dm", "dungeon master")
	m.AddGroup("xp", "experience points", "experience")
	m.AddGroup("crit", "critical hit")
	m.AddGroup("initiative", "init")
	return m
}

// Expand builds one term group per whitespace-separated token of
// corrected (§8 invariant: term_groups.len() == token count of
// corrected). For each token position it still looks ahead for the
// longest multi-word phrase anchored there with longest-match
// preference (§4.7 stage 3: "matched greedily left-to-right with
// longest-match preference") — a recognized phrase contributes its full
// term group at that position without consuming the following token's
// own position, so a run like "hit points" yields a term group for
// "hit" carrying {hp, hit points, health} and a separate term group for
// "points" on its own. Tokens with no synonym entry become singleton
// groups.
func (m *SynonymMap) Expand(corrected string) ExpandedQuery {
	tokens := strings.Fields(corrected)
	groups := make([]TermGroup, len(tokens))
	for i := range tokens {
		maxWindow := m.maxWords
		if i+maxWindow > len(tokens) {
			maxWindow = len(tokens) - i
		}
		groups[i] = TermGroup{Surface: tokens[i], Terms: []string{tokens[i]}}
		for window := maxWindow; window >= 1; window-- {
			phrase := strings.Join(tokens[i:i+window], " ")
			if terms, ok := m.groups[phrase]; ok {
				groups[i] = TermGroup{Surface: phrase, Terms: terms}
				break
			}
		}
	}
	return ExpandedQuery{TermGroups: groups}
}
