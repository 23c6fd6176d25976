package preprocess

// ProcessedQuery is the output of running Pipeline.Process on raw user
// text (§3 Processed query).
type ProcessedQuery struct {
	Original         string
	Corrected        string
	Corrections      []Correction
	Expanded         ExpandedQuery
	TextForEmbedding string
}

// Pipeline runs normalize -> typo-correct -> synonym-expand (§4.7).
type Pipeline struct {
	Spell    *SpellIndex
	Synonyms *SynonymMap
}

// NewPipeline builds a Pipeline from an already-populated spell index
// and synonym map.
func NewPipeline(spell *SpellIndex, synonyms *SynonymMap) *Pipeline {
	if synonyms == nil {
		synonyms = NewSynonymMap()
	}
	return &Pipeline{Spell: spell, Synonyms: synonyms}
}

// NewMinimalPipeline builds a Pipeline with an empty spell index and the
// default TTRPG synonym seed table, for tests that don't need real
// dictionaries (mirrors original_source's `new_minimal` test helper).
func NewMinimalPipeline() *Pipeline {
	return &Pipeline{Spell: NewSpellIndex(DefaultSpellConfig()), Synonyms: DefaultTTRPGSynonyms()}
}

// Process runs the full pipeline. text_for_embedding is always the
// corrected string, never the expanded one, to avoid embedding noise
// from synonym injection (§3, §4.7 stage 4).
func (p *Pipeline) Process(raw string) ProcessedQuery {
	normalized := Normalize(raw)

	var corrected string
	var corrections []Correction
	if p.Spell != nil {
		corrected, corrections = p.Spell.CorrectQuery(normalized)
	} else {
		corrected = normalized
	}

	var expanded ExpandedQuery
	if p.Synonyms != nil {
		expanded = p.Synonyms.Expand(corrected)
	}

	return ProcessedQuery{
		Original:         raw,
		Corrected:        corrected,
		Corrections:      corrections,
		Expanded:         expanded,
		TextForEmbedding: corrected,
	}
}

// HasCorrections reports whether any word was corrected.
func (q ProcessedQuery) HasCorrections() bool {
	return len(q.Corrections) > 0
}
