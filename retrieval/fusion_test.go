package retrieval

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestFuse_LiteralScenario reproduces the documented invariant: vector
// [(A,0.9),(B,0.7)] + fulltext [(B,12.0),(C,6.0)] with default 0.5/0.5
// weights fuses to A=0.5, B=0.5, C=0.0.
func TestFuse_LiteralScenario(t *testing.T) {
	vector := []SearchResult{{ID: "A", Score: 0.9}, {ID: "B", Score: 0.7}}
	fulltext := []SearchResult{{ID: "B", Score: 12.0}, {ID: "C", Score: 6.0}}

	fused := Fuse(vector, fulltext, DefaultFusionWeights(), nil)

	byID := make(map[string]float64, len(fused))
	for _, r := range fused {
		byID[r.ID] = r.Score
	}
	assert.InDelta(t, 0.5, byID["A"], 1e-9)
	assert.InDelta(t, 0.5, byID["B"], 1e-9)
	assert.InDelta(t, 0.0, byID["C"], 1e-9)
}

func TestFuse_SortsDescendingThenByIDOnTie(t *testing.T) {
	vector := []SearchResult{{ID: "Z", Score: 1.0}, {ID: "A", Score: 1.0}}
	fused := Fuse(vector, nil, DefaultFusionWeights(), nil)
	assert.Equal(t, "A", fused[0].ID, "equal scores tiebreak ascending by id")
	assert.Equal(t, "Z", fused[1].ID)
}

func TestFuse_AttachesContentAndMetadataFromDocs(t *testing.T) {
	docs := map[string]Document{
		"A": {ID: "A", Content: "goblin stats", Metadata: map[string]string{"source": "monster-manual"}},
	}
	fused := Fuse([]SearchResult{{ID: "A", Score: 1}}, nil, DefaultFusionWeights(), docs)
	assert.Equal(t, "goblin stats", fused[0].Content)
	assert.Equal(t, "monster-manual", fused[0].Metadata["source"])
}

func TestMinMaxNormalize_SingleElementNormalizesToOne(t *testing.T) {
	got := minMaxNormalize([]SearchResult{{ID: "A", Score: 0.37}})
	assert.Equal(t, 1.0, got["A"])
}

func TestMinMaxNormalize_AllEqualNormalizesEveryMemberToOne(t *testing.T) {
	got := minMaxNormalize([]SearchResult{{ID: "A", Score: 5}, {ID: "B", Score: 5}})
	assert.Equal(t, 1.0, got["A"])
	assert.Equal(t, 1.0, got["B"])
}

func TestMinMaxNormalize_Empty(t *testing.T) {
	got := minMaxNormalize(nil)
	assert.Empty(t, got)
}

func TestFuse_CustomWeightsSkew(t *testing.T) {
	vector := []SearchResult{{ID: "A", Score: 1.0}}
	fulltext := []SearchResult{{ID: "B", Score: 1.0}}
	fused := Fuse(vector, fulltext, FusionWeights{Vector: 0.9, Fulltext: 0.1}, nil)
	byID := make(map[string]float64)
	for _, r := range fused {
		byID[r.ID] = r.Score
	}
	assert.InDelta(t, 0.9, byID["A"], 1e-9)
	assert.InDelta(t, 0.1, byID["B"], 1e-9)
}
