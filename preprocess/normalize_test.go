package preprocess

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize_CollapsesWhitespaceAndLowercases(t *testing.T) {
	assert.Equal(t, "the goblin attacks", Normalize("  The   Goblin\tattacks\n"))
}

func TestNormalize_EmptyInput(t *testing.T) {
	assert.Empty(t, Normalize("   "))
}
