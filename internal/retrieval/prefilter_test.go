package retrieval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrefilterEmptyInput(t *testing.T) {
	assert.Nil(t, Prefilter("anything", nil, 5))
}

func TestPrefilterNoUsableTerms(t *testing.T) {
	texts := []string{"alpha", "beta", "gamma", "delta"}
	// All question tokens are <= 2 chars after tokenization.
	assert.Equal(t, []int{0, 1, 2}, Prefilter("a an to be", texts, 3))
	assert.Equal(t, []int{0, 1, 2, 3}, Prefilter("", texts, 10))
}

func TestPrefilterZeroMatchesKeepsOriginalOrder(t *testing.T) {
	texts := []string{"alpha", "beta", "gamma", "delta", "epsilon", "zeta"}
	got := Prefilter("unrelated question entirely", texts, 4)
	assert.Equal(t, []int{0, 1, 2, 3}, got)
}

func TestPrefilterRanksMatchingChunkFirst(t *testing.T) {
	texts := make([]string, 10)
	for i := range texts {
		texts[i] = "generic contract paragraph"
	}
	texts[3] = "a penalty applies on late delivery"

	got := Prefilter("what is the penalty", texts, 5)
	require.Len(t, got, 5)
	assert.Equal(t, 3, got[0])
}

func TestPrefilterDistinctTermsCountOnce(t *testing.T) {
	texts := []string{
		"penalty penalty penalty penalty",
		"penalty and termination terms",
	}
	// Chunk 1 matches two distinct terms, chunk 0 only one (repeats do not
	// stack).
	got := Prefilter("penalty termination", texts, 2)
	assert.Equal(t, []int{1, 0}, got)
}

func TestPrefilterStableTieBreak(t *testing.T) {
	texts := []string{
		"the penalty clause",
		"another penalty clause",
		"yet another penalty clause",
		"no match here",
	}
	got := Prefilter("penalty", texts, 3)
	assert.Equal(t, []int{0, 1, 2}, got)
}

func TestPrefilterSubstringMatch(t *testing.T) {
	texts := []string{"no relevant text", "early termination is costly"}
	// "terminate" is not present verbatim; "termination" is matched only
	// when the term itself is a substring of the chunk.
	got := Prefilter("termination", texts, 1)
	assert.Equal(t, []int{1}, got)
}

func TestPrefilterCapClamped(t *testing.T) {
	texts := []string{"one", "two"}
	assert.Len(t, Prefilter("unmatched", texts, 10), 2)
	assert.Len(t, Prefilter("unmatched", texts, 0), 2)
}
