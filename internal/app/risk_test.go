package app

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"claridoc/internal/retrieval"
)

func TestFlagClausesLevels(t *testing.T) {
	evidence := []retrieval.Evidence{
		{ChunkID: "1", Index: 0, Text: "Either party may terminate this agreement with cause."},
		{ChunkID: "2", Index: 1, Text: "Disputes shall be settled by binding arbitration in Geneva."},
		{ChunkID: "3", Index: 2, Text: "The notice period for resignation is thirty days."},
		{ChunkID: "4", Index: 3, Text: "The office is located on the third floor."},
	}

	flagged := FlagClauses(DefaultRiskRules(), evidence)
	require.Len(t, flagged, 3)

	assert.Equal(t, RiskHigh, flagged[0].Level)
	assert.Equal(t, "terminat", flagged[0].Keyword)
	assert.Equal(t, "1", flagged[0].ChunkID)

	assert.Equal(t, RiskMedium, flagged[1].Level)
	assert.Equal(t, "arbitration", flagged[1].Keyword)

	assert.Equal(t, RiskLow, flagged[2].Level)
	assert.Equal(t, "notice period", flagged[2].Keyword)
}

func TestFlagClausesFirstMatchWins(t *testing.T) {
	// Both a HIGH and a MEDIUM keyword in one chunk: the severer rule fires
	// and the chunk gets exactly one flag.
	evidence := []retrieval.Evidence{
		{ChunkID: "1", Index: 0, Text: "Liability is capped except where a penalty applies."},
	}

	flagged := FlagClauses(DefaultRiskRules(), evidence)
	require.Len(t, flagged, 1)
	assert.Equal(t, RiskHigh, flagged[0].Level)
	assert.Equal(t, "penalty", flagged[0].Keyword)
}

func TestFlagClausesCaseInsensitive(t *testing.T) {
	evidence := []retrieval.Evidence{
		{ChunkID: "1", Index: 0, Text: "INDEMNIFICATION obligations survive termination."},
	}

	flagged := FlagClauses(DefaultRiskRules(), evidence)
	require.Len(t, flagged, 1)
	assert.Equal(t, RiskHigh, flagged[0].Level)
}

func TestFlagClausesNoMatches(t *testing.T) {
	evidence := []retrieval.Evidence{
		{ChunkID: "1", Index: 0, Text: "The parties will meet quarterly to review progress."},
	}
	assert.Empty(t, FlagClauses(DefaultRiskRules(), evidence))
}

func TestExcerptAroundWindowsLongText(t *testing.T) {
	prefix := strings.Repeat("a ", 200)
	suffix := strings.Repeat("b ", 200)
	text := prefix + "a liquidated damages clause applies " + suffix

	evidence := []retrieval.Evidence{{ChunkID: "1", Index: 0, Text: text}}
	flagged := FlagClauses(DefaultRiskRules(), evidence)
	require.Len(t, flagged, 1)

	excerpt := flagged[0].Excerpt
	assert.Contains(t, excerpt, "liquidated damages")
	assert.True(t, strings.HasPrefix(excerpt, "…"))
	assert.True(t, strings.HasSuffix(excerpt, "…"))
	assert.Less(t, len(excerpt), len(text))
}

func TestExcerptShortTextKeptWhole(t *testing.T) {
	text := "A breach voids the warranty."
	evidence := []retrieval.Evidence{{ChunkID: "1", Index: 0, Text: text}}

	flagged := FlagClauses(DefaultRiskRules(), evidence)
	require.Len(t, flagged, 1)
	assert.Equal(t, text, flagged[0].Excerpt)
}
