package app

import (
	"strings"

	"claridoc/internal/retrieval"
)

type RiskLevel string

const (
	RiskHigh   RiskLevel = "HIGH"
	RiskMedium RiskLevel = "MEDIUM"
	RiskLow    RiskLevel = "LOW"
)

// RiskRule maps a risk level to the keywords that trigger it. Rules are
// evaluated in order and the first level with a matching keyword wins, so
// the table must be ordered most to least severe.
type RiskRule struct {
	Level    RiskLevel
	Keywords []string
}

// DefaultRiskRules is the built-in rule table. It is data, not logic:
// deployments can swap it without touching the tagging code.
func DefaultRiskRules() []RiskRule {
	return []RiskRule{
		{
			Level: RiskHigh,
			Keywords: []string{
				"terminat", "penalty", "penalties", "indemnif",
				"liquidated damages", "forfeit", "breach", "irrevocable",
			},
		},
		{
			Level: RiskMedium,
			Keywords: []string{
				"liability", "arbitration", "auto-renew", "automatic renewal",
				"non-compete", "exclusivity", "warranty",
			},
		},
		{
			Level: RiskLow,
			Keywords: []string{
				"notice period", "assignment", "governing law", "severability",
			},
		},
	}
}

// FlaggedClause marks one evidence chunk that tripped a risk rule.
type FlaggedClause struct {
	ChunkID string    `json:"chunk_id"`
	Index   int       `json:"index"`
	Level   RiskLevel `json:"level"`
	Keyword string    `json:"keyword"`
	Excerpt string    `json:"excerpt"`
}

// FlagClauses tags evidence chunks against the rule table. Tagging is
// independent of similarity ranking; each chunk gets at most one flag.
func FlagClauses(rules []RiskRule, evidence []retrieval.Evidence) []FlaggedClause {
	var flagged []FlaggedClause
	for _, ev := range evidence {
		lower := strings.ToLower(ev.Text)
		if level, keyword, ok := matchRisk(rules, lower); ok {
			flagged = append(flagged, FlaggedClause{
				ChunkID: ev.ChunkID,
				Index:   ev.Index,
				Level:   level,
				Keyword: keyword,
				Excerpt: excerptAround(ev.Text, lower, keyword),
			})
		}
	}
	return flagged
}

func matchRisk(rules []RiskRule, lowerText string) (RiskLevel, string, bool) {
	for _, rule := range rules {
		for _, keyword := range rule.Keywords {
			if strings.Contains(lowerText, keyword) {
				return rule.Level, keyword, true
			}
		}
	}
	return "", "", false
}

// excerptAround returns a short window of the original text centered on the
// first keyword occurrence.
func excerptAround(text, lowerText, keyword string) string {
	const window = 120

	pos := strings.Index(lowerText, keyword)
	if pos < 0 {
		pos = 0
	}
	start := pos - window/2
	if start < 0 {
		start = 0
	}
	end := pos + len(keyword) + window/2
	if end > len(text) {
		end = len(text)
	}

	excerpt := strings.TrimSpace(text[start:end])
	if start > 0 {
		excerpt = "…" + excerpt
	}
	if end < len(text) {
		excerpt += "…"
	}
	return excerpt
}
