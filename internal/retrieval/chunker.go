package retrieval

import "strings"

// Default chunking parameters. One chunk of ~900 words keeps enough context
// to be useful on its own while bounding embedding-call volume and prompt
// size; 120 words of overlap keep clause boundaries from being cut in half.
const (
	DefaultTargetWords  = 900
	DefaultOverlapWords = 120
)

// Chunk splits text into overlapping word windows of at most targetWords
// words, advancing by targetWords-overlapWords per window (at least one).
// The last window always runs to the end of the word sequence. The output is
// deterministic for identical input: chunk positions double as stable
// citation identifiers downstream.
func Chunk(text string, targetWords, overlapWords int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	if targetWords <= 0 {
		targetWords = DefaultTargetWords
	}
	overlap := overlapWords
	if overlap < 0 {
		overlap = 0
	}
	step := targetWords - overlap
	if step < 1 {
		step = 1
	}

	var chunks []string
	for start := 0; start < len(words); start += step {
		end := start + targetWords
		if end > len(words) {
			end = len(words)
		}
		piece := strings.Join(words[start:end], " ")
		if strings.TrimSpace(piece) != "" {
			chunks = append(chunks, piece)
		}
		if end == len(words) {
			break
		}
	}
	return chunks
}
