package retrieval

import "math"

// Dynamic top-K thresholds: a near-exact match needs little supporting
// context, a weak match needs a broader evidence set.
const (
	highConfidenceSim = 0.8
	lowConfidenceSim  = 0.6

	narrowK  = 2
	defaultK = 4
	wideK    = 6
)

// CosineSimilarity returns dot(a,b)/(|a||b|). Absent vectors, mismatched
// lengths, and zero magnitude all yield exactly 0: "no similarity" rather
// than an error, so a missing embedding simply ranks last.
func CosineSimilarity(a, b []float32) float32 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA <= 0 || normB <= 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}

// SelectK picks the evidence-set size from the best similarity seen across
// the candidates, clamped to the candidate count.
func SelectK(maxSim float32, candidates int) int {
	if candidates <= 0 {
		return 0
	}
	k := defaultK
	switch {
	case maxSim >= highConfidenceSim:
		k = narrowK
	case maxSim < lowConfidenceSim:
		k = wideK
	}
	if k > candidates {
		k = candidates
	}
	return k
}
