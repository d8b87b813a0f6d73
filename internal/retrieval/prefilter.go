package retrieval

import (
	"sort"
	"strings"
	"unicode"
)

// Prefilter scores chunk texts by lexical overlap with the question and
// returns at most cap chunk indices, best first. It exists to bound the cost
// of the embedding step on large documents, so it must be cheap and must
// never fail: on empty questions, zero lexical overlap, or any internal
// panic it falls back to the first cap indices in original order. The sort
// is stable, so chunks with equal scores keep document order under the cap.
func Prefilter(question string, texts []string, cap int) []int {
	n := len(texts)
	if n == 0 {
		return nil
	}
	if cap <= 0 || cap > n {
		cap = n
	}

	indices := firstN(n, cap)

	terms := queryTerms(question)
	if len(terms) == 0 {
		return indices
	}

	ranked, ok := rankByTermOverlap(terms, texts)
	if !ok {
		return indices
	}
	return ranked[:cap]
}

// rankByTermOverlap returns all indices sorted by distinct-term match count
// descending. ok is false when no term matched any chunk or scoring panicked;
// the caller then keeps original order.
func rankByTermOverlap(terms []string, texts []string) (ranked []int, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ranked, ok = nil, false
		}
	}()

	scores := make([]int, len(texts))
	best := 0
	for i, text := range texts {
		lower := strings.ToLower(text)
		count := 0
		for _, term := range terms {
			if strings.Contains(lower, term) {
				count++
			}
		}
		scores[i] = count
		if count > best {
			best = count
		}
	}
	if best == 0 {
		return nil, false
	}

	ranked = make([]int, len(texts))
	for i := range ranked {
		ranked[i] = i
	}
	sort.SliceStable(ranked, func(a, b int) bool {
		return scores[ranked[a]] > scores[ranked[b]]
	})
	return ranked, true
}

// queryTerms extracts distinct lowercase alphanumeric terms longer than two
// characters from the question. No stemming, no stopword list.
func queryTerms(question string) []string {
	fields := strings.FieldsFunc(strings.ToLower(question), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	seen := make(map[string]struct{}, len(fields))
	var terms []string
	for _, f := range fields {
		if len(f) <= 2 {
			continue
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		terms = append(terms, f)
	}
	return terms
}

func firstN(n, cap int) []int {
	if cap > n {
		cap = n
	}
	out := make([]int, cap)
	for i := range out {
		out[i] = i
	}
	return out
}
