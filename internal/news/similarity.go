package news

import "strings"

// DefaultSimilarityThreshold matches the duplicate guard used at submission
// time: two items whose titles AND descriptions both score above it are
// treated as the same story.
const DefaultSimilarityThreshold = 0.85

// SimilarTo reports whether other looks like a duplicate of the item.
// Comparison is case-insensitive and uses bigram overlap, which is cheap and
// tolerant of small edits (punctuation, typo fixes, reworded endings).
func (it Item) SimilarTo(other Item, threshold float64) bool {
	if threshold <= 0 {
		threshold = DefaultSimilarityThreshold
	}
	return diceCoefficient(it.Title, other.Title) > threshold &&
		diceCoefficient(it.Description, other.Description) > threshold
}

// diceCoefficient returns the Sorensen-Dice coefficient over character
// bigrams of the two strings, in [0, 1].
func diceCoefficient(a, b string) float64 {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	if a == b {
		if a == "" {
			return 0
		}
		return 1
	}
	ba := bigrams(a)
	bb := bigrams(b)
	if len(ba) == 0 || len(bb) == 0 {
		return 0
	}
	var shared int
	for g, n := range ba {
		if m := bb[g]; m > 0 {
			if n < m {
				shared += n
			} else {
				shared += m
			}
		}
	}
	var total int
	for _, n := range ba {
		total += n
	}
	for _, n := range bb {
		total += n
	}
	return 2 * float64(shared) / float64(total)
}

func bigrams(s string) map[string]int {
	rs := []rune(s)
	if len(rs) < 2 {
		return nil
	}
	out := make(map[string]int, len(rs)-1)
	for i := 0; i+1 < len(rs); i++ {
		out[string(rs[i:i+2])]++
	}
	return out
}
