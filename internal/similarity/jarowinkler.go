// Package similarity scores how alike two normalized names are.
package similarity

import "unicode/utf8"

// Winkler prefix boost parameters.
const (
	prefixScale     = 0.1
	maxPrefixLength = 4
)

// JaroWinkler returns the Jaro-Winkler similarity of a and b in [0,1].
// Identical strings score 1; a string against the empty string scores 0.
// The match window is max(len)/2 - 1 runes and the prefix boost is applied
// for every pair, whatever its Jaro score.
func JaroWinkler(a, b string) float64 {
	if a == b {
		return 1
	}
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 || len(rb) == 0 {
		return 0
	}

	jaro := jaroRunes(ra, rb)
	if jaro == 0 {
		return 0
	}

	prefix := 0
	for prefix < maxPrefixLength && prefix < len(ra) && prefix < len(rb) && ra[prefix] == rb[prefix] {
		prefix++
	}

	score := jaro + prefixScale*float64(prefix)*(1-jaro)
	if score > 1 {
		return 1
	}
	return score
}

func jaroRunes(ra, rb []rune) float64 {
	window := max(len(ra), len(rb))/2 - 1
	if window < 0 {
		window = 0
	}

	matchedA := make([]bool, len(ra))
	matchedB := make([]bool, len(rb))
	matches := 0
	for i := range ra {
		lo := max(0, i-window)
		hi := min(len(rb)-1, i+window)
		for j := lo; j <= hi; j++ {
			if matchedB[j] || ra[i] != rb[j] {
				continue
			}
			matchedA[i] = true
			matchedB[j] = true
			matches++
			break
		}
	}
	if matches == 0 {
		return 0
	}

	transpositions := 0
	k := 0
	for i := range ra {
		if !matchedA[i] {
			continue
		}
		for !matchedB[k] {
			k++
		}
		if ra[i] != rb[k] {
			transpositions++
		}
		k++
	}

	m := float64(matches)
	return (m/float64(len(ra)) + m/float64(len(rb)) + (m-float64(transpositions)/2)/m) / 3
}

// Comparisons estimates how many rune comparisons JaroWinkler performs for a
// and b. The matcher uses it to enforce a per-row work budget.
func Comparisons(a, b string) int {
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	window := max(la, lb)/2 - 1
	if window < 0 {
		window = 0
	}
	return la * min(lb, 2*window+1)
}
