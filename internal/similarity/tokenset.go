package similarity

import (
	"math"
	"sort"
	"strings"

	"github.com/texttheater/golang-levenshtein/levenshtein"
)

// Ratio returns the indel similarity of a and b scaled to 0-100, where a
// substitution costs as much as a deletion plus an insertion.
func Ratio(a, b string) int {
	if a == b {
		if a == "" {
			return 0
		}
		return 100
	}
	r := levenshtein.RatioForStrings([]rune(a), []rune(b), levenshtein.DefaultOptions)
	return int(math.Round(r * 100))
}

// TokenSetRatio scores two token lists for overlap in 0-100. Order and
// duplicates are ignored, and tokens present on only one side lower the score
// less than they would in a plain string comparison. Either side empty scores 0.
func TokenSetRatio(a, b []string) int {
	setA, setB := uniqueSorted(a), uniqueSorted(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}

	var common, onlyA, onlyB []string
	inB := make(map[string]struct{}, len(setB))
	for _, t := range setB {
		inB[t] = struct{}{}
	}
	inA := make(map[string]struct{}, len(setA))
	for _, t := range setA {
		inA[t] = struct{}{}
		if _, ok := inB[t]; ok {
			common = append(common, t)
		} else {
			onlyA = append(onlyA, t)
		}
	}
	for _, t := range setB {
		if _, ok := inA[t]; !ok {
			onlyB = append(onlyB, t)
		}
	}

	sect := strings.Join(common, " ")
	combinedA := strings.TrimSpace(sect + " " + strings.Join(onlyA, " "))
	combinedB := strings.TrimSpace(sect + " " + strings.Join(onlyB, " "))

	return max(
		Ratio(sect, combinedA),
		Ratio(sect, combinedB),
		Ratio(combinedA, combinedB),
	)
}

func uniqueSorted(tokens []string) []string {
	seen := make(map[string]struct{}, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
