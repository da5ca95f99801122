package catalog

import "strings"

// trigrams returns the set of 3-rune windows over the lowercased string,
// padded with leading/trailing spaces so short names and word starts still
// produce grams.
func trigrams(s string) map[string]struct{} {
	s = "  " + strings.ToLower(strings.TrimSpace(s)) + " "
	runes := []rune(s)
	grams := make(map[string]struct{}, len(runes))
	for i := 0; i+3 <= len(runes); i++ {
		grams[string(runes[i:i+3])] = struct{}{}
	}
	return grams
}

// similarity scores how alike two strings are as the Jaccard ratio of their
// trigram sets, in [0, 1].
func similarity(a, b string) float64 {
	ga, gb := trigrams(a), trigrams(b)
	if len(ga) == 0 || len(gb) == 0 {
		return 0
	}
	shared := 0
	for g := range ga {
		if _, ok := gb[g]; ok {
			shared++
		}
	}
	union := len(ga) + len(gb) - shared
	return float64(shared) / float64(union)
}
