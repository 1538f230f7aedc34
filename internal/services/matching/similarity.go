package matching

import (
	"math"
	"strings"
	"unicode"

	"github.com/texttheater/golang-levenshtein/levenshtein"
)

// NameSimilarity scores how well a received sender name matches the payer
// name declared on the payment, 0-100. Every word of the expected name is
// compared with its best counterpart in the received name, so word order and
// extra words on the bank side do not count against it. A received word that
// is a prefix of the expected word ("D" for "Doe", truncated bank names)
// scores 0.9; otherwise the Levenshtein ratio is used.
func NameSimilarity(expected, received string) int {
	exp := strings.Fields(normalizeName(expected))
	rec := strings.Fields(normalizeName(received))
	if len(exp) == 0 || len(rec) == 0 {
		return 0
	}
	if strings.Join(exp, " ") == strings.Join(rec, " ") {
		return 100
	}

	total := 0.0
	for _, e := range exp {
		best := 0.0
		for _, r := range rec {
			if s := wordSimilarity(e, r); s > best {
				best = s
			}
		}
		total += best
	}
	return int(math.Round(total / float64(len(exp)) * 100))
}

func wordSimilarity(expected, received string) float64 {
	if expected == received {
		return 1
	}
	if strings.HasPrefix(expected, received) || strings.HasPrefix(received, expected) {
		return 0.9
	}
	return levenshtein.RatioForStrings([]rune(expected), []rune(received), levenshtein.DefaultOptions)
}

// normalizeName lowercases, drops punctuation and collapses whitespace.
func normalizeName(s string) string {
	s = strings.ToLower(s)
	s = strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			return r
		case r == '-' || r == '/' || r == ',' || unicode.IsSpace(r):
			return ' '
		default:
			return -1
		}
	}, s)
	return strings.Join(strings.Fields(s), " ")
}
