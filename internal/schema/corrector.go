package schema

import (
	"math"
	"strings"
	"unicode"

	"github.com/texttheater/golang-levenshtein/levenshtein"
)

// normalize lower-cases s, turns every non-alphanumeric rune into a space and trims.
func normalize(s string) []rune {
	mapped := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToLower(r)
		}
		return ' '
	}, s)
	return []rune(strings.TrimSpace(mapped))
}

func ratio(a, b []rune) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	// DefaultOptions charges 2 for a substitution, which makes this the indel ratio.
	r := levenshtein.RatioForStrings(a, b, levenshtein.DefaultOptions)
	return int(math.RoundToEven(r * 100))
}

// Similarity scores a against b from 0 (nothing in common) to 100 (equal after normalization).
func Similarity(a, b string) int {
	return ratio(normalize(a), normalize(b))
}

// Corrector maps raw column names onto the closest canonical column.
// It is safe for concurrent use.
type Corrector struct {
	pool       []string
	normalized [][]rune
	threshold  int
}

// NewCorrector matches against every column of catalog. A raw name is replaced only when its
// best score is strictly greater than threshold.
func NewCorrector(catalog *Catalog, threshold int) *Corrector {
	pool := catalog.Pool()
	normalized := make([][]rune, len(pool))
	for i, col := range pool {
		normalized[i] = normalize(col)
	}
	return &Corrector{pool: pool, normalized: normalized, threshold: threshold}
}

// Threshold returns the score a match must exceed.
func (c *Corrector) Threshold() int { return c.threshold }

// BestMatch returns the highest scoring canonical column for raw and its score.
// Ties go to the column listed first in the catalog.
func (c *Corrector) BestMatch(raw string) (string, int) {
	n := normalize(raw)
	best, bestScore := "", -1
	for i, col := range c.normalized {
		if s := ratio(n, col); s > bestScore {
			best, bestScore = c.pool[i], s
			if s == 100 {
				break
			}
		}
	}
	return best, bestScore
}

// Correct returns raw with every column replaced by its canonical name where the match is
// good enough. Length and order are preserved.
func (c *Corrector) Correct(raw []string) []string {
	out := make([]string, len(raw))
	for i, col := range raw {
		out[i] = col
		if match, score := c.BestMatch(col); score > c.threshold {
			out[i] = match
		}
	}
	return out
}
