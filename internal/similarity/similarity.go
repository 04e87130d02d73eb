// Package similarity scores how closely two client names match, blending
// Double Metaphone phonetic encoding with normalized Levenshtein distance.
//
// The scorer is tuned for voice transcripts: the primary error source is a
// misheard or mis-transcribed spoken name ("Smyth" for "Smith"), not a typo.
// Phonetic agreement can therefore compensate for spelling divergence.
//
// The score contract is the observable surface:
//
//   - Score(a, a) == 1 for every a.
//   - Score(a, b) == Score(b, a).
//   - 0 <= Score(a, b) <= 1.
//   - Scores at or above [ThresholdConfident] are confident matches; scores
//     in [ThresholdPossible, ThresholdConfident) are possible matches that
//     need human confirmation; anything below [ThresholdPossible] is noise.
//
// The exact blend weighting between the phonetic and lexical components is an
// internal tunable behind that contract.
//
// Multi-word names are compared token-wise in addition to whole-string
// comparison, so reordered or partially omitted tokens ("John Smith" vs
// "Smith, John A.") still score reasonably.
package similarity

import (
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

const (
	// ThresholdConfident is the minimum score for an automatic match.
	ThresholdConfident = 0.70

	// ThresholdPossible is the minimum score for a match worth offering to a
	// human for confirmation. Scores below it are discarded as noise.
	ThresholdPossible = 0.30
)

// Default blend weights. Lexical similarity carries most of the score;
// phonetic agreement tops it up so homophones clear the confident band.
const (
	defaultLexicalWeight  = 0.6
	defaultPhoneticWeight = 0.4
)

// Class labels the outcome of comparing a spoken name against a stored name.
type Class string

const (
	ClassExact     Class = "exact"
	ClassConfident Class = "confident"
	ClassPossible  Class = "possible"
	ClassNone      Class = "none"
)

// Classify maps a score onto the fixed threshold bands. A score of exactly 1
// is classified as exact.
func Classify(score float64) Class {
	switch {
	case score >= 1:
		return ClassExact
	case score >= ThresholdConfident:
		return ClassConfident
	case score >= ThresholdPossible:
		return ClassPossible
	default:
		return ClassNone
	}
}

// Option is a functional option for configuring a [Scorer].
type Option func(*Scorer)

// WithWeights overrides the lexical/phonetic blend weights. The weights are
// normalized so they always sum to 1; non-positive pairs are ignored.
func WithWeights(lexical, phonetic float64) Option {
	return func(s *Scorer) {
		sum := lexical + phonetic
		if sum <= 0 {
			return
		}
		s.lexicalWeight = lexical / sum
		s.phoneticWeight = phonetic / sum
	}
}

// Scorer computes name similarity scores. All methods are safe for concurrent
// use — the Scorer is read-only after construction.
type Scorer struct {
	lexicalWeight  float64
	phoneticWeight float64
}

// New returns a [Scorer] configured with the supplied options.
func New(opts ...Option) *Scorer {
	s := &Scorer{
		lexicalWeight:  defaultLexicalWeight,
		phoneticWeight: defaultPhoneticWeight,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Score returns the blended similarity of a and b in [0,1]. Both inputs are
// normalized (lowercased, trimmed, punctuation stripped, internal whitespace
// collapsed) before comparison; equal normalized forms score exactly 1.
func (s *Scorer) Score(a, b string) float64 {
	na, nb := Normalize(a), Normalize(b)
	if na == nb {
		return 1
	}
	if na == "" || nb == "" {
		return 0
	}

	aTokens := strings.Fields(na)
	bTokens := strings.Fields(nb)

	lex := lexicalScore(na, nb, aTokens, bTokens)
	phon := phoneticScore(aTokens, bTokens)

	score := s.lexicalWeight*lex + s.phoneticWeight*phon
	if score > 1 {
		score = 1
	}
	if score < 0 {
		score = 0
	}
	return score
}

// Exact reports whether a and b are equal after normalization. This is the
// case/whitespace-insensitive equality used for exact-match detection, which
// is distinct from fuzzy ranking.
func Exact(a, b string) bool {
	return Normalize(a) != "" && Normalize(a) == Normalize(b)
}

// Normalize lowercases the input, strips punctuation, and collapses all
// whitespace runs to single spaces.
func Normalize(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range strings.ToLower(name) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		default:
			// Punctuation separates tokens rather than joining them:
			// "Smith,John" must tokenize as two words.
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// lexicalScore computes the best normalized-Levenshtein similarity across
// three strategies:
//
//  1. Full-string comparison.
//  2. Space-stripped comparison (handles word-boundary transcription drift).
//  3. Bidirectional best-alignment token average: each token is compared
//     against its best counterpart on the other side, averaged per side, then
//     the two side averages are averaged. Comparing both directions keeps the
//     aggregate symmetric and penalizes unmatched extra tokens.
func lexicalScore(a, b string, aTokens, bTokens []string) float64 {
	score := levenshteinSim(a, b)

	if len(aTokens) > 1 || len(bTokens) > 1 {
		if s := levenshteinSim(strings.Join(aTokens, ""), strings.Join(bTokens, "")); s > score {
			score = s
		}
		if s := alignmentScore(aTokens, bTokens); s > score {
			score = s
		}
	}
	return score
}

// alignmentScore is the mean of the two directional best-alignment averages.
func alignmentScore(aTokens, bTokens []string) float64 {
	return (directionalAlignment(aTokens, bTokens) + directionalAlignment(bTokens, aTokens)) / 2
}

// directionalAlignment averages, over every token in from, the best
// similarity against any token in to.
func directionalAlignment(from, to []string) float64 {
	if len(from) == 0 {
		return 0
	}
	var sum float64
	for _, f := range from {
		best := 0.0
		for _, t := range to {
			if s := levenshteinSim(f, t); s > best {
				best = s
			}
		}
		sum += best
	}
	return sum / float64(len(from))
}

// levenshteinSim converts edit distance to a similarity in [0,1].
func levenshteinSim(a, b string) float64 {
	if a == b {
		return 1
	}
	maxLen := len([]rune(a))
	if l := len([]rune(b)); l > maxLen {
		maxLen = l
	}
	if maxLen == 0 {
		return 1
	}
	d := matchr.Levenshtein(a, b)
	sim := 1 - float64(d)/float64(maxLen)
	if sim < 0 {
		return 0
	}
	return sim
}

// phoneticScore measures Double Metaphone code agreement between the two
// token sets as an overlap coefficient: shared codes divided by the smaller
// code-set size. Symmetric by construction.
func phoneticScore(aTokens, bTokens []string) float64 {
	aCodes := codesForTokens(aTokens)
	bCodes := codesForTokens(bTokens)
	if len(aCodes) == 0 || len(bCodes) == 0 {
		return 0
	}

	shared := 0
	for code := range aCodes {
		if _, ok := bCodes[code]; ok {
			shared++
		}
	}

	smaller := len(aCodes)
	if len(bCodes) < smaller {
		smaller = len(bCodes)
	}
	return float64(shared) / float64(smaller)
}

// codesForTokens returns the union of all Double Metaphone codes for the
// given tokens. Empty codes (produced when a word is too short or contains no
// consonants) are excluded.
func codesForTokens(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}
