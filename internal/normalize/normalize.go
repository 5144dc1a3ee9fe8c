// Package normalize turns free-text payer and client names into comparable keys.
package normalize

import (
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// punctuation is replaced by a single space before whitespace is collapsed.
const punctuation = ".,;:-_/\\()[]{}'\""

// A chain keeps buffers between calls, so each goroutine borrows its own.
var stripMarksPool = sync.Pool{
	New: func() interface{} {
		return transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	},
}

func stripMarks(text string) string {
	t := stripMarksPool.Get().(transform.Transformer)
	defer stripMarksPool.Put(t)
	if stripped, _, err := transform.String(t, text); err == nil {
		return stripped
	}
	return text
}

var punctuationReplacer = func() *strings.Replacer {
	pairs := make([]string, 0, len(punctuation)*2)
	for _, r := range punctuation {
		pairs = append(pairs, string(r), " ")
	}
	return strings.NewReplacer(pairs...)
}()

// Normalize canonicalizes text into a comparable key: upper case, no
// diacritics, punctuation replaced by spaces, single spaces between words.
// It is total and idempotent; the empty string maps to itself.
func Normalize(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}

	text = strings.ToUpper(text)
	text = stripMarks(text)
	// Stripping marks can expose lower-case forms of a few precomposed letters.
	text = strings.ToUpper(text)
	text = punctuationReplacer.Replace(text)

	return strings.Join(strings.Fields(text), " ")
}

// Token is one word of a normalized name.
type Token struct {
	Text string
	// Initial is set for single-letter words such as "R" or "R.".
	Initial bool
}

// Tokenize normalizes text and splits it into tokens.
func Tokenize(text string) []Token {
	words := strings.Fields(Normalize(text))
	tokens := make([]Token, 0, len(words))
	for _, w := range words {
		tokens = append(tokens, Token{Text: w, Initial: isInitial(w)})
	}
	return tokens
}

func isInitial(word string) bool {
	if utf8.RuneCountInString(word) != 1 {
		return false
	}
	r, _ := utf8.DecodeRuneInString(word)
	return unicode.IsLetter(r)
}

// Words returns the token texts in order.
func Words(tokens []Token) []string {
	out := make([]string, len(tokens))
	for i, t := range tokens {
		out[i] = t.Text
	}
	return out
}

// WithoutInitials returns the token texts with initials dropped.
func WithoutInitials(tokens []Token) []string {
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if !t.Initial {
			out = append(out, t.Text)
		}
	}
	return out
}

// HasInitials reports whether any token is an initial.
func HasInitials(tokens []Token) bool {
	for _, t := range tokens {
		if t.Initial {
			return true
		}
	}
	return false
}

// SwapCommaOrder reads raw as "Surname, Given" and returns the normalized
// "Given Surname" ordering. ok is false when raw has no comma or one side is
// empty.
func SwapCommaOrder(raw string) (swapped string, ok bool) {
	surname, given, found := strings.Cut(raw, ",")
	if !found {
		return "", false
	}
	surname, given = Normalize(surname), Normalize(given)
	if surname == "" || given == "" {
		return "", false
	}
	return given + " " + surname, true
}

// Join normalizes each part and joins the non-empty results with a space.
func Join(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if n := Normalize(p); n != "" {
			out = append(out, n)
		}
	}
	return strings.Join(out, " ")
}
