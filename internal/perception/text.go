package perception

import (
	"image"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
	"golang.org/x/text/unicode/norm"
)

// Word is one OCR token. Box is relative to the recognised image.
type Word struct {
	Text       string
	Box        image.Rectangle
	Confidence float64 // 0..1
}

// OCR confuses Latin and Cyrillic lookalikes; everything folds to Cyrillic.
var homoglyphs = map[rune]rune{
	'a': 'а', 'b': 'в', 'c': 'с', 'e': 'е', 'h': 'н', 'i': 'і', 'k': 'к',
	'm': 'м', 'o': 'о', 'p': 'р', 't': 'т', 'x': 'х', 'y': 'у',
	'ё': 'е',
	'’': '\'', 'ʼ': '\'', '`': '\'', '‘': '\'',
}

// NormalizeText folds case, compatibility forms and homoglyphs.
func NormalizeText(s string) string {
	s = strings.ToLower(norm.NFKC.String(s))
	return strings.Map(func(r rune) rune {
		if m, ok := homoglyphs[r]; ok {
			return m
		}
		return r
	}, s)
}

func trimPunct(s string) string {
	return strings.TrimFunc(s, func(r rune) bool {
		return unicode.IsPunct(r) && r != '\''
	})
}

func normalizeToken(s string) string {
	return trimPunct(NormalizeText(strings.TrimSpace(s)))
}

// Tokens splits a query into normalised words.
func Tokens(query string) []string {
	fields := strings.Fields(query)
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if t := normalizeToken(f); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// Similarity is 1 - levenshtein(a, b) / max(len(a), len(b)), counted in runes.
func Similarity(a, b string) float64 {
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	longest := max(la, lb)
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(longest)
}

// MatchWindow reports whether a run of OCR words equals query tokens.
// Any empty or low-confidence word rejects the window outright.
func MatchWindow(window []Word, query []string, threshold, minConfidence float64) bool {
	if len(window) != len(query) || len(query) == 0 {
		return false
	}

	got := make([]string, len(window))
	for i, w := range window {
		t := normalizeToken(w.Text)
		if t == "" || w.Confidence < minConfidence {
			return false
		}
		got[i] = t
	}

	if Similarity(strings.Join(got, " "), strings.Join(query, " ")) >= threshold {
		return true
	}
	for i := range got {
		if Similarity(got[i], query[i]) < threshold {
			return false
		}
	}
	return true
}

// FindPhrase returns the bounds of the first word window matching query.
func FindPhrase(words []Word, query string, threshold, minConfidence float64) (image.Rectangle, float64, bool) {
	q := Tokens(query)
	n := len(q)
	if n == 0 {
		return image.Rectangle{}, 0, false
	}

	for i := 0; i+n <= len(words); i++ {
		window := words[i : i+n]
		if !MatchWindow(window, q, threshold, minConfidence) {
			continue
		}
		box := window[0].Box
		var conf float64
		for _, w := range window {
			box = box.Union(w.Box)
			conf += w.Confidence
		}
		return box, conf / float64(n), true
	}
	return image.Rectangle{}, 0, false
}

// JoinWords renders the recognised text for logs.
func JoinWords(words []Word) string {
	parts := make([]string, 0, len(words))
	for _, w := range words {
		if t := strings.TrimSpace(w.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}
