package service

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/capitalize-ai/chat-relay/internal/llm"
)

// OutcomeKind is the three-way classification of generated text.
type OutcomeKind string

const (
	KindRespond OutcomeKind = "respond"
	KindSilent  OutcomeKind = "silent"
	KindPause   OutcomeKind = "pause"
)

// Classifier maps generated text to an outcome using sentinel phrases.
// It holds no mutable state.
type Classifier struct {
	silence []string
	pause   []string
}

// NewClassifier creates a classifier. Phrases are matched case- and
// diacritic-insensitively anywhere in the text.
func NewClassifier(silencePhrases, pausePhrases []string) *Classifier {
	return &Classifier{
		silence: normalizeAll(silencePhrases),
		pause:   normalizeAll(pausePhrases),
	}
}

// Classify returns the outcome kind and the cleaned text. The pause
// directive wins over silence; empty text is silence.
func (c *Classifier) Classify(text string) (OutcomeKind, string) {
	clean := llm.CleanText(text)
	folded := foldText(clean)

	switch {
	case containsAny(folded, c.pause):
		return KindPause, clean
	case folded == "" || containsAny(folded, c.silence):
		return KindSilent, clean
	default:
		return KindRespond, clean
	}
}

// foldText lowercases, strips combining marks and collapses whitespace.
func foldText(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return strings.Join(strings.Fields(strings.ToLower(folded)), " ")
}

func normalizeAll(phrases []string) []string {
	out := make([]string, 0, len(phrases))
	for _, p := range phrases {
		if f := foldText(p); f != "" {
			out = append(out, f)
		}
	}
	return out
}

func containsAny(folded string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(folded, p) {
			return true
		}
	}
	return false
}
