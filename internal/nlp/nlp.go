// Package nlp holds the lightweight text analysis the pipeline runs on
// user input: entity and concept extraction, fact detection, sentiment
// and keyword scoring. Everything here is heuristic; the confidence
// discounts applied downstream account for its reliability.
package nlp

import (
	"sort"
	"strings"
	"unicode"
)

type Entity struct {
	Text string
	Type string
}

type Analysis struct {
	Entities  []Entity
	Concepts  []string
	Facts     []string
	Sentiment float64
	Keywords  []string
}

var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "are": true, "but": true,
	"not": true, "you": true, "all": true, "can": true, "her": true,
	"was": true, "one": true, "our": true, "out": true, "day": true,
	"get": true, "has": true, "him": true, "his": true, "how": true,
	"man": true, "new": true, "now": true, "old": true, "see": true,
	"two": true, "way": true, "who": true, "did": true, "its": true,
	"let": true, "put": true, "say": true, "she": true, "too": true,
	"use": true, "that": true, "this": true, "with": true, "have": true,
	"from": true, "they": true, "will": true, "would": true, "there": true,
	"their": true, "what": true, "about": true, "which": true, "when": true,
	"your": true, "said": true, "could": true, "been": true, "were": true,
	"more": true, "some": true, "them": true, "then": true, "than": true,
	"also": true, "just": true, "like": true, "into": true, "over": true,
	"because": true, "very": true, "after": true, "most": true, "where": true,
}

var positiveWords = map[string]bool{
	"good": true, "great": true, "excellent": true, "amazing": true,
	"wonderful": true, "fantastic": true, "love": true, "happy": true,
	"best": true, "awesome": true, "nice": true, "perfect": true,
	"thanks": true, "thank": true, "helpful": true, "right": true,
	"correct": true, "yes": true,
}

var negativeWords = map[string]bool{
	"bad": true, "terrible": true, "awful": true, "horrible": true,
	"hate": true, "sad": true, "angry": true, "worst": true,
	"wrong": true, "no": true, "never": true, "poor": true,
	"useless": true, "stupid": true, "broken": true, "incorrect": true,
}

// factIndicators mark sentences that assert something rather than ask
// or emote.
var factIndicators = []string{
	" is ", " are ", " was ", " were ", " means ", " consists ",
	" contains ", " causes ", " because ", " therefore ", " defined ",
	" called ", " known as ", " refers to ",
}

// Analyze runs every extractor over the input.
func Analyze(text string) Analysis {
	return Analysis{
		Entities:  ExtractEntities(text),
		Concepts:  ExtractConcepts(text),
		Facts:     ExtractFacts(text),
		Sentiment: Sentiment(text),
		Keywords:  ExtractKeywords(text, 8),
	}
}

// ExtractKeywords lowercases, strips punctuation, drops stop words,
// pure numerals and tokens of three characters or fewer, de-dupes and
// caps the result.
func ExtractKeywords(text string, max int) []string {
	if max <= 0 {
		max = 8
	}
	seen := map[string]bool{}
	var out []string
	for _, tok := range Tokenize(text) {
		if len(tok) <= 3 || stopWords[tok] || isNumeral(tok) || seen[tok] {
			continue
		}
		seen[tok] = true
		out = append(out, tok)
		if len(out) >= max {
			break
		}
	}
	return out
}

// Tokenize lowercases and splits on non-letter, non-digit runs.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// TokenSet returns the distinct tokens of a text.
func TokenSet(text string) map[string]bool {
	set := map[string]bool{}
	for _, tok := range Tokenize(text) {
		set[tok] = true
	}
	return set
}

// Jaccard computes token-set similarity between two texts.
func Jaccard(a, b string) float64 {
	setA := TokenSet(a)
	setB := TokenSet(b)
	if len(setA) == 0 && len(setB) == 0 {
		return 0
	}
	inter := 0
	for tok := range setA {
		if setB[tok] {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// ExtractEntities finds runs of capitalized words that are not at the
// start of a sentence, guessing a coarse type from surrounding cues.
func ExtractEntities(text string) []Entity {
	var out []Entity
	seen := map[string]bool{}
	for _, sentence := range SplitSentences(text) {
		words := strings.Fields(sentence)
		var run []string
		flush := func(endIdx int) {
			if len(run) == 0 {
				return
			}
			// a lone capitalized sentence-opener is not an entity
			if len(run) == 1 && endIdx == len(run) {
				run = nil
				return
			}
			name := strings.Join(run, " ")
			if !seen[name] {
				seen[name] = true
				out = append(out, Entity{Text: name, Type: guessEntityType(name, sentence)})
			}
			run = nil
		}
		for i, w := range words {
			clean := strings.TrimFunc(w, func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsDigit(r) })
			if clean == "" {
				flush(i)
				continue
			}
			if isCapitalized(clean) && (i > 0 || len(run) > 0) {
				run = append(run, clean)
				continue
			}
			flush(i)
		}
		flush(len(words))
	}
	return out
}

func guessEntityType(name, sentence string) string {
	lower := strings.ToLower(sentence)
	switch {
	case strings.Contains(lower, " in "+strings.ToLower(name)) || strings.Contains(lower, " at "+strings.ToLower(name)) || strings.Contains(lower, " from "+strings.ToLower(name)):
		return "place"
	case strings.HasSuffix(name, "Inc") || strings.HasSuffix(name, "Corp") || strings.HasSuffix(name, "Ltd"):
		return "organization"
	case strings.Contains(name, " "):
		return "person"
	default:
		return "unknown"
	}
}

// ExtractConcepts picks the highest-frequency content terms.
func ExtractConcepts(text string) []string {
	freq := map[string]int{}
	for _, tok := range Tokenize(text) {
		if len(tok) <= 3 || stopWords[tok] || isNumeral(tok) {
			continue
		}
		freq[tok]++
	}
	type termCount struct {
		term  string
		count int
	}
	var terms []termCount
	for term, count := range freq {
		if count >= 2 {
			terms = append(terms, termCount{term, count})
		}
	}
	sort.Slice(terms, func(i, j int) bool {
		if terms[i].count != terms[j].count {
			return terms[i].count > terms[j].count
		}
		return terms[i].term < terms[j].term
	})
	var out []string
	for _, tc := range terms {
		out = append(out, tc.term)
		if len(out) >= 5 {
			break
		}
	}
	return out
}

// ExtractFacts keeps declarative sentences containing an assertion
// indicator and at least four words.
func ExtractFacts(text string) []string {
	var out []string
	for _, sentence := range SplitSentences(text) {
		trimmed := strings.TrimSpace(sentence)
		if trimmed == "" || strings.HasSuffix(trimmed, "?") {
			continue
		}
		if len(strings.Fields(trimmed)) < 4 {
			continue
		}
		padded := " " + strings.ToLower(trimmed) + " "
		for _, ind := range factIndicators {
			if strings.Contains(padded, ind) {
				out = append(out, trimmed)
				break
			}
		}
	}
	return out
}

// Sentiment scores text in [-1,1] from word list hits.
func Sentiment(text string) float64 {
	pos, neg := 0, 0
	for _, tok := range Tokenize(text) {
		if positiveWords[tok] {
			pos++
		}
		if negativeWords[tok] {
			neg++
		}
	}
	total := pos + neg
	if total == 0 {
		return 0
	}
	return float64(pos-neg) / float64(total)
}

// IsQuestion reports whether the text reads as a question.
func IsQuestion(text string) bool {
	trimmed := strings.TrimSpace(text)
	if strings.HasSuffix(trimmed, "?") {
		return true
	}
	lower := strings.ToLower(trimmed)
	for _, prefix := range []string{"what ", "who ", "where ", "when ", "why ", "how ", "which ", "can ", "could ", "would ", "should ", "is ", "are ", "do ", "does "} {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

// SplitSentences breaks text on terminal punctuation.
func SplitSentences(text string) []string {
	var out []string
	var b strings.Builder
	for _, r := range text {
		b.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			s := strings.TrimSpace(b.String())
			if s != "" {
				out = append(out, s)
			}
			b.Reset()
		}
	}
	if s := strings.TrimSpace(b.String()); s != "" {
		out = append(out, s)
	}
	return out
}

func isCapitalized(word string) bool {
	r := []rune(word)
	return len(r) > 0 && unicode.IsUpper(r[0])
}

func isNumeral(tok string) bool {
	for _, r := range tok {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return len(tok) > 0
}
