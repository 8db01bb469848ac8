package routing

import (
	"regexp"
	"strings"
	"unicode"
)

// Tokenize lowercases text and splits it into letter/digit runs.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// WordCount counts tokens.
func WordCount(text string) int {
	return len(Tokenize(text))
}

// Normalize folds case, punctuation and whitespace so near-identical
// sentences compare equal.
func Normalize(text string) string {
	return strings.Join(Tokenize(text), " ")
}

var inflections = []string{"s", "es", "ed", "ing", "er", "ers", "ly"}

func tokenMatches(word, keyword string) bool {
	if word == keyword {
		return true
	}
	if len(keyword) < 3 || !strings.HasPrefix(word, keyword) {
		return false
	}
	rest := word[len(keyword):]
	for _, suffix := range inflections {
		if rest == suffix {
			return true
		}
	}
	return false
}

// phrase is a keyword compiled to tokens.
type phrase struct {
	text   string
	tokens []string
}

func compilePhrases(keywords []string) []phrase {
	out := make([]phrase, 0, len(keywords))
	seen := make(map[string]struct{}, len(keywords))
	for _, kw := range keywords {
		tokens := Tokenize(kw)
		if len(tokens) == 0 {
			continue
		}
		key := strings.Join(tokens, " ")
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, phrase{text: key, tokens: tokens})
	}
	return out
}

// matchPhrases returns the phrases found in tokens and the number of
// distinct positions they start at, so "career closet" and "career" on the
// same words count once.
func matchPhrases(tokens []string, phrases []phrase) (matched []string, hits int) {
	starts := make(map[int]struct{})
	for _, p := range phrases {
		found := false
		for i := 0; i+len(p.tokens) <= len(tokens); i++ {
			ok := true
			for j, kt := range p.tokens {
				if !tokenMatches(tokens[i+j], kt) {
					ok = false
					break
				}
			}
			if ok {
				starts[i] = struct{}{}
				found = true
			}
		}
		if found {
			matched = append(matched, p.text)
		}
	}
	return matched, len(starts)
}

func containsAny(tokens []string, phrases []phrase) bool {
	matched, _ := matchPhrases(tokens, phrases)
	return len(matched) > 0
}

var clauseBoundary = regexp.MustCompile(`(?i)[.?!;]+\s*|,\s*but\s+|\s+and\s+(?:also\s+)?|\s+also\s+`)

// Clauses splits a message at sentence ends, semicolons and coordinating
// "and"/"also"/", but" joints. Each clause keeps its own terminal
// punctuation.
func Clauses(message string) []string {
	var out []string
	prev := 0
	for _, loc := range clauseBoundary.FindAllStringIndex(message, -1) {
		clause := strings.TrimSpace(message[prev:loc[0]])
		sep := strings.TrimSpace(message[loc[0]:loc[1]])
		if clause != "" {
			if sep != "" && strings.ContainsAny(sep[:1], ".?!") {
				clause += sep[:1]
			}
			out = append(out, clause)
		}
		prev = loc[1]
	}
	if tail := strings.TrimSpace(message[prev:]); tail != "" {
		out = append(out, tail)
	}
	return out
}
