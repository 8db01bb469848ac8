package dispatch

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// span is a sentence as a byte range of the text it came from.
type span struct {
	start, end int
}

// abbreviations never end a sentence even when followed by a capital.
var abbreviations = map[string]struct{}{
	"dr": {}, "mr": {}, "mrs": {}, "ms": {}, "prof": {}, "st": {}, "jr": {}, "sr": {},
	"vs": {}, "no": {}, "dept": {}, "univ": {}, "approx": {}, "e.g": {}, "i.e": {},
	"jan": {}, "feb": {}, "apr": {}, "aug": {}, "sep": {}, "sept": {}, "oct": {}, "nov": {}, "dec": {},
}

// Sentences splits text at line breaks and at terminal punctuation that is
// followed by whitespace and the start of a new sentence. Abbreviations,
// initials and decimals stay inside their sentence.
func Sentences(text string) []string {
	spans := sentenceSpans(text)
	out := make([]string, 0, len(spans))
	for _, sp := range spans {
		out = append(out, text[sp.start:sp.end])
	}
	return out
}

func sentenceSpans(text string) []span {
	var (
		out   []span
		start = -1
	)
	flush := func(end int) {
		if start < 0 {
			return
		}
		s := strings.TrimRightFunc(text[start:end], unicode.IsSpace)
		if s != "" {
			out = append(out, span{start: start, end: start + len(s)})
		}
		start = -1
	}

	for i := 0; i < len(text); {
		r, size := utf8.DecodeRuneInString(text[i:])
		switch {
		case r == '\n':
			flush(i)
		case start < 0 && unicode.IsSpace(r):
		case start < 0:
			start = i
		case r == '.' || r == '!' || r == '?':
			end := i + size
			for end < len(text) && strings.ContainsRune(".!?", rune(text[end])) {
				end++
			}
			if endsSentence(text, start, i, end) {
				flush(end)
			}
			i = end
			continue
		}
		i += size
	}
	flush(len(text))
	return out
}

// endsSentence reports whether the terminator run text[term:end] closes the
// sentence that began at start.
func endsSentence(text string, start, term, end int) bool {
	if end >= len(text) {
		return true
	}
	next, _ := utf8.DecodeRuneInString(text[end:])
	if !unicode.IsSpace(next) {
		return false
	}
	if text[term] == '.' && end-term == 1 {
		word := lastWord(text[start:term])
		if _, ok := abbreviations[strings.ToLower(word)]; ok {
			return false
		}
		if utf8.RuneCountInString(word) == 1 && unicode.IsUpper([]rune(word)[0]) {
			return false
		}
	}
	rest := strings.TrimLeftFunc(text[end:], func(r rune) bool { return r == ' ' || r == '\t' })
	if rest == "" || rest[0] == '\n' || rest[0] == '\r' {
		return true
	}
	first, _ := utf8.DecodeRuneInString(rest)
	return unicode.IsUpper(first) || strings.ContainsRune(`"'(*-`, first)
}

func lastWord(s string) string {
	if i := strings.LastIndexFunc(s, unicode.IsSpace); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimLeft(s, `("'`)
}

// rebuild keeps the original separators: each kept sentence is preceded by
// the whitespace that preceded it in text.
func rebuild(text string, all, kept []span) string {
	var b strings.Builder
	prevEnd := make(map[int]int, len(all))
	for i, sp := range all {
		if i > 0 {
			prevEnd[sp.start] = all[i-1].end
		}
	}
	for _, sp := range kept {
		if b.Len() > 0 {
			b.WriteString(text[prevEnd[sp.start]:sp.start])
		}
		b.WriteString(text[sp.start:sp.end])
	}
	return b.String()
}
