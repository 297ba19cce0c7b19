// Package knowledge implements the semantic-retrieval capability consumed
// by the generation engine: deterministic, concurrency-safe scoring of
// project knowledge snippets against a query.
//
// The scorer is intentionally small and dependency-free:
//
//   - No logging in the library (callers decide how/what to log)
//   - Immutable, read-only snippet set after construction
//   - Deterministic scoring and sorting (stable order for ties)
//   - Unicode-aware tokenization; CJK text (the dominant content here)
//     is tokenized as character bigrams since it carries no word breaks
//
// Scoring uses Jaccard similarity between the query token set and each
// snippet's token set: score = |Q ∩ S| / |Q ∪ S|.
package knowledge

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Snippet is a ranked knowledge fragment with its similarity score.
type Snippet struct {
	Text  string
	Score float64
}

type scoredDoc struct {
	text   string
	tokens map[string]struct{}
	tLen   int
}

// corpus is an immutable scored snippet set built from document paragraphs.
type corpus struct {
	docs []scoredDoc
}

// minSnippetRunes filters out fragments too short to be useful context.
const minSnippetRunes = 12

var paraSplitRE = regexp.MustCompile(`\n\s*\n`)

// buildCorpus splits document contents into paragraphs and tokenizes each.
func buildCorpus(contents []string) *corpus {
	var docs []scoredDoc
	for _, content := range contents {
		for _, raw := range paraSplitRE.Split(content, -1) {
			t := strings.TrimSpace(raw)
			if t == "" || utf8.RuneCountInString(t) < minSnippetRunes {
				continue
			}
			toks := tokenize(t)
			if len(toks) == 0 {
				continue
			}
			docs = append(docs, scoredDoc{text: t, tokens: toks, tLen: len(toks)})
		}
	}
	return &corpus{docs: docs}
}

// topK returns up to k best-matching snippets by Jaccard similarity.
func (c *corpus) topK(query string, k int) []Snippet {
	if len(c.docs) == 0 || strings.TrimSpace(query) == "" {
		return nil
	}
	if k <= 0 {
		k = 3
	}
	qTokens := tokenize(query)
	if len(qTokens) == 0 {
		return nil
	}
	qLen := len(qTokens)

	type scored struct {
		snippet  string
		score    float64
		lenRunes int
	}
	var buf []scored
	for _, d := range c.docs {
		over := overlap(qTokens, d.tokens)
		if over == 0 {
			continue
		}
		union := float64(qLen + d.tLen - over)
		if union <= 0 {
			continue
		}
		buf = append(buf, scored{
			snippet:  d.text,
			score:    float64(over) / union,
			lenRunes: utf8.RuneCountInString(d.text),
		})
	}
	if len(buf) == 0 {
		return nil
	}

	sort.SliceStable(buf, func(a, b int) bool {
		if buf[a].score != buf[b].score {
			return buf[a].score > buf[b].score
		}
		if buf[a].lenRunes != buf[b].lenRunes {
			return buf[a].lenRunes < buf[b].lenRunes
		}
		return buf[a].snippet < buf[b].snippet
	})

	if k > len(buf) {
		k = len(buf)
	}
	out := make([]Snippet, k)
	for i := 0; i < k; i++ {
		out[i] = Snippet{Text: buf[i].snippet, Score: buf[i].score}
	}
	return out
}

var wordRE = regexp.MustCompile(`\p{L}+\p{N}*`)

// tokenize lowercases and splits text into word tokens; runs of CJK
// characters are further split into character bigrams so that unsegmented
// Chinese requirements still produce meaningful overlap.
func tokenize(s string) map[string]struct{} {
	s = strings.ToLower(s)
	words := wordRE.FindAllString(s, -1)
	if len(words) == 0 {
		return nil
	}
	out := make(map[string]struct{}, len(words))
	for _, w := range words {
		if w == "" {
			continue
		}
		if isCJK(w) {
			for _, bg := range bigrams(w) {
				out[bg] = struct{}{}
			}
			continue
		}
		out[w] = struct{}{}
	}
	return out
}

func isCJK(s string) bool {
	for _, r := range s {
		if unicode.Is(unicode.Han, r) {
			return true
		}
	}
	return false
}

func bigrams(s string) []string {
	runes := []rune(s)
	if len(runes) <= 2 {
		return []string{s}
	}
	out := make([]string, 0, len(runes)-1)
	for i := 0; i+1 < len(runes); i++ {
		out = append(out, string(runes[i:i+2]))
	}
	return out
}

func overlap(a, b map[string]struct{}) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	n := 0
	if len(a) > len(b) {
		a, b = b, a
	}
	for k := range a {
		if _, ok := b[k]; ok {
			n++
		}
	}
	return n
}
