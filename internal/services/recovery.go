// Recovery parser for model output.
//
// LLM replies routinely arrive wrapped in markdown fences, truncated
// mid-array, peppered with trailing commas, or split into several
// concatenated arrays from batched streaming. ParseModelOutput extracts a
// best-effort structured value from such text by trying an explicit ordered
// list of recovery strategies and stopping at the first success. It never
// panics and never returns a Go error: the only failure shape is a
// *RecoveryFailure carrying the original text for diagnostics.
package services

import (
	"encoding/json"
	"regexp"
	"strings"
)

// RecoveryFailure marks text from which no structured value could be
// recovered. Raw preserves the original model output.
type RecoveryFailure struct {
	Raw string
}

// Error describes the failure; the raw text is kept on the struct rather
// than inlined to keep log lines bounded.
func (f *RecoveryFailure) Error() string {
	return "no structured value could be recovered from model output"
}

var (
	fencedBlockRE   = regexp.MustCompile("```(?:json)?\\s*([\\s\\S]*?)\\s*```")
	trailingCommaRE = regexp.MustCompile(`,\s*([}\]])`)
)

// ParseModelOutput cleans raw model output and decodes it into a list
// ([]any) or mapping (map[string]any). On success the failure result is
// nil; on failure the value is nil and the failure carries the raw text.
func ParseModelOutput(raw string) (any, *RecoveryFailure) {
	text := extractFenced(raw)
	text = strings.TrimSpace(strings.ReplaceAll(text, "\uFEFF", ""))

	firstArr := strings.Index(text, "[")
	firstObj := strings.Index(text, "{")
	if firstArr == -1 && firstObj == -1 {
		if v, ok := decodeLooseLiteral(text); ok {
			return v, nil
		}
		return nil, &RecoveryFailure{Raw: raw}
	}

	rootIsArray := firstArr != -1 && (firstObj == -1 || firstArr < firstObj)
	if rootIsArray {
		text = text[firstArr:]
	} else {
		text = text[firstObj:]
	}
	text = stripTrailingCommas(text)

	// Ordered recovery strategies; first success wins.
	strategies := []func(string, bool) (any, bool){
		decodeStrict,
		decodeTruncated,
		decodeObjectScan,
		func(s string, _ bool) (any, bool) { return decodeLooseLiteral(s) },
	}
	for _, try := range strategies {
		if v, ok := try(text, rootIsArray); ok {
			return v, nil
		}
	}
	return nil, &RecoveryFailure{Raw: raw}
}

// extractFenced concatenates the contents of all fenced code blocks; when
// no complete block exists, stray fence markers are stripped instead.
func extractFenced(s string) string {
	blocks := fencedBlockRE.FindAllStringSubmatch(s, -1)
	if len(blocks) > 0 {
		parts := make([]string, 0, len(blocks))
		for _, b := range blocks {
			parts = append(parts, b[1])
		}
		return strings.Join(parts, "\n")
	}
	s = strings.ReplaceAll(s, "```json", "")
	return strings.ReplaceAll(s, "```", "")
}

func stripTrailingCommas(s string) string {
	return trailingCommaRE.ReplaceAllString(s, "$1")
}

// rawDecode decodes the first JSON value at the start of s and reports how
// many bytes were consumed (the json.Decoder equivalent of a prefix decode).
func rawDecode(s string) (any, int, error) {
	dec := json.NewDecoder(strings.NewReader(s))
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, 0, err
	}
	return v, int(dec.InputOffset()), nil
}

// decodeStrict decodes from the start of the text. For array roots, extra
// trailing text is probed for additional concatenated arrays (an artifact
// of accumulating several streamed batches) and their elements are folded
// into the first list.
func decodeStrict(text string, rootIsArray bool) (any, bool) {
	v, end, err := rawDecode(text)
	if err != nil {
		return nil, false
	}
	list, isList := v.([]any)
	if !rootIsArray || !isList {
		return v, true
	}

	remaining := strings.TrimSpace(text[end:])
	for remaining != "" {
		if !strings.HasPrefix(remaining, "[") {
			next := strings.Index(remaining, "[")
			if next == -1 {
				break
			}
			remaining = remaining[next:]
		}
		more, consumed, err := rawDecode(remaining)
		if err != nil {
			break
		}
		if moreList, ok := more.([]any); ok {
			list = append(list, moreList...)
		}
		remaining = strings.TrimSpace(remaining[consumed:])
	}
	return list, true
}

// decodeTruncated retries after cutting the text at its last closing
// bracket/brace, recovering output whose tail was lost mid-stream.
func decodeTruncated(text string, rootIsArray bool) (any, bool) {
	closer := "]"
	if !rootIsArray {
		closer = "}"
	}
	last := strings.LastIndex(text, closer)
	if last == -1 {
		return nil, false
	}
	candidate := stripTrailingCommas(text[:last+1])
	v, _, err := rawDecode(candidate)
	if err != nil {
		return nil, false
	}
	return v, true
}

// decodeObjectScan scans left to right for individual {...} objects and
// decodes each independently, collecting whichever succeed. This recovers
// the leading complete records from a mid-object truncation. Only used for
// array roots; a lone truncated object has nothing to salvage piecewise.
func decodeObjectScan(text string, rootIsArray bool) (any, bool) {
	if !rootIsArray {
		return nil, false
	}
	var items []any
	cursor := 0
	for {
		next := strings.Index(text[cursor:], "{")
		if next == -1 {
			break
		}
		start := cursor + next
		obj, consumed, err := rawDecode(text[start:])
		if err != nil {
			break
		}
		items = append(items, obj)
		cursor = start + consumed
	}
	if len(items) == 0 {
		return nil, false
	}
	return items, true
}

// decodeLooseLiteral interprets single-quoted pseudo-JSON (the Python
// literal syntax some models emit) by rewriting quotes and literal
// keywords, then decoding strictly. Only list/map roots are accepted.
func decodeLooseLiteral(text string) (any, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "[") && !strings.HasPrefix(text, "{") {
		return nil, false
	}
	converted, ok := rewriteLiteral(text)
	if !ok {
		return nil, false
	}
	v, _, err := rawDecode(stripTrailingCommas(converted))
	if err != nil {
		return nil, false
	}
	switch v.(type) {
	case []any, map[string]any:
		return v, true
	}
	return nil, false
}

// rewriteLiteral converts single-quoted strings to double-quoted JSON
// strings and maps True/False/None onto their JSON equivalents. It walks
// the text with a minimal quote-state machine; double-quoted strings pass
// through untouched.
func rewriteLiteral(s string) (string, bool) {
	var b strings.Builder
	b.Grow(len(s))

	const (
		outside = iota
		inSingle
		inDouble
	)
	state := outside
	runes := []rune(s)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch state {
		case outside:
			switch r {
			case '\'':
				state = inSingle
				b.WriteRune('"')
			case '"':
				state = inDouble
				b.WriteRune(r)
			default:
				if r == 'T' && strings.HasPrefix(string(runes[i:]), "True") {
					b.WriteString("true")
					i += 3
				} else if r == 'F' && strings.HasPrefix(string(runes[i:]), "False") {
					b.WriteString("false")
					i += 4
				} else if r == 'N' && strings.HasPrefix(string(runes[i:]), "None") {
					b.WriteString("null")
					i += 3
				} else {
					b.WriteRune(r)
				}
			}
		case inSingle:
			switch r {
			case '\\':
				if i+1 < len(runes) {
					next := runes[i+1]
					if next == '\'' {
						b.WriteRune('\'')
					} else {
						b.WriteRune('\\')
						b.WriteRune(next)
					}
					i++
				} else {
					return "", false
				}
			case '\'':
				state = outside
				b.WriteRune('"')
			case '"':
				b.WriteString(`\"`)
			default:
				b.WriteRune(r)
			}
		case inDouble:
			if r == '\\' && i+1 < len(runes) {
				b.WriteRune(r)
				b.WriteRune(runes[i+1])
				i++
				continue
			}
			if r == '"' {
				state = outside
			}
			b.WriteRune(r)
		}
	}
	if state != outside {
		return "", false
	}
	return b.String(), true
}
