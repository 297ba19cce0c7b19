// Schema normalizer.
//
// Parsed model output arrives with unpredictable field names (English,
// Chinese, or mixed), scalar-vs-list confusion, and free-form priority
// labels. NormalizeCases maps whatever shape the recovery parser produced
// onto the fixed TestCase schema. The mapping is total: malformed entries
// are skipped rather than failing the batch, and normalizing an already
// normalized payload is a no-op apart from ID reformatting.
package services

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/text/width"

	"github.com/qinyu/go-testgen-backend/internal/domain"
)

var fieldAliases = map[string][]string{
	"id":              {"id", "用例id", "用例编号", "case_id", "caseid", "编号"},
	"description":     {"description", "用例名称", "name", "title", "用例标题", "标题", "名称", "desc"},
	"test_module":     {"test_module", "module", "所属模块", "功能模块", "模块"},
	"preconditions":   {"preconditions", "precondition", "前置条件", "预置条件", "pre_conditions"},
	"steps":           {"steps", "test_steps", "测试步骤", "操作步骤", "步骤"},
	"test_input":      {"test_input", "input", "test_data", "测试数据", "测试输入", "输入数据", "inputs"},
	"expected_result": {"expected_result", "expected", "expected_results", "预期结果", "期望结果"},
	"priority":        {"priority", "优先级", "level", "等级"},
}

var caseListKeys = []string{"test_cases", "testcases", "cases", "data", "items", "list", "用例列表", "测试用例"}

var (
	caseIDRE  = regexp.MustCompile(`(?i)^tc[-_]?0*(\d+)$`)
	numericRE = regexp.MustCompile(`^\d+$`)
)

// NormalizeCases converts a recovered value into well-formed test cases.
// startID is the 1-based number used for fallback IDs when an entry
// carries no usable identifier. Entries that are not objects are dropped.
func NormalizeCases(v any, startID int) []domain.TestCase {
	records := caseRecords(v)
	out := make([]domain.TestCase, 0, len(records))
	for i, rec := range records {
		out = append(out, normalizeOne(rec, startID+i))
	}
	return out
}

// RenumberCases rewrites every ID to the sequential TC-%03d form starting
// at start, preserving order. Used as the final pass before persistence so
// that merged batches never carry duplicate or gapped IDs.
func RenumberCases(cases []domain.TestCase, start int) []domain.TestCase {
	out := make([]domain.TestCase, len(cases))
	for i, c := range cases {
		c.ID = formatCaseID(start + i)
		out[i] = c
	}
	return out
}

func formatCaseID(n int) string {
	return fmt.Sprintf("TC-%03d", n)
}

// caseRecords unwraps the root value down to the list of case objects.
// Map roots are probed for a well-known list key; failing that, a map
// that looks like a single case is treated as a one-element list.
func caseRecords(v any) []map[string]any {
	switch t := v.(type) {
	case []any:
		records := make([]map[string]any, 0, len(t))
		for _, item := range t {
			if m, ok := item.(map[string]any); ok {
				records = append(records, m)
			}
		}
		return records
	case map[string]any:
		for _, key := range caseListKeys {
			if inner, ok := t[key]; ok {
				if list, ok := inner.([]any); ok {
					return caseRecords(list)
				}
			}
		}
		return []map[string]any{t}
	default:
		return nil
	}
}

func normalizeOne(rec map[string]any, fallbackID int) domain.TestCase {
	folded := foldKeys(rec)
	return domain.TestCase{
		ID:             normalizeID(pickString(folded, "id"), fallbackID),
		Description:    pickString(folded, "description"),
		TestModule:     pickString(folded, "test_module"),
		Preconditions:  pickList(folded, "preconditions"),
		Steps:          pickList(folded, "steps"),
		TestInput:      pickString(folded, "test_input"),
		ExpectedResult: pickString(folded, "expected_result"),
		Priority:       normalizePriority(pickString(folded, "priority")),
	}
}

// foldKeys lowercases keys and folds full-width characters so that alias
// lookup is insensitive to the model's casing and character-width choices.
// On fold collisions the lexicographically first original key wins, which
// keeps the result independent of map iteration order.
func foldKeys(rec map[string]any) map[string]any {
	keys := make([]string, 0, len(rec))
	for k := range rec {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(map[string]any, len(rec))
	for _, k := range keys {
		fk := strings.ToLower(width.Narrow.String(strings.TrimSpace(k)))
		if _, exists := out[fk]; !exists {
			out[fk] = rec[k]
		}
	}
	return out
}

func pickString(rec map[string]any, field string) string {
	for _, alias := range fieldAliases[field] {
		if v, ok := rec[alias]; ok {
			if s := coerceString(v); s != "" {
				return s
			}
		}
	}
	return ""
}

func pickList(rec map[string]any, field string) []string {
	for _, alias := range fieldAliases[field] {
		if v, ok := rec[alias]; ok {
			if list := coerceList(v); len(list) > 0 {
				return list
			}
		}
	}
	return []string{}
}

func coerceString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case []any:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			if s := coerceString(item); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, "; ")
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}

var listSplitRE = regexp.MustCompile(`[\n;；]`)

// coerceList produces a string list from either a real list or a scalar
// string holding newline/semicolon-delimited items.
func coerceList(v any) []string {
	switch t := v.(type) {
	case nil:
		return []string{}
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if m, ok := item.(map[string]any); ok {
				item = probeListEntry(m)
			}
			if s := coerceString(item); s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		var out []string
		for _, part := range listSplitRE.Split(t, -1) {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
		if out == nil {
			return []string{}
		}
		return out
	default:
		if s := coerceString(v); s != "" {
			return []string{s}
		}
		return []string{}
	}
}

// probeListEntry extracts the human-readable value from an object-shaped
// list entry (models sometimes wrap each step in {"step": "..."}).
func probeListEntry(m map[string]any) any {
	for _, key := range []string{"text", "desc", "step", "name", "description", "content"} {
		if v, ok := m[key]; ok {
			if s := coerceString(v); s != "" {
				return s
			}
		}
	}
	return ""
}

// normalizeID keeps recognizable case IDs (reformatted to TC-%03d) and
// falls back to a positional ID otherwise.
func normalizeID(raw string, fallbackID int) string {
	raw = width.Narrow.String(strings.TrimSpace(raw))
	if m := caseIDRE.FindStringSubmatch(raw); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
			return formatCaseID(n)
		}
	}
	if numericRE.MatchString(raw) {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			return formatCaseID(n)
		}
	}
	return formatCaseID(fallbackID)
}

// normalizePriority maps free-form labels onto the P0/P1/P2 scale.
// Unknown or missing labels default to P1.
func normalizePriority(raw string) string {
	p := strings.ToUpper(width.Narrow.String(strings.TrimSpace(raw)))
	switch {
	case p == domain.PriorityP0 || p == "0" || p == "HIGH" || strings.Contains(p, "高"):
		return domain.PriorityP0
	case p == domain.PriorityP2 || p == "2" || p == "LOW" || strings.Contains(p, "低"):
		return domain.PriorityP2
	default:
		return domain.PriorityP1
	}
}
