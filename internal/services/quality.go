// Metrics extractor.
//
// SummarizeCases derives lightweight quality signals from a finished set of
// test cases: a positive/negative/edge classification of each case, the
// average step count, and the number of cases still marked as pending
// confirmation. The classification is keyword-based and heuristic; edge
// keywords win over negative keywords when both match.
package services

import (
	"math"
	"strings"

	"github.com/qinyu/go-testgen-backend/internal/domain"
)

// QualityMetrics is the diagnostic summary streamed to the caller on a
// GEN_QM line and written to the generation log.
type QualityMetrics struct {
	GeneratedCount int     `json:"generated_count"`
	PositiveCount  int     `json:"positive_count"`
	NegativeCount  int     `json:"negative_count"`
	EdgeCount      int     `json:"edge_count"`
	AvgSteps       float64 `json:"avg_steps"`
	PendingConfirm int     `json:"pending_confirm_count"`
}

var edgeKeywords = []string{
	"边界", "临界", "最大", "最小", "超长", "超出", "为空", "上限", "下限", "极限",
	"boundary", "edge", "limit", "maximum", "minimum", "max ", "min ", "empty", "overflow",
}

var negativeKeywords = []string{
	"错误", "失败", "异常", "非法", "无效", "不存在", "不正确", "拒绝", "超时",
	"error", "fail", "invalid", "wrong", "incorrect", "reject", "denied", "timeout", "exception",
}

var pendingMarkers = []string{"待确认", "待定", "pending confirmation", "to be confirmed", "tbd"}

// SummarizeCases computes quality metrics over a normalized case set. It is
// read-only and safe on an empty slice.
func SummarizeCases(cases []domain.TestCase) QualityMetrics {
	m := QualityMetrics{GeneratedCount: len(cases)}

	stepTotal := 0
	stepCases := 0
	for _, c := range cases {
		text := strings.ToLower(c.Description + " " + c.ExpectedResult + " " + strings.Join(c.Steps, " "))
		switch {
		case containsAny(text, edgeKeywords):
			m.EdgeCount++
		case containsAny(text, negativeKeywords):
			m.NegativeCount++
		default:
			m.PositiveCount++
		}
		if len(c.Steps) > 0 {
			stepTotal += len(c.Steps)
			stepCases++
		}
		if containsAny(strings.ToLower(c.Description), pendingMarkers) {
			m.PendingConfirm++
		}
	}
	if stepCases > 0 {
		m.AvgSteps = math.Round(float64(stepTotal)/float64(stepCases)*100) / 100
	}
	return m
}

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}
