// Prompt assembly for generation calls. Prompts are bilingual on purpose:
// the requirement corpus is mostly Chinese while field names must come back
// in English to match the canonical schema.
package services

import (
	"fmt"
	"strings"

	"github.com/qinyu/go-testgen-backend/internal/ai"
)

// Document-type tags accepted by the generation entry points. The tag
// alters prompt framing only; the output schema is identical.
const (
	DocTypeRequirement = "requirement"
	DocTypePrototype   = "prototype"
	DocTypeIncomplete  = "incomplete"
)

const generationSystemPrompt = `你是一名资深测试工程师，负责根据需求编写结构化测试用例。
严格输出一个 JSON 数组，不要输出任何解释、markdown 围栏或其他文字。
数组中每个元素必须且只能包含以下字段：
"id", "description", "test_module", "preconditions", "steps", "test_input", "expected_result", "priority"。
其中 preconditions 和 steps 为字符串数组，priority 取值为 P0/P1/P2。
用例应覆盖正向场景、异常场景和边界场景。`

var docTypeFraming = map[string]string{
	DocTypeRequirement: "以下是一份需求文档，请基于其中的功能点生成测试用例。",
	DocTypePrototype:   "以下内容提取自产品原型页面，描述可能不完整，请基于可见的界面元素和交互生成测试用例。",
	DocTypeIncomplete:  "以下需求描述不完整。对于缺失的信息请做合理推断，并在相应用例的 description 中标注“待确认”及推断内容。",
}

// promptInput carries everything one generation call's prompt needs.
type promptInput struct {
	Requirement string
	Support     string
	DocType     string
	Count       int
	StartID     int
	History     []string
	BatchNum    int
	BatchTotal  int
}

// buildBatchMessages assembles the system+user message pair for one batch
// attempt. The rolling history is embedded as an explicit do-not-repeat
// instruction.
func buildBatchMessages(in promptInput) []ai.Message {
	var b strings.Builder
	b.WriteString(framingFor(in.DocType))
	b.WriteString("\n\n需求内容:\n")
	b.WriteString(in.Requirement)

	if in.Support != "" {
		b.WriteString("\n\n参考资料:\n")
		b.WriteString(in.Support)
	}

	if len(in.History) > 0 {
		b.WriteString("\n\n以下场景已有用例，请勿重复生成类似场景:\n")
		for _, h := range in.History {
			b.WriteString("- ")
			b.WriteString(h)
			b.WriteString("\n")
		}
	}

	fmt.Fprintf(&b, "\n请生成 %d 条测试用例，id 从 TC-%03d 开始连续编号。", in.Count, in.StartID)
	if in.BatchTotal > 1 {
		fmt.Fprintf(&b, "（第 %d/%d 批）", in.BatchNum, in.BatchTotal)
	}
	return ai.SystemUser(generationSystemPrompt, b.String())
}

// buildSupplementMessages asks for exactly the shortfall, single shot.
func buildSupplementMessages(in promptInput, shortfall int) []ai.Message {
	base := buildBatchMessages(promptInput{
		Requirement: in.Requirement,
		Support:     in.Support,
		DocType:     in.DocType,
		Count:       shortfall,
		StartID:     in.StartID,
		History:     in.History,
	})
	last := &base[len(base)-1]
	last.Content += fmt.Sprintf("\n注意：此前生成的用例数量不足，本次请补充恰好 %d 条与已有用例不重复的测试用例。", shortfall)
	return base
}

func framingFor(docType string) string {
	if f, ok := docTypeFraming[docType]; ok {
		return f
	}
	return docTypeFraming[DocTypeRequirement]
}
