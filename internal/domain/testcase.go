// Package domain defines the persistence models and value types for the
// test-generation platform. This file contains the canonical test-case
// record shape that every generation run produces.
package domain

// Test case priorities. Unknown or missing priorities normalize to P1.
const (
	PriorityP0 = "P0"
	PriorityP1 = "P1"
	PriorityP2 = "P2"
)

// TestCase is the canonical structured record produced by a generation run.
// It is a value type (not a GORM model): persisted generations store the
// JSON-serialized list in Generation.GeneratedResult.
//
// Invariants (enforced by the normalizer, never by the model itself):
//   - ID matches TC-\d{3,} and is unique within a run.
//   - Preconditions and Steps are never nil (empty slice when absent).
//   - Steps is non-empty after normalization of well-formed input.
//   - Priority is one of P0/P1/P2.
//   - Unknown input fields are dropped; missing fields are defaulted.
type TestCase struct {
	ID             string   `json:"id"`
	Description    string   `json:"description"`
	TestModule     string   `json:"test_module"`
	Preconditions  []string `json:"preconditions"`
	Steps          []string `json:"steps"`
	TestInput      string   `json:"test_input"`
	ExpectedResult string   `json:"expected_result"`
	Priority       string   `json:"priority"`
}

// Summary renders the "{id}: {description}" line used by the rolling
// de-duplication history injected into follow-up generation prompts.
func (t TestCase) Summary() string {
	return t.ID + ": " + t.Description
}
