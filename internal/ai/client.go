// Package ai defines the text-generation capability consumed by the
// generation engine, together with the sentinel-error contract shared by
// every provider implementation.
//
// Sentinel contract (see also services error handling):
// provider failures are returned IN-BAND as plain text values rather than
// Go errors. A chunk or reply beginning with one of the documented prefixes
// ("Error:", "Exception", "[quota exhausted]") signals a provider-side
// failure. Callers must check replies with IsProviderError after every call.
// Go errors are reserved for the consumer side: GenerateStream returns a
// non-nil error only when the chunk callback does (consumer gone) or the
// context is done.
package ai

import (
	"context"
	"strings"
)

// Chat roles used when composing prompts.
const (
	RoleSystem = "system"
	RoleUser   = "user"
)

// Sentinel prefixes signalling a provider-side failure inside reply text.
const (
	ErrPrefix       = "Error:"
	ExceptionPrefix = "Exception"
	QuotaPrefix     = "[quota exhausted]"
)

// Message is a single chat turn sent to the provider.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Client is the text-completion capability. Implementations must be safe
// for concurrent independent calls; the engine never synchronizes access.
type Client interface {
	// Generate returns the full completion for the given messages.
	// Failures are sentinel text values, never Go errors.
	Generate(ctx context.Context, msgs []Message, maxTokens int) string

	// GenerateStream produces the completion incrementally, invoking fn for
	// every chunk as it arrives. Provider failures arrive as sentinel chunks
	// and end the stream. A non-nil return value comes only from fn (the
	// consumer stopped pulling) or from ctx.
	GenerateStream(ctx context.Context, msgs []Message, maxTokens int, fn func(chunk string) error) error

	// Compress asks the model to condense text under the given instruction.
	// Best-effort: failures are sentinel text values.
	Compress(ctx context.Context, text, instruction string) string
}

// IsProviderError reports whether a reply or chunk is a sentinel failure
// value under the documented prefix convention.
func IsProviderError(s string) bool {
	return strings.HasPrefix(s, ErrPrefix) ||
		strings.HasPrefix(s, ExceptionPrefix) ||
		strings.HasPrefix(s, QuotaPrefix)
}

// SystemUser is a convenience constructor for the common two-message prompt
// shape (optional system prompt followed by the user input).
func SystemUser(systemPrompt, userInput string) []Message {
	msgs := make([]Message, 0, 2)
	if strings.TrimSpace(systemPrompt) != "" {
		msgs = append(msgs, Message{Role: RoleSystem, Content: systemPrompt})
	}
	msgs = append(msgs, Message{Role: RoleUser, Content: userInput})
	return msgs
}
