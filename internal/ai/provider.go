// OpenAI-compatible chat-completions provider.
//
// This is deliberately a thin transport: it speaks the ubiquitous
// /chat/completions shape (works against vLLM, Ollama, and hosted
// OpenAI-style gateways) and converts every failure into the package's
// sentinel text values. Timeouts live on the injected *http.Client; the
// engine does not manage them.
package ai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// OpenAIClient implements Client against an OpenAI-compatible endpoint.
type OpenAIClient struct {
	BaseURL   string
	APIKey    string
	Model     string
	MaxTokens int

	HTTPClient *http.Client
	Log        zerolog.Logger
}

// NewOpenAIClient constructs a provider client with a sane default timeout.
// maxTokens <= 0 leaves the provider default in place.
func NewOpenAIClient(baseURL, apiKey, model string, maxTokens int, log zerolog.Logger) *OpenAIClient {
	return &OpenAIClient{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		APIKey:     apiKey,
		Model:      model,
		MaxTokens:  maxTokens,
		HTTPClient: &http.Client{Timeout: 10 * time.Minute},
		Log:        log,
	}
}

type chatRequest struct {
	Model     string    `json:"model"`
	Messages  []Message `json:"messages"`
	MaxTokens int       `json:"max_tokens,omitempty"`
	Stream    bool      `json:"stream,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Code    any    `json:"code"`
	} `json:"error"`
}

// Generate returns the full completion, or a sentinel failure value.
func (c *OpenAIClient) Generate(ctx context.Context, msgs []Message, maxTokens int) string {
	body, status, err := c.post(ctx, msgs, maxTokens, false)
	if err != nil {
		return fmt.Sprintf("Exception occurred: %v", err)
	}
	defer body.Close()

	raw, err := io.ReadAll(body)
	if err != nil {
		return fmt.Sprintf("Exception occurred: %v", err)
	}
	if status != http.StatusOK {
		return httpSentinel(status, raw)
	}

	var resp chatResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return fmt.Sprintf("Error: malformed provider response: %v", err)
	}
	if resp.Error != nil {
		return fmt.Sprintf("Error: %v - %s", resp.Error.Code, resp.Error.Message)
	}
	if len(resp.Choices) == 0 {
		return ""
	}
	return resp.Choices[0].Message.Content
}

// GenerateStream consumes the SSE stream chunk by chunk. Provider failures
// are emitted as a single sentinel chunk and end the stream.
func (c *OpenAIClient) GenerateStream(ctx context.Context, msgs []Message, maxTokens int, fn func(chunk string) error) error {
	body, status, err := c.post(ctx, msgs, maxTokens, true)
	if err != nil {
		return fn(fmt.Sprintf("Exception occurred: %v", err))
	}
	defer body.Close()

	if status != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(body, 4096))
		return fn(httpSentinel(status, raw))
	}

	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := strings.TrimSpace(sc.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" || payload == "[DONE]" {
			continue
		}
		var resp chatResponse
		if err := json.Unmarshal([]byte(payload), &resp); err != nil {
			c.Log.Debug().Str("payload", payload).Msg("skipping undecodable stream event")
			continue
		}
		if resp.Error != nil {
			return fn(fmt.Sprintf("Error: %v - %s", resp.Error.Code, resp.Error.Message))
		}
		if len(resp.Choices) == 0 {
			continue
		}
		if chunk := resp.Choices[0].Delta.Content; chunk != "" {
			if err := fn(chunk); err != nil {
				return err
			}
		}
	}
	if err := sc.Err(); err != nil {
		return fn(fmt.Sprintf("Exception occurred: %v", err))
	}
	return nil
}

// Compress condenses text under the given instruction via a single
// non-streaming call.
func (c *OpenAIClient) Compress(ctx context.Context, text, instruction string) string {
	return c.Generate(ctx, SystemUser(instruction, text), c.MaxTokens)
}

func (c *OpenAIClient) post(ctx context.Context, msgs []Message, maxTokens int, stream bool) (io.ReadCloser, int, error) {
	if maxTokens <= 0 {
		maxTokens = c.MaxTokens
	}
	reqBody := chatRequest{
		Model:     c.Model,
		Messages:  msgs,
		MaxTokens: maxTokens,
		Stream:    stream,
	}
	buf, err := json.Marshal(reqBody)
	if err != nil {
		return nil, 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/chat/completions", bytes.NewReader(buf))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	return resp.Body, resp.StatusCode, nil
}

// httpSentinel maps an HTTP failure onto the sentinel convention. Quota and
// billing statuses get the dedicated quota prefix so callers can distinguish
// them from transient errors.
func httpSentinel(status int, body []byte) string {
	msg := strings.TrimSpace(string(body))
	switch status {
	case http.StatusPaymentRequired, http.StatusTooManyRequests:
		if strings.Contains(strings.ToLower(msg), "quota") || status == http.StatusPaymentRequired {
			return fmt.Sprintf("%s HTTP %d - %s", QuotaPrefix, status, msg)
		}
	}
	return fmt.Sprintf("Error: HTTP %d - %s", status, msg)
}

var _ Client = (*OpenAIClient)(nil)
