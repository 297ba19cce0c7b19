package ai

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestIsProviderError(t *testing.T) {
	cases := map[string]bool{
		"Error: HTTP 429 - rate limited":    true,
		"Exception occurred: dial tcp":      true,
		"[quota exhausted] HTTP 402 - body": true,
		"":                                  false,
		`[{"id":"TC-001"}]`:                 false,
		"normal text mentioning Error":      false,
	}
	for in, want := range cases {
		if got := IsProviderError(in); got != want {
			t.Fatalf("IsProviderError(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestSystemUser(t *testing.T) {
	msgs := SystemUser("sys", "hello")
	if len(msgs) != 2 || msgs[0].Role != RoleSystem || msgs[1].Role != RoleUser {
		t.Fatalf("unexpected messages: %+v", msgs)
	}
	msgs = SystemUser("   ", "hello")
	if len(msgs) != 1 || msgs[0].Role != RoleUser {
		t.Fatalf("blank system prompt should be dropped: %+v", msgs)
	}
}

func newTestClient(url string) *OpenAIClient {
	return NewOpenAIClient(url, "key", "test-model", 100, zerolog.Nop())
}

func TestGenerate_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer key" {
			t.Errorf("missing auth header, got %q", got)
		}
		fmt.Fprint(w, `{"choices":[{"message":{"content":"[{\"id\":\"TC-001\"}]"}}]}`)
	}))
	defer srv.Close()

	got := newTestClient(srv.URL).Generate(context.Background(), SystemUser("s", "u"), 0)
	if got != `[{"id":"TC-001"}]` {
		t.Fatalf("Generate = %q", got)
	}
}

func TestGenerate_HTTPErrorBecomesSentinel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	got := newTestClient(srv.URL).Generate(context.Background(), SystemUser("s", "u"), 0)
	if !strings.HasPrefix(got, "Error: HTTP 429") {
		t.Fatalf("expected HTTP sentinel, got %q", got)
	}
	if !IsProviderError(got) {
		t.Fatalf("sentinel not recognized: %q", got)
	}
}

func TestGenerate_QuotaStatusGetsQuotaPrefix(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "insufficient balance", http.StatusPaymentRequired)
	}))
	defer srv.Close()

	got := newTestClient(srv.URL).Generate(context.Background(), SystemUser("s", "u"), 0)
	if !strings.HasPrefix(got, QuotaPrefix) {
		t.Fatalf("expected quota sentinel, got %q", got)
	}
}

func TestGenerate_TransportErrorBecomesSentinel(t *testing.T) {
	// Closed server: connection refused.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	got := newTestClient(url).Generate(context.Background(), SystemUser("s", "u"), 0)
	if !strings.HasPrefix(got, ExceptionPrefix) {
		t.Fatalf("expected exception sentinel, got %q", got)
	}
}

func TestGenerateStream_YieldsChunksInOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"[{\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"}]\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	var chunks []string
	err := newTestClient(srv.URL).GenerateStream(context.Background(), SystemUser("s", "u"), 0, func(c string) error {
		chunks = append(chunks, c)
		return nil
	})
	if err != nil {
		t.Fatalf("GenerateStream: %v", err)
	}
	if strings.Join(chunks, "") != "[{}]" {
		t.Fatalf("unexpected chunks: %v", chunks)
	}
}

func TestGenerateStream_ConsumerErrorStopsStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for i := 0; i < 10; i++ {
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":\"c%d\"}}]}\n\n", i)
		}
	}))
	defer srv.Close()

	stop := fmt.Errorf("consumer gone")
	n := 0
	err := newTestClient(srv.URL).GenerateStream(context.Background(), SystemUser("s", "u"), 0, func(c string) error {
		n++
		if n == 2 {
			return stop
		}
		return nil
	})
	if err != stop {
		t.Fatalf("expected consumer error to propagate, got %v", err)
	}
	if n != 2 {
		t.Fatalf("expected exactly 2 chunks delivered, got %d", n)
	}
}

func TestGenerateStream_HTTPErrorBecomesSentinelChunk(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	var chunks []string
	err := newTestClient(srv.URL).GenerateStream(context.Background(), SystemUser("s", "u"), 0, func(c string) error {
		chunks = append(chunks, c)
		return nil
	})
	if err != nil {
		t.Fatalf("GenerateStream: %v", err)
	}
	if len(chunks) != 1 || !strings.HasPrefix(chunks[0], "Error: HTTP 500") {
		t.Fatalf("expected single sentinel chunk, got %v", chunks)
	}
}

func TestCompress_UsesInstructionAsSystemPrompt(t *testing.T) {
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b := make([]byte, r.ContentLength)
		_, _ = r.Body.Read(b)
		gotBody = string(b)
		fmt.Fprint(w, `{"choices":[{"message":{"content":"summary"}}]}`)
	}))
	defer srv.Close()

	got := newTestClient(srv.URL).Compress(context.Background(), "long text", "condense this")
	if got != "summary" {
		t.Fatalf("Compress = %q", got)
	}
	if !strings.Contains(gotBody, "condense this") || !strings.Contains(gotBody, "long text") {
		t.Fatalf("request body missing prompt parts: %s", gotBody)
	}
}
