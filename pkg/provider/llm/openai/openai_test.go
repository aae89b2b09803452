package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/MrWong99/sflow/pkg/fault"
	"github.com/MrWong99/sflow/pkg/provider/llm"
)

const completionBody = `{
  "id": "chatcmpl-1",
  "object": "chat.completion",
  "created": 1700000000,
  "model": "gpt-4o-mini",
  "choices": [{"index": 0, "finish_reason": "stop",
    "message": {"role": "assistant", "content": "Привет, мир."}}],
  "usage": {"prompt_tokens": 42, "completion_tokens": 7, "total_tokens": 49}
}`

type chatRecorder struct {
	mu    sync.Mutex
	auth  []string
	model string
	roles []string
}

func newChatServer(t *testing.T, status int, body string) (*httptest.Server, *chatRecorder) {
	t.Helper()
	rec := &chatRecorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			Model    string `json:"model"`
			Messages []struct {
				Role string `json:"role"`
			} `json:"messages"`
		}
		b, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(b, &payload)

		rec.mu.Lock()
		rec.auth = append(rec.auth, r.Header.Get("Authorization"))
		rec.model = payload.Model
		rec.roles = rec.roles[:0]
		for _, m := range payload.Messages {
			rec.roles = append(rec.roles, m.Role)
		}
		rec.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv, rec
}

// TestComplete_Success checks content, usage and the request shape.
func TestComplete_Success(t *testing.T) {
	t.Parallel()
	srv, rec := newChatServer(t, http.StatusOK, completionBody)

	p, err := New("key", "gpt-4o-mini", WithBaseURL(srv.URL+"/"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	resp, err := p.Complete(context.Background(), llm.CompletionRequest{
		SystemPrompt: "Исправь текст.",
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: "привет мир"}},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "Привет, мир." {
		t.Errorf("Content = %q", resp.Content)
	}
	if resp.Usage.PromptTokens != 42 || resp.Usage.CompletionTokens != 7 || resp.Usage.TotalTokens != 49 {
		t.Errorf("Usage = %+v", resp.Usage)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.model != "gpt-4o-mini" {
		t.Errorf("model = %q", rec.model)
	}
	if len(rec.roles) != 2 || rec.roles[0] != "system" || rec.roles[1] != "user" {
		t.Errorf("roles = %v, want [system user]", rec.roles)
	}
}

// TestComplete_PerRequestOverrides checks that Model and APIKey on the
// request take precedence.
func TestComplete_PerRequestOverrides(t *testing.T) {
	t.Parallel()
	srv, rec := newChatServer(t, http.StatusOK, completionBody)

	p, err := New("", "gpt-4o-mini", WithBaseURL(srv.URL+"/"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = p.Complete(context.Background(), llm.CompletionRequest{
		Model:    "gpt-4o",
		APIKey:   "per-call",
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "x"}},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.model != "gpt-4o" {
		t.Errorf("model = %q, want gpt-4o", rec.model)
	}
	if len(rec.auth) != 1 || rec.auth[0] != "Bearer per-call" {
		t.Errorf("auth = %v", rec.auth)
	}
}

// TestComplete_StatusClassification checks the mapping of HTTP failures onto
// fault kinds.
func TestComplete_StatusClassification(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"unauthorized", http.StatusUnauthorized, fault.ErrInvalidCredential},
		{"rate limited", http.StatusTooManyRequests, fault.ErrRateLimited},
		{"bad gateway", http.StatusBadGateway, fault.ErrRemoteServiceError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv, rec := newChatServer(t, tt.status, `{"error":{"message":"nope"}}`)
			p, err := New("k", "gpt-4o-mini", WithBaseURL(srv.URL+"/"))
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			_, err = p.Complete(context.Background(), llm.CompletionRequest{
				Messages: []llm.Message{{Role: llm.RoleUser, Content: "x"}},
			})
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			rec.mu.Lock()
			defer rec.mu.Unlock()
			if len(rec.auth) != 1 {
				t.Errorf("server hit %d times, want 1", len(rec.auth))
			}
		})
	}
}

// TestComplete_EmptyChoices checks that an empty choice list is a remote
// service error.
func TestComplete_EmptyChoices(t *testing.T) {
	t.Parallel()
	srv, _ := newChatServer(t, http.StatusOK, `{"id":"x","object":"chat.completion","choices":[]}`)
	p, err := New("k", "gpt-4o-mini", WithBaseURL(srv.URL+"/"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = p.Complete(context.Background(), llm.CompletionRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "x"}},
	})
	if !errors.Is(err, fault.ErrRemoteServiceError) {
		t.Fatalf("err = %v, want RemoteServiceError", err)
	}
}

func TestNew_EmptyModel(t *testing.T) {
	t.Parallel()
	if _, err := New("k", ""); err == nil {
		t.Fatal("expected error for empty model")
	}
}

func TestComplete_NoMessages(t *testing.T) {
	t.Parallel()
	p, err := New("k", "gpt-4o-mini")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := p.Complete(context.Background(), llm.CompletionRequest{SystemPrompt: "x"}); err == nil {
		t.Fatal("expected error for empty messages")
	}
}

// TestConvertMessage checks role conversion.
func TestConvertMessage(t *testing.T) {
	t.Parallel()
	sys, err := convertMessage(llm.Message{Role: llm.RoleSystem, Content: "s"})
	if err != nil || sys.OfSystem == nil {
		t.Errorf("system: OfSystem not set (err=%v)", err)
	}
	usr, err := convertMessage(llm.Message{Role: llm.RoleUser, Content: "u"})
	if err != nil || usr.OfUser == nil {
		t.Errorf("user: OfUser not set (err=%v)", err)
	}
	asst, err := convertMessage(llm.Message{Role: llm.RoleAssistant, Content: "a"})
	if err != nil || asst.OfAssistant == nil {
		t.Errorf("assistant: OfAssistant not set (err=%v)", err)
	}
	if _, err := convertMessage(llm.Message{Role: "tool", Content: "t"}); err == nil {
		t.Error("expected error for unknown role")
	}
}
