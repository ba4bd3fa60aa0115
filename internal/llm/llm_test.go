package llm_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/adithya-n05/ICHack26-sub001/internal/config"
	"github.com/adithya-n05/ICHack26-sub001/internal/llm"
	"github.com/adithya-n05/ICHack26-sub001/pkg/contracts"
)

func TestNew_Disabled(t *testing.T) {
	c, err := llm.New(config.LLMConfig{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if c != nil {
		t.Errorf("New() = %v, want nil completer", c)
	}
}

func TestNew_RequiresKey(t *testing.T) {
	if _, err := llm.New(config.LLMConfig{Provider: "openai"}); err == nil {
		t.Error("New(openai without key) succeeded, want error")
	}
	if _, err := llm.New(config.LLMConfig{Provider: "ollama"}); err != nil {
		t.Errorf("New(ollama) error = %v, want keyless ok", err)
	}
}

func TestComplete_OpenAI(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"  Dual-source wafers.  "}}]}`))
	}))
	defer srv.Close()

	c, err := llm.New(config.LLMConfig{Provider: "openai", APIKey: "sk-test", BaseURL: srv.URL, Model: "gpt-test"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	text, err := c.Complete(context.Background(), contracts.CompletionRequest{System: "be brief", Prompt: "plan?", MaxTokens: 64, Temperature: 0.2})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if text != "Dual-source wafers." {
		t.Errorf("Complete() = %q", text)
	}
	if got["model"] != "gpt-test" || got["max_tokens"] != float64(64) {
		t.Errorf("request = %v", got)
	}
	if msgs, _ := got["messages"].([]any); len(msgs) != 2 {
		t.Errorf("messages = %v, want system and user", got["messages"])
	}
}

func TestComplete_Anthropic(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" || r.Header.Get("x-api-key") != "ak" || r.Header.Get("anthropic-version") == "" {
			t.Errorf("request %s headers %v", r.URL.Path, r.Header)
		}
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if body["system"] != "sys" {
			t.Errorf("system = %v", body["system"])
		}
		w.Write([]byte(`{"content":[{"type":"text","text":"Reroute via "},{"type":"text","text":"Busan."}]}`))
	}))
	defer srv.Close()

	c, err := llm.New(config.LLMConfig{Provider: "anthropic", APIKey: "ak", BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	text, err := c.Complete(context.Background(), contracts.CompletionRequest{System: "sys", Prompt: "p"})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if text != "Reroute via Busan." {
		t.Errorf("Complete() = %q", text)
	}
}

func TestComplete_Ollama(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}))
	defer srv.Close()

	c, err := llm.New(config.LLMConfig{Provider: "ollama", BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if text, err := c.Complete(context.Background(), contracts.CompletionRequest{Prompt: "p"}); err != nil || text != "ok" {
		t.Errorf("Complete() = %q, %v", text, err)
	}
}

func TestComplete_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c, err := llm.New(config.LLMConfig{Provider: "openai", APIKey: "k", BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := c.Complete(context.Background(), contracts.CompletionRequest{Prompt: "p"}); err == nil {
		t.Fatal("Complete() succeeded on 429, want error")
	}
}
