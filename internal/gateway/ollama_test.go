package gateway_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/diegogrosmann/BookTranslateAI/internal/gateway"
)

func ollamaServer(t *testing.T, handler http.HandlerFunc) *gateway.OllamaGateway {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return gateway.NewOllama(srv.URL, "test-model")
}

func TestOllama_Translate(t *testing.T) {
	g := ollamaServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var body struct {
			Model  string `json:"model"`
			System string `json:"system"`
			Prompt string `json:"prompt"`
			Stream bool   `json:"stream"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if body.Model != "test-model" {
			t.Errorf("model = %q", body.Model)
		}
		if body.Prompt != "Hello" {
			t.Errorf("prompt = %q", body.Prompt)
		}
		if body.Stream {
			t.Error("streaming must be disabled")
		}
		if body.System == "" {
			t.Error("system prompt missing")
		}
		fmt.Fprint(w, `{"response": "Bonjour"}`)
	})

	got, err := g.Translate(context.Background(), gateway.Request{Text: "Hello", TargetLang: "French"})
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if got != "Bonjour" {
		t.Errorf("got %q, want Bonjour", got)
	}
}

func TestOllama_CleansResponse(t *testing.T) {
	g := ollamaServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"response": "<thinking>hmm</thinking>Here's the translation: \"Bonjour\""}`)
	})

	got, err := g.Translate(context.Background(), gateway.Request{Text: "Hello", TargetLang: "French"})
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if got != "Bonjour" {
		t.Errorf("got %q, want Bonjour", got)
	}
}

func TestOllama_ErrorClasses(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   gateway.Class
	}{
		{"server error", http.StatusInternalServerError, "", gateway.Transient},
		{"rate limited", http.StatusTooManyRequests, "", gateway.RateLimited},
		{"unauthorized", http.StatusUnauthorized, "", gateway.Fatal},
		{"forbidden", http.StatusForbidden, "", gateway.Fatal},
		{"garbage body", http.StatusOK, "not json", gateway.Malformed},
		{"empty response", http.StatusOK, `{"response": ""}`, gateway.Malformed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := ollamaServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			})
			_, err := g.Translate(context.Background(), gateway.Request{Text: "x", TargetLang: "fr"})
			if err == nil {
				t.Fatal("expected error")
			}
			if got := gateway.ClassOf(err); got != tt.want {
				t.Errorf("class = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestOllama_CanceledContext(t *testing.T) {
	g := ollamaServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"response": "Bonjour"}`)
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := g.Translate(ctx, gateway.Request{Text: "x", TargetLang: "fr"})
	if err != context.Canceled {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
