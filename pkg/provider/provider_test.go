package provider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestBackendFor(t *testing.T) {
	t.Parallel()

	c := DefaultCatalog()
	tests := map[string]Backend{
		"llama3-8b-8192":                   BackendGroq,
		"llama2-70b-4096":                  BackendGroq,
		"gpt-4o-mini":                      BackendOpenAI,
		"Qwen2.5-7B-Instruct-GPTQ-Int4":    BackendLocalAI,
		"Qwen2.5-72B-Instruct-GGUF-Q5-K-M": BackendLocalAI,
		"Qwen2.5-3B-Instruct-GPTQ-Int4":    BackendLocalAI,
		"Qwen2.5-72B-Instruct-GPTQ-Int4":   BackendLocalAI,
		"x-ai/grok-4.1-fast":               BackendOpenRouter,
	}
	for id, want := range tests {
		got, err := c.BackendFor(id)
		if err != nil {
			t.Fatalf("BackendFor(%s) error = %v", id, err)
		}
		if got != want {
			t.Fatalf("BackendFor(%s) = %s, want %s", id, got, want)
		}
	}

	if _, err := c.BackendFor("llama3.2:latest"); !errors.Is(err, ErrUnsupportedModel) {
		t.Fatalf("expected ErrUnsupportedModel, got %v", err)
	}
}

type staticLister []string

func (s staticLister) ListModels(context.Context) ([]string, error) { return s, nil }

func TestDiscoverAddsModels(t *testing.T) {
	t.Parallel()

	c := DefaultCatalog()
	n, err := c.Discover(context.Background(), BackendOllama, staticLister{"llama3.2:latest", "qwen2.5:7b", "llama3.2:latest"})
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	if n != 3 {
		t.Fatalf("unexpected listed count: %d", n)
	}
	if got := len(c.Models(BackendOllama)); got != 2 {
		t.Fatalf("expected duplicates collapsed, got %d models", got)
	}
	b, err := c.BackendFor("qwen2.5:7b")
	if err != nil || b != BackendOllama {
		t.Fatalf("BackendFor() = %s, %v", b, err)
	}
}

func TestResolveFillsBackendAndURL(t *testing.T) {
	t.Parallel()

	cfg := Config{Model: "gpt-4o-mini"}
	if err := cfg.Resolve(DefaultCatalog()); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if cfg.Backend != BackendOpenAI || cfg.BaseURL != DefaultBaseURLs[BackendOpenAI] {
		t.Fatalf("unexpected config: %#v", cfg)
	}

	explicit := Config{Backend: "OLLAMA", Model: "anything"}
	if err := explicit.Resolve(nil); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if explicit.Backend != BackendOllama || explicit.apiKey() != "ollama" {
		t.Fatalf("unexpected config: %#v", explicit)
	}

	bad := Config{Backend: "nowhere", Model: "m"}
	if err := bad.Resolve(nil); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestClientListerReadsModelsEndpoint(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/models" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","data":[{"id":"llama3.2:latest","object":"model","created":0,"owned_by":"library"}]}`))
	}))
	defer srv.Close()

	client := NewClient(Config{Backend: BackendOllama, BaseURL: srv.URL + "/v1"})
	ids, err := ClientLister{Client: client}.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels() error = %v", err)
	}
	if len(ids) != 1 || ids[0] != "llama3.2:latest" {
		t.Fatalf("unexpected ids: %#v", ids)
	}
}
