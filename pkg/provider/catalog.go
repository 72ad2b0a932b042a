package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

type Backend string

const (
	BackendGroq       Backend = "groq"
	BackendOpenAI     Backend = "openai"
	BackendLocalAI    Backend = "local_ai"
	BackendOllama     Backend = "ollama"
	BackendOpenRouter Backend = "openrouter"
)

var ErrUnsupportedModel = errors.New("unsupported model")

// DefaultBaseURLs are the OpenAI compatible endpoints of each backend.
var DefaultBaseURLs = map[Backend]string{
	BackendGroq:       "https://api.groq.com/openai/v1",
	BackendOpenAI:     "https://api.openai.com/v1",
	BackendLocalAI:    "http://localhost:8080/v1",
	BackendOllama:     "http://localhost:11434/v1",
	BackendOpenRouter: "https://openrouter.ai/api/v1",
}

type Model struct {
	Name string `json:"name"`
	ID   string `json:"id"`
}

// Catalog lists the models each backend serves.
type Catalog struct {
	mu     sync.RWMutex
	models map[Backend][]Model
}

func NewCatalog() *Catalog {
	return &Catalog{models: make(map[Backend][]Model)}
}

// DefaultCatalog holds the statically known models. Ollama models are only
// known after Discover.
func DefaultCatalog() *Catalog {
	c := NewCatalog()
	c.Add(BackendGroq,
		Model{"LLAMA3 8B", "llama3-8b-8192"},
		Model{"LLAMA3 70B", "llama3-70b-8192"},
		Model{"LLAMA3.1 70B", "llama-3.1-70b-versatile"},
		Model{"LLAMA3.1 8B", "llama-3.1-8b-instant"},
		Model{"LLAMA3.3 70B", "llama-3.3-70b-specdec"},
		Model{"LLAMA2 70B", "llama2-70b-4096"},
		Model{"Mixtral", "mixtral-8x7b-32768"},
		Model{"GEMMA 7B", "gemma-7b-it"},
	)
	c.Add(BackendOpenAI, Model{"4O-MINI", "gpt-4o-mini"})
	c.Add(BackendLocalAI,
		Model{"QWEN2.5 3B GGUF", "Qwen2.5-3B-Instruct-GGUF-Q6-K"},
		Model{"QWEN2.5 7B GGUF", "Qwen2.5-7B-Instruct-GGUF-Q6-K"},
		Model{"QWEN2.5 72B GGUF", "Qwen2.5-72B-Instruct-GGUF-Q5-K-M"},
		Model{"QWEN2.5 3B GPTQ", "Qwen2.5-3B-Instruct-GPTQ-Int4"},
		Model{"QWEN2.5 7B GPTQ", "Qwen2.5-7B-Instruct-GPTQ-Int4"},
		Model{"QWEN2.5 72B GPTQ", "Qwen2.5-72B-Instruct-GPTQ-Int4"},
		Model{"QWEN2.5 72B AWQ", "Qwen2.5-72B-Instruct-AWQ"},
	)
	c.Add(BackendOpenRouter,
		Model{"GPT-4O MINI", "openai/gpt-4o-mini"},
		Model{"GROK 4.1 FAST", "x-ai/grok-4.1-fast"},
	)
	return c
}

func (c *Catalog) Add(backend Backend, models ...Model) {
	c.mu.Lock()
	defer c.mu.Unlock()

	existing := make(map[string]struct{}, len(c.models[backend]))
	for _, m := range c.models[backend] {
		existing[m.ID] = struct{}{}
	}
	for _, m := range models {
		id := strings.TrimSpace(m.ID)
		if id == "" {
			continue
		}
		if _, ok := existing[id]; ok {
			continue
		}
		if m.Name == "" {
			m.Name = id
		}
		m.ID = id
		existing[id] = struct{}{}
		c.models[backend] = append(c.models[backend], m)
	}
}

// BackendFor returns the backend serving modelID.
func (c *Catalog) BackendFor(modelID string) (Backend, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	modelID = strings.TrimSpace(modelID)
	for _, b := range c.backendsLocked() {
		for _, m := range c.models[b] {
			if m.ID == modelID {
				return b, nil
			}
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedModel, modelID)
}

func (c *Catalog) Models(backend Backend) []Model {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Model(nil), c.models[backend]...)
}

func (c *Catalog) Backends() []Backend {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.backendsLocked()
}

func (c *Catalog) backendsLocked() []Backend {
	out := make([]Backend, 0, len(c.models))
	for b := range c.models {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ModelLister reports the model ids a running backend serves.
type ModelLister interface {
	ListModels(ctx context.Context) ([]string, error)
}

// Discover adds every model the backend reports and returns how many it listed.
func (c *Catalog) Discover(ctx context.Context, backend Backend, lister ModelLister) (int, error) {
	ids, err := lister.ListModels(ctx)
	if err != nil {
		return 0, fmt.Errorf("provider: discover %s models: %w", backend, err)
	}
	models := make([]Model, 0, len(ids))
	for _, id := range ids {
		models = append(models, Model{ID: id})
	}
	c.Add(backend, models...)
	log.Debug().Str("backend", string(backend)).Int("models", len(ids)).Msg("models discovered")
	return len(ids), nil
}
