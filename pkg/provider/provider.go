// Package provider builds chat models for the OpenAI compatible backends the
// tutor can run on.
package provider

import (
	"context"
	"fmt"
	"strings"
	"time"

	openaimodel "github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

type LLMBuilder interface {
	New(ctx context.Context) (model.ToolCallingChatModel, error)
}

var _ LLMBuilder = (*Config)(nil)

var (
	OpenRouterReasoningBlacklist = map[string]bool{
		"x-ai/grok-4.1-fast": true,
	}
)

type Config struct {
	Backend            Backend       `split_words:"true"`
	BaseURL            string        `split_words:"true"`
	APIKey             string        `envconfig:"API_KEY" split_words:"true"`
	Model              string        `split_words:"true" required:"true"`
	MaxCompletionToken *int          `split_words:"true" default:"2000"`
	Temperature        float32       `split_words:"true" default:"0.2"`
	Timeout            time.Duration `split_words:"true" default:"30s"`
	SiteURL            string        `envconfig:"SITE_URL" split_words:"true"`
	SiteName           string        `split_words:"true"`
}

// Resolve fills Backend from the catalog when unset and BaseURL from the
// backend defaults.
func (c *Config) Resolve(catalog *Catalog) error {
	if c.Backend == "" {
		if catalog == nil {
			return fmt.Errorf("provider: backend not set and no catalog for model %q", c.Model)
		}
		b, err := catalog.BackendFor(c.Model)
		if err != nil {
			return err
		}
		c.Backend = b
	}
	c.Backend = Backend(strings.ToLower(strings.TrimSpace(string(c.Backend))))
	if strings.TrimSpace(c.BaseURL) == "" {
		url, ok := DefaultBaseURLs[c.Backend]
		if !ok {
			return fmt.Errorf("provider: unknown backend %q", c.Backend)
		}
		c.BaseURL = url
	}
	return nil
}

func (c *Config) New(ctx context.Context) (model.ToolCallingChatModel, error) {
	modelName := strings.TrimSpace(c.Model)

	conf := &openaimodel.ChatModelConfig{
		BaseURL:     strings.TrimRight(c.BaseURL, "/"),
		APIKey:      c.apiKey(),
		Model:       modelName,
		MaxTokens:   c.MaxCompletionToken,
		Temperature: &c.Temperature,
		Timeout:     c.Timeout,
	}

	if c.Backend == BackendOpenRouter && OpenRouterReasoningBlacklist[modelName] {
		conf.ExtraFields = map[string]any{
			"reasoning": map[string]any{
				"exclude": true,
				"effort":  "none",
			},
		}
	}

	m, err := openaimodel.NewChatModel(ctx, conf)
	if err != nil {
		return nil, fmt.Errorf("provider %s: create chat model: %w", c.Backend, err)
	}

	return m, nil
}

// apiKey returns the configured key. Local backends accept any key but the
// client refuses an empty one.
func (c *Config) apiKey() string {
	key := strings.TrimSpace(c.APIKey)
	if key == "" && (c.Backend == BackendOllama || c.Backend == BackendLocalAI) {
		return string(c.Backend)
	}
	return key
}

// NewClient creates an OpenAI SDK client for the configured backend.
func NewClient(cfg Config) *openaisdk.Client {
	key := cfg.apiKey()
	if key == "" {
		return nil
	}

	opts := []option.RequestOption{
		option.WithAPIKey(key),
	}

	if trimmed := strings.TrimRight(cfg.BaseURL, "/"); trimmed != "" {
		opts = append(opts, option.WithBaseURL(trimmed))
	}

	if cfg.Backend == BackendOpenRouter {
		if cfg.SiteURL != "" {
			opts = append(opts, option.WithHeader("HTTP-Referer", cfg.SiteURL))
		}
		if cfg.SiteName != "" {
			opts = append(opts, option.WithHeader("X-Title", cfg.SiteName))
		}
	}

	client := openaisdk.NewClient(opts...)
	return &client
}

// ClientLister lists models through the /models endpoint.
type ClientLister struct {
	Client *openaisdk.Client
}

func (l ClientLister) ListModels(ctx context.Context) ([]string, error) {
	if l.Client == nil {
		return nil, fmt.Errorf("provider: client is nil")
	}
	page, err := l.Client.Models.List(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(page.Data))
	for _, m := range page.Data {
		ids = append(ids, m.ID)
	}
	return ids, nil
}
