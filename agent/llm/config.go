package llm

import (
	"fmt"
	"strings"
	"time"

	contractx "github.com/tanpawarit/chative-tutor/agent/contract"
	providerx "github.com/tanpawarit/chative-tutor/pkg/provider"
)

type Config struct {
	Backend            string        `split_words:"true"`
	BaseURL            string        `envconfig:"BASE_URL" split_words:"true"`
	APIKey             string        `envconfig:"API_KEY" split_words:"true"`
	Model              string        `envconfig:"MODEL" split_words:"true" required:"true"`
	MaxCompletionToken int           `envconfig:"MAX_COMPLETION_TOKEN" split_words:"true" default:"2000"`
	Temperature        float32       `envconfig:"TEMPERATURE" split_words:"true" default:"0.2"`
	Timeout            time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"30s"`
	SiteURL            string        `envconfig:"SITE_URL" split_words:"true"`
	SiteName           string        `envconfig:"SITE_NAME" split_words:"true"`

	// NativeTools sends tool definitions through the API. When false the
	// tools are described in the system prompt instead.
	NativeTools bool `split_words:"true" default:"true"`
	// DiscoverModels asks local backends for their model list at startup.
	DiscoverModels bool `split_words:"true" default:"true"`

	RetryMaxAttempts int           `split_words:"true" default:"3"`
	RetryBaseDelay   time.Duration `split_words:"true" default:"500ms"`
	RetryMaxDelay    time.Duration `split_words:"true" default:"8s"`
	RetryJitter      float64       `split_words:"true" default:"0.2"`
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Model) == "" {
		return fmt.Errorf("%w: model is required", contractx.ErrValidation)
	}
	if c.RetryJitter < 0 || c.RetryJitter > 1 {
		return fmt.Errorf("%w: retry jitter must be within [0,1]", contractx.ErrValidation)
	}
	return nil
}

func (c Config) ProviderConfig() providerx.Config {
	maxCompletionToken := c.MaxCompletionToken
	return providerx.Config{
		Backend:            providerx.Backend(strings.ToLower(strings.TrimSpace(c.Backend))),
		BaseURL:            strings.TrimSpace(c.BaseURL),
		APIKey:             strings.TrimSpace(c.APIKey),
		Model:              strings.TrimSpace(c.Model),
		MaxCompletionToken: &maxCompletionToken,
		Temperature:        c.Temperature,
		Timeout:            c.Timeout,
		SiteURL:            strings.TrimSpace(c.SiteURL),
		SiteName:           strings.TrimSpace(c.SiteName),
	}
}

func (c Config) RetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: c.RetryMaxAttempts,
		BaseDelay:   c.RetryBaseDelay,
		MaxDelay:    c.RetryMaxDelay,
		Jitter:      c.RetryJitter,
	}
}
