package biz

import (
	"context"
	"fmt"
	"io"

	"MetaDJ/internal/conf"
	"MetaDJ/pkg/crypto"
	"MetaDJ/pkg/provider"

	"github.com/go-kratos/kratos/v2/log"
)

// Upstream is one LLM provider as seen by the usecases.
type Upstream interface {
	Name() string
	Model() string
	Stream(ctx context.Context, req *provider.Request) (io.ReadCloser, error)
	Complete(ctx context.Context, req *provider.Request) (*provider.Reply, error)
	CanTranscribe() bool
	Transcribe(ctx context.Context, audio io.Reader, filename, model string) (string, error)
}

// ProviderRegistry holds the primary and the optional secondary upstream.
type ProviderRegistry struct {
	primary   Upstream
	secondary Upstream
}

// NewProviderRegistry builds the provider clients named by configuration.
// Sealed API keys are opened with the configured encryption key.
func NewProviderRegistry(c *conf.Providers, a *conf.Auth, logger log.Logger) (*ProviderRegistry, error) {
	if c == nil || c.Primary == "" {
		return nil, fmt.Errorf("primary provider is not configured")
	}

	var box *crypto.SecretBox
	if a != nil && a.EncryptionKey != "" {
		b, err := crypto.NewSecretBox(a.EncryptionKey)
		if err != nil {
			return nil, fmt.Errorf("invalid encryption key: %w", err)
		}
		box = b
	}

	build := func(name string) (Upstream, error) {
		up := c.Find(name)
		if up == nil {
			return nil, fmt.Errorf("provider %q is not configured", name)
		}
		apiKey, err := crypto.OpenValue(box, up.APIKey)
		if err != nil {
			return nil, fmt.Errorf("provider %q api key: %w", name, err)
		}
		return provider.New(provider.Config{
			Name:           up.Name,
			BaseURL:        up.BaseURL,
			APIKey:         apiKey,
			Model:          up.Model,
			StreamPath:     up.StreamPath,
			SyncPath:       up.SyncPath,
			TranscribePath: up.TranscribePath,
			ProxyURL:       up.ProxyURL,
			SyncTimeout:    c.SyncTimeout,
		}, logger)
	}

	reg := &ProviderRegistry{}
	primary, err := build(c.Primary)
	if err != nil {
		return nil, err
	}
	reg.primary = primary

	if c.Secondary != "" && c.Secondary != c.Primary {
		secondary, err := build(c.Secondary)
		if err != nil {
			return nil, err
		}
		reg.secondary = secondary
	}

	return reg, nil
}

// Primary returns the preferred upstream.
func (r *ProviderRegistry) Primary() Upstream { return r.primary }

// Secondary returns the fallback upstream, nil when none is configured.
func (r *ProviderRegistry) Secondary() Upstream { return r.secondary }

// All returns the configured upstreams, primary first.
func (r *ProviderRegistry) All() []Upstream {
	if r.secondary == nil {
		return []Upstream{r.primary}
	}
	return []Upstream{r.primary, r.secondary}
}

// other returns the configured upstream that is not up, or nil.
func (r *ProviderRegistry) other(up Upstream) Upstream {
	if r.secondary == nil {
		return nil
	}
	if up.Name() == r.primary.Name() {
		return r.secondary
	}
	return r.primary
}
