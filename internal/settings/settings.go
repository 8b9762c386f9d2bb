// Package settings fetches per-clinic widget configuration from the clinic
// portal and caches it with a short TTL so every new session does not hit the
// portal.
package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/DermaBridge/IntakeFlow/internal/models"
	"github.com/DermaBridge/IntakeFlow/internal/tone"
)

const (
	// DefaultTTL is how long a fetched settings payload stays fresh.
	DefaultTTL = 5 * time.Minute

	// defaultFetchTimeout bounds a single portal request.
	defaultFetchTimeout = 10 * time.Second

	// maxSettingsBody caps the response size read from the portal.
	maxSettingsBody = 1 << 20
)

// Defaults returns the built-in widget settings used when no portal is
// configured or the portal cannot be reached.
func Defaults() models.WidgetSettings {
	return models.WidgetSettings{
		WelcomeMessage: "Hi! I'm here to help you book a skin consultation. It only takes a couple of minutes.",
		BotDisplayName: "Clinic Assistant",
		CTALabel:       "Book a consultation",
		Tone:           tone.DefaultTone,
	}
}

// Provider serves widget settings, caching portal responses under a TTL.
type Provider struct {
	url    string
	client *http.Client
	ttl    time.Duration
	clock  func() time.Time

	mu        sync.RWMutex
	cached    models.WidgetSettings
	fetchedAt time.Time
}

// Option configures a Provider.
type Option func(*Provider)

// WithURL points the provider at the clinic portal settings endpoint. An
// empty URL means the provider always serves defaults.
func WithURL(url string) Option {
	return func(p *Provider) { p.url = url }
}

// WithTTL overrides the cache lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(p *Provider) { p.ttl = ttl }
}

// WithHTTPClient overrides the HTTP client, for tests.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.client = c }
}

// WithClock overrides the time source, for tests.
func WithClock(fn func() time.Time) Option {
	return func(p *Provider) { p.clock = fn }
}

// NewProvider builds a settings provider.
func NewProvider(opts ...Option) *Provider {
	p := &Provider{
		client: &http.Client{Timeout: defaultFetchTimeout},
		ttl:    DefaultTTL,
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Get returns the current widget settings: the cached payload while fresh, a
// new fetch once stale, and defaults when no portal is configured or the
// fetch fails. Get never returns an error; settings always resolve.
func (p *Provider) Get(ctx context.Context) models.WidgetSettings {
	if p.url == "" {
		return Defaults()
	}
	p.mu.RLock()
	fresh := !p.fetchedAt.IsZero() && p.clock().Sub(p.fetchedAt) < p.ttl
	cached := p.cached
	hasCache := !p.fetchedAt.IsZero()
	p.mu.RUnlock()
	if fresh {
		return cached
	}
	if err := p.Refresh(ctx); err != nil {
		slog.Error("Provider.Get: settings fetch failed", "url", p.url, "error", err)
		if hasCache {
			// Serve the stale copy over the defaults.
			return cached
		}
		return Defaults()
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cached
}

// Refresh forces a portal fetch and replaces the cache. The scheduler calls
// it periodically so the widget picks up clinic edits without waiting for
// traffic.
func (p *Provider) Refresh(ctx context.Context) error {
	if p.url == "" {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return fmt.Errorf("failed to build settings request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("settings fetch failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("settings fetch returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSettingsBody))
	if err != nil {
		return fmt.Errorf("failed to read settings response: %w", err)
	}
	var fetched models.WidgetSettings
	if err := json.Unmarshal(body, &fetched); err != nil {
		return fmt.Errorf("failed to parse settings response: %w", err)
	}
	merged := merge(fetched)

	p.mu.Lock()
	p.cached = merged
	p.fetchedAt = p.clock()
	p.mu.Unlock()
	slog.Debug("Provider.Refresh: settings refreshed", "tone", merged.Tone)
	return nil
}

// merge fills blanks in a fetched payload from the defaults and normalizes
// the tone.
func merge(s models.WidgetSettings) models.WidgetSettings {
	d := Defaults()
	if s.WelcomeMessage == "" {
		s.WelcomeMessage = d.WelcomeMessage
	}
	if s.BotDisplayName == "" {
		s.BotDisplayName = d.BotDisplayName
	}
	if s.CTALabel == "" {
		s.CTALabel = d.CTALabel
	}
	s.Tone = tone.Normalize(s.Tone)
	return s
}
