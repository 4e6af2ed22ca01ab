package ai

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

var (
	// ErrUnavailable means no provider or credentials are configured.
	ErrUnavailable = errors.New("ai provider unavailable")
	// ErrQuotaExhausted means the quota retries ran out.
	ErrQuotaExhausted = errors.New("ai quota exhausted")
)

// Options configure a Client. Zero values fall back to sane defaults.
type Options struct {
	ModelPreference []string
	FallbackModel   string
	MaxRetries      int
	BackoffStep     time.Duration
	// ErrorLogPath, when set, receives timestamped entries for
	// unexpected provider failures.
	ErrorLogPath string
	// Status receives human-readable progress lines (quota countdowns,
	// failures). Optional.
	Status func(string)
}

// Limiter admits one outbound request, blocking until within quota.
type Limiter interface {
	Admit(ctx context.Context) error
}

// Client wraps a Provider with model selection and quota/backoff retry.
// Calls may run concurrently; the Limiter does the quota accounting, the
// mutex only guards the selected model.
type Client struct {
	mu       sync.Mutex
	provider Provider
	limiter  Limiter
	model    string
	opts     Options

	sleep func(context.Context, time.Duration) error
}

// NewClient creates a Client around provider. A nil provider yields a
// client whose Complete always returns ErrUnavailable.
func NewClient(provider Provider, limiter Limiter, opts Options) *Client {
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 3
	}
	if opts.BackoffStep == 0 {
		opts.BackoffStep = 20 * time.Second
	}
	if opts.FallbackModel == "" {
		opts.FallbackModel = "gemini-1.5-flash"
	}
	if opts.Status == nil {
		opts.Status = func(string) {}
	}
	return &Client{
		provider: provider,
		limiter:  limiter,
		opts:     opts,
		sleep:    sleepContext,
	}
}

// Configure picks the model to use from what the provider offers. It runs
// once per (re)configuration, not per call. Listing failures fall back to
// the configured default model.
func (c *Client) Configure(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.provider == nil {
		return
	}
	available, err := c.provider.ListModels(ctx)
	if err != nil {
		log.Printf("Could not list models, using %s: %v", c.opts.FallbackModel, err)
		c.model = c.opts.FallbackModel
		return
	}
	c.model = SelectModel(c.opts.ModelPreference, available, c.opts.FallbackModel)
	log.Printf("Using model: %s", c.model)
}

// Model returns the currently selected model name.
func (c *Client) Model() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.model == "" {
		return c.opts.FallbackModel
	}
	return c.model
}

// SelectModel returns the first preferred model present in available,
// falling back to any general-purpose low-cost model, then to fallback.
func SelectModel(preference, available []string, fallback string) string {
	avail := make(map[string]bool, len(available))
	for _, m := range available {
		avail[m] = true
	}
	for _, want := range preference {
		if avail[want] {
			return want
		}
	}
	for _, m := range available {
		if strings.Contains(m, "flash") {
			return m
		}
	}
	return fallback
}

// Complete sends prompt to the selected model and returns the raw text.
// Quota errors back off attempt x BackoffStep and retry up to MaxRetries;
// any other provider error aborts immediately.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	if c.provider == nil {
		c.opts.Status("AI non configurée : clé API manquante")
		return "", ErrUnavailable
	}
	model := c.Model()

	for attempt := 1; attempt <= c.opts.MaxRetries; attempt++ {
		if err := c.limiter.Admit(ctx); err != nil {
			return "", err
		}

		text, err := c.provider.Generate(ctx, model, prompt)
		if err == nil {
			return text, nil
		}

		if !IsQuotaError(err) {
			c.opts.Status(fmt.Sprintf("Erreur IA : %v", err))
			c.logError(err)
			return "", fmt.Errorf("ai provider: %w", err)
		}

		if attempt == c.opts.MaxRetries {
			break
		}
		wait := time.Duration(attempt) * c.opts.BackoffStep
		c.opts.Status(fmt.Sprintf("Quota atteint, nouvel essai dans %ds (%d/%d)",
			int(wait.Seconds()), attempt, c.opts.MaxRetries))
		log.Printf("AI quota hit, backing off %v (attempt %d/%d)", wait, attempt, c.opts.MaxRetries)
		if err := c.sleep(ctx, wait); err != nil {
			return "", err
		}
	}

	c.opts.Status("Quota IA épuisé, analyse abandonnée")
	c.logError(ErrQuotaExhausted)
	return "", ErrQuotaExhausted
}

// IsQuotaError reports whether err looks like a rate/quota rejection.
// The provider signals those through message substrings.
func IsQuotaError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") ||
		strings.Contains(msg, "quota") ||
		strings.Contains(msg, "resource exhausted")
}

// logError appends err to the durable error log, when one is configured.
func (c *Client) logError(err error) {
	if c.opts.ErrorLogPath == "" {
		return
	}
	if mkErr := os.MkdirAll(filepath.Dir(c.opts.ErrorLogPath), 0o755); mkErr != nil {
		return
	}
	f, openErr := os.OpenFile(c.opts.ErrorLogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if openErr != nil {
		log.Printf("Could not open error log: %v", openErr)
		return
	}
	defer f.Close()
	fmt.Fprintf(f, "%s %v\n", time.Now().Format(time.RFC3339), err)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
