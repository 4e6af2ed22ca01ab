// Package ai is the single point of contact with the generative AI
// provider: model selection, quota admission, and backoff retry live here.
package ai

import "context"

// Provider is the interface to a prompt-completion backend.
type Provider interface {
	// ListModels returns the model names the provider currently offers.
	ListModels(ctx context.Context) ([]string, error)
	// Generate sends a prompt to the named model and returns the raw text.
	Generate(ctx context.Context, model, prompt string) (string, error)
	Close() error
}
