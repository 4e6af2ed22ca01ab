package search

import (
	"context"
	"log"
)

// Multi fans a query out to several providers and concatenates what
// they find. A failing provider is logged and skipped; one broken
// marketplace never empties the whole refresh.
type Multi struct {
	providers []Provider
}

// NewMulti creates a fan-out over providers.
func NewMulti(providers ...Provider) *Multi {
	return &Multi{providers: providers}
}

func (m *Multi) Name() string { return "multi" }

// Search runs the query against each provider in order.
func (m *Multi) Search(ctx context.Context, q Query) ([]Result, error) {
	var all []Result
	for _, p := range m.providers {
		if ctx.Err() != nil {
			return all, ctx.Err()
		}
		results, err := p.Search(ctx, q)
		if err != nil {
			log.Printf("Provider %s failed: %v", p.Name(), err)
			continue
		}
		all = append(all, results...)
	}
	return all, nil
}
