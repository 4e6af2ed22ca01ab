// Package search finds classified ads across marketplace providers.
package search

import "context"

// Sort orders for search results.
const (
	SortNewest    = "newest"
	SortRelevance = "relevance"
)

// Owner types advertised by marketplaces.
const (
	OwnerPrivate = "private"
	OwnerPro     = "pro"
)

// Location narrows a query geographically. Either a city with
// coordinates and a radius, or a region/department selector.
type Location struct {
	City       string
	ZipCode    string
	Lat        float64
	Lng        float64
	RadiusKm   int
	Region     string
	Department string
}

// Query is a provider-independent search request.
type Query struct {
	Text      string
	Locations []Location
	PriceMin  *float64
	PriceMax  *float64
	Category  string
	OwnerType string
	Sort      string
	Page      int
	Limit     int
}

// Result is one ad as found by a provider, before storage.
type Result struct {
	ID            string
	Title         string
	Price         float64
	Location      string
	Lat           float64
	Lng           float64
	PublishedDate string
	URL           string
	Description   string
	ImageURL      string
	IsOwnerPro    bool
	Category      string
	Source        string
}

// Provider searches one marketplace.
type Provider interface {
	Name() string
	Search(ctx context.Context, q Query) ([]Result, error)
}
