// Package geocode resolves French city names to coordinates using the
// government address API.
package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

const defaultBaseURL = "https://api-adresse.data.gouv.fr"

// Place is a resolved municipality.
type Place struct {
	Lat     float64
	Lng     float64
	ZipCode string
}

// Client queries the address API.
type Client struct {
	baseURL string
	client  *http.Client
}

// New creates a Client. An empty baseURL uses the public API.
func New(baseURL string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 5 * time.Second},
	}
}

type searchResponse struct {
	Features []struct {
		Geometry struct {
			Coordinates []float64 `json:"coordinates"`
		} `json:"geometry"`
		Properties struct {
			Postcode string `json:"postcode"`
		} `json:"properties"`
	} `json:"features"`
}

// Resolve looks city up as a municipality. A city the API does not know
// returns an error, not a zero Place.
func (c *Client) Resolve(ctx context.Context, city string) (Place, error) {
	u := fmt.Sprintf("%s/search/?q=%s&type=municipality&limit=1", c.baseURL, url.QueryEscape(city))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Place{}, fmt.Errorf("building geocode request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return Place{}, fmt.Errorf("geocode request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Place{}, fmt.Errorf("geocode request: status %d", resp.StatusCode)
	}

	var parsed searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Place{}, fmt.Errorf("decoding geocode response: %w", err)
	}
	if len(parsed.Features) == 0 {
		return Place{}, fmt.Errorf("no municipality found for %q", city)
	}

	feature := parsed.Features[0]
	coords := feature.Geometry.Coordinates
	if len(coords) < 2 {
		return Place{}, fmt.Errorf("malformed coordinates for %q", city)
	}
	// GeoJSON order is (lng, lat).
	return Place{
		Lat:     coords[1],
		Lng:     coords[0],
		ZipCode: feature.Properties.Postcode,
	}, nil
}
