package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const (
	leboncoinBaseURL   = "https://api.leboncoin.fr"
	leboncoinUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"
)

// Leboncoin queries the Leboncoin finder API.
type Leboncoin struct {
	baseURL string
	client  *http.Client
}

// NewLeboncoin creates a provider. An empty baseURL uses the public API.
func NewLeboncoin(baseURL string) *Leboncoin {
	if baseURL == "" {
		baseURL = leboncoinBaseURL
	}
	return &Leboncoin{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

func (l *Leboncoin) Name() string { return "leboncoin" }

type lbcRequest struct {
	Filters lbcFilters `json:"filters"`
	Limit   int        `json:"limit"`
	Offset  int        `json:"offset"`
	SortBy  string     `json:"sort_by"`
	SortOrd string     `json:"sort_order"`
}

type lbcFilters struct {
	Category *lbcCategory        `json:"category,omitempty"`
	Keywords lbcKeywords         `json:"keywords"`
	Location map[string]any      `json:"location"`
	Ranges   map[string]lbcRange `json:"ranges,omitempty"`
	Enums    map[string][]string `json:"enums,omitempty"`
}

type lbcCategory struct {
	ID string `json:"id"`
}

type lbcKeywords struct {
	Text string `json:"text"`
}

type lbcRange struct {
	Min *float64 `json:"min,omitempty"`
	Max *float64 `json:"max,omitempty"`
}

type lbcResponse struct {
	Total int     `json:"total"`
	Ads   []lbcAd `json:"ads"`
}

type lbcAd struct {
	ListID    int64     `json:"list_id"`
	Subject   string    `json:"subject"`
	Body      string    `json:"body"`
	Price     []float64 `json:"price"`
	URL       string    `json:"url"`
	IndexDate string    `json:"index_date"`
	Category  string    `json:"category_name"`
	Location  struct {
		City      string  `json:"city"`
		ZipCode   string  `json:"zipcode"`
		CityLabel string  `json:"city_label"`
		Lat       float64 `json:"lat"`
		Lng       float64 `json:"lng"`
	} `json:"location"`
	Images struct {
		ThumbURL string   `json:"thumb_url"`
		URLs     []string `json:"urls"`
	} `json:"images"`
	Owner struct {
		Type string `json:"type"`
	} `json:"owner"`
}

// Search posts a finder query and maps the ads it returns.
func (l *Leboncoin) Search(ctx context.Context, q Query) ([]Result, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 35
	}
	page := q.Page
	if page < 1 {
		page = 1
	}

	req := lbcRequest{
		Filters: lbcFilters{
			Keywords: lbcKeywords{Text: q.Text},
			Location: buildLbcLocation(q.Locations),
		},
		Limit:   limit,
		Offset:  (page - 1) * limit,
		SortBy:  "time",
		SortOrd: "desc",
	}
	if q.Sort == SortRelevance {
		req.SortBy = "relevance"
	}
	if q.Category != "" {
		req.Filters.Category = &lbcCategory{ID: q.Category}
	}
	if q.PriceMin != nil || q.PriceMax != nil {
		req.Filters.Ranges = map[string]lbcRange{
			"price": {Min: q.PriceMin, Max: q.PriceMax},
		}
	}
	if q.OwnerType != "" {
		req.Filters.Enums = map[string][]string{"owner_type": {q.OwnerType}}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding finder request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, l.baseURL+"/finder/search", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building finder request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", leboncoinUserAgent)

	resp, err := l.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("finder request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("finder request: status %d", resp.StatusCode)
	}

	var parsed lbcResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decoding finder response: %w", err)
	}

	results := make([]Result, 0, len(parsed.Ads))
	for _, ad := range parsed.Ads {
		var price float64
		if len(ad.Price) > 0 {
			price = ad.Price[0]
		}
		image := ad.Images.ThumbURL
		if image == "" && len(ad.Images.URLs) > 0 {
			image = ad.Images.URLs[0]
		}
		location := ad.Location.CityLabel
		if location == "" {
			location = ad.Location.City
		}
		results = append(results, Result{
			ID:            fmt.Sprintf("%d", ad.ListID),
			Title:         ad.Subject,
			Price:         price,
			Location:      location,
			Lat:           ad.Location.Lat,
			Lng:           ad.Location.Lng,
			PublishedDate: ad.IndexDate,
			URL:           ad.URL,
			Description:   ad.Body,
			ImageURL:      image,
			IsOwnerPro:    ad.Owner.Type == "pro",
			Category:      ad.Category,
			Source:        l.Name(),
		})
	}
	return results, nil
}

func buildLbcLocation(locations []Location) map[string]any {
	loc := map[string]any{}
	var areas []map[string]any
	var regions, departments []string
	for _, l := range locations {
		switch {
		case l.Region != "":
			regions = append(regions, l.Region)
		case l.Department != "":
			departments = append(departments, l.Department)
		case l.City != "":
			radius := l.RadiusKm
			if radius <= 0 {
				radius = 10
			}
			areas = append(areas, map[string]any{
				"locations": []map[string]any{{
					"locationType": "city",
					"label":        l.City,
					"city":         l.City,
					"zipcode":      l.ZipCode,
				}},
				"area": map[string]any{
					"lat":            l.Lat,
					"lng":            l.Lng,
					"default_radius": radius * 1000,
					"radius":         radius * 1000,
				},
			})
		}
	}
	if len(areas) > 0 {
		loc["locations"] = areas
	}
	if len(regions) > 0 {
		loc["regions"] = regions
	}
	if len(departments) > 0 {
		loc["departments"] = departments
	}
	return loc
}
