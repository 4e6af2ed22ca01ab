package search

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

const (
	ebayBaseURL    = "https://www.ebay.fr"
	ebayMaxResults = 10
)

var ebayPriceRe = regexp.MustCompile(`(\d+[.,]?\d*)`)

// EBay scrapes eBay search result pages.
type EBay struct {
	baseURL string
	client  *http.Client
}

// NewEBay creates a provider. An empty baseURL uses ebay.fr.
func NewEBay(baseURL string) *EBay {
	if baseURL == "" {
		baseURL = ebayBaseURL
	}
	return &EBay{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (e *EBay) Name() string { return "ebay" }

// Search fetches one results page and extracts the first few item cards.
// eBay has no location filtering worth using here, so only the text
// query applies.
func (e *EBay) Search(ctx context.Context, q Query) ([]Result, error) {
	searchURL := fmt.Sprintf("%s/sch/i.html?_nkw=%s&_sacat=0", e.baseURL, url.QueryEscape(q.Text))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building ebay request: %w", err)
	}
	req.Header.Set("User-Agent", leboncoinUserAgent)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ebay request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ebay request: status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parsing ebay page: %w", err)
	}

	var results []Result
	doc.Find(".s-item__wrapper").EachWithBreak(func(_ int, item *goquery.Selection) bool {
		title := strings.TrimSpace(item.Find(".s-item__title").Text())
		priceText := item.Find(".s-item__price").Text()
		link, _ := item.Find(".s-item__link").Attr("href")
		image, _ := item.Find(".s-item__image-img").Attr("src")

		if title == "" || priceText == "" || link == "" {
			return true
		}

		results = append(results, Result{
			ID:       "ebay_" + ebayItemID(link),
			Title:    title,
			Price:    parseEbayPrice(priceText),
			Location: "eBay",
			URL:      link,
			ImageURL: image,
			Source:   "ebay",
		})
		return len(results) < ebayMaxResults
	})
	return results, nil
}

// ebayItemID extracts the numeric item id from a listing URL.
func ebayItemID(link string) string {
	link = strings.SplitN(link, "?", 2)[0]
	parts := strings.Split(strings.TrimRight(link, "/"), "/")
	return parts[len(parts)-1]
}

func parseEbayPrice(text string) float64 {
	text = strings.NewReplacer(" ", "", " ", "").Replace(text)
	m := ebayPriceRe.FindString(text)
	if m == "" {
		return 0
	}
	price, err := strconv.ParseFloat(strings.ReplaceAll(m, ",", "."), 64)
	if err != nil {
		return 0
	}
	return price
}
