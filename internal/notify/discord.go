// Package notify sends ad alerts to Discord webhooks.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/mguichard/adwatch/internal/database"
)

// Embed colors per notification kind.
const (
	colorDefault   = 0x10B981 // green
	colorPriceDrop = 0x4F46E5 // indigo
	colorHighlight = 0xF59E0B // gold
)

const botUsername = "AdWatch"

// Discord posts rich embeds to a webhook URL.
type Discord struct {
	webhookURL string
	client     *http.Client
}

// NewDiscord creates a notifier. An empty URL yields a notifier whose
// sends are silent no-ops.
func NewDiscord(webhookURL string) *Discord {
	return &Discord{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

type webhookPayload struct {
	Username string  `json:"username"`
	Content  string  `json:"content,omitempty"`
	Embeds   []embed `json:"embeds,omitempty"`
}

type embed struct {
	Title       string       `json:"title"`
	URL         string       `json:"url,omitempty"`
	Color       int          `json:"color"`
	Description string       `json:"description,omitempty"`
	Fields      []embedField `json:"fields"`
	Footer      *embedFooter `json:"footer,omitempty"`
	Thumbnail   *embedImage  `json:"thumbnail,omitempty"`
}

type embedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type embedFooter struct {
	Text string `json:"text"`
}

type embedImage struct {
	URL string `json:"url"`
}

// SendAdNotification posts one ad. highlight marks an exceptional deal,
// priceDrop a recorded drop; an extra content line can escalate urgent
// finds. Delivery failures are logged and reported as false, never as
// errors, so a broken webhook cannot stall a refresh.
func (d *Discord) SendAdNotification(ctx context.Context, ad database.Ad, highlight, priceDrop bool, content string) bool {
	if d.webhookURL == "" {
		return false
	}

	prefix := ""
	color := colorDefault
	if highlight {
		prefix = "✨ "
		color = colorHighlight
	}
	if priceDrop {
		prefix = "📉 "
		color = colorPriceDrop
	}

	price := "Inconnu"
	if ad.Price > 0 {
		price = fmt.Sprintf("%.0f €", ad.Price)
	}
	location := "Inconnu"
	if ad.Location != nil && *ad.Location != "" {
		location = *ad.Location
	}

	score := "Non noté"
	if ad.AIScore != nil {
		score = fmt.Sprintf("%.0f/10 %s", *ad.AIScore, strings.Repeat("⭐", int(*ad.AIScore)))
	}

	e := embed{
		Title: prefix + ad.Title,
		Color: color,
		Fields: []embedField{
			{Name: "💰 Prix", Value: price, Inline: true},
			{Name: "📍 Lieu", Value: location, Inline: true},
			{Name: "⭐ Note IA", Value: score, Inline: false},
			{Name: "📦 Source", Value: ad.Source, Inline: true},
		},
		Footer: &embedFooter{Text: "Veille : " + watchLabel(ad)},
	}
	if ad.URL != nil {
		e.URL = *ad.URL
	}
	if ad.ImageURL != nil && *ad.ImageURL != "" {
		e.Thumbnail = &embedImage{URL: *ad.ImageURL}
	}
	if ad.AISummary != nil && *ad.AISummary != "" {
		e.Description = "**Résumé IA :** " + *ad.AISummary
	}

	return d.post(ctx, webhookPayload{
		Username: botUsername,
		Content:  content,
		Embeds:   []embed{e},
	})
}

// SendTest posts a plain confirmation message.
func (d *Discord) SendTest(ctx context.Context) bool {
	if d.webhookURL == "" {
		return false
	}
	return d.post(ctx, webhookPayload{
		Username: botUsername,
		Content:  "🚀 **Test réussi !** Les alertes sont opérationnelles.",
	})
}

func (d *Discord) post(ctx context.Context, payload webhookPayload) bool {
	body, err := json.Marshal(payload)
	if err != nil {
		log.Printf("Discord payload encoding failed: %v", err)
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(body))
	if err != nil {
		log.Printf("Discord request failed: %v", err)
		return false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		log.Printf("Discord delivery failed: %v", err)
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		log.Printf("Discord delivery failed: status %d", resp.StatusCode)
		return false
	}
	return true
}

func watchLabel(ad database.Ad) string {
	if ad.WatchName != "" {
		return ad.WatchName
	}
	return "Manuelle"
}
