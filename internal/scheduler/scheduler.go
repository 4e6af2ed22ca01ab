// Package scheduler drives the periodic refresh of active watches.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"strings"
	"time"

	"github.com/mguichard/adwatch/internal/analyze"
	"github.com/mguichard/adwatch/internal/config"
	"github.com/mguichard/adwatch/internal/database"
	"github.com/mguichard/adwatch/internal/geocode"
	"github.com/mguichard/adwatch/internal/notify"
	"github.com/mguichard/adwatch/internal/search"
)

// Geocoder resolves a city name to coordinates.
type Geocoder interface {
	Resolve(ctx context.Context, city string) (geocode.Place, error)
}

// Notifier delivers ad alerts.
type Notifier interface {
	SendAdNotification(ctx context.Context, ad database.Ad, highlight, priceDrop bool, content string) bool
}

// BatchAnalyzer scores a batch of ads.
type BatchAnalyzer interface {
	Analyze(ctx context.Context, run *analyze.Run, ads []database.Ad, searchContext string) []database.AdInsight
}

// Result summarizes one watch refresh.
type Result struct {
	Watch      string
	TenantID   int64
	Found      int
	New        int
	PriceDrops int
	Errors     int
}

// Scheduler refreshes due watches on a fixed tick.
type Scheduler struct {
	db        *database.DB
	cfg       *config.Config
	providers map[string]search.Provider
	geocoder  Geocoder
	analyzer  BatchAnalyzer
	tracker   *analyze.Tracker

	newNotifier func(webhookURL string) Notifier
	now         func() time.Time
	sleep       func(context.Context, time.Duration) error
	rng         *rand.Rand
	background  func(func())
}

// New creates a Scheduler. providers maps platform names ("leboncoin",
// "ebay", "feed") to search providers.
func New(db *database.DB, cfg *config.Config, providers map[string]search.Provider, geocoder Geocoder, analyzer BatchAnalyzer, tracker *analyze.Tracker) *Scheduler {
	return &Scheduler{
		db:        db,
		cfg:       cfg,
		providers: providers,
		geocoder:  geocoder,
		analyzer:  analyzer,
		tracker:   tracker,
		newNotifier: func(webhookURL string) Notifier {
			return notify.NewDiscord(webhookURL)
		},
		now:        time.Now,
		sleep:      sleepContext,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
		background: func(f func()) { go f() },
	}
}

// Start ticks until ctx is cancelled. A panicking tick is logged and
// the loop keeps going.
func (s *Scheduler) Start(ctx context.Context) {
	interval := time.Duration(s.cfg.Scheduler.TickSeconds) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}
	log.Printf("Scheduler started, ticking every %v", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		s.safeTick(ctx)
		select {
		case <-ctx.Done():
			log.Println("Scheduler stopped")
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) safeTick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Tick panicked: %v", r)
		}
	}()
	s.Tick(ctx, false)
}

// Tick refreshes every due watch across all tenants. force refreshes
// active watches regardless of mode and interval.
func (s *Scheduler) Tick(ctx context.Context, force bool) []Result {
	watches, err := s.db.GetActiveWatches(0)
	if err != nil {
		log.Printf("Could not load watches: %v", err)
		return nil
	}

	var results []Result
	for _, w := range watches {
		if ctx.Err() != nil {
			return results
		}
		if !force && !IsDue(w, s.now()) {
			continue
		}
		results = append(results, s.refreshWatch(ctx, w))
	}
	return results
}

// IsDue reports whether an auto watch should refresh at now. A watch
// that never ran is due immediately.
func IsDue(w database.Watch, now time.Time) bool {
	if w.RefreshMode != database.RefreshAuto {
		return false
	}
	if w.LastRun == nil || *w.LastRun == "" {
		return true
	}
	last, err := time.Parse(time.RFC3339, *w.LastRun)
	if err != nil {
		return true
	}
	interval := time.Duration(w.RefreshInterval) * time.Minute
	return now.After(last.Add(interval))
}

// refreshWatch searches all the watch's platforms, stores what it finds
// and fires notifications. last_run is updated even when every provider
// failed, so a broken watch cannot monopolize the tick.
func (s *Scheduler) refreshWatch(ctx context.Context, w database.Watch) Result {
	result := Result{Watch: w.Name, TenantID: w.TenantID}
	log.Printf("Refreshing watch %q (tenant %d)", w.Name, w.TenantID)

	locations := s.resolveLocations(ctx, w)
	keywords := splitKeywords(w.QueryText)
	pages := 1
	if w.DeepSearch {
		pages = s.cfg.Scheduler.DeepSearchPages
		if pages < 1 {
			pages = 1
		}
	}

	seen := make(map[string]bool)
	var newAds, droppedAds []database.Ad
	for _, keyword := range keywords {
		for page := 1; page <= pages; page++ {
			if ctx.Err() != nil {
				break
			}
			if page > 1 {
				if err := s.sleep(ctx, s.pageDelay()); err != nil {
					break
				}
			}

			query := search.Query{
				Text:      keyword,
				Locations: locations,
				PriceMin:  w.PriceMin,
				PriceMax:  w.PriceMax,
				Sort:      search.SortNewest,
				Page:      page,
			}
			if w.Category != nil {
				query.Category = *w.Category
			}

			for _, provider := range s.providersFor(w) {
				found, err := provider.Search(ctx, query)
				if err != nil {
					log.Printf("Watch %q: %s page %d failed: %v", w.Name, provider.Name(), page, err)
					result.Errors++
					continue
				}

				for _, r := range found {
					if seen[r.ID] {
						continue
					}
					seen[r.ID] = true
					result.Found++

					ad := resultAd(r, w)
					priceDropped, isNew, err := s.db.UpsertAd(ad, nil)
					if err != nil {
						log.Printf("Watch %q: storing ad %s failed: %v", w.Name, r.ID, err)
						result.Errors++
						continue
					}
					if isNew {
						result.New++
						newAds = append(newAds, ad)
					}
					if priceDropped {
						result.PriceDrops++
						droppedAds = append(droppedAds, ad)
					}
				}
			}
		}
	}

	webhook := s.webhookFor(w)
	if webhook != "" {
		notifier := s.newNotifier(webhook)
		for _, ad := range droppedAds {
			notifier.SendAdNotification(ctx, ad, false, true, "")
		}
		if len(newAds) > 0 && s.analyzer != nil {
			s.scheduleAutoAnalysis(ctx, w, webhook)
		}
	}

	if err := s.db.UpdateWatchLastRun(w.TenantID, w.Name); err != nil {
		log.Printf("Watch %q: updating last run failed: %v", w.Name, err)
		result.Errors++
	}

	log.Printf("Watch %q: %d found, %d new, %d price drops, %d errors",
		w.Name, result.Found, result.New, result.PriceDrops, result.Errors)
	return result
}

// scheduleAutoAnalysis scores the newest unscored ads of the watch in
// the background, then notifies the notable ones.
func (s *Scheduler) scheduleAutoAnalysis(ctx context.Context, w database.Watch, webhook string) {
	pending, err := s.db.GetAdsWithoutSummary(w.TenantID)
	if err != nil {
		log.Printf("Watch %q: loading unscored ads failed: %v", w.Name, err)
		return
	}

	var ads []database.Ad
	limit := s.cfg.Scheduler.AutoAnalyzeCount
	if limit <= 0 {
		limit = 3
	}
	for _, ad := range pending {
		if ad.WatchName != w.Name {
			continue
		}
		ads = append(ads, ad)
		if len(ads) >= limit {
			break
		}
	}
	if len(ads) == 0 {
		return
	}

	searchContext := s.aiContextFor(w)
	s.background(func() {
		runCtx, run := s.tracker.Begin(ctx)
		insights := s.analyzer.Analyze(runCtx, run, ads, searchContext)
		if len(insights) == 0 {
			return
		}
		if err := s.db.UpdateSummaries(w.TenantID, insights); err != nil {
			log.Printf("Watch %q: saving insights failed: %v", w.Name, err)
			return
		}
		s.notifyNotable(runCtx, w, webhook, ads, insights)
	})
}

func (s *Scheduler) notifyNotable(ctx context.Context, w database.Watch, webhook string, ads []database.Ad, insights []database.AdInsight) {
	byID := make(map[string]database.Ad, len(ads))
	for _, ad := range ads {
		byID[ad.ExternalID] = ad
	}

	notifier := s.newNotifier(webhook)
	for _, insight := range insights {
		if insight.Score < s.cfg.AI.NotableScore {
			continue
		}
		ad, ok := byID[insight.ID]
		if !ok {
			continue
		}
		score := insight.Score
		summary := insight.Summary
		ad.AIScore = &score
		ad.AISummary = &summary

		content := ""
		if insight.Score >= s.cfg.AI.UrgentScore {
			content = fmt.Sprintf("🚨 **Pépite urgente** (%s) : à voir tout de suite !", w.Name)
		}
		notifier.SendAdNotification(ctx, ad, true, false, content)
	}
}

// locationSelector is the JSON shape stored in watches.locations.
type locationSelector struct {
	Type     string  `json:"type"` // city, region, department
	Value    string  `json:"value"`
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
	RadiusKm int     `json:"radius_km"`
}

// resolveLocations builds the query locations for a watch. A city
// without coordinates goes through the geocoder; failures degrade to a
// nationwide search rather than aborting the refresh.
func (s *Scheduler) resolveLocations(ctx context.Context, w database.Watch) []search.Location {
	if w.Locations != nil && *w.Locations != "" {
		var selectors []locationSelector
		if err := json.Unmarshal([]byte(*w.Locations), &selectors); err != nil {
			log.Printf("Watch %q: malformed locations: %v", w.Name, err)
		} else {
			var locations []search.Location
			for _, sel := range selectors {
				switch sel.Type {
				case "region":
					locations = append(locations, search.Location{Region: sel.Value})
				case "department":
					locations = append(locations, search.Location{Department: sel.Value})
				case "city":
					locations = append(locations, search.Location{
						City: sel.Value, Lat: sel.Lat, Lng: sel.Lng, RadiusKm: sel.RadiusKm,
					})
				}
			}
			return locations
		}
	}

	if w.City == nil || *w.City == "" {
		return nil
	}

	loc := search.Location{City: *w.City, RadiusKm: w.RadiusKm}
	if w.ZipCode != nil {
		loc.ZipCode = *w.ZipCode
	}
	if w.Lat != nil && w.Lng != nil {
		loc.Lat = *w.Lat
		loc.Lng = *w.Lng
		return []search.Location{loc}
	}

	if s.geocoder == nil {
		return []search.Location{loc}
	}
	place, err := s.geocoder.Resolve(ctx, *w.City)
	if err != nil {
		log.Printf("Watch %q: could not geocode %q: %v", w.Name, *w.City, err)
		return nil
	}
	loc.Lat = place.Lat
	loc.Lng = place.Lng
	if loc.ZipCode == "" {
		loc.ZipCode = place.ZipCode
	}
	return []search.Location{loc}
}

// providersFor maps the watch's platform flags to providers. Without
// flags, leboncoin alone is searched.
func (s *Scheduler) providersFor(w database.Watch) []search.Provider {
	enabled := map[string]bool{"leboncoin": true}
	if w.Platforms != nil && *w.Platforms != "" {
		var flags map[string]bool
		if err := json.Unmarshal([]byte(*w.Platforms), &flags); err != nil {
			log.Printf("Watch %q: malformed platforms: %v", w.Name, err)
		} else {
			enabled = flags
		}
	}

	var providers []search.Provider
	for _, name := range []string{"leboncoin", "ebay", "feed"} {
		if enabled[name] && s.providers[name] != nil {
			providers = append(providers, s.providers[name])
		}
	}
	return providers
}

// webhookFor resolves the notification target: watch, then tenant, then
// the global default.
func (s *Scheduler) webhookFor(w database.Watch) string {
	if w.WebhookURL != nil && *w.WebhookURL != "" {
		return *w.WebhookURL
	}
	tenant, err := s.db.GetTenant(w.TenantID)
	if err == nil && tenant != nil && tenant.WebhookURL != nil && *tenant.WebhookURL != "" {
		return *tenant.WebhookURL
	}
	return s.cfg.DefaultWebhook()
}

// aiContextFor resolves the analysis context: watch, then the tenant
// default setting, then a line synthesized from the query.
func (s *Scheduler) aiContextFor(w database.Watch) string {
	if w.AIContext != nil && *w.AIContext != "" {
		return *w.AIContext
	}
	if def := s.db.GetSetting(database.SettingDefaultAIContext, ""); def != "" {
		return def
	}
	return "Je cherche : " + w.QueryText
}

func (s *Scheduler) pageDelay() time.Duration {
	min := s.cfg.Scheduler.PageDelayMinMs
	max := s.cfg.Scheduler.PageDelayMaxMs
	if max <= min {
		return time.Duration(min) * time.Millisecond
	}
	return time.Duration(min+s.rng.Intn(max-min)) * time.Millisecond
}

func splitKeywords(queryText string) []string {
	var keywords []string
	for _, part := range strings.Split(queryText, "|") {
		if part = strings.TrimSpace(part); part != "" {
			keywords = append(keywords, part)
		}
	}
	if len(keywords) == 0 {
		keywords = []string{""}
	}
	return keywords
}

func resultAd(r search.Result, w database.Watch) database.Ad {
	ad := database.Ad{
		ExternalID: r.ID,
		TenantID:   w.TenantID,
		WatchName:  w.Name,
		Title:      r.Title,
		Price:      r.Price,
		IsOwnerPro: r.IsOwnerPro,
		Source:     r.Source,
	}
	if r.Location != "" {
		ad.Location = &r.Location
	}
	if r.PublishedDate != "" {
		ad.PublishedDate = &r.PublishedDate
	}
	if r.URL != "" {
		ad.URL = &r.URL
	}
	if r.Description != "" {
		ad.Description = &r.Description
	}
	if r.ImageURL != "" {
		ad.ImageURL = &r.ImageURL
	}
	if r.Lat != 0 || r.Lng != 0 {
		ad.Lat = &r.Lat
		ad.Lng = &r.Lng
	}
	if r.Category != "" {
		ad.Category = &r.Category
	}
	return ad
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
