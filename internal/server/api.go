package server

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"github.com/mguichard/adwatch/internal/analyze"
	"github.com/mguichard/adwatch/internal/database"
	"github.com/mguichard/adwatch/internal/enrich"
	"github.com/mguichard/adwatch/internal/geocode"
	"github.com/mguichard/adwatch/internal/nlp"
)

// BatchAnalyzer scores a batch of ads.
type BatchAnalyzer interface {
	Analyze(ctx context.Context, run *analyze.Run, ads []database.Ad, searchContext string) []database.AdInsight
}

// Geocoder resolves a city name to coordinates.
type Geocoder interface {
	Resolve(ctx context.Context, city string) (geocode.Place, error)
}

// Notifier delivers test messages and alerts.
type Notifier interface {
	SendTest(ctx context.Context) bool
}

// Enricher extracts partial ad information from a listing page.
type Enricher interface {
	Fetch(ctx context.Context, pageURL string) (enrich.Result, error)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error encoding JSON response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleAds(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
	case http.MethodPost:
		s.createAd(w, r)
		return
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	tenant := tenantID(r)
	var (
		ads []database.Ad
		err error
	)
	if watch := r.URL.Query().Get("watch"); watch != "" {
		ads, err = s.db.GetAdsForWatch(tenant, watch)
	} else {
		ads, err = s.db.GetVisibleAds(tenant)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not load ads")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ads": ads})
}

// handleAdAction routes /api/ads/{id}/hide and /api/ads/{id}/history.
func (s *Server) handleAdAction(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/ads/")
	parts := strings.SplitN(path, "/", 2)
	if len(parts) != 2 || parts[0] == "" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	tenant := tenantID(r)
	id := parts[0]
	switch parts[1] {
	case "hide":
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		if err := s.db.HideAd(tenant, id); err != nil {
			writeError(w, http.StatusInternalServerError, "could not hide ad")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	case "history":
		history, err := s.db.GetPriceHistory(tenant, id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "could not load history")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"history": history})
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

type createAdRequest struct {
	URL   string  `json:"url"`
	Title string  `json:"title"`
	Price float64 `json:"price"`
	Watch string  `json:"watch"`
}

// createAd adds an ad by hand from its listing URL. The page is fetched
// best-effort for a title, description and image; whatever the user
// typed wins over what the page yields.
func (s *Server) createAd(w http.ResponseWriter, r *http.Request) {
	var req createAdRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.URL = strings.TrimSpace(req.URL)
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}

	ad := database.Ad{
		ExternalID: manualAdID(req.URL),
		TenantID:   tenantID(r),
		WatchName:  req.Watch,
		Title:      req.Title,
		Price:      req.Price,
		URL:        &req.URL,
		Source:     database.SourceManual,
	}

	if s.enricher != nil {
		page, err := s.enricher.Fetch(r.Context(), req.URL)
		if err != nil {
			log.Printf("Could not fetch %s: %v", req.URL, err)
		} else {
			if ad.Title == "" {
				ad.Title = page.Title
			}
			if page.Description != "" {
				ad.Description = &page.Description
			}
			if page.ImageURL != "" {
				ad.ImageURL = &page.ImageURL
			}
		}
	}
	if ad.Title == "" {
		ad.Title = req.URL
	}

	if _, isNew, err := s.db.UpsertAd(ad, nil); err != nil {
		writeError(w, http.StatusInternalServerError, "could not save ad")
		return
	} else if !isNew {
		writeJSON(w, http.StatusOK, map[string]any{"ad": ad, "created": false})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"ad": ad, "created": true})
}

// manualAdID derives a stable external id from the listing URL, so
// adding the same URL twice updates rather than duplicates.
func manualAdID(pageURL string) string {
	sum := sha1.Sum([]byte(pageURL))
	return "manual_" + hex.EncodeToString(sum[:])[:16]
}

type moveAdsRequest struct {
	IDs   []string `json:"ids"`
	Watch string   `json:"watch"`
}

// handleMoveAds reassigns ads to another watch.
func (s *Server) handleMoveAds(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req moveAdsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(req.IDs) == 0 || req.Watch == "" {
		writeError(w, http.StatusBadRequest, "ids and watch are required")
		return
	}

	tenant := tenantID(r)
	target, err := s.db.GetWatch(tenant, req.Watch)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not load watch")
		return
	}
	if target == nil {
		writeError(w, http.StatusNotFound, "watch not found")
		return
	}

	if err := s.db.MoveAdsToWatch(tenant, req.IDs, req.Watch); err != nil {
		writeError(w, http.StatusInternalServerError, "could not move ads")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"moved": len(req.IDs)})
}

func (s *Server) handleWatches(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		watches, err := s.db.GetActiveWatches(tenantID(r))
		if err != nil {
			writeError(w, http.StatusInternalServerError, "could not load watches")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"watches": watches})
	case http.MethodPost:
		s.createWatch(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

type createWatchRequest struct {
	Name       string `json:"name"`
	Sentence   string `json:"sentence"`
	Mode       string `json:"mode"`
	Interval   int    `json:"interval"`
	DeepSearch bool   `json:"deep_search"`
	Webhook    string `json:"webhook"`
	AIContext  string `json:"ai_context"`
}

// createWatch builds a watch from a natural language sentence, such as
// "je cherche une clio 5 à Rennes moins de 8000 euros".
func (s *Server) createWatch(w http.ResponseWriter, r *http.Request) {
	var req createWatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Sentence) == "" {
		writeError(w, http.StatusBadRequest, "sentence is required")
		return
	}

	criteria := nlp.ParseSentence(req.Sentence)
	if criteria.Text == "" {
		writeError(w, http.StatusBadRequest, "no search keywords found in sentence")
		return
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = criteria.Text
	}
	mode := req.Mode
	if mode == "" {
		mode = database.RefreshAuto
	}

	watch := database.Watch{
		Name:            name,
		TenantID:        tenantID(r),
		QueryText:       criteria.Text,
		PriceMin:        criteria.PriceMin,
		PriceMax:        criteria.PriceMax,
		IsActive:        true,
		RefreshMode:     mode,
		RefreshInterval: req.Interval,
		DeepSearch:      req.DeepSearch,
	}
	if req.Webhook != "" {
		watch.WebhookURL = &req.Webhook
	}
	if req.AIContext != "" {
		watch.AIContext = &req.AIContext
	}
	if criteria.Location != "" {
		watch.City = &criteria.Location
		if s.geocoder != nil {
			if place, err := s.geocoder.Resolve(r.Context(), criteria.Location); err == nil {
				watch.Lat = &place.Lat
				watch.Lng = &place.Lng
				watch.ZipCode = &place.ZipCode
			} else {
				log.Printf("Could not geocode %q: %v", criteria.Location, err)
			}
		}
	}

	if err := s.db.SaveWatch(watch); err != nil {
		writeError(w, http.StatusInternalServerError, "could not save watch")
		return
	}
	// A new auto watch is picked up on the next tick, not refreshed here.
	writeJSON(w, http.StatusCreated, map[string]any{"watch": watch})
}

// handleWatchAction routes /api/watches/{name}/delete and
// /api/watches/{name}/settings.
func (s *Server) handleWatchAction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/watches/")
	parts := strings.SplitN(path, "/", 2)
	if len(parts) != 2 || parts[0] == "" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	tenant := tenantID(r)
	name := parts[0]
	switch parts[1] {
	case "delete":
		if err := s.db.DeleteWatch(tenant, name); err != nil {
			writeError(w, http.StatusInternalServerError, "could not delete watch")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	case "settings":
		var settings map[string]any
		if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if err := s.db.UpdateWatchSettings(tenant, name, settings); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

type analyzeRequest struct {
	Watch string   `json:"watch"`
	IDs   []string `json:"ids"`
	Force bool     `json:"force"`
}

// handleAnalyze starts a background analysis run over the pending ads,
// an explicit id list, or one watch's ads.
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.analyzer == nil {
		writeError(w, http.StatusServiceUnavailable, "analysis is not configured")
		return
	}

	var req analyzeRequest
	if r.Body != nil {
		// An empty body means "analyze everything pending".
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	tenant := tenantID(r)
	var (
		ads []database.Ad
		err error
	)
	switch {
	case len(req.IDs) > 0:
		ads, err = s.db.GetAdsByIDs(tenant, req.IDs)
	case req.Watch != "":
		if req.Force {
			if err := s.db.ClearAnalyses(tenant, req.Watch, nil); err != nil {
				writeError(w, http.StatusInternalServerError, "could not reset analyses")
				return
			}
		}
		ads, err = s.db.GetAdsForWatch(tenant, req.Watch)
	default:
		ads, err = s.db.GetAdsWithoutSummary(tenant)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not load ads")
		return
	}
	if len(ads) == 0 {
		writeJSON(w, http.StatusOK, map[string]any{"started": false, "reason": "nothing to analyze"})
		return
	}

	searchContext := s.db.GetSetting(database.SettingDefaultAIContext, "")
	if req.Watch != "" {
		if watch, err := s.db.GetWatch(tenant, req.Watch); err == nil && watch != nil &&
			watch.AIContext != nil && *watch.AIContext != "" {
			searchContext = *watch.AIContext
		}
	}

	// The run outlives the request.
	runCtx, run := s.tracker.Begin(context.Background())
	go func() {
		insights := s.analyzer.Analyze(runCtx, run, ads, searchContext)
		if len(insights) == 0 {
			return
		}
		if err := s.db.UpdateSummaries(tenant, insights); err != nil {
			log.Printf("Saving insights failed: %v", err)
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]any{"started": true, "count": len(ads)})
}

func (s *Server) handleAnalyzeStatus(w http.ResponseWriter, r *http.Request) {
	run := s.tracker.Latest()
	if run == nil {
		writeJSON(w, http.StatusOK, analyze.Status{State: analyze.StateIdle})
		return
	}
	writeJSON(w, http.StatusOK, run.Snapshot())
}

func (s *Server) handleAnalyzeCancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.tracker.CancelLatest()
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.db.GetStats()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not load stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

type notifyTestRequest struct {
	Webhook string `json:"webhook"`
}

func (s *Server) handleNotifyTest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req notifyTestRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	webhook := req.Webhook
	if webhook == "" {
		if tenant, err := s.db.GetTenant(tenantID(r)); err == nil && tenant != nil && tenant.WebhookURL != nil {
			webhook = *tenant.WebhookURL
		}
	}
	if webhook == "" {
		webhook = s.cfg.DefaultWebhook()
	}
	if webhook == "" {
		writeError(w, http.StatusBadRequest, "no webhook configured")
		return
	}

	ok := s.newNotifier(webhook).SendTest(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"ok": ok})
}
