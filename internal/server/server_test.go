package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mguichard/adwatch/internal/analyze"
	"github.com/mguichard/adwatch/internal/config"
	"github.com/mguichard/adwatch/internal/database"
	"github.com/mguichard/adwatch/internal/enrich"
	"github.com/mguichard/adwatch/internal/geocode"
)

func ptr[T any](v T) *T { return &v }

type stubAnalyzer struct {
	insights []database.AdInsight
	got      chan []database.Ad
}

func (a *stubAnalyzer) Analyze(ctx context.Context, run *analyze.Run, ads []database.Ad, searchContext string) []database.AdInsight {
	if a.got != nil {
		a.got <- ads
	}
	return a.insights
}

type stubGeocoder struct {
	place geocode.Place
}

func (g *stubGeocoder) Resolve(ctx context.Context, city string) (geocode.Place, error) {
	return g.place, nil
}

type stubNotifier struct {
	tested *bool
}

func (n *stubNotifier) SendTest(ctx context.Context) bool {
	*n.tested = true
	return true
}

type stubEnricher struct {
	result enrich.Result
	err    error
	urls   []string
}

func (e *stubEnricher) Fetch(ctx context.Context, pageURL string) (enrich.Result, error) {
	e.urls = append(e.urls, pageURL)
	return e.result, e.err
}

func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestServer(t *testing.T, db *database.DB, analyzer BatchAnalyzer) (*Server, *bool) {
	t.Helper()
	tested := false
	srv, err := New(db, &config.Config{}, analyzer, &analyze.Tracker{},
		&stubGeocoder{place: geocode.Place{Lat: 48.11, Lng: -1.68, ZipCode: "35000"}},
		func(webhook string) Notifier { return &stubNotifier{tested: &tested} })
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}
	return srv, &tested
}

func seedWatchWithAds(t *testing.T, db *database.DB) {
	t.Helper()
	if err := db.SaveWatch(database.Watch{
		Name:        "Clio 5",
		TenantID:    database.DefaultTenantID,
		QueryText:   "clio 5",
		IsActive:    true,
		RefreshMode: database.RefreshAuto,
	}); err != nil {
		t.Fatalf("failed to save watch: %v", err)
	}
	ad := database.Ad{
		ExternalID: "a1",
		TenantID:   database.DefaultTenantID,
		WatchName:  "Clio 5",
		Title:      "Renault Clio 5 intens",
		Price:      5000,
		URL:        ptr("https://example.org/ad/a1"),
		AISummary:  ptr("**Bonne affaire**, vendeur pressé."),
		AIScore:    ptr(8.0),
		Source:     "leboncoin",
	}
	if _, _, err := db.UpsertAd(ad, &database.UpsertOptions{}); err != nil {
		t.Fatalf("failed to insert ad: %v", err)
	}
}

func do(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestIndexRoute(t *testing.T) {
	db := openTestDB(t)
	seedWatchWithAds(t, db)
	srv, _ := newTestServer(t, db, nil)

	rec := do(t, srv, "GET", "/", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "Clio 5") {
		t.Error("expected watch name on index page")
	}
	if !strings.Contains(body, "veilles actives") {
		t.Error("expected stats section on index page")
	}
}

func TestWatchPageRendersMarkdownSummary(t *testing.T) {
	db := openTestDB(t)
	seedWatchWithAds(t, db)
	srv, _ := newTestServer(t, db, nil)

	rec := do(t, srv, "GET", "/watch/Clio%205", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "Renault Clio 5 intens") {
		t.Error("expected ad title on watch page")
	}
	// The AI summary is rendered as markdown, not escaped text.
	if !strings.Contains(body, "<strong>Bonne affaire</strong>") {
		t.Error("expected markdown-rendered summary")
	}

	// Viewing marks the watch as seen.
	watch, err := db.GetWatch(database.DefaultTenantID, "Clio 5")
	if err != nil {
		t.Fatalf("GetWatch() error = %v", err)
	}
	if watch.LastViewed == nil {
		t.Error("last_viewed should be set after a page view")
	}
}

func TestWatchPageUnknownWatch(t *testing.T) {
	db := openTestDB(t)
	srv, _ := newTestServer(t, db, nil)

	if rec := do(t, srv, "GET", "/watch/nope", ""); rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestStaticRoute(t *testing.T) {
	db := openTestDB(t)
	srv, _ := newTestServer(t, db, nil)

	rec := do(t, srv, "GET", "/static/style.css", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "font-family") {
		t.Error("expected CSS content")
	}
}

func TestAdsAPI(t *testing.T) {
	db := openTestDB(t)
	seedWatchWithAds(t, db)
	srv, _ := newTestServer(t, db, nil)

	rec := do(t, srv, "GET", "/api/ads", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"ExternalID":"a1"`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestHideAdAPI(t *testing.T) {
	db := openTestDB(t)
	seedWatchWithAds(t, db)
	srv, _ := newTestServer(t, db, nil)

	if rec := do(t, srv, "POST", "/api/ads/a1/hide", ""); rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	ads, err := db.GetVisibleAds(database.DefaultTenantID)
	if err != nil {
		t.Fatalf("GetVisibleAds() error = %v", err)
	}
	if len(ads) != 0 {
		t.Errorf("visible ads = %d, want 0 after hide", len(ads))
	}
}

func TestPriceHistoryAPI(t *testing.T) {
	db := openTestDB(t)
	seedWatchWithAds(t, db)

	ad := database.Ad{
		ExternalID: "a1", TenantID: database.DefaultTenantID,
		WatchName: "Clio 5", Title: "Renault Clio 5 intens", Price: 4500,
		Source: "leboncoin",
	}
	if _, _, err := db.UpsertAd(ad, nil); err != nil {
		t.Fatalf("UpsertAd() error = %v", err)
	}

	srv, _ := newTestServer(t, db, nil)
	rec := do(t, srv, "GET", "/api/ads/a1/history", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"Price":5000`) {
		t.Errorf("body = %s, want the pre-drop price", rec.Body.String())
	}
}

func TestCreateWatchFromSentence(t *testing.T) {
	db := openTestDB(t)
	srv, _ := newTestServer(t, db, nil)

	rec := do(t, srv, "POST", "/api/watches",
		`{"sentence": "je cherche une clio 5 à Rennes entre 3000 et 8000 euros", "deep_search": true}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
	}

	watch, err := db.GetWatch(database.DefaultTenantID, "clio 5")
	if err != nil {
		t.Fatalf("GetWatch() error = %v", err)
	}
	if watch == nil {
		t.Fatal("watch was not saved")
	}
	if watch.QueryText != "clio 5" {
		t.Errorf("QueryText = %q", watch.QueryText)
	}
	if watch.City == nil || *watch.City != "Rennes" {
		t.Errorf("City = %v, want Rennes", watch.City)
	}
	if watch.Lat == nil || *watch.Lat != 48.11 {
		t.Errorf("Lat = %v, want geocoded 48.11", watch.Lat)
	}
	if watch.PriceMin == nil || *watch.PriceMin != 3000 || watch.PriceMax == nil || *watch.PriceMax != 8000 {
		t.Errorf("price bounds = %v / %v", watch.PriceMin, watch.PriceMax)
	}
	if !watch.DeepSearch || watch.RefreshMode != database.RefreshAuto {
		t.Errorf("watch = %+v", watch)
	}
	// The new watch waits for the next tick.
	if watch.LastRun != nil {
		t.Error("a freshly created watch should not have run yet")
	}
}

func TestCreateWatchRejectsEmptySentence(t *testing.T) {
	db := openTestDB(t)
	srv, _ := newTestServer(t, db, nil)

	if rec := do(t, srv, "POST", "/api/watches", `{"sentence": "  "}`); rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestDeleteWatchAPI(t *testing.T) {
	db := openTestDB(t)
	seedWatchWithAds(t, db)
	srv, _ := newTestServer(t, db, nil)

	if rec := do(t, srv, "POST", "/api/watches/Clio%205/delete", ""); rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	watch, err := db.GetWatch(database.DefaultTenantID, "Clio 5")
	if err != nil {
		t.Fatalf("GetWatch() error = %v", err)
	}
	if watch != nil {
		t.Error("watch should be gone after delete")
	}
}

func TestWatchSettingsAPI(t *testing.T) {
	db := openTestDB(t)
	seedWatchWithAds(t, db)
	srv, _ := newTestServer(t, db, nil)

	rec := do(t, srv, "POST", "/api/watches/Clio%205/settings", `{"refresh_mode": "manual", "deep_search": true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	watch, _ := db.GetWatch(database.DefaultTenantID, "Clio 5")
	if watch.RefreshMode != database.RefreshManual || !watch.DeepSearch {
		t.Errorf("watch = %+v", watch)
	}
}

func TestWatchSettingsIgnoresUnknownKey(t *testing.T) {
	db := openTestDB(t)
	seedWatchWithAds(t, db)
	srv, _ := newTestServer(t, db, nil)

	if rec := do(t, srv, "POST", "/api/watches/Clio%205/settings", `{"name": "hijack"}`); rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if watch, _ := db.GetWatch(database.DefaultTenantID, "Clio 5"); watch == nil {
		t.Error("watch name must not be rewritable through settings")
	}
}

func TestAnalyzeAPILifecycle(t *testing.T) {
	db := openTestDB(t)
	seedWatchWithAds(t, db)

	// A second, unscored ad is what the run should pick up.
	if _, _, err := db.UpsertAd(database.Ad{
		ExternalID: "a2", TenantID: database.DefaultTenantID,
		WatchName: "Clio 5", Title: "Clio 5 zen", Price: 4000, Source: "leboncoin",
	}, nil); err != nil {
		t.Fatalf("UpsertAd() error = %v", err)
	}

	analyzer := &stubAnalyzer{
		insights: []database.AdInsight{{ID: "a2", Summary: "Correcte.", Score: 6, Tips: "Vérifier."}},
		got:      make(chan []database.Ad, 1),
	}
	srv, _ := newTestServer(t, db, analyzer)

	rec := do(t, srv, "POST", "/api/analyze", "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", rec.Code, rec.Body.String())
	}

	select {
	case ads := <-analyzer.got:
		if len(ads) != 1 || ads[0].ExternalID != "a2" {
			t.Errorf("analyzed ads = %+v, want only the unscored ad", ads)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("analysis run never started")
	}

	// Wait for the persisted insight.
	deadline := time.Now().Add(2 * time.Second)
	for {
		ad, err := db.GetAd(database.DefaultTenantID, "a2")
		if err != nil {
			t.Fatalf("GetAd() error = %v", err)
		}
		if ad.AIScore != nil {
			if *ad.AIScore != 6 {
				t.Errorf("AIScore = %v, want 6", *ad.AIScore)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("insight was never persisted")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if rec := do(t, srv, "GET", "/api/analyze/status", ""); rec.Code != http.StatusOK {
		t.Errorf("status endpoint = %d, want 200", rec.Code)
	}
	if rec := do(t, srv, "POST", "/api/analyze/cancel", ""); rec.Code != http.StatusOK {
		t.Errorf("cancel endpoint = %d, want 200", rec.Code)
	}
}

func TestAnalyzeAPIWithoutAnalyzer(t *testing.T) {
	db := openTestDB(t)
	srv, _ := newTestServer(t, db, nil)

	if rec := do(t, srv, "POST", "/api/analyze", ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestAnalyzeAPINothingPending(t *testing.T) {
	db := openTestDB(t)
	seedWatchWithAds(t, db) // the only ad is already scored
	srv, _ := newTestServer(t, db, &stubAnalyzer{})

	rec := do(t, srv, "POST", "/api/analyze", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"started":false`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestAnalyzeStatusBeforeAnyRun(t *testing.T) {
	db := openTestDB(t)
	srv, _ := newTestServer(t, db, nil)

	rec := do(t, srv, "GET", "/api/analyze/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"state":"idle"`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestStatsAPI(t *testing.T) {
	db := openTestDB(t)
	seedWatchWithAds(t, db)
	srv, _ := newTestServer(t, db, nil)

	rec := do(t, srv, "GET", "/api/stats", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"TotalAds":1`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestNotifyTestAPI(t *testing.T) {
	db := openTestDB(t)
	srv, tested := newTestServer(t, db, nil)

	rec := do(t, srv, "POST", "/api/notify/test", `{"webhook": "https://discord.test/hook"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if !*tested {
		t.Error("notifier SendTest was never called")
	}
}

func TestNotifyTestAPIWithoutWebhook(t *testing.T) {
	db := openTestDB(t)
	srv, _ := newTestServer(t, db, nil)

	if rec := do(t, srv, "POST", "/api/notify/test", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestCreateManualAd(t *testing.T) {
	db := openTestDB(t)
	srv, _ := newTestServer(t, db, nil)
	enricher := &stubEnricher{result: enrich.Result{
		Title:       "Vélo de course vintage",
		Description: "Très bon état, peu servi.",
		ImageURL:    "https://example.org/img.jpg",
	}}
	srv.enricher = enricher

	rec := do(t, srv, "POST", "/api/ads", `{"url": "https://example.org/annonce/42", "price": 250}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
	}
	if len(enricher.urls) != 1 || enricher.urls[0] != "https://example.org/annonce/42" {
		t.Errorf("enricher fetched %v", enricher.urls)
	}

	ads, err := db.GetVisibleAds(database.DefaultTenantID)
	if err != nil {
		t.Fatalf("failed to load ads: %v", err)
	}
	if len(ads) != 1 {
		t.Fatalf("got %d ads, want 1", len(ads))
	}
	ad := ads[0]
	if ad.Source != database.SourceManual {
		t.Errorf("Source = %q, want %q", ad.Source, database.SourceManual)
	}
	if ad.Title != "Vélo de course vintage" {
		t.Errorf("Title = %q", ad.Title)
	}
	if ad.Price != 250 {
		t.Errorf("Price = %v, want 250", ad.Price)
	}
	if ad.Description == nil || *ad.Description != "Très bon état, peu servi." {
		t.Errorf("Description = %v", ad.Description)
	}
	if ad.ImageURL == nil || *ad.ImageURL != "https://example.org/img.jpg" {
		t.Errorf("ImageURL = %v", ad.ImageURL)
	}
}

func TestCreateManualAdTwiceDoesNotDuplicate(t *testing.T) {
	db := openTestDB(t)
	srv, _ := newTestServer(t, db, nil)
	srv.enricher = &stubEnricher{}

	body := `{"url": "https://example.org/annonce/42", "title": "Vélo"}`
	if rec := do(t, srv, "POST", "/api/ads", body); rec.Code != http.StatusCreated {
		t.Fatalf("first add: status = %d, want 201", rec.Code)
	}
	rec := do(t, srv, "POST", "/api/ads", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("second add: status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"created":false`) {
		t.Errorf("body = %s", rec.Body.String())
	}

	ads, err := db.GetVisibleAds(database.DefaultTenantID)
	if err != nil {
		t.Fatalf("failed to load ads: %v", err)
	}
	if len(ads) != 1 {
		t.Errorf("got %d ads, want 1", len(ads))
	}
}

func TestCreateManualAdSurvivesFetchFailure(t *testing.T) {
	db := openTestDB(t)
	srv, _ := newTestServer(t, db, nil)
	srv.enricher = &stubEnricher{err: errors.New("connection refused")}

	rec := do(t, srv, "POST", "/api/ads", `{"url": "https://example.org/annonce/42"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
	}

	ads, err := db.GetVisibleAds(database.DefaultTenantID)
	if err != nil {
		t.Fatalf("failed to load ads: %v", err)
	}
	if len(ads) != 1 {
		t.Fatalf("got %d ads, want 1", len(ads))
	}
	// Falls back to the URL when neither the user nor the page gave a title.
	if ads[0].Title != "https://example.org/annonce/42" {
		t.Errorf("Title = %q", ads[0].Title)
	}
}

func TestCreateManualAdRequiresURL(t *testing.T) {
	db := openTestDB(t)
	srv, _ := newTestServer(t, db, nil)

	if rec := do(t, srv, "POST", "/api/ads", `{"title": "Vélo"}`); rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestMoveAdsAPI(t *testing.T) {
	db := openTestDB(t)
	seedWatchWithAds(t, db)
	if err := db.SaveWatch(database.Watch{
		Name:      "Vélos",
		TenantID:  database.DefaultTenantID,
		QueryText: "vélo",
		IsActive:  true,
	}); err != nil {
		t.Fatalf("failed to save watch: %v", err)
	}
	srv, _ := newTestServer(t, db, nil)

	rec := do(t, srv, "POST", "/api/ads/move", `{"ids": ["a1"], "watch": "Vélos"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	moved, err := db.GetAdsForWatch(database.DefaultTenantID, "Vélos")
	if err != nil {
		t.Fatalf("failed to load ads: %v", err)
	}
	if len(moved) != 1 || moved[0].ExternalID != "a1" {
		t.Errorf("moved ads = %+v", moved)
	}
}

func TestMoveAdsToUnknownWatch(t *testing.T) {
	db := openTestDB(t)
	seedWatchWithAds(t, db)
	srv, _ := newTestServer(t, db, nil)

	rec := do(t, srv, "POST", "/api/ads/move", `{"ids": ["a1"], "watch": "nope"}`)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}
