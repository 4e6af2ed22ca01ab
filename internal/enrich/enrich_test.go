package enrich

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

const adPage = `<html>
<head><title>Renault Clio 5 intens - Petites annonces</title></head>
<body>
<article>
<h1>Renault Clio 5 intens</h1>
<p>Vends Clio 5 intens de 2021, 45 000 km, entretien à jour. Très bon état
général, pneus neufs, carnet complet. Visible sur Rennes, contact par
message uniquement. Prix légèrement négociable pour une vente rapide.</p>
<p>Options : CarPlay, caméra de recul, régulateur adaptatif.</p>
</article>
</body></html>`

func TestFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("User-Agent"); !strings.Contains(got, "Mozilla") {
			t.Errorf("User-Agent = %q, want browser-like", got)
		}
		fmt.Fprint(w, adPage)
	}))
	defer srv.Close()

	result, err := NewFetcher(0).Fetch(context.Background(), srv.URL+"/ad/123")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if !strings.Contains(result.Title, "Clio 5") {
		t.Errorf("Title = %q", result.Title)
	}
	if !strings.Contains(result.Description, "pneus neufs") {
		t.Errorf("Description = %q", result.Description)
	}
}

func TestFetchHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "blocked", http.StatusForbidden)
	}))
	defer srv.Close()

	if _, err := NewFetcher(0).Fetch(context.Background(), srv.URL); err == nil {
		t.Fatal("Fetch() error = nil, want status error")
	}
}

func TestFetchUnreadablePageDegrades(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html><body></body></html>")
	}))
	defer srv.Close()

	result, err := NewFetcher(0).Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if result.Title != "" && result.Description != "" {
		t.Errorf("result = %+v, want mostly empty", result)
	}
}
