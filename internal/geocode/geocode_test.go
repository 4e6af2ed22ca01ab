package geocode

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestResolve(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("q"); got != "Rennes" {
			t.Errorf("q = %q, want Rennes", got)
		}
		if got := r.URL.Query().Get("type"); got != "municipality" {
			t.Errorf("type = %q, want municipality", got)
		}
		fmt.Fprint(w, `{"features": [{
			"geometry": {"coordinates": [-1.6778, 48.1173]},
			"properties": {"postcode": "35000"}
		}]}`)
	}))
	defer srv.Close()

	place, err := New(srv.URL).Resolve(context.Background(), "Rennes")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	// lat/lng come back swapped from GeoJSON order.
	if place.Lat != 48.1173 || place.Lng != -1.6778 {
		t.Errorf("place = %+v", place)
	}
	if place.ZipCode != "35000" {
		t.Errorf("ZipCode = %q, want 35000", place.ZipCode)
	}
}

func TestResolveUnknownCity(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"features": []}`)
	}))
	defer srv.Close()

	if _, err := New(srv.URL).Resolve(context.Background(), "Nulle-Part"); err == nil {
		t.Fatal("Resolve() error = nil, want not-found error")
	}
}

func TestResolveServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	if _, err := New(srv.URL).Resolve(context.Background(), "Rennes"); err == nil {
		t.Fatal("Resolve() error = nil, want status error")
	}
}
