package server

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/yuin/goldmark"

	"github.com/mguichard/adwatch/internal/analyze"
	"github.com/mguichard/adwatch/internal/config"
	"github.com/mguichard/adwatch/internal/database"
	"github.com/mguichard/adwatch/internal/enrich"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static/*
var staticFS embed.FS

var md = goldmark.New()

// Server is the HTTP dashboard and JSON API.
type Server struct {
	db       *database.DB
	cfg      *config.Config
	analyzer BatchAnalyzer
	tracker  *analyze.Tracker
	geocoder Geocoder
	enricher Enricher

	newNotifier func(webhookURL string) Notifier
	pages       map[string]*template.Template
	mux         *http.ServeMux
}

// New creates a Server. analyzer and geocoder may be nil; the matching
// endpoints then answer 503.
func New(db *database.DB, cfg *config.Config, analyzer BatchAnalyzer, tracker *analyze.Tracker, geocoder Geocoder, newNotifier func(string) Notifier) (*Server, error) {
	funcMap := template.FuncMap{
		"markdown": renderMarkdown,
		"deref": func(s *string) string {
			if s == nil {
				return ""
			}
			return *s
		},
		"score": func(f *float64) string {
			if f == nil {
				return "–"
			}
			return fmt.Sprintf("%.0f/10", *f)
		},
		"price": func(p float64) string {
			if p <= 0 {
				return "Prix inconnu"
			}
			return fmt.Sprintf("%.0f €", p)
		},
	}

	base, err := template.New("base.html").Funcs(funcMap).ParseFS(templateFS, "templates/base.html")
	if err != nil {
		return nil, fmt.Errorf("parsing base template: %w", err)
	}

	pageNames := []string{"index.html", "watch.html"}
	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		clone, err := base.Clone()
		if err != nil {
			return nil, fmt.Errorf("cloning base for %s: %w", name, err)
		}
		if _, err = clone.ParseFS(templateFS, "templates/"+name); err != nil {
			return nil, fmt.Errorf("parsing template %s: %w", name, err)
		}
		pages[name] = clone
	}

	s := &Server{
		db:          db,
		cfg:         cfg,
		analyzer:    analyzer,
		tracker:     tracker,
		geocoder:    geocoder,
		enricher:    enrich.NewFetcher(0),
		newNotifier: newNotifier,
		pages:       pages,
		mux:         http.NewServeMux(),
	}
	s.routes()
	return s, nil
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	staticSub, _ := fs.Sub(staticFS, "static")
	s.mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.FS(staticSub))))

	s.mux.HandleFunc("/", s.handleIndex)
	s.mux.HandleFunc("/watch/", s.handleWatchPage)

	s.mux.HandleFunc("/api/ads", s.handleAds)
	s.mux.HandleFunc("/api/ads/move", s.handleMoveAds)
	s.mux.HandleFunc("/api/ads/", s.handleAdAction)
	s.mux.HandleFunc("/api/watches", s.handleWatches)
	s.mux.HandleFunc("/api/watches/", s.handleWatchAction)
	s.mux.HandleFunc("/api/analyze", s.handleAnalyze)
	s.mux.HandleFunc("/api/analyze/status", s.handleAnalyzeStatus)
	s.mux.HandleFunc("/api/analyze/cancel", s.handleAnalyzeCancel)
	s.mux.HandleFunc("/api/stats", s.handleStats)
	s.mux.HandleFunc("/api/notify/test", s.handleNotifyTest)
}

// tenantID reads the tenant from the query string, defaulting to the
// seeded tenant.
func tenantID(r *http.Request) int64 {
	if v := r.URL.Query().Get("tenant"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil && id > 0 {
			return id
		}
	}
	return database.DefaultTenantID
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	tenant := tenantID(r)
	watchStats, err := s.db.GetWatchStats(tenant)
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	stats, err := s.db.GetStats()
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	s.render(w, "index.html", map[string]any{
		"Tenant":     tenant,
		"WatchStats": watchStats,
		"Stats":      stats,
	})
}

func (s *Server) handleWatchPage(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/watch/")
	if name == "" {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}

	tenant := tenantID(r)
	watch, err := s.db.GetWatch(tenant, name)
	if err != nil || watch == nil {
		http.NotFound(w, r)
		return
	}

	ads, err := s.db.GetAdsForWatch(tenant, name)
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	if err := s.db.UpdateWatchLastViewed(tenant, name); err != nil {
		log.Printf("Could not mark watch %q viewed: %v", name, err)
	}

	s.render(w, "watch.html", map[string]any{
		"Tenant": tenant,
		"Watch":  watch,
		"Ads":    ads,
	})
}

func (s *Server) render(w http.ResponseWriter, name string, data any) {
	tmpl, ok := s.pages[name]
	if !ok {
		log.Printf("Template %s not found", name)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := tmpl.ExecuteTemplate(w, "base.html", data); err != nil {
		log.Printf("Error rendering template %s: %v", name, err)
	}
}

func renderMarkdown(text *string) template.HTML {
	if text == nil {
		return ""
	}
	var buf bytes.Buffer
	if err := md.Convert([]byte(*text), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(*text))
	}
	return template.HTML(buf.String()) //nolint: gosec
}

// Serve starts the HTTP server on the given port.
func (s *Server) Serve(port int) error {
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	log.Printf("Server listening on http://%s", addr)
	return http.ListenAndServe(addr, s.Handler())
}
