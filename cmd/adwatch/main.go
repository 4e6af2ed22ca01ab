package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/mguichard/adwatch/internal/ai"
	"github.com/mguichard/adwatch/internal/analyze"
	"github.com/mguichard/adwatch/internal/config"
	"github.com/mguichard/adwatch/internal/database"
	"github.com/mguichard/adwatch/internal/geocode"
	"github.com/mguichard/adwatch/internal/nlp"
	"github.com/mguichard/adwatch/internal/notify"
	"github.com/mguichard/adwatch/internal/ratelimit"
	"github.com/mguichard/adwatch/internal/scheduler"
	"github.com/mguichard/adwatch/internal/search"
	"github.com/mguichard/adwatch/internal/server"
	"github.com/spf13/cobra"
)

var version = "dev"

var (
	verbose    bool
	configPath string
	cfg        *config.Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "adwatch",
	Short:   "Classified ads watcher",
	Long:    "AdWatch refreshes saved searches across classifieds platforms, scores finds with AI, and pushes alerts to Discord.",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if verbose {
			log.SetFlags(log.LstdFlags | log.Lshortfile)
		} else {
			log.SetFlags(log.LstdFlags)
		}

		// Skip config loading for init and version
		if cmd.Name() == "init" || cmd.Name() == "version" {
			return nil
		}

		path, err := config.ResolveConfigPath(configPath)
		if err != nil {
			return err
		}
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(tickCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(watchesCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("adwatch", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration in ~/.config/adwatch/",
	RunE: func(cmd *cobra.Command, args []string) error {
		target := filepath.Join(config.ConfigDir(), "config.yaml")
		if _, err := os.Stat(target); err == nil {
			fmt.Printf("Config already exists: %s\n", target)
			return nil
		}

		if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}

		if err := os.WriteFile(target, config.DefaultConfigYAML, 0o644); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}

		fmt.Printf("Created config: %s\n", target)
		fmt.Println("Edit it to configure platforms, then set GEMINI_API_KEY and DISCORD_WEBHOOK_URL.")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show database and system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		stats, err := db.GetStats()
		if err != nil {
			return fmt.Errorf("getting stats: %w", err)
		}

		fmt.Printf("Database: %s\n\n", db.Path())
		fmt.Println("Watches:")
		fmt.Printf("  Total: %d\n", stats.Watches)
		fmt.Printf("  Active: %d\n", stats.ActiveWatches)
		fmt.Println("\nAds:")
		fmt.Printf("  Total collected: %d\n", stats.TotalAds)
		fmt.Printf("  Awaiting analysis: %d\n", stats.PendingAI)
		fmt.Printf("  Hidden: %d\n", stats.HiddenAds)
		fmt.Printf("  Price points tracked: %d\n", stats.PricePoints)
		fmt.Println("\nTenants:")
		fmt.Printf("  Total: %d\n", stats.Tenants)

		if cfg.APIKey() == "" {
			fmt.Printf("\nAI analysis disabled: %s is not set.\n", cfg.AI.APIKeyEnv)
		}
		return nil
	},
}

// --- tick command ---

var tickForce bool

var tickCmd = &cobra.Command{
	Use:   "tick",
	Short: "Run one scheduler pass over due watches",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		ctx := context.Background()
		tracker := &analyze.Tracker{}
		analyzer, closeAI := buildAnalyzer(ctx, tracker)
		defer closeAI()

		sched := scheduler.New(db, cfg, buildProviders(), geocode.New(""), batchAnalyzer(analyzer), tracker)
		results := sched.Tick(ctx, tickForce)

		if len(results) == 0 {
			fmt.Println("No watches due. Use --force to refresh everything.")
			return nil
		}
		fmt.Printf("Refreshed %d watch(es):\n", len(results))
		for _, r := range results {
			fmt.Printf("  %s: %d found, %d new, %d price drops, %d errors\n",
				r.Watch, r.Found, r.New, r.PriceDrops, r.Errors)
		}
		return nil
	},
}

func init() {
	tickCmd.Flags().BoolVar(&tickForce, "force", false, "Refresh every active watch, due or not")
}

// --- watch command ---

var watchPort int

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run the scheduler loop with the dashboard",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		tracker := &analyze.Tracker{}
		analyzer, closeAI := buildAnalyzer(ctx, tracker)
		defer closeAI()
		geocoder := geocode.New("")

		srv, err := server.New(db, cfg, serverAnalyzer(analyzer), tracker, geocoder, newServerNotifier)
		if err != nil {
			return err
		}

		port := watchPort
		if port == 0 {
			port = cfg.Server.Port
		}
		go func() {
			if err := srv.Serve(port); err != nil {
				log.Printf("Server stopped: %v", err)
			}
		}()

		sched := scheduler.New(db, cfg, buildProviders(), geocoder, batchAnalyzer(analyzer), tracker)
		sched.Start(ctx)
		return nil
	},
}

func init() {
	watchCmd.Flags().IntVarP(&watchPort, "port", "p", 0, "Dashboard port (default from config)")
}

// --- serve command ---

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the dashboard without the scheduler",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		tracker := &analyze.Tracker{}
		analyzer, closeAI := buildAnalyzer(context.Background(), tracker)
		defer closeAI()

		srv, err := server.New(db, cfg, serverAnalyzer(analyzer), tracker, geocode.New(""), newServerNotifier)
		if err != nil {
			return err
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}
		fmt.Printf("Starting dashboard at http://localhost:%d\n", port)
		fmt.Println("Press Ctrl+C to stop")
		return srv.Serve(port)
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to run server on (default from config)")
}

// --- analyze command ---

var (
	analyzeWatch string
	analyzeForce bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Score collected ads with AI",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		ctx := context.Background()
		tracker := &analyze.Tracker{}
		analyzer, closeAI := buildAnalyzer(ctx, tracker)
		defer closeAI()
		if analyzer == nil {
			return fmt.Errorf("AI analysis unavailable: set %s", cfg.AI.APIKeyEnv)
		}

		tenant := database.DefaultTenantID
		searchContext := db.GetSetting(database.SettingDefaultAIContext, "")

		var ads []database.Ad
		if analyzeWatch != "" {
			w, err := db.GetWatch(tenant, analyzeWatch)
			if err != nil {
				return err
			}
			if w == nil {
				return fmt.Errorf("watch %q not found", analyzeWatch)
			}
			if w.AIContext != nil && *w.AIContext != "" {
				searchContext = *w.AIContext
			} else if searchContext == "" {
				searchContext = "Je cherche : " + w.QueryText
			}
			if analyzeForce {
				if err := db.ClearAnalyses(tenant, analyzeWatch, nil); err != nil {
					return fmt.Errorf("clearing analyses: %w", err)
				}
			}
			ads, err = db.GetAdsForWatch(tenant, analyzeWatch)
			if err != nil {
				return err
			}
		} else {
			ads, err = db.GetAdsWithoutSummary(tenant)
			if err != nil {
				return err
			}
		}

		if len(ads) == 0 {
			fmt.Println("Nothing to analyze.")
			return nil
		}
		fmt.Printf("Analyzing %d ad(s)...\n", len(ads))

		runCtx, run := tracker.Begin(ctx)
		insights := analyzer.Analyze(runCtx, run, ads, searchContext)
		if len(insights) > 0 {
			if err := db.UpdateSummaries(tenant, insights); err != nil {
				return fmt.Errorf("saving analyses: %w", err)
			}
		}

		fmt.Println(run.Snapshot().Message)
		for _, in := range insights {
			fmt.Printf("  [%s] %.0f/10 %s\n", in.ID, in.Score, in.Summary)
		}
		return nil
	},
}

func init() {
	analyzeCmd.Flags().StringVar(&analyzeWatch, "watch", "", "Analyze the ads of one watch")
	analyzeCmd.Flags().BoolVar(&analyzeForce, "force", false, "Re-analyze ads that already have a score")
}

// --- watches command ---

var watchesCmd = &cobra.Command{
	Use:   "watches",
	Short: "Manage saved watches",
}

var watchesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all watches",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		watches, err := db.GetAllWatches(database.DefaultTenantID)
		if err != nil {
			return err
		}
		if len(watches) == 0 {
			fmt.Println("No watches defined. Add one with: adwatch watches add \"je cherche ...\"")
			return nil
		}

		fmt.Println("Watches:")
		fmt.Println()
		for _, w := range watches {
			icon := " "
			if w.IsActive {
				icon = "*"
			}
			fmt.Printf("  %s %s: %q", icon, w.Name, w.QueryText)
			if w.City != nil && *w.City != "" {
				fmt.Printf(" @ %s", *w.City)
			}
			if w.PriceMax != nil {
				fmt.Printf(" <= %.0f EUR", *w.PriceMax)
			}
			fmt.Printf(" [%s/%dmin]\n", w.RefreshMode, w.RefreshInterval)
			if w.LastRun != nil && *w.LastRun != "" {
				fmt.Printf("      last run %s\n", *w.LastRun)
			}
		}
		return nil
	},
}

var (
	addName     string
	addMode     string
	addInterval int
	addDeep     bool
	addWebhook  string
	addContext  string
)

var watchesAddCmd = &cobra.Command{
	Use:   "add [sentence]",
	Short: "Create a watch from a natural language sentence",
	Long:  `Creates a watch from a sentence like "je cherche une clio 5 à Rennes moins de 8000 euros".`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		criteria := nlp.ParseSentence(args[0])
		if criteria.Text == "" {
			return fmt.Errorf("no search keywords found in %q", args[0])
		}

		name := strings.TrimSpace(addName)
		if name == "" {
			name = criteria.Text
		}

		watch := database.Watch{
			Name:            name,
			TenantID:        database.DefaultTenantID,
			QueryText:       criteria.Text,
			PriceMin:        criteria.PriceMin,
			PriceMax:        criteria.PriceMax,
			IsActive:        true,
			RefreshMode:     addMode,
			RefreshInterval: addInterval,
			DeepSearch:      addDeep,
		}
		if addWebhook != "" {
			watch.WebhookURL = &addWebhook
		}
		if addContext != "" {
			watch.AIContext = &addContext
		}
		if criteria.Location != "" {
			watch.City = &criteria.Location
			place, err := geocode.New("").Resolve(context.Background(), criteria.Location)
			if err != nil {
				log.Printf("Could not geocode %q: %v", criteria.Location, err)
			} else {
				watch.Lat = &place.Lat
				watch.Lng = &place.Lng
				watch.ZipCode = &place.ZipCode
			}
		}

		if err := db.SaveWatch(watch); err != nil {
			return err
		}

		fmt.Printf("Created watch %q: search %q", watch.Name, watch.QueryText)
		if watch.City != nil {
			fmt.Printf(" near %s", *watch.City)
		}
		if watch.PriceMin != nil || watch.PriceMax != nil {
			fmt.Printf(", price")
			if watch.PriceMin != nil {
				fmt.Printf(" from %.0f", *watch.PriceMin)
			}
			if watch.PriceMax != nil {
				fmt.Printf(" to %.0f", *watch.PriceMax)
			}
			fmt.Printf(" EUR")
		}
		fmt.Println()
		if watch.RefreshMode == database.RefreshAuto {
			fmt.Println("The scheduler picks it up on the next tick.")
		}
		return nil
	},
}

var watchesRemoveCmd = &cobra.Command{
	Use:   "remove [name]",
	Short: "Remove a watch with its ads and price history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		name := args[0]
		w, err := db.GetWatch(database.DefaultTenantID, name)
		if err != nil {
			return err
		}
		if w == nil {
			return fmt.Errorf("watch %q not found", name)
		}

		if err := db.DeleteWatch(database.DefaultTenantID, name); err != nil {
			return err
		}
		fmt.Printf("Removed watch %q with its ads.\n", name)
		return nil
	},
}

var watchesToggleCmd = &cobra.Command{
	Use:   "toggle [name]",
	Short: "Toggle a watch's active state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		name := args[0]
		w, err := db.GetWatch(database.DefaultTenantID, name)
		if err != nil {
			return err
		}
		if w == nil {
			return fmt.Errorf("watch %q not found", name)
		}

		err = db.UpdateWatchSettings(database.DefaultTenantID, name,
			map[string]any{"is_active": !w.IsActive})
		if err != nil {
			return err
		}
		newState := "paused"
		if !w.IsActive {
			newState = "active"
		}
		fmt.Printf("Watch %q is now %s.\n", name, newState)
		return nil
	},
}

func init() {
	watchesAddCmd.Flags().StringVar(&addName, "name", "", "Watch name (default: extracted keywords)")
	watchesAddCmd.Flags().StringVar(&addMode, "mode", database.RefreshAuto, "Refresh mode: auto or manual")
	watchesAddCmd.Flags().IntVar(&addInterval, "interval", 60, "Refresh interval in minutes")
	watchesAddCmd.Flags().BoolVar(&addDeep, "deep", false, "Deep search (paginate result pages)")
	watchesAddCmd.Flags().StringVar(&addWebhook, "webhook", "", "Discord webhook for this watch")
	watchesAddCmd.Flags().StringVar(&addContext, "context", "", "AI context describing what you are after")

	watchesCmd.AddCommand(watchesListCmd)
	watchesCmd.AddCommand(watchesAddCmd)
	watchesCmd.AddCommand(watchesRemoveCmd)
	watchesCmd.AddCommand(watchesToggleCmd)
}

// --- wiring ---

func openDB() (*database.DB, error) {
	dataDir := cfg.GetDataDir()
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	dbPath := filepath.Join(dataDir, "adwatch.db")
	return database.Open(dbPath)
}

// buildProviders instantiates the search providers the config enables.
func buildProviders() map[string]search.Provider {
	providers := map[string]search.Provider{}
	if cfg.Search.Leboncoin.Enabled {
		providers["leboncoin"] = search.NewLeboncoin(cfg.Search.Leboncoin.BaseURL)
	}
	if cfg.Search.EBay.Enabled {
		providers["ebay"] = search.NewEBay(cfg.Search.EBay.BaseURL)
	}
	if len(cfg.Search.Feeds) > 0 {
		feeds := make([]search.FeedConfig, 0, len(cfg.Search.Feeds))
		for _, f := range cfg.Search.Feeds {
			feeds = append(feeds, search.FeedConfig{URL: f.URL, Name: f.Name})
		}
		providers["feed"] = search.NewFeed(feeds)
	}
	return providers
}

// buildAnalyzer wires Gemini behind the rate limiter. Returns nil when no
// API key is configured; callers run without AI in that case. Client
// status lines (quota countdowns, failures) land on the tracker's latest
// run so the dashboard shows them while a batch is in flight.
func buildAnalyzer(ctx context.Context, tracker *analyze.Tracker) (*analyze.Analyzer, func()) {
	noop := func() {}
	apiKey := cfg.APIKey()
	if apiKey == "" {
		log.Printf("AI analysis disabled: %s is not set", cfg.AI.APIKeyEnv)
		return nil, noop
	}

	gemini, err := ai.NewGemini(ctx, apiKey)
	if err != nil {
		log.Printf("AI analysis disabled: %v", err)
		return nil, noop
	}

	client := ai.NewClient(gemini, ratelimit.New(cfg.AI.RequestsPerMinute), ai.Options{
		ModelPreference: cfg.AI.ModelPreference,
		FallbackModel:   cfg.AI.FallbackModel,
		MaxRetries:      cfg.AI.MaxRetries,
		BackoffStep:     time.Duration(cfg.AI.BackoffStepSeconds) * time.Second,
		ErrorLogPath:    filepath.Join(cfg.GetDataDir(), "errors.log"),
		Status: func(msg string) {
			log.Println(msg)
			if run := tracker.Latest(); run != nil {
				run.SetMessage(msg)
			}
		},
	})
	client.Configure(ctx)
	log.Printf("AI model: %s", client.Model())

	analyzer := analyze.New(client, analyze.Options{
		ChunkSize:  cfg.AI.ChunkSize,
		ChunkPause: time.Duration(cfg.AI.ChunkPauseSeconds) * time.Second,
	})
	return analyzer, func() { gemini.Close() }
}

// batchAnalyzer converts a possibly-nil concrete analyzer to the scheduler
// interface without producing a non-nil interface around a nil pointer.
func batchAnalyzer(a *analyze.Analyzer) scheduler.BatchAnalyzer {
	if a == nil {
		return nil
	}
	return a
}

func serverAnalyzer(a *analyze.Analyzer) server.BatchAnalyzer {
	if a == nil {
		return nil
	}
	return a
}

func newServerNotifier(webhookURL string) server.Notifier {
	return notify.NewDiscord(webhookURL)
}
