package database

// DefaultTenantID is the tenant created by the initial migration.
const DefaultTenantID int64 = 1

// Refresh modes for a watch.
const (
	RefreshManual = "manual"
	RefreshAuto   = "auto"
)

// SourceManual tags ads added by hand rather than found by a watch refresh.
const SourceManual = "MANUAL"

// Tenant is an account owning watches and ads.
type Tenant struct {
	ID         int64
	Name       string
	WebhookURL *string
	AIContext  *string
	CreatedAt  *string
}

// Watch is a saved, recurring search configuration owned by a tenant.
type Watch struct {
	Name            string
	TenantID        int64
	QueryText       string
	City            *string
	RadiusKm        int
	Lat             *float64
	Lng             *float64
	ZipCode         *string
	Locations       *string // JSON-encoded region/department selectors
	PriceMin        *float64
	PriceMax        *float64
	Category        *string
	LastRun         *string
	IsActive        bool
	AIContext       *string
	RefreshMode     string
	RefreshInterval int // minutes
	Platforms       *string // JSON-encoded platform flags
	LastViewed      *string
	WebhookURL      *string
	DeepSearch      bool
}

// Ad is a classified ad, keyed by (external_id, tenant_id). The same
// external id can exist once per tenant.
type Ad struct {
	ExternalID    string
	TenantID      int64
	WatchName     string
	Title         string
	Price         float64
	Location      *string
	PublishedDate *string
	URL           *string
	Description   *string
	AISummary     *string
	AIScore       *float64
	AITips        *string
	ImageURL      *string
	IsOwnerPro    bool
	Lat           *float64
	Lng           *float64
	Category      *string
	Source        string
	IsHidden      bool
	CollectedAt   *string
}

// PricePoint is one entry in an ad's price history.
type PricePoint struct {
	AdID       string
	TenantID   int64
	Price      float64
	RecordedAt *string
}

// AdInsight is the analysis result persisted for one ad.
type AdInsight struct {
	ID      string
	Summary string
	Score   float64
	Tips    string
}

// WatchStats summarizes one watch for the dashboard.
type WatchStats struct {
	Name       string
	NewCount   int
	TotalCount int
}

// Stats contains aggregate database statistics.
type Stats struct {
	Tenants       int
	Watches       int
	ActiveWatches int
	TotalAds      int
	PendingAI     int
	HiddenAds     int
	PricePoints   int
}
