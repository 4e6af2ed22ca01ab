package database

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// SaveWatch inserts or replaces a watch keyed on (name, tenant_id).
func (db *DB) SaveWatch(w Watch) error {
	if w.RefreshMode == "" {
		w.RefreshMode = RefreshManual
	}
	if w.RefreshInterval == 0 {
		w.RefreshInterval = 60
	}
	if w.RadiusKm == 0 {
		w.RadiusKm = 10
	}

	_, err := db.conn.Exec(`
		INSERT OR REPLACE INTO watches (name, tenant_id, query_text, city, radius_km,
			lat, lng, zip_code, locations, price_min, price_max, category, last_run,
			is_active, ai_context, refresh_mode, refresh_interval, platforms,
			last_viewed, webhook_url, deep_search)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		w.Name, w.TenantID, w.QueryText, w.City, w.RadiusKm,
		w.Lat, w.Lng, w.ZipCode, w.Locations, w.PriceMin, w.PriceMax, w.Category,
		w.LastRun, boolToInt(w.IsActive), w.AIContext, w.RefreshMode, w.RefreshInterval,
		w.Platforms, w.LastViewed, w.WebhookURL, boolToInt(w.DeepSearch),
	)
	if err != nil {
		return fmt.Errorf("saving watch %q: %w", w.Name, err)
	}
	return nil
}

const watchColumns = `name, tenant_id, query_text, city, radius_km, lat, lng,
	zip_code, locations, price_min, price_max, category, last_run, is_active,
	ai_context, refresh_mode, refresh_interval, platforms, last_viewed,
	webhook_url, deep_search`

// GetWatch returns one watch, or nil when absent.
func (db *DB) GetWatch(tenantID int64, name string) (*Watch, error) {
	row := db.conn.QueryRow(
		"SELECT "+watchColumns+" FROM watches WHERE name = ? AND tenant_id = ?",
		name, tenantID,
	)
	w, err := scanWatch(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return w, nil
}

// GetActiveWatches returns active watches for one tenant, or for every
// tenant when tenantID is 0. The scheduler uses the cross-tenant form.
func (db *DB) GetActiveWatches(tenantID int64) ([]Watch, error) {
	query := "SELECT " + watchColumns + " FROM watches WHERE is_active = 1"
	var args []any
	if tenantID != 0 {
		query += " AND tenant_id = ?"
		args = append(args, tenantID)
	}
	query += " ORDER BY tenant_id, name"

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var watches []Watch
	for rows.Next() {
		w, err := scanWatchRows(rows)
		if err != nil {
			return nil, err
		}
		watches = append(watches, *w)
	}
	return watches, rows.Err()
}

// GetAllWatches returns every watch of a tenant, inactive ones included.
func (db *DB) GetAllWatches(tenantID int64) ([]Watch, error) {
	rows, err := db.conn.Query(
		"SELECT "+watchColumns+" FROM watches WHERE tenant_id = ? ORDER BY name",
		tenantID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var watches []Watch
	for rows.Next() {
		w, err := scanWatchRows(rows)
		if err != nil {
			return nil, err
		}
		watches = append(watches, *w)
	}
	return watches, rows.Err()
}

// UpdateWatchLastRun stamps last_run with the current time.
func (db *DB) UpdateWatchLastRun(tenantID int64, name string) error {
	_, err := db.conn.Exec(
		"UPDATE watches SET last_run = ? WHERE name = ? AND tenant_id = ?",
		time.Now().Format(time.RFC3339), name, tenantID,
	)
	return err
}

// UpdateWatchLastViewed stamps last_viewed with the current time.
func (db *DB) UpdateWatchLastViewed(tenantID int64, name string) error {
	_, err := db.conn.Exec(
		"UPDATE watches SET last_viewed = ? WHERE name = ? AND tenant_id = ?",
		time.Now().Format(time.RFC3339), name, tenantID,
	)
	return err
}

// watchSettingKeys are the only columns UpdateWatchSettings may touch.
var watchSettingKeys = map[string]bool{
	"ai_context":       true,
	"refresh_mode":     true,
	"refresh_interval": true,
	"platforms":        true,
	"webhook_url":      true,
	"is_active":        true,
	"deep_search":      true,
}

// UpdateWatchSettings updates allow-listed settings of a watch.
func (db *DB) UpdateWatchSettings(tenantID int64, name string, settings map[string]any) error {
	var updates []string
	var args []any
	for key, value := range settings {
		if !watchSettingKeys[key] {
			continue
		}
		updates = append(updates, key+" = ?")
		args = append(args, value)
	}
	if len(updates) == 0 {
		return nil
	}
	args = append(args, name, tenantID)

	query := fmt.Sprintf("UPDATE watches SET %s WHERE name = ? AND tenant_id = ?",
		strings.Join(updates, ", "))
	_, err := db.conn.Exec(query, args...)
	return err
}

// DeleteWatch removes a watch with its ads and their price history.
func (db *DB) DeleteWatch(tenantID int64, name string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin watch delete: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		DELETE FROM price_history WHERE tenant_id = ? AND ad_id IN
			(SELECT external_id FROM ads WHERE watch_name = ? AND tenant_id = ?)`,
		tenantID, name, tenantID); err != nil {
		return fmt.Errorf("deleting price history: %w", err)
	}
	if _, err := tx.Exec(
		"DELETE FROM ads WHERE watch_name = ? AND tenant_id = ?", name, tenantID); err != nil {
		return fmt.Errorf("deleting ads: %w", err)
	}
	if _, err := tx.Exec(
		"DELETE FROM watches WHERE name = ? AND tenant_id = ?", name, tenantID); err != nil {
		return fmt.Errorf("deleting watch: %w", err)
	}
	return tx.Commit()
}

// GetWatchStats returns per-watch ad counts for one tenant, using
// last_viewed to decide what counts as new.
func (db *DB) GetWatchStats(tenantID int64) ([]WatchStats, error) {
	rows, err := db.conn.Query(
		"SELECT name, last_viewed FROM watches WHERE tenant_id = ?", tenantID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	type nameViewed struct {
		name   string
		viewed *string
	}
	var watches []nameViewed
	for rows.Next() {
		var nv nameViewed
		if err := rows.Scan(&nv.name, &nv.viewed); err != nil {
			return nil, err
		}
		watches = append(watches, nv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var stats []WatchStats
	for _, nv := range watches {
		s := WatchStats{Name: nv.name}
		if err := db.conn.QueryRow(
			"SELECT COUNT(*) FROM ads WHERE watch_name = ? AND tenant_id = ?",
			nv.name, tenantID,
		).Scan(&s.TotalCount); err != nil {
			return nil, err
		}

		if nv.viewed != nil {
			err = db.conn.QueryRow(
				"SELECT COUNT(*) FROM ads WHERE watch_name = ? AND tenant_id = ? AND collected_at > ?",
				nv.name, tenantID, *nv.viewed,
			).Scan(&s.NewCount)
		} else {
			s.NewCount = s.TotalCount
		}
		if err != nil {
			return nil, err
		}
		stats = append(stats, s)
	}
	return stats, nil
}

// GetStats returns aggregate counters for the status command.
func (db *DB) GetStats() (*Stats, error) {
	s := &Stats{}
	counts := []struct {
		query string
		dest  *int
	}{
		{"SELECT COUNT(*) FROM tenants", &s.Tenants},
		{"SELECT COUNT(*) FROM watches", &s.Watches},
		{"SELECT COUNT(*) FROM watches WHERE is_active = 1", &s.ActiveWatches},
		{"SELECT COUNT(*) FROM ads", &s.TotalAds},
		{"SELECT COUNT(*) FROM ads WHERE ai_summary IS NULL OR ai_summary = ''", &s.PendingAI},
		{"SELECT COUNT(*) FROM ads WHERE is_hidden = 1", &s.HiddenAds},
		{"SELECT COUNT(*) FROM price_history", &s.PricePoints},
	}
	for _, c := range counts {
		if err := db.conn.QueryRow(c.query).Scan(c.dest); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func scanWatch(row *sql.Row) (*Watch, error) {
	var w Watch
	var active, deep int
	err := row.Scan(&w.Name, &w.TenantID, &w.QueryText, &w.City, &w.RadiusKm,
		&w.Lat, &w.Lng, &w.ZipCode, &w.Locations, &w.PriceMin, &w.PriceMax,
		&w.Category, &w.LastRun, &active, &w.AIContext, &w.RefreshMode,
		&w.RefreshInterval, &w.Platforms, &w.LastViewed, &w.WebhookURL, &deep)
	if err != nil {
		return nil, err
	}
	w.IsActive = active != 0
	w.DeepSearch = deep != 0
	return &w, nil
}

func scanWatchRows(rows *sql.Rows) (*Watch, error) {
	var w Watch
	var active, deep int
	err := rows.Scan(&w.Name, &w.TenantID, &w.QueryText, &w.City, &w.RadiusKm,
		&w.Lat, &w.Lng, &w.ZipCode, &w.Locations, &w.PriceMin, &w.PriceMax,
		&w.Category, &w.LastRun, &active, &w.AIContext, &w.RefreshMode,
		&w.RefreshInterval, &w.Platforms, &w.LastViewed, &w.WebhookURL, &deep)
	if err != nil {
		return nil, err
	}
	w.IsActive = active != 0
	w.DeepSearch = deep != 0
	return &w, nil
}
