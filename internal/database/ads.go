package database

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// UpsertOptions control the parts of an upsert that must not happen on a
// routine refresh.
type UpsertOptions struct {
	// SetHidden, when non-nil, overwrites the hidden flag. Left nil, a
	// refresh cannot un-hide an ad the user archived.
	SetHidden *bool
	// ResetAnalysis nulls the AI fields so the ad gets re-analyzed.
	ResetAnalysis bool
}

// UpsertAd inserts or updates an ad keyed by (external_id, tenant_id).
// Re-ingesting a known identity updates the row in place, never duplicates.
// When the incoming price is strictly below the stored one (both nonzero),
// the old price is appended to the price history and priceDropped is true.
// AI fields survive updates unless opts.ResetAnalysis is set.
func (db *DB) UpsertAd(ad Ad, opts *UpsertOptions) (priceDropped, isNew bool, err error) {
	if opts == nil {
		opts = &UpsertOptions{}
	}

	tx, err := db.conn.Begin()
	if err != nil {
		return false, false, fmt.Errorf("begin upsert: %w", err)
	}
	defer tx.Rollback()

	var oldPrice float64
	row := tx.QueryRow(
		"SELECT price FROM ads WHERE external_id = ? AND tenant_id = ?",
		ad.ExternalID, ad.TenantID,
	)
	scanErr := row.Scan(&oldPrice)

	switch {
	case scanErr == sql.ErrNoRows:
		_, err = tx.Exec(`
			INSERT INTO ads (external_id, tenant_id, watch_name, title, price, location,
				published_date, url, description, ai_summary, ai_score, ai_tips, image_url,
				is_owner_pro, lat, lng, category, source, is_hidden)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			ad.ExternalID, ad.TenantID, ad.WatchName, ad.Title, ad.Price, ad.Location,
			ad.PublishedDate, ad.URL, ad.Description, ad.AISummary, ad.AIScore, ad.AITips,
			ad.ImageURL, boolToInt(ad.IsOwnerPro), ad.Lat, ad.Lng, ad.Category,
			ad.Source, boolToInt(ad.IsHidden),
		)
		if err != nil {
			return false, false, fmt.Errorf("inserting ad %s: %w", ad.ExternalID, err)
		}
		isNew = true

	case scanErr != nil:
		return false, false, fmt.Errorf("looking up ad %s: %w", ad.ExternalID, scanErr)

	default:
		// Price 0 means "unknown" and never triggers a drop event.
		if ad.Price > 0 && oldPrice > 0 && ad.Price < oldPrice {
			_, err = tx.Exec(
				"INSERT INTO price_history (ad_id, tenant_id, price, recorded_at) VALUES (?, ?, ?, ?)",
				ad.ExternalID, ad.TenantID, oldPrice, time.Now().Format(time.RFC3339),
			)
			if err != nil {
				return false, false, fmt.Errorf("recording price history: %w", err)
			}
			priceDropped = true
		}

		fields := []string{
			"watch_name = ?", "title = ?", "price = ?", "location = ?",
			"published_date = ?", "url = ?", "description = ?", "image_url = ?",
			"is_owner_pro = ?", "lat = ?", "lng = ?", "category = ?", "source = ?",
		}
		args := []any{
			ad.WatchName, ad.Title, ad.Price, ad.Location,
			ad.PublishedDate, ad.URL, ad.Description, ad.ImageURL,
			boolToInt(ad.IsOwnerPro), ad.Lat, ad.Lng, ad.Category, ad.Source,
		}
		if opts.SetHidden != nil {
			fields = append(fields, "is_hidden = ?")
			args = append(args, boolToInt(*opts.SetHidden))
		}
		if opts.ResetAnalysis {
			fields = append(fields, "ai_summary = NULL", "ai_score = NULL", "ai_tips = NULL")
		}
		args = append(args, ad.ExternalID, ad.TenantID)

		query := fmt.Sprintf("UPDATE ads SET %s WHERE external_id = ? AND tenant_id = ?",
			strings.Join(fields, ", "))
		if _, err = tx.Exec(query, args...); err != nil {
			return false, false, fmt.Errorf("updating ad %s: %w", ad.ExternalID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, false, fmt.Errorf("commit upsert: %w", err)
	}
	return priceDropped, isNew, nil
}

const adColumns = `external_id, tenant_id, watch_name, title, price, location,
	published_date, url, description, ai_summary, ai_score, ai_tips, image_url,
	is_owner_pro, lat, lng, category, source, is_hidden, collected_at`

// GetAdsWithoutSummary returns ads lacking an AI summary, scoped to active
// watches or manually-added ads. Manual ads come first, then newest.
func (db *DB) GetAdsWithoutSummary(tenantID int64) ([]Ad, error) {
	rows, err := db.conn.Query(`
		SELECT `+prefixColumns("ads")+`
		FROM ads
		LEFT JOIN watches ON ads.watch_name = watches.name AND ads.tenant_id = watches.tenant_id
		WHERE ads.tenant_id = ?
		  AND (ads.ai_summary IS NULL OR ads.ai_summary = '')
		  AND (watches.is_active = 1 OR ads.source = ?)
		ORDER BY CASE WHEN ads.source = ? THEN 0 ELSE 1 END, ads.published_date DESC`,
		tenantID, SourceManual, SourceManual,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAds(rows)
}

// GetAdsByIDs retrieves specific ads of one tenant by their external ids.
func (db *DB) GetAdsByIDs(tenantID int64, ids []string) ([]Ad, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ")
	args := make([]any, 0, len(ids)+1)
	args = append(args, tenantID)
	for _, id := range ids {
		args = append(args, id)
	}

	rows, err := db.conn.Query(
		"SELECT "+adColumns+" FROM ads WHERE tenant_id = ? AND external_id IN ("+placeholders+")",
		args...,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAds(rows)
}

// GetVisibleAds returns all non-hidden ads of a tenant, newest first.
func (db *DB) GetVisibleAds(tenantID int64) ([]Ad, error) {
	rows, err := db.conn.Query(
		"SELECT "+adColumns+" FROM ads WHERE tenant_id = ? AND is_hidden = 0 ORDER BY published_date DESC",
		tenantID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAds(rows)
}

// GetAdsForWatch returns all ads belonging to one watch, hidden included.
func (db *DB) GetAdsForWatch(tenantID int64, watchName string) ([]Ad, error) {
	rows, err := db.conn.Query(
		"SELECT "+adColumns+" FROM ads WHERE tenant_id = ? AND watch_name = ? ORDER BY published_date DESC",
		tenantID, watchName,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAds(rows)
}

// GetAd returns one ad by identity, or nil when absent.
func (db *DB) GetAd(tenantID int64, externalID string) (*Ad, error) {
	row := db.conn.QueryRow(
		"SELECT "+adColumns+" FROM ads WHERE external_id = ? AND tenant_id = ?",
		externalID, tenantID,
	)
	ad, err := scanAd(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return ad, nil
}

// HideAd soft-deletes an ad.
func (db *DB) HideAd(tenantID int64, externalID string) error {
	_, err := db.conn.Exec(
		"UPDATE ads SET is_hidden = 1 WHERE external_id = ? AND tenant_id = ?",
		externalID, tenantID,
	)
	return err
}

// MoveAdsToWatch reassigns a batch of ads to another watch.
func (db *DB) MoveAdsToWatch(tenantID int64, ids []string, targetWatch string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ")
	args := make([]any, 0, len(ids)+2)
	args = append(args, targetWatch, tenantID)
	for _, id := range ids {
		args = append(args, id)
	}
	_, err := db.conn.Exec(
		"UPDATE ads SET watch_name = ? WHERE tenant_id = ? AND external_id IN ("+placeholders+")",
		args...,
	)
	return err
}

// ClearAnalyses nulls the AI fields for the given ad ids, or for every ad of
// watchName when ids is empty.
func (db *DB) ClearAnalyses(tenantID int64, watchName string, ids []string) error {
	if len(ids) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ")
		args := make([]any, 0, len(ids)+1)
		args = append(args, tenantID)
		for _, id := range ids {
			args = append(args, id)
		}
		_, err := db.conn.Exec(
			"UPDATE ads SET ai_summary = NULL, ai_score = NULL, ai_tips = NULL WHERE tenant_id = ? AND external_id IN ("+placeholders+")",
			args...,
		)
		return err
	}
	if watchName == "" {
		return nil
	}
	_, err := db.conn.Exec(
		"UPDATE ads SET ai_summary = NULL, ai_score = NULL, ai_tips = NULL WHERE tenant_id = ? AND watch_name = ?",
		tenantID, watchName,
	)
	return err
}

// UpdateSummaries persists a batch of analysis results in one transaction.
func (db *DB) UpdateSummaries(tenantID int64, insights []AdInsight) error {
	if len(insights) == 0 {
		return nil
	}
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin summary update: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(
		"UPDATE ads SET ai_summary = ?, ai_score = ?, ai_tips = ? WHERE external_id = ? AND tenant_id = ?",
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, in := range insights {
		if _, err := stmt.Exec(in.Summary, in.Score, in.Tips, in.ID, tenantID); err != nil {
			return fmt.Errorf("updating summary for %s: %w", in.ID, err)
		}
	}
	return tx.Commit()
}

func scanAds(rows *sql.Rows) ([]Ad, error) {
	var ads []Ad
	for rows.Next() {
		var a Ad
		var pro, hidden int
		if err := rows.Scan(&a.ExternalID, &a.TenantID, &a.WatchName, &a.Title, &a.Price,
			&a.Location, &a.PublishedDate, &a.URL, &a.Description, &a.AISummary, &a.AIScore,
			&a.AITips, &a.ImageURL, &pro, &a.Lat, &a.Lng, &a.Category, &a.Source,
			&hidden, &a.CollectedAt); err != nil {
			return nil, err
		}
		a.IsOwnerPro = pro != 0
		a.IsHidden = hidden != 0
		ads = append(ads, a)
	}
	return ads, rows.Err()
}

func scanAd(row *sql.Row) (*Ad, error) {
	var a Ad
	var pro, hidden int
	if err := row.Scan(&a.ExternalID, &a.TenantID, &a.WatchName, &a.Title, &a.Price,
		&a.Location, &a.PublishedDate, &a.URL, &a.Description, &a.AISummary, &a.AIScore,
		&a.AITips, &a.ImageURL, &pro, &a.Lat, &a.Lng, &a.Category, &a.Source,
		&hidden, &a.CollectedAt); err != nil {
		return nil, err
	}
	a.IsOwnerPro = pro != 0
	a.IsHidden = hidden != 0
	return &a, nil
}

func prefixColumns(table string) string {
	cols := strings.Split(adColumns, ",")
	for i, c := range cols {
		cols[i] = table + "." + strings.TrimSpace(c)
	}
	return strings.Join(cols, ", ")
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
