package database

// GetPriceHistory returns the recorded price points for an ad, newest first.
func (db *DB) GetPriceHistory(tenantID int64, adID string) ([]PricePoint, error) {
	rows, err := db.conn.Query(
		"SELECT ad_id, tenant_id, price, recorded_at FROM price_history WHERE ad_id = ? AND tenant_id = ? ORDER BY recorded_at DESC",
		adID, tenantID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points []PricePoint
	for rows.Next() {
		var p PricePoint
		if err := rows.Scan(&p.AdID, &p.TenantID, &p.Price, &p.RecordedAt); err != nil {
			return nil, err
		}
		points = append(points, p)
	}
	return points, rows.Err()
}
