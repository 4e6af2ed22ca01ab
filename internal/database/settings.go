package database

// Well-known settings keys for tenant-independent defaults.
const (
	SettingDefaultRefreshMode     = "default_refresh_mode"
	SettingDefaultRefreshInterval = "default_refresh_interval"
	SettingDefaultPlatforms       = "default_platforms"
	SettingDefaultAIContext       = "default_ai_context"
)

// GetSetting returns a flat key-value setting, or fallback when unset.
func (db *DB) GetSetting(key, fallback string) string {
	var value string
	err := db.conn.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if err != nil {
		return fallback
	}
	return value
}

// SetSetting stores a flat key-value setting.
func (db *DB) SetSetting(key, value string) error {
	_, err := db.conn.Exec(
		"INSERT OR REPLACE INTO settings (key, value) VALUES (?, ?)", key, value,
	)
	return err
}
