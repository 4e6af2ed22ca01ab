package database

import "database/sql"

// Migration represents a single schema migration step.
type Migration struct {
	Version     int
	Description string
	Up          func(tx *sql.Tx) error
}

// migrations is the ordered list of all schema migrations.
// Append new migrations to the end with incrementing Version numbers.
var migrations = []Migration{
	{
		Version:     1,
		Description: "initial schema",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS tenants (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT UNIQUE NOT NULL,
    webhook_url TEXT,
    ai_context TEXT,
    created_at TEXT DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS watches (
    name TEXT NOT NULL,
    tenant_id INTEGER NOT NULL REFERENCES tenants(id),
    query_text TEXT NOT NULL,
    city TEXT,
    radius_km INTEGER DEFAULT 10,
    lat REAL,
    lng REAL,
    zip_code TEXT,
    locations TEXT,
    price_min REAL,
    price_max REAL,
    category TEXT,
    last_run TEXT,
    is_active INTEGER DEFAULT 1,
    ai_context TEXT,
    refresh_mode TEXT DEFAULT 'manual',
    refresh_interval INTEGER DEFAULT 60,
    platforms TEXT,
    last_viewed TEXT,
    webhook_url TEXT,
    deep_search INTEGER DEFAULT 0,
    PRIMARY KEY (name, tenant_id)
);

CREATE TABLE IF NOT EXISTS ads (
    external_id TEXT NOT NULL,
    tenant_id INTEGER NOT NULL REFERENCES tenants(id),
    watch_name TEXT NOT NULL,
    title TEXT NOT NULL,
    price REAL DEFAULT 0,
    location TEXT,
    published_date TEXT,
    url TEXT,
    description TEXT,
    ai_summary TEXT,
    ai_score REAL,
    ai_tips TEXT,
    image_url TEXT,
    is_owner_pro INTEGER DEFAULT 0,
    lat REAL,
    lng REAL,
    category TEXT,
    source TEXT DEFAULT 'leboncoin',
    is_hidden INTEGER DEFAULT 0,
    collected_at TEXT DEFAULT (datetime('now')),
    PRIMARY KEY (external_id, tenant_id)
);

CREATE TABLE IF NOT EXISTS price_history (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    ad_id TEXT NOT NULL,
    tenant_id INTEGER NOT NULL,
    price REAL NOT NULL,
    recorded_at TEXT DEFAULT (datetime('now')),
    FOREIGN KEY (ad_id, tenant_id) REFERENCES ads(external_id, tenant_id)
);

CREATE TABLE IF NOT EXISTS settings (
    key TEXT PRIMARY KEY,
    value TEXT
);

CREATE INDEX IF NOT EXISTS idx_ads_watch ON ads(watch_name, tenant_id);
CREATE INDEX IF NOT EXISTS idx_ads_hidden ON ads(tenant_id, is_hidden);
CREATE INDEX IF NOT EXISTS idx_watches_active ON watches(is_active);
CREATE INDEX IF NOT EXISTS idx_price_history_ad ON price_history(ad_id, tenant_id);

INSERT OR IGNORE INTO tenants (id, name) VALUES (1, 'default');
`)
			return err
		},
	},
}

// latestVersion returns the highest migration version number.
func latestVersion() int {
	if len(migrations) == 0 {
		return 0
	}
	return migrations[len(migrations)-1].Version
}
