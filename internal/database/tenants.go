package database

import (
	"database/sql"
	"fmt"
	"strings"
)

// CreateTenant adds a tenant and returns its id.
func (db *DB) CreateTenant(name string) (int64, error) {
	result, err := db.conn.Exec("INSERT INTO tenants (name) VALUES (?)", name)
	if err != nil {
		return 0, fmt.Errorf("creating tenant %q: %w", name, err)
	}
	return result.LastInsertId()
}

// GetTenant returns a tenant by id, or nil when absent.
func (db *DB) GetTenant(tenantID int64) (*Tenant, error) {
	row := db.conn.QueryRow(
		"SELECT id, name, webhook_url, ai_context, created_at FROM tenants WHERE id = ?",
		tenantID,
	)
	return scanTenant(row)
}

// GetTenantByName returns a tenant by name, or nil when absent.
func (db *DB) GetTenantByName(name string) (*Tenant, error) {
	row := db.conn.QueryRow(
		"SELECT id, name, webhook_url, ai_context, created_at FROM tenants WHERE name = ?",
		name,
	)
	return scanTenant(row)
}

// GetAllTenants lists every tenant.
func (db *DB) GetAllTenants() ([]Tenant, error) {
	rows, err := db.conn.Query("SELECT id, name, webhook_url, ai_context, created_at FROM tenants ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tenants []Tenant
	for rows.Next() {
		var t Tenant
		if err := rows.Scan(&t.ID, &t.Name, &t.WebhookURL, &t.AIContext, &t.CreatedAt); err != nil {
			return nil, err
		}
		tenants = append(tenants, t)
	}
	return tenants, rows.Err()
}

// tenantSettingKeys are the only columns UpdateTenantSettings may touch.
var tenantSettingKeys = map[string]bool{
	"webhook_url": true,
	"ai_context":  true,
}

// UpdateTenantSettings updates allow-listed tenant settings.
func (db *DB) UpdateTenantSettings(tenantID int64, settings map[string]any) error {
	var updates []string
	var args []any
	for key, value := range settings {
		if !tenantSettingKeys[key] {
			continue
		}
		updates = append(updates, key+" = ?")
		args = append(args, value)
	}
	if len(updates) == 0 {
		return nil
	}
	args = append(args, tenantID)
	_, err := db.conn.Exec(
		fmt.Sprintf("UPDATE tenants SET %s WHERE id = ?", strings.Join(updates, ", ")),
		args...,
	)
	return err
}

func scanTenant(row *sql.Row) (*Tenant, error) {
	var t Tenant
	err := row.Scan(&t.ID, &t.Name, &t.WebhookURL, &t.AIContext, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}
