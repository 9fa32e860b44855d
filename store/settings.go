package store

import (
	"database/sql"
	"fmt"
	"time"
)

// SettingsDB implements SettingsStore: per-user secrets and installed
// plugins, consumed by the Host-Call Surface's get_secret and call_plugin.
type SettingsDB struct {
	db *sql.DB
}

var _ SettingsStore = (*SettingsDB)(nil)

func (s *SettingsDB) GetSecret(userID int64, name string) (string, bool, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM user_settings WHERE user_id = ? AND name = ?`, userID, name).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get secret: %w", err)
	}
	return value, true, nil
}

func (s *SettingsDB) SetSecret(userID int64, name, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO user_settings (user_id, name, value) VALUES (?, ?, ?)
		 ON CONFLICT(user_id, name) DO UPDATE SET value = excluded.value`,
		userID, name, value,
	)
	if err != nil {
		return fmt.Errorf("set secret: %w", err)
	}
	return nil
}

// ListSecrets returns every name/value pair set for userID, for the
// dashboard's GET /api/settings and GET /api/connectors (§6).
func (s *SettingsDB) ListSecrets(userID int64) (map[string]string, error) {
	rows, err := s.db.Query(`SELECT name, value FROM user_settings WHERE user_id = ?`, userID)
	if err != nil {
		return nil, fmt.Errorf("list secrets: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return nil, err
		}
		out[name] = value
	}
	return out, rows.Err()
}

// DeleteSecret removes one name/value pair, for DELETE /api/connectors/{name}.
func (s *SettingsDB) DeleteSecret(userID int64, name string) error {
	_, err := s.db.Exec(`DELETE FROM user_settings WHERE user_id = ? AND name = ?`, userID, name)
	return err
}

// InstallPlugin is an upsert: installing an already-installed plugin leaves
// exactly one row (§8 idempotence law).
func (s *SettingsDB) InstallPlugin(userID int64, pluginID, config string) error {
	_, err := s.db.Exec(
		`INSERT INTO user_plugins (user_id, plugin_id, installed_at, config) VALUES (?, ?, ?, ?)
		 ON CONFLICT(user_id, plugin_id) DO UPDATE SET config = excluded.config`,
		userID, pluginID, time.Now(), config,
	)
	if err != nil {
		return fmt.Errorf("install plugin: %w", err)
	}
	return nil
}

func (s *SettingsDB) IsInstalled(userID int64, pluginID string) (bool, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM user_plugins WHERE user_id = ? AND plugin_id = ?`, userID, pluginID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check plugin installed: %w", err)
	}
	return n > 0, nil
}

func (s *SettingsDB) ListPlugins(userID int64) ([]UserPlugin, error) {
	rows, err := s.db.Query(`SELECT user_id, plugin_id, installed_at, config FROM user_plugins WHERE user_id = ?`, userID)
	if err != nil {
		return nil, fmt.Errorf("list plugins: %w", err)
	}
	defer rows.Close()

	var out []UserPlugin
	for rows.Next() {
		var p UserPlugin
		if err := rows.Scan(&p.UserID, &p.PluginID, &p.InstalledAt, &p.Config); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SettingsDB) UninstallPlugin(userID int64, pluginID string) error {
	_, err := s.db.Exec(`DELETE FROM user_plugins WHERE user_id = ? AND plugin_id = ?`, userID, pluginID)
	return err
}
