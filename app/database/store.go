package database

import (
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"slices"

	_ "modernc.org/sqlite"

	"github.com/imMORX/Gatekeeper/app/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS ban_config (
    id                INTEGER PRIMARY KEY CHECK (id = 1),
    revision          INTEGER NOT NULL DEFAULT 0,
    ban_guilds        TEXT NOT NULL DEFAULT '[]',
    ban_role_name     TEXT NOT NULL DEFAULT '',
    success_role_name TEXT NOT NULL DEFAULT '',
    log_channel_id    TEXT NOT NULL DEFAULT '',
    log_channel_id2   TEXT NOT NULL DEFAULT '',
    return_url        TEXT NOT NULL DEFAULT ''
);
`

var conn *sql.DB

// Connect opens (and creates if needed) the configuration database.
// Called once at startup; the path comes from DATABASE_PATH.
func Connect() {
	path, hasPath := os.LookupEnv("DATABASE_PATH")
	if !hasPath {
		path = "gatekeeper.db"
	}

	if err := Open(path); err != nil {
		slog.Error("Failed to open config database", slog.String("path", path), slog.Any("err", err))
		os.Exit(1)
	}

	slog.Info("Config database ready", slog.String("path", path))
}

// Open opens the database at the given path and installs the schema.
func Open(path string) error {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return err
	}
	// Single connection: writes are serialized through one writer and an
	// in-memory database stays on the connection that created it.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return err
	}
	conn = db
	return nil
}

func Close() {
	if conn != nil {
		conn.Close()
	}
}

func defaults() models.BanConfig {
	return models.BanConfig{
		BanGuilds:       []string{},
		BanRoleName:     "Banned",
		SuccessRoleName: "Verified",
	}
}

// LoadConfig returns the configuration record, or defaults if none has been
// saved yet. A malformed ban list is defaulted with a warning rather than
// failing the caller.
func LoadConfig() models.BanConfig {
	cfg, err := loadTx(conn)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			slog.Warn("Failed to load config, using defaults", slog.Any("err", err))
		}
		return defaults()
	}
	return cfg
}

type querier interface {
	QueryRow(query string, args ...any) *sql.Row
}

func loadTx(q querier) (models.BanConfig, error) {
	var cfg models.BanConfig
	var banGuilds string

	err := q.QueryRow(`SELECT revision, ban_guilds, ban_role_name, success_role_name,
		log_channel_id, log_channel_id2, return_url FROM ban_config WHERE id = 1`).Scan(
		&cfg.Revision, &banGuilds, &cfg.BanRoleName, &cfg.SuccessRoleName,
		&cfg.LogChannelID, &cfg.LogChannelID2, &cfg.ReturnURL)
	if err != nil {
		return cfg, err
	}

	if err := json.Unmarshal([]byte(banGuilds), &cfg.BanGuilds); err != nil {
		slog.Warn("Malformed ban list in config, resetting to empty", slog.Any("err", err))
		cfg.BanGuilds = []string{}
	}
	if cfg.BanGuilds == nil {
		cfg.BanGuilds = []string{}
	}
	return cfg, nil
}

// UpdateConfig applies an operator mutation as one atomic read-modify-write.
// The mutation sees the current record (or defaults on first use); the write
// bumps the revision so concurrent writers cannot silently lose updates.
// Duplicate ban-list entries are collapsed before the write.
func UpdateConfig(mutate func(*models.BanConfig)) (models.BanConfig, error) {
	tx, err := conn.Begin()
	if err != nil {
		return models.BanConfig{}, err
	}
	defer tx.Rollback()

	cfg, err := loadTx(tx)
	if errors.Is(err, sql.ErrNoRows) {
		cfg = defaults()
	} else if err != nil {
		return models.BanConfig{}, err
	}

	mutate(&cfg)
	cfg.BanGuilds = dedupe(cfg.BanGuilds)

	banGuilds, err := json.Marshal(cfg.BanGuilds)
	if err != nil {
		return models.BanConfig{}, err
	}

	cfg.Revision++
	_, err = tx.Exec(`INSERT INTO ban_config (id, revision, ban_guilds, ban_role_name, success_role_name,
			log_channel_id, log_channel_id2, return_url)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			revision = excluded.revision,
			ban_guilds = excluded.ban_guilds,
			ban_role_name = excluded.ban_role_name,
			success_role_name = excluded.success_role_name,
			log_channel_id = excluded.log_channel_id,
			log_channel_id2 = excluded.log_channel_id2,
			return_url = excluded.return_url`,
		cfg.Revision, string(banGuilds), cfg.BanRoleName, cfg.SuccessRoleName,
		cfg.LogChannelID, cfg.LogChannelID2, cfg.ReturnURL)
	if err != nil {
		return models.BanConfig{}, err
	}

	if err := tx.Commit(); err != nil {
		return models.BanConfig{}, err
	}
	return cfg, nil
}

func dedupe(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}
