package storage

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"

	logx "modlog/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

const sqliteFileName = "modlog.db"

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := cfg.Path
	if filepath.Ext(path) == "" {
		path = filepath.Join(path, sqliteFileName)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	log.Debug("sqlite store opened", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *sqliteStore) LoadLogChannels(ctx context.Context) (map[string]string, error) {
	if s.db == nil {
		return nil, ErrClosed
	}
	rows, err := s.db.QueryContext(ctx, `SELECT guild_id, channel_id FROM log_channels`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var guild, channel string
		if err := rows.Scan(&guild, &channel); err != nil {
			return nil, err
		}
		out[guild] = channel
	}
	return out, rows.Err()
}

func (s *sqliteStore) SaveLogChannels(ctx context.Context, channels map[string]string) error {
	return s.replace(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM log_channels`); err != nil {
			return err
		}
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO log_channels(guild_id, channel_id) VALUES(?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for guild, channel := range channels {
			if _, err := stmt.ExecContext(ctx, guild, channel); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *sqliteStore) LoadNicknames(ctx context.Context) (Nicknames, error) {
	if s.db == nil {
		return nil, ErrClosed
	}
	rows, err := s.db.QueryContext(ctx, `SELECT guild_id, user_id, nick FROM nicknames ORDER BY guild_id, user_id, pos`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := Nicknames{}
	for rows.Next() {
		var guild, user, nick string
		if err := rows.Scan(&guild, &user, &nick); err != nil {
			return nil, err
		}
		users := out[guild]
		if users == nil {
			users = map[string][]string{}
			out[guild] = users
		}
		users[user] = append(users[user], nick)
	}
	return out, rows.Err()
}

func (s *sqliteStore) SaveNicknames(ctx context.Context, nicks Nicknames) error {
	return s.replace(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM nicknames`); err != nil {
			return err
		}
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO nicknames(guild_id, user_id, pos, nick) VALUES(?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for guild, users := range nicks {
			for user, hist := range users {
				for pos, nick := range hist {
					if _, err := stmt.ExecContext(ctx, guild, user, pos, nick); err != nil {
						return err
					}
				}
			}
		}
		return nil
	})
}

func (s *sqliteStore) replace(ctx context.Context, fn func(tx *sql.Tx) error) error {
	if s.db == nil {
		return ErrClosed
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
