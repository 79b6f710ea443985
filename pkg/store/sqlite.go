package store

import (
	"context"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"

	_ "github.com/mattn/go-sqlite3"
)

type SQLite struct {
	database *sql.DB
}

func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// sqlite only allows one writer at a time
	db.SetMaxOpenConns(1)
	return &SQLite{database: db}, nil
}

func (s *SQLite) Init(ctx context.Context) error {
	if _, err := s.database.ExecContext(
		ctx,
		`CREATE TABLE IF NOT EXISTS boards (
    	id text not null primary key,
        content text not null
		)`,
	); err != nil {
		return fmt.Errorf("failed to create boards table: %w", err)
	}
	return nil
}

func (s *SQLite) Create(ctx context.Context, id string, content []byte) error {
	if _, err := s.database.ExecContext(
		ctx, `INSERT INTO boards (id, content) VALUES (?, ?)`,
		id, base64.StdEncoding.EncodeToString(content),
	); err != nil {
		return fmt.Errorf("failed to insert board: %w", err)
	}
	return nil
}

func (s *SQLite) Load(ctx context.Context, id string) ([]byte, error) {
	var rawContent string
	if err := s.database.QueryRowContext(ctx, `SELECT content FROM boards WHERE id = ?`, id).Scan(&rawContent); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	raw, err := base64.StdEncoding.DecodeString(rawContent)
	if err != nil {
		return nil, fmt.Errorf("failed to decode: %w", err)
	}
	return raw, nil
}

func (s *SQLite) Save(ctx context.Context, id string, content []byte) (bool, error) {
	newContent := base64.StdEncoding.EncodeToString(content)
	res, err := s.database.ExecContext(
		ctx, `UPDATE boards SET content = ? WHERE id = ? AND content != ?`,
		newContent, id, newContent,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update board: %w", err)
	}
	r, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to count rows affected by board update: %w", err)
	}
	return r > 0, nil
}

func (s *SQLite) List(ctx context.Context) ([]string, error) {
	res, err := s.database.QueryContext(ctx, `SELECT id FROM boards ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	defer func(res *sql.Rows) {
		if err := res.Close(); err != nil {
			slog.Error("failed to close rows", "err", err)
		}
	}(res)
	ids := make([]string, 0)
	for res.Next() {
		var id string
		if err := res.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, res.Err()
}

func (s *SQLite) Close() error {
	return s.database.Close()
}
