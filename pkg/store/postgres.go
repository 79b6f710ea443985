package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Postgres struct {
	pool *pgxpool.Pool
}

func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Init(ctx context.Context) error {
	if _, err := p.pool.Exec(
		ctx,
		`CREATE TABLE IF NOT EXISTS boards (
		id text not null primary key,
		content bytea not null
		)`,
	); err != nil {
		return fmt.Errorf("failed to create boards table: %w", err)
	}
	return nil
}

func (p *Postgres) Create(ctx context.Context, id string, content []byte) error {
	if _, err := p.pool.Exec(ctx, `INSERT INTO boards (id, content) VALUES ($1, $2)`, id, content); err != nil {
		return fmt.Errorf("failed to insert board: %w", err)
	}
	return nil
}

func (p *Postgres) Load(ctx context.Context, id string) ([]byte, error) {
	var content []byte
	if err := p.pool.QueryRow(ctx, `SELECT content FROM boards WHERE id = $1`, id).Scan(&content); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	return content, nil
}

func (p *Postgres) Save(ctx context.Context, id string, content []byte) (bool, error) {
	tag, err := p.pool.Exec(
		ctx, `UPDATE boards SET content = $1 WHERE id = $2 AND content != $1`,
		content, id,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update board: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (p *Postgres) List(ctx context.Context) ([]string, error) {
	rows, err := p.pool.Query(ctx, `SELECT id FROM boards ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to scan: %w", err)
	}
	return ids, nil
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
