// Package store persists board documents as the bytes produced by automerge Save.
package store

import (
	"context"
	"errors"
	"strings"
)

var ErrNotFound = errors.New("board not found")

type Store interface {
	// Init creates the tables if they do not exist.
	Init(ctx context.Context) error
	Create(ctx context.Context, id string, content []byte) error
	Load(ctx context.Context, id string) ([]byte, error)
	// Save overwrites the content of an existing board and reports whether anything was written.
	Save(ctx context.Context, id string, content []byte) (bool, error)
	List(ctx context.Context) ([]string, error)
	Close() error
}

// Open picks a postgres store for postgres:// urls and treats anything else as a sqlite file path.
func Open(ctx context.Context, dsn string) (Store, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		p, err := OpenPostgres(ctx, dsn)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
	s, err := OpenSQLite(dsn)
	if err != nil {
		return nil, err
	}
	return s, nil
}
