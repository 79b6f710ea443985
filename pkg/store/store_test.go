package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseStore(t *testing.T, s Store) {
	ctx := context.Background()
	require.NoError(t, s.Init(ctx))
	// init is safe to repeat
	require.NoError(t, s.Init(ctx))

	id := uuid.NewString()
	_, err := s.Load(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Create(ctx, id, []byte{0x85, 0x6f, 0x4a, 0x83, 0x00}))
	raw, err := s.Load(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x85, 0x6f, 0x4a, 0x83, 0x00}, raw)

	changed, err := s.Save(ctx, id, []byte{1, 2, 3})
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = s.Save(ctx, id, []byte{1, 2, 3})
	require.NoError(t, err)
	assert.False(t, changed)

	changed, err = s.Save(ctx, uuid.NewString(), []byte{1})
	require.NoError(t, err)
	assert.False(t, changed)

	ids, err := s.List(ctx)
	require.NoError(t, err)
	assert.Contains(t, ids, id)

	assert.Error(t, s.Create(ctx, id, []byte{9}))
}

func TestSQLite(t *testing.T) {
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "boards.sqlite3"))
	require.NoError(t, err)
	defer s.Close()
	assert.IsType(t, &SQLite{}, s)
	exerciseStore(t, s)
}

func TestPostgres(t *testing.T) {
	dsn := os.Getenv("PIXELBOARD_TEST_POSTGRES")
	if dsn == "" {
		t.Skip("PIXELBOARD_TEST_POSTGRES not set")
	}
	s, err := Open(context.Background(), dsn)
	require.NoError(t, err)
	defer s.Close()
	assert.IsType(t, &Postgres{}, s)
	exerciseStore(t, s)
}
