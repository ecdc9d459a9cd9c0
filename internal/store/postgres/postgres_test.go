package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/segyhp/vault-engine/internal/store"
)

func TestLikePrefix(t *testing.T) {
	assert.Equal(t, "%", likePrefix(""))
	assert.Equal(t, "loans/%", likePrefix("loans"))
	assert.Equal(t, `pay\_roll/100\%/%`, likePrefix("pay_roll/100%"))
}

type doc struct {
	Name   string `json:"name"`
	Status string `json:"status"`
}

// openTestStore needs TEST_DATABASE_URL pointing at a disposable database.
func openTestStore(t *testing.T) (store.DocumentStore, *sqlx.DB) {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	db, err := sqlx.Connect("postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	require.NoError(t, Migrate(ctx, db))
	_, err = db.ExecContext(ctx, `DELETE FROM documents WHERE path LIKE 'pgtest/%'`)
	require.NoError(t, err)

	return New(db, dsn, nil), db
}

func TestDocumentStore_RoundTrip(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	key, err := s.Push(ctx, "pgtest/offers", doc{Name: "a", Status: "active"})
	require.NoError(t, err)
	path := store.Join("pgtest/offers", key)

	require.NoError(t, s.Update(ctx, path, map[string]any{"status": "borrowed"}))

	var got doc
	require.NoError(t, s.Get(ctx, path, &got))
	assert.Equal(t, doc{Name: "a", Status: "borrowed"}, got)

	docs, err := s.List(ctx, "pgtest")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, key, docs[0].ID())

	require.NoError(t, s.Set(ctx, path, nil))
	assert.ErrorIs(t, s.Get(ctx, path, &got), store.ErrNotFound)
	assert.ErrorIs(t, s.Update(ctx, path, map[string]any{"status": "x"}), store.ErrNotFound)
}

func TestDocumentStore_Subscribe(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	changes := make(chan store.Change, 4)
	cancel, err := s.Subscribe(ctx, "pgtest/loans", func(c store.Change) { changes <- c })
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, s.Set(ctx, "pgtest/loans/1", doc{Name: "l1"}))

	select {
	case c := <-changes:
		assert.Equal(t, "pgtest/loans/1", c.Path)
		assert.NotNil(t, c.Data)
	case <-time.After(5 * time.Second):
		t.Fatal("no change notification received")
	}
}
