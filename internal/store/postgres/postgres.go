// Package postgres stores documents in a jsonb table and publishes changes
// through LISTEN/NOTIFY.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/segyhp/vault-engine/internal/store"
)

const notifyChannel = "document_changes"

// Schema creates the documents table.
const Schema = `
CREATE TABLE IF NOT EXISTS documents (
	path       TEXT PRIMARY KEY,
	data       JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

type row struct {
	Path string `db:"path"`
	Data []byte `db:"data"`
}

type documentStore struct {
	db     *sqlx.DB
	dsn    string
	logger *zap.Logger
}

// New returns a DocumentStore on db. dsn is used to open the LISTEN
// connection for subscriptions.
func New(db *sqlx.DB, dsn string, logger *zap.Logger) store.DocumentStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &documentStore{db: db, dsn: dsn, logger: logger}
}

// Migrate creates the schema if needed.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, Schema)
	return err
}

func (s *documentStore) Get(ctx context.Context, path string, out any) error {
	query := `SELECT path, data FROM documents WHERE path = $1`

	var r row
	if err := s.db.GetContext(ctx, &r, query, store.Join(path)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrNotFound
		}
		return err
	}
	return json.Unmarshal(r.Data, out)
}

func (s *documentStore) Set(ctx context.Context, path string, value any) error {
	path = store.Join(path)

	if value == nil {
		return s.write(ctx, path, `DELETE FROM documents WHERE path = $1`, path)
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO documents (path, data, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (path) DO UPDATE SET data = EXCLUDED.data, updated_at = NOW()
	`
	return s.write(ctx, path, query, path, raw)
}

func (s *documentStore) Update(ctx context.Context, path string, fields map[string]any) error {
	path = store.Join(path)
	patch, err := json.Marshal(fields)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		UPDATE documents
		SET data = data || $2::jsonb, updated_at = NOW()
		WHERE path = $1
	`
	res, err := tx.ExecContext(ctx, query, path, patch)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, `SELECT pg_notify($1, $2)`, notifyChannel, path); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *documentStore) Push(ctx context.Context, collection string, value any) (string, error) {
	key, err := store.NewKey()
	if err != nil {
		return "", err
	}
	if err := s.Set(ctx, store.Join(collection, key), value); err != nil {
		return "", err
	}
	return key, nil
}

func (s *documentStore) List(ctx context.Context, prefix string) ([]store.Document, error) {
	query := `
		SELECT path, data FROM documents
		WHERE path LIKE $1 ESCAPE '\'
		ORDER BY path
	`

	var rows []row
	if err := s.db.SelectContext(ctx, &rows, query, likePrefix(store.Join(prefix))); err != nil {
		return nil, err
	}
	docs := make([]store.Document, 0, len(rows))
	for _, r := range rows {
		docs = append(docs, store.Document{Path: r.Path, Data: r.Data})
	}
	return docs, nil
}

func (s *documentStore) Subscribe(ctx context.Context, prefix string, fn func(store.Change)) (func(), error) {
	listener := pq.NewListener(s.dsn, time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			s.logger.Warn("document listener event", zap.Int("event", int(ev)), zap.Error(err))
		}
	})
	if err := listener.Listen(notifyChannel); err != nil {
		listener.Close()
		return nil, err
	}

	ctx, stop := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case n := <-listener.Notify:
				if n == nil || !store.Under(n.Extra, prefix) {
					continue
				}
				fn(s.load(ctx, n.Extra))
			case <-time.After(90 * time.Second):
				_ = listener.Ping()
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			stop()
			wg.Wait()
			listener.Close()
		})
	}, nil
}

func (s *documentStore) load(ctx context.Context, path string) store.Change {
	var r row
	err := s.db.GetContext(ctx, &r, `SELECT path, data FROM documents WHERE path = $1`, path)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			s.logger.Warn("reload changed document", zap.String("path", path), zap.Error(err))
		}
		return store.Change{Path: path}
	}
	return store.Change{Path: path, Data: r.Data}
}

func (s *documentStore) write(ctx context.Context, path, query string, args ...any) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `SELECT pg_notify($1, $2)`, notifyChannel, path); err != nil {
		return err
	}
	return tx.Commit()
}

func likePrefix(prefix string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	if prefix == "" {
		return "%"
	}
	return r.Replace(prefix) + "/%"
}
