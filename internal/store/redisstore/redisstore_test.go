package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"

	"github.com/segyhp/vault-engine/internal/store"
)

type doc struct {
	Name string `json:"name"`
}

func TestNewRedisStoreAdapter(t *testing.T) {
	db, mock := redismock.NewClientMock()

	adapter := NewRedisStoreAdapter(db, nil)

	assert.NotNil(t, adapter)
	assert.Equal(t, db, adapter.client)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStoreAdapter_Set(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		db, mock := redismock.NewClientMock()
		adapter := NewRedisStoreAdapter(db, nil)
		ctx := context.Background()
		raw, _ := json.Marshal(doc{Name: "a"})

		mock.ExpectSet("doc:offers/a", raw, 0).SetVal("OK")
		mock.ExpectPublish(changesChannel, "offers/a").SetVal(1)

		err := adapter.Set(ctx, "offers/a", doc{Name: "a"})

		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Delete on nil", func(t *testing.T) {
		db, mock := redismock.NewClientMock()
		adapter := NewRedisStoreAdapter(db, nil)
		ctx := context.Background()

		mock.ExpectDel("doc:offers/a").SetVal(1)
		mock.ExpectPublish(changesChannel, "offers/a").SetVal(1)

		err := adapter.Set(ctx, "offers/a", nil)

		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Error", func(t *testing.T) {
		db, mock := redismock.NewClientMock()
		adapter := NewRedisStoreAdapter(db, nil)
		ctx := context.Background()
		raw, _ := json.Marshal(doc{Name: "a"})

		mock.ExpectSet("doc:offers/a", raw, 0).SetErr(errors.New("connection refused"))

		err := adapter.Set(ctx, "offers/a", doc{Name: "a"})

		assert.Error(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestRedisStoreAdapter_Get(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		db, mock := redismock.NewClientMock()
		adapter := NewRedisStoreAdapter(db, nil)
		ctx := context.Background()

		mock.ExpectGet("doc:offers/a").SetVal(`{"name":"a"}`)

		var got doc
		err := adapter.Get(ctx, "offers/a", &got)

		assert.NoError(t, err)
		assert.Equal(t, "a", got.Name)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Missing", func(t *testing.T) {
		db, mock := redismock.NewClientMock()
		adapter := NewRedisStoreAdapter(db, nil)
		ctx := context.Background()

		mock.ExpectGet("doc:offers/missing").SetErr(redis.Nil)

		var got doc
		err := adapter.Get(ctx, "offers/missing", &got)

		assert.ErrorIs(t, err, store.ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestEscapeGlob(t *testing.T) {
	assert.Equal(t, `a\*b\?c\[d\]`, escapeGlob("a*b?c[d]"))
	assert.Equal(t, "schedules/0xabc", escapeGlob("schedules/0xabc"))
}

func TestRedisStoreAdapter_List(t *testing.T) {
	t.Run("Duplicate scan keys", func(t *testing.T) {
		db, mock := redismock.NewClientMock()
		adapter := NewRedisStoreAdapter(db, nil)
		ctx := context.Background()

		mock.ExpectScan(0, "doc:offers/*", 200).SetVal([]string{"doc:offers/b", "doc:offers/a"}, 7)
		mock.ExpectScan(7, "doc:offers/*", 200).SetVal([]string{"doc:offers/a"}, 0)
		mock.ExpectMGet("doc:offers/a", "doc:offers/b").SetVal([]interface{}{`{"name":"a"}`, `{"name":"b"}`})

		docs, err := adapter.List(ctx, "offers")

		assert.NoError(t, err)
		if assert.Len(t, docs, 2) {
			assert.Equal(t, "offers/a", docs[0].Path)
			assert.Equal(t, "offers/b", docs[1].Path)
		}
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Empty", func(t *testing.T) {
		db, mock := redismock.NewClientMock()
		adapter := NewRedisStoreAdapter(db, nil)

		mock.ExpectScan(0, "doc:offers/*", 200).SetVal([]string{}, 0)

		docs, err := adapter.List(context.Background(), "offers")

		assert.NoError(t, err)
		assert.Empty(t, docs)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
