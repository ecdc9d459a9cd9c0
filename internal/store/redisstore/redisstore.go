// Package redisstore stores documents as JSON strings under doc:<path> keys and
// publishes every write on a pub/sub channel.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/segyhp/vault-engine/internal/store"
)

const (
	keyPrefix      = "doc:"
	changesChannel = "doc-changes"
	maxTxRetries   = 5
)

type RedisStoreAdapter struct {
	client *redis.Client
	logger *zap.Logger
}

func NewRedisStoreAdapter(client *redis.Client, logger *zap.Logger) *RedisStoreAdapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisStoreAdapter{client: client, logger: logger}
}

func docKey(path string) string {
	return keyPrefix + store.Join(path)
}

func (a *RedisStoreAdapter) Get(ctx context.Context, path string, out any) error {
	raw, err := a.client.Get(ctx, docKey(path)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return store.ErrNotFound
		}
		return err
	}
	return json.Unmarshal(raw, out)
}

func (a *RedisStoreAdapter) Set(ctx context.Context, path string, value any) error {
	path = store.Join(path)
	if value == nil {
		if err := a.client.Del(ctx, docKey(path)).Err(); err != nil {
			return err
		}
		return a.publish(ctx, path)
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if err := a.client.Set(ctx, docKey(path), raw, 0).Err(); err != nil {
		return err
	}
	return a.publish(ctx, path)
}

// Update merges fields under WATCH so concurrent writers cannot interleave
// between the read and the write.
func (a *RedisStoreAdapter) Update(ctx context.Context, path string, fields map[string]any) error {
	path = store.Join(path)
	key := docKey(path)

	txf := func(tx *redis.Tx) error {
		existing, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return store.ErrNotFound
			}
			return err
		}
		merged, err := store.Merge(existing, fields)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, []byte(merged), 0)
			return nil
		})
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := a.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return err
		}
		return a.publish(ctx, path)
	}
	return redis.TxFailedErr
}

func (a *RedisStoreAdapter) Push(ctx context.Context, collection string, value any) (string, error) {
	key, err := store.NewKey()
	if err != nil {
		return "", err
	}
	if err := a.Set(ctx, store.Join(collection, key), value); err != nil {
		return "", err
	}
	return key, nil
}

func (a *RedisStoreAdapter) List(ctx context.Context, prefix string) ([]store.Document, error) {
	pattern := keyPrefix + "*"
	if p := store.Join(prefix); p != "" {
		pattern = keyPrefix + escapeGlob(p) + "/*"
	}

	var keys []string
	iter := a.client.Scan(ctx, 0, pattern, 200).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, nil
	}
	// SCAN may return a key more than once.
	sort.Strings(keys)
	keys = slices.Compact(keys)

	values, err := a.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	docs := make([]store.Document, 0, len(keys))
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			// deleted between SCAN and MGET
			continue
		}
		docs = append(docs, store.Document{Path: strings.TrimPrefix(keys[i], keyPrefix), Data: json.RawMessage(s)})
	}
	return docs, nil
}

func (a *RedisStoreAdapter) Subscribe(ctx context.Context, prefix string, fn func(store.Change)) (func(), error) {
	sub := a.client.Subscribe(ctx, changesChannel)
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, err
	}

	ctx, stop := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				if !store.Under(msg.Payload, prefix) {
					continue
				}
				fn(a.load(ctx, msg.Payload))
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			stop()
			sub.Close()
			wg.Wait()
		})
	}, nil
}

func (a *RedisStoreAdapter) load(ctx context.Context, path string) store.Change {
	raw, err := a.client.Get(ctx, docKey(path)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			a.logger.Warn("reload changed document", zap.String("path", path), zap.Error(err))
		}
		return store.Change{Path: path}
	}
	return store.Change{Path: path, Data: raw}
}

func (a *RedisStoreAdapter) publish(ctx context.Context, path string) error {
	return a.client.Publish(ctx, changesChannel, path).Err()
}

func escapeGlob(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)
	return r.Replace(s)
}
