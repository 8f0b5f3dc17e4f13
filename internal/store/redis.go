package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "oidc:account:"

// RedisStore keeps one JSON value per account. SET replaces a value
// atomically, so concurrent writers for one account resolve last-write-wins.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithKeyPrefix namespaces the keys the store writes.
func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		s.prefix = prefix
	}
}

// NewRedisStore wraps an existing client. The caller owns the client lifecycle.
func NewRedisStore(client *redis.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{client: client, prefix: defaultRedisPrefix}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// DialRedis parses url, connects and pings.
func DialRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

func (s *RedisStore) key(accountID string) string {
	return s.prefix + accountID
}

func (s *RedisStore) Get(ctx context.Context, accountID string) (Record, error) {
	data, err := s.client.Get(ctx, s.key(accountID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, wrap("get", accountID, err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, wrap("get", accountID, fmt.Errorf("decode record: %w", err))
	}
	return rec, nil
}

func (s *RedisStore) Put(ctx context.Context, rec Record) error {
	id := rec.Account.ID()
	if err := validate(rec); err != nil {
		return wrap("put", id, err)
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return wrap("put", id, err)
	}
	return wrap("put", id, s.client.Set(ctx, s.key(id), data, 0).Err())
}

func (s *RedisStore) Delete(ctx context.Context, accountID string) error {
	return wrap("delete", accountID, s.client.Del(ctx, s.key(accountID)).Err())
}

func (s *RedisStore) List(ctx context.Context, accountType string) ([]Account, error) {
	pattern := s.prefix + "*"
	if accountType != "" {
		pattern = s.prefix + accountType + "/*"
	}

	var out []Account
	iter := s.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		acct, err := ParseID(iter.Val()[len(s.prefix):])
		if err != nil {
			continue
		}
		out = append(out, acct)
	}
	if err := iter.Err(); err != nil {
		return nil, wrap("list", "", err)
	}
	sortAccounts(out)
	return out, nil
}
