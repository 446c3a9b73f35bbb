// Package redishost backs the session table with Redis so multiple server
// instances can share one session space: metadata lives in JSON values with
// TTL expiry, per-session messages in Redis Streams.
package redishost

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/redis/go-redis/v9"

	"github.com/oncoref/nccn-mcp-go/sessions"
)

// Config for the Redis-backed SessionHost. Defaults load via envdecode.
type Config struct {
	// RedisAddr like "localhost:6379". ENV: REDIS_ADDR
	RedisAddr string `env:"REDIS_ADDR,default=localhost:6379"`
	// KeyPrefix for all keys. ENV: SESSIONS_KEY_PREFIX
	KeyPrefix string `env:"SESSIONS_KEY_PREFIX,default=mcp:sessions:"`
}

type Host struct {
	client    *redis.Client
	keyPrefix string
}

func New(cfg Config) (*Host, error) {
	addr := cfg.RedisAddr
	if addr == "" {
		addr = "localhost:6379"
	}
	cl := redis.NewClient(&redis.Options{Addr: addr})
	if err := cl.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "mcp:sessions:"
	}
	return &Host{client: cl, keyPrefix: prefix}, nil
}

// NewFromEnv builds a Host using envdecode to populate Config.
func NewFromEnv() (*Host, error) {
	var cfg Config
	_ = envdecode.Decode(&cfg)
	return New(cfg)
}

// Close closes the Redis client.
func (h *Host) Close() error { return h.client.Close() }

func (h *Host) metaKey(sessionID string) string   { return h.keyPrefix + "meta:" + sessionID }
func (h *Host) streamKey(sessionID string) string { return h.keyPrefix + "stream:" + sessionID }

func (h *Host) expiry(meta *sessions.SessionMetadata) time.Duration {
	// Redis-level expiry is a backstop behind the manager's sweep; pad it so
	// the sweep sees the record and logs the close.
	if meta.TTL <= 0 {
		return 0
	}
	return meta.TTL + time.Minute
}

// --- Metadata lifecycle ---

func (h *Host) CreateSession(ctx context.Context, meta *sessions.SessionMetadata) error {
	b, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal session metadata: %w", err)
	}
	ok, err := h.client.SetNX(ctx, h.metaKey(meta.SessionID), b, h.expiry(meta)).Result()
	if err != nil {
		return err
	}
	if !ok {
		return sessions.ErrSessionExists
	}
	return nil
}

func (h *Host) GetSession(ctx context.Context, sessionID string) (*sessions.SessionMetadata, error) {
	b, err := h.client.Get(ctx, h.metaKey(sessionID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, sessions.ErrSessionNotFound
		}
		return nil, err
	}
	var meta sessions.SessionMetadata
	if err := json.Unmarshal(b, &meta); err != nil {
		return nil, fmt.Errorf("unmarshal session metadata: %w", err)
	}
	return &meta, nil
}

func (h *Host) MutateSession(ctx context.Context, sessionID string, fn func(*sessions.SessionMetadata) error) error {
	key := h.metaKey(sessionID)
	// Optimistic concurrency: retry on interleaved writers. Session fields
	// settle to last-write-wins, which is all the manager needs.
	for attempt := 0; attempt < 32; attempt++ {
		if attempt > 0 {
			time.Sleep(time.Duration(attempt) * time.Millisecond)
		}
		err := h.client.Watch(ctx, func(tx *redis.Tx) error {
			b, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				if err == redis.Nil {
					return sessions.ErrSessionNotFound
				}
				return err
			}
			var meta sessions.SessionMetadata
			if err := json.Unmarshal(b, &meta); err != nil {
				return fmt.Errorf("unmarshal session metadata: %w", err)
			}
			if err := fn(&meta); err != nil {
				return err
			}
			out, err := json.Marshal(&meta)
			if err != nil {
				return fmt.Errorf("marshal session metadata: %w", err)
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, out, h.expiry(&meta))
				return nil
			})
			return err
		}, key)
		if err == redis.TxFailedErr {
			continue
		}
		return err
	}
	return fmt.Errorf("mutate session %s: too many conflicts", sessionID)
}

func (h *Host) TouchSession(ctx context.Context, sessionID string) error {
	return h.MutateSession(ctx, sessionID, func(meta *sessions.SessionMetadata) error {
		meta.LastAccess = time.Now().UTC()
		return nil
	})
}

func (h *Host) DeleteSession(ctx context.Context, sessionID string) error {
	n, err := h.client.Del(context.WithoutCancel(ctx), h.metaKey(sessionID)).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return sessions.ErrSessionNotFound
	}
	return nil
}

func (h *Host) ListSessions(ctx context.Context) ([]string, error) {
	var (
		cursor uint64
		ids    []string
	)
	pattern := h.keyPrefix + "meta:*"
	for {
		keys, cur, err := h.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, err
		}
		for _, k := range keys {
			ids = append(ids, strings.TrimPrefix(k, h.keyPrefix+"meta:"))
		}
		if cur == 0 {
			return ids, nil
		}
		cursor = cur
	}
}

// --- Messaging via Redis Streams ---

func (h *Host) PublishSession(ctx context.Context, sessionID string, data []byte) (string, error) {
	// XAdd recreates the stream unconditionally; gate on the metadata record
	// so publishing to a deleted session fails instead of leaking an orphan
	// stream past CleanupSession.
	n, err := h.client.Exists(ctx, h.metaKey(sessionID)).Result()
	if err != nil {
		return "", err
	}
	if n == 0 {
		return "", sessions.ErrSessionNotFound
	}
	return h.client.XAdd(ctx, &redis.XAddArgs{
		Stream: h.streamKey(sessionID),
		Values: map[string]interface{}{"d": data},
	}).Result()
}

func (h *Host) SubscribeSession(ctx context.Context, sessionID string, lastEventID string, handler sessions.MessageHandlerFunc) error {
	key := h.streamKey(sessionID)
	start := lastEventID
	if start == "" {
		start = "$"
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		res, err := h.client.XRead(ctx, &redis.XReadArgs{
			Streams: []string{key, start},
			Count:   16,
			Block:   500 * time.Millisecond,
		}).Result()
		if err != nil {
			if err == redis.Nil {
				continue
			}
			return err
		}
		if len(res) == 0 {
			continue
		}
		for _, m := range res[0].Messages {
			start = m.ID
			var payload []byte
			switch v := m.Values["d"].(type) {
			case string:
				payload = []byte(v)
			case []byte:
				payload = v
			default:
				payload = []byte(fmt.Sprintf("%v", v))
			}
			if err := handler(ctx, m.ID, payload); err != nil {
				return err
			}
		}
	}
}

func (h *Host) CleanupSession(ctx context.Context, sessionID string) error {
	_, err := h.client.Del(context.WithoutCancel(ctx), h.streamKey(sessionID)).Result()
	return err
}

func (h *Host) Ping(ctx context.Context) error {
	return h.client.Ping(ctx).Err()
}

var _ sessions.SessionHost = (*Host)(nil)
