// Copyright (c) 2026 The Lustre HSM Action Shipper Authors.
// See LICENSE for copying information.

// Package redisstream is the Shipper's single Redis connector: a reconnecting
// client exposing the append-batch, scan-keys, range-read and trim
// primitives the Publisher and Maintenance Worker need (§4.5).
package redisstream

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/lustre-hsm/action-shipper/internal/action"
	"github.com/zeebo/errs"
)

// Error is the error class for connector failures (§7: RedisConnect/RedisAppend).
var Error = errs.Class("redisstream")

const (
	initialBackoff = time.Second
	maxBackoff     = 60 * time.Second
)

// Config holds the connection parameters recognised by spec §6's
// configuration table.
type Config struct {
	Host     string
	Port     int
	DB       int
	Password string
}

// Connector owns the single logical Redis connection used by the shipper
// loop and the maintenance worker. All access goes through the mutex; a
// pipeline is built and flushed while holding it, per §9.
type Connector struct {
	log    *zap.Logger
	config Config

	mu      sync.Mutex
	client  *redis.Client
	backoff time.Duration
}

// New constructs a Connector. The first real connection attempt happens
// lazily on first use so construction itself cannot fail.
func New(log *zap.Logger, config Config) *Connector {
	c := &Connector{
		log:     log.Named("redisstream"),
		config:  config,
		backoff: initialBackoff,
	}
	c.client = c.newClient()
	return c
}

func (c *Connector) newClient() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         c.addr(),
		Password:     c.config.Password,
		DB:           c.config.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	})
}

func (c *Connector) addr() string {
	host := c.config.Host
	if host == "" {
		host = "127.0.0.1"
	}
	port := c.config.Port
	if port == 0 {
		port = 6379
	}
	return host + ":" + strconv.Itoa(port)
}

// reconnectLocked replaces the underlying client and blocks for the current
// backoff duration, doubling it up to maxBackoff. Call with the mutex held.
func (c *Connector) reconnectLocked(ctx context.Context, cause error) {
	c.log.Warn("redis operation failed, reconnecting", zap.Error(cause), zap.Duration("backoff", c.backoff))
	if err := c.client.Close(); err != nil {
		c.log.Debug("error closing stale redis client", zap.Error(err))
	}
	c.client = c.newClient()

	select {
	case <-time.After(c.backoff):
	case <-ctx.Done():
	}
	c.backoff *= 2
	if c.backoff > maxBackoff {
		c.backoff = maxBackoff
	}
}

func (c *Connector) resetBackoffLocked() {
	c.backoff = initialBackoff
}

// WaitUntilHealthy blocks the caller, retrying with backoff, until a PING
// succeeds or ctx is cancelled. Maintenance uses this; the Publisher instead
// surfaces a typed failure for a single append attempt, per §4.5.
func (c *Connector) WaitUntilHealthy(ctx context.Context) error {
	for {
		c.mu.Lock()
		err := c.client.Ping(ctx).Err()
		if err == nil {
			c.resetBackoffLocked()
			c.mu.Unlock()
			return nil
		}
		c.reconnectLocked(ctx, err)
		c.mu.Unlock()

		if ctx.Err() != nil {
			return Error.Wrap(ctx.Err())
		}
	}
}

// PipelineAppend appends every event in events to its stream key via XADD,
// inside one pipeline, returning the server-assigned stream ID for each
// append in order. On any append error the whole batch is reported as failed
// and the Cache must not advance (§4.3).
func (c *Connector) PipelineAppend(ctx context.Context, streamKey string, events []action.Event) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	pipe := c.client.Pipeline()
	cmds := make([]*redis.StringCmd, 0, len(events))
	for _, ev := range events {
		payload, err := marshalEvent(ev)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		cmds = append(cmds, pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: streamKey,
			ID:     "*",
			Values: map[string]interface{}{"data": payload},
		}))
	}

	_, err := pipe.Exec(ctx)
	if err != nil {
		c.reconnectLocked(ctx, err)
		return nil, Error.Wrap(err)
	}
	c.resetBackoffLocked()

	ids := make([]string, len(cmds))
	for i, cmd := range cmds {
		ids[i] = cmd.Val()
	}
	return ids, nil
}

// ScanKeys returns every key matching pattern, via repeated SCAN calls.
func (c *Connector) ScanKeys(ctx context.Context, pattern string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var keys []string
	var cursor uint64
	for {
		batch, next, err := c.client.Scan(ctx, cursor, pattern, 1000).Result()
		if err != nil {
			c.reconnectLocked(ctx, err)
			return nil, Error.Wrap(err)
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	c.resetBackoffLocked()
	return keys, nil
}

// StreamMessage is one entry read back from a stream by RangeRead.
type StreamMessage struct {
	ID    string
	Event action.Event
}

// RangeRead pages through streamKey from the beginning via XRANGE, invoking
// fn for every message in ID order. It stops early if fn returns an error.
func (c *Connector) RangeRead(ctx context.Context, streamKey string, pageSize int64, fn func(StreamMessage) error) error {
	start := "-"
	for {
		c.mu.Lock()
		msgs, err := c.client.XRangeN(ctx, streamKey, start, "+", pageSize).Result()
		if err != nil {
			c.reconnectLocked(ctx, err)
			c.mu.Unlock()
			return Error.Wrap(err)
		}
		c.resetBackoffLocked()
		c.mu.Unlock()

		if len(msgs) == 0 {
			return nil
		}

		for _, msg := range msgs {
			ev, err := decodeMessage(msg)
			if err != nil {
				c.log.Warn("skipping unparseable stream entry during replay",
					zap.String("stream", streamKey), zap.String("id", msg.ID), zap.Error(err))
				continue
			}
			if err := fn(StreamMessage{ID: msg.ID, Event: ev}); err != nil {
				return err
			}
		}

		if int64(len(msgs)) < pageSize {
			return nil
		}
		start = "(" + msgs[len(msgs)-1].ID
	}
}

// TrimMinID issues XTRIM MINID ~ minID LIMIT chunkSize, returning the number
// of entries the server reports removed.
func (c *Connector) TrimMinID(ctx context.Context, streamKey, minID string, chunkSize int64) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n, err := c.client.XTrimMinIDApprox(ctx, streamKey, minID, chunkSize).Result()
	if err != nil {
		c.reconnectLocked(ctx, err)
		return 0, Error.Wrap(err)
	}
	c.resetBackoffLocked()
	return n, nil
}

// TrimMaxLen issues XTRIM MAXLEN 0, discarding the entire stream history.
func (c *Connector) TrimMaxLen(ctx context.Context, streamKey string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, err := c.client.XTrimMaxLen(ctx, streamKey, 0).Result()
	if err != nil {
		c.reconnectLocked(ctx, err)
		return Error.Wrap(err)
	}
	c.resetBackoffLocked()
	return nil
}

// DeleteKey removes a stream key entirely (used by tests and by operator tooling).
func (c *Connector) DeleteKey(ctx context.Context, streamKey string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.client.Del(ctx, streamKey).Err(); err != nil {
		c.reconnectLocked(ctx, err)
		return Error.Wrap(err)
	}
	c.resetBackoffLocked()
	return nil
}

// Close releases the underlying client.
func (c *Connector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.client.Close()
}
