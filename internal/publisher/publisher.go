// Copyright (c) 2026 The Lustre HSM Action Shipper Authors.
// See LICENSE for copying information.

// Package publisher batches State Differ events per target stream, appends
// them via a pipelined XADD, and only then commits the new Cache to disk
// (§4.3). The Cache is the single source of truth for at-least-once
// delivery: it never advances ahead of a successful append.
package publisher

import (
	"context"
	"sort"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lustre-hsm/action-shipper/internal/action"
	"github.com/lustre-hsm/action-shipper/internal/cachestore"
	"github.com/lustre-hsm/action-shipper/internal/redisstream"
	"github.com/zeebo/errs"
)

// Error is the error class for publish failures (§7: RedisAppend).
var Error = errs.Class("publisher")

// Connector is the subset of redisstream.Connector the Publisher needs,
// narrowed for testability.
type Connector interface {
	PipelineAppend(ctx context.Context, streamKey string, events []action.Event) ([]string, error)
}

var _ Connector = (*redisstream.Connector)(nil)

// Result reports the outcome of one publish call.
type Result struct {
	// FirstNewID is, per MDT, the stream ID of the first NEW append for any
	// primary key in this batch. The Maintenance Worker falls back to this
	// when it has no replayed start ID for a key (§4.3 rule 4).
	FirstNewID map[string]string

	// Appended is true once every event in the batch has been durably
	// appended to Redis, even if the subsequent Cache commit then failed.
	// Callers use this to distinguish the two failure policies in §7: a
	// RedisAppend failure must leave the Cache completely untouched, while a
	// CacheWrite failure after a successful append should still be adopted
	// in memory (only the on-disk copy is stale until the next successful
	// commit or a restart forces re-derivation).
	Appended bool
}

// Publish partitions events by target stream (prefix:mdt), appends each
// partition in the order the Differ produced it, and — only if every append
// in the whole batch succeeds — commits nextCache to cachePath. If any
// append fails, the whole batch is reported as failed and the cache file is
// left untouched, so the next poll cycle re-derives and re-sends it.
func Publish(ctx context.Context, log *zap.Logger, conn Connector, prefix, cachePath string, events []action.Event, nextCache map[action.PrimaryKey]action.CacheEntry) (Result, error) {
	log = log.Named("publisher")
	batchID := uuid.NewString()
	log = log.With(zap.String("batch_id", batchID))

	byMDT := make(map[string][]action.Event)
	var mdtOrder []string
	for _, ev := range events {
		if _, ok := byMDT[ev.MDT]; !ok {
			mdtOrder = append(mdtOrder, ev.MDT)
		}
		byMDT[ev.MDT] = append(byMDT[ev.MDT], ev)
	}
	sort.Strings(mdtOrder)

	result := Result{FirstNewID: make(map[string]string)}

	for _, mdt := range mdtOrder {
		mdtEvents := byMDT[mdt]
		streamKey := action.StreamKey(prefix, mdt)

		ids, err := conn.PipelineAppend(ctx, streamKey, mdtEvents)
		if err != nil {
			return Result{}, Error.Wrap(err)
		}

		for i, ev := range mdtEvents {
			if ev.EventType == action.EventNew {
				if _, seen := result.FirstNewID[mdt]; !seen {
					result.FirstNewID[mdt] = ids[i]
				}
			}
		}

		log.Debug("published batch",
			zap.String("mdt", mdt), zap.String("stream", streamKey), zap.Int("count", len(mdtEvents)))
	}

	result.Appended = true

	if len(events) == 0 {
		return result, nil
	}

	if err := cachestore.Commit(cachePath, nextCache); err != nil {
		// The batch is already durably appended to Redis at this point; a
		// cache-write failure does not roll that back. Per §7 CacheWrite
		// policy, this is logged and the shipper continues — the in-memory
		// cache (owned by the caller) still reflects published state, but on
		// restart the stale on-disk cache will cause safe re-delivery.
		log.Error("failed to commit cache after successful publish", zap.Error(err))
		return result, Error.Wrap(err)
	}

	return result, nil
}
