// Copyright (c) 2026 The Lustre HSM Action Shipper Authors.
// See LICENSE for copying information.

// Package maintenance implements the periodic, low-frequency pass that
// self-heals a stream against purges missed during shipper downtime and
// bounds stream growth by trimming past the oldest still-live action
// (§4.6). It treats the stream itself as the audit log: ground truth is the
// Cache snapshot handed off by the Publisher, not a separate shipped/acked
// ledger (§9).
package maintenance

import (
	"context"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/lustre-hsm/action-shipper/internal/action"
	"github.com/lustre-hsm/action-shipper/internal/redisstream"
	"github.com/zeebo/errs"
)

// Error is the error class for maintenance failures (§7: MaintenanceReplay /
// MaintenanceTrim).
var Error = errs.Class("maintenance")

// Config holds the tunables from spec §6's configuration table that govern
// one maintenance pass.
type Config struct {
	StreamPrefix            string
	ReplayChunkSize         int64
	TrimChunkSize           int64
	AggressiveTrimThreshold int64
}

// DefaultConfig matches spec §6's documented defaults.
func DefaultConfig() Config {
	return Config{
		StreamPrefix:            "hsm:actions",
		ReplayChunkSize:         1000,
		TrimChunkSize:           1000,
		AggressiveTrimThreshold: 5000,
	}
}

// Connector is the subset of redisstream.Connector the Maintenance Worker
// needs, narrowed for testability.
type Connector interface {
	WaitUntilHealthy(ctx context.Context) error
	RangeRead(ctx context.Context, streamKey string, pageSize int64, fn func(redisstream.StreamMessage) error) error
	PipelineAppend(ctx context.Context, streamKey string, events []action.Event) ([]string, error)
	TrimMinID(ctx context.Context, streamKey, minID string, chunkSize int64) (int64, error)
	TrimMaxLen(ctx context.Context, streamKey string) error
}

var _ Connector = (*redisstream.Connector)(nil)

// Worker runs maintenance cycles against owned streams.
type Worker struct {
	log    *zap.Logger
	conn   Connector
	config Config
}

// New builds a Maintenance Worker.
func New(log *zap.Logger, conn Connector, config Config) *Worker {
	return &Worker{log: log.Named("maintenance"), conn: conn, config: config}
}

// liveEntry tracks what the replay pass has learned about one action_key:
// the most recent non-purged stream ID (for orphan detection) and the
// earliest one observed since it was last introduced (for the trim lower
// bound) — per §9's open-question resolution, both must be retained.
type liveEntry struct {
	currentID  string
	earliestID string
	last       action.Event
}

// RunCycle performs one maintenance pass over every stream owned by this
// host. snapshot is a deep copy of the Cache as committed by the most recent
// successful publish; it is never mutated. firstNewID is the Publisher's
// fallback start-ID hint per MDT (§4.3 rule 4), used when an action_key's
// introducing append has not yet been observed by replay.
//
// Per spec §4.6, a failure in one stream's pass aborts only that stream;
// other streams still run their pass this cycle.
//
// Unlike the Publisher, which surfaces a RedisAppend failure to its caller
// for a typed, at-least-once retry, the Maintenance Worker blocks and retries
// with backoff until Redis is reachable again (§4.5) before touching any
// stream this cycle.
func (w *Worker) RunCycle(ctx context.Context, snapshot map[action.PrimaryKey]action.CacheEntry, ownedMDTs []string, firstNewID map[string]string) {
	if err := w.conn.WaitUntilHealthy(ctx); err != nil {
		w.log.Warn("abandoning maintenance cycle, redis did not become healthy", zap.Error(err))
		return
	}

	cachedActionKeysByMDT := make(map[string]map[string]bool)
	for _, entry := range snapshot {
		set, ok := cachedActionKeysByMDT[entry.Key.MDT]
		if !ok {
			set = make(map[string]bool)
			cachedActionKeysByMDT[entry.Key.MDT] = set
		}
		set[entry.ActionKey()] = true
	}

	for _, mdt := range ownedMDTs {
		streamKey := action.StreamKey(w.config.StreamPrefix, mdt)
		log := w.log.With(zap.String("mdt", mdt), zap.String("stream", streamKey))

		if err := w.runStream(ctx, log, streamKey, mdt, cachedActionKeysByMDT[mdt], firstNewID[mdt]); err != nil {
			log.Error("maintenance pass aborted for stream, will retry next cycle", zap.Error(err))
		}
	}
}

func (w *Worker) runStream(ctx context.Context, log *zap.Logger, streamKey, mdt string, cachedActionKeys map[string]bool, fallbackFirstID string) error {
	// (a) Replay.
	streamLive := make(map[string]liveEntry)
	err := w.conn.RangeRead(ctx, streamKey, w.config.ReplayChunkSize, func(msg redisstream.StreamMessage) error {
		k := msg.Event.ActionKey
		switch msg.Event.EventType {
		case action.EventNew, action.EventUpdate:
			entry := streamLive[k]
			if entry.earliestID == "" {
				entry.earliestID = msg.ID
			}
			entry.currentID = msg.ID
			entry.last = msg.Event
			streamLive[k] = entry
		case action.EventPurged:
			delete(streamLive, k)
		}
		return nil
	})
	if err != nil {
		return Error.Wrap(err)
	}

	// (b) Reconcile: heal orphans, i.e. action_keys alive in the stream but
	// absent from the Cache snapshot for this MDT.
	for k, entry := range streamLive {
		if cachedActionKeys[k] {
			continue
		}

		synthetic := action.Event{
			EventType: action.EventPurged,
			MDT:       entry.last.MDT,
			CatIdx:    entry.last.CatIdx,
			RecIdx:    entry.last.RecIdx,
			FID:       entry.last.FID,
			Action:    entry.last.Action,
			Status:    action.PurgedStatus,
			ActionKey: k,
			Timestamp: entry.last.Timestamp,
			Hash:      action.HashRaw(entry.last.Raw),
		}

		if _, err := w.conn.PipelineAppend(ctx, streamKey, []action.Event{synthetic}); err != nil {
			// A failed corrective append is a benign deferment per §4.6: the
			// orphan is simply re-detected and re-healed next cycle.
			log.Warn("failed to append corrective PURGED for orphan, deferring to next cycle",
				zap.String("action_key", k), zap.Error(err))
			continue
		}
		log.Info("healed orphaned action_key with corrective PURGED", zap.String("action_key", k))
		delete(streamLive, k)
	}

	// (c) Trim.
	if len(streamLive) == 0 {
		if err := w.conn.TrimMaxLen(ctx, streamKey); err != nil {
			return Error.Wrap(err)
		}
		return nil
	}

	oldestLiveID := ""
	if fallbackFirstID != "" {
		oldestLiveID = fallbackFirstID
	}
	for _, entry := range streamLive {
		if oldestLiveID == "" || idLess(entry.earliestID, oldestLiveID) {
			oldestLiveID = entry.earliestID
		}
	}

	for {
		removed, err := w.conn.TrimMinID(ctx, streamKey, oldestLiveID, w.config.TrimChunkSize)
		if err != nil {
			return Error.Wrap(err)
		}
		if removed < w.config.AggressiveTrimThreshold {
			return nil
		}
		log.Info("aggressive trim threshold exceeded, re-trimming immediately",
			zap.Int64("removed", removed), zap.Int64("threshold", w.config.AggressiveTrimThreshold))
	}
}

// idLess compares two Redis stream IDs of the form "<ms>-<seq>" numerically.
func idLess(a, b string) bool {
	aMs, aSeq := splitStreamID(a)
	bMs, bSeq := splitStreamID(b)
	if aMs != bMs {
		return aMs < bMs
	}
	return aSeq < bSeq
}

func splitStreamID(id string) (int64, int64) {
	parts := strings.SplitN(id, "-", 2)
	ms, _ := strconv.ParseInt(parts[0], 10, 64)
	var seq int64
	if len(parts) == 2 {
		seq, _ = strconv.ParseInt(parts[1], 10, 64)
	}
	return ms, seq
}
