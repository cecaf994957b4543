// Copyright (c) 2026 The Lustre HSM Action Shipper Authors.
// See LICENSE for copying information.

// Package shipper wires the Source Scanner, State Differ, Publisher, Cache
// Store and Maintenance Worker into the two cooperating loops described by
// spec §2 and §5: a high-frequency shipper poll and a low-frequency
// maintenance pass, sharing state via an in-memory Cache and a bounded
// hand-off channel.
package shipper

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lustre-hsm/action-shipper/internal/action"
	"github.com/lustre-hsm/action-shipper/internal/cachestore"
	"github.com/lustre-hsm/action-shipper/internal/differ"
	"github.com/lustre-hsm/action-shipper/internal/lifecycle"
	"github.com/lustre-hsm/action-shipper/internal/maintenance"
	"github.com/lustre-hsm/action-shipper/internal/publisher"
	"github.com/lustre-hsm/action-shipper/internal/redisstream"
	"github.com/lustre-hsm/action-shipper/internal/scanner"
)

// Config holds every tunable recognised in spec §6's configuration table
// that is not part of the Redis connection itself.
type Config struct {
	MDTWatchGlob      string
	CachePath         string
	PollInterval      time.Duration
	ReconcileInterval time.Duration
	Maintenance       maintenance.Config
}

// DefaultConfig matches spec §6's documented defaults.
func DefaultConfig() Config {
	return Config{
		MDTWatchGlob:      "/sys/kernel/debug/lustre/mdt/*-MDT????/hsm/actions",
		CachePath:         "/var/cache/hsm-action-shipper/cache.json",
		PollInterval:      20 * time.Second,
		ReconcileInterval: 6 * time.Hour,
		Maintenance:       maintenance.DefaultConfig(),
	}
}

// handoff is the deep-copied payload the shipper loop passes to the
// maintenance worker. Per §9, the live Cache is never shared by reference.
type handoff struct {
	snapshot   map[action.PrimaryKey]action.CacheEntry
	ownedMDTs  []string
	firstNewID map[string]string
}

// Service ties the pipeline together and owns the in-memory Cache.
type Service struct {
	log    *zap.Logger
	config Config
	conn   *redisstream.Connector
	scan   *scanner.Scanner
	maint  *maintenance.Worker

	now func() time.Time

	mu            sync.Mutex
	cache         map[action.PrimaryKey]action.CacheEntry
	lastReconcile time.Time

	reconcileCh chan handoff
}

// New builds a Service. The Cache is loaded from config.CachePath immediately.
func New(log *zap.Logger, config Config, conn *redisstream.Connector) *Service {
	log = log.Named("shipper")
	return &Service{
		log:         log,
		config:      config,
		conn:        conn,
		scan:        scanner.New(log, config.MDTWatchGlob),
		maint:       maintenance.New(log, conn, config.Maintenance),
		now:         time.Now,
		cache:       cachestore.Load(log, config.CachePath),
		reconcileCh: make(chan handoff, 1),
	}
}

// Group returns a lifecycle.Group with the shipper loop and maintenance
// worker registered, ready to be run under an errgroup by the Lifecycle
// Coordinator (§4.7).
func (s *Service) Group() *lifecycle.Group {
	group := lifecycle.NewGroup(s.log)
	group.Add(lifecycle.Item{
		Name: "shipper-loop",
		Run:  s.runShipperLoop,
	})
	group.Add(lifecycle.Item{
		Name: "maintenance-worker",
		Run:  s.runMaintenanceWorker,
	})
	return group
}

func (s *Service) runShipperLoop(ctx context.Context) error {
	s.mu.Lock()
	s.lastReconcile = s.now()
	s.mu.Unlock()

	for {
		if err := s.PollOnce(ctx); err != nil {
			s.log.Error("poll cycle failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return s.finalFlush()
		case <-time.After(s.config.PollInterval):
		}
	}
}

// finalFlush guarantees the one final Cache commit promised by §4.7 on
// graceful shutdown.
func (s *Service) finalFlush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := cachestore.Commit(s.config.CachePath, s.cache); err != nil {
		s.log.Error("final cache flush failed", zap.Error(err))
		return err
	}
	return nil
}

func (s *Service) runMaintenanceWorker(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case h := <-s.reconcileCh:
			s.maint.RunCycle(ctx, h.snapshot, h.ownedMDTs, h.firstNewID)
		}
	}
}

// PollOnce performs exactly one shipper poll cycle: scan, diff, publish, and
// (if the reconcile interval has elapsed) hands a Cache snapshot off to the
// maintenance worker. The `run-once` command reaches it through
// RunOnceWithMaintenance (§6).
func (s *Service) PollOnce(ctx context.Context) error {
	snapshot := s.scan.Scan()

	s.mu.Lock()
	cacheCopy := copyCache(s.cache)
	s.mu.Unlock()

	now := s.now().Unix()
	events, nextCache := differ.Diff(snapshot, cacheCopy, now)

	result, err := publisher.Publish(ctx, s.log, s.conn, s.config.Maintenance.StreamPrefix, s.config.CachePath, events, nextCache)
	if err != nil && !result.Appended {
		// RedisAppend failure (§7): the Cache is left exactly as it was, so
		// the next cycle re-derives these same events from the unchanged
		// source files and re-sends them (§4.3 at-least-once guarantee).
		return err
	}

	if result.Appended && len(events) > 0 {
		// Either a clean publish, or a CacheWrite failure after a successful
		// append (§7): either way the in-memory Cache adopts nextCache so
		// this process does not republish duplicates while it keeps
		// running. A CacheWrite failure still leaves the on-disk file
		// stale, so a restart before the next successful commit will
		// re-derive and re-send safely.
		s.mu.Lock()
		s.cache = nextCache
		s.mu.Unlock()
	}

	s.maybeTriggerMaintenance(ctx, snapshot, result)
	return err
}

// ownedMDTs is every MDT with a live action log this cycle, unioned with
// every MDT that already has a stream in Redis. The union matters because a
// decommissioned MDT's action log can disappear from the glob while its
// stream still holds live action_keys and unbounded history; maintenance
// must keep healing and trimming it until it drains to empty.
func (s *Service) ownedMDTs(ctx context.Context, snapshot map[string][]*action.Record) []string {
	seen := make(map[string]bool, len(snapshot))
	owned := make([]string, 0, len(snapshot))
	for mdt := range snapshot {
		seen[mdt] = true
		owned = append(owned, mdt)
	}

	prefix := s.config.Maintenance.StreamPrefix + ":"
	keys, err := s.conn.ScanKeys(ctx, prefix+"*")
	if err != nil {
		s.log.Warn("failed to scan for existing stream keys, maintenance limited to actively-scanned MDTs", zap.Error(err))
		return owned
	}
	for _, key := range keys {
		mdt := strings.TrimPrefix(key, prefix)
		if !seen[mdt] {
			seen[mdt] = true
			owned = append(owned, mdt)
		}
	}
	return owned
}

func (s *Service) maybeTriggerMaintenance(ctx context.Context, snapshot map[string][]*action.Record, result publisher.Result) {
	s.mu.Lock()
	due := s.now().Sub(s.lastReconcile) >= s.config.ReconcileInterval
	if due {
		s.lastReconcile = s.now()
	}
	cacheCopy := copyCache(s.cache)
	s.mu.Unlock()

	if !due {
		return
	}

	owned := s.ownedMDTs(ctx, snapshot)

	h := handoff{snapshot: cacheCopy, ownedMDTs: owned, firstNewID: result.FirstNewID}
	select {
	case s.reconcileCh <- h:
	default:
		// A previous hand-off is still pending; drop it in favor of the
		// fresher snapshot rather than blocking the shipper loop.
		select {
		case <-s.reconcileCh:
		default:
		}
		s.reconcileCh <- h
	}
}

// RunOnceWithMaintenance performs exactly one poll cycle, then an immediate
// maintenance pass. The time of the last pass is not persisted across
// processes, so it is backdated by one reconcile interval here and the pass
// always runs after a successful poll. The owned-MDT set for that maintenance pass is derived from the
// same scan PollOnce performs, so every MDT observed this cycle is covered.
func (s *Service) RunOnceWithMaintenance(ctx context.Context) error {
	s.mu.Lock()
	s.lastReconcile = s.now().Add(-s.config.ReconcileInterval)
	s.mu.Unlock()

	if err := s.PollOnce(ctx); err != nil {
		return err
	}
	return s.drainPendingReconcile(ctx)
}

func (s *Service) drainPendingReconcile(ctx context.Context) error {
	select {
	case h := <-s.reconcileCh:
		s.maint.RunCycle(ctx, h.snapshot, h.ownedMDTs, h.firstNewID)
	default:
	}
	return nil
}

// Close releases the underlying Redis connection.
func (s *Service) Close() error {
	return s.conn.Close()
}

func copyCache(cache map[action.PrimaryKey]action.CacheEntry) map[action.PrimaryKey]action.CacheEntry {
	out := make(map[action.PrimaryKey]action.CacheEntry, len(cache))
	for k, v := range cache {
		out[k] = v
	}
	return out
}

// RunGroup runs group under an errgroup and then closes it; exported so the Lifecycle
// Coordinator can own process-level signal handling while delegating
// supervision mechanics here.
func RunGroup(ctx context.Context, group *lifecycle.Group) error {
	eg, gctx := errgroup.WithContext(ctx)
	group.Run(gctx, eg)
	err := eg.Wait()
	if closeErr := group.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	return err
}
