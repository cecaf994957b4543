// Copyright (c) 2026 The Lustre HSM Action Shipper Authors.
// See LICENSE for copying information.

package shipper_test

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/lustre-hsm/action-shipper/internal/action"
	"github.com/lustre-hsm/action-shipper/internal/cachestore"
	"github.com/lustre-hsm/action-shipper/internal/maintenance"
	"github.com/lustre-hsm/action-shipper/internal/redisstream"
	"github.com/lustre-hsm/action-shipper/internal/shipper"
	"github.com/lustre-hsm/action-shipper/internal/testredis"
)

func newService(t *testing.T, glob, cachePath string) *shipper.Service {
	t.Helper()
	srv, err := testredis.Start()
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })

	host, portStr, err := net.SplitHostPort(srv.Addr())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	conn := redisstream.New(zaptest.NewLogger(t), redisstream.Config{Host: host, Port: port})
	t.Cleanup(func() { _ = conn.Close() })

	config := shipper.Config{
		MDTWatchGlob:      glob,
		CachePath:         cachePath,
		PollInterval:      time.Hour,
		ReconcileInterval: time.Hour,
		Maintenance:       maintenance.DefaultConfig(),
	}
	return shipper.New(zaptest.NewLogger(t), config, conn)
}

// TestS1EndToEnd reproduces spec §8 scenario S1 through the whole pipeline:
// scanner -> differ -> publisher -> cache.
func TestS1EndToEnd(t *testing.T) {
	dir := t.TempDir()
	mdtDir := filepath.Join(dir, "testfs-MDT0000")
	require.NoError(t, os.MkdirAll(mdtDir, 0o755))
	actionsFile := filepath.Join(mdtDir, "actions")
	cachePath := filepath.Join(dir, "cache.json")

	write := func(content string) {
		require.NoError(t, os.WriteFile(actionsFile, []byte(content), 0o644))
	}

	write("idx=[1/1] action=ARCHIVE fid=[0x1] status=STARTED\n")
	svc := newService(t, filepath.Join(dir, "*", "actions"), cachePath)
	ctx := context.Background()

	require.NoError(t, svc.PollOnce(ctx))
	cache := cachestore.Load(zaptest.NewLogger(t), cachePath)
	require.Len(t, cache, 1)

	write("idx=[1/1] action=ARCHIVE fid=[0x1] status=WAITING\n")
	require.NoError(t, svc.PollOnce(ctx))
	cache = cachestore.Load(zaptest.NewLogger(t), cachePath)
	key := action.PrimaryKey{MDT: "testfs-MDT0000", CatIdx: 1, RecIdx: 1}
	require.Equal(t, "WAITING", cache[key].Status)

	write("")
	require.NoError(t, svc.PollOnce(ctx))
	cache = cachestore.Load(zaptest.NewLogger(t), cachePath)
	require.Empty(t, cache, "the purged action must be dropped from the committed cache")

	// A fourth, unchanged cycle must be fully idempotent (spec §8 property 6).
	require.NoError(t, svc.PollOnce(ctx))
}

// TestMaintenanceCoversDecommissionedMDT verifies that once an MDT's action
// log file disappears entirely, its still-existing Redis stream is still
// discovered and handed to the maintenance worker on the next due cycle.
func TestMaintenanceCoversDecommissionedMDT(t *testing.T) {
	dir := t.TempDir()
	mdtDir := filepath.Join(dir, "testfs-MDT0000")
	require.NoError(t, os.MkdirAll(mdtDir, 0o755))
	actionsFile := filepath.Join(mdtDir, "actions")
	cachePath := filepath.Join(dir, "cache.json")

	require.NoError(t, os.WriteFile(actionsFile, []byte("idx=[1/1] action=ARCHIVE fid=[0x1] status=STARTED\n"), 0o644))

	srv, err := testredis.Start()
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })

	host, portStr, err := net.SplitHostPort(srv.Addr())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	conn := redisstream.New(zaptest.NewLogger(t), redisstream.Config{Host: host, Port: port})
	t.Cleanup(func() { _ = conn.Close() })

	config := shipper.Config{
		MDTWatchGlob:      filepath.Join(dir, "*", "actions"),
		CachePath:         cachePath,
		PollInterval:      time.Hour,
		ReconcileInterval: -time.Hour, // always due
		Maintenance:       maintenance.DefaultConfig(),
	}
	svc := shipper.New(zaptest.NewLogger(t), config, conn)
	ctx := context.Background()

	require.NoError(t, svc.PollOnce(ctx))

	// The MDT is decommissioned: its action log and directory disappear.
	require.NoError(t, os.RemoveAll(mdtDir))

	// This cycle publishes the PURGED and then runs the handed-off
	// maintenance pass, whose owned-MDT set still includes the stream.
	require.NoError(t, svc.RunOnceWithMaintenance(ctx))

	// The stream must still have been trimmed away once its sole action_key
	// is purged from the Cache (it no longer exists anywhere after removal).
	var remaining int
	err = conn.RangeRead(ctx, "hsm:actions:testfs-MDT0000", 1000, func(redisstream.StreamMessage) error {
		remaining++
		return nil
	})
	require.NoError(t, err)
	require.Zero(t, remaining, "decommissioned MDT's stream has no live action_key left and should have been trimmed to empty")
}
