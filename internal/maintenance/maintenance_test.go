// Copyright (c) 2026 The Lustre HSM Action Shipper Authors.
// See LICENSE for copying information.

package maintenance_test

import (
	"context"
	"net"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/lustre-hsm/action-shipper/internal/action"
	"github.com/lustre-hsm/action-shipper/internal/maintenance"
	"github.com/lustre-hsm/action-shipper/internal/redisstream"
	"github.com/lustre-hsm/action-shipper/internal/testredis"
)

func newConn(t *testing.T) (*redisstream.Connector, func()) {
	t.Helper()
	srv, err := testredis.Start()
	require.NoError(t, err)
	host, portStr, err := net.SplitHostPort(srv.Addr())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	conn := redisstream.New(zaptest.NewLogger(t), redisstream.Config{Host: host, Port: port})
	return conn, func() { _ = conn.Close(); _ = srv.Close() }
}

// recordingConn wraps a real connector and records every message the
// Maintenance Worker replays and every event it appends.
type recordingConn struct {
	*redisstream.Connector
	replayed []redisstream.StreamMessage
	appended []action.Event
}

func (r *recordingConn) RangeRead(ctx context.Context, streamKey string, pageSize int64, fn func(redisstream.StreamMessage) error) error {
	return r.Connector.RangeRead(ctx, streamKey, pageSize, func(msg redisstream.StreamMessage) error {
		r.replayed = append(r.replayed, msg)
		return fn(msg)
	})
}

func (r *recordingConn) PipelineAppend(ctx context.Context, streamKey string, events []action.Event) ([]string, error) {
	ids, err := r.Connector.PipelineAppend(ctx, streamKey, events)
	if err == nil {
		r.appended = append(r.appended, events...)
	}
	return ids, err
}

// TestS3OrphanHealing reproduces spec §8 scenario S3.
func TestS3OrphanHealing(t *testing.T) {
	conn, cleanup := newConn(t)
	defer cleanup()
	ctx := context.Background()

	streamKey := "hsm:actions:testfs-MDT0000"
	_, err := conn.PipelineAppend(ctx, streamKey, []action.Event{
		{EventType: action.EventNew, MDT: "testfs-MDT0000", CatIdx: 1, RecIdx: 1, FID: "0xA", Action: "ARCHIVE", ActionKey: "0xA:ARCHIVE", Raw: "line"},
	})
	require.NoError(t, err)

	// Source file empty, Cache empty: fid=0xA:ARCHIVE is an orphan.
	snapshot := map[action.PrimaryKey]action.CacheEntry{}

	rec := &recordingConn{Connector: conn}
	w := maintenance.New(zaptest.NewLogger(t), rec, maintenance.Config{
		StreamPrefix: "hsm:actions", ReplayChunkSize: 1000, TrimChunkSize: 1000, AggressiveTrimThreshold: 5000,
	})
	w.RunCycle(ctx, snapshot, []string{"testfs-MDT0000"}, nil)

	// The closing MAXLEN 0 trim leaves nothing in the stream, so what the pass
	// replayed and appended is checked through the recording wrapper.
	var purged int
	var sawNew bool
	for _, msg := range rec.replayed {
		if msg.Event.EventType == action.EventNew {
			sawNew = true
		}
	}
	for _, ev := range rec.appended {
		if ev.EventType == action.EventPurged {
			purged++
			require.Equal(t, "0xA:ARCHIVE", ev.ActionKey)
		}
	}
	require.True(t, sawNew)
	require.Equal(t, 1, purged, "exactly one corrective PURGED should be appended")

	// Stream is now entirely historical: expect MAXLEN 0 trim, i.e. empty.
	var remaining int
	err = conn.RangeRead(ctx, streamKey, 1000, func(redisstream.StreamMessage) error {
		remaining++
		return nil
	})
	require.NoError(t, err)
	require.Zero(t, remaining, "MAXLEN 0 trim should have emptied the stream")
}

// TestS4TrimPreservesLive reproduces spec §8 scenario S4.
func TestS4TrimPreservesLive(t *testing.T) {
	conn, cleanup := newConn(t)
	defer cleanup()
	ctx := context.Background()

	streamKey := "hsm:actions:testfs-MDT0000"

	ids, err := conn.PipelineAppend(ctx, streamKey, []action.Event{
		{EventType: action.EventNew, MDT: "testfs-MDT0000", CatIdx: 1, RecIdx: 1, FID: "0xA", Action: "ARCHIVE", ActionKey: "0xA:ARCHIVE", Raw: "new-a"},
	})
	require.NoError(t, err)
	firstID := ids[0]

	for i := 0; i < 20; i++ {
		_, err := conn.PipelineAppend(ctx, streamKey, []action.Event{
			{EventType: action.EventUpdate, MDT: "testfs-MDT0000", CatIdx: 1, RecIdx: 1, FID: "0xA", Action: "ARCHIVE", ActionKey: "0xA:ARCHIVE", Raw: "update-a"},
		})
		require.NoError(t, err)
	}

	_, err = conn.PipelineAppend(ctx, streamKey, []action.Event{
		{EventType: action.EventNew, MDT: "testfs-MDT0000", CatIdx: 2, RecIdx: 1, FID: "0xB", Action: "ARCHIVE", ActionKey: "0xB:ARCHIVE", Raw: "new-b"},
	})
	require.NoError(t, err)
	_, err = conn.PipelineAppend(ctx, streamKey, []action.Event{
		{EventType: action.EventPurged, MDT: "testfs-MDT0000", CatIdx: 2, RecIdx: 1, FID: "0xB", Action: "ARCHIVE", ActionKey: "0xB:ARCHIVE"},
	})
	require.NoError(t, err)

	// Source file / Cache only knows about 0xA.
	snapshot := map[action.PrimaryKey]action.CacheEntry{
		{MDT: "testfs-MDT0000", CatIdx: 1, RecIdx: 1}: {
			Key: action.PrimaryKey{MDT: "testfs-MDT0000", CatIdx: 1, RecIdx: 1}, FID: "0xA", Action: "ARCHIVE",
		},
	}

	w := maintenance.New(zaptest.NewLogger(t), conn, maintenance.Config{
		StreamPrefix: "hsm:actions", ReplayChunkSize: 5, TrimChunkSize: 1000, AggressiveTrimThreshold: 5000,
	})
	w.RunCycle(ctx, snapshot, []string{"testfs-MDT0000"}, nil)

	var sawFirstNew bool
	err = conn.RangeRead(ctx, streamKey, 1000, func(msg redisstream.StreamMessage) error {
		if msg.ID == firstID {
			sawFirstNew = true
		}
		return nil
	})
	require.NoError(t, err)
	require.True(t, sawFirstNew, "trim must not remove the introducing NEW for a still-live action_key")
}

// TestS6AggressiveTrim reproduces spec §8 scenario S6.
func TestS6AggressiveTrim(t *testing.T) {
	conn, cleanup := newConn(t)
	defer cleanup()
	ctx := context.Background()

	streamKey := "hsm:actions:testfs-MDT0000"

	const purgedCount = 20000
	for i := 0; i < purgedCount; i++ {
		_, err := conn.PipelineAppend(ctx, streamKey, []action.Event{
			{EventType: action.EventNew, MDT: "testfs-MDT0000", ActionKey: "churn:ARCHIVE", Raw: "x"},
		})
		require.NoError(t, err)
		_, err = conn.PipelineAppend(ctx, streamKey, []action.Event{
			{EventType: action.EventPurged, MDT: "testfs-MDT0000", ActionKey: "churn:ARCHIVE"},
		})
		require.NoError(t, err)
	}

	ids, err := conn.PipelineAppend(ctx, streamKey, []action.Event{
		{EventType: action.EventNew, MDT: "testfs-MDT0000", CatIdx: 1, RecIdx: 1, FID: "0xLive", Action: "ARCHIVE", ActionKey: "0xLive:ARCHIVE", Raw: "live"},
	})
	require.NoError(t, err)
	liveID := ids[0]

	snapshot := map[action.PrimaryKey]action.CacheEntry{
		{MDT: "testfs-MDT0000", CatIdx: 1, RecIdx: 1}: {
			Key: action.PrimaryKey{MDT: "testfs-MDT0000", CatIdx: 1, RecIdx: 1}, FID: "0xLive", Action: "ARCHIVE",
		},
	}

	w := maintenance.New(zaptest.NewLogger(t), conn, maintenance.Config{
		StreamPrefix: "hsm:actions", ReplayChunkSize: 1000, TrimChunkSize: 1000, AggressiveTrimThreshold: 5000,
	})
	w.RunCycle(ctx, snapshot, []string{"testfs-MDT0000"}, nil)

	var remaining int
	var sawLive bool
	err = conn.RangeRead(ctx, streamKey, 1000, func(msg redisstream.StreamMessage) error {
		remaining++
		if msg.ID == liveID {
			sawLive = true
		}
		return nil
	})
	require.NoError(t, err)
	require.True(t, sawLive, "the single live action must survive the aggressive trim")
	require.Less(t, remaining, purgedCount*2, "a bulk of the purged history should have been removed")
}
