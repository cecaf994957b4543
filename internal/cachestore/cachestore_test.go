// Copyright (c) 2026 The Lustre HSM Action Shipper Authors.
// See LICENSE for copying information.

package cachestore_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/lustre-hsm/action-shipper/internal/action"
	"github.com/lustre-hsm/action-shipper/internal/cachestore"
)

func TestLoadMissingFileReturnsEmptyCache(t *testing.T) {
	log := zaptest.NewLogger(t)
	cache := cachestore.Load(log, filepath.Join(t.TempDir(), "does-not-exist.json"))
	require.Empty(t, cache)
}

func TestLoadMalformedFileReturnsEmptyCache(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cache.json")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o644))

	log := zaptest.NewLogger(t)
	cache := cachestore.Load(log, path)
	require.Empty(t, cache)
}

func TestCommitThenLoadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cache.json")

	key := action.PrimaryKey{MDT: "testfs-MDT0000", CatIdx: 1, RecIdx: 2}
	cache := map[action.PrimaryKey]action.CacheEntry{
		key: {Key: key, FID: "0x1", Action: "ARCHIVE", Status: "STARTED", Raw: "raw-line", Hash: "abc", Timestamp: 42},
	}

	require.NoError(t, cachestore.Commit(path, cache))

	// no .tmp file left behind
	_, err := os.Stat(path + ".tmp")
	require.True(t, os.IsNotExist(err))

	loaded := cachestore.Load(zaptest.NewLogger(t), path)
	require.Len(t, loaded, 1)
	require.Equal(t, cache[key], loaded[key])
}

func TestCommitCreatesMissingDirectory(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "cache.json")

	require.NoError(t, cachestore.Commit(path, map[action.PrimaryKey]action.CacheEntry{}))
	_, err := os.Stat(path)
	require.NoError(t, err)
}
