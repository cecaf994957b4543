// Copyright (c) 2026 The Lustre HSM Action Shipper Authors.
// See LICENSE for copying information.

// Package cachestore persists the Shipper's last-known-state Cache as a JSON
// file, replaced atomically so a crash never leaves a partial file on disk.
package cachestore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/lustre-hsm/action-shipper/internal/action"
	"github.com/zeebo/errs"
)

// Error is the error class for cache reads and writes (§7: CacheWrite).
var Error = errs.Class("cachestore")

// entry is the on-disk shape of one cache record: "mdt|cat_idx|rec_idx" maps
// to the payload fields, matching the wire contract in spec §6.
type entry struct {
	FID       string `json:"fid"`
	Action    string `json:"action"`
	Status    string `json:"status"`
	Raw       string `json:"raw"`
	Hash      string `json:"hash"`
	Timestamp int64  `json:"timestamp"`
}

// Load reads the cache file at path. A missing or malformed file yields an
// empty cache and a logged warning rather than an error, per §4.4.
func Load(log *zap.Logger, path string) map[action.PrimaryKey]action.CacheEntry {
	log = log.Named("cachestore")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Warn("cache file not found, starting with an empty cache", zap.String("path", path))
		} else {
			log.Warn("could not read cache file, starting with an empty cache",
				zap.String("path", path), zap.Error(err))
		}
		return map[action.PrimaryKey]action.CacheEntry{}
	}

	var raw map[string]entry
	if err := json.Unmarshal(data, &raw); err != nil {
		log.Warn("cache file was malformed, starting with an empty cache",
			zap.String("path", path), zap.Error(err))
		return map[action.PrimaryKey]action.CacheEntry{}
	}

	cache := make(map[action.PrimaryKey]action.CacheEntry, len(raw))
	for k, v := range raw {
		key, ok := parseKey(k)
		if !ok {
			log.Warn("dropping cache entry with unparseable key", zap.String("key", k))
			continue
		}
		cache[key] = action.CacheEntry{
			Key:       key,
			FID:       v.FID,
			Action:    v.Action,
			Status:    v.Status,
			Raw:       v.Raw,
			Hash:      v.Hash,
			Timestamp: v.Timestamp,
		}
	}
	return cache
}

// Commit serialises cache to path via a temp file, fsync, and atomic rename,
// so any observer only ever sees the previous or the new complete file.
func Commit(path string, cache map[action.PrimaryKey]action.CacheEntry) error {
	raw := make(map[string]entry, len(cache))
	for k, v := range cache {
		raw[k.String()] = entry{
			FID:       v.FID,
			Action:    v.Action,
			Status:    v.Status,
			Raw:       v.Raw,
			Hash:      v.Hash,
			Timestamp: v.Timestamp,
		}
	}

	data, err := json.Marshal(raw)
	if err != nil {
		return Error.Wrap(err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Error.Wrap(err)
	}

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return Error.Wrap(err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return Error.Wrap(err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return Error.Wrap(err)
	}
	if err := f.Close(); err != nil {
		return Error.Wrap(err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return Error.Wrap(err)
	}
	return nil
}

func parseKey(s string) (action.PrimaryKey, bool) {
	parts := strings.Split(s, "|")
	if len(parts) != 3 {
		return action.PrimaryKey{}, false
	}
	catIdx, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return action.PrimaryKey{}, false
	}
	recIdx, err := strconv.ParseUint(parts[2], 10, 64)
	if err != nil {
		return action.PrimaryKey{}, false
	}
	return action.PrimaryKey{MDT: parts[0], CatIdx: catIdx, RecIdx: recIdx}, true
}
