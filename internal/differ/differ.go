// Copyright (c) 2026 The Lustre HSM Action Shipper Authors.
// See LICENSE for copying information.

// Package differ compares a freshly-scanned snapshot of action records
// against the persistent Cache and emits the NEW/UPDATE/PURGED events that
// describe the difference. Diff is pure: it performs no I/O and has no
// knowledge of Redis or the filesystem.
package differ

import (
	"sort"

	"github.com/lustre-hsm/action-shipper/internal/action"
)

// Diff computes the events implied by moving from cache to snapshot, and the
// cache that should be committed if those events are all published
// successfully. snapshot is keyed by MDT, matching scanner.Scan's output.
//
// Ordering within the returned slice follows §4.2: all NEW, then all UPDATE,
// then all PURGED, grouped by MDT, and ordered by (cat_idx, rec_idx) within a
// group. This guarantees that a NEW for a given primary key always precedes
// any UPDATE or PURGED for that key (§3 invariant 4).
func Diff(snapshot map[string][]*action.Record, cache map[action.PrimaryKey]action.CacheEntry, now int64) ([]action.Event, map[action.PrimaryKey]action.CacheEntry) {
	live := make(map[action.PrimaryKey]*action.Record)
	for _, records := range snapshot {
		for _, rec := range records {
			live[rec.Key] = rec
		}
	}

	var news, updates []*action.Record
	for key, rec := range live {
		if cached, ok := cache[key]; !ok {
			news = append(news, rec)
		} else if cached.Hash != rec.Hash {
			updates = append(updates, rec)
		}
	}

	var purgedKeys []action.PrimaryKey
	for key := range cache {
		if _, ok := live[key]; !ok {
			purgedKeys = append(purgedKeys, key)
		}
	}

	sortRecords(news)
	sortRecords(updates)
	sort.Slice(purgedKeys, func(i, j int) bool { return lessKey(purgedKeys[i], purgedKeys[j]) })

	nextCache := make(map[action.PrimaryKey]action.CacheEntry, len(cache))
	for k, v := range cache {
		nextCache[k] = v
	}

	events := make([]action.Event, 0, len(news)+len(updates)+len(purgedKeys))
	for _, rec := range news {
		events = append(events, action.NewEvent(action.EventNew, rec, now))
		nextCache[rec.Key] = action.FromRecord(rec, now)
	}
	for _, rec := range updates {
		events = append(events, action.NewEvent(action.EventUpdate, rec, now))
		nextCache[rec.Key] = action.FromRecord(rec, now)
	}
	for _, key := range purgedKeys {
		events = append(events, action.PurgedEvent(cache[key], now))
		delete(nextCache, key)
	}

	return events, nextCache
}

func sortRecords(recs []*action.Record) {
	sort.Slice(recs, func(i, j int) bool { return lessKey(recs[i].Key, recs[j].Key) })
}

func lessKey(a, b action.PrimaryKey) bool {
	if a.MDT != b.MDT {
		return a.MDT < b.MDT
	}
	if a.CatIdx != b.CatIdx {
		return a.CatIdx < b.CatIdx
	}
	return a.RecIdx < b.RecIdx
}
