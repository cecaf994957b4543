// Copyright (c) 2026 The Lustre HSM Action Shipper Authors.
// See LICENSE for copying information.

// Package action defines the data model shared by every stage of the shipper
// pipeline: the records parsed from a Lustre HSM action log, the cache entries
// derived from them, and the events appended to Redis streams.
package action

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
)

// EventType is the three-valued lifecycle a primary key can be observed in.
type EventType string

const (
	EventNew    EventType = "NEW"
	EventUpdate EventType = "UPDATE"
	EventPurged EventType = "PURGED"
)

// PurgedStatus is the literal status value carried by every PURGED event,
// overriding whatever status the action held before it disappeared.
const PurgedStatus = "PURGED"

// PrimaryKey identifies one line in one MDT's action log, per spec §3.
type PrimaryKey struct {
	MDT    string
	CatIdx uint64
	RecIdx uint64
}

// String renders the key the same way it is serialised as a Cache Store JSON
// object field name: "mdt|cat_idx|rec_idx".
func (k PrimaryKey) String() string {
	return fmt.Sprintf("%s|%d|%d", k.MDT, k.CatIdx, k.RecIdx)
}

// Record is one live HSM request as parsed from a single action-log line.
type Record struct {
	Key    PrimaryKey
	FID    string
	Action string
	Status string
	Raw    string
	Hash   string
}

// ActionKey correlates a logical operation across index changes, per §3.
func (r *Record) ActionKey() string {
	return r.FID + ":" + r.Action
}

// HashRaw returns the hex-encoded MD5 digest of raw. The spec calls for a
// "128-bit hex digest" used purely as a change-detection fingerprint, not a
// security boundary, so MD5 is the natural, cheapest choice.
func HashRaw(raw string) string {
	sum := md5.Sum([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// CacheEntry is the durable last-known state of one ActionRecord.
type CacheEntry struct {
	Key       PrimaryKey `json:"-"`
	FID       string     `json:"fid"`
	Action    string     `json:"action"`
	Status    string     `json:"status"`
	Raw       string     `json:"raw"`
	Hash      string     `json:"hash"`
	Timestamp int64      `json:"timestamp"`
}

// ActionKey correlates a logical operation across index changes, per §3.
func (e CacheEntry) ActionKey() string {
	return e.FID + ":" + e.Action
}

// FromRecord builds the cache entry recorded after a NEW or UPDATE event for
// rec is observed at the given unix-seconds timestamp.
func FromRecord(rec *Record, timestamp int64) CacheEntry {
	return CacheEntry{
		Key:       rec.Key,
		FID:       rec.FID,
		Action:    rec.Action,
		Status:    rec.Status,
		Raw:       rec.Raw,
		Hash:      rec.Hash,
		Timestamp: timestamp,
	}
}

// Event is one unit appended to a stream, per §3/§6.
type Event struct {
	EventType EventType `json:"event_type"`
	MDT       string    `json:"mdt"`
	CatIdx    uint64    `json:"cat_idx"`
	RecIdx    uint64    `json:"rec_idx"`
	FID       string    `json:"fid"`
	Action    string    `json:"action"`
	Status    string    `json:"status"`
	ActionKey string    `json:"action_key"`
	Timestamp int64     `json:"timestamp"`
	Raw       string    `json:"raw,omitempty"`
	Hash      string    `json:"hash,omitempty"`
}

// NewEvent builds a NEW or UPDATE event from a freshly-parsed record.
func NewEvent(typ EventType, rec *Record, timestamp int64) Event {
	return Event{
		EventType: typ,
		MDT:       rec.Key.MDT,
		CatIdx:    rec.Key.CatIdx,
		RecIdx:    rec.Key.RecIdx,
		FID:       rec.FID,
		Action:    rec.Action,
		Status:    rec.Status,
		ActionKey: rec.ActionKey(),
		Timestamp: timestamp,
		Raw:       rec.Raw,
	}
}

// PurgedEvent builds a PURGED event from the last-known cache entry, per §3:
// all payload fields are carried over from the CacheEntry, status is forced to
// the literal "PURGED", and hash (not raw) is carried for consumer reference.
func PurgedEvent(entry CacheEntry, timestamp int64) Event {
	return Event{
		EventType: EventPurged,
		MDT:       entry.Key.MDT,
		CatIdx:    entry.Key.CatIdx,
		RecIdx:    entry.Key.RecIdx,
		FID:       entry.FID,
		Action:    entry.Action,
		Status:    PurgedStatus,
		ActionKey: entry.ActionKey(),
		Timestamp: timestamp,
		Hash:      entry.Hash,
	}
}

// StreamKey returns "prefix:mdt", the Redis key one MDT's events are appended to.
func StreamKey(prefix, mdt string) string {
	return prefix + ":" + mdt
}
