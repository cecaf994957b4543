// Copyright (c) 2026 The Lustre HSM Action Shipper Authors.
// See LICENSE for copying information.

package redisstream

import (
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/lustre-hsm/action-shipper/internal/action"
)

// marshalEvent serialises a StreamEvent as the single JSON "data" field per
// spec §6's wire contract: `XADD key * data <json>`.
func marshalEvent(ev action.Event) (string, error) {
	b, err := json.Marshal(ev)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// decodeMessage extracts and unmarshals the "data" field of one stream
// entry back into an action.Event.
func decodeMessage(msg redis.XMessage) (action.Event, error) {
	raw, ok := msg.Values["data"]
	if !ok {
		return action.Event{}, fmt.Errorf("stream entry %s has no data field", msg.ID)
	}
	s, ok := raw.(string)
	if !ok {
		return action.Event{}, fmt.Errorf("stream entry %s data field was not a string", msg.ID)
	}
	var ev action.Event
	if err := json.Unmarshal([]byte(s), &ev); err != nil {
		return action.Event{}, err
	}
	return ev, nil
}
