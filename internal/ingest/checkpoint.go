package ingest

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/matheus3301/officechat/internal/storage"
)

// CheckpointPrefix namespaces per-conversation "last message seen" marks.
const CheckpointPrefix = "officechat:ingest:last-message-at:"

// UpdateCheckpoint advances the last-seen timestamp for conversationID.
// Older timestamps are ignored.
func (e *Engine) UpdateCheckpoint(conversationID string, ts int64) error {
	cur, err := e.GetCheckpoint(conversationID)
	if err != nil {
		return err
	}
	if ts <= cur {
		return nil
	}
	return e.db.Set(CheckpointPrefix+conversationID, strconv.FormatInt(ts, 10))
}

// GetCheckpoint returns the last-seen timestamp (ms) for conversationID, or
// zero.
func (e *Engine) GetCheckpoint(conversationID string) (int64, error) {
	v, ok, err := e.db.Get(CheckpointPrefix + conversationID)
	if err != nil || !ok {
		return 0, err
	}
	return strconv.ParseInt(v, 10, 64)
}

// Checkpoints returns every recorded checkpoint keyed by conversation id.
// Unparseable values are skipped.
func Checkpoints(s storage.Store) (map[string]int64, error) {
	keys, err := s.Keys(CheckpointPrefix)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	out := make(map[string]int64, len(keys))
	for _, k := range keys {
		v, ok, err := s.Get(k)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		ts, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			continue
		}
		out[strings.TrimPrefix(k, CheckpointPrefix)] = ts
	}
	return out, nil
}
