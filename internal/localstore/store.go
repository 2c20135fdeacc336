// Package localstore provides the always-available key-value persistence on
// the client device. It is the fallback data source when the remote document
// store is unreachable, and survives process restarts.
package localstore

import (
	"encoding/json"

	"github.com/studybook/studybook/internal/notes"
	"github.com/studybook/studybook/internal/obs"
)

// Key conventions shared by every component that touches local persistence.
const (
	// KeyPrefix namespaces all app-owned keys; teardown on logout removes
	// every key carrying it.
	KeyPrefix = "app_"

	// NotesKey stores the full note snapshot as a JSON-encoded array.
	NotesKey = "app_notes"

	// SwipeHintKey is the one-time UI flag for the swipe gesture hint.
	SwipeHintKey = "app_swipe_hint_shown"

	progressKeyPrefix = "app_progress_"
)

// ProgressKey returns the per-note reading-position key.
func ProgressKey(noteID string) string {
	return progressKeyPrefix + noteID
}

// IsProgressKey reports whether key stores a reading position.
func IsProgressKey(key string) bool {
	return len(key) > len(progressKeyPrefix) && key[:len(progressKeyPrefix)] == progressKeyPrefix
}

// Store is the local persistence contract.
type Store interface {
	// Get returns the stored value and whether the key is present.
	Get(key string) (string, bool)
	// Set stores value under key, replacing any previous value.
	Set(key, value string) error
	// Remove deletes key; removing an absent key is a no-op.
	Remove(key string) error
	// Keys returns all present keys in unspecified order.
	Keys() []string
}

// SaveNotes serializes the full note set to the snapshot key.
func SaveNotes(s Store, all []notes.Note) error {
	data, err := json.Marshal(all)
	if err != nil {
		return err
	}
	return s.Set(NotesKey, string(data))
}

// LoadNotes reads the snapshot. Corrupt entries are logged and skipped so a
// partially damaged snapshot still yields every readable note; an absent
// snapshot yields an empty slice.
func LoadNotes(s Store) []notes.Note {
	log := obs.Pkg("localstore")

	raw, ok := s.Get(NotesKey)
	if !ok || raw == "" {
		return nil
	}

	var elements []json.RawMessage
	if err := json.Unmarshal([]byte(raw), &elements); err != nil {
		log.Warn("local snapshot unreadable, skipping", "error", err)
		return nil
	}

	out := make([]notes.Note, 0, len(elements))
	for i, el := range elements {
		var n notes.Note
		if err := json.Unmarshal(el, &n); err != nil {
			log.Warn("skipping corrupt snapshot entry", "index", i, "error", err)
			continue
		}
		if n.ID == "" {
			log.Warn("skipping snapshot entry without id", "index", i)
			continue
		}
		out = append(out, n)
	}
	return out
}

// ClearAppKeys removes every app-owned key. Used on logout.
func ClearAppKeys(s Store) {
	for _, key := range s.Keys() {
		if len(key) >= len(KeyPrefix) && key[:len(KeyPrefix)] == KeyPrefix {
			_ = s.Remove(key)
		}
	}
}
