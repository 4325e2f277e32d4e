package persist

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"auctionwatch/internal/model"
)

const (
	snapshotFile = "snapshot.json"
	eventsFile   = "events.json"
)

// Store is best-effort JSON persistence for the latest snapshot and the
// event log. In-memory state stays authoritative: load failures mean
// starting fresh, save failures are the caller's to log and ignore.
type Store struct {
	dir string
}

// NewStore creates the data directory if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// SaveSnapshot writes the latest raw snapshot to disk.
func (s *Store) SaveSnapshot(snap *model.RawSnapshot) error {
	if snap == nil {
		return nil
	}
	return s.writeJSON(snapshotFile, snap)
}

// LoadSnapshot reads the persisted snapshot. Returns nil when the file is
// absent or unreadable; a corrupt file just means no baseline.
func (s *Store) LoadSnapshot() *model.RawSnapshot {
	var snap model.RawSnapshot
	if !s.readJSON(snapshotFile, &snap) {
		return nil
	}
	return &snap
}

// SaveEvents writes the retained sale events to disk.
func (s *Store) SaveEvents(events []model.SalesEvent) error {
	return s.writeJSON(eventsFile, events)
}

// LoadEvents reads persisted events; absent or corrupt files yield nil.
func (s *Store) LoadEvents() []model.SalesEvent {
	var events []model.SalesEvent
	if !s.readJSON(eventsFile, &events) {
		return nil
	}
	return events
}

func (s *Store) writeJSON(name string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}

	path := filepath.Join(s.dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename %s: %w", name, err)
	}
	return nil
}

func (s *Store) readJSON(name string, v interface{}) bool {
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil || len(data) == 0 {
		return false
	}
	return json.Unmarshal(data, v) == nil
}
