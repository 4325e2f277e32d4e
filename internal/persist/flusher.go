package persist

import (
	"fmt"
	"log"

	"github.com/robfig/cron/v3"

	"auctionwatch/internal/model"
)

// Flusher periodically dumps the in-memory state to disk on a cron schedule.
// Flush failures are logged and swallowed; they must never block or fail the
// polling pipeline.
type Flusher struct {
	store      *Store
	snapshotFn func() *model.RawSnapshot
	eventsFn   func() []model.SalesEvent
	cron       *cron.Cron
}

// NewFlusher wires a flusher to the functions that expose current state.
func NewFlusher(store *Store, snapshotFn func() *model.RawSnapshot, eventsFn func() []model.SalesEvent) *Flusher {
	return &Flusher{
		store:      store,
		snapshotFn: snapshotFn,
		eventsFn:   eventsFn,
		cron:       cron.New(),
	}
}

// Start schedules the periodic flush (cron spec, e.g. "@every 5m").
func (f *Flusher) Start(schedule string) error {
	if _, err := f.cron.AddFunc(schedule, f.Flush); err != nil {
		return fmt.Errorf("scheduling flush: %w", err)
	}
	f.cron.Start()
	return nil
}

// Stop halts the schedule and runs one final flush.
func (f *Flusher) Stop() {
	f.cron.Stop()
	f.Flush()
}

// Flush writes the current snapshot and event log. Best effort.
func (f *Flusher) Flush() {
	if snap := f.snapshotFn(); snap != nil {
		if err := f.store.SaveSnapshot(snap); err != nil {
			log.Printf("persist: snapshot flush failed: %v", err)
		}
	}
	if err := f.store.SaveEvents(f.eventsFn()); err != nil {
		log.Printf("persist: events flush failed: %v", err)
	}
}
