package stats

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"auctionwatch/internal/eventlog"
	"auctionwatch/internal/model"
)

// DefaultWindows are the aggregation windows the dashboard asks for.
var DefaultWindows = []int{6, 12, 24, 48}

// soldPerDayEpsilon guards the divide when a window is pathologically small.
const soldPerDayEpsilon = 1e-9

// Cache holds one pre-computed sold-per-day ranking per window. Entries are
// replaced wholesale, never edited, so readers can hold a returned entry
// without locking. Stale entries are still served unless the caller demands
// a live recompute.
type Cache struct {
	log     *eventlog.Log
	windows []int

	mu      sync.RWMutex
	entries map[int]*model.StatsWindowEntry

	dirty chan struct{}
	now   func() time.Time

	onRebuild func(d time.Duration) // metrics hook, may be nil
}

// NewCache creates a cache over the given log. Nil windows use the defaults.
func NewCache(evlog *eventlog.Log, windows []int) *Cache {
	if len(windows) == 0 {
		windows = DefaultWindows
	}
	return &Cache{
		log:     evlog,
		windows: windows,
		entries: make(map[int]*model.StatsWindowEntry),
		dirty:   make(chan struct{}, 1),
		now:     time.Now,
	}
}

// SetRebuildHook installs an observer called after each background rebuild.
func (c *Cache) SetRebuildHook(fn func(d time.Duration)) { c.onRebuild = fn }

// Get returns the entry for one window. With live=false a cached entry is
// returned immediately regardless of staleness; with live=true, or when no
// entry exists yet, a fresh entry is computed synchronously.
func (c *Cache) Get(windowHours int, live bool) *model.StatsWindowEntry {
	if !live {
		c.mu.RLock()
		entry, ok := c.entries[windowHours]
		c.mu.RUnlock()
		if ok {
			return entry
		}
	}

	entry := c.build(windowHours)
	c.mu.Lock()
	c.entries[windowHours] = entry
	c.mu.Unlock()
	return entry
}

// MarkDirty schedules a background rebuild. Multiple marks before the worker
// wakes coalesce into one rebuild.
func (c *Cache) MarkDirty() {
	select {
	case c.dirty <- struct{}{}:
	default:
	}
}

// Run is the background rebuild worker. It recomputes every configured
// window after each log mutation and swaps the entries in wholesale.
func (c *Cache) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.dirty:
		}

		version := c.log.Version()
		if c.upToDate(version) {
			continue
		}

		start := c.now()
		fresh := make(map[int]*model.StatsWindowEntry, len(c.windows))
		for _, hours := range c.windows {
			fresh[hours] = c.build(hours)
		}

		c.mu.Lock()
		for hours, entry := range fresh {
			c.entries[hours] = entry
		}
		c.mu.Unlock()

		elapsed := c.now().Sub(start)
		if c.onRebuild != nil {
			c.onRebuild(elapsed)
		}
		log.Printf("stats: rebuilt %d windows at version %d in %s", len(fresh), version, elapsed)
	}
}

func (c *Cache) upToDate(version uint64) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.entries) < len(c.windows) {
		return false
	}
	for _, entry := range c.entries {
		if entry.BuiltAtVersion != version {
			return false
		}
	}
	return true
}

// build computes a fresh entry from the event log, tagged with the log's
// current version.
func (c *Cache) build(windowHours int) *model.StatsWindowEntry {
	version := c.log.Version()
	totals := c.log.Aggregate(windowHours)

	days := float64(windowHours) / 24
	if days < soldPerDayEpsilon {
		days = soldPerDayEpsilon
	}

	items := make([]model.ItemStat, 0, len(totals))
	for itemID, t := range totals {
		items = append(items, model.ItemStat{
			ItemID:     itemID,
			Quantity:   t.Quantity,
			Count:      t.Count,
			SoldPerDay: float64(t.Quantity) / days,
		})
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].SoldPerDay != items[j].SoldPerDay {
			return items[i].SoldPerDay > items[j].SoldPerDay
		}
		return items[i].ItemID < items[j].ItemID
	})

	return &model.StatsWindowEntry{
		WindowHours:    windowHours,
		Items:          items,
		BuiltAtVersion: version,
		BuiltAt:        c.now(),
	}
}
