package stats

import (
	"context"
	"testing"
	"time"

	"auctionwatch/internal/eventlog"
	"auctionwatch/internal/model"
)

func newTestCache() (*Cache, *eventlog.Log) {
	l := eventlog.New(72 * time.Hour)
	c := NewCache(l, []int{6, 24})
	return c, l
}

func recentEvent(itemID int32, qty int32) model.SalesEvent {
	return model.SalesEvent{T: time.Now().Add(-time.Minute).Unix(), ItemID: itemID, Quantity: qty}
}

func TestGetServesSameEntryWhileLogUnchanged(t *testing.T) {
	c, l := newTestCache()
	l.Append([]model.SalesEvent{recentEvent(100, 24)})

	first := c.Get(24, false)
	second := c.Get(24, false)
	if first != second {
		t.Errorf("expected the identical cached entry with no log mutations")
	}
	if first.BuiltAtVersion != l.Version() {
		t.Errorf("entry tagged with version %d, log at %d", first.BuiltAtVersion, l.Version())
	}
}

func TestGetStaleServedWithoutRecompute(t *testing.T) {
	c, l := newTestCache()
	l.Append([]model.SalesEvent{recentEvent(100, 24)})

	stale := c.Get(24, false)
	l.Append([]model.SalesEvent{recentEvent(100, 24)})

	// live=false keeps serving the stale entry even though the version moved.
	if got := c.Get(24, false); got != stale {
		t.Errorf("expected the stale entry without live recompute")
	}

	fresh := c.Get(24, true)
	if fresh == stale {
		t.Errorf("live recompute must build a new entry")
	}
	if fresh.BuiltAtVersion != l.Version() {
		t.Errorf("fresh entry at version %d, want %d", fresh.BuiltAtVersion, l.Version())
	}
}

func TestSoldPerDayRankingAndMath(t *testing.T) {
	c, l := newTestCache()
	l.Append([]model.SalesEvent{
		recentEvent(1, 24),
		recentEvent(2, 240),
		recentEvent(3, 120),
	})

	entry := c.Get(24, true)
	if len(entry.Items) != 3 {
		t.Fatalf("expected 3 ranked items, got %d", len(entry.Items))
	}

	// Descending by soldPerDay.
	if entry.Items[0].ItemID != 2 || entry.Items[1].ItemID != 3 || entry.Items[2].ItemID != 1 {
		t.Errorf("wrong ranking order: %+v", entry.Items)
	}

	// 24h window is exactly one day, so soldPerDay == qty.
	if got := entry.Items[0].SoldPerDay; got != 240 {
		t.Errorf("expected soldPerDay 240 for a 24h window, got %g", got)
	}

	// A 6h window scales by 4.
	entry6 := c.Get(6, true)
	if got := entry6.Items[0].SoldPerDay; got != 960 {
		t.Errorf("expected soldPerDay 960 for a 6h window, got %g", got)
	}
}

func TestBackgroundRebuildReplacesEntries(t *testing.T) {
	c, l := newTestCache()
	l.Append([]model.SalesEvent{recentEvent(100, 10)})

	stale := c.Get(24, false)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rebuilt := make(chan struct{}, 1)
	c.SetRebuildHook(func(time.Duration) {
		select {
		case rebuilt <- struct{}{}:
		default:
		}
	})
	go c.Run(ctx)

	l.Append([]model.SalesEvent{recentEvent(100, 5)})
	c.MarkDirty()

	select {
	case <-rebuilt:
	case <-time.After(2 * time.Second):
		t.Fatal("background rebuild did not run")
	}

	got := c.Get(24, false)
	if got == stale {
		t.Errorf("rebuild should have replaced the entry wholesale")
	}
	if got.BuiltAtVersion != l.Version() {
		t.Errorf("rebuilt entry at version %d, want %d", got.BuiltAtVersion, l.Version())
	}
}

func TestMarkDirtyCoalesces(t *testing.T) {
	c, _ := newTestCache()
	for i := 0; i < 10; i++ {
		c.MarkDirty() // must never block
	}
	if len(c.dirty) != 1 {
		t.Errorf("expected marks to coalesce to one pending rebuild, got %d", len(c.dirty))
	}
}

func TestEmptyLogYieldsEmptyRanking(t *testing.T) {
	c, l := newTestCache()
	entry := c.Get(24, false)
	if len(entry.Items) != 0 {
		t.Errorf("expected empty ranking, got %v", entry.Items)
	}
	if entry.BuiltAtVersion != l.Version() {
		t.Errorf("entry version %d, log %d", entry.BuiltAtVersion, l.Version())
	}
}
