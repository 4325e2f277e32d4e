package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"auctionwatch/internal/eventlog"
	"auctionwatch/internal/model"
	"auctionwatch/internal/stats"
)

func testScheduler() *Scheduler {
	evlog := eventlog.New(72 * time.Hour)
	cache := stats.NewCache(evlog, []int{24})
	return New(Config{PeakStartHour: 18, PeakEndHour: 23, JitterFraction: 0.2}, evlog, cache, nil)
}

func itemsSnapshot(listings string) *model.RawSnapshot {
	return &model.RawSnapshot{Items: json.RawMessage(listings), FetchedAt: time.Now()}
}

func staticSource(snaps ...*model.RawSnapshot) SourceFunc {
	i := 0
	return func(ctx context.Context) (*model.RawSnapshot, bool, error) {
		if i >= len(snaps) {
			return snaps[len(snaps)-1], false, nil
		}
		snap := snaps[i]
		i++
		return snap, false, nil
	}
}

func TestNextIntervalUsesPeakTable(t *testing.T) {
	s := testScheduler()
	cfg := FeedConfig{Name: "items", BaseInterval: 60 * time.Second, PeakInterval: 30 * time.Second}

	peakTime := time.Date(2025, 6, 1, 19, 30, 0, 0, time.Local)
	offPeak := time.Date(2025, 6, 1, 9, 30, 0, 0, time.Local)

	for i := 0; i < 50; i++ {
		got := s.nextInterval(cfg, peakTime)
		if got < 24*time.Second || got > 36*time.Second {
			t.Fatalf("peak interval with 20%% jitter must be within [24s,36s], got %s", got)
		}

		got = s.nextInterval(cfg, offPeak)
		if got < 48*time.Second || got > 72*time.Second {
			t.Fatalf("base interval with 20%% jitter must be within [48s,72s], got %s", got)
		}
	}
}

func TestNextIntervalNoJitterIsExact(t *testing.T) {
	s := testScheduler()
	s.cfg.JitterFraction = 0
	cfg := FeedConfig{Name: "items", BaseInterval: 60 * time.Second, PeakInterval: 30 * time.Second}

	if got := s.nextInterval(cfg, time.Date(2025, 6, 1, 19, 0, 0, 0, time.Local)); got != 30*time.Second {
		t.Errorf("expected exact peak interval, got %s", got)
	}
	if got := s.nextInterval(cfg, time.Date(2025, 6, 1, 9, 0, 0, 0, time.Local)); got != 60*time.Second {
		t.Errorf("expected exact base interval, got %s", got)
	}
}

func TestInPeakWindow(t *testing.T) {
	s := testScheduler()

	cases := []struct {
		hour int
		want bool
	}{
		{17, false}, {18, true}, {22, true}, {23, false}, {3, false},
	}
	for _, tc := range cases {
		at := time.Date(2025, 6, 1, tc.hour, 0, 0, 0, time.Local)
		if got := s.inPeak(at); got != tc.want {
			t.Errorf("hour %d: inPeak = %v, want %v", tc.hour, got, tc.want)
		}
	}

	// A window crossing midnight wraps.
	s.cfg.PeakStartHour, s.cfg.PeakEndHour = 22, 2
	for hour, want := range map[int]bool{21: false, 22: true, 0: true, 1: true, 2: false} {
		at := time.Date(2025, 6, 1, hour, 0, 0, 0, time.Local)
		if got := s.inPeak(at); got != want {
			t.Errorf("wrapped window hour %d: inPeak = %v, want %v", hour, got, want)
		}
	}
}

func TestCycleBaselineThenDiff(t *testing.T) {
	s := testScheduler()
	s.AddFeed(FeedConfig{
		Name: "items",
		Source: staticSource(
			itemsSnapshot(`[{"id":1,"item":{"id":100},"quantity":5,"unit_price":10}]`),
			itemsSnapshot(`[{"id":1,"item":{"id":100},"quantity":2,"unit_price":10}]`),
		),
		BaseInterval: time.Minute,
	})
	f := s.feeds["items"]

	// First cycle only records the baseline.
	s.cycle(context.Background(), f)
	if v := s.log.Version(); v != 0 {
		t.Fatalf("baseline cycle must not append events, version %d", v)
	}
	if f.state.PollCount != 1 {
		t.Errorf("expected pollCount 1, got %d", f.state.PollCount)
	}
	if f.state.ChangeCount != 0 {
		t.Errorf("baseline cycle is not a change, got changeCount %d", f.state.ChangeCount)
	}

	// Second cycle diffs against the baseline: 3 units of item 100 sold.
	s.cycle(context.Background(), f)
	if v := s.log.Version(); v != 1 {
		t.Fatalf("diff cycle should append one batch, version %d", v)
	}
	events := s.log.Query(0)
	if len(events) != 1 || events[0].ItemID != 100 || events[0].Quantity != 3 {
		t.Fatalf("expected one event item 100 qty 3, got %v", events)
	}
	if f.state.ChangeCount != 1 {
		t.Errorf("expected changeCount 1, got %d", f.state.ChangeCount)
	}
	if f.state.LastChangeAt.IsZero() {
		t.Error("lastChangeAt should be set after a change")
	}
}

func TestCycleNotModifiedSkipsDiff(t *testing.T) {
	s := testScheduler()
	calls := 0
	s.AddFeed(FeedConfig{
		Name: "items",
		Source: func(ctx context.Context) (*model.RawSnapshot, bool, error) {
			calls++
			if calls == 1 {
				return itemsSnapshot(`[{"id":1,"item":{"id":100},"quantity":5,"unit_price":10}]`), false, nil
			}
			return nil, true, nil
		},
		BaseInterval: time.Minute,
	})
	f := s.feeds["items"]

	s.cycle(context.Background(), f)
	s.cycle(context.Background(), f)

	if f.state.PollCount != 2 {
		t.Errorf("not-modified cycles still count as polls, got %d", f.state.PollCount)
	}
	if len(f.prev) != 1 {
		t.Errorf("a 304 must leave the previous snapshot untouched, prev has %d listings", len(f.prev))
	}
	if v := s.log.Version(); v != 0 {
		t.Errorf("no events expected, version %d", v)
	}
}

func TestCycleErrorIsNoOp(t *testing.T) {
	s := testScheduler()
	s.AddFeed(FeedConfig{
		Name: "commodities",
		Source: func(ctx context.Context) (*model.RawSnapshot, bool, error) {
			return nil, false, errors.New("connection reset")
		},
		BaseInterval: time.Minute,
	})
	f := s.feeds["commodities"]

	s.cycle(context.Background(), f)

	if f.state.PollCount != 1 {
		t.Errorf("failed cycles still count as polls, got %d", f.state.PollCount)
	}
	if f.hasBaseline {
		t.Error("a failed cycle must not install a baseline")
	}
	if v := s.log.Version(); v != 0 {
		t.Errorf("no events expected after a failed cycle, version %d", v)
	}
}

func TestSeedBaselineEnablesImmediateDiff(t *testing.T) {
	s := testScheduler()
	s.AddFeed(FeedConfig{
		Name:         "items",
		Source:       staticSource(itemsSnapshot(`[]`)),
		BaseInterval: time.Minute,
	})

	s.SeedBaseline("items", itemsSnapshot(`[{"id":1,"item":{"id":100},"quantity":4,"unit_price":10}]`))

	f := s.feeds["items"]
	if !f.hasBaseline || len(f.prev) != 1 {
		t.Fatalf("baseline not installed: hasBaseline=%v prev=%d", f.hasBaseline, len(f.prev))
	}

	// The restored listing vanished in the first live poll: inferred as sold.
	s.cycle(context.Background(), f)
	events := s.log.Query(0)
	if len(events) != 1 || events[0].Quantity != 4 {
		t.Fatalf("expected the restored listing inferred as sold, got %v", events)
	}
}

func TestTriggerPollUnknownFeed(t *testing.T) {
	s := testScheduler()
	if err := s.TriggerPoll("nope"); err == nil {
		t.Error("expected an error for an unknown feed")
	}
}

func TestTriggerCoalesces(t *testing.T) {
	s := testScheduler()
	s.AddFeed(FeedConfig{Name: "items", Source: staticSource(itemsSnapshot(`[]`)), BaseInterval: time.Minute})

	for i := 0; i < 5; i++ {
		if err := s.TriggerPoll("items"); err != nil {
			t.Fatalf("trigger failed: %v", err)
		}
	}
	if len(s.feeds["items"].trigger) != 1 {
		t.Errorf("triggers must coalesce to one pending, got %d", len(s.feeds["items"].trigger))
	}
}

func TestRunLoopStopsOnCancel(t *testing.T) {
	s := testScheduler()
	s.cfg.JitterFraction = 0
	s.AddFeed(FeedConfig{
		Name:         "items",
		Source:       staticSource(itemsSnapshot(`[]`)),
		BaseInterval: 5 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)

	time.Sleep(30 * time.Millisecond)
	cancel()

	done := make(chan struct{})
	go func() {
		s.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler loops did not stop on cancel")
	}

	status := s.Status()
	if status["items"].PollCount < 1 {
		t.Errorf("expected at least one poll before cancel, got %d", status["items"].PollCount)
	}
}
