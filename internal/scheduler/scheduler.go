package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"auctionwatch/internal/eventlog"
	"auctionwatch/internal/fetch"
	"auctionwatch/internal/infer"
	"auctionwatch/internal/instrumentation"
	"auctionwatch/internal/model"
	"auctionwatch/internal/normalize"
	"auctionwatch/internal/stats"
)

// SourceFunc produces one raw snapshot for a feed. notModified=true means
// the upstream reported no change since the previous poll.
type SourceFunc func(ctx context.Context) (snap *model.RawSnapshot, notModified bool, err error)

// FeedConfig describes one polling feed's source and cadence.
type FeedConfig struct {
	Name         string
	Source       SourceFunc
	BaseInterval time.Duration
	PeakInterval time.Duration
}

// Config holds scheduler-wide cadence settings.
type Config struct {
	PeakStartHour  int
	PeakEndHour    int
	JitterFraction float64
}

type feed struct {
	cfg FeedConfig

	// Everything below is written only by this feed's loop (or by
	// SeedBaseline before the loop starts); the scheduler mutex only makes
	// the writes visible to Status/CurrentSnapshot readers.
	state       model.PollFeedState
	prev        []model.NormalizedListing
	hasBaseline bool
	raw         *model.RawSnapshot

	trigger chan struct{}
}

// Scheduler drives the independent per-feed polling loops. Each feed's cycle
// is serialized by construction: the next cycle is only scheduled after the
// current one completes, so there is at most one in-flight diff per feed.
// The feeds themselves run independently and share the event log.
type Scheduler struct {
	cfg     Config
	log     *eventlog.Log
	cache   *stats.Cache
	metrics *instrumentation.Metrics

	mu    sync.Mutex
	feeds map[string]*feed
	order []string

	wg  sync.WaitGroup
	now func() time.Time
}

// New creates a scheduler. metrics may be nil (tests).
func New(cfg Config, evlog *eventlog.Log, cache *stats.Cache, metrics *instrumentation.Metrics) *Scheduler {
	return &Scheduler{
		cfg:     cfg,
		log:     evlog,
		cache:   cache,
		metrics: metrics,
		feeds:   make(map[string]*feed),
		now:     time.Now,
	}
}

// AddFeed registers a feed. Must be called before Start.
func (s *Scheduler) AddFeed(cfg FeedConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.feeds[cfg.Name] = &feed{
		cfg:     cfg,
		state:   model.PollFeedState{Feed: cfg.Name, IntervalSec: int(cfg.BaseInterval / time.Second)},
		trigger: make(chan struct{}, 1),
	}
	s.order = append(s.order, cfg.Name)
}

// SeedBaseline installs a restored snapshot as a feed's previous poll, so the
// first live cycle after a restart diffs against it instead of fabricating a
// burst of sales from nothing.
func (s *Scheduler) SeedBaseline(name string, snap *model.RawSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.feeds[name]
	if !ok || snap == nil {
		return
	}
	f.prev = normalize.Flatten(snap)
	f.raw = snap
	f.hasBaseline = true
	log.Printf("[%s] baseline restored: %d listings from %s", name, len(f.prev), snap.FetchedAt.Format(time.RFC3339))
}

// Start launches one loop per registered feed. Loops stop when ctx is
// cancelled, after finishing any in-flight cycle.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, name := range s.order {
		f := s.feeds[name]
		s.wg.Add(1)
		go s.runFeed(ctx, f)
	}
}

// Wait blocks until all feed loops have exited.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// TriggerPoll requests an out-of-band cycle for a feed. Triggers coalesce:
// at most one is pending at a time, and a pending trigger fires only after
// the current cycle (if any) completes, so cycles stay serialized.
func (s *Scheduler) TriggerPoll(name string) error {
	s.mu.Lock()
	f, ok := s.feeds[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown feed %q", name)
	}
	select {
	case f.trigger <- struct{}{}:
	default:
		log.Printf("[%s] refresh trigger dropped: one already pending", name)
	}
	return nil
}

// Status returns a copy of every feed's polling state.
func (s *Scheduler) Status() map[string]model.PollFeedState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]model.PollFeedState, len(s.feeds))
	for name, f := range s.feeds {
		out[name] = f.state
	}
	return out
}

// CurrentSnapshot returns the most recent raw snapshot for a feed, or nil if
// none has been fetched yet.
func (s *Scheduler) CurrentSnapshot(name string) *model.RawSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := s.feeds[name]; ok {
		return f.raw
	}
	return nil
}

// Events returns the snapshot of retained events, for the persistence flush.
func (s *Scheduler) Events() []model.SalesEvent {
	return s.log.Query(0)
}

func (s *Scheduler) runFeed(ctx context.Context, f *feed) {
	defer s.wg.Done()

	for {
		s.cycle(ctx, f)
		if ctx.Err() != nil {
			return
		}

		interval := s.nextInterval(f.cfg, s.now())
		s.mu.Lock()
		f.state.IntervalSec = int(interval / time.Second)
		f.state.NextAt = s.now().Add(interval)
		s.mu.Unlock()

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		case <-f.trigger:
			timer.Stop()
			log.Printf("[%s] manual refresh requested", f.cfg.Name)
		}
	}
}

// cycle runs one poll: fetch, maybe diff, maybe append. Any failure is
// logged and the cycle degrades to a no-op; the loop always reschedules.
func (s *Scheduler) cycle(ctx context.Context, f *feed) {
	now := s.now()

	s.mu.Lock()
	f.state.LastPollAt = now
	f.state.PollCount++
	s.mu.Unlock()

	snap, notModified, err := f.cfg.Source(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		log.Printf("[%s] poll failed: %v", f.cfg.Name, err)
		s.countPoll(f, "error")
		var fe *fetch.Error
		if errors.As(err, &fe) && s.metrics != nil {
			s.metrics.FetchFailures.WithLabelValues(f.cfg.Name, string(fe.Kind)).Inc()
		}
		return
	}
	if notModified {
		s.countPoll(f, "not_modified")
		return
	}

	listings := normalize.Flatten(snap)

	var events []model.SalesEvent
	tier := infer.TierNone
	if f.hasBaseline {
		events, tier = infer.InferSales(f.prev, listings, now)
	} else {
		log.Printf("[%s] baseline snapshot recorded: %d listings", f.cfg.Name, len(listings))
	}

	s.mu.Lock()
	f.prev = listings
	f.hasBaseline = true
	f.raw = snap
	s.mu.Unlock()

	appended := 0
	if len(events) > 0 {
		appended = s.log.Append(events)
	}
	if appended > 0 {
		s.mu.Lock()
		f.state.LastChangeAt = now
		f.state.ChangeCount++
		s.mu.Unlock()

		s.cache.MarkDirty()
		log.Printf("[%s] inferred %d sale events via tier %s", f.cfg.Name, appended, tier)

		if s.metrics != nil {
			units := int64(0)
			for _, ev := range events {
				units += int64(ev.Quantity)
			}
			s.metrics.EventsAppended.WithLabelValues(f.cfg.Name, tier.String()).Add(float64(appended))
			s.metrics.UnitsInferred.WithLabelValues(f.cfg.Name, tier.String()).Add(float64(units))
		}
	}
	if s.metrics != nil {
		s.metrics.EventLogSize.Set(float64(s.log.Len()))
		s.metrics.LogVersion.Set(float64(s.log.Version()))
	}
	s.countPoll(f, "changed")
}

func (s *Scheduler) countPoll(f *feed, outcome string) {
	if s.metrics != nil {
		s.metrics.PollsTotal.WithLabelValues(f.cfg.Name, outcome).Inc()
	}
}

// nextInterval picks the base or peak interval for the wall-clock hour and
// applies bounded random jitter.
func (s *Scheduler) nextInterval(cfg FeedConfig, at time.Time) time.Duration {
	interval := cfg.BaseInterval
	if s.inPeak(at) && cfg.PeakInterval > 0 {
		interval = cfg.PeakInterval
	}

	frac := s.cfg.JitterFraction
	if frac <= 0 {
		return interval
	}
	// Uniform in [interval*(1-frac), interval*(1+frac)].
	scale := 1 - frac + 2*frac*rand.Float64()
	return time.Duration(float64(interval) * scale)
}

// inPeak reports whether the local hour falls inside the configured peak
// window. A window with start > end wraps past midnight.
func (s *Scheduler) inPeak(at time.Time) bool {
	start, end := s.cfg.PeakStartHour, s.cfg.PeakEndHour
	if start == end {
		return false
	}
	hour := at.Hour()
	if start < end {
		return hour >= start && hour < end
	}
	return hour >= start || hour < end
}
