package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"auctionwatch/internal/api"
	"auctionwatch/internal/auth"
	"auctionwatch/internal/config"
	"auctionwatch/internal/eventlog"
	"auctionwatch/internal/fetch"
	"auctionwatch/internal/instrumentation"
	"auctionwatch/internal/market"
	"auctionwatch/internal/model"
	"auctionwatch/internal/persist"
	"auctionwatch/internal/scheduler"
	"auctionwatch/internal/stats"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	metrics := instrumentation.NewMetrics()

	tokens := auth.NewManager(cfg.OAuthTokenURL, cfg.ClientID, cfg.ClientSecret)
	fetcher := fetch.NewConditional(tokens, fetch.Options{
		Timeout:        cfg.RequestTimeout,
		MaxRetries:     cfg.MaxRetries,
		BackoffBase:    cfg.BackoffBase,
		RequestsPerSec: cfg.RequestsPerSec,
	})
	client := market.NewClient(fetcher, cfg.APIBaseURL, cfg.ConnectedRealmID)

	evlog := eventlog.New(time.Duration(cfg.RetentionHours) * time.Hour)
	statsCache := stats.NewCache(evlog, cfg.StatsWindows)
	statsCache.SetRebuildHook(metrics.ObserveRebuild)

	sched := scheduler.New(scheduler.Config{
		PeakStartHour:  cfg.PeakStartHour,
		PeakEndHour:    cfg.PeakEndHour,
		JitterFraction: cfg.JitterFraction,
	}, evlog, statsCache, metrics)

	sched.AddFeed(scheduler.FeedConfig{
		Name:         api.FeedItems,
		Source:       client.FetchRealmAuctions,
		BaseInterval: time.Duration(cfg.ItemsIntervalSec) * time.Second,
		PeakInterval: time.Duration(cfg.ItemsPeakIntervalSec) * time.Second,
	})
	sched.AddFeed(scheduler.FeedConfig{
		Name:         api.FeedCommodities,
		Source:       client.FetchCommodityAuctions,
		BaseInterval: time.Duration(cfg.CommoditiesIntervalSec) * time.Second,
		PeakInterval: time.Duration(cfg.CommoditiesPeakIntervalSec) * time.Second,
	})

	// Restore persisted state so a restart does not misread the first poll
	// as a market-wide sell-off.
	store, err := persist.NewStore(cfg.DataDir)
	if err != nil {
		log.Fatalf("persist: %v", err)
	}
	if events := store.LoadEvents(); len(events) > 0 {
		kept := evlog.Restore(events)
		log.Printf("restored %d sale events from disk", kept)
	}
	if snap := store.LoadSnapshot(); snap != nil {
		sched.SeedBaseline(api.FeedItems, snap)
	}

	flusher := persist.NewFlusher(store,
		func() *model.RawSnapshot { return sched.CurrentSnapshot(api.FeedItems) },
		sched.Events,
	)
	if err := flusher.Start(cfg.FlushSchedule); err != nil {
		log.Fatalf("persist: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sched.Start(ctx)
	go statsCache.Run(ctx)

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      api.NewServer(sched, evlog, statsCache).Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	go func() {
		log.Printf("listening on %s", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("http server: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Printf("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown: %v", err)
	}

	sched.Wait()
	flusher.Stop()
	os.Exit(0)
}
