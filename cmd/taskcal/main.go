package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"taskcal/internal/config"
	"taskcal/internal/feedsync"
	"taskcal/internal/ics"
	appLog "taskcal/internal/log"
	"taskcal/internal/reminder"
	"taskcal/internal/store"
	"taskcal/internal/tasks"
	"taskcal/internal/web"
)

const shutdownTimeout = 10 * time.Second

type flagConfig struct {
	configPath string
	listen     string
	once       bool
	dump       bool
	debug      bool
}

func main() {
	flags := parseFlags()
	if flags.debug {
		appLog.SetLevel(appLog.LevelDebug)
	}
	appLog.Info("taskcal starting", "version", "0.1.0")

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	if err := conf.Validate(); err != nil {
		appLog.Error("invalid config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	if !flags.debug {
		appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))
	}

	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"week_start", conf.WeekStart,
		"refresh", conf.RefreshCron,
		"reminder_cron", conf.ReminderCron,
		"horizon_days", conf.HorizonDays,
		"backfill_days", conf.BackfillDays,
		"db_path", conf.DBPath,
		"once", flags.once,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, conf, flags); err != nil {
		appLog.Error("taskcal failed", err)
		os.Exit(1)
	}
	appLog.Info("taskcal exiting")
}

func run(ctx context.Context, conf *config.Config, flags flagConfig) error {
	st, err := store.Open(conf.DBPath)
	if err != nil {
		return err
	}
	defer st.Close()

	taskSvc := tasks.NewService(st)

	fetcher := ics.NewFetcher(ics.FetcherOptions{
		CacheDir:    conf.CacheDir,
		RelayPrefix: conf.RelayPrefix,
		Timeout:     conf.FetchTimeout(),
	})
	idMode := ics.IDByIndex
	if conf.StableEventIDs {
		idMode = ics.IDByContent
	}
	syncer := feedsync.New(fetcher, st, feedsync.Options{
		FallbackURL: conf.FeedURL,
		Horizon:     time.Duration(conf.HorizonDays) * 24 * time.Hour,
		Backfill:    time.Duration(conf.BackfillDays) * 24 * time.Hour,
		IDMode:      idMode,
	})

	remind := reminder.CheckJob(taskSvc, reminder.LogNotifier{}, func() time.Time {
		return time.Now().In(conf.Location())
	})

	if flags.once {
		return runOnce(ctx, conf, syncer, fetcher, remind, flags.dump)
	}

	sched := reminder.NewScheduler(conf.Location())
	if err := sched.AddJob("feed-refresh", conf.RefreshCron, syncer.Job); err != nil {
		return err
	}
	if err := sched.AddJob("reminders", conf.ReminderCron, remind); err != nil {
		return err
	}
	sched.Start()

	// initial sync so the calendar is populated before the first tick
	go syncer.Job(ctx)

	srv := &http.Server{
		Addr:              conf.Listen,
		Handler:           web.NewServer(conf, web.Deps{Tasks: taskSvc, Settings: st, Feed: syncer}).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+conf.Listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		appLog.Info("signal received, shutting down")
	case err := <-errCh:
		if err != nil {
			sched.Stop(context.Background())
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLog.Error("http shutdown failed", err)
	}
	if err := sched.Stop(shutdownCtx); err != nil {
		appLog.Error("scheduler stop timed out", err)
	}
	return nil
}

// runOnce performs a single sync and reminder pass, then returns.
func runOnce(ctx context.Context, conf *config.Config, syncer *feedsync.Syncer, fetcher *ics.Fetcher, remind func(context.Context), dump bool) error {
	res, err := syncer.Sync(ctx)
	switch {
	case errors.Is(err, feedsync.ErrNoFeedURL):
		appLog.Warn("no calendar url configured; skipping feed sync")
	case err != nil:
		return err
	default:
		appLog.Info("sync complete", "events", res.Events, "skipped", len(res.Skipped), "truncated", len(res.Truncated))
	}

	remind(ctx)

	if dump {
		body, url := fetcher.LastPayload()
		if len(body) == 0 {
			appLog.Warn("dump requested but no payload was fetched")
			return nil
		}
		path := filepath.Join(conf.CacheDir, "last.ics")
		if err := os.MkdirAll(conf.CacheDir, 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(path, body, 0o600); err != nil {
			return err
		}
		appLog.Info("feed payload dumped", "path", path, "url", appLog.RedactURL(url), "bytes", len(body))
	}
	return nil
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "./taskcal.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Run one feed sync and reminder check, then exit")
	flag.BoolVar(&cfg.dump, "dump", false, "With -once, write the fetched feed to <cache_dir>/last.ics")
	flag.BoolVar(&cfg.debug, "debug", false, "Enable debug logging")

	flag.Parse()

	return cfg
}
