package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/jessevdk/go-flags"
	"github.com/rs/zerolog/log"

	"channel_sync/api"
	"channel_sync/channels"
	"channel_sync/config"
	"channel_sync/extract"
	"channel_sync/httputil"
	"channel_sync/logging"
	"channel_sync/metrics"
	"channel_sync/models"
	"channel_sync/notify"
	"channel_sync/scheduler"
	"channel_sync/services"
	"channel_sync/storage"
	"channel_sync/syncer"
	"channel_sync/workers"
)

type options struct {
	SyncOnce  bool   `long:"sync-once" description:"Run one sync and exit"`
	User      int64  `long:"user" description:"Limit --sync-once to one user id"`
	Channel   string `long:"channel" description:"Limit --sync-once to one channel (requires --user)"`
	Serve     bool   `long:"serve" env:"SERVE_API" description:"Start the HTTP API alongside the scheduler"`
	ConfigDir string `long:"config-dir" env:"CHANNELS_DIR" description:"Directory holding channel YAML overrides"`
}

func main() {
	var opts options
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			return
		}
		os.Exit(2)
	}
	if opts.ConfigDir != "" {
		os.Setenv("CHANNELS_DIR", opts.ConfigDir)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logFile, err := logging.Setup(cfg.LogPath, cfg.LogLevel)
	if err != nil {
		log.Warn().Err(err).Msg("could not set up file logging")
	} else {
		defer logFile.Close()
	}

	log.Info().Msg("Starting channel_sync...")
	if err := run(cfg, opts); err != nil {
		log.Fatal().Err(err).Msg("channel_sync stopped")
	}
}

func run(cfg *config.Config, opts options) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	registry := channels.NewRegistry(cfg)
	for _, a := range registry.All() {
		log.Info().Str("channel", string(a.ID())).Str("name", a.Name()).Msg("channel adapter registered")
	}

	var storeOpts []storage.Option
	if cfg.CredentialKey.IsSet() {
		key, err := storage.ParseCredentialKey(cfg.CredentialKey.Reveal())
		if err != nil {
			return err
		}
		box, err := storage.NewCredentialBox(key)
		if err != nil {
			return err
		}
		storeOpts = append(storeOpts, storage.WithCredentialBox(box))
	} else {
		log.Warn().Msg("CREDENTIALS_KEY not set, connections with sealed credentials cannot be read or saved")
	}

	// SQLite always holds operational data (runs, logs, stats, commands).
	sqliteStore, err := storage.NewSQLiteStore(cfg.DBPath, storeOpts...)
	if err != nil {
		return fmt.Errorf("open sqlite: %w", err)
	}
	defer sqliteStore.Close()
	log.Info().Str("path", cfg.DBPath).Msg("SQLite database opened")

	var store storage.Store = sqliteStore
	if cfg.DatabaseURL != "" {
		pgStore, err := storage.NewPostgresStore(ctx, cfg.DatabaseURL, storeOpts...)
		if err != nil {
			return fmt.Errorf("connect to postgres: %w", err)
		}
		defer pgStore.Close()

		version, err := pgStore.Migrate()
		if err != nil {
			return err
		}
		log.Info().Str("url", maskConnectionString(cfg.DatabaseURL)).Uint("schema", version).Msg("Postgres ledger connected")
		store = pgStore
	}

	rec := metrics.New(cfg.Metrics)
	archiver := newArchiver(ctx, cfg.Archive)
	clients := httputil.NewClients(&cfg.Proxy, cfg.Sync.HTTPTimeout)
	feedCache := extract.NewFeedCache(cfg.Sync.FeedCacheMB, int(time.Hour.Seconds()))

	extractors := extract.NewSet(
		extract.NewMobileAPIExtractor(clients.API, archiver),
		extract.NewICalExtractor(clients.Feeds, feedCache, archiver, rec),
		extract.NewScrapeExtractor(extract.NewPlaywrightSource(cfg.Scrape), cfg.Scrape, archiver),
		extract.NewEmailExtractor(extract.NewIMAPMailbox(cfg.Email.DialTimeout), cfg.Email, archiver),
		extract.NewExtensionExtractor(store),
	)

	hub := notify.NewHub(cfg.API.AllowedOrigins...)
	go hub.Run(ctx)

	sinks := []notify.Sink{notify.NewHubSink(hub)}
	if mailer := notify.NewMailer(cfg.SMTP); mailer != nil {
		sinks = append(sinks, mailer)
		log.Info().Str("host", cfg.SMTP.Host).Msg("SMTP notifications enabled")
	}
	notifier := workers.NewNotificationWorker(notify.NewDispatcher(rec, sinks...), 256)
	go notifier.Run(ctx)

	bookings := services.NewBookingService(store, notifier)
	cascade := syncer.NewCascade(extractors, bookings, rec)
	orchestrator := syncer.NewOrchestrator(cfg.Sync, store, sqliteStore, registry, cascade)

	if opts.SyncOnce {
		err := syncOnce(ctx, orchestrator, opts)
		cancel()
		<-notifier.Done()
		return err
	}

	sched := scheduler.New(cfg.Scheduler, orchestrator, sqliteStore)
	if err := sched.Start(ctx); err != nil {
		return err
	}
	defer sched.Stop()

	var httpServer *http.Server
	serverErr := make(chan error, 1)
	if opts.Serve || cfg.API.Addr != "" {
		addr := cfg.API.Addr
		if addr == "" {
			addr = ":8080"
		}
		handler := api.NewHandler(orchestrator, store, sqliteStore, registry, rec, hub)
		httpServer = &http.Server{
			Addr:         addr,
			Handler:      api.NewServer(handler, cfg.API.AccessKey),
			ReadTimeout:  30 * time.Second,
			WriteTimeout: cfg.Sync.RunTimeout + time.Minute,
			IdleTimeout:  120 * time.Second,
		}
		go func() {
			log.Info().Str("addr", addr).Msg("HTTP server listening")
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serverErr <- err
			}
		}()
	}

	log.Info().Msg("Daemon running. Press Ctrl+C to stop.")
	select {
	case <-ctx.Done():
	case err := <-serverErr:
		log.Error().Err(err).Msg("HTTP server error")
		cancel()
	}

	log.Info().Msg("Shutting down...")
	if httpServer != nil {
		shutdownCtx, done := context.WithTimeout(context.Background(), 30*time.Second)
		defer done()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("HTTP server shutdown")
		}
	}
	<-notifier.Done()
	log.Info().Msg("Goodbye!")
	return nil
}

func syncOnce(ctx context.Context, o *syncer.Orchestrator, opts options) error {
	switch {
	case opts.User != 0 && opts.Channel != "":
		result, err := o.SyncChannel(ctx, opts.User, models.ChannelID(opts.Channel))
		if err != nil {
			return err
		}
		logResult(opts.Channel, result)
	case opts.User != 0:
		results, err := o.SyncAllChannels(ctx, opts.User)
		if err != nil {
			return err
		}
		for name, result := range results {
			logResult(name, result)
		}
	case opts.Channel != "":
		return errors.New("--channel requires --user")
	default:
		return o.SyncAllUsers(ctx, syncer.RunOptions{})
	}
	return nil
}

func logResult(channel string, r models.SyncResult) {
	ev := log.Info()
	if !r.Success {
		ev = log.Warn().Str("error", r.Error)
	}
	ev.Str("channel", channel).
		Str("method", string(r.MethodUsed)).
		Int("found", r.BookingsFound).
		Int("saved", r.BookingsSaved).
		Int("record_errors", r.RecordErrors).
		Dur("duration", r.Duration).
		Msg("sync result")
}

func newArchiver(ctx context.Context, cfg config.ArchiveConfig) storage.Archiver {
	if !cfg.Enabled() {
		return storage.NoopArchiver{}
	}
	a, err := storage.NewS3Archiver(ctx, storage.S3Config{
		Bucket:          cfg.Bucket,
		Region:          cfg.Region,
		Endpoint:        cfg.Endpoint,
		AccessKeyID:     cfg.AccessKeyID,
		SecretAccessKey: cfg.SecretAccessKey,
	})
	if err != nil {
		log.Warn().Err(err).Msg("raw payload archive disabled")
		return storage.NoopArchiver{}
	}
	log.Info().Str("bucket", cfg.Bucket).Msg("raw payload archive enabled")
	return a
}

// maskConnectionString hides the password of a database URL for logging.
func maskConnectionString(connStr string) string {
	u, err := url.Parse(connStr)
	if err != nil || u.User == nil {
		return "****"
	}
	return u.Redacted()
}
