package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"evslots/internal/admission"
	"evslots/internal/api"
	"evslots/internal/audit"
	"evslots/internal/auth"
	"evslots/internal/availability"
	"evslots/internal/booking"
	"evslots/internal/config"
	"evslots/internal/database"
	"evslots/internal/events"
	"evslots/internal/metrics"
	"evslots/internal/notify"
	"evslots/internal/rules"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the REST API and background jobs",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Auth.JWTSecret == "" || cfg.Auth.JWTSecret == "change_me_in_production" {
		return fmt.Errorf("set auth.jwt_secret in config")
	}
	verificationSecret := cfg.Auth.VerificationSecret
	if verificationSecret == "" {
		verificationSecret = cfg.Auth.JWTSecret
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewDB(cfg.Database.Path, cfg.BusyTimeout(), &logger)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	var rdb *redis.Client
	if cfg.Redis.Address != "" && cfg.Redis.CacheTTLSeconds > 0 {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Address, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
	}

	bus := events.NewEventBus(&logger)
	bus.SubscribeAll(audit.NewJournal(db).HandleEvent)

	var cache availability.Cache
	if rdb != nil {
		redisCache := availability.NewRedisCache(rdb, cfg.CacheTTL(), &logger)
		bus.SubscribeAll(redisCache.HandleEvent)
		cache = redisCache
	}

	validator := rules.NewValidator(rules.Limits{
		MinAdvance:  cfg.BookingMinAdvance(),
		MaxHorizon:  cfg.BookingMaxHorizon(),
		MaxDuration: cfg.BookingMaxDuration(),
	})
	machine := booking.NewMachine(validator)
	verifier := auth.NewVerifier(verificationSecret, cfg.VerificationGrace())
	coordinator := admission.NewCoordinator(db, validator, machine, verifier, bus, &logger)
	exporter := audit.NewExporter(db, nil)

	if cfg.Monitoring.PrometheusEnabled {
		metrics.Register()
		go api.Serve(ctx, fmt.Sprintf(":%d", cfg.Monitoring.PrometheusPort), api.MetricsHandler(), &logger)
	}
	go api.Serve(ctx, fmt.Sprintf(":%d", cfg.Monitoring.HealthCheckPort), api.HealthHandler(db, rdb), &logger)

	go database.NewBackupService(db, cfg.Backup, cfg.BackupInterval(), &logger).Start(ctx)

	if err := watchStations(ctx, cfg, coordinator, &logger); err != nil {
		logger.Warn().Err(err).Str("path", cfg.Stations.Path).Msg("station directory not loaded")
	}

	if cfg.Telegram.BotToken != "" && len(cfg.Telegram.OperatorChatIDs) > 0 {
		notifier, err := notify.NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.OperatorChatIDs, &logger)
		if err != nil {
			logger.Error().Err(err).Msg("telegram notifications disabled")
		} else {
			bus.SubscribeAll(notifier.HandleEvent)
			notifier.StartPendingDigest(ctx, db, cfg.Telegram.DigestHour)
			if cfg.Telegram.MonthlyReport {
				reporter := audit.NewReporter(exporter, notifier, &logger)
				reporter.Start()
				defer reporter.Stop()
			}
		}
	}

	server := api.NewServer(api.Options{
		Address:           cfg.HTTP.Address,
		ReadTimeout:       time.Duration(cfg.HTTP.ReadTimeoutSeconds) * time.Second,
		WriteTimeout:      time.Duration(cfg.HTTP.WriteTimeoutSeconds) * time.Second,
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		Burst:             cfg.RateLimit.Burst,
	}, api.Dependencies{
		Tokens:       auth.NewTokenService(cfg.Auth.JWTSecret, cfg.TokenTTL()),
		Bookings:     booking.NewService(db, machine, verifier, bus, &logger),
		Admission:    coordinator,
		Availability: availability.NewService(db, cache, &logger),
		Exporter:     exporter,
		Stations:     db,
	}, &logger)

	logger.Info().Str("address", cfg.HTTP.Address).Msg("evslots started")
	return server.Run(ctx)
}

// watchStations keeps the station table in line with stations.yaml.
func watchStations(ctx context.Context, cfg *config.Config, coordinator *admission.Coordinator, logger *zerolog.Logger) error {
	return config.WatchStations(ctx, cfg.Stations.Path, cfg.StationsWatchInterval(), logger, func(sc *config.StationsConfig) {
		report, err := coordinator.SyncDirectory(ctx, sc)
		if err != nil {
			logger.Error().Err(err).Msg("station directory sync failed")
			return
		}
		ev := logger.Info().
			Strs("created", report.Created).
			Strs("updated", report.Updated).
			Strs("deactivated", report.Deactivated)
		for id, reason := range report.Skipped {
			logger.Warn().Str("station_id", id).Str("reason", reason).Msg("station change skipped")
		}
		ev.Msg("station directory synced")
	})
}
