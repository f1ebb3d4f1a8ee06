package main

import (
	"context"
	"fmt"
	"time"

	"evslots/internal/admission"
	"evslots/internal/auth"
	"evslots/internal/booking"
	"evslots/internal/config"
	"evslots/internal/database"
	"evslots/internal/domain"
	"evslots/internal/rules"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE:  runMigrate,
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Bearer token commands",
}

var issueTokenCmd = &cobra.Command{
	Use:   "issue",
	Short: "Issue a bearer token for a principal",
	RunE:  runIssueToken,
}

var syncStationsCmd = &cobra.Command{
	Use:   "sync-stations",
	Short: "Apply stations.yaml once and print what changed",
	RunE:  runSyncStations,
}

var (
	tokenSubject string
	tokenRole    string
	tokenTTL     time.Duration
)

func init() {
	issueTokenCmd.Flags().StringVar(&tokenSubject, "sub", "", "principal id")
	issueTokenCmd.Flags().StringVar(&tokenRole, "role", string(domain.RoleOwner), "Owner, StationOperator or Backoffice")
	issueTokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 0, "token lifetime (defaults to auth.token_ttl_minutes)")
	_ = issueTokenCmd.MarkFlagRequired("sub")

	rootCmd.AddCommand(migrateCmd, tokenCmd, syncStationsCmd)
	tokenCmd.AddCommand(issueTokenCmd)
}

func runMigrate(_ *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := database.NewDB(cfg.Database.Path, cfg.BusyTimeout(), &logger)
	if err != nil {
		return err
	}
	defer db.Close()

	version, err := db.Version()
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	logger.Info().Int64("version", version).Str("path", cfg.Database.Path).Msg("database is up to date")
	return nil
}

func runIssueToken(cmd *cobra.Command, _ []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	role, err := domain.ParseRole(tokenRole)
	if err != nil {
		return err
	}
	ttl := tokenTTL
	if ttl <= 0 {
		ttl = cfg.TokenTTL()
	}
	token, err := auth.NewTokenService(cfg.Auth.JWTSecret, ttl).GenerateToken(domain.Principal{ID: tokenSubject, Role: role})
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}

func runSyncStations(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	stations, err := config.LoadStationsConfig(cfg.Stations.Path)
	if err != nil {
		return err
	}
	db, err := database.NewDB(cfg.Database.Path, cfg.BusyTimeout(), &logger)
	if err != nil {
		return err
	}
	defer db.Close()

	validator := rules.NewValidator(rules.Limits{
		MinAdvance:  cfg.BookingMinAdvance(),
		MaxHorizon:  cfg.BookingMaxHorizon(),
		MaxDuration: cfg.BookingMaxDuration(),
	})
	coordinator := admission.NewCoordinator(db, validator, booking.NewMachine(validator), nil, nil, &logger)

	report, err := coordinator.SyncDirectory(context.Background(), stations)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "created: %v\nupdated: %v\ndeactivated: %v\n", report.Created, report.Updated, report.Deactivated)
	for id, reason := range report.Skipped {
		fmt.Fprintf(out, "skipped %s: %s\n", id, reason)
	}
	return nil
}
