package config

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// WatchStations loads stations.yaml, hands it to onUpdate and then polls the
// file, calling onUpdate again whenever a newer valid version appears.
// An invalid edit is logged and the previous version stays in effect.
func WatchStations(ctx context.Context, path string, interval time.Duration, logger *zerolog.Logger, onUpdate func(*StationsConfig)) error {
	if path == "" {
		path = "configs/stations.yaml"
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	log := zerolog.Nop()
	if logger != nil {
		log = logger.With().Str("component", "stations-watch").Str("path", path).Logger()
	}

	cfg, err := LoadStationsConfig(path)
	if err != nil {
		return err
	}
	onUpdate(cfg)

	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	lastMod := info.ModTime()

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				info, err := os.Stat(path)
				if err != nil {
					log.Warn().Err(err).Msg("stat stations config")
					continue
				}
				if !info.ModTime().After(lastMod) {
					continue
				}
				lastMod = info.ModTime()

				cfg, err := LoadStationsConfig(path)
				if err != nil {
					log.Error().Err(err).Msg("reload stations config")
					continue
				}
				log.Info().Str("summary", cfg.String()).Msg("stations config reloaded")
				onUpdate(cfg)
			}
		}
	}()

	return nil
}
