package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/rs/zerolog/log"

	"gorrent/config"
	"gorrent/internal/applog"
	"gorrent/trackerserver"
)

const version = "0.1.0"

// resolve returns flagValue unless it's empty, in which case it falls back
// to configValue -- a flag always overrides the environment-driven default.
func resolve(flagValue, configValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return configValue
}

var cli struct {
	Addr    string `help:"Address to listen on, overriding TRACKER_LISTEN_ADDR." default:""`
	DataDir string `help:"Directory to store uploaded torrent files in, overriding TRACKER_DATA_DIR." default:""`
}

func main() {
	applog.Init("gorrent-tracker", version)
	defer applog.Shutdown()

	kong.Parse(&cli)

	addr := resolve(cli.Addr, config.Main.Tracker.ListenAddr)
	dataDir := resolve(cli.DataDir, config.Main.Tracker.DataDir)
	if err := os.MkdirAll(dataDir, os.ModePerm); err != nil {
		log.Fatal().Err(err).Str("path", dataDir).Msg("failed to create tracker data directory")
	}

	server := trackerserver.NewServer(config.Main.Tracker.TrackerID, dataDir)
	httpServer := &http.Server{Addr: addr, Handler: server.Handler()}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info().Str("addr", addr).Str("data_dir", dataDir).Msg("tracker listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("tracker server stopped unexpectedly")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down tracker")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("error during tracker shutdown")
		os.Exit(1)
	}
}
