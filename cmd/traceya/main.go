// The traceya device app server. It owns the local event store, runs the
// offline-first sync queue against the remote collection service, and serves
// the UI over REST and WebSocket on localhost.
package main

import (
	"context"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/traceya/backend/internal/api"
	"github.com/traceya/backend/internal/config"
	"github.com/traceya/backend/internal/db"
	"github.com/traceya/backend/internal/logging"
	"github.com/traceya/backend/internal/models"
	"github.com/traceya/backend/internal/sms"
	syncmgr "github.com/traceya/backend/internal/sync"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Error("Failed to load configuration", err, nil)
		os.Exit(1)
	}

	initLogging(cfg.LogFile, cfg.LogLevel)

	if err := run(cfg); err != nil {
		logging.Error("Server exited with error", err, nil)
		os.Exit(1)
	}
}

// initLogging sets up the global logger, with file rotation when a log file
// is configured.
func initLogging(logFile, level string) {
	var out io.Writer = os.Stdout
	if logFile != "" {
		out = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
		})
	}
	logging.Init(out, logging.ParseLevel(level))
}

func run(cfg *config.Config) error {
	database, err := db.Open(cfg.DataDir)
	if err != nil {
		return err
	}
	defer database.Close()

	migrator := db.NewMigrator(database.DB)
	if err := migrator.Up(); err != nil {
		return err
	}

	store := db.NewRepository(database.DB)
	defer store.Close()

	settings, err := store.EnsureSettings(models.DefaultSettings())
	if err != nil {
		return err
	}

	transport := syncmgr.NewHTTPTransport(cfg.RemoteBaseURL, cfg.TransportTimeout)
	manager := syncmgr.NewManager(store, transport, syncmgr.Options{
		DeviceID:       cfg.DeviceID,
		MaxAutoRetries: cfg.MaxAutoRetries,
	})

	hub := NewWSHub()
	manager.SetBroadcaster(hub)

	manager.StartAutoSync(models.SyncInterval(settings.SyncIntervalMin))
	defer manager.StopAutoSync()

	apiServer := api.New(store, manager, sms.NewMockGateway())
	router := apiServer.Router()
	router.Get("/ws", hub.ServeWS)

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info("traceya app server listening", map[string]interface{}{
			"addr":   cfg.ListenAddr,
			"remote": cfg.RemoteBaseURL,
		})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logging.Info("Shutting down", map[string]interface{}{"signal": sig.String()})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}
