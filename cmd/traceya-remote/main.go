// The traceya-remote mock backend. It stands in for the regulator-side
// system of record: it validates submitted collection events, anchors them
// with a mock blockchain receipt, and serves the researcher query API.
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

	"github.com/traceya/backend/internal/config"
	"github.com/traceya/backend/internal/logging"
	"github.com/traceya/backend/internal/server"
)

func main() {
	cfg, err := config.LoadRemote()
	if err != nil {
		logging.Error("Failed to load configuration", err, nil)
		os.Exit(1)
	}

	var out io.Writer = os.Stdout
	if cfg.LogFile != "" {
		out = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
		})
	}
	logging.Init(out, logging.ParseLevel(cfg.LogLevel))

	if err := run(cfg); err != nil {
		logging.Error("Server exited with error", err, nil)
		os.Exit(1)
	}
}

func run(cfg *config.RemoteConfig) error {
	store, err := server.OpenStore(cfg.DataDir)
	if err != nil {
		return err
	}
	defer store.Close()

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: server.New(store).Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info("traceya remote backend listening", map[string]interface{}{
			"addr": cfg.ListenAddr,
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
