// Package daemon wires the build server together and runs it.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"slipway/internal/config"
	"slipway/internal/history"
	infradocker "slipway/internal/infra/docker"
	"slipway/internal/logtail"
	"slipway/internal/pipeline"
	"slipway/internal/server"
	"slipway/internal/workspace"

	systemd "github.com/coreos/go-systemd/v22/daemon"
	"golang.org/x/sync/errgroup"
)

const engineReadyTimeout = 30 * time.Second

// Run starts the HTTP server after verifying the container engine is
// reachable, then blocks until ctx is cancelled.
func Run(ctx context.Context, cfg *config.Config) error {
	if err := infradocker.CheckSocket(cfg.DockerSocket); err != nil {
		return err
	}

	rt, err := infradocker.NewRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	readyCtx, cancel := context.WithTimeout(ctx, engineReadyTimeout)
	defer cancel()
	if err := rt.WaitReady(readyCtx); err != nil {
		return fmt.Errorf("container engine not ready: %w", err)
	}

	historyDB := cfg.HistoryDB
	if historyDB == "" {
		historyDB = filepath.Join(cfg.AppsPath, "slipway.db")
	}
	store, err := history.Open(historyDB)
	if err != nil {
		return err
	}
	defer store.Close()

	ws := workspace.NewManager(cfg.AppsPath)
	p := pipeline.New(rt, ws, pipeline.Config{
		BuildImage:   cfg.BuildImage,
		RuntimeImage: cfg.RuntimeImage,
		Network:      cfg.Network,
		Domain:       cfg.Domain,
	}, store, pipeline.RealClock{})

	h := server.NewHandler(cfg.Token, ws, p, &logtail.Tailer{}, store)
	srv := server.New(server.Config{Host: cfg.Host, Port: cfg.Port}, h)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("Starting build server.", "addr", srv.Addr, "domain", cfg.Domain)

		// Notify systemd that the daemon is ready.
		if _, err := systemd.SdNotify(false, systemd.SdNotifyReady); err != nil {
			slog.Error("Failed to notify systemd that the daemon is ready.", "err", err)
		}

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
