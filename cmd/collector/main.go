// Command collector runs the development event collector.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/pulsekit/telemetry-go/internal/collector"
)

func main() {
	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfg, err := env.ParseAsWithOptions[collector.Config](env.Options{Prefix: "COLLECTOR_"})
	if err != nil {
		log.Error("config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var sink collector.Sink = collector.NewMemorySink()
	if cfg.PostgresDSN != "" {
		pg, err := collector.NewPGSink(ctx, cfg.PostgresDSN)
		if err != nil {
			log.Error("postgres sink", "error", err)
			os.Exit(1)
		}
		defer pg.Close()
		if err := pg.EnsureSchema(ctx); err != nil {
			log.Error("postgres schema", "error", err)
			os.Exit(1)
		}
		sink = pg
		log.Info("sink: postgres")
	} else {
		log.Info("sink: memory")
	}

	s := &collector.Server{
		Cfg:  cfg,
		Sink: sink,
		Log:  log,
		Now:  func() time.Time { return time.Now().UTC() },
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http server", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel2 := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel2()
	_ = srv.Shutdown(shutdownCtx)
}
