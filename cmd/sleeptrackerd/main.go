// v2
// cmd/sleeptrackerd/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wirepecion/embed-project-sleep-tracker-ML/internal/actuation"
	"github.com/wirepecion/embed-project-sleep-tracker-ML/internal/config"
	"github.com/wirepecion/embed-project-sleep-tracker-ML/internal/engine"
	"github.com/wirepecion/embed-project-sleep-tracker-ML/internal/httpapi"
	"github.com/wirepecion/embed-project-sleep-tracker-ML/internal/logging"
	"github.com/wirepecion/embed-project-sleep-tracker-ML/internal/model"
	"github.com/wirepecion/embed-project-sleep-tracker-ML/internal/score"
	"github.com/wirepecion/embed-project-sleep-tracker-ML/internal/session"
	"github.com/wirepecion/embed-project-sleep-tracker-ML/internal/sink"
	"github.com/wirepecion/embed-project-sleep-tracker-ML/internal/store"
	"github.com/wirepecion/embed-project-sleep-tracker-ML/internal/store/postgres"
)

func main() {
	lg, lf := logging.InitLogger()
	defer func() {
		if err := lf.Close(); err != nil {
			lg.Error("log file close", "error", err)
		}
	}()
	lg.Info("sleeptracker starting")

	cfg, err := config.Load()
	if err != nil {
		lg.Error("config", "error", err)
		os.Exit(1)
	}
	tun := cfg.Tun()
	lg.Info("config loaded", "pollInterval", tun.PollInterval, "batchMax", tun.MaxBatch, "workers", tun.Workers)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var st store.Store
	if cfg.PostgresDSN != "" {
		pg, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			lg.Error("postgres", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := pg.Close(); err != nil {
				lg.Error("postgres close", "error", err)
			}
		}()
		st = pg
		lg.Info("postgres store ready")
	} else {
		st = store.NewMemory()
		lg.Warn("no POSTGRES_DSN; using in-memory store (dev mode)")
	}

	src, err := model.OpenSource(ctx, cfg.ModelSource)
	if err != nil {
		lg.Error("model source", "error", err)
		os.Exit(1)
	}
	models := model.NewRegistry(src, lg)
	if _, err := models.Reload(ctx); err != nil {
		// rule-only scoring keeps working until the first successful reload
		lg.Warn("initial model load failed; scoring in degraded mode", "error", err)
	}

	var cmdSink actuation.CommandSink
	var noteSink actuation.NotificationSink
	if len(cfg.KafkaBrokers) > 0 {
		k, err := sink.NewKafka(cfg.KafkaBrokers, cfg.CommandTopic, cfg.ReportTopic, cfg.TopicReplication, lg)
		if err != nil {
			lg.Error("kafka sinks", "error", err)
			os.Exit(1)
		}
		defer k.Close()
		cmdSink, noteSink = k, k
	} else {
		l := sink.NewLog(lg)
		cmdSink, noteSink = l, l
		lg.Warn("no KAFKA_BROKERS; commands and notifications go to the log")
	}

	registry := session.NewRegistry(st, lg)
	eng := engine.New(cfg, lg, st, registry, models, cmdSink, noteSink)

	srv := httpapi.NewServer(cfg.HTTPBind, lg, &httpapi.Handlers{
		Cfg:    cfg,
		Lg:     lg,
		Store:  st,
		Models: models,
		Scorer: score.NewHybridScorer(models),
		Stats:  eng.Stats,
	})
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			lg.Error("http", "error", err)
		}
	}()

	done := make(chan struct{})
	go func() {
		eng.Run(ctx)
		close(done)
	}()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	lg.Info("shutdown signal received")
	cancel()
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		lg.Warn("engine did not stop within grace period")
	}
	sh, c := context.WithTimeout(context.Background(), 5*time.Second)
	defer c()
	if err := srv.Stop(sh); err != nil {
		lg.Error("http stop", "error", err)
	}
	lg.Info("sleeptracker stopped")
}
