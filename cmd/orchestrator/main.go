package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"tab-relay/common"
	"tab-relay/internal/backend"
	"tab-relay/internal/browser"
	"tab-relay/internal/config"
	"tab-relay/internal/kafka"
	"tab-relay/internal/orchestrator"
	"tab-relay/internal/store"
	"tab-relay/internal/tasks"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}
	common.SetupLogging(cfg.LogLevel, cfg.LogFormat)
	log := logrus.WithField("component", "orchestrator")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatalf("orchestrator failed: %v", err)
	}
	log.Info("orchestrator stopped")
}

func run(ctx context.Context, cfg config.Config, log *logrus.Entry) error {
	backendStore, err := store.OpenBackend(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := backendStore.Close(); err != nil {
			log.Warnf("failed to close session store: %v", err)
		}
	}()
	log.Infof("session store: %s (key %q)", cfg.StoreBackend, cfg.SessionsKey)
	repo := store.NewRepository(store.NewCodecStore(backendStore), cfg.SessionsKey)

	agentJS := ""
	if cfg.AgentScriptPath != "" {
		raw, err := os.ReadFile(cfg.AgentScriptPath)
		if err != nil {
			return err
		}
		agentJS = string(raw)
	}
	tabs, err := browser.Launch(ctx, browser.LaunchConfig{
		DebuggerURL: cfg.DebuggerURL,
		ChromeBin:   cfg.ChromeBin,
		Headless:    cfg.Headless,
		AgentScript: agentJS,
	}, log.WithField("component", "browser"))
	if err != nil {
		return err
	}
	defer func() {
		if err := tabs.Shutdown(); err != nil {
			log.Warnf("failed to shut down browser: %v", err)
		}
	}()

	var publisher kafka.RecordPublisher
	if cfg.KafkaBroker != "" {
		p := kafka.NewPublisher(cfg.KafkaBroker, cfg.KafkaResultsTopic, cfg.KafkaDLQTopic)
		defer func() {
			if err := p.Close(); err != nil {
				log.Warnf("failed to close publisher: %v", err)
			}
		}()
		publisher = p
		log.Infof("mirroring records to kafka %s (%s, %s)", cfg.KafkaBroker, cfg.KafkaResultsTopic, cfg.KafkaDLQTopic)
	}

	reporter := backend.NewReporter(
		&http.Client{Timeout: cfg.BackendTimeout},
		cfg.BackendRetries,
		cfg.BackendRetryStep,
		cfg.BackendUserAgent,
		log.WithField("component", "reporter"),
	)

	sched := tasks.NewScheduler(ctx, log.WithField("component", "tasks"))
	defer sched.Stop()

	orch := orchestrator.New(orchestrator.Options{
		Config:    cfg,
		Repo:      repo,
		Tabs:      tabs,
		Reporter:  reporter,
		Publisher: publisher,
		Scheduler: sched,
		Log:       log,
	})
	if err := orch.Resume(ctx, cfg.ResetOnStartup); err != nil {
		return err
	}

	srv := newServer(orch, orch.Metrics(), log.WithField("component", "http"))
	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Infof("control surface listening on %s", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
