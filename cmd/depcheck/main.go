package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/segmentio/kafka-go"

	"tab-relay/internal/config"
	"tab-relay/internal/store"
)

// check probes one dependency and returns a short description of what it found.
type check struct {
	name  string
	probe func(ctx context.Context) (string, error)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if failed := runChecks(ctx, os.Stdout, checksFor(cfg)); failed > 0 {
		os.Exit(1)
	}
}

func checksFor(cfg config.Config) []check {
	checks := []check{{
		name:  "store (" + cfg.StoreBackend + ")",
		probe: func(ctx context.Context) (string, error) { return probeStore(ctx, cfg) },
	}}
	if cfg.KafkaBroker != "" {
		checks = append(checks, check{
			name:  "kafka",
			probe: func(ctx context.Context) (string, error) { return probeKafka(ctx, cfg.KafkaBroker) },
		})
	}
	return checks
}

// runChecks prints one line per check and returns how many failed.
func runChecks(ctx context.Context, out io.Writer, checks []check) int {
	failed := 0
	for _, c := range checks {
		detail, err := c.probe(ctx)
		if err != nil {
			failed++
			fmt.Fprintf(out, "FAIL %s: %v\n", c.name, err)
			continue
		}
		fmt.Fprintf(out, "ok   %s: %s\n", c.name, detail)
	}
	return failed
}

type pinger interface {
	Ping(ctx context.Context) error
}

func probeStore(ctx context.Context, cfg config.Config) (string, error) {
	backend, err := store.OpenBackend(cfg)
	if err != nil {
		return "", err
	}
	defer backend.Close()

	if p, ok := backend.(pinger); ok {
		if err := p.Ping(ctx); err != nil {
			return "", fmt.Errorf("ping: %w", err)
		}
	}
	sessions, err := store.NewCodecStore(backend).Get(ctx, cfg.SessionsKey)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", cfg.SessionsKey, err)
	}
	return fmt.Sprintf("%d stored sessions under %q", len(sessions), cfg.SessionsKey), nil
}

func probeKafka(ctx context.Context, broker string) (string, error) {
	conn, err := kafka.DialContext(ctx, "tcp", broker)
	if err != nil {
		return "", fmt.Errorf("connect to %s: %w", broker, err)
	}
	defer conn.Close()

	partitions, err := conn.ReadPartitions()
	if err != nil {
		return "", fmt.Errorf("read metadata: %w", err)
	}
	return fmt.Sprintf("connected to %s (%d partitions)", broker, len(partitions)), nil
}
