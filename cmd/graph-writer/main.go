package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"tab-relay/common"
	"tab-relay/internal/graph"
	rkafka "tab-relay/internal/kafka"
	"tab-relay/internal/models"
)

type graphWriter struct {
	driver graph.DriverSessioner
	log    *logrus.Entry
}

// consumerStats counts one topic's throughput for /metrics.
// received: messages fetched from Kafka; failed: writes rejected by Neo4j or undecodable payloads.
type consumerStats struct {
	received uint64
	failed   uint64
	written  uint64
}

var (
	recordStats  consumerStats
	failureStats consumerStats
)

type neo4jDriver struct {
	driver neo4j.DriverWithContext
}

func (d *neo4jDriver) NewSession(ctx context.Context, config neo4j.SessionConfig) graph.SessionRunner {
	return d.driver.NewSession(ctx, config)
}

func (d *neo4jDriver) Close(ctx context.Context) error {
	return d.driver.Close(ctx)
}

func main() {
	common.SetupLogging(common.GetEnv("LOG_LEVEL", "info"), common.GetEnv("LOG_FORMAT", "text"))
	log := logrus.WithField("component", "graph-writer")

	if err := run(log); err != nil {
		log.WithError(err).Error("graph writer stopped")
		os.Exit(1)
	}
}

func run(log *logrus.Entry) error {
	broker := common.GetEnv("KAFKA_BROKER", "localhost:9092")
	resultsTopic := common.GetEnv("KAFKA_RESULTS_TOPIC", "tabrelay.extraction.results")
	dlqTopic := common.GetEnv("KAFKA_DLQ_TOPIC", "tabrelay.extraction.dlq")
	resultsGroup := common.GetEnv("KAFKA_RESULTS_GROUP", "tabrelay-graph-results")
	dlqGroup := common.GetEnv("KAFKA_DLQ_GROUP", "tabrelay-graph-dlq")
	metricsAddr := common.GetEnv("METRICS_ADDR", ":9091")

	neo4jURI := common.GetEnv("NEO4J_URI", "neo4j://localhost:7687")
	neo4jUser := common.GetEnv("NEO4J_USER", "neo4j")
	neo4jPassword := common.GetEnv("NEO4J_PASSWORD", "neo4j")

	driver, err := neo4j.NewDriverWithContext(neo4jURI, neo4j.BasicAuth(neo4jUser, neo4jPassword, ""))
	if err != nil {
		return fmt.Errorf("neo4j driver: %w", err)
	}
	defer func() {
		if err := driver.Close(context.Background()); err != nil {
			log.WithError(err).Warn("neo4j close failed")
		}
	}()

	writer := &graphWriter{driver: &neo4jDriver{driver: driver}, log: log}

	resultsReader := newReader(broker, resultsTopic, resultsGroup)
	defer closeReader(log, "results", resultsReader)
	dlqReader := newReader(broker, dlqTopic, dlqGroup)
	defer closeReader(log, "dlq", dlqReader)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	if metricsAddr != "" {
		g.Go(func() error { return serveMetrics(ctx, log, metricsAddr) })
	}
	g.Go(func() error {
		consume(ctx, log.WithField("topic", resultsTopic), resultsReader, writer.writeRecord, &recordStats)
		return nil
	})
	g.Go(func() error {
		consume(ctx, log.WithField("topic", dlqTopic), dlqReader, writer.writeFailure, &failureStats)
		return nil
	})
	log.WithFields(logrus.Fields{"broker": broker, "results": resultsTopic, "dlq": dlqTopic}).Info("graph writer started")
	return g.Wait()
}

func newReader(broker, topic, group string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers: []string{broker},
		Topic:   topic,
		GroupID: group,
	})
}

func closeReader(log *logrus.Entry, name string, r rkafka.MessageReader) {
	if err := r.Close(); err != nil {
		log.WithError(err).Warnf("%s reader close failed", name)
	}
}

func serveMetrics(ctx context.Context, log *logrus.Entry, addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", handleMetrics)
	server := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("metrics shutdown failed")
		}
	}()

	log.Infof("metrics listening on %s", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

func handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	w.WriteHeader(http.StatusOK)
	body := fmt.Sprintf(
		"tabrelay_graph_writer_up 1\n"+
			"tabrelay_graph_writer_records_received_total %d\n"+
			"tabrelay_graph_writer_records_failed_total %d\n"+
			"tabrelay_graph_writer_records_written_total %d\n"+
			"tabrelay_graph_writer_failures_received_total %d\n"+
			"tabrelay_graph_writer_failures_failed_total %d\n"+
			"tabrelay_graph_writer_failures_written_total %d\n",
		atomic.LoadUint64(&recordStats.received),
		atomic.LoadUint64(&recordStats.failed),
		atomic.LoadUint64(&recordStats.written),
		atomic.LoadUint64(&failureStats.received),
		atomic.LoadUint64(&failureStats.failed),
		atomic.LoadUint64(&failureStats.written),
	)
	_, _ = w.Write([]byte(body))
}

// consume fetches messages until ctx ends, committing each one only after it was written.
func consume(ctx context.Context, log *logrus.Entry, reader rkafka.MessageReader, write func(context.Context, []byte) error, stats *consumerStats) {
	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.WithError(err).Warn("fetch failed")
			time.Sleep(500 * time.Millisecond)
			continue
		}

		atomic.AddUint64(&stats.received, 1)
		if err := write(ctx, msg.Value); err != nil {
			atomic.AddUint64(&stats.failed, 1)
			log.WithError(err).WithField("offset", msg.Offset).Warn("graph write failed")
			continue
		}
		atomic.AddUint64(&stats.written, 1)

		if err := reader.CommitMessages(ctx, msg); err != nil {
			log.WithError(err).Warn("commit failed")
		}
	}
}

func (w *graphWriter) writeRecord(ctx context.Context, payload []byte) error {
	var rec models.ProfileRecord
	if err := json.Unmarshal(payload, &rec); err != nil {
		return err
	}
	if rec.ProfileURL == "" {
		return nil
	}
	query, params := buildRecordQuery(rec)
	return w.runWrite(ctx, query, params)
}

func (w *graphWriter) writeFailure(ctx context.Context, payload []byte) error {
	var failure models.DeliveryFailure
	if err := json.Unmarshal(payload, &failure); err != nil {
		return err
	}
	if failure.Record.ProfileURL == "" {
		return nil
	}
	query, params := buildFailureQuery(failure)
	return w.runWrite(ctx, query, params)
}

func (w *graphWriter) runWrite(ctx context.Context, query string, params map[string]any) error {
	session := w.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer func() {
		if err := session.Close(ctx); err != nil {
			w.log.WithError(err).Warn("neo4j session close failed")
		}
	}()

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		_, err := tx.Run(ctx, query, params)
		return nil, err
	})
	return err
}

// buildRecordQuery upserts the profile and, for session records, links it to its session.
// Manual extractions carry no session and only touch the profile node.
func buildRecordQuery(rec models.ProfileRecord) (string, map[string]any) {
	query := "MERGE (p:Profile {url: $url}) " +
		"SET p.last_processed = $timestamp, " +
		"p.extraction_method = coalesce($method, p.extraction_method)"
	if rec.SessionID != "" {
		query += fmt.Sprintf(
			" MERGE (s:Session {id: $session_id}) "+
				"MERGE (s)-[r:%s]->(p) "+
				"SET r.timestamp = $timestamp, r.error = $error, "+
				"r.retry_count = $retry_count, r.total_errors = $total_errors",
			relationType(rec),
		)
	}
	params := map[string]any{
		"url":          rec.ProfileURL,
		"timestamp":    rec.Timestamp.UTC().Format(time.RFC3339),
		"method":       optional(rec.ExtractionMethod),
		"session_id":   rec.SessionID,
		"error":        optional(rec.Error),
		"retry_count":  rec.RetryCount,
		"total_errors": rec.TotalErrors,
	}
	return query, params
}

// buildFailureQuery records a delivery the backend never accepted as an UNDELIVERED edge.
func buildFailureQuery(failure models.DeliveryFailure) (string, map[string]any) {
	sessionID := failure.Record.SessionID
	if sessionID == "" {
		sessionID = "manual"
	}
	query := "MERGE (p:Profile {url: $url}) " +
		"MERGE (s:Session {id: $session_id}) " +
		"MERGE (s)-[r:UNDELIVERED {destination: $destination}]->(p) " +
		"SET r.error = $error, r.attempts = $attempts, r.failed_at = $failed_at"
	params := map[string]any{
		"url":         failure.Record.ProfileURL,
		"session_id":  sessionID,
		"destination": failure.Destination,
		"error":       failure.Error,
		"attempts":    failure.Attempts,
		"failed_at":   failure.FailedAt.UTC().Format(time.RFC3339),
	}
	return query, params
}

func relationType(rec models.ProfileRecord) string {
	if rec.Success {
		return "EXTRACTED"
	}
	return "FAILED"
}

func optional(s string) any {
	if s == "" {
		return nil
	}
	return s
}
