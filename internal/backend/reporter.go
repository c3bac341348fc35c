package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// DeliveryError is returned when every attempt to post a record failed.
type DeliveryError struct {
	Destination string
	Attempts    int
	Err         error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("backend delivery to %s failed after %d attempts: %v", e.Destination, e.Attempts, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Response is the decoded backend reply. Backends that do not answer JSON yield a zero Response.
type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// Reporter posts records to the backend with bounded linear-backoff retries.
type Reporter struct {
	client    *http.Client
	retries   int
	step      time.Duration
	userAgent string
	log       *logrus.Entry
}

// NewReporter builds a Reporter. retries is the total number of attempts.
func NewReporter(client *http.Client, retries int, step time.Duration, userAgent string, log *logrus.Entry) *Reporter {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if retries < 1 {
		retries = 1
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Reporter{client: client, retries: retries, step: step, userAgent: userAgent, log: log}
}

// Send posts record as JSON to destination+endpointPath. Attempt i that fails waits step*i
// before the next one; the last failure is returned as a *DeliveryError.
func (r *Reporter) Send(ctx context.Context, destination, endpointPath string, record any) (Response, error) {
	fullURL := strings.TrimRight(destination, "/") + endpointPath
	payload, err := json.Marshal(record)
	if err != nil {
		return Response{}, fmt.Errorf("encode record: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= r.retries; attempt++ {
		resp, err := r.post(ctx, fullURL, payload)
		if err == nil {
			r.log.WithFields(logrus.Fields{"url": fullURL, "attempt": attempt, "success": resp.Success}).Debug("backend accepted record")
			return resp, nil
		}
		lastErr = err
		r.log.WithFields(logrus.Fields{"url": fullURL, "attempt": attempt, "retries": r.retries}).Warnf("backend error: %v", err)
		if attempt == r.retries {
			break
		}
		if r.step > 0 {
			timer := time.NewTimer(r.step * time.Duration(attempt))
			select {
			case <-ctx.Done():
				timer.Stop()
				return Response{}, &DeliveryError{Destination: fullURL, Attempts: attempt, Err: ctx.Err()}
			case <-timer.C:
			}
		}
	}
	return Response{}, &DeliveryError{Destination: fullURL, Attempts: r.retries, Err: lastErr}
}

func (r *Reporter) post(ctx context.Context, fullURL string, payload []byte) (Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fullURL, bytes.NewReader(payload))
	if err != nil {
		return Response{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if r.userAgent != "" {
		req.Header.Set("User-Agent", r.userAgent)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return Response{}, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Response{}, fmt.Errorf("backend responded with status %d", resp.StatusCode)
	}
	var out Response
	_ = json.Unmarshal(body, &out)
	return out, nil
}
