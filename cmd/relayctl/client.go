package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"tab-relay/internal/models"
)

var errNotReady = errors.New("orchestrator did not answer ping")

// relayClient talks to the orchestrator's control surface.
type relayClient struct {
	base         *url.URL
	http         *http.Client
	pingAttempts int
	pingStep     time.Duration
}

func newRelayClient(addr string, httpClient *http.Client) (*relayClient, error) {
	base, err := url.Parse(strings.TrimRight(addr, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse address: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("address %q needs scheme and host", addr)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &relayClient{
		base:         base,
		http:         httpClient,
		pingAttempts: 5,
		pingStep:     200 * time.Millisecond,
	}, nil
}

// waitReady pings until the orchestrator answers, backing off linearly between tries.
func (c *relayClient) waitReady(ctx context.Context) error {
	var lastErr error
	for attempt := 0; attempt < c.pingAttempts; attempt++ {
		var resp models.ActionResponse
		lastErr = c.do(ctx, models.ActionRequest{Action: models.ActionPing}, &resp)
		if lastErr == nil && resp.Success {
			return nil
		}
		if lastErr == nil {
			lastErr = fmt.Errorf("ping rejected: %s", resp.Error)
		}
		timer := time.NewTimer(time.Duration(attempt+1) * c.pingStep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return fmt.Errorf("%w: %v", errNotReady, lastErr)
}

// action pings first and then posts payload to /actions, decoding the reply into out.
func (c *relayClient) action(ctx context.Context, payload, out any) error {
	if err := c.waitReady(ctx); err != nil {
		return err
	}
	return c.do(ctx, payload, out)
}

func (c *relayClient) do(ctx context.Context, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/actions"), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.send(req, out)
}

func (c *relayClient) status(ctx context.Context, sessionID string) (models.SessionStatus, error) {
	var status models.SessionStatus
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/sessions/"+sessionID), nil)
	if err != nil {
		return status, err
	}
	err = c.send(req, &status)
	return status, err
}

func (c *relayClient) send(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s: not found", req.URL.Path)
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("%s: status %d", req.URL.Path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err)
	}
	return nil
}

func (c *relayClient) endpoint(path string) string {
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + path
	return u.String()
}
