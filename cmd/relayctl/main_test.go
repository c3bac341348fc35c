package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"tab-relay/internal/models"
)

// fakeRelay answers the control surface and records the actions it receives.
type fakeRelay struct {
	mu           sync.Mutex
	pingFailures int
	pings        int
	actions      []map[string]any
}

func (f *fakeRelay) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if strings.HasPrefix(r.URL.Path, "/sessions/") {
		id := strings.TrimPrefix(r.URL.Path, "/sessions/")
		if id != "s1" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(models.SessionStatus{
			SessionID:   "s1",
			Progress:    "1/2",
			TotalErrors: 1,
			ActiveJob:   &models.ExtractionJob{URL: "https://www.linkedin.com/in/b"},
		})
		return
	}

	var msg map[string]any
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	switch msg["action"] {
	case models.ActionPing:
		f.pings++
		if f.pings <= f.pingFailures {
			http.Error(w, "starting", http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(models.ActionResponse{Success: true, Message: "pong"})
	case models.ActionStartSearch:
		f.actions = append(f.actions, msg)
		urls, _ := msg["urls"].([]any)
		_ = json.NewEncoder(w).Encode(models.ActionResponse{Success: true, Message: fmt.Sprintf("Search started with %d URLs", len(urls))})
	case models.ActionStopSearch:
		f.actions = append(f.actions, msg)
		_ = json.NewEncoder(w).Encode(models.ActionResponse{Message: "Search not found"})
	case models.ActionGetActiveSearches:
		_ = json.NewEncoder(w).Encode(models.ActiveSearchesResponse{Searches: []string{"s1", "s2"}})
	default:
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(models.ActionResponse{Error: "Unknown action"})
	}
}

func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestLoadURLFile(t *testing.T) {
	dir := t.TempDir()

	validPath := filepath.Join(dir, "valid.json")
	if err := os.WriteFile(validPath, []byte(`{"urls":["https://www.linkedin.com/in/a"," ",""]}`), 0644); err != nil {
		t.Fatal(err)
	}
	emptyPath := filepath.Join(dir, "empty.json")
	if err := os.WriteFile(emptyPath, []byte(`{"urls":[]}`), 0644); err != nil {
		t.Fatal(err)
	}
	badJSONPath := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(badJSONPath, []byte(`{not json`), 0644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		path    string
		wantErr bool
		urls    int
	}{
		{"valid", validPath, false, 1},
		{"missing", filepath.Join(dir, "missing.json"), true, 0},
		{"empty urls", emptyPath, true, 0},
		{"invalid json", badJSONPath, true, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			urls, err := loadURLFile(tt.path)
			if (err != nil) != tt.wantErr {
				t.Fatalf("loadURLFile() err = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && len(urls) != tt.urls {
				t.Errorf("len(urls) = %d, want %d", len(urls), tt.urls)
			}
			if tt.name == "empty urls" && !errors.Is(err, errNoURLs) {
				t.Errorf("empty urls: err = %v, want errNoURLs", err)
			}
		})
	}
}

func TestWaitReadyBacksOff(t *testing.T) {
	relay := &fakeRelay{pingFailures: 2}
	srv := httptest.NewServer(relay)
	defer srv.Close()

	c, err := newRelayClient(srv.URL, nil)
	if err != nil {
		t.Fatal(err)
	}
	c.pingStep = time.Millisecond

	if err := c.waitReady(context.Background()); err != nil {
		t.Fatalf("waitReady() err = %v", err)
	}
	if relay.pings != 3 {
		t.Fatalf("expected 3 pings, got %d", relay.pings)
	}
}

func TestWaitReadyGivesUp(t *testing.T) {
	relay := &fakeRelay{pingFailures: 100}
	srv := httptest.NewServer(relay)
	defer srv.Close()

	c, err := newRelayClient(srv.URL, nil)
	if err != nil {
		t.Fatal(err)
	}
	c.pingStep = time.Millisecond

	if err := c.waitReady(context.Background()); !errors.Is(err, errNotReady) {
		t.Fatalf("expected errNotReady, got %v", err)
	}
	if relay.pings != c.pingAttempts {
		t.Fatalf("expected %d pings, got %d", c.pingAttempts, relay.pings)
	}
}

func TestNewRelayClientRejectsBadAddress(t *testing.T) {
	if _, err := newRelayClient("localhost", nil); err == nil {
		t.Fatal("expected error for address without scheme")
	}
}

func TestStartCommand(t *testing.T) {
	relay := &fakeRelay{}
	srv := httptest.NewServer(relay)
	defer srv.Close()

	out, err := runCmd(t, "--addr", srv.URL, "start", "--session", "s1", "--backend", "http://backend",
		"https://www.linkedin.com/in/a", "https://www.linkedin.com/in/b")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if strings.TrimSpace(out) != "s1: Search started with 2 URLs" {
		t.Fatalf("unexpected output: %q", out)
	}
	if len(relay.actions) != 1 {
		t.Fatalf("expected 1 action, got %d", len(relay.actions))
	}
	if relay.actions[0]["sessionId"] != "s1" || relay.actions[0]["backendUrl"] != "http://backend" {
		t.Fatalf("unexpected request: %v", relay.actions[0])
	}
}

func TestStartCommandNeedsURLs(t *testing.T) {
	if _, err := runCmd(t, "--addr", "http://127.0.0.1:1", "start"); !errors.Is(err, errNoURLs) {
		t.Fatalf("expected errNoURLs, got %v", err)
	}
}

func TestStopCommandNotFound(t *testing.T) {
	relay := &fakeRelay{}
	srv := httptest.NewServer(relay)
	defer srv.Close()

	_, err := runCmd(t, "--addr", srv.URL, "stop", "ghost")
	if err == nil || !strings.Contains(err.Error(), "Search not found") {
		t.Fatalf("expected not found error, got %v", err)
	}
}

func TestListAndStatusCommands(t *testing.T) {
	relay := &fakeRelay{}
	srv := httptest.NewServer(relay)
	defer srv.Close()

	out, err := runCmd(t, "--addr", srv.URL, "list")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if out != "s1\ns2\n" {
		t.Fatalf("unexpected list output: %q", out)
	}

	out, err = runCmd(t, "--addr", srv.URL, "status", "s1")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out, "progress: 1/2") || !strings.Contains(out, "active:   https://www.linkedin.com/in/b") {
		t.Fatalf("unexpected status output: %q", out)
	}

	if _, err := runCmd(t, "--addr", srv.URL, "status", "missing"); err == nil {
		t.Fatal("expected error for unknown session")
	}
}

const listingPage = `<html><body>
<a href="https://www.linkedin.com/in/alice?trk=search">Alice</a>
<a href="https://www.linkedin.com/in/alice/">Alice again</a>
<a href="https://www.linkedin.com/company/acme">Acme</a>
<a href="https://www.linkedin.com/in/bob#about">Bob</a>
<a href="mailto:someone@example.com">Mail</a>
<a href="/in/local">Local</a>
</body></html>`

func TestHarvestProfileLinks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(listingPage))
	}))
	defer srv.Close()

	links, err := harvestProfileLinks([]string{srv.URL + "/results"}, harvestOptions{Pattern: "linkedin.com/in/", Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("harvest: %v", err)
	}
	want := []string{"https://www.linkedin.com/in/alice", "https://www.linkedin.com/in/bob"}
	if strings.Join(links, ",") != strings.Join(want, ",") {
		t.Fatalf("links = %v, want %v", links, want)
	}

	limited, err := harvestProfileLinks([]string{srv.URL + "/other"}, harvestOptions{Pattern: "linkedin.com/in/", Limit: 1})
	if err != nil {
		t.Fatalf("harvest with limit: %v", err)
	}
	if len(limited) != 1 {
		t.Fatalf("expected 1 link, got %v", limited)
	}
}

func TestHarvestReportsFetchErrors(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	if _, err := harvestProfileLinks([]string{srv.URL}, harvestOptions{Pattern: "linkedin.com/in/"}); err == nil {
		t.Fatal("expected error for 404 listing page")
	}
}

func TestHarvestCommandPrintsURLFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(listingPage))
	}))
	defer srv.Close()

	out, err := runCmd(t, "harvest", srv.URL)
	if err != nil {
		t.Fatalf("harvest: %v", err)
	}
	var f URLFile
	if err := json.Unmarshal([]byte(out), &f); err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if len(f.URLs) != 2 {
		t.Fatalf("unexpected urls: %v", f.URLs)
	}
}

func TestHarvestHonoursRobots(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			_, _ = w.Write([]byte("User-agent: *\nDisallow: /private\n"))
			return
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(listingPage))
	}))
	defer srv.Close()

	opts := harvestOptions{Pattern: "linkedin.com/in/", RespectRobots: true}
	if _, err := harvestProfileLinks([]string{srv.URL + "/private/results"}, opts); err == nil {
		t.Fatal("expected robots.txt to block the listing page")
	}
	links, err := harvestProfileLinks([]string{srv.URL + "/public/results"}, opts)
	if err != nil {
		t.Fatalf("harvest public page: %v", err)
	}
	if len(links) != 2 {
		t.Fatalf("unexpected links: %v", links)
	}
}
