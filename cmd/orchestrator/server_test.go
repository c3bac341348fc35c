package main

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/sirupsen/logrus"

	"tab-relay/internal/models"
	"tab-relay/internal/orchestrator"
	"tab-relay/internal/store"
	"tab-relay/mocks"
)

func newTestServer(t *testing.T) (*server, *mocks.MockController) {
	t.Helper()

	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	mock := mocks.NewMockController(ctrl)
	return newServer(mock, &orchestrator.Metrics{}, logrus.NewEntry(logger)), mock
}

func postAction(t *testing.T, srv *server, body string) (*httptest.ResponseRecorder, models.ActionResponse) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/actions", strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.routes().ServeHTTP(rec, req)

	var payload models.ActionResponse
	if err := json.NewDecoder(rec.Body).Decode(&payload); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return rec, payload
}

func TestHandleStartSearch(t *testing.T) {
	srv, ctrl := newTestServer(t)
	ctrl.EXPECT().StartSearch(gomock.Any(), models.StartSearchRequest{
		Action:    models.ActionStartSearch,
		SessionID: "s1",
		URLs:      []string{"https://www.linkedin.com/in/a", "https://www.linkedin.com/in/b"},
	}).Return(2, nil)

	rec, payload := postAction(t, srv, `{"action":"startSearch","sessionId":"s1","urls":["https://www.linkedin.com/in/a","https://www.linkedin.com/in/b"]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
	if !payload.Success || payload.Message != "Search started with 2 URLs" {
		t.Fatalf("unexpected response: %+v", payload)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("expected CORS header, got %q", got)
	}
}

func TestHandleStartSearchInvalid(t *testing.T) {
	srv, ctrl := newTestServer(t)
	ctrl.EXPECT().StartSearch(gomock.Any(), gomock.Any()).Return(0, orchestrator.ErrInvalidSearch)

	rec, payload := postAction(t, srv, `{"action":"startSearch","urls":["x"]}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
	}
	if payload.Success || payload.Error != "Invalid search parameters" {
		t.Fatalf("unexpected response: %+v", payload)
	}
}

func TestHandleStopSearch(t *testing.T) {
	srv, ctrl := newTestServer(t)
	ctrl.EXPECT().StopSearch(gomock.Any(), "s1").Return(nil)

	_, payload := postAction(t, srv, `{"action":"stopSearch","sessionId":"s1"}`)
	if !payload.Success || payload.Message != "Search stopped" {
		t.Fatalf("unexpected response: %+v", payload)
	}
}

func TestHandleStopSearchNotFound(t *testing.T) {
	srv, ctrl := newTestServer(t)
	ctrl.EXPECT().StopSearch(gomock.Any(), "legacy").Return(store.ErrSessionNotFound)

	rec, payload := postAction(t, srv, `{"action":"stopSearch","searchId":"legacy"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
	if payload.Success || payload.Message != "Search not found" {
		t.Fatalf("unexpected response: %+v", payload)
	}
}

func TestHandleGetActiveSearches(t *testing.T) {
	srv, ctrl := newTestServer(t)
	ctrl.EXPECT().ActiveSearches(gomock.Any()).Return([]string{"a", "b"}, nil)

	req := httptest.NewRequest(http.MethodPost, "/actions", strings.NewReader(`{"action":"getActiveSearches"}`))
	rec := httptest.NewRecorder()
	srv.routes().ServeHTTP(rec, req)

	var payload models.ActiveSearchesResponse
	if err := json.NewDecoder(rec.Body).Decode(&payload); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(payload.Searches) != 2 || payload.Searches[0] != "a" {
		t.Fatalf("unexpected searches: %v", payload.Searches)
	}
}

func TestHandlePingAndKeepAlive(t *testing.T) {
	srv, ctrl := newTestServer(t)
	ctrl.EXPECT().Ping().Return(models.ActionResponse{Success: true, Message: "pong"})

	_, payload := postAction(t, srv, `{"action":"ping"}`)
	if !payload.Success || payload.Message != "pong" {
		t.Fatalf("unexpected ping response: %+v", payload)
	}
	_, payload = postAction(t, srv, `{"action":"keepAlive"}`)
	if !payload.Success {
		t.Fatalf("unexpected keepAlive response: %+v", payload)
	}
}

func TestHandleExtractionComplete(t *testing.T) {
	srv, ctrl := newTestServer(t)
	ctrl.EXPECT().HandleExtractionComplete(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ interface{}, msg models.ExtractionComplete) error {
			if msg.Session() != "s1" || msg.ResolvedURL() != "https://www.linkedin.com/in/a" || !msg.Success {
				t.Fatalf("unexpected message: %+v", msg)
			}
			if string(msg.ProfileData) != `{"name":"A"}` {
				t.Fatalf("unexpected profile data: %s", msg.ProfileData)
			}
			return nil
		})

	_, payload := postAction(t, srv, `{"action":"extractionComplete","success":true,"sessionId":"s1","profileUrl":"https://www.linkedin.com/in/a","profileData":{"name":"A"}}`)
	if !payload.Success {
		t.Fatalf("unexpected response: %+v", payload)
	}
}

func TestHandleExtractionCompleteStoreError(t *testing.T) {
	srv, ctrl := newTestServer(t)
	ctrl.EXPECT().HandleExtractionComplete(gomock.Any(), gomock.Any()).Return(errors.New("redis down"))

	rec, payload := postAction(t, srv, `{"action":"extractionComplete","success":true,"sessionId":"s1","url":"x"}`)
	if rec.Code != http.StatusInternalServerError || payload.Success {
		t.Fatalf("unexpected response %d: %+v", rec.Code, payload)
	}
}

func TestHandleUnknownAction(t *testing.T) {
	srv, _ := newTestServer(t)

	rec, payload := postAction(t, srv, `{"action":"reboot"}`)
	if rec.Code != http.StatusBadRequest || payload.Error != "Unknown action" {
		t.Fatalf("unexpected response %d: %+v", rec.Code, payload)
	}
}

func TestHandleActionPreflight(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/actions", nil)
	rec := httptest.NewRecorder()
	srv.routes().ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected status %d, got %d", http.StatusNoContent, rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Methods") == "" {
		t.Fatal("expected allowed methods header")
	}
}

func TestHandleSessionStatus(t *testing.T) {
	srv, ctrl := newTestServer(t)
	ctrl.EXPECT().Status(gomock.Any(), "s1").Return(models.SessionStatus{SessionID: "s1", Progress: "1/3"}, nil)
	ctrl.EXPECT().Status(gomock.Any(), "gone").Return(models.SessionStatus{}, store.ErrSessionNotFound)

	req := httptest.NewRequest(http.MethodGet, "/sessions/s1", nil)
	rec := httptest.NewRecorder()
	srv.routes().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
	var status models.SessionStatus
	if err := json.NewDecoder(rec.Body).Decode(&status); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if status.Progress != "1/3" {
		t.Fatalf("unexpected progress: %s", status.Progress)
	}

	req = httptest.NewRequest(http.MethodGet, "/sessions/gone", nil)
	rec = httptest.NewRecorder()
	srv.routes().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status %d, got %d", http.StatusNotFound, rec.Code)
	}
}

func TestHandleMetrics(t *testing.T) {
	srv, ctrl := newTestServer(t)
	ctrl.EXPECT().ActiveSearches(gomock.Any()).Return([]string{"s1"}, nil)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	srv.routes().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "tabrelay_active_sessions 1") {
		t.Fatalf("unexpected metrics body: %s", rec.Body.String())
	}
}
