package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tab-relay/internal/models"
)

func TestEncodeDecodeRoundTripKeepsOrderAndJobs(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s := models.NewSession("s1", []string{"a", "b", "c"}, "http://backend", now)
	s.CompletedURLs.Add("c")
	s.CompletedURLs.Add("a")
	s.CurrentIndex = 2
	s.TotalErrors = 1
	s.ActiveExtractions["b"] = &models.ExtractionJob{ID: "j1", URL: "b", URLIndex: 1, TabID: "t1", StartTime: now}

	payload, err := EncodeSessions(map[string]*models.Session{"s1": s})
	require.NoError(t, err)
	require.Contains(t, string(payload), `"completedUrls":["a","c"]`)

	decoded, err := DecodeSessions(payload)
	require.NoError(t, err)
	got := decoded["s1"]
	require.NotNil(t, got)
	require.True(t, got.CompletedURLs.Has("a"))
	require.True(t, got.CompletedURLs.Has("c"))
	require.False(t, got.CompletedURLs.Has("b"))
	require.Equal(t, 2, got.CurrentIndex)
	require.Equal(t, 1, got.TotalErrors)
	require.Equal(t, "t1", got.ActiveExtractions["b"].TabID)
	require.True(t, got.LastProcessedTime.Equal(now))
}

func TestDecodeBackfillsOlderRecords(t *testing.T) {
	payload := []byte(`{"s1":{"urls":["a","b"],"completedUrls":["a","zzz"],"currentIndex":9,
		"activeExtractions":[],"startTime":"2026-01-02T03:04:05Z","backendUrl":"http://b"}}`)

	decoded, err := DecodeSessions(payload)
	require.NoError(t, err)
	s := decoded["s1"]
	require.Equal(t, "s1", s.SessionID)
	require.Equal(t, 0, s.ConsecutiveErrors)
	require.Equal(t, 0, s.TotalErrors)
	require.Equal(t, 2, s.CurrentIndex)
	require.Len(t, s.CompletedURLs, 1)
	require.Empty(t, s.ActiveExtractions)
	require.True(t, s.LastProcessedTime.Equal(s.StartTime))
}

func TestDecodeAcceptsJobsKeyedByURL(t *testing.T) {
	payload := []byte(`{"s1":{"urls":["a"],"activeExtractions":{"a":{"id":"j"}}}}`)
	decoded, err := DecodeSessions(payload)
	require.NoError(t, err)
	require.Equal(t, "j", decoded["s1"].ActiveExtractions["a"].ID)
	require.Equal(t, "a", decoded["s1"].ActiveExtractions["a"].URL)
}

func TestDecodeEmptyPayload(t *testing.T) {
	decoded, err := DecodeSessions(nil)
	require.NoError(t, err)
	require.Empty(t, decoded)

	_, err = DecodeSessions([]byte("{broken"))
	require.Error(t, err)
}
