package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"tab-relay/internal/models"
)

// sessionRecord is the at-rest shape of a session. Counters are pointers so records
// written before they existed can be told apart from zero values.
type sessionRecord struct {
	SessionID         string          `json:"sessionId"`
	URLs              []string        `json:"urls"`
	CompletedURLs     []string        `json:"completedUrls"`
	CurrentIndex      int             `json:"currentIndex"`
	ConsecutiveErrors *int            `json:"consecutiveErrors,omitempty"`
	TotalErrors       *int            `json:"totalErrors,omitempty"`
	IsStopping        bool            `json:"isStopping"`
	ActiveExtractions json.RawMessage `json:"activeExtractions,omitempty"`
	StartTime         time.Time       `json:"startTime"`
	LastProcessedTime *time.Time      `json:"lastProcessedTime,omitempty"`
	BackendURL        string          `json:"backendUrl"`
}

// EncodeSessions serializes the mapping. completedUrls is written as a list ordered by
// position in urls and active jobs as a list.
func EncodeSessions(sessions map[string]*models.Session) ([]byte, error) {
	records := make(map[string]sessionRecord, len(sessions))
	for id, s := range sessions {
		if s == nil {
			continue
		}
		rec, err := toRecord(s)
		if err != nil {
			return nil, fmt.Errorf("encode session %s: %w", id, err)
		}
		records[id] = rec
	}
	return json.Marshal(records)
}

// DecodeSessions parses the mapping and back-fills fields missing from older records.
func DecodeSessions(payload []byte) (map[string]*models.Session, error) {
	out := map[string]*models.Session{}
	if len(bytes.TrimSpace(payload)) == 0 {
		return out, nil
	}
	var records map[string]sessionRecord
	if err := json.Unmarshal(payload, &records); err != nil {
		return nil, fmt.Errorf("decode sessions: %w", err)
	}
	for id, rec := range records {
		s, err := fromRecord(id, rec)
		if err != nil {
			return nil, fmt.Errorf("decode session %s: %w", id, err)
		}
		out[id] = s
	}
	return out, nil
}

func toRecord(s *models.Session) (sessionRecord, error) {
	completed := make([]string, 0, len(s.CompletedURLs))
	for _, u := range s.URLs {
		if s.CompletedURLs.Has(u) {
			completed = append(completed, u)
		}
	}
	jobs := make([]*models.ExtractionJob, 0, len(s.ActiveExtractions))
	for _, u := range s.URLs {
		if job, ok := s.ActiveExtractions[u]; ok {
			jobs = append(jobs, job)
		}
	}
	rawJobs, err := json.Marshal(jobs)
	if err != nil {
		return sessionRecord{}, err
	}
	consecutive := s.ConsecutiveErrors
	total := s.TotalErrors
	last := s.LastProcessedTime
	return sessionRecord{
		SessionID:         s.SessionID,
		URLs:              s.URLs,
		CompletedURLs:     completed,
		CurrentIndex:      s.CurrentIndex,
		ConsecutiveErrors: &consecutive,
		TotalErrors:       &total,
		IsStopping:        s.IsStopping,
		ActiveExtractions: rawJobs,
		StartTime:         s.StartTime,
		LastProcessedTime: &last,
		BackendURL:        s.BackendURL,
	}, nil
}

func fromRecord(id string, rec sessionRecord) (*models.Session, error) {
	s := &models.Session{
		SessionID:         rec.SessionID,
		URLs:              rec.URLs,
		CompletedURLs:     models.NewURLSet(),
		CurrentIndex:      rec.CurrentIndex,
		IsStopping:        rec.IsStopping,
		ActiveExtractions: make(map[string]*models.ExtractionJob),
		StartTime:         rec.StartTime,
		LastProcessedTime: rec.StartTime,
		BackendURL:        rec.BackendURL,
	}
	if s.SessionID == "" {
		s.SessionID = id
	}
	if s.URLs == nil {
		s.URLs = []string{}
	}
	if rec.ConsecutiveErrors != nil {
		s.ConsecutiveErrors = *rec.ConsecutiveErrors
	}
	if rec.TotalErrors != nil {
		s.TotalErrors = *rec.TotalErrors
	}
	if rec.LastProcessedTime != nil && !rec.LastProcessedTime.IsZero() {
		s.LastProcessedTime = *rec.LastProcessedTime
	}
	if s.CurrentIndex < 0 {
		s.CurrentIndex = 0
	}
	if s.CurrentIndex > len(s.URLs) {
		s.CurrentIndex = len(s.URLs)
	}

	// Only URLs of this session may be completed.
	known := models.NewURLSet(s.URLs...)
	for _, u := range rec.CompletedURLs {
		if known.Has(u) {
			s.CompletedURLs.Add(u)
		}
	}

	jobs, err := decodeJobs(rec.ActiveExtractions)
	if err != nil {
		return nil, err
	}
	for _, job := range jobs {
		if job == nil || job.URL == "" {
			continue
		}
		s.ActiveExtractions[job.URL] = job
	}
	return s, nil
}

// decodeJobs accepts either a list of jobs or an object keyed by URL.
func decodeJobs(raw json.RawMessage) ([]*models.ExtractionJob, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	if raw[0] == '[' {
		var list []*models.ExtractionJob
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, fmt.Errorf("decode active extractions: %w", err)
		}
		return list, nil
	}
	var byURL map[string]*models.ExtractionJob
	if err := json.Unmarshal(raw, &byURL); err != nil {
		return nil, fmt.Errorf("decode active extractions: %w", err)
	}
	list := make([]*models.ExtractionJob, 0, len(byURL))
	for u, job := range byURL {
		if job == nil {
			continue
		}
		if job.URL == "" {
			job.URL = u
		}
		list = append(list, job)
	}
	return list, nil
}
