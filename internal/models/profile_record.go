package models

import (
	"encoding/json"
	"time"
)

// Extraction methods reported for failures produced by the orchestrator itself.
const (
	MethodTabError = "active-tab-error"
	MethodTimeout  = "active-tab-timeout"
)

// ProfileRecord is the body posted to the backend for every processed URL.
type ProfileRecord struct {
	SessionID         string          `json:"sessionId,omitempty"`
	ProfileURL        string          `json:"profileUrl"`
	Success           bool            `json:"success"`
	Error             string          `json:"error,omitempty"`
	ExtractionMethod  string          `json:"extractionMethod,omitempty"`
	ProfileData       json.RawMessage `json:"profileData,omitempty"`
	DataQuality       json.RawMessage `json:"dataQuality,omitempty"`
	RetryCount        int             `json:"retryCount,omitempty"`
	ConsecutiveErrors int             `json:"consecutiveErrors"`
	TotalErrors       int             `json:"totalErrors"`
	Timestamp         time.Time       `json:"timestamp"`
}

// RecordFromCompletion builds the backend record for an agent callback.
func RecordFromCompletion(msg ExtractionComplete, profileURL string, consecutive, total int, now time.Time) ProfileRecord {
	return ProfileRecord{
		SessionID:         msg.Session(),
		ProfileURL:        profileURL,
		Success:           msg.Success,
		Error:             msg.Error,
		ExtractionMethod:  msg.ExtractionMethod,
		ProfileData:       msg.ProfileData,
		DataQuality:       msg.DataQuality,
		RetryCount:        msg.RetryCount,
		ConsecutiveErrors: consecutive,
		TotalErrors:       total,
		Timestamp:         now.UTC(),
	}
}

// FailureRecord builds the backend record for a URL the orchestrator gave up on.
func FailureRecord(s *Session, url, method, errMsg string, now time.Time) ProfileRecord {
	return ProfileRecord{
		SessionID:         s.SessionID,
		ProfileURL:        url,
		Success:           false,
		Error:             errMsg,
		ExtractionMethod:  method,
		ConsecutiveErrors: s.ConsecutiveErrors,
		TotalErrors:       s.TotalErrors,
		Timestamp:         now.UTC(),
	}
}

// DeliveryFailure captures a record the backend never accepted, for the DLQ.
type DeliveryFailure struct {
	Record      ProfileRecord `json:"record"`
	Destination string        `json:"destination"`
	Error       string        `json:"error"`
	Attempts    int           `json:"attempts"`
	FailedAt    time.Time     `json:"failedAt"`
}
