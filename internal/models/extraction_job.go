package models

import "time"

// ExtractionJob is the in-flight work for a single URL of a session.
type ExtractionJob struct {
	ID                 string    `json:"id"`
	URL                string    `json:"url"`
	URLIndex           int       `json:"urlIndex"`
	TabID              string    `json:"tabId,omitempty"`
	StartTime          time.Time `json:"startTime"`
	InjectionAttempted bool      `json:"injectionAttempted"`
	LoadTaskID         string    `json:"loadTaskId,omitempty"`
	TimeoutTaskID      string    `json:"timeoutTaskId,omitempty"`
}
