package models

import "encoding/json"

// Control actions accepted on the action endpoint.
const (
	ActionStartSearch        = "startSearch"
	ActionStopSearch         = "stopSearch"
	ActionGetActiveSearches  = "getActiveSearches"
	ActionPing               = "ping"
	ActionKeepAlive          = "keepAlive"
	ActionExtractionComplete = "extractionComplete"
	ActionSetSearchContext   = "setSearchContext"
)

// ActionRequest is the envelope shared by all control messages.
type ActionRequest struct {
	Action string `json:"action"`
}

// StartSearchRequest creates (or replaces) a session.
type StartSearchRequest struct {
	Action     string   `json:"action"`
	SessionID  string   `json:"sessionId"`
	SearchID   string   `json:"searchId,omitempty"` // older clients
	URLs       []string `json:"urls"`
	BackendURL string   `json:"backendUrl,omitempty"`
}

// ID returns the requested session id.
func (r StartSearchRequest) ID() string {
	if r.SessionID != "" {
		return r.SessionID
	}
	return r.SearchID
}

// StopSearchRequest asks for a session to be stopped.
type StopSearchRequest struct {
	Action    string `json:"action"`
	SessionID string `json:"sessionId"`
	SearchID  string `json:"searchId,omitempty"`
}

// ID returns the session to stop.
func (r StopSearchRequest) ID() string {
	if r.SessionID != "" {
		return r.SessionID
	}
	return r.SearchID
}

// ActionResponse is the generic reply to a control action.
type ActionResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ActiveSearchesResponse lists the sessions currently in the store.
type ActiveSearchesResponse struct {
	Searches []string `json:"searches"`
}

// SearchContext is delivered to the page agent of an opened tab.
type SearchContext struct {
	Action      string `json:"action"`
	SessionID   string `json:"sessionId"`
	BackendURL  string `json:"backendUrl"`
	Attempt     int    `json:"attempt"`
	JobID       string `json:"jobId"`
	TabID       string `json:"tabId"`
	CallbackURL string `json:"callbackUrl,omitempty"`
}

// ExtractionComplete is the agent's completion callback.
type ExtractionComplete struct {
	Action           string          `json:"action"`
	Success          bool            `json:"success"`
	ProfileData      json.RawMessage `json:"profileData,omitempty"`
	Error            string          `json:"error,omitempty"`
	URL              string          `json:"url,omitempty"`
	ProfileURL       string          `json:"profileUrl,omitempty"`
	ExtractionMethod string          `json:"extractionMethod,omitempty"`
	SessionID        string          `json:"sessionId,omitempty"`
	SearchID         string          `json:"searchId,omitempty"` // older agents
	BackendURL       string          `json:"backendUrl,omitempty"`
	RetryCount       int             `json:"retryCount,omitempty"`
	DataQuality      json.RawMessage `json:"dataQuality,omitempty"`
	JobID            string          `json:"jobId,omitempty"`
	TabID            string          `json:"tabId,omitempty"`
}

// Session returns the session the completion belongs to, if any.
func (m ExtractionComplete) Session() string {
	if m.SessionID != "" {
		return m.SessionID
	}
	return m.SearchID
}

// ResolvedURL prefers profileUrl over url.
func (m ExtractionComplete) ResolvedURL() string {
	if m.ProfileURL != "" {
		return m.ProfileURL
	}
	return m.URL
}
