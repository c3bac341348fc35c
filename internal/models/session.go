package models

import (
	"strconv"
	"time"
)

// URLSet is an unordered set of profile URLs.
type URLSet map[string]struct{}

// NewURLSet builds a set from the given URLs.
func NewURLSet(urls ...string) URLSet {
	set := make(URLSet, len(urls))
	for _, u := range urls {
		set[u] = struct{}{}
	}
	return set
}

// Has reports whether u is in the set.
func (s URLSet) Has(u string) bool {
	_, ok := s[u]
	return ok
}

// Add inserts u and reports whether it was new.
func (s URLSet) Add(u string) bool {
	if _, ok := s[u]; ok {
		return false
	}
	s[u] = struct{}{}
	return true
}

// Session is one crawl run over an ordered list of profile URLs.
type Session struct {
	SessionID         string                    `json:"sessionId"`
	URLs              []string                  `json:"urls"`
	CompletedURLs     URLSet                    `json:"-"`
	CurrentIndex      int                       `json:"currentIndex"`
	ConsecutiveErrors int                       `json:"consecutiveErrors"`
	TotalErrors       int                       `json:"totalErrors"`
	IsStopping        bool                      `json:"isStopping"`
	ActiveExtractions map[string]*ExtractionJob `json:"activeExtractions"` // keyed by URL; at most one entry
	StartTime         time.Time                 `json:"startTime"`
	LastProcessedTime time.Time                 `json:"lastProcessedTime"`
	BackendURL        string                    `json:"backendUrl"`
}

// NewSession creates a session positioned at the first URL.
func NewSession(id string, urls []string, backendURL string, now time.Time) *Session {
	return &Session{
		SessionID:         id,
		URLs:              urls,
		CompletedURLs:     NewURLSet(),
		ActiveExtractions: make(map[string]*ExtractionJob),
		StartTime:         now,
		LastProcessedTime: now,
		BackendURL:        backendURL,
	}
}

// HasURL reports whether u belongs to the session's URL list.
func (s *Session) HasURL(u string) bool {
	for _, candidate := range s.URLs {
		if candidate == u {
			return true
		}
	}
	return false
}

// Done reports whether every URL has been processed or the cursor ran past the end.
func (s *Session) Done() bool {
	return len(s.CompletedURLs) >= len(s.URLs) || s.CurrentIndex >= len(s.URLs)
}

// NextPending returns the index of the first URL at or after CurrentIndex that is not completed, or -1.
func (s *Session) NextPending() int {
	for i := s.CurrentIndex; i < len(s.URLs); i++ {
		if !s.CompletedURLs.Has(s.URLs[i]) {
			return i
		}
	}
	return -1
}

// ActiveJob returns the single in-flight job, if any.
func (s *Session) ActiveJob() *ExtractionJob {
	for _, job := range s.ActiveExtractions {
		return job
	}
	return nil
}

// FindJob locates an active job by job id, tab id or URL, in that order of preference.
func (s *Session) FindJob(jobID, tabID, url string) *ExtractionJob {
	for _, job := range s.ActiveExtractions {
		if jobID != "" && job.ID == jobID {
			return job
		}
	}
	for _, job := range s.ActiveExtractions {
		if tabID != "" && job.TabID == tabID {
			return job
		}
	}
	if url != "" {
		return s.ActiveExtractions[url]
	}
	return nil
}

// Progress returns a "completed/total" indicator.
func (s *Session) Progress() string {
	return strconv.Itoa(len(s.CompletedURLs)) + "/" + strconv.Itoa(len(s.URLs))
}

// Clone returns a deep copy safe to hand out of the store.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.URLs = append([]string(nil), s.URLs...)
	out.CompletedURLs = make(URLSet, len(s.CompletedURLs))
	for u := range s.CompletedURLs {
		out.CompletedURLs[u] = struct{}{}
	}
	out.ActiveExtractions = make(map[string]*ExtractionJob, len(s.ActiveExtractions))
	for u, job := range s.ActiveExtractions {
		j := *job
		out.ActiveExtractions[u] = &j
	}
	return &out
}

// SessionStatus is the progress view of a session returned by the control surface.
type SessionStatus struct {
	SessionID         string         `json:"sessionId"`
	Progress          string         `json:"progress"`
	Completed         int            `json:"completed"`
	Total             int            `json:"total"`
	CurrentIndex      int            `json:"currentIndex"`
	ConsecutiveErrors int            `json:"consecutiveErrors"`
	TotalErrors       int            `json:"totalErrors"`
	IsStopping        bool           `json:"isStopping"`
	ActiveJob         *ExtractionJob `json:"activeJob,omitempty"`
	StartTime         time.Time      `json:"startTime"`
	LastProcessedTime time.Time      `json:"lastProcessedTime"`
}

// Status builds the progress view of the session.
func (s *Session) Status() SessionStatus {
	return SessionStatus{
		SessionID:         s.SessionID,
		Progress:          s.Progress(),
		Completed:         len(s.CompletedURLs),
		Total:             len(s.URLs),
		CurrentIndex:      s.CurrentIndex,
		ConsecutiveErrors: s.ConsecutiveErrors,
		TotalErrors:       s.TotalErrors,
		IsStopping:        s.IsStopping,
		ActiveJob:         s.ActiveJob(),
		StartTime:         s.StartTime,
		LastProcessedTime: s.LastProcessedTime,
	}
}
