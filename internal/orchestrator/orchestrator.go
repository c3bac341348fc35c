// Package orchestrator drives sessions through their URL lists one tab at a time.
//
// All session state lives in the store; every timer chain is a named task in the
// task scheduler so that a stop, a completion or a timeout can cancel exactly the
// work it supersedes. Job-level failures never escape: they are converted into a
// forced queue advance, and every advance is backed by three staggered ticks.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"tab-relay/internal/backend"
	"tab-relay/internal/browser"
	"tab-relay/internal/config"
	"tab-relay/internal/kafka"
	"tab-relay/internal/models"
	"tab-relay/internal/store"
	"tab-relay/internal/tasks"
)

// Reporter posts records to the backend.
type Reporter interface {
	Send(ctx context.Context, destination, endpointPath string, record any) (backend.Response, error)
}

// Controller is the surface exposed to control clients and page agents.
type Controller interface {
	StartSearch(ctx context.Context, req models.StartSearchRequest) (int, error)
	StopSearch(ctx context.Context, sessionID string) error
	ActiveSearches(ctx context.Context) ([]string, error)
	Status(ctx context.Context, sessionID string) (models.SessionStatus, error)
	HandleExtractionComplete(ctx context.Context, msg models.ExtractionComplete) error
	Ping() models.ActionResponse
}

var _ Controller = (*Orchestrator)(nil)

// Options wires an Orchestrator. Publisher may be nil.
type Options struct {
	Config    config.Config
	Repo      *store.Repository
	Tabs      browser.Tabs
	Reporter  Reporter
	Publisher kafka.RecordPublisher
	Scheduler *tasks.Scheduler
	Log       *logrus.Entry
	Now       func() time.Time
}

// Orchestrator is the session queue.
type Orchestrator struct {
	cfg       config.Config
	repo      *store.Repository
	tabs      browser.Tabs
	reporter  Reporter
	publisher kafka.RecordPublisher
	sched     *tasks.Scheduler
	locks     *store.KeyedMutex
	log       *logrus.Entry
	now       func() time.Time
	metrics   *Metrics
}

// New builds an Orchestrator from opts.
func New(opts Options) *Orchestrator {
	log := opts.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Orchestrator{
		cfg:       opts.Config,
		repo:      opts.Repo,
		tabs:      opts.Tabs,
		reporter:  opts.Reporter,
		publisher: opts.Publisher,
		sched:     opts.Scheduler,
		locks:     store.NewKeyedMutex(),
		log:       log,
		now:       now,
		metrics:   &Metrics{},
	}
}

// Metrics returns the live counters.
func (o *Orchestrator) Metrics() *Metrics {
	return o.metrics
}

// Task names. Everything owned by a session lives under sessionPrefix so a stop can
// cancel it in one call; tab closes and backend reports live outside it so they
// survive the session being finished.
func sessionPrefix(sessionID string) string {
	return "session/" + sessionID + "/"
}

func jobPrefix(sessionID, jobID string) string {
	return sessionPrefix(sessionID) + "job/" + jobID + "/"
}

func continuationPrefix(sessionID string) string {
	return sessionPrefix(sessionID) + "continue/"
}

func (o *Orchestrator) sessionLog(sessionID string) *logrus.Entry {
	return o.log.WithField("session_id", sessionID)
}

// StartSearch creates a session from urls (filtered to the profile pattern and de-duplicated,
// order preserved), replacing any session with the same id, and schedules the first tick.
// It returns the number of URLs accepted.
func (o *Orchestrator) StartSearch(ctx context.Context, req models.StartSearchRequest) (int, error) {
	id := strings.TrimSpace(req.ID())
	if id == "" || req.URLs == nil {
		return 0, ErrInvalidSearch
	}

	urls := FilterProfileURLs(req.URLs, o.cfg.ProfileURLPattern)
	backendURL := strings.TrimRight(strings.TrimSpace(req.BackendURL), "/")
	if backendURL == "" {
		backendURL = o.cfg.BackendURL
	}

	unlock := o.locks.Lock(id)
	// A replaced session must not keep ticking or holding tabs.
	prev, err := o.repo.Load(ctx, id)
	if err == nil {
		o.sched.CancelPrefix(sessionPrefix(id))
	}
	replaced, err := o.repo.Create(ctx, models.NewSession(id, urls, backendURL, o.now()))
	unlock()
	if err != nil {
		return 0, fmt.Errorf("store session: %w", err)
	}
	if replaced {
		o.closeJobTabs(ctx, prev)
	}
	o.metrics.inc(&o.metrics.SessionsStarted)
	o.sessionLog(id).WithFields(logrus.Fields{
		"urls":     len(urls),
		"received": len(req.URLs),
		"replaced": replaced,
	}).Info("search started")

	o.scheduleTick(id, "start", o.cfg.StartDelay)
	return len(urls), nil
}

// FilterProfileURLs keeps non-empty URLs containing pattern, dropping duplicates.
func FilterProfileURLs(urls []string, pattern string) []string {
	seen := models.NewURLSet()
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		u = strings.TrimSpace(u)
		if u == "" || !strings.Contains(u, pattern) {
			continue
		}
		if seen.Add(u) {
			out = append(out, u)
		}
	}
	return out
}

// StopSearch marks the session as stopping, cancels its job tasks, closes its open tabs and
// schedules an immediate tick that removes it.
func (o *Orchestrator) StopSearch(ctx context.Context, sessionID string) error {
	unlock := o.locks.Lock(sessionID)
	s, err := o.repo.Update(ctx, sessionID, func(s *models.Session) error {
		s.IsStopping = true
		return nil
	})
	if err == nil {
		o.sched.CancelPrefix(sessionPrefix(sessionID) + "job/")
	}
	unlock()
	if err != nil {
		return err
	}
	o.closeJobTabs(ctx, s)
	o.sessionLog(sessionID).Info("search stop requested")
	o.scheduleTick(sessionID, "stop", 0)
	return nil
}

// ActiveSearches lists the ids of all stored sessions.
func (o *Orchestrator) ActiveSearches(ctx context.Context) ([]string, error) {
	return o.repo.IDs(ctx)
}

// Status returns the progress view of a session.
func (o *Orchestrator) Status(ctx context.Context, sessionID string) (models.SessionStatus, error) {
	s, err := o.repo.Load(ctx, sessionID)
	if err != nil {
		return models.SessionStatus{}, err
	}
	return s.Status(), nil
}

// Ping reports liveness.
func (o *Orchestrator) Ping() models.ActionResponse {
	return models.ActionResponse{Success: true, Message: "pong"}
}

// Resume prepares the store on startup: with reset it clears every stored session, otherwise
// it schedules a tick for each so orphaned jobs are recovered and the queues continue.
func (o *Orchestrator) Resume(ctx context.Context, reset bool) error {
	if reset {
		if err := o.repo.Reset(ctx); err != nil {
			return err
		}
		o.log.Info("cleared stored sessions on startup")
		return nil
	}
	ids, err := o.repo.IDs(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		o.scheduleTick(id, "resume", o.cfg.StartDelay)
	}
	if len(ids) > 0 {
		o.log.WithField("sessions", len(ids)).Info("resuming stored sessions")
	}
	return nil
}

// closeJobTabs closes the tab of every active job of s immediately.
func (o *Orchestrator) closeJobTabs(ctx context.Context, s *models.Session) {
	if s == nil {
		return
	}
	for _, job := range s.ActiveExtractions {
		if job.TabID == "" {
			continue
		}
		o.closeTab(ctx, s.SessionID, job.TabID)
	}
}

func (o *Orchestrator) closeTab(ctx context.Context, sessionID, tabID string) {
	if tabID == "" {
		return
	}
	err := o.tabs.Close(context.WithoutCancel(ctx), tabID)
	if err == nil || errors.Is(err, browser.ErrTabNotFound) {
		return
	}
	o.metrics.inc(&o.metrics.TabCloseFailures)
	o.sessionLog(sessionID).WithField("tab_id", tabID).Warnf("could not close tab: %v", err)
}

// closeTabLater closes a tab after the configured delay. The task is not owned by the
// session so finishing the session does not leak the tab.
func (o *Orchestrator) closeTabLater(sessionID, tabID string) {
	if tabID == "" {
		return
	}
	o.sched.After("tabclose/"+tabID, o.cfg.TabCloseDelay, func(ctx context.Context) {
		o.closeTab(ctx, sessionID, tabID)
	})
}

func (o *Orchestrator) closeTabNow(sessionID, tabID string) {
	if tabID == "" {
		return
	}
	o.sched.Go("tabclose/"+tabID, func(ctx context.Context) {
		o.closeTab(ctx, sessionID, tabID)
	})
}

// sleep waits for d or until ctx is done; it reports whether the full wait elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
