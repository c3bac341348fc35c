package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/sirupsen/logrus"

	"tab-relay/internal/models"
	"tab-relay/internal/store"
)

// HandleURLError fails the job with the given kind, reports it and advances the queue.
// A job that was already resolved by another path is left alone.
func (o *Orchestrator) HandleURLError(ctx context.Context, sessionID, jobID string, kind ErrorKind, cause error) {
	ctx = context.WithoutCancel(ctx)
	unlock := o.locks.Lock(sessionID)
	defer unlock()
	o.failJobLocked(ctx, sessionID, jobID, kind, cause, models.MethodTabError, false)
}

// HandleExtractionTimeout fails a job whose result never arrived and force-closes its tab.
func (o *Orchestrator) HandleExtractionTimeout(ctx context.Context, sessionID, jobID string) {
	ctx = context.WithoutCancel(ctx)
	unlock := o.locks.Lock(sessionID)
	defer unlock()
	o.extractionTimeoutLocked(ctx, sessionID, jobID)
}

func (o *Orchestrator) extractionTimeoutLocked(ctx context.Context, sessionID, jobID string) {
	cause := fmt.Errorf("no extraction result within %s", o.cfg.ExtractionTimeout)
	o.failJobLocked(ctx, sessionID, jobID, KindExtractionTimeout, cause, models.MethodTimeout, true)
}

func (o *Orchestrator) failJobLocked(ctx context.Context, sessionID, jobID string, kind ErrorKind, cause error, method string, forceClose bool) {
	log := o.sessionLog(sessionID).WithField("job_id", jobID)

	var job *models.ExtractionJob
	s, err := o.repo.Update(ctx, sessionID, func(s *models.Session) error {
		found := s.FindJob(jobID, "", "")
		if found == nil {
			return store.ErrNoChange
		}
		j := *found
		job = &j
		delete(s.ActiveExtractions, found.URL)
		s.ConsecutiveErrors++
		s.TotalErrors++
		return nil
	})
	if errors.Is(err, store.ErrSessionNotFound) {
		return
	}
	if err != nil {
		log.WithError(err).Error("record job failure")
		o.fallback(sessionID)
		return
	}
	if job == nil {
		log.WithField("kind", kind).Debug("job already resolved")
		return
	}

	o.sched.CancelPrefix(jobPrefix(sessionID, jobID))
	jobErr := newJobError(kind, sessionID, job.URL, cause)
	o.metrics.observeError(kind)
	o.metrics.observeJobDuration(o.now().Sub(job.StartTime))
	log.WithFields(logrus.Fields{
		"url":                job.URL,
		"tab_id":             job.TabID,
		"kind":               kind,
		"consecutive_errors": s.ConsecutiveErrors,
		"total_errors":       s.TotalErrors,
	}).Warnf("job failed: %v", jobErr)

	if forceClose {
		o.closeTabNow(sessionID, job.TabID)
	} else {
		o.closeTabLater(sessionID, job.TabID)
	}
	o.report(sessionID, s.BackendURL, models.FailureRecord(s, job.URL, method, jobErr.Error(), o.now()))
	o.markProcessedLocked(ctx, sessionID, job.URL, true)
}

// HandleExtractionComplete records the agent's result for a job, forwards it to the backend
// and advances the queue. Results for unknown sessions and late or duplicate results are
// forwarded without touching any session.
func (o *Orchestrator) HandleExtractionComplete(ctx context.Context, msg models.ExtractionComplete) error {
	ctx = context.WithoutCancel(ctx)
	sessionID := msg.Session()
	log := o.sessionLog(sessionID).WithFields(logrus.Fields{
		"job_id":  msg.JobID,
		"tab_id":  msg.TabID,
		"url":     msg.ResolvedURL(),
		"success": msg.Success,
	})

	if sessionID == "" {
		log.Info("result without session; forwarding")
		o.report("", o.destination("", msg.BackendURL), models.RecordFromCompletion(msg, msg.ResolvedURL(), 0, 0, o.now()))
		return nil
	}

	unlock := o.locks.Lock(sessionID)
	defer unlock()

	var (
		job     *models.ExtractionJob
		url     = msg.ResolvedURL()
		counted bool
	)
	s, err := o.repo.Update(ctx, sessionID, func(s *models.Session) error {
		if found := s.FindJob(msg.JobID, msg.TabID, url); found != nil {
			j := *found
			job = &j
			url = found.URL
			delete(s.ActiveExtractions, found.URL)
		} else if !s.HasURL(url) || s.CompletedURLs.Has(url) {
			return store.ErrNoChange
		}
		counted = true
		if msg.Success {
			s.ConsecutiveErrors = 0
		} else {
			s.ConsecutiveErrors++
			s.TotalErrors++
		}
		return nil
	})
	if errors.Is(err, store.ErrSessionNotFound) {
		log.Info("result for finished session; forwarding")
		o.report(sessionID, o.destination("", msg.BackendURL), models.RecordFromCompletion(msg, url, 0, 0, o.now()))
		return nil
	}
	if err != nil {
		log.WithError(err).Error("record extraction result")
		o.fallback(sessionID)
		return fmt.Errorf("record extraction result: %w", err)
	}

	record := models.RecordFromCompletion(msg, url, s.ConsecutiveErrors, s.TotalErrors, o.now())
	dest := o.destination(s.BackendURL, msg.BackendURL)
	if !counted {
		log.Info("late or duplicate result; forwarding only")
		o.report(sessionID, dest, record)
		return nil
	}

	if job != nil {
		o.sched.CancelPrefix(jobPrefix(sessionID, job.ID))
		o.closeTabLater(sessionID, job.TabID)
		o.metrics.observeJobDuration(o.now().Sub(job.StartTime))
	}
	if msg.Success {
		o.metrics.inc(&o.metrics.Completions)
		log.WithField("method", msg.ExtractionMethod).Info("extraction completed")
	} else {
		o.metrics.inc(&o.metrics.CompletionsFailed)
		log.WithField("error", msg.Error).Warn("extraction reported failure")
	}
	o.report(sessionID, dest, record)
	o.markProcessedLocked(ctx, sessionID, url, !msg.Success)
	return nil
}

// MarkURLProcessedAndContinue records url as processed and arms the queue continuations.
// Marking the same URL twice is harmless.
func (o *Orchestrator) MarkURLProcessedAndContinue(ctx context.Context, sessionID, url string, isError bool) {
	ctx = context.WithoutCancel(ctx)
	unlock := o.locks.Lock(sessionID)
	defer unlock()
	o.markProcessedLocked(ctx, sessionID, url, isError)
}

func (o *Orchestrator) markProcessedLocked(ctx context.Context, sessionID, url string, isError bool) {
	log := o.sessionLog(sessionID).WithField("url", url)
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("mark processed panic: %v\n%s", r, debug.Stack())
			o.fallback(sessionID)
		}
	}()

	now := o.now()
	s, err := o.repo.Update(ctx, sessionID, func(s *models.Session) error {
		if s.HasURL(url) {
			s.CompletedURLs.Add(url)
		}
		s.LastProcessedTime = now
		if !isError {
			s.ConsecutiveErrors = 0
		}
		return nil
	})
	if errors.Is(err, store.ErrSessionNotFound) {
		return
	}
	if err != nil {
		log.WithError(err).Error("mark url processed")
		o.fallback(sessionID)
		return
	}

	log.WithFields(logrus.Fields{
		"progress": s.Progress(),
		"error":    isError,
	}).Info("url processed")
	o.scheduleContinuations(sessionID, isError)
}

// scheduleContinuations replaces the session's pending continuations with three staggered
// ticks. Each re-evaluates the session, so the ones that find nothing to do are no-ops.
func (o *Orchestrator) scheduleContinuations(sessionID string, isError bool) {
	base := o.cfg.QueueAdvanceDelay
	if isError {
		base = o.cfg.ErrorAdvanceDelay()
	}
	prefix := continuationPrefix(sessionID)
	o.sched.CancelPrefix(prefix)
	o.metrics.inc(&o.metrics.Continuations)

	for _, c := range []struct {
		name  string
		delay time.Duration
	}{
		{"primary", base},
		{"backup", base + o.cfg.BackupContinuation},
		{"emergency", base + o.cfg.EmergencyContinuation},
	} {
		o.sched.After(prefix+c.name, c.delay, func(ctx context.Context) {
			o.Tick(ctx, sessionID)
		})
	}
}

// fallback issues unconditional reticks at fixed intervals when the normal advance failed.
func (o *Orchestrator) fallback(sessionID string) {
	o.metrics.inc(&o.metrics.Fallbacks)
	o.sessionLog(sessionID).WithField("attempts", o.cfg.FallbackAttempts).Warn("queue advance failed; scheduling fallback ticks")
	for i := 1; i <= o.cfg.FallbackAttempts; i++ {
		o.sched.After(fmt.Sprintf("%sfallback/%d", sessionPrefix(sessionID), i), time.Duration(i)*o.cfg.QueueAdvanceDelay, func(ctx context.Context) {
			o.Tick(ctx, sessionID)
		})
	}
}
