package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"tab-relay/internal/models"
	"tab-relay/internal/store"
)

// scheduleTick queues a tick of the session after delay.
func (o *Orchestrator) scheduleTick(sessionID, reason string, delay time.Duration) {
	o.sched.After(sessionPrefix(sessionID)+"tick/"+reason, delay, func(ctx context.Context) {
		o.Tick(ctx, sessionID)
	})
}

// Tick re-evaluates the session and dispatches its next URL when nothing is in flight.
// It never fails: an unexpected error or panic schedules one emergency retick.
func (o *Orchestrator) Tick(ctx context.Context, sessionID string) {
	log := o.sessionLog(sessionID)
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("tick panic: %v\n%s", r, debug.Stack())
			o.emergencyTick(sessionID)
		}
	}()

	o.metrics.inc(&o.metrics.Ticks)
	// A tick that started runs to the end even if its own task is cancelled meanwhile.
	err := o.tick(context.WithoutCancel(ctx), sessionID)
	if err == nil || errors.Is(err, store.ErrSessionNotFound) {
		return
	}
	log.WithError(err).Error("tick failed")
	o.emergencyTick(sessionID)
}

func (o *Orchestrator) emergencyTick(sessionID string) {
	o.metrics.inc(&o.metrics.EmergencyTicks)
	o.scheduleTick(sessionID, "emergency", o.cfg.QueueAdvanceDelay)
}

func (o *Orchestrator) tick(ctx context.Context, sessionID string) error {
	unlock := o.locks.Lock(sessionID)
	defer unlock()

	s, err := o.repo.Load(ctx, sessionID)
	if err != nil {
		return err
	}
	log := o.sessionLog(sessionID)

	if s.IsStopping {
		return o.finish(ctx, s, "stopped")
	}
	// The last URL's job is still in flight when the cursor reaches the end.
	if s.Done() && s.ActiveJob() == nil {
		return o.finish(ctx, s, "completed")
	}

	now := o.now()
	if now.Sub(s.LastProcessedTime) > o.cfg.StallThreshold {
		log.WithFields(logrus.Fields{
			"idle":               now.Sub(s.LastProcessedTime).Round(time.Second).String(),
			"consecutive_errors": s.ConsecutiveErrors,
		}).Warn("session stalled; resetting back-off")
		s, err = o.repo.Update(ctx, sessionID, func(s *models.Session) error {
			s.ConsecutiveErrors = 0
			s.LastProcessedTime = now
			return nil
		})
		if err != nil {
			return err
		}
	}

	if job := s.ActiveJob(); job != nil {
		return o.checkActiveJob(ctx, s, job)
	}

	idx := s.NextPending()
	if idx < 0 {
		return o.finish(ctx, s, "completed")
	}

	job := &models.ExtractionJob{
		ID:        uuid.NewString(),
		URL:       s.URLs[idx],
		URLIndex:  idx,
		StartTime: now,
	}
	if _, err := o.repo.Update(ctx, sessionID, func(s *models.Session) error {
		s.CurrentIndex = idx + 1
		s.LastProcessedTime = now
		s.ActiveExtractions[job.URL] = job
		return nil
	}); err != nil {
		return fmt.Errorf("register job: %w", err)
	}

	o.metrics.inc(&o.metrics.Dispatches)
	log.WithFields(logrus.Fields{
		"job_id":   job.ID,
		"url":      job.URL,
		"index":    idx,
		"progress": s.Progress(),
	}).Info("dispatching url")
	o.sched.Go(jobPrefix(sessionID, job.ID)+"dispatch", func(ctx context.Context) {
		o.processURL(ctx, sessionID, job.ID)
	})
	return nil
}

// checkActiveJob leaves a healthy in-flight job alone. A job whose tasks are gone (the
// process restarted) or that outlived its budget is forced through the timeout path.
func (o *Orchestrator) checkActiveJob(ctx context.Context, s *models.Session, job *models.ExtractionJob) error {
	age := o.now().Sub(job.StartTime)
	orphaned := !o.sched.Has(jobPrefix(s.SessionID, job.ID))
	if !orphaned && age <= o.cfg.ExtractionTimeout+o.cfg.StaleJobGrace {
		return nil
	}
	o.metrics.inc(&o.metrics.StaleJobs)
	o.sessionLog(s.SessionID).WithFields(logrus.Fields{
		"job_id":   job.ID,
		"url":      job.URL,
		"age":      age.Round(time.Second).String(),
		"orphaned": orphaned,
	}).Warn("recovering stale job")
	o.extractionTimeoutLocked(ctx, s.SessionID, job.ID)
	return nil
}

// finish closes whatever the session still holds, removes it and logs the final stats.
// The caller holds the session lock, so tab closes run as tasks.
func (o *Orchestrator) finish(ctx context.Context, s *models.Session, reason string) error {
	ctx = context.WithoutCancel(ctx)
	o.sched.CancelPrefix(sessionPrefix(s.SessionID))
	for _, job := range s.ActiveExtractions {
		o.closeTabNow(s.SessionID, job.TabID)
	}

	existed, err := o.repo.Delete(ctx, s.SessionID)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if !existed {
		return nil
	}

	if reason == "stopped" {
		o.metrics.inc(&o.metrics.SessionsStopped)
	} else {
		o.metrics.inc(&o.metrics.SessionsFinished)
	}

	completed := len(s.CompletedURLs)
	total := len(s.URLs)
	duration := o.now().Sub(s.StartTime)
	fields := logrus.Fields{
		"reason":       reason,
		"completed":    completed,
		"total":        total,
		"total_errors": s.TotalErrors,
		"duration":     duration.Round(time.Second).String(),
	}
	if total > 0 {
		fields["percent"] = fmt.Sprintf("%.1f", float64(completed)*100/float64(total))
	}
	if completed > 0 {
		fields["avg_per_url"] = (duration / time.Duration(completed)).Round(100 * time.Millisecond).String()
	}
	o.sessionLog(s.SessionID).WithFields(fields).Info("session finished")
	return nil
}
