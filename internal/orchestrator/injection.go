package orchestrator

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"tab-relay/internal/browser"
	"tab-relay/internal/models"
)

var errInjectionDone = errors.New("injection already attempted")

// injectContext hands the session context to the page agent, retrying a fixed number of
// times. Only the first caller per job proceeds. Exhausting the attempts fails the job.
func (o *Orchestrator) injectContext(ctx context.Context, sessionID, jobID, tabID, url, trigger string) {
	log := o.sessionLog(sessionID).WithFields(logrus.Fields{
		"job_id":  jobID,
		"tab_id":  tabID,
		"url":     url,
		"trigger": trigger,
	})

	s, ok := o.claimInjection(ctx, sessionID, jobID)
	if !ok {
		return
	}
	log.Debug("page ready; injecting search context")

	var lastErr error
	for attempt := 1; attempt <= o.cfg.InjectionAttempts; attempt++ {
		if !sleep(ctx, o.cfg.DOMReadyWait) {
			return
		}
		lastErr = o.deliverContext(ctx, tabID, models.SearchContext{
			Action:      models.ActionSetSearchContext,
			SessionID:   sessionID,
			BackendURL:  s.BackendURL,
			Attempt:     attempt,
			JobID:       jobID,
			TabID:       tabID,
			CallbackURL: o.cfg.CallbackURL,
		})
		if lastErr == nil {
			o.metrics.inc(&o.metrics.InjectionsOK)
			log.WithField("attempt", attempt).Info("search context delivered")
			return
		}
		if ctx.Err() != nil {
			return
		}
		if errors.Is(lastErr, browser.ErrTabNotFound) {
			break
		}
		log.WithError(lastErr).WithField("attempt", attempt).Warn("search context delivery failed")
		if attempt < o.cfg.InjectionAttempts && !sleep(ctx, o.cfg.InjectionRetryDelay) {
			return
		}
	}
	o.HandleURLError(ctx, sessionID, jobID, KindInjection, lastErr)
}

// claimInjection flags the job as injected and returns the session. It reports false when
// the job is gone or another trigger already claimed it.
func (o *Orchestrator) claimInjection(ctx context.Context, sessionID, jobID string) (*models.Session, bool) {
	unlock := o.locks.Lock(sessionID)
	defer unlock()

	s, err := o.repo.Update(context.WithoutCancel(ctx), sessionID, func(s *models.Session) error {
		job := s.FindJob(jobID, "", "")
		if job == nil {
			return errJobGone
		}
		if job.InjectionAttempted {
			return errInjectionDone
		}
		job.InjectionAttempted = true
		return nil
	})
	if err != nil {
		return nil, false
	}
	return s, true
}

// deliverContext re-verifies the tab and sends msg to its agent.
func (o *Orchestrator) deliverContext(ctx context.Context, tabID string, msg models.SearchContext) error {
	if _, err := o.tabs.Get(ctx, tabID); err != nil {
		return err
	}
	sendCtx, cancel := context.WithTimeout(ctx, o.cfg.MessageTimeout)
	defer cancel()
	return o.tabs.SendMessage(sendCtx, tabID, msg)
}
