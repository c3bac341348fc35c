package orchestrator

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"tab-relay/internal/browser"
	"tab-relay/internal/models"
	"tab-relay/internal/store"
)

var (
	errTabClosed = errors.New("tab closed before the page loaded")
	errJobGone   = errors.New("job no longer active")
)

// processURL opens the tab of a dispatched job and arms its load watcher and overall timeout.
func (o *Orchestrator) processURL(ctx context.Context, sessionID, jobID string) {
	log := o.sessionLog(sessionID).WithField("job_id", jobID)

	s, err := o.repo.Load(ctx, sessionID)
	if err != nil {
		// The placeholder job stays registered; the retick recovers it as orphaned.
		if !errors.Is(err, store.ErrSessionNotFound) {
			log.WithError(err).Error("load session for dispatch")
			o.emergencyTick(sessionID)
		}
		return
	}
	job := s.FindJob(jobID, "", "")
	if job == nil || s.IsStopping {
		return
	}
	log = log.WithField("url", job.URL)

	delay := o.cfg.TabOpenDelay(s.ConsecutiveErrors)
	if s.ConsecutiveErrors > 0 {
		log.WithFields(logrus.Fields{
			"delay":              delay.String(),
			"consecutive_errors": s.ConsecutiveErrors,
		}).Info("backing off before opening tab")
	}
	if !sleep(ctx, delay) {
		return
	}

	openCtx, cancel := context.WithTimeout(ctx, o.cfg.TabOpenTimeout)
	tab, err := o.tabs.Open(openCtx, job.URL)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		o.HandleURLError(ctx, sessionID, jobID, KindTabCreation, err)
		return
	}
	log = log.WithField("tab_id", tab.ID)

	if !o.registerTab(ctx, sessionID, jobID, job.URL, tab.ID) {
		log.Info("job resolved while the tab was opening; closing tab")
		o.closeTab(ctx, sessionID, tab.ID)
		return
	}
	log.Debug("tab opened")
}

// registerTab records the opened tab on the job and arms the job's load and timeout tasks.
// It reports false when the job is no longer active.
func (o *Orchestrator) registerTab(ctx context.Context, sessionID, jobID, url, tabID string) bool {
	ctx = context.WithoutCancel(ctx)
	unlock := o.locks.Lock(sessionID)
	defer unlock()

	s, err := o.repo.Load(ctx, sessionID)
	if err != nil || s.IsStopping || s.FindJob(jobID, "", "") == nil {
		return false
	}

	prefix := jobPrefix(sessionID, jobID)
	timeoutID := o.sched.After(prefix+"timeout", o.cfg.ExtractionTimeout, func(ctx context.Context) {
		o.HandleExtractionTimeout(ctx, sessionID, jobID)
	})
	loadID := o.sched.Go(prefix+"load", func(ctx context.Context) {
		o.watchLoad(ctx, sessionID, jobID, tabID, url)
	})

	started := o.now()
	_, err = o.repo.Update(ctx, sessionID, func(s *models.Session) error {
		job := s.FindJob(jobID, "", "")
		if job == nil {
			return errJobGone
		}
		job.TabID = tabID
		job.StartTime = started
		job.LoadTaskID = loadID
		job.TimeoutTaskID = timeoutID
		return nil
	})
	if err != nil {
		o.sched.Cancel(loadID)
		o.sched.Cancel(timeoutID)
		if !errors.Is(err, errJobGone) && !errors.Is(err, store.ErrSessionNotFound) {
			o.sessionLog(sessionID).WithError(err).Error("register tab")
		}
		return false
	}
	return true
}

// watchLoad waits for the page to be ready and then hands over to injection. Tab events and a
// bounded poll race; the first to decide wins and the watcher exits.
func (o *Orchestrator) watchLoad(ctx context.Context, sessionID, jobID, tabID, url string) {
	log := o.sessionLog(sessionID).WithFields(logrus.Fields{"job_id": jobID, "tab_id": tabID})

	events, unsubscribe := o.tabs.Subscribe(tabID)
	defer unsubscribe()

	poll := time.NewTimer(o.cfg.LoadPollInitialDelay)
	defer poll.Stop()
	checks := 0

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			switch ev.Kind {
			case browser.EventLoaded:
				o.injectContext(ctx, sessionID, jobID, tabID, url, "loaded")
				return
			case browser.EventNavigated:
				if strings.Contains(ev.URL, o.cfg.ProfileURLPattern) {
					o.injectContext(ctx, sessionID, jobID, tabID, url, "navigated")
					return
				}
			case browser.EventClosed:
				o.HandleURLError(ctx, sessionID, jobID, KindLoadTimeout, errTabClosed)
				return
			}
		case <-poll.C:
			checks++
			state, err := o.tabs.Get(ctx, tabID)
			switch {
			case errors.Is(err, browser.ErrTabNotFound):
				o.HandleURLError(ctx, sessionID, jobID, KindLoadTimeout, errTabClosed)
				return
			case err != nil:
				if ctx.Err() != nil {
					return
				}
				log.WithError(err).Debug("tab status check failed")
			case state.Status == browser.StatusComplete:
				o.injectContext(ctx, sessionID, jobID, tabID, url, "poll")
				return
			}
			if checks >= o.cfg.LoadPollMaxChecks {
				log.WithField("checks", checks).Warn("page never reported loaded; forcing injection")
				o.injectContext(ctx, sessionID, jobID, tabID, url, "forced")
				return
			}
			poll.Reset(o.cfg.LoadPollInterval)
		}
	}
}
