package orchestrator

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"tab-relay/internal/backend"
	"tab-relay/internal/models"
)

// destination picks the backend for a record: the session's, then the one named by the
// agent, then the configured default.
func (o *Orchestrator) destination(sessionBackend, msgBackend string) string {
	if sessionBackend != "" {
		return sessionBackend
	}
	if msgBackend != "" {
		return msgBackend
	}
	return o.cfg.BackendURL
}

// report delivers rec in the background. The task is not owned by the session, so a record
// produced just before the session finishes is still sent.
func (o *Orchestrator) report(sessionID, destination string, rec models.ProfileRecord) {
	o.sched.Go("report/"+sessionID+"/"+rec.ProfileURL, func(ctx context.Context) {
		o.deliver(ctx, destination, rec)
	})
}

// deliver publishes rec to the results topic and posts it to the backend. A backend failure
// is never returned: the record goes to the dead-letter topic instead.
func (o *Orchestrator) deliver(ctx context.Context, destination string, rec models.ProfileRecord) {
	log := o.log.WithFields(logrus.Fields{
		"session_id":  rec.SessionID,
		"url":         rec.ProfileURL,
		"destination": destination,
	})

	if o.publisher != nil {
		if err := o.publisher.PublishRecord(ctx, rec); err != nil {
			log.WithError(err).Warn("publish record")
		}
	}

	resp, err := o.reporter.Send(ctx, destination, o.cfg.BackendPath, rec)
	if err == nil {
		log.WithField("message", resp.Message).Debug("record delivered")
		return
	}
	if ctx.Err() != nil {
		return
	}

	o.metrics.inc(&o.metrics.BackendFailures)
	o.metrics.observeError(KindBackendDelivery)
	attempts := o.cfg.BackendRetries
	var deliveryErr *backend.DeliveryError
	if errors.As(err, &deliveryErr) {
		attempts = deliveryErr.Attempts
	}
	log.WithError(err).WithField("attempts", attempts).Error("backend delivery failed")

	if o.publisher == nil {
		return
	}
	failure := models.DeliveryFailure{
		Record:      rec,
		Destination: destination,
		Error:       err.Error(),
		Attempts:    attempts,
		FailedAt:    o.now().UTC(),
	}
	if err := o.publisher.PublishFailure(ctx, failure); err != nil {
		log.WithError(err).Error("publish dead letter")
		return
	}
	o.metrics.inc(&o.metrics.DLQPublished)
}
