package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/candorworks/exam-proctor/internal/config"
	"github.com/candorworks/exam-proctor/internal/metrics"
	"github.com/candorworks/exam-proctor/internal/model"
	"github.com/candorworks/exam-proctor/internal/repository"
	"github.com/candorworks/exam-proctor/internal/session"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	auditPublishTimeout = 2 * time.Second
	defaultEventLimit   = 500
)

type auditDetail struct {
	Answered int    `json:"answered"`
	Error    string `json:"error,omitempty"`
}

// AuditService makes attempt outcomes observable to operators: a log line,
// Prometheus counters, a queued audit row and a live monitor publish.
type AuditService struct {
	rdb    *redis.Client
	events *repository.AttemptEventRepository
	log    zerolog.Logger
	now    func() time.Time
}

// NewAuditService creates a new AuditService. events may be nil when only
// reporting is needed.
func NewAuditService(rdb *redis.Client, events *repository.AttemptEventRepository, log zerolog.Logger) *AuditService {
	return &AuditService{
		rdb:    rdb,
		events: events,
		log:    log.With().Str("component", "audit").Logger(),
		now:    time.Now,
	}
}

// Report implements session.Reporter.
func (s *AuditService) Report(r session.Report) {
	s.logReport(r)
	s.count(r)

	detail := auditDetail{Answered: r.Answered}
	if r.Err != nil {
		detail.Error = r.Err.Error()
	}
	raw, _ := json.Marshal(detail)

	ev := model.AttemptEvent{
		AttemptID:  r.AttemptID,
		Type:       r.Type,
		Reason:     string(r.Reason),
		Detail:     raw,
		RecordedAt: s.now().UTC(),
	}
	data, err := json.Marshal(ev)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to encode audit event")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), auditPublishTimeout)
	defer cancel()

	pipe := s.rdb.Pipeline()
	pipe.RPush(ctx, config.WorkerKey.PersistAttemptEventsQueue, data)
	pipe.Publish(ctx, config.CacheKey.AttemptMonitorChannel(r.AttemptID), data)
	if _, err := pipe.Exec(ctx); err != nil {
		s.log.Error().Err(err).
			Str("attempt_id", r.AttemptID).
			Str("type", string(r.Type)).
			Msg("Failed to queue audit event")
	}
}

// SessionOpened and SessionClosed track connected attempt streams.
func (s *AuditService) SessionOpened() { metrics.ActiveSessions.Inc() }
func (s *AuditService) SessionClosed() { metrics.ActiveSessions.Dec() }

// ListEvents returns the recorded audit trail of attemptID.
func (s *AuditService) ListEvents(ctx context.Context, attemptID string) ([]model.AttemptEvent, error) {
	if s.events == nil {
		return []model.AttemptEvent{}, nil
	}
	return s.events.ListByAttempt(ctx, attemptID, defaultEventLimit)
}

func (s *AuditService) logReport(r session.Report) {
	var e *zerolog.Event
	switch r.Type {
	case model.AttemptEventSubmissionFailed, model.AttemptEventLoadFailed:
		e = s.log.Error()
	case model.AttemptEventViolation, model.AttemptEventScratchError:
		e = s.log.Warn()
	default:
		e = s.log.Info()
	}
	e = e.Str("attempt_id", r.AttemptID).Str("type", string(r.Type))
	if r.Reason != session.ReasonNone {
		e = e.Str("reason", string(r.Reason))
	}
	if r.Err != nil {
		e = e.Err(r.Err)
	}
	e.Int("answered", r.Answered).Msg("Attempt event")
}

func (s *AuditService) count(r session.Report) {
	switch r.Type {
	case model.AttemptEventSubmitted:
		metrics.Submissions.WithLabelValues(string(r.Reason), "success").Inc()
	case model.AttemptEventSubmissionFailed:
		metrics.Submissions.WithLabelValues(string(r.Reason), "failure").Inc()
	case model.AttemptEventBestEffortSent:
		metrics.Submissions.WithLabelValues(string(r.Reason), "best_effort").Inc()
	case model.AttemptEventViolation:
		metrics.Violations.WithLabelValues(string(r.Reason)).Inc()
	case model.AttemptEventScratchError:
		op := "unknown"
		var storageErr *session.StorageError
		if errors.As(r.Err, &storageErr) {
			op = storageErr.Op
		}
		metrics.ScratchErrors.WithLabelValues(op).Inc()
	}
}
