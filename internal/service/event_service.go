package service

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-ekskul-api/internal/models"
	"github.com/noah-isme/sma-ekskul-api/pkg/jobs"
)

type auditWriter interface {
	Create(ctx context.Context, log *models.AuditLog) error
}

// EventService fans registration events out to the audit trail and the
// notification collaborators asynchronously. Events are enqueued only after a
// transition's conditional update succeeded, so a retried or lost-race call
// never produces a duplicate dispatch.
type EventService struct {
	queue  *jobs.Queue
	audits auditWriter
	logger *zap.Logger
}

// NewEventService builds the dispatcher on top of the shared job queue.
func NewEventService(audits auditWriter, cfg jobs.QueueConfig, logger *zap.Logger) *EventService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &EventService{audits: audits, logger: logger}
	s.queue = jobs.NewQueue("registration-events", s.handle, cfg)
	return s
}

// Start begins background processing.
func (s *EventService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop drains the workers.
func (s *EventService) Stop() {
	s.queue.Stop()
}

// Publish enqueues an event for async delivery. Failure to enqueue is logged
// and swallowed: the store transition already happened and must not be rolled
// back for a notification problem.
func (s *EventService) Publish(event models.RegistrationEvent) {
	job := jobs.Job{
		ID:      fmt.Sprintf("%s:%s", event.Type, event.Registration.ID),
		Type:    string(event.Type),
		Payload: event,
	}
	if err := s.queue.Enqueue(job); err != nil {
		s.logger.Warn("failed to enqueue registration event",
			zap.String("event", string(event.Type)),
			zap.String("registration_id", event.Registration.ID),
			zap.Error(err))
	}
}

func (s *EventService) handle(ctx context.Context, job jobs.Job) error {
	event, ok := job.Payload.(models.RegistrationEvent)
	if !ok {
		s.logger.Error("unexpected event payload", zap.String("job_id", job.ID))
		return nil
	}

	snapshot, err := json.Marshal(event.Registration)
	if err != nil {
		return fmt.Errorf("marshal registration snapshot: %w", err)
	}

	actorID := event.Actor.UserID
	log := &models.AuditLog{
		ActorRole:  string(event.Actor.Role),
		Action:     string(event.Type),
		Resource:   "registration",
		ResourceID: event.Registration.ID,
		Snapshot:   snapshot,
		CreatedAt:  event.OccurredAt,
	}
	if actorID != "" {
		log.ActorID = &actorID
	}
	if err := s.audits.Create(ctx, log); err != nil {
		return fmt.Errorf("append audit log: %w", err)
	}

	// Notification delivery itself lives outside this service; consumers
	// tail the audit trail or subscribe downstream.
	s.logger.Info("registration event dispatched",
		zap.String("event", string(event.Type)),
		zap.String("registration_id", event.Registration.ID),
		zap.String("actor_role", string(event.Actor.Role)))
	return nil
}
