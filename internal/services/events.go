package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/absensi-app/apiserver/internal/mq"
	"github.com/absensi-app/apiserver/types"
	"github.com/google/uuid"
)

const publishTimeout = 5 * time.Second

// EventPublisher sends attendance events to a broker. *mq.MQ satisfies it.
type EventPublisher interface {
	Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error)
}

// EventRepository defines persistence operations for the attendance audit trail.
type EventRepository interface {
	Record(ctx context.Context, event types.AttendanceEvent) (types.AttendanceEvent, error)
	ListByAttendance(ctx context.Context, attendanceID string) ([]types.AttendanceEvent, error)
}

// publishEvent sends an event and logs, rather than returns, any failure.
// The request that produced the event has already committed.
func publishEvent(ctx context.Context, publisher EventPublisher, channel string, logger *slog.Logger, event types.AttendanceEvent) {
	if publisher == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		logger.Error("encode attendance event", "type", event.Type, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	attrs := map[string]string{
		"type":             event.Type,
		mq.AttrContentType: "application/json",
	}
	id, err := publisher.Publish(ctx, channel, data, attrs)
	if err != nil {
		logger.Warn("publish attendance event failed",
			"type", event.Type,
			"attendance_id", event.AttendanceID,
			"error", err,
		)
		return
	}
	logger.Debug("published attendance event", "type", event.Type, "message_id", id)
}

// EventService records attendance events consumed from the broker.
type EventService struct {
	repo   EventRepository
	logger *slog.Logger
}

func NewEventService(repo EventRepository, logger *slog.Logger) *EventService {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventService{repo: repo, logger: logger}
}

// Handle is an mq.Handler. Malformed messages are dropped so they are not
// redelivered forever; store failures are returned to trigger a retry.
func (s *EventService) Handle(ctx context.Context, msg mq.Message) error {
	var event types.AttendanceEvent
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		s.logger.Warn("dropping undecodable attendance event", "message_id", msg.ID, "error", err)
		return nil
	}
	if err := validateEvent(event); err != nil {
		s.logger.Warn("dropping invalid attendance event", "message_id", msg.ID, "error", err)
		return nil
	}
	if msg.ID != "" {
		event.MessageID = msg.ID
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	recorded, err := s.repo.Record(ctx, event)
	if err != nil {
		return fmt.Errorf("record attendance event: %w", err)
	}
	s.logger.Info("recorded attendance event",
		"type", recorded.Type,
		"attendance_id", recorded.AttendanceID,
		"message_id", recorded.MessageID,
	)
	return nil
}

// validateEvent rejects events the store would refuse, so a bad message is
// acked once instead of being redelivered.
func validateEvent(event types.AttendanceEvent) error {
	switch event.Type {
	case types.EventClockedIn, types.EventQRVerified, types.EventClockedOut:
	default:
		return fmt.Errorf("unknown event type %q", event.Type)
	}
	if _, err := uuid.Parse(event.AttendanceID); err != nil {
		return fmt.Errorf("attendance id: %w", err)
	}
	if _, err := uuid.Parse(event.UserID); err != nil {
		return fmt.Errorf("user id: %w", err)
	}
	return nil
}

func (s *EventService) ListForAttendance(ctx context.Context, attendanceID string) ([]types.AttendanceEvent, error) {
	return s.repo.ListByAttendance(ctx, attendanceID)
}
