package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/absensi-app/apiserver/types"
	"github.com/google/uuid"
)

// EventRepository stores the attendance audit trail written by the worker.
type EventRepository struct {
	db *sql.DB
}

func NewEventRepository(db *sql.DB) *EventRepository {
	return &EventRepository{db: db}
}

// Record stores an event. Redelivered messages carry the same message id
// and are ignored, so Record is safe to call more than once per message.
func (r *EventRepository) Record(ctx context.Context, event types.AttendanceEvent) (types.AttendanceEvent, error) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.MessageID == "" {
		event.MessageID = event.ID
	}
	event.RecordedAt = time.Now().UTC()

	var qrCode sql.NullString
	if event.QRCode != "" {
		qrCode = sql.NullString{String: event.QRCode, Valid: true}
	}

	const query = `
		INSERT INTO attendance_events (id, attendance_id, user_id, type, qr_code, message_id, occurred_at, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (message_id) DO NOTHING`
	if _, err := r.db.ExecContext(
		ctx,
		query,
		event.ID,
		event.AttendanceID,
		event.UserID,
		event.Type,
		qrCode,
		event.MessageID,
		event.OccurredAt,
		event.RecordedAt,
	); err != nil {
		return types.AttendanceEvent{}, err
	}
	return event, nil
}

// ListByAttendance returns the events of an attendance in the order they occurred.
func (r *EventRepository) ListByAttendance(ctx context.Context, attendanceID string) ([]types.AttendanceEvent, error) {
	if _, err := uuid.Parse(attendanceID); err != nil {
		return []types.AttendanceEvent{}, nil
	}
	const query = `
		SELECT id, attendance_id, user_id, type, qr_code, message_id, occurred_at, recorded_at
		FROM attendance_events
		WHERE attendance_id = $1
		ORDER BY occurred_at, recorded_at`
	rows, err := r.db.QueryContext(ctx, query, attendanceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := make([]types.AttendanceEvent, 0)
	for rows.Next() {
		var event types.AttendanceEvent
		var qrCode sql.NullString
		if err := rows.Scan(
			&event.ID,
			&event.AttendanceID,
			&event.UserID,
			&event.Type,
			&qrCode,
			&event.MessageID,
			&event.OccurredAt,
			&event.RecordedAt,
		); err != nil {
			return nil, err
		}
		event.QRCode = qrCode.String
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}
