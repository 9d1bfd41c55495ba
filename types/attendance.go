package types

import "time"

// Attendance represents a single clock-in/clock-out record of a user.
type Attendance struct {
	// ID is the unique identifier of the attendance record.
	ID string `json:"id" db:"id"`

	// UserID references the user who clocked in.
	UserID string `json:"userId" db:"user_id"`

	// QRCodeID references the one-time code minted at clock-in.
	QRCodeID string `json:"qrCodeId" db:"qr_code_id"`

	// LocationID references the clock-in location, if coordinates were supplied.
	LocationID *string `json:"locationId,omitempty" db:"location_id"`

	// Location is the resolved clock-in location. It is only populated
	// by queries that join the locations table.
	Location *Location `json:"location,omitempty" db:"-"`

	// ClockIn is the moment the user started work.
	ClockIn time.Time `json:"clockIn" db:"clock_in"`

	// ClockOut is the moment the user finished work. It is nil until
	// the user clocks out and is set at most once.
	ClockOut *time.Time `json:"clockOut" db:"clock_out"`

	// PhotoURL is the public URL of the clock-in photo.
	PhotoURL string `json:"photoUrl" db:"photo_url"`

	// PhotoKey is the object storage key of the clock-in photo.
	PhotoKey string `json:"-" db:"photo_key"`

	// CreatedAt is the timestamp when the record was stored.
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

// Location is a geographic point captured at clock-in. It is immutable.
type Location struct {
	ID        string  `json:"id" db:"id"`
	Latitude  float64 `json:"latitude" db:"latitude"`
	Longitude float64 `json:"longitude" db:"longitude"`
	Address   *string `json:"address" db:"address"`
}

// AttendanceEvent is published on the attendance channel whenever the
// lifecycle of an attendance record advances.
type AttendanceEvent struct {
	// ID is assigned by the event store once the event is recorded.
	ID string `json:"id,omitempty"`

	// Type is one of the Event* constants below.
	Type string `json:"type"`

	AttendanceID string `json:"attendanceId"`
	UserID       string `json:"userId"`

	// QRCode is the code value involved, when relevant.
	QRCode string `json:"qrCode,omitempty"`

	// MessageID is the broker message id the event arrived with.
	MessageID string `json:"messageId,omitempty"`

	// OccurredAt is when the producer observed the event.
	OccurredAt time.Time `json:"occurredAt"`

	// RecordedAt is when the worker stored the event.
	RecordedAt time.Time `json:"recordedAt,omitempty"`
}

// Event types carried by AttendanceEvent.
const (
	EventClockedIn  = "attendance.clocked_in"
	EventQRVerified = "attendance.qr_verified"
	EventClockedOut = "attendance.clocked_out"
)

// ClockIn bundles the records created together by a single clock-in.
// Location is nil when no coordinates were supplied.
type ClockIn struct {
	Attendance Attendance
	QRCode     QRCode
	Location   *Location
}
