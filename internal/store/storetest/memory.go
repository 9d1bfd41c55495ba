// Package storetest provides in-memory repositories that behave like the
// postgres ones in package store. They are meant for tests.
package storetest

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/absensi-app/apiserver/internal/store"
	"github.com/absensi-app/apiserver/types"
	"github.com/google/uuid"
)

// Memory holds every repository over one shared, mutex-guarded dataset.
type Memory struct {
	Users       *UserRepository
	Attendances *AttendanceRepository
	QRCodes     *QRCodeRepository
	Events      *EventRepository
}

type state struct {
	mu          sync.Mutex
	users       map[string]types.User
	attendances map[string]types.Attendance
	qrCodes     map[string]types.QRCode
	events      []types.AttendanceEvent
}

// New returns an empty in-memory store.
func New() *Memory {
	s := &state{
		users:       make(map[string]types.User),
		attendances: make(map[string]types.Attendance),
		qrCodes:     make(map[string]types.QRCode),
	}
	return &Memory{
		Users:       &UserRepository{s: s},
		Attendances: &AttendanceRepository{s: s},
		QRCodes:     &QRCodeRepository{s: s},
		Events:      &EventRepository{s: s},
	}
}

// UserRepository is an in-memory store.UserRepository.
type UserRepository struct {
	s *state
}

func (r *UserRepository) GetByID(_ context.Context, id string) (types.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	user, ok := r.s.users[id]
	if !ok {
		return types.User{}, store.ErrNotFound
	}
	return user, nil
}

func (r *UserRepository) GetByEmail(_ context.Context, email string) (types.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, user := range r.s.users {
		if strings.EqualFold(user.Email, email) {
			return user, nil
		}
	}
	return types.User{}, store.ErrNotFound
}

func (r *UserRepository) List(_ context.Context) ([]types.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	users := make([]types.User, 0, len(r.s.users))
	for _, user := range r.s.users {
		users = append(users, user)
	}
	sort.Slice(users, func(i, j int) bool {
		if users[i].CreatedAt.Equal(users[j].CreatedAt) {
			return users[i].ID < users[j].ID
		}
		return users[i].CreatedAt.After(users[j].CreatedAt)
	})
	return users, nil
}

func (r *UserRepository) Create(_ context.Context, user types.User) (types.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.users {
		if strings.EqualFold(existing.Email, user.Email) {
			return types.User{}, store.ErrAlreadyExists
		}
	}
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now
	r.s.users[user.ID] = user
	return user, nil
}

func (r *UserRepository) Update(_ context.Context, user types.User) (types.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.users[user.ID]; !ok {
		return types.User{}, store.ErrNotFound
	}
	user.UpdatedAt = time.Now().UTC()
	r.s.users[user.ID] = user
	return user, nil
}

func (r *UserRepository) TouchLogin(_ context.Context, id string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	user, ok := r.s.users[id]
	if !ok {
		return store.ErrNotFound
	}
	user.UpdatedAt = at
	r.s.users[id] = user
	return nil
}

// Delete removes the user together with its attendances and QR codes.
func (r *UserRepository) Delete(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.users[id]; !ok {
		return store.ErrNotFound
	}
	delete(r.s.users, id)
	for key, attendance := range r.s.attendances {
		if attendance.UserID == id {
			delete(r.s.attendances, key)
		}
	}
	for key, qr := range r.s.qrCodes {
		if qr.UserID == id {
			delete(r.s.qrCodes, key)
		}
	}
	return nil
}

// AttendanceRepository is an in-memory store.AttendanceRepository.
type AttendanceRepository struct {
	s *state

	// CreateErr, when set, is returned by CreateClockIn without storing anything.
	CreateErr error
}

func (r *AttendanceRepository) CreateClockIn(_ context.Context, in types.ClockIn) (types.Attendance, error) {
	if r.CreateErr != nil {
		return types.Attendance{}, r.CreateErr
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, existing := range r.s.qrCodes {
		if existing.Code == in.QRCode.Code {
			return types.Attendance{}, store.ErrAlreadyExists
		}
	}

	now := time.Now().UTC()
	attendance := in.Attendance
	if attendance.ID == "" {
		attendance.ID = uuid.NewString()
	}
	attendance.CreatedAt = now

	if in.Location != nil {
		location := *in.Location
		if location.ID == "" {
			location.ID = uuid.NewString()
		}
		attendance.LocationID = &location.ID
		attendance.Location = &location
	}

	qr := in.QRCode
	if qr.ID == "" {
		qr.ID = uuid.NewString()
	}
	qr.CreatedAt = now
	qr.Used = false
	qr.UsedAt = nil
	r.s.qrCodes[qr.ID] = qr

	attendance.QRCodeID = qr.ID
	r.s.attendances[attendance.ID] = attendance
	return attendance, nil
}

func (r *AttendanceRepository) GetByID(_ context.Context, id string) (types.Attendance, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	attendance, ok := r.s.attendances[id]
	if !ok {
		return types.Attendance{}, store.ErrNotFound
	}
	return attendance, nil
}

func (r *AttendanceRepository) GetByQRCodeID(_ context.Context, qrCodeID string) (types.Attendance, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, attendance := range r.s.attendances {
		if attendance.QRCodeID == qrCodeID {
			return attendance, nil
		}
	}
	return types.Attendance{}, store.ErrNotFound
}

func (r *AttendanceRepository) ClockOut(_ context.Context, id string, at time.Time) (types.Attendance, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	attendance, ok := r.s.attendances[id]
	if !ok || attendance.ClockOut != nil {
		return types.Attendance{}, store.ErrNotFound
	}
	attendance.ClockOut = &at
	r.s.attendances[id] = attendance
	return attendance, nil
}

func (r *AttendanceRepository) ListByUser(_ context.Context, userID string, offset, limit int) ([]types.Attendance, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if offset < 0 {
		offset = 0
	}
	if limit < 1 {
		limit = 20
	}

	matched := make([]types.Attendance, 0)
	for _, attendance := range r.s.attendances {
		if attendance.UserID == userID {
			matched = append(matched, attendance)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].ClockIn.After(matched[j].ClockIn)
	})

	total := len(matched)
	if offset >= total {
		return []types.Attendance{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return matched[offset:end], total, nil
}

// QRCodeRepository is an in-memory store.QRCodeRepository.
type QRCodeRepository struct {
	s *state
}

// Redeem checks and flips the used flag under the store lock, matching the
// single conditional update of the postgres implementation.
func (r *QRCodeRepository) Redeem(_ context.Context, code string, now time.Time) (types.QRCode, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for id, qr := range r.s.qrCodes {
		if qr.Code != code {
			continue
		}
		if qr.Used || !now.Before(qr.ExpiredAt) {
			return types.QRCode{}, store.ErrNotFound
		}
		qr.Used = true
		usedAt := now
		qr.UsedAt = &usedAt
		r.s.qrCodes[id] = qr
		return qr, nil
	}
	return types.QRCode{}, store.ErrNotFound
}

func (r *QRCodeRepository) GetByCode(_ context.Context, code string) (types.QRCode, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, qr := range r.s.qrCodes {
		if qr.Code == code {
			return qr, nil
		}
	}
	return types.QRCode{}, store.ErrNotFound
}

// Expire moves the expiry of a code into the past.
func (r *QRCodeRepository) Expire(code string) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for id, qr := range r.s.qrCodes {
		if qr.Code == code {
			qr.ExpiredAt = time.Now().Add(-time.Minute)
			r.s.qrCodes[id] = qr
		}
	}
}

// EventRepository is an in-memory store.EventRepository.
type EventRepository struct {
	s *state
}

func (r *EventRepository) Record(_ context.Context, event types.AttendanceEvent) (types.AttendanceEvent, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.MessageID == "" {
		event.MessageID = event.ID
	}
	for _, existing := range r.s.events {
		if existing.MessageID == event.MessageID {
			return event, nil
		}
	}
	event.RecordedAt = time.Now().UTC()
	r.s.events = append(r.s.events, event)
	return event, nil
}

func (r *EventRepository) ListByAttendance(_ context.Context, attendanceID string) ([]types.AttendanceEvent, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	events := make([]types.AttendanceEvent, 0)
	for _, event := range r.s.events {
		if event.AttendanceID == attendanceID {
			events = append(events, event)
		}
	}
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].OccurredAt.Before(events[j].OccurredAt)
	})
	return events, nil
}
