package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/absensi-app/apiserver/internal/store"
	"github.com/absensi-app/apiserver/types"
	"github.com/google/uuid"
)

const (
	photoFolder       = "absensi"
	maxCodeAttempts   = 3
	noPositionDefault = "No position"
)

var photoExtensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
	"image/bmp":  ".bmp",
}

// AttendanceRepository defines persistence operations for attendances.
type AttendanceRepository interface {
	CreateClockIn(ctx context.Context, in types.ClockIn) (types.Attendance, error)
	GetByID(ctx context.Context, id string) (types.Attendance, error)
	GetByQRCodeID(ctx context.Context, qrCodeID string) (types.Attendance, error)
	ClockOut(ctx context.Context, id string, at time.Time) (types.Attendance, error)
	ListByUser(ctx context.Context, userID string, offset, limit int) ([]types.Attendance, int, error)
}

// QRCodeRepository defines persistence operations for one-time QR codes.
type QRCodeRepository interface {
	Redeem(ctx context.Context, code string, now time.Time) (types.QRCode, error)
	GetByCode(ctx context.Context, code string) (types.QRCode, error)
}

// PhotoStore is the object storage used for clock-in photos.
type PhotoStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	URL(key string) string
}

// Photo is an uploaded clock-in photo.
type Photo struct {
	Filename string
	Data     []byte
}

// ClockInInput describes a clock-in request. Location is recorded only
// when both coordinates are present; Timestamp defaults to now.
type ClockInInput struct {
	UserID    string
	Photo     Photo
	Latitude  *float64
	Longitude *float64
	Timestamp *time.Time
}

// ClockInResult is what the issuer hands back to the client.
type ClockInResult struct {
	Attendance types.Attendance
	QRCode     types.QRCode
	User       types.User
}

// Verification is the snapshot returned for a successfully redeemed QR code.
type Verification struct {
	User       VerifiedUser       `json:"user"`
	Attendance VerifiedAttendance `json:"attendance"`
	QRCode     VerifiedCode       `json:"qrCode"`
}

type VerifiedUser struct {
	Name     string `json:"name"`
	Position string `json:"position"`
}

type VerifiedAttendance struct {
	ID       string          `json:"id"`
	ClockIn  time.Time       `json:"clockIn"`
	PhotoURL string          `json:"photoUrl"`
	Location *types.Location `json:"location"`
}

type VerifiedCode struct {
	Code       string    `json:"code"`
	VerifiedAt time.Time `json:"verifiedAt"`
}

// AttendanceDeps groups the collaborators of an AttendanceService.
// Events may be nil to disable publishing.
type AttendanceDeps struct {
	Attendances  AttendanceRepository
	QRCodes      QRCodeRepository
	Users        UserRepository
	Photos       PhotoStore
	Events       EventPublisher
	EventChannel string
	Logger       *slog.Logger
}

// AttendanceService issues attendances with one-time QR codes and verifies them.
type AttendanceService struct {
	attendances AttendanceRepository
	qrCodes     QRCodeRepository
	users       UserRepository
	photos      PhotoStore
	events      EventPublisher
	channel     string
	logger      *slog.Logger
	now         func() time.Time
}

func NewAttendanceService(deps AttendanceDeps) *AttendanceService {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &AttendanceService{
		attendances: deps.Attendances,
		qrCodes:     deps.QRCodes,
		users:       deps.Users,
		photos:      deps.Photos,
		events:      deps.Events,
		channel:     deps.EventChannel,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// ClockIn uploads the photo, then stores the location, a fresh QR code and
// the attendance together. The photo is removed again if storing fails.
func (s *AttendanceService) ClockIn(ctx context.Context, in ClockInInput) (ClockInResult, error) {
	if len(in.Photo.Data) == 0 {
		return ClockInResult{}, ErrPhotoRequired
	}
	contentType := http.DetectContentType(in.Photo.Data)
	if !strings.HasPrefix(contentType, "image/") {
		return ClockInResult{}, ErrPhotoNotImage
	}

	var location *types.Location
	if in.Latitude != nil && in.Longitude != nil {
		lat, lon := *in.Latitude, *in.Longitude
		if lat < -90 || lat > 90 {
			return ClockInResult{}, ErrInvalidLatitude
		}
		if lon < -180 || lon > 180 {
			return ClockInResult{}, ErrInvalidLongitude
		}
		location = &types.Location{Latitude: lat, Longitude: lon}
	}

	user, err := s.users.GetByID(ctx, in.UserID)
	if err != nil {
		return ClockInResult{}, err
	}

	now := s.now()
	key := photoKey(now, user.ID, in.Photo.Filename, contentType)
	if err := s.photos.Put(ctx, key, bytes.NewReader(in.Photo.Data), int64(len(in.Photo.Data)), contentType); err != nil {
		return ClockInResult{}, fmt.Errorf("upload photo: %w", err)
	}

	clockIn := now
	if in.Timestamp != nil {
		clockIn = in.Timestamp.UTC()
	}

	record := types.ClockIn{
		Attendance: types.Attendance{
			UserID:   user.ID,
			ClockIn:  clockIn,
			PhotoURL: s.photos.URL(key),
			PhotoKey: key,
		},
		Location: location,
	}

	var attendance types.Attendance
	for attempt := 1; ; attempt++ {
		record.QRCode = newQRCode(user.ID, now)
		attendance, err = s.attendances.CreateClockIn(ctx, record)
		if err == nil {
			break
		}
		if errors.Is(err, store.ErrAlreadyExists) && attempt < maxCodeAttempts {
			continue
		}
		if delErr := s.photos.Delete(context.WithoutCancel(ctx), key); delErr != nil {
			s.logger.Warn("remove orphaned photo", "key", key, "error", delErr)
		}
		return ClockInResult{}, fmt.Errorf("store clock-in: %w", err)
	}

	qr := record.QRCode
	qr.ID = attendance.QRCodeID

	publishEvent(ctx, s.events, s.channel, s.logger, types.AttendanceEvent{
		Type:         types.EventClockedIn,
		AttendanceID: attendance.ID,
		UserID:       user.ID,
		QRCode:       qr.Code,
		OccurredAt:   now,
	})

	return ClockInResult{Attendance: attendance, QRCode: qr, User: user}, nil
}

// Verify redeems a QR code. The used flag flips in one conditional update;
// the code is read back only to explain a refusal.
func (s *AttendanceService) Verify(ctx context.Context, code string) (Verification, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return Verification{}, ErrCodeRequired
	}

	now := s.now()
	qr, err := s.qrCodes.Redeem(ctx, code, now)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return Verification{}, fmt.Errorf("redeem qr code: %w", err)
		}
		return Verification{}, s.classifyRefusal(ctx, code, now)
	}

	attendance, err := s.attendances.GetByQRCodeID(ctx, qr.ID)
	if err != nil {
		return Verification{}, fmt.Errorf("load attendance for qr code: %w", err)
	}
	user, err := s.users.GetByID(ctx, qr.UserID)
	if err != nil {
		return Verification{}, fmt.Errorf("load user for qr code: %w", err)
	}

	position := noPositionDefault
	if user.Position != nil && *user.Position != "" {
		position = *user.Position
	}
	verifiedAt := now
	if qr.UsedAt != nil {
		verifiedAt = *qr.UsedAt
	}

	publishEvent(ctx, s.events, s.channel, s.logger, types.AttendanceEvent{
		Type:         types.EventQRVerified,
		AttendanceID: attendance.ID,
		UserID:       user.ID,
		QRCode:       qr.Code,
		OccurredAt:   verifiedAt,
	})

	return Verification{
		User: VerifiedUser{Name: user.Name, Position: position},
		Attendance: VerifiedAttendance{
			ID:       attendance.ID,
			ClockIn:  attendance.ClockIn,
			PhotoURL: attendance.PhotoURL,
			Location: attendance.Location,
		},
		QRCode: VerifiedCode{Code: qr.Code, VerifiedAt: verifiedAt},
	}, nil
}

// classifyRefusal explains why a redeem matched nothing. Expiry wins over
// use, so an expired code is reported as expired whatever its used flag.
func (s *AttendanceService) classifyRefusal(ctx context.Context, code string, now time.Time) error {
	qr, err := s.qrCodes.GetByCode(ctx, code)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrQRCodeNotFound
		}
		return fmt.Errorf("load qr code: %w", err)
	}
	if qr.Expired(now) {
		return ErrQRCodeExpired
	}
	return ErrQRCodeUsed
}

// ClockOut closes the caller's own attendance. It succeeds at most once.
func (s *AttendanceService) ClockOut(ctx context.Context, userID, attendanceID string) (types.Attendance, error) {
	attendance, err := s.attendances.GetByID(ctx, attendanceID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.Attendance{}, ErrAttendanceMissing
		}
		return types.Attendance{}, err
	}
	if attendance.UserID != userID {
		return types.Attendance{}, ErrForbidden
	}
	if attendance.ClockOut != nil {
		return types.Attendance{}, ErrAlreadyClockedOut
	}

	now := s.now()
	updated, err := s.attendances.ClockOut(ctx, attendanceID, now)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.Attendance{}, ErrAlreadyClockedOut
		}
		return types.Attendance{}, err
	}

	publishEvent(ctx, s.events, s.channel, s.logger, types.AttendanceEvent{
		Type:         types.EventClockedOut,
		AttendanceID: updated.ID,
		UserID:       userID,
		OccurredAt:   now,
	})
	return updated, nil
}

// History lists a user's attendances, newest first.
func (s *AttendanceService) History(ctx context.Context, userID string, offset, limit int) ([]types.Attendance, int, error) {
	return s.attendances.ListByUser(ctx, userID, offset, limit)
}

// Photo opens the clock-in photo of an attendance. Only its owner and
// admins may read it.
func (s *AttendanceService) Photo(ctx context.Context, requester types.User, attendanceID string) (io.ReadCloser, error) {
	attendance, err := s.attendances.GetByID(ctx, attendanceID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrAttendanceMissing
		}
		return nil, err
	}
	if attendance.UserID != requester.ID && requester.Role != types.RoleAdmin {
		return nil, ErrForbidden
	}
	return s.photos.Get(ctx, attendance.PhotoKey)
}

func newQRCode(userID string, now time.Time) types.QRCode {
	now = now.UTC()
	return types.QRCode{
		Code:      fmt.Sprintf("ABSEN-%s-%s-%s", now.Format("20060102"), userID, uuid.NewString()[:8]),
		UserID:    userID,
		Date:      time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC),
		ExpiredAt: now.Add(types.QRCodeTTL),
	}
}

// photoKey names the object of one upload. The random suffix keeps two
// clock-ins in the same millisecond from sharing, and later deleting, a key.
func photoKey(now time.Time, userID, filename, contentType string) string {
	ext, ok := photoExtensions[contentType]
	if !ok {
		ext = strings.ToLower(filepath.Ext(filename))
	}
	return fmt.Sprintf("%s/absensi_%d_%s_%s%s", photoFolder, now.UnixMilli(), userID, uuid.NewString()[:8], ext)
}
