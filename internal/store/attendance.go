package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/absensi-app/apiserver/types"
	"github.com/google/uuid"
)

const attendanceSelect = `
	SELECT a.id, a.user_id, a.qr_code_id, a.location_id, a.clock_in, a.clock_out,
		a.photo_url, a.photo_key, a.created_at,
		l.id, l.latitude, l.longitude, l.address
	FROM attendances a
	LEFT JOIN locations l ON l.id = a.location_id`

// AttendanceRepository handles persistence for attendances and the
// locations and QR codes created alongside them.
type AttendanceRepository struct {
	db *sql.DB
}

func NewAttendanceRepository(db *sql.DB) *AttendanceRepository {
	return &AttendanceRepository{db: db}
}

// CreateClockIn stores the location, QR code and attendance of a clock-in
// in one transaction. Either all rows are written or none are.
func (r *AttendanceRepository) CreateClockIn(ctx context.Context, in types.ClockIn) (types.Attendance, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return types.Attendance{}, err
	}
	defer func() {
		_ = tx.Rollback()
	}()

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
		const locationQuery = `
			INSERT INTO locations (id, latitude, longitude, address)
			VALUES ($1, $2, $3, $4)`
		if _, err := tx.ExecContext(ctx, locationQuery, location.ID, location.Latitude, location.Longitude, location.Address); err != nil {
			return types.Attendance{}, fmt.Errorf("insert location: %w", err)
		}
		attendance.LocationID = &location.ID
		attendance.Location = &location
	}

	qr := in.QRCode
	if qr.ID == "" {
		qr.ID = uuid.NewString()
	}
	qr.CreatedAt = now
	const qrQuery = `
		INSERT INTO qr_codes (id, code, user_id, date, expired_at, is_used, created_at)
		VALUES ($1, $2, $3, $4, $5, false, $6)`
	if _, err := tx.ExecContext(ctx, qrQuery, qr.ID, qr.Code, qr.UserID, qr.Date, qr.ExpiredAt, qr.CreatedAt); err != nil {
		return types.Attendance{}, fmt.Errorf("insert qr code: %w", mapWriteError(err))
	}
	attendance.QRCodeID = qr.ID

	const attendanceQuery = `
		INSERT INTO attendances (id, user_id, qr_code_id, location_id, clock_in, photo_url, photo_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	if _, err := tx.ExecContext(
		ctx,
		attendanceQuery,
		attendance.ID,
		attendance.UserID,
		attendance.QRCodeID,
		attendance.LocationID,
		attendance.ClockIn,
		attendance.PhotoURL,
		attendance.PhotoKey,
		attendance.CreatedAt,
	); err != nil {
		return types.Attendance{}, fmt.Errorf("insert attendance: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return types.Attendance{}, err
	}
	return attendance, nil
}

func (r *AttendanceRepository) GetByID(ctx context.Context, id string) (types.Attendance, error) {
	if _, err := uuid.Parse(id); err != nil {
		return types.Attendance{}, ErrNotFound
	}
	return scanAttendance(r.db.QueryRowContext(ctx, attendanceSelect+` WHERE a.id = $1`, id))
}

func (r *AttendanceRepository) GetByQRCodeID(ctx context.Context, qrCodeID string) (types.Attendance, error) {
	return scanAttendance(r.db.QueryRowContext(ctx, attendanceSelect+` WHERE a.qr_code_id = $1`, qrCodeID))
}

// ClockOut sets the clock-out time of an attendance that has none yet.
// It returns ErrNotFound when no open attendance matches.
func (r *AttendanceRepository) ClockOut(ctx context.Context, id string, at time.Time) (types.Attendance, error) {
	const query = `
		UPDATE attendances
		SET clock_out = $2
		WHERE id = $1 AND clock_out IS NULL`
	result, err := r.db.ExecContext(ctx, query, id, at)
	if err != nil {
		return types.Attendance{}, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return types.Attendance{}, err
	}
	if affected == 0 {
		return types.Attendance{}, ErrNotFound
	}
	return r.GetByID(ctx, id)
}

// ListByUser returns a page of a user's attendances, newest clock-in first,
// along with the total number of attendances the user has.
func (r *AttendanceRepository) ListByUser(ctx context.Context, userID string, offset, limit int) ([]types.Attendance, int, error) {
	if offset < 0 {
		offset = 0
	}
	if limit < 1 {
		limit = 20
	}

	const countQuery = `SELECT COUNT(1) FROM attendances WHERE user_id = $1`
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, userID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.db.QueryContext(ctx, attendanceSelect+`
		WHERE a.user_id = $1
		ORDER BY a.clock_in DESC
		OFFSET $2 LIMIT $3`, userID, offset, limit)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	attendances := make([]types.Attendance, 0, limit)
	for rows.Next() {
		attendance, err := scanAttendance(rows)
		if err != nil {
			return nil, 0, err
		}
		attendances = append(attendances, attendance)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return attendances, total, nil
}

func scanAttendance(row rowScanner) (types.Attendance, error) {
	var (
		attendance types.Attendance
		locationID sql.NullString
		clockOut   sql.NullTime
		locID      sql.NullString
		latitude   sql.NullFloat64
		longitude  sql.NullFloat64
		address    sql.NullString
	)
	err := row.Scan(
		&attendance.ID,
		&attendance.UserID,
		&attendance.QRCodeID,
		&locationID,
		&attendance.ClockIn,
		&clockOut,
		&attendance.PhotoURL,
		&attendance.PhotoKey,
		&attendance.CreatedAt,
		&locID,
		&latitude,
		&longitude,
		&address,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Attendance{}, ErrNotFound
		}
		return types.Attendance{}, err
	}

	if locationID.Valid {
		attendance.LocationID = &locationID.String
	}
	if clockOut.Valid {
		attendance.ClockOut = &clockOut.Time
	}
	if locID.Valid {
		location := &types.Location{
			ID:        locID.String,
			Latitude:  latitude.Float64,
			Longitude: longitude.Float64,
		}
		if address.Valid {
			location.Address = &address.String
		}
		attendance.Location = location
	}
	return attendance, nil
}
