package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/absensi-app/apiserver/types"
)

const qrCodeColumns = `id, code, user_id, date, expired_at, is_used, used_at, created_at`

// QRCodeRepository handles persistence for one-time QR codes.
type QRCodeRepository struct {
	db *sql.DB
}

func NewQRCodeRepository(db *sql.DB) *QRCodeRepository {
	return &QRCodeRepository{db: db}
}

// Redeem marks an unused, unexpired code as used in a single conditional
// update and returns the updated row. Concurrent callers race on the row
// lock; exactly one of them sees the row. ErrNotFound is returned when no
// redeemable code matches, whatever the reason.
func (r *QRCodeRepository) Redeem(ctx context.Context, code string, now time.Time) (types.QRCode, error) {
	const query = `
		UPDATE qr_codes
		SET is_used = true,
			used_at = $2
		WHERE code = $1 AND is_used = false AND expired_at > $2
		RETURNING ` + qrCodeColumns
	return scanQRCode(r.db.QueryRowContext(ctx, query, code, now))
}

func (r *QRCodeRepository) GetByCode(ctx context.Context, code string) (types.QRCode, error) {
	const query = `SELECT ` + qrCodeColumns + ` FROM qr_codes WHERE code = $1`
	return scanQRCode(r.db.QueryRowContext(ctx, query, code))
}

func scanQRCode(row rowScanner) (types.QRCode, error) {
	var qr types.QRCode
	var usedAt sql.NullTime
	err := row.Scan(
		&qr.ID,
		&qr.Code,
		&qr.UserID,
		&qr.Date,
		&qr.ExpiredAt,
		&qr.Used,
		&usedAt,
		&qr.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.QRCode{}, ErrNotFound
		}
		return types.QRCode{}, err
	}
	if usedAt.Valid {
		qr.UsedAt = &usedAt.Time
	}
	return qr, nil
}
