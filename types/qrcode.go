package types

import "time"

// QRCodeTTL is the fixed lifetime of a QR code, counted from issuance.
const QRCodeTTL = 24 * time.Hour

// QRCode is a single-use token handed out at clock-in and redeemed
// by scanning it. Once Used is true it is never accepted again.
type QRCode struct {
	// ID is the unique identifier of the QR code record.
	ID string `json:"id" db:"id"`

	// Code is the unique value embedded in the scannable image.
	Code string `json:"code" db:"code"`

	// UserID references the user the code was issued to.
	UserID string `json:"userId" db:"user_id"`

	// Date is the issue day, truncated to midnight UTC.
	Date time.Time `json:"date" db:"date"`

	// ExpiredAt is fixed at issue time plus QRCodeTTL and never extended.
	ExpiredAt time.Time `json:"expiredAt" db:"expired_at"`

	// Used flips from false to true exactly once, on verification.
	Used bool `json:"isUsed" db:"is_used"`

	// UsedAt is the verification time, nil while unused.
	UsedAt *time.Time `json:"usedAt" db:"used_at"`

	// CreatedAt is the timestamp when the code was issued.
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

// Expired reports whether the code can no longer be redeemed at now.
func (q QRCode) Expired(now time.Time) bool {
	return !now.Before(q.ExpiredAt)
}
