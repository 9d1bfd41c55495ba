package services

import "errors"

var (
	// ErrEmailTaken is returned when registering an email that already has an account.
	ErrEmailTaken = errors.New("email already registered")
	// ErrInvalidCredentials is returned when the email or password does not match.
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrNothingToUpdate is returned for a user update that changes no field.
	ErrNothingToUpdate = errors.New("no fields to update")
	// ErrInvalidRole is returned for a role other than ADMIN or EMPLOYEE.
	ErrInvalidRole = errors.New("invalid role")

	ErrPhotoRequired     = errors.New("photo is required")
	ErrPhotoNotImage     = errors.New("photo must be an image")
	ErrInvalidLatitude   = errors.New("latitude must be within [-90, 90]")
	ErrInvalidLongitude  = errors.New("longitude must be within [-180, 180]")
	ErrAttendanceMissing = errors.New("attendance not found")
	ErrForbidden         = errors.New("forbidden")
	ErrAlreadyClockedOut = errors.New("attendance already clocked out")

	ErrCodeRequired   = errors.New("qr code is required")
	ErrQRCodeNotFound = errors.New("qr code not found")
	ErrQRCodeExpired  = errors.New("qr code has expired")
	ErrQRCodeUsed     = errors.New("qr code has already been used")
)
