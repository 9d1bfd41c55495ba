package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/absensi-app/apiserver/internal/services"
	"github.com/absensi-app/apiserver/internal/store"
	"github.com/go-chi/chi/v5/middleware"
)

var serviceErrorStatus = map[error]int{
	services.ErrEmailTaken:         http.StatusBadRequest,
	services.ErrInvalidCredentials: http.StatusUnauthorized,
	services.ErrNothingToUpdate:    http.StatusBadRequest,
	services.ErrAttendanceMissing:  http.StatusNotFound,
	services.ErrForbidden:          http.StatusForbidden,
	services.ErrAlreadyClockedOut:  http.StatusBadRequest,
	services.ErrCodeRequired:       http.StatusBadRequest,
	services.ErrQRCodeNotFound:     http.StatusNotFound,
	services.ErrQRCodeExpired:      http.StatusBadRequest,
	services.ErrQRCodeUsed:         http.StatusBadRequest,
}

var serviceFieldErrors = map[error]string{
	services.ErrInvalidRole:      "role",
	services.ErrPhotoRequired:    "photo",
	services.ErrPhotoNotImage:    "photo",
	services.ErrInvalidLatitude:  formFieldLat,
	services.ErrInvalidLongitude: formFieldLon,
}

// writeServiceError maps a service error onto a response. Unknown errors
// are logged and answered with 500 and the generic fallback message.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error, notFound, fallback string) {
	for target, field := range serviceFieldErrors {
		if errors.Is(err, target) {
			writeValidationError(w, map[string]string{field: target.Error()})
			return
		}
	}
	for target, status := range serviceErrorStatus {
		if errors.Is(err, target) {
			writeError(w, status, target.Error())
			return
		}
	}
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, notFound)
		return
	}

	logger.Error(fallback,
		"error", err,
		"method", r.Method,
		"path", r.URL.Path,
		"request_id", middleware.GetReqID(r.Context()),
	)
	writeError(w, http.StatusInternalServerError, fallback)
}
