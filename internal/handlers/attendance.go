package handlers

import (
	"errors"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/absensi-app/apiserver/internal/services"
	"github.com/absensi-app/apiserver/types"
	"github.com/go-chi/chi/v5"
)

const (
	maxMultipartMemory = 8 << 20
	maxPhotoBytes      = 10 << 20
	formFieldPhoto     = "photo"
	formFieldLat       = "lat"
	formFieldLon       = "lon"
	formFieldTimestamp = "timestamp"
)

// AttendanceHandler provides clock-in, clock-out and QR verification endpoints.
type AttendanceHandler struct {
	attendanceService *services.AttendanceService
	eventService      *services.EventService
	redirectURL       string
	logger            *slog.Logger
}

func NewAttendanceHandler(
	attendanceService *services.AttendanceService,
	eventService *services.EventService,
	redirectURL string,
	logger *slog.Logger,
) *AttendanceHandler {
	return &AttendanceHandler{
		attendanceService: attendanceService,
		eventService:      eventService,
		redirectURL:       redirectURL,
		logger:            logger,
	}
}

// AttendanceRouter registers attendance routes on the given router.
// QR verification is public: codes are scanned from other devices.
func AttendanceRouter(
	r chi.Router,
	attendanceService *services.AttendanceService,
	eventService *services.EventService,
	userService *services.UserService,
	authMiddleware func(http.Handler) http.Handler,
	redirectURL string,
	logger *slog.Logger,
) {
	handler := NewAttendanceHandler(attendanceService, eventService, redirectURL, logger)

	r.Get("/verify-qr", handler.VerifyQR)
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware, RequireUser(userService))
		r.Post("/", handler.ClockIn)
		r.Get("/", handler.History)
		r.Post("/clockout", handler.ClockOut)
		r.Get("/{attendanceID}/photo", handler.Photo)
		r.With(RequireAdmin).Get("/{attendanceID}/events", handler.Events)
	})
}

// ClockIn accepts a multipart form with a photo and optional coordinates and
// timestamp, and answers with the one-time QR code value.
func (h *AttendanceHandler) ClockIn(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxPhotoBytes+(1<<20))
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	input, fields := parseClockInForm(r)
	if fields != nil {
		writeValidationError(w, fields)
		return
	}
	input.UserID = user.ID

	res, err := h.attendanceService.ClockIn(r.Context(), input)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "user not found", "failed to record attendance")
		return
	}

	writeData(w, http.StatusCreated, "clock-in recorded", ClockInResponse{
		AttendanceID: res.Attendance.ID,
		QRCodeValue:  res.QRCode.Code,
		Name:         res.User.Name,
		Timestamp:    res.Attendance.ClockIn,
		PhotoURL:     res.Attendance.PhotoURL,
		ExpiredAt:    res.QRCode.ExpiredAt,
		Location:     res.Attendance.Location,
	})
}

// VerifyQR redeems a QR code. With redirect=1 and a configured redirect URL
// the outcome is sent as a 303 with status and message query parameters.
func (h *AttendanceHandler) VerifyQR(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	redirect := h.redirectURL != "" && r.URL.Query().Get("redirect") == "1"

	verification, err := h.attendanceService.Verify(r.Context(), code)
	if redirect {
		h.redirectVerification(w, r, verification, err)
		return
	}
	if err != nil {
		writeServiceError(w, r, h.logger, err, "qr code not found", "failed to verify qr code")
		return
	}
	writeData(w, http.StatusOK, "attendance verified", verification)
}

func (h *AttendanceHandler) redirectVerification(w http.ResponseWriter, r *http.Request, verification services.Verification, err error) {
	target, parseErr := url.Parse(h.redirectURL)
	if parseErr != nil {
		h.logger.Error("invalid verify redirect url", "error", parseErr)
		writeError(w, http.StatusInternalServerError, "failed to verify qr code")
		return
	}

	q := target.Query()
	switch {
	case err == nil:
		q.Set("status", "success")
		q.Set("message", "attendance verified")
		q.Set("name", verification.User.Name)
		q.Set("position", verification.User.Position)
		q.Set("attendanceId", verification.Attendance.ID)
	default:
		message := "failed to verify qr code"
		for known := range serviceErrorStatus {
			if errors.Is(err, known) {
				message = known.Error()
				break
			}
		}
		if message == "failed to verify qr code" {
			h.logger.Error("verify qr code", "error", err)
		}
		q.Set("status", "error")
		q.Set("message", message)
	}
	target.RawQuery = q.Encode()
	http.Redirect(w, r, target.String(), http.StatusSeeOther)
}

// ClockOut closes one of the caller's attendances.
func (h *AttendanceHandler) ClockOut(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req ClockOutRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.AttendanceID = strings.TrimSpace(req.AttendanceID)
	if fields := validateStruct(req); fields != nil {
		writeValidationError(w, fields)
		return
	}

	attendance, err := h.attendanceService.ClockOut(r.Context(), user.ID, req.AttendanceID)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "attendance not found", "failed to clock out")
		return
	}
	writeData(w, http.StatusOK, "clock-out recorded", attendance)
}

// History lists the caller's attendances, newest first.
func (h *AttendanceHandler) History(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	page, limit, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	items, total, err := h.attendanceService.History(r.Context(), user.ID, offset, limit)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "attendance not found", "failed to list attendances")
		return
	}
	writeData(w, http.StatusOK, "", ListResponse[types.Attendance]{
		Items: items,
		Page:  page,
		Limit: limit,
		Total: total,
	})
}

// Photo streams the clock-in photo to its owner or an admin.
func (h *AttendanceHandler) Photo(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	rc, err := h.attendanceService.Photo(r.Context(), user, chi.URLParam(r, "attendanceID"))
	if err != nil {
		writeServiceError(w, r, h.logger, err, "photo not found", "failed to load photo")
		return
	}
	defer rc.Close()

	data, err := readFileLimited(rc, maxPhotoBytes)
	if err != nil {
		h.logger.Error("read photo", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load photo")
		return
	}
	w.Header().Set("Content-Type", http.DetectContentType(data))
	w.Header().Set("Cache-Control", "private, max-age=300")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// Events lists the recorded lifecycle events of an attendance.
func (h *AttendanceHandler) Events(w http.ResponseWriter, r *http.Request) {
	events, err := h.eventService.ListForAttendance(r.Context(), chi.URLParam(r, "attendanceID"))
	if err != nil {
		writeServiceError(w, r, h.logger, err, "attendance not found", "failed to list events")
		return
	}
	writeData(w, http.StatusOK, "", events)
}

type ClockInResponse struct {
	AttendanceID string          `json:"attendanceId"`
	QRCodeValue  string          `json:"qrCodeValue"`
	Name         string          `json:"name"`
	Timestamp    time.Time       `json:"timestamp"`
	PhotoURL     string          `json:"photoUrl"`
	ExpiredAt    time.Time       `json:"expiredAt"`
	Location     *types.Location `json:"location,omitempty"`
}

type ClockOutRequest struct {
	AttendanceID string `json:"attendanceId" validate:"required"`
}

func parseClockInForm(r *http.Request) (services.ClockInInput, map[string]string) {
	var input services.ClockInInput
	fields := make(map[string]string)

	file, header, err := r.FormFile(formFieldPhoto)
	switch {
	case errors.Is(err, http.ErrMissingFile):
		fields[formFieldPhoto] = services.ErrPhotoRequired.Error()
	case err != nil:
		fields[formFieldPhoto] = "invalid upload"
	default:
		defer file.Close()
		data, err := readFileLimited(file, maxPhotoBytes)
		if err != nil {
			fields[formFieldPhoto] = err.Error()
		} else {
			input.Photo = services.Photo{Filename: header.Filename, Data: data}
		}
	}

	if lat, err := parseOptionalFloat(r.FormValue(formFieldLat)); err != nil {
		fields[formFieldLat] = "must be a number"
	} else {
		input.Latitude = lat
	}
	if lon, err := parseOptionalFloat(r.FormValue(formFieldLon)); err != nil {
		fields[formFieldLon] = "must be a number"
	} else {
		input.Longitude = lon
	}
	if ts, err := parseOptionalTimestamp(r.FormValue(formFieldTimestamp)); err != nil {
		fields[formFieldTimestamp] = "must be epoch milliseconds or RFC 3339"
	} else {
		input.Timestamp = ts
	}

	if len(fields) > 0 {
		return services.ClockInInput{}, fields
	}
	return input, nil
}

func parseOptionalFloat(value string) (*float64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, err
	}
	if math.IsNaN(parsed) || math.IsInf(parsed, 0) {
		return nil, errors.New("not a finite number")
	}
	return &parsed, nil
}

// parseOptionalTimestamp accepts epoch milliseconds or an RFC 3339 time.
func parseOptionalTimestamp(value string) (*time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	if ms, err := strconv.ParseInt(value, 10, 64); err == nil {
		ts := time.UnixMilli(ms).UTC()
		return &ts, nil
	}
	ts, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil, err
	}
	ts = ts.UTC()
	return &ts, nil
}
