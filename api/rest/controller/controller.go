// Package controller holds helpers shared by the REST controllers.
package controller

import (
	"errors"
	"net/http"
	"time"

	"github.com/fia-cloud/fia/internal/admission"
	"github.com/fia-cloud/fia/internal/ledger"
	"github.com/fia-cloud/fia/internal/reservation"
	"github.com/fia-cloud/fia/internal/run"
	"github.com/fia-cloud/fia/pkg/db"
	"github.com/labstack/echo/v4"
	"gorm.io/gorm"
)

// Error maps engine errors onto HTTP errors.
func Error(err error) *echo.HTTPError {
	code := http.StatusInternalServerError

	switch {
	case errors.Is(err, run.ErrDuplicateRun),
		errors.Is(err, reservation.ErrReservationExpired),
		errors.Is(err, reservation.ErrNotActive):
		code = http.StatusConflict
	case errors.Is(err, run.ErrUnknownRun),
		errors.Is(err, reservation.ErrUnknownReservation),
		errors.Is(err, gorm.ErrRecordNotFound):
		code = http.StatusNotFound
	case errors.Is(err, admission.ErrInvalidEstimate),
		errors.Is(err, admission.ErrInvalidRunID),
		errors.Is(err, run.ErrUnknownStage),
		errors.Is(err, run.ErrInvalidEndTime),
		errors.Is(err, reservation.ErrInvalidUsage),
		errors.Is(err, ledger.ErrOverflow):
		code = http.StatusBadRequest
	case db.IsConflict(err):
		code = http.StatusServiceUnavailable
	}

	if code == http.StatusInternalServerError {
		return echo.NewHTTPError(code, "internal server error").SetInternal(err)
	}
	return echo.NewHTTPError(code, err.Error()).SetInternal(err)
}

// ParseKey validates a month (2006-01) or day (2006-01-02) path key.
func ParseKey(value, layout string) (string, error) {
	if _, err := time.Parse(layout, value); err != nil {
		return "", echo.NewHTTPError(http.StatusBadRequest, "invalid key "+value).SetInternal(err)
	}
	return value, nil
}
