package api

import (
	"net/http"
	"time"

	"github.com/fia-cloud/fia/internal/engine"
	"github.com/labstack/echo/v4"
)

var startedAt = time.Now()

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status      Status        `json:"status"`
	Uptime      time.Duration `json:"uptime"`
	Outstanding *int64        `json:"outstanding_reservations,omitempty"`
	Error       string        `json:"error,omitempty"`
}

// Status enumerates the health states of fia.
type Status string

const (
	Healthy  Status = "healthy"
	Degraded Status = "degraded"
)

// Health pings the database and reports how many reservations currently
// hold a concurrency slot.
func Health(eng *engine.Engine) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		resp := HealthResponse{Status: Healthy, Uptime: time.Since(startedAt)}

		sqlDB, err := eng.DB.DB()
		if err == nil {
			err = sqlDB.PingContext(ctx)
		}
		if err == nil {
			var n int64
			if n, err = eng.Reservations.CountOutstanding(ctx, eng.Now()); err == nil {
				resp.Outstanding = &n
			}
		}

		if err != nil {
			resp.Status = Degraded
			resp.Error = err.Error()
			return c.JSON(http.StatusServiceUnavailable, resp)
		}
		return c.JSON(http.StatusOK, resp)
	}
}
