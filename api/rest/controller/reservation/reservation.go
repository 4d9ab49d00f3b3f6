package reservation

import (
	"net/http"

	"github.com/fia-cloud/fia/api/rest/controller"
	"github.com/fia-cloud/fia/internal/engine"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

type Controller struct {
	engine *engine.Engine
}

func New(e *engine.Engine) *Controller {
	return &Controller{engine: e}
}

type ReleaseRequest struct {
	ActualCPUMinutes *float64 `json:"actual_cpu_minutes"`
}

func (ctrl *Controller) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid reservation id")
	}

	r, err := ctrl.engine.Reservations.Get(c.Request().Context(), id)
	if err != nil {
		return controller.Error(err)
	}
	return c.JSON(http.StatusOK, r)
}

func (ctrl *Controller) Release(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid reservation id")
	}

	var req ReleaseRequest
	if err := c.Bind(&req); err != nil {
		return echo.ErrBadRequest.SetInternal(err)
	}
	if req.ActualCPUMinutes == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "actual_cpu_minutes is required")
	}

	r, err := ctrl.engine.Coordinator.Release(c.Request().Context(), id, *req.ActualCPUMinutes)
	if err != nil {
		return controller.Error(err)
	}
	return c.JSON(http.StatusOK, r)
}

// Sweep runs one expiry pass immediately.
func (ctrl *Controller) Sweep(c echo.Context) error {
	report, err := ctrl.engine.Sweeper.SweepOnce(c.Request().Context())
	if err != nil {
		return controller.Error(err)
	}
	return c.JSON(http.StatusOK, report)
}
