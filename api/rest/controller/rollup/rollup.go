package rollup

import (
	"errors"
	"net/http"

	"github.com/fia-cloud/fia/api/rest/controller"
	"github.com/fia-cloud/fia/internal/anomaly"
	"github.com/fia-cloud/fia/internal/engine"
	"github.com/fia-cloud/fia/internal/models"
	"github.com/labstack/echo/v4"
	"gorm.io/gorm"
)

type Controller struct {
	engine *engine.Engine
}

func New(e *engine.Engine) *Controller {
	return &Controller{engine: e}
}

// Response pairs the persisted snapshot with counters not yet flushed.
type Response struct {
	Day       string                 `json:"day"`
	Persisted *models.AnomalyRollup  `json:"persisted,omitempty"`
	Pending   map[anomaly.Kind]int64 `json:"pending"`
}

func (ctrl *Controller) Get(c echo.Context) error {
	day, err := controller.ParseKey(c.Param("day"), "2006-01-02")
	if err != nil {
		return err
	}

	resp := Response{Day: day, Pending: ctrl.engine.Rollup.Pending(day)}

	row, err := ctrl.engine.Rollup.Get(c.Request().Context(), day)
	switch {
	case err == nil:
		resp.Persisted = row
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return controller.Error(err)
	}

	return c.JSON(http.StatusOK, resp)
}

func (ctrl *Controller) Flush(c echo.Context) error {
	day, err := controller.ParseKey(c.Param("day"), "2006-01-02")
	if err != nil {
		return err
	}

	summary, err := ctrl.engine.Rollup.Flush(c.Request().Context(), day)
	if err != nil {
		return controller.Error(err)
	}
	return c.JSON(http.StatusOK, summary)
}
