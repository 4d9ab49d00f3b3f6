package usage

import (
	"net/http"

	"github.com/fia-cloud/fia/api/rest/controller"
	"github.com/fia-cloud/fia/internal/engine"
	"github.com/labstack/echo/v4"
)

type Controller struct {
	engine *engine.Engine
}

func New(e *engine.Engine) *Controller {
	return &Controller{engine: e}
}

// Get reports a month against the configured hard stop. The month "current"
// resolves in the canonical time zone.
func (ctrl *Controller) Get(c echo.Context) error {
	ctx := c.Request().Context()

	month := c.Param("month")
	if month == "current" {
		month = ctrl.engine.Ledger.MonthKey(ctrl.engine.Now())
	}
	if _, err := controller.ParseKey(month, "2006-01"); err != nil {
		return err
	}

	snap, err := ctrl.engine.Config.Snapshot(ctx)
	if err != nil {
		return controller.Error(err)
	}

	report, err := ctrl.engine.Ledger.Report(ctx, month, snap.CostGuardrails.MonthlyHardStop)
	if err != nil {
		return controller.Error(err)
	}
	return c.JSON(http.StatusOK, report)
}
