package admission

import (
	"net/http"

	"github.com/fia-cloud/fia/api/rest/controller"
	"github.com/fia-cloud/fia/internal/admission"
	"github.com/fia-cloud/fia/internal/engine"
	"github.com/labstack/echo/v4"
)

type Controller struct {
	engine *engine.Engine
}

func New(e *engine.Engine) *Controller {
	return &Controller{engine: e}
}

// Post requests admission. Grants answer 201 Created; denials are regular
// decisions and answer 200.
func (ctrl *Controller) Post(c echo.Context) error {
	var req admission.Request
	if err := c.Bind(&req); err != nil {
		return echo.ErrBadRequest.SetInternal(err)
	}

	d, err := ctrl.engine.Coordinator.Admit(c.Request().Context(), req)
	if err != nil {
		return controller.Error(err)
	}

	if d.Granted {
		return c.JSON(http.StatusCreated, d)
	}
	return c.JSON(http.StatusOK, d)
}
