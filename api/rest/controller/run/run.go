package run

import (
	"net/http"
	"strconv"
	"time"

	"github.com/fia-cloud/fia/api/rest/controller"
	"github.com/fia-cloud/fia/internal/engine"
	"github.com/fia-cloud/fia/internal/models"
	"github.com/fia-cloud/fia/internal/run"
	"github.com/labstack/echo/v4"
	"gorm.io/datatypes"
)

type Controller struct {
	engine *engine.Engine
}

func New(e *engine.Engine) *Controller {
	return &Controller{engine: e}
}

// Response is a run with its artifacts.
type Response struct {
	*models.RunLog
	Signals []models.Signal `json:"signals"`
	Results []models.Result `json:"results"`
}

type CloseRequest struct {
	EndedAt *time.Time        `json:"ended_at,omitempty"`
	Success bool              `json:"success"`
	Details datatypes.JSONMap `json:"details,omitempty"`
}

type ArtifactRequest struct {
	Ticker  string            `json:"ticker"`
	Payload datatypes.JSONMap `json:"payload"`
}

func (ctrl *Controller) Get(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	r, err := ctrl.engine.Runs.Get(ctx, id)
	if err != nil {
		return controller.Error(err)
	}
	signals, err := ctrl.engine.Runs.Signals(ctx, id)
	if err != nil {
		return controller.Error(err)
	}
	results, err := ctrl.engine.Runs.Results(ctx, id)
	if err != nil {
		return controller.Error(err)
	}

	return c.JSON(http.StatusOK, Response{RunLog: r, Signals: signals, Results: results})
}

func (ctrl *Controller) List(c echo.Context) error {
	filter := run.ListFilter{OpenOnly: c.QueryParam("open") == "true"}

	if stage := c.QueryParam("stage"); stage != "" {
		st, err := run.ParseStage(stage)
		if err != nil {
			return controller.Error(err)
		}
		filter.Stage = st
	}
	if limit := c.QueryParam("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit")
		}
		filter.Limit = n
	}

	runs, err := ctrl.engine.Runs.List(c.Request().Context(), filter)
	if err != nil {
		return controller.Error(err)
	}
	return c.JSON(http.StatusOK, runs)
}

func (ctrl *Controller) Close(c echo.Context) error {
	var req CloseRequest
	if err := c.Bind(&req); err != nil {
		return echo.ErrBadRequest.SetInternal(err)
	}

	var endedAt time.Time
	if req.EndedAt != nil {
		endedAt = *req.EndedAt
	}

	r, err := ctrl.engine.Coordinator.CloseRun(c.Request().Context(), c.Param("id"), endedAt, req.Success, req.Details)
	if err != nil {
		return controller.Error(err)
	}
	return c.JSON(http.StatusOK, r)
}

func (ctrl *Controller) PostSignal(c echo.Context) error {
	req, err := bindArtifact(c)
	if err != nil {
		return err
	}

	s, err := ctrl.engine.Runs.AddSignal(c.Request().Context(), c.Param("id"), req.Ticker, req.Payload)
	if err != nil {
		return controller.Error(err)
	}
	return c.JSON(http.StatusCreated, s)
}

func (ctrl *Controller) PostResult(c echo.Context) error {
	req, err := bindArtifact(c)
	if err != nil {
		return err
	}

	r, err := ctrl.engine.Runs.AddResult(c.Request().Context(), c.Param("id"), req.Ticker, req.Payload)
	if err != nil {
		return controller.Error(err)
	}
	return c.JSON(http.StatusCreated, r)
}

func bindArtifact(c echo.Context) (*ArtifactRequest, error) {
	req := &ArtifactRequest{}
	if err := c.Bind(req); err != nil {
		return nil, echo.ErrBadRequest.SetInternal(err)
	}
	if req.Ticker == "" {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "ticker is required")
	}
	return req, nil
}
