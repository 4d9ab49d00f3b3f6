package bind

import (
	"github.com/fia-cloud/fia/api/rest/controller/admission"
	"github.com/fia-cloud/fia/api/rest/controller/event"
	"github.com/fia-cloud/fia/api/rest/controller/reservation"
	"github.com/fia-cloud/fia/api/rest/controller/rollup"
	"github.com/fia-cloud/fia/api/rest/controller/run"
	"github.com/fia-cloud/fia/api/rest/controller/usage"
	"github.com/fia-cloud/fia/internal/engine"
	"github.com/labstack/echo/v4"
)

func All(g *echo.Group, e *engine.Engine) {
	// admissions
	{
		g.POST("/admissions", admission.New(e).Post)
	}

	// reservations
	{
		ctrl := reservation.New(e)
		g.POST("/reservations/sweep", ctrl.Sweep)
		g.GET("/reservations/:id", ctrl.Get)
		g.POST("/reservations/:id/release", ctrl.Release)
	}

	// runs
	{
		ctrl := run.New(e)
		g.GET("/runs", ctrl.List)
		g.GET("/runs/:id", ctrl.Get)
		g.POST("/runs/:id/close", ctrl.Close)
		g.POST("/runs/:id/signals", ctrl.PostSignal)
		g.POST("/runs/:id/results", ctrl.PostResult)
	}

	// usage
	{
		g.GET("/usage/:month", usage.New(e).Get)
	}

	// rollups
	{
		ctrl := rollup.New(e)
		g.GET("/rollups/:day", ctrl.Get)
		g.POST("/rollups/:day/flush", ctrl.Flush)
	}

	// events
	{
		g.GET("/events", event.New(e.Bus).Stream)
	}
}
