package event

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/fia-cloud/fia/internal/event"
	"github.com/labstack/echo/v4"
)

const keepAlive = 15 * time.Second

type Controller struct {
	bus event.Bus
}

func New(bus event.Bus) *Controller {
	return &Controller{bus: bus}
}

// Stream relays guardrail events as server-sent events. The run_id,
// reservation_id and types query parameters narrow the stream; each frame
// carries a per-connection sequence number as its id.
func (ctrl *Controller) Stream(c echo.Context) error {
	types, err := event.ParseTypes(c.QueryParam("types"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx := c.Request().Context()
	ch, err := ctrl.bus.Subscribe(ctx, event.Filter{
		RunID:         c.QueryParam("run_id"),
		ReservationID: c.QueryParam("reservation_id"),
		Types:         types,
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set(echo.HeaderCacheControl, "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	write := func(frame string, args ...interface{}) bool {
		if _, err := fmt.Fprintf(w, frame, args...); err != nil {
			return false
		}
		w.Flush()
		return true
	}

	if !write(": connected\n\n") {
		return nil
	}

	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()

	var seq uint64
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if !write(": keep-alive\n\n") {
				return nil
			}
		case e, ok := <-ch:
			if !ok {
				return nil
			}

			data, err := json.Marshal(e)
			if err != nil {
				c.Logger().Errorf("encode %s event: %v", e.Type, err)
				continue
			}

			seq++
			if !write("id: %d\nevent: %s\ndata: %s\n\n", seq, e.Type, data) {
				return nil
			}
		}
	}
}
