package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/fia-cloud/fia/api/gql"
	"github.com/fia-cloud/fia/api/rest/bind"
	"github.com/fia-cloud/fia/internal/engine"
	"github.com/fia-cloud/fia/internal/metrics"
	"github.com/fia-cloud/fia/pkg/env"
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	mu     sync.Mutex
	server *echo.Echo
)

// New builds the HTTP surface over eng. HTTP and engine metrics are
// registered with reg and served from it.
func New(eng *engine.Engine, reg *prometheus.Registry) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// metrics
	e.Use(echoprometheus.NewMiddlewareWithConfig(echoprometheus.MiddlewareConfig{
		Subsystem:  "fia",
		Registerer: reg,
	}))
	e.GET("/metrics", echoprometheus.NewHandlerWithConfig(echoprometheus.HandlerConfig{
		Gatherer: reg,
	}))

	// health
	e.GET("/health", Health(eng))

	// REST
	bind.All(e.Group("/v1"), eng)

	// GraphQL
	h, err := gql.Handler(eng, env.Variables().GraphiQL)
	if err != nil {
		panic(err)
	}
	e.GET("/gql", h)
	e.POST("/gql", h)

	return e
}

// Registry returns a registry holding the runtime collectors and every fia
// metric.
func Registry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics.Register(reg)
	return reg
}

// Start launches fia's API and blocks until it stops. Cancelling ctx shuts
// the server down.
func Start(ctx context.Context, eng *engine.Engine) error {
	e := New(eng, Registry())

	mu.Lock()
	server = e
	mu.Unlock()

	go func() {
		<-ctx.Done()
		if err := Shutdown(); err != nil {
			e.Logger.Error(err)
		}
	}()

	err := e.Start(fmt.Sprintf(":%v", env.Variables().Port))
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully stops the running API, if any.
func Shutdown() error {
	mu.Lock()
	e := server
	server = nil
	mu.Unlock()

	if e == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return e.Shutdown(ctx)
}
