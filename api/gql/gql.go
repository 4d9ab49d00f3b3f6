// Package gql serves a read-only GraphQL view of usage, reservations, runs
// and anomaly rollups.
package gql

import (
	"github.com/fia-cloud/fia/api/gql/schema"
	"github.com/fia-cloud/fia/internal/engine"
	"github.com/graphql-go/graphql"
	"github.com/graphql-go/handler"
	"github.com/labstack/echo/v4"
)

// Handler builds the schema over eng and serves it over GET and POST. The
// GraphiQL explorer is only served when explorer is set.
func Handler(eng *engine.Engine, explorer bool) (echo.HandlerFunc, error) {
	s, err := graphql.NewSchema(schema.New(eng))
	if err != nil {
		return nil, err
	}

	h := handler.New(&handler.Config{
		Schema:   &s,
		Pretty:   true,
		GraphiQL: explorer,
	})
	return echo.WrapHandler(h), nil
}
