package schema

import (
	"encoding/json"
	"errors"

	"github.com/fia-cloud/fia/internal/engine"
	"github.com/fia-cloud/fia/internal/models"
	"github.com/fia-cloud/fia/internal/run"
	"github.com/google/uuid"
	"github.com/graphql-go/graphql"
	"gorm.io/gorm"
)

// New instantiates the read-only GraphQL schema over eng.
func New(eng *engine.Engine) graphql.SchemaConfig {
	return graphql.SchemaConfig{
		Query: graphql.NewObject(
			graphql.ObjectConfig{
				Name:   "Query",
				Fields: fields(eng),
			},
		),
	}
}

var reservationType = graphql.NewObject(graphql.ObjectConfig{
	Name: "Reservation",
	Fields: graphql.Fields{
		"id":                  &graphql.Field{Type: graphql.String},
		"runId":               &graphql.Field{Type: graphql.String},
		"status":              &graphql.Field{Type: graphql.String},
		"estimatedCpuMinutes": &graphql.Field{Type: graphql.Float},
		"estimatedCost":       &graphql.Field{Type: graphql.String},
		"actualCpuMinutes":    &graphql.Field{Type: graphql.Float},
		"actualCost":          &graphql.Field{Type: graphql.String},
		"costRate":            &graphql.Field{Type: graphql.String},
		"createdAt":           &graphql.Field{Type: graphql.DateTime},
		"expiresAt":           &graphql.Field{Type: graphql.DateTime},
		"releasedAt":          &graphql.Field{Type: graphql.DateTime},
	},
})

var runType = graphql.NewObject(graphql.ObjectConfig{
	Name: "Run",
	Fields: graphql.Fields{
		"runId":     &graphql.Field{Type: graphql.String},
		"stage":     &graphql.Field{Type: graphql.String},
		"startedAt": &graphql.Field{Type: graphql.DateTime},
		"endedAt":   &graphql.Field{Type: graphql.DateTime},
		"success":   &graphql.Field{Type: graphql.Boolean},
		"meta":      &graphql.Field{Type: graphql.String},
		"details":   &graphql.Field{Type: graphql.String},
	},
})

var usageType = graphql.NewObject(graphql.ObjectConfig{
	Name: "Usage",
	Fields: graphql.Fields{
		"month":               &graphql.Field{Type: graphql.String},
		"cpuMinutesEstimated": &graphql.Field{Type: graphql.Float},
		"cpuMinutesActual":    &graphql.Field{Type: graphql.Float},
		"costEstimated":       &graphql.Field{Type: graphql.String},
		"costActual":          &graphql.Field{Type: graphql.String},
		"hardStop":            &graphql.Field{Type: graphql.String},
		"remaining":           &graphql.Field{Type: graphql.String},
		"costVariance":        &graphql.Field{Type: graphql.String},
	},
})

var rollupType = graphql.NewObject(graphql.ObjectConfig{
	Name: "Rollup",
	Fields: graphql.Fields{
		"day":       &graphql.Field{Type: graphql.String},
		"summary":   &graphql.Field{Type: graphql.String},
		"updatedAt": &graphql.Field{Type: graphql.DateTime},
	},
})

func fields(eng *engine.Engine) graphql.Fields {
	return graphql.Fields{
		"usage": &graphql.Field{
			Type: usageType,
			Args: graphql.FieldConfigArgument{
				"month": &graphql.ArgumentConfig{Type: graphql.String},
			},
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				month, _ := p.Args["month"].(string)
				if month == "" {
					month = eng.Ledger.MonthKey(eng.Now())
				}
				snap, err := eng.Config.Snapshot(p.Context)
				if err != nil {
					return nil, err
				}
				r, err := eng.Ledger.Report(p.Context, month, snap.CostGuardrails.MonthlyHardStop)
				if err != nil {
					return nil, err
				}
				return map[string]interface{}{
					"month":               r.Month,
					"cpuMinutesEstimated": r.CPUMinutesEstimated,
					"cpuMinutesActual":    r.CPUMinutesActual,
					"costEstimated":       r.CostEstimated.String(),
					"costActual":          r.CostActual.String(),
					"hardStop":            r.HardStop.String(),
					"remaining":           r.Remaining.String(),
					"costVariance":        r.CostVariance.String(),
				}, nil
			},
		},
		"reservation": &graphql.Field{
			Type: reservationType,
			Args: graphql.FieldConfigArgument{
				"id": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
			},
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				id, err := uuid.Parse(p.Args["id"].(string))
				if err != nil {
					return nil, err
				}
				r, err := eng.Reservations.Get(p.Context, id)
				if err != nil {
					return nil, err
				}
				return reservation(r), nil
			},
		},
		"reservations": &graphql.Field{
			Type: graphql.NewList(reservationType),
			Args: graphql.FieldConfigArgument{
				"runId": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
			},
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				rs, err := eng.Reservations.ForRun(p.Context, p.Args["runId"].(string))
				if err != nil {
					return nil, err
				}
				out := make([]map[string]interface{}, 0, len(rs))
				for i := range rs {
					out = append(out, reservation(&rs[i]))
				}
				return out, nil
			},
		},
		"run": &graphql.Field{
			Type: runType,
			Args: graphql.FieldConfigArgument{
				"runId": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
			},
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				r, err := eng.Runs.Get(p.Context, p.Args["runId"].(string))
				if err != nil {
					return nil, err
				}
				return runLog(r), nil
			},
		},
		"runs": &graphql.Field{
			Type: graphql.NewList(runType),
			Args: graphql.FieldConfigArgument{
				"stage": &graphql.ArgumentConfig{Type: graphql.String},
				"limit": &graphql.ArgumentConfig{Type: graphql.Int, DefaultValue: 50},
			},
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				filter := run.ListFilter{}
				if stage, _ := p.Args["stage"].(string); stage != "" {
					st, err := run.ParseStage(stage)
					if err != nil {
						return nil, err
					}
					filter.Stage = st
				}
				if limit, ok := p.Args["limit"].(int); ok {
					filter.Limit = limit
				}

				rs, err := eng.Runs.List(p.Context, filter)
				if err != nil {
					return nil, err
				}
				out := make([]map[string]interface{}, 0, len(rs))
				for i := range rs {
					out = append(out, runLog(&rs[i]))
				}
				return out, nil
			},
		},
		"rollup": &graphql.Field{
			Type: rollupType,
			Args: graphql.FieldConfigArgument{
				"day": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
			},
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				row, err := eng.Rollup.Get(p.Context, p.Args["day"].(string))
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return nil, nil
				}
				if err != nil {
					return nil, err
				}
				return map[string]interface{}{
					"day":       row.Day,
					"summary":   encode(row.Summary),
					"updatedAt": row.UpdatedAt,
				}, nil
			},
		},
	}
}

func reservation(r *models.Reservation) map[string]interface{} {
	out := map[string]interface{}{
		"id":                  r.ID.String(),
		"runId":               r.RunID,
		"status":              string(r.Status),
		"estimatedCpuMinutes": r.EstimatedCPUMinutes,
		"estimatedCost":       r.EstimatedCost.String(),
		"actualCost":          r.ActualCost.String(),
		"costRate":            r.CostRate,
		"createdAt":           r.CreatedAt,
		"expiresAt":           r.ExpiresAt,
	}
	if r.ActualCPUMinutes != nil {
		out["actualCpuMinutes"] = *r.ActualCPUMinutes
	}
	if r.ReleasedAt != nil {
		out["releasedAt"] = *r.ReleasedAt
	}
	return out
}

func runLog(r *models.RunLog) map[string]interface{} {
	out := map[string]interface{}{
		"runId":     r.RunID,
		"stage":     r.Stage,
		"startedAt": r.StartedAt,
		"meta":      encode(r.Meta),
		"details":   encode(r.Details),
	}
	if r.EndedAt != nil {
		out["endedAt"] = *r.EndedAt
	}
	if r.Success != nil {
		out["success"] = *r.Success
	}
	return out
}

func encode(v map[string]interface{}) interface{} {
	if len(v) == 0 {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return string(raw)
}
