package run

import (
	"context"

	"github.com/google/uuid"
)

// Info identifies the admitted run a stage body executes under.
type Info struct {
	ID            string
	Stage         Stage
	ReservationID uuid.UUID
}

// LogFields renders info as key/value pairs for pkg/log.
func (i Info) LogFields() []interface{} {
	fields := []interface{}{"run_id", i.ID, "stage", i.Stage}
	if i.ReservationID != uuid.Nil {
		fields = append(fields, "reservation_id", i.ReservationID)
	}
	return fields
}

type infoKey struct{}

// NewContext returns a copy of ctx carrying info.
func NewContext(ctx context.Context, info Info) context.Context {
	return context.WithValue(ctx, infoKey{}, info)
}

// FromContext returns the run info stored by NewContext.
func FromContext(ctx context.Context) (Info, bool) {
	info, ok := ctx.Value(infoKey{}).(Info)
	return info, ok && info.ID != ""
}
