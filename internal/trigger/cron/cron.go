package cron

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fia-cloud/fia/internal/trigger"
	"github.com/fia-cloud/fia/pkg/log"
	"github.com/robfig/cron"
)

type Cron struct {
	name     string
	schedule cron.Schedule
	location *time.Location
	action   trigger.Action
	now      func() time.Time
}

var _ trigger.Trigger = (*Cron)(nil)

// New parses a five-field cron expression evaluated in location.
func New(name, expr string, location *time.Location, action trigger.Action) (*Cron, error) {
	if strings.TrimSpace(expr) == "" {
		return nil, fmt.Errorf("cron trigger %q missing expression", name)
	}
	if action == nil {
		return nil, fmt.Errorf("cron trigger %q missing action", name)
	}
	if location == nil {
		location = time.UTC
	}

	parser := cron.NewParser(
		cron.Minute |
			cron.Hour |
			cron.Dom |
			cron.Month |
			cron.Dow,
	)

	sched, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("cron trigger %q: %w", name, err)
	}

	return &Cron{
		name:     name,
		schedule: sched,
		location: location,
		action:   action,
		now:      time.Now,
	}, nil
}

// Listen fires on every tick until ctx is done.
func (c *Cron) Listen(ctx context.Context) {
	log.Info("trigger listening", "name", c.name)

	for {
		timer := time.NewTimer(time.Until(c.NextTick()))
		select {
		case <-timer.C:
			if err := c.Fire(ctx); err != nil {
				log.Error("trigger fire failure", "name", c.name, "error", err)
			}
		case <-ctx.Done():
			timer.Stop()
			return
		}
	}
}

func (c *Cron) Fire(ctx context.Context) error {
	log.Info("trigger firing", "name", c.name)
	return c.action(ctx)
}

func (c *Cron) Name() string {
	return c.name
}

// NextTick returns the next scheduled time after now.
func (c *Cron) NextTick() time.Time {
	return c.schedule.Next(c.now().In(c.location))
}
