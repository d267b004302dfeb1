// Package scheduler fires flows on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/awantoch/flowhook/app"
	"github.com/robfig/cron/v3"
)

// lookback bounds how far behind the current tick an occurrence may be and
// still fire.
const lookback = 24 * time.Hour

var now = time.Now

func App() *app.App {
	return &app.App{
		Key:  "scheduler",
		Name: "Scheduler",
		Triggers: []*app.Trigger{
			{
				Key:         "schedule",
				Name:        "On schedule",
				Description: "Triggers at every occurrence of a cron expression.",
				Type:        app.TriggerPoll,
				Interval:    time.Minute,
				Dedup:       app.TimestampCursor{Path: "firedAt"},
				Arguments: []app.Argument{
					{
						Key:         "expression",
						Label:       "Cron expression",
						Description: "Standard five-field cron expression or a descriptor such as @hourly.",
						Type:        app.ArgString,
						Required:    true,
						Options: []app.Option{
							{Label: "Every hour", Value: "@hourly"},
							{Label: "Every day", Value: "@daily"},
							{Label: "Every week", Value: "@weekly"},
							{Label: "Every month", Value: "@monthly"},
						},
					},
					{
						Key:         "timezone",
						Label:       "Time zone",
						Description: "IANA time zone the expression is evaluated in. Defaults to UTC.",
						Type:        app.ArgString,
					},
				},
				Handler: schedule,
			},
		},
	}
}

func parse(expression, timezone string) (cron.Schedule, error) {
	expression = strings.TrimSpace(expression)
	if timezone != "" {
		expression = "CRON_TZ=" + timezone + " " + expression
	}
	sched, err := cron.ParseStandard(expression)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", expression, err)
	}
	return sched, nil
}

// latest returns the last occurrence of sched at or before t, looking back
// at most lookback. The zero time means none.
func latest(sched cron.Schedule, t time.Time) time.Time {
	at := sched.Next(t.Add(-lookback))
	if at.IsZero() || at.After(t) {
		return time.Time{}
	}
	for {
		next := sched.Next(at)
		if next.IsZero() || next.After(t) {
			return at
		}
		at = next
	}
}

func schedule(ctx context.Context, c *app.Context) error {
	loc := time.UTC
	if tz := c.ParamString("timezone"); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return fmt.Errorf("invalid time zone %q: %w", tz, err)
		}
		loc = l
	}
	sched, err := parse(c.ParamString("expression"), c.ParamString("timezone"))
	if err != nil {
		return err
	}
	fired := latest(sched, now().In(loc))
	if fired.IsZero() {
		return nil
	}
	fired = fired.In(loc)
	c.PushTriggerItem(app.TriggerItem{
		Raw: map[string]any{
			"firedAt":    fired.Format(time.RFC3339),
			"expression": c.ParamString("expression"),
			"prettyDate": fired.Format("January 2, 2006"),
			"prettyTime": fired.Format("15:04"),
			"year":       fired.Year(),
			"month":      int(fired.Month()),
			"dayOfMonth": fired.Day(),
			"dayOfWeek":  fired.Weekday().String(),
			"hour":       fired.Hour(),
			"minute":     fired.Minute(),
		},
		Meta: app.ItemMeta{InternalID: fired.UTC().Format(time.RFC3339)},
	})
	return nil
}
