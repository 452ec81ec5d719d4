// Package triggers validates stored trigger descriptors and computes when a
// schedule trigger would next fire. Nothing here starts a run.
package triggers

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/alexsaulik/promptfolio/pkg/schema"
)

// parser accepts standard 5-field cron expressions and the @hourly style
// descriptors.
var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Validate checks a single trigger descriptor. Only schedule triggers have a
// config that is inspected beyond being a JSON object.
func Validate(t schema.Trigger) error {
	switch t.Kind {
	case schema.TriggerManual, schema.TriggerWebhook, schema.TriggerEvent:
		if len(t.Config) > 0 {
			var obj map[string]any
			if err := json.Unmarshal(t.Config, &obj); err != nil {
				return schema.NewErrorf(schema.ErrCodeValidation, "%s trigger config must be a JSON object", t.Kind).WithCause(err)
			}
		}
		return nil
	case schema.TriggerSchedule:
		_, err := scheduleOf(t)
		return err
	default:
		return schema.NewErrorf(schema.ErrCodeValidation, "unknown trigger kind %q", t.Kind)
	}
}

// ValidateAll validates every trigger of a definition, reporting the index of
// the first bad one.
func ValidateAll(ts []schema.Trigger) error {
	for i, t := range ts {
		if err := Validate(t); err != nil {
			return schema.NewErrorf(schema.ErrCodeValidation, "triggers[%d]: %s", i, err.Error()).WithCause(err)
		}
	}
	return nil
}

// NextFire returns the first time after from at which a schedule trigger
// would fire. ok is false for triggers that are not schedules.
func NextFire(t schema.Trigger, from time.Time) (next time.Time, ok bool, err error) {
	if t.Kind != schema.TriggerSchedule {
		return time.Time{}, false, nil
	}
	sched, err := scheduleOf(t)
	if err != nil {
		return time.Time{}, false, err
	}
	return sched.Next(from), true, nil
}

// Upcoming is the next fire time of one schedule trigger.
type Upcoming struct {
	WorkflowID string    `json:"workflow_id"`
	Cron       string    `json:"cron"`
	Next       time.Time `json:"next"`
}

// NextFires lists the next fire time of every valid schedule trigger on the
// active definitions, soonest first. Invalid schedules are skipped.
func NextFires(defs []*schema.WorkflowDefinition, from time.Time) []Upcoming {
	var out []Upcoming
	for _, def := range defs {
		if !def.Active {
			continue
		}
		for _, t := range def.Triggers {
			next, ok, err := NextFire(t, from)
			if err != nil || !ok {
				continue
			}
			cfg, _ := decodeSchedule(t)
			out = append(out, Upcoming{WorkflowID: def.ID, Cron: cfg.Cron, Next: next})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Next.Before(out[j].Next) })
	return out
}

func decodeSchedule(t schema.Trigger) (schema.ScheduleTriggerConfig, error) {
	var cfg schema.ScheduleTriggerConfig
	if len(t.Config) == 0 {
		return cfg, schema.NewError(schema.ErrCodeValidation, "schedule trigger needs a config with a cron expression")
	}
	if err := json.Unmarshal(t.Config, &cfg); err != nil {
		return cfg, schema.NewErrorf(schema.ErrCodeValidation, "decode schedule trigger config: %s", err.Error()).WithCause(err)
	}
	return cfg, nil
}

func scheduleOf(t schema.Trigger) (cron.Schedule, error) {
	cfg, err := decodeSchedule(t)
	if err != nil {
		return nil, err
	}
	if cfg.Cron == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "schedule trigger cron is required")
	}

	spec := cfg.Cron
	if cfg.Timezone != "" {
		if _, err := time.LoadLocation(cfg.Timezone); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "unknown timezone %q", cfg.Timezone).WithCause(err)
		}
		spec = fmt.Sprintf("CRON_TZ=%s %s", cfg.Timezone, cfg.Cron)
	}

	sched, err := parser.Parse(spec)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "parse cron expression %q: %s", cfg.Cron, err.Error()).WithCause(err)
	}
	return sched, nil
}
