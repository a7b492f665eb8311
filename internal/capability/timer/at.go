package timer

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/flowhook/flowhook-api/internal/capability"
	"github.com/flowhook/flowhook-api/internal/engine"
)

// At triggers when the clock reaches a configured date and time. The date
// parameter is "DD/MM" and the time parameter "HH:MM", both interpreted in
// UTC; the trigger fires once per matching minute.
type At struct {
	now func() time.Time

	mu    sync.Mutex
	fired map[string]string // binding id -> last fired minute
}

func NewAt() *At {
	return &At{
		now:   time.Now,
		fired: make(map[string]string),
	}
}

func (t *At) Key() capability.Key {
	return capability.Key{Provider: "timer", Name: "at"}
}

func (t *At) Params() []capability.ParamSpec {
	return []capability.ParamSpec{
		{Name: "date", Type: capability.ParamString, Required: true},
		{Name: "time", Type: capability.ParamString, Required: true},
	}
}

func (t *At) Check(ctx context.Context, inv *capability.Invocation) (capability.TriggerResult, error) {
	dateParam, err := capability.StringParam(inv.Params, "date")
	if err != nil {
		return capability.TriggerResult{}, err
	}
	timeParam, err := capability.StringParam(inv.Params, "time")
	if err != nil {
		return capability.TriggerResult{}, err
	}

	day, month, err := parseDate(dateParam)
	if err != nil {
		return capability.TriggerResult{}, err
	}
	hour, minute, err := parseTime(timeParam)
	if err != nil {
		return capability.TriggerResult{}, err
	}

	now := t.now().UTC()
	if now.Day() != day || int(now.Month()) != month || now.Hour() != hour || now.Minute() != minute {
		return capability.TriggerResult{Triggered: false}, nil
	}

	minuteKey := now.Format("2006-01-02T15:04")
	if !t.markFired(inv.BindingID, minuteKey) {
		return capability.TriggerResult{Triggered: false}, nil
	}

	return capability.TriggerResult{
		Triggered: true,
		Output: map[string]any{
			"fired_at": now.Format(time.RFC3339),
			"date":     dateParam,
			"time":     timeParam,
		},
	}, nil
}

// markFired records that the binding fired during the given minute and
// reports whether this is the first firing for it.
func (t *At) markFired(bindingID, minuteKey string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fired[bindingID] == minuteKey {
		return false
	}
	t.fired[bindingID] = minuteKey
	return true
}

func parseDate(s string) (day, month int, err error) {
	parts := strings.Split(s, "/")
	if len(parts) != 2 {
		return 0, 0, engine.Ef(engine.KindValidation, "date must be DD/MM, got %q", s)
	}
	day, err = strconv.Atoi(parts[0])
	if err != nil || day < 1 || day > 31 {
		return 0, 0, engine.Ef(engine.KindValidation, "invalid day in date %q", s)
	}
	month, err = strconv.Atoi(parts[1])
	if err != nil || month < 1 || month > 12 {
		return 0, 0, engine.Ef(engine.KindValidation, "invalid month in date %q", s)
	}
	return day, month, nil
}

func parseTime(s string) (hour, minute int, err error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, engine.Ef(engine.KindValidation, "time must be HH:MM, got %q", s)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, engine.Ef(engine.KindValidation, "invalid hour in time %q", s)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, engine.Ef(engine.KindValidation, "invalid minute in time %q", s)
	}
	return hour, minute, nil
}
