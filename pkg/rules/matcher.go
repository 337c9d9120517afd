package rules

import (
	"time"

	"github.com/realpolitik/push-relay/pkg/event"
)

// Decision explains why an event was admitted or suppressed for one
// subscription.
type Decision string

const (
	DecisionAdmitted             Decision = "admitted"
	DecisionSuppressedDisabled   Decision = "suppressed-disabled"
	DecisionSuppressedQuietHours Decision = "suppressed-quiet-hours"
	DecisionSuppressedByRules    Decision = "suppressed-by-rules"
)

// Admit evaluates one event against one preference set. It is pure: the
// dispatcher calls it concurrently across subscriptions with no shared
// state.
//
// Quiet hours take precedence over rule matches, including critical events.
func Admit(ev *event.Event, prefs *Preferences, now time.Time) (bool, Decision) {
	if prefs == nil || !prefs.Enabled {
		return false, DecisionSuppressedDisabled
	}
	if prefs.QuietHours.active(now) {
		return false, DecisionSuppressedQuietHours
	}
	if len(prefs.Rules) == 0 {
		return true, DecisionAdmitted
	}
	for i := range prefs.Rules {
		if ruleMatches(&prefs.Rules[i], ev) {
			return true, DecisionAdmitted
		}
	}
	return false, DecisionSuppressedByRules
}

// active reports whether now falls inside the [start, end) window, converted
// into the window's timezone. Malformed windows are treated as inactive;
// validation keeps them out of storage in the first place.
func (q *QuietHours) active(now time.Time) bool {
	if q == nil || !q.Enabled {
		return false
	}
	start, err := parseClock(q.Start)
	if err != nil {
		return false
	}
	end, err := parseClock(q.End)
	if err != nil {
		return false
	}
	loc := time.UTC
	if q.Timezone != "" {
		l, err := time.LoadLocation(q.Timezone)
		if err != nil {
			return false
		}
		loc = l
	}
	local := now.In(loc)
	minute := local.Hour()*60 + local.Minute()
	if start == end {
		return false
	}
	if start < end {
		return minute >= start && minute < end
	}
	// Window wraps midnight.
	return minute >= start || minute < end
}

// ruleMatches reports whether every condition of an enabled rule holds.
func ruleMatches(r *Rule, ev *event.Event) bool {
	if !r.Enabled || len(r.Conditions) == 0 {
		return false
	}
	for i := range r.Conditions {
		if !evaluate(&r.Conditions[i], ev) {
			return false
		}
	}
	return true
}

// evaluate is total: an unrecognized field, operator, or value-type mismatch
// yields false rather than an error.
func evaluate(c *Condition, ev *event.Event) bool {
	switch c.Field {
	case FieldSeverity:
		return compareNumber(c.Operator, float64(ev.Severity), c.Value)
	case FieldSourcesCount:
		return compareNumber(c.Operator, float64(ev.SourcesCount), c.Value)
	case FieldCategory:
		return compareString(c.Operator, string(ev.Category), c.Value)
	case FieldRegion:
		return compareString(c.Operator, string(ev.Region), c.Value)
	case FieldCritical:
		return compareBool(c.Operator, ev.Critical, c.Value)
	default:
		return false
	}
}

func compareNumber(op Operator, have float64, v Value) bool {
	if v.Number == nil {
		return false
	}
	want := *v.Number
	switch op {
	case OpEq:
		return have == want
	case OpNe:
		return have != want
	case OpGte:
		return have >= want
	case OpLte:
		return have <= want
	default:
		return false
	}
}

func compareString(op Operator, have string, v Value) bool {
	switch op {
	case OpEq:
		return v.String != nil && have == *v.String
	case OpNe:
		return v.String != nil && have != *v.String
	case OpIn:
		for _, s := range v.List {
			if s == have {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func compareBool(op Operator, have bool, v Value) bool {
	if v.Bool == nil {
		return false
	}
	switch op {
	case OpEq:
		return have == *v.Bool
	case OpNe:
		return have != *v.Bool
	default:
		return false
	}
}
