package rules

import (
	"encoding/json"
	"fmt"
	"time"
)

// DefaultMaxRules caps the number of rules in one preference set.
const DefaultMaxRules = 5

// Field names a condition may reference. The set is closed; conditions over
// anything else never match.
type Field string

const (
	FieldSeverity     Field = "severity"
	FieldCategory     Field = "category"
	FieldRegion       Field = "region"
	FieldSourcesCount Field = "sources_count"
	FieldCritical     Field = "critical"
)

// Operator is a condition comparison operator.
type Operator string

const (
	OpEq  Operator = "eq"
	OpNe  Operator = "ne"
	OpGte Operator = "gte"
	OpLte Operator = "lte"
	OpIn  Operator = "in"
)

// Value is a tagged condition operand: exactly one of the variants is set.
// It marshals to/from the plain JSON scalar or string array the dashboard
// sends.
type Value struct {
	Number *float64
	String *string
	Bool   *bool
	List   []string
}

// UnmarshalJSON accepts a number, string, bool, or array of strings.
func (v *Value) UnmarshalJSON(data []byte) error {
	*v = Value{}

	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		v.Number = &n
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		v.String = &s
		return nil
	}
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		v.Bool = &b
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		v.List = list
		return nil
	}
	return fmt.Errorf("condition value must be a number, string, bool, or string array")
}

// MarshalJSON emits the underlying variant.
func (v Value) MarshalJSON() ([]byte, error) {
	switch {
	case v.Number != nil:
		return json.Marshal(*v.Number)
	case v.String != nil:
		return json.Marshal(*v.String)
	case v.Bool != nil:
		return json.Marshal(*v.Bool)
	case v.List != nil:
		return json.Marshal(v.List)
	default:
		return []byte("null"), nil
	}
}

// IsZero reports whether no variant is set.
func (v Value) IsZero() bool {
	return v.Number == nil && v.String == nil && v.Bool == nil && v.List == nil
}

// Condition compares one event field against a value.
type Condition struct {
	Field    Field    `json:"field"`
	Operator Operator `json:"op"`
	Value    Value    `json:"value"`
}

// Rule is an AND-combined set of conditions. A disabled rule never matches.
type Rule struct {
	ID         string      `json:"id"`
	Name       string      `json:"name"`
	Enabled    bool        `json:"enabled"`
	Conditions []Condition `json:"conditions"`
}

// QuietHours is a recurring daily suppression window in the device's
// timezone. The window is [start, end) and wraps midnight when start > end.
type QuietHours struct {
	Enabled  bool   `json:"enabled"`
	Start    string `json:"start"` // "HH:MM"
	End      string `json:"end"`   // "HH:MM"
	Timezone string `json:"timezone"`
}

// Preferences is the per-device delivery preference set. Zero rules with
// Enabled=true means "receive everything".
type Preferences struct {
	Enabled    bool        `json:"enabled"`
	Rules      []Rule      `json:"rules,omitempty"`
	QuietHours *QuietHours `json:"quiet_hours,omitempty"`
}

// DefaultPreferences returns the receive-everything default used when a
// subscriber omits preferences.
func DefaultPreferences() Preferences {
	return Preferences{Enabled: true}
}

var validFields = map[Field]bool{
	FieldSeverity:     true,
	FieldCategory:     true,
	FieldRegion:       true,
	FieldSourcesCount: true,
	FieldCritical:     true,
}

var validOperators = map[Operator]bool{
	OpEq:  true,
	OpNe:  true,
	OpGte: true,
	OpLte: true,
	OpIn:  true,
}

// ValidatePreferences rejects oversized or malformed preference sets before
// they reach storage.
func ValidatePreferences(p *Preferences, maxRules int) error {
	if p == nil {
		return fmt.Errorf("preferences are required")
	}
	if maxRules <= 0 {
		maxRules = DefaultMaxRules
	}
	if len(p.Rules) > maxRules {
		return fmt.Errorf("too many rules: %d exceeds limit of %d", len(p.Rules), maxRules)
	}
	for i := range p.Rules {
		if err := validateRule(&p.Rules[i]); err != nil {
			return fmt.Errorf("rule %d: %w", i, err)
		}
	}
	if p.QuietHours != nil {
		if err := validateQuietHours(p.QuietHours); err != nil {
			return fmt.Errorf("quiet hours: %w", err)
		}
	}
	return nil
}

func validateRule(r *Rule) error {
	if r.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(r.Conditions) == 0 {
		return fmt.Errorf("at least one condition is required")
	}
	for i, c := range r.Conditions {
		if !validFields[c.Field] {
			return fmt.Errorf("condition %d: unknown field %q", i, c.Field)
		}
		if !validOperators[c.Operator] {
			return fmt.Errorf("condition %d: unknown operator %q", i, c.Operator)
		}
		if c.Value.IsZero() {
			return fmt.Errorf("condition %d: value is required", i)
		}
	}
	return nil
}

func validateQuietHours(q *QuietHours) error {
	if !q.Enabled {
		return nil
	}
	if _, err := parseClock(q.Start); err != nil {
		return fmt.Errorf("invalid start %q: %w", q.Start, err)
	}
	if _, err := parseClock(q.End); err != nil {
		return fmt.Errorf("invalid end %q: %w", q.End, err)
	}
	if q.Timezone != "" {
		if _, err := time.LoadLocation(q.Timezone); err != nil {
			return fmt.Errorf("invalid timezone %q: %w", q.Timezone, err)
		}
	}
	return nil
}

// parseClock parses "HH:MM" into minutes since midnight.
func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}
