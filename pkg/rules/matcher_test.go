package rules

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/realpolitik/push-relay/pkg/event"
)

func num(f float64) Value    { return Value{Number: &f} }
func str(s string) Value     { return Value{String: &s} }
func boolean(b bool) Value   { return Value{Bool: &b} }
func list(s ...string) Value { return Value{List: s} }

func testEvent() *event.Event {
	return &event.Event{
		ID:           "evt-1",
		Title:        "Realpolitik",
		Body:         "Border clashes reported",
		Severity:     9,
		Category:     event.CategoryMilitary,
		Region:       event.RegionMiddleEast,
		SourcesCount: 3,
		Critical:     true,
	}
}

func TestAdmitDisabledSuppressesEverything(t *testing.T) {
	prefs := &Preferences{Enabled: false}
	ok, decision := Admit(testEvent(), prefs, time.Now())
	assert.False(t, ok)
	assert.Equal(t, DecisionSuppressedDisabled, decision)
}

func TestAdmitEmptyRulesAdmits(t *testing.T) {
	prefs := &Preferences{Enabled: true}
	ok, decision := Admit(testEvent(), prefs, time.Now())
	assert.True(t, ok)
	assert.Equal(t, DecisionAdmitted, decision)
}

func TestQuietHoursSuppressEvenCriticalMatches(t *testing.T) {
	// A rule that matches the event, plus an active quiet-hours window:
	// quiet hours win, critical or not.
	prefs := &Preferences{
		Enabled: true,
		Rules: []Rule{{
			ID: "r1", Name: "critical", Enabled: true,
			Conditions: []Condition{{Field: FieldCritical, Operator: OpEq, Value: boolean(true)}},
		}},
		QuietHours: &QuietHours{Enabled: true, Start: "22:00", End: "06:00", Timezone: "UTC"},
	}

	inside := time.Date(2026, 3, 1, 23, 30, 0, 0, time.UTC)
	ok, decision := Admit(testEvent(), prefs, inside)
	assert.False(t, ok)
	assert.Equal(t, DecisionSuppressedQuietHours, decision)
}

func TestQuietHoursWrapMidnight(t *testing.T) {
	prefs := &Preferences{
		Enabled:    true,
		QuietHours: &QuietHours{Enabled: true, Start: "22:00", End: "06:00", Timezone: "UTC"},
	}

	cases := []struct {
		name     string
		at       time.Time
		admitted bool
	}{
		{"before midnight", time.Date(2026, 3, 1, 23, 30, 0, 0, time.UTC), false},
		{"after midnight", time.Date(2026, 3, 2, 2, 0, 0, 0, time.UTC), false},
		{"midday", time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), true},
		{"window start boundary", time.Date(2026, 3, 1, 22, 0, 0, 0, time.UTC), false},
		{"window end boundary", time.Date(2026, 3, 2, 6, 0, 0, 0, time.UTC), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ok, _ := Admit(testEvent(), prefs, tc.at)
			assert.Equal(t, tc.admitted, ok)
		})
	}
}

func TestQuietHoursRespectTimezone(t *testing.T) {
	prefs := &Preferences{
		Enabled:    true,
		QuietHours: &QuietHours{Enabled: true, Start: "22:00", End: "06:00", Timezone: "America/New_York"},
	}

	// 03:00 UTC is 22:00 or 23:00 in New York depending on DST; either way
	// inside the window.
	ok, decision := Admit(testEvent(), prefs, time.Date(2026, 1, 15, 4, 0, 0, 0, time.UTC))
	assert.False(t, ok)
	assert.Equal(t, DecisionSuppressedQuietHours, decision)

	// 16:00 UTC is 11:00 in New York, outside the window.
	ok, _ = Admit(testEvent(), prefs, time.Date(2026, 1, 15, 16, 0, 0, 0, time.UTC))
	assert.True(t, ok)
}

func TestRulesOrAcrossConditionsAndWithin(t *testing.T) {
	prefs := &Preferences{
		Enabled: true,
		Rules: []Rule{
			{
				ID: "r1", Name: "high severity", Enabled: true,
				Conditions: []Condition{{Field: FieldSeverity, Operator: OpGte, Value: num(8)}},
			},
			{
				ID: "r2", Name: "military", Enabled: true,
				Conditions: []Condition{{Field: FieldCategory, Operator: OpIn, Value: list("MILITARY")}},
			},
		},
	}

	cases := []struct {
		name     string
		ev       event.Event
		admitted bool
	}{
		{"severity 9 any category", event.Event{Severity: 9, Category: event.CategoryEconomy}, true},
		{"severity 3 military", event.Event{Severity: 3, Category: event.CategoryMilitary}, true},
		{"severity 3 economy", event.Event{Severity: 3, Category: event.CategoryEconomy}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ok, _ := Admit(&tc.ev, prefs, time.Now())
			assert.Equal(t, tc.admitted, ok)
		})
	}
}

func TestConditionsAndWithinRule(t *testing.T) {
	prefs := &Preferences{
		Enabled: true,
		Rules: []Rule{{
			ID: "r1", Name: "confirmed military", Enabled: true,
			Conditions: []Condition{
				{Field: FieldCategory, Operator: OpEq, Value: str("MILITARY")},
				{Field: FieldSourcesCount, Operator: OpGte, Value: num(2)},
			},
		}},
	}

	ev := testEvent()
	ok, _ := Admit(ev, prefs, time.Now())
	assert.True(t, ok)

	ev.SourcesCount = 1
	ok, decision := Admit(ev, prefs, time.Now())
	assert.False(t, ok)
	assert.Equal(t, DecisionSuppressedByRules, decision)
}

func TestDisabledRuleNeverMatches(t *testing.T) {
	prefs := &Preferences{
		Enabled: true,
		Rules: []Rule{{
			ID: "r1", Name: "everything", Enabled: false,
			Conditions: []Condition{{Field: FieldSeverity, Operator: OpGte, Value: num(1)}},
		}},
	}
	ok, decision := Admit(testEvent(), prefs, time.Now())
	assert.False(t, ok)
	assert.Equal(t, DecisionSuppressedByRules, decision)
}

func TestEvaluateFailsClosed(t *testing.T) {
	cases := []struct {
		name string
		cond Condition
	}{
		{"unknown field", Condition{Field: "altitude", Operator: OpEq, Value: num(3)}},
		{"unknown operator", Condition{Field: FieldSeverity, Operator: "between", Value: num(3)}},
		{"type mismatch number op on string value", Condition{Field: FieldSeverity, Operator: OpGte, Value: str("8")}},
		{"in on numeric field", Condition{Field: FieldSeverity, Operator: OpIn, Value: list("8")}},
		{"bool field with string value", Condition{Field: FieldCritical, Operator: OpEq, Value: str("true")}},
		{"empty value", Condition{Field: FieldCategory, Operator: OpEq}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.False(t, evaluate(&tc.cond, testEvent()))
		})
	}
}

func TestAdmitIsDeterministic(t *testing.T) {
	prefs := &Preferences{
		Enabled: true,
		Rules: []Rule{{
			ID: "r1", Name: "severity", Enabled: true,
			Conditions: []Condition{{Field: FieldSeverity, Operator: OpGte, Value: num(5)}},
		}},
	}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	first, _ := Admit(testEvent(), prefs, now)
	for i := 0; i < 100; i++ {
		got, _ := Admit(testEvent(), prefs, now)
		require.Equal(t, first, got)
	}
}

func TestBoolConditions(t *testing.T) {
	ev := testEvent()

	assert.True(t, evaluate(&Condition{Field: FieldCritical, Operator: OpEq, Value: boolean(true)}, ev))
	assert.False(t, evaluate(&Condition{Field: FieldCritical, Operator: OpNe, Value: boolean(true)}, ev))

	ev.Critical = false
	assert.False(t, evaluate(&Condition{Field: FieldCritical, Operator: OpEq, Value: boolean(true)}, ev))
	assert.True(t, evaluate(&Condition{Field: FieldCritical, Operator: OpNe, Value: boolean(true)}, ev))
}

func TestRegionIn(t *testing.T) {
	ev := testEvent()
	assert.True(t, evaluate(&Condition{
		Field: FieldRegion, Operator: OpIn, Value: list("EUROPE", "MIDDLE_EAST"),
	}, ev))
	assert.False(t, evaluate(&Condition{
		Field: FieldRegion, Operator: OpIn, Value: list("EUROPE", "AFRICA"),
	}, ev))
}
