package event

import (
	"errors"
	"fmt"
)

// Category is the event classification assigned by the upstream worker.
type Category string

const (
	CategoryMilitary  Category = "MILITARY"
	CategoryDiplomacy Category = "DIPLOMACY"
	CategoryEconomy   Category = "ECONOMY"
	CategoryUnrest    Category = "UNREST"
)

// Region is the geographic region assigned by the upstream worker.
type Region string

const (
	RegionMiddleEast    Region = "MIDDLE_EAST"
	RegionEastAsia      Region = "EAST_ASIA"
	RegionSoutheastAsia Region = "SOUTHEAST_ASIA"
	RegionSouthAsia     Region = "SOUTH_ASIA"
	RegionEurope        Region = "EUROPE"
	RegionAfrica        Region = "AFRICA"
	RegionAmericas      Region = "AMERICAS"
	RegionCentralAsia   Region = "CENTRAL_ASIA"
	RegionOceania       Region = "OCEANIA"
	RegionOther         Region = "OTHER"
)

// Event is the read-only input delivered by the upstream event source.
// Field names follow the worker's wire format.
type Event struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	Body         string   `json:"body"`
	URL          string   `json:"url"`
	Severity     int      `json:"severity"`
	Category     Category `json:"category"`
	Region       Region   `json:"region"`
	LocationName string   `json:"location_name"`
	SourcesCount int      `json:"sources_count"`
	Critical     bool     `json:"critical"`
}

// Tag returns the stable notification tag for this event. Every push for a
// given event id carries the same tag, so platforms that re-deliver collapse
// to one visible notification per event.
func (e *Event) Tag() string {
	return fmt.Sprintf("event-%s", e.ID)
}

// Validate checks the fields the relay depends on.
func (e *Event) Validate() error {
	if e.ID == "" {
		return errors.New("event id is required")
	}
	if e.Title == "" {
		return errors.New("event title is required")
	}
	if e.Severity < 0 || e.Severity > 10 {
		return fmt.Errorf("event severity %d out of range", e.Severity)
	}
	return nil
}
