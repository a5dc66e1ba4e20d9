// Package timezone interprets the wall-clock times timetracker stores.
//
// Entries keep day and start/end as clock readings without an offset. The
// Manager attaches the configured location to them when they are loaded and
// strips it again before they are written.
package timezone

import (
	"fmt"
	"time"
	_ "time/tzdata" // containers without zoneinfo
)

// DefaultTimezone is used when none is configured
const DefaultTimezone = "UTC"

// Manager converts between stored clock readings and instants
type Manager struct {
	timezone string
	location *time.Location
}

// NewManager creates a new timezone manager. An empty name means UTC.
func NewManager(timezone string) (*Manager, error) {
	if timezone == "" {
		timezone = DefaultTimezone
	}
	location, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("failed to load timezone %s: %w", timezone, err)
	}

	return &Manager{
		timezone: timezone,
		location: location,
	}, nil
}

// GetLocation returns the timezone location
func (tm *Manager) GetLocation() *time.Location {
	return tm.location
}

// GetTimezone returns the timezone name
func (tm *Manager) GetTimezone() string {
	return tm.timezone
}

// Wall reads the clock fields of t as a time in the configured location.
// 09:30 UTC becomes 09:30 Europe/Berlin, not 10:30 or 11:30.
func (tm *Manager) Wall(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return time.Date(t.Year(), t.Month(), t.Day(),
		t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), tm.location)
}

// Strip is the inverse of Wall: the clock fields of t in the configured
// location, expressed as UTC for storage.
func (tm *Manager) Strip(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	local := t.In(tm.location)
	return time.Date(local.Year(), local.Month(), local.Day(),
		local.Hour(), local.Minute(), local.Second(), local.Nanosecond(), time.UTC)
}

// IsValidTimezone checks if a timezone string is valid
func IsValidTimezone(timezone string) bool {
	_, err := time.LoadLocation(timezone)
	return err == nil
}
