package model

import (
	"strings"
	"time"
)

// Cadence is how often a user receives a tutorial email.
type Cadence string

const (
	// CadenceUnset means the user never chose one. Installing a schedule
	// for such a user uses CadenceDaily.
	CadenceUnset Cadence = ""
	// CadenceNone means the user opted out (profile setting or unsubscribe link).
	CadenceNone Cadence = "none"

	CadenceHourly  Cadence = "hourly"
	CadenceDaily   Cadence = "daily"
	CadenceWeekly  Cadence = "weekly"
	CadenceMonthly Cadence = "monthly"
)

// DefaultCadence is what new users get.
const DefaultCadence = CadenceDaily

// ParseCadence lowercases s and reports whether it names a known cadence
// (including "none"). The empty string parses to CadenceUnset.
func ParseCadence(s string) (Cadence, bool) {
	c := Cadence(strings.ToLower(strings.TrimSpace(s)))
	return c, c.Known()
}

// Known reports whether c is a recurring cadence, "none" or unset.
func (c Cadence) Known() bool {
	return c == CadenceUnset || c == CadenceNone || c.Recurring()
}

// Recurring reports whether c installs a job.
func (c Cadence) Recurring() bool {
	return c.Interval() > 0
}

// Interval is the fixed period between two firings.
// Months are treated as 30 days. Zero for unset, none or unknown values.
func (c Cadence) Interval() time.Duration {
	switch c {
	case CadenceHourly:
		return time.Hour
	case CadenceDaily:
		return 24 * time.Hour
	case CadenceWeekly:
		return 7 * 24 * time.Hour
	case CadenceMonthly:
		return 30 * 24 * time.Hour
	}
	return 0
}

// OrDefault returns DefaultCadence when c is unset.
func (c Cadence) OrDefault() Cadence {
	if c == CadenceUnset {
		return DefaultCadence
	}
	return c
}
