// Package earthquake provides the core domain values: Record and Result.
package earthquake

import (
	"fmt"
	"math"
	"time"
)

// Record is a single seismic event as published by the feed.
// Fields are unexported so a Record never changes after New returns it.
type Record struct {
	magnitude  float64
	location   string
	timeMillis int64
	url        string
}

// New validates the fields and builds a Record.
func New(magnitude float64, location string, timeMillis int64, url string) (Record, error) {
	if math.IsNaN(magnitude) || math.IsInf(magnitude, 0) {
		return Record{}, fmt.Errorf("magnitude must be finite, got %v", magnitude)
	}
	if location == "" {
		return Record{}, fmt.Errorf("location required")
	}
	if timeMillis < 0 {
		return Record{}, fmt.Errorf("time must be non-negative, got %d", timeMillis)
	}
	if url == "" {
		return Record{}, fmt.Errorf("url required")
	}

	return Record{
		magnitude:  magnitude,
		location:   location,
		timeMillis: timeMillis,
		url:        url,
	}, nil
}

// Magnitude returns the event magnitude.
func (r Record) Magnitude() float64 {
	return r.magnitude
}

// Location returns the human-readable place description (e.g. "10km S of Tokyo").
func (r Record) Location() string {
	return r.location
}

// TimeMillis returns the event time in epoch milliseconds.
func (r Record) TimeMillis() int64 {
	return r.timeMillis
}

// Time returns the event time as UTC.
func (r Record) Time() time.Time {
	return time.UnixMilli(r.timeMillis).UTC()
}

// URL returns the detail page of the event.
func (r Record) URL() string {
	return r.url
}

// String implements fmt.Stringer.
func (r Record) String() string {
	return fmt.Sprintf("M%.1f %s @ %s", r.magnitude, r.location, r.Time().Format(time.RFC3339))
}
