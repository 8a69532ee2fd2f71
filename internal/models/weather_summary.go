package models

import "time"

// ConditionShare is one entry of a summary's condition distribution.
type ConditionShare struct {
	Condition string  `json:"condition"`
	Count     uint64  `json:"count"`
	Percent   float64 `json:"percent"`
}

// WeatherSummary aggregates a location's observations over a trailing window.
type WeatherSummary struct {
	LocationID   uint32           `json:"locationId"`
	Name         string           `json:"name"`
	CountryCode  string           `json:"countryCode"`
	Days         int              `json:"days"`
	Observations uint64           `json:"observations"`
	AvgTemp      *float64         `json:"avgTemperature,omitempty"`
	MinTemp      *float64         `json:"minTemperature,omitempty"`
	MaxTemp      *float64         `json:"maxTemperature,omitempty"`
	AvgHumidity  *float64         `json:"avgHumidity,omitempty"`
	AvgPressure  *float64         `json:"avgPressure,omitempty"`
	Conditions   []ConditionShare `json:"conditionDistribution"`
	From         time.Time        `json:"from"`
	To           time.Time        `json:"to"`
}

// StoreStats summarizes the observation table for the admin status surface.
type StoreStats struct {
	TotalObservations uint64     `json:"totalObservations"`
	Locations         uint64     `json:"locations"`
	EarliestObserved  *time.Time `json:"earliestObserved,omitempty"`
	LatestObserved    *time.Time `json:"latestObserved,omitempty"`
	UniqueDays        uint64     `json:"uniqueDays"`
}
