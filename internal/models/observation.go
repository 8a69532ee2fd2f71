// Package models defines the domain entities persisted and served by the
// weather collector.
package models

import (
	"fmt"
	"time"
)

// Condition is one weather condition reported for a location. A location may
// report several simultaneous conditions; order is preserved as the provider
// sent them.
type Condition struct {
	ID          int    `json:"id"`
	Main        string `json:"main"`
	Description string `json:"description"`
	Icon        string `json:"icon"`
}

// Coordinates holds the location's position as reported by the provider.
type Coordinates struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
}

// Measurements groups the scalar readings of one observation. Every field is
// independently nullable because the provider may omit any of them.
type Measurements struct {
	Temperature *float64 `json:"temperature,omitempty"`
	FeelsLike   *float64 `json:"feelsLike,omitempty"`
	TempMin     *float64 `json:"tempMin,omitempty"`
	TempMax     *float64 `json:"tempMax,omitempty"`
	Pressure    *float64 `json:"pressure,omitempty"`
	Humidity    *float64 `json:"humidity,omitempty"`
	Visibility  *float64 `json:"visibility,omitempty"`
}

// Wind groups the wind readings of one observation.
type Wind struct {
	Speed *float64 `json:"speed,omitempty"`
	Deg   *float64 `json:"deg,omitempty"`
	Gust  *float64 `json:"gust,omitempty"`
}

// Clouds groups the cloud-cover readings of one observation.
type Clouds struct {
	All *float64 `json:"all,omitempty"`
}

// SysInfo carries the provider's sys block: country plus sun times.
type SysInfo struct {
	Country string     `json:"country"`
	Sunrise *time.Time `json:"sunrise,omitempty"`
	Sunset  *time.Time `json:"sunset,omitempty"`
}

// WeatherObservation is one reading for one location at one instant.
//
// Identity is (CountryCode, LocationID, ObservedAt); re-ingesting the same
// identity replaces the stored record (last write wins on IngestedAt) and
// never duplicates it.
type WeatherObservation struct {
	LocationID  uint32    `json:"locationId"`
	Name        string    `json:"name"`
	CountryCode string    `json:"countryCode"`
	ObservedAt  time.Time `json:"observedAt"`
	// IngestedAt is stamped by the pipeline on upsert, never by the provider.
	IngestedAt time.Time `json:"ingestedAt"`

	Coord          Coordinates  `json:"coordinates"`
	Conditions     []Condition  `json:"conditions"`
	Measurements   Measurements `json:"measurements"`
	Wind           Wind         `json:"wind"`
	Clouds         Clouds       `json:"clouds"`
	Sys            SysInfo      `json:"sys"`
	ProviderStatus int          `json:"providerStatus"`
}

// IdentityKey returns the logical primary key of the observation.
func (o *WeatherObservation) IdentityKey() string {
	return fmt.Sprintf("%s:%d:%d", o.CountryCode, o.LocationID, o.ObservedAt.UTC().Unix())
}

// Validate checks the non-null constraints of the identity key. Records
// failing this check are rejected per-record by the store, not retried.
func (o *WeatherObservation) Validate() error {
	if o.LocationID == 0 {
		return fmt.Errorf("location id is required")
	}
	if o.ObservedAt.IsZero() {
		return fmt.Errorf("observed_at is required")
	}
	if o.CountryCode == "" {
		return fmt.Errorf("country code is required")
	}
	return nil
}
