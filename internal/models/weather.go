package models

import (
	"encoding/json"
	"time"
)

// TemperatureUnit is the unit requested by the caller: "C", "F" or "K".
type TemperatureUnit string

const (
	Celsius    TemperatureUnit = "C"
	Fahrenheit TemperatureUnit = "F"
	Kelvin     TemperatureUnit = "K"
)

// ProviderUnits returns the upstream API units parameter for the unit.
// Unknown units fall back to "standard" (Kelvin), matching provider behavior.
func (u TemperatureUnit) ProviderUnits() string {
	switch u {
	case Celsius:
		return "metric"
	case Fahrenheit:
		return "imperial"
	default:
		return "standard"
	}
}

// Valid reports whether u is one of the accepted units.
func (u TemperatureUnit) Valid() bool {
	switch u {
	case Celsius, Fahrenheit, Kelvin:
		return true
	}
	return false
}

// WeatherReading is an immutable snapshot of provider data for one location.
// Created only by a successful upstream fetch.
type WeatherReading struct {
	LocationKey string          `json:"locationKey"`
	CityName    string          `json:"cityName"`
	Temperature float64         `json:"temperature"`
	FeelsLike   float64         `json:"feelsLike"`
	Conditions  string          `json:"conditions"`
	Humidity    int             `json:"humidity"`
	WindSpeed   float64         `json:"windSpeed"`
	Pressure    int             `json:"pressure"`
	Unit        TemperatureUnit `json:"temperatureUnit"`
	ObservedAt  time.Time       `json:"observedAt"`
	Raw         json.RawMessage `json:"-"`
}

// QueryRecord is one entry of the query history: which reading was served,
// to whom, when, and whether it came from cache.
type QueryRecord struct {
	ID              int64          `json:"id"`
	Reading         WeatherReading `json:"reading"`
	Timestamp       time.Time      `json:"timestamp"`
	CallerID        string         `json:"-"`
	ServedFromCache bool           `json:"servedFromCache"`
}
