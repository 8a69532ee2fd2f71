package adapter

import (
	"time"

	"github.com/weather-collector/internal/models"
)

// owCondition is one entry of the provider's weather array.
type owCondition struct {
	ID          int    `json:"id"`
	Main        string `json:"main"`
	Description string `json:"description"`
	Icon        string `json:"icon"`
}

// owReading is the shared shape of a current-conditions response and one
// entry of a history response list. Every measurement is a pointer because
// the provider omits fields it has no data for.
type owReading struct {
	Coord struct {
		Lon float64 `json:"lon"`
		Lat float64 `json:"lat"`
	} `json:"coord"`
	Weather []owCondition `json:"weather"`
	Main    struct {
		Temp      *float64 `json:"temp"`
		FeelsLike *float64 `json:"feels_like"`
		TempMin   *float64 `json:"temp_min"`
		TempMax   *float64 `json:"temp_max"`
		Pressure  *float64 `json:"pressure"`
		Humidity  *float64 `json:"humidity"`
	} `json:"main"`
	Visibility *float64 `json:"visibility"`
	Wind       struct {
		Speed *float64 `json:"speed"`
		Deg   *float64 `json:"deg"`
		Gust  *float64 `json:"gust"`
	} `json:"wind"`
	Clouds struct {
		All *float64 `json:"all"`
	} `json:"clouds"`
	Dt  int64 `json:"dt"`
	Sys struct {
		Country string `json:"country"`
		Sunrise int64  `json:"sunrise"`
		Sunset  int64  `json:"sunset"`
	} `json:"sys"`
	ID   uint32 `json:"id"`
	Name string `json:"name"`
}

// owCurrentResponse is the full current-conditions payload.
type owCurrentResponse struct {
	owReading
	Cod int `json:"cod"`
}

// owHistoryResponse is the hourly-history payload for one location and range.
type owHistoryResponse struct {
	CityID uint32      `json:"city_id"`
	Cod    string      `json:"cod"`
	List   []owReading `json:"list"`
}

// normalize converts a provider reading into the domain observation.
// Identity comes from the catalog entry, not the payload: the provider id in
// history responses lives outside the list items, and the catalog is
// authoritative for country codes either way.
func (r *owReading) normalize(loc models.Location, status int) *models.WeatherObservation {
	obs := &models.WeatherObservation{
		LocationID:  loc.ProviderID,
		Name:        loc.Name,
		CountryCode: loc.CountryCode,
		ObservedAt:  time.Unix(r.Dt, 0).UTC(),
		Coord: models.Coordinates{
			Latitude:  r.Coord.Lat,
			Longitude: r.Coord.Lon,
		},
		Measurements: models.Measurements{
			Temperature: r.Main.Temp,
			FeelsLike:   r.Main.FeelsLike,
			TempMin:     r.Main.TempMin,
			TempMax:     r.Main.TempMax,
			Pressure:    r.Main.Pressure,
			Humidity:    r.Main.Humidity,
			Visibility:  r.Visibility,
		},
		Wind: models.Wind{
			Speed: r.Wind.Speed,
			Deg:   r.Wind.Deg,
			Gust:  r.Wind.Gust,
		},
		Clouds: models.Clouds{
			All: r.Clouds.All,
		},
		Sys: models.SysInfo{
			Country: loc.CountryCode,
		},
		ProviderStatus: status,
	}

	// Conditions keep provider order; a location may report several at once.
	for _, c := range r.Weather {
		obs.Conditions = append(obs.Conditions, models.Condition{
			ID:          c.ID,
			Main:        c.Main,
			Description: c.Description,
			Icon:        c.Icon,
		})
	}

	if r.Sys.Sunrise > 0 {
		sunrise := time.Unix(r.Sys.Sunrise, 0).UTC()
		obs.Sys.Sunrise = &sunrise
	}
	if r.Sys.Sunset > 0 {
		sunset := time.Unix(r.Sys.Sunset, 0).UTC()
		obs.Sys.Sunset = &sunset
	}

	return obs
}
