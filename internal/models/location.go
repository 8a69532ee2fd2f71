package models

// Location is one catalog entry for a monitored city. The catalog is
// read-only reference data owned by configuration and the locations table;
// the pipeline never mutates it.
//
// ProviderID is the provider's numeric city id and is authoritative for
// identity; Name is display-only and never used as a key.
type Location struct {
	ProviderID  uint32 `json:"providerId"`
	Name        string `json:"name"`
	CountryCode string `json:"countryCode"`
	Region      string `json:"region"`
	// Monitored marks the entry as part of the recurring collection set;
	// Priority orders which monitored entries are picked first when the
	// configured monitor count is smaller than the catalog.
	Monitored bool `json:"monitored"`
	Priority  int  `json:"priority"`
}
