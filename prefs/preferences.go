package prefs

import tracker "github.com/OptimusRahul/covid19-tracker"

// Filters is the saved country list view.
type Filters struct {
	Region         string `json:"region"`
	SortField      string `json:"sortField"`
	SortDescending bool   `json:"sortDescending"`
}

// Preferences are the user's saved view settings.
type Preferences struct {
	SelectedCountry     string   `json:"selectedCountry,omitempty"`
	ComparisonCountries []string `json:"comparisonCountries"`
	Filters             Filters  `json:"filters"`
	AutoRefresh         bool     `json:"autoRefresh"`
}

// DefaultPreferences sorts by confirmed cases, largest first, with
// auto-refresh on.
func DefaultPreferences() Preferences {
	return Preferences{
		ComparisonCountries: []string{},
		Filters: Filters{
			Region:         "all",
			SortField:      "confirmed",
			SortDescending: true,
		},
		AutoRefresh: true,
	}
}

// NewPreferences binds preferences to store.
func NewPreferences(store *tracker.SafeStore) *Store[Preferences] {
	return NewStore(store, PreferencesKey, DefaultPreferences)
}
