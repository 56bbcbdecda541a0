// Package covid defines the typed payloads of the COVID-19 data API and the
// DataSource implementations that produce them.
package covid

import "time"

// GlobalSummary is the worldwide total.
type GlobalSummary struct {
	TotalConfirmed int64     `json:"totalConfirmed"`
	TotalDeaths    int64     `json:"totalDeaths"`
	TotalRecovered int64     `json:"totalRecovered"`
	NewConfirmed   int64     `json:"newConfirmed"`
	NewDeaths      int64     `json:"newDeaths"`
	NewRecovered   int64     `json:"newRecovered"`
	LastUpdated    time.Time `json:"lastUpdated"`
}

// CountrySummary is one row of the country list. Latitude, Longitude,
// Region and Population are optional upstream; HasLocation and Population
// == 0 mark them missing.
type CountrySummary struct {
	Country     string    `json:"country"`
	CountryCode string    `json:"countryCode"`
	Confirmed   int64     `json:"confirmed"`
	Deaths      int64     `json:"deaths"`
	Recovered   int64     `json:"recovered"`
	Active      int64     `json:"active"`
	LastUpdated time.Time `json:"lastUpdated"`
	Latitude    float64   `json:"latitude,omitempty"`
	Longitude   float64   `json:"longitude,omitempty"`
	HasLocation bool      `json:"hasLocation,omitempty"`
	Region      Region    `json:"region,omitempty"`
	Population  int64     `json:"population,omitempty"`

	DeathRate       float64 `json:"deathRate"`
	RecoveryRate    float64 `json:"recoveryRate"`
	CasesPerMillion float64 `json:"casesPerMillion"`
}

// HistoricalPoint is one day of a country's series.
type HistoricalPoint struct {
	Date      string `json:"date"`
	Confirmed int64  `json:"confirmed"`
	Deaths    int64  `json:"deaths"`
	Recovered int64  `json:"recovered"`
}

// VaccinationData is a country's vaccination progress.
type VaccinationData struct {
	TotalVaccinations      int64   `json:"totalVaccinations"`
	PeopleVaccinated       int64   `json:"peopleVaccinated"`
	PeopleFullyVaccinated  int64   `json:"peopleFullyVaccinated"`
	DailyVaccinations      int64   `json:"dailyVaccinations"`
	VaccinationsPerHundred float64 `json:"vaccinationsPerHundred"`
}

// TestingData is a country's testing volume.
type TestingData struct {
	TotalTests      int64   `json:"totalTests"`
	TestsPerMillion float64 `json:"testsPerMillion"`
	PositiveRate    float64 `json:"positiveRate"`
	DailyTests      int64   `json:"dailyTests"`
}

// HospitalizationData is a country's hospital load.
type HospitalizationData struct {
	CurrentHospitalizations  int64 `json:"currentHospitalizations"`
	CurrentICU               int64 `json:"currentICU"`
	WeeklyHospitalAdmissions int64 `json:"weeklyHospitalAdmissions"`
	WeeklyICUAdmissions      int64 `json:"weeklyICUAdmissions"`
}

// CountryDetail extends a summary with its series and optional sections.
// A nil section was absent from the response.
type CountryDetail struct {
	CountrySummary
	Historical       []HistoricalPoint    `json:"historicalData"`
	Vaccinations     *VaccinationData     `json:"vaccinations,omitempty"`
	Testing          *TestingData         `json:"testing,omitempty"`
	Hospitalizations *HospitalizationData `json:"hospitalizations,omitempty"`
}

// Region groups countries for filtering.
type Region string

const (
	RegionAll          Region = "all"
	RegionAsia         Region = "asia"
	RegionEurope       Region = "europe"
	RegionNorthAmerica Region = "north-america"
	RegionSouthAmerica Region = "south-america"
	RegionAfrica       Region = "africa"
	RegionOceania      Region = "oceania"
)

// Regions lists every concrete region in display order.
var Regions = []Region{RegionAsia, RegionEurope, RegionNorthAmerica, RegionSouthAmerica, RegionAfrica, RegionOceania}

// Rates fills DeathRate, RecoveryRate and CasesPerMillion from the counts.
// Rates are fractions (0.02 is 2%); a zero denominator yields zero.
func (c *CountrySummary) Rates() {
	c.DeathRate = ratio(c.Deaths, c.Confirmed)
	c.RecoveryRate = ratio(c.Recovered, c.Confirmed)
	c.CasesPerMillion = ratio(c.Confirmed, c.Population) * 1_000_000
}

func ratio(n, d int64) float64 {
	if d <= 0 || n <= 0 {
		return 0
	}
	return float64(n) / float64(d)
}
