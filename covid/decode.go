package covid

import (
	"encoding/json"
	"strings"
	"time"

	tracker "github.com/OptimusRahul/covid19-tracker"
)

// Wire structs mirror the API payloads with pointer fields so absent values
// can be told apart from zero before defaults are filled in.

type wireGlobal struct {
	TotalConfirmed *float64 `json:"totalConfirmed"`
	TotalDeaths    *float64 `json:"totalDeaths"`
	TotalRecovered *float64 `json:"totalRecovered"`
	NewConfirmed   *float64 `json:"newConfirmed"`
	NewDeaths      *float64 `json:"newDeaths"`
	NewRecovered   *float64 `json:"newRecovered"`
	LastUpdated    *string  `json:"lastUpdated"`
}

type wireCountry struct {
	Country     *string  `json:"country"`
	CountryCode *string  `json:"countryCode"`
	Confirmed   *float64 `json:"confirmed"`
	Deaths      *float64 `json:"deaths"`
	Recovered   *float64 `json:"recovered"`
	Active      *float64 `json:"active"`
	LastUpdated *string  `json:"lastUpdated"`
	Latitude    *float64 `json:"latitude"`
	Longitude   *float64 `json:"longitude"`
	Region      *string  `json:"region"`
	Population  *float64 `json:"population"`
}

type wireHistorical struct {
	Date      *string  `json:"date"`
	Confirmed *float64 `json:"confirmed"`
	Deaths    *float64 `json:"deaths"`
	Recovered *float64 `json:"recovered"`
}

type wireVaccination struct {
	TotalVaccinations      *float64 `json:"totalVaccinations"`
	PeopleVaccinated       *float64 `json:"peopleVaccinated"`
	PeopleFullyVaccinated  *float64 `json:"peopleFullyVaccinated"`
	DailyVaccinations      *float64 `json:"dailyVaccinations"`
	VaccinationsPerHundred *float64 `json:"vaccinationsPerHundred"`
}

type wireTesting struct {
	TotalTests      *float64 `json:"totalTests"`
	TestsPerMillion *float64 `json:"testsPerMillion"`
	PositiveRate    *float64 `json:"positiveRate"`
	DailyTests      *float64 `json:"dailyTests"`
}

type wireHospitalization struct {
	CurrentHospitalizations  *float64 `json:"currentHospitalizations"`
	CurrentICU               *float64 `json:"currentICU"`
	WeeklyHospitalAdmissions *float64 `json:"weeklyHospitalAdmissions"`
	WeeklyICUAdmissions      *float64 `json:"weeklyICUAdmissions"`
}

type wireDetail struct {
	wireCountry
	Historical       []wireHistorical     `json:"historicalData"`
	Vaccinations     *wireVaccination     `json:"vaccinations"`
	Testing          *wireTesting         `json:"testing"`
	Hospitalizations *wireHospitalization `json:"hospitalizations"`
}

// decoder turns raw bodies into typed payloads. now stamps LastUpdated when
// the API omits it.
type decoder struct {
	now func() time.Time
}

func (d decoder) global(body []byte) (GlobalSummary, error) {
	var w wireGlobal
	if err := unmarshal(body, &w, "global summary"); err != nil {
		return GlobalSummary{}, err
	}
	return GlobalSummary{
		TotalConfirmed: count(w.TotalConfirmed),
		TotalDeaths:    count(w.TotalDeaths),
		TotalRecovered: count(w.TotalRecovered),
		NewConfirmed:   count(w.NewConfirmed),
		NewDeaths:      count(w.NewDeaths),
		NewRecovered:   count(w.NewRecovered),
		LastUpdated:    d.timestamp(w.LastUpdated),
	}, nil
}

func (d decoder) countries(body []byte) ([]CountrySummary, error) {
	var ws []wireCountry
	if err := unmarshal(body, &ws, "country list"); err != nil {
		return nil, err
	}
	out := make([]CountrySummary, 0, len(ws))
	for _, w := range ws {
		out = append(out, d.country(w, ""))
	}
	return out, nil
}

func (d decoder) detail(body []byte, code string) (CountryDetail, error) {
	var w wireDetail
	if err := unmarshal(body, &w, "country detail"); err != nil {
		return CountryDetail{}, err
	}
	detail := CountryDetail{
		CountrySummary: d.country(w.wireCountry, code),
		Historical:     historical(w.Historical),
	}
	if v := w.Vaccinations; v != nil {
		detail.Vaccinations = vaccination(*v)
	}
	if t := w.Testing; t != nil {
		detail.Testing = &TestingData{
			TotalTests:      count(t.TotalTests),
			TestsPerMillion: number(t.TestsPerMillion),
			PositiveRate:    number(t.PositiveRate),
			DailyTests:      count(t.DailyTests),
		}
	}
	if h := w.Hospitalizations; h != nil {
		detail.Hospitalizations = &HospitalizationData{
			CurrentHospitalizations:  count(h.CurrentHospitalizations),
			CurrentICU:               count(h.CurrentICU),
			WeeklyHospitalAdmissions: count(h.WeeklyHospitalAdmissions),
			WeeklyICUAdmissions:      count(h.WeeklyICUAdmissions),
		}
	}
	return detail, nil
}

func (d decoder) history(body []byte) ([]HistoricalPoint, error) {
	var ws []wireHistorical
	if err := unmarshal(body, &ws, "historical series"); err != nil {
		return nil, err
	}
	return historical(ws), nil
}

func (d decoder) vaccinations(body []byte) (VaccinationData, error) {
	var w wireVaccination
	if err := unmarshal(body, &w, "vaccination data"); err != nil {
		return VaccinationData{}, err
	}
	return *vaccination(w), nil
}

func (d decoder) country(w wireCountry, fallbackCode string) CountrySummary {
	c := CountrySummary{
		Country:     str(w.Country),
		CountryCode: str(w.CountryCode),
		Confirmed:   count(w.Confirmed),
		Deaths:      count(w.Deaths),
		Recovered:   count(w.Recovered),
		Active:      count(w.Active),
		LastUpdated: d.timestamp(w.LastUpdated),
		Region:      Region(strings.ToLower(str(w.Region))),
		Population:  count(w.Population),
	}
	if c.CountryCode == "" {
		c.CountryCode = fallbackCode
	}
	if w.Latitude != nil && w.Longitude != nil {
		c.Latitude, c.Longitude, c.HasLocation = *w.Latitude, *w.Longitude, true
	}
	c.Rates()
	return c
}

func (d decoder) timestamp(s *string) time.Time {
	if s != nil && *s != "" {
		if t, err := time.Parse(time.RFC3339, *s); err == nil {
			return t
		}
	}
	if d.now != nil {
		return d.now()
	}
	return time.Now()
}

func historical(ws []wireHistorical) []HistoricalPoint {
	out := make([]HistoricalPoint, 0, len(ws))
	for _, w := range ws {
		out = append(out, HistoricalPoint{
			Date:      str(w.Date),
			Confirmed: count(w.Confirmed),
			Deaths:    count(w.Deaths),
			Recovered: count(w.Recovered),
		})
	}
	return out
}

func vaccination(w wireVaccination) *VaccinationData {
	return &VaccinationData{
		TotalVaccinations:      count(w.TotalVaccinations),
		PeopleVaccinated:       count(w.PeopleVaccinated),
		PeopleFullyVaccinated:  count(w.PeopleFullyVaccinated),
		DailyVaccinations:      count(w.DailyVaccinations),
		VaccinationsPerHundred: number(w.VaccinationsPerHundred),
	}
}

func unmarshal(body []byte, v any, what string) error {
	if err := json.Unmarshal(body, v); err != nil {
		return tracker.NewError(tracker.KindValidation, "Unexpected "+what+" response", map[string]any{
			"originalError": err.Error(),
		})
	}
	return nil
}

func count(f *float64) int64 {
	if f == nil || *f < 0 {
		return 0
	}
	return int64(*f)
}

func number(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}

func str(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
