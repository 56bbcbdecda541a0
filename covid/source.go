package covid

import (
	"context"
	"strings"

	tracker "github.com/OptimusRahul/covid19-tracker"
)

// API endpoints.
const (
	EndpointGlobal       = "/covid19"
	EndpointCountries    = "/covid19/countries"
	EndpointCountry      = "/covid19/country"
	EndpointHistorical   = "/covid19/historical"
	EndpointVaccinations = "/covid19/vaccinations"
)

// DefaultHistoryDays is the series length used when days is not positive.
const DefaultHistoryDays = 30

// DataSource produces typed COVID-19 data. Each call is a single attempt;
// caching and retries belong to the Fetcher that wraps it.
type DataSource interface {
	GlobalSummary(ctx context.Context) (GlobalSummary, error)
	Countries(ctx context.Context) ([]CountrySummary, error)
	CountryDetail(ctx context.Context, code string) (CountryDetail, error)
	History(ctx context.Context, code string, days int) ([]HistoricalPoint, error)
	Vaccinations(ctx context.Context, code string) (VaccinationData, error)
}

// Cache keys, one per endpoint and parameter set.

func GlobalKey() string { return tracker.CacheKey(EndpointGlobal, nil) }

func CountriesKey() string { return tracker.CacheKey(EndpointCountries, nil) }

func CountryKey(code string) string {
	return tracker.CacheKey(EndpointCountry, countryParams(code))
}

func HistoryKey(code string, days int) string {
	return tracker.CacheKey(EndpointHistorical, historyParams(code, days))
}

func VaccinationsKey(code string) string {
	return tracker.CacheKey(EndpointVaccinations, countryParams(code))
}

func countryParams(code string) map[string]any {
	return map[string]any{"country": strings.ToUpper(strings.TrimSpace(code))}
}

func historyParams(code string, days int) map[string]any {
	if days <= 0 {
		days = DefaultHistoryDays
	}
	p := countryParams(code)
	p["days"] = days
	return p
}

// RemoteDataSource reads from the HTTP API through an HTTPClient.
type RemoteDataSource struct {
	client *tracker.HTTPClient
	dec    decoder
}

// NewRemoteDataSource returns a source backed by client. clock stamps
// payloads that omit lastUpdated; nil uses the system clock.
func NewRemoteDataSource(client *tracker.HTTPClient, clock tracker.Clock) *RemoteDataSource {
	if clock == nil {
		clock = tracker.SystemClock
	}
	return &RemoteDataSource{client: client, dec: decoder{now: clock.Now}}
}

func (s *RemoteDataSource) GlobalSummary(ctx context.Context) (GlobalSummary, error) {
	body, err := s.get(ctx, EndpointGlobal, nil)
	if err != nil {
		return GlobalSummary{}, err
	}
	return s.dec.global(body)
}

func (s *RemoteDataSource) Countries(ctx context.Context) ([]CountrySummary, error) {
	body, err := s.get(ctx, EndpointCountries, nil)
	if err != nil {
		return nil, err
	}
	return s.dec.countries(body)
}

func (s *RemoteDataSource) CountryDetail(ctx context.Context, code string) (CountryDetail, error) {
	if err := requireCode(code); err != nil {
		return CountryDetail{}, err
	}
	params := countryParams(code)
	body, err := s.get(ctx, EndpointCountry, params)
	if err != nil {
		return CountryDetail{}, err
	}
	return s.dec.detail(body, params["country"].(string))
}

func (s *RemoteDataSource) History(ctx context.Context, code string, days int) ([]HistoricalPoint, error) {
	if err := requireCode(code); err != nil {
		return nil, err
	}
	body, err := s.get(ctx, EndpointHistorical, historyParams(code, days))
	if err != nil {
		return nil, err
	}
	return s.dec.history(body)
}

func (s *RemoteDataSource) Vaccinations(ctx context.Context, code string) (VaccinationData, error) {
	if err := requireCode(code); err != nil {
		return VaccinationData{}, err
	}
	body, err := s.get(ctx, EndpointVaccinations, countryParams(code))
	if err != nil {
		return VaccinationData{}, err
	}
	return s.dec.vaccinations(body)
}

func (s *RemoteDataSource) get(ctx context.Context, endpoint string, params map[string]any) ([]byte, error) {
	resp, err := s.client.Get(ctx, endpoint, params)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func requireCode(code string) error {
	if strings.TrimSpace(code) == "" {
		return tracker.NewError(tracker.KindValidation, "Country code is required", nil)
	}
	return nil
}
