package covid

import (
	"context"
	"time"

	tracker "github.com/OptimusRahul/covid19-tracker"
)

// Service runs a DataSource through a Fetcher so every call is cached,
// retried and coalesced per endpoint and parameters.
type Service struct {
	source  DataSource
	fetcher *tracker.Fetcher
	ttl     time.Duration
}

// NewService binds source to fetcher. A non-positive ttl uses the
// fetcher's default.
func NewService(source DataSource, fetcher *tracker.Fetcher, ttl time.Duration) *Service {
	return &Service{source: source, fetcher: fetcher, ttl: ttl}
}

// Source returns the wrapped DataSource.
func (s *Service) Source() DataSource { return s.source }

// Fetcher returns the wrapped Fetcher.
func (s *Service) Fetcher() *tracker.Fetcher { return s.fetcher }

// GlobalSummary returns worldwide totals. fresh bypasses the cache.
func (s *Service) GlobalSummary(ctx context.Context, fresh bool) (GlobalSummary, error) {
	return tracker.Execute(ctx, s.fetcher, GlobalKey(), s.source.GlobalSummary, s.options("getGlobalSummary", fresh))
}

// Countries returns the per-country list. fresh bypasses the cache.
func (s *Service) Countries(ctx context.Context, fresh bool) ([]CountrySummary, error) {
	return tracker.Execute(ctx, s.fetcher, CountriesKey(), s.source.Countries, s.options("getCountries", fresh))
}

// CountryDetail returns one country by ISO code.
func (s *Service) CountryDetail(ctx context.Context, code string, fresh bool) (CountryDetail, error) {
	return tracker.Execute(ctx, s.fetcher, CountryKey(code), func(ctx context.Context) (CountryDetail, error) {
		return s.source.CountryDetail(ctx, code)
	}, s.options("getCountryDetail", fresh))
}

// History returns the daily series for code; days <= 0 uses DefaultHistoryDays.
func (s *Service) History(ctx context.Context, code string, days int, fresh bool) ([]HistoricalPoint, error) {
	return tracker.Execute(ctx, s.fetcher, HistoryKey(code, days), func(ctx context.Context) ([]HistoricalPoint, error) {
		return s.source.History(ctx, code, days)
	}, s.options("getHistoricalData", fresh))
}

// Vaccinations returns vaccination progress for code.
func (s *Service) Vaccinations(ctx context.Context, code string, fresh bool) (VaccinationData, error) {
	return tracker.Execute(ctx, s.fetcher, VaccinationsKey(code), func(ctx context.Context) (VaccinationData, error) {
		return s.source.Vaccinations(ctx, code)
	}, s.options("getVaccinationData", fresh))
}

// ClearCache drops every cached response.
func (s *Service) ClearCache() {
	s.fetcher.ClearCache()
}

func (s *Service) options(label string, fresh bool) tracker.ExecuteOptions {
	return tracker.ExecuteOptions{TTL: s.ttl, SkipCache: fresh, Context: label}
}

// GlobalQuery returns a query options template for the global summary.
// Callers add intervals and callbacks before passing it to NewQuery.
func GlobalQuery(source DataSource) tracker.QueryOptions[GlobalSummary] {
	return tracker.QueryOptions[GlobalSummary]{
		Key:     GlobalKey(),
		Fetch:   source.GlobalSummary,
		Context: "getGlobalSummary",
	}
}

// CountriesQuery returns a query options template for the country list.
func CountriesQuery(source DataSource) tracker.QueryOptions[[]CountrySummary] {
	return tracker.QueryOptions[[]CountrySummary]{
		Key:     CountriesKey(),
		Fetch:   source.Countries,
		Context: "getCountries",
	}
}

// CountryQuery returns a query options template for one country.
func CountryQuery(source DataSource, code string) tracker.QueryOptions[CountryDetail] {
	key, fetch := CountryBinding(source, code)
	return tracker.QueryOptions[CountryDetail]{
		Key:     key,
		Fetch:   fetch,
		Context: "getCountryDetail",
	}
}

// CountryBinding returns the key and fetch function for code, suitable for
// Query.Rebind when the selected country changes.
func CountryBinding(source DataSource, code string) (string, func(context.Context) (CountryDetail, error)) {
	return CountryKey(code), func(ctx context.Context) (CountryDetail, error) {
		return source.CountryDetail(ctx, code)
	}
}
