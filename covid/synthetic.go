package covid

import (
	"context"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	tracker "github.com/OptimusRahul/covid19-tracker"
)

// Simulated response times of the synthetic source.
const (
	globalLatency       = 500 * time.Millisecond
	countriesLatency    = 800 * time.Millisecond
	detailLatency       = 600 * time.Millisecond
	historyLatency      = 400 * time.Millisecond
	vaccinationsLatency = 400 * time.Millisecond
)

type syntheticCountry struct {
	name     string
	code     string
	region   Region
	lat, lng float64
}

var syntheticCountries = []syntheticCountry{
	{"United States", "US", RegionNorthAmerica, 39.8283, -98.5795},
	{"Brazil", "BR", RegionSouthAmerica, -14.2350, -51.9253},
	{"India", "IN", RegionAsia, 20.5937, 78.9629},
	{"Russia", "RU", RegionEurope, 61.5240, 105.3188},
	{"France", "FR", RegionEurope, 46.6034, 1.8883},
	{"United Kingdom", "GB", RegionEurope, 55.3781, -3.4360},
	{"Turkey", "TR", RegionAsia, 38.9637, 35.2433},
	{"Iran", "IR", RegionAsia, 32.4279, 53.6880},
	{"Argentina", "AR", RegionSouthAmerica, -38.4161, -63.6167},
	{"Germany", "DE", RegionEurope, 51.1657, 10.4515},
	{"South Africa", "ZA", RegionAfrica, -30.5595, 22.9375},
	{"Australia", "AU", RegionOceania, -25.2744, 133.7751},
}

// SyntheticOptions configures a SyntheticDataSource.
type SyntheticOptions struct {
	// Seed makes output reproducible; equal seeds give equal data.
	Seed uint64
	// LatencyScale multiplies the simulated response times. Zero disables
	// latency.
	LatencyScale float64
	// FailureRate is the probability (0..1) that a call fails with a
	// NETWORK error.
	FailureRate float64
	Sleep       tracker.SleepFunc
	Clock       tracker.Clock
}

// SyntheticDataSource generates plausible data locally for offline use and
// demos. It is safe for concurrent use.
type SyntheticDataSource struct {
	opts SyntheticOptions

	mu  sync.Mutex
	rng *rand.Rand
}

// NewSyntheticDataSource returns a generator seeded from opts.Seed.
func NewSyntheticDataSource(opts SyntheticOptions) *SyntheticDataSource {
	if opts.Clock == nil {
		opts.Clock = tracker.SystemClock
	}
	if opts.Sleep == nil {
		opts.Sleep = func(ctx context.Context, d time.Duration) error {
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-t.C:
				return nil
			}
		}
	}
	return &SyntheticDataSource{
		opts: opts,
		rng:  rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15)),
	}
}

func (s *SyntheticDataSource) GlobalSummary(ctx context.Context) (GlobalSummary, error) {
	if err := s.simulate(ctx, globalLatency); err != nil {
		return GlobalSummary{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return GlobalSummary{
		TotalConfirmed: 650_000_000 + s.rng.Int64N(1_000_000),
		TotalDeaths:    6_700_000 + s.rng.Int64N(10_000),
		TotalRecovered: 620_000_000 + s.rng.Int64N(1_000_000),
		NewConfirmed:   15_000 + s.rng.Int64N(5_000),
		NewDeaths:      85 + s.rng.Int64N(50),
		NewRecovered:   18_000 + s.rng.Int64N(5_000),
		LastUpdated:    s.opts.Clock.Now(),
	}, nil
}

func (s *SyntheticDataSource) Countries(ctx context.Context) ([]CountrySummary, error) {
	if err := s.simulate(ctx, countriesLatency); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]CountrySummary, 0, len(syntheticCountries))
	for _, c := range syntheticCountries {
		out = append(out, s.country(c))
	}
	return out, nil
}

func (s *SyntheticDataSource) CountryDetail(ctx context.Context, code string) (CountryDetail, error) {
	c, err := lookupSynthetic(code)
	if err != nil {
		return CountryDetail{}, err
	}
	if err := s.simulate(ctx, detailLatency); err != nil {
		return CountryDetail{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	detail := CountryDetail{
		CountrySummary: s.country(c),
		Historical:     s.series(DefaultHistoryDays),
		Vaccinations:   s.vaccination(),
	}
	detail.Testing = &TestingData{
		TotalTests:      100_000_000 + s.rng.Int64N(400_000_000),
		TestsPerMillion: float64(500_000 + s.rng.Int64N(1_500_000)),
		PositiveRate:    s.rng.Float64() * 0.2,
		DailyTests:      50_000 + s.rng.Int64N(950_000),
	}
	detail.Hospitalizations = &HospitalizationData{
		CurrentHospitalizations:  1_000 + s.rng.Int64N(49_000),
		CurrentICU:               200 + s.rng.Int64N(9_800),
		WeeklyHospitalAdmissions: 100 + s.rng.Int64N(4_900),
		WeeklyICUAdmissions:      20 + s.rng.Int64N(980),
	}
	return detail, nil
}

func (s *SyntheticDataSource) History(ctx context.Context, code string, days int) ([]HistoricalPoint, error) {
	if _, err := lookupSynthetic(code); err != nil {
		return nil, err
	}
	if days <= 0 {
		days = DefaultHistoryDays
	}
	if err := s.simulate(ctx, historyLatency); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.series(days), nil
}

func (s *SyntheticDataSource) Vaccinations(ctx context.Context, code string) (VaccinationData, error) {
	if _, err := lookupSynthetic(code); err != nil {
		return VaccinationData{}, err
	}
	if err := s.simulate(ctx, vaccinationsLatency); err != nil {
		return VaccinationData{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.vaccination(), nil
}

// simulate waits out the scaled latency and applies the failure rate.
func (s *SyntheticDataSource) simulate(ctx context.Context, latency time.Duration) error {
	if s.opts.LatencyScale > 0 {
		if err := s.opts.Sleep(ctx, time.Duration(float64(latency)*s.opts.LatencyScale)); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.opts.FailureRate > 0 {
		s.mu.Lock()
		fail := s.rng.Float64() < s.opts.FailureRate
		s.mu.Unlock()
		if fail {
			return tracker.NewError(tracker.KindNetwork, "", map[string]any{"source": "synthetic"})
		}
	}
	return nil
}

// country must be called with s.mu held.
func (s *SyntheticDataSource) country(c syntheticCountry) CountrySummary {
	confirmed := 50_000 + s.rng.Int64N(10_000_000)
	deaths := 1_000 + s.rng.Int64N(confirmed/50+1)
	recovered := confirmed * (85 + s.rng.Int64N(10)) / 100
	active := max(confirmed-deaths-recovered, 0)

	out := CountrySummary{
		Country:     c.name,
		CountryCode: c.code,
		Confirmed:   confirmed,
		Deaths:      deaths,
		Recovered:   recovered,
		Active:      active,
		LastUpdated: s.opts.Clock.Now(),
		Latitude:    c.lat,
		Longitude:   c.lng,
		HasLocation: true,
		Region:      c.region,
		Population:  10_000_000 + s.rng.Int64N(300_000_000),
	}
	out.Rates()
	return out
}

// series returns days points ending today, oldest first, with
// non-decreasing cumulative counts. Caller holds s.mu.
func (s *SyntheticDataSource) series(days int) []HistoricalPoint {
	today := s.opts.Clock.Now().UTC().Truncate(24 * time.Hour)
	out := make([]HistoricalPoint, days)
	var confirmed, deaths, recovered int64
	for i := range out {
		confirmed += 1_000 + s.rng.Int64N(9_000)
		deaths += 10 + s.rng.Int64N(190)
		recovered += 900 + s.rng.Int64N(8_600)
		out[i] = HistoricalPoint{
			Date:      today.AddDate(0, 0, i-days+1).Format(time.DateOnly),
			Confirmed: confirmed,
			Deaths:    deaths,
			Recovered: recovered,
		}
	}
	return out
}

// vaccination must be called with s.mu held.
func (s *SyntheticDataSource) vaccination() *VaccinationData {
	people := 40_000_000 + s.rng.Int64N(110_000_000)
	return &VaccinationData{
		TotalVaccinations:      people*2 + s.rng.Int64N(10_000_000),
		PeopleVaccinated:       people,
		PeopleFullyVaccinated:  people * (70 + s.rng.Int64N(25)) / 100,
		DailyVaccinations:      10_000 + s.rng.Int64N(490_000),
		VaccinationsPerHundred: float64(50 + s.rng.Int64N(150)),
	}
}

func lookupSynthetic(code string) (syntheticCountry, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return syntheticCountry{}, tracker.NewError(tracker.KindValidation, "Country code is required", nil)
	}
	for _, c := range syntheticCountries {
		if c.code == code {
			return c, nil
		}
	}
	return syntheticCountry{}, tracker.NewError(tracker.KindValidation, "Unknown country code", map[string]any{"country": code})
}
