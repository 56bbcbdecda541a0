package covid

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
)

// SortField names a CountrySummary column.
type SortField string

const (
	SortCountry      SortField = "country"
	SortConfirmed    SortField = "confirmed"
	SortDeaths       SortField = "deaths"
	SortRecovered    SortField = "recovered"
	SortActive       SortField = "active"
	SortDeathRate    SortField = "deathRate"
	SortRecoveryRate SortField = "recoveryRate"
)

// SortFields lists every accepted field.
var SortFields = []SortField{SortCountry, SortConfirmed, SortDeaths, SortRecovered, SortActive, SortDeathRate, SortRecoveryRate}

// ParseSortField accepts a field name case-insensitively.
func ParseSortField(s string) (SortField, error) {
	for _, f := range SortFields {
		if strings.EqualFold(string(f), s) {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown sort field %q", s)
}

// SortCountries returns a sorted copy of countries. The input is not
// modified. Ties keep their input order. Unknown fields sort by confirmed.
func SortCountries(countries []CountrySummary, field SortField, descending bool) []CountrySummary {
	out := slices.Clone(countries)
	slices.SortStableFunc(out, func(a, b CountrySummary) int {
		c := compareBy(a, b, field)
		if descending {
			return -c
		}
		return c
	})
	return out
}

func compareBy(a, b CountrySummary, field SortField) int {
	switch field {
	case SortCountry:
		return cmp.Compare(strings.ToLower(a.Country), strings.ToLower(b.Country))
	case SortDeaths:
		return cmp.Compare(a.Deaths, b.Deaths)
	case SortRecovered:
		return cmp.Compare(a.Recovered, b.Recovered)
	case SortActive:
		return cmp.Compare(a.Active, b.Active)
	case SortDeathRate:
		return cmp.Compare(ratio(a.Deaths, a.Confirmed), ratio(b.Deaths, b.Confirmed))
	case SortRecoveryRate:
		return cmp.Compare(ratio(a.Recovered, a.Confirmed), ratio(b.Recovered, b.Confirmed))
	default:
		return cmp.Compare(a.Confirmed, b.Confirmed)
	}
}

// FilterByRegion keeps countries in region. RegionAll and the empty region
// keep everything.
func FilterByRegion(countries []CountrySummary, region Region) []CountrySummary {
	if region == "" || region == RegionAll {
		return slices.Clone(countries)
	}
	var out []CountrySummary
	for _, c := range countries {
		if c.Region == region {
			out = append(out, c)
		}
	}
	return out
}

// Search keeps countries whose name or code contains query, ignoring case.
// An empty query keeps everything.
func Search(countries []CountrySummary, query string) []CountrySummary {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return slices.Clone(countries)
	}
	var out []CountrySummary
	for _, c := range countries {
		if strings.Contains(strings.ToLower(c.Country), q) || strings.Contains(strings.ToLower(c.CountryCode), q) {
			out = append(out, c)
		}
	}
	return out
}

// Top returns the first n countries, or all of them when n is not positive.
func Top(countries []CountrySummary, n int) []CountrySummary {
	if n <= 0 || n >= len(countries) {
		return countries
	}
	return countries[:n]
}
