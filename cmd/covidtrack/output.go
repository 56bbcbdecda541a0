package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/OptimusRahul/covid19-tracker/covid"
	"github.com/OptimusRahul/covid19-tracker/prefs"
)

var labelStyle = lipgloss.NewStyle().Bold(true)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...)
}

func printSummary(w io.Writer, s covid.GlobalSummary, fetched, now time.Time) {
	t := newTable("", "TOTAL", "NEW").
		Row("Confirmed", covid.FormatCount(s.TotalConfirmed), "+"+covid.FormatCount(s.NewConfirmed)).
		Row("Deaths", covid.FormatCount(s.TotalDeaths), "+"+covid.FormatCount(s.NewDeaths)).
		Row("Recovered", covid.FormatCount(s.TotalRecovered), "+"+covid.FormatCount(s.NewRecovered))
	fmt.Fprintln(w, labelStyle.Render("Worldwide"))
	fmt.Fprintln(w, t.Render())
	fmt.Fprintf(w, "Fetched %s\n", covid.FormatAge(fetched, now))
}

func printCountries(w io.Writer, list []covid.CountrySummary, fav *prefs.Favorites) {
	if len(list) == 0 {
		fmt.Fprintln(w, "No countries match.")
		return
	}
	t := newTable("", "COUNTRY", "CODE", "CONFIRMED", "DEATHS", "RECOVERED", "DEATH %", "RISK")
	for _, c := range list {
		mark := ""
		if fav != nil && fav.IsFavorite(c.CountryCode) {
			mark = "★"
		}
		t.Row(mark, c.Country, c.CountryCode,
			covid.FormatCount(c.Confirmed),
			covid.FormatCount(c.Deaths),
			covid.FormatCount(c.Recovered),
			covid.FormatRate(c.DeathRate),
			string(c.Risk()))
	}
	fmt.Fprintln(w, t.Render())
	fmt.Fprintf(w, "%d countries\n", len(list))
}

func printDetail(w io.Writer, d covid.CountryDetail, favorite bool, now time.Time) {
	title := fmt.Sprintf("%s (%s)", d.Country, d.CountryCode)
	if favorite {
		title += " ★"
	}
	fmt.Fprintln(w, labelStyle.Render(title))

	t := newTable("", "VALUE").
		Row("Confirmed", covid.FormatCount(d.Confirmed)).
		Row("Deaths", covid.FormatCount(d.Deaths)).
		Row("Recovered", covid.FormatCount(d.Recovered)).
		Row("Active", covid.FormatCount(d.Active)).
		Row("Death rate", covid.FormatRate(d.DeathRate)).
		Row("Recovery rate", covid.FormatRate(d.RecoveryRate)).
		Row("Risk", string(d.Risk()))
	if d.Population > 0 {
		t.Row("Population", covid.FormatCompact(d.Population))
		t.Row("Cases per million", covid.FormatCount(int64(d.CasesPerMillion)))
	}
	if v := d.Vaccinations; v != nil {
		t.Row("Fully vaccinated", covid.FormatCount(v.PeopleFullyVaccinated))
		t.Row("Doses per hundred", strconv.FormatFloat(v.VaccinationsPerHundred, 'f', 1, 64))
	}
	if ts := d.Testing; ts != nil {
		t.Row("Tests", covid.FormatCount(ts.TotalTests))
		t.Row("Positive rate", covid.FormatRate(ts.PositiveRate))
	}
	if h := d.Hospitalizations; h != nil {
		t.Row("Hospitalized", covid.FormatCount(h.CurrentHospitalizations))
		t.Row("In ICU", covid.FormatCount(h.CurrentICU))
	}
	fmt.Fprintln(w, t.Render())
	fmt.Fprintf(w, "Updated %s\n", covid.FormatAge(d.LastUpdated, now))
}

func printHistory(w io.Writer, points []covid.HistoricalPoint) {
	if len(points) == 0 {
		fmt.Fprintln(w, "No history available.")
		return
	}
	t := newTable("DATE", "CONFIRMED", "DEATHS", "RECOVERED", "NEW CASES")
	var prev int64
	for i, p := range points {
		delta := "-"
		if i > 0 {
			delta = "+" + covid.FormatCount(max(p.Confirmed-prev, 0))
		}
		prev = p.Confirmed
		t.Row(p.Date, covid.FormatCount(p.Confirmed), covid.FormatCount(p.Deaths), covid.FormatCount(p.Recovered), delta)
	}
	fmt.Fprintln(w, t.Render())
}
