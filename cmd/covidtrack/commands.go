package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-isatty"

	tracker "github.com/OptimusRahul/covid19-tracker"
	"github.com/OptimusRahul/covid19-tracker/covid"
	"github.com/OptimusRahul/covid19-tracker/internal/tui"
	"github.com/OptimusRahul/covid19-tracker/prefs"
)

// setup loads config and wires the app for one command.
func setup(g *Globals) (*app, error) {
	cfg, err := loadConfig(g)
	if err != nil {
		return nil, err
	}
	return newApp(cfg, g.stderr())
}

// durable returns a query that serves key from persistent storage.
func durable[T any](a *app, key, label string, fetch func(context.Context) (T, error)) *tracker.DurableQuery[T] {
	return tracker.NewDurableQuery(a.fetcher, a.cache, tracker.DurableOptions[T]{
		Key:                    key,
		Fetch:                  fetch,
		TTL:                    a.cfg.Cache.DurableTTL,
		NoStaleWhileRevalidate: !a.cfg.Cache.StaleWhileRevalidate,
		Context:                label,
		OnRevalidateError: func(err *tracker.NormalizedError) {
			a.logger.Warn("background refresh failed", "key", key, "kind", string(err.Kind), "error", err.Message)
		},
	})
}

// load runs q, forcing the network when fresh is set, and waits for any
// background refresh so it is persisted before the process exits.
func load[T any](ctx context.Context, q *tracker.DurableQuery[T], fresh bool) (T, error) {
	fetch := q.Fetch
	if fresh {
		fetch = q.Refresh
	}
	v, err := fetch(ctx)
	if err == nil {
		q.Wait()
	}
	return v, err
}

// SummaryCmd prints worldwide totals.
type SummaryCmd struct{}

// Run executes the summary command.
func (c *SummaryCmd) Run(g *Globals) error {
	a, err := setup(g)
	if err != nil {
		return fmt.Errorf("summary: %w", err)
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	q := durable(a, covid.GlobalKey(), "getGlobalSummary", a.service.Source().GlobalSummary)
	defer q.Close()

	s, err := load(ctx, q, g.Fresh)
	if err != nil {
		return fmt.Errorf("summary: %w", err)
	}
	if g.JSON {
		return writeJSON(g.stdout(), s)
	}
	printSummary(g.stdout(), s, q.State().UpdatedAt, time.Now())
	return nil
}

// CountriesCmd lists countries with optional filtering.
type CountriesCmd struct {
	Sort   string `help:"Sort column (country, confirmed, deaths, recovered, active, deathRate, recoveryRate). Defaults to the saved preference."`
	Asc    bool   `help:"Sort ascending."`
	Region string `help:"Region filter (all, asia, europe, north-america, south-america, africa, oceania). Defaults to the saved preference."`
	Search string `help:"Keep countries whose name or code contains this text."`
	Top    int    `help:"Show only the first N rows." default:"0"`
	Save   bool   `help:"Save sort and region as the default view."`
}

// Run executes the countries command.
func (c *CountriesCmd) Run(g *Globals) error {
	a, err := setup(g)
	if err != nil {
		return fmt.Errorf("countries: %w", err)
	}
	defer a.Close()

	filters, err := c.filters(a.prefs.Load().Filters)
	if err != nil {
		return fmt.Errorf("countries: %w", err)
	}
	if c.Save {
		a.prefs.Update(func(p *prefs.Preferences) { p.Filters = filters })
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	q := durable(a, covid.CountriesKey(), "getCountries", a.service.Source().Countries)
	defer q.Close()

	list, err := load(ctx, q, g.Fresh)
	if err != nil {
		return fmt.Errorf("countries: %w", err)
	}

	list = covid.FilterByRegion(list, covid.Region(filters.Region))
	if c.Search != "" {
		list = covid.Search(list, c.Search)
	}
	list = covid.SortCountries(list, covid.SortField(filters.SortField), filters.SortDescending)
	if c.Top > 0 {
		list = covid.Top(list, c.Top)
	}

	if g.JSON {
		return writeJSON(g.stdout(), list)
	}
	printCountries(g.stdout(), list, a.favorites)
	return nil
}

// filters merges flags over the saved view.
func (c *CountriesCmd) filters(saved prefs.Filters) (prefs.Filters, error) {
	f := saved
	if c.Sort != "" {
		field, err := covid.ParseSortField(c.Sort)
		if err != nil {
			return f, err
		}
		f.SortField = string(field)
		f.SortDescending = !c.Asc
	} else if c.Asc {
		f.SortDescending = false
	}
	if c.Region != "" {
		region := covid.Region(strings.ToLower(c.Region))
		if region != covid.RegionAll && !slices.Contains(covid.Regions, region) {
			return f, fmt.Errorf("unknown region %q", c.Region)
		}
		f.Region = string(region)
	}
	return f, nil
}

// CountryCmd prints one country in detail.
type CountryCmd struct {
	Code string `arg:"" help:"ISO country code, e.g. US."`
}

// Run executes the country command.
func (c *CountryCmd) Run(g *Globals) error {
	a, err := setup(g)
	if err != nil {
		return fmt.Errorf("country: %w", err)
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	d, err := a.service.CountryDetail(ctx, c.Code, g.Fresh)
	if err != nil {
		return fmt.Errorf("country: %w", err)
	}
	a.prefs.Update(func(p *prefs.Preferences) { p.SelectedCountry = d.CountryCode })

	if g.JSON {
		return writeJSON(g.stdout(), d)
	}
	printDetail(g.stdout(), d, a.favorites.IsFavorite(d.CountryCode), time.Now())
	return nil
}

// HistoryCmd prints a country's daily series.
type HistoryCmd struct {
	Code string `arg:"" help:"ISO country code, e.g. US."`
	Days int    `help:"Number of days." default:"30"`
}

// Run executes the history command.
func (c *HistoryCmd) Run(g *Globals) error {
	a, err := setup(g)
	if err != nil {
		return fmt.Errorf("history: %w", err)
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	points, err := a.service.History(ctx, c.Code, c.Days, g.Fresh)
	if err != nil {
		return fmt.Errorf("history: %w", err)
	}
	if g.JSON {
		return writeJSON(g.stdout(), points)
	}
	printHistory(g.stdout(), points)
	return nil
}

// WatchCmd opens the live dashboard, or prints a table on every refresh
// when stdout is not a terminal.
type WatchCmd struct {
	Interval time.Duration `help:"Refetch period. Defaults to refresh.interval from config."`
	NoAuto   bool          `help:"Disable periodic refetch regardless of preferences."`
	Count    int           `help:"Exit after this many successful refreshes (plain output only). 0 runs until interrupted." default:"0"`
}

// Run executes the watch command.
func (c *WatchCmd) Run(g *Globals) error {
	a, err := setup(g)
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	defer a.Close()

	saved := a.prefs.Load()
	interval := a.cfg.Refresh.Interval
	if c.Interval > 0 {
		interval = c.Interval
	}
	if c.NoAuto || !saved.AutoRefresh {
		interval = 0
	}

	feed := tui.NewFeed()
	defer feed.Close()

	opts := covid.CountriesQuery(a.service.Source())
	opts.TTL = a.cfg.Cache.TTL
	opts.RefetchInterval = interval
	opts.StaleWindow = a.cfg.Refresh.StaleWindow
	opts.OnStateChange = feed.Push
	q := tracker.NewQuery(a.fetcher, opts)
	defer q.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	q.Mount(ctx)

	tty := g.out == nil && (isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd()))
	if !tty {
		return c.plain(ctx, g, a, feed, saved.Filters)
	}

	m := tui.NewModel(tui.Options{
		Feed:      feed,
		Refetch:   q.Refetch,
		Favorites: a.favorites,
		Filters:   saved.Filters,
		OnFilters: func(f prefs.Filters) {
			a.prefs.Update(func(p *prefs.Preferences) { p.Filters = f })
		},
	})
	prog := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := prog.Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("watch: %w", err)
	}
	return nil
}

// plain prints the filtered table after each successful fetch and errors
// to stderr, until ctx ends or Count refreshes have printed.
func (c *WatchCmd) plain(ctx context.Context, g *Globals, a *app, feed *tui.Feed, f prefs.Filters) error {
	printed := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case st, ok := <-feed.C():
			if !ok {
				return nil
			}
			switch {
			case st.Loading:
				continue
			case st.Error != nil:
				fmt.Fprintf(g.stderr(), "%s: %s\n", time.Now().Format(time.TimeOnly), st.Error.UserMessage())
			case st.HasData:
				list := covid.FilterByRegion(st.Data, covid.Region(f.Region))
				list = covid.SortCountries(list, covid.SortField(f.SortField), f.SortDescending)
				if g.JSON {
					if err := writeJSON(g.stdout(), list); err != nil {
						return err
					}
				} else {
					fmt.Fprintf(g.stdout(), "Updated %s\n", st.LastUpdatedAt.Format(time.DateTime))
					printCountries(g.stdout(), list, a.favorites)
				}
				printed++
				if c.Count > 0 && printed >= c.Count {
					return nil
				}
			}
		}
	}
}

// FavoritesCmd groups favorite management.
type FavoritesCmd struct {
	List   FavoritesListCmd   `cmd:"" default:"1" help:"List favorite countries."`
	Add    FavoritesAddCmd    `cmd:"" help:"Add countries to favorites."`
	Remove FavoritesRemoveCmd `cmd:"" help:"Remove countries from favorites."`
}

// FavoritesListCmd prints the favorites.
type FavoritesListCmd struct{}

// Run executes the favorites list command.
func (c *FavoritesListCmd) Run(g *Globals) error {
	a, err := setup(g)
	if err != nil {
		return fmt.Errorf("favorites: %w", err)
	}
	defer a.Close()

	list := a.favorites.List()
	if g.JSON {
		return writeJSON(g.stdout(), list)
	}
	if len(list) == 0 {
		fmt.Fprintln(g.stdout(), "No favorites yet.")
		return nil
	}
	for _, code := range list {
		fmt.Fprintln(g.stdout(), code)
	}
	return nil
}

// FavoritesAddCmd adds favorites.
type FavoritesAddCmd struct {
	Codes []string `arg:"" help:"Country codes."`
}

// Run executes the favorites add command.
func (c *FavoritesAddCmd) Run(g *Globals) error {
	a, err := setup(g)
	if err != nil {
		return fmt.Errorf("favorites: %w", err)
	}
	defer a.Close()

	for _, code := range c.Codes {
		if a.favorites.Add(code) {
			fmt.Fprintf(g.stdout(), "Added %s\n", strings.ToUpper(strings.TrimSpace(code)))
		}
	}
	return nil
}

// FavoritesRemoveCmd removes favorites.
type FavoritesRemoveCmd struct {
	Codes []string `arg:"" help:"Country codes."`
}

// Run executes the favorites remove command.
func (c *FavoritesRemoveCmd) Run(g *Globals) error {
	a, err := setup(g)
	if err != nil {
		return fmt.Errorf("favorites: %w", err)
	}
	defer a.Close()

	for _, code := range c.Codes {
		if a.favorites.Remove(code) {
			fmt.Fprintf(g.stdout(), "Removed %s\n", strings.ToUpper(strings.TrimSpace(code)))
		}
	}
	return nil
}

// CacheCmd groups cache management.
type CacheCmd struct {
	Clear CacheClearCmd `cmd:"" help:"Delete all cached responses."`
}

// CacheClearCmd empties the durable and in-memory caches.
type CacheClearCmd struct{}

// Run executes the cache clear command.
func (c *CacheClearCmd) Run(g *Globals) error {
	a, err := setup(g)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer a.Close()

	a.service.ClearCache()
	n := a.cache.Clear()
	fmt.Fprintf(g.stdout(), "Removed %d cached %s\n", n, pluralize(n, "entry", "entries"))
	return nil
}

func pluralize(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

// VersionCmd prints build information.
type VersionCmd struct{}

// Run executes the version command.
func (c *VersionCmd) Run(g *Globals) error {
	if g.JSON {
		return writeJSON(g.stdout(), tracker.GetVersionInfo())
	}
	fmt.Fprintln(g.stdout(), tracker.GetVersion())
	return nil
}
