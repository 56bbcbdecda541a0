// Package tui renders a live country dashboard driven by a tracker.Query.
package tui

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/OptimusRahul/covid19-tracker/covid"
	"github.com/OptimusRahul/covid19-tracker/prefs"
	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
)

// chromeHeight is the number of lines used by the title, status line,
// blank separator, table header and help bar.
const chromeHeight = 5

// StateMsg delivers a new query snapshot to the model.
type StateMsg struct {
	State CountriesState
}

// feedClosedMsg signals that no more snapshots will arrive.
type feedClosedMsg struct{}

// Options wires a Model to its data and persistence.
type Options struct {
	// Feed supplies query snapshots. Nil means snapshots arrive only as
	// StateMsg sent by the caller.
	Feed *Feed
	// Refetch forces a network fetch. It must not block.
	Refetch func()
	// Favorites may be nil, which disables starring.
	Favorites *prefs.Favorites
	Filters   prefs.Filters
	// OnFilters receives the filters after every sort or region change.
	OnFilters func(prefs.Filters)
	Now       func() time.Time
}

// Model is the Bubble Tea model for the watch dashboard.
type Model struct {
	opts    Options
	keys    watchKeys
	help    help.Model
	spinner spinner.Model

	state         CountriesState
	sortField     covid.SortField
	descending    bool
	region        covid.Region
	favoritesOnly bool
	cursor        int

	width    int
	height   int
	quitting bool
}

// NewModel creates a Model with the saved filters applied.
func NewModel(opts Options) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot

	if opts.Now == nil {
		opts.Now = time.Now
	}

	field, err := covid.ParseSortField(opts.Filters.SortField)
	if err != nil {
		field = covid.SortConfirmed
	}
	region := covid.Region(opts.Filters.Region)
	if region == "" {
		region = covid.RegionAll
	}

	return Model{
		opts:       opts,
		keys:       WatchKeyMap(),
		help:       help.New(),
		spinner:    s,
		sortField:  field,
		descending: opts.Filters.SortDescending,
		region:     region,
	}
}

// Init starts the spinner and begins listening for snapshots.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.listen())
}

// Update handles incoming messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case StateMsg:
		m.state = msg.State
		m.clampCursor()
		return m, m.listen()

	case feedClosedMsg:
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.quitting = true
		return m, tea.Quit

	case key.Matches(msg, m.keys.Up):
		if m.cursor > 0 {
			m.cursor--
		}

	case key.Matches(msg, m.keys.Down):
		if m.cursor < len(m.Rows())-1 {
			m.cursor++
		}

	case key.Matches(msg, m.keys.Refresh):
		return m, m.refetch()

	case key.Matches(msg, m.keys.Sort):
		m.sortField = next(covid.SortFields, m.sortField)
		m.cursor = 0
		return m, m.persist()

	case key.Matches(msg, m.keys.Reverse):
		m.descending = !m.descending
		m.cursor = 0
		return m, m.persist()

	case key.Matches(msg, m.keys.Region):
		m.region = next(append([]covid.Region{covid.RegionAll}, covid.Regions...), m.region)
		m.cursor = 0
		return m, m.persist()

	case key.Matches(msg, m.keys.Favorite):
		if row, ok := m.Selected(); ok && m.opts.Favorites != nil {
			m.opts.Favorites.Toggle(row.CountryCode)
			m.clampCursor()
		}

	case key.Matches(msg, m.keys.Favorites):
		m.favoritesOnly = !m.favoritesOnly
		m.cursor = 0

	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
	}

	return m, nil
}

// Rows returns the visible countries after region, favorites and sort.
func (m Model) Rows() []covid.CountrySummary {
	rows := covid.FilterByRegion(m.state.Data, m.region)
	if m.favoritesOnly && m.opts.Favorites != nil {
		rows = slices.DeleteFunc(rows, func(c covid.CountrySummary) bool {
			return !m.opts.Favorites.IsFavorite(c.CountryCode)
		})
	}
	return covid.SortCountries(rows, m.sortField, m.descending)
}

// Selected returns the row under the cursor.
func (m Model) Selected() (covid.CountrySummary, bool) {
	rows := m.Rows()
	if m.cursor < 0 || m.cursor >= len(rows) {
		return covid.CountrySummary{}, false
	}
	return rows[m.cursor], true
}

// Filters returns the current view settings in their persisted form.
func (m Model) Filters() prefs.Filters {
	return prefs.Filters{
		Region:         string(m.region),
		SortField:      string(m.sortField),
		SortDescending: m.descending,
	}
}

// View renders the dashboard.
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	order := "↓"
	if !m.descending {
		order = "↑"
	}
	b.WriteString(titleStyle.Render("COVID-19 Tracker"))
	b.WriteString(dimStyle.Render(fmt.Sprintf("  sort %s %s · region %s", m.sortField, order, m.region)))
	if m.favoritesOnly {
		b.WriteString(dimStyle.Render(" · favorites"))
	}
	b.WriteString("\n")
	b.WriteString(m.statusLine())
	b.WriteString("\n\n")

	rows := m.Rows()
	if len(rows) > 0 {
		b.WriteString(headerStyle.Render(fmt.Sprintf("  %-22s %14s %12s %8s  %-8s", "COUNTRY", "CONFIRMED", "DEATHS", "DEATH %", "RISK")))
		b.WriteString("\n")
		start, end := m.window(len(rows))
		for i := start; i < end; i++ {
			b.WriteString(m.renderRow(rows[i], i == m.cursor))
			b.WriteString("\n")
		}
	} else if m.state.HasData {
		b.WriteString(dimStyle.Render("  No countries match the current filters."))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.help.View(m.keys))
	return b.String()
}

func (m Model) statusLine() string {
	st := m.state
	switch {
	case st.Loading && st.Attempt > 0:
		return fmt.Sprintf("%s Retrying (attempt %d)…", m.spinner.View(), st.Attempt+1)
	case st.Loading && st.HasData:
		return m.spinner.View() + " Refreshing…"
	case st.Loading:
		return m.spinner.View() + " Loading countries…"
	case st.Error != nil && st.HasData:
		return errorStyle.Render("✗ "+st.Error.UserMessage()) + dimStyle.Render(" · showing data from "+covid.FormatAge(st.LastUpdatedAt, m.opts.Now()))
	case st.Error != nil:
		return errorStyle.Render("✗ " + st.Error.UserMessage())
	case st.HasData:
		return dimStyle.Render("Updated " + covid.FormatAge(st.LastUpdatedAt, m.opts.Now()))
	default:
		return dimStyle.Render("Waiting for data")
	}
}

func (m Model) renderRow(c covid.CountrySummary, selected bool) string {
	mark := " "
	if m.opts.Favorites != nil && m.opts.Favorites.IsFavorite(c.CountryCode) {
		mark = favoriteStyle.Render("★")
	}
	name := c.Country
	if r := []rune(name); len(r) > 22 {
		name = string(r[:21]) + "…"
	}
	line := fmt.Sprintf("%-22s %14s %12s %8s  ", name, covid.FormatCount(c.Confirmed), covid.FormatCount(c.Deaths), covid.FormatRate(c.DeathRate))
	if selected {
		line = selectedStyle.Render(line)
	}
	return mark + " " + line + RiskBadge(c.Risk())
}

// window returns the slice of rows that fits the terminal, keeping the
// cursor visible. Unknown height shows everything.
func (m Model) window(n int) (int, int) {
	visible := m.height - chromeHeight
	if m.height == 0 || visible >= n {
		return 0, n
	}
	if visible < 1 {
		visible = 1
	}
	start := 0
	if m.cursor >= visible {
		start = m.cursor - visible + 1
	}
	return start, start + visible
}

func (m *Model) clampCursor() {
	n := len(m.Rows())
	if m.cursor >= n {
		m.cursor = n - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
}

func (m Model) listen() tea.Cmd {
	if m.opts.Feed == nil {
		return nil
	}
	ch := m.opts.Feed.ch
	return func() tea.Msg {
		st, ok := <-ch
		if !ok {
			return feedClosedMsg{}
		}
		return StateMsg{State: st}
	}
}

func (m Model) refetch() tea.Cmd {
	if m.opts.Refetch == nil {
		return nil
	}
	refetch := m.opts.Refetch
	return func() tea.Msg {
		refetch()
		return nil
	}
}

func (m Model) persist() tea.Cmd {
	if m.opts.OnFilters == nil {
		return nil
	}
	fn, f := m.opts.OnFilters, m.Filters()
	return func() tea.Msg {
		fn(f)
		return nil
	}
}

// next returns the element after cur in list, wrapping around. An unknown
// cur yields the first element.
func next[T comparable](list []T, cur T) T {
	i := slices.Index(list, cur)
	return list[(i+1)%len(list)]
}
