package tui

import "github.com/charmbracelet/bubbles/key"

// watchKeys holds key bindings for the watch dashboard.
type watchKeys struct {
	Up        key.Binding
	Down      key.Binding
	Refresh   key.Binding
	Sort      key.Binding
	Reverse   key.Binding
	Region    key.Binding
	Favorite  key.Binding
	Favorites key.Binding
	Help      key.Binding
	Quit      key.Binding
}

// ShortHelp returns the bindings for the help bar.
func (k watchKeys) ShortHelp() []key.Binding {
	return []key.Binding{k.Up, k.Down, k.Refresh, k.Sort, k.Region, k.Help, k.Quit}
}

// FullHelp returns the bindings grouped for expanded help.
func (k watchKeys) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Up, k.Down, k.Refresh},
		{k.Sort, k.Reverse, k.Region},
		{k.Favorite, k.Favorites},
		{k.Help, k.Quit},
	}
}

// WatchKeyMap returns the key bindings for the watch dashboard.
func WatchKeyMap() watchKeys {
	return watchKeys{
		Up: key.NewBinding(
			key.WithKeys("up", "k"),
			key.WithHelp("↑/k", "up"),
		),
		Down: key.NewBinding(
			key.WithKeys("down", "j"),
			key.WithHelp("↓/j", "down"),
		),
		Refresh: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "refresh"),
		),
		Sort: key.NewBinding(
			key.WithKeys("s"),
			key.WithHelp("s", "sort column"),
		),
		Reverse: key.NewBinding(
			key.WithKeys("S"),
			key.WithHelp("S", "reverse order"),
		),
		Region: key.NewBinding(
			key.WithKeys("g"),
			key.WithHelp("g", "region"),
		),
		Favorite: key.NewBinding(
			key.WithKeys("f"),
			key.WithHelp("f", "toggle favorite"),
		),
		Favorites: key.NewBinding(
			key.WithKeys("F"),
			key.WithHelp("F", "favorites only"),
		),
		Help: key.NewBinding(
			key.WithKeys("?"),
			key.WithHelp("?", "more keys"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
	}
}
