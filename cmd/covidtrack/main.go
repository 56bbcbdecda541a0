package main

import (
	"fmt"
	"io"
	"os"

	"github.com/alecthomas/kong"

	tracker "github.com/OptimusRahul/covid19-tracker"
	"github.com/OptimusRahul/covid19-tracker/config"
)

// Globals are flags shared by every command. They override config values.
type Globals struct {
	Config      string `help:"Config file layered over ~/.config/covidtrack/config.yaml." default:"covidtrack.yaml" type:"path"`
	Source      string `help:"Data source: remote or synthetic."`
	Store       string `help:"Storage file. ':memory:' keeps nothing between runs."`
	MetricsAddr string `help:"Serve Prometheus metrics on this address (e.g. :9090)."`
	LogLevel    string `help:"Log level: debug, info, warn or error."`
	LogFile     string `help:"Append logs to this file instead of stderr." type:"path"`
	Fresh       bool   `help:"Bypass caches and fetch from the source."`
	JSON        bool   `help:"Print JSON instead of tables."`

	out io.Writer
	err io.Writer
}

func (g *Globals) stdout() io.Writer {
	if g.out == nil {
		return os.Stdout
	}
	return g.out
}

func (g *Globals) stderr() io.Writer {
	if g.err == nil {
		return os.Stderr
	}
	return g.err
}

// CLI is the top-level command structure for covidtrack.
type CLI struct {
	Globals

	Version   kong.VersionFlag `help:"Show version." short:"V"`
	Summary   SummaryCmd       `cmd:"" help:"Show worldwide totals."`
	Countries CountriesCmd     `cmd:"" help:"List countries."`
	Country   CountryCmd       `cmd:"" help:"Show one country in detail."`
	History   HistoryCmd       `cmd:"" help:"Show a country's daily series."`
	Watch     WatchCmd         `cmd:"" help:"Open a live country dashboard."`
	Favorites FavoritesCmd     `cmd:"" help:"Manage favorite countries."`
	Cache     CacheCmd         `cmd:"" help:"Manage cached responses."`
	Info      VersionCmd       `cmd:"" name:"version" help:"Show build information."`
}

// loadConfig layers the user and local config files, then environment
// variables, then flags.
func loadConfig(g *Globals) (*config.Config, error) {
	cfg, err := config.LoadLayered(
		os.ExpandEnv("$HOME/.config/covidtrack/config.yaml"),
		g.Config,
	)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}

	if g.Source != "" {
		cfg.Source.Mode = g.Source
	}
	if g.Store != "" {
		cfg.Storage.Path = g.Store
	}
	if g.MetricsAddr != "" {
		cfg.Metrics.Addr = g.MetricsAddr
	}
	if g.LogLevel != "" {
		cfg.Log.Level = g.LogLevel
	}
	if g.LogFile != "" {
		cfg.Log.File = g.LogFile
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("covidtrack"),
		kong.Description("COVID-19 statistics in the terminal."),
		kong.Vars{"version": tracker.GetVersion()},
	)
	err := ctx.Run(&cli.Globals)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		os.Exit(1)
	}
}
