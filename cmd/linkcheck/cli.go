package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/alecthomas/kong"

	"linkhealth/internal/config"
)

// Sentinels meaning "keep the configured value".
const (
	unsetDepth = -2
	unsetTasks = -1
)

// CLI is the linkcheck command line. Every flag can also come from a
// LINKCHECK_* environment variable.
type CLI struct {
	URL string `arg:"" optional:"" help:"Root URL to crawl." env:"LINKCHECK_URL"`

	MaxDepth          int           `help:"Maximum expansion depth; -1 disables the limit." default:"-2" env:"LINKCHECK_MAX_DEPTH"`
	Export            string        `help:"Write the report to this .csv or .json file." type:"path" env:"LINKCHECK_EXPORT"`
	Pages             []string      `help:"Check only these pages instead of discovering the site." env:"LINKCHECK_PAGES"`
	Concurrency       int           `help:"Number of concurrent workers." env:"LINKCHECK_CONCURRENCY"`
	Timeout           time.Duration `help:"Per-request timeout." env:"LINKCHECK_TIMEOUT"`
	RunTimeout        time.Duration `help:"Stop the run after this long and report what was checked." env:"LINKCHECK_RUN_TIMEOUT"`
	MaxTasks          int           `help:"Stop after dispatching this many checks; 0 disables the limit." default:"-1" env:"LINKCHECK_MAX_TASKS"`
	IgnoreRobots      bool          `help:"Do not fetch or honour robots.txt." env:"LINKCHECK_IGNORE_ROBOTS"`
	IncludeSubdomains bool          `help:"Treat subdomains of the root host as internal." env:"LINKCHECK_INCLUDE_SUBDOMAINS"`
	Config            string        `help:"YAML configuration file." type:"path" env:"LINKCHECK_CONFIG"`
	LogLevel          string        `help:"Log level (debug, info, warn, error)." env:"LINKCHECK_LOG_LEVEL"`
	LogFormat         string        `help:"Log format (text or json)." env:"LINKCHECK_LOG_FORMAT"`
}

func newParser(cli *CLI, options ...kong.Option) (*kong.Kong, error) {
	options = append([]kong.Option{
		kong.Name("linkcheck"),
		kong.Description("Crawl a website and report broken links."),
		kong.UsageOnError(),
	}, options...)
	return kong.New(cli, options...)
}

// resolveConfig loads the configuration file, if any, and applies the flags
// on top of it.
func (c *CLI) resolveConfig() (*config.Config, error) {
	var cfg *config.Config
	if c.Config != "" {
		loaded, err := config.Load(c.Config)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		def := config.Default()
		cfg = &def
	}
	c.apply(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if strings.TrimSpace(c.URL) == "" && cfg.Crawl.StartURL == "" {
		return nil, errors.New("a root URL is required (argument, LINKCHECK_URL or crawl.start_url)")
	}
	return cfg, nil
}

func (c *CLI) apply(cfg *config.Config) {
	if c.MaxDepth != unsetDepth {
		cfg.Crawl.MaxDepth = c.MaxDepth
	}
	if c.MaxTasks != unsetTasks {
		cfg.Crawl.MaxTasks = c.MaxTasks
	}
	if c.Concurrency > 0 {
		cfg.Worker.Concurrency = c.Concurrency
	}
	if c.Timeout > 0 {
		cfg.Crawl.RequestTimeout = config.DurationFrom(c.Timeout)
	}
	if c.RunTimeout > 0 {
		cfg.Crawl.RunTimeout = config.DurationFrom(c.RunTimeout)
	}
	if c.IgnoreRobots {
		cfg.Robots.Respect = false
	}
	if c.IncludeSubdomains {
		cfg.Crawl.IncludeSubdomains = true
	}
	if c.Export != "" {
		cfg.Export.Path = c.Export
	}
	if c.LogLevel != "" {
		cfg.Logging.Level = strings.ToLower(c.LogLevel)
	}
	if c.LogFormat != "" {
		cfg.Logging.Format = strings.ToLower(c.LogFormat)
	}
}
