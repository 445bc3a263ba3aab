package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"linkhealth/internal/crawler"
)

// Config captures everything a linkcheck run can be configured with.
type Config struct {
	Crawl      CrawlConfig      `yaml:"crawl"`
	Worker     WorkerConfig     `yaml:"worker"`
	Politeness PolitenessConfig `yaml:"politeness"`
	Robots     RobotsConfig     `yaml:"robots"`
	Logging    LoggingConfig    `yaml:"logging"`
	Export     ExportConfig     `yaml:"export"`
}

// CrawlConfig controls the frontier, limits and budgets.
type CrawlConfig struct {
	StartURL          string   `yaml:"start_url"`
	Pages             []string `yaml:"pages"`
	MaxDepth          int      `yaml:"max_depth"`
	MaxTasks          int      `yaml:"max_tasks"`
	RunTimeout        Duration `yaml:"run_timeout"`
	RequestTimeout    Duration `yaml:"request_timeout"`
	MaxRedirects      int      `yaml:"max_redirects"`
	MaxBodyBytes      int64    `yaml:"max_body_bytes"`
	UserAgent         string   `yaml:"user_agent"`
	IncludeSubdomains bool     `yaml:"include_subdomains"`
	ExpandExtensions  []string `yaml:"expand_extensions"`
}

// WorkerConfig controls concurrency.
type WorkerConfig struct {
	Concurrency int `yaml:"concurrency"`
}

// PolitenessConfig throttles requests per host.
type PolitenessConfig struct {
	PerHostDelay      Duration `yaml:"per_host_delay"`
	RequestsPerMinute int      `yaml:"requests_per_minute"`
}

// RobotsConfig configures robots.txt handling.
type RobotsConfig struct {
	Respect bool     `yaml:"respect"`
	Timeout Duration `yaml:"timeout"`
}

// LoggingConfig selects log verbosity and format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ExportConfig names the report file written after a run.
type ExportConfig struct {
	Path string `yaml:"path"`
}

// Default returns a Config populated with sensible defaults.
func Default() Config {
	return Config{
		Crawl: CrawlConfig{
			MaxDepth:       3,
			RequestTimeout: DurationFrom(15 * time.Second),
			MaxRedirects:   5,
			MaxBodyBytes:   5 * 1024 * 1024,
			UserAgent:      "linkhealth-bot/1.0",
		},
		Worker: WorkerConfig{
			Concurrency: 10,
		},
		Robots: RobotsConfig{
			Respect: true,
			Timeout: DurationFrom(5 * time.Second),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads, normalises and validates configuration from a YAML file.
func Load(path string) (*Config, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer fh.Close()
	return LoadFromReader(fh)
}

// LoadFromReader decodes configuration from an arbitrary reader.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	if err := decodeYAML(r, &cfg); err != nil {
		return nil, err
	}
	cfg.normalise()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func decodeYAML(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("decode config: %w", err)
	}
	return nil
}

// Validate enforces the invariants the crawler relies on. The start URL is
// not required here because it usually arrives on the command line.
func (c Config) Validate() error {
	if c.Crawl.MaxDepth < -1 {
		return fmt.Errorf("crawl.max_depth must be >= -1 (got %d)", c.Crawl.MaxDepth)
	}
	if c.Crawl.MaxTasks < 0 {
		return fmt.Errorf("crawl.max_tasks must be >= 0 (got %d)", c.Crawl.MaxTasks)
	}
	if c.Crawl.RunTimeout.Duration < 0 {
		return fmt.Errorf("crawl.run_timeout must be >= 0 (got %s)", c.Crawl.RunTimeout)
	}
	if c.Crawl.RequestTimeout.Duration <= 0 {
		return fmt.Errorf("crawl.request_timeout must be > 0 (got %s)", c.Crawl.RequestTimeout)
	}
	if c.Crawl.MaxRedirects < 0 {
		return fmt.Errorf("crawl.max_redirects must be >= 0 (got %d)", c.Crawl.MaxRedirects)
	}
	if c.Crawl.MaxBodyBytes <= 0 {
		return fmt.Errorf("crawl.max_body_bytes must be > 0 (got %d)", c.Crawl.MaxBodyBytes)
	}
	if c.Crawl.UserAgent == "" {
		return errors.New("crawl.user_agent must be set")
	}
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker.concurrency must be > 0 (got %d)", c.Worker.Concurrency)
	}
	if c.Politeness.PerHostDelay.Duration < 0 {
		return fmt.Errorf("politeness.per_host_delay must be >= 0 (got %s)", c.Politeness.PerHostDelay)
	}
	if c.Politeness.RequestsPerMinute < 0 {
		return fmt.Errorf("politeness.requests_per_minute must be >= 0 (got %d)", c.Politeness.RequestsPerMinute)
	}
	if c.Robots.Timeout.Duration < 0 {
		return fmt.Errorf("robots.timeout must be >= 0 (got %s)", c.Robots.Timeout)
	}
	if _, err := logrus.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json (got %q)", c.Logging.Format)
	}
	if c.Export.Path != "" {
		switch ext := exportExt(c.Export.Path); ext {
		case ".csv", ".json":
		default:
			return fmt.Errorf("export.path must end in .csv or .json (got %q)", c.Export.Path)
		}
	}
	return nil
}

func (c *Config) normalise() {
	c.Crawl.StartURL = strings.TrimSpace(c.Crawl.StartURL)
	c.Crawl.UserAgent = strings.TrimSpace(c.Crawl.UserAgent)
	c.Crawl.Pages = trimAll(c.Crawl.Pages)
	if len(c.Crawl.ExpandExtensions) > 0 {
		c.Crawl.ExpandExtensions = dedupeLower(c.Crawl.ExpandExtensions)
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	c.Export.Path = strings.TrimSpace(c.Export.Path)
}

// CrawlerConfig maps the file configuration onto a crawler run. Non-empty
// root and pages replace the configured values.
func (c Config) CrawlerConfig(root string, pages []string) crawler.Config {
	if strings.TrimSpace(root) == "" {
		root = c.Crawl.StartURL
	}
	if len(pages) == 0 {
		pages = c.Crawl.Pages
	}
	return crawler.Config{
		StartURL:          root,
		Pages:             pages,
		MaxDepth:          c.Crawl.MaxDepth,
		MaxWorkers:        c.Worker.Concurrency,
		MaxTasks:          c.Crawl.MaxTasks,
		RunTimeout:        c.Crawl.RunTimeout.Duration,
		Timeout:           c.Crawl.RequestTimeout.Duration,
		RobotsTimeout:     c.Robots.Timeout.Duration,
		MaxRedirects:      c.Crawl.MaxRedirects,
		MaxBodyBytes:      c.Crawl.MaxBodyBytes,
		UserAgent:         c.Crawl.UserAgent,
		IgnoreRobots:      !c.Robots.Respect,
		IncludeSubdomains: c.Crawl.IncludeSubdomains,
		ExpandExtensions:  c.Crawl.ExpandExtensions,
		PerHostDelay:      c.Politeness.PerHostDelay.Duration,
		RequestsPerMinute: c.Politeness.RequestsPerMinute,
	}
}

func exportExt(path string) string {
	return strings.ToLower(filepath.Ext(path))
}

func trimAll(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	cleaned := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			cleaned = append(cleaned, v)
		}
	}
	return cleaned
}

func dedupeLower(values []string) []string {
	unique := make(map[string]struct{}, len(values))
	cleaned := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if _, exists := unique[v]; exists {
			continue
		}
		unique[v] = struct{}{}
		cleaned = append(cleaned, v)
	}
	return cleaned
}
