package crawler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const defaultMaxWorkers = 10

// State is the lifecycle stage of a crawl run.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateDraining
	StateCompleted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateCompleted:
		return "completed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Run is one crawl. It owns the frontier, robots cache and aggregator, so
// independent runs can share a process.
type Run struct {
	id         string
	root       string
	seeds      []string
	restricted bool

	maxDepth     int
	maxWorkers   int
	maxTasks     int
	runTimeout   time.Duration
	timeout      time.Duration
	maxRedirects int
	userAgent    string
	ignoreRobots bool
	expandExt    extensionSet
	classifier   hostClassifier

	fetcher   Fetcher
	validator Validator
	extractor Extractor
	robots    RobotsPolicy
	frontier  *frontier
	agg       *Aggregator

	logger   logrus.FieldLogger
	progress func(string)

	state atomic.Int32

	mu           sync.Mutex
	stats        Stats
	seedFailures []string
}

// Crawl performs the crawl using the provided configuration and returns a report.
func Crawl(ctx context.Context, cfg Config) (*HealthReport, error) {
	run, err := NewRun(cfg)
	if err != nil {
		return nil, err
	}
	return run.Execute(ctx)
}

// NewRun validates cfg and wires the run's collaborators.
func NewRun(cfg Config) (*Run, error) {
	start := strings.TrimSpace(cfg.StartURL)
	if start == "" {
		return nil, fmt.Errorf("%w: start URL is required", ErrInvalidURL)
	}
	if !strings.Contains(start, "://") {
		start = "https://" + start
	}
	root, err := Normalize(start, "")
	if err != nil {
		return nil, fmt.Errorf("invalid start URL: %w", err)
	}

	seeds := []string{root}
	if len(cfg.Pages) > 0 {
		seeds = seeds[:0]
		seen := make(map[string]struct{}, len(cfg.Pages))
		for _, page := range cfg.Pages {
			normalized, err := Normalize(page, root)
			if err != nil {
				return nil, fmt.Errorf("invalid page %q: %w", page, err)
			}
			if _, dup := seen[normalized]; dup {
				continue
			}
			seen[normalized] = struct{}{}
			seeds = append(seeds, normalized)
		}
	}

	maxWorkers := cfg.MaxWorkers
	if maxWorkers <= 0 {
		maxWorkers = defaultMaxWorkers
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	maxRedirects := cfg.MaxRedirects
	if maxRedirects < 0 {
		maxRedirects = defaultMaxRedirects
	}
	maxDepth := cfg.MaxDepth
	if maxDepth < 0 {
		maxDepth = -1
	}
	userAgent := strings.TrimSpace(cfg.UserAgent)
	if userAgent == "" {
		userAgent = defaultUserAgent
	}

	id := uuid.NewString()
	logger := cfg.Logger
	if logger == nil {
		discard := logrus.New()
		discard.SetOutput(io.Discard)
		logger = discard
	}
	logger = logger.WithField("run_id", id)

	agg := NewAggregator()
	raw := cfg.Fetcher
	if raw == nil {
		raw = NewHTTPFetcher(cfg.Client, userAgent, cfg.MaxBodyBytes)
	}

	robots := cfg.Robots
	if robots == nil {
		robots = newRobotsCache(raw, cfg.RobotsTimeout, maxRedirects, logger, agg.Note)
	}
	crawlDelay := func(host string) time.Duration {
		if cfg.IgnoreRobots {
			return 0
		}
		return robots.CrawlDelay(host, userAgent)
	}
	polite := politeFetcher{next: raw, limiter: newHostLimiter(cfg.PerHostDelay, cfg.RequestsPerMinute, crawlDelay)}

	validator := cfg.Validator
	if validator == nil {
		validator = NewValidator(polite, timeout, maxRedirects)
	}
	extractor := cfg.Extractor
	if extractor == nil {
		extractor = NewExtractor(root, cfg.IncludeSubdomains)
	}

	return &Run{
		id:           id,
		root:         root,
		seeds:        seeds,
		restricted:   len(cfg.Pages) > 0,
		maxDepth:     maxDepth,
		maxWorkers:   maxWorkers,
		maxTasks:     max(cfg.MaxTasks, 0),
		runTimeout:   cfg.RunTimeout,
		timeout:      timeout,
		maxRedirects: maxRedirects,
		userAgent:    userAgent,
		ignoreRobots: cfg.IgnoreRobots,
		expandExt:    buildExpandableExtensions(cfg.ExpandExtensions),
		classifier:   hostClassifier{root: hostOf(root), includeSubdomains: cfg.IncludeSubdomains},
		fetcher:      polite,
		validator:    validator,
		extractor:    extractor,
		robots:       robots,
		frontier:     newFrontier(),
		agg:          agg,
		logger:       logger,
		progress:     cfg.Progress,
	}, nil
}

// ID returns the run identifier recorded in the report.
func (r *Run) ID() string {
	return r.id
}

// State returns the current lifecycle stage.
func (r *Run) State() State {
	return State(r.state.Load())
}

// Execute crawls until the frontier drains or a budget is exhausted. A run
// stopped by its budget still returns a report, flagged as partial. Only a
// root that cannot be reached at all is an error.
func (r *Run) Execute(ctx context.Context) (*HealthReport, error) {
	if !r.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return nil, errors.New("crawl run already started")
	}
	r.logger.WithFields(logrus.Fields{
		"root":      r.root,
		"seeds":     len(r.seeds),
		"max_depth": r.maxDepth,
		"workers":   r.maxWorkers,
	}).Info("crawl started")

	budgetCtx, cancel := ctx, context.CancelFunc(func() {})
	if r.runTimeout > 0 {
		budgetCtx, cancel = context.WithTimeout(ctx, r.runTimeout)
	}
	defer cancel()

	started := time.Now()
	for _, seed := range r.seeds {
		r.frontier.push(CrawlTask{URL: seed, Type: r.classifier.classify(seed)})
	}

	stopReason := r.dispatch(ctx, budgetCtx)
	finished := time.Now()

	stats := r.collectStats(finished.Sub(started))
	report := r.agg.Finalize(reportMeta{
		runID:      r.id,
		rootURL:    r.root,
		startedAt:  started,
		finishedAt: finished,
		partial:    stopReason != "",
		stopReason: stopReason,
		stats:      stats,
	})
	r.setState(StateCompleted)

	fields := logrus.Fields{
		"checked":  report.Summary.TotalChecked,
		"broken":   report.Summary.Broken,
		"duration": stats.Duration.String(),
	}
	if report.Partial {
		r.logger.WithFields(fields).WithField("reason", stopReason).Warn("crawl stopped early, report is partial")
	} else {
		r.logger.WithFields(fields).Info("crawl completed")
	}

	if failures := r.seedFailureReasons(); len(failures) == len(r.seeds) {
		return nil, fmt.Errorf("%w: %s: %s", ErrRootUnreachable, r.root, failures[0])
	}
	return report, nil
}

func (r *Run) setState(s State) {
	prev := State(r.state.Swap(int32(s)))
	if prev != s {
		r.logger.WithFields(logrus.Fields{"from": prev.String(), "state": s.String()}).Debug("crawl state changed")
	}
}

func (r *Run) emitProgress(u string) {
	if r.progress == nil {
		return
	}
	r.progress(u)
}
