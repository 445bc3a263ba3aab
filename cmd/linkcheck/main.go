package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rodaine/table"
	"github.com/sirupsen/logrus"

	"linkhealth/internal/crawler"
	"linkhealth/internal/export"
	"linkhealth/internal/logging"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "linkcheck: load .env: %v\n", err)
		os.Exit(1)
	}

	var cli CLI
	parser, err := newParser(&cli)
	if err != nil {
		fmt.Fprintf(os.Stderr, "linkcheck: %v\n", err)
		os.Exit(1)
	}
	_, err = parser.Parse(os.Args[1:])
	parser.FatalIfErrorf(err)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, &cli, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "linkcheck: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, cli *CLI, stdout, stderr io.Writer) error {
	cfg, err := cli.resolveConfig()
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format, stderr)
	if err != nil {
		return err
	}

	crawlCfg := cfg.CrawlerConfig(cli.URL, cli.Pages)
	crawlCfg.Logger = logger
	crawlCfg.Progress = func(u string) {
		logger.WithField("url", u).Debug("checking")
	}

	report, err := crawler.Crawl(ctx, crawlCfg)
	if err != nil {
		return err
	}
	if err := report.Incomplete(); err != nil {
		logger.WithError(err).Warn("run stopped early; report is partial")
	}

	printReport(stdout, report)

	if cfg.Export.Path != "" {
		if err := export.WriteFile(cfg.Export.Path, report); err != nil {
			return err
		}
		logger.WithFields(logrus.Fields{
			"path":    cfg.Export.Path,
			"entries": len(report.Entries),
		}).Info("report exported")
	}
	return nil
}

func printReport(w io.Writer, report *crawler.HealthReport) {
	s := report.Summary
	fmt.Fprintf(w, "Root:        %s\n", report.RootURL)
	fmt.Fprintf(w, "Checked:     %d (%d ok, %d broken, %d timeouts)\n", s.TotalChecked, s.OK, s.Broken, s.Timeouts)
	fmt.Fprintf(w, "Links:       %.1f%% internal, %.1f%% external\n", s.InternalPercent, s.ExternalPercent)
	fmt.Fprintf(w, "Skipped:     %d by robots.txt, %d other\n", s.ExcludedByRobots, s.Skipped)
	fmt.Fprintf(w, "Pages:       %d expanded\n", s.PagesExpanded)
	fmt.Fprintf(w, "Avg latency: %.1f ms\n", s.AverageResponseMS)
	fmt.Fprintf(w, "Duration:    %s\n", report.Stats.Duration.Round(time.Millisecond))
	if report.Partial {
		fmt.Fprintf(w, "Partial:     %s (%d pending)\n", report.StopReason, s.Pending)
	}

	broken := report.BrokenLinks()
	if len(broken) == 0 {
		fmt.Fprintln(w, "\nNo broken links found.")
		return
	}
	fmt.Fprintln(w)
	tbl := table.New("URL", "Status", "Code", "Sources").WithWriter(w)
	for _, entry := range broken {
		code := "-"
		if entry.StatusCode > 0 {
			code = strconv.Itoa(entry.StatusCode)
		}
		tbl.AddRow(entry.URL, entry.Status, code, strings.Join(entry.SourcePages, ", "))
	}
	tbl.Print()
}
