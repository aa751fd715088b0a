package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/aluiziolira/go-stay-rates/config"
	"github.com/aluiziolira/go-stay-rates/models"
	"github.com/aluiziolira/go-stay-rates/parser"
	"github.com/aluiziolira/go-stay-rates/pipeline"
	"github.com/aluiziolira/go-stay-rates/scraper"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type options struct {
	configFile   string
	listingsFile string
}

func main() {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
		os.Exit(1)
	}

	cfg, opts, listingArgs, err := parseFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(2)
	}

	logger, level := newLogger(cfg.Verbose)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	listingIDs, err := collectListingIDs(listingArgs, opts.listingsFile)
	if err != nil {
		slog.Error("reading listings", slog.Any("error", err))
		os.Exit(1)
	}
	if len(listingIDs) == 0 {
		slog.Error("no listing ids given; pass them as arguments or with -listings")
		os.Exit(2)
	}

	slog.Info("starting discovery",
		slog.Int("listings", len(listingIDs)),
		slog.Int("workers", cfg.Parallelism),
		slog.String("currency", cfg.Currency),
		slog.Bool("full_data", cfg.FullData),
	)

	s, err := scraper.NewScraper(cfg)
	if err != nil {
		slog.Error("initialising scraper", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received, waiting for in-flight work to finish")
	}()

	writer, err := createWriter(ctx, cfg)
	if err != nil {
		slog.Error("creating writer", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := writer.Close(); err != nil {
			slog.Error("close writer", slog.Any("error", err))
		}
	}()

	var metricsServer *http.Server
	if cfg.MetricsAddr != "" && s.Metrics != nil {
		metricsServer = &http.Server{
			Addr:    cfg.MetricsAddr,
			Handler: promhttp.HandlerFor(s.Metrics.Registry, promhttp.HandlerOpts{}),
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server failed", slog.Any("error", err))
			}
		}()
		slog.Info("metrics server enabled", slog.String("addr", cfg.MetricsAddr))
	}

	p := pipeline.NewPipeline(context.Background(), writer, cfg)
	p.Start(1)
	if cfg.Verbose {
		p.StartMetricsReporting(10 * time.Second)
	}

	result, err := s.Run(ctx, listingIDs, p)
	if err != nil {
		slog.Error("discovery failed", slog.Any("error", err))
		os.Exit(1)
	}

	if err := p.Close(); err != nil {
		slog.Error("pipeline shutdown failed", slog.Any("error", err))
		os.Exit(1)
	}

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown failed", slog.Any("error", err))
		}
		cancel()
	}

	printSummary(os.Stdout, result, outputTarget(cfg), p.GetMetrics())

	if err := writer.Validate(); err != nil {
		slog.Error("output validation failed", slog.Any("error", err))
		os.Exit(1)
	}
}

// parseFlags layers configuration: defaults, then the YAML file given with
// -config, then STAYRATES_* variables, then flags set explicitly on the
// command line. The remaining arguments are returned as listing ids.
func parseFlags(fs *flag.FlagSet, args []string) (*config.Config, options, []string, error) {
	var opts options
	defaults := config.DefaultConfig()

	fs.StringVar(&opts.configFile, "config", "", "YAML configuration file")
	fs.StringVar(&opts.listingsFile, "listings", "", "File with one listing id or URL per line")
	apiKey := fs.String("api-key", "", "API key sent with every request")
	baseURL := fs.String("base-url", defaults.BaseURL, "Upstream API base URL")
	proxyURL := fs.String("proxy-url", "", "CORS proxy prefixed to every request")
	proxyKey := fs.String("proxy-api-key", "", "API key for the CORS proxy")
	currency := fs.String("currency", defaults.Currency, "Pricing currency")
	locale := fs.String("locale", defaults.Locale, "Response locale")
	months := fs.Int("months", defaults.CalendarMonths, "Calendar months to fetch")
	parallelism := fs.Int("parallel", defaults.Parallelism, "Number of listings discovered concurrently")
	maxAttempts := fs.Int("max-attempts", defaults.MaxAttempts, "Attempts per upstream request")
	timeout := fs.Duration("timeout", defaults.Timeout, "Per-request timeout")
	cooldown := fs.Duration("cooldown", defaults.OutageCooldown, "Pause after a network outage before trying the next date range")
	fullData := fs.Bool("full", false, "Keep every priced stay length instead of a condensed summary")
	outputFile := fs.String("output", defaults.OutputFile, "Output file path")
	outputFormat := fs.String("format", defaults.OutputFormat, "Output format: csv, json, dual, merge, or postgres")
	databaseURL := fs.String("database-url", "", "PostgreSQL connection string for -format postgres")
	metricsAddr := fs.String("metrics-addr", "", "Prometheus metrics listen address (e.g. :9090)")
	verbose := fs.Bool("v", false, "Enable verbose logging")

	if err := fs.Parse(args); err != nil {
		return nil, opts, nil, err
	}

	cfg := defaults
	if opts.configFile != "" {
		loaded, err := config.LoadFile(opts.configFile)
		if err != nil {
			return nil, opts, nil, err
		}
		cfg = loaded
	}
	if err := config.ApplyEnv(cfg); err != nil {
		return nil, opts, nil, fmt.Errorf("environment: %w", err)
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "api-key":
			cfg.APIKey = *apiKey
		case "base-url":
			cfg.BaseURL = *baseURL
		case "proxy-url":
			cfg.ProxyURL = *proxyURL
		case "proxy-api-key":
			cfg.ProxyAPIKey = *proxyKey
		case "currency":
			cfg.Currency = strings.ToUpper(*currency)
		case "locale":
			cfg.Locale = *locale
		case "months":
			cfg.CalendarMonths = *months
		case "parallel":
			cfg.Parallelism = *parallelism
		case "max-attempts":
			cfg.MaxAttempts = *maxAttempts
		case "timeout":
			cfg.Timeout = *timeout
		case "cooldown":
			cfg.OutageCooldown = *cooldown
		case "full":
			cfg.FullData = *fullData
		case "output":
			cfg.OutputFile = *outputFile
		case "format":
			cfg.OutputFormat = strings.ToLower(*outputFormat)
		case "database-url":
			cfg.DatabaseURL = *databaseURL
		case "metrics-addr":
			cfg.MetricsAddr = *metricsAddr
		case "v":
			cfg.Verbose = *verbose
		}
	})

	return cfg, opts, fs.Args(), nil
}

// collectListingIDs merges positional ids with those read from path,
// normalizing listing URLs and dropping duplicates while keeping order.
func collectListingIDs(args []string, path string) ([]string, error) {
	raw := append([]string(nil), args...)
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open listings file: %w", err)
		}
		defer f.Close()
		fromFile, err := readListings(f)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		raw = append(raw, fromFile...)
	}

	seen := make(map[string]bool, len(raw))
	ids := make([]string, 0, len(raw))
	for _, r := range raw {
		id := parser.NormalizeListingID(r)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids, nil
}

func readListings(r io.Reader) ([]string, error) {
	var out []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if i := strings.Index(line, "#"); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return out, scanner.Err()
}

func createWriter(ctx context.Context, cfg *config.Config) (pipeline.OutputWriter, error) {
	switch cfg.OutputFormat {
	case "json":
		return pipeline.NewJSONWriter(cfg.OutputFile)
	case "csv":
		return pipeline.NewCSVWriter(cfg.OutputFile)
	case "dual":
		return pipeline.NewDualWriter(cfg.OutputFile, dualJSONPath(cfg.OutputFile))
	case "merge":
		return pipeline.NewMergeWriter(cfg.OutputFile)
	case "postgres":
		connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		return pipeline.NewPostgresWriter(connectCtx, cfg.DatabaseURL)
	default:
		return nil, fmt.Errorf("unsupported format: %s", cfg.OutputFormat)
	}
}

func dualJSONPath(csvPath string) string {
	return strings.TrimSuffix(csvPath, filepath.Ext(csvPath)) + ".jsonl"
}

func outputTarget(cfg *config.Config) string {
	switch cfg.OutputFormat {
	case "postgres":
		return "postgres:listing_rates"
	case "dual":
		return cfg.OutputFile + ", " + dualJSONPath(cfg.OutputFile)
	default:
		return cfg.OutputFile
	}
}

func printSummary(w io.Writer, result *models.RunResult, output string, metrics map[string]interface{}) {
	separator := "--------------------------------------------------"
	fmt.Fprintln(w, "\n"+separator)
	fmt.Fprintln(w, "Discovery complete")

	records := int64(0)
	if processed, ok := metrics["processed_records"].(int64); ok {
		records = processed
	}
	duration := result.EndTime.Sub(result.StartTime)

	fmt.Fprintf(w, "  Listings:      %d\n", result.ListingCount)
	fmt.Fprintf(w, "  Priced:        %d\n", result.PricedCount)
	fmt.Fprintf(w, "  Records:       %d\n", records)
	fmt.Fprintf(w, "  Errors:        %d\n", result.ErrorCount)
	fmt.Fprintf(w, "  Requests:      %d\n", result.RequestCount)
	fmt.Fprintf(w, "  Retries:       %d\n", result.RetryCount)
	if len(result.FailedListings) > 0 {
		fmt.Fprintf(w, "  Failed:        %s\n", strings.Join(result.FailedListings, ", "))
	}
	if len(result.ErrorsByType) > 0 {
		fmt.Fprintf(w, "  Error types:   %v\n", result.ErrorsByType)
	}
	if valErrors, ok := metrics["validation_errors"].(map[string]int); ok && len(valErrors) > 0 {
		fmt.Fprintf(w, "  Validation:    %v\n", valErrors)
	}
	fmt.Fprintf(w, "  Duration:      %v\n", duration.Round(time.Millisecond))
	fmt.Fprintf(w, "  Output:        %s\n", output)
	fmt.Fprintln(w, separator)
}

func newLogger(verbose bool) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	var handler slog.Handler
	if isTerminal(os.Stderr) {
		handler = tint.NewHandler(os.Stderr, &tint.Options{
			Level:       level,
			TimeFormat:  time.Kitchen,
			ReplaceAttr: renameCritical,
		})
	} else {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level:       level,
			ReplaceAttr: renameCritical,
		})
	}

	return slog.New(handler), level
}

// renameCritical prints scraper.LevelCritical as CRITICAL instead of ERROR+4.
func renameCritical(_ []string, a slog.Attr) slog.Attr {
	if a.Key != slog.LevelKey {
		return a
	}
	if level, ok := a.Value.Any().(slog.Level); ok && level >= scraper.LevelCritical {
		a.Value = slog.StringValue("CRITICAL")
	}
	return a
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
