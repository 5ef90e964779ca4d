// Command flows retrieves the FII/DII activity table from the configured
// sources, normalizes it to the nine canonical columns, and writes the
// dashboard upload file.
//
// Usage:
//
//	flows -config configs/fii_dii.json [-out fii_dii.csv] [-xlsx fii_dii.xlsx]
//	      [-columns columns.json] [-metrics-backend none|datadog|pushgateway]
//	      [-pushgateway-url URL] [-validate] [-v]
//
// Exit codes: 0 success, 1 runtime failure, 2 usage or configuration error.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"marketflows/internal/config"
	"marketflows/internal/logging"
	"marketflows/internal/metrics"
	"marketflows/internal/metrics/datadog"
	"marketflows/internal/metrics/prompush"
	"marketflows/internal/pipeline"

	// register all backends with the storage factory.
	_ "marketflows/internal/storage/all"
)

const defaultPushgatewayURL = "http://localhost:9091"

// runner is the part of *pipeline.Runner the command drives.
type runner interface {
	Run(ctx context.Context) (pipeline.Result, error)
	Close()
}

// metricsConfig is the resolved metrics selection (flag, then env).
type metricsConfig struct {
	Backend        string
	PushgatewayURL string
	Tags           []string
}

// appDeps are the side-effecting collaborators of runMain; tests replace them.
type appDeps struct {
	readFile    func(path string) ([]byte, error)
	loadEnv     func() (config.Env, error)
	initMetrics func(ctx context.Context, logger *slog.Logger, job string, mc metricsConfig) (func(), error)
	newRunner   func(ctx context.Context, p config.Pipeline, opt pipeline.BuildOptions) (runner, error)
}

func defaultDeps() appDeps {
	return appDeps{
		readFile:    os.ReadFile,
		loadEnv:     config.LoadEnv,
		initMetrics: initMetrics,
		newRunner: func(ctx context.Context, p config.Pipeline, opt pipeline.BuildOptions) (runner, error) {
			return pipeline.Build(ctx, p, opt)
		},
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := runMain(ctx, os.Args[1:], os.Stdout, os.Stderr, defaultDeps())
	stop()
	os.Exit(code)
}

func runMain(ctx context.Context, args []string, stdout, stderr io.Writer, deps appDeps) int {
	fs := flag.NewFlagSet("flows", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		cfgPath        string
		columnsPath    string
		outCSV         string
		outXLSX        string
		metricsBackend string
		pushGatewayURL string
		validateOnly   bool
		verbose        bool
		headful        bool
	)
	fs.StringVar(&cfgPath, "config", "", "pipeline config JSON path (required)")
	fs.StringVar(&columnsPath, "columns", "", "column map JSON (overrides config column_map)")
	fs.StringVar(&outCSV, "out", "", "CSV output path (overrides config output.csv)")
	fs.StringVar(&outXLSX, "xlsx", "", "Excel output path (overrides config output.xlsx)")
	fs.StringVar(&metricsBackend, "metrics-backend", "", "metrics backend: none, datadog or pushgateway (env METRICS_BACKEND)")
	fs.StringVar(&pushGatewayURL, "pushgateway-url", "", "Pushgateway base URL (env PUSHGATEWAY_URL)")
	fs.BoolVar(&validateOnly, "validate", false, "validate the configuration and exit")
	fs.BoolVar(&verbose, "v", false, "debug logging")
	fs.BoolVar(&headful, "headful", false, "show the browser window for browser sources")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if strings.TrimSpace(cfgPath) == "" {
		fmt.Fprintln(stderr, "usage: flows -config <pipeline.json> [flags]")
		fs.PrintDefaults()
		return 2
	}

	env, err := deps.loadEnv()
	if err != nil {
		fmt.Fprintf(stderr, "environment: %v\n", err)
		return 2
	}
	level := env.LogLevel
	if verbose {
		level = "debug"
	}
	logger, err := logging.New(stderr, level, env.LogFormat)
	if err != nil {
		fmt.Fprintf(stderr, "logging: %v\n", err)
		return 2
	}

	raw, err := deps.readFile(cfgPath)
	if err != nil {
		fmt.Fprintf(stderr, "read config: %v\n", err)
		return 2
	}
	p, err := config.Decode(raw)
	if err != nil {
		fmt.Fprintf(stderr, "parse config: %v\n", err)
		return 2
	}
	config.ApplyEnv(&p, env)
	if columnsPath != "" {
		p.ColumnMap = columnsPath
	}
	if outCSV != "" {
		p.Output.CSV = outCSV
	}
	if outXLSX != "" {
		p.Output.XLSX = outXLSX
	}

	issues := config.ValidatePipeline(p)
	for _, iss := range issues {
		fmt.Fprintln(stderr, iss.String())
	}
	if config.HasErrors(issues) {
		fmt.Fprintf(stderr, "configuration is invalid: %s\n", cfgPath)
		return 2
	}
	if validateOnly {
		fmt.Fprintf(stdout, "configuration is valid: %s\n", cfgPath)
		return 0
	}

	if d := p.RunTimeout(); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	ctx = logging.WithJob(ctx, p.Job)

	mc := metricsConfig{
		Backend:        firstNonEmpty(metricsBackend, env.MetricsBackend),
		PushgatewayURL: firstNonEmpty(pushGatewayURL, env.PushgatewayURL, defaultPushgatewayURL),
		Tags:           datadog.ParseTagsCSV(env.MetricsTags),
	}
	cleanup, err := deps.initMetrics(ctx, logger, p.Job, mc)
	if err != nil {
		fmt.Fprintf(stderr, "init metrics: %v\n", err)
		return 1
	}
	defer cleanup()

	r, err := deps.newRunner(ctx, p, pipeline.BuildOptions{Logger: logger, Headful: headful})
	if err != nil {
		logger.ErrorContext(ctx, "setup failed", "err", err)
		return 1
	}
	defer r.Close()

	start := time.Now()
	res, err := r.Run(ctx)
	if err != nil {
		logger.ErrorContext(ctx, "run failed", "err", err)
		if errors.Is(err, context.DeadlineExceeded) {
			fmt.Fprintf(stderr, "run: timed out after %s\n", p.Runtime.Timeout)
		} else {
			fmt.Fprintf(stderr, "run: %v\n", err)
		}
		return 1
	}

	fmt.Fprintf(stdout, "source=%s records=%d degraded=%d stored=%d\n",
		res.Source, len(res.Records), res.Report.DegradedTotal(), res.Stored)
	logger.DebugContext(ctx, "completed", "elapsed", time.Since(start).Truncate(time.Millisecond))
	return 0
}

func firstNonEmpty(vs ...string) string {
	for _, v := range vs {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

// metricsBackend is what cleanup needs from a constructed backend.
type metricsBackend interface {
	Close() error
}

// Seams for initMetrics tests.
var (
	newDatadogBackend = func(ctx context.Context, opts datadog.Options) (metricsBackend, error) {
		b, err := datadog.NewBackend(ctx, opts)
		if err != nil {
			return nil, err
		}
		metrics.SetBackend(b)
		return b, nil
	}
	newPushBackend = func(job, url string) (metricsBackend, error) {
		b, err := prompush.NewBackend(job, url)
		if err != nil {
			return nil, err
		}
		metrics.SetBackend(b)
		return pushCloser{b}, nil
	}
)

// pushCloser pushes once at shutdown.
type pushCloser struct{ b *prompush.Backend }

func (c pushCloser) Close() error { return c.b.Flush() }

// initMetrics installs the selected backend and returns its cleanup, which
// is never nil. The datadog backend flushes periodically and on cleanup; the
// pushgateway backend pushes once on cleanup. Close errors go to logger.
func initMetrics(ctx context.Context, logger *slog.Logger, job string, mc metricsConfig) (func(), error) {
	noop := func() {}
	if job == "" {
		job = "fii_dii"
	}

	var (
		b    metricsBackend
		err  error
		name string
	)
	switch strings.ToLower(mc.Backend) {
	case "", "none", "noop":
		return noop, nil
	case "datadog", "dd":
		name = "datadog"
		b, err = newDatadogBackend(ctx, datadog.Options{
			JobName:    job,
			Tags:       mc.Tags,
			FlushEvery: 60 * time.Second,
		})
	case "pushgateway", "prometheus":
		name = "pushgateway"
		b, err = newPushBackend(job, mc.PushgatewayURL)
	default:
		return noop, fmt.Errorf("unknown metrics backend %q (want none|datadog|pushgateway)", mc.Backend)
	}
	if err != nil {
		return noop, fmt.Errorf("%s: %w", name, err)
	}

	logger.DebugContext(ctx, "metrics enabled", "backend", name)
	return func() {
		if err := b.Close(); err != nil {
			logger.WarnContext(ctx, "metrics close failed", "backend", name, "err", err)
		}
	}, nil
}
