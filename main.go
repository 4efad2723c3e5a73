package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"runtime"
	"runtime/pprof"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/jmccarv/ciphersolve/internal/config"
	"github.com/jmccarv/ciphersolve/internal/logging"
	"github.com/jmccarv/ciphersolve/internal/workpool"
)

var (
	configFile  string
	envFile     string
	logLevel    string
	logFormat   string
	logFile     string
	maxParallel int
	metricsAddr string
	cpuprofile  string
	memprofile  string
)

// app is the state shared by the subcommands once the root has set it up.
var app struct {
	cfg     config.Config
	logger  *slog.Logger
	pool    *workpool.Pool
	closers []io.Closer
	metrics *http.Server
	cpuFile *os.File
}

var rootCmd = &cobra.Command{
	Use:   "ciphersolve",
	Short: "Solve homophonic substitution ciphers with a character n-gram model",
	Long: `ciphersolve builds a character n-gram language model from a directory of
plain text files and uses it to search for the key of substitution ciphers,
by simulated annealing or Gibbs sampling.

Settings come from built-in defaults, then --config (YAML or JSON), then
CIPHERSOLVE_* environment variables (a .env file is read first), then flags.`,
	SilenceUsage:       true,
	PersistentPreRunE:  setup,
	PersistentPostRunE: teardown,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configFile, "config", "", "YAML or JSON settings file")
	pf.StringVar(&envFile, "env-file", ".env", "Environment file loaded before CIPHERSOLVE_* variables are read")
	pf.StringVar(&logLevel, "log-level", "", "debug, info, warn or error")
	pf.StringVar(&logFormat, "log-format", "", "auto, text or json")
	pf.StringVar(&logFile, "log-file", "", "Also write JSON logs to this file")
	pf.IntVarP(&maxParallel, "parallel", "p", 0, "Number of worker goroutines (default twice the CPU count)")
	pf.StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")
	pf.StringVar(&cpuprofile, "cpuprofile", "", "Write cpu profile to 'file'")
	pf.StringVar(&memprofile, "memprofile", "", "Write memory profile to 'file'")

	rootCmd.AddCommand(solveCmd, modelCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func setup(cmd *cobra.Command, _ []string) error {
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load %s: %w", envFile, err)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	app.cfg = cfg

	logger, closer, err := logging.New(cfg.Logging, os.Stderr)
	if err != nil {
		return err
	}
	app.logger = logger
	app.closers = append(app.closers, closer)
	slog.SetDefault(logger)

	app.pool = workpool.New(cfg.Workers)

	if metricsAddr != "" {
		startMetrics(metricsAddr)
	}

	if cpuprofile != "" {
		f, err := os.Create(cpuprofile)
		if err != nil {
			return fmt.Errorf("could not create CPU profile: %w", err)
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			f.Close()
			return fmt.Errorf("could not start CPU profile: %w", err)
		}
		app.cpuFile = f
	}
	return nil
}

// loadConfig reads the file and environment settings, lays the flags the
// user set over them and only then validates, so a flag can correct a bad
// value from the file or environment.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Read(configFile)
	if err != nil {
		return cfg, err
	}
	if err := applyFlags(cmd, &cfg); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyFlags copies flags the user set over the loaded configuration.
func applyFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.Logging.Level = logLevel
	}
	if flags.Changed("log-format") {
		cfg.Logging.Format = logFormat
	}
	if flags.Changed("log-file") {
		cfg.Logging.File = logFile
	}
	if flags.Changed("parallel") {
		cfg.Workers = max(maxParallel, 1)
	}
	return applyModelFlags(cmd, cfg)
}

func startMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	app.metrics = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := app.metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.logger.Error("metrics server stopped", "addr", addr, "error", err)
		}
	}()
	app.logger.Info("serving metrics", "addr", addr)
}

func teardown(*cobra.Command, []string) error {
	var errs []error
	if app.cpuFile != nil {
		pprof.StopCPUProfile()
		errs = append(errs, app.cpuFile.Close())
	}
	if memprofile != "" {
		errs = append(errs, writeHeapProfile(memprofile))
	}
	if app.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		errs = append(errs, app.metrics.Shutdown(ctx))
		cancel()
	}
	for _, c := range app.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

func writeHeapProfile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("could not create memory profile: %w", err)
	}
	defer f.Close()
	runtime.GC() // get up-to-date statistics
	if err := pprof.WriteHeapProfile(f); err != nil {
		return fmt.Errorf("could not write memory profile: %w", err)
	}
	return nil
}
