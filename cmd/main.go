package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"backsim/internal/config"
	"backsim/internal/data"
	"backsim/internal/engine"
	"backsim/internal/logging"
	"backsim/internal/strategy"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	AppName           = "Backtest Engine"
	AppVersion        = "1.0.0"
	DefaultConfigPath = "./config.json"
)

var (
	configPath  = flag.String("config", DefaultConfigPath, "Path to configuration file")
	debugMode   = flag.Bool("debug", false, "Enable debug mode")
	version     = flag.Bool("version", false, "Show version information")
	dataDir     = flag.String("data-dir", "", "Override data directory")
	symbolsFlag = flag.String("symbols", "", "Comma-separated symbols to backtest")
	startFlag   = flag.String("start", "", "Start date (YYYY-MM-DD)")
	endFlag     = flag.String("end", "", "End date (YYYY-MM-DD)")
	metricsAddr = flag.String("metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")

	fastPeriod = flag.Int("fast", 10, "Fast SMA period")
	slowPeriod = flag.Int("slow", 30, "Slow SMA period")
	quantity   = flag.Float64("quantity", 1.0, "Order quantity per signal")
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("%s v%s\n", AppName, AppVersion)
		os.Exit(0)
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "backtest failed: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	applyFlags(cfg)

	logging.InitGlobalLogger(cfg.Logging)
	logger := logging.NewComponentLogger("main")
	logger.Infof("%s v%s starting", AppName, AppVersion)

	if *metricsAddr != "" {
		go serveMetrics(*metricsAddr, logger)
	}

	loader := data.NewLoader(cfg.Backtest.DataDirectory, logging.NewComponentLogger("data"))
	series, err := loader.LoadSymbols(cfg.Backtest.Symbols, cfg.Backtest.StartTime, cfg.Backtest.EndTime)
	if err != nil {
		return err
	}

	strat := strategy.NewSMACross(*fastPeriod, *slowPeriod, *quantity)
	eng := engine.NewEngine(cfg, strat, series, logger)

	results, err := eng.Run()
	if err != nil {
		return err
	}

	if err := results.SaveResults(cfg.Backtest.ResultsDirectory, cfg.Backtest.ExportTrades); err != nil {
		return fmt.Errorf("failed to save results: %w", err)
	}
	logger.Infof("Results saved to %s", cfg.Backtest.ResultsDirectory)
	return nil
}

// applyFlags applies command-line overrides on top of the loaded config
func applyFlags(cfg *config.Config) {
	if *debugMode {
		cfg.App.Debug = true
		cfg.Logging.Level = "debug"
	}
	if *dataDir != "" {
		cfg.Backtest.DataDirectory = *dataDir
	}
	if *symbolsFlag != "" {
		cfg.Backtest.Symbols = strings.Split(*symbolsFlag, ",")
	}
	if *startFlag != "" {
		if t, err := time.Parse("2006-01-02", *startFlag); err == nil {
			cfg.Backtest.StartTime = t
		}
	}
	if *endFlag != "" {
		if t, err := time.Parse("2006-01-02", *endFlag); err == nil {
			cfg.Backtest.EndTime = t.Add(24*time.Hour - time.Second)
		}
	}
}

// serveMetrics exposes /metrics in Prometheus text format
func serveMetrics(addr string, logger *logging.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	logger.Infof("Serving metrics on %s/metrics", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Errorf("metrics server stopped: %v", err)
	}
}
