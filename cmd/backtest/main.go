// Command backtest runs one strategy over one basket of NSE/BSE symbols and
// writes the report artifacts (summary.json, consolidated trades, equity
// curves, key metrics) to REPORT_DIR.
//
// Exit codes: 0 success, 1 config error, 2 every symbol in the basket
// failed, 3 internal exception.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/atlas-quant/nifty-backtester/internal/config"
	"github.com/atlas-quant/nifty-backtester/internal/data"
	"github.com/atlas-quant/nifty-backtester/internal/orchestrator"
	"github.com/atlas-quant/nifty-backtester/internal/report"
	"github.com/atlas-quant/nifty-backtester/internal/strategy"
	"github.com/atlas-quant/nifty-backtester/internal/telemetry"
	"github.com/atlas-quant/nifty-backtester/pkg/types"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	logger := setupLogger(getEnvOrDefault("LOG_LEVEL", "info"))
	defer logger.Sync()

	cfg, err := config.Parse(args)
	if err != nil {
		logger.Error("configuration error", zap.Error(err))
		return exitCodeFor(err)
	}

	basket, err := data.LoadBasket(cfg.BasketFile)
	if err != nil {
		logger.Error("failed to load basket file", zap.Error(err))
		return 1
	}

	logger.Info("starting backtest run",
		zap.String("strategy", cfg.Strategy),
		zap.String("basket_file", cfg.BasketFile),
		zap.Int("symbols", len(basket)),
		zap.String("interval", cfg.Interval),
		zap.Int("workers", cfg.Workers),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Warn("received shutdown signal, cancelling run")
		cancel()
	}()

	recorder, reg := telemetry.NewRecorder()
	if cfg.MetricsAddr != "" {
		go telemetry.Serve(ctx, logger, cfg.MetricsAddr, reg)
	}

	registry := strategy.NewRegistry(logger)
	loader := data.NewLoader(logger, cfg.DataCacheDir)

	opts := []orchestrator.Option{
		orchestrator.WithWorkers(cfg.Workers),
		orchestrator.WithSkipValidate(cfg.NoValidate),
		orchestrator.WithSharedCapital(cfg.SharedCapital),
	}
	if cfg.BenchmarkFile != "" {
		benchmark, err := loader.Load(cfg.BenchmarkFile)
		if err != nil {
			logger.Warn("benchmark series unavailable, alpha/beta will be omitted", zap.Error(err))
		} else {
			opts = append(opts, orchestrator.WithBenchmark(benchmark))
		}
	}
	orc := orchestrator.New(logger, registry, cfg.Broker, opts...)

	basketName := basketNameFromPath(cfg.BasketFile)
	runStart := time.Now()
	result, runErr := orc.Run(ctx, cfg.Strategy, basketName, cfg.Interval, basket, loader.Load)
	if runErr != nil {
		recorder.RecordRun(false, time.Since(runStart))
		logger.Error("run failed", zap.Error(runErr))
		return exitCodeFor(runErr)
	}
	recorder.RecordRun(true, time.Since(runStart))
	for _, er := range result.EngineResults {
		recorder.RecordSymbol(!er.Failed())
	}
	recorder.AddValidationWarnings(len(result.Summary.ValidationIssues))

	dirName := report.RunDirName(result.Summary.StartedAt, cfg.Strategy, basketName, cfg.Interval)
	outDir := fmt.Sprintf("%s/%s", cfg.ReportDir, dirName)

	writer, err := report.NewWriter(outDir)
	if err != nil {
		logger.Error("failed to create report writer", zap.Error(err))
		return 3
	}
	if err := writer.WriteAll(result); err != nil {
		logger.Error("failed to write report artifacts", zap.Error(err))
		return 3
	}

	logger.Info("run complete",
		zap.String("run_id", result.Summary.RunID),
		zap.Int("success", result.Summary.SuccessCount),
		zap.Int("failed", result.Summary.FailureCount),
		zap.String("report_dir", outDir),
	)
	return 0
}

// exitCodeFor maps a tagged RunError to the CLI's documented exit codes.
// Anything that isn't a *types.RunError is treated as an internal exception.
func exitCodeFor(err error) int {
	var runErr *types.RunError
	if errors.As(err, &runErr) {
		switch runErr.Kind {
		case types.ConfigErrorKind:
			return 1
		case types.EngineErrorKind:
			return 2
		default:
			return 3
		}
	}
	return 3
}

func basketNameFromPath(path string) string {
	base := path
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			base = path[i+1:]
			break
		}
	}
	for i := len(base) - 1; i >= 0; i-- {
		if base[i] == '.' {
			return base[:i]
		}
	}
	return base
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func setupLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Encoding:    "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	return logger
}
