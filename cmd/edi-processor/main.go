// Package main implements the EDI file processor daemon.
//
// The processor watches a NATS object store bucket for uploaded EDI files,
// publishes one creation event per file into JetStream and records a durable
// audit row for every delivery. A Prometheus endpoint and a WebSocket audit
// feed run alongside the pipeline. The seed subcommand uploads sample
// invoices so a fresh deployment has traffic to process.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"syscall"

	"github.com/itsBaivab/edi-file-processor/config"
	"github.com/itsBaivab/edi-file-processor/service"
)

const appName = "edi-processor"

// Version and BuildTime identify the binary. Release builds override both
// through -ldflags "-X main.Version=... -X main.BuildTime=...".
var (
	Version   = "0.4.0"
	BuildTime = "unknown"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			_, _ = fmt.Fprintf(os.Stderr, "panic: %v\n%s", r, debug.Stack())
			os.Exit(2)
		}
	}()

	if len(os.Args) > 1 && os.Args[1] == "seed" {
		if err := runSeed(os.Args[2:]); err != nil {
			slog.Error("Seeding failed", "error", err)
			os.Exit(1)
		}
		return
	}

	if err := run(); err != nil {
		slog.Error("Processor failed", "error", err)
		os.Exit(1)
	}
}

// run owns the daemon lifecycle from flag parsing to shutdown. The one-shot
// modes (version, help, init-config, print-config, validate) return before
// the pipeline is built.
func run() error {
	cli := parseFlags()
	if err := validateFlags(cli); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	if cli.ShowVersion {
		fmt.Printf("%s %s (built %s, %s)\n", appName, Version, BuildTime, runtime.Version())
		return nil
	}
	if cli.ShowHelp {
		cli.usage()
		return nil
	}

	logger := buildLogger(cli.LogLevel, cli.LogFormat)
	slog.SetDefault(logger)
	slog.Info("Starting EDI file processor", "version", Version, "build", BuildTime, "config", cli.ConfigPath)

	if cli.InitConfigPath != "" {
		if err := config.Defaults().WriteFile(cli.InitConfigPath); err != nil {
			return fmt.Errorf("write starter config: %w", err)
		}
		slog.Info("Wrote default configuration", "path", cli.InitConfigPath)
		return nil
	}

	cfg, err := loadConfig(cli.ConfigPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger = applyConfigLogging(cli, cfg, logger)

	if cli.PrintConfig {
		fmt.Println(cfg.String())
		return nil
	}
	if cli.Validate {
		slog.Info("Configuration valid", "path", cli.ConfigPath)
		return nil
	}

	rt, err := service.NewRuntime(cfg, logger)
	if err != nil {
		return fmt.Errorf("build runtime: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rt.Run(ctx, cli.ShutdownTimeout); err != nil {
		return fmt.Errorf("run pipeline: %w", err)
	}

	slog.Info("Shutdown complete")
	return nil
}

// loadConfig layers the optional config file over the defaults. An empty
// path runs on defaults plus EDIPROC_* environment overrides, which is
// enough for a local broker on the standard port.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Load()
	}
	return config.Load(path)
}

// applyConfigLogging rebuilds the logger from the config file's log section
// unless the corresponding CLI flags were set explicitly. Flags win over
// file settings so operators can always crank verbosity without edits.
func applyConfigLogging(cli *cliFlags, cfg *config.Config, logger *slog.Logger) *slog.Logger {
	level := cli.LogLevel
	format := cli.LogFormat

	if !cli.explicit["log-level"] && !cli.explicit["debug"] && cfg.Log.Level != "" {
		level = cfg.Log.Level
	}
	if !cli.explicit["log-format"] && cfg.Log.Format != "" {
		format = cfg.Log.Format
	}

	if level == cli.LogLevel && format == cli.LogFormat {
		return logger
	}

	logger = buildLogger(level, format)
	slog.SetDefault(logger)
	return logger
}
