package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"
)

// cliFlags holds the parsed command line for the processor daemon.
type cliFlags struct {
	ConfigPath string
	LogLevel   string
	LogFormat  string
	Debug      bool

	ShutdownTimeout time.Duration

	// One-shot modes, handled before the pipeline is built.
	ShowVersion    bool
	ShowHelp       bool
	Validate       bool
	PrintConfig    bool
	InitConfigPath string

	// explicit records which flags were set on the command line, so file
	// settings know when to yield.
	explicit map[string]bool
	usage    func()
}

// parseFlags reads the daemon flags from os.Args. Every option can also be
// supplied through an EDIPROC_* variable, with the flag winning when both
// are given.
func parseFlags() *cliFlags {
	cli := &cliFlags{explicit: make(map[string]bool)}
	fs := flag.NewFlagSet(appName, flag.ExitOnError)

	fs.StringVar(&cli.ConfigPath, "config", envDefault("EDIPROC_CONFIG", ""),
		"Path to configuration file, empty runs on defaults (env: EDIPROC_CONFIG)")
	fs.StringVar(&cli.ConfigPath, "c", envDefault("EDIPROC_CONFIG", ""),
		"Path to configuration file (shorthand)")
	fs.StringVar(&cli.LogLevel, "log-level", envDefault("EDIPROC_LOG_LEVEL", "info"),
		"Log level: debug, info, warn, error (env: EDIPROC_LOG_LEVEL)")
	fs.StringVar(&cli.LogFormat, "log-format", envDefault("EDIPROC_LOG_FORMAT", "json"),
		"Log format: json, text (env: EDIPROC_LOG_FORMAT)")
	fs.BoolVar(&cli.Debug, "debug", envDefaultBool("EDIPROC_DEBUG", false),
		"Force debug logging (env: EDIPROC_DEBUG)")
	fs.DurationVar(&cli.ShutdownTimeout, "shutdown-timeout", envDefaultDuration("EDIPROC_SHUTDOWN_TIMEOUT", 30*time.Second),
		"Graceful shutdown timeout (env: EDIPROC_SHUTDOWN_TIMEOUT)")

	fs.BoolVar(&cli.ShowVersion, "version", false, "Print version and exit")
	fs.BoolVar(&cli.ShowVersion, "v", false, "Print version and exit (shorthand)")
	fs.BoolVar(&cli.ShowHelp, "help", false, "Print detailed help and exit")
	fs.BoolVar(&cli.ShowHelp, "h", false, "Print detailed help and exit (shorthand)")
	fs.BoolVar(&cli.Validate, "validate", false, "Validate configuration and exit")
	fs.BoolVar(&cli.PrintConfig, "print-config", false, "Print the effective configuration, credentials redacted, and exit")
	fs.StringVar(&cli.InitConfigPath, "init-config", "", "Write the default configuration to this path and exit")

	fs.Usage = func() { printUsage(fs, os.Stderr) }
	cli.usage = fs.Usage

	// ExitOnError means a bad flag already terminated the process here.
	_ = fs.Parse(os.Args[1:])

	fs.Visit(func(f *flag.Flag) { cli.explicit[f.Name] = true })

	if cli.Debug {
		cli.LogLevel = "debug"
	}
	return cli
}

// validateFlags rejects flag values the daemon cannot start with.
func validateFlags(cli *cliFlags) error {
	if cli.ShowVersion || cli.ShowHelp {
		return nil
	}

	// A config path is optional, but one that is given must exist.
	if cli.ConfigPath != "" {
		if _, err := os.Stat(cli.ConfigPath); err != nil {
			return fmt.Errorf("config file not found: %s", cli.ConfigPath)
		}
	}

	levels := []string{"debug", "info", "warn", "error"}
	if !slices.Contains(levels, strings.ToLower(cli.LogLevel)) {
		return fmt.Errorf("unknown log level %q, expected one of %s",
			cli.LogLevel, strings.Join(levels, ", "))
	}
	formats := []string{"json", "text"}
	if !slices.Contains(formats, strings.ToLower(cli.LogFormat)) {
		return fmt.Errorf("unknown log format %q, expected one of %s",
			cli.LogFormat, strings.Join(formats, ", "))
	}

	if cli.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown timeout must be positive, got %s", cli.ShutdownTimeout)
	}
	return nil
}

const usageTrailer = `
Examples:
  # Local broker, default settings
  %[1]s

  # Custom config file
  %[1]s --config=/etc/edi-processor/config.yaml

  # Verbose text logs during development
  %[1]s --log-level=debug --log-format=text

  # Configuration through the environment
  export EDIPROC_CONFIG=/etc/edi-processor/config.yaml
  export EDIPROC_LOG_LEVEL=debug
  %[1]s

  # Check a config file without starting the pipeline
  %[1]s --config=config.yaml --validate

  # Write a starter config, then inspect the effective settings
  %[1]s --init-config=config.yaml
  %[1]s --config=config.yaml --print-config

  # Upload sample invoices and wait for the audit rows
  %[1]s seed --count=3 --wait=10s

Version: %[2]s
Build:   %[3]s
`

// printUsage writes the full help text, flag table included, to w.
func printUsage(fs *flag.FlagSet, w io.Writer) {
	prog := os.Args[0]
	_, _ = fmt.Fprintf(w, "%s - EDI file processing pipeline\n\nUsage:\n  %s [options]\n  %s seed [options]\n\nOptions:\n",
		appName, prog, prog)
	fs.SetOutput(w)
	fs.PrintDefaults()
	_, _ = fmt.Fprintf(w, usageTrailer, prog, Version, BuildTime)
}

// envDefault returns the variable's value when set and non-empty, otherwise
// the fallback.
func envDefault(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func envDefaultBool(key string, fallback bool) bool {
	if v, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return v
	}
	return fallback
}

func envDefaultDuration(key string, fallback time.Duration) time.Duration {
	if v, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return v
	}
	return fallback
}
