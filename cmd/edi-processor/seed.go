package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/itsBaivab/edi-file-processor/auditstore"
	"github.com/itsBaivab/edi-file-processor/config"
	"github.com/itsBaivab/edi-file-processor/natsclient"
	"github.com/itsBaivab/edi-file-processor/objectstore"
)

const (
	seedTimeout    = 60 * time.Second
	seedConcurrent = 4
	seedKeyPrefix  = "invoices"
)

// seedOptions holds flags for the seed subcommand.
type seedOptions struct {
	ConfigPath string
	Dir        string
	Count      int
	Wait       time.Duration
	LogLevel   string
	LogFormat  string
}

func parseSeedFlags(args []string) (*seedOptions, error) {
	opts := &seedOptions{}
	fs := flag.NewFlagSet("seed", flag.ContinueOnError)

	fs.StringVar(&opts.ConfigPath, "config",
		envDefault("EDIPROC_CONFIG", ""),
		"Path to configuration file, empty runs on defaults (env: EDIPROC_CONFIG)")
	fs.StringVar(&opts.Dir, "dir", "",
		"Directory of EDI files to upload instead of the built-in samples")
	fs.IntVar(&opts.Count, "count", 3,
		"Number of built-in sample invoices to upload")
	fs.DurationVar(&opts.Wait, "wait", 0,
		"How long to wait for audit rows before printing the summary, 0 skips the wait")
	fs.StringVar(&opts.LogLevel, "log-level",
		envDefault("EDIPROC_LOG_LEVEL", "info"),
		"Log level: debug, info, warn, error (env: EDIPROC_LOG_LEVEL)")
	fs.StringVar(&opts.LogFormat, "log-format",
		envDefault("EDIPROC_LOG_FORMAT", "text"),
		"Log format: json, text (env: EDIPROC_LOG_FORMAT)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if opts.Count < 1 {
		return nil, fmt.Errorf("count must be at least 1, got %d", opts.Count)
	}
	return opts, nil
}

// seedFile is one object waiting to be uploaded.
type seedFile struct {
	Key         string
	ContentType string
	Data        []byte
}

// runSeed uploads sample EDI files so a running processor has traffic to
// record. With -wait it then polls the audit database and logs the row
// counts by status.
func runSeed(args []string) error {
	opts, err := parseSeedFlags(args)
	if err != nil {
		return err
	}

	slog.SetDefault(buildLogger(opts.LogLevel, opts.LogFormat))

	cfg, err := loadConfig(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	files, err := collectSeedFiles(opts)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), seedTimeout+opts.Wait)
	defer cancel()

	store, cleanup, err := connectStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := uploadAll(ctx, store, files); err != nil {
		return err
	}
	slog.Info("Seed uploads complete", "bucket", cfg.Bucket.Name, "files", len(files))

	if opts.Wait > 0 {
		return printAuditSummary(ctx, cfg.Audit.Path, len(files), opts.Wait)
	}
	return nil
}

// collectSeedFiles gathers uploads from -dir or generates sample invoices.
// Directory files carry no explicit content type, the ingest side derives
// one from the extension.
func collectSeedFiles(opts *seedOptions) ([]seedFile, error) {
	if opts.Dir == "" {
		files := make([]seedFile, 0, opts.Count)
		for i := 1; i <= opts.Count; i++ {
			files = append(files, seedFile{
				Key:         fmt.Sprintf("%s/invoice-%03d.txt", seedKeyPrefix, i),
				ContentType: "text/plain",
				Data:        sampleInvoice(i),
			})
		}
		return files, nil
	}

	entries, err := os.ReadDir(opts.Dir)
	if err != nil {
		return nil, fmt.Errorf("read seed directory: %w", err)
	}
	var files []seedFile
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(opts.Dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", entry.Name(), err)
		}
		files = append(files, seedFile{
			Key:  path.Join(seedKeyPrefix, entry.Name()),
			Data: data,
		})
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no files found in %s", opts.Dir)
	}
	return files, nil
}

// sampleInvoice renders one X12 810 invoice interchange. The content only
// needs to look like EDI, nothing downstream parses the segments.
func sampleInvoice(n int) []byte {
	date := time.Now().UTC().Format("060102")
	total := 10000 + n*250

	segments := []string{
		fmt.Sprintf("ISA*00*          *00*          *ZZ*ACMESUPPLY     *ZZ*EDIPROC        *%s*1200*U*00401*%09d*0*P*>", date, n),
		fmt.Sprintf("GS*IN*ACMESUPPLY*EDIPROC*20%s*1200*%d*X*004010", date, n),
		fmt.Sprintf("ST*810*%04d", n),
		fmt.Sprintf("BIG*20%s*INV-%03d", date, n),
		fmt.Sprintf("TDS*%d", total),
		fmt.Sprintf("SE*4*%04d", n),
		fmt.Sprintf("GE*1*%d", n),
		fmt.Sprintf("IEA*1*%09d", n),
	}
	return []byte(strings.Join(segments, "~\n") + "~\n")
}

// connectStore builds a NATS client from the config, waits for the
// connection and ensures the bucket exists. The returned cleanup closes the
// client.
func connectStore(ctx context.Context, cfg *config.Config) (*objectstore.Store, func(), error) {
	opts := []natsclient.ClientOption{
		natsclient.WithName("edi-seeder"),
		natsclient.WithMaxReconnects(cfg.NATS.MaxReconnects),
	}
	if cfg.NATS.Username != "" {
		opts = append(opts, natsclient.WithCredentials(cfg.NATS.Username, cfg.NATS.Password))
	}
	if cfg.NATS.Token != "" {
		opts = append(opts, natsclient.WithToken(cfg.NATS.Token))
	}

	client, err := natsclient.NewClient(strings.Join(cfg.NATS.URLs, ","), opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("create NATS client: %w", err)
	}
	cleanup := func() { _ = client.Close(context.Background()) }

	if err := client.Connect(ctx); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("connect to NATS: %w", err)
	}
	connCtx, connCancel := context.WithTimeout(ctx, 10*time.Second)
	defer connCancel()
	if err := client.WaitForConnection(connCtx); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("NATS connection not ready: %w", err)
	}

	store, err := objectstore.NewStore(client, cfg.Bucket.Name,
		objectstore.WithReplicas(cfg.Bucket.Replicas),
		objectstore.WithDescription(cfg.Bucket.Description),
	)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("create object store: %w", err)
	}
	if err := store.EnsureBucket(ctx); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("ensure bucket %s: %w", cfg.Bucket.Name, err)
	}
	return store, cleanup, nil
}

// uploadAll puts every file into the bucket with bounded concurrency.
func uploadAll(ctx context.Context, store *objectstore.Store, files []seedFile) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(seedConcurrent)
	for _, f := range files {
		g.Go(func() error {
			if _, err := store.Put(ctx, f.Key, f.ContentType, f.Data); err != nil {
				return fmt.Errorf("upload %s: %w", f.Key, err)
			}
			slog.Info("Uploaded", "key", f.Key, "bytes", len(f.Data))
			return nil
		})
	}
	return g.Wait()
}

// printAuditSummary polls the audit database until the expected number of
// rows lands or the wait expires, then logs the counts by status. The
// database runs in WAL mode, so reading alongside the processor is safe.
func printAuditSummary(ctx context.Context, dbPath string, expected int, wait time.Duration) error {
	audit, err := auditstore.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open audit store: %w", err)
	}
	defer func() { _ = audit.Close() }()

	deadline := time.Now().Add(wait)
	for {
		counts, err := audit.CountByStatus(ctx)
		if err != nil {
			return fmt.Errorf("count audit rows: %w", err)
		}
		var total int64
		for _, c := range counts {
			total += c
		}
		if total >= int64(expected) || time.Now().After(deadline) {
			slog.Info("Audit summary",
				"processed", counts[auditstore.StatusProcessed],
				"failed", counts[auditstore.StatusFailed],
				"skipped", counts[auditstore.StatusSkipped],
				"total", total,
				"expected", expected)
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}
}
