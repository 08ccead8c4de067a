// Package ingest implements the ingestion handler: one blob event in, zero
// or one audit row out, exactly-once in effect under at-least-once delivery.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/itsBaivab/edi-file-processor/auditstore"
	"github.com/itsBaivab/edi-file-processor/errors"
	"github.com/itsBaivab/edi-file-processor/event"
	"github.com/itsBaivab/edi-file-processor/metric"
)

// Config holds the handler's processing budgets and toggles.
type Config struct {
	DedupeWindow time.Duration // Lookback for the identity pre-check
	FetchTimeout time.Duration // Budget for object stat and content reads
	WriteTimeout time.Duration // Budget for audit store queries and inserts
	ReadContent  bool          // Read the object body head after stat
	MaxReadBytes int64         // Bound for the optional content read
}

// DefaultConfig returns sensible defaults for the ingestion handler
func DefaultConfig() Config {
	return Config{
		DedupeWindow: 24 * time.Hour,
		FetchTimeout: 5 * time.Second,
		WriteTimeout: 5 * time.Second,
		ReadContent:  false,
		MaxReadBytes: 1024 * 1024,
	}
}

// ObjectReader is the slice of the object store the handler needs.
type ObjectReader interface {
	Stat(ctx context.Context, key string) (*jetstream.ObjectInfo, error)
	Read(ctx context.Context, key string, limit int64) ([]byte, error)
}

// Notifier publishes recorded audits for live observers.
type Notifier interface {
	Publish(subject string, data []byte) error
}

// Result describes the terminal outcome of one processed event.
type Result struct {
	Status         string             // Terminal audit status
	Record         *auditstore.Record // Stored row; nil when deduped without an insert
	Deduped        bool               // Identity already had a Processed row
	ProcessedTotal int64              // Running Processed count, zero when unknown
}

// HandlerDeps holds runtime dependencies for the ingestion handler
type HandlerDeps struct {
	Config          Config
	Audit           *auditstore.Store
	Objects         ObjectReader
	Notifier        Notifier                // Optional, best-effort feed notifications
	MetricsRegistry *metric.MetricsRegistry // Optional
	Logger          *slog.Logger            // Optional
	Now             func() time.Time        // Optional clock override for tests
}

// Handler turns blob events into audit rows.
//
// Process returns a nil error only for terminal outcomes (a row recorded, or
// the identity already processed). Every non-nil error is transient: the
// dispatcher naks and the broker redelivers. Data problems never surface as
// errors, they become Failed or Skipped rows.
type Handler struct {
	config   Config
	audit    *auditstore.Store
	objects  ObjectReader
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time
	metrics  *handlerMetrics
}

// NewHandler creates an ingestion handler from its dependencies.
func NewHandler(deps HandlerDeps) (*Handler, error) {
	if deps.Audit == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("nil audit store"),
			"IngestHandler", "NewHandler", "audit store validation")
	}
	if deps.Objects == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("nil object reader"),
			"IngestHandler", "NewHandler", "object reader validation")
	}

	cfg := deps.Config
	def := DefaultConfig()
	if cfg.DedupeWindow <= 0 {
		cfg.DedupeWindow = def.DedupeWindow
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = def.FetchTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.MaxReadBytes <= 0 {
		cfg.MaxReadBytes = def.MaxReadBytes
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "ingest-handler")
	}

	now := deps.Now
	if now == nil {
		now = time.Now
	}

	metrics, err := newHandlerMetrics(deps.MetricsRegistry)
	if err != nil {
		return nil, errors.Wrap(err, "IngestHandler", "NewHandler", "metrics registration")
	}

	return &Handler{
		config:   cfg,
		audit:    deps.Audit,
		objects:  deps.Objects,
		notifier: deps.Notifier,
		logger:   logger,
		now:      now,
		metrics:  metrics,
	}, nil
}

// Process handles one delivered blob event.
//
// Safe under concurrent invocation with overlapping identity: the dedupe
// pre-check is an optimization, the audit store's unique constraint is the
// authority, and losing the insert race is reported as a dedupe, not a
// failure.
func (h *Handler) Process(ctx context.Context, evt *event.BlobEvent) (Result, error) {
	start := time.Now()

	if err := evt.Validate(); err != nil {
		return h.recordFailed(ctx, evt, start, err)
	}

	// Identity pre-check keeps redelivery storms off the unique index.
	since := h.now().Add(-h.config.DedupeWindow)
	queryCtx, cancel := context.WithTimeout(ctx, h.config.WriteTimeout)
	recent, err := h.audit.FindRecent(queryCtx, evt.ObjectKey, since)
	cancel()
	if err != nil {
		h.metrics.recordTransient()
		return Result{}, err
	}
	if match := matchProcessed(recent, evt); match != nil {
		h.metrics.recordOutcome(auditstore.StatusProcessed, true, time.Since(start))
		h.logger.Debug("Duplicate delivery short-circuited",
			"container", evt.Container,
			"object", evt.ObjectKey)
		return Result{Status: auditstore.StatusProcessed, Record: match, Deduped: true}, nil
	}

	statCtx, cancel := context.WithTimeout(ctx, h.config.FetchTimeout)
	info, err := h.objects.Stat(statCtx, evt.ObjectKey)
	cancel()
	if err != nil {
		if errors.IsObjectMissing(err) {
			return h.recordSkipped(ctx, evt, start)
		}
		h.metrics.recordTransient()
		return Result{}, errors.WrapTransient(err, "IngestHandler", "Process", "object stat")
	}

	if h.config.ReadContent {
		h.readContent(ctx, evt.ObjectKey)
	}

	rec := &auditstore.Record{
		BlobName:    evt.ObjectKey,
		BlobSize:    int64(info.Size),
		ContentType: deriveContentType(evt, info),
		Status:      auditstore.StatusProcessed,
		Container:   evt.Container,
		EventTime:   evt.EventTime,
	}

	writeCtx, cancel := context.WithTimeout(ctx, h.config.WriteTimeout)
	err = h.audit.Insert(writeCtx, rec)
	cancel()
	if err != nil {
		if errors.IsDuplicate(err) {
			// Lost the insert race to a concurrent delivery of the same
			// identity. The row exists, so this is a success.
			h.metrics.recordOutcome(auditstore.StatusProcessed, true, time.Since(start))
			h.logger.Debug("Duplicate delivery resolved by constraint",
				"container", evt.Container,
				"object", evt.ObjectKey)
			return Result{Status: auditstore.StatusProcessed, Deduped: true}, nil
		}
		h.metrics.recordTransient()
		return Result{}, err
	}

	total := h.processedTotal(ctx)
	h.logger.Info("File processed",
		"container", evt.Container,
		"object", evt.ObjectKey,
		"size_bytes", rec.BlobSize,
		"content_type", rec.ContentType,
		"total_processed", total)

	h.notify(rec)
	h.metrics.recordOutcome(auditstore.StatusProcessed, false, time.Since(start))

	return Result{
		Status:         auditstore.StatusProcessed,
		Record:         rec,
		ProcessedTotal: total,
	}, nil
}

// RecordMalformed writes the Failed row for a delivery whose payload never
// decoded into an event. The dispatcher calls this instead of Process when
// there is no event to hand over; the same error contract applies.
func (h *Handler) RecordMalformed(ctx context.Context, cause error) (Result, error) {
	return h.recordFailed(ctx, nil, time.Now(), cause)
}

// recordFailed writes the Failed row for a malformed event. The event may be
// missing any field, so the row substitutes placeholders where the schema
// needs a value.
func (h *Handler) recordFailed(ctx context.Context, evt *event.BlobEvent, start time.Time, cause error) (Result, error) {
	rec := failedRecord(evt, cause)

	writeCtx, cancel := context.WithTimeout(ctx, h.config.WriteTimeout)
	err := h.audit.Insert(writeCtx, rec)
	cancel()
	if err != nil {
		h.metrics.recordTransient()
		return Result{}, err
	}

	h.logger.Warn("Malformed event recorded",
		"container", rec.Container,
		"object", rec.BlobName,
		"note", rec.Note)

	h.notify(rec)
	h.metrics.recordOutcome(auditstore.StatusFailed, false, time.Since(start))

	return Result{Status: auditstore.StatusFailed, Record: rec}, nil
}

// recordSkipped writes the Skipped row for an object deleted between upload
// and processing. A valid outcome, not a pipeline failure.
func (h *Handler) recordSkipped(ctx context.Context, evt *event.BlobEvent, start time.Time) (Result, error) {
	rec := &auditstore.Record{
		BlobName:    evt.ObjectKey,
		BlobSize:    evt.SizeBytes,
		ContentType: deriveContentType(evt, nil),
		Status:      auditstore.StatusSkipped,
		Container:   evt.Container,
		EventTime:   evt.EventTime,
		Note:        "object missing at fetch time",
	}

	writeCtx, cancel := context.WithTimeout(ctx, h.config.WriteTimeout)
	err := h.audit.Insert(writeCtx, rec)
	cancel()
	if err != nil {
		h.metrics.recordTransient()
		return Result{}, err
	}

	h.logger.Info("Object gone before processing, skipped",
		"container", evt.Container,
		"object", evt.ObjectKey)

	h.notify(rec)
	h.metrics.recordOutcome(auditstore.StatusSkipped, false, time.Since(start))

	return Result{Status: auditstore.StatusSkipped, Record: rec}, nil
}

// readContent pulls the head of the object body when enabled. Read problems
// degrade to a log line; the audit outcome never depends on content.
func (h *Handler) readContent(ctx context.Context, key string) {
	readCtx, cancel := context.WithTimeout(ctx, h.config.FetchTimeout)
	defer cancel()

	data, err := h.objects.Read(readCtx, key, h.config.MaxReadBytes)
	if err != nil {
		h.logger.Warn("Content read failed", "object", key, "error", err)
		return
	}
	h.logger.Debug("Content read", "object", key, "bytes", len(data))
}

// processedTotal returns the running Processed count, zero when it cannot be
// read cheaply.
func (h *Handler) processedTotal(ctx context.Context) int64 {
	queryCtx, cancel := context.WithTimeout(ctx, h.config.WriteTimeout)
	defer cancel()

	counts, err := h.audit.CountByStatus(queryCtx)
	if err != nil {
		h.logger.Debug("Processed total unavailable", "error", err)
		return 0
	}

	total := counts[auditstore.StatusProcessed]
	h.metrics.setProcessedTotal(total)
	return total
}

// notify publishes the stored record for live observers. Best effort:
// failures are logged and never affect the processing outcome.
func (h *Handler) notify(rec *auditstore.Record) {
	if h.notifier == nil {
		return
	}

	data, err := json.Marshal(rec)
	if err != nil {
		h.logger.Warn("Audit notification encode failed", "error", err)
		return
	}
	if err := h.notifier.Publish(event.RecordedSubject, data); err != nil {
		h.logger.Warn("Audit notification publish failed", "error", err)
	}
}

// matchProcessed scans recent rows for a Processed row carrying this event's
// identity triple.
func matchProcessed(rows []auditstore.Record, evt *event.BlobEvent) *auditstore.Record {
	for i := range rows {
		row := &rows[i]
		if row.Status != auditstore.StatusProcessed {
			continue
		}
		if row.Container != evt.Container {
			continue
		}
		if !row.EventTime.Equal(evt.EventTime) {
			continue
		}
		return row
	}
	return nil
}

// failedRecord builds the Failed row for an event that did not validate.
func failedRecord(evt *event.BlobEvent, cause error) *auditstore.Record {
	rec := &auditstore.Record{
		BlobName: "unknown",
		Status:   auditstore.StatusFailed,
		Note:     cause.Error(),
	}
	if evt == nil {
		return rec
	}

	if evt.ObjectKey != "" {
		rec.BlobName = evt.ObjectKey
	}
	if evt.SizeBytes > 0 {
		rec.BlobSize = evt.SizeBytes
	}
	rec.ContentType = evt.ContentType
	rec.Container = evt.Container
	rec.EventTime = evt.EventTime
	return rec
}
