package auditstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/itsBaivab/edi-file-processor/errors"
)

// Audit row statuses, stored verbatim in the Status column.
const (
	StatusProcessed = "Processed"
	StatusFailed    = "Failed"
	StatusSkipped   = "Skipped"
)

// findRecentLimit caps FindRecent result sets. The dedupe pre-check only
// needs the last few rows for one object key.
const findRecentLimit = 100

// Record is one row of the BlobAudit table. ID and ProcessedAt are
// assigned by Insert; caller-supplied values for either are ignored.
// A zero EventTime and empty ContentType or Note are stored as NULL.
type Record struct {
	ID          int64     `json:"id"`
	BlobName    string    `json:"blob_name"`
	BlobSize    int64     `json:"blob_size"`
	ProcessedAt time.Time `json:"processed_at"`
	ContentType string    `json:"content_type,omitempty"`
	Status      string    `json:"status"`
	Container   string    `json:"container"`
	EventTime   time.Time `json:"event_time"`
	Note        string    `json:"note,omitempty"`
}

// ValidStatus reports whether status is one of the three audit statuses.
func ValidStatus(status string) bool {
	switch status {
	case StatusProcessed, StatusFailed, StatusSkipped:
		return true
	}
	return false
}

// Insert writes rec as a new audit row and fills in rec.ID and
// rec.ProcessedAt. Inserting a second Processed row for an identity
// (Container, BlobName, EventTime) that already has one fails with
// ErrDuplicateRecord; every other failure is transient.
func (s *Store) Insert(ctx context.Context, rec *Record) error {
	if rec == nil {
		return errors.WrapInvalid(fmt.Errorf("record is required"), "AuditStore", "Insert", "validate record")
	}
	if strings.TrimSpace(rec.BlobName) == "" {
		return errors.WrapInvalid(fmt.Errorf("blob name is required"), "AuditStore", "Insert", "validate record")
	}
	if rec.BlobSize < 0 {
		return errors.WrapInvalid(
			fmt.Errorf("blob size %d is negative", rec.BlobSize),
			"AuditStore", "Insert", "validate record")
	}
	if !ValidStatus(rec.Status) {
		return errors.WrapInvalid(
			fmt.Errorf("unknown status %q", rec.Status),
			"AuditStore", "Insert", "validate record")
	}

	processedAt := time.Now().UTC()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO BlobAudit (
			BlobName, BlobSize, ProcessedAt, ContentType, Status, Container, EventTime, Note
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.BlobName,
		rec.BlobSize,
		formatTime(processedAt),
		nullIfEmpty(rec.ContentType),
		rec.Status,
		rec.Container,
		nullTime(rec.EventTime),
		nullIfEmpty(rec.Note),
	)
	if err != nil {
		if isUniqueConstraint(err) {
			return errors.Wrap(errors.ErrDuplicateRecord, "AuditStore", "Insert",
				fmt.Sprintf("insert Processed row for %s/%s", rec.Container, rec.BlobName))
		}
		return errors.WrapTransient(err, "AuditStore", "Insert", "insert audit row")
	}

	id, err := res.LastInsertId()
	if err != nil {
		return errors.WrapTransient(err, "AuditStore", "Insert", "read inserted id")
	}

	rec.ID = id
	rec.ProcessedAt = processedAt
	return nil
}

// FindRecent returns audit rows for objectKey processed at or after since,
// newest first. The result is bounded; callers scanning for a specific
// event identity look at the most recent rows anyway.
func (s *Store) FindRecent(ctx context.Context, objectKey string, since time.Time) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT Id, BlobName, BlobSize, ProcessedAt, ContentType, Status, Container, EventTime, Note
		FROM BlobAudit
		WHERE BlobName = ? AND ProcessedAt >= ?
		ORDER BY ProcessedAt DESC, Id DESC
		LIMIT ?
	`, objectKey, formatTime(since), findRecentLimit)
	if err != nil {
		return nil, errors.WrapTransient(err, "AuditStore", "FindRecent", "query audit rows")
	}
	defer rows.Close()

	return collectRecords(rows, "FindRecent")
}

// Recent returns the newest audit rows across all object keys.
func (s *Store) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT Id, BlobName, BlobSize, ProcessedAt, ContentType, Status, Container, EventTime, Note
		FROM BlobAudit
		ORDER BY Id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, errors.WrapTransient(err, "AuditStore", "Recent", "query audit rows")
	}
	defer rows.Close()

	return collectRecords(rows, "Recent")
}

// CountByStatus returns row counts grouped by status.
func (s *Store) CountByStatus(ctx context.Context) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT Status, COUNT(*) FROM BlobAudit GROUP BY Status")
	if err != nil {
		return nil, errors.WrapTransient(err, "AuditStore", "CountByStatus", "query status counts")
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, errors.WrapTransient(err, "AuditStore", "CountByStatus", "scan status count")
		}
		counts[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WrapTransient(err, "AuditStore", "CountByStatus", "iterate status counts")
	}
	return counts, nil
}

func collectRecords(rows *sql.Rows, method string) ([]Record, error) {
	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, errors.WrapTransient(err, "AuditStore", method, "scan audit row")
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WrapTransient(err, "AuditStore", method, "iterate audit rows")
	}
	return records, nil
}

func scanRecord(scanner interface {
	Scan(dest ...any) error
}) (*Record, error) {
	var rec Record
	var processedAt string
	var contentType, eventTime, note sql.NullString

	if err := scanner.Scan(
		&rec.ID,
		&rec.BlobName,
		&rec.BlobSize,
		&processedAt,
		&contentType,
		&rec.Status,
		&rec.Container,
		&eventTime,
		&note,
	); err != nil {
		return nil, err
	}

	rec.ContentType = contentType.String
	rec.Note = note.String

	parsed, err := parseTime(processedAt)
	if err != nil {
		return nil, err
	}
	rec.ProcessedAt = parsed

	if eventTime.Valid {
		parsedEvent, err := parseTime(eventTime.String)
		if err != nil {
			return nil, err
		}
		rec.EventTime = parsedEvent
	}

	return &rec, nil
}

func isUniqueConstraint(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

func nullIfEmpty(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullTime(value time.Time) any {
	if value.IsZero() {
		return nil
	}
	return formatTime(value)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, value)
}
