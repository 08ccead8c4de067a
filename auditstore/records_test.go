package auditstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/itsBaivab/edi-file-processor/errors"
)

func processedRecord(name string, eventTime time.Time) *Record {
	return &Record{
		BlobName:    name,
		BlobSize:    1024,
		ContentType: "text/plain",
		Status:      StatusProcessed,
		Container:   "edi-files",
		EventTime:   eventTime,
	}
}

func TestInsertAssignsIDAndProcessedAt(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	before := time.Now().UTC()

	rec := processedRecord("invoices/invoice-001.txt", before)
	if err := st.Insert(ctx, rec); err != nil {
		t.Fatalf("insert: %v", err)
	}

	if rec.ID <= 0 {
		t.Fatalf("expected positive id, got %d", rec.ID)
	}
	if rec.ProcessedAt.Before(before) {
		t.Fatalf("processed at %v predates insert time %v", rec.ProcessedAt, before)
	}

	second := processedRecord("invoices/invoice-002.txt", before)
	if err := st.Insert(ctx, second); err != nil {
		t.Fatalf("insert second: %v", err)
	}
	if second.ID <= rec.ID {
		t.Fatalf("expected monotonic ids, got %d then %d", rec.ID, second.ID)
	}
}

func TestInsertIgnoresCallerAssignedFields(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	rec := processedRecord("invoices/invoice-001.txt", time.Now().UTC())
	rec.ID = 9999
	rec.ProcessedAt = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

	if err := st.Insert(ctx, rec); err != nil {
		t.Fatalf("insert: %v", err)
	}

	if rec.ID == 9999 {
		t.Fatal("expected store-assigned id, caller value kept")
	}
	if rec.ProcessedAt.Year() == 2000 {
		t.Fatal("expected store-assigned ProcessedAt, caller value kept")
	}
}

func TestInsertValidation(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	tests := []struct {
		name string
		rec  *Record
	}{
		{"nil record", nil},
		{"empty blob name", &Record{BlobName: "", Status: StatusProcessed}},
		{"whitespace blob name", &Record{BlobName: "   ", Status: StatusProcessed}},
		{"negative size", &Record{BlobName: "a.txt", BlobSize: -1, Status: StatusProcessed}},
		{"unknown status", &Record{BlobName: "a.txt", Status: "Done"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := st.Insert(ctx, tt.rec)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !errors.IsInvalid(err) {
				t.Fatalf("expected invalid classification, got %v", err)
			}
		})
	}

	// Nothing should have been written.
	counts, err := st.CountByStatus(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if len(counts) != 0 {
		t.Fatalf("expected empty table after rejected inserts, got %v", counts)
	}
}

func TestInsertNullColumnsRoundTrip(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	rec := &Record{
		BlobName: "bare.txt",
		BlobSize: 0,
		Status:   StatusFailed,
	}
	if err := st.Insert(ctx, rec); err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, err := st.Recent(ctx, 1)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 row, got %d", len(got))
	}
	if got[0].ContentType != "" {
		t.Fatalf("expected empty content type, got %q", got[0].ContentType)
	}
	if got[0].Note != "" {
		t.Fatalf("expected empty note, got %q", got[0].Note)
	}
	if !got[0].EventTime.IsZero() {
		t.Fatalf("expected zero event time, got %v", got[0].EventTime)
	}
}

func TestInsertDuplicateProcessed(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	eventTime := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)

	first := processedRecord("invoices/invoice-001.txt", eventTime)
	if err := st.Insert(ctx, first); err != nil {
		t.Fatalf("first insert: %v", err)
	}

	second := processedRecord("invoices/invoice-001.txt", eventTime)
	err := st.Insert(ctx, second)
	if err == nil {
		t.Fatal("expected duplicate error")
	}
	if !errors.IsDuplicate(err) {
		t.Fatalf("expected duplicate classification, got %v", err)
	}
	if errors.IsTransient(err) {
		t.Fatal("duplicate must not classify as transient, it would trigger a retry loop")
	}

	counts, err := st.CountByStatus(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if counts[StatusProcessed] != 1 {
		t.Fatalf("expected exactly 1 Processed row, got %d", counts[StatusProcessed])
	}
}

func TestDistinctEventTimesAreDistinctIdentities(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	eventTime := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)

	if err := st.Insert(ctx, processedRecord("invoices/invoice-001.txt", eventTime)); err != nil {
		t.Fatalf("first insert: %v", err)
	}

	// A re-upload of the same key is a new event, not a duplicate.
	if err := st.Insert(ctx, processedRecord("invoices/invoice-001.txt", eventTime.Add(time.Second))); err != nil {
		t.Fatalf("second insert with later event time: %v", err)
	}

	counts, err := st.CountByStatus(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if counts[StatusProcessed] != 2 {
		t.Fatalf("expected 2 Processed rows, got %d", counts[StatusProcessed])
	}
}

func TestUniquenessOnlyGuardsProcessed(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	eventTime := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)

	// Repeated Failed and Skipped rows for the same identity are allowed;
	// only the Processed success row is unique.
	for i := 0; i < 2; i++ {
		failed := processedRecord("invoices/invoice-001.txt", eventTime)
		failed.Status = StatusFailed
		if err := st.Insert(ctx, failed); err != nil {
			t.Fatalf("failed insert %d: %v", i, err)
		}

		skipped := processedRecord("invoices/invoice-001.txt", eventTime)
		skipped.Status = StatusSkipped
		if err := st.Insert(ctx, skipped); err != nil {
			t.Fatalf("skipped insert %d: %v", i, err)
		}
	}

	if err := st.Insert(ctx, processedRecord("invoices/invoice-001.txt", eventTime)); err != nil {
		t.Fatalf("processed insert after failures: %v", err)
	}

	counts, err := st.CountByStatus(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if counts[StatusFailed] != 2 || counts[StatusSkipped] != 2 || counts[StatusProcessed] != 1 {
		t.Fatalf("unexpected counts: %v", counts)
	}
}

func TestFindRecentFiltersAndOrders(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)

	if err := st.Insert(ctx, processedRecord("orders/order-1.txt", base)); err != nil {
		t.Fatalf("insert other key: %v", err)
	}

	for i := 0; i < 3; i++ {
		rec := processedRecord("invoices/invoice-001.txt", base.Add(time.Duration(i)*time.Second))
		if err := st.Insert(ctx, rec); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
		time.Sleep(5 * time.Millisecond)
	}

	got, err := st.FindRecent(ctx, "invoices/invoice-001.txt", base.Add(-time.Hour))
	if err != nil {
		t.Fatalf("find recent: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 rows for key, got %d", len(got))
	}
	for _, rec := range got {
		if rec.BlobName != "invoices/invoice-001.txt" {
			t.Fatalf("row for wrong key: %q", rec.BlobName)
		}
	}
	for i := 1; i < len(got); i++ {
		if got[i].ProcessedAt.After(got[i-1].ProcessedAt) {
			t.Fatalf("rows not in descending ProcessedAt order: %v then %v",
				got[i-1].ProcessedAt, got[i].ProcessedAt)
		}
	}
}

func TestFindRecentSinceCutoff(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)

	old := processedRecord("invoices/invoice-001.txt", base)
	if err := st.Insert(ctx, old); err != nil {
		t.Fatalf("insert old: %v", err)
	}

	time.Sleep(10 * time.Millisecond)
	cutoff := time.Now().UTC()
	time.Sleep(10 * time.Millisecond)

	fresh := processedRecord("invoices/invoice-001.txt", base.Add(time.Second))
	if err := st.Insert(ctx, fresh); err != nil {
		t.Fatalf("insert fresh: %v", err)
	}

	got, err := st.FindRecent(ctx, "invoices/invoice-001.txt", cutoff)
	if err != nil {
		t.Fatalf("find recent: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 row after cutoff, got %d", len(got))
	}
	if got[0].ID != fresh.ID {
		t.Fatalf("expected fresh row %d, got %d", fresh.ID, got[0].ID)
	}
}

func TestRecentRespectsLimit(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		rec := processedRecord("invoices/invoice-001.txt", base.Add(time.Duration(i)*time.Second))
		if err := st.Insert(ctx, rec); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}

	got, err := st.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(got))
	}
	if got[0].ID < got[1].ID {
		t.Fatalf("expected newest first, got ids %d, %d", got[0].ID, got[1].ID)
	}
}

func TestConcurrentDuplicateInsert(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	eventTime := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)

	const workers = 8
	errs := make(chan error, workers)
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec := processedRecord("invoices/invoice-001.txt", eventTime)
			errs <- st.Insert(ctx, rec)
		}()
	}
	wg.Wait()
	close(errs)

	var successes, duplicates int
	for err := range errs {
		switch {
		case err == nil:
			successes++
		case errors.IsDuplicate(err):
			duplicates++
		default:
			t.Fatalf("unexpected error from concurrent insert: %v", err)
		}
	}

	if successes != 1 {
		t.Fatalf("expected exactly 1 successful insert, got %d", successes)
	}
	if duplicates != workers-1 {
		t.Fatalf("expected %d duplicate rejections, got %d", workers-1, duplicates)
	}

	counts, err := st.CountByStatus(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if counts[StatusProcessed] != 1 {
		t.Fatalf("expected exactly 1 Processed row after race, got %d", counts[StatusProcessed])
	}
}

func TestValidStatus(t *testing.T) {
	for _, status := range []string{StatusProcessed, StatusFailed, StatusSkipped} {
		if !ValidStatus(status) {
			t.Fatalf("expected %q to be valid", status)
		}
	}
	for _, status := range []string{"", "processed", "Done", "PROCESSED"} {
		if ValidStatus(status) {
			t.Fatalf("expected %q to be invalid", status)
		}
	}
}
