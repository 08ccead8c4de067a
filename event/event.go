// Package event defines the blob creation event that flows from the object
// store watcher to the ingestion handler, together with its JSON wire codec
// and validation rules.
package event

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/itsBaivab/edi-file-processor/errors"
)

// SubjectRoot is the prefix for all blob event subjects on the event stream.
const SubjectRoot = "edi.event"

// RecordedSubject carries each stored audit record as core NATS, best effort,
// for live observers such as the feed. It is not part of the event stream.
const RecordedSubject = "edi.audit.recorded"

// BlobEvent describes one observed object creation. It is ephemeral: produced
// once per observation, consumed once per delivery. Redelivery of the same
// broker message carries the same EventID; a fresh observation of the same
// object (for example after a watcher restart) gets a new one.
//
// Identity for idempotency purposes is the (Container, ObjectKey, EventTime)
// triple, never the EventID.
type BlobEvent struct {
	EventID     string    `json:"event_id"`
	Container   string    `json:"container"`
	ObjectKey   string    `json:"object_key"`
	SizeBytes   int64     `json:"size_bytes"`
	ContentType string    `json:"content_type,omitempty"`
	EventTime   time.Time `json:"event_time"`
	Digest      string    `json:"digest,omitempty"`
}

// Option is a functional option for configuring BlobEvent construction.
type Option func(*BlobEvent)

// WithContentType sets the content type reported by the store, when known.
func WithContentType(ct string) Option {
	return func(e *BlobEvent) {
		e.ContentType = ct
	}
}

// WithEventTime sets a specific observation timestamp instead of time.Now().
// Useful for replays and tests.
func WithEventTime(t time.Time) Option {
	return func(e *BlobEvent) {
		e.EventTime = t.UTC()
	}
}

// WithDigest attaches the store-reported object digest for diagnostics.
func WithDigest(digest string) Option {
	return func(e *BlobEvent) {
		e.Digest = digest
	}
}

// New creates a BlobEvent for an object observed in a container.
func New(container, objectKey string, sizeBytes int64, opts ...Option) *BlobEvent {
	e := &BlobEvent{
		EventID:   uuid.New().String(),
		Container: container,
		ObjectKey: objectKey,
		SizeBytes: sizeBytes,
		EventTime: time.Now().UTC(),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Validate checks the fields required for processing. A failing event is
// malformed and must be recorded as Failed, never retried.
func (e *BlobEvent) Validate() error {
	if e == nil {
		return errors.WrapInvalid(errors.ErrMalformedEvent, "BlobEvent", "Validate", "nil event")
	}
	if strings.TrimSpace(e.Container) == "" {
		return errors.WrapInvalid(errors.ErrMissingContainer, "BlobEvent", "Validate", "container check")
	}
	if strings.TrimSpace(e.ObjectKey) == "" {
		return errors.WrapInvalid(errors.ErrMissingObjectKey, "BlobEvent", "Validate", "object key check")
	}
	if e.SizeBytes < 0 {
		return errors.WrapInvalid(errors.ErrMalformedEvent, "BlobEvent", "Validate",
			fmt.Sprintf("negative size %d", e.SizeBytes))
	}
	if e.EventTime.IsZero() {
		return errors.WrapInvalid(errors.ErrMalformedEvent, "BlobEvent", "Validate", "zero event time")
	}
	return nil
}

// Identity returns the canonical identity string for the event. Two
// deliveries of the same observation share this value; a re-upload of the
// same object key does not.
func (e *BlobEvent) Identity() string {
	return fmt.Sprintf("%s/%s@%s", e.Container, e.ObjectKey, e.EventTime.UTC().Format(time.RFC3339Nano))
}

// DedupeID returns a stable hash of the identity triple, used as the
// broker-level message ID so the stream's duplicate window absorbs tight
// republishes.
func (e *BlobEvent) DedupeID() string {
	h := sha256.Sum256([]byte(e.Identity()))
	return hex.EncodeToString(h[:])
}

// Marshal encodes the event to its JSON wire form.
func (e *BlobEvent) Marshal() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, errors.WrapInvalid(err, "BlobEvent", "Marshal", "encode event")
	}
	return data, nil
}

// Decode parses the JSON wire form. Decode does not validate field contents;
// callers run Validate separately so a syntactically well-formed event with
// bad fields is still recorded with a diagnostic.
func Decode(data []byte) (*BlobEvent, error) {
	var e BlobEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, errors.WrapInvalid(errors.ErrParsingFailed, "BlobEvent", "Decode", err.Error())
	}
	return &e, nil
}

// CreatedSubject returns the stream subject for creation events in the given
// container. Container names are sanitized into a single subject token.
func CreatedSubject(container string) string {
	return SubjectRoot + ".created." + SubjectToken(container)
}

// SubjectToken maps an arbitrary container name onto a valid NATS subject
// token. Dots, wildcards, spaces and separators collapse to '-'.
func SubjectToken(name string) string {
	if name == "" {
		return "unknown"
	}
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	return b.String()
}
