package objectstore

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/itsBaivab/edi-file-processor/errors"
	"github.com/itsBaivab/edi-file-processor/natsclient"
)

// ContentTypeHeader is the object metadata header carrying the MIME type of
// an uploaded file.
const ContentTypeHeader = "Content-Type"

// StoreOptions configures object store operation behavior
type StoreOptions struct {
	Timeout      time.Duration // Per-operation timeout for stat/read/put
	MaxReadBytes int64         // Upper bound applied to Read when the caller gives no limit
	Replicas     int           // Bucket replica count used by EnsureBucket
	Description  string        // Bucket description used by EnsureBucket
}

// DefaultStoreOptions returns sensible defaults for a single upload bucket
func DefaultStoreOptions() StoreOptions {
	return StoreOptions{
		Timeout:      5 * time.Second,
		MaxReadBytes: 1024 * 1024, // 1MB default read bound
		Replicas:     1,
	}
}

// WithTimeout sets the per-operation timeout.
func WithTimeout(d time.Duration) func(*StoreOptions) {
	return func(o *StoreOptions) {
		o.Timeout = d
	}
}

// WithMaxReadBytes sets the default read bound.
func WithMaxReadBytes(n int64) func(*StoreOptions) {
	return func(o *StoreOptions) {
		o.MaxReadBytes = n
	}
}

// WithReplicas sets the bucket replica count for EnsureBucket.
func WithReplicas(n int) func(*StoreOptions) {
	return func(o *StoreOptions) {
		o.Replicas = n
	}
}

// WithDescription sets the bucket description for EnsureBucket.
func WithDescription(desc string) func(*StoreOptions) {
	return func(o *StoreOptions) {
		o.Description = desc
	}
}

// Store provides bounded operations against one ObjectStore bucket. All
// errors crossing the Store boundary carry a classification: a missing
// object is terminal (ErrObjectMissing), everything touching the broker is
// transient.
type Store struct {
	client  *natsclient.Client
	bucket  string
	options StoreOptions

	mu     sync.RWMutex
	handle jetstream.ObjectStore
}

// NewStore creates a Store for the named bucket. The bucket is bound lazily;
// call EnsureBucket to create it up front.
func NewStore(client *natsclient.Client, bucket string, opts ...func(*StoreOptions)) (*Store, error) {
	if client == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("nil NATS client"),
			"ObjectStore", "NewStore", "client check")
	}
	if strings.TrimSpace(bucket) == "" {
		return nil, errors.WrapInvalid(fmt.Errorf("empty bucket name"),
			"ObjectStore", "NewStore", "bucket name check")
	}

	options := DefaultStoreOptions()
	for _, opt := range opts {
		opt(&options)
	}

	return &Store{
		client:  client,
		bucket:  bucket,
		options: options,
	}, nil
}

// Bucket returns the bucket name this store operates on.
func (s *Store) Bucket() string {
	return s.bucket
}

// applyTimeout applies the configured timeout to the context if set
func (s *Store) applyTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.options.Timeout > 0 {
		return context.WithTimeout(ctx, s.options.Timeout)
	}
	return ctx, func() {} // no-op cancel
}

// EnsureBucket creates the bucket if it does not exist and binds the handle.
// Safe to call repeatedly.
func (s *Store) EnsureBucket(ctx context.Context) error {
	ctx, cancel := s.applyTimeout(ctx)
	defer cancel()

	handle, err := s.client.CreateObjectStoreBucket(ctx, jetstream.ObjectStoreConfig{
		Bucket:      s.bucket,
		Description: s.options.Description,
		Replicas:    s.options.Replicas,
		Storage:     jetstream.FileStorage,
	})
	if err != nil {
		return errors.WrapTransient(err, "ObjectStore", "EnsureBucket",
			fmt.Sprintf("create bucket %s", s.bucket))
	}

	s.mu.Lock()
	s.handle = handle
	s.mu.Unlock()
	return nil
}

// store returns the bound bucket handle, binding on first use.
func (s *Store) store(ctx context.Context) (jetstream.ObjectStore, error) {
	s.mu.RLock()
	handle := s.handle
	s.mu.RUnlock()
	if handle != nil {
		return handle, nil
	}

	handle, err := s.client.GetObjectStoreBucket(ctx, s.bucket)
	if err != nil {
		if stderrors.Is(err, jetstream.ErrBucketNotFound) {
			return nil, errors.Wrap(errors.ErrBucketNotFound, "ObjectStore", "store",
				fmt.Sprintf("bind bucket %s", s.bucket))
		}
		return nil, errors.WrapTransient(err, "ObjectStore", "store",
			fmt.Sprintf("bind bucket %s", s.bucket))
	}

	s.mu.Lock()
	s.handle = handle
	s.mu.Unlock()
	return handle, nil
}

// Stat returns metadata for one object. A missing or deleted object maps to
// ErrObjectMissing so callers can record a Skipped audit instead of retrying.
func (s *Store) Stat(ctx context.Context, key string) (*jetstream.ObjectInfo, error) {
	ctx, cancel := s.applyTimeout(ctx)
	defer cancel()

	store, err := s.store(ctx)
	if err != nil {
		return nil, err
	}

	info, err := store.GetInfo(ctx, key)
	if err != nil {
		if stderrors.Is(err, jetstream.ErrObjectNotFound) {
			return nil, errors.Wrap(errors.ErrObjectMissing, "ObjectStore", "Stat",
				fmt.Sprintf("lookup %s/%s", s.bucket, key))
		}
		return nil, errors.WrapTransient(err, "ObjectStore", "Stat",
			fmt.Sprintf("lookup %s/%s", s.bucket, key))
	}
	if info.Deleted {
		return nil, errors.Wrap(errors.ErrObjectMissing, "ObjectStore", "Stat",
			fmt.Sprintf("lookup deleted %s/%s", s.bucket, key))
	}
	return info, nil
}

// Read returns up to limit bytes of the object body. A limit <= 0 falls back
// to the configured MaxReadBytes bound; bodies larger than the bound are
// truncated, never buffered whole.
func (s *Store) Read(ctx context.Context, key string, limit int64) ([]byte, error) {
	ctx, cancel := s.applyTimeout(ctx)
	defer cancel()

	store, err := s.store(ctx)
	if err != nil {
		return nil, err
	}

	if limit <= 0 {
		limit = s.options.MaxReadBytes
	}

	result, err := store.Get(ctx, key)
	if err != nil {
		if stderrors.Is(err, jetstream.ErrObjectNotFound) {
			return nil, errors.Wrap(errors.ErrObjectMissing, "ObjectStore", "Read",
				fmt.Sprintf("open %s/%s", s.bucket, key))
		}
		return nil, errors.WrapTransient(err, "ObjectStore", "Read",
			fmt.Sprintf("open %s/%s", s.bucket, key))
	}
	defer func() { _ = result.Close() }()

	data, err := io.ReadAll(io.LimitReader(result, limit))
	if err != nil {
		return nil, errors.WrapTransient(err, "ObjectStore", "Read",
			fmt.Sprintf("read %s/%s", s.bucket, key))
	}
	return data, nil
}

// Put stores data under key, recording contentType as an object header when
// given. Used by the demo seeder and tests; the service itself only reads.
func (s *Store) Put(ctx context.Context, key, contentType string, data []byte) (*jetstream.ObjectInfo, error) {
	if strings.TrimSpace(key) == "" {
		return nil, errors.WrapInvalid(fmt.Errorf("empty object key"),
			"ObjectStore", "Put", "key check")
	}

	ctx, cancel := s.applyTimeout(ctx)
	defer cancel()

	store, err := s.store(ctx)
	if err != nil {
		return nil, err
	}

	meta := jetstream.ObjectMeta{Name: key}
	if contentType != "" {
		meta.Headers = nats.Header{ContentTypeHeader: []string{contentType}}
	}

	info, err := store.Put(ctx, meta, bytes.NewReader(data))
	if err != nil {
		return nil, errors.WrapTransient(err, "ObjectStore", "Put",
			fmt.Sprintf("store %s/%s", s.bucket, key))
	}
	return info, nil
}

// Watch opens a metadata watcher over the bucket: one update per existing
// object, a nil marker when the initial snapshot is done, then live updates.
// The context governs the watcher lifetime, so the per-operation timeout is
// deliberately not applied here. The caller owns Stop.
func (s *Store) Watch(ctx context.Context) (jetstream.ObjectWatcher, error) {
	store, err := s.store(ctx)
	if err != nil {
		return nil, err
	}

	watcher, err := store.Watch(ctx)
	if err != nil {
		return nil, errors.WrapTransient(err, "ObjectStore", "Watch",
			fmt.Sprintf("watch bucket %s", s.bucket))
	}
	return watcher, nil
}

// ContentType extracts the stored content type header from object info.
// Returns empty when the uploader set none.
func ContentType(info *jetstream.ObjectInfo) string {
	if info == nil || info.Headers == nil {
		return ""
	}
	return info.Headers.Get(ContentTypeHeader)
}
