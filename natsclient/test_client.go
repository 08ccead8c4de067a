package natsclient

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	testNATSImage    = "nats:2.11.7-alpine"
	testStartTimeout = 30 * time.Second
	testDialTimeout  = 5 * time.Second
)

// TestClient runs a throwaway NATS server in a container with a Client
// connected to it. Tests in other packages use it to exercise real
// broker behavior instead of mocks.
type TestClient struct {
	Client *Client
	URL    string

	container testcontainers.Container
	once      sync.Once
	termErr   error
}

type testConfig struct {
	jetstream   bool
	objectStore bool
}

// TestOption configures the test server before it starts.
type TestOption func(*testConfig)

// WithJetStream starts the server with JetStream enabled.
func WithJetStream() TestOption {
	return func(cfg *testConfig) {
		cfg.jetstream = true
	}
}

// WithObjectStore starts the server with JetStream and the object store
// enabled.
func WithObjectStore() TestOption {
	return func(cfg *testConfig) {
		cfg.jetstream = true
		cfg.objectStore = true
	}
}

// NewTestClient starts a NATS container and returns a connected client.
// Teardown is registered on the test; an explicit Terminate is allowed
// but not required.
func NewTestClient(t testing.TB, opts ...TestOption) *TestClient {
	t.Helper()

	var cfg testConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	ctx, cancel := context.WithTimeout(context.Background(), testStartTimeout)
	defer cancel()

	tc, err := startTestClient(ctx, cfg)
	if err != nil {
		t.Fatalf("start test NATS: %v", err)
	}
	t.Cleanup(func() { _ = tc.Terminate() })
	return tc
}

func startTestClient(ctx context.Context, cfg testConfig) (*TestClient, error) {
	req := testcontainers.ContainerRequest{
		Image:        testNATSImage,
		ExposedPorts: []string{"4222/tcp", "8222/tcp"},
		Cmd:          []string{"-m", "8222"},
		WaitingFor: wait.ForAll(
			wait.ForListeningPort("4222/tcp"),
			wait.ForHTTP("/healthz").WithPort("8222/tcp"),
		),
	}
	if cfg.jetstream || cfg.objectStore {
		req.Cmd = append(req.Cmd, "--js")
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("start container: %w", err)
	}

	url, err := containerNATSURL(ctx, container)
	if err != nil {
		_ = container.Terminate(context.Background())
		return nil, err
	}

	client, err := NewClient(url,
		WithTimeout(testDialTimeout),
		WithMaxReconnects(0),
		WithHealthInterval(0),
	)
	if err != nil {
		_ = container.Terminate(context.Background())
		return nil, err
	}
	if err := client.Connect(ctx); err != nil {
		_ = container.Terminate(context.Background())
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := client.WaitForConnection(ctx); err != nil {
		_ = client.Close(context.Background())
		_ = container.Terminate(context.Background())
		return nil, err
	}

	return &TestClient{Client: client, URL: url, container: container}, nil
}

func containerNATSURL(ctx context.Context, container testcontainers.Container) (string, error) {
	host, err := container.Host(ctx)
	if err != nil {
		return "", fmt.Errorf("container host: %w", err)
	}
	port, err := container.MappedPort(ctx, "4222")
	if err != nil {
		return "", fmt.Errorf("container port: %w", err)
	}
	return fmt.Sprintf("nats://%s:%s", host, port.Port()), nil
}

// Terminate closes the client and stops the container. Safe to call
// more than once.
func (tc *TestClient) Terminate() error {
	tc.once.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if tc.Client != nil {
			_ = tc.Client.Close(ctx)
		}
		if tc.container != nil {
			tc.termErr = tc.container.Terminate(ctx)
		}
	})
	return tc.termErr
}

// GetObjectBucket fetches an existing object store bucket by name.
// Requires a server started WithObjectStore.
func (tc *TestClient) GetObjectBucket(ctx context.Context, name string) (jetstream.ObjectStore, error) {
	return tc.Client.GetObjectStoreBucket(ctx, name)
}
