package metric

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/itsBaivab/edi-file-processor/errors"
	"github.com/itsBaivab/edi-file-processor/health"
)

// aggregateName labels the combined health report served on /health.
const aggregateName = "edi-processor"

const indexPage = `<!DOCTYPE html>
<html>
<head><title>EDI File Processor</title></head>
<body>
<h1>EDI File Processor</h1>
<ul>
<li><a href="/metrics">Prometheus metrics</a></li>
<li><a href="/health">Component health</a></li>
</ul>
</body>
</html>
`

// Server exposes the Prometheus scrape endpoint and the liveness endpoint.
type Server struct {
	addr     string
	registry *MetricsRegistry
	monitor  *health.Monitor

	mu     sync.Mutex
	server *http.Server // nil unless running, guarded by mu
}

// NewServer creates a metrics server. The monitor feeds the /health endpoint
// and may be nil, in which case /health reports a bare 200.
func NewServer(addr string, registry *MetricsRegistry, monitor *health.Monitor) *Server {
	if addr == "" {
		addr = ":9090"
	}

	return &Server{
		addr:     addr,
		registry: registry,
		monitor:  monitor,
	}
}

// Start runs the HTTP server and blocks until Stop is called. A clean
// shutdown returns nil so supervision loops treat it as a normal exit.
func (s *Server) Start() error {
	s.mu.Lock()

	if s.server != nil {
		s.mu.Unlock()
		return errors.WrapInvalid(
			fmt.Errorf("listener on %s already started", s.addr),
			"Server", "Start", "double start")
	}
	if s.registry == nil {
		s.mu.Unlock()
		return errors.WrapFatal(
			fmt.Errorf("no metrics registry"),
			"Server", "Start", "server built without a registry")
	}

	srv := &http.Server{
		Addr:         s.addr,
		Handler:      s.routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	s.server = srv

	// ListenAndServe blocks until Stop, so it runs outside the lock.
	s.mu.Unlock()

	err := srv.ListenAndServe()
	if err != nil && !stderrors.Is(err, http.ErrServerClosed) {
		return errors.WrapFatal(err, "Server", "Start",
			fmt.Sprintf("serve on %s", s.addr))
	}
	return nil
}

// Stop closes the listener. A stopped server can be started again.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	srv := s.server
	if srv == nil {
		return nil
	}
	s.server = nil

	if err := srv.Close(); err != nil {
		return errors.WrapTransient(err, "Server", "Stop", "close listener")
	}
	return nil
}

// Address returns the scrape URL for startup logs.
func (s *Server) Address() string {
	return fmt.Sprintf("http://localhost%s/metrics", s.addr)
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.Handle("/metrics", promhttp.HandlerFor(
		s.registry.PrometheusRegistry(),
		promhttp.HandlerOpts{EnableOpenMetrics: true},
	))

	mux.HandleFunc("/health", s.handleHealth)

	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = fmt.Fprint(w, indexPage)
	})

	return mux
}

// handleHealth serves the aggregated component health as JSON. Degraded still
// answers 200 so orchestrators keep the process alive while it recovers;
// only unhealthy returns 503.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if s.monitor == nil {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
		return
	}

	status := s.monitor.Report(aggregateName)

	code := http.StatusOK
	if status.IsUnhealthy() {
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(status)
}
