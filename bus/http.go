package bus

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	loggingpkg "github.com/drblury/phaseflow/internal/runtime/logging"
)

// DefaultAdminPort is used when the admin API is enabled without a port.
const DefaultAdminPort = 8081

// ListenFunc opens the listener for an HTTP port. Tests replace it.
var ListenFunc = func(addr string) (net.Listener, error) {
	return net.Listen("tcp", addr)
}

// ReadHeaderTimeout bounds header reads on the bus HTTP listeners.
var ReadHeaderTimeout = 10 * time.Second

type httpListener struct {
	mux    *http.ServeMux
	server *http.Server
	addr   string
	done   chan struct{}
}

// RegisterHTTPHandler mounts handler on the bus listener for port. Handlers
// registered after Start are served by an already running listener.
func (b *Bus) RegisterHTTPHandler(port int, pattern string, handler http.Handler) {
	b.httpMu.Lock()
	defer b.httpMu.Unlock()

	l, ok := b.httpServers[port]
	if !ok {
		l = &httpListener{mux: http.NewServeMux()}
		b.httpServers[port] = l
	}
	l.mux.Handle(pattern, handler)
}

// HTTPAddr returns the bound address of the listener for port, or "" when it
// is not running.
func (b *Bus) HTTPAddr(port int) string {
	b.httpMu.Lock()
	defer b.httpMu.Unlock()
	if l, ok := b.httpServers[port]; ok {
		return l.addr
	}
	return ""
}

func (b *Bus) registerMetricsEndpoint() {
	if !b.conf.MetricsEnabled {
		return
	}
	handler := promhttp.InstrumentMetricHandler(
		b.registerer,
		promhttp.HandlerFor(b.gatherer, promhttp.HandlerOpts{}),
	)
	b.RegisterHTTPHandler(b.conf.MetricsPort, "/metrics", handler)
}

func (b *Bus) registerAdminEndpoint() {
	if !b.conf.AdminEnabled || b.admin == nil {
		return
	}
	port := b.conf.AdminPort
	if port == 0 {
		port = DefaultAdminPort
	}
	b.RegisterHTTPHandler(port, "/", b.admin(b))
}

func (b *Bus) startHTTPServers() error {
	b.httpMu.Lock()
	defer b.httpMu.Unlock()

	for port, l := range b.httpServers {
		if l.server != nil {
			continue
		}
		addr := fmt.Sprintf(":%d", port)
		ln, err := ListenFunc(addr)
		if err != nil {
			return fmt.Errorf("listen on %s: %w", addr, err)
		}
		l.addr = ln.Addr().String()
		l.server = &http.Server{Handler: l.mux, ReadHeaderTimeout: ReadHeaderTimeout}
		l.done = make(chan struct{})
		b.logger.Info("Starting HTTP server", loggingpkg.LogFields{"address": l.addr})

		go func(l *httpListener, ln net.Listener) {
			defer close(l.done)
			if err := l.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				b.logger.Error("HTTP server stopped", err, loggingpkg.LogFields{"address": l.addr})
			}
		}(l, ln)
	}
	return nil
}

func (b *Bus) stopHTTPServers(ctx context.Context) error {
	b.httpMu.Lock()
	listeners := make([]*httpListener, 0, len(b.httpServers))
	for _, l := range b.httpServers {
		if l.server != nil {
			listeners = append(listeners, l)
		}
	}
	b.httpMu.Unlock()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, l := range listeners {
		wg.Add(1)
		go func(l *httpListener) {
			defer wg.Done()
			if err := l.server.Shutdown(ctx); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			<-l.done
		}(l)
	}
	wg.Wait()
	return errors.Join(errs...)
}
