package http

import (
	"context"
	"errors"
	"fmt"
	nethttp "net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	loggingpkg "github.com/drblury/phaseflow/internal/runtime/logging"
)

// engine is one listener. Routes are looked up per request so destinations
// can come and go while the server runs.
type engine struct {
	addr   string
	server *nethttp.Server
	logger loggingpkg.ServiceLogger
	done   chan struct{}

	mu     sync.RWMutex
	routes map[string]*Destination
}

func startEngine(hostport string, logger loggingpkg.ServiceLogger) (*engine, error) {
	ln, err := Listen("tcp", hostport)
	if err != nil {
		return nil, err
	}

	e := &engine{
		addr:   ln.Addr().String(),
		routes: make(map[string]*Destination),
		done:   make(chan struct{}),
	}
	e.logger = logger.With(loggingpkg.LogFields{"listen": e.addr})

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Post("/*", e.serve)
	e.server = &nethttp.Server{Handler: r}

	go func() {
		defer close(e.done)
		if err := e.server.Serve(ln); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
			e.logger.Error("HTTP listener stopped", err, nil)
		}
	}()
	e.logger.Info("HTTP listener started", nil)
	return e, nil
}

func (e *engine) serve(w nethttp.ResponseWriter, r *nethttp.Request) {
	e.mu.RLock()
	d, ok := e.routes[r.URL.EscapedPath()]
	e.mu.RUnlock()
	if !ok {
		nethttp.NotFound(w, r)
		return
	}
	d.serveHTTP(w, r)
}

func (e *engine) add(path string, d *Destination) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, taken := e.routes[path]; taken {
		return fmt.Errorf("path %s already served on %s", path, e.addr)
	}
	e.routes[path] = d
	return nil
}

func (e *engine) remove(path string) {
	e.mu.Lock()
	delete(e.routes, path)
	e.mu.Unlock()
}

func (e *engine) empty() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.routes) == 0
}

func (e *engine) stop(ctx context.Context) error {
	err := e.server.Shutdown(ctx)
	<-e.done
	e.logger.Info("HTTP listener stopped", nil)
	return err
}

