package http

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	nethttp "net/http"
	"sync"
	"time"

	errspkg "github.com/drblury/phaseflow/internal/runtime/errors"
	loggingpkg "github.com/drblury/phaseflow/internal/runtime/logging"
	metadatapkg "github.com/drblury/phaseflow/internal/runtime/metadata"
	"github.com/drblury/phaseflow/message"
	"github.com/drblury/phaseflow/transport"
)

// MaxRequestBody caps the size of an inbound request body.
var MaxRequestBody int64 = 16 << 20

// DefaultSuspendTimeout is how long a request stays open for a paused or
// suspended chain to be resumed and answer.
const DefaultSuspendTimeout = 5 * time.Minute

const resumePoll = 10 * time.Millisecond

// Destination is one routed path of an engine. Each request is dispatched on
// the serving goroutine; if the chain never answered, the request is
// acknowledged with 202 Accepted. A request whose chain paused or suspended
// stays open until the resumed chain answers or finishes.
type Destination struct {
	*transport.BaseDestination

	engine  *engine
	path    string
	suspend time.Duration
}

func newDestination(f *Factory, e *engine, path string, address transport.EndpointReference) *Destination {
	d := &Destination{engine: e, path: path, suspend: f.suspendTimeout}
	d.BaseDestination = transport.NewBaseDestination(address,
		transport.WithDestinationLogger(f.logger),
		transport.WithDecoupledConduit(f.decoupled),
		transport.WithRelease(func(context.Context) error { return f.release(e, path) }),
	)
	return d
}

// Path returns the served URL path.
func (d *Destination) Path() string {
	return d.path
}

func (d *Destination) serveHTTP(w nethttp.ResponseWriter, r *nethttp.Request) {
	body, err := io.ReadAll(nethttp.MaxBytesReader(w, r.Body, MaxRequestBody))
	if err != nil {
		nethttp.Error(w, err.Error(), nethttp.StatusRequestEntityTooLarge)
		return
	}

	m := message.NewMessageWithContext(r.Context())
	transport.ApplyInboundHeaders(m, metadatapkg.FromHTTP(r.Header))
	message.SetContent[io.Reader](m, bytes.NewReader(body))

	ex := message.NewExchange()
	ex.SetInMessage(m)
	if id := message.CorrelationID(m); id != "" {
		ex.Put(message.KeyCorrelationID, id)
	}

	reply := newResponseReply(w)
	message.SetContent[transport.ReplyPath](m, reply)

	err = d.Dispatch(m)
	if err == nil || errors.Is(err, errspkg.ErrSuspended) {
		err = d.awaitResume(r.Context(), m, reply)
	}
	if reply.seal() {
		return
	}
	if err != nil {
		d.Logger().Error("Inbound request failed", err, loggingpkg.LogFields{
			"path":           d.path,
			"correlation_id": message.CorrelationID(m),
		})
		status := nethttp.StatusInternalServerError
		if errspkg.IsIOError(err) {
			status = nethttp.StatusServiceUnavailable
		}
		nethttp.Error(w, err.Error(), status)
		return
	}
	w.WriteHeader(nethttp.StatusAccepted)
}

// awaitResume blocks while the chain of m is stopped or running again after a
// Resume, until it commits the reply or reaches a final state. A chain that
// ends with an exception and no reply yields that exception.
func (d *Destination) awaitResume(ctx context.Context, m *message.Message, reply *responseReply) error {
	chain := m.InterceptorChain()
	if chain == nil || !resumable(chain.State()) {
		return nil
	}
	d.Logger().Debug("Holding request for a stopped chain", loggingpkg.LogFields{
		"path":           d.path,
		"correlation_id": message.CorrelationID(m),
		"state":          chain.State().String(),
	})

	timeout := time.NewTimer(d.suspend)
	defer timeout.Stop()
	ticker := time.NewTicker(resumePoll)
	defer ticker.Stop()
	for {
		select {
		case <-reply.committedCh:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-timeout.C:
			return errspkg.NewIOError("resume", d.path, fmt.Errorf("%w: not answered within %s", errspkg.ErrSuspended, d.suspend))
		case <-ticker.C:
			if state := chain.State(); state == message.StateComplete || state == message.StateAborted || state == message.StateIdle {
				return m.Exception()
			}
		}
	}
}

func resumable(s message.ChainState) bool {
	return s == message.StatePaused || s == message.StateSuspended
}

// responseReply buffers the reply body so the status code can be chosen after
// the body was marshalled.
type responseReply struct {
	w nethttp.ResponseWriter

	mu          sync.Mutex
	buf         bytes.Buffer
	done        bool
	sealed      bool
	committedCh chan struct{}
}

func newResponseReply(w nethttp.ResponseWriter) *responseReply {
	return &responseReply{w: w, committedCh: make(chan struct{})}
}

func (p *responseReply) Open(*message.Message) (io.Writer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done {
		return nil, errAlreadyCommitted
	}
	p.buf.Reset()
	return &p.buf, nil
}

func (p *responseReply) Commit(m *message.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done || p.sealed {
		return errAlreadyCommitted
	}
	p.done = true
	defer close(p.committedCh)

	metadatapkg.ApplyHTTP(p.w.Header(), transport.OutboundHeaders(m))
	p.w.WriteHeader(replyStatus(m, p.buf.Len()))
	_, err := p.w.Write(p.buf.Bytes())
	return err
}

// seal stops later commits, which would otherwise write to a finished
// response, and reports whether the reply was committed before.
func (p *responseReply) seal() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sealed = true
	return p.done
}

func replyStatus(m *message.Message, size int) int {
	if code := message.ResponseCode(m); code > 0 {
		return code
	}
	if m.GetBool(message.KeyFaultResponse) {
		return nethttp.StatusInternalServerError
	}
	if size == 0 {
		if ex := m.Exchange(); ex != nil && ex.OneWay() {
			return nethttp.StatusAccepted
		}
	}
	return nethttp.StatusOK
}
