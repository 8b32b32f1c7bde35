package interceptors

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/drblury/phaseflow/bus"
	"github.com/drblury/phaseflow/endpoint"
	configpkg "github.com/drblury/phaseflow/internal/runtime/config"
	loggingpkg "github.com/drblury/phaseflow/internal/runtime/logging"
	"github.com/drblury/phaseflow/message"
	"github.com/drblury/phaseflow/phase"
	"github.com/drblury/phaseflow/transport"
)

type echoRequest struct {
	Text string `json:"text"`
}

type echoResponse struct {
	Echo string `json:"echo"`
}

// recordingPath is a ReplyPath that keeps every committed reply.
type recordingPath struct {
	mu      sync.Mutex
	buf     bytes.Buffer
	commits []*message.Message
	bodies  []string
}

func (p *recordingPath) Open(*message.Message) (io.Writer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.buf.Reset()
	return &p.buf, nil
}

func (p *recordingPath) Commit(m *message.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.commits = append(p.commits, m)
	p.bodies = append(p.bodies, p.buf.String())
	return nil
}

func (p *recordingPath) committed() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.commits)
}

func newTestBus(t *testing.T) *bus.Bus {
	t.Helper()
	b, err := bus.New(&configpkg.Config{}, loggingpkg.NopLogger(), bus.Dependencies{
		Registry:        transport.NewRegistry(),
		MetricsRegistry: prometheus.NewRegistry(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Shutdown(context.Background()) })
	return b
}

func echoService() *endpoint.Service {
	invoker := endpoint.InvokerFunc(func(_ context.Context, op *endpoint.Operation, params []any) ([]any, error) {
		req, _ := params[0].(*echoRequest)
		return []any{&echoResponse{Echo: req.Text}}, nil
	})
	return endpoint.NewService("echo", invoker,
		&endpoint.Operation{
			Name:      "echo",
			NewInput:  func() any { return &echoRequest{} },
			NewOutput: func() any { return &echoResponse{} },
		},
		&endpoint.Operation{
			Name:     "notify",
			NewInput: func() any { return &echoRequest{} },
			OneWay:   true,
		},
	)
}

func newTestEndpoint(t *testing.T, features ...endpoint.Feature) *endpoint.Endpoint {
	t.Helper()
	ep, err := endpoint.New(transport.EndpointInfo{Address: "local://echo"}, echoService(), features...)
	require.NoError(t, err)
	return ep
}

// inbound returns a server-side in-message on a fresh exchange that arrived
// on a destination answering through path.
func inbound(ep *endpoint.Endpoint, path *recordingPath, body string) (*message.Message, *transport.BaseDestination) {
	d := transport.NewBaseDestination(transport.EndpointReference{Address: "local://echo"})
	m := message.NewMessage()
	ex := message.Ensure(m)
	transport.SetDestination(ex, d)
	if ep != nil {
		endpoint.Set(ex, ep)
	}
	if path != nil {
		message.SetContent[transport.ReplyPath](m, path)
	}
	if body != "" {
		message.SetContent[io.Reader](m, bytes.NewBufferString(body))
	}
	return m, d
}

func runIn(t *testing.T, m *message.Message, interceptors ...message.Interceptor) error {
	t.Helper()
	chain, err := phase.Build(phase.NewManager().InPhases(), interceptors)
	require.NoError(t, err)
	return chain.DoIntercept(m)
}

func runOut(t *testing.T, m *message.Message, interceptors ...message.Interceptor) error {
	t.Helper()
	chain, err := phase.Build(phase.NewManager().OutPhases(), interceptors)
	require.NoError(t, err)
	return chain.DoIntercept(m)
}

func failing(ph string, err error) message.Interceptor {
	return phase.Func("fail-"+ph, ph, func(*message.Message) error { return err })
}
