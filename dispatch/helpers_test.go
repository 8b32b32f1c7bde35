package dispatch

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/drblury/phaseflow/bus"
	"github.com/drblury/phaseflow/endpoint"
	configpkg "github.com/drblury/phaseflow/internal/runtime/config"
	loggingpkg "github.com/drblury/phaseflow/internal/runtime/logging"
	"github.com/drblury/phaseflow/interceptors"
	"github.com/drblury/phaseflow/message"
	"github.com/drblury/phaseflow/transport"
	httptransport "github.com/drblury/phaseflow/transport/http"
	"github.com/drblury/phaseflow/transport/local"
)

type echoRequest struct {
	Text string `json:"text"`
}

type echoResponse struct {
	Echo string `json:"echo"`
}

func newBus(t *testing.T, conf *configpkg.Config) *bus.Bus {
	t.Helper()
	if conf == nil {
		conf = &configpkg.Config{}
	}
	reg := transport.NewRegistry()
	reg.RegisterWithCapabilities(local.TransportName, local.Build, local.Capabilities())
	reg.RegisterWithCapabilities(httptransport.TransportName, httptransport.Build, httptransport.Capabilities())

	b, err := bus.New(conf, loggingpkg.NopLogger(), bus.Dependencies{
		Registry:        reg,
		MetricsRegistry: prometheus.NewRegistry(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Shutdown(context.Background()) })
	return b
}

// echoService answers "echo" with the request text, records "notify" calls
// and rejects "reject" with a 422 client fault.
type echoService struct {
	prefix   string
	notified chan string
}

func newEchoService(name, prefix string, ops ...string) (*endpoint.Service, *echoService) {
	impl := &echoService{prefix: prefix, notified: make(chan string, 8)}
	if len(ops) == 0 {
		ops = []string{"echo", "notify", "reject"}
	}
	svc := endpoint.NewService(name, endpoint.InvokerFunc(impl.invoke))
	for _, op := range ops {
		svc.AddOperation(&endpoint.Operation{
			Name:      op,
			NewInput:  func() any { return &echoRequest{} },
			NewOutput: func() any { return &echoResponse{} },
			OneWay:    op == "notify",
		})
	}
	return svc, impl
}

func (s *echoService) invoke(_ context.Context, op *endpoint.Operation, params []any) ([]any, error) {
	var text string
	if len(params) > 0 {
		if req, ok := params[0].(*echoRequest); ok {
			text = req.Text
		}
	}
	switch {
	case op.Name == "notify":
		s.notified <- text
		return nil, nil
	case op.Name == "reject":
		f := message.NewFault(message.FaultCodeClient, "rejected %q", text)
		f.StatusCode = http.StatusUnprocessableEntity
		return nil, f
	default:
		return []any{&echoResponse{Echo: s.prefix + text}}, nil
	}
}

func newEndpoint(t *testing.T, address string, svc *endpoint.Service) *endpoint.Endpoint {
	t.Helper()
	ep, err := endpoint.New(transport.EndpointInfo{Address: address}, svc, interceptors.NewJSONBinding())
	require.NoError(t, err)
	return ep
}

func startServer(t *testing.T, b *bus.Bus, ep *endpoint.Endpoint, opts ...ServerOption) *Server {
	t.Helper()
	s, err := NewServer(context.Background(), b, ep, opts...)
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Stop(context.Background()) })
	return s
}

func newClient(t *testing.T, b *bus.Bus, ep *endpoint.Endpoint, opts ...ClientOption) *Client {
	t.Helper()
	opts = append([]ClientOption{WithReceiveTimeout(5 * time.Second)}, opts...)
	c, err := NewClient(context.Background(), b, ep, opts...)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func waitNotified(t *testing.T, impl *echoService) string {
	t.Helper()
	select {
	case text := <-impl.notified:
		return text
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for one-way call")
		return ""
	}
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

// request builds an inbound message naming operation with a JSON body that
// answers through path.
func request(operation, body string, path *recordingPath) *message.Message {
	m := message.NewMessage()
	m.Put(message.KeyOperationName, operation)
	message.SetContent[io.Reader](m, strings.NewReader(body))
	if path != nil {
		message.SetContent[transport.ReplyPath](m, path)
	}
	return m
}
