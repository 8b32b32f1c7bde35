package http

import (
	"context"
	"errors"
	"io"
	nethttp "net/http"
	"strings"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errspkg "github.com/drblury/phaseflow/internal/runtime/errors"
	"github.com/drblury/phaseflow/message"
	"github.com/drblury/phaseflow/phase"
	"github.com/drblury/phaseflow/transport"
)

func TestRegister(t *testing.T) {
	original := transport.DefaultRegistry
	defer func() { transport.DefaultRegistry = original }()
	transport.DefaultRegistry = transport.NewRegistry()
	Register()

	caps := transport.GetCapabilities(TransportName)
	assert.Equal(t, "http", caps.Name)
	assert.True(t, caps.Synchronous)
	assert.True(t, caps.SupportsBackChannel)

	name, ok := transport.DefaultRegistry.NameForURI("https://example.com/svc")
	require.True(t, ok)
	assert.Equal(t, TransportName, name)
}

func TestCapabilities(t *testing.T) {
	assert.Equal(t, transport.HTTPCapabilities, Capabilities())
}

func TestBuild(t *testing.T) {
	f, err := Build(context.Background(), &mockConfig{timeout: 3 * time.Second}, watermill.NopLogger{})
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, 3*time.Second, f.(*Factory).client.Timeout)

	f, err = Build(context.Background(), &mockConfig{}, watermill.NopLogger{})
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, DefaultClientTimeout, f.(*Factory).client.Timeout)
}

func newFactory(t *testing.T) *Factory {
	t.Helper()
	f := NewFactory(watermill.NopLogger{})
	t.Cleanup(func() { _ = f.Close() })
	return f
}

func serve(t *testing.T, f *Factory, address string, o message.Observer) transport.Destination {
	t.Helper()
	d, err := f.Destination(context.Background(), transport.EndpointInfo{Address: address})
	require.NoError(t, err)
	d.SetMessageObserver(o)
	return d
}

func body(t *testing.T, m *message.Message) string {
	t.Helper()
	r, ok := message.Content[io.Reader](m)
	require.True(t, ok)
	b, err := io.ReadAll(r)
	require.NoError(t, err)
	return string(b)
}

// reply answers in over its back-channel with text.
func reply(in *message.Message, d transport.Destination, text string, props map[string]any) error {
	back, err := d.BackChannel(in)
	if err != nil {
		return err
	}
	out := message.NewMessage()
	in.Exchange().SetOutMessage(out)
	for k, v := range props {
		out.Put(k, v)
	}
	if err := back.Prepare(out); err != nil {
		return err
	}
	w, _ := message.Content[io.Writer](out)
	if _, err := io.WriteString(w, text); err != nil {
		return err
	}
	return back.Close(out)
}

// call sends text as a two-way request and returns the delivered response.
func call(t *testing.T, f *Factory, target, text string) *message.Message {
	t.Helper()
	c, err := f.Conduit(context.Background(), transport.EndpointInfo{}, transport.EndpointReference{Address: target})
	require.NoError(t, err)

	var got *message.Message
	c.SetMessageObserver(message.ObserverFunc(func(m *message.Message) error {
		got = m
		return nil
	}))

	ex := message.NewExchange()
	ex.Put(message.KeyRequestorRole, true)
	req := message.NewMessage()
	ex.SetOutMessage(req)
	require.NoError(t, c.Prepare(req))
	w, _ := message.Content[io.Writer](req)
	_, _ = io.WriteString(w, text)
	require.NoError(t, c.Close(req))
	require.NotNil(t, got, "response not delivered")
	assert.Same(t, ex, got.Exchange())
	return got
}

func TestRequestResponse(t *testing.T) {
	f := newFactory(t)
	var d transport.Destination
	d = serve(t, f, "http://127.0.0.1:0/echo", message.ObserverFunc(func(in *message.Message) error {
		return reply(in, d, strings.ToUpper(body(t, in)), nil)
	}))
	assert.NotContains(t, d.Address().Address, ":0/")

	resp := call(t, f, d.Address().Address, "ping")
	assert.Equal(t, "PING", body(t, resp))
	assert.Equal(t, nethttp.StatusOK, message.ResponseCode(resp))
	assert.False(t, resp.GetBool(message.KeyFaultResponse))
	assert.True(t, resp.GetBool(message.KeyInbound))
}

func TestFaultResponse(t *testing.T) {
	f := newFactory(t)
	var d transport.Destination
	d = serve(t, f, "http://127.0.0.1:0/fail", message.ObserverFunc(func(in *message.Message) error {
		return reply(in, d, `{"code":"Client"}`, map[string]any{
			message.KeyResponseCode:  nethttp.StatusBadRequest,
			message.KeyFaultResponse: true,
		})
	}))

	resp := call(t, f, d.Address().Address, "bad")
	assert.Equal(t, nethttp.StatusBadRequest, message.ResponseCode(resp))
	assert.True(t, resp.GetBool(message.KeyFaultResponse))
	assert.Equal(t, `{"code":"Client"}`, body(t, resp))
}

func TestUnansweredRequestIsAccepted(t *testing.T) {
	f := newFactory(t)
	received := make(chan string, 1)
	d := serve(t, f, "http://127.0.0.1:0/events", message.ObserverFunc(func(in *message.Message) error {
		received <- body(t, in)
		return nil
	}))

	resp, err := nethttp.Post(d.Address().Address, "text/plain", strings.NewReader("event"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, nethttp.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "event", <-received)
}

// stoppingObserver runs a chain whose first interceptor stops it once with
// stop and hands the chain to resume; the second answers with text.
func stoppingObserver(d *transport.Destination, stop func(message.InterceptorChain), resume func(message.InterceptorChain), text string) message.Observer {
	return message.ObserverFunc(func(in *message.Message) error {
		stopped := false
		chain := phase.NewChain(phase.FromNames("p"))
		err := chain.Add(
			phase.Func("park", "p", func(m *message.Message) error {
				if stopped {
					return nil
				}
				stopped = true
				stop(m.InterceptorChain())
				if resume != nil {
					go resume(m.InterceptorChain())
				}
				return nil
			}),
			phase.Func("answer", "p", func(m *message.Message) error {
				return reply(m, *d, text, nil)
			}),
		)
		if err != nil {
			return err
		}
		return chain.DoIntercept(in)
	})
}

func TestStoppedChainAnswersAfterResume(t *testing.T) {
	for name, stop := range map[string]func(message.InterceptorChain){
		"pause":   message.InterceptorChain.Pause,
		"suspend": message.InterceptorChain.Suspend,
	} {
		t.Run(name, func(t *testing.T) {
			f := newFactory(t)
			resumed := make(chan error, 1)
			resume := func(c message.InterceptorChain) {
				for c.State() == message.StateExecuting {
					time.Sleep(time.Millisecond)
				}
				time.Sleep(20 * time.Millisecond)
				resumed <- c.Resume()
			}
			var d transport.Destination
			d = serve(t, f, "http://127.0.0.1:0/later", stoppingObserver(&d, stop, resume, "late"))

			resp := call(t, f, d.Address().Address, "ping")
			assert.Equal(t, nethttp.StatusOK, message.ResponseCode(resp))
			assert.Equal(t, "late", body(t, resp))
			select {
			case err := <-resumed:
				require.NoError(t, err)
			case <-time.After(2 * time.Second):
				t.Fatal("chain was not resumed")
			}
		})
	}
}

func TestStoppedChainTimesOut(t *testing.T) {
	f := NewFactory(watermill.NopLogger{}, WithSuspendTimeout(50*time.Millisecond))
	t.Cleanup(func() { _ = f.Close() })
	var d transport.Destination
	d = serve(t, f, "http://127.0.0.1:0/parked", stoppingObserver(&d, message.InterceptorChain.Pause, nil, "never"))

	resp, err := nethttp.Post(d.Address().Address, "text/plain", strings.NewReader("event"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, nethttp.StatusServiceUnavailable, resp.StatusCode)
}

func TestOneWayConduitIgnoresResponse(t *testing.T) {
	f := newFactory(t)
	d := serve(t, f, "http://127.0.0.1:0/events", message.ObserverFunc(func(*message.Message) error { return nil }))

	c, err := f.Conduit(context.Background(), transport.EndpointInfo{}, d.Address())
	require.NoError(t, err)
	delivered := false
	c.SetMessageObserver(message.ObserverFunc(func(*message.Message) error {
		delivered = true
		return nil
	}))

	ex := message.NewExchange()
	ex.SetOneWay(true)
	ex.Put(message.KeyRequestorRole, true)
	out := message.NewMessage()
	ex.SetOutMessage(out)
	require.NoError(t, c.Prepare(out))
	require.NoError(t, c.Close(out))
	assert.False(t, delivered)
}

func TestObserverErrorIsServerError(t *testing.T) {
	f := newFactory(t)
	d := serve(t, f, "http://127.0.0.1:0/broken", message.ObserverFunc(func(*message.Message) error {
		return errors.New("boom")
	}))

	resp, err := nethttp.Post(d.Address().Address, "text/plain", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, nethttp.StatusInternalServerError, resp.StatusCode)
}

func TestHeadersTravel(t *testing.T) {
	f := newFactory(t)
	var d transport.Destination
	var seenOp, seenCorrelation string
	d = serve(t, f, "http://127.0.0.1:0/ops", message.ObserverFunc(func(in *message.Message) error {
		seenOp = in.GetString(message.KeyOperationName)
		seenCorrelation = message.CorrelationID(in)
		return reply(in, d, "ok", nil)
	}))

	c, err := f.Conduit(context.Background(), transport.EndpointInfo{}, d.Address())
	require.NoError(t, err)
	var got *message.Message
	c.SetMessageObserver(message.ObserverFunc(func(m *message.Message) error {
		got = m
		return nil
	}))

	ex := message.NewExchange()
	ex.Put(message.KeyRequestorRole, true)
	ex.Put(message.KeyCorrelationID, "corr-1")
	req := message.NewMessage()
	req.Put(message.KeyOperationName, "greet")
	ex.SetOutMessage(req)
	require.NoError(t, c.Prepare(req))
	require.NoError(t, c.Close(req))

	assert.Equal(t, "greet", seenOp)
	assert.Equal(t, "corr-1", seenCorrelation)
	require.NotNil(t, got)
	assert.Equal(t, "corr-1", message.CorrelationID(got))
}

func TestDecoupledReply(t *testing.T) {
	f := newFactory(t)
	replies := make(chan string, 1)
	replyDest := serve(t, f, "http://127.0.0.1:0/replies", message.ObserverFunc(func(in *message.Message) error {
		replies <- body(t, in)
		return nil
	}))

	var d transport.Destination
	d = serve(t, f, "http://127.0.0.1:0/svc", message.ObserverFunc(func(in *message.Message) error {
		return reply(in, d, "later", nil)
	}))

	req, err := nethttp.NewRequest(nethttp.MethodPost, d.Address().Address, strings.NewReader("x"))
	require.NoError(t, err)
	req.Header.Set(message.HeaderReplyTo, replyDest.Address().Address)
	resp, err := nethttp.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, nethttp.StatusAccepted, resp.StatusCode)
	select {
	case got := <-replies:
		assert.Equal(t, "later", got)
	case <-time.After(2 * time.Second):
		t.Fatal("decoupled reply not delivered")
	}
}

func TestRouting(t *testing.T) {
	f := newFactory(t)
	d := serve(t, f, "http://127.0.0.1:0/a", message.ObserverFunc(func(*message.Message) error { return nil }))
	base := strings.TrimSuffix(d.Address().Address, "/a")

	t.Run("unknown path", func(t *testing.T) {
		resp, err := nethttp.Post(base+"/missing", "text/plain", nil)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, nethttp.StatusNotFound, resp.StatusCode)
	})

	t.Run("only POST", func(t *testing.T) {
		resp, err := nethttp.Get(d.Address().Address)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, nethttp.StatusMethodNotAllowed, resp.StatusCode)
	})

	t.Run("path taken", func(t *testing.T) {
		_, err := f.Destination(context.Background(), transport.EndpointInfo{Address: d.Address().Address})
		assert.True(t, errspkg.IsIOError(err))
	})

	t.Run("second path shares the listener", func(t *testing.T) {
		second := serve(t, f, base+"/b", message.ObserverFunc(func(*message.Message) error { return nil }))
		assert.Equal(t, base+"/b", second.Address().Address)
		require.NoError(t, second.Shutdown(context.Background()))

		resp, err := nethttp.Post(base+"/b", "text/plain", nil)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, nethttp.StatusNotFound, resp.StatusCode)
	})
}

func TestDestinationValidation(t *testing.T) {
	f := newFactory(t)
	_, err := f.Destination(context.Background(), transport.EndpointInfo{})
	assert.ErrorIs(t, err, errspkg.ErrAddressRequired)

	_, err = f.Destination(context.Background(), transport.EndpointInfo{Address: "https://127.0.0.1:0/x"})
	assert.True(t, errspkg.IsIOError(err))

	require.NoError(t, f.Close())
	_, err = f.Destination(context.Background(), transport.EndpointInfo{Address: "http://127.0.0.1:0/x"})
	assert.ErrorIs(t, err, errspkg.ErrDestinationShutdown)
}

func TestConduitSendFailure(t *testing.T) {
	f := newFactory(t)
	c, err := f.Conduit(context.Background(), transport.EndpointInfo{}, transport.EndpointReference{Address: "http://127.0.0.1:1/none"})
	require.NoError(t, err)

	m := message.NewMessage()
	require.NoError(t, c.Prepare(m))
	err = c.Close(m)
	assert.True(t, errspkg.IsIOError(err))
}

type mockConfig struct {
	timeout time.Duration
}

func (m *mockConfig) GetKafkaBrokers() []string           { return nil }
func (m *mockConfig) GetKafkaClientID() string            { return "" }
func (m *mockConfig) GetKafkaConsumerGroup() string       { return "" }
func (m *mockConfig) GetRabbitMQURL() string              { return "" }
func (m *mockConfig) GetNATSURL() string                  { return "" }
func (m *mockConfig) GetHTTPClientTimeout() time.Duration { return m.timeout }
func (m *mockConfig) GetWebhookListenAddress() string     { return "" }
func (m *mockConfig) GetHTTPPublisherURL() string         { return "" }
func (m *mockConfig) GetIOFile() string                   { return "" }
func (m *mockConfig) GetAWSRegion() string                { return "" }
func (m *mockConfig) GetAWSAccountID() string             { return "" }
func (m *mockConfig) GetAWSAccessKeyID() string           { return "" }
func (m *mockConfig) GetAWSSecretAccessKey() string       { return "" }
func (m *mockConfig) GetAWSEndpoint() string              { return "" }
func (m *mockConfig) GetReplyTopic() string               { return "" }
