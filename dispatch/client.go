package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/drblury/phaseflow/bus"
	"github.com/drblury/phaseflow/endpoint"
	errspkg "github.com/drblury/phaseflow/internal/runtime/errors"
	idspkg "github.com/drblury/phaseflow/internal/runtime/ids"
	loggingpkg "github.com/drblury/phaseflow/internal/runtime/logging"
	"github.com/drblury/phaseflow/interceptors"
	"github.com/drblury/phaseflow/message"
	"github.com/drblury/phaseflow/phase"
	"github.com/drblury/phaseflow/transport"
)

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithReceiveTimeout bounds how long Invoke waits for a response. It
// overrides the bus ClientReceiveTimeout.
func WithReceiveTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.timeout = d }
}

// WithClientInterceptors adds interceptors to every outbound chain.
func WithClientInterceptors(ins ...message.Interceptor) ClientOption {
	return func(c *Client) { c.extra = append(c.extra, ins...) }
}

// forgetter is implemented by conduits that keep per-request correlation
// state.
type forgetter interface {
	Forget(correlationID string)
}

// Client invokes the operations of a remote endpoint over a conduit.
type Client struct {
	bus      *bus.Bus
	endpoint *endpoint.Endpoint
	conduit  transport.Conduit
	timeout  time.Duration
	extra    []message.Interceptor
	logger   loggingpkg.ServiceLogger

	mu      sync.Mutex
	pending map[*message.Exchange]chan *message.Message
}

// NewClient resolves a conduit to the address of ep.
func NewClient(ctx context.Context, b *bus.Bus, ep *endpoint.Endpoint, opts ...ClientOption) (*Client, error) {
	if b == nil {
		return nil, errspkg.ErrBusRequired
	}
	if ep == nil {
		return nil, errspkg.ErrEndpointRequired
	}

	var (
		ci  transport.ConduitInitiator
		err error
	)
	if id := ep.Info().TransportID; id != "" {
		ci, err = b.Transports().ConduitInitiator(ctx, id)
	} else {
		ci, err = b.Transports().ConduitInitiatorForURI(ctx, ep.Address())
	}
	if err != nil {
		return nil, err
	}
	conduit, err := ci.Conduit(ctx, ep.Info(), ep.Info().Reference())
	if err != nil {
		return nil, err
	}

	c := &Client{
		bus:      b,
		endpoint: ep,
		conduit:  conduit,
		timeout:  b.Config().GetClientReceiveTimeout(),
		logger:   loggingpkg.Component(b.Logger(), "client").With(loggingpkg.LogFields{"target": ep.Address()}),
		pending:  make(map[*message.Exchange]chan *message.Message),
	}
	for _, opt := range opts {
		opt(c)
	}
	conduit.SetMessageObserver(message.ObserverFunc(c.onResponse))
	return c, nil
}

func (c *Client) Endpoint() *endpoint.Endpoint {
	return c.endpoint
}

func (c *Client) Conduit() transport.Conduit {
	return c.conduit
}

// Invoke calls operation with params and returns the response objects. A
// fault reply is returned as a *message.Fault.
func (c *Client) Invoke(ctx context.Context, operation string, params ...any) ([]any, error) {
	return c.invoke(ctx, operation, false, params)
}

// InvokeOneWay sends operation without waiting for a response.
func (c *Client) InvokeOneWay(ctx context.Context, operation string, params ...any) error {
	_, err := c.invoke(ctx, operation, true, params)
	return err
}

// Close stops response delivery and shuts the conduit down.
func (c *Client) Close() {
	c.conduit.SetMessageObserver(nil)
	c.conduit.Shutdown()
}

func (c *Client) invoke(ctx context.Context, operation string, oneWay bool, params []any) ([]any, error) {
	op, ok := c.endpoint.Service().Operation(operation)
	if !ok {
		return nil, fmt.Errorf("%w: %s", errspkg.ErrNoOperation, operation)
	}
	oneWay = oneWay || op.OneWay

	ex := message.NewExchange()
	ex.Put(message.KeyRequestorRole, true)
	ex.Put(message.KeyCorrelationID, idspkg.CreateULID())
	ex.SetOneWay(oneWay)
	bus.Set(ex, c.bus)
	endpoint.Set(ex, c.endpoint)
	endpoint.SetOperation(ex, op)
	transport.SetConduit(ex, c.conduit)

	out := message.NewMessageWithContext(bus.WithContext(ctx, c.bus))
	out.SetObjects(params...)
	ex.SetOutMessage(out)

	chain, err := endpoint.OutChain(c.bus, c.endpoint, []message.Interceptor{
		interceptors.NewCorrelationIDOut(),
		interceptors.NewMessageSender(),
	}, c.extra)
	if err != nil {
		return nil, err
	}

	var replies chan *message.Message
	if !oneWay {
		replies = c.expect(ex)
		defer c.forget(ex)
	}
	if err := chain.DoIntercept(out); err != nil {
		return nil, err
	}
	if oneWay {
		return nil, nil
	}

	resp, err := c.await(ctx, ex, replies)
	if err != nil {
		return nil, err
	}
	return c.handleResponse(ex, resp)
}

func (c *Client) await(ctx context.Context, ex *message.Exchange, replies <-chan *message.Message) (*message.Message, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	select {
	case resp := <-replies:
		return resp, nil
	case <-ctx.Done():
		if f, ok := c.conduit.(forgetter); ok {
			f.Forget(ex.GetString(message.KeyCorrelationID))
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %w", errspkg.ErrResponseTimeout, ctx.Err())
		}
		return nil, ctx.Err()
	}
}

func (c *Client) handleResponse(ex *message.Exchange, resp *message.Message) ([]any, error) {
	isFault := resp.GetBool(message.KeyFaultResponse)

	var (
		chain *phase.Chain
		err   error
	)
	if isFault {
		ex.SetInFaultMessage(resp)
		chain, err = endpoint.InFaultChain(c.bus, c.endpoint)
	} else {
		ex.SetInMessage(resp)
		chain, err = endpoint.InChain(c.bus, c.endpoint)
	}
	if err != nil {
		return nil, err
	}
	if err := chain.DoIntercept(resp); err != nil {
		return nil, err
	}

	if isFault {
		if f, ok := message.Content[*message.Fault](resp); ok && f != nil {
			return nil, f
		}
		f := message.NewFault(message.FaultCodeServer, "remote fault")
		if code := message.ResponseCode(resp); code > 0 {
			f.StatusCode = code
		}
		return nil, f
	}
	return resp.Objects(), nil
}

func (c *Client) expect(ex *message.Exchange) chan *message.Message {
	ch := make(chan *message.Message, 1)
	c.mu.Lock()
	c.pending[ex] = ch
	c.mu.Unlock()
	return ch
}

func (c *Client) forget(ex *message.Exchange) {
	c.mu.Lock()
	delete(c.pending, ex)
	c.mu.Unlock()
}

// onResponse is the conduit observer. Conduits link each response to the
// exchange of its request.
func (c *Client) onResponse(m *message.Message) error {
	ex := m.Exchange()
	c.mu.Lock()
	ch, ok := c.pending[ex]
	if ok {
		delete(c.pending, ex)
	}
	c.mu.Unlock()

	if !ok {
		c.logger.Debug("Dropping response for unknown exchange", loggingpkg.LogFields{
			"correlation_id": message.CorrelationID(m),
		})
		return nil
	}
	ch <- m
	return nil
}
