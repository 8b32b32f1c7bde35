package pubsub

import (
	"bytes"
	"context"
	"io"
	"sync"

	wmmessage "github.com/ThreeDotsLabs/watermill/message"

	errspkg "github.com/drblury/phaseflow/internal/runtime/errors"
	idspkg "github.com/drblury/phaseflow/internal/runtime/ids"
	loggingpkg "github.com/drblury/phaseflow/internal/runtime/logging"
	"github.com/drblury/phaseflow/message"
	"github.com/drblury/phaseflow/transport"
)

// Conduit publishes to a topic. Two-way requests carry the factory's reply
// topic as reply-to and a correlation ID; the reply is delivered to the
// conduit observer linked to the request exchange.
type Conduit struct {
	*transport.BaseConduit

	factory *Factory
	topic   string
}

type outBuffer struct {
	bytes.Buffer
}

func (c *Conduit) Prepare(m *message.Message) error {
	buf := &outBuffer{}
	message.SetContent(m, buf)
	message.SetContent[io.Writer](m, buf)
	return nil
}

func (c *Conduit) Close(m *message.Message) error {
	var payload []byte
	if buf, ok := message.Content[*outBuffer](m); ok {
		payload = buf.Bytes()
	}

	ex := m.Exchange()
	expectsReply := ex != nil && !ex.OneWay() && m.IsRequestor()
	if !expectsReply {
		return c.factory.publish(c.topic, m, payload)
	}

	if c.factory.replyTopic == "" {
		return errspkg.NewIOError("send", c.Target().Address, errspkg.ErrNoBackChannel)
	}
	router, err := c.factory.replyRouter()
	if err != nil {
		return errspkg.NewIOError("send", c.Target().Address, err)
	}

	correlationID := message.CorrelationID(m)
	if correlationID == "" {
		correlationID = idspkg.CreateULID()
		m.Put(message.KeyCorrelationID, correlationID)
	}
	m.Put(message.KeyReplyTo, c.factory.replyAddress())

	router.expect(correlationID, c, ex)
	if err := c.factory.publish(c.topic, m, payload); err != nil {
		router.forget(correlationID)
		return err
	}
	return nil
}

// Forget drops a pending correlation, for example after the requestor gave up
// waiting.
func (c *Conduit) Forget(correlationID string) {
	c.factory.mu.Lock()
	r := c.factory.replies
	c.factory.mu.Unlock()
	if r != nil {
		r.forget(correlationID)
	}
}

func (c *Conduit) Shutdown() {}

type pendingReply struct {
	conduit  *Conduit
	exchange *message.Exchange
}

// replyRouter consumes the reply topic and routes replies by correlation ID.
type replyRouter struct {
	factory *Factory
	cancel  context.CancelFunc
	done    chan struct{}

	mu      sync.Mutex
	pending map[string]pendingReply
}

func startReplyRouter(f *Factory) (*replyRouter, error) {
	ctx, cancel := context.WithCancel(context.Background())
	msgs, err := f.sub.Subscribe(ctx, f.replyTopic)
	if err != nil {
		cancel()
		return nil, errspkg.NewIOError("subscribe", f.replyAddress(), err)
	}
	r := &replyRouter{
		factory: f,
		cancel:  cancel,
		done:    make(chan struct{}),
		pending: make(map[string]pendingReply),
	}
	go r.route(msgs)
	return r, nil
}

func (r *replyRouter) expect(correlationID string, c *Conduit, ex *message.Exchange) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending[correlationID] = pendingReply{conduit: c, exchange: ex}
}

func (r *replyRouter) forget(correlationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pending, correlationID)
}

func (r *replyRouter) take(correlationID string) (pendingReply, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pending[correlationID]
	if ok {
		delete(r.pending, correlationID)
	}
	return p, ok
}

func (r *replyRouter) route(msgs <-chan *wmmessage.Message) {
	defer close(r.done)
	for wm := range msgs {
		m := FromWatermill(wm)
		correlationID := message.CorrelationID(m)
		p, ok := r.take(correlationID)
		if !ok {
			r.factory.logger.Debug("Dropping uncorrelated reply", loggingpkg.LogFields{
				"correlation_id": correlationID,
			})
			wm.Ack()
			continue
		}
		m.SetExchange(p.exchange)
		m.Put(message.KeyRequestorRole, true)
		if err := p.conduit.DeliverResponse(m); err != nil {
			r.factory.logger.Error("Reply delivery failed", err, loggingpkg.LogFields{
				"correlation_id": correlationID,
			})
		}
		wm.Ack()
	}
}

func (r *replyRouter) stop() {
	r.cancel()
}
