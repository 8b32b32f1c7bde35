package pubsub

import (
	"bytes"
	"context"
	"io"
	"sync"

	wmmessage "github.com/ThreeDotsLabs/watermill/message"

	errspkg "github.com/drblury/phaseflow/internal/runtime/errors"
	loggingpkg "github.com/drblury/phaseflow/internal/runtime/logging"
	"github.com/drblury/phaseflow/message"
	"github.com/drblury/phaseflow/transport"
)

// Destination consumes a topic. The subscription is opened on creation and
// messages are consumed once the first observer is set. A message is acked
// when the observer returns nil and nacked otherwise.
type Destination struct {
	*transport.BaseDestination

	factory *Factory
	topic   string
	msgs    <-chan *wmmessage.Message
	cancel  context.CancelFunc
	start   sync.Once
	done    chan struct{}
}

func newDestination(ctx context.Context, f *Factory, info transport.EndpointInfo) (*Destination, error) {
	topic := f.topic(info.Address)
	subCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	msgs, err := f.sub.Subscribe(subCtx, topic)
	if err != nil {
		cancel()
		return nil, errspkg.NewIOError("subscribe", info.Address, err)
	}

	d := &Destination{
		factory: f,
		topic:   topic,
		msgs:    msgs,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	d.BaseDestination = transport.NewBaseDestination(info.Reference(),
		transport.WithDestinationLogger(f.logger.With(loggingpkg.LogFields{"topic": topic})),
		transport.WithRelease(d.release),
	)
	return d, nil
}

// Topic returns the consumed topic.
func (d *Destination) Topic() string {
	return d.topic
}

// SetMessageObserver sets the observer and starts consumption on first use.
func (d *Destination) SetMessageObserver(o transport.MessageObserver) {
	d.BaseDestination.SetMessageObserver(o)
	if o != nil {
		d.start.Do(func() { go d.consume() })
	}
}

func (d *Destination) consume() {
	defer close(d.done)
	for wm := range d.msgs {
		d.handle(wm)
	}
}

func (d *Destination) handle(wm *wmmessage.Message) {
	m := FromWatermill(wm)
	ex := message.NewExchange()
	ex.SetInMessage(m)
	ex.Put(message.KeyCorrelationID, message.CorrelationID(m))

	if replyTo := m.GetString(message.KeyReplyTo); replyTo != "" {
		message.SetContent[transport.ReplyPath](m, &replyPath{
			factory: d.factory,
			topic:   d.factory.topic(replyTo),
		})
	} else {
		// nobody is listening for a response
		ex.SetOneWay(true)
	}

	if err := d.Dispatch(m); err != nil {
		d.Logger().Error("Inbound message failed", err, loggingpkg.LogFields{
			"message_id":     wm.UUID,
			"correlation_id": message.CorrelationID(m),
		})
		wm.Nack()
		return
	}
	wm.Ack()
}

func (d *Destination) release(context.Context) error {
	d.cancel()
	d.factory.forget(d.Address().Address, d)
	return nil
}

// replyPath publishes the response to the requestor's reply topic. The
// correlation ID travels through the exchange.
type replyPath struct {
	factory *Factory
	topic   string
	buf     bytes.Buffer
}

func (p *replyPath) Open(*message.Message) (io.Writer, error) {
	p.buf.Reset()
	return &p.buf, nil
}

func (p *replyPath) Commit(m *message.Message) error {
	return p.factory.publish(p.topic, m, p.buf.Bytes())
}
