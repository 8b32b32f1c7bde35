package http

import (
	"bytes"
	"errors"
	"io"
	nethttp "net/http"

	errspkg "github.com/drblury/phaseflow/internal/runtime/errors"
	loggingpkg "github.com/drblury/phaseflow/internal/runtime/logging"
	metadatapkg "github.com/drblury/phaseflow/internal/runtime/metadata"
	"github.com/drblury/phaseflow/message"
	"github.com/drblury/phaseflow/transport"
)

var errAlreadyCommitted = errors.New("reply already committed")

// Conduit POSTs to its target on Close. For requestor messages expecting a
// reply, the HTTP response becomes an inbound message linked to the request
// exchange and is delivered to the observer before Close returns.
type Conduit struct {
	*transport.BaseConduit

	client *nethttp.Client
}

type requestBody struct {
	bytes.Buffer
}

func newConduit(f *Factory, target transport.EndpointReference) *Conduit {
	return &Conduit{
		BaseConduit: transport.NewBaseConduit(target, f.logger),
		client:      f.client,
	}
}

func (c *Conduit) Prepare(m *message.Message) error {
	body := &requestBody{}
	message.SetContent(m, body)
	message.SetContent[io.Writer](m, body)
	return nil
}

func (c *Conduit) Close(m *message.Message) error {
	target := c.Target().Address
	var payload []byte
	if body, ok := message.Content[*requestBody](m); ok {
		payload = body.Bytes()
	}

	req, err := nethttp.NewRequestWithContext(m.Context(), nethttp.MethodPost, target, bytes.NewReader(payload))
	if err != nil {
		return errspkg.NewIOError("send", target, err)
	}
	metadatapkg.ApplyHTTP(req.Header, transport.OutboundHeaders(m))

	resp, err := c.client.Do(req)
	if err != nil {
		return errspkg.NewIOError("send", target, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return errspkg.NewIOError("receive", target, err)
	}

	ex := m.Exchange()
	if ex == nil || ex.OneWay() || !m.IsRequestor() {
		if resp.StatusCode >= nethttp.StatusBadRequest {
			return errspkg.NewIOError("send", target, errors.New(resp.Status))
		}
		return nil
	}
	if c.MessageObserver() == nil {
		c.Logger().Debug("Discarding response, no observer", loggingpkg.LogFields{"status": resp.StatusCode})
		return nil
	}

	in := message.NewMessageWithContext(m.Context())
	transport.ApplyInboundHeaders(in, metadatapkg.FromHTTP(resp.Header))
	in.Put(message.KeyResponseCode, resp.StatusCode)
	if resp.StatusCode >= nethttp.StatusBadRequest {
		in.Put(message.KeyFaultResponse, true)
	}
	if message.CorrelationID(in) == "" {
		if id := message.CorrelationID(m); id != "" {
			in.Put(message.KeyCorrelationID, id)
		}
	}
	message.SetContent[io.Reader](in, bytes.NewReader(respBody))
	in.SetExchange(ex)
	in.Put(message.KeyRequestorRole, true)

	return c.DeliverResponse(in)
}

func (c *Conduit) Shutdown() {}
