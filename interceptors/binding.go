package interceptors

import (
	"bytes"
	"io"
	"net/http"

	"github.com/drblury/phaseflow/bus"
	"github.com/drblury/phaseflow/endpoint"
	errspkg "github.com/drblury/phaseflow/internal/runtime/errors"
	"github.com/drblury/phaseflow/message"
	"github.com/drblury/phaseflow/phase"
)

// ContentTypeJSON is set on messages written by the binding interceptors.
const ContentTypeJSON = "application/json"

const (
	FaultOutID = "FaultWriter"
	FaultInID  = "FaultReader"
)

// codec turns bodies into operation objects and back.
type codec struct {
	name      string
	unmarshal func(data []byte, target any) (any, error)
	marshal   func(objs []any) ([]byte, error)
}

// binding holds the four interceptors a data binding contributes.
type binding struct {
	in, out, faultOut, faultIn message.Interceptor
}

func newBinding(c codec) binding {
	return binding{
		in:       phase.Func(c.name+"In", phase.Unmarshal, func(m *message.Message) error { return readObjects(c, m) }),
		out:      phase.Func(c.name+"Out", phase.Marshal, func(m *message.Message) error { return writeObjects(c, m) }),
		faultOut: phase.Func(FaultOutID, phase.Marshal, writeFault),
		faultIn:  phase.Func(FaultInID, phase.Unmarshal, readFault),
	}
}

func (b binding) Initialize(ep *endpoint.Endpoint) error {
	ep.InInterceptors().Add(b.in)
	ep.OutInterceptors().Add(b.out)
	ep.OutFaultInterceptors().Add(b.faultOut)
	ep.InFaultInterceptors().Add(b.faultIn)
	return nil
}

func (b binding) InitializeBus(bb *bus.Bus) error {
	bb.InInterceptors().Add(b.in)
	bb.OutInterceptors().Add(b.out)
	bb.OutFaultInterceptors().Add(b.faultOut)
	bb.InFaultInterceptors().Add(b.faultIn)
	return nil
}

func readBody(m *message.Message) ([]byte, error) {
	r, ok := message.Content[io.Reader](m)
	if !ok || r == nil {
		return nil, nil
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errspkg.NewIOError("read", m.GetString(message.KeyEndpointAddress), err)
	}
	// later interceptors may want the raw body again
	message.SetContent[io.Reader](m, bytes.NewReader(data))
	return data, nil
}

// readObjects decodes the body into the operation input on the server and
// into the operation output on the client.
func readObjects(c codec, m *message.Message) error {
	var newTarget func() any
	if m.IsRequestor() {
		if op := endpoint.OperationOf(m.Exchange()); op != nil {
			newTarget = op.NewOutput
		}
	} else if endpoint.Of(m.Exchange()) != nil {
		op, err := endpoint.SelectOperation(m)
		if err != nil {
			return err
		}
		newTarget = op.NewInput
	}

	data, err := readBody(m)
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}

	var target any
	if newTarget != nil {
		target = newTarget()
	}
	obj, err := c.unmarshal(data, target)
	if err != nil {
		return message.ClientFault(err, "cannot decode %s body", c.name)
	}
	m.SetObjects(obj)
	return nil
}

func writeObjects(c codec, m *message.Message) error {
	objs := m.Objects()
	if len(objs) == 0 {
		return nil
	}
	w, ok := message.Content[io.Writer](m)
	if !ok {
		return errspkg.ErrNoOutputStream
	}
	data, err := c.marshal(objs)
	if err != nil {
		return message.NewFault(message.FaultCodeServer, "cannot encode %s body: %v", c.name, err)
	}
	if m.GetString(message.KeyContentType) == "" {
		m.Put(message.KeyContentType, ContentTypeJSON)
	}
	_, err = w.Write(data)
	return err
}

// writeFault renders the exception of an out-fault message as a JSON fault
// body and marks the message as a fault reply.
func writeFault(m *message.Message) error {
	f, ok := message.Content[*message.Fault](m)
	if !ok || f == nil {
		f = message.AsFault(m.Exception())
	}
	if f == nil {
		f = message.NewFault(message.FaultCodeServer, "unknown fault")
	}
	m.Put(message.KeyResponseCode, f.Status())
	m.Put(message.KeyFaultResponse, true)
	m.Put(message.KeyContentType, ContentTypeJSON)

	w, ok := message.Content[io.Writer](m)
	if !ok {
		return errspkg.ErrNoOutputStream
	}
	return encodeJSON(w, f)
}

// readFault decodes a fault reply into a *message.Fault content on the
// in-fault message.
func readFault(m *message.Message) error {
	data, err := readBody(m)
	if err != nil {
		return err
	}
	f := &message.Fault{}
	if len(bytes.TrimSpace(data)) == 0 || decodeJSON(data, f) != nil || f.Message == "" {
		f = message.NewFault(message.FaultCodeServer, "remote fault: %s", bytes.TrimSpace(data))
	}
	if f.Code == "" {
		f.Code = message.FaultCodeServer
	}
	if code := message.ResponseCode(m); code > 0 {
		f.StatusCode = code
	} else if f.StatusCode == 0 {
		f.StatusCode = http.StatusInternalServerError
	}
	message.SetContent(m, f)
	return nil
}
