package interceptors

import (
	"bytes"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/drblury/phaseflow/endpoint"
	errspkg "github.com/drblury/phaseflow/internal/runtime/errors"
	"github.com/drblury/phaseflow/message"
)

func TestJSONBindingInstallsOnEndpoint(t *testing.T) {
	ep := newTestEndpoint(t, NewJSONBinding())
	assert.Equal(t, 1, ep.InInterceptors().Len())
	assert.Equal(t, 1, ep.OutInterceptors().Len())
	assert.Equal(t, 1, ep.InFaultInterceptors().Len())
	assert.Equal(t, 1, ep.OutFaultInterceptors().Len())
}

func TestJSONBindingDecodesOperationInput(t *testing.T) {
	ep := newTestEndpoint(t)
	b := NewJSONBinding()

	in, _ := inbound(ep, nil, `{"text":"hello"}`)
	in.Put(message.KeyOperationName, "echo")
	require.NoError(t, b.in.HandleMessage(in))

	objs := in.Objects()
	require.Len(t, objs, 1)
	assert.Equal(t, &echoRequest{Text: "hello"}, objs[0])

	// the raw body stays readable
	r, ok := message.Content[io.Reader](in)
	require.True(t, ok)
	raw, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.JSONEq(t, `{"text":"hello"}`, string(raw))
}

func TestJSONBindingSkipsEmptyBody(t *testing.T) {
	ep := newTestEndpoint(t)
	in, _ := inbound(ep, nil, "   ")
	in.Put(message.KeyOperationName, "echo")

	require.NoError(t, NewJSONBinding().in.HandleMessage(in))
	assert.Empty(t, in.Objects())
}

func TestJSONBindingMalformedBodyIsClientFault(t *testing.T) {
	ep := newTestEndpoint(t)
	in, _ := inbound(ep, nil, `{"text":`)
	in.Put(message.KeyOperationName, "echo")

	err := NewJSONBinding().in.HandleMessage(in)
	f := message.AsFault(err)
	require.NotNil(t, f)
	assert.Equal(t, message.FaultCodeClient, f.Code)
	assert.Equal(t, http.StatusBadRequest, f.Status())
}

func TestJSONBindingUnknownOperationFaults(t *testing.T) {
	ep := newTestEndpoint(t)
	in, _ := inbound(ep, nil, `{}`)
	in.Put(message.KeyOperationName, "missing")

	err := NewJSONBinding().in.HandleMessage(in)
	assert.ErrorIs(t, err, errspkg.ErrNoOperation)
	assert.Equal(t, http.StatusNotFound, message.AsFault(err).Status())
}

func TestJSONBindingClientDecodesOperationOutput(t *testing.T) {
	ex := message.NewExchange()
	ex.Put(message.KeyRequestorRole, true)
	op, ok := echoService().Operation("echo")
	require.True(t, ok)
	endpoint.SetOperation(ex, op)

	resp := message.NewMessage()
	ex.SetInMessage(resp)
	message.SetContent[io.Reader](resp, bytes.NewBufferString(`{"echo":"hi"}`))

	require.NoError(t, NewJSONBinding().in.HandleMessage(resp))
	require.Len(t, resp.Objects(), 1)
	assert.Equal(t, &echoResponse{Echo: "hi"}, resp.Objects()[0])
}

func TestJSONBindingWithoutTargetDecodesGenericValue(t *testing.T) {
	m := message.NewMessage()
	message.SetContent[io.Reader](m, bytes.NewBufferString(`{"n":1}`))

	require.NoError(t, NewJSONBinding().in.HandleMessage(m))
	require.Len(t, m.Objects(), 1)
	assert.Equal(t, map[string]any{"n": float64(1)}, m.Objects()[0])
}

func TestJSONBindingWritesObjects(t *testing.T) {
	b := NewJSONBinding()
	m := message.NewMessage()
	m.SetObjects(&echoResponse{Echo: "hi"})

	assert.ErrorIs(t, b.out.HandleMessage(m), errspkg.ErrNoOutputStream)

	var buf bytes.Buffer
	message.SetContent[io.Writer](m, &buf)
	require.NoError(t, b.out.HandleMessage(m))
	assert.JSONEq(t, `{"echo":"hi"}`, buf.String())
	assert.Equal(t, ContentTypeJSON, m.GetString(message.KeyContentType))

	buf.Reset()
	m.SetObjects("a", "b")
	require.NoError(t, b.out.HandleMessage(m))
	assert.JSONEq(t, `["a","b"]`, buf.String())
}

func TestJSONBindingWritesNothingWithoutObjects(t *testing.T) {
	m := message.NewMessage()
	assert.NoError(t, NewJSONBinding().out.HandleMessage(m))
}

func TestFaultWriterAndReaderRoundTrip(t *testing.T) {
	out := message.NewMessage()
	out.SetException(message.ClientFault(errspkg.ErrNoOperation, "no operation %q", "x"))
	var buf bytes.Buffer
	message.SetContent[io.Writer](out, &buf)

	require.NoError(t, writeFault(out))
	assert.Equal(t, http.StatusBadRequest, message.ResponseCode(out))
	assert.True(t, out.GetBool(message.KeyFaultResponse))

	in := message.NewMessage()
	in.Put(message.KeyResponseCode, http.StatusBadRequest)
	message.SetContent[io.Reader](in, bytes.NewReader(buf.Bytes()))
	require.NoError(t, readFault(in))

	f, ok := message.Content[*message.Fault](in)
	require.True(t, ok)
	assert.Equal(t, message.FaultCodeClient, f.Code)
	assert.Equal(t, `no operation "x"`, f.Message)
	assert.Equal(t, http.StatusBadRequest, f.Status())
}

func TestFaultReaderWrapsUnstructuredBody(t *testing.T) {
	in := message.NewMessage()
	message.SetContent[io.Reader](in, bytes.NewBufferString("upstream exploded"))
	require.NoError(t, readFault(in))

	f, ok := message.Content[*message.Fault](in)
	require.True(t, ok)
	assert.Equal(t, message.FaultCodeServer, f.Code)
	assert.Contains(t, f.Message, "upstream exploded")
	assert.Equal(t, http.StatusInternalServerError, f.Status())
}

func TestFaultWriterRequiresOutput(t *testing.T) {
	out := message.NewMessage()
	out.SetException(message.NewFault(message.FaultCodeServer, "boom"))
	assert.ErrorIs(t, writeFault(out), errspkg.ErrNoOutputStream)
	assert.Equal(t, http.StatusInternalServerError, message.ResponseCode(out))
}

func TestProtoBindingDecodesStructByDefault(t *testing.T) {
	obj, err := unmarshalProto([]byte(`{"name":"phaseflow","unknown_field":1}`), nil)
	require.NoError(t, err)
	s, ok := obj.(*structpb.Struct)
	require.True(t, ok)
	assert.Equal(t, "phaseflow", s.GetFields()["name"].GetStringValue())
}

func TestProtoBindingDecodesIntoOperationInput(t *testing.T) {
	obj, err := unmarshalProto([]byte(`"hello"`), &wrapperspb.StringValue{})
	require.NoError(t, err)
	assert.Equal(t, "hello", obj.(*wrapperspb.StringValue).GetValue())

	_, err = unmarshalProto([]byte(`{}`), &echoRequest{})
	assert.Error(t, err)
}

func TestProtoBindingEncodesSingleMessage(t *testing.T) {
	data, err := marshalProto([]any{wrapperspb.String("hi")})
	require.NoError(t, err)
	assert.JSONEq(t, `"hi"`, string(data))

	_, err = marshalProto([]any{wrapperspb.String("a"), wrapperspb.String("b")})
	assert.Error(t, err)
	_, err = marshalProto([]any{&echoResponse{}})
	assert.Error(t, err)
}

func TestProtoBindingEndToEndOnMessage(t *testing.T) {
	b := NewProtoBinding()
	m := message.NewMessage()
	message.SetContent[io.Reader](m, bytes.NewBufferString(`{"greeting":"hi"}`))
	require.NoError(t, b.in.HandleMessage(m))

	var buf bytes.Buffer
	message.SetContent[io.Writer](m, &buf)
	require.NoError(t, b.out.HandleMessage(m))
	assert.JSONEq(t, `{"greeting":"hi"}`, buf.String())
}
