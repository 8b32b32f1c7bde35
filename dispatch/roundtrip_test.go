package dispatch

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errspkg "github.com/drblury/phaseflow/internal/runtime/errors"
	"github.com/drblury/phaseflow/internal/runtime/jsoncodec"
	"github.com/drblury/phaseflow/message"
)

func TestLocalRoundTrip(t *testing.T) {
	ctx := context.Background()
	b := newBus(t, nil)
	svc, impl := newEchoService("echo", "local:")
	startServer(t, b, newEndpoint(t, "local://echo", svc))

	clientSvc, _ := newEchoService("echo", "")
	client := newClient(t, b, newEndpoint(t, "local://echo", clientSvc))

	res, err := client.Invoke(ctx, "echo", &echoRequest{Text: "hi"})
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, &echoResponse{Echo: "local:hi"}, res[0])

	_, err = client.Invoke(ctx, "reject", &echoRequest{Text: "bad"})
	f := message.AsFault(err)
	require.NotNil(t, f)
	assert.Equal(t, message.FaultCodeClient, f.Code)
	assert.Equal(t, http.StatusUnprocessableEntity, f.Status())
	assert.Equal(t, `rejected "bad"`, f.Message)

	require.NoError(t, client.InvokeOneWay(ctx, "notify", &echoRequest{Text: "fire"}))
	assert.Equal(t, "fire", waitNotified(t, impl))

	// the server keeps answering after a fault
	res, err = client.Invoke(ctx, "echo", &echoRequest{Text: "again"})
	require.NoError(t, err)
	assert.Equal(t, &echoResponse{Echo: "local:again"}, res[0])
}

func TestHTTPRoundTrip(t *testing.T) {
	ctx := context.Background()
	b := newBus(t, nil)
	svc, impl := newEchoService("echo", "http:")
	srv := startServer(t, b, newEndpoint(t, "http://127.0.0.1:0/echo", svc))
	address := srv.Destination().Address().Address
	require.NotContains(t, address, ":0/")

	clientSvc, _ := newEchoService("echo", "")
	client := newClient(t, b, newEndpoint(t, address, clientSvc))

	res, err := client.Invoke(ctx, "echo", &echoRequest{Text: "hi"})
	require.NoError(t, err)
	assert.Equal(t, []any{&echoResponse{Echo: "http:hi"}}, res)

	_, err = client.Invoke(ctx, "reject", &echoRequest{Text: "bad"})
	f := message.AsFault(err)
	require.NotNil(t, f)
	assert.Equal(t, http.StatusUnprocessableEntity, f.Status())
	assert.Equal(t, `rejected "bad"`, f.Message)

	require.NoError(t, client.InvokeOneWay(ctx, "notify", &echoRequest{Text: "fire"}))
	assert.Equal(t, "fire", waitNotified(t, impl))
}

func post(t *testing.T, url, operation, body string) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set(message.HeaderOperation, operation)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(data)
}

func TestHTTPStatusCodes(t *testing.T) {
	b := newBus(t, nil)
	svc, impl := newEchoService("echo", "")
	srv := startServer(t, b, newEndpoint(t, "http://127.0.0.1:0/status", svc))
	url := srv.Destination().Address().Address

	resp, body := post(t, url, "echo", `{"text":"ok"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"echo":"ok"}`, body)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.NotEmpty(t, resp.Header.Get(message.HeaderCorrelationID))

	resp, _ = post(t, url, "notify", `{"text":"later"}`)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "later", waitNotified(t, impl))

	resp, body = post(t, url, "missing", `{}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	var f message.Fault
	require.NoError(t, jsoncodec.Unmarshal([]byte(body), &f))
	assert.Equal(t, message.FaultCodeClient, f.Code)

	resp, _ = post(t, url, "echo", `{"text":`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = post(t, url, "reject", `{}`)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "true", resp.Header.Get(message.HeaderFault))
}

func TestSharedDestinationUpgradesToMultipleEndpoints(t *testing.T) {
	ctx := context.Background()
	b := newBus(t, nil)
	alphaSvc, _ := newEchoService("alpha", "A:", "alpha")
	betaSvc, _ := newEchoService("beta", "B:", "beta")
	alpha := startServer(t, b, newEndpoint(t, "local://shared", alphaSvc))
	beta := startServer(t, b, newEndpoint(t, "local://shared", betaSvc))

	require.Same(t, alpha.Destination(), beta.Destination())
	multi, ok := alpha.Destination().MessageObserver().(*MultipleEndpointObserver)
	require.True(t, ok)
	assert.Len(t, multi.Endpoints(), 2)
	assert.Len(t, b.PublishedEndpoints(), 2)

	alphaClientSvc, _ := newEchoService("alpha", "", "alpha")
	betaClientSvc, _ := newEchoService("beta", "", "beta")
	alphaClient := newClient(t, b, newEndpoint(t, "local://shared", alphaClientSvc))
	betaClient := newClient(t, b, newEndpoint(t, "local://shared", betaClientSvc))

	res, err := alphaClient.Invoke(ctx, "alpha", &echoRequest{Text: "1"})
	require.NoError(t, err)
	assert.Equal(t, &echoResponse{Echo: "A:1"}, res[0])
	res, err = betaClient.Invoke(ctx, "beta", &echoRequest{Text: "2"})
	require.NoError(t, err)
	assert.Equal(t, &echoResponse{Echo: "B:2"}, res[0])

	require.NoError(t, alpha.Stop(ctx))
	assert.Len(t, multi.Endpoints(), 1)
	assert.NotNil(t, beta.Destination().MessageObserver())

	require.NoError(t, beta.Stop(ctx))
	assert.Nil(t, beta.Destination().MessageObserver())
	assert.Empty(t, b.PublishedEndpoints())
}

func TestServerStartIsIdempotent(t *testing.T) {
	b := newBus(t, nil)
	svc, _ := newEchoService("echo", "")
	srv := startServer(t, b, newEndpoint(t, "local://idem", svc))
	observer := srv.Destination().MessageObserver()

	require.NoError(t, srv.Start(context.Background()))
	assert.Same(t, observer, srv.Destination().MessageObserver())
	assert.Len(t, b.PublishedEndpoints(), 1)

	require.NoError(t, srv.Stop(context.Background()))
	require.NoError(t, srv.Stop(context.Background()))
}

func TestBusShutdownStopsServers(t *testing.T) {
	b := newBus(t, nil)
	svc, _ := newEchoService("echo", "")
	srv := startServer(t, b, newEndpoint(t, "local://stopped", svc))

	require.NoError(t, b.Shutdown(context.Background()))
	assert.Nil(t, srv.Destination().MessageObserver())
	assert.Empty(t, b.PublishedEndpoints())
}

func TestServerInfoDescribesChain(t *testing.T) {
	b := newBus(t, nil)
	svc, _ := newEchoService("echo", "")
	srv := startServer(t, b, newEndpoint(t, "local://info", svc))

	info := srv.Info()
	assert.Equal(t, "echo", info.Name)
	assert.Equal(t, "local://info", info.Address)
	assert.Equal(t, []string{"echo", "notify", "reject"}, info.Operations)
	require.NotEmpty(t, info.InChain)
	assert.Equal(t, "receive", info.InChain[0].Phase)
}

func TestClientFailsFastOnUnknownOperation(t *testing.T) {
	b := newBus(t, nil)
	svc, _ := newEchoService("echo", "")
	client := newClient(t, b, newEndpoint(t, "local://echo", svc))

	_, err := client.Invoke(context.Background(), "missing")
	assert.ErrorIs(t, err, errspkg.ErrNoOperation)
}

func TestClientTimesOutWithoutResponse(t *testing.T) {
	b := newBus(t, nil)
	svc, _ := newEchoService("echo", "")
	client := newClient(t, b, newEndpoint(t, "local://nobody-listens", svc), WithReceiveTimeout(50*time.Millisecond))

	start := time.Now()
	_, err := client.Invoke(context.Background(), "echo", &echoRequest{Text: "hello?"})
	assert.ErrorIs(t, err, errspkg.ErrResponseTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestClientHonoursCallerCancellation(t *testing.T) {
	b := newBus(t, nil)
	svc, _ := newEchoService("echo", "")
	client := newClient(t, b, newEndpoint(t, "local://nobody-listens", svc))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := client.Invoke(ctx, "echo", &echoRequest{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, errspkg.ErrResponseTimeout)
}

func TestUnknownTransport(t *testing.T) {
	b := newBus(t, nil)
	svc, _ := newEchoService("echo", "")
	ep := newEndpoint(t, "pigeon://coop", svc)

	_, err := NewServer(context.Background(), b, ep)
	var unknown *errspkg.UnknownTransportError
	assert.ErrorAs(t, err, &unknown)

	_, err = NewClient(context.Background(), b, ep)
	assert.ErrorAs(t, err, &unknown)
}

func TestServerAndClientRequireBusAndEndpoint(t *testing.T) {
	b := newBus(t, nil)
	_, err := NewServer(context.Background(), nil, nil)
	assert.ErrorIs(t, err, errspkg.ErrBusRequired)
	_, err = NewServer(context.Background(), b, nil)
	assert.ErrorIs(t, err, errspkg.ErrEndpointRequired)
	_, err = NewClient(context.Background(), nil, nil)
	assert.ErrorIs(t, err, errspkg.ErrBusRequired)
}
