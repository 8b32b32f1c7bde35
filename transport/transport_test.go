package transport

import (
	"bytes"
	"context"
	"io"
	"time"

	"github.com/drblury/phaseflow/message"
)

// Mock config for testing
type mockConfig struct{}

func (m *mockConfig) GetKafkaBrokers() []string           { return nil }
func (m *mockConfig) GetKafkaClientID() string            { return "" }
func (m *mockConfig) GetKafkaConsumerGroup() string       { return "" }
func (m *mockConfig) GetRabbitMQURL() string              { return "" }
func (m *mockConfig) GetNATSURL() string                  { return "" }
func (m *mockConfig) GetHTTPClientTimeout() time.Duration { return 0 }
func (m *mockConfig) GetWebhookListenAddress() string     { return "" }
func (m *mockConfig) GetHTTPPublisherURL() string         { return "" }
func (m *mockConfig) GetIOFile() string                   { return "" }
func (m *mockConfig) GetAWSRegion() string                { return "" }
func (m *mockConfig) GetAWSAccountID() string             { return "" }
func (m *mockConfig) GetAWSAccessKeyID() string           { return "" }
func (m *mockConfig) GetAWSSecretAccessKey() string       { return "" }
func (m *mockConfig) GetAWSEndpoint() string              { return "" }
func (m *mockConfig) GetReplyTopic() string               { return "" }

// Mock factory
type mockFactory struct {
	ids      []string
	prefixes []string
	closed   int
}

func (f *mockFactory) TransportIDs() []string { return f.ids }
func (f *mockFactory) URIPrefixes() []string  { return f.prefixes }

func (f *mockFactory) Close() error {
	f.closed++
	return nil
}

func (f *mockFactory) Destination(_ context.Context, info EndpointInfo) (Destination, error) {
	return NewBaseDestination(info.Reference()), nil
}

func (f *mockFactory) Conduit(_ context.Context, _ EndpointInfo, target EndpointReference) (Conduit, error) {
	return &mockConduit{BaseConduit: NewBaseConduit(target, nil)}, nil
}

type mockConduit struct {
	*BaseConduit
}

func (c *mockConduit) Prepare(*message.Message) error { return nil }
func (c *mockConduit) Close(*message.Message) error   { return nil }
func (c *mockConduit) Shutdown()                      {}

// Mock reply path
type bufferReplyPath struct {
	buf       bytes.Buffer
	committed bool
}

func (p *bufferReplyPath) Open(*message.Message) (io.Writer, error) {
	return &p.buf, nil
}

func (p *bufferReplyPath) Commit(*message.Message) error {
	p.committed = true
	return nil
}
