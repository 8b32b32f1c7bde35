package jetstream

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errspkg "github.com/drblury/phaseflow/internal/runtime/errors"
	"github.com/drblury/phaseflow/transport"
	"github.com/drblury/phaseflow/transport/pubsub"
)

func TestRegister(t *testing.T) {
	original := transport.DefaultRegistry
	defer func() { transport.DefaultRegistry = original }()
	transport.DefaultRegistry = transport.NewRegistry()
	Register()

	caps := transport.GetCapabilities(TransportName)
	assert.Equal(t, "nats-jetstream", caps.Name)
	assert.True(t, caps.SupportsReliableDelivery())

	name, ok := transport.DefaultRegistry.NameForURI("jetstream://orders")
	require.True(t, ok)
	assert.Equal(t, TransportName, name)
}

func TestCapabilities(t *testing.T) {
	caps := Capabilities()
	assert.Equal(t, transport.NATSJetStreamCapabilities, caps)
	assert.Equal(t, "nats-jetstream", caps.Name)
}

func TestTransportName(t *testing.T) {
	assert.Equal(t, "nats-jetstream", TransportName)
}

func TestConfig_withDefaults(t *testing.T) {
	t.Run("empty config gets defaults", func(t *testing.T) {
		result := Config{}.withDefaults()

		assert.Equal(t, DefaultStreamName, result.StreamName)
		assert.Equal(t, DefaultMaxDeliver, result.MaxDeliver)
		assert.Equal(t, DefaultAckWait, result.AckWait)
		assert.Equal(t, DefaultMaxAge, result.MaxAge)
		assert.Equal(t, DefaultFetchBatch, result.FetchBatch)
		assert.Equal(t, 1, result.Replicas)
	})

	t.Run("custom values preserved", func(t *testing.T) {
		cfg := Config{
			URL:        "nats://custom:4222",
			StreamName: "CUSTOM",
			MaxDeliver: 5,
			AckWait:    time.Minute,
			MaxAge:     time.Hour,
			Replicas:   3,
			FetchBatch: 50,
		}
		result := cfg.withDefaults()

		assert.Equal(t, cfg, result)
	})
}

func TestBuild(t *testing.T) {
	t.Run("wraps the transport in a pub/sub factory", func(t *testing.T) {
		original := TransportFactory
		defer func() { TransportFactory = original }()

		TransportFactory = func(cfg Config, logger watermill.LoggerAdapter) (message.Publisher, message.Subscriber, error) {
			assert.Equal(t, "nats://localhost:4222", cfg.URL)
			ch := gochannel.NewGoChannel(gochannel.Config{}, logger)
			return ch, ch, nil
		}

		f, err := Build(context.Background(), &mockConfig{natsURL: "nats://localhost:4222", replyTopic: "replies"}, watermill.NopLogger{})
		require.NoError(t, err)
		defer f.Close()
		assert.Equal(t, "replies", f.(*pubsub.Factory).ReplyTopic())
		assert.Equal(t, []string{"jetstream://"}, f.URIPrefixes())
	})

	t.Run("propagates connection errors", func(t *testing.T) {
		original := TransportFactory
		defer func() { TransportFactory = original }()

		TransportFactory = func(Config, watermill.LoggerAdapter) (message.Publisher, message.Subscriber, error) {
			return nil, nil, errors.New("no servers")
		}
		_, err := Build(context.Background(), &mockConfig{natsURL: "nats://localhost:4222"}, watermill.NopLogger{})
		assert.ErrorContains(t, err, "no servers")
	})

	t.Run("requires url", func(t *testing.T) {
		_, err := Build(context.Background(), &mockConfig{}, watermill.NopLogger{})
		assert.ErrorIs(t, err, errspkg.ErrConfigRequired)
	})
}

func TestMessageConversion(t *testing.T) {
	wm := message.NewMessage("uuid-1", []byte("payload"))
	wm.Metadata.Set("X-Correlation-Id", "corr")

	nm := watermillToNATS("PHASEFLOW.orders", wm)
	assert.Equal(t, "PHASEFLOW.orders", nm.Subject)
	assert.Equal(t, "uuid-1", nm.Header.Get(nats.MsgIdHdr))

	back := natsToWatermill(nm)
	assert.Equal(t, "uuid-1", back.UUID)
	assert.Equal(t, "payload", string(back.Payload))
	assert.Equal(t, "corr", back.Metadata.Get("X-Correlation-Id"))
	assert.Empty(t, back.Metadata.Get(nats.MsgIdHdr))

	anonymous := natsToWatermill(&nats.Msg{Data: []byte("x"), Header: nats.Header{}})
	assert.Len(t, anonymous.UUID, 26)
}

func TestRetentionPolicy(t *testing.T) {
	assert.Equal(t, nats.LimitsPolicy, Config{}.retention())
	assert.Equal(t, nats.InterestPolicy, Config{RetentionPolicy: "interest"}.retention())
	assert.Equal(t, nats.WorkQueuePolicy, Config{RetentionPolicy: "workqueue"}.retention())
}

func TestClosedTransportRefuses(t *testing.T) {
	tr := &Transport{config: Config{}.withDefaults(), done: make(chan struct{})}
	close(tr.done)
	assert.ErrorIs(t, tr.Publish("orders", message.NewMessage("1", nil)), errspkg.ErrDestinationShutdown)
	_, err := tr.Subscribe(context.Background(), "orders")
	assert.ErrorIs(t, err, errspkg.ErrDestinationShutdown)
}

func TestSubjectAndConsumerNames(t *testing.T) {
	tr := &Transport{config: Config{}.withDefaults()}
	assert.Equal(t, "PHASEFLOW.orders_eu", tr.Subject("orders.eu"))
	assert.Equal(t, "consumer_svc_a_b", ConsumerName("svc/a>b"))
}

type mockConfig struct {
	natsURL    string
	replyTopic string
}

func (m *mockConfig) GetKafkaBrokers() []string           { return nil }
func (m *mockConfig) GetKafkaClientID() string            { return "" }
func (m *mockConfig) GetKafkaConsumerGroup() string       { return "" }
func (m *mockConfig) GetRabbitMQURL() string              { return "" }
func (m *mockConfig) GetNATSURL() string                  { return m.natsURL }
func (m *mockConfig) GetHTTPClientTimeout() time.Duration { return 0 }
func (m *mockConfig) GetWebhookListenAddress() string     { return "" }
func (m *mockConfig) GetHTTPPublisherURL() string         { return "" }
func (m *mockConfig) GetIOFile() string                   { return "" }
func (m *mockConfig) GetAWSRegion() string                { return "" }
func (m *mockConfig) GetAWSAccountID() string             { return "" }
func (m *mockConfig) GetAWSAccessKeyID() string           { return "" }
func (m *mockConfig) GetAWSSecretAccessKey() string       { return "" }
func (m *mockConfig) GetAWSEndpoint() string              { return "" }
func (m *mockConfig) GetReplyTopic() string               { return m.replyTopic }
