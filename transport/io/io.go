// Package io provides a one-way transport backed by an append-only JSON-lines
// journal. Addresses look like "file://audit" or "io://audit"; every line of
// the journal records the topic it was sent to and subscribers tail the file.
package io

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	errspkg "github.com/drblury/phaseflow/internal/runtime/errors"
	"github.com/drblury/phaseflow/internal/runtime/jsoncodec"
	"github.com/drblury/phaseflow/transport"
	"github.com/drblury/phaseflow/transport/pubsub"
)

// TransportName is the name used to register this transport.
const TransportName = "io"

// DefaultFilePath is the default file path if none is specified.
const DefaultFilePath = "messages.log"

// PollInterval is how long a subscriber waits at the end of the journal before
// looking for new lines.
var PollInterval = 50 * time.Millisecond

// JournalFactory allows overriding the journal creation for testing.
var JournalFactory = func(filePath string, logger watermill.LoggerAdapter) (*Journal, error) {
	return OpenJournal(filePath, logger)
}

// Register registers the I/O transport with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.IOCapabilities)
}

func init() {
	Register()
}

// Build creates a new journal-backed transport factory.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Factory, error) {
	filePath := cfg.GetIOFile()
	if filePath == "" {
		filePath = DefaultFilePath
	}

	j, err := JournalFactory(filePath, logger)
	if err != nil {
		return nil, err
	}

	return pubsub.New(TransportName, j, j, logger,
		pubsub.WithCapabilities(transport.IOCapabilities),
	), nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.IOCapabilities
}

// record is one journal line.
type record struct {
	UUID     string            `json:"uuid"`
	Topic    string            `json:"topic"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Payload  []byte            `json:"payload"`
	Written  time.Time         `json:"written"`
}

// Journal is a watermill Publisher and Subscriber over a single file.
type Journal struct {
	path   string
	logger watermill.LoggerAdapter

	mu     sync.Mutex
	closed chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

// OpenJournal creates the journal file if needed.
func OpenJournal(path string, logger watermill.LoggerAdapter) (*Journal, error) {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	if err := f.Close(); err != nil {
		return nil, err
	}
	return &Journal{path: path, logger: logger, closed: make(chan struct{})}, nil
}

// Path returns the journal file path.
func (j *Journal) Path() string {
	return j.path
}

// Publish appends messages to the journal.
func (j *Journal) Publish(topic string, messages ...*message.Message) error {
	select {
	case <-j.closed:
		return errspkg.ErrDestinationShutdown
	default:
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	f, err := os.OpenFile(j.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, msg := range messages {
		err := jsoncodec.Encode(w, record{
			UUID:     msg.UUID,
			Topic:    topic,
			Metadata: msg.Metadata,
			Payload:  msg.Payload,
			Written:  time.Now().UTC(),
		})
		if err != nil {
			return err
		}
	}
	return w.Flush()
}

// Subscribe tails the journal from its current end and emits records sent to
// topic. A nacked message is emitted again until it is acked.
func (j *Journal) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	f, err := os.Open(j.path)
	if err != nil {
		return nil, err
	}
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		_ = f.Close()
		return nil, err
	}

	out := make(chan *message.Message)
	j.wg.Add(1)
	go func() {
		defer j.wg.Done()
		defer close(out)
		defer f.Close()
		j.tail(ctx, f, topic, out)
	}()
	return out, nil
}

func (j *Journal) tail(ctx context.Context, f *os.File, topic string, out chan<- *message.Message) {
	reader := bufio.NewReader(f)
	var partial []byte
	for {
		line, err := reader.ReadBytes('\n')
		if errors.Is(err, io.EOF) {
			partial = append(partial, line...)
			if !j.wait(ctx) {
				return
			}
			continue
		}
		if err != nil {
			j.logger.Error("Failed to read journal", err, watermill.LogFields{"path": j.path})
			return
		}
		if len(partial) > 0 {
			line = append(partial, line...)
			partial = nil
		}

		var rec record
		if err := jsoncodec.Unmarshal(line, &rec); err != nil {
			j.logger.Error("Skipping malformed journal line", err, watermill.LogFields{"path": j.path})
			continue
		}
		if rec.Topic != topic {
			continue
		}
		if !j.deliver(ctx, rec, out) {
			return
		}
	}
}

func (j *Journal) deliver(ctx context.Context, rec record, out chan<- *message.Message) bool {
	for {
		msg := message.NewMessage(rec.UUID, rec.Payload)
		for k, v := range rec.Metadata {
			msg.Metadata.Set(k, v)
		}
		msg.SetContext(ctx)

		select {
		case out <- msg:
		case <-ctx.Done():
			return false
		case <-j.closed:
			return false
		}

		select {
		case <-msg.Acked():
			return true
		case <-msg.Nacked():
			j.logger.Debug("Journal message nacked, redelivering", watermill.LogFields{"uuid": rec.UUID})
			if !j.wait(ctx) {
				return false
			}
		case <-ctx.Done():
			return false
		case <-j.closed:
			return false
		}
	}
}

func (j *Journal) wait(ctx context.Context) bool {
	timer := time.NewTimer(PollInterval)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	case <-j.closed:
		return false
	}
}

// Close stops every subscription and waits for them to exit.
func (j *Journal) Close() error {
	j.once.Do(func() { close(j.closed) })
	j.wg.Wait()
	return nil
}
