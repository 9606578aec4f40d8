// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*Package schemasync distributes field definition updates over kafka.

A Publisher writes one message per update, keyed by the resource so that
updates of the same resource stay in order. A Consumer reads the topic and
applies every message to an Updater, usually a query engine. Each service
instance needs its own consumer group, otherwise only one instance of a
group sees an update.

Messages look like this:

	{"resource": "patient", "fields": [{"name": "born", "type": "date"}]}

Messages which can never be applied (malformed, unknown resource, invalid
field definitions) are logged and skipped. Any other error stops the
consumer without committing the message, so it is delivered again.
*/
package schemasync

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"

	"github.com/relabs-tech/resquery/core/fields"
	"github.com/relabs-tech/resquery/core/logger"
	"github.com/relabs-tech/resquery/core/query"
)

// Message is a field definition update of one resource
type Message struct {
	Resource string              `json:"resource"`
	Fields   []fields.Descriptor `json:"fields"`
}

// Updater applies field definitions of a resource
type Updater interface {
	UpdateFields(ctx context.Context, resource string, descriptors []fields.Descriptor) error
}

// Reader is the part of *kafka.Reader a Consumer uses
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Config configures the kafka connection
type Config struct {
	Brokers []string
	Topic   string
	// GroupID is the consumer group. Defaults to "resquery-" + hostname.
	GroupID string
}

func (c Config) groupID() string {
	if c.GroupID != "" {
		return c.GroupID
	}
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "local"
	}
	return "resquery-" + hostname
}

// Consumer applies field definition updates read from kafka
type Consumer struct {
	reader  Reader
	updater Updater
}

// NewConsumer returns a consumer reading from the topic of config
func NewConsumer(config Config, updater Updater) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  config.Brokers,
		Topic:    config.Topic,
		GroupID:  config.groupID(),
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  time.Second,
	})
	return NewConsumerWithReader(reader, updater)
}

// NewConsumerWithReader returns a consumer reading from reader
func NewConsumerWithReader(reader Reader, updater Updater) *Consumer {
	return &Consumer{reader: reader, updater: updater}
}

// Run consumes messages until ctx is done. It returns nil when ctx is
// cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	rlog := logger.FromContext(ctx)
	rlog.Infoln("schema sync: consumer started")
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				rlog.Infoln("schema sync: consumer stopped")
				return nil
			}
			return fmt.Errorf("cannot fetch message: %w", err)
		}
		if err := c.Handle(ctx, msg.Value); err != nil {
			return err
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("cannot commit message at offset %d: %w", msg.Offset, err)
		}
	}
}

// Handle applies one message. Messages which cannot be applied are logged
// and return nil.
func (c *Consumer) Handle(ctx context.Context, value []byte) error {
	rlog := logger.FromContext(ctx)
	var msg Message
	if err := json.Unmarshal(value, &msg); err != nil {
		rlog.WithError(err).Errorln("schema sync: skipping malformed message")
		return nil
	}
	if msg.Resource == "" {
		rlog.Errorln("schema sync: skipping message without resource")
		return nil
	}

	err := c.updater.UpdateFields(ctx, msg.Resource, msg.Fields)
	var schemaErr *fields.SchemaError
	switch {
	case err == nil:
		rlog.Debugf("schema sync: applied %d fields to %s", len(msg.Fields), msg.Resource)
		return nil
	case errors.Is(err, query.ErrUnknownResource), errors.Is(err, query.ErrCoreResource), errors.As(err, &schemaErr):
		rlog.WithError(err).Errorf("schema sync: skipping update of %s", msg.Resource)
		return nil
	}
	return fmt.Errorf("cannot update fields of %s: %w", msg.Resource, err)
}

// Close closes the underlying reader
func (c *Consumer) Close() error {
	return c.reader.Close()
}

// Writer is the part of *kafka.Writer a Publisher uses
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher publishes field definition updates
type Publisher struct {
	writer Writer
}

// NewPublisher returns a publisher writing to the topic of config
func NewPublisher(config Config) *Publisher {
	return NewPublisherWithWriter(&kafka.Writer{
		Addr:                   kafka.TCP(config.Brokers...),
		Topic:                  config.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	})
}

// NewPublisherWithWriter returns a publisher writing to writer
func NewPublisherWithWriter(writer Writer) *Publisher {
	return &Publisher{writer: writer}
}

// Publish publishes the field definitions of resource
func (p *Publisher) Publish(ctx context.Context, resource string, descriptors []fields.Descriptor) error {
	if resource == "" {
		return fmt.Errorf("resource must not be empty")
	}
	if _, err := fields.Compile(descriptors); err != nil {
		return err
	}
	value, err := json.Marshal(Message{Resource: resource, Fields: descriptors})
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(resource), Value: value}); err != nil {
		return fmt.Errorf("cannot publish fields of %s: %w", resource, err)
	}
	return nil
}

// Close flushes pending messages and closes the writer
func (p *Publisher) Close() error {
	return p.writer.Close()
}
