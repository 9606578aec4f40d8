package schemasync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/resquery/core/fields"
	"github.com/relabs-tech/resquery/core/query"
	"github.com/relabs-tech/resquery/core/store"
)

// fakeReader delivers messages and blocks when it runs out of them
type fakeReader struct {
	mutex     sync.Mutex
	messages  []kafka.Message
	committed []int64
	fetchErr  error
	closed    bool
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mutex.Lock()
	if r.fetchErr != nil {
		defer r.mutex.Unlock()
		return kafka.Message{}, r.fetchErr
	}
	if len(r.messages) > 0 {
		defer r.mutex.Unlock()
		msg := r.messages[0]
		r.messages = r.messages[1:]
		return msg, nil
	}
	r.mutex.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	for _, msg := range msgs {
		r.committed = append(r.committed, msg.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error {
	r.closed = true
	return nil
}

type fakeWriter struct {
	messages []kafka.Message
	err      error
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

type failingUpdater struct{ err error }

func (u failingUpdater) UpdateFields(ctx context.Context, resource string, descriptors []fields.Descriptor) error {
	return u.err
}

func newEngine(t *testing.T) *query.Engine {
	t.Helper()
	e, err := query.New(context.Background(), &query.Builder{
		Executor: store.NewMemory(),
		Resources: []query.ResourceDefinition{
			{Resource: "patient", Fields: []fields.Descriptor{{Name: "name", Type: fields.String}}},
			{Resource: "form", Collection: "forms", Core: true, Fields: []fields.Descriptor{{Name: "name", Type: fields.String}}},
		},
	})
	require.NoError(t, err)
	return e
}

func message(t *testing.T, offset int64, resource string, descriptors ...fields.Descriptor) kafka.Message {
	t.Helper()
	value, err := json.Marshal(Message{Resource: resource, Fields: descriptors})
	require.NoError(t, err)
	return kafka.Message{Offset: offset, Key: []byte(resource), Value: value}
}

func TestConsumer_Handle(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	c := NewConsumerWithReader(&fakeReader{}, e)

	born := fields.Descriptor{Name: "born", Type: fields.Date}
	require.NoError(t, c.Handle(ctx, message(t, 0, "patient", born).Value))
	filterFields, err := e.FilterFields("patient")
	require.NoError(t, err)
	assert.Contains(t, filterFields, "born_gte")
	assert.NotContains(t, filterFields, "name")

	skipped := [][]byte{
		[]byte("{not json"),
		[]byte(`{"fields":[]}`),
		message(t, 0, "doctor", born).Value,
		message(t, 0, "form", born).Value,
		message(t, 0, "patient", fields.Descriptor{Name: "x", Type: "colour"}).Value,
	}
	for _, value := range skipped {
		assert.NoError(t, c.Handle(ctx, value), string(value))
	}
	// skipped messages leave the definitions untouched
	filterFields, err = e.FilterFields("patient")
	require.NoError(t, err)
	assert.Contains(t, filterFields, "born_gte")

	failing := NewConsumerWithReader(&fakeReader{}, failingUpdater{err: errors.New("database is down")})
	assert.Error(t, failing.Handle(ctx, message(t, 0, "patient", born).Value))
}

func TestConsumer_Run(t *testing.T) {
	e := newEngine(t)
	reader := &fakeReader{messages: []kafka.Message{
		message(t, 1, "patient", fields.Descriptor{Name: "age", Type: fields.Number}),
		{Offset: 2, Value: []byte("garbage")},
		message(t, 3, "patient", fields.Descriptor{Name: "visited", Type: fields.DateTime}),
	}}
	c := NewConsumerWithReader(reader, e)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool {
		reader.mutex.Lock()
		defer reader.mutex.Unlock()
		return len(reader.committed) == 3
	}, 5*time.Second, 10*time.Millisecond)
	cancel()
	assert.NoError(t, <-done)
	assert.Equal(t, []int64{1, 2, 3}, reader.committed)

	filterFields, err := e.FilterFields("patient")
	require.NoError(t, err)
	assert.Contains(t, filterFields, "visited_lt")
	assert.NotContains(t, filterFields, "age_lt")

	require.NoError(t, c.Close())
	assert.True(t, reader.closed)
}

func TestConsumer_RunStopsOnErrors(t *testing.T) {
	reader := &fakeReader{messages: []kafka.Message{
		message(t, 7, "patient", fields.Descriptor{Name: "age", Type: fields.Number}),
	}}
	c := NewConsumerWithReader(reader, failingUpdater{err: errors.New("database is down")})
	assert.Error(t, c.Run(context.Background()))
	assert.Empty(t, reader.committed)

	reader = &fakeReader{fetchErr: errors.New("broker unreachable")}
	c = NewConsumerWithReader(reader, newEngine(t))
	assert.Error(t, c.Run(context.Background()))
}

func TestPublisher(t *testing.T) {
	ctx := context.Background()
	writer := &fakeWriter{}
	p := NewPublisherWithWriter(writer)

	descriptors := []fields.Descriptor{{Name: "tags", Type: fields.String, Multivalued: true}}
	require.NoError(t, p.Publish(ctx, "patient", descriptors))
	require.Len(t, writer.messages, 1)
	assert.Equal(t, "patient", string(writer.messages[0].Key))

	var msg Message
	require.NoError(t, json.Unmarshal(writer.messages[0].Value, &msg))
	assert.Equal(t, Message{Resource: "patient", Fields: descriptors}, msg)

	assert.Error(t, p.Publish(ctx, "", descriptors))
	assert.Error(t, p.Publish(ctx, "patient", []fields.Descriptor{{Name: "x", Type: "colour"}}))
	assert.Len(t, writer.messages, 1)

	writer.err = errors.New("no leader")
	assert.Error(t, p.Publish(ctx, "patient", descriptors))
	require.NoError(t, p.Close())
}

func TestConfig_GroupID(t *testing.T) {
	assert.Equal(t, "mine", Config{GroupID: "mine"}.groupID())
	assert.Contains(t, Config{}.groupID(), "resquery-")
}
