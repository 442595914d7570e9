package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/uk-gov-mirror/hmcts.bulk-scan-processor/internal/database"
	"github.com/uk-gov-mirror/hmcts.bulk-scan-processor/internal/envelope"
)

func newTestBus(t *testing.T) (*Bus, *pstest.Server) {
	t.Helper()
	srv := pstest.NewServer()
	t.Cleanup(func() { srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)

	bus, err := NewBus(context.Background(), "test-project", "errors", "envelopes",
		option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { bus.Close() })
	return bus, srv
}

func TestPublishErrorDeliversPayload(t *testing.T) {
	bus, srv := newTestBus(t)

	bus.PublishError(context.Background(), &ErrorMsg{
		EventID:          42,
		ZipFileName:      "bad.zip",
		Container:        "bulkscan",
		ErrorCode:        CodeSigVerifyFailed,
		ErrorDescription: "Zip signature failed verification",
	})

	require.Eventually(t, func() bool { return len(srv.Messages()) == 1 },
		5*time.Second, 10*time.Millisecond)

	msg := srv.Messages()[0]
	assert.Equal(t, CodeSigVerifyFailed, msg.Attributes["error_code"])
	assert.Equal(t, "bulkscan", msg.Attributes["container"])

	var got ErrorMsg
	require.NoError(t, json.Unmarshal(msg.Data, &got))
	assert.NotEmpty(t, got.ID)
	assert.Equal(t, int64(42), got.EventID)
	assert.Equal(t, "bad.zip", got.ZipFileName)
	assert.Equal(t, "Zip signature failed verification", got.ErrorDescription)
	assert.False(t, got.TestOnly)
}

func TestPublishEnvelopeCarriesDocuments(t *testing.T) {
	bus, srv := newTestBus(t)

	env := &envelope.Envelope{
		ID:             uuid.New(),
		Container:      "bulkscan",
		Jurisdiction:   "BULKSCAN",
		ZipFileName:    "1_24-06-2018-00-00-00.zip",
		Classification: envelope.ClassificationNewApplication,
		ScannableItems: []envelope.ScannableItem{{
			FileName:              "1111002.pdf",
			DocumentControlNumber: "1111002",
			DocumentType:          "Other",
			DocumentURL:           "http://localhost:8080/documents/0fa1ab60-f836-43aa-8c65-b07cc9bebcbe",
		}},
	}

	err := bus.PublishEnvelope(context.Background(), NewEnvelopeMsg(env, false))
	require.NoError(t, err)
	require.Len(t, srv.Messages(), 1)

	var got EnvelopeMsg
	require.NoError(t, json.Unmarshal(srv.Messages()[0].Data, &got))
	assert.Equal(t, env.ID.String(), got.ID)
	assert.Equal(t, "BULKSCAN", got.Jurisdiction)
	require.Len(t, got.Documents, 1)
	assert.Equal(t, "http://localhost:8080/documents/0fa1ab60-f836-43aa-8c65-b07cc9bebcbe", got.Documents[0].URL)
	assert.Equal(t, "1111002", got.Documents[0].DocumentControlNumber)
}

type confirmCall struct {
	id   uuid.UUID
	kind envelope.EventKind
	opts database.TransitionOptions
}

type stubConfirmations struct {
	mu    sync.Mutex
	calls []confirmCall
	errs  []error
}

func (s *stubConfirmations) Transition(_ context.Context, id uuid.UUID, kind envelope.EventKind, opts database.TransitionOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, confirmCall{id: id, kind: kind, opts: opts})
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		return err
	}
	return nil
}

func (s *stubConfirmations) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func (s *stubConfirmations) call(i int) confirmCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[i]
}

func startConsumer(t *testing.T, bus *Bus, store ConfirmationStore) *pubsub.Topic {
	t.Helper()
	ctx := context.Background()

	topic, err := bus.client.CreateTopic(ctx, "processed")
	require.NoError(t, err)
	_, err = bus.client.CreateSubscription(ctx, "processed-sub",
		pubsub.SubscriptionConfig{Topic: topic})
	require.NoError(t, err)

	consumer, err := NewConsumer(ctx, bus, "processed-sub", store)
	require.NoError(t, err)

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- consumer.Run(runCtx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})
	return topic
}

func publishConfirmation(t *testing.T, topic *pubsub.Topic, conf Confirmation) {
	t.Helper()
	payload, err := json.Marshal(conf)
	require.NoError(t, err)
	_, err = topic.Publish(context.Background(), &pubsub.Message{Data: payload}).Get(context.Background())
	require.NoError(t, err)
}

func TestConsumerMarksEnvelopeConsumed(t *testing.T) {
	bus, _ := newTestBus(t)
	store := &stubConfirmations{}
	topic := startConsumer(t, bus, store)

	id := uuid.New()
	publishConfirmation(t, topic, Confirmation{
		EnvelopeID: id.String(),
		CcdID:      "1539007368674134",
		CcdAction:  "AUTO_ATTACHED_TO_CASE",
	})

	require.Eventually(t, func() bool { return store.count() >= 1 },
		5*time.Second, 10*time.Millisecond)
	got := store.call(0)
	assert.Equal(t, id, got.id)
	assert.Equal(t, envelope.EventDocConsumed, got.kind)
	assert.Equal(t, "1539007368674134", got.opts.CcdID)
	assert.Equal(t, "AUTO_ATTACHED_TO_CASE", got.opts.CcdAction)
}

func TestConsumerRedeliversOnTransientFailure(t *testing.T) {
	bus, _ := newTestBus(t)
	store := &stubConfirmations{errs: []error{errors.New("db down")}}
	topic := startConsumer(t, bus, store)

	publishConfirmation(t, topic, Confirmation{EnvelopeID: uuid.NewString()})

	// First attempt fails and is nacked; the fake redelivers promptly.
	require.Eventually(t, func() bool { return store.count() >= 2 },
		5*time.Second, 10*time.Millisecond)
}

func TestConsumerDropsConfirmationEnvelopeCannotAccept(t *testing.T) {
	bus, _ := newTestBus(t)
	id := uuid.New()
	store := &stubConfirmations{errs: []error{
		&database.TransitionError{EnvelopeID: id.String(), Current: envelope.StatusCreated, Requested: envelope.StatusConsumed},
	}}
	topic := startConsumer(t, bus, store)

	publishConfirmation(t, topic, Confirmation{EnvelopeID: id.String()})

	require.Eventually(t, func() bool { return store.count() == 1 },
		5*time.Second, 10*time.Millisecond)
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 1, store.count(), "acked message must not be redelivered")
}

func TestConsumerDropsMalformedMessages(t *testing.T) {
	bus, _ := newTestBus(t)
	store := &stubConfirmations{}
	topic := startConsumer(t, bus, store)

	_, err := topic.Publish(context.Background(), &pubsub.Message{Data: []byte("not json")}).
		Get(context.Background())
	require.NoError(t, err)
	publishConfirmation(t, topic, Confirmation{EnvelopeID: "not-a-uuid"})

	time.Sleep(200 * time.Millisecond)
	assert.Zero(t, store.count())
}

func TestNewConsumerRequiresExistingSubscription(t *testing.T) {
	bus, _ := newTestBus(t)

	_, err := NewConsumer(context.Background(), bus, "never-created", &stubConfirmations{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}
