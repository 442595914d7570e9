package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uk-gov-mirror/hmcts.bulk-scan-processor/internal/config"
	"github.com/uk-gov-mirror/hmcts.bulk-scan-processor/internal/database"
	"github.com/uk-gov-mirror/hmcts.bulk-scan-processor/internal/envelope"
	"github.com/uk-gov-mirror/hmcts.bulk-scan-processor/internal/notify"
)

type transitionCall struct {
	id   uuid.UUID
	kind envelope.EventKind
}

type fakeStore struct {
	mu          sync.Mutex
	byStatus    map[envelope.Status][]envelope.Envelope
	findErr     error
	transitions []transitionCall
	failFor     map[uuid.UUID]error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		byStatus: make(map[envelope.Status][]envelope.Envelope),
		failFor:  make(map[uuid.UUID]error),
	}
}

func (s *fakeStore) FindByStatus(_ context.Context, status envelope.Status) ([]envelope.Envelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findErr != nil {
		return nil, s.findErr
	}
	return s.byStatus[status], nil
}

func (s *fakeStore) Transition(_ context.Context, id uuid.UUID, kind envelope.EventKind, _ database.TransitionOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failFor[id]; err != nil {
		return err
	}
	s.transitions = append(s.transitions, transitionCall{id: id, kind: kind})
	return nil
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []*notify.EnvelopeMsg
	err  error
}

func (p *fakePublisher) PublishEnvelope(_ context.Context, msg *notify.EnvelopeMsg) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, msg)
	return nil
}

func newRunner(store *fakeStore, pub *fakePublisher) *Runner {
	return NewRunner(store, pub, []config.ContainerConfig{
		{Name: "bulkscan", Jurisdiction: "BULKSCAN"},
		{Name: "bulkscan-smoke", Jurisdiction: "BULKSCAN", Test: true},
	})
}

func uploadedEnvelope(container string) envelope.Envelope {
	return envelope.Envelope{
		ID:           uuid.New(),
		Container:    container,
		Jurisdiction: "BULKSCAN",
		ZipFileName:  "1_24-06-2018-00-00-00.zip",
		Status:       envelope.StatusUploaded,
	}
}

func processedEnvelope(container string) envelope.Envelope {
	env := uploadedEnvelope(container)
	env.Status = envelope.StatusProcessed
	env.ScannableItems = []envelope.ScannableItem{
		{
			DocumentControlNumber: "1111002",
			FileName:              "1111002.pdf",
			DocumentURL:           "http://localhost:8080/documents/0fa1ab60-f836-43aa-8c65-b07cc9bebcbe",
		},
	}
	return env
}

func TestRunOnceMarksUploadedEnvelopesProcessed(t *testing.T) {
	store := newFakeStore()
	env := uploadedEnvelope("bulkscan")
	store.byStatus[envelope.StatusUploaded] = []envelope.Envelope{env}
	pub := &fakePublisher{}

	require.NoError(t, newRunner(store, pub).RunOnce(context.Background()))

	require.Len(t, store.transitions, 1)
	assert.Equal(t, env.ID, store.transitions[0].id)
	assert.Equal(t, envelope.EventDocProcessed, store.transitions[0].kind)
	assert.Empty(t, pub.msgs)
}

func TestRunOncePublishesSummaryForProcessedEnvelope(t *testing.T) {
	store := newFakeStore()
	env := processedEnvelope("bulkscan")
	store.byStatus[envelope.StatusProcessed] = []envelope.Envelope{env}
	pub := &fakePublisher{}

	require.NoError(t, newRunner(store, pub).RunOnce(context.Background()))

	require.Len(t, pub.msgs, 1)
	msg := pub.msgs[0]
	assert.Equal(t, env.ID.String(), msg.ID)
	assert.Equal(t, "bulkscan", msg.Container)
	assert.False(t, msg.TestOnly)
	require.Len(t, msg.Documents, 1)
	assert.Equal(t, "http://localhost:8080/documents/0fa1ab60-f836-43aa-8c65-b07cc9bebcbe", msg.Documents[0].URL)

	require.Len(t, store.transitions, 1)
	assert.Equal(t, envelope.EventDocProcessedNotificationSent, store.transitions[0].kind)
}

func TestRunOnceFlagsTestContainerSummaries(t *testing.T) {
	store := newFakeStore()
	store.byStatus[envelope.StatusProcessed] = []envelope.Envelope{processedEnvelope("bulkscan-smoke")}
	pub := &fakePublisher{}

	require.NoError(t, newRunner(store, pub).RunOnce(context.Background()))

	require.Len(t, pub.msgs, 1)
	assert.True(t, pub.msgs[0].TestOnly)
}

func TestRunOnceLeavesEnvelopeProcessedWhenPublishFails(t *testing.T) {
	store := newFakeStore()
	store.byStatus[envelope.StatusProcessed] = []envelope.Envelope{processedEnvelope("bulkscan")}
	pub := &fakePublisher{err: errors.New("topic unavailable")}

	require.NoError(t, newRunner(store, pub).RunOnce(context.Background()))

	assert.Empty(t, store.transitions)
}

func TestRunOnceContinuesPastSingleTransitionFailure(t *testing.T) {
	store := newFakeStore()
	stuck := uploadedEnvelope("bulkscan")
	next := uploadedEnvelope("bulkscan")
	store.byStatus[envelope.StatusUploaded] = []envelope.Envelope{stuck, next}
	store.failFor[stuck.ID] = errors.New("deadlock detected")
	pub := &fakePublisher{}

	require.NoError(t, newRunner(store, pub).RunOnce(context.Background()))

	require.Len(t, store.transitions, 1)
	assert.Equal(t, next.ID, store.transitions[0].id)
}

func TestRunOncePropagatesQueryError(t *testing.T) {
	store := newFakeStore()
	store.findErr = errors.New("connection refused")
	pub := &fakePublisher{}

	err := newRunner(store, pub).RunOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "find uploaded envelopes")
}
