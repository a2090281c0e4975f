package syncloop

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Rifat-Hossain49/MediMitro-sub001/internal/models"
)

type fakeBackend struct {
	mu            sync.Mutex
	conversations []models.Conversation
	threads       map[models.ConversationKey][]models.Message
	gates         map[models.ConversationKey]chan struct{}
	started       chan models.ConversationKey
	listErr       error
	listCalls     int
	marked        []models.ConversationKey
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		threads: make(map[models.ConversationKey][]models.Message),
		gates:   make(map[models.ConversationKey]chan struct{}),
		started: make(chan models.ConversationKey, 16),
	}
}

func (b *fakeBackend) ListConversations(_ context.Context) ([]models.Conversation, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listCalls++
	if b.listErr != nil {
		return nil, b.listErr
	}
	result := make([]models.Conversation, len(b.conversations))
	copy(result, b.conversations)
	return result, nil
}

func (b *fakeBackend) FetchThread(ctx context.Context, key models.ConversationKey) ([]models.Message, error) {
	b.mu.Lock()
	gate := b.gates[key]
	b.mu.Unlock()

	b.started <- key
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	result := make([]models.Message, len(b.threads[key]))
	copy(result, b.threads[key])
	return result, nil
}

func (b *fakeBackend) MarkRead(_ context.Context, key models.ConversationKey) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.marked = append(b.marked, key)
	for i := range b.threads[key] {
		if b.threads[key][i].SenderType != models.SenderPatient {
			b.threads[key][i].IsRead = true
		}
	}
	return nil
}

func (b *fakeBackend) listCallCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.listCalls
}

func (b *fakeBackend) markedKeys() []models.ConversationKey {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]models.ConversationKey(nil), b.marked...)
}

var (
	keyA = models.NewConversationKey("d1", "p1")
	keyB = models.NewConversationKey("d2", "p1")
)

func drainStarted(b *fakeBackend) {
	for {
		select {
		case <-b.started:
		default:
			return
		}
	}
}

func TestTickReplacesConversationsWholesale(t *testing.T) {
	backend := newFakeBackend()
	backend.conversations = []models.Conversation{{DoctorID: "d1", PatientID: "p1"}, {DoctorID: "d2", PatientID: "p1"}}
	loop := New(backend, Config{Viewer: models.SenderPatient})

	if err := loop.Tick(context.Background()); err != nil {
		t.Fatalf("Tick returned error: %v", err)
	}
	if got := len(loop.Snapshot().Conversations); got != 2 {
		t.Fatalf("expected 2 conversations, got %d", got)
	}

	backend.mu.Lock()
	backend.conversations = []models.Conversation{{DoctorID: "d3", PatientID: "p1"}}
	backend.mu.Unlock()

	if err := loop.Tick(context.Background()); err != nil {
		t.Fatalf("Tick returned error: %v", err)
	}
	snapshot := loop.Snapshot()
	if len(snapshot.Conversations) != 1 || snapshot.Conversations[0].DoctorID != "d3" {
		t.Fatalf("expected list to be replaced, got %+v", snapshot.Conversations)
	}
	if snapshot.State != Idle || snapshot.IsUpdating || snapshot.LastUpdate.IsZero() {
		t.Fatalf("unexpected state after tick: %+v", snapshot)
	}
}

func TestTickFailureKeepsPreviousViewAndRecovers(t *testing.T) {
	backend := newFakeBackend()
	backend.conversations = []models.Conversation{{DoctorID: "d1", PatientID: "p1"}}
	loop := New(backend, Config{Viewer: models.SenderPatient})

	if err := loop.Tick(context.Background()); err != nil {
		t.Fatalf("Tick returned error: %v", err)
	}
	firstUpdate := loop.Snapshot().LastUpdate

	backend.mu.Lock()
	backend.listErr = errors.New("connection refused")
	backend.mu.Unlock()

	err := loop.Tick(context.Background())
	if !errors.Is(err, ErrTransientPoll) {
		t.Fatalf("expected ErrTransientPoll, got %v", err)
	}
	snapshot := loop.Snapshot()
	if snapshot.State != Idle || !snapshot.LastUpdate.Equal(firstUpdate) || len(snapshot.Conversations) != 1 {
		t.Fatalf("expected stale view after failure, got %+v", snapshot)
	}
	if !errors.Is(snapshot.LastError, ErrTransientPoll) {
		t.Fatalf("expected last error to be recorded, got %v", snapshot.LastError)
	}

	backend.mu.Lock()
	backend.listErr = nil
	backend.mu.Unlock()

	if err := loop.Tick(context.Background()); err != nil {
		t.Fatalf("expected recovery, got %v", err)
	}
	if loop.Snapshot().LastError != nil {
		t.Fatal("expected last error to clear after a good poll")
	}
}

func TestSelectLoadsThreadAndMarksRead(t *testing.T) {
	backend := newFakeBackend()
	backend.threads[keyA] = []models.Message{
		{ID: "1", DoctorID: "d1", PatientID: "p1", SenderType: models.SenderDoctor},
	}
	backend.conversations = []models.Conversation{{DoctorID: "d1", PatientID: "p1", UnreadCount: 1}}
	loop := New(backend, Config{Viewer: models.SenderPatient})
	if err := loop.Tick(context.Background()); err != nil {
		t.Fatalf("Tick returned error: %v", err)
	}

	if err := loop.Select(context.Background(), keyA); err != nil {
		t.Fatalf("Select returned error: %v", err)
	}

	snapshot := loop.Snapshot()
	if snapshot.Selected == nil || *snapshot.Selected != keyA {
		t.Fatalf("expected selection %v, got %v", keyA, snapshot.Selected)
	}
	if len(snapshot.Messages) != 1 || !snapshot.Messages[0].IsRead {
		t.Fatalf("expected thread marked read locally, got %+v", snapshot.Messages)
	}
	if snapshot.Conversations[0].UnreadCount != 0 {
		t.Fatalf("expected unread badge cleared, got %d", snapshot.Conversations[0].UnreadCount)
	}
	if marked := backend.markedKeys(); len(marked) != 1 || marked[0] != keyA {
		t.Fatalf("expected MarkRead for %v, got %v", keyA, marked)
	}
}

func TestLateArrivalIsDiscarded(t *testing.T) {
	backend := newFakeBackend()
	backend.threads[keyA] = []models.Message{{ID: "a1", DoctorID: "d1", PatientID: "p1", SenderType: models.SenderPatient}}
	backend.threads[keyB] = []models.Message{{ID: "b1", DoctorID: "d2", PatientID: "p1", SenderType: models.SenderPatient}}
	loop := New(backend, Config{Viewer: models.SenderPatient})

	if err := loop.Select(context.Background(), keyA); err != nil {
		t.Fatalf("Select A returned error: %v", err)
	}
	drainStarted(backend)

	gate := make(chan struct{})
	backend.mu.Lock()
	backend.gates[keyA] = gate
	backend.mu.Unlock()

	tickDone := make(chan error, 1)
	go func() {
		tickDone <- loop.Tick(context.Background())
	}()

	select {
	case key := <-backend.started:
		if key != keyA {
			t.Fatalf("expected poll for %v, got %v", keyA, key)
		}
	case <-time.After(time.Second):
		t.Fatal("poll never started")
	}

	if err := loop.Select(context.Background(), keyB); err != nil {
		t.Fatalf("Select B returned error: %v", err)
	}
	close(gate)

	if err := <-tickDone; err != nil {
		t.Fatalf("Tick returned error: %v", err)
	}

	snapshot := loop.Snapshot()
	if snapshot.Selected == nil || *snapshot.Selected != keyB {
		t.Fatalf("expected selection to stay on %v, got %v", keyB, snapshot.Selected)
	}
	if len(snapshot.Messages) != 1 || snapshot.Messages[0].ID != "b1" {
		t.Fatalf("stale thread overwrote selection: %+v", snapshot.Messages)
	}
}

func TestTickWhileBusyIsSkipped(t *testing.T) {
	backend := newFakeBackend()
	loop := New(backend, Config{Viewer: models.SenderDoctor})
	if err := loop.Select(context.Background(), keyA); err != nil {
		t.Fatalf("Select returned error: %v", err)
	}
	drainStarted(backend)

	gate := make(chan struct{})
	backend.mu.Lock()
	backend.gates[keyA] = gate
	backend.mu.Unlock()

	tickDone := make(chan error, 1)
	go func() {
		tickDone <- loop.Tick(context.Background())
	}()
	<-backend.started

	if err := loop.Tick(context.Background()); !errors.Is(err, ErrTickInProgress) {
		t.Fatalf("expected ErrTickInProgress, got %v", err)
	}
	if state := loop.Snapshot().State; state != Polling {
		t.Fatalf("expected polling state, got %s", state)
	}

	close(gate)
	if err := <-tickDone; err != nil {
		t.Fatalf("Tick returned error: %v", err)
	}
}

func TestTickMarksReadWhenNewIncomingMessagesArrive(t *testing.T) {
	backend := newFakeBackend()
	loop := New(backend, Config{Viewer: models.SenderPatient})
	if err := loop.Select(context.Background(), keyA); err != nil {
		t.Fatalf("Select returned error: %v", err)
	}

	backend.mu.Lock()
	backend.threads[keyA] = []models.Message{{ID: "1", DoctorID: "d1", PatientID: "p1", SenderType: models.SenderDoctor}}
	backend.mu.Unlock()

	if err := loop.Tick(context.Background()); err != nil {
		t.Fatalf("Tick returned error: %v", err)
	}
	if marked := backend.markedKeys(); len(marked) != 2 {
		t.Fatalf("expected MarkRead on select and after poll, got %v", marked)
	}

	// Nothing unread now, so another poll must not call MarkRead again.
	if err := loop.Tick(context.Background()); err != nil {
		t.Fatalf("Tick returned error: %v", err)
	}
	if marked := backend.markedKeys(); len(marked) != 2 {
		t.Fatalf("expected no extra MarkRead, got %v", marked)
	}
}

func TestDeselectClearsThread(t *testing.T) {
	backend := newFakeBackend()
	backend.threads[keyA] = []models.Message{{ID: "1", SenderType: models.SenderPatient}}
	loop := New(backend, Config{Viewer: models.SenderPatient})
	if err := loop.Select(context.Background(), keyA); err != nil {
		t.Fatalf("Select returned error: %v", err)
	}

	loop.Deselect()
	snapshot := loop.Snapshot()
	if snapshot.Selected != nil || len(snapshot.Messages) != 0 {
		t.Fatalf("expected empty selection, got %+v", snapshot)
	}
}

func TestRunPollsOnNudge(t *testing.T) {
	backend := newFakeBackend()
	loop := New(backend, Config{Viewer: models.SenderPatient, Interval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- loop.Run(ctx)
	}()

	waitFor(t, func() bool { return backend.listCallCount() >= 1 })
	loop.Nudge()
	waitFor(t, func() bool { return backend.listCallCount() >= 2 })

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
}

func TestRunKeepsPollingAfterFailures(t *testing.T) {
	backend := newFakeBackend()
	backend.listErr = errors.New("offline")
	loop := New(backend, Config{Viewer: models.SenderPatient, Interval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- loop.Run(ctx)
	}()

	waitFor(t, func() bool { return backend.listCallCount() >= 3 })
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
}

func TestOnUpdateReceivesSnapshots(t *testing.T) {
	backend := newFakeBackend()
	var mu sync.Mutex
	var states []State
	loop := New(backend, Config{
		Viewer: models.SenderDoctor,
		OnUpdate: func(s Snapshot) {
			mu.Lock()
			states = append(states, s.State)
			mu.Unlock()
		},
	})

	if err := loop.Tick(context.Background()); err != nil {
		t.Fatalf("Tick returned error: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(states) < 2 || states[0] != Polling || states[len(states)-1] != Idle {
		t.Fatalf("unexpected state sequence: %v", states)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
