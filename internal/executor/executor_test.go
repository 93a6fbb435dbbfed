package executor

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shaiso/automata-triggers/internal/domain"
	"github.com/shaiso/automata-triggers/internal/mq"
)

type fakePublisher struct {
	mu       sync.Mutex
	payloads []mq.RunPendingPayload
	err      error
}

func (f *fakePublisher) PublishRunPending(_ context.Context, p mq.RunPendingPayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.payloads = append(f.payloads, p)
	return nil
}

func TestQueue_StartPersistsAndPublishes(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	pub := &fakePublisher{}
	q := NewQueue(store, pub, nil)

	runID := uuid.New()
	handle, err := q.Start(ctx, domain.StartRequest{
		RunID:       runID,
		FlowID:      uuid.New(),
		TriggerName: "form",
		Payload:     map[string]any{"a": 1},
		Synchronous: true,
	})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if handle != runID {
		t.Errorf("pre-assigned run id must be kept, got %s", handle)
	}

	run, err := store.GetByID(ctx, runID)
	if err != nil {
		t.Fatalf("run not persisted: %v", err)
	}
	if run.Status != domain.RunStatusPending || !run.Synchronous {
		t.Errorf("unexpected run %+v", run)
	}

	if len(pub.payloads) != 1 || pub.payloads[0].RunID != runID {
		t.Errorf("run.pending not published: %+v", pub.payloads)
	}
}

func TestQueue_StartAssignsID(t *testing.T) {
	q := NewQueue(NewMemory(), &fakePublisher{}, nil)

	handle, err := q.Start(context.Background(), domain.StartRequest{FlowID: uuid.New(), TriggerName: "p"})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if handle == uuid.Nil {
		t.Error("executor must assign an id")
	}
}

func TestQueue_PublishFailure(t *testing.T) {
	q := NewQueue(NewMemory(), &fakePublisher{err: errors.New("broker down")}, nil)

	if _, err := q.Start(context.Background(), domain.StartRequest{FlowID: uuid.New()}); err == nil {
		t.Error("expected publish error")
	}
}

func TestMemory_OnStart(t *testing.T) {
	m := NewMemory()
	got := make(chan domain.Run, 1)
	m.OnStart = func(run domain.Run) { got <- run }

	handle, _ := m.Start(context.Background(), domain.StartRequest{FlowID: uuid.New(), TriggerName: "x", Payload: "p"})
	run := <-got
	if run.ID != handle || run.Payload != "p" {
		t.Errorf("unexpected run %+v", run)
	}
	if len(m.Runs()) != 1 {
		t.Errorf("expected 1 run, got %d", len(m.Runs()))
	}
}

func TestCompletionHandler(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name        string
		synchronous bool
		status      string
		wantStatus  domain.RunStatus
		wantNotify  bool
	}{
		{"sync succeeded", true, "SUCCEEDED", domain.RunStatusSucceeded, true},
		{"sync failed", true, "FAILED", domain.RunStatusFailed, true},
		{"async succeeded", false, "SUCCEEDED", domain.RunStatusSucceeded, false},
		{"bad status", true, "WHATEVER", domain.RunStatusPending, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewMemory()
			runID, _ := store.Start(ctx, domain.StartRequest{FlowID: uuid.New(), Synchronous: tt.synchronous})

			var notified []uuid.UUID
			h := NewCompletionHandler(store, func(_ context.Context, id uuid.UUID) error {
				notified = append(notified, id)
				return nil
			}, nil)

			msg := &mq.Delivery{Message: mq.Message{
				ID:      "m1",
				Type:    mq.MessageTypeRunCompleted,
				Payload: mq.RunCompletedPayload{RunID: runID, Status: tt.status, Error: "e"},
			}}
			if err := h.Handle(ctx, msg); err != nil {
				t.Fatalf("Handle failed: %v", err)
			}

			run, _ := store.GetByID(ctx, runID)
			if run.Status != tt.wantStatus {
				t.Errorf("expected status %s, got %s", tt.wantStatus, run.Status)
			}
			if (len(notified) == 1) != tt.wantNotify {
				t.Errorf("notify mismatch: %v", notified)
			}
		})
	}
}

func TestCompletionHandler_UnknownRunIsAcked(t *testing.T) {
	h := NewCompletionHandler(NewMemory(), nil, nil)

	err := h.Complete(context.Background(), mq.RunCompletedPayload{RunID: uuid.New(), Status: "SUCCEEDED"})
	if err != nil {
		t.Errorf("unknown run should not be retried, got %v", err)
	}
}
