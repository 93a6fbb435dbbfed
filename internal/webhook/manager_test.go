package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/shaiso/automata-triggers/internal/domain"
	"github.com/shaiso/automata-triggers/internal/repo"
)

// fakeHookConnector считает вызовы хуков.
type fakeHookConnector struct {
	enableCalls  atomic.Int32
	disableCalls atomic.Int32
	enableErr    error
	disableErr   error

	mu          sync.Mutex
	lastCtx     domain.TriggerContext
	disabledSub domain.Subscription
}

func (f *fakeHookConnector) Kind() string { return "fake_hook" }

func (f *fakeHookConnector) OnEnable(_ context.Context, tc domain.TriggerContext) (domain.SubscriptionInfo, error) {
	n := f.enableCalls.Add(1)
	f.mu.Lock()
	f.lastCtx = tc
	f.mu.Unlock()
	if f.enableErr != nil {
		return domain.SubscriptionInfo{}, f.enableErr
	}
	return domain.SubscriptionInfo{
		ExternalID: "ext-" + string(rune('0'+n)),
		Metadata:   map[string]any{"secret": "s3"},
	}, nil
}

func (f *fakeHookConnector) OnDisable(_ context.Context, _ domain.TriggerContext, sub domain.Subscription) error {
	f.disableCalls.Add(1)
	f.mu.Lock()
	f.disabledSub = sub
	f.mu.Unlock()
	return f.disableErr
}

func (f *fakeHookConnector) Normalize(_ context.Context, _ domain.TriggerContext, raw domain.RawPayload) ([]domain.Event, error) {
	var body map[string]any
	if err := json.Unmarshal(raw.Body, &body); err != nil {
		return nil, err
	}
	return []domain.Event{body}, nil
}

func newTestManager() (*Manager, *repo.MemoryStore, *fakeHookConnector, *domain.Definition) {
	store := repo.NewMemoryStore()
	conn := &fakeHookConnector{}
	def := &domain.Definition{
		Name:      "on_push",
		FlowID:    uuid.New(),
		Mode:      domain.ModeWebhook,
		Connector: conn,
	}
	return New(Config{Store: store}), store, conn, def
}

func TestEnable_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	m, store, conn, def := newTestManager()

	first, err := m.Enable(ctx, def, "https://hooks.example.com/a")
	if err != nil {
		t.Fatalf("Enable failed: %v", err)
	}
	second, err := m.Enable(ctx, def, "https://hooks.example.com/a")
	if err != nil {
		t.Fatalf("second Enable failed: %v", err)
	}

	if got := conn.enableCalls.Load(); got != 1 {
		t.Errorf("expected 1 hook call, got %d", got)
	}
	if first.ExternalID != second.ExternalID {
		t.Errorf("second enable should return stored subscription: %s vs %s", first.ExternalID, second.ExternalID)
	}
	if conn.lastCtx.CallbackURL != "https://hooks.example.com/a" {
		t.Errorf("callback url not passed to hook: %q", conn.lastCtx.CallbackURL)
	}
	if len(store.Snapshot()) != 1 {
		t.Errorf("expected exactly 1 stored record, got %d", len(store.Snapshot()))
	}
}

func TestEnable_ConcurrentCallsSubscribeOnce(t *testing.T) {
	ctx := context.Background()
	m, _, conn, def := newTestManager()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = m.Enable(ctx, def, "https://hooks.example.com/a")
		}()
	}
	wg.Wait()

	if got := conn.enableCalls.Load(); got != 1 {
		t.Errorf("expected 1 hook call, got %d", got)
	}
}

func TestEnable_FailsClosed(t *testing.T) {
	ctx := context.Background()
	m, store, conn, def := newTestManager()
	conn.enableErr = errors.New("provider rejected")

	_, err := m.Enable(ctx, def, "https://hooks.example.com/a")
	if !errors.Is(err, ErrSubscribe) {
		t.Fatalf("expected ErrSubscribe, got %v", err)
	}
	if len(store.Snapshot()) != 0 {
		t.Error("no subscription must be persisted after hook failure")
	}

	// Следующий enable снова обращается к провайдеру
	conn.enableErr = nil
	if _, err := m.Enable(ctx, def, "https://hooks.example.com/a"); err != nil {
		t.Fatalf("retry Enable failed: %v", err)
	}
	if got := conn.enableCalls.Load(); got != 2 {
		t.Errorf("expected 2 hook calls, got %d", got)
	}
}

func TestDisable_RemovesRecordDespiteRemoteError(t *testing.T) {
	ctx := context.Background()
	m, _, conn, def := newTestManager()

	sub, err := m.Enable(ctx, def, "https://hooks.example.com/a")
	if err != nil {
		t.Fatalf("Enable failed: %v", err)
	}

	conn.disableErr = errors.New("provider down")
	if err := m.Disable(ctx, def); err != nil {
		t.Fatalf("Disable should not fail on remote error: %v", err)
	}

	if conn.disabledSub.ExternalID != sub.ExternalID {
		t.Errorf("disable hook should get stored metadata, got %+v", conn.disabledSub)
	}
	if _, err := m.Subscription(ctx, def); !errors.Is(err, repo.ErrNotFound) {
		t.Errorf("expected subscription removed, got %v", err)
	}
}

func TestDisable_NoSubscriptionIsNoop(t *testing.T) {
	m, _, conn, def := newTestManager()

	if err := m.Disable(context.Background(), def); err != nil {
		t.Fatalf("Disable failed: %v", err)
	}
	if conn.disableCalls.Load() != 0 {
		t.Error("disable hook must not be called without subscription")
	}
}

func TestEnableDisableEnable(t *testing.T) {
	ctx := context.Background()
	m, _, conn, def := newTestManager()

	_, _ = m.Enable(ctx, def, "cb")
	_ = m.Disable(ctx, def)
	sub, err := m.Enable(ctx, def, "cb")
	if err != nil {
		t.Fatalf("re-enable failed: %v", err)
	}

	if conn.enableCalls.Load() != 2 {
		t.Errorf("re-enable after disable should subscribe again")
	}
	if sub.ExternalID != "ext-2" {
		t.Errorf("expected fresh subscription ext-2, got %s", sub.ExternalID)
	}
}

func TestRun_Normalizes(t *testing.T) {
	m, _, _, def := newTestManager()

	events, err := m.Run(context.Background(), def, domain.RawPayload{Body: []byte(`{"ref":"main"}`)})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}

	_, err = m.Run(context.Background(), def, domain.RawPayload{Body: []byte(`not json`)})
	if !errors.Is(err, ErrNormalize) {
		t.Errorf("expected ErrNormalize, got %v", err)
	}
}

func TestTest_DoesNotSubscribe(t *testing.T) {
	m, store, conn, def := newTestManager()
	def.SampleData = map[string]any{"ref": "main"}

	sample, err := m.Test(context.Background(), def)
	if err != nil {
		t.Fatalf("Test failed: %v", err)
	}
	if len(sample) != 1 {
		t.Errorf("expected sample data, got %v", sample)
	}
	if conn.enableCalls.Load() != 0 || len(store.Snapshot()) != 0 {
		t.Error("test must not touch provider or store")
	}
}

func TestEnable_RejectsWrongMode(t *testing.T) {
	m, _, _, def := newTestManager()
	def.Mode = domain.ModePolling

	if _, err := m.Enable(context.Background(), def, "cb"); !errors.Is(err, ErrNotWebhook) {
		t.Errorf("expected ErrNotWebhook, got %v", err)
	}
}
