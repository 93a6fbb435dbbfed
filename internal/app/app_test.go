package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/automata-triggers/internal/config"
	"github.com/shaiso/automata-triggers/internal/connectors"
	"github.com/shaiso/automata-triggers/internal/domain"
	"github.com/shaiso/automata-triggers/internal/executor"
)

const flowID = "6f1c2d1e-1111-4a4a-9b9b-000000000001"

const triggersFile = `
triggers:
  - flow_id: ` + flowID + `
    name: inbound
    mode: WEBHOOK
    connector: catch_webhook
    enabled: true
  - flow_id: ` + flowID + `
    name: contact
    mode: WEBHOOK-SUB
    connector: form
    props:
      wait_for_response: false
`

func memoryConfig(t *testing.T, file string) config.Config {
	t.Helper()
	return config.Config{
		StoreBackend:      config.BackendMemory,
		LockBackend:       config.BackendMemory,
		BrokerBackend:     config.BackendMemory,
		PublicURL:         "http://triggers.test",
		ResponseTimeout:   time.Second,
		CorrelationRetain: time.Minute,
		PollLockTTL:       time.Minute,
		TestSampleLimit:   5,
		TriggersFile:      file,
		PlatformName:      "Automata",
	}
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "triggers.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write triggers file: %v", err)
	}
	return path
}

func TestNew_MemoryBackends(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, memoryConfig(t, writeFile(t, triggersFile)), nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer a.Close()

	if _, ok := a.Executor.(*executor.Memory); !ok {
		t.Errorf("expected in-memory executor, got %T", a.Executor)
	}
	if len(a.Orchestrator.Registry().List()) != 2 {
		t.Fatalf("expected 2 registered triggers, got %d", len(a.Orchestrator.Registry().List()))
	}

	if err := a.EnableLoaded(ctx); err != nil {
		t.Fatalf("EnableLoaded failed: %v", err)
	}

	fid := uuid.MustParse(flowID)
	enabled, err := a.Orchestrator.IsEnabled(ctx, fid, "inbound")
	if err != nil || !enabled {
		t.Errorf("inbound should be enabled: enabled=%v err=%v", enabled, err)
	}
	enabled, _ = a.Orchestrator.IsEnabled(ctx, fid, "contact")
	if enabled {
		t.Error("contact is not marked enabled in the file")
	}

	if err := a.Ready(ctx); err != nil {
		t.Errorf("Ready failed: %v", err)
	}
}

func TestNew_MissingFileMeansNoTriggers(t *testing.T) {
	a, err := New(context.Background(), memoryConfig(t, filepath.Join(t.TempDir(), "absent.yaml")), nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer a.Close()

	if n := len(a.Orchestrator.Registry().List()); n != 0 {
		t.Errorf("expected empty registry, got %d", n)
	}
}

func TestNew_InvalidFile(t *testing.T) {
	bad := writeFile(t, "triggers:\n  - flow_id: nope\n    name: x\n    mode: POLLING\n    connector: http_poll\n")
	_, err := New(context.Background(), memoryConfig(t, bad), nil)
	if !errors.Is(err, connectors.ErrInvalidDefinitions) {
		t.Fatalf("expected ErrInvalidDefinitions, got %v", err)
	}
}

func TestStartCompletions_NoBrokerWaitsForCancel(t *testing.T) {
	a, err := New(context.Background(), memoryConfig(t, writeFile(t, triggersFile)), nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.StartCompletions(ctx) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("expected nil after cancel, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("StartCompletions did not return after cancel")
	}
}

func TestNew_SubmitWithoutWaitStartsRun(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, memoryConfig(t, writeFile(t, triggersFile)), nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer a.Close()

	fid := uuid.MustParse(flowID)
	if _, err := a.Orchestrator.Enable(ctx, fid, "contact"); err != nil {
		t.Fatalf("Enable failed: %v", err)
	}

	outcome, err := a.Orchestrator.Submit(ctx, fid, "form",
		domain.RawPayload{Method: "POST", Body: []byte(`{"email":"a@b.c"}`)}, 0)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if outcome.State != domain.SubmitStateRunStarted {
		t.Errorf("expected RUN_STARTED, got %s", outcome.State)
	}

	mem := a.Executor.(*executor.Memory)
	if len(mem.Runs()) != 1 {
		t.Errorf("expected one run, got %d", len(mem.Runs()))
	}
}
