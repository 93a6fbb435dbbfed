package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/automata-triggers/internal/domain"
	"github.com/shaiso/automata-triggers/internal/polling"
)

type staticSource []domain.Definition

func (s staticSource) ByMode(mode domain.Mode) []domain.Definition {
	var out []domain.Definition
	for _, d := range s {
		if d.Mode == mode {
			out = append(out, d)
		}
	}
	return out
}

type countingPoller struct {
	mu     sync.Mutex
	calls  map[string]int
	fail   map[string]bool
	active atomic.Int32
	peak   atomic.Int32
	delay  time.Duration
}

func newCountingPoller() *countingPoller {
	return &countingPoller{calls: make(map[string]int), fail: make(map[string]bool)}
}

func (p *countingPoller) Poll(_ context.Context, flowID uuid.UUID, name string) (polling.Result, error) {
	n := p.active.Add(1)
	defer p.active.Add(-1)
	for {
		peak := p.peak.Load()
		if n <= peak || p.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	time.Sleep(p.delay)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls[name]++
	if p.fail[name] {
		return polling.Result{}, errors.New("upstream down")
	}
	return polling.Result{}, nil
}

func (p *countingPoller) count(name string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[name]
}

func pollingDef(flow uuid.UUID, name string, sched domain.PollSchedule) domain.Definition {
	return domain.Definition{FlowID: flow, Name: name, Mode: domain.ModePolling, Schedule: sched}
}

func TestTick_RespectsIntervals(t *testing.T) {
	flow := uuid.New()
	source := staticSource{
		pollingDef(flow, "fast", domain.PollSchedule{IntervalSec: 10}),
		pollingDef(flow, "slow", domain.PollSchedule{IntervalSec: 60}),
		{FlowID: flow, Name: "hook", Mode: domain.ModeWebhook},
	}
	poller := newCountingPoller()
	s := New(Config{Source: source, Poller: poller})

	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return clock }

	// Первый тик: оба polling-триггера новые и опрашиваются сразу
	if res := s.Tick(context.Background()); res.Due != 2 || res.Polled != 2 {
		t.Fatalf("first tick: expected 2 due and polled, got %+v", res)
	}

	clock = clock.Add(5 * time.Second)
	if res := s.Tick(context.Background()); res.Due != 0 {
		t.Errorf("nothing should be due after 5s, got %+v", res)
	}

	clock = clock.Add(5 * time.Second)
	s.Tick(context.Background())
	if poller.count("fast") != 2 || poller.count("slow") != 1 {
		t.Errorf("after 10s: fast=%d slow=%d", poller.count("fast"), poller.count("slow"))
	}

	clock = clock.Add(50 * time.Second)
	s.Tick(context.Background())
	if poller.count("fast") != 3 || poller.count("slow") != 2 {
		t.Errorf("after 60s: fast=%d slow=%d", poller.count("fast"), poller.count("slow"))
	}
	if poller.count("hook") != 0 {
		t.Error("webhook triggers must not be polled")
	}
}

func TestTick_CronSchedule(t *testing.T) {
	flow := uuid.New()
	source := staticSource{pollingDef(flow, "five", domain.PollSchedule{Cron: "*/5 * * * *"})}
	poller := newCountingPoller()
	s := New(Config{Source: source, Poller: poller})

	clock := time.Date(2024, 1, 1, 10, 1, 0, 0, time.UTC)
	s.now = func() time.Time { return clock }

	s.Tick(context.Background())
	next, ok := s.NextDue(flow, "five")
	if !ok || !next.Equal(time.Date(2024, 1, 1, 10, 5, 0, 0, time.UTC)) {
		t.Errorf("expected next due 10:05, got %v", next)
	}
}

func TestTick_FailureDoesNotBlockOthers(t *testing.T) {
	flow := uuid.New()
	source := staticSource{
		pollingDef(flow, "bad", domain.PollSchedule{}),
		pollingDef(flow, "good", domain.PollSchedule{}),
	}
	poller := newCountingPoller()
	poller.fail["bad"] = true
	s := New(Config{Source: source, Poller: poller})

	res := s.Tick(context.Background())
	if res.Failed != 1 || res.Polled != 1 {
		t.Errorf("expected 1 failed and 1 polled, got %+v", res)
	}
	if poller.count("good") != 1 {
		t.Error("good trigger should still be polled")
	}
}

func TestTick_BoundedConcurrency(t *testing.T) {
	flow := uuid.New()
	var source staticSource
	for i := range 10 {
		source = append(source, pollingDef(flow, string(rune('a'+i)), domain.PollSchedule{}))
	}
	poller := newCountingPoller()
	poller.delay = 20 * time.Millisecond
	s := New(Config{Source: source, Poller: poller, Concurrency: 3})

	res := s.Tick(context.Background())
	if res.Polled != 10 {
		t.Fatalf("expected 10 polled, got %+v", res)
	}
	if peak := poller.peak.Load(); peak > 3 {
		t.Errorf("concurrency limit exceeded: peak %d", peak)
	}
}

func TestCollectDue_DropsRemovedTriggers(t *testing.T) {
	flow := uuid.New()
	poller := newCountingPoller()
	s := New(Config{Source: staticSource{pollingDef(flow, "a", domain.PollSchedule{})}, Poller: poller})
	s.Tick(context.Background())

	s.source = staticSource{}
	s.Tick(context.Background())

	if _, ok := s.NextDue(flow, "a"); ok {
		t.Error("removed trigger should be dropped from the due table")
	}
}

func TestValidateSchedule(t *testing.T) {
	tests := []struct {
		name    string
		sched   domain.PollSchedule
		wantErr bool
	}{
		{"empty", domain.PollSchedule{}, false},
		{"interval", domain.PollSchedule{IntervalSec: 30}, false},
		{"cron", domain.PollSchedule{Cron: "0 * * * *", Timezone: "Europe/Moscow"}, false},
		{"descriptor", domain.PollSchedule{Cron: "@hourly"}, false},
		{"bad cron", domain.PollSchedule{Cron: "every minute"}, true},
		{"bad timezone", domain.PollSchedule{Cron: "0 * * * *", Timezone: "Mars/Olympus"}, true},
		{"negative interval", domain.PollSchedule{IntervalSec: -1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSchedule(tt.sched)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateSchedule() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
