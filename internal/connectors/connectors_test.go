package connectors

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/automata-triggers/internal/domain"
	"github.com/shaiso/automata-triggers/internal/repo"
)

// --- http_poll ---

func TestHTTPPoll_FetchItems(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("since")
		if r.Header.Get("Authorization") != "Bearer t" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"data":[
			{"id":1,"created_at":"2024-01-01T00:00:00Z"},
			{"id":2,"created_at":1704067200500},
			{"id":3,"created_at":"1704067201000"}
		]}`)
	}))
	defer srv.Close()

	conn, err := NewHTTPPoll(map[string]any{
		"url":         srv.URL,
		"items":       ".data",
		"timestamp":   ".created_at",
		"since_param": "since",
		"headers":     map[string]any{"Authorization": "Bearer t"},
	}, Options{})
	if err != nil {
		t.Fatalf("NewHTTPPoll failed: %v", err)
	}

	items, err := conn.FetchItems(context.Background(), domain.TriggerContext{LastFetchEpochMillis: 42})
	if err != nil {
		t.Fatalf("FetchItems failed: %v", err)
	}

	want := []int64{1704067200000, 1704067200500, 1704067201000}
	if len(items) != len(want) {
		t.Fatalf("expected %d items, got %d", len(want), len(items))
	}
	for i, w := range want {
		if items[i].EpochMillis != w {
			t.Errorf("item %d: expected %d, got %d", i, w, items[i].EpochMillis)
		}
	}
	if gotQuery != "42" {
		t.Errorf("expected since=42, got %q", gotQuery)
	}
}

func TestHTTPPoll_FirstPollOmitsSince(t *testing.T) {
	var rawQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rawQuery = r.URL.RawQuery
		_, _ = io.WriteString(w, `[]`)
	}))
	defer srv.Close()

	conn, _ := NewHTTPPoll(map[string]any{"url": srv.URL, "timestamp": ".ts", "since_param": "since"}, Options{})
	if _, err := conn.FetchItems(context.Background(), domain.TriggerContext{}); err != nil {
		t.Fatalf("FetchItems failed: %v", err)
	}
	if rawQuery != "" {
		t.Errorf("first poll must not send since, got %q", rawQuery)
	}
}

func TestHTTPPoll_SecondsUnit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `[{"ts":1700000000}]`)
	}))
	defer srv.Close()

	conn, _ := NewHTTPPoll(map[string]any{"url": srv.URL, "timestamp": ".ts", "timestamp_unit": "s"}, Options{})
	items, err := conn.FetchItems(context.Background(), domain.TriggerContext{})
	if err != nil {
		t.Fatalf("FetchItems failed: %v", err)
	}
	if items[0].EpochMillis != 1700000000000 {
		t.Errorf("expected seconds converted to millis, got %d", items[0].EpochMillis)
	}
}

func TestHTTPPoll_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/fail":
			w.WriteHeader(http.StatusBadGateway)
		case "/huge":
			_, _ = io.WriteString(w, `[{"ts":1e300}]`)
		case "/huge-string":
			_, _ = io.WriteString(w, `[{"ts":"-1e30"}]`)
		default:
			_, _ = io.WriteString(w, `[{"id":1}]`)
		}
	}))
	defer srv.Close()

	t.Run("upstream error", func(t *testing.T) {
		conn, _ := NewHTTPPoll(map[string]any{"url": srv.URL + "/fail", "timestamp": ".ts"}, Options{})
		_, err := conn.FetchItems(context.Background(), domain.TriggerContext{})
		var httpErr *HTTPError
		if !errors.As(err, &httpErr) || httpErr.StatusCode != http.StatusBadGateway {
			t.Errorf("expected HTTPError 502, got %v", err)
		}
	})

	t.Run("missing timestamp", func(t *testing.T) {
		conn, _ := NewHTTPPoll(map[string]any{"url": srv.URL, "timestamp": ".ts"}, Options{})
		if _, err := conn.FetchItems(context.Background(), domain.TriggerContext{}); !errors.Is(err, ErrTimestamp) {
			t.Errorf("expected ErrTimestamp, got %v", err)
		}
	})

	for _, path := range []string{"/huge", "/huge-string"} {
		t.Run("timestamp out of range "+path, func(t *testing.T) {
			conn, _ := NewHTTPPoll(map[string]any{"url": srv.URL + path, "timestamp": ".ts"}, Options{})
			items, err := conn.FetchItems(context.Background(), domain.TriggerContext{})
			if !errors.Is(err, ErrTimestamp) {
				t.Errorf("expected ErrTimestamp, got %v (items %+v)", err, items)
			}
		})
	}
}

func TestHTTPPoll_InvalidProps(t *testing.T) {
	tests := []struct {
		name  string
		props map[string]any
	}{
		{"missing url", map[string]any{"timestamp": ".ts"}},
		{"missing timestamp", map[string]any{"url": "https://a.example.com"}},
		{"bad jq", map[string]any{"url": "https://a.example.com", "timestamp": ".[["}},
		{"bad unit", map[string]any{"url": "https://a.example.com", "timestamp": ".ts", "timestamp_unit": "h"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewHTTPPoll(tt.props, Options{}); !errors.Is(err, ErrInvalidProps) {
				t.Errorf("expected ErrInvalidProps, got %v", err)
			}
		})
	}
}

// --- http_webhook ---

type fakeProvider struct {
	mu      sync.Mutex
	hooks   map[string]string
	deleted []string
}

func (p *fakeProvider) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch r.Method {
	case http.MethodPost:
		var body struct {
			CallbackURL string `json:"callback_url"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		id := "hook-" + string(rune('a'+len(p.hooks)))
		p.hooks[id] = body.CallbackURL
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"id": id})
	case http.MethodDelete:
		id := strings.TrimPrefix(r.URL.Path, "/hooks/")
		if _, ok := p.hooks[id]; !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		delete(p.hooks, id)
		p.deleted = append(p.deleted, id)
		w.WriteHeader(http.StatusNoContent)
	}
}

func TestHTTPWebhook_SubscribeAndUnsubscribe(t *testing.T) {
	provider := &fakeProvider{hooks: make(map[string]string)}
	srv := httptest.NewServer(provider)
	defer srv.Close()

	conn, err := NewHTTPWebhook(map[string]any{"subscribe_url": srv.URL + "/hooks"}, Options{})
	if err != nil {
		t.Fatalf("NewHTTPWebhook failed: %v", err)
	}

	ctx := context.Background()
	info, err := conn.OnEnable(ctx, domain.TriggerContext{CallbackURL: "https://triggers.example.com/webhooks/f/push"})
	if err != nil {
		t.Fatalf("OnEnable failed: %v", err)
	}
	if provider.hooks[info.ExternalID] != "https://triggers.example.com/webhooks/f/push" {
		t.Errorf("provider did not receive callback URL: %v", provider.hooks)
	}

	sub := domain.Subscription{ExternalID: info.ExternalID}
	if err := conn.OnDisable(ctx, domain.TriggerContext{}, sub); err != nil {
		t.Fatalf("OnDisable failed: %v", err)
	}
	if len(provider.deleted) != 1 || provider.deleted[0] != info.ExternalID {
		t.Errorf("expected %s deleted, got %v", info.ExternalID, provider.deleted)
	}

	// Повторное удаление: провайдер отвечает 404, это не ошибка
	if err := conn.OnDisable(ctx, domain.TriggerContext{}, sub); err != nil {
		t.Errorf("OnDisable of missing hook should succeed, got %v", err)
	}
}

func TestHTTPWebhook_Normalize(t *testing.T) {
	conn, _ := NewHTTPWebhook(map[string]any{"subscribe_url": "https://a.example.com/hooks", "events": ".events[]"}, Options{})

	events, err := conn.Normalize(context.Background(), domain.TriggerContext{}, domain.RawPayload{
		Body: []byte(`{"events":[{"n":1},{"n":2}]}`),
	})
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if len(events) != 2 {
		t.Errorf("expected 2 events, got %d", len(events))
	}

	if _, err := conn.Normalize(context.Background(), domain.TriggerContext{}, domain.RawPayload{Body: []byte(`{`)}); !errors.Is(err, ErrInvalidPayload) {
		t.Errorf("expected ErrInvalidPayload, got %v", err)
	}
}

// --- catch_webhook ---

func newDedupWebhook(t *testing.T, props map[string]any) (*CatchWebhook, domain.TriggerContext) {
	t.Helper()
	conn, err := NewCatchWebhook(props, Options{})
	if err != nil {
		t.Fatalf("NewCatchWebhook failed: %v", err)
	}
	tc := domain.TriggerContext{Store: repo.Bind(repo.NewMemoryStore(), uuid.New(), repo.ScopeFlow, "connector:hook:")}
	return conn, tc
}

func TestCatchWebhook_NormalizeDoesNotMarkEvents(t *testing.T) {
	ctx := context.Background()
	conn, tc := newDedupWebhook(t, map[string]any{"dedup_key": ".event_id"})
	raw := domain.RawPayload{Body: []byte(`{"event_id":"e1","v":1}`)}

	for i := range 2 {
		events, err := conn.Normalize(ctx, tc, raw)
		if err != nil || len(events) != 1 {
			t.Fatalf("delivery %d: normalize must not filter: %v err=%v", i, events, err)
		}
	}
	if _, seen, _ := tc.Store.Get(ctx, "seen:e1"); seen {
		t.Error("normalize must not write dedup keys")
	}
}

func TestCatchWebhook_ClaimEvent(t *testing.T) {
	ctx := context.Background()
	conn, tc := newDedupWebhook(t, map[string]any{"dedup_key": ".event_id"})
	event := map[string]any{"event_id": "e1"}

	claimed, release, err := conn.ClaimEvent(ctx, tc, event)
	if err != nil || !claimed {
		t.Fatalf("first claim should succeed: claimed=%v err=%v", claimed, err)
	}
	if again, _, _ := conn.ClaimEvent(ctx, tc, event); again {
		t.Error("redelivery should be dropped while the key is held")
	}

	// Run не запустился: отметка снимается, повтор провайдера проходит
	if err := release(ctx); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if retry, _, _ := conn.ClaimEvent(ctx, tc, event); !retry {
		t.Error("delivery after release must be claimed again")
	}

	if ok, _, _ := conn.ClaimEvent(ctx, tc, map[string]any{"other": 1}); !ok {
		t.Error("event without dedup key must always pass")
	}
}

func TestCatchWebhook_ConcurrentClaimSingleWinner(t *testing.T) {
	ctx := context.Background()
	conn, tc := newDedupWebhook(t, map[string]any{"dedup_key": ".event_id"})

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			claimed, _, err := conn.ClaimEvent(ctx, tc, map[string]any{"event_id": "dup"})
			if err != nil && !errors.Is(err, ErrDedupConflict) {
				t.Errorf("ClaimEvent failed: %v", err)
			}
			if claimed {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("expected exactly one claim, got %d", wins)
	}
}

func TestCatchWebhook_DedupRetention(t *testing.T) {
	ctx := context.Background()
	conn, tc := newDedupWebhook(t, map[string]any{"dedup_key": ".event_id", "dedup_ttl": "1h", "dedup_max_keys": 2})
	now := time.Now()
	conn.now = func() time.Time { return now }

	claim := func(id string) bool {
		t.Helper()
		ok, _, err := conn.ClaimEvent(ctx, tc, map[string]any{"event_id": id})
		if err != nil {
			t.Fatalf("ClaimEvent(%s) failed: %v", id, err)
		}
		return ok
	}

	claim("a")
	now = now.Add(time.Minute)
	claim("b")
	now = now.Add(time.Minute)
	claim("c")

	// dedup_max_keys = 2: самая старая отметка вытеснена
	if _, seen, _ := tc.Store.Get(ctx, "seen:a"); seen {
		t.Error("oldest marker should be evicted beyond dedup_max_keys")
	}
	if claim("b") {
		t.Error("b is still within retention and must be dropped")
	}

	// Через dedup_ttl отметка истекает и перехватывается
	now = now.Add(2 * time.Hour)
	if !claim("b") {
		t.Error("expired marker must not block a new delivery")
	}
	if _, seen, _ := tc.Store.Get(ctx, "seen:c"); seen {
		t.Error("expired marker should be swept from the store")
	}

	raw, _, _ := tc.Store.Get(ctx, seenIndex)
	var index []seenEntry
	if err := json.Unmarshal(raw, &index); err != nil || len(index) != 1 || index[0].Key != "seen:b" {
		t.Errorf("index should hold only the fresh marker, got %s err=%v", raw, err)
	}
}

func TestCatchWebhook_InvalidDedupProps(t *testing.T) {
	for _, props := range []map[string]any{
		{"dedup_key": ".id", "dedup_ttl": "soon"},
		{"dedup_key": ".id", "dedup_ttl": "-1h"},
		{"dedup_key": ".id", "dedup_max_keys": -5},
	} {
		if _, err := NewCatchWebhook(props, Options{}); !errors.Is(err, ErrInvalidProps) {
			t.Errorf("props %v: expected ErrInvalidProps, got %v", props, err)
		}
	}
}

func TestCatchWebhook_SyntheticSubscription(t *testing.T) {
	conn, _ := NewCatchWebhook(nil, Options{})
	info, err := conn.OnEnable(context.Background(), domain.TriggerContext{CallbackURL: "https://x"})
	if err != nil || !strings.HasPrefix(info.ExternalID, "catch-") {
		t.Errorf("unexpected subscription %+v err=%v", info, err)
	}
}

// --- form / chat ---

func TestForm_ValidatesSchema(t *testing.T) {
	form, err := NewForm(map[string]any{
		"title": "Contact",
		"input_schema": map[string]any{
			"type":     "object",
			"required": []any{"email"},
			"properties": map[string]any{
				"email": map[string]any{"type": "string"},
				"age":   map[string]any{"type": "integer"},
			},
		},
	}, Options{})
	if err != nil {
		t.Fatalf("NewForm failed: %v", err)
	}

	ctx := context.Background()
	tests := []struct {
		name    string
		raw     domain.RawPayload
		wantErr error
	}{
		{"valid json", domain.RawPayload{Body: []byte(`{"email":"a@b.c","age":30}`)}, nil},
		{"missing field", domain.RawPayload{Body: []byte(`{"age":30}`)}, ErrValidation},
		{"wrong type", domain.RawPayload{Body: []byte(`{"email":"a@b.c","age":"x"}`)}, ErrValidation},
		{"not an object", domain.RawPayload{Body: []byte(`[1]`)}, ErrInvalidPayload},
		{
			"url encoded",
			domain.RawPayload{
				Headers: map[string][]string{"Content-Type": {"application/x-www-form-urlencoded"}},
				Body:    []byte("email=a%40b.c"),
			},
			nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events, err := form.Normalize(ctx, domain.TriggerContext{}, tt.raw)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil || len(events) != 1 {
				t.Errorf("expected one event, got %v err=%v", events, err)
			}
		})
	}

	desc := form.Describe(domain.TriggerContext{})
	if desc.Kind != KindForm || desc.Title != "Contact" || !desc.WaitForResponse || desc.Branding != nil {
		t.Errorf("unexpected descriptor %+v", desc)
	}
}

func TestChat_DefaultsAndBranding(t *testing.T) {
	chat, err := NewChat(nil, Options{PlatformName: "Automata", PlatformLogoURL: "https://cdn.example.com/logo.svg"})
	if err != nil {
		t.Fatalf("NewChat failed: %v", err)
	}

	desc := chat.Describe(domain.TriggerContext{})
	if desc.Branding["name"] != "Automata" || desc.Branding["logo_url"] != "https://cdn.example.com/logo.svg" {
		t.Errorf("unexpected branding %v", desc.Branding)
	}

	ctx := context.Background()
	if _, err := chat.Normalize(ctx, domain.TriggerContext{}, domain.RawPayload{Body: []byte(`{"message":"hi"}`)}); err != nil {
		t.Errorf("valid chat message rejected: %v", err)
	}
	if _, err := chat.Normalize(ctx, domain.TriggerContext{}, domain.RawPayload{Body: []byte(`{"message":""}`)}); !errors.Is(err, ErrValidation) {
		t.Errorf("empty message should fail validation, got %v", err)
	}
}

// --- signature ---

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"a":1}`)
	sig := Sign("s3cr3t", body)

	if err := VerifySignature("s3cr3t", body, sig); err != nil {
		t.Errorf("valid signature rejected: %v", err)
	}
	if err := VerifySignature("s3cr3t", body, strings.TrimPrefix(sig, "sha256=")); err != nil {
		t.Errorf("signature without prefix rejected: %v", err)
	}
	if err := VerifySignature("other", body, sig); !errors.Is(err, ErrBadSignature) {
		t.Errorf("expected ErrBadSignature, got %v", err)
	}
	if err := VerifySignature("s3cr3t", body, ""); !errors.Is(err, ErrBadSignature) {
		t.Errorf("expected ErrBadSignature for empty header, got %v", err)
	}
}
