package connectors

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/shaiso/automata-triggers/internal/domain"
)

func TestCompileTemplate_Render(t *testing.T) {
	t.Setenv("ROWS_TOKEN", "s3cr3t")

	data := requestData{
		FlowID:    "f1",
		Trigger:   "rows",
		Watermark: 1704067200000,
		Since:     "2024-01-01T00:00:00Z",
	}

	tests := []struct {
		name     string
		template string
		expected string
	}{
		{"plain text", "https://api.example.com/rows", "https://api.example.com/rows"},
		{"since", "/rows?after={{ .Since }}", "/rows?after=2024-01-01T00:00:00Z"},
		{"watermark in seconds", "{{ unix .Watermark }}", "1704067200"},
		{"env", "Bearer {{ env \"ROWS_TOKEN\" }}", "Bearer s3cr3t"},
		{"default", "{{ default \"none\" .CallbackURL }}", "none"},
		{"trigger", "{{ upper .Trigger }}", "ROWS"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpl, err := compileTemplate("test", tt.template)
			if err != nil {
				t.Fatalf("compileTemplate failed: %v", err)
			}
			got, err := tmpl.render(data)
			if err != nil {
				t.Fatalf("render failed: %v", err)
			}
			if got != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestCompileTemplate_Errors(t *testing.T) {
	if _, err := compileTemplate("url", "{{ .Since "); !errors.Is(err, ErrInvalidProps) {
		t.Errorf("expected ErrInvalidProps for parse error, got %v", err)
	}

	tmpl, err := compileTemplate("url", "{{ .Unknown }}")
	if err != nil {
		t.Fatalf("compileTemplate failed: %v", err)
	}
	if _, err := tmpl.render(requestData{}); !errors.Is(err, ErrTemplate) {
		t.Errorf("expected ErrTemplate for unknown field, got %v", err)
	}
}

func TestNewRequestData_SinceOnlyAfterFirstItem(t *testing.T) {
	d := newRequestData(domain.TriggerContext{FlowID: uuid.New(), TriggerName: "rows"})
	if d.Since != "" {
		t.Errorf("Since must be empty before the first item, got %q", d.Since)
	}

	d = newRequestData(domain.TriggerContext{LastFetchEpochMillis: 1704067200500})
	if d.Since != "2024-01-01T00:00:00.5Z" {
		t.Errorf("unexpected Since %q", d.Since)
	}
}

func TestHTTPPoll_TemplatedRequest(t *testing.T) {
	t.Setenv("ROWS_TOKEN", "abc")

	var gotAfter, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAfter = r.URL.Query().Get("after")
		gotAuth = r.Header.Get("Authorization")
		_, _ = io.WriteString(w, `[]`)
	}))
	defer srv.Close()

	conn, err := NewHTTPPoll(map[string]any{
		"url":       srv.URL + "/rows?after={{ .Since }}",
		"timestamp": ".ts",
		"headers":   map[string]any{"Authorization": "Bearer {{ env \"ROWS_TOKEN\" }}"},
	}, Options{})
	if err != nil {
		t.Fatalf("NewHTTPPoll failed: %v", err)
	}

	if _, err := conn.FetchItems(context.Background(), domain.TriggerContext{LastFetchEpochMillis: 1704067200000}); err != nil {
		t.Fatalf("FetchItems failed: %v", err)
	}
	if gotAfter != "2024-01-01T00:00:00Z" {
		t.Errorf("unexpected after=%q", gotAfter)
	}
	if gotAuth != "Bearer abc" {
		t.Errorf("unexpected Authorization %q", gotAuth)
	}
}
