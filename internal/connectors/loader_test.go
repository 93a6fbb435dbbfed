package connectors

import (
	"errors"
	"strings"
	"testing"

	"github.com/shaiso/automata-triggers/internal/domain"
)

const validFile = `
triggers:
  - flow_id: 6f1c2d1e-1111-4a4a-9b9b-000000000001
    name: new_rows
    mode: POLLING
    connector: http_poll
    enabled: true
    schedule:
      cron: "*/5 * * * *"
    props:
      url: https://api.example.com/rows
      items: .data
      timestamp: .created_at
  - flow_id: 6f1c2d1e-1111-4a4a-9b9b-000000000001
    name: contact
    mode: WEBHOOK-SUB
    connector: form
    props:
      title: Contact
    sample:
      email: a@b.c
`

func TestLoad_Valid(t *testing.T) {
	loaded, err := DefaultCatalog(Options{}).Load(strings.NewReader(validFile))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("expected 2 definitions, got %d", len(loaded))
	}

	poll := loaded[0]
	if poll.Definition.Mode != domain.ModePolling || !poll.Enabled || poll.Definition.Schedule.Cron != "*/5 * * * *" {
		t.Errorf("unexpected polling entry %+v", poll)
	}
	if _, ok := poll.Definition.Connector.(domain.PollingConnector); !ok {
		t.Errorf("expected polling connector, got %T", poll.Definition.Connector)
	}

	form := loaded[1]
	if form.Definition.Mode != domain.ModeSubmit || form.Enabled {
		t.Errorf("unexpected form entry %+v", form)
	}
	if form.Definition.SampleData == nil {
		t.Error("sample should be loaded")
	}
}

func TestLoad_CollectsErrors(t *testing.T) {
	file := `
triggers:
  - flow_id: not-a-uuid
    name: a
    mode: POLLING
    connector: http_poll
  - flow_id: 6f1c2d1e-1111-4a4a-9b9b-000000000001
    name: b
    mode: SOMETIMES
    connector: form
  - flow_id: 6f1c2d1e-1111-4a4a-9b9b-000000000001
    name: c
    mode: WEBHOOK
    connector: ftp_watch
  - flow_id: 6f1c2d1e-1111-4a4a-9b9b-000000000001
    name: d
    mode: POLLING
    connector: http_poll
    schedule: {cron: "every minute"}
    props: {url: https://a.example.com, timestamp: .ts}
`
	_, err := DefaultCatalog(Options{}).Load(strings.NewReader(file))
	if !errors.Is(err, ErrInvalidDefinitions) {
		t.Fatalf("expected ErrInvalidDefinitions, got %v", err)
	}
	if !errors.Is(err, ErrUnknownConnector) {
		t.Errorf("unknown connector should be reported, got %v", err)
	}
	for _, name := range []string{"triggers[0]", "triggers[1]", "triggers[2]", "triggers[3]"} {
		if !strings.Contains(err.Error(), name) {
			t.Errorf("error should mention %s: %v", name, err)
		}
	}
}

func TestLoad_UnknownField(t *testing.T) {
	file := `
triggers:
  - flow_id: 6f1c2d1e-1111-4a4a-9b9b-000000000001
    name: a
    mod: POLLING
`
	if _, err := DefaultCatalog(Options{}).Load(strings.NewReader(file)); !errors.Is(err, ErrInvalidDefinitions) {
		t.Errorf("expected ErrInvalidDefinitions, got %v", err)
	}
}

func TestCatalog_Kinds(t *testing.T) {
	kinds := DefaultCatalog(Options{}).Kinds()
	want := []string{"catch_webhook", "chat", "form", "http_poll", "http_webhook"}
	if strings.Join(kinds, ",") != strings.Join(want, ",") {
		t.Errorf("expected %v, got %v", want, kinds)
	}
}
