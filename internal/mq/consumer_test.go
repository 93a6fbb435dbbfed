package mq

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestParsePayload_RoundTripsEnvelope(t *testing.T) {
	runID := uuid.New()
	raw, err := json.Marshal(&Message{
		ID:      "m1",
		Type:    MessageTypeRunCompleted,
		Payload: RunCompletedPayload{RunID: runID, Status: "FAILED", Error: "boom"},
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	// Так сообщение видит consumer: payload — map после json.Unmarshal
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	payload, err := ParsePayload[RunCompletedPayload](&msg)
	if err != nil {
		t.Fatalf("ParsePayload failed: %v", err)
	}
	if payload.RunID != runID || payload.Status != "FAILED" || payload.Error != "boom" {
		t.Errorf("unexpected payload: %+v", payload)
	}
}

func TestTopologyInfo_MentionsQueues(t *testing.T) {
	info := TopologyInfo()
	for _, name := range []string{string(QueueRunsPending), string(QueueRunsCompleted), string(ExchangeResolutions)} {
		if !strings.Contains(info, name) {
			t.Errorf("topology info should mention %s", name)
		}
	}
}
