package types

import (
	"encoding/json"
	"testing"
	"time"
)

func TestTaggedRoundTrip(t *testing.T) {
	progress := DraftProgress{
		JobID:     "job-1",
		Status:    DraftRunning,
		Summary:   "rewriting",
		Timestamp: time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC),
	}
	text, err := EncodeTagged(TagToolProgress, progress)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	tag, payload, ok := DecodeTagged(text)
	if !ok || tag != TagToolProgress {
		t.Fatalf("decode: tag=%q ok=%v", tag, ok)
	}
	var decoded DraftProgress
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if decoded.JobID != "job-1" || decoded.Status != DraftRunning {
		t.Errorf("decoded = %+v", decoded)
	}
}

func TestDecodeTaggedRejectsUnknown(t *testing.T) {
	tests := []string{
		"plain system text",
		"::{}",
		"SOMETHING_ELSE::{}",
		"",
	}
	for _, text := range tests {
		if _, _, ok := DecodeTagged(text); ok {
			t.Errorf("DecodeTagged(%q) accepted", text)
		}
	}
}

func TestDedupKeyDistinguishesStatus(t *testing.T) {
	ts := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	a := DraftProgress{JobID: "job-1", Status: DraftRunning, Timestamp: ts}
	b := DraftProgress{JobID: "job-1", Status: DraftComplete, Timestamp: ts}
	if a.DedupKey() == b.DedupKey() {
		t.Error("different statuses share a dedup key")
	}
	if a.DedupKey() != a.DedupKey() {
		t.Error("identical payloads differ")
	}
}

func TestNewSystemItemShape(t *testing.T) {
	item := NewSystemItem("TOOL_RESULT::{}")
	if item.Type != MsgItemCreate || item.Item.Role != "system" {
		t.Errorf("item = %+v", item)
	}
	if len(item.Item.Content) != 1 || item.Item.Content[0].Type != "input_text" {
		t.Errorf("content = %+v", item.Item.Content)
	}
}
