package logschema

import "testing"

func TestValidate(t *testing.T) {
	err := Validate("adapter_event", map[string]interface{}{
		"event":  "adapter_connected",
		"broker": "kite",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err = Validate("adapter_event", map[string]interface{}{
		"event": "adapter_connected",
	})
	if err == nil {
		t.Fatalf("expected error for missing fields")
	}
}

func TestValidateParseError(t *testing.T) {
	err := Validate("parse_error", map[string]interface{}{
		"broker":    "angel",
		"error":     "short frame",
		"frame_len": 12,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateUnknownEvent(t *testing.T) {
	if err := Validate("unknown_event", nil); err != nil {
		t.Fatalf("unknown events should pass: %v", err)
	}
}

func TestKnownEvents(t *testing.T) {
	names := Known()
	if len(names) == 0 {
		t.Fatalf("expected non-empty schema list")
	}
	found := false
	for _, n := range names {
		if n == "session_event" {
			found = true
		}
	}
	if !found {
		t.Fatalf("session_event not found in schemas")
	}
}
