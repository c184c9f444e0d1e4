package alert

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestWebhookChannel(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ch := NewWebhookChannel("webhook", srv.URL)
	if ch.Name() != "webhook" {
		t.Errorf("name = %s, want webhook", ch.Name())
	}

	err := ch.Send(Alert{
		Level:     LevelCritical,
		Message:   "adapter failed",
		Timestamp: time.Now(),
		Fields:    map[string]interface{}{"broker": "kite"},
	})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	if got["level"] != "CRITICAL" || got["message"] != "adapter failed" {
		t.Errorf("unexpected payload: %+v", got)
	}
}

func TestWebhookChannelErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	ch := NewWebhookChannel("webhook", srv.URL)
	if err := ch.Send(Alert{Level: LevelError, Message: "x"}); err == nil {
		t.Error("expected error for non-2xx status")
	}
}

func TestLogChannel(t *testing.T) {
	ch := NewLogChannel("log", nil)
	if ch.Name() != "log" {
		t.Errorf("name = %s, want log", ch.Name())
	}
	err := ch.Send(Alert{
		Level:   LevelInfo,
		Message: "test message",
		Fields:  map[string]interface{}{"key": "value"},
	})
	if err != nil {
		t.Errorf("Send failed: %v", err)
	}
}

func TestConsoleChannel(t *testing.T) {
	ch := NewConsoleChannel("console")
	for _, level := range []Level{LevelInfo, LevelWarning, LevelError, LevelCritical} {
		err := ch.Send(Alert{
			Level:     level,
			Message:   "test " + string(level),
			Timestamp: time.Now(),
		})
		if err != nil {
			t.Errorf("Send %s failed: %v", level, err)
		}
	}
}
