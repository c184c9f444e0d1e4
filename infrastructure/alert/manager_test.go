package alert

import (
	"errors"
	"testing"
	"time"
)

func TestSendAlert(t *testing.T) {
	mock := NewMockChannel("mock")
	mgr := NewManager([]Channel{mock}, 5*time.Minute)

	err := mgr.SendAlert(Alert{
		Level:   LevelInfo,
		Message: "test message",
		Fields:  map[string]interface{}{"key": "value"},
	})
	if err != nil {
		t.Fatalf("SendAlert failed: %v", err)
	}
	if mock.Count() != 1 {
		t.Fatalf("expected 1 alert, got %d", mock.Count())
	}

	alert := mock.GetAlerts()[0]
	if alert.Level != LevelInfo {
		t.Errorf("level = %s, want INFO", alert.Level)
	}
	if alert.Fields["key"] != "value" {
		t.Errorf("field key = %v, want value", alert.Fields["key"])
	}
	if alert.Timestamp.IsZero() {
		t.Error("timestamp should be set")
	}
}

func TestSendAlertLevels(t *testing.T) {
	tests := []struct {
		name    string
		sendFn  func(*Manager) error
		wantLvl Level
	}{
		{"SendInfo", func(m *Manager) error { return m.SendInfo("info msg", nil) }, LevelInfo},
		{"SendWarning", func(m *Manager) error { return m.SendWarning("warning msg", nil) }, LevelWarning},
		{"SendError", func(m *Manager) error { return m.SendError("error msg", nil) }, LevelError},
		{"SendCritical", func(m *Manager) error { return m.SendCritical("critical msg", nil) }, LevelCritical},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := NewMockChannel("mock")
			mgr := NewManager([]Channel{mock}, 5*time.Minute)

			if err := tt.sendFn(mgr); err != nil {
				t.Fatalf("send failed: %v", err)
			}
			if mock.Count() != 1 {
				t.Fatalf("expected 1 alert, got %d", mock.Count())
			}
			if got := mock.GetAlerts()[0].Level; got != tt.wantLvl {
				t.Errorf("level = %s, want %s", got, tt.wantLvl)
			}
		})
	}
}

func TestAdapterFailureAlert(t *testing.T) {
	mock := NewMockChannel("mock")
	mgr := NewManager([]Channel{mock}, 5*time.Minute)

	err := mgr.AdapterFailure("user1", "kite", errors.New("reconnect budget exhausted"))
	if err != nil {
		t.Fatalf("AdapterFailure failed: %v", err)
	}
	if mock.Count() != 1 {
		t.Fatalf("expected 1 alert, got %d", mock.Count())
	}

	alert := mock.GetAlerts()[0]
	if alert.Level != LevelCritical {
		t.Errorf("level = %s, want CRITICAL", alert.Level)
	}
	if alert.Fields["broker"] != "kite" || alert.Fields["user_id"] != "user1" {
		t.Errorf("identity fields = %v", alert.Fields)
	}

	// 同一 (broker, user) 的重复失效被限流
	mgr.AdapterFailure("user1", "kite", errors.New("again"))
	if mock.Count() != 1 {
		t.Errorf("repeated failure should be throttled, got %d", mock.Count())
	}

	// 另一个 broker 的失效不受影响
	mgr.AdapterFailure("user1", "angel", errors.New("boom"))
	if mock.Count() != 2 {
		t.Errorf("different broker should pass, got %d", mock.Count())
	}
}

func TestFanoutDropsAlert(t *testing.T) {
	mock := NewMockChannel("mock")
	mgr := NewManager([]Channel{mock}, 5*time.Minute)

	if err := mgr.FanoutDrops("client_queue", 7); err != nil {
		t.Fatalf("FanoutDrops failed: %v", err)
	}
	alert := mock.GetAlerts()[0]
	if alert.Level != LevelWarning {
		t.Errorf("level = %s, want WARNING", alert.Level)
	}
	if alert.Fields["dropped"] != int64(7) {
		t.Errorf("dropped = %v, want 7", alert.Fields["dropped"])
	}

	// 同一 scope 限流；不同 scope 各自独立
	mgr.FanoutDrops("client_queue", 3)
	if mock.Count() != 1 {
		t.Errorf("same scope should be throttled, got %d", mock.Count())
	}
	mgr.FanoutDrops("bus", 1)
	if mock.Count() != 2 {
		t.Errorf("different scope should pass, got %d", mock.Count())
	}
}

func TestThrottling(t *testing.T) {
	mock := NewMockChannel("mock")
	mgr := NewManager([]Channel{mock}, 100*time.Millisecond)

	mgr.SendInfo("test", nil)
	if mock.Count() != 1 {
		t.Fatalf("first send: expected 1 alert, got %d", mock.Count())
	}

	mgr.SendInfo("test", nil)
	if mock.Count() != 1 {
		t.Errorf("throttled send should not increase count, got %d", mock.Count())
	}

	time.Sleep(150 * time.Millisecond)

	mgr.SendInfo("test", nil)
	if mock.Count() != 2 {
		t.Errorf("after throttle period: expected 2 alerts, got %d", mock.Count())
	}
}

func TestDifferentMessagesNotThrottled(t *testing.T) {
	mock := NewMockChannel("mock")
	mgr := NewManager([]Channel{mock}, 5*time.Minute)

	mgr.SendInfo("message 1", nil)
	mgr.SendInfo("message 2", nil)
	mgr.SendWarning("message 1", nil) // 不同 level 是不同 key

	if mock.Count() != 3 {
		t.Errorf("expected 3 alerts, got %d", mock.Count())
	}
}

func TestMultipleChannels(t *testing.T) {
	mock1 := NewMockChannel("mock1")
	mock2 := NewMockChannel("mock2")
	mgr := NewManager([]Channel{mock1}, 5*time.Minute)
	mgr.AddChannel(mock2)

	if err := mgr.SendInfo("test", nil); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if mock1.Count() != 1 || mock2.Count() != 1 {
		t.Error("both channels should receive the alert")
	}
}

func TestChannelError(t *testing.T) {
	mock := NewMockChannel("mock")
	mock.SetShouldError(true)
	mgr := NewManager([]Channel{mock}, 5*time.Minute)

	if err := mgr.SendInfo("test", nil); err == nil {
		t.Error("expected error when all channels fail")
	}
}

func TestPartialChannelFailure(t *testing.T) {
	mock1 := NewMockChannel("mock1")
	mock1.SetShouldError(true)
	mock2 := NewMockChannel("mock2")
	mgr := NewManager([]Channel{mock1, mock2}, 5*time.Minute)

	if err := mgr.SendInfo("test", nil); err != nil {
		t.Errorf("should not return error when some channels succeed: %v", err)
	}
	if mock2.Count() != 1 {
		t.Errorf("successful channel should receive alert")
	}
}

func TestResetThrottle(t *testing.T) {
	mock := NewMockChannel("mock")
	mgr := NewManager([]Channel{mock}, 5*time.Minute)

	mgr.SendInfo("test", nil)
	mgr.SendInfo("test", nil)
	if mock.Count() != 1 {
		t.Fatal("should be throttled")
	}

	mgr.ResetThrottle()
	mgr.SendInfo("test", nil)
	if mock.Count() != 2 {
		t.Errorf("after reset: expected 2 alerts, got %d", mock.Count())
	}
}

func TestThrottler(t *testing.T) {
	throttle := NewThrottler(100 * time.Millisecond)

	if !throttle.Allow("key1") {
		t.Error("first call should be allowed")
	}
	if throttle.Allow("key1") {
		t.Error("second call should be throttled")
	}
	if !throttle.Allow("key2") {
		t.Error("different key should be allowed")
	}

	time.Sleep(150 * time.Millisecond)
	if !throttle.Allow("key1") {
		t.Error("after interval should be allowed")
	}
}

func TestThrottlerReset(t *testing.T) {
	throttle := NewThrottler(5 * time.Minute)

	throttle.Allow("key1")
	if throttle.Allow("key1") {
		t.Error("should be throttled")
	}

	throttle.Reset("key1")
	if !throttle.Allow("key1") {
		t.Error("after reset should be allowed")
	}
}

func TestThrottlerClear(t *testing.T) {
	throttle := NewThrottler(5 * time.Minute)

	throttle.Allow("key1")
	throttle.Allow("key2")
	throttle.Clear()

	if !throttle.Allow("key1") || !throttle.Allow("key2") {
		t.Error("all keys should be allowed after clear")
	}
}

func TestConcurrentAlerts(t *testing.T) {
	mock := NewMockChannel("mock")
	mgr := NewManager([]Channel{mock}, 100*time.Millisecond)

	done := make(chan bool, 10)
	for i := 0; i < 10; i++ {
		go func(id int) {
			mgr.SendInfo("test", map[string]interface{}{"id": id})
			done <- true
		}(i)
	}
	for i := 0; i < 10; i++ {
		<-done
	}

	// 相同消息并发发送只有第一条通过限流
	if mock.Count() != 1 {
		t.Errorf("concurrent sends with same message should be throttled, got %d alerts", mock.Count())
	}
}
