package alert

import (
	"fmt"
	"sync"
	"time"
)

// Level 告警级别。
type Level string

const (
	LevelInfo     Level = "INFO"
	LevelWarning  Level = "WARNING"
	LevelError    Level = "ERROR"
	LevelCritical Level = "CRITICAL"
)

// Alert 一条待投递的告警。
type Alert struct {
	Level     Level
	Message   string
	Timestamp time.Time
	Fields    map[string]interface{}
}

// Channel 告警投递通道。
type Channel interface {
	Send(alert Alert) error
	Name() string
}

// Throttler 按 key 限流：同一 key 在 interval 内最多放行一次，避免
// 抖动的上游连接刷屏。
type Throttler struct {
	lastSent map[string]time.Time
	interval time.Duration
	mu       sync.Mutex
}

func NewThrottler(interval time.Duration) *Throttler {
	return &Throttler{
		lastSent: make(map[string]time.Time),
		interval: interval,
	}
}

// Allow 判断该 key 是否放行，放行即记账。
func (t *Throttler) Allow(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	last, exists := t.lastSent[key]
	if !exists || now.Sub(last) >= t.interval {
		t.lastSent[key] = now
		return true
	}
	return false
}

// Reset 清掉单个 key 的限流记录。
func (t *Throttler) Reset(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.lastSent, key)
}

// Clear 清空全部限流记录。
func (t *Throttler) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastSent = make(map[string]time.Time)
}

// Manager 把告警限流后扇出到全部通道。全部通道都失败才算发送失败；
// 被限流的告警静默丢弃。
type Manager struct {
	channels []Channel
	throttle *Throttler
	mu       sync.RWMutex
}

func NewManager(channels []Channel, throttleInterval time.Duration) *Manager {
	return &Manager{
		channels: channels,
		throttle: NewThrottler(throttleInterval),
	}
}

// SendAlert 限流后投递到所有通道。
func (m *Manager) SendAlert(alert Alert) error {
	if alert.Timestamp.IsZero() {
		alert.Timestamp = time.Now()
	}
	if !m.throttle.Allow(fmt.Sprintf("%s:%s", alert.Level, alert.Message)) {
		return nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var lastErr error
	delivered := 0
	for _, ch := range m.channels {
		if err := ch.Send(alert); err != nil {
			lastErr = fmt.Errorf("channel %s failed: %w", ch.Name(), err)
		} else {
			delivered++
		}
	}
	if delivered == 0 && lastErr != nil {
		return lastErr
	}
	return nil
}

func (m *Manager) SendInfo(message string, fields map[string]interface{}) error {
	return m.SendAlert(Alert{Level: LevelInfo, Message: message, Fields: fields})
}

func (m *Manager) SendWarning(message string, fields map[string]interface{}) error {
	return m.SendAlert(Alert{Level: LevelWarning, Message: message, Fields: fields})
}

func (m *Manager) SendError(message string, fields map[string]interface{}) error {
	return m.SendAlert(Alert{Level: LevelError, Message: message, Fields: fields})
}

func (m *Manager) SendCritical(message string, fields map[string]interface{}) error {
	return m.SendAlert(Alert{Level: LevelCritical, Message: message, Fields: fields})
}

// AdapterFailure broker adapter 重连预算耗尽后的告警；限流 key 落在
// (broker, user) 上，一个用户的反复失效不会淹没其他告警。
func (m *Manager) AdapterFailure(userID, broker string, err error) error {
	return m.SendAlert(Alert{
		Level:   LevelCritical,
		Message: fmt.Sprintf("broker adapter failed: %s/%s", broker, userID),
		Fields: map[string]interface{}{
			"user_id": userID,
			"broker":  broker,
			"error":   err.Error(),
		},
	})
}

// FanoutDrops 扇出丢帧告警。scope 标记丢在哪一级（bus 或 client_queue）；
// drop-oldest 本身是预期降级，持续发生才值得告警，限流由 Manager 兜住。
func (m *Manager) FanoutDrops(scope string, dropped int64) error {
	return m.SendAlert(Alert{
		Level:   LevelWarning,
		Message: "fanout dropping frames: " + scope,
		Fields: map[string]interface{}{
			"scope":   scope,
			"dropped": dropped,
		},
	})
}

// AddChannel 追加一个投递通道。
func (m *Manager) AddChannel(ch Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels = append(m.channels, ch)
}

// ResetThrottle 清空限流记录。
func (m *Manager) ResetThrottle() {
	m.throttle.Clear()
}
