package lookup

import (
	"context"
	"errors"
	"fmt"
)

// ErrInvalidCredential 客户端出示的凭证无法解析为用户身份。
var ErrInvalidCredential = errors.New("invalid client credential")

// Session 一个客户端凭证解析出的身份与其配置的 broker。
type Session struct {
	UserID string
	Broker string
}

// SessionResolver 把客户端的不透明凭证解析为 (user, broker)。
// 凭证的签发与存储在核心范围之外。
type SessionResolver interface {
	Resolve(ctx context.Context, credential string) (Session, error)
}

// PutSession 注册一条凭证映射（进程内实现，测试用）。
func (m *MemoryStore) PutSession(credential string, sess Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sessions == nil {
		m.sessions = make(map[string]Session)
	}
	m.sessions[credential] = sess
}

func (m *MemoryStore) Resolve(_ context.Context, credential string) (Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[credential]
	if !ok {
		return Session{}, ErrInvalidCredential
	}
	return sess, nil
}

// Resolve redis 实现：凭证散列在 apikey:{credential} 下。
func (s *RedisStore) Resolve(ctx context.Context, credential string) (Session, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	vals, err := s.rdb.HGetAll(ctx, "apikey:"+credential).Result()
	if err != nil {
		return Session{}, fmt.Errorf("redis session lookup: %w", err)
	}
	if len(vals) == 0 || vals["user_id"] == "" {
		return Session{}, ErrInvalidCredential
	}
	return Session{UserID: vals["user_id"], Broker: vals["broker"]}, nil
}
