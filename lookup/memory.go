package lookup

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore CredentialStore + SymbolLookup 的进程内实现，用于测试与
// 单机部署。
type MemoryStore struct {
	mu       sync.RWMutex
	creds    map[string]Credential // key: user|broker
	tokens   map[string]string     // key: broker|exchange|symbol
	sessions map[string]Session    // key: 客户端凭证
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		creds:    make(map[string]Credential),
		tokens:   make(map[string]string),
		sessions: make(map[string]Session),
	}
}

// PutCredential 写入一条凭证。
func (m *MemoryStore) PutCredential(userID, broker string, cred Credential) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creds[userID+"|"+broker] = cred
}

// PutToken 写入一条 symbol->token 映射。
func (m *MemoryStore) PutToken(broker, symbol, exchange, token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[tokenKey(broker, symbol, exchange)] = token
}

func (m *MemoryStore) Credential(_ context.Context, userID, broker string) (Credential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cred, ok := m.creds[userID+"|"+broker]
	if !ok {
		return Credential{}, fmt.Errorf("%w: user=%s broker=%s", ErrCredentialNotFound, userID, broker)
	}
	return cred, nil
}

func (m *MemoryStore) Token(_ context.Context, broker, symbol, exchange string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	token, ok := m.tokens[tokenKey(broker, symbol, exchange)]
	if !ok {
		return "", fmt.Errorf("%w: %s %s:%s", ErrTokenNotFound, broker, exchange, symbol)
	}
	return token, nil
}

func tokenKey(broker, symbol, exchange string) string {
	return broker + "|" + exchange + "|" + symbol
}
