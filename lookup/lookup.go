// Package lookup 定义核心范围之外的两个外部协作方接口：凭证/会话仓库与
// symbol/token 查询服务。两者都是 best-effort：miss 只令当次调用失败，
// 不影响进程。
package lookup

import (
	"context"
	"errors"
)

var (
	// ErrCredentialNotFound 用户没有可用的上游鉴权材料。
	ErrCredentialNotFound = errors.New("credential not found")
	// ErrTokenNotFound (symbol, exchange) 查不到 broker 原生 token。
	ErrTokenNotFound = errors.New("instrument token not found")
)

// Credential 一个用户在某 broker 的上游鉴权材料（对平台是不透明字符串）。
type Credential struct {
	APIKey      string
	AccessToken string
	FeedToken   string // 部分 broker 行情流使用独立 token
}

// CredentialStore 按 (user, broker) 返回上游鉴权材料。
type CredentialStore interface {
	Credential(ctx context.Context, userID, broker string) (Credential, error)
}

// SymbolLookup 按 (symbol, 平台规范 exchange) 返回 broker 原生 token。
type SymbolLookup interface {
	Token(ctx context.Context, broker, symbol, exchange string) (string, error)
}
