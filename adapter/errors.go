package adapter

import "errors"

var (
	// ErrSymbolNotFound symbol/token 查不到，只令当次 subscribe 失败。
	ErrSymbolNotFound = errors.New("symbol not found")
	// ErrCapacity 超出 broker 单连接 instrument 硬上限，同步拒绝，绝不静默截断。
	ErrCapacity = errors.New("instrument cap exceeded")
	// ErrAuth 上游鉴权失败，对该 (user, broker) 的本次会话致命。
	ErrAuth = errors.New("broker authentication failed")
	// ErrNotConnected 传输层尚未就绪。
	ErrNotConnected = errors.New("adapter not connected")
	// ErrClosed adapter 已进入终态。
	ErrClosed = errors.New("adapter closed")
	// ErrUnknownBroker 注册表中没有该 broker 的构造函数。
	ErrUnknownBroker = errors.New("unknown broker")
	// ErrNotSubscribed 退订一个不存在的订阅。
	ErrNotSubscribed = errors.New("not subscribed")
	// ErrInvalidDepth 请求的深度档位非法（非正数）。
	ErrInvalidDepth = errors.New("invalid depth level")
)
