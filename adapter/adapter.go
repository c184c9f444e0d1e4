// Package adapter 定义 broker adapter 合约以及 adapter 池、订阅表、
// 重连状态机等所有 broker 实现共用的基础设施。
package adapter

import (
	"context"
	"time"

	"market-proxy-go/bus"
	"market-proxy-go/feed"
	"market-proxy-go/infrastructure/logger"
	"market-proxy-go/infrastructure/monitor"
	"market-proxy-go/lookup"
)

// Capabilities 描述一个 broker 实现的能力边界。
type Capabilities struct {
	Broker            string
	Exchanges         []string         // 支持的平台规范交易所代码
	DepthLevels       map[string][]int // 规范交易所 -> 支持的深度档位（升序）
	MaxTokensPerBatch int              // 单条订阅消息的 token 上限
	MaxSubscriptions  int              // 单连接 instrument 硬上限
	BatchInterval     time.Duration    // 相邻订阅批次的最小间隔
}

// SubscribeResult 订阅请求的同步结果。深度被降级时 IsFallback 为 true，
// Depth 给出实际生效档位；降级不是错误。
type SubscribeResult struct {
	Topic      string
	Mode       feed.Mode
	Depth      int
	IsFallback bool
}

// Adapter 每个 broker 实现暴露给 adapter 池的服务合约。
// 一个实例对应一条上游流式连接，归属于单个 (user, broker)。
type Adapter interface {
	// Initialize 通过凭证仓库换取上游鉴权材料。失败只影响本次调用。
	Initialize(ctx context.Context) error

	// Connect 启动传输层与重连循环：Disconnected→Connecting→
	// Authenticating→Connected。
	Connect(ctx context.Context) error

	// Disconnect 直接切到 Closed 并关闭传输层。
	Disconnect() error

	// Subscribe 解析 token、校验深度、并入 union-of-modes 后按批次上发。
	Subscribe(ctx context.Context, symbol, exchange string, mode feed.Mode, depth int) (SubscribeResult, error)

	// Unsubscribe 从 union 中摘除一个 mode；union 清空时撤销 broker 级
	// 订阅并逐出对应快照。
	Unsubscribe(ctx context.Context, symbol, exchange string, mode feed.Mode) error

	IsConnected() bool
	State() State
	Subscriptions() []string
	Capabilities() Capabilities
}

// Deps 构造 adapter 所需的外部协作方。OnFailed 由 adapter 池注入，
// 在重连预算耗尽时被回调 exactly once。
type Deps struct {
	Creds    lookup.CredentialStore
	Symbols  lookup.SymbolLookup
	Bus      *bus.Bus
	Logger   *logger.Logger
	Monitor  *monitor.Monitor
	OnFailed func(err error)
}

// Factory 按 (user) 构造一个具体 broker 的 adapter 实例。
type Factory func(deps Deps, userID string) Adapter
