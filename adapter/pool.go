package adapter

import (
	"context"
	"fmt"
	"sync"
)

type poolKey struct {
	UserID string
	Broker string
}

type poolEntry struct {
	adapter Adapter
	refs    int
	failed  bool
}

// Pool 按 (user, broker) 惰性创建并复用 adapter，引用计数为该 adapter
// 名下的活跃客户端订阅数。计数归零时关闭传输层，但保留 adapter 条目
// 以便快速重建；重连预算耗尽的 adapter 被标记 failed，下次 Acquire
// 构造全新实例（从 Disconnected 起步）。
type Pool struct {
	mu       sync.Mutex
	entries  map[poolKey]*poolEntry
	registry *Registry
	deps     Deps
	onFailed func(userID, broker string, err error) // 可选，池外告警钩子
}

func NewPool(registry *Registry, deps Deps) *Pool {
	return &Pool{
		entries:  make(map[poolKey]*poolEntry),
		registry: registry,
		deps:     deps,
	}
}

// SetFailureHook 设置 adapter 失效时的池外通知（如告警）。
func (p *Pool) SetFailureHook(fn func(userID, broker string, err error)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onFailed = fn
}

// Acquire 获取 (user, broker) 的 adapter，必要时创建并连接，引用计数 +1。
// 创建/连接失败不留脏条目，错误同步返回给发起请求。
func (p *Pool) Acquire(ctx context.Context, userID, broker string) (Adapter, error) {
	p.mu.Lock()
	key := poolKey{UserID: userID, Broker: broker}
	entry, ok := p.entries[key]
	if ok && !entry.failed && entry.adapter.State() != Closed {
		entry.refs++
		ad := entry.adapter
		p.mu.Unlock()
		return ad, nil
	}
	// 不存在、已失效或已关闭：构建新实例。凭证换取与建连可能阻塞，
	// 不能在持锁状态下进行。
	p.mu.Unlock()

	deps := p.deps
	deps.OnFailed = func(err error) { p.markFailed(userID, broker, err) }
	ad, err := p.registry.New(broker, deps, userID)
	if err != nil {
		return nil, err
	}
	if err := ad.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("initialize %s adapter: %w", broker, err)
	}
	if err := ad.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect %s adapter: %w", broker, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	// 并发 Acquire 可能已装好一个健康实例，保留先到者。
	if cur, ok := p.entries[key]; ok && !cur.failed && cur.adapter.State() != Closed {
		cur.refs++
		go func() { _ = ad.Disconnect() }()
		return cur.adapter, nil
	}
	entry = &poolEntry{adapter: ad, refs: 1}
	if cur, ok := p.entries[key]; ok {
		// 替换失效实例时迁移旧持有者的引用计数：Release 按 (user, broker)
		// 归还，计数不随旧实例一起丢，否则旧持有者归还会把还在使用中的
		// 替换实例提前断开。
		entry.refs += cur.refs
	}
	p.entries[key] = entry
	return ad, nil
}

// Release 引用计数 -1；归零时关闭传输层停掉后台上游流量，条目保留。
func (p *Pool) Release(userID, broker string) {
	p.mu.Lock()
	key := poolKey{UserID: userID, Broker: broker}
	entry, ok := p.entries[key]
	if !ok {
		p.mu.Unlock()
		return
	}
	entry.refs--
	if entry.refs > 0 {
		p.mu.Unlock()
		return
	}
	entry.refs = 0
	ad := entry.adapter
	p.mu.Unlock()

	_ = ad.Disconnect()
}

// Refs 返回 (user, broker) 当前引用计数，不存在时为 0。
func (p *Pool) Refs(userID, broker string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if entry, ok := p.entries[poolKey{UserID: userID, Broker: broker}]; ok {
		return entry.refs
	}
	return 0
}

// markFailed 由 adapter 的重连循环在预算耗尽时回调（exactly once）。
func (p *Pool) markFailed(userID, broker string, err error) {
	p.mu.Lock()
	key := poolKey{UserID: userID, Broker: broker}
	entry, ok := p.entries[key]
	if ok {
		entry.failed = true
	}
	hook := p.onFailed
	p.mu.Unlock()

	if p.deps.Logger != nil {
		p.deps.Logger.LogAdapter("adapter_failed", broker, map[string]interface{}{
			"user_id": userID,
			"error":   err.Error(),
		})
	}
	if p.deps.Monitor != nil {
		p.deps.Monitor.AdapterFailed(broker)
	}
	if hook != nil {
		hook(userID, broker, err)
	}
}

// Shutdown 关闭池内全部 adapter。
func (p *Pool) Shutdown() {
	p.mu.Lock()
	adapters := make([]Adapter, 0, len(p.entries))
	for _, e := range p.entries {
		adapters = append(adapters, e.adapter)
	}
	p.entries = make(map[poolKey]*poolEntry)
	p.mu.Unlock()
	for _, ad := range adapters {
		_ = ad.Disconnect()
	}
}
