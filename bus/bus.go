// Package bus 提供 adapter 与 proxy 之间的进程内 tick 分发通道。
// 不持久化、不重放；同一 topic 的新 tick 总是可以取代旧 tick，
// 因此在背压下采用有界 drop-oldest 策略属于预期行为。
package bus

import (
	"sync"
	"sync/atomic"

	"market-proxy-go/feed"
)

// Message 一条携带 topic 的已规范化 tick。
type Message struct {
	Topic string
	Tick  feed.Tick
}

// Bus adapter 是纯发布方，proxy 是唯一内部订阅方，再由 proxy 向客户端扇出。
type Bus struct {
	mu      sync.Mutex
	ch      chan Message
	closed  bool
	dropped atomic.Int64
}

const defaultBuffer = 4096

// New 创建 bus。size<=0 时使用默认缓冲。
func New(size int) *Bus {
	if size <= 0 {
		size = defaultBuffer
	}
	return &Bus{ch: make(chan Message, size)}
}

// Publish fire-and-forget。缓冲满时丢弃最旧一条为新消息腾位，
// 单发布方场景下保持 per-topic 发布顺序。
func (b *Bus) Publish(msg Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for {
		select {
		case b.ch <- msg:
			return
		default:
		}
		select {
		case <-b.ch:
			b.dropped.Add(1)
		default:
		}
	}
}

// Drain 返回消费端 channel；关闭 bus 后 channel 被 close。
func (b *Bus) Drain() <-chan Message {
	return b.ch
}

// Dropped 返回因背压而丢弃的消息总数。
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}

// Close 关闭 bus；之后的 Publish 直接丢弃。
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.ch)
}
