package adapter

import (
	"sync"
	"time"
)

// BatchPacer 控制订阅批次的上发节奏，避免触发 broker 限流。
// 令牌桶实现：rate 为每秒允许的批次数，burst 为突发上限。
type BatchPacer struct {
	rate   float64
	burst  int
	tokens float64
	last   time.Time
	mu     sync.Mutex
}

// NewBatchPacer 由最小批次间隔构造 pacer。interval<=0 表示不限速。
func NewBatchPacer(interval time.Duration) *BatchPacer {
	rate := float64(0)
	if interval > 0 {
		rate = float64(time.Second) / float64(interval)
	}
	if rate <= 0 {
		rate = 1000 // 实际不构成限制
	}
	return &BatchPacer{
		rate:   rate,
		burst:  1,
		tokens: 1,
		last:   time.Now(),
	}
}

// Wait 阻塞直到允许发送下一批。
func (p *BatchPacer) Wait() {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now()
	elapsed := now.Sub(p.last).Seconds()
	p.last = now
	p.tokens += elapsed * p.rate
	if p.tokens > float64(p.burst) {
		p.tokens = float64(p.burst)
	}
	if p.tokens < 1 {
		sleep := time.Duration((1-p.tokens)/p.rate*float64(time.Second)) + time.Millisecond
		p.mu.Unlock()
		time.Sleep(sleep)
		p.mu.Lock()
		p.tokens = 0
	} else {
		p.tokens -= 1
	}
}

// ChunkTokens 将 token 列表切成不超过 max 的批次。max<=0 时单批返回。
func ChunkTokens(tokens []string, max int) [][]string {
	if max <= 0 || len(tokens) <= max {
		if len(tokens) == 0 {
			return nil
		}
		return [][]string{tokens}
	}
	out := make([][]string, 0, (len(tokens)+max-1)/max)
	for len(tokens) > max {
		out = append(out, tokens[:max])
		tokens = tokens[max:]
	}
	return append(out, tokens)
}
