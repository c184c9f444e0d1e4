package adapter

import (
	"sort"
	"sync"

	"market-proxy-go/feed"
)

// TrackedSub 一个 instrument 当前的 broker 级订阅。EffectiveMode 是所有
// 客户端仍需要的 mode 中的最大值，即实际上发 broker 的 mode。
type TrackedSub struct {
	Key           feed.InstrumentKey
	Symbol        string // 平台规范
	Exchange      string // 平台规范
	Depth         int
	EffectiveMode feed.Mode
}

type trackedInstrument struct {
	symbol   string
	exchange string
	depth    int
	modes    map[feed.Mode]int // mode -> 引用该 mode 的客户端订阅数
}

func (ti *trackedInstrument) effective() feed.Mode {
	var max feed.Mode
	for m, n := range ti.modes {
		if n > 0 && m > max {
			max = m
		}
	}
	return max
}

// SubscriptionTable 每个 adapter 持有一张，维护 per-instrument 的
// union-of-modes。broker 不支持 per-mode 独立流，上发请求收敛为单个
// 最高 mode。
type SubscriptionTable struct {
	mu   sync.Mutex
	subs map[feed.InstrumentKey]*trackedInstrument
}

func NewSubscriptionTable() *SubscriptionTable {
	return &SubscriptionTable{subs: make(map[feed.InstrumentKey]*trackedInstrument)}
}

// Add 并入一个 mode 引用。返回并入后的生效 mode，以及该 instrument
// 是否为新增（用于 instrument cap 检查后的计数）。
func (t *SubscriptionTable) Add(key feed.InstrumentKey, symbol, exchange string, depth int, mode feed.Mode) (feed.Mode, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ti, ok := t.subs[key]
	if !ok {
		ti = &trackedInstrument{
			symbol:   symbol,
			exchange: exchange,
			depth:    depth,
			modes:    make(map[feed.Mode]int),
		}
		t.subs[key] = ti
	}
	ti.modes[mode]++
	if depth > ti.depth {
		ti.depth = depth
	}
	return ti.effective(), !ok
}

// Remove 摘除一个 mode 引用。返回摘除后的生效 mode 与 union 是否已清空；
// union 清空时条目被删除，调用方应撤销 broker 级订阅并逐出快照。
func (t *SubscriptionTable) Remove(key feed.InstrumentKey, mode feed.Mode) (feed.Mode, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ti, ok := t.subs[key]
	if !ok || ti.modes[mode] == 0 {
		return 0, false, ErrNotSubscribed
	}
	ti.modes[mode]--
	if ti.modes[mode] == 0 {
		delete(ti.modes, mode)
	}
	eff := ti.effective()
	if eff == 0 {
		delete(t.subs, key)
		return 0, true, nil
	}
	return eff, false, nil
}

// Count 当前 distinct instrument 数，用于 cap 检查。
func (t *SubscriptionTable) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}

// Mode 返回某 instrument 当前生效 mode；不存在时返回 0。
func (t *SubscriptionTable) Mode(key feed.InstrumentKey) feed.Mode {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ti, ok := t.subs[key]; ok {
		return ti.effective()
	}
	return 0
}

// All 返回全部 broker 级订阅的快照，按 token 排序保证重发顺序确定。
func (t *SubscriptionTable) All() []TrackedSub {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]TrackedSub, 0, len(t.subs))
	for key, ti := range t.subs {
		out = append(out, TrackedSub{
			Key:           key,
			Symbol:        ti.symbol,
			Exchange:      ti.exchange,
			Depth:         ti.depth,
			EffectiveMode: ti.effective(),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Key.Exchange != out[j].Key.Exchange {
			return out[i].Key.Exchange < out[j].Key.Exchange
		}
		return out[i].Key.Token < out[j].Key.Token
	})
	return out
}

// Topics 返回全部订阅对应的内部主题（每个生效 mode 一条）。
func (t *SubscriptionTable) Topics() []string {
	subs := t.All()
	out := make([]string, 0, len(subs))
	for _, s := range subs {
		out = append(out, feed.Topic(s.Exchange, s.Symbol, s.EffectiveMode))
	}
	return out
}
