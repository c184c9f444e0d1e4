package feed

import "sync"

// InstrumentKey 以 broker 原生 (交易所, token) 标识一个 instrument。
type InstrumentKey struct {
	Exchange string
	Token    string
}

// SnapshotTable 维护每个 instrument 最近一次已知有效状态，屏蔽上游
// “字段静默置零/缺失”的怪癖。每个 adapter 实例持有一张表。
type SnapshotTable struct {
	mu    sync.Mutex
	state map[InstrumentKey]Fields
}

func NewSnapshotTable() *SnapshotTable {
	return &SnapshotTable{state: make(map[InstrumentKey]Fields)}
}

// Apply 按 Merge 规则合并一条新 tick 的字段，返回合并后的完整状态。
func (t *SnapshotTable) Apply(key InstrumentKey, incoming Fields) Fields {
	t.mu.Lock()
	defer t.mu.Unlock()
	merged := Merge(t.state[key], incoming)
	t.state[key] = merged
	return merged
}

// Get 返回当前状态；第二个返回值指示是否存在。
func (t *SnapshotTable) Get(key InstrumentKey) (Fields, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	f, ok := t.state[key]
	return f, ok
}

// Evict 在 broker 级退订后删除对应条目。
func (t *SnapshotTable) Evict(key InstrumentKey) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.state, key)
}

// Clear 在 adapter 关闭时清空全表。
func (t *SnapshotTable) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = make(map[InstrumentKey]Fields)
}

// Len 返回当前缓存的 instrument 数量。
func (t *SnapshotTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.state)
}
