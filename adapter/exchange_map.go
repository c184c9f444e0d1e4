package adapter

import "sort"

// ExchangeMap 单个 broker 的交易所代码双向映射与深度能力表。
// 映射缺失时按 identity 回退，保证跨 adapter 边界的代码始终可用。
type ExchangeMap struct {
	toBroker     map[string]string
	fromBroker   map[string]string
	depthLevels  map[string][]int // 规范交易所 -> 支持档位（升序）
	defaultDepth int
}

// NewExchangeMap 由 规范码->broker码 的映射与深度能力表构造。
// 反向映射自动生成；多个规范码映射到同一 broker 码时，先注册者优先。
func NewExchangeMap(toBroker map[string]string, depthLevels map[string][]int, defaultDepth int) *ExchangeMap {
	from := make(map[string]string, len(toBroker))
	keys := make([]string, 0, len(toBroker))
	for k := range toBroker {
		keys = append(keys, k)
	}
	sort.Strings(keys) // 反向映射的冲突裁决保持确定性
	for _, canonical := range keys {
		native := toBroker[canonical]
		if _, dup := from[native]; !dup {
			from[native] = canonical
		}
	}
	levels := make(map[string][]int, len(depthLevels))
	for ex, ls := range depthLevels {
		cp := append([]int(nil), ls...)
		sort.Ints(cp)
		levels[ex] = cp
	}
	if defaultDepth <= 0 {
		defaultDepth = 5
	}
	return &ExchangeMap{
		toBroker:     toBroker,
		fromBroker:   from,
		depthLevels:  levels,
		defaultDepth: defaultDepth,
	}
}

// ToBroker 规范码转 broker 原生码；未知代码 identity 回退。
func (m *ExchangeMap) ToBroker(code string) string {
	if native, ok := m.toBroker[code]; ok {
		return native
	}
	return code
}

// FromBroker ToBroker 的 best-effort 逆映射，同样 identity 回退。
func (m *ExchangeMap) FromBroker(code string) string {
	if canonical, ok := m.fromBroker[code]; ok {
		return canonical
	}
	return code
}

// SupportedDepths 返回交易所支持的深度档位（升序副本）。
func (m *ExchangeMap) SupportedDepths(exchange string) []int {
	return append([]int(nil), m.depthLevels[exchange]...)
}

// FallbackDepth 纯函数：返回 ≤ requested 的最大支持档位；无符合项时
// 返回默认最小档。第二个返回值指示是否发生降级，降级必须回报调用方。
func (m *ExchangeMap) FallbackDepth(exchange string, requested int) (int, bool) {
	levels, ok := m.depthLevels[exchange]
	if !ok || len(levels) == 0 {
		return m.defaultDepth, requested != m.defaultDepth
	}
	best := 0
	for _, l := range levels {
		if l <= requested && l > best {
			best = l
		}
	}
	if best == 0 {
		best = levels[0] // 文档化的最小默认档
	}
	return best, best != requested
}
