package adapter

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func testMap() *ExchangeMap {
	return NewExchangeMap(
		map[string]string{
			"NSE":       "nse_cm",
			"NFO":       "nse_fo",
			"NSE_INDEX": "nse_cm",
		},
		map[string][]int{
			"NSE": {5, 20},
			"NFO": {5},
		},
		5,
	)
}

func TestToFromBroker(t *testing.T) {
	m := testMap()
	assert.Equal(t, "nse_cm", m.ToBroker("NSE"))
	assert.Equal(t, "nse_fo", m.ToBroker("NFO"))
	// identity 回退
	assert.Equal(t, "MCX", m.ToBroker("MCX"))

	// 反向 best-effort：nse_cm 有两个规范码，字典序小者（NSE）优先
	assert.Equal(t, "NSE", m.FromBroker("nse_cm"))
	assert.Equal(t, "NFO", m.FromBroker("nse_fo"))
	assert.Equal(t, "bse_cm", m.FromBroker("bse_cm"))
}

func TestFallbackDepth(t *testing.T) {
	m := testMap()

	// 精确命中
	d, fb := m.FallbackDepth("NSE", 20)
	assert.Equal(t, 20, d)
	assert.False(t, fb)

	// 向下取最大支持档
	d, fb = m.FallbackDepth("NSE", 15)
	assert.Equal(t, 5, d)
	assert.True(t, fb)

	// 无 ≤ requested 的档位：文档化最小默认档
	d, fb = m.FallbackDepth("NSE", 3)
	assert.Equal(t, 5, d)
	assert.True(t, fb)

	// 未知交易所：默认档
	d, fb = m.FallbackDepth("MCX", 5)
	assert.Equal(t, 5, d)
	assert.False(t, fb)
}

func TestFallbackDepthDeterministic(t *testing.T) {
	m := testMap()
	for i := 0; i < 100; i++ {
		d, fb := m.FallbackDepth("NSE", 15)
		assert.Equal(t, 5, d)
		assert.True(t, fb)
	}
}
