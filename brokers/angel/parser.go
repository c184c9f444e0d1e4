// Package angel 实现 Angel 风格二进制行情协议的 broker adapter。
// 线上格式：小端序单包帧，token 是 25 字节 NUL 填充字符串，价格字段
// 按文档 ÷100。鉴权走连接后的 JSON 握手帧。
package angel

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"market-proxy-go/feed"
)

// 帧长即模式：51 字节 LTP，123 字节 quote，379 字节 snap-quote
// （含 2×5 档深度）。
const (
	packetLTP   = 51
	packetQuote = 123
	packetSnap  = 379

	depthOffset    = 147
	depthEntrySize = 20
	depthEntries   = 10

	priceDivisor = 100.0
)

// 订阅 mode 线上编码。
const (
	wireLTP   = 1
	wireQuote = 2
	wireSnap  = 3
)

// 交易所类型编码（字节 1）。
const (
	exchNSECM = 1
	exchNSEFO = 2
	exchBSECM = 3
	exchBSEFO = 4
	exchMCXFO = 5
	exchCDEFO = 13
)

// TickEvent 一个解析成功的行情帧。
type TickEvent struct {
	Mode         byte
	ExchangeType byte
	Token        string
	Sequence     int64
	ExchangeTsMs int64
	Fields       feed.Fields
	HasDepth     bool
}

// ParseError 标记一个被丢弃的畸形帧。
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string {
	return "angel: malformed frame: " + e.Reason
}

// Parse 解析一个二进制帧。帧头：mode@0、exchangeType@1、token@2（25B
// 字符串）、sequence@27、exchangeTs@35、ltp@43（int64，÷100）。
func Parse(data []byte) (TickEvent, error) {
	if len(data) < packetLTP {
		return TickEvent{}, &ParseError{Reason: fmt.Sprintf("frame too short: %d bytes", len(data))}
	}
	ev := TickEvent{
		Mode:         data[0],
		ExchangeType: data[1],
		Token:        parseToken(data[2:27]),
		Sequence:     int64(binary.LittleEndian.Uint64(data[27:35])),
		ExchangeTsMs: int64(binary.LittleEndian.Uint64(data[35:43])),
	}
	ev.Fields.LTP = price(data, 43)

	if len(data) < packetQuote {
		return ev, nil
	}
	// quote 段：lastQty@51、avgPrice@59、volume@67、买卖总量@75/83
	// （double）、OHLC@91..122。
	ev.Fields.LastQty = int64(binary.LittleEndian.Uint64(data[51:59]))
	ev.Fields.AvgPrice = price(data, 59)
	ev.Fields.Volume = int64(binary.LittleEndian.Uint64(data[67:75]))
	ev.Fields.BuyQty = int64(float64frombits(data, 75))
	ev.Fields.SellQty = int64(float64frombits(data, 83))
	ev.Fields.Open = price(data, 91)
	ev.Fields.High = price(data, 99)
	ev.Fields.Low = price(data, 107)
	ev.Fields.Close = price(data, 115)
	ev.Fields.HasOHLC = true
	ev.Fields.HasVolume = true

	if len(data) < packetSnap {
		return ev, nil
	}
	// snap 段：lastTradeTime@123、OI@131，深度@147 起 10 行 × 20 字节
	// （qty int64、price int64、orders int16、2B 填充），前 5 买后 5 卖。
	ev.Fields.LastTradeTime = int64(binary.LittleEndian.Uint64(data[123:131]))
	ev.Fields.OI = int64(binary.LittleEndian.Uint64(data[131:139]))
	ev.Fields.HasOI = true
	ev.Fields.Bids, ev.Fields.Asks = parseDepth(data[depthOffset : depthOffset+depthEntries*depthEntrySize])
	ev.HasDepth = true
	return ev, nil
}

func parseDepth(data []byte) (bids, asks []feed.DepthLevel) {
	for i := 0; i < depthEntries; i++ {
		base := i * depthEntrySize
		level := feed.DepthLevel{
			Quantity: int64(binary.LittleEndian.Uint64(data[base : base+8])),
			Price:    price(data, base+8),
			Orders:   int32(int16(binary.LittleEndian.Uint16(data[base+16 : base+18]))),
		}
		if i < depthEntries/2 {
			bids = append(bids, level)
		} else {
			asks = append(asks, level)
		}
	}
	return bids, asks
}

func parseToken(raw []byte) string {
	if i := bytes.IndexByte(raw, 0); i >= 0 {
		raw = raw[:i]
	}
	return string(raw)
}

func price(data []byte, offset int) float64 {
	return float64(int64(binary.LittleEndian.Uint64(data[offset:offset+8]))) / priceDivisor
}

// 买卖总量是线上少见的 double 字段；NaN/Inf 一律按 0 处理。
func float64frombits(data []byte, offset int) float64 {
	v := math.Float64frombits(binary.LittleEndian.Uint64(data[offset : offset+8]))
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// exchangeForType 交易所类型编码 -> broker 原生段名。
func exchangeForType(t byte) string {
	switch t {
	case exchNSECM:
		return "nse_cm"
	case exchNSEFO:
		return "nse_fo"
	case exchBSECM:
		return "bse_cm"
	case exchBSEFO:
		return "bse_fo"
	case exchMCXFO:
		return "mcx_fo"
	case exchCDEFO:
		return "cde_fo"
	default:
		return "nse_cm"
	}
}
