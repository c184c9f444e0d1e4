// Package kite 实现 Kite 风格二进制行情协议的 broker adapter。
// 线上格式：大端序，帧 = [2B 包数][2B 包长][包]...，价格字段按文档
// 缩放（普通段 ×100，货币段 ×1e7）。
package kite

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"market-proxy-go/feed"
)

// 包长即模式：8 字节 LTP，44 字节 quote，184 字节 full（含 10 档深度），
// 指数包 28/32 字节。长度不足的包里缺失的字段保持未设置，不填哨兵值。
const (
	packetLTP       = 8
	packetIndex     = 28
	packetIndexFull = 32
	packetQuote     = 44
	packetFull      = 184

	depthEntrySize = 12
	depthEntries   = 10
)

// 交易所段编码在 instrument token 的低字节。
const (
	segmentNSE      = 1
	segmentNFO      = 2
	segmentCDS      = 3
	segmentBSE      = 4
	segmentBFO      = 5
	segmentMCX      = 7
	segmentIndices  = 9
	priceDivisor    = 100.0
	currencyDivisor = 10000000.0
)

// TickEvent 一个解析成功的行情包。
type TickEvent struct {
	Token    uint32
	Fields   feed.Fields
	HasDepth bool
}

// ControlEvent 文本帧携带的控制/错误消息。
type ControlEvent struct {
	Type    string          `json:"type"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

// ParseError 标记一个被丢弃的畸形帧；连接保持打开。
type ParseError struct {
	Reason string
	Frame  int // 帧内第几个包，整帧问题为 -1
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("kite: malformed frame (packet %d): %s", e.Frame, e.Reason)
}

// ParseBinary 解析一个二进制帧，返回帧内全部行情包。
// 任何越界都返回 *ParseError，绝不 panic 穿透 adapter 边界。
func ParseBinary(data []byte) ([]TickEvent, error) {
	if len(data) < 2 {
		// 心跳：1 字节空包
		return nil, nil
	}
	count := int(binary.BigEndian.Uint16(data[0:2]))
	events := make([]TickEvent, 0, count)
	offset := 2
	for i := 0; i < count; i++ {
		if offset+2 > len(data) {
			return events, &ParseError{Reason: "truncated packet header", Frame: i}
		}
		length := int(binary.BigEndian.Uint16(data[offset : offset+2]))
		offset += 2
		if offset+length > len(data) {
			return events, &ParseError{Reason: "packet exceeds frame", Frame: i}
		}
		ev, err := parsePacket(data[offset : offset+length])
		if err != nil {
			return events, &ParseError{Reason: err.Error(), Frame: i}
		}
		events = append(events, ev)
		offset += length
	}
	return events, nil
}

func parsePacket(pkt []byte) (TickEvent, error) {
	if len(pkt) < packetLTP {
		return TickEvent{}, fmt.Errorf("packet too short: %d bytes", len(pkt))
	}
	token := binary.BigEndian.Uint32(pkt[0:4])
	div := divisorFor(token)
	ev := TickEvent{Token: token}
	ev.Fields.LTP = price(pkt, 4, div)

	segment := token & 0xFF
	if segment == segmentIndices {
		return parseIndexPacket(pkt, ev, div)
	}

	switch {
	case len(pkt) >= packetFull:
		parseQuoteFields(pkt, &ev, div)
		ev.Fields.LastTradeTime = int64(binary.BigEndian.Uint32(pkt[44:48]))
		ev.Fields.OI = int64(binary.BigEndian.Uint32(pkt[48:52]))
		ev.Fields.HasOI = true
		ev.Fields.Bids, ev.Fields.Asks = parseDepth(pkt[64:packetFull], div)
		ev.HasDepth = true
	case len(pkt) >= packetQuote:
		parseQuoteFields(pkt, &ev, div)
	case len(pkt) == packetLTP:
		// LTP only
	default:
		return TickEvent{}, fmt.Errorf("unexpected packet length %d", len(pkt))
	}
	return ev, nil
}

// parseQuoteFields 44 字节 quote 段：ltp、lastQty、avgPrice、volume、
// buyQty、sellQty、OHLC，全部 int32 大端。
func parseQuoteFields(pkt []byte, ev *TickEvent, div float64) {
	ev.Fields.LastQty = int64(binary.BigEndian.Uint32(pkt[8:12]))
	ev.Fields.AvgPrice = price(pkt, 12, div)
	ev.Fields.Volume = int64(binary.BigEndian.Uint32(pkt[16:20]))
	ev.Fields.BuyQty = int64(binary.BigEndian.Uint32(pkt[20:24]))
	ev.Fields.SellQty = int64(binary.BigEndian.Uint32(pkt[24:28]))
	ev.Fields.Open = price(pkt, 28, div)
	ev.Fields.High = price(pkt, 32, div)
	ev.Fields.Low = price(pkt, 36, div)
	ev.Fields.Close = price(pkt, 40, div)
	ev.Fields.HasOHLC = true
	ev.Fields.HasVolume = true
}

// parseIndexPacket 指数包字段顺序与普通包不同：H、L、O、C。
func parseIndexPacket(pkt []byte, ev TickEvent, div float64) (TickEvent, error) {
	if len(pkt) < packetIndex {
		// 8 字节指数 LTP 包
		if len(pkt) == packetLTP {
			return ev, nil
		}
		return TickEvent{}, fmt.Errorf("index packet too short: %d bytes", len(pkt))
	}
	ev.Fields.High = price(pkt, 8, div)
	ev.Fields.Low = price(pkt, 12, div)
	ev.Fields.Open = price(pkt, 16, div)
	ev.Fields.Close = price(pkt, 20, div)
	ev.Fields.HasOHLC = true
	if len(pkt) >= packetIndexFull {
		ev.Fields.LastTradeTime = int64(binary.BigEndian.Uint32(pkt[28:32]))
	}
	return ev, nil
}

// parseDepth 120 字节深度段：10 行 × 12 字节（qty int32、price int32、
// orders int16、2 字节填充），前 5 行买盘，后 5 行卖盘。
func parseDepth(data []byte, div float64) (bids, asks []feed.DepthLevel) {
	for i := 0; i < depthEntries; i++ {
		base := i * depthEntrySize
		if base+depthEntrySize > len(data) {
			break
		}
		level := feed.DepthLevel{
			Quantity: int64(binary.BigEndian.Uint32(data[base : base+4])),
			Price:    price(data, base+4, div),
			Orders:   int32(binary.BigEndian.Uint16(data[base+8 : base+10])),
		}
		if i < depthEntries/2 {
			bids = append(bids, level)
		} else {
			asks = append(asks, level)
		}
	}
	return bids, asks
}

// ParseText 解析文本帧里的 JSON 控制消息。
func ParseText(data []byte) (ControlEvent, error) {
	var ev ControlEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return ControlEvent{}, &ParseError{Reason: "invalid control json: " + err.Error(), Frame: -1}
	}
	return ev, nil
}

func price(data []byte, offset int, div float64) float64 {
	return float64(int32(binary.BigEndian.Uint32(data[offset:offset+4]))) / div
}

func divisorFor(token uint32) float64 {
	if token&0xFF == segmentCDS {
		return currencyDivisor
	}
	return priceDivisor
}

// exchangeForSegment 段编码 -> 平台规范交易所。
func exchangeForSegment(token uint32) string {
	switch token & 0xFF {
	case segmentNSE:
		return "NSE"
	case segmentNFO:
		return "NFO"
	case segmentCDS:
		return "CDS"
	case segmentBSE:
		return "BSE"
	case segmentBFO:
		return "BFO"
	case segmentMCX:
		return "MCX"
	case segmentIndices:
		return "NSE_INDEX"
	default:
		return "NSE"
	}
}
