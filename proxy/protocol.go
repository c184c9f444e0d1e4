// Package proxy 实现面向交易客户端的流式接口：鉴权、订阅管理、行情扇出。
package proxy

import "market-proxy-go/feed"

// 客户端请求动作。
const (
	ActionAuthenticate   = "authenticate"
	ActionSubscribe      = "subscribe"
	ActionUnsubscribe    = "unsubscribe"
	ActionUnsubscribeAll = "unsubscribe_all"
)

// 服务端响应类型。
const (
	TypeAuth        = "auth"
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
	TypeMarketData  = "market_data"
	TypeError       = "error"
)

// 稳定错误码：良性请求错误绝不关闭客户端连接。
const (
	CodeAuthenticationError = "AUTHENTICATION_ERROR"
	CodeNotAuthenticated    = "NOT_AUTHENTICATED"
	CodeSymbolNotFound      = "SYMBOL_NOT_FOUND"
	CodeInvalidMode         = "INVALID_MODE"
	CodeInvalidDepth        = "INVALID_DEPTH"
	CodeSubscriptionError   = "SUBSCRIPTION_ERROR"
	CodeBrokerError         = "BROKER_ERROR"
)

// Instrument 请求中的 (symbol, exchange) 对。
type Instrument struct {
	Symbol   string `json:"symbol"`
	Exchange string `json:"exchange"`
}

// Request 客户端文本帧。
type Request struct {
	Action     string       `json:"action"`
	Credential string       `json:"credential,omitempty"`
	Symbols    []Instrument `json:"symbols,omitempty"`
	Mode       string       `json:"mode,omitempty"`
	Depth      int          `json:"depth,omitempty"`
}

// SubscribeStatus 订阅响应中单个 instrument 的结果。
type SubscribeStatus struct {
	Symbol     string `json:"symbol"`
	Exchange   string `json:"exchange"`
	Status     string `json:"status"`
	Code       string `json:"code,omitempty"`
	Message    string `json:"message,omitempty"`
	Depth      int    `json:"depth,omitempty"`
	IsFallback bool   `json:"is_fallback,omitempty"`
}

// Response 服务端文本帧。
type Response struct {
	Type    string            `json:"type"`
	Status  string            `json:"status,omitempty"`
	Code    string            `json:"code,omitempty"`
	Message string            `json:"message,omitempty"`
	Results []SubscribeStatus `json:"results,omitempty"`

	// market_data 载荷
	Topic    string      `json:"topic,omitempty"`
	Symbol   string      `json:"symbol,omitempty"`
	Exchange string      `json:"exchange,omitempty"`
	Broker   string      `json:"broker,omitempty"`
	Mode     string      `json:"mode,omitempty"`
	Data     *MarketData `json:"data,omitempty"`
}

// MarketData mode-shaped 行情载荷：LTP 只含最新价与成交时间，QUOTE 加
// OHLC/量，DEPTH 再加有界买卖盘。
type MarketData struct {
	LTP           float64 `json:"ltp"`
	LastTradeTime int64   `json:"last_trade_time,omitempty"`
	Timestamp     int64   `json:"timestamp"`

	Open     float64 `json:"open,omitempty"`
	High     float64 `json:"high,omitempty"`
	Low      float64 `json:"low,omitempty"`
	Close    float64 `json:"close,omitempty"`
	Volume   int64   `json:"volume,omitempty"`
	AvgPrice float64 `json:"avg_price,omitempty"`
	BuyQty   int64   `json:"buy_qty,omitempty"`
	SellQty  int64   `json:"sell_qty,omitempty"`

	OI   int64             `json:"oi,omitempty"`
	Bids []feed.DepthLevel `json:"bids,omitempty"`
	Asks []feed.DepthLevel `json:"asks,omitempty"`
}

// shapePayload 按主题 mode 裁剪载荷。
func shapePayload(tick feed.Tick) *MarketData {
	f := tick.Fields
	data := &MarketData{
		LTP:           f.LTP,
		LastTradeTime: f.LastTradeTime,
		Timestamp:     tick.TimestampMs,
	}
	if tick.Mode >= feed.ModeQuote {
		data.Open = f.Open
		data.High = f.High
		data.Low = f.Low
		data.Close = f.Close
		data.Volume = f.Volume
		data.AvgPrice = f.AvgPrice
		data.BuyQty = f.BuyQty
		data.SellQty = f.SellQty
	}
	if tick.Mode >= feed.ModeDepth {
		data.OI = f.OI
		data.Bids = f.Bids
		data.Asks = f.Asks
	}
	return data
}

func errorResponse(code, message string) Response {
	return Response{Type: TypeError, Status: "error", Code: code, Message: message}
}
