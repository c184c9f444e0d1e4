package feed

import (
	"errors"
	"strings"
)

// Mode 订阅粒度。数值顺序即信息量顺序，broker 级订阅取各客户端所需的最大值。
type Mode int

const (
	ModeLTP Mode = iota + 1
	ModeQuote
	ModeDepth
)

var ErrInvalidMode = errors.New("invalid mode")

// ParseMode 解析客户端请求中的 mode 字符串（大小写不敏感）。
func ParseMode(s string) (Mode, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "LTP":
		return ModeLTP, nil
	case "QUOTE":
		return ModeQuote, nil
	case "DEPTH":
		return ModeDepth, nil
	default:
		return 0, ErrInvalidMode
	}
}

func (m Mode) String() string {
	switch m {
	case ModeLTP:
		return "LTP"
	case ModeQuote:
		return "QUOTE"
	case ModeDepth:
		return "DEPTH"
	default:
		return "UNKNOWN"
	}
}

// Valid 报告 m 是否是已定义的订阅粒度。
func (m Mode) Valid() bool {
	return m >= ModeLTP && m <= ModeDepth
}

// MaxMode 返回两个粒度中信息量更大的一个。
func MaxMode(a, b Mode) Mode {
	if a > b {
		return a
	}
	return b
}

// DepthLevel 买/卖盘口中的一档。
type DepthLevel struct {
	Price    float64 `json:"price"`
	Quantity int64   `json:"quantity"`
	Orders   int32   `json:"orders,omitempty"`
}

// Fields 一条 tick 携带的字段集合。上游帧长度不足时对应字段保持零值并由
// Has* 标记区分“缺失”与“真实为零”，快照合并依赖该区分。
type Fields struct {
	LTP           float64
	LastQty       int64
	AvgPrice      float64
	Volume        int64
	BuyQty        int64
	SellQty       int64
	Open          float64
	High          float64
	Low           float64
	Close         float64
	OI            int64
	LastTradeTime int64 // epoch 秒，broker 提供时透传
	Bids          []DepthLevel
	Asks          []DepthLevel

	HasOHLC   bool
	HasVolume bool
	HasOI     bool
}

// Tick 规范化后的行情记录。Exchange 一律是平台规范代码；BrokerExchange 保留
// broker 原生代码供排障使用。Depth 数组长度不超过协商的档位数。
type Tick struct {
	Broker         string
	Symbol         string
	Exchange       string
	BrokerExchange string
	Mode           Mode
	TimestampMs    int64
	Fields         Fields
}
