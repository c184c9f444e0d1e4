package angel

import (
	"encoding/json"

	"market-proxy-go/feed"
)

const (
	actionSubscribe   = 1
	actionUnsubscribe = 0
)

// tokenGroup 订阅请求中按交易所类型分组的 token 列表。
type tokenGroup struct {
	ExchangeType int      `json:"exchangeType"`
	Tokens       []string `json:"tokens"`
}

type subscribeParams struct {
	Mode      int          `json:"mode"`
	TokenList []tokenGroup `json:"tokenList"`
}

type request struct {
	CorrelationID string          `json:"correlationID"`
	Action        int             `json:"action"`
	Params        subscribeParams `json:"params"`
}

func subscribeMessage(correlationID string, mode int, groups []tokenGroup) []byte {
	data, _ := json.Marshal(request{
		CorrelationID: correlationID,
		Action:        actionSubscribe,
		Params:        subscribeParams{Mode: mode, TokenList: groups},
	})
	return data
}

func unsubscribeMessage(correlationID string, mode int, groups []tokenGroup) []byte {
	data, _ := json.Marshal(request{
		CorrelationID: correlationID,
		Action:        actionUnsubscribe,
		Params:        subscribeParams{Mode: mode, TokenList: groups},
	})
	return data
}

// wireModeFor 平台 mode -> angel 线上 mode 编码。DEPTH 对应 snap-quote。
func wireModeFor(mode feed.Mode) int {
	switch mode {
	case feed.ModeQuote:
		return wireQuote
	case feed.ModeDepth:
		return wireSnap
	default:
		return wireLTP
	}
}

// exchangeTypeFor 平台规范交易所 -> 线上交易所类型编码。
func exchangeTypeFor(exchange string) int {
	switch exchange {
	case "NSE", "NSE_INDEX":
		return exchNSECM
	case "NFO":
		return exchNSEFO
	case "BSE", "BSE_INDEX":
		return exchBSECM
	case "BFO":
		return exchBSEFO
	case "MCX":
		return exchMCXFO
	case "CDS":
		return exchCDEFO
	default:
		return exchNSECM
	}
}
