package kite

import (
	"encoding/json"

	"market-proxy-go/feed"
)

// 上行控制消息：{"a": action, "v": value}，与行情帧不同走文本通道。
type request struct {
	Action string      `json:"a"`
	Value  interface{} `json:"v"`
}

func subscribeMessage(tokens []uint32) []byte {
	data, _ := json.Marshal(request{Action: "subscribe", Value: tokens})
	return data
}

func unsubscribeMessage(tokens []uint32) []byte {
	data, _ := json.Marshal(request{Action: "unsubscribe", Value: tokens})
	return data
}

func modeMessage(mode string, tokens []uint32) []byte {
	data, _ := json.Marshal(request{Action: "mode", Value: []interface{}{mode, tokens}})
	return data
}

// wireMode 平台 mode -> kite 线上 mode 名。DEPTH 对应 full（quote + 深度）。
func wireMode(mode feed.Mode) string {
	switch mode {
	case feed.ModeQuote:
		return "quote"
	case feed.ModeDepth:
		return "full"
	default:
		return "ltp"
	}
}
