package feed

import (
	"errors"
	"fmt"
	"strings"
)

var ErrBadTopic = errors.New("malformed topic")

// Topic 生成内部 pub/sub 主题：{EXCHANGE}_{SYMBOL}_{MODE}。
// exchange 和 symbol 统一转大写，保证同一 instrument 只有一个主题。
func Topic(exchange, symbol string, mode Mode) string {
	return fmt.Sprintf("%s_%s_%s",
		strings.ToUpper(exchange), strings.ToUpper(symbol), mode.String())
}

// ParseTopic 解析主题，兼容旧版带 broker 前缀的四段形式
// {BROKER}_{EXCHANGE}_{SYMBOL}_{MODE}。exchange 自身可能含下划线
// （如 NSE_INDEX），因此从两端定位：最后一段是 mode，剩余部分先按
// 已知 exchange 前缀匹配，再退回“第一段为 exchange”的三段解析。
func ParseTopic(topic string) (exchange, symbol string, mode Mode, err error) {
	parts := strings.Split(topic, "_")
	if len(parts) < 3 {
		return "", "", 0, ErrBadTopic
	}
	mode, err = ParseMode(parts[len(parts)-1])
	if err != nil {
		return "", "", 0, ErrBadTopic
	}
	head := parts[:len(parts)-1]

	// NSE_INDEX / BSE_INDEX 等复合交易所代码优先整体匹配。
	for n := len(head) - 1; n >= 1; n-- {
		candidate := strings.Join(head[:n], "_")
		if isKnownExchange(candidate) {
			return candidate, strings.Join(head[n:], "_"), mode, nil
		}
	}
	// 旧版四段形式：丢弃 broker 前缀后重试。
	if len(head) >= 3 && !isKnownExchange(head[0]) {
		for n := len(head) - 1; n >= 2; n-- {
			candidate := strings.Join(head[1:n], "_")
			if isKnownExchange(candidate) {
				return candidate, strings.Join(head[n:], "_"), mode, nil
			}
		}
	}
	// 未知交易所：按三段语义取第一段。
	return head[0], strings.Join(head[1:], "_"), mode, nil
}

// 平台规范交易所代码全集。新 broker 只做映射，不扩充该表。
var canonicalExchanges = map[string]struct{}{
	"NSE":       {},
	"BSE":       {},
	"NFO":       {},
	"BFO":       {},
	"MCX":       {},
	"CDS":       {},
	"NSE_INDEX": {},
	"BSE_INDEX": {},
}

func isKnownExchange(code string) bool {
	_, ok := canonicalExchanges[code]
	return ok
}
