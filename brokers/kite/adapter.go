package kite

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"market-proxy-go/adapter"
	"market-proxy-go/bus"
	"market-proxy-go/feed"
	"market-proxy-go/lookup"
)

const (
	// BrokerName 注册表中的 broker 标识。
	BrokerName = "kite"

	// DefaultEndpoint 线上行情流地址。
	DefaultEndpoint = "wss://ws.kite.trade"

	maxTokensPerBatch = 500
	maxSubscriptions  = 3000
	batchInterval     = 100 * time.Millisecond
)

// kite 固定推 5 档深度。
var depthLevels = []int{5}

func newExchangeMap() *adapter.ExchangeMap {
	toBroker := map[string]string{
		"NSE":       "NSE",
		"BSE":       "BSE",
		"NFO":       "NFO",
		"BFO":       "BFO",
		"MCX":       "MCX",
		"CDS":       "CDS",
		"NSE_INDEX": "NSE",
		"BSE_INDEX": "BSE",
	}
	depths := map[string][]int{
		"NSE": depthLevels, "BSE": depthLevels, "NFO": depthLevels,
		"BFO": depthLevels, "MCX": depthLevels, "CDS": depthLevels,
		"NSE_INDEX": depthLevels, "BSE_INDEX": depthLevels,
	}
	return adapter.NewExchangeMap(toBroker, depths, 5)
}

type instrumentMeta struct {
	symbol   string // 平台规范
	exchange string // 平台规范
	depth    int
}

// Adapter 持有一条到 kite 行情流的连接。
type Adapter struct {
	deps     adapter.Deps
	userID   string
	Endpoint string // 测试可覆盖

	exmap *adapter.ExchangeMap
	pacer *adapter.BatchPacer

	mu        sync.Mutex
	cred      lookup.Credential
	conn      *adapter.Conn
	meta      map[uint32]instrumentMeta
	bySymbol  map[string]uint32 // exchange|symbol -> token
	connected bool              // 首连标记，区分 connect 与 reconnect 指标

	subs      *adapter.SubscriptionTable
	snapshots *feed.SnapshotTable
}

// New adapter.Factory。
func New(deps adapter.Deps, userID string) adapter.Adapter {
	return &Adapter{
		deps:      deps,
		userID:    userID,
		Endpoint:  DefaultEndpoint,
		exmap:     newExchangeMap(),
		pacer:     adapter.NewBatchPacer(batchInterval),
		meta:      make(map[uint32]instrumentMeta),
		bySymbol:  make(map[string]uint32),
		subs:      adapter.NewSubscriptionTable(),
		snapshots: feed.NewSnapshotTable(),
	}
}

// Initialize 换取上游鉴权材料；miss 只令本次调用失败。
func (a *Adapter) Initialize(ctx context.Context) error {
	cred, err := a.deps.Creds.Credential(ctx, a.userID, BrokerName)
	if err != nil {
		return fmt.Errorf("%w: %v", adapter.ErrAuth, err)
	}
	if cred.APIKey == "" || cred.AccessToken == "" {
		return fmt.Errorf("%w: incomplete kite credential", adapter.ErrAuth)
	}
	a.mu.Lock()
	a.cred = cred
	a.mu.Unlock()
	return nil
}

// Connect 启动传输层。kite 的鉴权通过 URL 参数完成，连上即视为握手通过。
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	if a.conn != nil && !a.conn.State().Terminal() {
		a.mu.Unlock()
		return nil
	}
	cred := a.cred
	conn := adapter.NewConn(adapter.ConnConfig{
		Broker: BrokerName,
		Dial: func(ctx context.Context) (*websocket.Conn, error) {
			u, err := url.Parse(a.Endpoint)
			if err != nil {
				return nil, err
			}
			q := u.Query()
			q.Set("api_key", cred.APIKey)
			q.Set("access_token", cred.AccessToken)
			u.RawQuery = q.Encode()
			ws, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
			return ws, err
		},
		OnMessage:   a.onMessage,
		OnConnected: a.onConnected,
		OnClosed: func(err error) {
			if a.deps.OnFailed != nil {
				a.deps.OnFailed(err)
			}
		},
		Logger: a.deps.Logger,
	})
	a.conn = conn
	a.mu.Unlock()

	return conn.Start(ctx)
}

// Disconnect 直接进入 Closed：关传输层、清快照。adapter 对象保留，
// 可通过 Connect 快速重建。
func (a *Adapter) Disconnect() error {
	a.mu.Lock()
	conn := a.conn
	a.connected = false
	a.mu.Unlock()
	if conn != nil {
		conn.Stop()
	}
	a.snapshots.Clear()
	return nil
}

func (a *Adapter) IsConnected() bool {
	a.mu.Lock()
	conn := a.conn
	a.mu.Unlock()
	return conn != nil && conn.IsConnected()
}

func (a *Adapter) State() adapter.State {
	a.mu.Lock()
	conn := a.conn
	a.mu.Unlock()
	if conn == nil {
		return adapter.Disconnected
	}
	return conn.State()
}

func (a *Adapter) Subscriptions() []string {
	return a.subs.Topics()
}

func (a *Adapter) Capabilities() adapter.Capabilities {
	return adapter.Capabilities{
		Broker: BrokerName,
		Exchanges: []string{
			"NSE", "BSE", "NFO", "BFO", "MCX", "CDS", "NSE_INDEX", "BSE_INDEX",
		},
		DepthLevels: map[string][]int{
			"NSE": depthLevels, "BSE": depthLevels, "NFO": depthLevels,
			"BFO": depthLevels, "MCX": depthLevels, "CDS": depthLevels,
			"NSE_INDEX": depthLevels, "BSE_INDEX": depthLevels,
		},
		MaxTokensPerBatch: maxTokensPerBatch,
		MaxSubscriptions:  maxSubscriptions,
		BatchInterval:     batchInterval,
	}
}

// Subscribe 解析 token、校验深度并并入 union-of-modes。union 升级时向
// broker 上发新 mode。超出 instrument cap 同步拒绝。
func (a *Adapter) Subscribe(ctx context.Context, symbol, exchange string, mode feed.Mode, depth int) (adapter.SubscribeResult, error) {
	if !mode.Valid() {
		return adapter.SubscribeResult{}, feed.ErrInvalidMode
	}
	if depth <= 0 {
		depth = 5
	}
	effDepth, isFallback := a.exmap.FallbackDepth(exchange, depth)

	raw, err := a.deps.Symbols.Token(ctx, BrokerName, symbol, exchange)
	if err != nil {
		if errors.Is(err, lookup.ErrTokenNotFound) {
			return adapter.SubscribeResult{}, fmt.Errorf("%w: %s:%s", adapter.ErrSymbolNotFound, exchange, symbol)
		}
		return adapter.SubscribeResult{}, err
	}
	token64, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return adapter.SubscribeResult{}, fmt.Errorf("%w: bad token %q", adapter.ErrSymbolNotFound, raw)
	}
	token := uint32(token64)
	key := feed.InstrumentKey{Exchange: a.exmap.ToBroker(exchange), Token: raw}

	a.mu.Lock()
	if _, known := a.meta[token]; !known && a.subs.Count() >= maxSubscriptions {
		a.mu.Unlock()
		return adapter.SubscribeResult{}, fmt.Errorf("%w: limit %d", adapter.ErrCapacity, maxSubscriptions)
	}
	a.meta[token] = instrumentMeta{symbol: symbol, exchange: exchange, depth: effDepth}
	a.bySymbol[exchange+"|"+symbol] = token
	a.mu.Unlock()

	prev := a.subs.Mode(key)
	effective, _ := a.subs.Add(key, symbol, exchange, effDepth, mode)
	if a.deps.Monitor != nil {
		a.deps.Monitor.SetUpstreamSubscriptions(BrokerName, a.subs.Count())
	}

	if a.IsConnected() && effective != prev {
		if err := a.sendSubscribe([]uint32{token}, effective); err != nil {
			a.deps.Logger.LogError(err, map[string]interface{}{"op": "subscribe", "token": token})
		}
	}
	return adapter.SubscribeResult{
		Topic:      feed.Topic(exchange, symbol, mode),
		Mode:       mode,
		Depth:      effDepth,
		IsFallback: isFallback,
	}, nil
}

// Unsubscribe 摘除一个 mode；union 清空时撤销 broker 级订阅并逐出快照，
// 订阅总数归零时主动关闭传输层以停掉后台上游流量。
func (a *Adapter) Unsubscribe(_ context.Context, symbol, exchange string, mode feed.Mode) error {
	a.mu.Lock()
	token, ok := a.bySymbol[exchange+"|"+symbol]
	a.mu.Unlock()
	if !ok {
		return adapter.ErrNotSubscribed
	}
	key := feed.InstrumentKey{Exchange: a.exmap.ToBroker(exchange), Token: strconv.FormatUint(uint64(token), 10)}

	prev := a.subs.Mode(key)
	effective, empty, err := a.subs.Remove(key, mode)
	if err != nil {
		return err
	}
	if a.deps.Monitor != nil {
		a.deps.Monitor.SetUpstreamSubscriptions(BrokerName, a.subs.Count())
	}

	if empty {
		a.snapshots.Evict(key)
		a.mu.Lock()
		delete(a.meta, token)
		delete(a.bySymbol, exchange+"|"+symbol)
		a.mu.Unlock()
		if a.IsConnected() {
			if err := a.sendUnsubscribe([]uint32{token}); err != nil {
				a.deps.Logger.LogError(err, map[string]interface{}{"op": "unsubscribe", "token": token})
			}
		}
		if a.subs.Count() == 0 {
			// 无人订阅时不保留后台流量
			a.mu.Lock()
			conn := a.conn
			a.connected = false
			a.mu.Unlock()
			if conn != nil {
				conn.Stop()
			}
		}
		return nil
	}
	if a.IsConnected() && effective != prev {
		// union 降级，按新的最高 mode 重设
		if err := a.sendSubscribe([]uint32{token}, effective); err != nil {
			a.deps.Logger.LogError(err, map[string]interface{}{"op": "mode_downgrade", "token": token})
		}
	}
	return nil
}

// onConnected 每次（重）连成功后整表原子重发。
func (a *Adapter) onConnected() {
	a.mu.Lock()
	first := !a.connected
	a.connected = true
	a.mu.Unlock()
	if a.deps.Monitor != nil {
		if first {
			a.deps.Monitor.AdapterConnected(BrokerName)
		} else {
			a.deps.Monitor.AdapterReconnect(BrokerName)
		}
	}
	go a.resubscribeAll()
}

func (a *Adapter) resubscribeAll() {
	byMode := make(map[feed.Mode][]uint32)
	for _, sub := range a.subs.All() {
		token, err := strconv.ParseUint(sub.Key.Token, 10, 32)
		if err != nil {
			continue
		}
		byMode[sub.EffectiveMode] = append(byMode[sub.EffectiveMode], uint32(token))
	}
	for mode, tokens := range byMode {
		if err := a.sendSubscribe(tokens, mode); err != nil {
			a.deps.Logger.LogError(err, map[string]interface{}{"op": "resubscribe"})
			return
		}
	}
}

func (a *Adapter) sendSubscribe(tokens []uint32, mode feed.Mode) error {
	a.mu.Lock()
	conn := a.conn
	a.mu.Unlock()
	if conn == nil {
		return adapter.ErrNotConnected
	}
	for _, batch := range chunkUint32(tokens, maxTokensPerBatch) {
		a.pacer.Wait()
		if err := conn.Send(subscribeMessage(batch)); err != nil {
			return err
		}
		if err := conn.Send(modeMessage(wireMode(mode), batch)); err != nil {
			return err
		}
	}
	return nil
}

func (a *Adapter) sendUnsubscribe(tokens []uint32) error {
	a.mu.Lock()
	conn := a.conn
	a.mu.Unlock()
	if conn == nil {
		return adapter.ErrNotConnected
	}
	for _, batch := range chunkUint32(tokens, maxTokensPerBatch) {
		a.pacer.Wait()
		if err := conn.Send(unsubscribeMessage(batch)); err != nil {
			return err
		}
	}
	return nil
}

// onMessage 上游帧入口。解析失败只丢帧、记日志，连接保持。
func (a *Adapter) onMessage(messageType int, data []byte) {
	if messageType == websocket.TextMessage {
		ev, err := ParseText(data)
		if err != nil {
			a.recordParseError(err, len(data))
			return
		}
		if ev.Type == "error" {
			a.deps.Logger.LogAdapter("upstream_error", BrokerName, map[string]interface{}{
				"message": ev.Message,
			})
		}
		return
	}

	events, err := ParseBinary(data)
	if err != nil {
		a.recordParseError(err, len(data))
		// 已解析出的包仍然下发
	}
	for _, ev := range events {
		a.publish(ev)
	}
}

func (a *Adapter) publish(ev TickEvent) {
	a.mu.Lock()
	meta, ok := a.meta[ev.Token]
	a.mu.Unlock()
	if !ok {
		return // 未订阅 token，忽略
	}
	if a.deps.Monitor != nil {
		a.deps.Monitor.TickReceived(BrokerName)
	}

	// token 低字节自带段编码；与登记交易所对不上说明 lookup 表的合约号
	// 登记有误，行情仍按登记值下发，只提示一次排查。
	if seg := exchangeForSegment(ev.Token); !segmentMatches(seg, meta.exchange) {
		if a.deps.Logger != nil {
			a.deps.Logger.LogAdapter("exchange_mismatch", BrokerName, map[string]interface{}{
				"token":      ev.Token,
				"registered": meta.exchange,
				"segment":    seg,
			})
		}
	}

	tokenStr := strconv.FormatUint(uint64(ev.Token), 10)
	brokerEx := a.exmap.ToBroker(meta.exchange)
	key := feed.InstrumentKey{Exchange: brokerEx, Token: tokenStr}
	merged := a.snapshots.Apply(key, ev.Fields)

	// 深度数组不超过协商档位
	merged.Bids = clampDepth(merged.Bids, meta.depth)
	merged.Asks = clampDepth(merged.Asks, meta.depth)

	tick := feed.Tick{
		Broker:         BrokerName,
		Symbol:         meta.symbol,
		Exchange:       meta.exchange,
		BrokerExchange: brokerEx,
		TimestampMs:    time.Now().UnixMilli(),
		Fields:         merged,
	}

	// 发布到生效 mode 及以下的全部主题；带深度的帧即使 union 只到
	// QUOTE 也发布 DEPTH（包本身不携带请求 mode，按字段推断）。
	top := a.subs.Mode(key)
	if ev.HasDepth {
		top = feed.MaxMode(top, feed.ModeDepth)
	}
	if top == 0 {
		return
	}
	for mode := feed.ModeLTP; mode <= top; mode++ {
		t := tick
		t.Mode = mode
		a.deps.Bus.Publish(bus.Message{
			Topic: feed.Topic(meta.exchange, meta.symbol, mode),
			Tick:  t,
		})
	}
	if a.deps.Monitor != nil {
		a.deps.Monitor.TickPublished(BrokerName)
	}
}

func (a *Adapter) recordParseError(err error, frameLen int) {
	if a.deps.Logger != nil {
		a.deps.Logger.LogParseError(BrokerName, err, frameLen)
	}
	if a.deps.Monitor != nil {
		a.deps.Monitor.ParseError(BrokerName)
	}
}

// segmentMatches 指数段编码不区分 NSE/BSE，两个 *_INDEX 都算命中。
func segmentMatches(seg, registered string) bool {
	if seg == registered {
		return true
	}
	return seg == "NSE_INDEX" && registered == "BSE_INDEX"
}

func clampDepth(levels []feed.DepthLevel, max int) []feed.DepthLevel {
	if max > 0 && len(levels) > max {
		return levels[:max]
	}
	return levels
}

func chunkUint32(tokens []uint32, max int) [][]uint32 {
	if len(tokens) == 0 {
		return nil
	}
	if max <= 0 || len(tokens) <= max {
		return [][]uint32{tokens}
	}
	out := make([][]uint32, 0, (len(tokens)+max-1)/max)
	for len(tokens) > max {
		out = append(out, tokens[:max])
		tokens = tokens[max:]
	}
	return append(out, tokens)
}
