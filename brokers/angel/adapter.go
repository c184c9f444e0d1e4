package angel

import (
	"context"
	"errors"
	"fmt"
	"net/http"
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
	BrokerName = "angel"

	// DefaultEndpoint 线上行情流地址。
	DefaultEndpoint = "wss://smartstream.angelbroking.example/stream"

	maxTokensPerBatch = 100
	maxSubscriptions  = 1000
	batchInterval     = 250 * time.Millisecond

	handshakeTimeout = 5 * time.Second
)

func newExchangeMap() *adapter.ExchangeMap {
	toBroker := map[string]string{
		"NSE":       "nse_cm",
		"NFO":       "nse_fo",
		"BSE":       "bse_cm",
		"BFO":       "bse_fo",
		"MCX":       "mcx_fo",
		"CDS":       "cde_fo",
		"NSE_INDEX": "nse_cm",
		"BSE_INDEX": "bse_cm",
	}
	depths := map[string][]int{
		"NSE": {5, 20}, "NFO": {5}, "BSE": {5}, "BFO": {5},
		"MCX": {5}, "CDS": {5}, "NSE_INDEX": {5}, "BSE_INDEX": {5},
	}
	return adapter.NewExchangeMap(toBroker, depths, 5)
}

type instrumentMeta struct {
	symbol   string
	exchange string // 平台规范
	depth    int
}

// Adapter 持有一条到 angel 行情流的连接。与 kite 不同：鉴权材料走
// HTTP 头，token 是字符串，订阅请求按交易所类型分组。
type Adapter struct {
	deps     adapter.Deps
	userID   string
	Endpoint string // 测试可覆盖

	exmap *adapter.ExchangeMap
	pacer *adapter.BatchPacer

	mu        sync.Mutex
	cred      lookup.Credential
	conn      *adapter.Conn
	meta      map[string]instrumentMeta // token -> meta
	bySymbol  map[string]string         // exchange|symbol -> token
	connected bool
	corrSeq   int

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
		meta:      make(map[string]instrumentMeta),
		bySymbol:  make(map[string]string),
		subs:      adapter.NewSubscriptionTable(),
		snapshots: feed.NewSnapshotTable(),
	}
}

func (a *Adapter) Initialize(ctx context.Context) error {
	cred, err := a.deps.Creds.Credential(ctx, a.userID, BrokerName)
	if err != nil {
		return fmt.Errorf("%w: %v", adapter.ErrAuth, err)
	}
	if cred.AccessToken == "" || cred.FeedToken == "" {
		return fmt.Errorf("%w: incomplete angel credential", adapter.ErrAuth)
	}
	a.mu.Lock()
	a.cred = cred
	a.mu.Unlock()
	return nil
}

// Connect 启动传输层。鉴权材料放在握手请求头里；连接后先走一轮
// ping/pong 确认服务端已接受会话。
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
			header := http.Header{}
			header.Set("Authorization", "Bearer "+cred.AccessToken)
			header.Set("x-api-key", cred.APIKey)
			header.Set("x-client-code", a.userID)
			header.Set("x-feed-token", cred.FeedToken)
			ws, _, err := websocket.DefaultDialer.DialContext(ctx, a.Endpoint, header)
			return ws, err
		},
		Handshake:   handshake,
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

// handshake 发一条文本 ping 并等服务端应答；被拒的会话在这里立刻失败。
func handshake(_ context.Context, ws *websocket.Conn) error {
	if err := ws.WriteMessage(websocket.TextMessage, []byte("ping")); err != nil {
		return fmt.Errorf("%w: handshake write: %v", adapter.ErrAuth, err)
	}
	_ = ws.SetReadDeadline(time.Now().Add(handshakeTimeout))
	_, _, err := ws.ReadMessage()
	_ = ws.SetReadDeadline(time.Time{})
	if err != nil {
		return fmt.Errorf("%w: no handshake ack: %v", adapter.ErrAuth, err)
	}
	return nil
}

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
			"NSE": {5, 20}, "NFO": {5}, "BSE": {5}, "BFO": {5},
			"MCX": {5}, "CDS": {5}, "NSE_INDEX": {5}, "BSE_INDEX": {5},
		},
		MaxTokensPerBatch: maxTokensPerBatch,
		MaxSubscriptions:  maxSubscriptions,
		BatchInterval:     batchInterval,
	}
}

func (a *Adapter) Subscribe(ctx context.Context, symbol, exchange string, mode feed.Mode, depth int) (adapter.SubscribeResult, error) {
	if !mode.Valid() {
		return adapter.SubscribeResult{}, feed.ErrInvalidMode
	}
	if depth <= 0 {
		depth = 5
	}
	effDepth, isFallback := a.exmap.FallbackDepth(exchange, depth)

	token, err := a.deps.Symbols.Token(ctx, BrokerName, symbol, exchange)
	if err != nil {
		if errors.Is(err, lookup.ErrTokenNotFound) {
			return adapter.SubscribeResult{}, fmt.Errorf("%w: %s:%s", adapter.ErrSymbolNotFound, exchange, symbol)
		}
		return adapter.SubscribeResult{}, err
	}
	key := feed.InstrumentKey{Exchange: a.exmap.ToBroker(exchange), Token: token}

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
		if err := a.sendSubscribe(effective, map[string][]string{exchange: {token}}); err != nil {
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

func (a *Adapter) Unsubscribe(_ context.Context, symbol, exchange string, mode feed.Mode) error {
	a.mu.Lock()
	token, ok := a.bySymbol[exchange+"|"+symbol]
	a.mu.Unlock()
	if !ok {
		return adapter.ErrNotSubscribed
	}
	key := feed.InstrumentKey{Exchange: a.exmap.ToBroker(exchange), Token: token}

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
			if err := a.sendUnsubscribe(prev, map[string][]string{exchange: {token}}); err != nil {
				a.deps.Logger.LogError(err, map[string]interface{}{"op": "unsubscribe", "token": token})
			}
		}
		if a.subs.Count() == 0 {
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
		if err := a.sendSubscribe(effective, map[string][]string{exchange: {token}}); err != nil {
			a.deps.Logger.LogError(err, map[string]interface{}{"op": "mode_downgrade", "token": token})
		}
	}
	return nil
}

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

// resubscribeAll 按生效 mode 分组整表重发。
func (a *Adapter) resubscribeAll() {
	byMode := make(map[feed.Mode]map[string][]string) // mode -> canonical exchange -> tokens
	for _, sub := range a.subs.All() {
		group, ok := byMode[sub.EffectiveMode]
		if !ok {
			group = make(map[string][]string)
			byMode[sub.EffectiveMode] = group
		}
		group[sub.Exchange] = append(group[sub.Exchange], sub.Key.Token)
	}
	for mode, group := range byMode {
		if err := a.sendSubscribe(mode, group); err != nil {
			a.deps.Logger.LogError(err, map[string]interface{}{"op": "resubscribe"})
			return
		}
	}
}

func (a *Adapter) sendSubscribe(mode feed.Mode, byExchange map[string][]string) error {
	return a.sendRequest(byExchange, func(corr string, groups []tokenGroup) []byte {
		return subscribeMessage(corr, wireModeFor(mode), groups)
	})
}

func (a *Adapter) sendUnsubscribe(mode feed.Mode, byExchange map[string][]string) error {
	return a.sendRequest(byExchange, func(corr string, groups []tokenGroup) []byte {
		return unsubscribeMessage(corr, wireModeFor(mode), groups)
	})
}

func (a *Adapter) sendRequest(byExchange map[string][]string, build func(string, []tokenGroup) []byte) error {
	a.mu.Lock()
	conn := a.conn
	a.mu.Unlock()
	if conn == nil {
		return adapter.ErrNotConnected
	}
	for exchange, tokens := range byExchange {
		exType := exchangeTypeFor(exchange)
		for _, batch := range adapter.ChunkTokens(tokens, maxTokensPerBatch) {
			a.pacer.Wait()
			a.mu.Lock()
			a.corrSeq++
			corr := fmt.Sprintf("%s-%d", a.userID, a.corrSeq)
			a.mu.Unlock()
			msg := build(corr, []tokenGroup{{ExchangeType: exType, Tokens: batch}})
			if err := conn.Send(msg); err != nil {
				return err
			}
		}
	}
	return nil
}

func (a *Adapter) onMessage(messageType int, data []byte) {
	if messageType == websocket.TextMessage {
		// 服务端 pong 或错误通知
		if string(data) != "pong" {
			a.deps.Logger.LogAdapter("upstream_message", BrokerName, map[string]interface{}{
				"payload": string(data),
			})
		}
		return
	}

	ev, err := Parse(data)
	if err != nil {
		if a.deps.Logger != nil {
			a.deps.Logger.LogParseError(BrokerName, err, len(data))
		}
		if a.deps.Monitor != nil {
			a.deps.Monitor.ParseError(BrokerName)
		}
		return
	}
	a.publish(ev)
}

func (a *Adapter) publish(ev TickEvent) {
	a.mu.Lock()
	meta, ok := a.meta[ev.Token]
	a.mu.Unlock()
	if !ok {
		return
	}
	if a.deps.Monitor != nil {
		a.deps.Monitor.TickReceived(BrokerName)
	}

	key := feed.InstrumentKey{Exchange: a.exmap.ToBroker(meta.exchange), Token: ev.Token}
	merged := a.snapshots.Apply(key, ev.Fields)
	if meta.depth > 0 {
		if len(merged.Bids) > meta.depth {
			merged.Bids = merged.Bids[:meta.depth]
		}
		if len(merged.Asks) > meta.depth {
			merged.Asks = merged.Asks[:meta.depth]
		}
	}

	ts := ev.ExchangeTsMs
	if ts == 0 {
		ts = time.Now().UnixMilli()
	}
	tick := feed.Tick{
		Broker:         BrokerName,
		Symbol:         meta.symbol,
		Exchange:       meta.exchange,
		BrokerExchange: exchangeForType(ev.ExchangeType),
		TimestampMs:    ts,
		Fields:         merged,
	}

	// 帧不携带客户端请求的 mode；union 之外再按字段推断（有深度就发
	// DEPTH），这是文档化的兜底策略。
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
