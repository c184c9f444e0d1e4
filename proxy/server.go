package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"market-proxy-go/adapter"
	"market-proxy-go/bus"
	"market-proxy-go/feed"
	"market-proxy-go/infrastructure/alert"
	"market-proxy-go/infrastructure/logger"
	"market-proxy-go/infrastructure/monitor"
	"market-proxy-go/lookup"
)

// Config proxy 服务配置。
type Config struct {
	Addr          string        `yaml:"addr"`
	QueueSize     int           `yaml:"queue_size"`     // 客户端出站队列容量
	WriteTimeout  time.Duration `yaml:"write_timeout"`  // 单帧写超时
	PingInterval  time.Duration `yaml:"ping_interval"`  // 服务端 ping 间隔
	PongTimeout   time.Duration `yaml:"pong_timeout"`   // 收不到 pong 判定死连接
	ReadLimit     int64         `yaml:"read_limit"`     // 入站帧大小上限
	CheckOrigin   bool          `yaml:"check_origin"`   // false 时放行所有 Origin
	AllowedOrigin string        `yaml:"allowed_origin"` // CheckOrigin 时允许的来源
}

// DefaultConfig 返回默认配置。
func DefaultConfig() Config {
	return Config{
		Addr:         ":7400",
		QueueSize:    256,
		WriteTimeout: 5 * time.Second,
		PingInterval: 30 * time.Second,
		PongTimeout:  75 * time.Second,
		ReadLimit:    64 * 1024,
	}
}

// Server 面向客户端的 websocket 入口：鉴权、订阅请求编排、行情扇出。
type Server struct {
	cfg      Config
	pool     *adapter.Pool
	sessions lookup.SessionResolver
	bus      *bus.Bus
	registry *SubscriptionRegistry
	logger   *logger.Logger
	monitor  *monitor.Monitor
	alerts   *alert.Manager

	upgrader websocket.Upgrader
	httpSrv  *http.Server
	clientID atomic.Int64

	mu      sync.Mutex
	clients map[*Client]struct{}
	closed  bool
}

// Deps Server 的外部协作方。
type Deps struct {
	Pool     *adapter.Pool
	Sessions lookup.SessionResolver
	Bus      *bus.Bus
	Logger   *logger.Logger
	Monitor  *monitor.Monitor
	Alerts   *alert.Manager
}

func NewServer(cfg Config, deps Deps) *Server {
	s := &Server{
		cfg:      cfg,
		pool:     deps.Pool,
		sessions: deps.Sessions,
		bus:      deps.Bus,
		registry: NewSubscriptionRegistry(),
		logger:   deps.Logger,
		monitor:  deps.Monitor,
		alerts:   deps.Alerts,
		clients:  make(map[*Client]struct{}),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if !cfg.CheckOrigin {
				return true
			}
			return r.Header.Get("Origin") == cfg.AllowedOrigin
		},
	}
	return s
}

// Handler 返回路由：/ws 为流式入口，/healthz 为存活探针。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// Run 启动扇出循环与 HTTP 服务，阻塞直到 ctx 取消或服务出错。
func (s *Server) Run(ctx context.Context) error {
	go s.fanout()

	s.httpSrv = &http.Server{
		Addr:    s.cfg.Addr,
		Handler: s.Handler(),
	}
	errCh := make(chan error, 1)
	go func() { errCh <- s.httpSrv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpSrv.Shutdown(shutdownCtx)
		s.Close()
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Close 踢掉全部客户端连接。
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	clients := make([]*Client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()
	for _, c := range clients {
		c.close()
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	c := newClient(fmt.Sprintf("c-%d", s.clientID.Add(1)), ws, s.cfg.QueueSize, s.monitor)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = ws.Close()
		return
	}
	s.clients[c] = struct{}{}
	s.mu.Unlock()

	if s.monitor != nil {
		s.monitor.ClientConnected()
	}
	if s.logger != nil {
		s.logger.LogSession("client_connected", c.id, map[string]interface{}{
			"remote": r.RemoteAddr,
		})
	}

	go c.writeLoop(s.cfg.WriteTimeout, s.cfg.PingInterval)
	go s.readLoop(c)
}

// readLoop 逐帧读取客户端请求并分发；退出即视为断连并触发清理。
func (s *Server) readLoop(c *Client) {
	defer s.disconnect(c)

	if s.cfg.ReadLimit > 0 {
		c.ws.SetReadLimit(s.cfg.ReadLimit)
	}
	pongTimeout := s.cfg.PongTimeout
	if pongTimeout <= 0 {
		pongTimeout = 75 * time.Second
	}
	_ = c.ws.SetReadDeadline(time.Now().Add(pongTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongTimeout))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(pongTimeout))

		var req Request
		if err := json.Unmarshal(data, &req); err != nil {
			c.EnqueueJSON(errorResponse(CodeSubscriptionError, "malformed request"))
			continue
		}
		s.dispatch(c, req)
	}
}

func (s *Server) dispatch(c *Client, req Request) {
	if s.monitor != nil {
		s.monitor.Request(req.Action)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch req.Action {
	case ActionAuthenticate:
		s.handleAuthenticate(ctx, c, req)
	case ActionSubscribe:
		s.handleSubscribe(ctx, c, req)
	case ActionUnsubscribe:
		s.handleUnsubscribe(ctx, c, req)
	case ActionUnsubscribeAll:
		s.handleUnsubscribeAll(ctx, c)
	default:
		c.EnqueueJSON(errorResponse(CodeSubscriptionError, "unknown action: "+req.Action))
	}
}

// handleAuthenticate 凭证解析失败不关连接，客户端可重试。
func (s *Server) handleAuthenticate(ctx context.Context, c *Client, req Request) {
	sess, err := s.sessions.Resolve(ctx, req.Credential)
	if err != nil {
		if s.monitor != nil {
			s.monitor.AuthFailure()
		}
		if s.logger != nil {
			s.logger.LogSession("auth_failed", c.id, map[string]interface{}{"error": err.Error()})
		}
		c.EnqueueJSON(errorResponse(CodeAuthenticationError, "credential rejected"))
		return
	}
	c.authenticated = true
	c.userID = sess.UserID
	c.broker = sess.Broker
	if s.logger != nil {
		s.logger.LogSession("auth_ok", c.id, map[string]interface{}{
			"user_id": sess.UserID,
			"broker":  sess.Broker,
		})
	}
	c.EnqueueJSON(Response{Type: TypeAuth, Status: "success", Broker: sess.Broker})
}

func (s *Server) handleSubscribe(ctx context.Context, c *Client, req Request) {
	if !c.authenticated {
		c.EnqueueJSON(errorResponse(CodeNotAuthenticated, "authenticate first"))
		return
	}
	mode, err := feed.ParseMode(req.Mode)
	if err != nil {
		c.EnqueueJSON(errorResponse(CodeInvalidMode, "mode must be LTP, QUOTE or DEPTH"))
		return
	}
	if req.Depth < 0 {
		c.EnqueueJSON(errorResponse(CodeInvalidDepth, "depth must be non-negative"))
		return
	}
	if len(req.Symbols) == 0 {
		c.EnqueueJSON(errorResponse(CodeSubscriptionError, "no symbols given"))
		return
	}

	if err := s.ensureUpstream(ctx, c); err != nil {
		c.EnqueueJSON(errorResponse(CodeBrokerError, err.Error()))
		return
	}

	results := make([]SubscribeStatus, 0, len(req.Symbols))
	succeeded := 0
	for _, inst := range req.Symbols {
		// 重复订阅（客户端 re-sync）幂等：登记已存在就不再上发，否则
		// union-of-modes 表会多出一个该客户端永远摘不掉的 mode 引用。
		topic := feed.Topic(inst.Exchange, inst.Symbol, mode)
		if rec, held := s.registry.Get(c, topic); held {
			results = append(results, SubscribeStatus{
				Symbol:     inst.Symbol,
				Exchange:   inst.Exchange,
				Status:     "success",
				Depth:      rec.Depth,
				IsFallback: rec.IsFallback,
			})
			succeeded++
			continue
		}
		res, err := c.upstream.Subscribe(ctx, inst.Symbol, inst.Exchange, mode, req.Depth)
		if err != nil {
			results = append(results, SubscribeStatus{
				Symbol:   inst.Symbol,
				Exchange: inst.Exchange,
				Status:   "error",
				Code:     codeFor(err),
				Message:  err.Error(),
			})
			continue
		}
		s.registry.Add(c, res.Topic, subRecord{
			Symbol:     inst.Symbol,
			Exchange:   inst.Exchange,
			Mode:       mode,
			Depth:      res.Depth,
			IsFallback: res.IsFallback,
		})
		results = append(results, SubscribeStatus{
			Symbol:     inst.Symbol,
			Exchange:   inst.Exchange,
			Status:     "success",
			Depth:      res.Depth,
			IsFallback: res.IsFallback,
		})
		succeeded++
	}

	s.maybeReleaseUpstream(c)

	status := "success"
	switch {
	case succeeded == 0:
		status = "error"
	case succeeded < len(req.Symbols):
		status = "partial"
	}
	c.EnqueueJSON(Response{Type: TypeSubscribe, Status: status, Results: results})
}

func (s *Server) handleUnsubscribe(ctx context.Context, c *Client, req Request) {
	if !c.authenticated {
		c.EnqueueJSON(errorResponse(CodeNotAuthenticated, "authenticate first"))
		return
	}
	mode, err := feed.ParseMode(req.Mode)
	if err != nil {
		c.EnqueueJSON(errorResponse(CodeInvalidMode, "mode must be LTP, QUOTE or DEPTH"))
		return
	}
	if len(req.Symbols) == 0 {
		c.EnqueueJSON(errorResponse(CodeSubscriptionError, "no symbols given"))
		return
	}

	results := make([]SubscribeStatus, 0, len(req.Symbols))
	succeeded := 0
	for _, inst := range req.Symbols {
		topic := feed.Topic(inst.Exchange, inst.Symbol, mode)
		rec, held := s.registry.Remove(c, topic)
		if !held {
			results = append(results, SubscribeStatus{
				Symbol:   inst.Symbol,
				Exchange: inst.Exchange,
				Status:   "error",
				Code:     CodeSubscriptionError,
				Message:  "not subscribed",
			})
			continue
		}
		if c.upstream != nil {
			if err := c.upstream.Unsubscribe(ctx, rec.Symbol, rec.Exchange, rec.Mode); err != nil {
				// 本地登记已摘除；上游失败只记录，重连后的重订阅会收敛。
				if s.logger != nil {
					s.logger.LogError(err, map[string]interface{}{
						"client_id": c.id,
						"symbol":    rec.Symbol,
						"exchange":  rec.Exchange,
					})
				}
			}
		}
		results = append(results, SubscribeStatus{
			Symbol:   inst.Symbol,
			Exchange: inst.Exchange,
			Status:   "success",
		})
		succeeded++
	}

	s.maybeReleaseUpstream(c)

	status := "success"
	switch {
	case succeeded == 0:
		status = "error"
	case succeeded < len(req.Symbols):
		status = "partial"
	}
	c.EnqueueJSON(Response{Type: TypeUnsubscribe, Status: status, Results: results})
}

func (s *Server) handleUnsubscribeAll(ctx context.Context, c *Client) {
	if !c.authenticated {
		c.EnqueueJSON(errorResponse(CodeNotAuthenticated, "authenticate first"))
		return
	}
	n := s.teardownSubscriptions(ctx, c)
	c.EnqueueJSON(Response{Type: TypeUnsubscribe, Status: "success", Message: fmt.Sprintf("removed %d subscriptions", n)})
}

// teardownSubscriptions 摘除客户端全部订阅并逐条回收上游，返回摘除条数。
func (s *Server) teardownSubscriptions(ctx context.Context, c *Client) int {
	records := s.registry.RemoveClient(c)
	for _, rec := range records {
		if c.upstream == nil {
			break
		}
		if err := c.upstream.Unsubscribe(ctx, rec.Symbol, rec.Exchange, rec.Mode); err != nil && s.logger != nil {
			s.logger.LogError(err, map[string]interface{}{
				"client_id": c.id,
				"symbol":    rec.Symbol,
				"exchange":  rec.Exchange,
			})
		}
	}
	s.maybeReleaseUpstream(c)
	return len(records)
}

// ensureUpstream 惰性获取 (user, broker) 的共享 adapter；客户端持有一个
// 池引用直到自己的订阅清零。
func (s *Server) ensureUpstream(ctx context.Context, c *Client) error {
	if c.upstream != nil && c.upstream.State() != adapter.Closed {
		return nil
	}
	if c.upstream != nil {
		// 旧引用已失效，先归还再取新的。
		s.pool.Release(c.userID, c.broker)
		c.upstream = nil
	}
	ad, err := s.pool.Acquire(ctx, c.userID, c.broker)
	if err != nil {
		return err
	}
	c.upstream = ad
	return nil
}

func (s *Server) maybeReleaseUpstream(c *Client) {
	if c.upstream == nil || s.registry.Count(c) > 0 {
		return
	}
	s.pool.Release(c.userID, c.broker)
	c.upstream = nil
}

// disconnect 断连清理等价于 unsubscribe_all：逐条回收上游订阅并归还
// 池引用，共享 adapter 仅在引用计数归零时才断开。
func (s *Server) disconnect(c *Client) {
	c.close()

	s.mu.Lock()
	_, present := s.clients[c]
	delete(s.clients, c)
	s.mu.Unlock()
	if !present {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	n := s.teardownSubscriptions(ctx, c)

	if s.monitor != nil {
		s.monitor.ClientDisconnected()
	}
	if s.logger != nil {
		s.logger.LogSession("client_disconnected", c.id, map[string]interface{}{
			"subscriptions_removed": n,
		})
	}
}

// codeFor 把 adapter 错误映射为稳定错误码。
func codeFor(err error) string {
	switch {
	case errors.Is(err, adapter.ErrSymbolNotFound):
		return CodeSymbolNotFound
	case errors.Is(err, adapter.ErrInvalidDepth):
		return CodeInvalidDepth
	case errors.Is(err, feed.ErrInvalidMode):
		return CodeInvalidMode
	case errors.Is(err, adapter.ErrAuth):
		return CodeAuthenticationError
	case errors.Is(err, adapter.ErrNotConnected), errors.Is(err, adapter.ErrClosed):
		return CodeBrokerError
	case errors.Is(err, adapter.ErrCapacity):
		return CodeSubscriptionError
	default:
		return CodeSubscriptionError
	}
}

// fanout 唯一的 bus 消费者：每条消息按主题 mode 裁剪载荷、序列化一次，
// 再分发给该主题的全部订阅者队列。
func (s *Server) fanout() {
	var lastDropped int64
	for msg := range s.bus.Drain() {
		start := time.Now()

		clients := s.registry.Clients(msg.Topic)
		if len(clients) > 0 {
			resp := Response{
				Type:     TypeMarketData,
				Topic:    msg.Topic,
				Symbol:   msg.Tick.Symbol,
				Exchange: msg.Tick.Exchange,
				Broker:   msg.Tick.Broker,
				Mode:     msg.Tick.Mode.String(),
				Data:     shapePayload(msg.Tick),
			}
			frame, err := json.Marshal(resp)
			if err == nil {
				var clientDrops int64
				for _, c := range clients {
					if c.Enqueue(frame) {
						clientDrops++
					}
				}
				if clientDrops > 0 && s.alerts != nil {
					_ = s.alerts.FanoutDrops("client_queue", clientDrops)
				}
			}
		}

		if s.monitor != nil {
			s.monitor.FanoutLatency(time.Since(start).Seconds())
			if d := s.bus.Dropped(); d > lastDropped {
				s.monitor.BusDropped(d - lastDropped)
				if s.alerts != nil {
					_ = s.alerts.FanoutDrops("bus", d-lastDropped)
				}
				lastDropped = d
			}
		}
	}
}
