package adapter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"market-proxy-go/infrastructure/logger"
)

const (
	defaultMaxRetries  = 10
	defaultBaseBackoff = 500 * time.Millisecond
	defaultMaxBackoff  = 30 * time.Second
	readTimeout        = 30 * time.Second
	writeTimeout       = 10 * time.Second
	pingInterval       = 10 * time.Second
)

// ConnConfig 托管连接的回调与重连参数。Dial 负责携带鉴权参数建连，
// Handshake 执行 broker 特定的连接后握手（可为 nil）。
type ConnConfig struct {
	Broker      string
	Dial        func(ctx context.Context) (*websocket.Conn, error)
	Handshake   func(ctx context.Context, conn *websocket.Conn) error
	OnMessage   func(messageType int, data []byte)
	OnConnected func() // 每次（重）连成功后调用，用于原子重发全部订阅
	OnClosed    func(err error)
	MaxRetries  int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	Logger      *logger.Logger
}

// Conn 带重连状态机的上游 websocket 连接。状态变迁全部发生在自身的
// run goroutine 内，退避等待期间不持有任何锁。
type Conn struct {
	cfg ConnConfig

	mu    sync.Mutex
	state State
	ws    *websocket.Conn
	wmu   sync.Mutex // 串行化并发写帧

	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once // 向 pool 通知 exactly once
	done      chan struct{}
}

// NewConn 创建托管连接，初始状态 Disconnected。
func NewConn(cfg ConnConfig) *Conn {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = defaultBaseBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = defaultMaxBackoff
	}
	return &Conn{cfg: cfg, state: Disconnected, done: make(chan struct{})}
}

// Start 启动连接与重连循环。对已关闭的连接返回 ErrClosed。
func (c *Conn) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state == Closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state != Disconnected {
		c.mu.Unlock()
		return fmt.Errorf("connect from state %s", c.state)
	}
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.setStateLocked(Connecting)
	c.mu.Unlock()

	// 首次建连同步完成，让调用方立即拿到鉴权/网络错误。
	ws, err := c.dialAndHandshake(c.ctx)
	if err != nil {
		c.mu.Lock()
		c.setStateLocked(Disconnected)
		c.mu.Unlock()
		return err
	}
	c.install(ws)
	go c.run()
	return nil
}

// Stop 直接进入 Closed 并关闭传输层。幂等。
func (c *Conn) Stop() {
	c.mu.Lock()
	if c.state == Closed {
		c.mu.Unlock()
		return
	}
	c.setStateLocked(Closed)
	ws := c.ws
	c.ws = nil
	cancel := c.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if ws != nil {
		_ = ws.Close()
	}
}

// State 返回当前状态。
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsConnected 报告是否处于 Connected。
func (c *Conn) IsConnected() bool {
	return c.State() == Connected
}

// Send 向上游写一条文本帧。
func (c *Conn) Send(data []byte) error {
	return c.write(websocket.TextMessage, data)
}

// SendBinary 向上游写一条二进制帧。
func (c *Conn) SendBinary(data []byte) error {
	return c.write(websocket.BinaryMessage, data)
}

func (c *Conn) write(messageType int, data []byte) error {
	c.mu.Lock()
	ws := c.ws
	state := c.state
	c.mu.Unlock()
	if state != Connected || ws == nil {
		return ErrNotConnected
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return ws.WriteMessage(messageType, data)
}

func (c *Conn) setStateLocked(s State) {
	if c.state == s {
		return
	}
	old := c.state
	c.state = s
	if c.cfg.Logger != nil {
		c.cfg.Logger.LogAdapter("state_change", c.cfg.Broker, map[string]interface{}{
			"from": old.String(),
			"to":   s.String(),
		})
	}
}

func (c *Conn) dialAndHandshake(ctx context.Context) (*websocket.Conn, error) {
	ws, err := c.cfg.Dial(ctx)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.setStateLocked(Authenticating)
	c.mu.Unlock()
	if c.cfg.Handshake != nil {
		if err := c.cfg.Handshake(ctx, ws); err != nil {
			_ = ws.Close()
			return nil, err
		}
	}
	return ws, nil
}

func (c *Conn) install(ws *websocket.Conn) {
	c.mu.Lock()
	c.ws = ws
	c.setStateLocked(Connected)
	c.mu.Unlock()
	if c.cfg.OnConnected != nil {
		c.cfg.OnConnected()
	}
}

// run 读循环 + 重连循环。非终态的意外断开进入 Reconnecting；
// 重试预算耗尽进入 Closed 并通知 exactly once。
func (c *Conn) run() {
	retries := 0
	for {
		c.mu.Lock()
		ws := c.ws
		c.mu.Unlock()
		if ws != nil {
			err := c.readLoop(ws)
			c.mu.Lock()
			stopped := c.state == Closed
			c.ws = nil
			c.mu.Unlock()
			if stopped || c.ctx.Err() != nil {
				return
			}
			if c.cfg.Logger != nil {
				c.cfg.Logger.LogAdapter("disconnected", c.cfg.Broker, map[string]interface{}{
					"error": err.Error(),
				})
			}
		}

		c.mu.Lock()
		c.setStateLocked(Reconnecting)
		c.mu.Unlock()

		retries++
		if retries > c.cfg.MaxRetries {
			c.fail(fmt.Errorf("reconnect budget exhausted after %d attempts", c.cfg.MaxRetries))
			return
		}
		backoff := backoffDelay(c.cfg.BaseBackoff, c.cfg.MaxBackoff, retries)
		select {
		case <-c.ctx.Done():
			return
		case <-time.After(backoff):
		}

		c.mu.Lock()
		c.setStateLocked(Connecting)
		c.mu.Unlock()
		ws, err := c.dialAndHandshake(c.ctx)
		if err != nil {
			if c.cfg.Logger != nil {
				c.cfg.Logger.LogAdapter("reconnect_failed", c.cfg.Broker, map[string]interface{}{
					"attempt": retries,
					"error":   err.Error(),
				})
			}
			continue
		}
		c.install(ws)
		retries = 0
	}
}

func (c *Conn) readLoop(ws *websocket.Conn) error {
	_ = ws.SetReadDeadline(time.Now().Add(readTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(readTimeout))
	})

	pinger := time.NewTicker(pingInterval)
	defer pinger.Stop()
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		for {
			select {
			case <-stop:
				return
			case <-pinger.C:
				c.wmu.Lock()
				_ = ws.SetWriteDeadline(time.Now().Add(writeTimeout))
				_ = ws.WriteMessage(websocket.PingMessage, nil)
				c.wmu.Unlock()
			}
		}
	}()

	for {
		messageType, data, err := ws.ReadMessage()
		if err != nil {
			_ = ws.Close()
			return err
		}
		_ = ws.SetReadDeadline(time.Now().Add(readTimeout))
		if c.cfg.OnMessage != nil {
			c.cfg.OnMessage(messageType, data)
		}
	}
}

func (c *Conn) fail(err error) {
	c.mu.Lock()
	c.setStateLocked(Closed)
	ws := c.ws
	c.ws = nil
	c.mu.Unlock()
	if ws != nil {
		_ = ws.Close()
	}
	c.closeOnce.Do(func() {
		if c.cfg.OnClosed != nil {
			c.cfg.OnClosed(err)
		}
	})
}

// backoffDelay 指数退避，2^(attempt-1) 倍基数，封顶 max。
func backoffDelay(base, max time.Duration, attempt int) time.Duration {
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}
