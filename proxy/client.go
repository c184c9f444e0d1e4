package proxy

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"market-proxy-go/adapter"
	"market-proxy-go/infrastructure/monitor"
)

// Client 一条客户端 websocket 连接。出站走有界队列由单独的 writer
// goroutine 消费，慢客户端在自己的队列里 drop-oldest，绝不反压其他
// 客户端或 bus 消费循环。
type Client struct {
	id string
	ws *websocket.Conn

	out     chan []byte
	done    chan struct{}
	closeMu sync.Once

	monitor *monitor.Monitor

	// 以下字段只由该连接的 read 循环读写。
	authenticated bool
	userID        string
	broker        string
	upstream      adapter.Adapter // 持有 pool 引用期间非 nil
}

const (
	defaultQueueSize    = 256
	defaultWriteTimeout = 5 * time.Second
	defaultPingInterval = 30 * time.Second
)

func newClient(id string, ws *websocket.Conn, queueSize int, m *monitor.Monitor) *Client {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Client{
		id:      id,
		ws:      ws,
		out:     make(chan []byte, queueSize),
		done:    make(chan struct{}),
		monitor: m,
	}
}

// Enqueue 将一帧放入出站队列。队列满时丢弃最旧一帧腾位：行情流里
// 新 tick 总是取代旧 tick，丢弃是预期降级而非错误。返回本次入队
// 是否挤掉了旧帧，供扇出侧聚合告警。
func (c *Client) Enqueue(frame []byte) bool {
	dropped := false
	for {
		select {
		case <-c.done:
			return dropped
		case c.out <- frame:
			return dropped
		default:
		}
		select {
		case <-c.out:
			dropped = true
			if c.monitor != nil {
				c.monitor.ClientDropped()
			}
		default:
		}
	}
}

// EnqueueJSON 序列化后入队。
func (c *Client) EnqueueJSON(v interface{}) {
	frame, err := json.Marshal(v)
	if err != nil {
		return
	}
	c.Enqueue(frame)
}

// writeLoop 唯一向 ws 写入的 goroutine；定期 ping 探活。
func (c *Client) writeLoop(writeTimeout, pingInterval time.Duration) {
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	if pingInterval <= 0 {
		pingInterval = defaultPingInterval
	}
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case frame := <-c.out:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.close()
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		}
	}
}

// close 幂等关闭；read 循环随 ws 关闭而退出。
func (c *Client) close() {
	c.closeMu.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}
