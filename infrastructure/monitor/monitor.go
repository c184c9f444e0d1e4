package monitor

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Monitor Prometheus监控指标收集器
type Monitor struct {
	registry *prometheus.Registry

	// tick 流转指标
	ticksReceived  *prometheus.CounterVec
	ticksPublished *prometheus.CounterVec
	parseErrors    *prometheus.CounterVec
	busDropped     prometheus.Counter

	// adapter 指标
	adapterConnects   *prometheus.CounterVec
	adapterReconnects *prometheus.CounterVec
	adapterFailures   *prometheus.CounterVec
	upstreamSubs      *prometheus.GaugeVec

	// 客户端指标
	clientsConnected prometheus.Gauge
	clientDropped    prometheus.Counter
	authFailures     prometheus.Counter
	requestsTotal    *prometheus.CounterVec

	// 扇出指标
	fanoutLatency prometheus.Histogram
}

// Config 监控配置
type Config struct {
	Namespace string
	Subsystem string
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Namespace: "mdp",
		Subsystem: "stream",
	}
}

// New 创建新的Monitor实例
func New(cfg Config) *Monitor {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	m := &Monitor{
		registry: reg,

		ticksReceived: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "ticks_received_total",
				Help:      "从上游解析成功的 tick 总数",
			},
			[]string{"broker"},
		),
		ticksPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "ticks_published_total",
				Help:      "发布到内部 bus 的 tick 总数",
			},
			[]string{"broker"},
		),
		parseErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "parse_errors_total",
				Help:      "上游帧解析失败总数（帧被丢弃，连接保持）",
			},
			[]string{"broker"},
		),
		busDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "bus_dropped_total",
			Help:      "内部 bus 背压下丢弃的消息总数",
		}),

		adapterConnects: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "adapter_connects_total",
				Help:      "上游连接建立次数",
			},
			[]string{"broker"},
		),
		adapterReconnects: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "adapter_reconnects_total",
				Help:      "上游重连尝试次数",
			},
			[]string{"broker"},
		),
		adapterFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "adapter_failures_total",
				Help:      "重连预算耗尽导致的 adapter 失效次数",
			},
			[]string{"broker"},
		),
		upstreamSubs: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "upstream_subscriptions",
				Help:      "当前 broker 级订阅 instrument 数",
			},
			[]string{"broker"},
		),

		clientsConnected: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "clients_connected",
			Help:      "当前客户端连接数",
		}),
		clientDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "client_dropped_total",
			Help:      "慢客户端出站队列 drop-oldest 丢弃总数",
		}),
		authFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "auth_failures_total",
			Help:      "客户端鉴权失败总数",
		}),
		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "requests_total",
				Help:      "客户端请求总数",
			},
			[]string{"action"},
		),

		fanoutLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "fanout_latency_seconds",
			Help:      "从 bus 取出到写入客户端队列的延迟（秒）",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}),
	}

	return m
}

// tick 流转相关方法
func (m *Monitor) TickReceived(broker string) {
	m.ticksReceived.WithLabelValues(broker).Inc()
}

func (m *Monitor) TickPublished(broker string) {
	m.ticksPublished.WithLabelValues(broker).Inc()
}

func (m *Monitor) ParseError(broker string) {
	m.parseErrors.WithLabelValues(broker).Inc()
}

func (m *Monitor) BusDropped(n int64) {
	if n > 0 {
		m.busDropped.Add(float64(n))
	}
}

// adapter 相关方法
func (m *Monitor) AdapterConnected(broker string) {
	m.adapterConnects.WithLabelValues(broker).Inc()
}

func (m *Monitor) AdapterReconnect(broker string) {
	m.adapterReconnects.WithLabelValues(broker).Inc()
}

func (m *Monitor) AdapterFailed(broker string) {
	m.adapterFailures.WithLabelValues(broker).Inc()
}

func (m *Monitor) SetUpstreamSubscriptions(broker string, n int) {
	m.upstreamSubs.WithLabelValues(broker).Set(float64(n))
}

// 客户端相关方法
func (m *Monitor) ClientConnected() {
	m.clientsConnected.Inc()
}

func (m *Monitor) ClientDisconnected() {
	m.clientsConnected.Dec()
}

func (m *Monitor) ClientDropped() {
	m.clientDropped.Inc()
}

func (m *Monitor) AuthFailure() {
	m.authFailures.Inc()
}

func (m *Monitor) Request(action string) {
	m.requestsTotal.WithLabelValues(action).Inc()
}

func (m *Monitor) FanoutLatency(seconds float64) {
	m.fanoutLatency.Observe(seconds)
}

// Handler 返回HTTP handler用于暴露指标
func (m *Monitor) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry 返回prometheus registry
func (m *Monitor) Registry() *prometheus.Registry {
	return m.registry
}
