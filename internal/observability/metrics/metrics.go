package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "skyagents"

// Metrics 汇总目录请求、执行尝试与实时通道的 Prometheus 指标。
// 所有方法对 nil 接收者安全，组件可以在未配置指标时直接调用。
type Metrics struct {
	registry *prometheus.Registry

	catalogRequests  *prometheus.CounterVec
	catalogLatency   *prometheus.HistogramVec
	attemptsStarted  prometheus.Counter
	attemptsFinished *prometheus.CounterVec
	attemptDuration  *prometheus.HistogramVec
	attemptsInFlight prometheus.Gauge
	channelConnected prometheus.Gauge
	channelReconnect prometheus.Counter
}

// New 在独立的 registry 上注册全部指标；reg 为空时新建一个。
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	m := &Metrics{
		registry: reg,
		catalogRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "catalog",
			Name:      "requests_total",
			Help:      "Catalog API requests by endpoint and HTTP status code.",
		}, []string{"endpoint", "code"}),
		catalogLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "catalog",
			Name:      "request_duration_seconds",
			Help:      "Catalog API request latency.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"endpoint"}),
		attemptsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "executions",
			Name:      "started_total",
			Help:      "Execution attempts that passed precondition checks.",
		}),
		attemptsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "executions",
			Name:      "finished_total",
			Help:      "Execution attempts that reached a terminal status.",
		}, []string{"status", "code"}),
		attemptDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "executions",
			Name:      "duration_seconds",
			Help:      "Time from execute to the first terminal status.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
		}, []string{"status"}),
		attemptsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "executions",
			Name:      "in_flight",
			Help:      "Execution attempts that have not reached a terminal status.",
		}),
		channelConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "channel",
			Name:      "connected",
			Help:      "1 when the realtime channel is connected.",
		}),
		channelReconnect: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "channel",
			Name:      "reconnects_total",
			Help:      "Reconnect attempts made by the realtime channel.",
		}),
	}
	reg.MustRegister(
		m.catalogRequests,
		m.catalogLatency,
		m.attemptsStarted,
		m.attemptsFinished,
		m.attemptDuration,
		m.attemptsInFlight,
		m.channelConnected,
		m.channelReconnect,
	)
	return m
}

// Registry 返回底层 registry，供测试收集指标。
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveCatalogRequest 记录一次目录请求；status 为 0 表示请求未得到响应。
func (m *Metrics) ObserveCatalogRequest(endpoint string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	code := "error"
	if status > 0 {
		code = strconv.Itoa(status)
	}
	m.catalogRequests.WithLabelValues(endpoint, code).Inc()
	m.catalogLatency.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// AttemptStarted 记录一次执行尝试开始。
func (m *Metrics) AttemptStarted() {
	if m == nil {
		return
	}
	m.attemptsStarted.Inc()
	m.attemptsInFlight.Inc()
}

// AttemptFinished 记录一次执行尝试到达终态。
func (m *Metrics) AttemptFinished(status, code string, duration time.Duration) {
	if m == nil {
		return
	}
	m.attemptsInFlight.Dec()
	m.attemptsFinished.WithLabelValues(status, code).Inc()
	m.attemptDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// ChannelConnected 更新实时通道的连接状态。
func (m *Metrics) ChannelConnected(connected bool) {
	if m == nil {
		return
	}
	if connected {
		m.channelConnected.Set(1)
		return
	}
	m.channelConnected.Set(0)
}

// ChannelReconnect 记录一次重连尝试。
func (m *Metrics) ChannelReconnect() {
	if m == nil {
		return
	}
	m.channelReconnect.Inc()
}

// Handler 以 Prometheus 文本格式暴露指标。
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StartServer 启动只暴露 /metrics 的独立 HTTP 服务，直到上下文取消。
func StartServer(ctx context.Context, addr string, handler http.Handler) error {
	if addr == "" {
		return errors.New("metrics address is empty")
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return err
	}
}
