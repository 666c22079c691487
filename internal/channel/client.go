package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"

	xerrors "SkyAgents-Hub/internal/errors"
	"SkyAgents-Hub/internal/observability/metrics"
	"SkyAgents-Hub/pkg/logger"
)

const (
	defaultConnectTimeout = 10 * time.Minute
	defaultPingInterval   = 25 * time.Second
	defaultPingTimeout    = 20 * time.Second
	writeTimeout          = 10 * time.Second
)

// Handler 处理一个服务端事件的参数列表。
type Handler func(args []json.RawMessage)

// AckFunc 接收服务端对事件的确认参数。
type AckFunc func(args []json.RawMessage)

// Options 描述 Socket.IO 客户端的连接参数。
type Options struct {
	URL            string
	Path           string
	ConnectTimeout time.Duration
	ReconnectMin   time.Duration
	ReconnectMax   time.Duration
	Header         http.Header
	Dialer         *websocket.Dialer
	Metrics        *metrics.Metrics
	Logger         *slog.Logger
}

// Client 维护一条长连接，断线后按指数退避自动重连。
type Client struct {
	endpoint       string
	header         http.Header
	dialer         *websocket.Dialer
	connectTimeout time.Duration
	backoff        *backoff.ExponentialBackOff
	metrics        *metrics.Metrics
	logger         *slog.Logger

	writeMu sync.Mutex

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	sid       string
	nextID    int
	acks      map[int]AckFunc
	handlers  map[string][]Handler
	lifecycle []func(connected bool)

	cancel context.CancelFunc
	done   chan struct{}
}

// NewClient 校验地址并构造客户端，调用 Start 后才会建立连接。
func NewClient(opts Options) (*Client, error) {
	endpoint, err := websocketURL(opts.URL, opts.Path)
	if err != nil {
		return nil, err
	}
	b := backoff.NewExponentialBackOff()
	if opts.ReconnectMin > 0 {
		b.InitialInterval = opts.ReconnectMin
	}
	if opts.ReconnectMax > 0 {
		b.MaxInterval = opts.ReconnectMax
	}
	b.Reset()

	c := &Client{
		endpoint:       endpoint,
		header:         opts.Header,
		dialer:         opts.Dialer,
		connectTimeout: opts.ConnectTimeout,
		backoff:        b,
		metrics:        opts.Metrics,
		logger:         opts.Logger,
		acks:           make(map[int]AckFunc),
		handlers:       make(map[string][]Handler),
	}
	if c.dialer == nil {
		c.dialer = websocket.DefaultDialer
	}
	if c.connectTimeout <= 0 {
		c.connectTimeout = defaultConnectTimeout
	}
	if c.logger == nil {
		c.logger = logger.Named("channel")
	}
	return c, nil
}

// websocketURL 把 http(s) 地址转换为 Engine.IO websocket 传输地址。
func websocketURL(raw, path string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "channel url is empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeInvalidArgument, err, "invalid channel url")
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("unsupported channel url scheme %q", u.Scheme))
	}
	if path == "" {
		path = "/socket.io/"
	}
	if !strings.HasSuffix(path, "/") {
		path += "/"
	}
	u.Path = path
	q := u.Query()
	q.Set("EIO", "4")
	q.Set("transport", "websocket")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// On 注册事件处理函数，需在 Start 之前或之后任意时刻调用。
func (c *Client) On(event string, handler Handler) {
	if handler == nil {
		return
	}
	c.mu.Lock()
	c.handlers[event] = append(c.handlers[event], handler)
	c.mu.Unlock()
}

// OnLifecycle 在连接建立与断开时回调。
func (c *Client) OnLifecycle(fn func(connected bool)) {
	if fn == nil {
		return
	}
	c.mu.Lock()
	c.lifecycle = append(c.lifecycle, fn)
	c.mu.Unlock()
}

// Connected 报告当前是否已完成 Socket.IO 握手。
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Start 在后台维持连接直到 ctx 结束或调用 Close。
func (c *Client) Start(ctx context.Context) {
	c.mu.Lock()
	if c.done != nil {
		c.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	done := c.done
	c.mu.Unlock()

	go c.run(ctx, done)
}

// Close 停止重连并关闭当前连接。
func (c *Client) Close() error {
	c.mu.Lock()
	cancel, done, conn := c.cancel, c.done, c.conn
	c.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	if conn != nil {
		c.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		c.writeMu.Unlock()
		_ = conn.Close()
	}
	<-done
	return nil
}

func (c *Client) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		err := c.session(ctx)
		if ctx.Err() != nil {
			return
		}
		wait := c.backoff.NextBackOff()
		if wait == backoff.Stop {
			wait = c.backoff.MaxInterval
		}
		c.logger.Warn("实时通道断开，准备重连", slog.Any("error", err), slog.Duration("retry_in", wait))
		c.metrics.ChannelReconnect()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// session 完成一次拨号与握手，并阻塞读取直到连接出错。
func (c *Client) session(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, c.connectTimeout)
	defer cancel()

	conn, _, err := c.dialer.DialContext(dialCtx, c.endpoint, c.header)
	if err != nil {
		c.logger.Error("connect_error", slog.Any("error", err))
		return fmt.Errorf("dial %s: %w", c.endpoint, err)
	}
	// ctx 取消时唤醒阻塞中的读取。
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	defer conn.Close()

	hs, err := c.handshake(conn, time.Now().Add(c.connectTimeout))
	if err != nil {
		c.logger.Error("connect_error", slog.Any("error", err))
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	lifecycle := append([]func(bool){}, c.lifecycle...)
	c.mu.Unlock()

	c.backoff.Reset()
	c.metrics.ChannelConnected(true)
	c.logger.Info("实时通道已连接", slog.String("sid", c.SID()))
	for _, fn := range lifecycle {
		fn(true)
	}

	err = c.readLoop(conn, hs)

	c.mu.Lock()
	c.conn = nil
	c.connected = false
	dropped := len(c.acks)
	c.acks = make(map[int]AckFunc)
	c.mu.Unlock()

	c.metrics.ChannelConnected(false)
	c.logger.Warn("实时通道已断开", slog.Any("reason", err), slog.Int("dropped_acks", dropped))
	for _, fn := range lifecycle {
		fn(false)
	}
	return err
}

func (c *Client) handshake(conn *websocket.Conn, deadline time.Time) (handshake, error) {
	var hs handshake
	_ = conn.SetReadDeadline(deadline)

	_, frame, err := conn.ReadMessage()
	if err != nil {
		return hs, fmt.Errorf("read open packet: %w", err)
	}
	p, err := decodePacket(frame)
	if err != nil {
		return hs, err
	}
	if p.eio != eioOpen {
		return hs, fmt.Errorf("unexpected first packet type %q", p.eio)
	}
	if err := json.Unmarshal(p.data, &hs); err != nil {
		return hs, fmt.Errorf("decode open packet: %w", err)
	}

	connect, err := encodeConnect(nil)
	if err != nil {
		return hs, err
	}
	if err := c.write(conn, connect); err != nil {
		return hs, fmt.Errorf("send connect: %w", err)
	}

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			return hs, fmt.Errorf("await connect: %w", err)
		}
		p, err := decodePacket(frame)
		if err != nil {
			return hs, err
		}
		switch {
		case p.eio == eioPing:
			if err := c.write(conn, []byte{eioPong}); err != nil {
				return hs, err
			}
		case p.eio == eioMessage && p.sio == sioConnect:
			var ack struct {
				SID string `json:"sid"`
			}
			_ = json.Unmarshal(p.data, &ack)
			c.mu.Lock()
			c.sid = ack.SID
			c.mu.Unlock()
			return hs, nil
		case p.eio == eioMessage && p.sio == sioConnectError:
			return hs, fmt.Errorf("connect_error: %s", connectErrorMessage(p.data))
		case p.eio == eioClose:
			return hs, errors.New("server closed the connection during handshake")
		}
	}
}

func (c *Client) readLoop(conn *websocket.Conn, hs handshake) error {
	interval := time.Duration(hs.PingInterval) * time.Millisecond
	if interval <= 0 {
		interval = defaultPingInterval
	}
	timeout := time.Duration(hs.PingTimeout) * time.Millisecond
	if timeout <= 0 {
		timeout = defaultPingTimeout
	}

	for {
		_ = conn.SetReadDeadline(time.Now().Add(interval + timeout))
		_, frame, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		p, err := decodePacket(frame)
		if err != nil {
			c.logger.Warn("忽略无法解析的数据帧", slog.Any("error", err))
			continue
		}
		switch p.eio {
		case eioPing:
			if err := c.write(conn, []byte{eioPong}); err != nil {
				return err
			}
		case eioClose:
			return errors.New("server closed the transport")
		case eioMessage:
			if err := c.dispatch(conn, p); err != nil {
				return err
			}
		case eioNoop, eioPong, eioUpgrade, eioOpen:
		}
	}
}

func (c *Client) dispatch(conn *websocket.Conn, p packet) error {
	if p.namespace != "/" {
		return nil
	}
	switch p.sio {
	case sioEvent:
		name, args, err := eventArgs(p.data)
		if err != nil {
			c.logger.Warn("忽略无法解析的事件", slog.Any("error", err))
			return nil
		}
		c.mu.Lock()
		handlers := append([]Handler(nil), c.handlers[name]...)
		c.mu.Unlock()
		if len(handlers) == 0 {
			c.logger.Debug("收到未订阅的事件", slog.String("event", name))
		}
		for _, h := range handlers {
			h(args)
		}
		if p.id != noAckID {
			frame, err := encodeAck(p.id)
			if err != nil {
				return err
			}
			return c.write(conn, frame)
		}
	case sioAck:
		c.mu.Lock()
		fn, ok := c.acks[p.id]
		delete(c.acks, p.id)
		c.mu.Unlock()
		if !ok {
			c.logger.Debug("收到未知的确认", slog.Int("id", p.id))
			return nil
		}
		args, err := ackArgs(p.data)
		if err != nil {
			c.logger.Warn("确认负载无法解析", slog.Any("error", err))
		}
		fn(args)
	case sioDisconnect:
		return errors.New("server disconnected the namespace")
	case sioConnectError:
		return fmt.Errorf("connect_error: %s", connectErrorMessage(p.data))
	}
	return nil
}

// Emit 发送事件；ack 非空时等待服务端确认，回调最多执行一次。
// 未连接时同步返回 CHANNEL_DISCONNECTED，不会发送任何数据。
func (c *Client) Emit(event string, ack AckFunc, args ...any) error {
	c.mu.Lock()
	conn := c.conn
	if !c.connected || conn == nil {
		c.mu.Unlock()
		return xerrors.New(xerrors.CodeChannelDisconnected, "")
	}
	id := noAckID
	if ack != nil {
		id = c.nextID
		c.nextID++
		c.acks[id] = ack
	}
	c.mu.Unlock()

	frame, err := encodeEvent(id, event, args...)
	if err == nil {
		err = c.write(conn, frame)
		if err != nil {
			err = xerrors.Wrap(xerrors.CodeChannelDisconnected, err, "")
		}
	} else {
		err = xerrors.Wrap(xerrors.CodeInvalidArgument, err, "encode event")
	}
	if err != nil && id != noAckID {
		c.mu.Lock()
		delete(c.acks, id)
		c.mu.Unlock()
	}
	return err
}

// SID 返回当前 Socket.IO 会话标识。
func (c *Client) SID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sid
}

func (c *Client) write(conn *websocket.Conn, frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, frame)
}
