package channel

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// serverEvent 是假服务端收到的一次 EVENT。
type serverEvent struct {
	conn *fakeConn
	name string
	id   int
	args []json.RawMessage
}

type fakeConn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *fakeConn) send(frame string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, []byte(frame))
}

func (c *fakeConn) close() {
	_ = c.ws.Close()
}

// fakeServer 实现了足够测试使用的 Socket.IO v5 服务端子集。
type fakeServer struct {
	t            *testing.T
	srv          *httptest.Server
	upgrader     websocket.Upgrader
	pingInterval int
	pingTimeout  int
	reject       atomic.Value

	mu     sync.Mutex
	conns  []*fakeConn
	paths  []string
	events chan serverEvent
	pongs  atomic.Int32
	onConn func(*fakeConn)
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	fs := &fakeServer{
		t:            t,
		pingInterval: 25000,
		pingTimeout:  20000,
		events:       make(chan serverEvent, 32),
	}
	fs.reject.Store("")
	fs.srv = httptest.NewServer(http.HandlerFunc(fs.handle))
	t.Cleanup(func() {
		fs.mu.Lock()
		for _, c := range fs.conns {
			c.close()
		}
		fs.mu.Unlock()
		fs.srv.Close()
	})
	return fs
}

func (fs *fakeServer) handle(w http.ResponseWriter, r *http.Request) {
	ws, err := fs.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	conn := &fakeConn{ws: ws}
	fs.mu.Lock()
	fs.conns = append(fs.conns, conn)
	fs.paths = append(fs.paths, r.URL.RequestURI())
	onConn := fs.onConn
	fs.mu.Unlock()

	open := fmt.Sprintf(`0{"sid":"eio-%d","upgrades":[],"pingInterval":%d,"pingTimeout":%d,"maxPayload":1000000}`,
		time.Now().UnixNano(), fs.pingInterval, fs.pingTimeout)
	if conn.send(open) != nil {
		return
	}
	_, frame, err := ws.ReadMessage()
	if err != nil || !strings.HasPrefix(string(frame), "40") {
		conn.close()
		return
	}
	if reason := fs.reject.Load().(string); reason != "" {
		_ = conn.send(`44{"message":"` + reason + `"}`)
		conn.close()
		return
	}
	if conn.send(`40{"sid":"socket-1"}`) != nil {
		return
	}
	if onConn != nil {
		onConn(conn)
	}

	for {
		_, frame, err := ws.ReadMessage()
		if err != nil {
			return
		}
		p, err := decodePacket(frame)
		if err != nil {
			continue
		}
		switch {
		case p.eio == eioPong:
			fs.pongs.Add(1)
		case p.eio == eioMessage && p.sio == sioEvent:
			name, args, err := eventArgs(p.data)
			if err != nil {
				continue
			}
			fs.events <- serverEvent{conn: conn, name: name, id: p.id, args: args}
		}
	}
}

func (fs *fakeServer) url() string {
	return fs.srv.URL
}

func (fs *fakeServer) connCount() int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return len(fs.conns)
}

func (fs *fakeServer) lastConn() *fakeConn {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if len(fs.conns) == 0 {
		return nil
	}
	return fs.conns[len(fs.conns)-1]
}

func (fs *fakeServer) nextEvent(t *testing.T) serverEvent {
	t.Helper()
	select {
	case ev := <-fs.events:
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for client event")
		return serverEvent{}
	}
}

func (fs *fakeServer) assertNoEvent(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case ev := <-fs.events:
		t.Fatalf("unexpected event %q", ev.name)
	case <-time.After(wait):
	}
}

func startClient(t *testing.T, fs *fakeServer, opts Options) *Client {
	t.Helper()
	opts.URL = fs.url()
	if opts.ReconnectMin == 0 {
		opts.ReconnectMin = 10 * time.Millisecond
		opts.ReconnectMax = 50 * time.Millisecond
	}
	client, err := NewClient(opts)
	require.NoError(t, err)
	return client
}

func waitConnected(t *testing.T, client *Client, want bool) {
	t.Helper()
	require.Eventually(t, func() bool { return client.Connected() == want }, 3*time.Second, 5*time.Millisecond)
}
