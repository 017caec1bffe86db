package signalr

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var ErrTransport = errors.New("transport failure")

// TransportHandlers are the inbound callbacks of a transport session.
// OnClosed fires once, when the session dies for any reason other than
// an explicit Stop.
type TransportHandlers struct {
	OnMessage func(msg []byte)
	OnClosed  func(err error)
}

// RealtimeTransport is the pluggable session under the hub connection.
// The connection manager owns it exclusively and replaces it wholesale
// on every (re)connect.
type RealtimeTransport interface {
	Start(ctx context.Context, url string) error
	Send(ctx context.Context, text string) error
	Stop() error
}

// TransportFactory builds a fresh transport for one connection attempt.
type TransportFactory func(handlers TransportHandlers) RealtimeTransport

// WebsocketURL maps the negotiated hub HTTP URL onto the websocket
// scheme.
func WebsocketURL(httpURL string) string {
	if strings.HasPrefix(httpURL, "https://") {
		return "wss://" + strings.TrimPrefix(httpURL, "https://")
	}
	if strings.HasPrefix(httpURL, "http://") {
		return "ws://" + strings.TrimPrefix(httpURL, "http://")
	}
	return httpURL
}

// WebSocketTransport is the default transport. Cookies from the hub's
// HTTP session are forwarded on the upgrade and a keep-alive ping goes
// out every keepAlive interval.
type WebSocketTransport struct {
	handlers  TransportHandlers
	jar       http.CookieJar
	keepAlive time.Duration

	writeMu sync.Mutex
	conn    *websocket.Conn
	done    chan struct{}
	stopped sync.Once
}

func NewWebSocketTransport(jar http.CookieJar, keepAlive time.Duration, handlers TransportHandlers) *WebSocketTransport {
	if keepAlive <= 0 {
		keepAlive = 5 * time.Second
	}
	return &WebSocketTransport{
		handlers:  handlers,
		jar:       jar,
		keepAlive: keepAlive,
		done:      make(chan struct{}),
	}
}

func (t *WebSocketTransport) Start(ctx context.Context, url string) error {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 5 * time.Second,
		Jar:              t.jar,
	}

	conn, _, err := dialer.DialContext(ctx, WebsocketURL(url), nil)
	if err != nil {
		return err
	}
	t.conn = conn

	go t.readLoop(conn)
	go t.pingLoop(conn)
	return nil
}

func (t *WebSocketTransport) Send(ctx context.Context, text string) error {
	if t.conn == nil {
		return ErrTransport
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		_ = t.conn.SetWriteDeadline(deadline)
		defer t.conn.SetWriteDeadline(time.Time{})
	}
	return t.conn.WriteMessage(websocket.TextMessage, []byte(text))
}

func (t *WebSocketTransport) Stop() error {
	var err error
	t.stopped.Do(func() {
		close(t.done)
		if t.conn != nil {
			err = t.conn.Close()
		}
	})
	return err
}

func (t *WebSocketTransport) readLoop(conn *websocket.Conn) {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-t.done:
				// explicit Stop, not a transport loss
			default:
				if t.handlers.OnClosed != nil {
					t.handlers.OnClosed(err)
				}
			}
			return
		}
		if t.handlers.OnMessage != nil {
			t.handlers.OnMessage(msg)
		}
	}
}

func (t *WebSocketTransport) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(t.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			t.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			t.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}
