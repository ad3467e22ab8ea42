package cdp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto"
	"github.com/chromedp/cdproto/target"
	"github.com/gorilla/websocket"
	"github.com/mailru/easyjson"
	"github.com/sirupsen/logrus"
)

var errConnClosed = errors.New("cdp connection closed")

type ctxKey int

const ctxKeySessionID ctxKey = iota

// withSessionID routes commands sent with ctx to the attached target.
func withSessionID(ctx context.Context, sessionID target.SessionID) context.Context {
	return context.WithValue(ctx, ctxKeySessionID, sessionID)
}

func sessionID(ctx context.Context) target.SessionID {
	sid, _ := ctx.Value(ctxKeySessionID).(target.SessionID)
	return sid
}

// EventHandler receives the events of one target session on the reader goroutine.
type EventHandler func(method cdproto.MethodType, ev any)

// Conn is a DevTools protocol connection. Commands block until the
// matching response arrives; events are routed by session id.
type Conn struct {
	ws    *websocket.Conn
	log   *logrus.Entry
	msgID int64

	writeMu sync.Mutex

	mu       sync.Mutex
	pending  map[int64]chan *cdproto.Message
	handlers map[target.SessionID]EventHandler

	done    chan struct{}
	closeMu sync.Once
	err     error
}

// Dial connects to a browser's DevTools websocket.
func Dial(ctx context.Context, wsURL string, log *logrus.Entry) (*Conn, error) {
	dialer := &websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
		ReadBufferSize:   1 << 20,
		WriteBufferSize:  1 << 20,
		Proxy:            http.ProxyFromEnvironment,
	}
	ws, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", wsURL, err)
	}
	ws.SetReadLimit(64 << 20)

	c := &Conn{
		ws:       ws,
		log:      log,
		pending:  make(map[int64]chan *cdproto.Message),
		handlers: make(map[target.SessionID]EventHandler),
		done:     make(chan struct{}),
	}
	go c.readLoop()
	log.WithField("url", wsURL).Debug("cdp connection established")
	return c, nil
}

// Execute implements cdp.Executor.
func (c *Conn) Execute(ctx context.Context, method string, params easyjson.Marshaler, res easyjson.Unmarshaler) error {
	id := atomic.AddInt64(&c.msgID, 1)
	msg := &cdproto.Message{
		ID:        id,
		SessionID: sessionID(ctx),
		Method:    cdproto.MethodType(method),
	}
	if params != nil {
		buf, err := easyjson.Marshal(params)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", method, err)
		}
		msg.Params = buf
	}

	ch := make(chan *cdproto.Message, 1)
	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.write(msg); err != nil {
		return err
	}

	select {
	case reply := <-ch:
		if reply.Error != nil {
			return fmt.Errorf("%s: %w", method, reply.Error)
		}
		if res != nil && len(reply.Result) > 0 {
			return easyjson.Unmarshal(reply.Result, res)
		}
		return nil
	case <-c.done:
		return c.closeErr()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Conn) write(msg *cdproto.Message) error {
	buf, err := easyjson.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	select {
	case <-c.done:
		return c.closeErr()
	default:
	}
	if err := c.ws.WriteMessage(websocket.TextMessage, buf); err != nil {
		return fmt.Errorf("write %s: %w", msg.Method, err)
	}
	return nil
}

func (c *Conn) readLoop() {
	for {
		_, buf, err := c.ws.ReadMessage()
		if err != nil {
			c.shutdown(err)
			return
		}

		msg := new(cdproto.Message)
		if err := easyjson.Unmarshal(buf, msg); err != nil {
			c.log.WithError(err).Warn("dropping malformed cdp message")
			continue
		}

		switch {
		case msg.ID > 0:
			c.mu.Lock()
			ch, ok := c.pending[msg.ID]
			c.mu.Unlock()
			if ok {
				ch <- msg
			}
		case msg.Method != "":
			c.dispatch(msg)
		}
	}
}

func (c *Conn) dispatch(msg *cdproto.Message) {
	c.mu.Lock()
	handler := c.handlers[msg.SessionID]
	c.mu.Unlock()
	if handler == nil {
		return
	}

	ev, err := cdproto.UnmarshalMessage(msg)
	if err != nil {
		// the pinned protocol does not know every event the browser sends
		c.log.WithError(err).WithField("method", msg.Method).Trace("skipping cdp event")
		return
	}
	handler(msg.Method, ev)
}

// Subscribe routes the events of session to h, replacing any earlier handler.
func (c *Conn) Subscribe(session target.SessionID, h EventHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[session] = h
}

func (c *Conn) Unsubscribe(session target.SessionID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.handlers, session)
}

// Done is closed when the connection is gone.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

func (c *Conn) shutdown(err error) {
	c.closeMu.Do(func() {
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()
		close(c.done)
		_ = c.ws.Close()
	})
}

func (c *Conn) closeErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err == nil || errors.Is(c.err, errConnClosed) {
		return errConnClosed
	}
	return fmt.Errorf("%w: %v", errConnClosed, c.err)
}

// Close sends a close frame and tears the connection down.
func (c *Conn) Close() error {
	c.writeMu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.writeMu.Unlock()
	c.shutdown(errConnClosed)
	return nil
}
