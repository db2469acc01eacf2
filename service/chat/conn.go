package chat

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"ChatHub/tools/errs"
)

// close codes，数值与 RFC 6455 / gorilla 保持一致
const (
	CloseNormal          = websocket.CloseNormalClosure
	CloseGoingAway       = websocket.CloseGoingAway
	ClosePolicyViolation = websocket.ClosePolicyViolation
	CloseSuperseded      = 4000 // 同一用户在同一房间建立了新连接
)

// Conn is one live client connection.
//
// Send must not block: it either queues the payload for the connection's own
// writer or fails with ErrSendQueueFull / ErrConnClosed. Payloads queued on one
// Conn are written in the order Send accepted them. Close is idempotent.
type Conn interface {
	ID() string
	Read() ([]byte, error)
	Send(payload []byte) error
	Close(code int, reason string) error
}

type ConnOptions struct {
	SendQueue     int
	WriteWait     time.Duration
	PingInterval  time.Duration // <=0 关闭心跳
	MaxFrameBytes int64
}

// wsConn 每个连接一个写协程，读由 Session 所在协程负责
type wsConn struct {
	id   string
	ws   *websocket.Conn
	opts ConnOptions
	log  *zap.Logger

	send   chan []byte
	done   chan struct{} // Close 请求
	exited chan struct{} // 写协程已退出

	// mu 让 Send 的入队与关闭互斥：done 关闭之后不会再有帧入队，
	// 写协程 drain 时能看到所有已被接受的帧
	mu          sync.RWMutex
	closed      bool
	closeCode   int
	closeReason string
}

func newWSConn(id string, ws *websocket.Conn, opts ConnOptions, log *zap.Logger) *wsConn {
	if opts.SendQueue <= 0 {
		opts.SendQueue = 256
	}
	if opts.WriteWait <= 0 {
		opts.WriteWait = 5 * time.Second
	}
	if opts.MaxFrameBytes > 0 {
		ws.SetReadLimit(opts.MaxFrameBytes)
	}
	c := &wsConn{
		id:     id,
		ws:     ws,
		opts:   opts,
		log:    log.With(zap.String("conn", id)),
		send:   make(chan []byte, opts.SendQueue),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	go c.writeLoop()
	return c
}

func (c *wsConn) ID() string { return c.id }

// Read blocks until the next data frame. No read deadline: idle clients stay connected.
func (c *wsConn) Read() ([]byte, error) {
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (c *wsConn) Send(payload []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errs.ErrConnClosed.Wrap()
	}
	select {
	case c.send <- payload:
		return nil
	default:
		return errs.ErrSendQueueFull.WrapMsg("", "conn", c.id, "cap", cap(c.send))
	}
}

// Close 只有第一次调用的 code/reason 生效；返回时写协程已退出
func (c *wsConn) Close(code int, reason string) error {
	c.markClosed(code, reason)
	<-c.exited
	return nil
}

func (c *wsConn) markClosed(code int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.closeCode = code
	c.closeReason = reason
	close(c.done)
}

func (c *wsConn) writeLoop() {
	defer close(c.exited)

	var ping <-chan time.Time
	if c.opts.PingInterval > 0 {
		t := time.NewTicker(c.opts.PingInterval)
		defer t.Stop()
		ping = t.C
	}

	for {
		select {
		case p := <-c.send:
			if err := c.write(websocket.TextMessage, p); err != nil {
				c.abort(err)
				return
			}
		case <-ping:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opts.WriteWait)); err != nil {
				c.abort(err)
				return
			}
		case <-c.done:
			c.drain()
			c.mu.RLock()
			msg := websocket.FormatCloseMessage(c.closeCode, c.closeReason)
			c.mu.RUnlock()
			_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.opts.WriteWait))
			_ = c.ws.Close()
			return
		}
	}
}

// drain 关闭前尽量把已入队的帧写出去
func (c *wsConn) drain() {
	for {
		select {
		case p := <-c.send:
			if err := c.write(websocket.TextMessage, p); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *wsConn) write(mt int, p []byte) error {
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
	return c.ws.WriteMessage(mt, p)
}

// abort 写失败：标记关闭并断开底层连接，让阻塞中的 Read 返回
func (c *wsConn) abort(err error) {
	c.log.Debug("write failed, dropping connection", zap.Error(err))
	c.markClosed(websocket.CloseAbnormalClosure, "")
	_ = c.ws.Close()
}
