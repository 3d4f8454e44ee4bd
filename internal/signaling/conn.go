package signaling

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"call-relay/internal/config"
	"call-relay/internal/signal"
	"call-relay/pkg/logger"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// Conn is a websocket signaling connection. Outbound envelopes are queued and
// written by a single writer goroutine, so Send never waits on the network.
type Conn struct {
	ws       *websocket.Conn
	handle   signal.Handle
	identity string
	name     string

	cfg     config.SignalConfig
	limiter *rate.Limiter
	log     *slog.Logger

	send chan signal.Envelope
	done chan struct{}

	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
}

func NewConn(ws *websocket.Conn, identity, name string, cfg config.SignalConfig, log *slog.Logger) *Conn {
	h := signal.NewHandle()
	if log == nil {
		log = slog.Default()
	}
	return &Conn{
		ws:       ws,
		handle:   h,
		identity: identity,
		name:     name,
		cfg:      cfg,
		limiter:  rate.NewLimiter(rate.Limit(cfg.MessagesPerSecond), cfg.Burst),
		log:      log.With("handle", h, "identity", identity),
		send:     make(chan signal.Envelope, cfg.SendBuffer),
		done:     make(chan struct{}),
	}
}

func (c *Conn) Handle() signal.Handle { return c.handle }
func (c *Conn) Identity() string      { return c.identity }
func (c *Conn) Name() string          { return c.name }

// Send queues env. A peer that cannot keep up is disconnected rather than
// allowed to stall the relay.
func (c *Conn) Send(env signal.Envelope) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return signal.ErrEndpointClosed
	}
	select {
	case c.send <- env:
		return nil
	default:
		go c.Close()
		return ErrSendQueueFull
	}
}

// Close stops the connection. Safe to call more than once and from any
// goroutine.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.done)

		deadline := time.Now().Add(c.cfg.WriteTimeout)
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		err = c.ws.Close()
	})
	return err
}

// Serve registers the connection, pumps frames until the transport fails or
// the connection is closed, then runs teardown. It blocks for the life of
// the connection.
func (c *Conn) Serve(ctx context.Context, lc *Lifecycle, router *Router) {
	lc.serving.Add(1)
	defer lc.serving.Done()
	ctx = logger.With(ctx, c.log)

	go c.writePump()

	if err := lc.Connect(ctx, c); err != nil {
		c.log.Error("connect failed", "err", err)
		_ = c.Close()
		return
	}

	c.readPump(ctx, router)
	_ = c.Close()
	lc.Disconnect(context.WithoutCancel(ctx), c)
}

func (c *Conn) readPump(ctx context.Context, router *Router) {
	c.ws.SetReadLimit(c.cfg.MaxMessageBytes)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))
	})

	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Info("connection lost", "err", err)
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))

		if msgType != websocket.TextMessage {
			router.Drop(ctx, c, "", ErrMalformed)
			continue
		}
		if !c.limiter.Allow() {
			router.Drop(ctx, c, "", ErrRateLimited)
			continue
		}
		_ = router.DispatchRaw(ctx, c, data)
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case env := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err := c.ws.WriteJSON(env); err != nil {
				c.log.Debug("write failed", "err", err)
				_ = c.Close()
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.log.Debug("ping failed", "err", err)
				_ = c.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}
