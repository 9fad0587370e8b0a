package transport

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/parlorchat/parlor/internal/config"
	"github.com/parlorchat/parlor/internal/protocol"
)

// WSConn frames envelopes over a WebSocket connection, one per text
// message.
type WSConn struct {
	ws *websocket.Conn

	writeMu sync.Mutex

	readTimeout  time.Duration
	writeTimeout time.Duration
}

// NewWSConn wraps an upgraded WebSocket connection for envelope exchange.
func NewWSConn(ws *websocket.Conn, readTimeout, writeTimeout time.Duration) *WSConn {
	return &WSConn{ws: ws, readTimeout: readTimeout, writeTimeout: writeTimeout}
}

// Receive reads the next text frame and decodes it as an envelope.
func (c *WSConn) Receive() (protocol.Envelope, error) {
	if c.readTimeout > 0 {
		_ = c.ws.SetReadDeadline(time.Now().Add(c.readTimeout))
	}
	msgType, data, err := c.ws.ReadMessage()
	if err != nil {
		return protocol.Envelope{}, err
	}
	if msgType != websocket.TextMessage {
		return protocol.Envelope{}, &protocol.ProtocolError{Reason: "non-text frame"}
	}
	return protocol.Unmarshal(data)
}

// Send writes one envelope as a text frame. Safe for concurrent use.
func (c *WSConn) Send(env protocol.Envelope) error {
	data, err := protocol.Marshal(env)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writeTimeout > 0 {
		_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// Close closes the underlying WebSocket connection.
func (c *WSConn) Close() error {
	return c.ws.Close()
}

// RemoteAddr returns the remote network address of the client.
func (c *WSConn) RemoteAddr() net.Addr {
	return c.ws.RemoteAddr()
}

// WSAcceptor serves WebSocket upgrades on an HTTP endpoint and hands
// each upgraded connection to the same SessionHandler the TCP acceptor
// uses.
type WSAcceptor struct {
	cfg     config.WebSocketConfig
	handler SessionHandler
	logger  *zap.Logger

	server   *http.Server
	upgrader websocket.Upgrader
	wg       sync.WaitGroup
	mu       sync.Mutex
	running  bool
}

// NewWSAcceptor creates a WebSocket acceptor with the given configuration.
//
// Precondition: handler and logger must be non-nil.
func NewWSAcceptor(cfg config.WebSocketConfig, handler SessionHandler, logger *zap.Logger) *WSAcceptor {
	return &WSAcceptor{
		cfg:     cfg,
		handler: handler,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Clients are not browsers; no origin restriction.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// ListenAndServe serves the upgrade endpoint until Stop is called.
//
// Postcondition: Returns nil after a clean Stop.
func (a *WSAcceptor) ListenAndServe() error {
	mux := http.NewServeMux()
	mux.HandleFunc(a.cfg.Path, a.upgrade)

	a.mu.Lock()
	a.server = &http.Server{Addr: a.cfg.Addr(), Handler: mux}
	a.running = true
	a.mu.Unlock()

	a.logger.Info("websocket acceptor listening",
		zap.String("addr", a.cfg.Addr()),
		zap.String("path", a.cfg.Path),
	)

	err := a.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// upgrade handles a single WebSocket upgrade request.
func (a *WSAcceptor) upgrade(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "websocket endpoint only accepts GET", http.StatusMethodNotAllowed)
		return
	}

	ws, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.logger.Error("websocket upgrade failed",
			zap.String("remote_addr", r.RemoteAddr),
			zap.Error(err),
		)
		return
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		start := time.Now()
		addr := ws.RemoteAddr().String()

		a.logger.Info("websocket client connected",
			zap.String("remote_addr", addr),
		)

		conn := NewWSConn(ws, a.cfg.ReadTimeout, a.cfg.WriteTimeout)
		defer conn.Close()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		if err := a.handler.HandleSession(ctx, conn); err != nil {
			a.logger.Debug("websocket session ended",
				zap.String("remote_addr", addr),
				zap.Error(err),
				zap.Duration("duration", time.Since(start)),
			)
		}
	}()
}

// Stop shuts the HTTP server down and waits for active sessions.
func (a *WSAcceptor) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.running {
		return
	}
	a.running = false

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = a.server.Shutdown(ctx)
	a.wg.Wait()

	a.logger.Info("websocket acceptor stopped")
}
