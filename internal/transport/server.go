// Package transport hosts the only component that touches the wire (spec
// §2): a gorilla/websocket upgrade handler and per-connection read/write
// pumps that hand every frame to the session.Manager and relay its
// outbound queue back onto the socket. Grounded on
// mobile-coding-connector's server/terminal/terminal.go WebSocket pump,
// generalized from one hard-coded PTY session per socket to the typed
// message taxonomy of spec §4.3.
package transport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gfbonny/freshell/internal/session"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// Server upgrades incoming HTTP connections to WebSocket and drives each
// one through a session.Manager.
type Server struct {
	manager *session.Manager
	logger  *slog.Logger

	upgrader websocket.Upgrader
}

// New creates a Server. logger may be nil.
func New(manager *session.Manager, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		manager: manager,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// ServeHTTP upgrades the request and runs the connection until it closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	s.serve(conn, r.UserAgent())
}

func (s *Server) serve(wsConn *websocket.Conn, userAgent string) {
	defer wsConn.Close()

	sess, timer := s.manager.Connect()
	defer timer.Stop()

	// Seed a default before hello arrives; hello.client.mobile overrides
	// this if the client sends it explicitly (spec §4.3 step 5).
	sess.SetMobile(session.ClassifyMobile(userAgent))
	defer s.manager.Disconnect(sess)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	wsConn.SetReadDeadline(time.Now().Add(pongWait))
	wsConn.SetPongHandler(func(string) error {
		wsConn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	readErrCh := make(chan error, 1)
	go s.readPump(ctx, wsConn, sess, readErrCh)

	s.writePump(ctx, wsConn, sess, timer, readErrCh)
}

// readPump feeds every inbound frame to the Manager. It does not stop the
// hello timer; when that timer fires, writePump asks the Manager via
// HelloTimedOut, which keeps an authenticated connection open.
func (s *Server) readPump(ctx context.Context, wsConn *websocket.Conn, sess *session.Connection, errCh chan<- error) {
	for {
		_, raw, err := wsConn.ReadMessage()
		if err != nil {
			errCh <- err
			return
		}
		outcome := s.manager.HandleMessage(ctx, sess, raw)
		if outcome.Close {
			wsConn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(outcome.CloseCode, outcome.Reason),
				time.Now().Add(writeWait))
			errCh <- errClosedByManager
			return
		}
	}
}

type sentinelError string

func (e sentinelError) Error() string { return string(e) }

const errClosedByManager = sentinelError("closed by session manager")

// writePump drains sess.Send onto the socket, answers the hello timer,
// and keeps the connection alive with periodic pings, until the read
// pump reports the socket closed.
func (s *Server) writePump(ctx context.Context, wsConn *websocket.Conn, sess *session.Connection, helloTimer *time.Timer, readErrCh <-chan error) {
	pingTicker := time.NewTicker(pingPeriod)
	defer pingTicker.Stop()

	for {
		select {
		case <-helloTimer.C:
			outcome := s.manager.HelloTimedOut(sess)
			if outcome.Close {
				wsConn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(outcome.CloseCode, outcome.Reason),
					time.Now().Add(writeWait))
				return
			}
		case payload, ok := <-sess.Send:
			if !ok {
				return
			}
			wsConn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := wsConn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-pingTicker.C:
			wsConn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := wsConn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case err := <-readErrCh:
			if err != nil && err != errClosedByManager {
				s.logger.Debug("websocket read ended", "error", err)
			}
			return
		case <-ctx.Done():
			return
		}
	}
}
