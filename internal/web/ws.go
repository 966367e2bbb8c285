package web

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"replybot/internal/broadcast"
	logx "replybot/pkg/logx"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// the dashboard is served from the same process; any origin may watch
	CheckOrigin: func(*http.Request) bool { return true },
}

// wsSink writes broadcast payloads to one websocket connection.
type wsSink struct {
	conn    *websocket.Conn
	timeout time.Duration

	// gorilla connections allow one concurrent writer
	mu sync.Mutex
}

func (s *wsSink) Send(ctx context.Context, payload []byte) error {
	return s.write(ctx, websocket.TextMessage, payload)
}

func (s *wsSink) write(ctx context.Context, kind int, payload []byte) error {
	deadline := time.Now().Add(s.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(deadline)
	if err := s.conn.WriteMessage(kind, payload); err != nil {
		return fmt.Errorf("%w: %w", broadcast.ErrSinkClosed, err)
	}
	return nil
}

// handleUpdates registers the connection as a subscriber for as long as the
// client keeps it open.
func (s *Server) handleUpdates(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("websocket upgrade failed", logx.Err(err))
		return
	}
	sink := &wsSink{conn: conn, timeout: s.opt.WriteTimeout}
	id := s.registry.Register(sink)
	log := s.log.With(logx.Uint64("subscriber", id), logx.String("remote", r.RemoteAddr))
	log.Debug("dashboard connected")

	done := make(chan struct{})
	defer func() {
		close(done)
		s.registry.Unregister(id)
		_ = conn.Close()
		log.Debug("dashboard disconnected")
	}()

	go s.pingLoop(r.Context(), sink, done)

	readWait := 2 * s.opt.PingInterval
	_ = conn.SetReadDeadline(time.Now().Add(readWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readWait))
	})
	// client frames carry nothing we use; reading drives pong and close handling
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// pingLoop also closes the connection when the server shuts down, which ends
// the handler's read loop.
func (s *Server) pingLoop(ctx context.Context, sink *wsSink, done <-chan struct{}) {
	t := time.NewTicker(s.opt.PingInterval)
	defer t.Stop()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			_ = sink.conn.Close()
			return
		case <-t.C:
			if err := sink.write(context.Background(), websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
