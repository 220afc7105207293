package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/sells-group/gridmap/internal/metrics"
	"github.com/sells-group/gridmap/internal/overlay"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// serveWS opens a session for the connection. Client messages are events;
// the session's output is streamed back, starting with a frame.
func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	metrics.WSClientConnected()
	defer metrics.WSClientDisconnected()

	sess := s.hub.Open()
	log := s.log.With(zap.String("session", sess.ID()))
	msgs, unsub := sess.Broadcaster().Subscribe(256)

	readyCtx, cancel := context.WithTimeout(r.Context(), s.readyTimeout)
	if _, err := sess.Ready().Wait(readyCtx); err != nil {
		log.Warn("membership not ready for client", zap.Error(err))
	}
	cancel()
	f := sess.Frame()
	hello := overlay.Message{Type: overlay.MsgFrame, Session: sess.ID(), Frame: &f}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		writePump(conn, hello, msgs, log)
	}()

	readPump(r.Context(), conn, func(ctx context.Context, ev overlay.Event) {
		// Failures are published to the client by the session.
		_ = s.hub.Submit(ctx, sess.ID(), ev)
	}, log)

	unsub()
	<-writerDone
	s.hub.Close(sess.ID())
	log.Debug("websocket client left")
}

func readPump(ctx context.Context, conn *websocket.Conn, handle func(context.Context, overlay.Event), log *zap.Logger) {
	conn.SetReadLimit(maxMessageSize)
	if err := conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var ev overlay.Event
		if err := conn.ReadJSON(&ev); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug("websocket read failed", zap.Error(err))
			}
			return
		}
		handle(ctx, ev)
	}
}

func writePump(conn *websocket.Conn, hello overlay.Message, msgs <-chan overlay.Message, log *zap.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	write := func(m overlay.Message) bool {
		if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
			return false
		}
		if err := conn.WriteJSON(m); err != nil {
			log.Debug("websocket write failed", zap.Error(err))
			return false
		}
		return true
	}

	if !write(hello) {
		return
	}
	for {
		select {
		case m, ok := <-msgs:
			if !ok {
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if !write(m) {
				return
			}
		case <-ticker.C:
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
