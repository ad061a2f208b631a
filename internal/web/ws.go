package web

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/you/met-sale/internal/metrics"
	"go.uber.org/zap"
)

const (
	wsWriteWait  = 5 * time.Second
	wsPingPeriod = 30 * time.Second
)

// handleWS pushes the current snapshot, then every new one, until the
// client goes away.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("ws upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	metrics.WSClients.Inc()
	defer metrics.WSClients.Dec()

	updates, cancel := s.src.Subscribe()
	defer cancel()

	// читаем только ради close/pong
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := s.writeWS(conn, s.src.Snapshot()); err != nil {
		return
	}

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-gone:
			return
		case <-r.Context().Done():
			return
		case snap := <-updates:
			if err := s.writeWS(conn, snap); err != nil {
				s.log.Debug("ws write failed", zap.Error(err))
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}

func (s *Server) writeWS(conn *websocket.Conn, v any) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteJSON(v)
}
