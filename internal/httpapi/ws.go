package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"marketlens/internal/seriescache"
)

const (
	wsBuffer     = 64
	wsPingPeriod = 30 * time.Second
	wsReadWait   = 75 * time.Second
	wsWriteWait  = 10 * time.Second
)

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleWS streams cache events to a WebSocket client. With ?item=<id> only
// that record's events are sent. The client never needs to write; incoming
// messages are read and discarded to process control frames.
func (s *DashboardServer) handleWS(w http.ResponseWriter, r *http.Request) {
	item := -1
	if v := r.URL.Query().Get("item"); v != "" {
		id, err := strconv.Atoi(v)
		if err != nil || id < 0 {
			writeError(w, http.StatusBadRequest, "invalid item")
			return
		}
		item = id
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	var (
		sub  int
		feed <-chan seriescache.Event
	)
	if item >= 0 {
		sub, feed = s.cache.SubscribeToItem(item, wsBuffer)
	} else {
		sub, feed = s.cache.Subscribe(wsBuffer)
	}
	defer s.cache.Unsubscribe(sub)

	log := s.log.With("remote", r.RemoteAddr, "item", item)
	log.Info("websocket client connected")
	defer log.Info("websocket client disconnected")

	// Reader: keeps deadlines fresh and notices the peer closing.
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(4096)
		_ = conn.SetReadDeadline(time.Now().Add(wsReadWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsReadWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	hello := WSMessage{Type: "hello"}
	if item >= 0 {
		hello.Item = item
	}
	if err := s.writeWS(conn, hello); err != nil {
		return
	}

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()
	for {
		select {
		case ev, ok := <-feed:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
					time.Now().Add(wsWriteWait))
				return
			}
			if err := s.writeWS(conn, WSMessage{Type: "series", Event: &ev}); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func (s *DashboardServer) writeWS(conn *websocket.Conn, msg WSMessage) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteJSON(msg)
}
