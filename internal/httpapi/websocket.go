package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// positionUpdate is the wire shape of a broadcast.NewTrade pushed to a
// websocket client. Lag is non-zero when the client's ring-buffer
// subscriber fell behind far enough to have messages overwritten under it:
// it is the number of updates the client never received, so a running
// total accumulated locally from earlier updates is incomplete.
type positionUpdate struct {
	Trader            string  `json:"trader_id"`
	Symbol            string  `json:"symbol"`
	SignedQuantity    string  `json:"signed_quantity"`
	AverageEntryPrice string  `json:"average_entry_price"`
	Timestamp         int64   `json:"timestamp"`
	Lag               uint64  `json:"lag,omitempty"`
}

// handlePositionsWebSocket upgrades the connection and streams every
// broadcast.Bus message to the client until either side closes. Unlike the
// teacher's pkg/api.Hub, there is no per-client subscription filter here:
// the bus already carries only position-update events, and every
// subscriber gets its own Subscriber cursor so one slow client cannot
// starve another (see internal/broadcast).
func (s *Server) handlePositionsWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warnw("websocket_upgrade_failed", "err", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go discardClientReads(conn, cancel)

	sub := s.bus.Subscribe()
	ticker := time.NewTicker(54 * time.Second)
	defer ticker.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
					cancel()
					return
				}
			}
		}
	}()

	for {
		msg, lag, ok := sub.Recv(ctx)
		if !ok {
			return
		}
		update := positionUpdate{
			Trader:            msg.Trader,
			Symbol:            string(msg.Symbol),
			SignedQuantity:    msg.SignedQuantity.String(),
			AverageEntryPrice: msg.AverageEntryPrice.String(),
			Timestamp:         msg.Timestamp.UnixMilli(),
			Lag:               lag,
		}
		body, err := json.Marshal(update)
		if err != nil {
			s.log.Errorw("websocket_marshal_failed", "err", err)
			continue
		}
		conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, body); err != nil {
			return
		}
	}
}

// discardClientReads drains and discards inbound frames so the connection's
// read deadline and close/ping control frames are still processed; this
// surface has no client-to-server protocol to speak of (no subscribe op,
// unlike the teacher's Hub), so any inbound text is simply ignored.
func discardClientReads(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
