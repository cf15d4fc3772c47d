package payments

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"

	"storefront/utils"
)

const (
	streamLifetime = 10 * time.Minute
	pingPeriod     = 30 * time.Second
	writeWait      = 5 * time.Second
)

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

// StatusStream handles GET /api/payments/status/:txnId/ws. It sends the
// current payment, then every event for it, and closes once the payment is
// terminal.
func (h *Handlers) StatusStream(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id, err := utils.RequireIdentity(r)
	if err != nil {
		utils.RespondWithError(w, err)
		return
	}
	txnID := ps.ByName("txnId")

	// Watch before loading so an event landing in between is not lost.
	sub, ok := h.hub.watch(txnID)
	if !ok {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	defer h.hub.forget(sub)

	ctx, cancel := context.WithTimeout(r.Context(), gatewayTimeout)
	p, err := h.rec.Status(ctx, id, txnID)
	cancel()
	if err != nil {
		utils.RespondWithError(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.rec.Logger.WarnContext(r.Context(), "status stream upgrade failed", "txn_id", txnID, "err", err)
		return
	}
	defer conn.Close()

	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(p); err != nil || p.Status.Terminal() {
		closeStream(conn)
		return
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	expire := time.NewTimer(streamLifetime)
	defer expire.Stop()

	for {
		select {
		case ev, ok := <-sub.Send:
			if !ok {
				closeStream(conn)
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
			if ev.Status.Terminal() {
				closeStream(conn)
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-expire.C:
			closeStream(conn)
			return
		case <-done:
			return
		}
	}
}

func closeStream(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}
