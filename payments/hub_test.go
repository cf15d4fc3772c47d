package payments

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront/auth"
	"storefront/gateway"
	"storefront/models"
	"storefront/mq"
)

func TestHubRegisterBroadcastUnregister(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	defer hub.Stop()

	w, ok := hub.watch("TXN1")
	require.True(t, ok)
	other, ok := hub.watch("TXN2")
	require.True(t, ok)

	hub.Broadcast(Event{TransactionID: "TXN1", Status: models.TxnCompleted})

	select {
	case got := <-w.Send:
		assert.Equal(t, models.TxnCompleted, got.Status)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
	select {
	case got := <-other.Send:
		t.Fatalf("unexpected event for other room: %+v", got)
	default:
	}

	hub.forget(w)
	_, open := <-w.Send
	assert.False(t, open)
}

func TestHubHandlerAndRelay(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	defer hub.Stop()

	w, ok := hub.watch("TXN1")
	require.True(t, ok)

	payload, err := json.Marshal(Event{TransactionID: "TXN1", Status: models.TxnFailed})
	require.NoError(t, err)
	require.NoError(t, hub.Handler()(context.Background(), payload))
	assert.Equal(t, models.TxnFailed, (<-w.Send).Status)

	pub := &recordingPublisher{}
	relay := hub.Relay(pub)
	require.NoError(t, relay.Publish(context.Background(), mq.PaymentEventsChannel, Event{TransactionID: "TXN1", Status: models.TxnCompleted}))
	assert.Equal(t, models.TxnCompleted, (<-w.Send).Status)
	assert.Len(t, pub.events, 1)

	assert.Error(t, hub.Handler()(context.Background(), []byte("not json")))
}

func TestStatusStreamPushesTransition(t *testing.T) {
	f := newFixture(t)
	hub := NewHub()
	go hub.Run()
	defer hub.Stop()
	f.rec.Manager.events = hub.Relay(f.events)

	f.order(t, "o1", 500)
	start := f.initiate(t, "o1")
	f.gw.status = gateway.Result{State: models.TxnPending, Code: "created"}

	h := NewHandlers(f.rec, hub)
	router := httprouter.New()
	router.GET("/api/payments/status/:txnId/ws", func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		h.StatusStream(w, r.WithContext(auth.WithIdentity(r.Context(), buyer)), ps)
	})
	srv := httptest.NewServer(router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/payments/status/" + start.TransactionID + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	var first models.Payment
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, models.TxnPending, first.Status)

	_, err = f.rec.Manager.ApplyGatewayResult(context.Background(), start.TransactionID, captured(500))
	require.NoError(t, err)

	var ev Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, start.TransactionID, ev.TransactionID)
	assert.Equal(t, models.TxnCompleted, ev.Status)

	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure))
}

func TestStatusStreamRejectsOtherUsers(t *testing.T) {
	f := newFixture(t)
	hub := NewHub()
	go hub.Run()
	defer hub.Stop()
	f.order(t, "o1", 500)
	start := f.initiate(t, "o1")

	h := NewHandlers(f.rec, hub)
	req := httptest.NewRequest(http.MethodGet, "/api/payments/status/"+start.TransactionID+"/ws", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), other))
	rr := httptest.NewRecorder()
	h.StatusStream(rr, req, httprouter.Params{{Key: "txnId", Value: start.TransactionID}})
	assert.Equal(t, http.StatusForbidden, rr.Code)
}
