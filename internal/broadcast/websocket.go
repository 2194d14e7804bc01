package broadcast

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/triveda-health/platform/internal/shared/metrics"
	"github.com/triveda-health/platform/internal/shared/types"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 50 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Browser clients connect from the clinic frontend origin; origin
	// policy is enforced at the gateway
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeSubscriber upgrades the request to a websocket and bridges a
// fabric subscription onto it. The socket receives a connect
// acknowledgement, any replayed events, and then live traffic until
// either side disconnects.
func (f *Fabric) ServeSubscriber(w http.ResponseWriter, r *http.Request, diagnosisID types.ID) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade failed: %v", err)
		return
	}

	sub := f.Subscribe(diagnosisID)

	connect, err := NewEvent(KindConnect, diagnosisID, map[string]string{"subscription_id": sub.ID.String()})
	if err == nil {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(connect); err != nil {
			sub.Close()
			conn.Close()
			return
		}
	}

	go f.readPump(conn, sub)
	f.writePump(conn, sub)
}

// readPump drains client frames. Clients only send pings; anything
// unreadable tears the connection down.
func (f *Fabric) readPump(conn *websocket.Conn, sub *Subscription) {
	defer func() {
		sub.Close()
		conn.Close()
	}()

	conn.SetReadLimit(1024)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg struct {
			Type string `json:"type"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))
		if msg.Type == "ping" {
			pong, err := NewEvent(KindPong, sub.DiagnosisID, nil)
			if err != nil {
				continue
			}
			f.deliverDirect(sub, pong)
		}
	}
}

// deliverDirect queues a control event for one subscriber outside the
// topic publish path. Control events never displace queued updates; a
// subscriber that cannot accept one within the send timeout is
// disconnected.
func (f *Fabric) deliverDirect(sub *Subscription, event Event) {
	t := f.topic(sub.DiagnosisID)

	sub.sendMu.Lock()
	if sub.closed {
		sub.sendMu.Unlock()
		return
	}
	ok := f.timedSend(sub, event)
	sub.sendMu.Unlock()
	if !ok {
		metrics.RecordBroadcastDrop("slow_subscriber")
		f.detach(t, sub)
	}
}

// writePump forwards fabric events to the socket and keeps the
// connection alive with protocol pings
func (f *Fabric) writePump(conn *websocket.Conn, sub *Subscription) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		sub.Close()
		conn.Close()
	}()

	for {
		select {
		case event, ok := <-sub.Events():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(event); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
