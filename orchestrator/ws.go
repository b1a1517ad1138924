package main

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gemini-goats/goats-go/internal/bus"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 54 * time.Second
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func (api *orchestratorAPI) handleWSUpdates(w http.ResponseWriter, r *http.Request) {
	api.serveWS(w, r, bus.GroupUpdates)
}

func (api *orchestratorAPI) handleWSDragons(w http.ResponseWriter, r *http.Request) {
	api.serveWS(w, r, bus.GroupDragons)
}

// serveWS attaches one WebSocket client to a bus group and streams messages
// until either side closes.
func (api *orchestratorAPI) serveWS(w http.ResponseWriter, r *http.Request, group string) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		api.logger.Warn("websocket upgrade", "group", group, "error", err.Error())
		return
	}
	defer conn.Close()

	sub := api.hub.Subscribe(group)
	defer api.hub.Unsubscribe(sub)

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case raw, ok := <-sub.C():
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
