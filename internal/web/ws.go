package web

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"gnss-bridge/internal/bus"
	"gnss-bridge/internal/logging"
)

const (
	wsWriteWait  = 5 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 45 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true // the UI may be served from another origin
	},
}

type wsCommand struct {
	Action string `json:"action"` // start, stop
}

type wsControlResult struct {
	Action string `json:"action"`
	Code   int    `json:"code"`
	OK     bool   `json:"ok"`
}

// liveHandler streams Broadcaster events as JSON text frames and accepts
// start/stop commands from the client.
func liveHandler(feed *Broadcaster, b *bus.Bus, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Debug("websocket upgrade failed", logging.Err(err))
			return
		}
		defer conn.Close()

		id, events := feed.Subscribe(64)
		defer feed.Unsubscribe(id)

		// Replies to commands go through the writer goroutine below; a
		// websocket.Conn allows one concurrent writer.
		replies := make(chan wsControlResult, 4)
		done := make(chan struct{})
		go func() {
			defer close(done)
			_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
			conn.SetPongHandler(func(string) error {
				return conn.SetReadDeadline(time.Now().Add(wsPongWait))
			})
			for {
				var cmd wsCommand
				if err := conn.ReadJSON(&cmd); err != nil {
					return
				}
				code, ok := control(b, cmd.Action)
				if !ok {
					continue
				}
				select {
				case replies <- wsControlResult{Action: cmd.Action, Code: code, OK: code == 0}:
				default:
				}
			}
		}()

		ping := time.NewTicker(wsPingPeriod)
		defer ping.Stop()
		for {
			select {
			case <-done:
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				if err := writeWS(conn, ev); err != nil {
					return
				}
			case res := <-replies:
				if err := writeWS(conn, Event{Type: "control", TimeUTC: time.Now().UTC().Format(time.RFC3339Nano), Data: res}); err != nil {
					return
				}
			case <-ping.C:
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}
}

func writeWS(conn *websocket.Conn, v any) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteJSON(v)
}

// control publishes a start or stop request and returns the status code.
func control(b *bus.Bus, action string) (int, bool) {
	switch action {
	case "start":
		return b.GPS.Start.Publish(bus.Empty{}), true
	case "stop":
		return b.GPS.Stop.Publish(bus.Empty{}), true
	default:
		return 0, false
	}
}
