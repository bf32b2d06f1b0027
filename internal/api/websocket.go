package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nugget/whim-agent/internal/agent"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
	wsQueueSize  = 8
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleWebSocket serves runs over one connection. Each text message is
// a RunRequest; its events are written back as JSON messages, ending
// with a response or error event. Runs on a connection are sequential.
//
// The connection has one reader goroutine for its whole lifetime, so
// pongs keep renewing the read deadline while a run is streaming, and
// one writer goroutine shared by events and pings.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	conn.SetReadLimit(maxBodyBytes)
	conn.SetReadDeadline(time.Now().Add(s.pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.pongWait))
	})

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	writes := make(chan any)
	stop := make(chan struct{})
	writerDone := make(chan struct{})
	go s.wsWriter(conn, writes, stop, writerDone)

	send := func(v any) bool {
		select {
		case writes <- v:
			return true
		case <-writerDone:
			return false
		}
	}

	incoming := make(chan []byte, wsQueueSize)
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		defer cancel()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					s.logger.Debug("websocket closed", "error", err)
				}
				return
			}
			select {
			case incoming <- data:
			default:
				send(agent.Event{Type: agent.EventError, Content: "too many queued requests"})
			}
		}
	}()

	// Every event handed to the writer is on the wire before the
	// connection closes.
	defer func() {
		close(stop)
		<-writerDone
		conn.Close()
		<-readerDone
	}()

	for {
		var data []byte
		select {
		case data = <-incoming:
		case <-readerDone:
			return
		case <-writerDone:
			return
		}

		var req RunRequest
		if err := json.Unmarshal(data, &req); err != nil {
			send(agent.Event{Type: agent.EventError, Content: "invalid request: " + err.Error()})
			continue
		}
		cfg, in, err := s.prepare(req)
		if err != nil {
			send(agent.Event{Type: agent.EventError, Content: err.Error()})
			continue
		}

		for ev := range s.runner.Stream(ctx, cfg, in) {
			if !send(ev) {
				cancel()
			}
		}
	}
}

// wsWriter owns every write on conn. It returns after a failed write or
// when stop closes, sending a close frame in the latter case.
func (s *Server) wsWriter(conn *websocket.Conn, writes <-chan any, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case v := <-writes:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(v); err != nil {
				s.logger.Debug("websocket write failed", "error", err)
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				s.logger.Debug("websocket ping failed", "error", err)
				return
			}
		case <-stop:
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteWait))
			return
		}
	}
}
