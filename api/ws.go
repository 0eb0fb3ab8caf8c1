package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"zfsman/db"
	"zfsman/envz"
	"zfsman/logger"
	"zfsman/stream"
	logws "zfsman/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, allowed := range envz.CorsOrigins {
			if allowed == origin || allowed == "*" {
				return true
			}
		}
		return false
	},
}

func setupWsAPI(r chi.Router) {
	r.Get("/ws/iostat/{pool}", iostatWS)
	r.Get("/ws/events", eventsWS)
	r.Get("/ws/send-progress", sendProgressWS)
	r.Get("/ws/logs", logsWS)
}

// iostatWS streams live samples for one pool. The read loop exists only to
// notice the client going away; samples flow from the registry subscription.
func iostatWS(w http.ResponseWriter, r *http.Request) {
	pool := chi.URLParam(r, "pool")

	sub, err := svc.Streams.Subscribe(pool)
	if err != nil {
		if errors.Is(err, stream.ErrPoolDestroying) {
			http.Error(w, "pool is being destroyed", http.StatusConflict)
			return
		}
		writeError(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		sub.Close()
		return
	}
	defer conn.Close()
	defer sub.Close()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case sample, ok := <-sub.C:
			if !ok {
				reason := "stream ended"
				if errors.Is(sub.Err(), stream.ErrKilled) {
					reason = "pool is being destroyed"
				}
				deadline := time.Now().Add(time.Second)
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, reason), deadline)
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteJSON(sample); err != nil {
				return
			}
		case <-closed:
			return
		}
	}
}

func eventsWS(w http.ResponseWriter, r *http.Request) {
	sub, err := svc.Events.Subscribe()
	if err != nil {
		writeError(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		sub.Close()
		return
	}
	defer conn.Close()
	defer sub.Close()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case line, ok := <-sub.C:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, []byte(line)); err != nil {
				return
			}
		case <-closed:
			return
		}
	}
}

// sendProgressWS runs one send/receive pipeline per connection. The client
// sends the transfer parameters as its first message and receives progress
// updates until a final complete or error status; dropping the connection
// kills the transfer.
func sendProgressWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	var req stream.SendRequest
	_ = conn.SetReadDeadline(time.Now().Add(30 * time.Second))
	if err := conn.ReadJSON(&req); err != nil {
		_ = conn.WriteJSON(stream.SendProgress{Status: "error", Error: "invalid send request"})
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	updates, err := svc.Sender.Run(ctx, req)
	if err != nil {
		_ = conn.WriteJSON(stream.SendProgress{Status: "error", Error: err.Error()})
		return
	}
	// The pipeline keeps running until its channel is drained or ctx is
	// cancelled; make sure both happen on every exit path.
	defer func() {
		cancel()
		for range updates {
		}
	}()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	user := usernameFromContext(r)
	for {
		select {
		case p, ok := <-updates:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteJSON(p); err != nil {
				return
			}
			switch p.Status {
			case "complete":
				_ = db.AuditLogDetail(user, "replication.transfer", req.Snapshot,
					fmt.Sprintf("dest=%s, bytes=%d", req.Destination, p.Bytes), true)
			case "error":
				_ = db.AuditLogDetail(user, "replication.transfer", req.Snapshot, p.Error, false)
			}
		case <-closed:
			return
		}
	}
}

// logsWS attaches the client to the log broadcast broker; pushes come from
// the logger callback wired up in main.
func logsWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("log ws upgrade failed", "err", err.Error())
		return
	}
	logws.RegisterConnection(conn)
	logger.Debug("log subscriber connected", "total", fmt.Sprintf("%d", logws.ConnectionCount()))
}
