package http

import (
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/samirrijal/cropcover/internal/core/domain"
	"github.com/samirrijal/cropcover/internal/pkg/metrics"
)

const (
	wsPingInterval = 30 * time.Second
	wsBuffer       = 64

	// wsEventResync is sent after the buffer overflowed and events were dropped.
	wsEventResync  = "resync"
	wsEventConnect = "snapshot"
)

// wsMessage is pushed to the client for every session change.
type wsMessage struct {
	Event   string          `json:"event"`
	Session domain.Snapshot `json:"session"`
}

// WebSocketUpgrade rejects plain HTTP requests and unknown sessions before upgrading.
func WebSocketUpgrade(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}
		if _, err := deps.Sessions.Session(c.Params("id")); err != nil {
			return serviceError(c, err)
		}
		return c.Next()
	}
}

// WebSocketHandler streams the session snapshot on connect and after every
// change event. Client messages are read only to detect disconnects.
func WebSocketHandler(deps *Dependencies) func(*websocket.Conn) {
	return func(c *websocket.Conn) {
		defer c.Close()

		id := c.Params("id")
		log := slog.With("session_id", id, "remote", c.RemoteAddr().String())

		metrics.ActiveWebSockets.Inc()
		defer metrics.ActiveWebSockets.Dec()

		var mu sync.Mutex
		writeJSON := func(v interface{}) error {
			data, err := json.Marshal(v)
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			return c.WriteMessage(websocket.TextMessage, data)
		}

		// The notifier calls back synchronously, so events are handed to the
		// writer through a buffer and never block the session.
		updates := make(chan domain.EventType, wsBuffer)
		var dropped atomic.Bool
		unsubscribe, err := deps.Sessions.Subscribe(id, func(ev domain.Event) {
			select {
			case updates <- ev.Type:
			default:
				dropped.Store(true)
			}
		})
		if err != nil {
			_ = writeJSON(fiber.Map{"error": err.Error()})
			return
		}
		defer unsubscribe()

		send := func(event string) error {
			snap, err := deps.Sessions.Snapshot(id)
			if err != nil {
				return err
			}
			return writeJSON(wsMessage{Event: event, Session: snap})
		}

		if err := send(wsEventConnect); err != nil {
			return
		}
		log.Debug("ws client connected")

		done := make(chan struct{})
		writerDone := make(chan struct{})
		go func() {
			defer close(writerDone)
			ticker := time.NewTicker(wsPingInterval)
			defer ticker.Stop()
			pump(done, updates, &dropped, ticker.C, send, func() error {
				mu.Lock()
				defer mu.Unlock()
				return c.WriteMessage(websocket.PingMessage, nil)
			})
		}()

		for {
			if _, _, err := c.ReadMessage(); err != nil {
				break
			}
		}

		// The conn is released once the handler returns; the writer must be gone by then.
		close(done)
		<-writerDone
		log.Debug("ws client disconnected")
	}
}

// pump forwards queued events to send until done is closed or a write fails.
// A resync follows any event delivered after the buffer overflowed.
func pump(done <-chan struct{}, updates <-chan domain.EventType, dropped *atomic.Bool, ping <-chan time.Time, send func(string) error, sendPing func() error) {
	for {
		select {
		case <-done:
			return
		case ev := <-updates:
			if err := send(string(ev)); err != nil {
				return
			}
			if dropped.Swap(false) {
				if err := send(wsEventResync); err != nil {
					return
				}
			}
		case <-ping:
			if err := sendPing(); err != nil {
				return
			}
		}
	}
}
