package connections

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rewards/gateway/internal/credentials"
	"github.com/rs/zerolog/log"
)

// TimeoutConfig holds the various timeout settings for WebSocket connections
type TimeoutConfig struct {
	PongWait   time.Duration
	PingPeriod time.Duration
	WriteWait  time.Duration
}

// Manager tracks the session-stream connections so they can be closed
// together on shutdown.
type Manager struct {
	connections sync.Map
	timeouts    TimeoutConfig
}

// DefaultTimeouts provides sensible default timeout values
var DefaultTimeouts = TimeoutConfig{
	PongWait:   30 * time.Second,
	PingPeriod: 27 * time.Second, // (PongWait * 9) / 10
	WriteWait:  10 * time.Second,
}

func NewManager(timeouts TimeoutConfig) *Manager {
	return &Manager{
		timeouts: timeouts,
	}
}

func (m *Manager) AddConnection(conn *websocket.Conn) {
	m.connections.Store(conn, struct{}{})
}

func (m *Manager) RemoveConnection(conn *websocket.Conn) {
	m.connections.Delete(conn)
}

func (m *Manager) GetConnectionCount() int {
	count := 0
	m.connections.Range(func(key, value interface{}) bool {
		count++
		return true
	})
	return count
}

func (m *Manager) HasConnection(conn *websocket.Conn) bool {
	_, exists := m.connections.Load(conn)
	return exists
}

func (m *Manager) GetTimeouts() TimeoutConfig {
	return m.timeouts
}

// StreamSession writes every snapshot from updates to conn as JSON until the
// client goes away or updates is closed. It blocks for the connection's life.
func (m *Manager) StreamSession(conn *websocket.Conn, updates <-chan credentials.SessionView) {
	m.AddConnection(conn)
	defer func() {
		m.RemoveConnection(conn)
		conn.Close()
	}()

	timeouts := m.timeouts
	done := make(chan struct{})

	conn.SetReadDeadline(time.Now().Add(timeouts.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(timeouts.PongWait))
	})

	// The stream is one-way; reading only services control frames.
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Debug().Err(err).Msg("Session stream closed unexpectedly")
				}
				return
			}
		}
	}()

	ticker := time.NewTicker(timeouts.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case view, ok := <-updates:
			conn.SetWriteDeadline(time.Now().Add(timeouts.WriteWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
				return
			}
			if err := conn.WriteJSON(view); err != nil {
				log.Debug().Err(err).Msg("Failed to write session update")
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(timeouts.WriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// CloseAll sends a close frame to every tracked connection.
func (m *Manager) CloseAll() {
	m.connections.Range(func(key, value interface{}) bool {
		conn := key.(*websocket.Conn)
		deadline := time.Now().Add(m.timeouts.WriteWait)
		conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), deadline)
		conn.Close()
		return true
	})
}
