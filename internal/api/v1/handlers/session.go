package handlers

import (
	"net/http"

	"github.com/gorilla/websocket"
	v1mware "github.com/rewards/gateway/internal/api/v1/middleware"
	"github.com/rewards/gateway/internal/connections"
	"github.com/rewards/gateway/pkg/httpext"
	"github.com/rs/zerolog/log"
)

func HandleSession(creds Credentials, w http.ResponseWriter, r *http.Request) {
	httpext.WriteJSON(w, http.StatusOK, creds.Session())
}

// NewUpgrader applies the same origin rules as state-changing routes.
func NewUpgrader(allowed []string) *websocket.Upgrader {
	return &websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			if v1mware.OriginAllowed(r, allowed) {
				return true
			}
			log.Warn().Str("origin", r.Header.Get("Origin")).Msg("Rejected session stream origin")
			return false
		},
	}
}

// HandleSessionStream pushes the session snapshot and each change over a
// websocket.
func HandleSessionStream(creds Credentials, conns *connections.Manager, upgrader *websocket.Upgrader, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Msg("Session stream upgrade failed")
		return
	}

	updates, cancel := creds.Subscribe()
	defer cancel()

	log.Debug().Int("connections", conns.GetConnectionCount()+1).Msg("Session stream opened")
	conns.StreamSession(conn, updates)
}
