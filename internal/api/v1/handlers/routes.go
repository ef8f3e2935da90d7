package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	v1mware "github.com/rewards/gateway/internal/api/v1/middleware"
	"github.com/rewards/gateway/internal/config"
	"github.com/rewards/gateway/internal/connections"
)

func RegisterV1Routes(router *mux.Router, creds Credentials, relayer Relayer, conns *connections.Manager) {
	origins := config.GetAllowedOrigins()
	v1 := router.PathPrefix("/v1").Subrouter()
	v1.Use(v1mware.CheckOrigin(origins))
	upgrader := NewUpgrader(origins)

	// Token and session reads
	v1.HandleFunc("/token/guest", func(w http.ResponseWriter, r *http.Request) {
		HandleGuestToken(creds, w, r)
	}).Methods("GET")
	v1.HandleFunc("/token/user", func(w http.ResponseWriter, r *http.Request) {
		HandleUserToken(creds, w, r)
	}).Methods("GET")
	v1.HandleFunc("/session", func(w http.ResponseWriter, r *http.Request) {
		HandleSession(creds, w, r)
	}).Methods("GET")
	v1.HandleFunc("/session/ws", func(w http.ResponseWriter, r *http.Request) {
		HandleSessionStream(creds, conns, upgrader, w, r)
	}).Methods("GET")

	// OTP login
	v1authRouter := v1.PathPrefix("/auth").Subrouter()
	v1authRouter.Use(v1mware.RateLimit("auth"))
	v1authRouter.Handle("/otp", v1mware.RequireJSON(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		HandleRequestOTP(creds, w, r)
	}))).Methods("POST")
	v1authRouter.Handle("/verify", v1mware.RequireJSON(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		HandleVerifyOTP(creds, w, r)
	}))).Methods("POST")
	v1authRouter.HandleFunc("/logout", func(w http.ResponseWriter, r *http.Request) {
		HandleLogout(creds, w, r)
	}).Methods("POST")

	// Upstream relay
	relayLimit := v1mware.RateLimit("relay")
	v1.Handle("/relay", relayLimit(v1mware.RequireJSON(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		HandleRelay(creds, relayer, w, r)
	})))).Methods("POST")
	v1.Handle("/tickets", relayLimit(v1mware.RequireSession(creds)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		HandleCreateTicket(creds, relayer, w, r)
	})))).Methods("POST")
}
