package rest

import (
	"net/http"

	"github.com/gorilla/mux"
)

func setupRouter(s *Server) http.Handler {
	r := mux.NewRouter()

	// Middleware setup
	r.Use(LoggingMiddleware)
	r.Use(RecoveryMiddleware)

	// Base route
	r.HandleFunc("/", HomeHandler).Methods("GET")

	// UI channel endpoint
	r.HandleFunc("/port/{channel}", HandlePort(s)).Methods("GET")

	apiRouter := r.PathPrefix("/api/v1").Subrouter()

	// Background status
	apiRouter.HandleFunc("/status", GetStatus(s.keyring, s.hub, s.dapp)).Methods("GET")
	apiRouter.HandleFunc("/ws/status", GetWSStatus(s.hub, s.channelName)).Methods("GET")

	// Dapp capability surface
	apiRouter.HandleFunc("/dapp/permissions", RequestPermission(s.dapp)).Methods("POST")
	apiRouter.HandleFunc("/dapp/permissions/{id}", GetPermission(s.dapp)).Methods("GET")
	apiRouter.HandleFunc("/dapp/transactions", RequestTransaction(s.dapp)).Methods("POST")
	apiRouter.HandleFunc("/dapp/transactions/{id}", GetTransaction(s.dapp)).Methods("GET")

	// External custodian connections
	apiRouter.HandleFunc("/dapp/connections", BeginConnection(s.keyring)).Methods("POST")
	apiRouter.HandleFunc("/dapp/connections/{id}", GetConnection(s.keyring)).Methods("GET")

	return r
}
