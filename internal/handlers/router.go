package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/resetguard/resetguard/internal/middleware"
	"github.com/sirupsen/logrus"
)

// NewRouter registers the reset and login routes behind the logging and CORS
// middleware.
func NewRouter(h *ResetHandlers, logger *logrus.Logger) *mux.Router {
	router := mux.NewRouter()

	// Logging wraps CORS so preflights show up in the access log.
	logging := middleware.LoggingMiddleware(logger)
	router.Use(logging)
	router.Use(middleware.CORSMiddleware)

	// Unmatched requests skip router.Use, so wrap the fallbacks directly.
	router.NotFoundHandler = logging(middleware.CORSMiddleware(http.NotFoundHandler()))
	router.MethodNotAllowedHandler = logging(middleware.CORSMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusMethodNotAllowed)
	})))

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET", "OPTIONS")

	api := router.PathPrefix("/api/v1").Subrouter()

	reset := api.PathPrefix("/reset").Subrouter()
	reset.HandleFunc("/send-code", h.SendCode).Methods("POST", "OPTIONS")
	reset.HandleFunc("/sim-swap", h.SimSwap).Methods("POST", "OPTIONS")
	reset.HandleFunc("/verify", h.Verify).Methods("POST", "OPTIONS")

	api.HandleFunc("/login", h.Login).Methods("POST", "OPTIONS")

	return router
}
