package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
)

// keyPattern matches keys as produced by keygen.
const keyPattern = "{key:[0-9a-f]+}"

// Register adds every API route to r.
func (h *Handlers) Register(r *mux.Router) {
	// Health check and version routes
	r.HandleFunc("/health", h.HealthCheck).Methods(http.MethodGet)
	r.HandleFunc("/healthz", h.HealthCheck).Methods(http.MethodGet)
	r.HandleFunc("/livez", h.LivenessCheck).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/readyz", h.ReadinessCheck).Methods(http.MethodGet)
	r.HandleFunc("/version", h.Version).Methods(http.MethodGet)

	// Staging
	r.HandleFunc("/init", h.Init).Methods(http.MethodGet)
	r.HandleFunc("/push/"+keyPattern, h.Push).Methods(http.MethodPost, http.MethodPut)
	r.HandleFunc("/pull/"+keyPattern, h.Pull).Methods(http.MethodGet)
	r.HandleFunc("/file/"+keyPattern, h.Release).Methods(http.MethodDelete)
	r.HandleFunc("/convert", h.Convert).Methods(http.MethodPost)
}
