package server

import "net/http"

// registerRoutes sets up all REST API routes on the mux.
func (s *Server) registerRoutes(mux *http.ServeMux) {
	// System
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/version", s.handleVersion)

	// Market data
	mux.HandleFunc("/api/prices/close", s.handlePriceClose)
	mux.HandleFunc("/api/prices/latest", s.handlePriceLatest)
	mux.HandleFunc("/api/fx/close", s.handleFxClose)

	// Valuation
	mux.HandleFunc("/api/value", s.handleValue)

	// Asset registry
	mux.HandleFunc("/api/assets", s.handleAssetUpsert)
}
