package api

import (
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"gocausal/app"
	"gocausal/ports"
)

// Server exposes estimate submission and retrieval over JSON HTTP
type Server struct {
	router  *chi.Mux
	service *app.EstimationService
	reader  ports.EstimateReaderPort
}

// NewServer creates the API server around the estimation service and a
// read-only view of the ledger
func NewServer(service *app.EstimationService, reader ports.EstimateReaderPort) *Server {
	s := &Server{
		router:  chi.NewRouter(),
		service: service,
		reader:  reader,
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// setupMiddleware configures HTTP middleware
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Compress(5))
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Post("/api/estimates", s.handleCreateEstimate)
	s.router.Get("/api/estimates", s.handleListEstimates)
	s.router.Get("/api/estimates/{id}", s.handleGetEstimate)
}

// Handler returns the underlying router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server
func (s *Server) Start(port string) error {
	addr := ":" + port
	log.Printf("Starting gocausal API server on %s", addr)
	return http.ListenAndServe(addr, s.router)
}
