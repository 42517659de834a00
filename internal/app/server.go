package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/markdave123-py/contexta-rag/internal/api/handlers"
	appMiddleware "github.com/markdave123-py/contexta-rag/internal/api/middlewares"
	"github.com/markdave123-py/contexta-rag/internal/config"
	"github.com/markdave123-py/contexta-rag/internal/core/ingestion_engine"
	"github.com/markdave123-py/contexta-rag/internal/logger"
)

const requestTimeout = 60 * time.Second

// Server wraps the HTTP server instance and its handlers.
type Server struct {
	httpServer *http.Server
	log        *logger.Logger
}

// NewServer builds and wires all routes.
func NewServer(cfg *config.Config, ing ingestion_engine.Ingestor, log *logger.Logger) *Server {
	log = log.With("service", "http")
	docHandler := handlers.NewDocumentHandler(ing, cfg.MaxUploadBytes, log)
	searchHandler := handlers.NewSearchHandler(ing, log)

	// uploads are processed before the response is written
	uploadTimeout := cfg.ProcessTimeout + requestTimeout

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(appMiddleware.RequestLogger(log))
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api/rag", func(api chi.Router) {
		api.Use(appMiddleware.JWTMiddleware([]byte(cfg.JWTSecret)))

		api.With(middleware.Timeout(uploadTimeout)).Post("/documents", docHandler.UploadDocument)

		api.Group(func(g chi.Router) {
			g.Use(middleware.Timeout(requestTimeout))
			g.Get("/documents", docHandler.ListDocuments)
			g.Get("/documents/{id}", docHandler.GetDocument)
			g.Delete("/documents/{id}", docHandler.DeleteDocument)
			g.Post("/documents/{id}/reprocess", docHandler.ReprocessDocument)
			g.Post("/search", searchHandler.Search)
		})
	})

	httpSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &Server{httpServer: httpSrv, log: log}
}

func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start runs the HTTP server until Shutdown is called.
func (s *Server) Start() error {
	s.log.Info("HTTP server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}
