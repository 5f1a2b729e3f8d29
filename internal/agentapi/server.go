// Package agentapi is the HTTP agent API collaborator of spec §6: a thin
// REST surface over the Layout & Target Resolver and the Terminal
// Registry. It is not part of the core; it consumes the core's exported
// capabilities the same way the CLI and the WebSocket session layer do.
// Grounded on homeport's internal/api package (chi router, per-handler
// methods on a Server, jsonResponse/errorResponse helpers).
package agentapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/gfbonny/freshell/internal/layout"
	"github.com/gfbonny/freshell/internal/terminal"
)

// Server hosts the REST surface described in spec §6.
type Server struct {
	registry *terminal.Registry
	layout   *layout.Store
	logger   *slog.Logger

	router chi.Router
}

// New creates a Server and builds its route table. logger may be nil.
func New(registry *terminal.Registry, layoutStore *layout.Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{registry: registry, layout: layoutStore, logger: logger}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Route("/api", func(r chi.Router) {
		r.Get("/target/{raw}", s.handleResolveTarget)

		r.Route("/tabs", func(r chi.Router) {
			r.Get("/", s.handleListTabs)
			r.Post("/", s.handleCreateTab)
			r.Route("/{tabId}", func(r chi.Router) {
				r.Patch("/", s.handleRenameTab)
				r.Delete("/", s.handleCloseTab)
				r.Post("/select", s.handleSelectTab)
				r.Get("/panes", s.handleListPanes)
				r.Post("/panes", s.handleSplitPane)
				r.Route("/panes/{paneId}", func(r chi.Router) {
					r.Delete("/", s.handleClosePane)
					r.Post("/resize", s.handleResizePane)
					r.Post("/swap", s.handleSwapPane)
					r.Patch("/content", s.handleAttachPaneContent)
				})
			})
		})

		r.Route("/terminals", func(r chi.Router) {
			r.Get("/", s.handleListTerminals)
			r.Route("/{terminalId}", func(r chi.Router) {
				r.Post("/input", s.handleInput)
				r.Get("/output", s.handleCaptureOutput)
				r.Post("/wait", s.handleWaitForMatch)
			})
		})
	})

	s.router = r
}

// Router returns the underlying chi.Router for embedding in an http.Server.
func (s *Server) Router() chi.Router {
	return s.router
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
