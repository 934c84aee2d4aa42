// Package web provides the HTTP status page and button control API for the
// ac-button daemon.
package web

import (
	"context"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/sweeney/ac-button/internal/button"
	"github.com/sweeney/ac-button/internal/status"
)

// Controller is the button lifecycle the API drives.
type Controller interface {
	Export(pin int) error
	Unexport(pin int) error
	Read(pin int) (bool, error)
	Channels() []button.Status
}

// Server serves the status page and API over HTTP.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	tracker    *status.Tracker
	ctl        Controller
}

// New creates a Server that reads state from tracker and sends lifecycle
// requests to ctl.
func New(addr string, tracker *status.Tracker, ctl Controller) *Server {
	s := &Server{tracker: tracker, ctl: ctl}

	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.StripSlashes)

	r.Get("/", s.handleIndex)
	r.Get("/index.html", s.handleIndex)
	r.Get("/index.json", s.handleJSON)

	r.Route("/api/v1/buttons", func(r chi.Router) {
		r.Get("/", s.handleList)
		r.Get("/{pin}", s.handleRead)
		r.Post("/{pin}/export", s.handleExport)
		r.Post("/{pin}/unexport", s.handleUnexport)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		sendError(w, r, http.StatusNotFound, "NOT_FOUND", "no such resource")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		sendError(w, r, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", r.Method+" not allowed")
	})

	s.router = r
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: r,
	}
	return s
}

// Handler returns the router. Useful for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	renderHTML(w, snap)
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(snap))
}
