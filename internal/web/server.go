// Package web serves the dashboard: static files, the rule listing and the
// websocket push channel.
package web

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"io/fs"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/sync/errgroup"

	"replybot/internal/broadcast"
	"replybot/internal/rules"
	logx "replybot/pkg/logx"
)

//go:embed static
var staticFS embed.FS

// Lister returns the full rule table.
type Lister interface {
	ListAll(ctx context.Context) ([]rules.Rule, error)
}

type Options struct {
	Addr      string
	StaticDir string // empty serves the embedded dashboard

	// WriteTimeout bounds one websocket frame write. Default 10s.
	WriteTimeout time.Duration
	// PingInterval keeps idle websocket connections alive. Default 30s.
	PingInterval time.Duration
}

type Server struct {
	opt      Options
	lister   Lister
	registry *broadcast.Registry
	metrics  http.Handler
	log      logx.Logger
}

func New(opt Options, lister Lister, registry *broadcast.Registry, metrics http.Handler, log logx.Logger) *Server {
	if opt.WriteTimeout <= 0 {
		opt.WriteTimeout = 10 * time.Second
	}
	if opt.PingInterval <= 0 {
		opt.PingInterval = 30 * time.Second
	}
	return &Server{opt: opt, lister: lister, registry: registry, metrics: metrics, log: log}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	r.HandleFunc("/api/commands/", s.handleListCommands).Methods(http.MethodGet)
	r.HandleFunc("/ws/update/", s.handleUpdates).Methods(http.MethodGet)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics).Methods(http.MethodGet)
	}
	r.PathPrefix("/").Handler(http.FileServer(s.staticRoot())).Methods(http.MethodGet)
	return r
}

func (s *Server) staticRoot() http.FileSystem {
	if dir := strings.TrimSpace(s.opt.StaticDir); dir != "" {
		return http.Dir(dir)
	}
	sub, err := fs.Sub(staticFS, "static")
	if err != nil {
		// embedded tree is fixed at build time
		panic(err)
	}
	return http.FS(sub)
}

// Run serves until ctx ends, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opt.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.log.Info("http server listening", logx.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"subscribers": s.registry.Len(),
	})
}

func (s *Server) handleListCommands(w http.ResponseWriter, r *http.Request) {
	all, err := s.lister.ListAll(r.Context())
	if err != nil {
		s.log.Error("list commands failed", logx.Err(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "could not list commands"})
		return
	}
	if all == nil {
		all = []rules.Rule{}
	}
	writeJSON(w, http.StatusOK, all)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
