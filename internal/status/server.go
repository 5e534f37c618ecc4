package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"stardaemon/internal/watcher"
	"time"
)

const (
	readTimeout     = 30 * time.Second
	shutdownTimeout = 5 * time.Second
)

// Source provides the data served on /status.
type Source interface {
	Status() watcher.Status
}

type Server struct {
	srv      *http.Server
	source   Source
	nextPoll func() time.Time
	started  time.Time
	log      *slog.Logger
}

type response struct {
	watcher.Status

	NextPoll      time.Time `json:"nextPoll,omitzero"`
	UptimeSeconds float64   `json:"uptimeSeconds"`
}

// New builds the server. nextPoll may be nil.
func New(addr string, source Source, nextPoll func() time.Time, log *slog.Logger) *Server {
	s := &Server{
		source:   source,
		nextPoll: nextPoll,
		started:  time.Now(),
		log:      log,
	}

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadTimeout:       readTimeout,
		ReadHeaderTimeout: readTimeout,
		MaxHeaderBytes:    1 << 20,
	}

	return s
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /healthz", s.handleHealth)

	return mux
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.srv.Addr, err)
	}

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.ErrorContext(ctx, "Status server stopped unexpectedly",
				"error", err,
				"addr", ln.Addr().String())
		}
	}()

	s.log.InfoContext(ctx, "Status server is started",
		"addr", ln.Addr().String())

	return nil
}

// Shutdown stops accepting requests and waits briefly for open ones.
func (s *Server) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown status server: %w", err)
	}

	return nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := response{
		Status:        s.source.Status(),
		UptimeSeconds: time.Since(s.started).Seconds(),
	}
	if s.nextPoll != nil {
		resp.NextPoll = s.nextPoll()
	}

	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.log.WarnContext(r.Context(), "Failed to encode status response",
			"error", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok\n"))
}
