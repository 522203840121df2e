// Package adminapi exposes the daemon's tables over a local
// HTTP/JSON surface consumed by meshappctl: a thin adapter that owns
// no domain state and delegates every request to the owning
// component.
package adminapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/hro-mesh/meshapp/internal/discovery"
	"github.com/hro-mesh/meshapp/internal/identity"
	"github.com/hro-mesh/meshapp/internal/pair"
	"github.com/hro-mesh/meshapp/internal/settings"
	appversion "github.com/hro-mesh/meshapp/internal/version"
)

// shutdownTimeout bounds connection draining when the daemon stops.
const shutdownTimeout = 5 * time.Second

// Server serves the admin API over plain HTTP.
type Server struct {
	fw     *identity.Framework
	pairs  *pair.Registry
	store  *settings.Store
	disc   *discovery.Controller
	logger *slog.Logger

	mux *http.ServeMux
}

// New builds a Server over the daemon's components. disc may be nil when
// discovery is not running (e.g. during tests).
func New(fw *identity.Framework, pairs *pair.Registry, store *settings.Store, disc *discovery.Controller, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		fw:     fw,
		pairs:  pairs,
		store:  store,
		disc:   disc,
		logger: logger.With(slog.String("component", "adminapi")),
		mux:    http.NewServeMux(),
	}

	s.mux.HandleFunc("GET /v1/status", s.handleStatus)
	s.mux.HandleFunc("GET /v1/peers", s.handlePeers)
	s.mux.HandleFunc("DELETE /v1/peers/{name}", s.handlePeerDelete)
	s.mux.HandleFunc("GET /v1/subscribers", s.handleSubscribers)
	s.mux.HandleFunc("GET /v1/settings", s.handleSettings)
	s.mux.HandleFunc("POST /v1/settings/wipe", s.handleSettingsWipe)
	s.mux.HandleFunc("POST /v1/settings/flush", s.handleSettingsFlush)
	return s
}

// Handler returns the underlying HTTP handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Run serves the admin API on addr until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("admin server shutdown", slog.Any("error", err))
		}
		<-errCh
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// StatusResponse summarizes the daemon's identity and table occupancy.
type StatusResponse struct {
	Version         string `json:"version"`
	Name            string `json:"name,omitempty"`
	SRPState        string `json:"srp_state,omitempty"`
	PeerCount       int    `json:"peer_count"`
	SubscriberCount int    `json:"subscriber_count"`
	SettingsBufPos  int    `json:"settings_buf_pos"`
	SettingsFlushed bool   `json:"settings_flushed"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := StatusResponse{
		Version:         appversion.Version,
		PeerCount:       s.pairs.Count(),
		SubscriberCount: s.fw.Observer.Count(),
		SettingsBufPos:  s.store.BufPos(),
		SettingsFlushed: s.store.Flushed(),
	}
	if name, err := s.fw.Naming.Full(); err == nil {
		resp.Name = name
	}
	if s.disc != nil {
		resp.SRPState = s.disc.State().String()
	}
	s.writeJSON(w, resp)
}

func (s *Server) handlePeers(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, s.pairs.Peers())
}

func (s *Server) handlePeerDelete(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if !s.pairs.Delete(name) {
		http.Error(w, "no such peer", http.StatusNotFound)
		return
	}
	s.logger.Info("peer deleted via admin API", slog.String("name", name))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSubscribers(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, s.fw.Observer.Subscribers())
}

// SettingsResponse is the settings-store listing.
type SettingsResponse struct {
	Records []settings.RecordInfo `json:"records"`
	BufPos  int                   `json:"buf_pos"`
	Flushed bool                  `json:"flushed"`
}

func (s *Server) handleSettings(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, SettingsResponse{
		Records: s.store.Records(),
		BufPos:  s.store.BufPos(),
		Flushed: s.store.Flushed(),
	})
}

func (s *Server) handleSettingsWipe(w http.ResponseWriter, _ *http.Request) {
	s.store.Wipe()
	s.logger.Info("settings wiped via admin API")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSettingsFlush(w http.ResponseWriter, r *http.Request) {
	if err := s.store.FlushNow(r.Context()); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("admin response encode failed", slog.Any("error", err))
	}
}
