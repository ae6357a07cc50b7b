// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

// Package healthcheck serves the liveness and readiness probes of the
// watch daemon, and optionally the pprof endpoints.
package healthcheck

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/http/pprof"
	"slices"
	"sync"
	"time"
)

type Response struct {
	Healthy bool     `json:"healthy"`
	Pending []string `json:"pending,omitempty"`
}

// Server is ready once every required condition has been met.
type Server struct {
	addr  string
	pprof bool

	mu         sync.Mutex
	conditions map[string]bool
}

type Option func(*Server)

// WithPprof also mounts /debug/pprof/.
func WithPprof() Option {
	return func(s *Server) { s.pprof = true }
}

// New returns a server that will listen on addr.
func New(addr string, opts ...Option) *Server {
	s := &Server{addr: addr, conditions: map[string]bool{}}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Require adds a readiness condition that starts unmet.
func (s *Server) Require(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conditions[name]; !ok {
		s.conditions[name] = false
	}
}

// Set records whether a condition is met. Unknown names become required.
func (s *Server) Set(name string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, found := s.conditions[name]; !found || prev != ok {
		slog.Debug("Ready condition updated", slog.String("condition", name), slog.Bool("ready", ok))
	}
	s.conditions[name] = ok
}

// Pending lists the unmet conditions, sorted.
func (s *Server) Pending() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for name, ok := range s.conditions {
		if !ok {
			out = append(out, name)
		}
	}
	slices.Sort(out)
	return out
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/livez", func(w http.ResponseWriter, _ *http.Request) {
		writeResponse(w, Response{Healthy: true})
	})
	ready := func(w http.ResponseWriter, _ *http.Request) {
		pending := s.Pending()
		writeResponse(w, Response{Healthy: len(pending) == 0, Pending: pending})
	}
	mux.HandleFunc("/readyz", ready)
	mux.HandleFunc("/healthz", ready)

	if s.pprof {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	return mux
}

func writeResponse(w http.ResponseWriter, r Response) {
	w.Header().Set("Content-Type", "application/json")
	if r.Healthy {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(r); err != nil {
		slog.Error("Failed to encode health check response", slog.Any("error", err))
	}
}

// Run serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	srv := &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 5 * time.Second}
	slog.Info("Starting health check server", slog.String("address", ln.Addr().String()))

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	slog.Info("Stopping health check server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
