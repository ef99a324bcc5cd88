// Copyright 2025 The contributors of Blockapi.
// This file is part of Blockapi, a blocking LLM API under the MIT License.
// SPDX-License-Identifier: MIT

// Package server runs the HTTPS server, the certificate watcher
// and the optional cloudflared tunnel.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/LM4eu/blockapi/conf"
	"github.com/LM4eu/blockapi/gie"
	"github.com/LM4eu/blockapi/tlscert"
	"github.com/LM4eu/blockapi/tunnel"
)

// Server is a running HTTPS server.
type Server struct {
	srv    *http.Server
	ln     net.Listener
	grp    *errgroup.Group
	cancel context.CancelFunc

	mu        sync.Mutex
	publicURL string
}

// Start binds the address and serves the handler over TLS in background.
// A bind or certificate failure is returned immediately.
func Start(ctx context.Context, cfg *conf.Cfg, handler http.Handler) (*Server, error) {
	reloader, err := tlscert.NewReloader(cfg.TLS.Cert, cfg.TLS.Key)
	if err != nil {
		return nil, err
	}

	addr := cfg.Addr()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, gie.Wrap(err, gie.ServerErr, "cannot listen", "addr", addr)
	}

	ctx, cancel := context.WithCancel(ctx)
	grp, ctx := errgroup.WithContext(ctx)

	s := &Server{
		srv: &http.Server{
			Handler:           handler,
			TLSConfig:         reloader.TLSConfig(),
			ReadHeaderTimeout: 10 * time.Second,
			ErrorLog:          slog.NewLogLogger(slog.Default().Handler(), slog.LevelDebug),
		},
		ln:     ln,
		grp:    grp,
		cancel: cancel,
	}

	grp.Go(func() error {
		er := s.srv.Serve(tls.NewListener(ln, s.srv.TLSConfig))
		if errors.Is(er, http.ErrServerClosed) {
			return nil
		}
		return gie.Wrap(er, gie.ServerErr, "HTTPS server stopped", "addr", addr)
	})

	if cfg.TLS.Watch {
		grp.Go(func() error {
			er := reloader.Watch(ctx)
			if er != nil {
				slog.WarnContext(ctx, "TLS certificate hot reload disabled", "err", er)
			}
			return nil
		})
	}

	local := "https://" + s.Addr().String() + "/api"
	if cfg.Share {
		grp.Go(func() error {
			s.share(ctx, cfg, local)
			return nil
		})
	} else {
		slog.InfoContext(ctx, "Starting API at "+local)
	}

	return s, nil
}

// share runs cloudflared until ctx is done. Failures only produce logs.
func (s *Server) share(ctx context.Context, cfg *conf.Cfg, local string) {
	port := s.Addr().(*net.TCPAddr).Port

	t, err := tunnel.Start(ctx, cfg.Tunnel.Exe, port, cfg.Tunnel.Attempts, 0)
	if err != nil {
		slog.ErrorContext(ctx, "Public URL unavailable", "err", err)
		slog.InfoContext(ctx, "Starting API at "+local)
		return
	}

	s.mu.Lock()
	s.publicURL = t.URL
	s.mu.Unlock()
	slog.InfoContext(ctx, "Starting non-streaming server at public url "+t.URL+"/api")

	<-ctx.Done()
	t.Close()
}

// Addr is the bound address, useful with port 0.
func (s *Server) Addr() net.Addr {
	return s.ln.Addr()
}

// PublicURL is the trycloudflare.com URL, empty if none.
func (s *Server) PublicURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.publicURL
}

// Wait blocks until the server and its background tasks stop.
func (s *Server) Wait() error {
	return s.grp.Wait()
}

// Shutdown stops accepting connections and waits for the in-flight requests
// until ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.srv.Shutdown(ctx)
	s.cancel()
	er := s.grp.Wait()
	if err != nil {
		return gie.Wrap(err, gie.ServerErr, "graceful shutdown failed")
	}
	return er
}
