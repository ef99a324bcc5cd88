// Copyright 2025 The contributors of Blockapi.
// This file is part of Blockapi, a blocking LLM API under the MIT License.
// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/teal-finance/garcon"

	"github.com/LM4eu/blockapi/conf"
	"github.com/LM4eu/blockapi/engine"
	"github.com/LM4eu/blockapi/infer"
	"github.com/LM4eu/blockapi/metrics"
	"github.com/LM4eu/blockapi/server"
	"github.com/LM4eu/blockapi/tlscert"
)

const (
	shutdownGrace = 10 * time.Second
	certValidity  = 365 * 24 * time.Hour
)

func main() {
	cfg := getFlagsCfg()

	err := run(cfg)
	if err != nil {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}
}

func getFlagsCfg() *conf.Cfg {
	file := flag.String("config", conf.BlockapiYML, "configuration file")
	write := flag.Bool("write", false, "write the configuration file (defaults + env. vars) and exit")
	genCert := flag.Bool("gen-cert", false, "generate a self-signed TLS certificate and exit")
	quiet := flag.Bool("q", false, "quiet mode (disable verbose output)")
	debug := flag.Bool("debug", false, "debug mode")
	var flags conf.Flags
	flag.BoolVar(&flags.Listen, "listen", false, "listen on all interfaces (0.0.0.0) instead of 127.0.0.1")
	flag.IntVar(&flags.Port, "port", 0, "listening port (default 5000)")
	flag.BoolVar(&flags.Share, "share", false, "expose the API on a public trycloudflare.com URL")
	garcon.SetVersionFlag()
	flag.Parse()

	switch {
	case *debug:
		slog.SetLogLoggerLevel(slog.LevelDebug)
		slog.Debug("Debug mode is on")
	case *quiet:
		slog.SetLogLoggerLevel(slog.LevelWarn)
	}

	if *write {
		cfg := conf.DefaultCfg()
		written, err := cfg.Write(*file)
		if err != nil {
			slog.Error("writing config", "error", err)
			os.Exit(1)
		}
		slog.Info("Configuration file", "file", *file, "written", written)
		os.Exit(0)
	}

	cfg, err := conf.Read(*file, &flags)

	if *genCert {
		hosts := []string{"localhost", "127.0.0.1", "::1"}
		if cfg.Host != "" {
			hosts = append(hosts, cfg.Host)
		}
		er := tlscert.WriteSelfSigned(cfg.TLS.Cert, cfg.TLS.Key, hosts, certValidity)
		if er != nil {
			slog.Error("generating TLS certificate", "error", er)
			os.Exit(1)
		}
		slog.Info("Self-signed TLS certificate created", "cert", cfg.TLS.Cert, "key", cfg.TLS.Key)
		os.Exit(0)
	}

	if err != nil {
		slog.Error("loading config", "error", err)
		os.Exit(1)
	}

	cfg.Verbose = !*quiet
	cfg.Debug = *debug

	if cfg.Debug {
		cfg.Print()
	}

	return cfg
}

// run serves the API until SIGINT or SIGTERM.
func run(cfg *conf.Cfg) error {
	eng, err := engine.NewLlama(cfg.Llama.URL, cfg.Llama.Model)
	if err != nil {
		return err
	}

	var m *metrics.Metrics
	if cfg.Metrics {
		m = metrics.New("")
	}

	e := infer.New(cfg, eng, m).NewEcho()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv, err := server.Start(ctx, cfg, e)
	if err != nil {
		return err
	}

	if cfg.Verbose {
		slog.Info("-----------------------------")
		slog.Info("Server started. Press CTRL+C to stop.")
	}

	done := make(chan error, 1)
	go func() { done <- srv.Wait() }()

	select {
	case err = <-done:
		return err
	case <-ctx.Done():
	}

	return handleShutdown(srv)
}

// handleShutdown lets the in-flight requests complete within the grace period.
func handleShutdown(srv *server.Server) error {
	slog.Info("Received signal, initiating graceful shutdown")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	err := srv.Shutdown(ctx)
	if err != nil {
		slog.Warn("Graceful shutdown timed out, forcing exit", "error", err)
		return err
	}

	slog.Info("Graceful shutdown completed")
	return nil
}
