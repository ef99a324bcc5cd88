// Copyright 2025 The contributors of Blockapi.
// This file is part of Blockapi, a blocking LLM API under the MIT License.
// SPDX-License-Identifier: MIT

package conf

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.yaml.in/yaml/v4"

	"github.com/LM4eu/blockapi/gie"
)

// Read the configuration file (defaults when the file does not exist),
// then apply the env vars and the command line flags,
// and finally verify the settings.
func Read(file string, flags *Flags) (*Cfg, error) {
	cfg := DefaultCfg()

	err := cfg.load(file)
	if err != nil {
		return cfg, err
	}

	err = cfg.applyEnvVars()
	if err != nil {
		return cfg, err
	}

	cfg.applyFlags(flags)
	cfg.trimParamValues()

	return cfg, cfg.validate()
}

// load the configuration file (if filename not empty).
func (cfg *Cfg) load(file string) error {
	if file == "" {
		return nil
	}

	yml, err := os.ReadFile(filepath.Clean(file))
	if errors.Is(err, fs.ErrNotExist) {
		slog.Info("No config file => use default settings", "file", file)
		return nil
	}
	if err != nil {
		return gie.Wrap(err, gie.ConfigErr, "Cannot read", "file", file)
	}

	if len(yml) == 0 {
		return gie.New(gie.ConfigErr, "empty", "file", file)
	}

	err = yaml.Unmarshal(yml, cfg)
	if err != nil {
		return gie.Wrap(err, gie.ConfigErr, "Failed to yaml.Unmarshal", "file", file)
	}

	return nil
}

// applyEnvVars read optional env vars to change the configuration.
// The environment variables precede the config file.
func (cfg *Cfg) applyEnvVars() error {
	if host := os.Getenv("BA_HOST"); host != "" {
		cfg.Host = host
		slog.Debug("use", "BA_HOST", host)
	}

	if port := os.Getenv("BA_PORT"); port != "" {
		p, err := strconv.Atoi(strings.TrimSpace(port))
		if err != nil {
			return gie.Wrap(err, gie.ConfigErr, "BA_PORT must be an integer", "BA_PORT", port)
		}
		cfg.Port = p
		slog.Debug("use", "BA_PORT", p)
	}

	err := envBool("BA_LISTEN", &cfg.Listen)
	if err != nil {
		return err
	}
	err = envBool("BA_SHARE", &cfg.Share)
	if err != nil {
		return err
	}
	err = envBool("BA_METRICS", &cfg.Metrics)
	if err != nil {
		return err
	}

	if origins := os.Getenv("BA_ORIGINS"); origins != "" {
		cfg.Origins = origins
		slog.Debug("use", "BA_ORIGINS", origins)
	}

	if cert := os.Getenv("BA_CERT"); cert != "" {
		cfg.TLS.Cert = cert
		slog.Debug("use", "BA_CERT", cert)
	}

	if key := os.Getenv("BA_KEY"); key != "" {
		cfg.TLS.Key = key
		slog.Debug("set tls.key = BA_KEY")
	}

	if u := os.Getenv("BA_LLAMA_URL"); u != "" {
		cfg.Llama.URL = u
		slog.Debug("use", "BA_LLAMA_URL", u)
	}

	if model := os.Getenv("BA_LLAMA_MODEL"); model != "" {
		cfg.Llama.Model = model
		slog.Debug("use", "BA_LLAMA_MODEL", model)
	}

	if exe := os.Getenv("BA_CLOUDFLARED"); exe != "" {
		cfg.Tunnel.Exe = exe
		slog.Debug("use", "BA_CLOUDFLARED", exe)
	}

	return nil
}

func envBool(key string, dst *bool) error {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return gie.Wrap(err, gie.ConfigErr, key+" must be a boolean", key, v)
	}
	*dst = b
	slog.Debug("use", key, b)
	return nil
}

// applyFlags: the command line precedes the env vars.
func (cfg *Cfg) applyFlags(flags *Flags) {
	if flags == nil {
		return
	}
	if flags.Port != 0 {
		cfg.Port = flags.Port
	}
	if flags.Listen {
		cfg.Listen = true
	}
	if flags.Share {
		cfg.Share = true
	}
}

// trimParamValues cleans each parameter.
func (cfg *Cfg) trimParamValues() {
	cfg.Host = strings.TrimSpace(cfg.Host)

	cfg.Origins = strings.TrimSpace(cfg.Origins)
	cfg.Origins = strings.Trim(cfg.Origins, ",")

	cfg.BodyLimit = strings.TrimSpace(cfg.BodyLimit)

	cfg.TLS.Cert = strings.TrimSpace(cfg.TLS.Cert)
	cfg.TLS.Key = strings.TrimSpace(cfg.TLS.Key)

	cfg.Llama.URL = strings.TrimSpace(cfg.Llama.URL)
	cfg.Llama.URL = strings.TrimRight(cfg.Llama.URL, "/")
	cfg.Llama.Model = strings.TrimSpace(cfg.Llama.Model)

	cfg.Tunnel.Exe = strings.TrimSpace(cfg.Tunnel.Exe)
}
