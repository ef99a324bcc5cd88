// Copyright 2025 The contributors of Blockapi.
// This file is part of Blockapi, a blocking LLM API under the MIT License.
// SPDX-License-Identifier: MIT

// Package conf reads/writes configuration
package conf

import (
	"errors"
	"io/fs"
	"log/slog"
	"net"
	"net/url"
	"os"
	"slices"
	"strconv"
	"syscall"

	"go.yaml.in/yaml/v4"

	"github.com/LM4eu/blockapi/gie"
)

type (
	// Cfg holds all settings.
	Cfg struct {
		Host      string `yaml:"host,omitempty"`
		Origins   string `yaml:"origins"`
		BodyLimit string `yaml:"body_limit"`
		TLS       TLS    `yaml:"tls"`
		Llama     Llama  `yaml:"llama"`
		Tunnel    Tunnel `yaml:"tunnel"`
		Port      int    `yaml:"port"`
		Listen    bool   `yaml:"listen"`
		Share     bool   `yaml:"share"`
		Metrics   bool   `yaml:"metrics"`
		Verbose   bool   `yaml:"-"`
		Debug     bool   `yaml:"-"`
	}

	// TLS holds the certificate settings.
	TLS struct {
		Cert  string `yaml:"cert"`
		Key   string `yaml:"key"`
		Watch bool   `yaml:"watch"`
	}

	// Llama holds the inference engine settings.
	Llama struct {
		URL   string `yaml:"url"`
		Model string `yaml:"model,omitempty"`
	}

	// Tunnel holds the cloudflared settings used when Share is enabled.
	Tunnel struct {
		Exe      string `yaml:"exe"`
		Attempts int    `yaml:"attempts"`
	}

	// Flags holds the command line settings.
	// Zero values are unset: they do not override the config file and env. vars.
	Flags struct {
		Port   int
		Listen bool
		Share  bool
	}
)

const (
	// BlockapiYML is the default config filename.
	BlockapiYML = "blockapi.yml"

	loopback      = "127.0.0.1"
	allInterfaces = "0.0.0.0"
)

// Do not use the bad ports: they are blocked by web browsers,
// as specified by the Fetch standard: fetch.spec.whatwg.org/#port-blocking.
var badPorts = []int{
	0, 1, 7, 9, 11, 13, 15, 17, 19, 20, 21, 22, 23, 25, 37, 42, 43,
	53, 69, 77, 79, 87, 95, 101, 102, 103, 104, 109, 110, 111, 113,
	115, 117, 119, 123, 135, 137, 139, 143, 161, 179, 389, 427, 465,
	512, 513, 514, 515, 526, 530, 531, 532, 540, 548, 554, 556, 563, 587,
	601, 636, 989, 990, 993, 995, 1719, 1720, 1723, 2049, 3659, 4045, 4190,
	5060, 5061, 6000, 6566, 6665, 6666, 6667, 6668, 6669, 6679, 6697, 10080,
}

// DefaultCfg returns a unique copy of the default settings
// to each caller preventing data race (concurrency testing).
func DefaultCfg() *Cfg {
	return &Cfg{
		Port:      5000,
		Origins:   "",
		BodyLimit: "2M",
		TLS: TLS{
			Cert:  "cert.pem",
			Key:   "key.pem",
			Watch: true,
		},
		Llama: Llama{
			URL: "http://127.0.0.1:8080",
		},
		Tunnel: Tunnel{
			Exe:      "cloudflared",
			Attempts: 3,
		},
		Verbose: true,
	}
}

// Addr returns the "host:port" to listen.
func (cfg *Cfg) Addr() string {
	host := cfg.Host
	if host == "" {
		host = loopback
		if cfg.Listen {
			host = allInterfaces
		}
	}
	return net.JoinHostPort(host, strconv.Itoa(cfg.Port))
}

// Print configuration.
func (cfg *Cfg) Print() {
	slog.Info("-----------------------------")

	printEnvVar("BA_HOST", false)
	printEnvVar("BA_PORT", false)
	printEnvVar("BA_LISTEN", false)
	printEnvVar("BA_SHARE", false)
	printEnvVar("BA_ORIGINS", false)
	printEnvVar("BA_CERT", false)
	printEnvVar("BA_KEY", true)
	printEnvVar("BA_LLAMA_URL", false)
	printEnvVar("BA_LLAMA_MODEL", false)
	printEnvVar("BA_METRICS", false)
	printEnvVar("BA_CLOUDFLARED", false)

	slog.Info("-----------------------------")

	yml, err := yaml.Marshal(cfg)
	if err != nil {
		slog.Error("Failed yaml.Marshal", "error", err.Error(), "input struct", cfg)
		return
	}

	_, _ = os.Stdout.Write(yml)

	slog.Info("-----------------------------")
}

func printEnvVar(key string, confidential bool) {
	v, set := syscall.Getenv(key)
	switch {
	case !set:
		slog.Info("env", key, "(unset)")
	case v == "":
		slog.Info("env", key, "(empty)")
	case confidential:
		slog.Info("env", key+"-length", len(v))
	default:
		slog.Info("env", key, v)
	}
}

func (cfg *Cfg) validate() error {
	err := cfg.validatePort()
	if err != nil {
		return err
	}

	for _, file := range []string{cfg.TLS.Cert, cfg.TLS.Key} {
		if file == "" {
			return gie.New(gie.ConfigErr, "TLS certificate and key are required, see 'tls' in "+BlockapiYML)
		}
		info, er := os.Stat(file)
		if errors.Is(er, fs.ErrNotExist) {
			return gie.New(gie.ConfigErr, "TLS file does not exist, generate a self-signed one with: ./blockapi -gen-cert", "file", file)
		}
		if er != nil {
			return gie.Wrap(er, gie.ConfigErr, "problem with TLS file", "file", file)
		}
		if info.IsDir() {
			return gie.New(gie.ConfigErr, "TLS file must be a file, not a directory", "file", file)
		}
	}

	u, err := url.Parse(cfg.Llama.URL)
	if err != nil {
		return gie.Wrap(err, gie.ConfigErr, "Verify BA_LLAMA_URL or 'llama.url' in "+BlockapiYML, "url", cfg.Llama.URL)
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return gie.New(gie.ConfigErr, "Verify BA_LLAMA_URL or 'llama.url' in "+BlockapiYML+": expected http(s)://host:port", "url", cfg.Llama.URL)
	}

	if cfg.Share {
		if cfg.Tunnel.Exe == "" {
			return gie.New(gie.ConfigErr, "share enabled but 'tunnel.exe' is empty")
		}
		if cfg.Tunnel.Attempts < 1 {
			return gie.New(gie.ConfigErr, "'tunnel.attempts' must be at least 1", "attempts", cfg.Tunnel.Attempts)
		}
	}

	return nil
}

// validatePort() prevents bad ports: they are blocked by web browsers,
// as specified by the Fetch standard: http://fetch.spec.whatwg.org/#bad-port
func (cfg *Cfg) validatePort() error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return gie.New(gie.ConfigErr, "port out of range", "port", cfg.Port)
	}
	if slices.Contains(badPorts, cfg.Port) {
		const msg = "Chrome/Firefox block the bad ports"
		slog.Error(msg, "port", cfg.Port, "reference", "https://fetch.spec.whatwg.org/#port-blocking")
		return gie.New(gie.ConfigErr, msg, "port", cfg.Port, "reference", "https://fetch.spec.whatwg.org/#port-blocking")
	}
	return nil
}
