// Copyright 2025 The contributors of Blockapi.
// This file is part of Blockapi, a blocking LLM API under the MIT License.
// SPDX-License-Identifier: MIT

// Package tlscert loads, hot-reloads and generates the TLS certificate of the API.
package tlscert

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"log/slog"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/LM4eu/blockapi/gie"
)

// Reloader serves the current certificate to the TLS handshakes
// and swaps it when the files are rewritten.
type Reloader struct {
	cert     atomic.Pointer[tls.Certificate]
	certFile string
	keyFile  string
}

// NewReloader loads the certificate/key pair.
func NewReloader(certFile, keyFile string) (*Reloader, error) {
	r := &Reloader{certFile: certFile, keyFile: keyFile}
	err := r.Reload()
	if err != nil {
		return nil, err
	}
	return r, nil
}

// GetCertificate is the tls.Config callback.
func (r *Reloader) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	return r.cert.Load(), nil
}

// TLSConfig returns a server configuration using the reloadable certificate.
func (r *Reloader) TLSConfig() *tls.Config {
	return &tls.Config{
		MinVersion:     tls.VersionTLS12,
		GetCertificate: r.GetCertificate,
	}
}

// Reload reads the pair again. On failure the previous pair is kept.
func (r *Reloader) Reload() error {
	cert, err := tls.LoadX509KeyPair(r.certFile, r.keyFile)
	if err != nil {
		return gie.Wrap(err, gie.ConfigErr, "cannot load the TLS certificate", "cert", r.certFile, "key", r.keyFile)
	}
	r.cert.Store(&cert)
	return nil
}

// Watch reloads the pair each time one of the two files is written.
// Watch blocks until ctx is done.
func (r *Reloader) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return gie.Wrap(err, gie.ServerErr, "failed to create fsnotify watcher")
	}
	defer watcher.Close()

	// watch the directories: editors and cert tools often replace the file
	files := map[string]bool{}
	for _, f := range []string{r.certFile, r.keyFile} {
		abs, er := filepath.Abs(f)
		if er != nil {
			return gie.Wrap(er, gie.ConfigErr, "bad TLS file path", "file", f)
		}
		files[abs] = true
		er = watcher.Add(filepath.Dir(abs))
		if er != nil {
			return gie.Wrap(er, gie.ConfigErr, "cannot watch the TLS file", "file", f)
		}
	}

	slog.DebugContext(ctx, "Watch TLS files", "cert", r.certFile, "key", r.keyFile)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !files[filepath.Clean(event.Name)] || (!event.Has(fsnotify.Write) && !event.Has(fsnotify.Create)) {
				continue
			}
			er := r.Reload()
			if er != nil {
				slog.WarnContext(ctx, "Keep previous TLS certificate", "event", event.String(), "err", er)
				continue
			}
			slog.InfoContext(ctx, "TLS certificate reloaded", "file", event.Name)

		case er, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.WarnContext(ctx, "TLS file watcher", "err", er)
		}
	}
}

// WriteSelfSigned generates a self-signed certificate valid for the hosts
// (host names or IP addresses) and writes the PEM files.
func WriteSelfSigned(certFile, keyFile string, hosts []string, validity time.Duration) error {
	if len(hosts) == 0 {
		hosts = []string{"localhost", "127.0.0.1", "::1"}
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return gie.Wrap(err, gie.ServerErr, "failed to generate private key")
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return gie.Wrap(err, gie.ServerErr, "failed to generate serial number")
	}

	now := time.Now()
	template := x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{Organization: []string{"blockapi"}, CommonName: hosts[0]},
		NotBefore:             now.Add(-time.Minute),
		NotAfter:              now.Add(validity),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}
	for _, h := range hosts {
		if ip := net.ParseIP(h); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		} else {
			template.DNSNames = append(template.DNSNames, h)
		}
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return gie.Wrap(err, gie.ServerErr, "failed to create certificate")
	}

	pkcs8, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return gie.Wrap(err, gie.ServerErr, "failed to marshal private key")
	}

	err = os.WriteFile(keyFile, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: pkcs8}), 0o600)
	if err != nil {
		return gie.Wrap(err, gie.ConfigErr, "failed to write", "file", keyFile)
	}

	err = os.WriteFile(certFile, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600)
	if err != nil {
		return gie.Wrap(err, gie.ConfigErr, "failed to write", "file", certFile)
	}

	return nil
}
