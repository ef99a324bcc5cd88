// Copyright 2025 The contributors of Blockapi.
// This file is part of Blockapi, a blocking LLM API under the MIT License.
// SPDX-License-Identifier: MIT

// Package tunnel exposes the local API on a public trycloudflare.com URL
// using the cloudflared command.
package tunnel

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"os/exec"
	"regexp"
	"strconv"
	"time"

	"github.com/LM4eu/blockapi/gie"
)

// DefaultURLTimeout is the time cloudflared has to print the public URL.
const DefaultURLTimeout = 30 * time.Second

var urlRegexp = regexp.MustCompile(`https://[a-z0-9-]+\.trycloudflare\.com`)

// Tunnel is a running cloudflared process.
type Tunnel struct {
	done   chan error
	cancel context.CancelFunc
	URL    string
}

// Start runs cloudflared to forward a public URL to the local port,
// retrying up to attempts times.
func Start(ctx context.Context, exe string, port, attempts int, timeout time.Duration) (*Tunnel, error) {
	if timeout <= 0 {
		timeout = DefaultURLTimeout
	}

	var err error
	for i := range max(attempts, 1) {
		var t *Tunnel
		t, err = start(ctx, exe, port, timeout)
		if err == nil {
			return t, nil
		}
		slog.WarnContext(ctx, "cloudflared attempt failed", "attempt", i+1, "max", attempts, "err", err)
		if ctx.Err() != nil {
			break
		}
	}

	return nil, gie.Wrap(err, gie.ServerErr, "cannot start the tunnel", "exe", exe, "attempts", attempts)
}

func start(ctx context.Context, exe string, port int, timeout time.Duration) (*Tunnel, error) {
	ctx, cancel := context.WithCancel(ctx)

	local := "https://127.0.0.1:" + strconv.Itoa(port)
	cmd := exec.CommandContext(ctx, exe, "tunnel", "--url", local, "--no-tls-verify")
	cmd.WaitDelay = time.Second

	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return nil, err
	}

	err = cmd.Start()
	if err != nil {
		cancel()
		return nil, err
	}

	urls := make(chan string, 1)
	done := make(chan error, 1)

	// cloudflared prints its logs, including the URL, on stderr.
	// Keep reading until the process exits.
	go func() {
		found := false
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			line := scanner.Text()
			slog.Debug("cloudflared", "line", line)
			if !found {
				if u := urlRegexp.FindString(line); u != "" {
					found = true
					urls <- u
				}
			}
		}
		done <- cmd.Wait()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case u := <-urls:
		return &Tunnel{URL: u, cancel: cancel, done: done}, nil
	case er := <-done:
		cancel()
		if er == nil {
			er = errors.New("cloudflared exited without public URL")
		}
		return nil, er
	case <-timer.C:
		cancel()
		<-done
		return nil, errors.New("no public URL after " + timeout.String())
	case <-ctx.Done():
		cancel()
		<-done
		return nil, ctx.Err()
	}
}

// Wait blocks until cloudflared exits.
func (t *Tunnel) Wait() error {
	err := <-t.done
	t.done <- err
	return err
}

// Close stops cloudflared.
func (t *Tunnel) Close() {
	t.cancel()
	_ = t.Wait()
}
