// Copyright 2025 The contributors of Blockapi.
// This file is part of Blockapi, a blocking LLM API under the MIT License.
// SPDX-License-Identifier: MIT

package tunnel

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeCloudflared writes a shell script standing for cloudflared.
func fakeCloudflared(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script")
	}
	exe := filepath.Join(t.TempDir(), "cloudflared")
	require.NoError(t, os.WriteFile(exe, []byte("#!/bin/sh\n"+body+"\n"), 0o700))
	return exe
}

func TestStart(t *testing.T) {
	t.Parallel()

	exe := fakeCloudflared(t, `echo "INF Requesting new quick Tunnel on $3" >&2
echo "INF |  https://quiet-forest-1234.trycloudflare.com  |" >&2
exec sleep 30`)

	tun, err := Start(t.Context(), exe, 5000, 3, 5*time.Second)
	require.NoError(t, err)
	require.Equal(t, "https://quiet-forest-1234.trycloudflare.com", tun.URL)

	start := time.Now()
	tun.Close()
	require.Less(t, time.Since(start), 5*time.Second)
}

func TestStartPassesLocalURL(t *testing.T) {
	t.Parallel()

	out := filepath.Join(t.TempDir(), "args")
	exe := fakeCloudflared(t, `echo "$@" > `+out+`
echo "https://a.trycloudflare.com" >&2
exec sleep 30`)

	tun, err := Start(t.Context(), exe, 5123, 1, 5*time.Second)
	require.NoError(t, err)
	defer tun.Close()

	args, err := os.ReadFile(out)
	require.NoError(t, err)
	require.Equal(t, "tunnel --url https://127.0.0.1:5123 --no-tls-verify", strings.TrimSpace(string(args)))
}

func TestStartRetries(t *testing.T) {
	t.Parallel()

	count := filepath.Join(t.TempDir(), "count")
	exe := fakeCloudflared(t, `echo x >> `+count+`
echo "ERR failed to request quick Tunnel" >&2
exit 1`)

	_, err := Start(t.Context(), exe, 5000, 3, 5*time.Second)
	require.Error(t, err)

	b, err := os.ReadFile(count)
	require.NoError(t, err)
	require.Equal(t, 3, strings.Count(string(b), "x"))
}

func TestStartTimeout(t *testing.T) {
	t.Parallel()

	exe := fakeCloudflared(t, `exec sleep 30`)

	_, err := Start(t.Context(), exe, 5000, 1, 200*time.Millisecond)
	require.Error(t, err)
	require.Contains(t, err.Error(), "no public URL")
}

func TestStartMissingExe(t *testing.T) {
	t.Parallel()

	_, err := Start(t.Context(), filepath.Join(t.TempDir(), "nope"), 5000, 2, time.Second)
	require.Error(t, err)
}
