package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anime-shed/leaf-inspector-go/internal/backend"
)

func isolateEnv(t *testing.T) {
	t.Helper()
	t.Setenv("LEAF_BACKEND_TYPE", "")
	t.Setenv("LEAF_BACKEND_ENDPOINT", "")
	t.Setenv("LEAF_BACKEND_RETRIES", "0")
	os.Unsetenv("LEAF_BACKEND_TYPE")
	os.Unsetenv("LEAF_BACKEND_ENDPOINT")
}

func writeImage(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("\x89PNG\r\n\x1a\nfake"), 0o644))
	return path
}

func TestRun_RemoteWithMask(t *testing.T) {
	isolateEnv(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/predict":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"prediction":"Tomato___Early_blight","confidence":97.3,"mask":"leaf_mask.png"}`))
		case "/static/uploads/leaf_mask.png":
			_, _ = w.Write([]byte("mask-bytes"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	dir := t.TempDir()
	img := writeImage(t, dir, "leaf.png")
	maskDir := filepath.Join(dir, "masks")

	var stdout, stderr bytes.Buffer
	code := run([]string{"-backend", "remote", "-endpoint", server.URL, "-fetch-mask", maskDir, img}, &stdout, &stderr)

	assert.Equal(t, 0, code, stderr.String())
	assert.Contains(t, stdout.String(), "Tomato___Early_blight (97.30%)")
	assert.Contains(t, stdout.String(), "mask: "+server.URL+"/static/uploads/leaf_mask.png")

	saved, err := os.ReadFile(filepath.Join(maskDir, "leaf_mask.png"))
	require.NoError(t, err)
	assert.Equal(t, "mask-bytes", string(saved))
}

func TestRun_RemoteRejected(t *testing.T) {
	isolateEnv(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"Uploaded image does not appear to contain a tomato leaf."}`))
	}))
	defer server.Close()

	dir := t.TempDir()
	img := writeImage(t, dir, "rock.png")

	var stdout, stderr bytes.Buffer
	code := run([]string{"-backend", "remote", "-endpoint", server.URL, img}, &stdout, &stderr)

	assert.Equal(t, 1, code)
	assert.Contains(t, stdout.String(), "rock.png: error: infer:")
}

func TestRun_Usage(t *testing.T) {
	isolateEnv(t)

	var stdout, stderr bytes.Buffer
	assert.Equal(t, 2, run(nil, &stdout, &stderr))
	assert.Contains(t, stderr.String(), "usage: classify")

	stderr.Reset()
	code := run([]string{"-backend", "remote", "-endpoint", "ftp://host", "x.png"}, &stdout, &stderr)
	assert.Equal(t, 2, code)
}

func TestRun_MissingFile(t *testing.T) {
	isolateEnv(t)

	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	var stdout, stderr bytes.Buffer
	code := run([]string{"-backend", "remote", "-endpoint", server.URL, filepath.Join(t.TempDir(), "nope.png")}, &stdout, &stderr)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr.String(), "nope.png")
}

func TestPercent(t *testing.T) {
	assert.InDelta(t, 91.5, percent(0.915, backend.KindLocal), 1e-9)
	assert.InDelta(t, 97.3, percent(97.3, backend.KindRemote), 1e-9)
}

func TestRun_Health(t *testing.T) {
	isolateEnv(t)

	var status atomic.Value
	status.Store(`{"status":"ok"}`)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(status.Load().(string)))
	}))
	defer server.Close()

	var stdout, stderr bytes.Buffer
	code := run([]string{"-backend", "remote", "-endpoint", server.URL, "-health"}, &stdout, &stderr)
	assert.Equal(t, 0, code, stderr.String())
	assert.Equal(t, server.URL+": ok\n", stdout.String())

	status.Store(`{"status":"degraded"}`)
	stdout.Reset()
	stderr.Reset()
	code = run([]string{"-backend", "remote", "-endpoint", server.URL, "-health"}, &stdout, &stderr)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr.String(), "unhealthy")
	assert.Contains(t, stderr.String(), "degraded")
}
