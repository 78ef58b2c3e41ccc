package download

import (
	"bytes"
	"context"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// testPayload returns deterministic pseudo-random content of the given size.
func testPayload(size int) []byte {
	payload := make([]byte, size)
	rng := rand.New(rand.NewSource(42)) //nolint:gosec // Deterministic test data.
	_, _ = rng.Read(payload)

	return payload
}

// TestFetch_Chunked verifies a ranged download reassembles the exact payload.
func TestFetch_Chunked(t *testing.T) {
	t.Parallel()

	// Payload deliberately not a multiple of the chunk size.
	payload := testPayload(3*1024 + 517)

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "server.zip", time.Now(), bytes.NewReader(payload))
	}))
	defer ts.Close()

	dest := filepath.Join(t.TempDir(), "server.zip")
	d := New(nil, 4, 1024)

	require.NoError(t, d.Fetch(context.Background(), ts.URL, dest))

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

// TestFetch_SingleStream verifies the fallback when the server ignores ranges.
func TestFetch_SingleStream(t *testing.T) {
	t.Parallel()

	payload := testPayload(2048)

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		// No Accept-Ranges header: the downloader must degrade gracefully.
		_, _ = w.Write(payload)
	}))
	defer ts.Close()

	dest := filepath.Join(t.TempDir(), "server.zip")
	d := New(nil, 4, 1024)

	require.NoError(t, d.Fetch(context.Background(), ts.URL, dest))

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

// TestFetch_SlowStreamOutlivesHeaderTimeout streams a body far slower than
// the client knob: only connection setup and headers are bounded, so a
// healthy transfer that merely takes long must still complete.
func TestFetch_SlowStreamOutlivesHeaderTimeout(t *testing.T) {
	t.Parallel()

	payload := testPayload(5 * 64)

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		flusher, ok := w.(http.Flusher)
		require.True(t, ok)

		for off := 0; off < len(payload); off += 64 {
			_, _ = w.Write(payload[off : off+64])
			flusher.Flush()
			time.Sleep(80 * time.Millisecond)
		}
	}))
	defer ts.Close()

	dest := filepath.Join(t.TempDir(), "server.zip")
	d := New(NewClient(150*time.Millisecond), 4, 1024)

	require.NoError(t, d.Fetch(context.Background(), ts.URL, dest))

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

// TestFetch_RejectsTruncatedRangeResponse ensures a 206 body shorter than the
// requested range fails the download instead of leaving a zero-filled gap.
func TestFetch_RejectsTruncatedRangeResponse(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.Header().Set("Accept-Ranges", "bytes")
			w.Header().Set("Content-Length", "2048")

			return
		}

		w.WriteHeader(http.StatusPartialContent)
		_, _ = w.Write(make([]byte, 10))
	}))
	defer ts.Close()

	dest := filepath.Join(t.TempDir(), "server.zip")
	d := New(nil, 2, 1024)

	err := d.Fetch(context.Background(), ts.URL, dest)
	require.ErrorIs(t, err, errShortChunk)

	_, err = os.Stat(dest)
	require.ErrorIs(t, err, os.ErrNotExist)
}

// TestFetch_FailureRemovesPartialFile ensures no partial file survives an error.
func TestFetch_FailureRemovesPartialFile(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	dest := filepath.Join(t.TempDir(), "server.zip")
	d := New(nil, 2, 1024)

	require.Error(t, d.Fetch(context.Background(), ts.URL, dest))

	_, err := os.Stat(dest)
	require.ErrorIs(t, err, os.ErrNotExist)
}
