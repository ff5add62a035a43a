package server

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/klauspost/compress/zstd"
	"github.com/openmined/peersync/internal/fingerprint"
	"github.com/openmined/peersync/internal/server/handlers/api"
	"github.com/openmined/peersync/internal/syncmsg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	*Server
	url string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	s, err := New(&Config{
		DataDir:     t.TempDir(),
		MaxFileSize: 1024,
		RateLimit:   "1000-S",
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.hub.Run(ctx)
		close(done)
	}()

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ts.Close()
		cancel()
		<-done
		s.store.Close()
	})
	return &testServer{Server: s, url: ts.URL}
}

func (ts *testServer) do(t *testing.T, method, path string, body io.Reader, contentType string) *http.Response {
	t.Helper()
	req, err := http.NewRequestWithContext(t.Context(), method, ts.url+path, body)
	require.NoError(t, err)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (ts *testServer) postJSON(t *testing.T, path string, v any) *http.Response {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return ts.do(t, http.MethodPost, path, bytes.NewReader(data), "application/json")
}

func (ts *testServer) upload(t *testing.T, peerID, path string, data []byte, fields map[string]string) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	require.NoError(t, w.WriteField("path", path))
	require.NoError(t, w.WriteField("peerId", peerID))
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	fw, err := w.CreateFormFile("file", filepath.Base(path))
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return ts.do(t, http.MethodPut, "/api/v1/files", &buf, w.FormDataContentType())
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func checksumOf(t *testing.T, data []byte) string {
	t.Helper()
	sum, _, err := fingerprint.HashReader(bytes.NewReader(data))
	require.NoError(t, err)
	return sum
}

func TestServer_Health(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.do(t, http.MethodGet, "/healthz", nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[map[string]any](t, resp)
	assert.Equal(t, "ok", body["status"])
	assert.NotEmpty(t, body["timestamp"])
}

func TestServer_RegisterAndPeers(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.postJSON(t, "/api/v1/register", map[string]string{"peerId": "p1", "name": "laptop", "syncRoot": "/home/a"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, decode[map[string]any](t, resp)["success"].(bool))

	resp = ts.postJSON(t, "/api/v1/register", map[string]string{"name": "no id"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/api/v1/peers", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[struct {
		Peers []struct {
			PeerID string `json:"peerId"`
			Name   string `json:"name"`
			Online bool   `json:"online"`
		} `json:"peers"`
	}](t, resp)
	require.Len(t, body.Peers, 1)
	assert.Equal(t, "laptop", body.Peers[0].Name)
	assert.False(t, body.Peers[0].Online)
}

// Scenario A: a fresh peer with an empty tree pulls what the coordinator holds.
func TestServer_UploadThenSyncFromEmptyPeer(t *testing.T) {
	ts := newTestServer(t)
	data := []byte("meeting notes")
	mtime := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

	resp := ts.upload(t, "p1", "notes.txt", data, map[string]string{"modifiedTime": mtime.Format(time.RFC3339Nano)})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	rec := decode[syncmsg.FileRecord](t, resp)
	assert.Equal(t, "notes.txt", rec.Path)
	assert.Equal(t, checksumOf(t, data), rec.Checksum)
	assert.Equal(t, int64(len(data)), rec.Size)
	assert.True(t, mtime.Equal(rec.ModifiedTime))

	resp = ts.postJSON(t, "/api/v1/sync", map[string]any{"peerId": "p2", "files": []any{}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	plan := decode[syncmsg.SyncPlan](t, resp)
	require.Len(t, plan.FilesToPull, 1)
	assert.Equal(t, "notes.txt", plan.FilesToPull[0].Path)
	assert.Equal(t, rec.Checksum, plan.FilesToPull[0].Checksum)
	assert.Empty(t, plan.Conflicts)
}

func TestServer_UploadZstd(t *testing.T) {
	ts := newTestServer(t)
	data := bytes.Repeat([]byte("abc"), 100)

	enc, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	compressed := enc.EncodeAll(data, nil)
	require.NoError(t, enc.Close())

	resp := ts.upload(t, "p1", "docs/rep.txt", compressed, map[string]string{"compression": "zstd"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	rec := decode[syncmsg.FileRecord](t, resp)
	assert.Equal(t, checksumOf(t, data), rec.Checksum)

	stored, err := os.ReadFile(filepath.Join(ts.config.DataDir, "docs", "rep.txt"))
	require.NoError(t, err)
	assert.Equal(t, data, stored)
}

func TestServer_UploadRejections(t *testing.T) {
	ts := newTestServer(t)

	for _, bad := range []string{"../escape.txt", "/etc/passwd", "a/../../b", ".peersync/state.db"} {
		resp := ts.upload(t, "p1", bad, []byte("x"), nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, bad)
		assert.Equal(t, api.CodeFileInvalidPath, decode[api.APIError](t, resp).Code, bad)
	}

	resp := ts.upload(t, "p1", "big.bin", make([]byte, 2048), nil)
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)

	resp = ts.upload(t, "p1", "x.bin", []byte("x"), map[string]string{"compression": "lz4"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = ts.upload(t, "p1", "x.bin", []byte("x"), map[string]string{"modifiedTime": "yesterday"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_DownloadSupportsRange(t *testing.T) {
	ts := newTestServer(t)
	data := []byte("0123456789")
	require.Equal(t, http.StatusOK, ts.upload(t, "p1", "digits.txt", data, nil).StatusCode)

	resp := ts.do(t, http.MethodGet, "/api/v1/files/digits.txt", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, data, got)
	assert.Equal(t, checksumOf(t, data), resp.Header.Get("X-Sync-Checksum"))

	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, ts.url+"/api/v1/files/digits.txt", nil)
	require.NoError(t, err)
	req.Header.Set("Range", "bytes=2-4")
	ranged, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer ranged.Body.Close()
	assert.Equal(t, http.StatusPartialContent, ranged.StatusCode)
	got, err = io.ReadAll(ranged.Body)
	require.NoError(t, err)
	assert.Equal(t, "234", string(got))

	resp = ts.do(t, http.MethodGet, "/api/v1/files/missing.txt", nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_DeleteIsIdempotent(t *testing.T) {
	ts := newTestServer(t)
	require.Equal(t, http.StatusOK, ts.upload(t, "p1", "trash/old.txt", []byte("bye"), nil).StatusCode)

	for range 2 {
		resp := ts.do(t, http.MethodDelete, "/api/v1/files/trash/old.txt?peerId=p1", nil, "")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	}

	resp := ts.do(t, http.MethodGet, "/api/v1/files/trash/old.txt", nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = ts.do(t, http.MethodDelete, "/api/v1/files/trash/old.txt", nil, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "peerId is required")

	resp = ts.do(t, http.MethodGet, "/api/v1/history?path=trash/old.txt", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	history := decode[struct {
		History []*syncmsg.OpLogEntry `json:"history"`
	}](t, resp)
	require.Len(t, history.History, 2)
	assert.Equal(t, syncmsg.OpDelete, history.History[0].Operation)
	assert.Equal(t, syncmsg.OpCreate, history.History[1].Operation)
}

func TestServer_ConflictsListsContendedPaths(t *testing.T) {
	ts := newTestServer(t)
	require.Equal(t, http.StatusOK, ts.upload(t, "p1", "shared.txt", []byte("one"), nil).StatusCode)
	require.Equal(t, http.StatusOK, ts.upload(t, "p2", "shared.txt", []byte("two"), nil).StatusCode)
	require.Equal(t, http.StatusOK, ts.upload(t, "p1", "mine.txt", []byte("solo"), nil).StatusCode)

	resp := ts.do(t, http.MethodGet, "/api/v1/conflicts", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[struct {
		Conflicts []string `json:"conflicts"`
	}](t, resp)
	assert.Equal(t, []string{"shared.txt"}, body.Conflicts)
}

func TestServer_Stats(t *testing.T) {
	ts := newTestServer(t)
	require.Equal(t, http.StatusOK, ts.upload(t, "p1", "a.txt", []byte("a"), nil).StatusCode)

	resp := ts.do(t, http.MethodGet, "/api/v1/stats", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[map[string]any](t, resp)
	assert.EqualValues(t, 1, body["files"])
	assert.EqualValues(t, 0, body["peersOnline"])
}

func TestServer_StorageUnavailable(t *testing.T) {
	ts := newTestServer(t)
	require.NoError(t, ts.store.Close())

	resp := ts.postJSON(t, "/api/v1/sync", map[string]any{"peerId": "p1", "files": []any{}})
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, api.CodeStorageUnavailable, decode[api.APIError](t, resp).Code)

	resp = ts.upload(t, "p1", "a.txt", []byte("a"), nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	// liveness endpoints keep answering
	resp = ts.do(t, http.MethodGet, "/healthz", nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestConfig_Validate(t *testing.T) {
	cfg := &Config{DataDir: t.TempDir()}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, DefaultAddr, cfg.HTTP.Addr)
	assert.Equal(t, filepath.Join(cfg.DataDir, ".peersync", "state.db"), cfg.DBPath)
	assert.Equal(t, int64(100<<20), cfg.MaxFileSize)
	assert.Equal(t, 30*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, time.Hour, cfg.ConflictWindow)

	assert.Error(t, (&Config{}).Validate())
	assert.Error(t, (&Config{DataDir: t.TempDir(), HTTP: HTTPConfig{CertFile: "c.pem"}}).Validate())

	bad := &Config{DataDir: t.TempDir()}
	bad.Content.Backend = "s3"
	assert.True(t, strings.Contains(bad.Validate().Error(), "bucket_name"))
}
