package files

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/openmined/peersync/internal/fingerprint"
	"github.com/openmined/peersync/internal/server/content"
	"github.com/openmined/peersync/internal/server/metastore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stallingBackend holds the first Put after its body is stored until
// release is closed.
type stallingBackend struct {
	content.Backend
	stalled atomic.Bool
	stored  chan struct{}
	release chan struct{}
}

func (b *stallingBackend) Put(ctx context.Context, params *content.PutParams) (*content.PutResult, error) {
	res, err := b.Backend.Put(ctx, params)
	if err == nil && b.stalled.CompareAndSwap(false, true) {
		close(b.stored)
		<-b.release
	}
	return res, err
}

type filesFixture struct {
	store   *metastore.Store
	backend content.Backend
	url     string
}

func newFilesFixture(t *testing.T, wrap func(content.Backend) content.Backend) *filesFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store, err := metastore.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	local, err := content.NewLocalBackend(t.TempDir())
	require.NoError(t, err)
	var backend content.Backend = local
	if wrap != nil {
		backend = wrap(local)
	}

	h := New(store, backend, 0)
	r := gin.New()
	r.PUT("/files", h.Upload)
	r.GET("/files/*path", h.Download)
	r.DELETE("/files/*path", h.Delete)

	ts := httptest.NewServer(r)
	t.Cleanup(ts.Close)
	return &filesFixture{store: store, backend: local, url: ts.URL}
}

func (f *filesFixture) upload(ctx context.Context, peerID, path, body string) (int, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	w.WriteField("path", path)
	w.WriteField("peerId", peerID)
	fw, err := w.CreateFormFile("file", path)
	if err != nil {
		return 0, err
	}
	fw.Write([]byte(body))
	w.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, f.url+"/files", &buf)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, err
	}
	resp.Body.Close()
	return resp.StatusCode, nil
}

func (f *filesFixture) storedChecksum(t *testing.T, path string) string {
	t.Helper()
	obj, err := f.backend.Get(t.Context(), path)
	require.NoError(t, err)
	defer obj.Body.Close()
	sum, _, err := fingerprint.HashReader(obj.Body)
	require.NoError(t, err)
	return sum
}

func TestUpload_ConcurrentWritersLeaveRecordMatchingContent(t *testing.T) {
	var stalling *stallingBackend
	f := newFilesFixture(t, func(b content.Backend) content.Backend {
		stalling = &stallingBackend{Backend: b, stored: make(chan struct{}), release: make(chan struct{})}
		return stalling
	})

	var wg sync.WaitGroup
	codes := make(chan int, 2)
	send := func(peerID, body string) {
		defer wg.Done()
		code, err := f.upload(t.Context(), peerID, "shared.txt", body)
		assert.NoError(t, err)
		codes <- code
	}

	wg.Add(1)
	go send("peer-a", "written by a")
	<-stalling.stored

	wg.Add(1)
	go send("peer-b", "written by b")
	// peer-b waits behind peer-a's commit rather than overtaking it
	time.Sleep(100 * time.Millisecond)
	close(stalling.release)

	wg.Wait()
	close(codes)
	for code := range codes {
		assert.Equal(t, http.StatusOK, code)
	}

	rec, err := f.store.Get(t.Context(), "shared.txt")
	require.NoError(t, err)
	assert.Equal(t, f.storedChecksum(t, "shared.txt"), rec.Checksum)

	history, err := f.store.History(t.Context(), "shared.txt", 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "peer-b", history[0].PeerID)
	assert.Equal(t, rec.Checksum, history[0].Checksum)
}

func TestPathLocks(t *testing.T) {
	locks := newPathLocks()

	unlockA := locks.Lock("a.txt")
	unlockB := locks.Lock("b.txt")

	acquired := make(chan struct{})
	go func() {
		unlock := locks.Lock("a.txt")
		close(acquired)
		unlock()
	}()

	select {
	case <-acquired:
		t.Fatal("second writer acquired a held path")
	case <-time.After(50 * time.Millisecond):
	}
	unlockA()
	<-acquired

	tree := make(chan struct{})
	go func() {
		unlock := locks.LockTree()
		close(tree)
		unlock()
	}()
	select {
	case <-tree:
		t.Fatal("tree lock acquired while a writer is active")
	case <-time.After(50 * time.Millisecond):
	}
	unlockB()
	<-tree

	locks.mu.Lock()
	assert.Empty(t, locks.locks)
	locks.mu.Unlock()
}
