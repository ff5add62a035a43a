package orchestrator

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/openmined/peersync/internal/client/syncsdk"
	"github.com/openmined/peersync/internal/fingerprint"
	"github.com/openmined/peersync/internal/syncmsg"
	"github.com/openmined/peersync/internal/utils"
)

type fakeStream struct {
	in        chan *syncmsg.Message
	done      chan struct{}
	closeOnce sync.Once
	failSend  atomic.Bool
	attempts  atomic.Int32

	mu   sync.Mutex
	sent []*syncmsg.Message
}

func newFakeStream() *fakeStream {
	return &fakeStream{
		in:   make(chan *syncmsg.Message, 16),
		done: make(chan struct{}),
	}
}

func (s *fakeStream) Send(_ context.Context, msg *syncmsg.Message) error {
	s.attempts.Add(1)
	if s.failSend.Load() {
		return errors.New("broken pipe")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, msg)
	return nil
}

func (s *fakeStream) Messages() <-chan *syncmsg.Message { return s.in }
func (s *fakeStream) Done() <-chan struct{}             { return s.done }
func (s *fakeStream) Close()                            { s.closeOnce.Do(func() { close(s.done) }) }

func (s *fakeStream) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// fileChanges returns the FILE_CHANGED messages sent so far.
func (s *fakeStream) fileChanges() []*syncmsg.FileChanged {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*syncmsg.FileChanged
	for _, m := range s.sent {
		if fc, ok := m.Data.(*syncmsg.FileChanged); ok {
			out = append(out, fc)
		}
	}
	return out
}

// fakeCoordinator keeps content in memory and records every call.
type fakeCoordinator struct {
	mu      sync.Mutex
	calls   []string
	content map[string][]byte
	plan    *syncmsg.SyncPlan
	streams []*fakeStream

	// announce a checksum that never matches the body
	badChecksum atomic.Bool
}

func newFakeCoordinator() *fakeCoordinator {
	return &fakeCoordinator{content: make(map[string][]byte)}
}

func (f *fakeCoordinator) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeCoordinator) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeCoordinator) Register(context.Context, *syncsdk.RegisterParams) error {
	f.record("register")
	return nil
}

func (f *fakeCoordinator) Reconcile(context.Context, []*syncmsg.FileRecord) (*syncmsg.SyncPlan, error) {
	f.record("reconcile")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.plan != nil {
		return f.plan, nil
	}
	return &syncmsg.SyncPlan{}, nil
}

func (f *fakeCoordinator) Upload(_ context.Context, params *syncsdk.UploadParams) (*syncmsg.FileRecord, error) {
	f.record("upload " + params.Path)
	data, err := os.ReadFile(params.FilePath)
	if err != nil {
		return nil, err
	}
	sum, size, err := fingerprint.HashFile(params.FilePath)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.content[params.Path] = data
	f.mu.Unlock()
	return &syncmsg.FileRecord{Path: params.Path, Checksum: sum, Size: size, ModifiedTime: params.ModifiedTime.UTC()}, nil
}

func (f *fakeCoordinator) Download(_ context.Context, path string, w io.Writer) (*syncsdk.DownloadResult, error) {
	f.record("download " + path)
	f.mu.Lock()
	data, ok := f.content[path]
	f.mu.Unlock()
	if !ok {
		return nil, syncsdk.ErrFileNotFound
	}
	hasher := fingerprint.NewHasher(w)
	if _, err := hasher.Write(data); err != nil {
		return nil, err
	}
	announced := hasher.Checksum()
	if f.badChecksum.Load() {
		announced = "0000"
	}
	return &syncsdk.DownloadResult{Checksum: announced, Computed: hasher.Checksum(), Size: hasher.Size()}, nil
}

func (f *fakeCoordinator) Delete(_ context.Context, path string) (*syncsdk.DeleteResponse, error) {
	f.record("delete " + path)
	f.mu.Lock()
	_, existed := f.content[path]
	delete(f.content, path)
	f.mu.Unlock()
	return &syncsdk.DeleteResponse{Path: path, Deleted: existed}, nil
}

func (f *fakeCoordinator) Connect(context.Context) (EventStream, error) {
	f.record("connect")
	s := newFakeStream()
	f.mu.Lock()
	f.streams = append(f.streams, s)
	f.mu.Unlock()
	return s, nil
}

func (f *fakeCoordinator) put(path, data string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.content[path] = []byte(data)
	sum, _, _ := fingerprint.HashReader(strings.NewReader(data))
	return sum
}

func (f *fakeCoordinator) stream(i int) *fakeStream {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i >= len(f.streams) {
		return nil
	}
	return f.streams[i]
}

func (f *fakeCoordinator) streamCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.streams)
}

// fakeWatcher lists the real root but never watches it.
type fakeWatcher struct {
	root   string
	events chan syncmsg.ChangeEvent

	mu      sync.Mutex
	ignored []string
}

func newFakeWatcher(root string) *fakeWatcher {
	return &fakeWatcher{root: root, events: make(chan syncmsg.ChangeEvent, 16)}
}

func (w *fakeWatcher) Events() <-chan syncmsg.ChangeEvent { return w.events }

func (w *fakeWatcher) ListAll(context.Context) ([]*syncmsg.FileRecord, error) {
	var out []*syncmsg.FileRecord
	err := filepath.WalkDir(w.root, func(abs string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() && d.Name() == ".peersync" {
			return filepath.SkipDir
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if rec, err := fingerprint.Fingerprint(w.root, abs); err == nil {
			out = append(out, rec)
		}
		return nil
	})
	return out, err
}

func (w *fakeWatcher) IgnoreOnce(rel string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.ignored = append(w.ignored, utils.NormalizePath(rel))
}

func (w *fakeWatcher) ShouldIgnore(rel string) bool {
	return rel == ".peersync" || strings.HasPrefix(rel, ".peersync/")
}

func (w *fakeWatcher) Ignored() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.ignored...)
}

func (w *fakeWatcher) emit(ev syncmsg.ChangeEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	w.events <- ev
}
