// Package watcher turns raw filesystem notifications under a sync root into
// debounced, fingerprinted change events.
package watcher

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/openmined/peersync/internal/fingerprint"
	"github.com/openmined/peersync/internal/syncmsg"
	"github.com/openmined/peersync/internal/utils"
	"github.com/rjeczalik/notify"
)

const (
	DefaultDebounce      = 500 * time.Millisecond
	DefaultPairWindow    = 100 * time.Millisecond
	DefaultIgnoreTimeout = 2 * time.Second

	rawBufferSize   = 256
	eventBufferSize = 256
)

var ErrStopped = errors.New("watcher stopped")

type Option func(*Watcher)

func WithClock(clock clockwork.Clock) Option {
	return func(w *Watcher) { w.clock = clock }
}

func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

func WithIgnorePatterns(globs ...string) Option {
	return func(w *Watcher) { w.extraGlobs = append(w.extraGlobs, globs...) }
}

type pendingChange struct {
	op      syncmsg.Operation
	oldPath string
	timer   clockwork.Timer
}

// moveSource is a rename whose path is already gone, waiting for its
// destination.
type moveSource struct {
	path    string
	at      time.Time
	ignored bool
}

type Watcher struct {
	root       string
	ignore     *IgnoreList
	extraGlobs []string
	clock      clockwork.Clock
	debounce   time.Duration

	rawEvents chan notify.EventInfo
	events    chan syncmsg.ChangeEvent
	done      chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup

	mu       sync.Mutex
	pending  map[string]*pendingChange
	moveSrc  *moveSource
	suppress map[string]time.Time

	// held for reading by every sender, for writing by Stop before the
	// events channel is closed
	emitMu sync.RWMutex
	closed bool
}

func New(root string, opts ...Option) *Watcher {
	w := &Watcher{
		root:     root,
		clock:    clockwork.NewRealClock(),
		debounce: DefaultDebounce,
		events:   make(chan syncmsg.ChangeEvent, eventBufferSize),
		done:     make(chan struct{}),
		pending:  make(map[string]*pendingChange),
		suppress: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.ignore = NewIgnoreList(root, w.extraGlobs...)
	w.ignore.Load()
	return w
}

func (w *Watcher) Root() string {
	return w.root
}

func (w *Watcher) ShouldIgnore(rel string) bool {
	return w.ignore.ShouldIgnore(rel)
}

// Start begins the recursive watch. Events flow until ctx is done or Stop
// is called.
func (w *Watcher) Start(ctx context.Context) error {
	slog.Info("file watcher start", "dir", w.root, "debounce", w.debounce)

	w.rawEvents = make(chan notify.EventInfo, rawBufferSize)
	if err := notify.Watch(filepath.Join(w.root, "..."), w.rawEvents, notify.All); err != nil {
		return err
	}

	w.wg.Add(1)
	go w.readRaw(ctx)
	return nil
}

// Stop cancels every pending debounce timer and closes Events. It is safe to
// call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		slog.Info("file watcher stopping")
		close(w.done)
		if w.rawEvents != nil {
			notify.Stop(w.rawEvents)
		}

		w.mu.Lock()
		for path, p := range w.pending {
			p.timer.Stop()
			delete(w.pending, path)
		}
		w.mu.Unlock()

		w.wg.Wait()

		w.emitMu.Lock()
		w.closed = true
		close(w.events)
		w.emitMu.Unlock()
		slog.Info("file watcher stopped")
	})
}

// Events is the stream of stabilized changes. It is closed by Stop.
func (w *Watcher) Events() <-chan syncmsg.ChangeEvent {
	return w.events
}

// IgnoreOnce swallows the next event emitted for rel within the ignore
// timeout. Used before the peer writes a file it pulled.
func (w *Watcher) IgnoreOnce(rel string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.clock.Now()
	for path, expiry := range w.suppress {
		if now.After(expiry) {
			delete(w.suppress, path)
		}
	}
	w.suppress[utils.NormalizePath(rel)] = now.Add(DefaultIgnoreTimeout)
}

func (w *Watcher) readRaw(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case ev, ok := <-w.rawEvents:
			if !ok {
				return
			}
			w.onRawEvent(ev.Path(), ev.Event())
		}
	}
}

func (w *Watcher) onRawEvent(abs string, ev notify.Event) {
	rel, err := utils.RelPath(w.root, abs)
	if err != nil || rel == "" || rel == "." {
		return
	}

	if rel == IgnoreFileName {
		w.ignore.Load()
	}

	_, statErr := os.Lstat(abs)
	exists := statErr == nil
	ignored := w.ignore.ShouldIgnore(rel)

	w.mu.Lock()
	defer w.mu.Unlock()

	select {
	case <-w.done:
		return
	default:
	}

	switch {
	case ev&notify.Rename != 0 && !exists:
		w.moveSrc = &moveSource{path: rel, at: w.clock.Now(), ignored: ignored}
		if !ignored {
			// resolves to DELETE unless a destination shows up
			w.scheduleLocked(rel, syncmsg.OpDelete, "")
		}

	case ev&(notify.Rename|notify.Create) != 0 && exists:
		if src := w.takeMoveSourceLocked(); src != nil {
			switch {
			case src.ignored:
				// a pull renaming its tmp file into place; the suppression
				// registered for it has nothing left to swallow
				delete(w.suppress, rel)
				slog.Debug("file watcher drop move", "reason", "ignored source", "from", src.path, "to", rel)
			case ignored:
				// source already resolves to DELETE
			default:
				oldPath := src.path
				if p, ok := w.pending[src.path]; ok && p.op == syncmsg.OpMove {
					// chained rename, the peer still knows the first name
					oldPath = p.oldPath
				}
				w.cancelLocked(src.path)
				w.scheduleLocked(rel, syncmsg.OpMove, oldPath)
			}
			return
		}
		if !ignored {
			w.scheduleLocked(rel, syncmsg.OpCreate, "")
		}

	case ev&notify.Remove != 0:
		if !ignored {
			w.scheduleLocked(rel, syncmsg.OpDelete, "")
		}

	case ev&notify.Write != 0:
		if !ignored {
			w.scheduleLocked(rel, syncmsg.OpUpdate, "")
		}
	}
}

func (w *Watcher) takeMoveSourceLocked() *moveSource {
	src := w.moveSrc
	w.moveSrc = nil
	if src == nil || w.clock.Since(src.at) > DefaultPairWindow {
		return nil
	}
	return src
}

func (w *Watcher) cancelLocked(rel string) {
	if p, ok := w.pending[rel]; ok {
		p.timer.Stop()
		delete(w.pending, rel)
	}
}

// scheduleLocked (re)arms the debounce timer for rel and records op. A
// CREATE followed by writes keeps its kind. A pending MOVE keeps its kind
// and oldPath whatever follows, since the source timer is gone and resolve
// turns a vanished destination into DELETE of oldPath.
func (w *Watcher) scheduleLocked(rel string, op syncmsg.Operation, oldPath string) {
	if prev, ok := w.pending[rel]; ok {
		prev.timer.Stop()
		switch {
		case prev.op == syncmsg.OpMove && op == syncmsg.OpMove && prev.oldPath != oldPath:
			// another file moved over the destination; the first source
			// is still gone
			if _, busy := w.pending[prev.oldPath]; !busy {
				w.armLocked(prev.oldPath, &pendingChange{op: syncmsg.OpDelete})
			}
		case prev.op == syncmsg.OpMove:
			op, oldPath = prev.op, prev.oldPath
		case op == syncmsg.OpUpdate && prev.op == syncmsg.OpCreate:
			op = prev.op
		}
	}

	w.armLocked(rel, &pendingChange{op: op, oldPath: oldPath})
}

func (w *Watcher) armLocked(rel string, p *pendingChange) {
	p.timer = w.clock.AfterFunc(w.debounce, func() { w.fire(rel, p) })
	w.pending[rel] = p
}

func (w *Watcher) fire(rel string, p *pendingChange) {
	w.mu.Lock()
	if w.pending[rel] != p {
		w.mu.Unlock()
		return
	}
	delete(w.pending, rel)
	w.mu.Unlock()

	event, ok := w.resolve(rel, p)
	if !ok {
		return
	}
	if w.consumeSuppressed(event.Path()) {
		slog.Debug("file watcher suppressed", "op", event.Operation, "path", event.Path())
		return
	}
	w.emit(event)
}

// resolve fingerprints rel now, not when the raw notification arrived.
func (w *Watcher) resolve(rel string, p *pendingChange) (syncmsg.ChangeEvent, bool) {
	now := w.clock.Now().UTC()

	rec, err := fingerprint.FingerprintRel(w.root, rel)
	if err != nil {
		path := rel
		if p.op == syncmsg.OpMove {
			path = p.oldPath
		}
		return syncmsg.ChangeEvent{
			Operation: syncmsg.OpDelete,
			Record:    &syncmsg.FileRecord{Path: path, ModifiedTime: now},
			Timestamp: now,
		}, true
	}

	op := p.op
	if op == syncmsg.OpDelete {
		// deleted then recreated inside the window
		op = syncmsg.OpUpdate
	}
	if rec.IsDirectory && op != syncmsg.OpMove {
		return syncmsg.ChangeEvent{}, false
	}

	event := syncmsg.ChangeEvent{Operation: op, Record: rec, Timestamp: now}
	if op == syncmsg.OpMove {
		event.OldPath = p.oldPath
	}
	return event, true
}

func (w *Watcher) consumeSuppressed(rel string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	expiry, ok := w.suppress[rel]
	if !ok {
		return false
	}
	delete(w.suppress, rel)
	return !w.clock.Now().After(expiry)
}

func (w *Watcher) emit(event syncmsg.ChangeEvent) {
	w.emitMu.RLock()
	defer w.emitMu.RUnlock()
	if w.closed {
		return
	}

	select {
	case w.events <- event:
		slog.Debug("file watcher", "op", event.Operation, "path", event.Path(), "oldPath", event.OldPath)
	case <-w.done:
	}
}
