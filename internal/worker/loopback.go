// Package worker hosts the loopback labeller, a development stand-in for
// the external inference service. Every object landing under the
// unlabelled prefix is copied to its labelled sibling after a fixed delay,
// as if a detector had produced an annotated image.
package worker

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/zulfikar2701/sakae-riken-screws-detection/internal/mailbox"
	"github.com/zulfikar2701/sakae-riken-screws-detection/internal/repository/ports"
)

type LoopbackConfig struct {
	// Delay simulates inference time between pickup and labelled write.
	Delay time.Duration
	// SweepInterval bounds how stale the List-based fallback can get.
	SweepInterval time.Duration
	// WatchDir enables fsnotify pickup for the local backend. Empty means
	// sweep-only, which is what the MinIO backend uses.
	WatchDir string
}

const (
	defaultLoopbackDelay = 5 * time.Second
	defaultSweepInterval = 2 * time.Second
	labelOpTimeout       = 30 * time.Second
)

type Loopback struct {
	store    ports.ObjectStore
	keys     mailbox.KeyScheme
	delay    time.Duration
	sweep    time.Duration
	watchDir string

	mu       sync.Mutex
	running  bool
	inflight map[string]struct{}

	watcher *fsnotify.Watcher
	stopCh  chan struct{}
	doneCh  chan struct{}
	wg      sync.WaitGroup
}

func NewLoopback(store ports.ObjectStore, keys mailbox.KeyScheme, cfg LoopbackConfig) *Loopback {
	delay := cfg.Delay
	if delay <= 0 {
		delay = defaultLoopbackDelay
	}
	sweep := cfg.SweepInterval
	if sweep <= 0 {
		sweep = defaultSweepInterval
	}
	return &Loopback{
		store:    store,
		keys:     keys,
		delay:    delay,
		sweep:    sweep,
		watchDir: cfg.WatchDir,
		inflight: make(map[string]struct{}),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start launches the labeller loop. Non-blocking; call Stop to shut down.
func (l *Loopback) Start() error {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return nil
	}
	l.running = true
	l.mu.Unlock()

	if l.watchDir != "" {
		if err := os.MkdirAll(l.watchDir, 0o755); err != nil {
			log.Printf("loopback: create watch dir %s: %v", l.watchDir, err)
		}
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return err
		}
		if err := watcher.Add(l.watchDir); err != nil {
			// The sweep still covers pickup; events are an optimization.
			log.Printf("loopback: watch %s: %v", l.watchDir, err)
		} else {
			log.Printf("loopback: watching %s", l.watchDir)
		}
		l.watcher = watcher
	}

	go l.run()
	return nil
}

// Stop halts the loop and waits for in-flight label copies to finish.
func (l *Loopback) Stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	l.running = false
	l.mu.Unlock()

	close(l.stopCh)
	<-l.doneCh

	if l.watcher != nil {
		if err := l.watcher.Close(); err != nil {
			log.Printf("loopback: close watcher: %v", err)
		}
	}
	l.wg.Wait()
}

func (l *Loopback) run() {
	defer close(l.doneCh)

	ticker := time.NewTicker(l.sweep)
	defer ticker.Stop()

	var events <-chan fsnotify.Event
	var errs <-chan error
	if l.watcher != nil {
		events = l.watcher.Events
		errs = l.watcher.Errors
	}

	l.sweepOnce()

	for {
		select {
		case <-l.stopCh:
			return

		case event, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			key := l.keys.UnlabelledPrefix() + "/" + filepath.Base(event.Name)
			l.schedule(key)

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			log.Printf("loopback: watcher error: %v", err)

		case <-ticker.C:
			l.sweepOnce()
		}
	}
}

func (l *Loopback) sweepOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), labelOpTimeout)
	defer cancel()

	unlabelled, err := l.store.List(ctx, l.keys.UnlabelledPrefix()+"/")
	if err != nil {
		log.Printf("loopback: list unlabelled: %v", err)
		return
	}
	if len(unlabelled) == 0 {
		return
	}

	labelled, err := l.store.List(ctx, l.keys.LabelledPrefix()+"/")
	if err != nil {
		log.Printf("loopback: list labelled: %v", err)
		return
	}
	done := make(map[string]struct{}, len(labelled))
	for _, info := range labelled {
		done[info.Key] = struct{}{}
	}

	for _, info := range unlabelled {
		target, err := l.keys.DeriveLabelledKey(info.Key)
		if err != nil {
			continue
		}
		if _, ok := done[target]; ok {
			continue
		}
		l.schedule(info.Key)
	}
}

// schedule queues one labelled-copy for key unless it is already pending.
// Keys that do not carry a mailbox identifier (sidecars, temp files) are
// ignored.
func (l *Loopback) schedule(key string) {
	if _, err := mailbox.ParseID(key); err != nil {
		return
	}
	target, err := l.keys.DeriveLabelledKey(key)
	if err != nil {
		return
	}

	l.mu.Lock()
	if _, busy := l.inflight[key]; busy {
		l.mu.Unlock()
		return
	}
	l.inflight[key] = struct{}{}
	l.mu.Unlock()

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer func() {
			l.mu.Lock()
			delete(l.inflight, key)
			l.mu.Unlock()
		}()

		select {
		case <-l.stopCh:
			return
		case <-time.After(l.delay):
		}
		l.label(key, target)
	}()
}

func (l *Loopback) label(key, target string) {
	ctx, cancel := context.WithTimeout(context.Background(), labelOpTimeout)
	defer cancel()

	if _, err := l.store.Stat(ctx, target); err == nil {
		return
	}

	rc, info, err := l.store.Get(ctx, key)
	if err != nil {
		if !ports.IsObjectNotFound(err) {
			log.Printf("loopback: read %s: %v", key, err)
		}
		return
	}
	defer rc.Close()

	if err := l.store.Put(ctx, target, "image/jpeg", rc, info.Size); err != nil {
		log.Printf("loopback: label %s: %v", key, err)
		return
	}
	log.Printf("loopback: labelled %s -> %s", key, target)
}
