package config

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/agentbridge/agentbridge/internal/logging"
	"github.com/agentbridge/agentbridge/internal/policy"
)

// debounceWindow coalesces the write bursts editors produce when saving.
const debounceWindow = 200 * time.Millisecond

// Watcher reloads the policy section when a config file in the project
// directory changes and hands the fresh rules to the registered callback.
type Watcher struct {
	watcher   *fsnotify.Watcher
	directory string
	onPolicy  func(policy.Rules)
	log       zerolog.Logger

	stopCh  chan struct{}
	doneCh  chan struct{}
	started bool
	mu      sync.Mutex
}

// NewWatcher watches directory (and its .agentbridge subdirectory when
// present) for config changes. onPolicy is invoked with the merged policy
// rules after each successful reload.
func NewWatcher(directory string, onPolicy func(policy.Rules)) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	log := logging.Component("config")

	// Watch the directories, not the files: editors replace files on
	// save, which drops file-level watches.
	if err := w.Add(directory); err != nil {
		w.Close()
		return nil, err
	}
	if sub := filepath.Join(directory, ".agentbridge"); w.Add(sub) != nil {
		// Missing subdirectory is fine.
		log.Debug().Str("dir", sub).Msg("no project config subdirectory")
	}

	return &Watcher{
		watcher:   w,
		directory: directory,
		onPolicy:  onPolicy,
		log:       log,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}, nil
}

// Start begins watching. Safe to call once.
func (w *Watcher) Start() {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return
	}
	w.started = true
	w.mu.Unlock()
	go w.run()
}

// Stop stops watching and waits for the loop to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	started := w.started
	w.mu.Unlock()

	close(w.stopCh)
	w.watcher.Close()
	if started {
		<-w.doneCh
	}
}

func (w *Watcher) run() {
	defer close(w.doneCh)

	watched := make(map[string]bool)
	for _, p := range candidateFiles(w.directory) {
		watched[filepath.Clean(p)] = true
	}

	var pending *time.Timer
	var pendingCh <-chan time.Time

	for {
		select {
		case <-w.stopCh:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if !watched[filepath.Clean(ev.Name)] {
				continue
			}
			if pending == nil {
				pending = time.NewTimer(debounceWindow)
				pendingCh = pending.C
			} else {
				pending.Reset(debounceWindow)
			}
		case <-pendingCh:
			pending = nil
			pendingCh = nil
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn().Err(err).Msg("config watch error")
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.directory)
	if err != nil {
		w.log.Warn().Err(err).Msg("config reload failed, keeping previous policy")
		return
	}
	w.log.Info().
		Int("readGlobs", len(cfg.Policy.ReadGlobs)).
		Int("shellPatterns", len(cfg.Policy.Shell)).
		Msg("policy rules reloaded")
	if w.onPolicy != nil {
		w.onPolicy(cfg.Policy)
	}
}
