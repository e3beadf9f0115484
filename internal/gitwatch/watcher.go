// Package gitwatch watches a single Git repository's .git directory for
// HEAD advances and emits a CommitInfo for each new commit. Grounded on the
// fsnotify-based approach in the zed-git-view reference watcher (watch only
// the handful of .git state paths that matter, never the whole working
// tree) and on the teacher's internal/git shell-out idiom for reading
// commit data.
package gitwatch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	ignore "github.com/sabhiram/go-gitignore"

	"github.com/re-cinq/devtrackd/internal/errs"
)

// debounceWindow is the minimum delay to let Git finish writing HEAD
// before it is re-read (spec §4.3, §9 — not magic, the settle time for the
// repository's own write).
const debounceWindow = 100 * time.Millisecond

// state is the watcher's lifecycle state machine (spec §4.3): New →
// Watching → {Stopped | Failed}. Failed is terminal.
type state int

const (
	stateNew state = iota
	stateWatching
	stateStopped
	stateFailed
)

// OnCommit is invoked once per HEAD advance, serialized per repository.
type OnCommit func(CommitInfo)

// Watcher watches one repository's .git tree for HEAD advances.
type Watcher struct {
	repoPath string
	gitDir   string
	repo     *repo
	ignore   *ignore.GitIgnore

	mu       sync.Mutex
	state    state
	lastSeen string

	fsw    *fsnotify.Watcher
	cancel context.CancelFunc
	done   chan struct{}
}

// New validates repoPath contains a .git directory and returns a Watcher in
// state New. ignorePatterns filters changed-file lists via the same
// go-gitignore matcher the teacher exercises in ignore_test.go.
func New(repoPath string, ignorePatterns []string) (*Watcher, error) {
	gitDir := filepath.Join(repoPath, ".git")
	if info, err := os.Stat(gitDir); err != nil || (!info.IsDir() && !isWorktreeFile(gitDir)) {
		return nil, fmt.Errorf("%w: %s", errs.ErrNotARepository, repoPath)
	}

	var gi *ignore.GitIgnore
	if len(ignorePatterns) > 0 {
		gi = ignore.CompileIgnoreLines(ignorePatterns...)
	}

	return &Watcher{
		repoPath: repoPath,
		gitDir:   gitDir,
		repo:     &repo{dir: repoPath},
		ignore:   gi,
		state:    stateNew,
	}, nil
}

func isWorktreeFile(gitDir string) bool {
	info, err := os.Stat(gitDir)
	return err == nil && !info.IsDir()
}

// Start begins watching. It records HEAD as the last-seen cursor without
// emitting for it, then invokes onCommit once per subsequent HEAD advance.
func (w *Watcher) Start(ctx context.Context, onCommit OnCommit) error {
	w.mu.Lock()
	if w.state != stateNew {
		w.mu.Unlock()
		return fmt.Errorf("%w: watcher already started", errs.ErrWatcherUnavailable)
	}

	head, err := w.repo.headCommit()
	if err != nil {
		w.state = stateFailed
		w.mu.Unlock()
		return fmt.Errorf("%w: reading initial HEAD: %v", errs.ErrWatcherUnavailable, err)
	}
	w.lastSeen = head

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		w.state = stateFailed
		w.mu.Unlock()
		return fmt.Errorf("%w: %v", errs.ErrWatcherUnavailable, err)
	}
	for _, target := range w.watchTargets() {
		_ = fsw.Add(target) // best-effort: some dirs (refs/remotes) may not exist yet
	}

	runCtx, cancel := context.WithCancel(ctx)
	w.fsw = fsw
	w.cancel = cancel
	w.done = make(chan struct{})
	w.state = stateWatching
	w.mu.Unlock()

	go w.loop(runCtx, onCommit)
	return nil
}

// watchTargets returns the .git-internal paths worth an inotify/kqueue
// watch — mirroring the zed-git-view reference's narrow target list so a
// monorepo's tracked-file count never exhausts the platform's watch
// budget.
func (w *Watcher) watchTargets() []string {
	targets := []string{
		w.gitDir,
		filepath.Join(w.gitDir, "refs"),
		filepath.Join(w.gitDir, "refs", "heads"),
		filepath.Join(w.gitDir, "refs", "tags"),
	}
	remotes := filepath.Join(w.gitDir, "refs", "remotes")
	if info, err := os.Stat(remotes); err == nil && info.IsDir() {
		targets = append(targets, remotes)
		if entries, err := os.ReadDir(remotes); err == nil {
			for _, e := range entries {
				if e.IsDir() {
					targets = append(targets, filepath.Join(remotes, e.Name()))
				}
			}
		}
	}
	return targets
}

// Stop releases the watcher's filesystem watches and waits for its loop to
// exit.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if w.state != stateWatching {
		w.mu.Unlock()
		return nil
	}
	w.state = stateStopped
	cancel := w.cancel
	fsw := w.fsw
	done := w.done
	w.mu.Unlock()

	cancel()
	<-done
	return fsw.Close()
}

func (w *Watcher) loop(ctx context.Context, onCommit OnCommit) {
	defer close(w.done)

	var timer *time.Timer
	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if shouldIgnoreEvent(ev) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounceWindow)
			} else {
				timer.Reset(debounceWindow)
			}

		case _, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			// Watch errors are discarded: they are not logged, the watcher
			// keeps running, and it never moves to the Failed state or
			// reports ErrWatcherFailed.

		case <-timerChan(timer):
			timer = nil
			w.checkHead(onCommit)
		}
	}
}

func timerChan(t *time.Timer) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}

// shouldIgnoreEvent filters out lock files and editor temp files per spec
// §4.3: the watcher never reacts to these regardless of event type.
func shouldIgnoreEvent(ev fsnotify.Event) bool {
	if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
		return true
	}
	base := filepath.Base(ev.Name)
	return strings.HasSuffix(base, ".lock") || strings.HasSuffix(base, "~")
}

// checkHead reads HEAD and, if it has advanced past lastSeen, emits one
// CommitInfo and advances the cursor. Emissions are serialized: checkHead
// only ever runs on the watcher's own loop goroutine.
func (w *Watcher) checkHead(onCommit OnCommit) {
	head, err := w.repo.headCommit()
	if err != nil {
		return // read error: dropped without logging, watcher continues
	}

	w.mu.Lock()
	if head == w.lastSeen {
		w.mu.Unlock()
		return
	}
	w.lastSeen = head
	w.mu.Unlock()

	info, err := w.repo.commitInfo(head)
	if err != nil {
		return
	}
	if w.ignore != nil && len(info.Files) > 0 && allFilesIgnored(w.ignore, info.Files) {
		return
	}
	if onCommit != nil {
		onCommit(*info)
	}
}

// RepoPath returns the path this watcher was constructed for.
func (w *Watcher) RepoPath() string {
	return w.repoPath
}

// allFilesIgnored reports whether every path in files matches gi — a commit
// whose full changed-file set is covered by ignore patterns produces no
// emission (SPEC_FULL §4.0 ignore-pattern wiring).
func allFilesIgnored(gi *ignore.GitIgnore, files []string) bool {
	for _, f := range files {
		if !gi.MatchesPath(f) {
			return false
		}
	}
	return true
}
