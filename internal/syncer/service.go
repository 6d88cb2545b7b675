// Package syncer keeps the remote semantic index eventually consistent with
// the vault's understanding notes.
package syncer

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/starford/ansuz/internal/ledger"
	"github.com/starford/ansuz/internal/models"
	"github.com/starford/ansuz/internal/transport"
	"github.com/starford/ansuz/internal/vault"
)

// DefaultDebounceWindow is how long the service waits after the first event
// of a burst before draining the pending set.
const DefaultDebounceWindow = 500 * time.Millisecond

// Indexer is the slice of the transport client the sync service depends on.
type Indexer interface {
	IndexUpsert(ctx context.Context, req transport.IndexRequest) (*transport.IndexResponse, error)
	IndexDelete(ctx context.Context, path string) (*transport.DeleteResponse, error)
}

// EventKind identifies a vault file lifecycle notification.
type EventKind int

const (
	EventCreated EventKind = iota
	EventModified
	EventDeleted
	EventRenamed
)

// Event is one vault file lifecycle notification. OldPath is set only for
// EventRenamed.
type Event struct {
	Kind    EventKind
	Path    string
	OldPath string
}

// NotifyFunc is called after a successful remote index mutation.
// kind is one of "indexed", "removed".
type NotifyFunc func(kind, path string)

// Status is a point-in-time snapshot of the service state.
type Status struct {
	Pending  int  `json:"pending"`
	Draining bool `json:"draining"`
}

// Report accumulates the outcome of a full resync.
type Report struct {
	IndexedCount int      `json:"indexed_count"`
	Errors       []string `json:"errors"`
}

// Service owns the pending-paths set and the in-progress flag. All mutable
// state is confined to the Run loop goroutine; other goroutines communicate
// through channels, so no state is touched concurrently.
//
// The service gives at-least-once delivery: a failed upsert re-queues its
// path for the next drain with no retry bound. Remote deletes are never
// retried since their source note no longer exists.
type Service struct {
	store  vault.Provider
	client Indexer
	ldb    *ledger.DB
	logger *slog.Logger
	notify NotifyFunc

	events   chan Event
	drainCh  chan struct{}
	statusCh chan chan Status
	stopped  chan struct{}
	deb      *Debouncer

	// Run-loop owned. Never touched outside the loop.
	pending  map[string]struct{}
	draining bool
}

// New creates a sync service. notify may be nil. window <= 0 selects the
// default debounce window.
func New(store vault.Provider, client Indexer, ldb *ledger.DB, logger *slog.Logger, window time.Duration, notify NotifyFunc) *Service {
	if window <= 0 {
		window = DefaultDebounceWindow
	}
	s := &Service{
		store:    store,
		client:   client,
		ldb:      ldb,
		logger:   logger,
		notify:   notify,
		events:   make(chan Event, 256),
		drainCh:  make(chan struct{}, 1),
		statusCh: make(chan chan Status),
		stopped:  make(chan struct{}),
		pending:  make(map[string]struct{}),
	}
	s.deb = NewDebouncer(window, s.requestDrain)
	return s
}

// OnCreated reports a created vault file.
func (s *Service) OnCreated(path string) { s.send(Event{Kind: EventCreated, Path: path}) }

// OnModified reports a modified vault file.
func (s *Service) OnModified(path string) { s.send(Event{Kind: EventModified, Path: path}) }

// OnDeleted reports a deleted vault file.
func (s *Service) OnDeleted(path string) { s.send(Event{Kind: EventDeleted, Path: path}) }

// OnRenamed reports a file moved from oldPath to newPath.
func (s *Service) OnRenamed(oldPath, newPath string) {
	s.send(Event{Kind: EventRenamed, Path: newPath, OldPath: oldPath})
}

func (s *Service) send(ev Event) {
	select {
	case s.events <- ev:
	case <-s.stopped:
	}
}

// Status returns a snapshot of pending-set size and drain state.
func (s *Service) Status() Status {
	resp := make(chan Status, 1)
	select {
	case s.statusCh <- resp:
		return <-resp
	case <-s.stopped:
		return Status{}
	}
}

// requestDrain signals the run loop; an already-pending signal coalesces.
func (s *Service) requestDrain() {
	select {
	case s.drainCh <- struct{}{}:
	default:
	}
}

// Run processes events and drain signals until ctx is cancelled. It first
// reconciles the ledger against the vault so edits made while the daemon was
// down are picked up.
func (s *Service) Run(ctx context.Context) error {
	defer close(s.stopped)
	defer s.deb.Cancel()

	s.reconcile(ctx)

	s.logger.Info("syncer: started")
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("syncer: stopped")
			return nil

		case ev := <-s.events:
			s.handleEvent(ctx, ev)

		case <-s.drainCh:
			s.drain(ctx)

		case resp := <-s.statusCh:
			resp <- Status{Pending: len(s.pending), Draining: s.draining}
		}
	}
}

// handleEvent applies role rules to one lifecycle notification. Roles are
// path-derived, so a rename across role folders implicitly changes role.
func (s *Service) handleEvent(ctx context.Context, ev Event) {
	switch ev.Kind {
	case EventCreated, EventModified:
		if vault.RoleForPath(ev.Path) == models.RoleUnderstanding {
			s.enqueue(ev.Path)
		}

	case EventDeleted:
		if vault.RoleForPath(ev.Path) == models.RoleUnderstanding {
			s.remoteDelete(ctx, ev.Path)
		}

	case EventRenamed:
		// A rename is delete-old plus (re)index-new; the remote service has
		// no move operation.
		if vault.RoleForPath(ev.OldPath) == models.RoleUnderstanding {
			s.remoteDelete(ctx, ev.OldPath)
		}
		if vault.RoleForPath(ev.Path) == models.RoleUnderstanding {
			s.enqueue(ev.Path)
		}
	}
}

// enqueue adds a path to the pending set (idempotent) and schedules a drain.
func (s *Service) enqueue(path string) {
	s.pending[path] = struct{}{}
	s.deb.Schedule()
}

// drain snapshots and clears the pending set, then pushes each path to the
// remote index. A failed upsert re-queues its path without re-reading it.
// Paths queued by events arriving during the pass are left for the next one.
func (s *Service) drain(ctx context.Context) {
	if len(s.pending) == 0 {
		return
	}
	s.draining = true

	snapshot := make([]string, 0, len(s.pending))
	for p := range s.pending {
		snapshot = append(snapshot, p)
	}
	sort.Strings(snapshot)
	s.pending = make(map[string]struct{})

	s.logger.Debug("syncer: drain started", slog.Int("paths", len(snapshot)))

	for _, path := range snapshot {
		if err := s.upsertOne(ctx, path); err != nil {
			s.logger.Warn("syncer: upsert failed",
				slog.String("path", path),
				slog.String("error", err.Error()))
			s.pending[path] = struct{}{}
		}
	}

	s.draining = false
	if len(s.pending) > 0 {
		s.deb.Schedule()
	}
}

// upsertOne reads the current content of one understanding note and sends it
// to the remote index. A path that no longer resolves to a file is skipped
// without error.
func (s *Service) upsertOne(ctx context.Context, path string) error {
	data, err := s.store.Read(path)
	if err != nil {
		s.logger.Debug("syncer: skipped missing note", slog.String("path", path))
		return nil
	}
	fm, body := vault.ParseFrontmatter(data)

	raw := fm.Raw
	if raw == nil {
		raw = map[string]any{}
	}
	if _, err := s.client.IndexUpsert(ctx, transport.IndexRequest{
		Path:        path,
		Content:     body,
		Frontmatter: raw,
	}); err != nil {
		return err
	}

	if s.ldb != nil {
		if err := s.ldb.Record(path, vault.Checksum(data)); err != nil {
			s.logger.Warn("syncer: ledger record failed", slog.String("path", path), slog.String("error", err.Error()))
		}
	}
	s.logger.Debug("syncer: indexed", slog.String("path", path))
	if s.notify != nil {
		s.notify("indexed", path)
	}
	return nil
}

// remoteDelete removes a path from the remote index. Failures are logged but
// never retried: the note is gone, so there is nothing to re-read.
func (s *Service) remoteDelete(ctx context.Context, path string) {
	if _, err := s.client.IndexDelete(ctx, path); err != nil {
		s.logger.Warn("syncer: remote delete failed",
			slog.String("path", path),
			slog.String("error", err.Error()))
		return
	}
	if s.ldb != nil {
		if err := s.ldb.Forget(path); err != nil {
			s.logger.Warn("syncer: ledger forget failed", slog.String("path", path), slog.String("error", err.Error()))
		}
	}
	s.logger.Debug("syncer: removed", slog.String("path", path))
	if s.notify != nil {
		s.notify("removed", path)
	}
}

// reconcile diffs the ledger against the vault at startup: understanding
// notes changed on disk are enqueued, ledger entries without a file are
// deleted remotely.
func (s *Service) reconcile(ctx context.Context) {
	if s.ldb == nil {
		return
	}
	recorded, err := s.ldb.AllChecksums()
	if err != nil {
		s.logger.Warn("syncer: reconcile read ledger failed", slog.String("error", err.Error()))
		return
	}
	metas, err := s.store.List(vault.UnderstandingsFolder)
	if err != nil {
		s.logger.Warn("syncer: reconcile list failed", slog.String("error", err.Error()))
		return
	}

	disk := make(map[string]string, len(metas))
	for _, m := range metas {
		disk[m.Path] = m.Checksum
	}

	for p := range recorded {
		if _, ok := disk[p]; !ok {
			s.logger.Debug("syncer: reconcile stale", slog.String("path", p))
			s.remoteDelete(ctx, p)
		}
	}
	for p, cs := range disk {
		if recorded[p] != cs {
			s.logger.Debug("syncer: reconcile changed", slog.String("path", p))
			s.enqueue(p)
		}
	}
}

// Resync pushes every understanding note to the remote index, bypassing the
// queue and debounce entirely. One note's failure does not stop the rest;
// failures are accumulated in the report.
func (s *Service) Resync(ctx context.Context) (*Report, error) {
	metas, err := s.store.List(vault.UnderstandingsFolder)
	if err != nil {
		return nil, err
	}

	report := &Report{Errors: []string{}}
	for _, m := range metas {
		data, err := s.store.Read(m.Path)
		if err != nil {
			report.Errors = append(report.Errors, m.Path+": "+err.Error())
			continue
		}
		fm, body := vault.ParseFrontmatter(data)
		raw := fm.Raw
		if raw == nil {
			raw = map[string]any{}
		}
		if _, err := s.client.IndexUpsert(ctx, transport.IndexRequest{
			Path:        m.Path,
			Content:     body,
			Frontmatter: raw,
		}); err != nil {
			report.Errors = append(report.Errors, m.Path+": "+err.Error())
			continue
		}
		if s.ldb != nil {
			_ = s.ldb.Record(m.Path, vault.Checksum(data))
		}
		report.IndexedCount++
	}

	s.logger.Info("syncer: resync complete",
		slog.Int("indexed", report.IndexedCount),
		slog.Int("errors", len(report.Errors)))
	return report, nil
}
