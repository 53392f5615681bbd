package tracker

import (
	"context"
	"sync"
	"time"

	"github.com/dealnotedev/hunt-stats/internal/install"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// EventSource runs one tracking session (locate, then poller + tailer) and
// feeds its detections into a sink. The engine is agnostic to which
// implementation is active.
type EventSource interface {
	// Start launches the session. It returns immediately; detection runs in
	// the background until Stop or context cancellation.
	Start(ctx context.Context, sink chan<- Event)
	// Stop tears the session down.
	Stop()
	// Isolated reports whether the session runs detached from the engine's
	// context, which is what makes a forced watchdog restart meaningful.
	Isolated() bool
}

// SessionConfig carries everything a session needs to run.
type SessionConfig struct {
	// Locate finds the attributes file; retried until it succeeds.
	Locate func() (string, error)
	// LogPathFor derives the game log path from the attributes path.
	// Defaults to install.LogPath.
	LogPathFor func(attributesPath string) string

	PollInterval   time.Duration
	TailInterval   time.Duration
	LocateInterval time.Duration

	Clock clockwork.Clock
	Store Store
}

func (c SessionConfig) logPathFor(attributesPath string) string {
	if c.LogPathFor != nil {
		return c.LogPathFor(attributesPath)
	}
	return install.LogPath(attributesPath)
}

// runSession locates the game and runs the poller/tailer pair until ctx is
// cancelled. Each session owns a fresh deduplicator and tail cursor.
func runSession(ctx context.Context, cfg SessionConfig, sink chan<- Event) {
	var path string
	for {
		p, err := cfg.Locate()
		if err == nil {
			path = p
			break
		}

		select {
		case <-ctx.Done():
			return
		case <-cfg.Clock.After(cfg.LocateInterval):
		}
	}

	log.Info().Str("path", path).Msg("game installation located")
	send(ctx, sink, SourceFound{Path: path})

	poller := NewPoller(path, cfg.PollInterval, cfg.Clock, cfg.Store, NewDeduplicator())
	tailer := NewTailer(cfg.logPathFor(path), cfg.TailInterval, cfg.Clock)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		poller.Run(ctx, sink)
	}()
	go func() {
		defer wg.Done()
		tailer.Run(ctx, sink)
	}()
	wg.Wait()
}

// InProcessSource runs the session inside the engine's own context: it lives
// and dies with the engine and is not separately restartable.
type InProcessSource struct {
	cfg    SessionConfig
	cancel context.CancelFunc
	done   chan struct{}
}

// NewInProcessSource creates an in-process session source.
func NewInProcessSource(cfg SessionConfig) *InProcessSource {
	return &InProcessSource{cfg: cfg}
}

// Start implements EventSource.
func (s *InProcessSource) Start(ctx context.Context, sink chan<- Event) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		runSession(ctx, s.cfg, sink)
	}()
}

// Stop implements EventSource. It waits for the session to wind down.
func (s *InProcessSource) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
}

// Isolated implements EventSource.
func (*InProcessSource) Isolated() bool { return false }

// IsolatedSource runs the session detached from the engine's context so a
// wedged file read cannot take the engine down with it. Stop abandons the
// session without waiting: an in-flight read keeps its goroutine until the
// OS releases it, while the replacement session starts immediately with
// fresh state.
type IsolatedSource struct {
	cfg    SessionConfig
	cancel context.CancelFunc
}

// NewIsolatedSource creates an isolated session source.
func NewIsolatedSource(cfg SessionConfig) *IsolatedSource {
	return &IsolatedSource{cfg: cfg}
}

// Start implements EventSource. The session deliberately ignores the
// caller's context; only Stop ends it.
func (s *IsolatedSource) Start(_ context.Context, sink chan<- Event) {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go runSession(ctx, s.cfg, sink)
}

// Stop implements EventSource.
func (s *IsolatedSource) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

// Isolated implements EventSource.
func (*IsolatedSource) Isolated() bool { return true }
