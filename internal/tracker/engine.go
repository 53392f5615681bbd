// Package tracker contains the detection engine: it watches the game's
// attributes file and log for new matches and map loads, persists what it
// finds, and publishes an always-current stats bundle.
package tracker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dealnotedev/hunt-stats/internal/broker"
	"github.com/dealnotedev/hunt-stats/internal/sounds"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Default intervals. The watchdog restarts the session when no poll activity
// lands for longer than DefaultStallThreshold.
const (
	DefaultPollInterval     = 30 * time.Second
	DefaultTailInterval     = 1 * time.Second
	DefaultLocateInterval   = 10 * time.Second
	DefaultWatchdogInterval = 15 * time.Second
	DefaultStallThreshold   = 60 * time.Second
)

// Config configures an Engine. Zero-valued intervals fall back to the
// defaults above; a nil Clock falls back to the real clock.
type Config struct {
	Store  Store
	Player sounds.Player
	Clock  clockwork.Clock

	// Locate finds the attributes file (install.Locate in production).
	Locate func() (string, error)
	// LogPathFor overrides game-log path derivation; tests use this.
	LogPathFor func(attributesPath string) string

	// Isolated selects the detached session source, which enables the
	// watchdog.
	Isolated bool

	PollInterval     time.Duration
	TailInterval     time.Duration
	LocateInterval   time.Duration
	WatchdogInterval time.Duration
	StallThreshold   time.Duration
}

func (c *Config) applyDefaults() {
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Player == nil {
		c.Player = sounds.NopPlayer{}
	}
	if c.PollInterval == 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.TailInterval == 0 {
		c.TailInterval = DefaultTailInterval
	}
	if c.LocateInterval == 0 {
		c.LocateInterval = DefaultLocateInterval
	}
	if c.WatchdogInterval == 0 {
		c.WatchdogInterval = DefaultWatchdogInterval
	}
	if c.StallThreshold == 0 {
		c.StallThreshold = DefaultStallThreshold
	}
}

// Engine is the tracking core. It funnels every detection through one router
// goroutine, keeps the session alive via the watchdog, and exposes the two
// subscription feeds.
type Engine struct {
	cfg       Config
	assembler *Assembler

	events     chan Event
	bundles    *broker.Broker[*HuntBundle]
	mapChanges *broker.Broker[MapChanged]

	// activity is the last time a poll proved the session alive. Map changes
	// and failed ticks do not count.
	activityMu sync.Mutex
	activity   time.Time

	sourceFound atomic.Bool

	// sourceMu serializes the watchdog's session swap against Stop.
	sourceMu  sync.Mutex
	source    EventSource
	newSource func() EventSource

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an engine from cfg.
func New(cfg Config) *Engine {
	cfg.applyDefaults()

	bundles := broker.NewReplayLast[*HuntBundle]()

	e := &Engine{
		cfg:        cfg,
		assembler:  NewAssembler(cfg.Store, bundles),
		events:     make(chan Event, 16),
		bundles:    bundles,
		mapChanges: broker.New[MapChanged](),
		activity:   cfg.Clock.Now(),
	}

	session := SessionConfig{
		Locate:         cfg.Locate,
		LogPathFor:     cfg.LogPathFor,
		PollInterval:   cfg.PollInterval,
		TailInterval:   cfg.TailInterval,
		LocateInterval: cfg.LocateInterval,
		Clock:          cfg.Clock,
		Store:          cfg.Store,
	}
	if cfg.Isolated {
		e.newSource = func() EventSource { return NewIsolatedSource(session) }
	} else {
		e.newSource = func() EventSource { return NewInProcessSource(session) }
	}
	return e
}

// Start loads the last persisted state, publishes the initial bundle, and
// launches detection. It returns once the engine is running.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.assembler.Refresh(ctx); err != nil {
		return err
	}

	ctx, e.cancel = context.WithCancel(ctx)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.route(ctx)
	}()

	e.sourceMu.Lock()
	e.source = e.newSource()
	e.source.Start(ctx, e.events)
	isolated := e.source.Isolated()
	e.sourceMu.Unlock()

	if isolated {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.watchdog(ctx)
		}()
	}

	log.Info().Bool("isolated", e.cfg.Isolated).Msg("tracking engine started")
	return nil
}

// Stop shuts the engine down. Subscribers keep their channels; no further
// values arrive.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}

	e.sourceMu.Lock()
	if e.source != nil {
		e.source.Stop()
	}
	e.sourceMu.Unlock()

	e.wg.Wait()
}

// Bundles is the replayed stats-bundle feed: a new subscriber immediately
// receives the current bundle (nil when no match was ever loaded), then live
// updates.
func (e *Engine) Bundles() *broker.Broker[*HuntBundle] {
	return e.bundles
}

// MapChanges is the live-only map-change feed.
func (e *Engine) MapChanges() *broker.Broker[MapChanged] {
	return e.mapChanges
}

// InvalidateAll outdates the entire stored history and republishes.
func (e *Engine) InvalidateAll(ctx context.Context) error {
	return e.assembler.InvalidateAll(ctx)
}

// InvalidateTeam outdates one team's history and republishes.
func (e *Engine) InvalidateTeam(ctx context.Context, teamID string) error {
	return e.assembler.InvalidateTeam(ctx, teamID)
}

// route is the single intake funnel for every detection, regardless of which
// session produced it.
func (e *Engine) route(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-e.events:
			e.handleEvent(ctx, ev)
		}
	}
}

func (e *Engine) handleEvent(ctx context.Context, ev Event) {
	switch ev := ev.(type) {
	case SourceFound:
		e.sourceFound.Store(true)
		e.touchActivity()
	case NewMatch:
		e.touchActivity()
		if err := e.assembler.OnNewMatch(ctx, ev.Record); err != nil {
			log.Error().Err(err).Msg("failed to process new match")
		}
	case NoNewMatch:
		e.touchActivity()
	case MapChanged:
		e.mapChanges.Publish(ev)
		e.cfg.Player.PlayMapCue(ev.Level)
	}
}

// watchdog restarts the session when polling goes silent for longer than the
// stall threshold. Only armed once the session has located the game.
func (e *Engine) watchdog(ctx context.Context) {
	ticker := e.cfg.Clock.NewTicker(e.cfg.WatchdogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			e.checkStall(ctx)
		}
	}
}

// checkStall performs one watchdog inspection, restarting the session when
// polling has been silent past the threshold.
func (e *Engine) checkStall(ctx context.Context) {
	if !e.sourceFound.Load() {
		return
	}
	if e.cfg.Clock.Since(e.lastActivity()) <= e.cfg.StallThreshold {
		return
	}

	// Reset first so a restart that itself hangs gets a full stall window
	// before the next attempt.
	e.touchActivity()
	log.Warn().Msg("no poll activity past stall threshold, restarting session")
	e.restartSession(ctx)
}

// restartSession abandons the current session and starts a fresh one with
// empty dedup and cursor state. The freshly restarted session will report
// the on-disk match as new once more; storage's duplicate sentinel makes
// that a no-op downstream.
func (e *Engine) restartSession(ctx context.Context) {
	e.sourceMu.Lock()
	defer e.sourceMu.Unlock()

	e.source.Stop()

	// Stop may have won the race for the mutex; a replacement session
	// started now would outlive the engine.
	if ctx.Err() != nil {
		return
	}

	e.source = e.newSource()
	e.source.Start(ctx, e.events)
}

func (e *Engine) touchActivity() {
	e.activityMu.Lock()
	e.activity = e.cfg.Clock.Now()
	e.activityMu.Unlock()
}

func (e *Engine) lastActivity() time.Time {
	e.activityMu.Lock()
	defer e.activityMu.Unlock()
	return e.activity
}
