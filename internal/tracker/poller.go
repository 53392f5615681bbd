package tracker

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/dealnotedev/hunt-stats/internal/attributes"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Poller re-reads the attributes file on a fixed interval and classifies
// each read as a new match or a repeat. All failures inside a tick are
// recoverable: the tick emits nothing and the next tick retries.
type Poller struct {
	path     string
	interval time.Duration
	clock    clockwork.Clock
	store    Store
	dedup    *Deduplicator
}

// NewPoller creates a poller for the attributes file at path. The dedup
// instance defines the session scope: a restarted session passes a fresh one.
func NewPoller(path string, interval time.Duration, clock clockwork.Clock, store Store, dedup *Deduplicator) *Poller {
	return &Poller{
		path:     path,
		interval: interval,
		clock:    clock,
		store:    store,
		dedup:    dedup,
	}
}

// Run polls until the context is cancelled, sending detections into sink.
// Ticks are serialized by the loop itself: a tick that outlives the interval
// delays the next one instead of overlapping it, and at most one missed tick
// is queued behind it.
func (p *Poller) Run(ctx context.Context, sink chan<- Event) {
	ticker := p.clock.NewTicker(p.interval)
	defer ticker.Stop()

	p.tick(ctx, sink)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			p.tick(ctx, sink)
		}
	}
}

func (p *Poller) tick(ctx context.Context, sink chan<- Event) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		log.Debug().Err(err).Msg("attributes file unreadable this tick")
		return
	}

	snapshot, err := attributes.Parse(data)
	if err != nil {
		// The game rewrites the file in place; a read during the write
		// produces garbage that the next tick will not see.
		if !errors.Is(err, attributes.ErrNoPlayers) {
			log.Debug().Err(err).Msg("attributes parse failed this tick")
		}
		return
	}

	if !p.dedup.IsNew(snapshot.Header.Signature) {
		send(ctx, sink, NoNewMatch{})
		return
	}

	record, err := snapshot.ToRecord(ctx, p.store)
	if err != nil {
		// Un-record the signature so the next tick retries the whole
		// conversion instead of reporting the match as already seen.
		p.dedup.Forget(snapshot.Header.Signature)
		log.Warn().Err(err).Msg("failed to convert snapshot to a match record")
		return
	}

	log.Info().Str("signature", snapshot.Header.Signature).Msg("detected new match")
	send(ctx, sink, NewMatch{Record: record})
}

// send delivers an event unless the session has been torn down.
func send(ctx context.Context, sink chan<- Event, ev Event) {
	select {
	case sink <- ev:
	case <-ctx.Done():
	}
}
