package tracker

import "github.com/dealnotedev/hunt-stats/internal/storage"

// Event is one raw detection produced by the poller or the log tailer. It is
// a closed union: the router switches exhaustively over the variants below.
type Event interface {
	isEvent()
}

// SourceFound reports that the game installation was located. Emitted once
// per session before polling begins.
type SourceFound struct {
	Path string
}

// NewMatch reports a freshly detected, not-yet-persisted match.
type NewMatch struct {
	Record *storage.MatchRecord
}

// NoNewMatch reports a successful poll that found nothing new. It exists so
// the watchdog can distinguish "quiet but alive" from "stalled".
type NoNewMatch struct{}

// MapChanged reports a map-load marker found in the game log.
type MapChanged struct {
	Level string
}

func (SourceFound) isEvent() {}
func (NewMatch) isEvent()    {}
func (NoNewMatch) isEvent()  {}
func (MapChanged) isEvent()  {}
