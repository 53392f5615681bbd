package tracker

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// mapLoadMarker precedes the level identifier in the game log.
const mapLoadMarker = "PrepareLevel"

// Tailer reads newly appended bytes of the game log on a fixed interval and
// emits a MapChanged event for every map-load marker it finds. The cursor
// starts at the current end of file, so content written before the session
// began is never reported.
type Tailer struct {
	path     string
	interval time.Duration
	clock    clockwork.Clock

	cursor int64
}

// NewTailer creates a tailer for the log file at path.
func NewTailer(path string, interval time.Duration, clock clockwork.Clock) *Tailer {
	return &Tailer{
		path:     path,
		interval: interval,
		clock:    clock,
	}
}

// Run tails until the context is cancelled, sending map changes into sink.
func (t *Tailer) Run(ctx context.Context, sink chan<- Event) {
	t.initCursor()

	ticker := t.clock.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			t.tick(ctx, sink)
		}
	}
}

// initCursor skips whatever the log already holds; only appends made after
// the session began count.
func (t *Tailer) initCursor() {
	if info, err := os.Stat(t.path); err == nil {
		t.cursor = info.Size()
	}
}

func (t *Tailer) tick(ctx context.Context, sink chan<- Event) {
	info, err := os.Stat(t.path)
	if err != nil {
		// Log may not exist until the game starts writing it.
		return
	}

	size := info.Size()
	switch {
	case size == t.cursor:
		return
	case size < t.cursor:
		// Truncated or rotated. Restart from the top on the next tick; the
		// bytes between the old and new state are knowingly lost.
		log.Debug().Int64("old_size", t.cursor).Int64("new_size", size).Msg("game log shrank, resetting cursor")
		t.cursor = 0
		return
	}

	text, err := t.readRange(t.cursor, size)
	if err != nil {
		// Retry the same range next tick.
		log.Debug().Err(err).Msg("game log read failed this tick")
		return
	}

	// Hold back any partial trailing line so a marker split across two
	// reads is seen whole once its line completes.
	nl := strings.LastIndexByte(text, '\n')
	if nl < 0 {
		return
	}
	text = text[:nl+1]
	t.cursor += int64(len(text))

	for _, level := range scanMapLoads(text) {
		log.Info().Str("level", level).Msg("map change detected")
		send(ctx, sink, MapChanged{Level: level})
	}
}

func (t *Tailer) readRange(from, to int64) (string, error) {
	f, err := os.Open(t.path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	buf := make([]byte, to-from)
	n, err := f.ReadAt(buf, from)
	if err != nil && err != io.EOF {
		return "", err
	}
	return string(buf[:n]), nil
}

// scanMapLoads extracts the level token following each map-load marker, in
// order of appearance.
func scanMapLoads(text string) []string {
	var levels []string
	fields := strings.Fields(text)
	for i, f := range fields {
		if f == mapLoadMarker && i+1 < len(fields) {
			levels = append(levels, fields[i+1])
		}
	}
	return levels
}
