// Package sounds plays short audio cues when the game loads into a map.
package sounds

import (
	"bytes"
	"embed"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/speaker"
	"github.com/gopxl/beep/v2/wav"
	"github.com/rs/zerolog/log"
)

//go:embed assets/*.wav
var assets embed.FS

const sampleRate = beep.SampleRate(44100)

// Player plays the cue for a freshly loaded level. Implementations must
// silently ignore level names they have no cue for.
type Player interface {
	PlayMapCue(levelName string)
}

// BeepPlayer plays embedded WAV cues through the system speaker.
type BeepPlayer struct {
	initOnce sync.Once
	initErr  error
}

// NewBeepPlayer creates a speaker-backed player. Speaker initialization is
// deferred to the first cue so a headless run without audio hardware does
// not fail at startup.
func NewBeepPlayer() *BeepPlayer {
	return &BeepPlayer{}
}

// PlayMapCue plays the cue registered for the level's map segment, if any.
func (p *BeepPlayer) PlayMapCue(levelName string) {
	asset, ok := cueAsset(levelName)
	if !ok {
		return
	}

	p.initOnce.Do(func() {
		p.initErr = speaker.Init(sampleRate, sampleRate.N(time.Second/10))
	})
	if p.initErr != nil {
		log.Warn().Err(p.initErr).Msg("speaker unavailable, skipping map cue")
		return
	}

	if err := p.play(asset); err != nil {
		log.Warn().Err(err).Str("asset", asset).Msg("failed to play map cue")
	}
}

func (p *BeepPlayer) play(asset string) error {
	data, err := assets.ReadFile(asset)
	if err != nil {
		return fmt.Errorf("failed to read cue asset: %w", err)
	}

	streamer, format, err := wav.Decode(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to decode cue: %w", err)
	}

	var stream beep.Streamer = streamer
	if format.SampleRate != sampleRate {
		stream = beep.Resample(4, format.SampleRate, sampleRate, streamer)
	}

	speaker.Play(beep.Seq(stream, beep.Callback(func() {
		_ = streamer.Close()
	})))
	return nil
}

// NopPlayer plays nothing; used when sounds are disabled.
type NopPlayer struct{}

// PlayMapCue implements Player.
func (NopPlayer) PlayMapCue(string) {}

// cueAsset maps a level name like "levels/cemetery" to an embedded asset by
// its second slash-delimited segment, case-insensitively.
func cueAsset(levelName string) (string, bool) {
	parts := strings.Split(levelName, "/")
	if len(parts) < 2 {
		return "", false
	}

	name := strings.ToLower(parts[1])
	switch name {
	case "cemetery", "civilwar", "creek", "mountains":
		return "assets/" + name + ".wav", true
	default:
		return "", false
	}
}
