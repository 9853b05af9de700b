// Package audio plays short tone cues when sessions end.
package audio

import (
	"sync"
	"time"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/effects"
	"github.com/gopxl/beep/generators"
	"github.com/gopxl/beep/speaker"
	log "github.com/sirupsen/logrus"

	"github.com/distantorigin/gamesync/internal/session"
)

// SampleRate of every cue.
const SampleRate = beep.SampleRate(44100)

// Cue is a short sound signalling an outcome.
type Cue int

const (
	CueSuccess Cue = iota
	CueFailure
	CueCancelled
)

type note struct {
	freq float64 // 0 is a rest
	dur  time.Duration
}

var cues = map[Cue][]note{
	CueSuccess:   {{523.25, 90 * time.Millisecond}, {659.25, 90 * time.Millisecond}, {783.99, 160 * time.Millisecond}},
	CueFailure:   {{392.00, 140 * time.Millisecond}, {0, 40 * time.Millisecond}, {261.63, 260 * time.Millisecond}},
	CueCancelled: {{440.00, 120 * time.Millisecond}},
}

// CueFor maps a session outcome to its cue.
func CueFor(o session.Outcome) Cue {
	switch o {
	case session.Success:
		return CueSuccess
	case session.Cancelled:
		return CueCancelled
	default:
		return CueFailure
	}
}

// Tone builds the streamer for cue.
func Tone(cue Cue) (beep.Streamer, error) {
	var parts []beep.Streamer
	for _, n := range cues[cue] {
		samples := SampleRate.N(n.dur)
		if n.freq == 0 {
			parts = append(parts, beep.Silence(samples))
			continue
		}
		tone, err := generators.SineTone(SampleRate, n.freq)
		if err != nil {
			return nil, err
		}
		parts = append(parts, beep.Take(samples, tone))
	}
	return beep.Seq(parts...), nil
}

// Player plays cues on the default output device.
type Player struct {
	quiet    bool
	volumeDB float64

	once  sync.Once
	ready bool
	mu    sync.Mutex
}

// NewPlayer creates a player. A quiet player never opens the audio device.
func NewPlayer(quiet bool, volumeDB float64) *Player {
	return &Player{quiet: quiet, volumeDB: volumeDB}
}

func (p *Player) init() bool {
	p.once.Do(func() {
		if err := speaker.Init(SampleRate, SampleRate.N(time.Second/10)); err != nil {
			log.WithError(err).Debug("audio unavailable")
			return
		}
		p.ready = true
	})
	return p.ready
}

// Play plays cue and blocks until it has finished.
func (p *Player) Play(cue Cue) {
	if p.quiet || !p.init() {
		return
	}
	tone, err := Tone(cue)
	if err != nil {
		log.WithError(err).Debug("failed to build cue")
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	done := make(chan struct{})
	speaker.Play(beep.Seq(&effects.Volume{
		Streamer: tone,
		Base:     2,
		Volume:   p.volumeDB,
	}, beep.Callback(func() {
		close(done)
	})))
	<-done
}

// SessionFinished plays the cue for the session's outcome without blocking
// the caller.
func (p *Player) SessionFinished(res session.Result) {
	if p.quiet {
		return
	}
	go p.Play(CueFor(res.State))
}

// StopAll stops whatever is playing.
func (p *Player) StopAll() {
	if p.ready {
		speaker.Clear()
	}
}
