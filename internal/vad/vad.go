package vad

import (
	"encoding/binary"
	"math"
	"time"
)

// Event reports a speech boundary crossing.
type Event int

const (
	EventNone Event = iota
	EventOnset
	EventOffset
)

func (e Event) String() string {
	switch e {
	case EventOnset:
		return "onset"
	case EventOffset:
		return "offset"
	default:
		return "none"
	}
}

// State is the detector's current classification.
type State int

const (
	StateSilence State = iota
	StateVoice
)

func (s State) String() string {
	if s == StateVoice {
		return "voice"
	}
	return "silence"
}

// Config tunes the energy detector.
type Config struct {
	SampleRate int           // input rate in Hz, 16000 if zero
	Threshold  float64       // minimum frame RMS (int16 scale) counted as voice
	Hangover   time.Duration // silence must persist this long before an offset fires
}

// Detector classifies incoming PCM16LE audio into voice and silence with
// asymmetric transitions: onsets fire on the first loud frame, offsets only
// after the hangover window of sustained quiet, so brief intra-word pauses
// do not end a speech segment.
//
// Not safe for concurrent use; feed it from a single reader goroutine.
type Detector struct {
	cfg       Config
	state     State
	lastVoice time.Time
	rem       []byte
	now       func() time.Time
}

// New returns a Detector in the silence state.
func New(cfg Config) *Detector {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Threshold == 0 {
		cfg.Threshold = 300.0
	}
	if cfg.Hangover == 0 {
		cfg.Hangover = 400 * time.Millisecond
	}
	return &Detector{cfg: cfg, now: time.Now}
}

// State returns the current classification.
func (d *Detector) State() State { return d.state }

// Reset returns the detector to silence without emitting an offset.
func (d *Detector) Reset() {
	d.state = StateSilence
	d.rem = nil
}

// Feed consumes a PCM16LE buffer of any length, segments it into 10ms
// frames (carrying a partial frame over to the next call) and returns the
// boundary events crossed, in order.
func (d *Detector) Feed(pcm []byte) []Event {
	if len(pcm) == 0 {
		return nil
	}
	buf := pcm
	if len(d.rem) > 0 {
		buf = append(d.rem, pcm...)
		d.rem = nil
	}

	frameBytes := d.cfg.SampleRate / 100 * 2
	var events []Event
	off := 0
	for ; off+frameBytes <= len(buf); off += frameBytes {
		if ev := d.processFrame(buf[off : off+frameBytes]); ev != EventNone {
			events = append(events, ev)
		}
	}
	if off < len(buf) {
		d.rem = append(d.rem, buf[off:]...)
	}
	return events
}

func (d *Detector) processFrame(frame []byte) Event {
	loud := frameRMS(frame) >= d.cfg.Threshold
	now := d.now()

	switch d.state {
	case StateSilence:
		if loud {
			d.state = StateVoice
			d.lastVoice = now
			return EventOnset
		}
	case StateVoice:
		if loud {
			d.lastVoice = now
			return EventNone
		}
		if now.Sub(d.lastVoice) >= d.cfg.Hangover {
			d.state = StateSilence
			return EventOffset
		}
	}
	return EventNone
}

func frameRMS(frame []byte) float64 {
	n := len(frame) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := float64(int16(binary.LittleEndian.Uint16(frame[i*2 : i*2+2])))
		sum += s * s
	}
	return math.Sqrt(sum / float64(n))
}
