package vad

import (
	"encoding/binary"
	"testing"
	"time"
)

func loudFrame(samples int) []byte {
	b := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		binary.LittleEndian.PutUint16(b[i*2:(i+1)*2], 3000)
	}
	return b
}

func quietFrame(samples int) []byte {
	return make([]byte, samples*2)
}

// fakeClock advances by step on every read so hangover timing is deterministic.
type fakeClock struct {
	t    time.Time
	step time.Duration
}

func (c *fakeClock) now() time.Time {
	c.t = c.t.Add(c.step)
	return c.t
}

func newTestDetector(hangover time.Duration) (*Detector, *fakeClock) {
	d := New(Config{SampleRate: 16000, Threshold: 300, Hangover: hangover})
	clk := &fakeClock{t: time.Unix(0, 0), step: 10 * time.Millisecond}
	d.now = clk.now
	return d, clk
}

func TestOnsetFiresOnFirstLoudFrame(t *testing.T) {
	d, _ := newTestDetector(400 * time.Millisecond)
	evs := d.Feed(loudFrame(160))
	if len(evs) != 1 || evs[0] != EventOnset {
		t.Fatalf("expected single onset, got %v", evs)
	}
	if d.State() != StateVoice {
		t.Fatalf("expected voice state")
	}
}

func TestOffsetWaitsForHangover(t *testing.T) {
	d, _ := newTestDetector(100 * time.Millisecond)
	if evs := d.Feed(loudFrame(160)); len(evs) != 1 {
		t.Fatalf("expected onset, got %v", evs)
	}
	// quiet frames at 10ms clock steps; offset fires once after 100ms of
	// accumulated silence and never again
	var got []Event
	for i := 0; i < 30; i++ {
		got = append(got, d.Feed(quietFrame(160))...)
	}
	if len(got) != 1 || got[0] != EventOffset {
		t.Fatalf("expected single offset, got %v", got)
	}
	if d.State() != StateSilence {
		t.Fatalf("expected silence state")
	}
}

func TestBriefDipDoesNotOffset(t *testing.T) {
	d, _ := newTestDetector(200 * time.Millisecond)
	d.Feed(loudFrame(160))
	// quiet shorter than hangover, then voice again
	for i := 0; i < 5; i++ {
		if evs := d.Feed(quietFrame(160)); len(evs) != 0 {
			t.Fatalf("unexpected event during dip: %v", evs)
		}
	}
	if evs := d.Feed(loudFrame(160)); len(evs) != 0 {
		t.Fatalf("re-voicing inside hangover must not re-onset: %v", evs)
	}
	if d.State() != StateVoice {
		t.Fatalf("expected voice state after dip")
	}
}

func TestQuietAudioNeverOnsets(t *testing.T) {
	d, _ := newTestDetector(100 * time.Millisecond)
	for i := 0; i < 50; i++ {
		if evs := d.Feed(quietFrame(160)); len(evs) != 0 {
			t.Fatalf("unexpected event on silence: %v", evs)
		}
	}
}

func TestPartialFramesCarryOver(t *testing.T) {
	d, _ := newTestDetector(100 * time.Millisecond)
	whole := loudFrame(160)
	// split one 10ms frame across two Feed calls
	if evs := d.Feed(whole[:100]); len(evs) != 0 {
		t.Fatalf("partial frame must not classify: %v", evs)
	}
	if evs := d.Feed(whole[100:]); len(evs) != 1 || evs[0] != EventOnset {
		t.Fatalf("expected onset once frame completes, got %v", evs)
	}
}
