package rtc

import (
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v3/pkg/media"
)

type captureTrack struct {
	mu      sync.Mutex
	samples []media.Sample
}

func (c *captureTrack) WriteSample(s media.Sample) error {
	c.mu.Lock()
	c.samples = append(c.samples, s)
	c.mu.Unlock()
	return nil
}

func (c *captureTrack) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.samples)
}

// pcmFrames returns n full 20ms frames of 48kHz mono PCM16LE.
func pcmFrames(n int) []byte {
	return make([]byte, n*frameSamples*2)
}

func TestPacedWriterEmitsFramesAtPace(t *testing.T) {
	track := &captureTrack{}
	w, err := NewPacedWriter(track)
	if err != nil {
		t.Fatalf("NewPacedWriter: %v", err)
	}
	defer w.Close()

	w.WritePCM(pcmFrames(5))

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if track.count() >= 2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got := track.count(); got < 2 {
		t.Fatalf("expected paced frames on the track, got %d", got)
	}
	track.mu.Lock()
	dur := track.samples[0].Duration
	track.mu.Unlock()
	if dur != frameInterval {
		t.Fatalf("sample duration = %v, want %v", dur, frameInterval)
	}
}

func TestPacedWriterResetDropsQueue(t *testing.T) {
	track := &captureTrack{}
	w, err := NewPacedWriter(track)
	if err != nil {
		t.Fatalf("NewPacedWriter: %v", err)
	}
	defer w.Close()

	// queue several seconds of audio, then cut it
	w.WritePCM(pcmFrames(100))
	w.Reset()

	time.Sleep(100 * time.Millisecond)
	before := track.count()
	time.Sleep(150 * time.Millisecond)
	after := track.count()

	// a handful of frames may already be in flight when Reset lands, but
	// the queue must not keep draining afterward
	if after-before > 2 {
		t.Fatalf("frames kept flowing after reset: before=%d after=%d", before, after)
	}
}

func TestPacedWriterPartialFrameCarriesOver(t *testing.T) {
	track := &captureTrack{}
	w, err := NewPacedWriter(track)
	if err != nil {
		t.Fatalf("NewPacedWriter: %v", err)
	}
	defer w.Close()

	half := make([]byte, frameSamples) // half a frame in bytes
	w.WritePCM(half)
	w.mu.Lock()
	buffered := len(w.pcmBuf)
	w.mu.Unlock()
	if buffered != frameSamples/2 {
		t.Fatalf("partial frame buffered %d samples, want %d", buffered, frameSamples/2)
	}

	w.WritePCM(half)
	w.mu.Lock()
	buffered = len(w.pcmBuf)
	w.mu.Unlock()
	if buffered != 0 {
		t.Fatalf("full frame should have been encoded, %d samples left", buffered)
	}
}

func TestPacedWriterWriteNeverBlocksWhenQueueFull(t *testing.T) {
	track := &captureTrack{}
	w, err := NewPacedWriter(track)
	if err != nil {
		t.Fatalf("NewPacedWriter: %v", err)
	}
	defer w.Close()

	// well past the queue capacity; the oldest frames must be shed instead
	// of stalling the caller
	done := make(chan struct{})
	go func() {
		for i := 0; i < 3; i++ {
			w.WritePCM(pcmFrames(300))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("WritePCM blocked on a full queue")
	}
}

func TestPacedWriterCloseIsIdempotent(t *testing.T) {
	track := &captureTrack{}
	w, err := NewPacedWriter(track)
	if err != nil {
		t.Fatalf("NewPacedWriter: %v", err)
	}
	w.Close()
	w.Close()
	// writes after close must not block
	done := make(chan struct{})
	go func() {
		w.WritePCM(pcmFrames(600))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("WritePCM blocked after Close")
	}
}
