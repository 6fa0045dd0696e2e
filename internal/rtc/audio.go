package rtc

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/hraban/opus"
	"github.com/pion/webrtc/v3/pkg/media"
)

const (
	outSampleRate = 48000
	frameSamples  = 960 // 20ms at 48kHz
	frameInterval = 20 * time.Millisecond
)

// SampleWriter is the sink for encoded media samples. Satisfied by
// *webrtc.TrackLocalStaticSample.
type SampleWriter interface {
	WriteSample(s media.Sample) error
}

// PacedWriter encodes 48kHz PCM16LE mono to Opus and writes one 20ms
// frame per tick to the track, so synthesized audio plays at realtime
// speed no matter how fast it arrives. Reset drops the queue instantly,
// which is what makes a barge-in feel immediate.
type PacedWriter struct {
	enc     *opus.Encoder
	track   SampleWriter
	pcmBuf  []int16
	frames  chan []byte
	stopCh  chan struct{}
	stopped bool
	mu      sync.Mutex
}

// NewPacedWriter constructs a paced writer and starts its pacer goroutine.
func NewPacedWriter(track SampleWriter) (*PacedWriter, error) {
	enc, err := opus.NewEncoder(outSampleRate, 1, opus.AppVoIP)
	if err != nil {
		return nil, err
	}
	w := &PacedWriter{
		enc:    enc,
		track:  track,
		frames: make(chan []byte, 512),
		stopCh: make(chan struct{}),
	}
	go w.pacer()
	return w, nil
}

// WritePCM buffers PCM 48kHz mono bytes and enqueues encoded frames as
// full 20ms windows accumulate.
func (w *PacedWriter) WritePCM(pcmBytes []byte) {
	if len(pcmBytes) < 2 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	n := len(pcmBytes) / 2
	for i := 0; i < n; i++ {
		w.pcmBuf = append(w.pcmBuf, int16(binary.LittleEndian.Uint16(pcmBytes[2*i:2*i+2])))
	}

	opusBuf := make([]byte, 4000)
	for len(w.pcmBuf) >= frameSamples {
		enc, err := w.enc.Encode(w.pcmBuf[:frameSamples], opusBuf)
		if err == nil && enc > 0 {
			pkt := make([]byte, enc)
			copy(pkt, opusBuf[:enc])
			w.pushFrame(pkt)
		}
		w.pcmBuf = w.pcmBuf[:copy(w.pcmBuf, w.pcmBuf[frameSamples:])]
	}
}

// FlushTail pads the remaining PCM to a full frame and appends a short
// silence tail so the last word is not clipped.
func (w *PacedWriter) FlushTail() {
	w.mu.Lock()
	opusBuf := make([]byte, 4000)
	if len(w.pcmBuf) > 0 {
		pad := make([]int16, frameSamples)
		copy(pad, w.pcmBuf)
		if n, err := w.enc.Encode(pad, opusBuf); err == nil && n > 0 {
			pkt := make([]byte, n)
			copy(pkt, opusBuf[:n])
			w.pushFrame(pkt)
		}
		w.pcmBuf = w.pcmBuf[:0]
	}
	w.mu.Unlock()

	// ~200ms of silence
	silence := make([]int16, frameSamples)
	for i := 0; i < 10; i++ {
		if n, err := w.enc.Encode(silence, opusBuf); err == nil && n > 0 {
			pkt := make([]byte, n)
			copy(pkt, opusBuf[:n])
			w.pushFrame(pkt)
		}
	}
}

// Reset drops every queued frame and the partial window, for barge-in.
func (w *PacedWriter) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for {
		select {
		case <-w.frames:
		default:
			w.pcmBuf = w.pcmBuf[:0]
			return
		}
	}
}

// Close stops the pacer.
func (w *PacedWriter) Close() {
	w.mu.Lock()
	if !w.stopped {
		w.stopped = true
		close(w.stopCh)
	}
	w.mu.Unlock()
}

func (w *PacedWriter) pacer() {
	ticker := time.NewTicker(frameInterval)
	defer ticker.Stop()
	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			select {
			case frame := <-w.frames:
				_ = w.track.WriteSample(media.Sample{Data: frame, Duration: frameInterval})
			default:
			}
		}
	}
}

// pushFrame enqueues a frame without ever blocking the caller: when the
// queue is full the oldest frame is dropped. The queue holds ~10s of audio,
// so a drop only trims the far backlog of a long reply and the event loop
// feeding us stays responsive for barge-in.
func (w *PacedWriter) pushFrame(pkt []byte) {
	for {
		select {
		case <-w.stopCh:
			return
		case w.frames <- pkt:
			return
		default:
		}
		select {
		case <-w.frames:
		default:
		}
	}
}
