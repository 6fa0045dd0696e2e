package rtc

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hraban/opus"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v3"

	"github.com/bugattmark/clashroom/internal/config"
	"github.com/bugattmark/clashroom/internal/debate"
	"github.com/bugattmark/clashroom/internal/llm"
	"github.com/bugattmark/clashroom/internal/stt"
	"github.com/bugattmark/clashroom/internal/tts"
	"github.com/bugattmark/clashroom/internal/vad"
)

// SessionDescription is a small DTO to avoid exposing webrtc types in the
// HTTP layer.
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// TranscriptStore archives the finished debate transcript.
type TranscriptStore interface {
	Upload(key, contentType string, data []byte) error
}

// Handler negotiates WebRTC peer connections and runs one debate session
// per connection: remote Opus audio is decoded to 16kHz PCM for the
// controller, agent audio is paced onto the local track, and TurnEvents
// ride the control data channel as JSON.
type Handler struct {
	cfg   config.Config
	store TranscriptStore
}

func NewHandler(cfg config.Config, store TranscriptStore) *Handler {
	return &Handler{cfg: cfg, store: store}
}

func (h *Handler) synthesizer() debate.Synthesizer {
	if h.cfg.TTSProvider == "elevenlabs" {
		return tts.NewElevenLabsClient(h.cfg.ElevenLabsKey, h.cfg.ElevenLabsVoiceID)
	}
	return tts.NewDeepgramClient(h.cfg.DeepgramKey, h.cfg.DeepgramTTSModel)
}

func (h *Handler) iceServers() []webrtc.ICEServer {
	if h.cfg.ICEServersJSON != "" {
		var servers []webrtc.ICEServer
		if err := json.Unmarshal([]byte(h.cfg.ICEServersJSON), &servers); err == nil && len(servers) > 0 {
			return servers
		}
		log.Printf("invalid ICE_SERVERS_JSON, falling back to default STUN")
	}
	return []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}}
}

// rtcTransport implements debate.Transport over a peer connection: audio
// chunks go to the paced media track, everything else (and tts_chunk
// metadata, minus the payload) to the control data channel.
type rtcTransport struct {
	dc    atomic.Pointer[webrtc.DataChannel]
	paced atomic.Pointer[PacedWriter]
}

func (t *rtcTransport) Send(ev debate.TurnEvent) error {
	switch ev.Type {
	case debate.EventTTSChunk:
		if p := t.paced.Load(); p != nil {
			p.WritePCM(ev.PCM)
		}
		return nil
	case debate.EventInterruptAck:
		if p := t.paced.Load(); p != nil {
			p.Reset()
		}
	}
	dc := t.dc.Load()
	if dc == nil || dc.ReadyState() != webrtc.DataChannelStateOpen {
		return nil
	}
	ev.PCM = nil
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return dc.SendText(string(b))
}

// HandleOffer accepts an SDP offer and returns an SDP answer with the
// debate session attached.
func (h *Handler) HandleOffer(ctx context.Context, offer SessionDescription) (SessionDescription, error) {
	if offer.Type != "offer" || offer.SDP == "" {
		return SessionDescription{}, errors.New("invalid offer")
	}

	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return SessionDescription{}, err
	}
	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, ir); err != nil {
		return SessionDescription{}, err
	}
	api := webrtc.NewAPI(webrtc.WithMediaEngine(mediaEngine), webrtc.WithInterceptorRegistry(ir))

	peerConnection, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: h.iceServers()})
	if err != nil {
		return SessionDescription{}, err
	}

	outTrack, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: outSampleRate, Channels: 1}, "debate-audio", "clashroom")
	if err != nil {
		_ = peerConnection.Close()
		return SessionDescription{}, err
	}
	if _, err := peerConnection.AddTrack(outTrack); err != nil {
		_ = peerConnection.Close()
		return SessionDescription{}, err
	}

	sess := debate.NewSession()
	out := &rtcTransport{}
	det := vad.New(vad.Config{
		SampleRate: 16000,
		Threshold:  h.cfg.VADThresholdRMS,
		Hangover:   time.Duration(h.cfg.VADHangoverMs) * time.Millisecond,
	})
	ctrl := debate.NewController(
		debate.ControllerConfig{
			ResumeInterrupted: h.cfg.ResumeInterruptedAgent,
			TurnTimeout:       time.Duration(h.cfg.TurnTimeoutSec) * time.Second,
		},
		sess,
		det,
		stt.NewClient(h.cfg.AssemblyAIKey),
		llm.NewCerebrasClient(h.cfg.CerebrasKey, h.cfg.CerebrasModelID),
		h.synthesizer(),
		out,
	)

	runCtx, cancelRun := context.WithCancel(context.Background())
	go func() {
		if err := ctrl.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("[%s] controller stopped: %v", sess.ID, err)
		}
	}()

	var closeOnce sync.Once
	closeSession := func() {
		closeOnce.Do(func() {
			cancelRun()
			if p := out.paced.Load(); p != nil {
				p.FlushTail()
				time.AfterFunc(400*time.Millisecond, p.Close)
			}
			h.archive(sess)
			_ = peerConnection.Close()
		})
	}

	peerConnection.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		log.Printf("[%s] PeerConnection state: %s", sess.ID, state.String())
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed, webrtc.PeerConnectionStateDisconnected:
			closeSession()
		}
	})
	peerConnection.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		log.Printf("[%s] ICE state: %s", sess.ID, state.String())
	})

	peerConnection.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != "control" {
			return
		}
		log.Printf("[%s] Control channel opened", sess.ID)
		out.dc.Store(dc)
		dc.OnMessage(func(msg webrtc.DataChannelMessage) {
			cmd := strings.TrimSpace(string(msg.Data))
			switch {
			case strings.HasPrefix(cmd, "prompt:"):
				ctrl.SetTopic(strings.TrimSpace(strings.TrimPrefix(cmd, "prompt:")))
			case strings.EqualFold(cmd, "interrupt"):
				ctrl.Interrupt()
			default:
				log.Printf("[%s] unknown control command: %q", sess.ID, cmd)
			}
		})
	})

	peerConnection.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if remote.Kind() != webrtc.RTPCodecTypeAudio {
			return
		}
		log.Printf("[%s] Remote audio track received: codec=%s", sess.ID, remote.Codec().MimeType)

		paced, err := NewPacedWriter(outTrack)
		if err != nil {
			log.Printf("[%s] Opus encoder error: %v", sess.ID, err)
			return
		}
		out.paced.Store(paced)

		dec, err := opus.NewDecoder(16000, 1)
		if err != nil {
			log.Printf("[%s] Opus decoder error: %v", sess.ID, err)
			return
		}
		go h.readMic(sess.ID, remote, dec, ctrl)
	})

	remoteOffer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offer.SDP}
	if err := peerConnection.SetRemoteDescription(remoteOffer); err != nil {
		_ = peerConnection.Close()
		return SessionDescription{}, err
	}
	answer, err := peerConnection.CreateAnswer(nil)
	if err != nil {
		_ = peerConnection.Close()
		return SessionDescription{}, err
	}
	gatherComplete := webrtc.GatheringCompletePromise(peerConnection)
	if err := peerConnection.SetLocalDescription(answer); err != nil {
		_ = peerConnection.Close()
		return SessionDescription{}, err
	}
	<-gatherComplete
	local := peerConnection.LocalDescription()
	if local == nil {
		_ = peerConnection.Close()
		return SessionDescription{}, errors.New("no local description")
	}
	log.Printf("[%s] debate session negotiated", sess.ID)
	return SessionDescription{Type: "answer", SDP: local.SDP}, nil
}

// readMic decodes remote Opus to 16kHz PCM16LE and feeds the controller
// in fixed 100ms chunks.
func (h *Handler) readMic(id string, remote *webrtc.TrackRemote, dec *opus.Decoder, ctrl *debate.Controller) {
	const chunkBytes = 3200 // 100ms at 16kHz mono
	buf := make([]byte, 0, chunkBytes*4)
	pcmSamples := make([]int16, 1920)
	for {
		pkt, _, readErr := remote.ReadRTP()
		if readErr != nil {
			log.Printf("[%s] RTP read error: %v", id, readErr)
			return
		}
		if len(pkt.Payload) == 0 {
			continue
		}
		n, decErr := dec.Decode(pkt.Payload, pcmSamples)
		if decErr != nil {
			log.Printf("[%s] Opus decode error: %v", id, decErr)
			continue
		}
		for i := 0; i < n; i++ {
			var b [2]byte
			binary.LittleEndian.PutUint16(b[:], uint16(pcmSamples[i]))
			buf = append(buf, b[0], b[1])
		}
		for len(buf) >= chunkBytes {
			chunk := make([]byte, chunkBytes)
			copy(chunk, buf[:chunkBytes])
			ctrl.HandleFrame(chunk)
			buf = buf[:copy(buf, buf[chunkBytes:])]
		}
	}
}

func (h *Handler) archive(sess *debate.Session) {
	if h.store == nil {
		return
	}
	data, err := sess.ArchiveJSON()
	if err != nil {
		log.Printf("[%s] archive marshal: %v", sess.ID, err)
		return
	}
	key := fmt.Sprintf("debates/%s.json", sess.ID)
	if err := h.store.Upload(key, "application/json", data); err != nil {
		log.Printf("[%s] archive upload: %v", sess.ID, err)
		return
	}
	log.Printf("[%s] transcript archived: %s", sess.ID, key)
}
