package debate

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Speaker identifies a participant that can hold the floor.
type Speaker int

const (
	SpeakerNone Speaker = iota
	SpeakerHuman
	SpeakerAgentA
	SpeakerAgentB
)

func (s Speaker) String() string {
	switch s {
	case SpeakerHuman:
		return "human"
	case SpeakerAgentA:
		return "agent_a"
	case SpeakerAgentB:
		return "agent_b"
	default:
		return "none"
	}
}

// IsAgent reports whether s is one of the two debate agents.
func (s Speaker) IsAgent() bool { return s == SpeakerAgentA || s == SpeakerAgentB }

// NextAgent returns the agent that follows s in the fixed rotation.
// AgentA opens when there is no previous agent.
func NextAgent(s Speaker) Speaker {
	if s == SpeakerAgentA {
		return SpeakerAgentB
	}
	return SpeakerAgentA
}

// UtteranceStatus tracks how an utterance ended.
type UtteranceStatus string

const (
	UtterancePartial     UtteranceStatus = "partial"
	UtteranceFinal       UtteranceStatus = "final"
	UtteranceInterrupted UtteranceStatus = "interrupted"
)

// Utterance is one entry of the session transcript.
type Utterance struct {
	Speaker   Speaker         `json:"speaker"`
	Text      string          `json:"text"`
	Status    UtteranceStatus `json:"status"`
	StartedAt time.Time       `json:"started_at"`
	EndedAt   time.Time       `json:"ended_at"`
}

// MarshalJSON writes speakers by name so archived transcripts stay readable.
func (s Speaker) MarshalJSON() ([]byte, error) { return json.Marshal(s.String()) }

// Persona is the standing instruction set for one debate agent.
type Persona struct {
	Speaker Speaker
	Name    string
	System  string
}

// Personas builds the pro and con personas for a debate topic.
func Personas(topic string) (Persona, Persona) {
	pro := Persona{
		Speaker: SpeakerAgentA,
		Name:    "Aria",
		System: fmt.Sprintf("You are Aria, a sharp debater arguing IN FAVOR of the motion: %q. "+
			"Reply with a short spoken argument of one to three sentences, plain prose, no lists or markdown. "+
			"Engage directly with what the previous speaker said.", topic),
	}
	con := Persona{
		Speaker: SpeakerAgentB,
		Name:    "Bram",
		System: fmt.Sprintf("You are Bram, a sharp debater arguing AGAINST the motion: %q. "+
			"Reply with a short spoken argument of one to three sentences, plain prose, no lists or markdown. "+
			"Engage directly with what the previous speaker said.", topic),
	}
	return pro, con
}

// EventType enumerates the outbound event protocol.
type EventType string

const (
	EventSTTPartial   EventType = "stt_partial"
	EventSTTFinal     EventType = "stt_final"
	EventTurnStart    EventType = "turn_start"
	EventGenToken     EventType = "gen_token"
	EventGenFinal     EventType = "gen_final"
	EventTTSChunk     EventType = "tts_chunk"
	EventInterruptAck EventType = "interrupt_ack"
	EventError        EventType = "error"
)

// TurnEvent is one outbound message to the connected participant. Audio
// carries hex-encoded PCM16LE when the transport forwards raw audio; PCM
// holds the same payload unencoded for transports that re-encode it.
type TurnEvent struct {
	Type    EventType `json:"type"`
	Speaker string    `json:"speaker,omitempty"`
	Text    string    `json:"text,omitempty"`
	Audio   string    `json:"audio,omitempty"`
	Format  string    `json:"format,omitempty"`
	Turn    uint64    `json:"turn,omitempty"`
	Seq     int       `json:"seq,omitempty"`
	Code    string    `json:"code,omitempty"`
	Message string    `json:"message,omitempty"`

	PCM []byte `json:"-"`
}

// PCMFormat48k tags tts_chunk payloads.
const PCMFormat48k = "pcm_s16le;rate=48000"

// Error codes carried on error events.
const (
	CodeAdapterFailure    = "adapter_failure"
	CodeTransportFailure  = "transport_failure"
	CodeProtocolViolation = "protocol_violation"
	CodeResourceBusy      = "resource_busy"
)

// Transcriber is the minimal interface for realtime STT.
// It must accept PCM 16kHz little-endian mono buffers and emit live and
// finalized text. A finalized empty string means the segment ended without
// usable speech.
type Transcriber interface {
	Connect() error
	SendPCM16KLE(pcm []byte) error
	GetTranscripts() <-chan string
	Finalize() <-chan string
	// CancelSegment discards audio and text accumulated for the segment in
	// flight so the next finalized utterance covers only new speech.
	CancelSegment()
	Close() error
}

// Generator streams the text of one agent turn as it is produced. The
// delta channel closes after the last increment; the error channel carries
// at most one error and is closed afterward.
type Generator interface {
	Stream(ctx context.Context, history []Utterance, persona Persona) (<-chan string, <-chan error)
}

// Synthesizer streams 48kHz PCM mono audio for the given text.
type Synthesizer interface {
	StreamPCM48k(ctx context.Context, text string) (<-chan []byte, <-chan error)
}

// Transport delivers TurnEvents to the connected participant in order.
type Transport interface {
	Send(ev TurnEvent) error
}
