package debate

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Session holds the shared state of one debate: the topic, the ordered
// transcript, and the cancellation token of the turn in flight. At most one
// token is live at any time; minting a new one consumes its predecessor.
type Session struct {
	ID string

	mu         sync.Mutex
	topic      string
	startedAt  time.Time
	transcript []Utterance
	live       *CancellationToken

	created   uint64
	canceled  uint64
	completed uint64
}

// NewSession returns an empty session with a fresh id.
func NewSession() *Session {
	return &Session{ID: uuid.NewString(), startedAt: time.Now()}
}

// SetTopic records the debate topic.
func (s *Session) SetTopic(topic string) {
	s.mu.Lock()
	s.topic = topic
	s.mu.Unlock()
}

// Topic returns the debate topic.
func (s *Session) Topic() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.topic
}

// Append adds a finished utterance to the transcript.
func (s *Session) Append(u Utterance) {
	s.mu.Lock()
	s.transcript = append(s.transcript, u)
	s.mu.Unlock()
}

// Transcript returns a copy of the transcript so far.
func (s *Session) Transcript() []Utterance {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Utterance, len(s.transcript))
	copy(out, s.transcript)
	return out
}

// NewTurnToken mints the token for turn seq. Any token still live is
// canceled first, which keeps the live count at one.
func (s *Session) NewTurnToken(parent context.Context, seq uint64) *CancellationToken {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.live != nil && s.live.Cancel() {
		s.canceled++
	}
	tok := newToken(parent, seq)
	s.live = tok
	s.created++
	return tok
}

// CancelLive cancels the live token if there is one. It returns true only
// when a token actually transitioned to canceled.
func (s *Session) CancelLive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.live == nil || !s.live.Cancel() {
		return false
	}
	s.canceled++
	return true
}

// CompleteToken marks tok completed if it is still the live token.
func (s *Session) CompleteToken(tok *CancellationToken) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tok == nil || !tok.Complete() {
		return false
	}
	s.completed++
	return true
}

// LiveTokens returns how many tokens are currently live (0 or 1).
func (s *Session) LiveTokens() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.live != nil && s.live.Live() {
		return 1
	}
	return 0
}

// TokenCounts returns lifetime token counters for instrumentation.
func (s *Session) TokenCounts() (created, canceled, completed uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.created, s.canceled, s.completed
}

type sessionArchive struct {
	SessionID  string      `json:"session_id"`
	Topic      string      `json:"topic"`
	StartedAt  time.Time   `json:"started_at"`
	EndedAt    time.Time   `json:"ended_at"`
	Transcript []Utterance `json:"transcript"`
}

// ArchiveJSON serializes the session transcript for upload at teardown.
func (s *Session) ArchiveJSON() ([]byte, error) {
	s.mu.Lock()
	arch := sessionArchive{
		SessionID:  s.ID,
		Topic:      s.topic,
		StartedAt:  s.startedAt,
		EndedAt:    time.Now(),
		Transcript: s.transcript,
	}
	s.mu.Unlock()
	return json.MarshalIndent(arch, "", "  ")
}
