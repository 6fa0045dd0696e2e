package stt

import (
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/gorilla/websocket"
)

// silenceThreshold is the base inactivity window required before an
// utterance is considered complete. Conservative, to avoid cutting the
// human mid-sentence.
const silenceThreshold = 700 * time.Millisecond

// continuationExtension is added when the last word suggests the speaker
// will keep going ("and", "or", "if", trailing prepositions).
const continuationExtension = 1200 * time.Millisecond

// stabilizationGrace absorbs late transcript updates from the recognizer
// after the silence window has elapsed but before finalizing.
const stabilizationGrace = 250 * time.Millisecond

// Client streams microphone audio to AssemblyAI and emits live and
// finalized transcript text. A finalized empty string means the segment
// ended without usable speech, which the turn controller treats as a
// false barge-in.
type Client struct {
	apiKey      string
	conn        *websocket.Conn
	transcripts chan string
	finalizeCh  chan string
	audioData   chan []byte
	stopCh      chan struct{}
	mu          sync.RWMutex
	connected   bool

	// utterance accumulation
	accMu                   sync.Mutex
	latestFullTranscript    string
	committedFullTranscript string
	lastUpdateTime          time.Time
	silenceTimer            *time.Timer
}

type beginMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id"`
	ExpiresAt int64  `json:"expires_at"`
}

type turnMessage struct {
	Type          string `json:"type"`
	Transcript    string `json:"transcript"`
	TurnFormatted bool   `json:"turn_is_formatted"`
}

type terminationMessage struct {
	Type                   string  `json:"type"`
	AudioDurationSeconds   float64 `json:"audio_duration_seconds"`
	SessionDurationSeconds float64 `json:"session_duration_seconds"`
}

type errorMessage struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// NewClient creates a streaming transcription client.
func NewClient(apiKey string) *Client {
	return &Client{
		apiKey:      apiKey,
		transcripts: make(chan string, 100),
		finalizeCh:  make(chan string, 10),
		audioData:   make(chan []byte, 1000),
		stopCh:      make(chan struct{}),
	}
}

// GetTranscripts returns the channel of live transcript fragments.
func (c *Client) GetTranscripts() <-chan string { return c.transcripts }

// Finalize returns the channel of end-of-utterance deltas.
func (c *Client) Finalize() <-chan string { return c.finalizeCh }

// Connect establishes the streaming WebSocket session.
func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return nil
	}
	if c.apiKey == "" {
		return fmt.Errorf("AssemblyAI API key is empty")
	}

	params := url.Values{}
	params.Set("sample_rate", "16000")
	params.Set("format_turns", "false")
	params.Set("encoding", "pcm_s16le")

	wsURL := fmt.Sprintf("wss://streaming.assemblyai.com/v3/ws?%s", params.Encode())
	headers := map[string][]string{"Authorization": {c.apiKey}}
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}

	log.Printf("Connecting to AssemblyAI at: %s", wsURL)
	conn, resp, err := dialer.Dial(wsURL, headers)
	if err != nil {
		if resp != nil {
			log.Printf("AssemblyAI connection failed with status: %d", resp.StatusCode)
		}
		return fmt.Errorf("failed to connect to AssemblyAI: %w", err)
	}

	c.conn = conn
	c.connected = true
	c.lastUpdateTime = time.Now()

	go c.handleMessages()
	go c.sendAudioData()

	log.Println("Successfully connected to AssemblyAI streaming service")
	return nil
}

// SendPCM16KLE queues 16kHz little-endian mono audio for the recognizer.
func (c *Client) SendPCM16KLE(pcm []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.connected {
		return fmt.Errorf("not connected to AssemblyAI")
	}
	select {
	case c.audioData <- pcm:
		return nil
	default:
		log.Println("Audio buffer full, dropping packet")
		return nil
	}
}

// CancelSegment discards everything accumulated for the utterance in
// flight, so the next finalized delta covers only speech heard after this
// call. Used when a barge-in resets the conversational floor.
func (c *Client) CancelSegment() {
	c.accMu.Lock()
	c.committedFullTranscript = c.latestFullTranscript
	if c.silenceTimer != nil {
		_ = c.silenceTimer.Stop()
	}
	c.accMu.Unlock()
}

// Close terminates the session and flushes any pending delta.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return nil
	}
	close(c.stopCh)
	if c.silenceTimer != nil {
		_ = c.silenceTimer.Stop()
		c.silenceTimer = nil
	}
	if c.conn != nil {
		terminateMsg := map[string]string{"type": "Terminate"}
		_ = c.conn.WriteJSON(terminateMsg)
		_ = c.conn.Close()
	}
	c.connected = false
	c.conn = nil
	c.flushPendingDelta()
	close(c.audioData)
	close(c.transcripts)
	close(c.finalizeCh)
	log.Println("AssemblyAI connection closed")
	return nil
}

func (c *Client) handleMessages() {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Recovered from panic in handleMessages: %v", r)
		}
	}()
	for {
		select {
		case <-c.stopCh:
			return
		default:
			c.mu.RLock()
			conn := c.conn
			c.mu.RUnlock()
			if conn == nil {
				return
			}
			_, message, err := conn.ReadMessage()
			if err != nil {
				log.Printf("Error reading message: %v", err)
				// the segment in flight is lost; report it as empty so the
				// controller can arbitrate instead of waiting forever
				c.emitEmptyFinal()
				return
			}
			c.processMessage(message)
		}
	}
}

func (c *Client) processMessage(message []byte) {
	var baseMsg map[string]interface{}
	if err := json.Unmarshal(message, &baseMsg); err != nil {
		log.Printf("Error unmarshaling message: %v", err)
		return
	}
	msgType, ok := baseMsg["type"].(string)
	if !ok {
		log.Printf("Message missing type field")
		return
	}
	switch msgType {
	case "Begin":
		var msg beginMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			log.Printf("Error unmarshaling Begin message: %v", err)
			return
		}
		expires := time.Unix(msg.ExpiresAt, 0).Format(time.RFC3339)
		log.Printf("AssemblyAI session began: ID=%s, ExpiresAt=%s", msg.ID, expires)
	case "Turn":
		var msg turnMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			log.Printf("Error unmarshaling Turn message: %v", err)
			return
		}
		if msg.Transcript != "" {
			select {
			case c.transcripts <- msg.Transcript:
			default:
			}
			c.accMu.Lock()
			c.latestFullTranscript = msg.Transcript
			c.lastUpdateTime = time.Now()
			if c.silenceTimer == nil {
				c.silenceTimer = time.AfterFunc(silenceThreshold, c.finalizeDueToSilence)
			} else {
				_ = c.silenceTimer.Stop()
				c.silenceTimer.Reset(silenceThreshold)
			}
			c.accMu.Unlock()
		}
	case "Termination":
		var msg terminationMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			log.Printf("Error unmarshaling Termination message: %v", err)
			return
		}
		log.Printf("AssemblyAI session terminated: AudioDuration=%.2fs, SessionDuration=%.2fs", msg.AudioDurationSeconds, msg.SessionDurationSeconds)
		c.flushPendingDelta()
	case "Error":
		var msg errorMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			log.Printf("Error unmarshaling Error message: %v", err)
			return
		}
		log.Printf("AssemblyAI error: %s", msg.Error)
		c.emitEmptyFinal()
	default:
		log.Printf("Unknown message type: %s", msgType)
	}
}

// finalizeDueToSilence fires after the silence window. It emits only the
// delta since the last committed transcript, if significant.
func (c *Client) finalizeDueToSilence() {
	select {
	case <-c.stopCh:
		return
	default:
	}

	c.accMu.Lock()
	now := time.Now()
	threshold := silenceThreshold
	if isContinuationLikely(c.latestFullTranscript) {
		threshold += continuationExtension
	}
	sinceText := now.Sub(c.lastUpdateTime)
	if sinceText < threshold {
		// not enough inactivity yet; reschedule for the remainder
		wait := threshold - sinceText
		if wait < 10*time.Millisecond {
			wait = 10 * time.Millisecond
		}
		if c.silenceTimer == nil {
			c.silenceTimer = time.AfterFunc(wait, c.finalizeDueToSilence)
		} else {
			_ = c.silenceTimer.Stop()
			c.silenceTimer.Reset(wait)
		}
		c.accMu.Unlock()
		return
	}

	lastUpdateAt := c.lastUpdateTime
	c.accMu.Unlock()

	// grace period to catch late transcript updates
	time.Sleep(stabilizationGrace)

	c.accMu.Lock()
	if c.lastUpdateTime.After(lastUpdateAt) {
		// a late update arrived during grace; push the timer forward
		threshold2 := silenceThreshold
		if isContinuationLikely(c.latestFullTranscript) {
			threshold2 += continuationExtension
		}
		if c.silenceTimer == nil {
			c.silenceTimer = time.AfterFunc(threshold2, c.finalizeDueToSilence)
		} else {
			_ = c.silenceTimer.Stop()
			c.silenceTimer.Reset(threshold2)
		}
		c.accMu.Unlock()
		return
	}

	delta := c.takeDeltaLocked()
	c.accMu.Unlock()

	if delta == "" {
		return
	}
	// deliver without dropping so no finalized word is lost
	select {
	case <-c.stopCh:
	case c.finalizeCh <- delta:
	}
}

// takeDeltaLocked computes and commits the uncommitted transcript suffix.
// Callers must hold accMu.
func (c *Client) takeDeltaLocked() string {
	latest := c.latestFullTranscript
	base := c.committedFullTranscript
	delta := strings.TrimSpace(strings.TrimPrefix(latest, base))
	if delta == "" && base != "" {
		if idx := strings.LastIndex(latest, base); idx >= 0 && idx+len(base) <= len(latest) {
			delta = strings.TrimSpace(latest[idx+len(base):])
		}
	}
	c.committedFullTranscript = latest
	return delta
}

// flushPendingDelta sends any remaining uncommitted transcript delta.
// Best-effort; it will not block indefinitely on shutdown.
func (c *Client) flushPendingDelta() {
	c.accMu.Lock()
	delta := c.takeDeltaLocked()
	c.accMu.Unlock()
	if delta == "" {
		return
	}
	select {
	case c.finalizeCh <- delta:
	case <-time.After(200 * time.Millisecond):
		log.Printf("AssemblyAI flush: timed out delivering final delta")
	}
}

// emitEmptyFinal reports a failed or empty segment downstream.
func (c *Client) emitEmptyFinal() {
	select {
	case <-c.stopCh:
	case c.finalizeCh <- "":
	default:
	}
}

// isContinuationLikely returns true if the last meaningful word indicates
// the speaker will probably continue.
func isContinuationLikely(text string) bool {
	w := lastWord(text)
	if w == "" {
		return false
	}
	_, ok := continuationWords[w]
	return ok
}

func lastWord(text string) string {
	trim := strings.TrimSpace(text)
	if trim == "" {
		return ""
	}
	fields := strings.FieldsFunc(trim, func(r rune) bool { return !unicode.IsLetter(r) })
	if len(fields) == 0 {
		return ""
	}
	return strings.ToLower(fields[len(fields)-1])
}

var continuationWords = map[string]struct{}{
	// coordinating conjunctions
	"and": {}, "or": {}, "but": {}, "nor": {}, "yet": {}, "so": {},
	// subordinating conjunctions / conditionals
	"if": {}, "when": {}, "while": {}, "though": {}, "although": {},
	"because": {}, "since": {}, "unless": {}, "until": {}, "whereas": {},
	// discourse markers / fillers
	"also": {}, "plus": {}, "um": {}, "uh": {}, "like": {},
	// prepositions that are awkward sentence endings
	"about": {}, "with": {}, "to": {}, "of": {}, "for": {}, "on": {}, "in": {}, "at": {},
}

func (c *Client) sendAudioData() {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Recovered from panic in sendAudioData: %v", r)
		}
	}()
	for {
		select {
		case <-c.stopCh:
			return
		case pcm, ok := <-c.audioData:
			if !ok {
				return
			}
			c.mu.RLock()
			conn := c.conn
			c.mu.RUnlock()
			if conn != nil {
				if err := conn.WriteMessage(websocket.BinaryMessage, pcm); err != nil {
					log.Printf("Error sending audio data: %v", err)
					return
				}
			}
		}
	}
}
