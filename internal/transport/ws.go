package transport

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/bugattmark/clashroom/internal/debate"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1 << 16,
	WriteBufferSize: 1 << 16,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// SessionControl is the slice of the turn controller the transport drives.
type SessionControl interface {
	HandleFrame(pcm []byte)
	SetTopic(topic string)
	Interrupt()
}

// controlMessage is an inbound text frame from the client.
type controlMessage struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// Channel is the WebSocket duplex transport: binary frames carry inbound
// PCM16LE 16kHz microphone audio, text frames carry JSON control messages,
// and outbound TurnEvents go out as JSON with hex-encoded audio payloads.
type Channel struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// Upgrade performs the WebSocket handshake on an HTTP request.
func Upgrade(w http.ResponseWriter, r *http.Request) (*Channel, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket upgrade: %w", err)
	}
	return &Channel{conn: conn}, nil
}

// NewChannel wraps an established connection, mainly for tests.
func NewChannel(conn *websocket.Conn) *Channel { return &Channel{conn: conn} }

// Send implements debate.Transport. Writes are serialized; events arrive
// at the client in the order they were sent.
func (ch *Channel) Send(ev debate.TurnEvent) error {
	if ev.Type == debate.EventTTSChunk && ev.Audio == "" && len(ev.PCM) > 0 {
		ev.Audio = hex.EncodeToString(ev.PCM)
	}
	ch.writeMu.Lock()
	defer ch.writeMu.Unlock()
	return ch.conn.WriteJSON(ev)
}

// Serve reads inbound frames until the connection drops, dispatching audio
// and control messages to ctrl. The returned error is the read failure
// that ended the session.
func (ch *Channel) Serve(ctrl SessionControl) error {
	for {
		mt, data, err := ch.conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("websocket read: %w", err)
		}
		switch mt {
		case websocket.BinaryMessage:
			ctrl.HandleFrame(data)
		case websocket.TextMessage:
			ch.handleControl(ctrl, data)
		}
	}
}

func (ch *Channel) handleControl(ctrl SessionControl, data []byte) {
	var msg controlMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Printf("malformed control message: %v", err)
		_ = ch.Send(debate.TurnEvent{
			Type:    debate.EventError,
			Code:    debate.CodeProtocolViolation,
			Message: "malformed control message",
		})
		return
	}
	switch strings.ToLower(msg.Type) {
	case "prompt":
		ctrl.SetTopic(msg.Text)
	case "interrupt":
		ctrl.Interrupt()
	default:
		_ = ch.Send(debate.TurnEvent{
			Type:    debate.EventError,
			Code:    debate.CodeProtocolViolation,
			Message: fmt.Sprintf("unknown control type %q", msg.Type),
		})
	}
}

// Close tears the connection down.
func (ch *Channel) Close() error { return ch.conn.Close() }
