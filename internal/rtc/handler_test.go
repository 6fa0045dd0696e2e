package rtc

import (
	"context"
	"testing"

	"github.com/bugattmark/clashroom/internal/config"
	"github.com/bugattmark/clashroom/internal/debate"
)

func TestHandleOfferRejectsInvalidOffer(t *testing.T) {
	h := NewHandler(config.Config{}, nil)

	cases := []SessionDescription{
		{},
		{Type: "answer", SDP: "v=0"},
		{Type: "offer", SDP: ""},
	}
	for _, c := range cases {
		if _, err := h.HandleOffer(context.Background(), c); err == nil {
			t.Fatalf("expected error for %+v", c)
		}
	}
}

func TestRTCTransportWithoutChannelsIsSilent(t *testing.T) {
	tr := &rtcTransport{}
	// before negotiation finishes the controller may already emit events;
	// they must be dropped, not error
	events := []debate.TurnEvent{
		{Type: debate.EventTurnStart, Speaker: debate.SpeakerAgentA.String(), Turn: 1},
		{Type: debate.EventTTSChunk, Turn: 1, Seq: 0, PCM: make([]byte, 960)},
		{Type: debate.EventInterruptAck, Turn: 1},
	}
	for _, ev := range events {
		if err := tr.Send(ev); err != nil {
			t.Fatalf("send %s without channels: %v", ev.Type, err)
		}
	}
}
