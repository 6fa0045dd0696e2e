package debate

import (
	"context"
	"testing"
)

func TestTokenCancelIsIdempotent(t *testing.T) {
	tok := newToken(context.Background(), 1)
	if !tok.Live() {
		t.Fatalf("new token must be live")
	}
	if !tok.Cancel() {
		t.Fatalf("first cancel must win")
	}
	if tok.Cancel() {
		t.Fatalf("second cancel must be a no-op")
	}
	if tok.Live() {
		t.Fatalf("canceled token must not be live")
	}
	select {
	case <-tok.Context().Done():
	default:
		t.Fatalf("cancel must propagate to the context")
	}
}

func TestTokenCompleteAfterCancelFails(t *testing.T) {
	tok := newToken(context.Background(), 2)
	tok.Cancel()
	if tok.Complete() {
		t.Fatalf("complete must fail on a canceled token")
	}
}

func TestTokenCompleteConsumes(t *testing.T) {
	tok := newToken(context.Background(), 3)
	if !tok.Complete() {
		t.Fatalf("complete must win on a live token")
	}
	if tok.Cancel() {
		t.Fatalf("cancel must fail on a completed token")
	}
	if tok.Live() {
		t.Fatalf("completed token must not be live")
	}
}

func TestSessionKeepsSingleLiveToken(t *testing.T) {
	s := NewSession()
	first := s.NewTurnToken(context.Background(), 1)
	if s.LiveTokens() != 1 {
		t.Fatalf("expected one live token")
	}
	second := s.NewTurnToken(context.Background(), 2)
	if first.Live() {
		t.Fatalf("minting a new token must consume the previous one")
	}
	if s.LiveTokens() != 1 {
		t.Fatalf("expected one live token after re-mint")
	}
	if !s.CompleteToken(second) {
		t.Fatalf("completing the live token must succeed")
	}
	created, canceled, completed := s.TokenCounts()
	if created != 2 || canceled != 1 || completed != 1 {
		t.Fatalf("counter mismatch: created=%d canceled=%d completed=%d", created, canceled, completed)
	}
}
