package debate

import (
	"context"
	"sync/atomic"

	"github.com/google/uuid"
)

const (
	tokenLive int32 = iota
	tokenCanceled
	tokenCompleted
)

// CancellationToken is minted for exactly one agent turn and consumed
// exactly once, either by Cancel (barge-in, teardown) or by Complete
// (synthesis finished). All stream forwarding for the turn is gated on
// Live, so a consumed token silences its turn everywhere at once.
type CancellationToken struct {
	id     string
	turn   uint64
	ctx    context.Context
	cancel context.CancelFunc
	state  atomic.Int32
}

func newToken(parent context.Context, turn uint64) *CancellationToken {
	ctx, cancel := context.WithCancel(parent)
	return &CancellationToken{
		id:     uuid.NewString(),
		turn:   turn,
		ctx:    ctx,
		cancel: cancel,
	}
}

// ID returns the token's unique id.
func (t *CancellationToken) ID() string { return t.id }

// Turn returns the turn sequence number the token was minted for.
func (t *CancellationToken) Turn() uint64 { return t.turn }

// Context is canceled as soon as the token is consumed.
func (t *CancellationToken) Context() context.Context { return t.ctx }

// Live reports whether the token has not been consumed yet.
func (t *CancellationToken) Live() bool { return t.state.Load() == tokenLive }

// Cancel consumes the token. It returns true only for the call that
// performed the transition; later calls are no-ops.
func (t *CancellationToken) Cancel() bool {
	if !t.state.CompareAndSwap(tokenLive, tokenCanceled) {
		return false
	}
	t.cancel()
	return true
}

// Complete consumes the token as finished. It returns false if the token
// was already canceled or completed.
func (t *CancellationToken) Complete() bool {
	if !t.state.CompareAndSwap(tokenLive, tokenCompleted) {
		return false
	}
	t.cancel()
	return true
}
