package debate

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bugattmark/clashroom/internal/vad"
)

// State is the controller's position in the turn cycle.
type State int

const (
	StateIdle State = iota
	StateListening
	StateGenerating
	StateSpeaking
	StateInterrupted
)

func (s State) String() string {
	switch s {
	case StateListening:
		return "listening_to_human"
	case StateGenerating:
		return "agent_generating"
	case StateSpeaking:
		return "agent_speaking"
	case StateInterrupted:
		return "interrupted"
	default:
		return "idle"
	}
}

// Transition is one recorded state change.
type Transition struct {
	From State
	To   State
	At   time.Time
}

// ErrResourceBusy marks adapter failures caused by upstream throttling.
// Adapters wrap it so the controller can label the error event accordingly.
var ErrResourceBusy = errors.New("resource busy")

var errEmptyReply = errors.New("generator produced no text")

// ControllerConfig tunes turn handling.
type ControllerConfig struct {
	// ResumeInterrupted restarts an interrupted agent's turn when the
	// barge-in produced no usable speech. Off, the rotation just advances.
	ResumeInterrupted bool
	// TurnTimeout bounds one full agent turn (generation plus synthesis).
	TurnTimeout time.Duration
}

type ctrlKind int

const (
	evPrompt ctrlKind = iota
	evInterrupt
	evVoiceOnset
	evSTTPartial
	evSTTFinal
	evGenToken
	evGenFinal
	evTTSChunk
	evTurnDone
)

type ctrlEvent struct {
	kind        ctrlKind
	text        string
	turn        uint64
	seq         int
	pcm         []byte
	err         error
	interrupted bool
}

// Controller drives one debate session: it owns the turn cycle, applies the
// floor-arbitration verdicts, runs agent turns, and forwards the event
// stream to the transport. All mutable turn state lives in the Run loop
// goroutine; producers only post events.
type Controller struct {
	cfg  ControllerConfig
	sess *Session
	det  *vad.Detector
	stt  Transcriber
	gen  Generator
	tts  Synthesizer
	out  Transport

	events chan ctrlEvent
	stopc  chan struct{}
	done   chan struct{}
	once   sync.Once

	runCtx context.Context

	// loop-owned
	holder      Speaker
	lastAgent   Speaker
	interrupted Speaker
	turnSeq     uint64
	consecFails int
	current     *CancellationToken
	pending     *Utterance
	humanStart  time.Time
	personaA    Persona
	personaB    Persona

	stateVal atomic.Int32

	transMu     sync.Mutex
	transitions []Transition
}

// NewController wires a session to its adapters and transport.
func NewController(cfg ControllerConfig, sess *Session, det *vad.Detector, stt Transcriber, gen Generator, tts Synthesizer, out Transport) *Controller {
	if cfg.TurnTimeout == 0 {
		cfg.TurnTimeout = 60 * time.Second
	}
	return &Controller{
		cfg:    cfg,
		sess:   sess,
		det:    det,
		stt:    stt,
		gen:    gen,
		tts:    tts,
		out:    out,
		events: make(chan ctrlEvent, 1024),
		stopc:  make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// State returns the controller's current state.
func (c *Controller) State() State { return State(c.stateVal.Load()) }

// Transitions returns a copy of the recorded state changes.
func (c *Controller) Transitions() []Transition {
	c.transMu.Lock()
	defer c.transMu.Unlock()
	out := make([]Transition, len(c.transitions))
	copy(out, c.transitions)
	return out
}

func (c *Controller) setState(to State) {
	from := State(c.stateVal.Swap(int32(to)))
	if from == to {
		return
	}
	c.transMu.Lock()
	c.transitions = append(c.transitions, Transition{From: from, To: to, At: time.Now()})
	c.transMu.Unlock()
}

// Stop asks the Run loop to exit. Safe to call more than once.
func (c *Controller) Stop() {
	c.once.Do(func() { close(c.stopc) })
}

// Run connects the transcriber and processes events until ctx is done or
// Stop is called. It must be called exactly once.
func (c *Controller) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.runCtx = runCtx

	if err := c.stt.Connect(); err != nil {
		close(c.done)
		return fmt.Errorf("stt connect: %w", err)
	}
	defer c.stt.Close()

	go c.pumpTranscripts(runCtx)

	for {
		select {
		case <-runCtx.Done():
			c.teardown()
			return runCtx.Err()
		case <-c.stopc:
			c.teardown()
			return nil
		case ev := <-c.events:
			c.dispatch(ev)
		}
	}
}

func (c *Controller) teardown() {
	if c.sess.CancelLive() {
		log.Printf("[%s] teardown: canceled in-flight turn %d", c.sess.ID, c.turnSeq)
	}
	close(c.done)
}

// post hands an event to the Run loop without blocking producers forever
// once the loop has exited.
func (c *Controller) post(ev ctrlEvent) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

// HandleFrame consumes one inbound PCM16LE 16kHz buffer. It is the single
// audio entry point: the frame feeds the voice detector and the
// transcription stream concurrently, in every state. Call it from one
// goroutine only.
func (c *Controller) HandleFrame(pcm []byte) {
	for _, ev := range c.det.Feed(pcm) {
		if ev == vad.EventOnset {
			c.post(ctrlEvent{kind: evVoiceOnset})
		}
	}
	if err := c.stt.SendPCM16KLE(pcm); err != nil {
		log.Printf("[%s] stt send: %v", c.sess.ID, err)
	}
}

// SetTopic starts the debate. Only valid before the first turn.
func (c *Controller) SetTopic(topic string) {
	c.post(ctrlEvent{kind: evPrompt, text: topic})
}

// Interrupt is the client's explicit barge-in, equivalent to a voice onset.
func (c *Controller) Interrupt() {
	c.post(ctrlEvent{kind: evInterrupt})
}

func (c *Controller) dispatch(ev ctrlEvent) {
	switch ev.kind {
	case evPrompt:
		c.handlePrompt(ev.text)
	case evInterrupt, evVoiceOnset:
		c.handleOnset()
	case evSTTPartial:
		c.send(TurnEvent{Type: EventSTTPartial, Speaker: SpeakerHuman.String(), Text: ev.text})
	case evSTTFinal:
		c.handleSTTFinal(ev.text)
	case evGenToken:
		c.handleGenToken(ev)
	case evGenFinal:
		c.handleGenFinal(ev)
	case evTTSChunk:
		c.handleTTSChunk(ev)
	case evTurnDone:
		c.handleTurnDone(ev)
	}
}

func (c *Controller) handlePrompt(topic string) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		c.send(TurnEvent{Type: EventError, Code: CodeProtocolViolation, Message: "empty topic"})
		return
	}
	if c.State() != StateIdle {
		c.send(TurnEvent{Type: EventError, Code: CodeProtocolViolation, Message: "debate already in progress"})
		return
	}
	c.sess.SetTopic(topic)
	c.personaA, c.personaB = Personas(topic)
	log.Printf("[%s] topic: %s", c.sess.ID, topic)

	dec := Decide(ArbiterInput{Event: ArbTopicSet, Holder: c.holder})
	if dec.Grant {
		c.startAgentTurn(dec.To)
	}
}

func (c *Controller) handleOnset() {
	dec := Decide(ArbiterInput{Event: ArbVoiceOnset, Holder: c.holder})
	if !dec.Grant {
		// Human already held the floor or nothing is running yet; repeated
		// interrupts are deliberately silent.
		if !c.holder.IsAgent() && c.humanStart.IsZero() {
			c.humanStart = time.Now()
		}
		return
	}
	c.bargeIn()
}

// bargeIn applies a human floor claim against a speaking or generating
// agent: the turn's token is consumed, its utterance is committed as
// interrupted, and the acknowledgement goes out after the last audio of
// the canceled turn.
func (c *Controller) bargeIn() {
	c.setState(StateInterrupted)

	interruptedTurn := c.turnSeq
	c.sess.CancelLive()
	if c.pending != nil {
		u := *c.pending
		u.Status = UtteranceInterrupted
		u.EndedAt = time.Now()
		if strings.TrimSpace(u.Text) != "" {
			c.sess.Append(u)
		}
		c.pending = nil
	}
	c.interrupted = c.holder
	c.holder = SpeakerHuman
	c.humanStart = time.Now()
	// drop any segment text accumulated while the agent was speaking so the
	// next finalized utterance covers only the human's actual words
	c.stt.CancelSegment()

	c.send(TurnEvent{Type: EventInterruptAck, Turn: interruptedTurn, Speaker: SpeakerHuman.String()})
	c.setState(StateListening)
	log.Printf("[%s] barge-in: %s interrupted on turn %d", c.sess.ID, c.interrupted, interruptedTurn)
}

func (c *Controller) handleSTTFinal(text string) {
	text = strings.TrimSpace(text)
	c.send(TurnEvent{Type: EventSTTFinal, Speaker: SpeakerHuman.String(), Text: text})

	if text != "" {
		start := c.humanStart
		if start.IsZero() {
			start = time.Now()
		}
		c.sess.Append(Utterance{
			Speaker:   SpeakerHuman,
			Text:      text,
			Status:    UtteranceFinal,
			StartedAt: start,
			EndedAt:   time.Now(),
		})
		log.Printf("[%s] heard(final): %s", c.sess.ID, text)
	}
	c.humanStart = time.Time{}

	dec := Decide(ArbiterInput{
		Event:             ArbFinalTranscript,
		Holder:            c.holder,
		Transcript:        text,
		LastAgent:         c.lastAgent,
		Interrupted:       c.interrupted,
		ResumeInterrupted: c.cfg.ResumeInterrupted,
	})
	if dec.Grant {
		c.startAgentTurn(dec.To)
	}
}

func (c *Controller) startAgentTurn(sp Speaker) {
	c.turnSeq++
	tok := c.sess.NewTurnToken(c.runCtx, c.turnSeq)
	c.current = tok
	c.holder = sp
	c.lastAgent = sp
	c.interrupted = SpeakerNone
	c.pending = &Utterance{Speaker: sp, Status: UtterancePartial, StartedAt: time.Now()}
	c.setState(StateGenerating)

	c.send(TurnEvent{Type: EventTurnStart, Speaker: sp.String(), Turn: c.turnSeq})
	log.Printf("[%s] turn %d -> %s", c.sess.ID, c.turnSeq, sp)

	persona := c.personaA
	if sp == SpeakerAgentB {
		persona = c.personaB
	}
	go c.runAgentTurn(tok, persona, c.sess.Transcript())
}

// current-turn gate for events coming back from the turn goroutine
func (c *Controller) liveTurn(turn uint64) bool {
	return c.current != nil && c.current.Turn() == turn && c.current.Live()
}

func (c *Controller) handleGenToken(ev ctrlEvent) {
	if !c.liveTurn(ev.turn) {
		return
	}
	if c.pending != nil {
		c.pending.Text += ev.text
	}
	c.send(TurnEvent{Type: EventGenToken, Speaker: c.holder.String(), Text: ev.text, Turn: ev.turn})
}

func (c *Controller) handleGenFinal(ev ctrlEvent) {
	if !c.liveTurn(ev.turn) {
		return
	}
	if c.pending != nil {
		c.pending.Text = ev.text
	}
	c.setState(StateSpeaking)
	c.send(TurnEvent{Type: EventGenFinal, Speaker: c.holder.String(), Text: ev.text, Turn: ev.turn})
}

func (c *Controller) handleTTSChunk(ev ctrlEvent) {
	if !c.liveTurn(ev.turn) {
		// stale audio from a canceled turn is dropped, never forwarded
		return
	}
	c.send(TurnEvent{
		Type:    EventTTSChunk,
		Speaker: c.holder.String(),
		Turn:    ev.turn,
		Seq:     ev.seq,
		Format:  PCMFormat48k,
		PCM:     ev.pcm,
	})
}

func (c *Controller) handleTurnDone(ev ctrlEvent) {
	if c.current == nil || c.current.Turn() != ev.turn {
		return
	}
	if ev.interrupted {
		// the barge-in path already moved the session on
		return
	}
	if ev.err != nil {
		log.Printf("[%s] turn %d failed: %v", c.sess.ID, ev.turn, ev.err)
		code := CodeAdapterFailure
		if errors.Is(ev.err, ErrResourceBusy) {
			code = CodeResourceBusy
		}
		c.send(TurnEvent{Type: EventError, Code: code, Speaker: c.holder.String(), Turn: ev.turn, Message: ev.err.Error()})
		if c.pending != nil {
			u := *c.pending
			u.Status = UtteranceFinal
			u.EndedAt = time.Now()
			if strings.TrimSpace(u.Text) != "" {
				c.sess.Append(u)
			}
			c.pending = nil
		}
		c.sess.CancelLive()
		c.consecFails++
		if c.consecFails >= 2 {
			// both agents failing back to back; stop cycling and wait for
			// the human instead of hammering the adapters
			log.Printf("[%s] consecutive turn failures, floor to human", c.sess.ID)
			c.holder = SpeakerHuman
			c.setState(StateListening)
			return
		}
		c.startAgentTurn(NextAgent(c.holder))
		return
	}

	if c.pending != nil {
		u := *c.pending
		u.Status = UtteranceFinal
		u.EndedAt = time.Now()
		if strings.TrimSpace(u.Text) != "" {
			c.sess.Append(u)
		}
		c.pending = nil
	}
	c.sess.CompleteToken(c.current)
	c.consecFails = 0

	dec := Decide(ArbiterInput{Event: ArbAgentDone, Holder: c.holder})
	if dec.Grant {
		c.startAgentTurn(dec.To)
	}
}

// runAgentTurn produces one agent reply off the loop goroutine: generation
// deltas stream in, completed sentences are synthesized while generation
// continues, and the unterminated tail is synthesized after gen_final. The
// token gates everything; once it is consumed the goroutine drains and
// reports back without delivering anything.
func (c *Controller) runAgentTurn(tok *CancellationToken, persona Persona, history []Utterance) {
	ctx, cancel := context.WithTimeout(tok.Context(), c.cfg.TurnTimeout)
	defer cancel()

	deltas, errs := c.gen.Stream(ctx, history, persona)
	var full strings.Builder
	var buf sentenceBuffer
	seq := 0

	synth := func(text string) error {
		if strings.TrimSpace(text) == "" {
			return nil
		}
		pcmCh, errCh := c.tts.StreamPCM48k(ctx, text)
		openPCM, openErr := true, true
		var streamErr error
		for openPCM || openErr {
			select {
			case b, ok := <-pcmCh:
				if !ok {
					openPCM = false
					continue
				}
				if len(b) == 0 || !tok.Live() {
					continue
				}
				seq++
				c.post(ctrlEvent{kind: evTTSChunk, turn: tok.Turn(), seq: seq, pcm: b})
			case e, ok := <-errCh:
				if !ok {
					openErr = false
					continue
				}
				if e != nil {
					streamErr = e
				}
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return streamErr
	}

	finish := func(err error) {
		switch {
		case !tok.Live():
			c.post(ctrlEvent{kind: evTurnDone, turn: tok.Turn(), interrupted: true})
		case err != nil:
			c.post(ctrlEvent{kind: evTurnDone, turn: tok.Turn(), err: err})
		default:
			c.post(ctrlEvent{kind: evTurnDone, turn: tok.Turn()})
		}
	}

	for delta := range deltas {
		if !tok.Live() {
			finish(nil)
			return
		}
		full.WriteString(delta)
		c.post(ctrlEvent{kind: evGenToken, turn: tok.Turn(), text: delta})
		for _, sentence := range buf.Push(delta) {
			if err := synth(sentence); err != nil {
				finish(err)
				return
			}
		}
	}

	genErr := <-errs
	reply := strings.TrimSpace(full.String())
	if genErr != nil {
		if reply == "" {
			finish(genErr)
			return
		}
		// partial reply survived the failure; speak what we have
		log.Printf("[%s] generation degraded on turn %d: %v", c.sess.ID, tok.Turn(), genErr)
	}
	if reply == "" {
		finish(errEmptyReply)
		return
	}

	c.post(ctrlEvent{kind: evGenFinal, turn: tok.Turn(), text: reply})
	if err := synth(buf.Flush()); err != nil {
		finish(err)
		return
	}
	finish(nil)
}

func (c *Controller) pumpTranscripts(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-c.stt.GetTranscripts():
			if !ok {
				return
			}
			if t != "" {
				c.post(ctrlEvent{kind: evSTTPartial, text: t})
			}
		case u, ok := <-c.stt.Finalize():
			if !ok {
				return
			}
			c.post(ctrlEvent{kind: evSTTFinal, text: u})
		}
	}
}

func (c *Controller) send(ev TurnEvent) {
	if err := c.out.Send(ev); err != nil {
		log.Printf("[%s] transport send: %v", c.sess.ID, err)
		c.Stop()
	}
}
