package debate

import "strings"

// ArbiterEvent is an input the floor arbiter reacts to.
type ArbiterEvent int

const (
	// ArbTopicSet fires when the participant sets the debate topic.
	ArbTopicSet ArbiterEvent = iota
	// ArbVoiceOnset fires when the voice detector reports speech starting.
	ArbVoiceOnset
	// ArbFinalTranscript fires when a human utterance is finalized.
	ArbFinalTranscript
	// ArbAgentDone fires when an agent turn finished cleanly.
	ArbAgentDone
)

// ArbiterInput is a snapshot of everything the arbitration rules read.
type ArbiterInput struct {
	Event  ArbiterEvent
	Holder Speaker

	// Transcript is the finalized human text for ArbFinalTranscript.
	Transcript string
	// LastAgent is the agent that most recently held the floor; SpeakerNone
	// before the debate starts.
	LastAgent Speaker
	// Interrupted is the agent whose turn a barge-in cut short, if any.
	Interrupted Speaker
	// ResumeInterrupted selects the policy for empty finals after a barge-in.
	ResumeInterrupted bool
}

// Decision is the arbiter's verdict: either keep the current holder or
// grant the floor to To.
type Decision struct {
	Grant bool
	To    Speaker
}

func retain() Decision          { return Decision{} }
func grant(to Speaker) Decision { return Decision{Grant: true, To: to} }

// Decide applies the floor-arbitration rules. It is pure: same input, same
// verdict. Human onsets beat a speaking agent unconditionally; agents only
// receive the floor from the arbiter, never by asking.
func Decide(in ArbiterInput) Decision {
	switch in.Event {
	case ArbTopicSet:
		if in.Holder == SpeakerNone {
			return grant(SpeakerAgentA)
		}
		return retain()

	case ArbVoiceOnset:
		if in.Holder.IsAgent() {
			return grant(SpeakerHuman)
		}
		// Human already holds the floor, or nobody does before the topic is
		// set; nothing to arbitrate.
		return retain()

	case ArbFinalTranscript:
		if in.Holder != SpeakerHuman {
			return retain()
		}
		if strings.TrimSpace(in.Transcript) == "" {
			// A false-positive barge-in: no usable speech arrived. Hand the
			// floor back to the interrupted agent when the resume policy is
			// on, otherwise continue the rotation.
			if in.ResumeInterrupted && in.Interrupted.IsAgent() {
				return grant(in.Interrupted)
			}
			return grant(NextAgent(in.LastAgent))
		}
		return grant(NextAgent(in.LastAgent))

	case ArbAgentDone:
		if in.Holder.IsAgent() {
			return grant(NextAgent(in.Holder))
		}
		return retain()
	}
	return retain()
}
