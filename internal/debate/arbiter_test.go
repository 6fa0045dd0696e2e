package debate

import "testing"

func TestDecide(t *testing.T) {
	cases := []struct {
		name string
		in   ArbiterInput
		want Decision
	}{
		{
			name: "topic seeds agent a",
			in:   ArbiterInput{Event: ArbTopicSet, Holder: SpeakerNone},
			want: Decision{Grant: true, To: SpeakerAgentA},
		},
		{
			name: "topic ignored mid-debate",
			in:   ArbiterInput{Event: ArbTopicSet, Holder: SpeakerAgentB},
			want: Decision{},
		},
		{
			name: "onset beats speaking agent",
			in:   ArbiterInput{Event: ArbVoiceOnset, Holder: SpeakerAgentA},
			want: Decision{Grant: true, To: SpeakerHuman},
		},
		{
			name: "onset while human holds is a no-op",
			in:   ArbiterInput{Event: ArbVoiceOnset, Holder: SpeakerHuman},
			want: Decision{},
		},
		{
			name: "onset before topic is a no-op",
			in:   ArbiterInput{Event: ArbVoiceOnset, Holder: SpeakerNone},
			want: Decision{},
		},
		{
			name: "final hands floor to next in rotation",
			in:   ArbiterInput{Event: ArbFinalTranscript, Holder: SpeakerHuman, Transcript: "that's wrong", LastAgent: SpeakerAgentA},
			want: Decision{Grant: true, To: SpeakerAgentB},
		},
		{
			name: "rotation wraps back to agent a",
			in:   ArbiterInput{Event: ArbFinalTranscript, Holder: SpeakerHuman, Transcript: "go on", LastAgent: SpeakerAgentB},
			want: Decision{Grant: true, To: SpeakerAgentA},
		},
		{
			name: "empty final resumes interrupted agent",
			in:   ArbiterInput{Event: ArbFinalTranscript, Holder: SpeakerHuman, Transcript: "  ", LastAgent: SpeakerAgentA, Interrupted: SpeakerAgentA, ResumeInterrupted: true},
			want: Decision{Grant: true, To: SpeakerAgentA},
		},
		{
			name: "empty final advances rotation when resume is off",
			in:   ArbiterInput{Event: ArbFinalTranscript, Holder: SpeakerHuman, Transcript: "", LastAgent: SpeakerAgentA, Interrupted: SpeakerAgentA, ResumeInterrupted: false},
			want: Decision{Grant: true, To: SpeakerAgentB},
		},
		{
			name: "final without the floor is a no-op",
			in:   ArbiterInput{Event: ArbFinalTranscript, Holder: SpeakerAgentB, Transcript: "noise"},
			want: Decision{},
		},
		{
			name: "agent done rotates",
			in:   ArbiterInput{Event: ArbAgentDone, Holder: SpeakerAgentA},
			want: Decision{Grant: true, To: SpeakerAgentB},
		},
		{
			name: "agent done without agent holder is a no-op",
			in:   ArbiterInput{Event: ArbAgentDone, Holder: SpeakerHuman},
			want: Decision{},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Decide(tc.in)
			if got != tc.want {
				t.Fatalf("Decide(%+v) = %+v, want %+v", tc.in, got, tc.want)
			}
			// pure: a second call must agree with the first
			if again := Decide(tc.in); again != got {
				t.Fatalf("Decide is not deterministic: %+v then %+v", got, again)
			}
		})
	}
}

func TestNextAgentRotation(t *testing.T) {
	if NextAgent(SpeakerNone) != SpeakerAgentA {
		t.Fatalf("rotation must open with agent a")
	}
	if NextAgent(SpeakerAgentA) != SpeakerAgentB {
		t.Fatalf("agent a must hand over to agent b")
	}
	if NextAgent(SpeakerAgentB) != SpeakerAgentA {
		t.Fatalf("agent b must hand over to agent a")
	}
}
