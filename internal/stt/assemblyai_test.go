package stt

import "testing"

func TestHelpers_LastWordAndContinuation(t *testing.T) {
	if lastWord("") != "" {
		t.Fatalf("lastWord empty mismatch")
	}
	if lastWord("hi there!") != "there" {
		t.Fatalf("lastWord basic mismatch")
	}
	if !isContinuationLikely("we should and") {
		t.Fatalf("expected continuation likely when last word is 'and'")
	}
	if isContinuationLikely("complete sentence.") {
		t.Fatalf("did not expect continuation likely")
	}
}

func TestTakeDeltaCommitsSuffix(t *testing.T) {
	c := NewClient("test")
	c.accMu.Lock()
	c.latestFullTranscript = "the cat sat"
	c.committedFullTranscript = ""
	delta := c.takeDeltaLocked()
	c.accMu.Unlock()
	if delta != "the cat sat" {
		t.Fatalf("first delta mismatch: %q", delta)
	}

	c.accMu.Lock()
	c.latestFullTranscript = "the cat sat on the mat"
	delta = c.takeDeltaLocked()
	c.accMu.Unlock()
	if delta != "on the mat" {
		t.Fatalf("incremental delta mismatch: %q", delta)
	}

	c.accMu.Lock()
	delta = c.takeDeltaLocked()
	c.accMu.Unlock()
	if delta != "" {
		t.Fatalf("repeated finalize must yield nothing, got %q", delta)
	}
}

func TestCancelSegmentDropsPendingText(t *testing.T) {
	c := NewClient("test")
	c.accMu.Lock()
	c.latestFullTranscript = "noise picked up from the speaker"
	c.accMu.Unlock()

	c.CancelSegment()

	c.accMu.Lock()
	delta := c.takeDeltaLocked()
	c.accMu.Unlock()
	if delta != "" {
		t.Fatalf("canceled segment must not produce a delta, got %q", delta)
	}
}

func TestConnectRequiresKey(t *testing.T) {
	c := NewClient("")
	if err := c.Connect(); err == nil {
		t.Fatalf("expected error when api key missing")
	}
}
