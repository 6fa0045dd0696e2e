package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bugattmark/clashroom/internal/debate"
)

func collect(t *testing.T, deltas <-chan string, errs <-chan error) (string, error) {
	t.Helper()
	var b strings.Builder
	for d := range deltas {
		b.WriteString(d)
	}
	return b.String(), <-errs
}

func sseBody(deltas ...string) string {
	var b strings.Builder
	for _, d := range deltas {
		fmt.Fprintf(&b, "data: {\"choices\":[{\"index\":0,\"delta\":{\"content\":%q}}]}\n\n", d)
	}
	b.WriteString("data: [DONE]\n\n")
	return b.String()
}

func testClient(url string) *CerebrasClient {
	c := NewCerebrasClient("key", "model")
	c.Endpoint = url
	c.HTTPClient = &http.Client{Timeout: 2 * time.Second}
	return c
}

func TestStream_NoKey(t *testing.T) {
	c := NewCerebrasClient("", "model")
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	deltas, errs := c.Stream(ctx, nil, debate.Persona{})
	if _, err := collect(t, deltas, errs); err == nil {
		t.Fatalf("expected error with missing key")
	}
}

func TestStream_Deltas(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte(sseBody("Cats ", "rule. ", "Dogs drool.")))
	}))
	defer srv.Close()

	deltas, errs := testClient(srv.URL).Stream(context.Background(), nil, debate.Persona{Speaker: debate.SpeakerAgentA})
	got, err := collect(t, deltas, errs)
	if err != nil {
		t.Fatalf("stream error: %v", err)
	}
	if got != "Cats rule. Dogs drool." {
		t.Fatalf("assembled reply mismatch: %q", got)
	}
}

func TestStream_RetriesThrottling(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(sseBody("ok")))
	}))
	defer srv.Close()

	deltas, errs := testClient(srv.URL).Stream(context.Background(), nil, debate.Persona{})
	got, err := collect(t, deltas, errs)
	if err != nil {
		t.Fatalf("expected recovery after throttling, got %v", err)
	}
	if got != "ok" || calls.Load() != 3 {
		t.Fatalf("retry behavior mismatch: got=%q calls=%d", got, calls.Load())
	}
}

func TestStream_ThrottlingExhaustsAsResourceBusy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	deltas, errs := testClient(srv.URL).Stream(context.Background(), nil, debate.Persona{})
	_, err := collect(t, deltas, errs)
	if !errors.Is(err, debate.ErrResourceBusy) {
		t.Fatalf("expected ErrResourceBusy, got %v", err)
	}
}

func TestStream_HTTPFailures(t *testing.T) {
	cases := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"status_non_2xx", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(500); _, _ = w.Write([]byte("oops")) }},
		{"bad_chunk_json", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("data: not-json\n\n"))
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(tc.handler)
			defer srv.Close()
			deltas, errs := testClient(srv.URL).Stream(context.Background(), nil, debate.Persona{})
			if _, err := collect(t, deltas, errs); err == nil {
				t.Fatalf("expected error; got nil")
			}
		})
	}
}

func TestStream_CancelStopsDelivery(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fl, _ := w.(http.Flusher)
		_, _ = w.Write([]byte(sseBody("first")[:40]))
		if fl != nil {
			fl.Flush()
		}
		<-release
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	deltas, errs := testClient(srv.URL).Stream(ctx, nil, debate.Persona{})
	cancel()
	done := make(chan struct{})
	go func() {
		for range deltas {
		}
		<-errs
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("canceled stream did not terminate")
	}
}

func TestBuildMessagesRoles(t *testing.T) {
	persona := debate.Persona{Speaker: debate.SpeakerAgentB, System: "argue against"}
	history := []debate.Utterance{
		{Speaker: debate.SpeakerAgentA, Text: "Opening point.", Status: debate.UtteranceFinal},
		{Speaker: debate.SpeakerHuman, Text: "I disagree.", Status: debate.UtteranceFinal},
		{Speaker: debate.SpeakerAgentB, Text: "Half a rebut", Status: debate.UtteranceInterrupted},
		{Speaker: debate.SpeakerHuman, Text: "   ", Status: debate.UtteranceFinal},
	}
	msgs := buildMessages(history, persona)
	if len(msgs) != 4 {
		t.Fatalf("expected 4 messages (blank skipped), got %d", len(msgs))
	}
	if msgs[0].Role != "system" || msgs[0].Content != "argue against" {
		t.Fatalf("system message mismatch: %+v", msgs[0])
	}
	if msgs[1].Role != "user" || !strings.HasPrefix(msgs[1].Content, "[AGENT_A] ") {
		t.Fatalf("rival agent must be a labeled user message: %+v", msgs[1])
	}
	if msgs[2].Role != "user" || !strings.HasPrefix(msgs[2].Content, "[HUMAN] ") {
		t.Fatalf("human must be a labeled user message: %+v", msgs[2])
	}
	if msgs[3].Role != "assistant" || !strings.Contains(msgs[3].Content, "[cut off]") {
		t.Fatalf("own interrupted turn mismatch: %+v", msgs[3])
	}
}
