package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bugattmark/clashroom/internal/debate"
)

const defaultEndpoint = "https://api.cerebras.ai/v1/chat/completions"

// retry budget for throttled requests; kept small so a busy upstream
// degrades into an error event instead of a stalled turn
const (
	maxAttempts  = 3
	retryBackoff = 250 * time.Millisecond
)

// CerebrasClient streams chat completions from an OpenAI-compatible
// endpoint. It implements debate.Generator.
type CerebrasClient struct {
	HTTPClient *http.Client
	APIKey     string
	Model      string
	Endpoint   string
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionsRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type chatStreamChoice struct {
	Index        int         `json:"index"`
	FinishReason string      `json:"finish_reason"`
	Delta        chatMessage `json:"delta"`
}

type chatStreamChunk struct {
	ID      string             `json:"id"`
	Choices []chatStreamChoice `json:"choices"`
}

func NewCerebrasClient(apiKey, model string) *CerebrasClient {
	return &CerebrasClient{
		HTTPClient: &http.Client{Timeout: 60 * time.Second},
		APIKey:     apiKey,
		Model:      model,
		Endpoint:   defaultEndpoint,
	}
}

// Stream produces the reply for one agent turn as a channel of text
// deltas. The delta channel closes after the last increment; the error
// channel carries at most one error and closes afterward.
func (c *CerebrasClient) Stream(ctx context.Context, history []debate.Utterance, persona debate.Persona) (<-chan string, <-chan error) {
	deltas := make(chan string, 32)
	errs := make(chan error, 1)
	go func() {
		defer close(deltas)
		defer close(errs)
		if err := c.stream(ctx, history, persona, deltas); err != nil {
			errs <- err
		}
	}()
	return deltas, errs
}

// buildMessages maps the debate transcript onto chat roles from the
// persona's point of view: its own past turns become assistant messages,
// everyone else's become labeled user messages.
func buildMessages(history []debate.Utterance, persona debate.Persona) []chatMessage {
	messages := []chatMessage{{Role: "system", Content: persona.System}}
	for _, u := range history {
		text := strings.TrimSpace(u.Text)
		if text == "" {
			continue
		}
		if u.Status == debate.UtteranceInterrupted {
			text += " [cut off]"
		}
		if u.Speaker == persona.Speaker {
			messages = append(messages, chatMessage{Role: "assistant", Content: text})
			continue
		}
		label := strings.ToUpper(u.Speaker.String())
		messages = append(messages, chatMessage{Role: "user", Content: fmt.Sprintf("[%s] %s", label, text)})
	}
	return messages
}

func (c *CerebrasClient) stream(ctx context.Context, history []debate.Utterance, persona debate.Persona, deltas chan<- string) error {
	if c.APIKey == "" {
		return fmt.Errorf("cerebras api key missing")
	}
	endpoint := c.Endpoint
	if endpoint == "" {
		endpoint = defaultEndpoint
	}

	reqBody, _ := json.Marshal(chatCompletionsRequest{
		Model:    c.Model,
		Messages: buildMessages(history, persona),
		Stream:   true,
	})

	var resp *http.Response
	for attempt := 1; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(reqBody))
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
		req.Header.Set("Content-Type", "application/json")

		resp, err = c.HTTPClient.Do(req)
		if err != nil {
			return err
		}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable {
			_ = resp.Body.Close()
			if attempt >= maxAttempts {
				return fmt.Errorf("cerebras throttled: status=%d: %w", resp.StatusCode, debate.ErrResourceBusy)
			}
			select {
			case <-time.After(time.Duration(attempt) * retryBackoff):
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		break
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("cerebras error: status=%d body=%s", resp.StatusCode, string(b))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "[DONE]" {
			return nil
		}
		var chunk chatStreamChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			return fmt.Errorf("cerebras stream decode: %w", err)
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		if content := chunk.Choices[0].Delta.Content; content != "" {
			select {
			case deltas <- content:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("cerebras stream read: %w", err)
	}
	return nil
}
