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
)

// Message is one turn of the chat request.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// OpenAIClient streams chat completions token by token.
type OpenAIClient struct {
	HTTPClient *http.Client
	APIKey     string
	Model      string
}

type chatCompletionsRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

type chatDelta struct {
	Content string `json:"content"`
}

type chatStreamChoice struct {
	Index        int       `json:"index"`
	FinishReason string    `json:"finish_reason"`
	Delta        chatDelta `json:"delta"`
}

type chatStreamChunk struct {
	ID      string             `json:"id"`
	Choices []chatStreamChoice `json:"choices"`
}

// NewOpenAIClient constructs a streaming chat client.
func NewOpenAIClient(apiKey, model string) *OpenAIClient {
	return &OpenAIClient{
		// No overall timeout: the body is a long-lived token stream.
		HTTPClient: &http.Client{Timeout: 0},
		APIKey:     apiKey,
		Model:      model,
	}
}

// Stream requests a completion for messages and returns a channel of content
// tokens. The token channel closes when the stream ends; a terminal failure
// is delivered on the error channel.
func (c *OpenAIClient) Stream(ctx context.Context, messages []Message) (<-chan string, <-chan error) {
	tokens := make(chan string, 64)
	errCh := make(chan error, 1)
	go func() {
		defer close(tokens)
		defer close(errCh)
		if err := c.stream(ctx, messages, tokens); err != nil {
			errCh <- err
		}
	}()
	return tokens, errCh
}

func (c *OpenAIClient) stream(ctx context.Context, messages []Message, tokens chan<- string) error {
	if c.APIKey == "" {
		return fmt.Errorf("openai api key missing")
	}
	endpoint := "https://api.openai.com/v1/chat/completions"

	reqBody, _ := json.Marshal(chatCompletionsRequest{Model: c.Model, Messages: messages, Stream: true})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("chat completions error: status=%d body=%s", resp.StatusCode, string(b))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" {
			continue
		}
		if payload == "[DONE]" {
			return nil
		}
		var chunk chatStreamChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		if tok := chunk.Choices[0].Delta.Content; tok != "" {
			select {
			case tokens <- tok:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("chat completions stream read: %w", err)
	}
	return nil
}
