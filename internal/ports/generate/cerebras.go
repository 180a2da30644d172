// Package generate adapts a single-shot Cerebras chat-completion
// client into a streaming ports.Generator, generalizing its request shape
// with SSE parsing grounded on vai-lite's OpenAI stream reader.
package generate

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

	"github.com/chadiek/voxrelay/internal/ports"
	"github.com/chadiek/voxrelay/internal/types"
)

// Timeout is the hard ceiling on one generation call.
const Timeout = 60 * time.Second

const systemPrompt = "You are a helpful, concise voice AI agent. Answer clearly and briefly."

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionsRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// CerebrasAdapter implements ports.Generator against Cerebras's
// OpenAI-compatible chat completions endpoint with stream=true.
type CerebrasAdapter struct {
	HTTPClient *http.Client
	APIKey     string
	Model      string
	Endpoint   string
}

// NewCerebrasAdapter constructs an adapter with a documented default
// endpoint.
func NewCerebrasAdapter(apiKey, model string) *CerebrasAdapter {
	return &CerebrasAdapter{
		HTTPClient: &http.Client{Timeout: Timeout},
		APIKey:     apiKey,
		Model:      model,
		Endpoint:   "https://api.cerebras.ai/v1/chat/completions",
	}
}

// GenerateStream implements ports.Generator.
func (c *CerebrasAdapter) GenerateStream(ctx context.Context, messages []ports.ConversationMessage, snapshot types.ContextSnapshot) (<-chan string, <-chan error) {
	tokenCh := make(chan string)
	errCh := make(chan error, 1)

	go func() {
		defer close(tokenCh)
		defer close(errCh)

		if c.APIKey == "" {
			errCh <- fmt.Errorf("cerebras: API key missing")
			return
		}

		ctx, cancel := context.WithTimeout(ctx, Timeout)
		defer cancel()

		chat := []chatMessage{{Role: "system", Content: systemPrompt + contextPreamble(snapshot)}}
		for _, m := range messages {
			chat = append(chat, chatMessage{Role: string(m.Role), Content: m.Text})
		}

		body, err := json.Marshal(chatCompletionsRequest{Model: c.Model, Messages: chat, Stream: true})
		if err != nil {
			errCh <- err
			return
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(body))
		if err != nil {
			errCh <- err
			return
		}
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "text/event-stream")

		resp, err := c.HTTPClient.Do(req)
		if err != nil {
			errCh <- err
			return
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			b, _ := io.ReadAll(resp.Body)
			errCh <- fmt.Errorf("cerebras: status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(b)))
			return
		}

		reader := bufio.NewReader(resp.Body)
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				if err != io.EOF {
					errCh <- err
				}
				return
			}
			line = strings.TrimSpace(line)
			if line == "" || !strings.HasPrefix(line, "data: ") {
				continue
			}
			data := strings.TrimPrefix(line, "data: ")
			if data == "[DONE]" {
				return
			}

			var chunk streamChunk
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				continue
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			if delta := chunk.Choices[0].Delta.Content; delta != "" {
				select {
				case tokenCh <- delta:
				case <-ctx.Done():
					return
				}
			}
			if chunk.Choices[0].FinishReason != "" {
				return
			}
		}
	}()

	return tokenCh, errCh
}

// contextPreamble folds a non-empty context snapshot's knowledge-base
// entries into the system prompt so the model has a chance to ground its
// reply before the verifier ever runs.
func contextPreamble(snapshot types.ContextSnapshot) string {
	if len(snapshot.KnowledgeBase) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(" Known facts you may reference: ")
	b.WriteString(strings.Join(snapshot.KnowledgeBase, "; "))
	return b.String()
}
