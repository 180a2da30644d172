// Package vectorstore implements the optional write-through conversation
// memory port: an HTTP client over a "conversations/{id}/memory"
// document-store API, wire-shaped after the vector-store sidecar's
// ConversationMemory/SearchQuery schema, a thin wrapper over a REST client.
package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/chadiek/voxrelay/internal/types"
)

// wireMessage is the (role, text) shape the sidecar's ConversationMemory
// endpoint expects per message.
type wireMessage struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

type conversationMemory struct {
	ConversationID string        `json:"conversation_id"`
	Messages       []wireMessage `json:"messages"`
}

// SearchQuery mirrors the sidecar's semantic-search request shape, used by
// Search to retrieve context for a ContextSnapshot.
type SearchQuery struct {
	Query          string `json:"query"`
	TopK           int    `json:"top_k"`
	FilterMetadata map[string]any `json:"filter_metadata,omitempty"`
}

type searchResult struct {
	ID       string         `json:"id"`
	Content  string         `json:"content"`
	Score    float64        `json:"score"`
	Metadata map[string]any `json:"metadata"`
	Source   string         `json:"source"`
}

type searchResponse struct {
	Results []searchResult `json:"results"`
	Query   string         `json:"query"`
}

// Client is the write-through conversation-memory / semantic-search client.
type Client struct {
	BaseURL string
	Client  *http.Client
}

// NewClient constructs a Client.
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Write implements session.VectorStore: it POSTs the single new message as
// a one-message ConversationMemory increment. Failures are the caller's to
// log; Write only wraps the request/response plumbing.
func (c *Client) Write(ctx context.Context, conversationID string, msg types.Message) error {
	if c.BaseURL == "" {
		return fmt.Errorf("vectorstore: base URL not configured")
	}

	body, err := json.Marshal(conversationMemory{
		ConversationID: conversationID,
		Messages:       []wireMessage{{Role: string(msg.Role), Text: msg.Text}},
	})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/conversations/%s/memory", c.BaseURL, conversationID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.Client.Do(req)
	if err != nil {
		return fmt.Errorf("vectorstore: write: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("vectorstore: write status=%d", resp.StatusCode)
	}
	return nil
}

// Search runs a semantic search against the sidecar and folds the results
// into ContextSnapshot.KnowledgeBase entries, ready to hand to the
// generator and verifier.
func (c *Client) Search(ctx context.Context, query string, topK int) ([]string, error) {
	if c.BaseURL == "" {
		return nil, fmt.Errorf("vectorstore: base URL not configured")
	}
	if topK <= 0 {
		topK = 5
	}

	body, err := json.Marshal(SearchQuery{Query: query, TopK: topK})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: search: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("vectorstore: search status=%d", resp.StatusCode)
	}

	var sr searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, err
	}

	out := make([]string, 0, len(sr.Results))
	for _, r := range sr.Results {
		out = append(out, r.Content)
	}
	return out, nil
}
