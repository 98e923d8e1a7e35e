package line

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	defaultAPIBase     = "https://api.line.me"
	defaultDataAPIBase = "https://api-data.line.me"
	defaultHTTPTimeout = 10 * time.Second

	// The Messaging API rejects text messages longer than this.
	maxMessageRunes = 5000
)

// Client sends messages and fetches content via the LINE Messaging API.
type Client struct {
	channelToken string
	apiBase      string
	dataAPIBase  string
	httpClient   *http.Client
}

// NewClient creates a new Messaging API client.
func NewClient(channelToken string) *Client {
	return &Client{
		channelToken: channelToken,
		apiBase:      defaultAPIBase,
		dataAPIBase:  defaultDataAPIBase,
		httpClient:   &http.Client{Timeout: defaultHTTPTimeout},
	}
}

// SetAPIBase overrides the Messaging API base URL (useful for testing).
func (c *Client) SetAPIBase(base string) {
	c.apiBase = base
}

// SetDataAPIBase overrides the content API base URL (useful for testing).
func (c *Client) SetDataAPIBase(base string) {
	c.dataAPIBase = base
}

// Reply sends text messages using a one-shot reply token.
func (c *Client) Reply(ctx context.Context, replyToken string, texts ...string) error {
	req := ReplyRequest{ReplyToken: replyToken, Messages: toTextMessages(texts)}
	return c.post(ctx, "/v2/bot/message/reply", req)
}

// Push sends text messages to a user, group, or room id.
func (c *Client) Push(ctx context.Context, to string, texts ...string) error {
	req := PushRequest{To: to, Messages: toTextMessages(texts)}
	return c.post(ctx, "/v2/bot/message/push", req)
}

// GetProfile fetches the display profile for a user id.
func (c *Client) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	url := fmt.Sprintf("%s/v2/bot/profile/%s", c.apiBase, userID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("line: create profile request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.channelToken)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("line: get profile: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apiStatusError(resp)
	}

	var profile Profile
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return nil, fmt.Errorf("line: decode profile: %w", err)
	}
	return &profile, nil
}

// GetMessageContent streams the binary content of a message (image, file,
// video, audio). The caller must close the returned reader.
func (c *Client) GetMessageContent(ctx context.Context, messageID string) (io.ReadCloser, error) {
	url := fmt.Sprintf("%s/v2/bot/message/%s/content", c.dataAPIBase, messageID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("line: create content request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.channelToken)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("line: get content: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, apiStatusError(resp)
	}
	return resp.Body, nil
}

func (c *Client) post(ctx context.Context, path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("line: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("line: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.channelToken)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("line: send message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return apiStatusError(resp)
	}
	return nil
}

func apiStatusError(resp *http.Response) error {
	respBody, _ := io.ReadAll(resp.Body)
	var apiErr APIError
	if err := json.Unmarshal(respBody, &apiErr); err == nil && apiErr.Message != "" {
		return fmt.Errorf("line: API error %d: %s", resp.StatusCode, apiErr.Message)
	}
	return fmt.Errorf("line: unexpected status %d: %s", resp.StatusCode, string(respBody))
}

func toTextMessages(texts []string) []TextMessage {
	msgs := make([]TextMessage, 0, len(texts))
	for _, t := range texts {
		msgs = append(msgs, TextMessage{Type: "text", Text: truncateRunes(t, maxMessageRunes)})
	}
	return msgs
}

func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
