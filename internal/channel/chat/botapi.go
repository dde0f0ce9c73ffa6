package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// defaultAPIBase is the platform's bot API origin. No Go client for this
// wire shape exists anywhere in the example pack (checked every go.mod/
// go.sum in _examples), so the client below talks to it directly over
// net/http rather than through a library — see DESIGN.md.
const defaultAPIBase = "https://api.telegram.org"

// User identifies the platform account that sent a message.
type User struct {
	ID int64 `json:"id"`
}

// Chat identifies the conversation a message belongs to.
type Chat struct {
	ID int64 `json:"id"`
}

// IncomingMessage is the subset of the platform's message object the
// gateway cares about.
type IncomingMessage struct {
	MessageID int64  `json:"message_id"`
	From      User   `json:"from"`
	Chat      Chat   `json:"chat"`
	Text      string `json:"text"`
	Date      int64  `json:"date"`
}

// Update is one long-poll result entry.
type Update struct {
	UpdateID int64            `json:"update_id"`
	Message  *IncomingMessage `json:"message"`
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	Description string          `json:"description"`
}

// Client is a minimal long-poll bot API client: GetUpdates, SendMessage,
// SendDocument. It speaks the widely-copied Telegram Bot API shape, the
// one concretely grounded in the example pack's original_source material.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

// NewClient creates a Client. baseURL defaults to defaultAPIBase when
// empty, so tests can point it at an httptest server.
func NewClient(token, baseURL string) *Client {
	if baseURL == "" {
		baseURL = defaultAPIBase
	}
	return &Client{
		httpClient: &http.Client{Timeout: 65 * time.Second},
		baseURL:    baseURL,
		token:      token,
	}
}

func (c *Client) endpoint(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
}

// GetUpdates long-polls for new updates with update_id > offset,
// returning once the platform responds (up to timeoutSeconds later) or
// ctx is done.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeoutSeconds int) ([]Update, error) {
	q := url.Values{}
	q.Set("offset", strconv.FormatInt(offset, 10))
	q.Set("timeout", strconv.Itoa(timeoutSeconds))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("getUpdates")+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build getUpdates request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("getUpdates: %w", err)
	}
	defer resp.Body.Close()

	var parsed apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode getUpdates response: %w", err)
	}
	if !parsed.OK {
		return nil, fmt.Errorf("getUpdates rejected: %s", parsed.Description)
	}

	var updates []Update
	if err := json.Unmarshal(parsed.Result, &updates); err != nil {
		return nil, fmt.Errorf("decode updates: %w", err)
	}
	return updates, nil
}

// SendMessage sends text to chatID with HTML parse mode.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string) error {
	form := url.Values{}
	form.Set("chat_id", strconv.FormatInt(chatID, 10))
	form.Set("text", text)
	form.Set("parse_mode", "HTML")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("sendMessage"), bytes.NewBufferString(form.Encode()))
	if err != nil {
		return fmt.Errorf("build sendMessage request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	return c.doAndCheck(req)
}

// SendDocument uploads content as a file attachment named filename, with
// caption as the accompanying message text.
func (c *Client) SendDocument(ctx context.Context, chatID int64, filename string, content []byte, caption string) error {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	_ = w.WriteField("chat_id", strconv.FormatInt(chatID, 10))
	if caption != "" {
		_ = w.WriteField("caption", caption)
	}
	part, err := w.CreateFormFile("document", filename)
	if err != nil {
		return fmt.Errorf("build document part: %w", err)
	}
	if _, err := part.Write(content); err != nil {
		return fmt.Errorf("write document part: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("sendDocument"), &body)
	if err != nil {
		return fmt.Errorf("build sendDocument request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	return c.doAndCheck(req)
}

func (c *Client) doAndCheck(req *http.Request) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s: status %d: %s", req.URL.Path, resp.StatusCode, string(body))
	}
	return nil
}
