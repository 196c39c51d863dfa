package tgbot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultHTTPTimeout = 60 * time.Second

// SecretTokenHeader carries the webhook secret_token on webhook requests.
const SecretTokenHeader = "X-Telegram-Bot-Api-Secret-Token"

// ErrAPI is matched by every *APIError.
var ErrAPI = errors.New("bot api error")

// APIError is a failed Bot API call.
type APIError struct {
	Method      string
	StatusCode  int
	Description string
}

func (e *APIError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("%s: HTTP %d: %s", e.Method, e.StatusCode, e.Description)
	}
	return fmt.Sprintf("%s: HTTP %d", e.Method, e.StatusCode)
}

func (e *APIError) Unwrap() error {
	return ErrAPI
}

// Client calls the Bot HTTP API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient creates a client for the API at apiURL. httpClient may be nil.
func NewClient(apiURL, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &Client{
		baseURL: strings.TrimRight(apiURL, "/"),
		token:   token,
		http:    httpClient,
	}
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	Description string          `json:"description"`
}

// call POSTs params as JSON to method and decodes the result into out when
// out is non-nil.
func (c *Client) call(ctx context.Context, method string, params, out any) error {
	body, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("%s: encode params: %w", method, err)
	}

	endpoint := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s: create request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		// the URL embeds the token, keep it out of the error
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return fmt.Errorf("%s: %w", method, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%s: read response: %w", method, err)
	}

	var ar apiResponse
	if err := json.Unmarshal(data, &ar); err != nil {
		return &APIError{Method: method, StatusCode: resp.StatusCode, Description: "malformed response"}
	}
	if resp.StatusCode != http.StatusOK || !ar.OK {
		return &APIError{Method: method, StatusCode: resp.StatusCode, Description: ar.Description}
	}

	if out != nil {
		if err := json.Unmarshal(ar.Result, out); err != nil {
			return fmt.Errorf("%s: decode result: %w", method, err)
		}
	}
	return nil
}

// BotCommand is an entry of the bot's command menu.
type BotCommand struct {
	Command     string `json:"command"`
	Description string `json:"description"`
}

func (c *Client) SendMessage(ctx context.Context, chatID int64, text string) error {
	return c.call(ctx, "sendMessage", map[string]any{
		"chat_id": chatID,
		"text":    text,
	}, nil)
}

func (c *Client) SetMyCommands(ctx context.Context, commands []BotCommand) error {
	return c.call(ctx, "setMyCommands", map[string]any{"commands": commands}, nil)
}

// SetWebhook points update delivery at hookURL. A non-empty secretToken is
// echoed by the Bot API in the SecretTokenHeader of every webhook request.
func (c *Client) SetWebhook(ctx context.Context, hookURL, secretToken string) error {
	params := map[string]any{"url": hookURL}
	if secretToken != "" {
		params["secret_token"] = secretToken
	}
	return c.call(ctx, "setWebhook", params, nil)
}

// DeleteWebhook switches the bot back to getUpdates delivery.
func (c *Client) DeleteWebhook(ctx context.Context) error {
	return c.call(ctx, "deleteWebhook", map[string]any{}, nil)
}

// GetUpdates long-polls for updates with update_id >= offset, waiting up to
// timeout for one to arrive.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error) {
	var updates []Update
	err := c.call(ctx, "getUpdates", map[string]any{
		"offset":          offset,
		"timeout":         int(timeout.Seconds()),
		"allowed_updates": []string{"message"},
	}, &updates)
	if err != nil {
		return nil, err
	}
	return updates, nil
}
