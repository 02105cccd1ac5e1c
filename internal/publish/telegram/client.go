// Package telegram publishes text, photos and videos through the Bot API.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"dailystory/internal/infra"
)

// ErrMissingToken indicates that the client was configured without a bot token.
var ErrMissingToken = errors.New("telegram: bot token is required")

// Options configures the Bot API client.
type Options struct {
	Token      string
	BaseURL    string
	HTTPClient *http.Client
	// Interval is the minimum spacing between calls. Defaults to one second.
	Interval time.Duration
	Logger   *infra.Logger
}

// Client sends messages to chats. Calls are throttled to stay under the Bot
// API flood limits.
type Client struct {
	token      string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     infra.Logger
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
	ErrorCode   int    `json:"error_code"`
}

// NewClient constructs a Bot API client.
func NewClient(opts Options) (*Client, error) {
	token := strings.TrimSpace(opts.Token)
	if token == "" {
		return nil, ErrMissingToken
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 2 * time.Minute}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = time.Second
	}
	return &Client{
		token:      token,
		baseURL:    baseURL,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(rate.Every(interval), 1),
		logger:     infra.LoggerOrDiscard(opts.Logger),
	}, nil
}

// SendText posts a plain text message.
func (c *Client) SendText(ctx context.Context, chatID, text string) error {
	form := url.Values{}
	form.Set("chat_id", chatID)
	form.Set("text", text)
	return c.call(ctx, "sendMessage", "application/x-www-form-urlencoded", strings.NewReader(form.Encode()))
}

// SendPhoto uploads the file at path as a photo.
func (c *Client) SendPhoto(ctx context.Context, chatID, path, caption string) error {
	return c.upload(ctx, "sendPhoto", "photo", chatID, path, caption)
}

// SendVideo uploads the file at path as a video.
func (c *Client) SendVideo(ctx context.Context, chatID, path, caption string) error {
	return c.upload(ctx, "sendVideo", "video", chatID, path, caption)
}

func (c *Client) upload(ctx context.Context, method, field, chatID, path, caption string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("telegram: open %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)
	if err := mw.WriteField("chat_id", chatID); err != nil {
		return err
	}
	if caption != "" {
		if err := mw.WriteField("caption", caption); err != nil {
			return err
		}
	}
	part, err := mw.CreateFormFile(field, filepath.Base(path))
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, f); err != nil {
		return fmt.Errorf("telegram: read %s: %w", filepath.Base(path), err)
	}
	if err := mw.Close(); err != nil {
		return err
	}
	return c.call(ctx, method, mw.FormDataContentType(), buf)
}

func (c *Client) call(ctx context.Context, method, contentType string, body io.Reader) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	endpoint := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return fmt.Errorf("telegram: build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// The URL embeds the token; keep it out of the error text.
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return fmt.Errorf("telegram: %s: %w", method, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("telegram: %s: read response: %w", method, err)
	}
	var decoded apiResponse
	_ = json.Unmarshal(raw, &decoded)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 || !decoded.OK {
		desc := decoded.Description
		if desc == "" {
			desc = strings.TrimSpace(string(raw))
		}
		return fmt.Errorf("telegram: %s failed with status %d: %s", method, resp.StatusCode, desc)
	}
	c.logger.Info().Str("method", method).Msg("telegram: delivered")
	return nil
}
