// Package whatsapp is a thin client for the WhatsApp Cloud API plus the
// webhook payload decoder.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/sectorhub/wagateway/internal/config"
	"github.com/sectorhub/wagateway/internal/media"
)

const messagingProduct = "whatsapp"

// Client calls the Graph API with per-sector bearer tokens.
type Client struct {
	baseURL   string
	http      *http.Client
	mediaHTTP *http.Client
	maxBytes  int64
	logger    *slog.Logger
}

// NewClient creates a client. API calls and media downloads use separate
// timeouts since downloads can be large.
func NewClient(log *slog.Logger, cfg config.WhatsAppConfig) *Client {
	if log == nil {
		log = slog.Default()
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = config.DefaultGraphBaseURL
	}
	return &Client{
		baseURL:   baseURL,
		http:      &http.Client{Timeout: cfg.Timeout()},
		mediaHTTP: &http.Client{Timeout: cfg.MediaTimeout()},
		maxBytes:  media.MaxAssetBytes,
		logger:    log.With(slog.String("service", "whatsapp")),
	}
}

// SetMaxDownloadBytes caps media downloads.
func (c *Client) SetMaxDownloadBytes(n int64) {
	if n > 0 {
		c.maxBytes = n
	}
}

// GetMediaMetadata returns the signed download URL and declared size of a media object.
func (c *Client) GetMediaMetadata(ctx context.Context, accessToken, mediaID string) (media.Metadata, error) {
	mediaID = strings.TrimSpace(mediaID)
	if mediaID == "" {
		return media.Metadata{}, fmt.Errorf("media id is required")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/"+url.PathEscape(mediaID), nil)
	if err != nil {
		return media.Metadata{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return media.Metadata{}, fmt.Errorf("get media metadata: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return media.Metadata{}, apiError("get media metadata", resp)
	}
	var meta media.Metadata
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		return media.Metadata{}, fmt.Errorf("decode media metadata: %w", err)
	}
	return meta, nil
}

// DownloadMedia fetches a signed media URL. The same bearer token is required.
func (c *Client) DownloadMedia(ctx context.Context, accessToken, rawURL string, opts media.DownloadOptions) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	if opts.Identity {
		req.Header.Set("Accept-Encoding", "identity")
		req.Header.Set("Accept", "*/*")
	}

	resp, err := c.mediaHTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download media: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, apiError("download media", resp)
	}
	data, err := media.ReadAllWithLimit(resp.Body, c.maxBytes)
	if err != nil {
		return nil, fmt.Errorf("read media body: %w", err)
	}
	return data, nil
}

// SendResult is the accepted-message response of the messages endpoint.
type SendResult struct {
	MessageID string
	WaID      string
}

type sendResponse struct {
	Contacts []struct {
		Input string `json:"input"`
		WaID  string `json:"wa_id"`
	} `json:"contacts"`
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

// SendMessage posts msg to the phone number's messages endpoint. Any
// non-2xx status is returned as *ProviderAPIError.
func (c *Client) SendMessage(ctx context.Context, accessToken, phoneNumberID string, msg OutboundMessage) (SendResult, error) {
	if strings.TrimSpace(phoneNumberID) == "" {
		return SendResult{}, fmt.Errorf("phone number id is required")
	}
	msg.MessagingProduct = messagingProduct
	body, err := json.Marshal(msg)
	if err != nil {
		return SendResult{}, fmt.Errorf("marshal message: %w", err)
	}
	endpoint := fmt.Sprintf("%s/%s/messages", c.baseURL, url.PathEscape(phoneNumberID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return SendResult{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return SendResult{}, fmt.Errorf("send message: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return SendResult{}, apiError("send message", resp)
	}

	var parsed sendResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil && err != io.EOF {
		c.logger.Warn("unreadable send response", slog.Any("error", err))
	}
	result := SendResult{}
	if len(parsed.Messages) > 0 {
		result.MessageID = parsed.Messages[0].ID
	}
	if len(parsed.Contacts) > 0 {
		result.WaID = parsed.Contacts[0].WaID
	}
	return result, nil
}

func apiError(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &ProviderAPIError{Op: op, StatusCode: resp.StatusCode, Body: string(body)}
}
