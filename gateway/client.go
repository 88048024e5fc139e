// Copyright 2026 The GooseBot Authors
// SPDX-License-Identifier: Apache-2.0

// Package gateway connects the session core to Matrix. The Client
// speaks the client-server API with a static access token; the Bot
// turns the sync stream into session turns and commands.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

// maxResponseBytes bounds how much of any homeserver response is read.
// Media downloads dominate; 32 MiB covers any image a room will carry.
const maxResponseBytes = 32 << 20

// syncFilter is the inline filter sent with every sync: timeline only,
// bounded, no presence or account data.
const syncFilter = `{"room":{"timeline":{"limit":20},"state":{"lazy_load_members":true}},"presence":{"types":[]},"account_data":{"types":[]}}`

// ClientConfig holds configuration for creating a Client.
type ClientConfig struct {
	// HomeserverURL is the base URL of the Matrix homeserver
	// (e.g., "https://matrix.example.org").
	HomeserverURL string
	// AccessToken authenticates every request.
	AccessToken string
	// HTTPClient is used for all requests. If nil, http.DefaultClient.
	HTTPClient *http.Client
	// Logger is used for structured logging. If nil, slog.Default().
	Logger *slog.Logger
}

// Client is an access-token-authenticated Matrix client scoped to the
// bot account. Request URLs are built by direct concatenation on the
// stored base URL (trailing slash stripped) to avoid the
// double-encoding pitfalls of url.URL.String().
type Client struct {
	baseURL            string
	accessToken        string
	httpClient         *http.Client
	logger             *slog.Logger
	transactionCounter atomic.Int64
}

// NewClient creates a Client.
func NewClient(config ClientConfig) (*Client, error) {
	if config.HomeserverURL == "" {
		return nil, fmt.Errorf("gateway: HomeserverURL is required")
	}
	if config.AccessToken == "" {
		return nil, fmt.Errorf("gateway: AccessToken is required")
	}
	if _, err := url.Parse(config.HomeserverURL); err != nil {
		return nil, fmt.Errorf("gateway: invalid HomeserverURL %q: %w", config.HomeserverURL, err)
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL:     strings.TrimRight(config.HomeserverURL, "/"),
		accessToken: config.AccessToken,
		httpClient:  httpClient,
		logger:      logger,
	}, nil
}

// WhoAmI returns the user ID the access token belongs to. Used at
// startup to verify the token and learn the bot's own identity.
func (c *Client) WhoAmI(ctx context.Context) (string, error) {
	body, err := c.doRequest(ctx, http.MethodGet, "/_matrix/client/v3/account/whoami", nil, nil)
	if err != nil {
		return "", fmt.Errorf("gateway: whoami failed: %w", err)
	}

	var response whoAmIResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return "", fmt.Errorf("gateway: failed to parse whoami response: %w", err)
	}
	return response.UserID, nil
}

// Sync performs one sync request. An empty since is an initial sync;
// timeout is the long-poll wait in milliseconds (zero returns
// immediately).
func (c *Client) Sync(ctx context.Context, since string, timeout time.Duration) (*SyncResponse, error) {
	query := url.Values{}
	query.Set("filter", syncFilter)
	if since != "" {
		query.Set("since", since)
	}
	query.Set("timeout", strconv.Itoa(int(timeout.Milliseconds())))

	body, err := c.doRequest(ctx, http.MethodGet, "/_matrix/client/v3/sync", nil, query)
	if err != nil {
		return nil, fmt.Errorf("gateway: sync failed: %w", err)
	}

	var response SyncResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("gateway: failed to parse sync response: %w", err)
	}
	return &response, nil
}

// SendMessage sends an m.text message to a room. Uses Matrix's
// idempotent PUT with a transaction ID. Returns the event ID.
func (c *Client) SendMessage(ctx context.Context, roomID, text string) (string, error) {
	return c.sendEvent(ctx, roomID, "m.room.message", MessageContent{
		MsgType: "m.text",
		Body:    text,
	})
}

// EditMessage replaces the text of a previously sent message with an
// m.replace relation. The fallback top-level body carries the
// conventional "* " prefix for clients that do not render edits.
func (c *Client) EditMessage(ctx context.Context, roomID, targetEventID, text string) error {
	content := MessageContent{
		MsgType: "m.text",
		Body:    "* " + text,
		RelatesTo: &RelatesTo{
			RelType: "m.replace",
			EventID: targetEventID,
		},
		NewContent: &MessageContent{
			MsgType: "m.text",
			Body:    text,
		},
	}
	if _, err := c.sendEvent(ctx, roomID, "m.room.message", content); err != nil {
		return err
	}
	return nil
}

func (c *Client) sendEvent(ctx context.Context, roomID, eventType string, content any) (string, error) {
	path := fmt.Sprintf("/_matrix/client/v3/rooms/%s/send/%s/%s",
		url.PathEscape(roomID),
		url.PathEscape(eventType),
		url.PathEscape(c.nextTransactionID()),
	)
	body, err := c.doRequest(ctx, http.MethodPut, path, content, nil)
	if err != nil {
		return "", fmt.Errorf("gateway: send event to %q failed: %w", roomID, err)
	}

	var response sendEventResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return "", fmt.Errorf("gateway: failed to parse send response: %w", err)
	}
	return response.EventID, nil
}

// SendTyping sets or clears the typing indicator for userID in a room.
func (c *Client) SendTyping(ctx context.Context, roomID, userID string, typing bool, duration time.Duration) error {
	path := fmt.Sprintf("/_matrix/client/v3/rooms/%s/typing/%s",
		url.PathEscape(roomID), url.PathEscape(userID))
	payload := map[string]any{"typing": typing}
	if typing {
		payload["timeout"] = duration.Milliseconds()
	}
	if _, err := c.doRequest(ctx, http.MethodPut, path, payload, nil); err != nil {
		return fmt.Errorf("gateway: typing update in %q failed: %w", roomID, err)
	}
	return nil
}

// GetEvent fetches a single event by ID. Used to learn the sender of a
// message being replied to.
func (c *Client) GetEvent(ctx context.Context, roomID, eventID string) (*Event, error) {
	path := fmt.Sprintf("/_matrix/client/v3/rooms/%s/event/%s",
		url.PathEscape(roomID), url.PathEscape(eventID))
	body, err := c.doRequest(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("gateway: fetch event %q failed: %w", eventID, err)
	}

	var event Event
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, fmt.Errorf("gateway: failed to parse event response: %w", err)
	}
	return &event, nil
}

// DownloadMedia fetches the content behind an mxc:// URI using the
// authenticated media endpoint. Returns the bytes and the content type
// reported by the server.
func (c *Client) DownloadMedia(ctx context.Context, mxcURI string) ([]byte, string, error) {
	server, mediaID, err := parseMXC(mxcURI)
	if err != nil {
		return nil, "", err
	}

	path := fmt.Sprintf("/_matrix/client/v1/media/download/%s/%s",
		url.PathEscape(server), url.PathEscape(mediaID))
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, "", fmt.Errorf("gateway: failed to create media request: %w", err)
	}
	request.Header.Set("Authorization", "Bearer "+c.accessToken)

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, "", fmt.Errorf("gateway: media download failed: %w", err)
	}
	defer response.Body.Close()

	body, err := io.ReadAll(io.LimitReader(response.Body, maxResponseBytes))
	if err != nil {
		return nil, "", fmt.Errorf("gateway: failed to read media body: %w", err)
	}
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return nil, "", decodeMatrixError(response.StatusCode, body, http.MethodGet, path)
	}
	return body, response.Header.Get("Content-Type"), nil
}

// JoinRoom accepts an invite (or joins a public room) by room ID.
func (c *Client) JoinRoom(ctx context.Context, roomID string) error {
	path := "/_matrix/client/v3/join/" + url.PathEscape(roomID)
	if _, err := c.doRequest(ctx, http.MethodPost, path, map[string]any{}, nil); err != nil {
		return fmt.Errorf("gateway: join %q failed: %w", roomID, err)
	}
	return nil
}

// parseMXC splits "mxc://server/mediaID" into its parts.
func parseMXC(mxcURI string) (server, mediaID string, err error) {
	rest, ok := strings.CutPrefix(mxcURI, "mxc://")
	if !ok {
		return "", "", fmt.Errorf("gateway: not an mxc URI: %q", mxcURI)
	}
	server, mediaID, ok = strings.Cut(rest, "/")
	if !ok || server == "" || mediaID == "" {
		return "", "", fmt.Errorf("gateway: malformed mxc URI: %q", mxcURI)
	}
	return server, mediaID, nil
}

func (c *Client) doRequest(ctx context.Context, method, path string, requestBody any, query url.Values) ([]byte, error) {
	requestURL := c.baseURL + path
	if len(query) > 0 {
		requestURL += "?" + query.Encode()
	}

	var bodyReader io.Reader
	if requestBody != nil {
		encoded, err := json.Marshal(requestBody)
		if err != nil {
			return nil, fmt.Errorf("gateway: failed to encode request body: %w", err)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, method, requestURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("gateway: failed to create request: %w", err)
	}
	if requestBody != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	request.Header.Set("Authorization", "Bearer "+c.accessToken)

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("gateway: request to %s %s failed: %w", method, path, err)
	}
	defer response.Body.Close()

	responseBody, err := io.ReadAll(io.LimitReader(response.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("gateway: failed to read response body: %w", err)
	}

	if response.StatusCode >= 200 && response.StatusCode < 300 {
		return responseBody, nil
	}
	return nil, decodeMatrixError(response.StatusCode, responseBody, method, path)
}

// decodeMatrixError turns a non-2xx response into a *MatrixError. All
// Matrix error responses share one JSON shape; anything else is a
// non-compliant server and fails loud with the raw body.
func decodeMatrixError(statusCode int, body []byte, method, path string) error {
	var matrixErr MatrixError
	if jsonErr := json.Unmarshal(body, &matrixErr); jsonErr != nil || matrixErr.Code == "" {
		return fmt.Errorf("gateway: unexpected %d response from %s %s: %s",
			statusCode, method, path, string(body))
	}
	matrixErr.StatusCode = statusCode
	return &matrixErr
}

// nextTransactionID generates a unique transaction ID for idempotent
// event sending. Format: "goosebot-<timestamp_ms>-<counter>" to ensure
// uniqueness across restarts.
func (c *Client) nextTransactionID() string {
	counter := c.transactionCounter.Add(1)
	return fmt.Sprintf("goosebot-%d-%d", time.Now().UnixMilli(), counter)
}
