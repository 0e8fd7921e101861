// internal/platform/rest.go
package platform

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

	"communityos-bot/internal/common/config"
	apperrors "communityos-bot/internal/common/errors"
)

// RESTClient implements Client over the platform's HTTP API.
type RESTClient struct {
	baseURL       string
	token         string
	applicationID string
	httpClient    *http.Client
}

func NewRESTClient(cfg config.PlatformConfig) *RESTClient {
	return &RESTClient{
		baseURL:       strings.TrimRight(cfg.APIBaseURL, "/"),
		token:         cfg.BotToken,
		applicationID: cfg.ApplicationID,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.RequestTimeout) * time.Millisecond,
		},
	}
}

func (c *RESTClient) ResolveGuild(ctx context.Context, guildID string) (*Guild, error) {
	var guild Guild
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/guilds/%s", url.PathEscape(guildID)), nil, &guild)
	if err != nil {
		return nil, c.mapNotFound(err, apperrors.NewGuildNotFoundError(guildID))
	}
	return &guild, nil
}

func (c *RESTClient) FetchMember(ctx context.Context, guildID, userID string) (*GuildMember, error) {
	var member GuildMember
	path := fmt.Sprintf("/guilds/%s/members/%s", url.PathEscape(guildID), url.PathEscape(userID))
	if err := c.do(ctx, http.MethodGet, path, nil, &member); err != nil {
		return nil, c.mapNotFound(err, apperrors.NewMemberNotFoundError(guildID, userID))
	}
	return &member, nil
}

func (c *RESTClient) AddAccessMarker(ctx context.Context, guildID, userID, markerID string) error {
	path := fmt.Sprintf("/guilds/%s/members/%s/markers/%s",
		url.PathEscape(guildID), url.PathEscape(userID), url.PathEscape(markerID))
	if err := c.do(ctx, http.MethodPut, path, nil, nil); err != nil {
		return c.mapNotFound(err, apperrors.NewMarkerNotFoundError(guildID, markerID))
	}
	return nil
}

func (c *RESTClient) RemoveAccessMarker(ctx context.Context, guildID, userID, markerID string) error {
	path := fmt.Sprintf("/guilds/%s/members/%s/markers/%s",
		url.PathEscape(guildID), url.PathEscape(userID), url.PathEscape(markerID))
	if err := c.do(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return c.mapNotFound(err, apperrors.NewMarkerNotFoundError(guildID, markerID))
	}
	return nil
}

func (c *RESTClient) SendDirectNotice(ctx context.Context, userID, text string) error {
	path := fmt.Sprintf("/users/%s/messages", url.PathEscape(userID))
	body := map[string]string{"content": text}
	if err := c.do(ctx, http.MethodPost, path, body, nil); err != nil {
		return c.mapNotFound(err, apperrors.NewMemberNotFoundError("", userID))
	}
	return nil
}

func (c *RESTClient) ReplyToCommand(ctx context.Context, interactionID string, reply CommandReply) error {
	path := fmt.Sprintf("/interactions/%s/reply", url.PathEscape(interactionID))
	return c.do(ctx, http.MethodPost, path, reply, nil)
}

func (c *RESTClient) RegisterCommands(ctx context.Context, commands []Command) error {
	path := fmt.Sprintf("/applications/%s/commands", url.PathEscape(c.applicationID))
	return c.do(ctx, http.MethodPut, path, commands, nil)
}

func (c *RESTClient) SetPresence(ctx context.Context, activity string) error {
	path := fmt.Sprintf("/applications/%s/presence", url.PathEscape(c.applicationID))
	return c.do(ctx, http.MethodPatch, path, map[string]string{"activity": activity}, nil)
}

// httpStatusError carries the raw status so callers can map 404s onto the
// specific not-found code for their operation.
type httpStatusError struct {
	status int
	op     string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("platform %s returned status %d", e.op, e.status)
}

func (c *RESTClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	op := method + " " + path

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bot "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperrors.NewPlatformUnavailableError(op, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return &httpStatusError{status: resp.StatusCode, op: op}
	case resp.StatusCode == http.StatusTooManyRequests:
		return apperrors.NewPlatformRateLimitedError(op)
	case resp.StatusCode >= 400:
		return apperrors.NewPlatformUnavailableError(op,
			fmt.Errorf("status %d", resp.StatusCode))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return apperrors.NewPlatformUnavailableError(op, fmt.Errorf("decode response: %w", err))
		}
	}
	return nil
}

// mapNotFound substitutes the operation-specific not-found error for raw
// 404 responses and passes everything else through unchanged.
func (c *RESTClient) mapNotFound(err error, notFound error) error {
	var statusErr *httpStatusError
	if errors.As(err, &statusErr) && statusErr.status == http.StatusNotFound {
		return notFound
	}
	return err
}
