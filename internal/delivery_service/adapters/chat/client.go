package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopbridge/golang_services/internal/core_domain"
	"github.com/shopbridge/golang_services/internal/delivery_service/domain"
)

// Platform error codes the client interprets.
const (
	codeUnknownChannel    = 10003
	codeUnknownMember     = 10007
	codeUnknownUser       = 10013
	codeCannotMessageUser = 50007
)

// ErrUnknownMember is returned by GetGuildMember when the user is not in the guild.
var ErrUnknownMember = errors.New("member is not in the guild")

// GuildMember is the subset of membership facts the bridge needs.
type GuildMember struct {
	UserID   string
	Roles    []string
	JoinedAt time.Time
}

// HasRole reports whether the member holds roleID.
func (m *GuildMember) HasRole(roleID string) bool {
	if roleID == "" {
		return false
	}
	for _, r := range m.Roles {
		if r == roleID {
			return true
		}
	}
	return false
}

// Client is a REST client for the chat platform's bot API.
type Client struct {
	logger     *slog.Logger
	httpClient *http.Client
	baseURL    string
	botToken   string
	guildID    string
}

func NewClient(logger *slog.Logger, baseURL, botToken, guildID string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		logger:     logger.With("adapter", "chat"),
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		botToken:   botToken,
		guildID:    guildID,
	}
}

type createMessageRequest struct {
	Content string         `json:"content,omitempty"`
	Embeds  []domain.Embed `json:"embeds,omitempty"`
}

type messageResponse struct {
	ID        string `json:"id"`
	ChannelID string `json:"channel_id"`
}

type dmChannelRequest struct {
	RecipientID string `json:"recipient_id"`
}

type channelResponse struct {
	ID string `json:"id"`
}

type memberResponse struct {
	User struct {
		ID string `json:"id"`
	} `json:"user"`
	Roles    []string  `json:"roles"`
	JoinedAt time.Time `json:"joined_at"`
}

// apiError is the platform's JSON error body.
type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// statusError carries a non-2xx response.
type statusError struct {
	StatusCode int
	API        apiError
}

func (e *statusError) Error() string {
	if e.API.Message != "" {
		return fmt.Sprintf("chat api status %d: %s (code %d)", e.StatusCode, e.API.Message, e.API.Code)
	}
	return fmt.Sprintf("chat api status %d", e.StatusCode)
}

// SendToChannel posts msg to a channel.
func (c *Client) SendToChannel(ctx context.Context, channelID string, msg domain.OutboundMessage) (domain.SendResult, error) {
	dest := domain.Channel(channelID).String()
	var resp messageResponse
	if err := c.do(ctx, http.MethodPost, "/channels/"+url.PathEscape(channelID)+"/messages", toRequest(msg), &resp); err != nil {
		return domain.SendResult{}, c.deliveryError(dest, err)
	}
	c.logger.InfoContext(ctx, "Message sent to channel", "channel_id", channelID, "platform_message_id", resp.ID)
	return domain.SendResult{ChannelID: channelID, MessageID: resp.ID}, nil
}

// SendDirectMessage opens (or reuses) the DM channel with userID and posts msg there.
func (c *Client) SendDirectMessage(ctx context.Context, userID string, msg domain.OutboundMessage) (domain.SendResult, error) {
	dest := domain.User(userID).String()

	var dm channelResponse
	if err := c.do(ctx, http.MethodPost, "/users/@me/channels", dmChannelRequest{RecipientID: userID}, &dm); err != nil {
		return domain.SendResult{}, c.recipientError(userID, dest, err)
	}

	var resp messageResponse
	if err := c.do(ctx, http.MethodPost, "/channels/"+url.PathEscape(dm.ID)+"/messages", toRequest(msg), &resp); err != nil {
		return domain.SendResult{}, c.recipientError(userID, dest, err)
	}
	c.logger.InfoContext(ctx, "Direct message sent", "user_id", userID, "platform_message_id", resp.ID)
	return domain.SendResult{ChannelID: dm.ID, MessageID: resp.ID}, nil
}

// AddReaction adds emoji to a message as the bot.
func (c *Client) AddReaction(ctx context.Context, channelID, messageID, emoji string) error {
	path := fmt.Sprintf("/channels/%s/messages/%s/reactions/%s/@me",
		url.PathEscape(channelID), url.PathEscape(messageID), url.PathEscape(emoji))
	if err := c.do(ctx, http.MethodPut, path, nil, nil); err != nil {
		return fmt.Errorf("add reaction: %w", err)
	}
	return nil
}

// GetGuildMember looks up userID in the configured guild.
func (c *Client) GetGuildMember(ctx context.Context, userID string) (*GuildMember, error) {
	var resp memberResponse
	path := "/guilds/" + url.PathEscape(c.guildID) + "/members/" + url.PathEscape(userID)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		var se *statusError
		// Other coded 404s (Unknown Guild) are configuration errors, not departures.
		if errors.As(err, &se) && (se.API.Code == codeUnknownMember || (se.StatusCode == http.StatusNotFound && se.API.Code == 0)) {
			return nil, ErrUnknownMember
		}
		return nil, fmt.Errorf("get guild member %s: %w", userID, err)
	}
	return &GuildMember{UserID: resp.User.ID, Roles: resp.Roles, JoinedAt: resp.JoinedAt}, nil
}

func (c *Client) recipientError(userID, dest string, err error) error {
	var se *statusError
	if errors.As(err, &se) && se.API.Code == codeCannotMessageUser {
		return &core_domain.PermanentRecipientError{Recipient: userID, Reason: se.API.Message}
	}
	return c.deliveryError(dest, err)
}

// deliveryError wraps lookup and transport failures alike; the retry policy does not
// distinguish them, only the message text does.
func (c *Client) deliveryError(dest string, err error) error {
	de := &core_domain.DeliveryError{Destination: dest, Err: err}
	var se *statusError
	if errors.As(err, &se) {
		de.StatusCode = se.StatusCode
		switch se.API.Code {
		case codeUnknownChannel:
			de.Err = fmt.Errorf("unknown channel: %w", err)
		case codeUnknownUser:
			de.Err = fmt.Errorf("unknown user: %w", err)
		}
	}
	return de
}

func toRequest(msg domain.OutboundMessage) createMessageRequest {
	req := createMessageRequest{Content: msg.Content}
	if msg.Embed != nil {
		req.Embeds = []domain.Embed{*msg.Embed}
	}
	return req
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bot "+c.botToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response (status %d): %w", resp.StatusCode, err)
	}
	c.logger.DebugContext(ctx, "Chat API response", "method", method, "path", path, "status_code", resp.StatusCode)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		se := &statusError{StatusCode: resp.StatusCode}
		if len(respBody) > 0 {
			_ = json.Unmarshal(respBody, &se.API)
		}
		return se
	}
	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
