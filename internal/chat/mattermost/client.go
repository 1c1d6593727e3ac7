// Package mattermost adapts the Mattermost REST v4 API and WebSocket event
// stream to the chat client contract used by the chat gateway.
package mattermost

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/mattermost/mattermost/server/public/model"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/cory-johannsen/retrobridge/internal/config"
	"github.com/cory-johannsen/retrobridge/internal/message"
)

// PropOverrideUsername is the post property that renders a relayed author's
// name in place of the bot's.
const PropOverrideUsername = "override_username"

const requestTimeout = 15 * time.Second

var (
	// ErrNoToken is returned by Connect when no credential is configured.
	ErrNoToken = errors.New("mattermost token not configured")
	// ErrNotConnected is returned by operations that need a live session.
	ErrNotConnected = errors.New("mattermost client not connected")
)

// Handler receives every chat message posted by another user in a bridged channel.
type Handler = func(msg message.Message)

// eventStream is the inbound half of a WebSocket session.
type eventStream interface {
	Events() <-chan *model.WebSocketEvent
	Close()
}

type dialFunc func(url, token string) (eventStream, error)

type wsStream struct {
	ws *model.WebSocketClient
}

func (s wsStream) Events() <-chan *model.WebSocketEvent { return s.ws.EventChannel }
func (s wsStream) Close()                               { s.ws.Close() }

func dialWebSocket(url, token string) (eventStream, error) {
	ws, err := model.NewWebSocketClient4(url, token)
	if err != nil {
		return nil, fmt.Errorf("creating websocket client: %w", err)
	}
	ws.Listen()
	return wsStream{ws: ws}, nil
}

// Client is a bot session on one Mattermost team.
// All methods are safe for concurrent use.
type Client struct {
	cfg    config.MattermostConfig
	api    *model.Client4
	dial   dialFunc
	logger *zap.Logger

	mu         sync.Mutex
	userID     string
	teamID     string
	channels   []message.Channel
	names      map[string]string // user ID → display name
	stream     eventStream
	connected  bool
	connecting bool
	handler    Handler
}

// New creates a disconnected client for cfg.
//
// Precondition: logger must be non-nil.
// Postcondition: Returns a Client; no network traffic happens until Connect.
func New(cfg config.MattermostConfig, logger *zap.Logger) *Client {
	api := model.NewAPIv4Client(cfg.ServerURL)
	api.HTTPClient = &http.Client{Timeout: requestTimeout}
	api.SetToken(cfg.Token)
	return &Client{
		cfg:    cfg,
		api:    api,
		dial:   dialWebSocket,
		logger: logger,
		names:  make(map[string]string),
	}
}

// SetHandler installs the receiver of inbound messages.
func (c *Client) SetHandler(h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = h
}

// Ready reports whether the client holds a live WebSocket session.
func (c *Client) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Tick connects when the client is neither connected nor connecting.
func (c *Client) Tick(ctx context.Context, elapsed time.Duration) error {
	c.mu.Lock()
	busy := c.connected || c.connecting
	c.mu.Unlock()
	if busy {
		return nil
	}
	return c.Connect(ctx, elapsed)
}

// Connect verifies the token, resolves the team and its channels and opens
// the event stream.
//
// Postcondition: Returns ErrNoToken without network traffic when no token is
// configured; on success Ready reports true.
func (c *Client) Connect(ctx context.Context, elapsed time.Duration) error {
	if !c.cfg.Configured() {
		return ErrNoToken
	}

	c.mu.Lock()
	if c.connected || c.connecting {
		c.mu.Unlock()
		return nil
	}
	c.connecting = true
	c.mu.Unlock()

	err := c.connect(ctx, elapsed)

	c.mu.Lock()
	c.connecting = false
	c.mu.Unlock()
	return err
}

func (c *Client) connect(ctx context.Context, elapsed time.Duration) error {
	start := time.Now()
	c.logger.Info("connecting to mattermost",
		zap.String("server_url", c.cfg.ServerURL),
		zap.Duration("elapsed", elapsed),
	)

	me, _, err := c.api.GetMe(ctx, "")
	if err != nil {
		return fmt.Errorf("verifying mattermost session: %w", err)
	}

	teamID := c.cfg.TeamID
	if teamID == "" {
		teams, _, err := c.api.GetTeamsForUser(ctx, me.Id, "")
		if err != nil {
			return fmt.Errorf("listing teams: %w", err)
		}
		if len(teams) == 0 {
			return fmt.Errorf("user %s belongs to no team", me.Username)
		}
		teamID = teams[0].Id
	}

	c.mu.Lock()
	c.userID = me.Id
	c.teamID = teamID
	c.mu.Unlock()

	channels, err := c.fetchChannels(ctx)
	if err != nil {
		return err
	}

	stream, err := c.dial(websocketURL(c.cfg.ServerURL), c.api.AuthToken)
	if err != nil {
		return fmt.Errorf("opening websocket: %w", err)
	}

	c.mu.Lock()
	c.channels = channels
	c.stream = stream
	c.connected = true
	c.mu.Unlock()

	go c.listen(stream)

	c.logger.Info("connected to mattermost",
		zap.String("user_id", me.Id),
		zap.String("username", me.Username),
		zap.String("team_id", teamID),
		zap.Int("channels", len(channels)),
		zap.Duration("duration", time.Since(start)),
	)
	return nil
}

// fetchChannels loads the open and private channels of the team, sorted by name.
func (c *Client) fetchChannels(ctx context.Context) ([]message.Channel, error) {
	c.mu.Lock()
	teamID, userID := c.teamID, c.userID
	c.mu.Unlock()

	raw, _, err := c.api.GetChannelsForTeamForUser(ctx, teamID, userID, false, "")
	if err != nil {
		return nil, fmt.Errorf("listing channels of team %s: %w", teamID, err)
	}
	bridged := lo.Filter(raw, func(ch *model.Channel, _ int) bool {
		return ch.DeleteAt == 0 && (ch.Type == model.ChannelTypeOpen || ch.Type == model.ChannelTypePrivate)
	})
	return lo.Map(bridged, func(ch *model.Channel, _ int) message.Channel {
		return message.Channel{ID: ch.Id, Name: ch.Name}
	}), nil
}

func (c *Client) listen(stream eventStream) {
	for evt := range stream.Events() {
		if evt == nil {
			continue
		}
		c.handleEvent(evt)
	}

	c.mu.Lock()
	current := c.stream == stream
	if current {
		c.connected = false
		c.stream = nil
	}
	c.mu.Unlock()
	if current {
		c.logger.Warn("mattermost event stream closed; reconnecting on next tick")
	}
}

func (c *Client) handleEvent(evt *model.WebSocketEvent) {
	if evt.EventType() != model.WebsocketEventPosted {
		return
	}
	post, err := c.parsePosted(evt)
	if err != nil {
		c.logger.Warn("parsing posted event", zap.Error(err))
		return
	}
	if post == nil {
		return
	}

	c.mu.Lock()
	channel, found := lo.Find(c.channels, func(ch message.Channel) bool {
		return ch.ID == post.ChannelId
	})
	handler := c.handler
	c.mu.Unlock()

	if !found {
		c.logger.Debug("post in unbridged channel", zap.String("channel_id", post.ChannelId))
		return
	}
	if handler == nil {
		return
	}

	fallback, _ := evt.GetData()["sender_name"].(string)
	handler(message.Message{
		SenderID:   post.UserId,
		SenderName: c.displayName(post.UserId, strings.TrimPrefix(fallback, "@")),
		Channel:    channel,
		Content:    post.Message,
	})
}

// parsePosted returns the post carried by evt, or nil when the post must not
// be relayed (own posts and system messages).
func (c *Client) parsePosted(evt *model.WebSocketEvent) (*model.Post, error) {
	postJSON, ok := evt.GetData()["post"].(string)
	if !ok {
		return nil, errors.New("posted event missing post data")
	}

	var post model.Post
	if err := json.Unmarshal([]byte(postJSON), &post); err != nil {
		return nil, fmt.Errorf("unmarshalling post: %w", err)
	}

	c.mu.Lock()
	own := post.UserId == c.userID
	c.mu.Unlock()
	if own {
		return nil, nil
	}
	if post.Type != "" && post.Type != model.PostTypeDefault {
		return nil, nil
	}
	return &post, nil
}

// displayName returns the user's nickname, falling back to the username,
// then to fallback, then to the user ID.
func (c *Client) displayName(userID, fallback string) string {
	c.mu.Lock()
	name, cached := c.names[userID]
	c.mu.Unlock()
	if cached {
		return name
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	user, _, err := c.api.GetUser(ctx, userID, "")
	if err != nil {
		c.logger.Debug("resolving user", zap.String("user_id", userID), zap.Error(err))
		if fallback != "" {
			return fallback
		}
		return userID
	}

	name = user.Nickname
	if name == "" {
		name = user.Username
	}
	c.mu.Lock()
	c.names[userID] = name
	c.mu.Unlock()
	return name
}

// SendMessage posts msg into its channel as "<sender>: <content>".
//
// Precondition: msg.Channel must name a channel.
// Postcondition: Returns ErrNotConnected when no session is live.
func (c *Client) SendMessage(ctx context.Context, msg message.Message) error {
	if !c.Ready() {
		return ErrNotConnected
	}
	if msg.Channel.IsZero() {
		return fmt.Errorf("sending message from %s: no channel", msg.SenderName)
	}

	post := &model.Post{
		ChannelId: msg.Channel.ID,
		Message:   fmt.Sprintf("%s: %s", msg.SenderName, msg.Content),
	}
	post.AddProp(PropOverrideUsername, msg.SenderName)

	if _, _, err := c.api.CreatePost(ctx, post); err != nil {
		return fmt.Errorf("creating post in %s: %w", msg.Channel.Name, err)
	}
	return nil
}

// ListChannels answers the channel list and channel selection commands from
// the team's channels. The channel cache is refreshed first; the previous
// cache is used when the refresh fails.
//
// Postcondition: Returns ErrNotConnected when no session is live.
func (c *Client) ListChannels(ctx context.Context, cmd message.Command) (*message.CommandResult, error) {
	if !c.Ready() {
		return nil, ErrNotConnected
	}

	channels, err := c.fetchChannels(ctx)
	if err != nil {
		c.logger.Warn("refreshing channels; using cache", zap.Error(err))
		c.mu.Lock()
		channels = append([]message.Channel(nil), c.channels...)
		c.mu.Unlock()
	} else {
		c.mu.Lock()
		c.channels = channels
		c.mu.Unlock()
	}
	return message.ResolveChannels(cmd, channels), nil
}

// Close ends the event stream.
//
// Postcondition: Ready reports false.
func (c *Client) Close() error {
	c.mu.Lock()
	stream := c.stream
	c.stream = nil
	c.connected = false
	c.mu.Unlock()

	if stream != nil {
		stream.Close()
	}
	return nil
}

// websocketURL converts an HTTP(S) URL to a WS(S) URL.
func websocketURL(url string) string {
	if strings.HasPrefix(url, "https://") {
		return "wss://" + strings.TrimPrefix(url, "https://")
	}
	if strings.HasPrefix(url, "http://") {
		return "ws://" + strings.TrimPrefix(url, "http://")
	}
	return url
}
