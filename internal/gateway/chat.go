package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/retrobridge/internal/bridge"
	"github.com/cory-johannsen/retrobridge/internal/chat/mattermost"
	"github.com/cory-johannsen/retrobridge/internal/message"
)

// ChatName is the origin of everything posted on the chat platform.
const ChatName = "mattermost"

// ChatClient is the contract of a chat platform connection.
type ChatClient interface {
	// Connect opens the session; it fails with mattermost.ErrNoToken when no
	// credential is configured.
	Connect(ctx context.Context, elapsed time.Duration) error
	// Tick connects when the client is neither connected nor connecting.
	Tick(ctx context.Context, elapsed time.Duration) error
	Ready() bool
	SendMessage(ctx context.Context, msg message.Message) error
	// ListChannels answers the channel list and selection commands.
	ListChannels(ctx context.Context, cmd message.Command) (*message.CommandResult, error)
	SetHandler(h func(msg message.Message))
	Close() error
}

// Status is the connection state of the chat gateway.
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
	// StatusUnconfigured means no credential is available.
	StatusUnconfigured
)

// String returns the status name for logging.
func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusUnconfigured:
		return "unconfigured"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Chat exposes the chat platform to the bridge.
type Chat struct {
	client ChatClient
	logger *zap.Logger

	mu     sync.Mutex
	hub    bridge.Hub
	status Status
}

// NewChat builds the chat gateway and installs it as the client's inbound handler.
//
// Precondition: client and logger must be non-nil.
func NewChat(client ChatClient, logger *zap.Logger) *Chat {
	c := &Chat{
		client: client,
		logger: logger,
	}
	client.SetHandler(c.receive)
	return c
}

// Name returns ChatName.
func (c *Chat) Name() string {
	return ChatName
}

// Attach records the hub inbound chat traffic is published to.
func (c *Chat) Attach(hub bridge.Hub) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hub = hub
}

// Status returns the current connection status.
func (c *Chat) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// setStatus records s and logs transitions only.
func (c *Chat) setStatus(s Status, err error) {
	c.mu.Lock()
	prev := c.status
	c.status = s
	c.mu.Unlock()
	if prev == s {
		return
	}

	fields := []zap.Field{
		zap.Stringer("from", prev),
		zap.Stringer("to", s),
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	if s == StatusUnconfigured {
		c.logger.Warn("chat gateway not configured", fields...)
		return
	}
	c.logger.Info("chat gateway status changed", fields...)
}

// Tick keeps the client connected and tracks the gateway status.
func (c *Chat) Tick(ctx context.Context, elapsed time.Duration) error {
	if c.client.Ready() {
		c.setStatus(StatusConnected, nil)
		return nil
	}
	if c.Status() == StatusConnected {
		c.setStatus(StatusDisconnected, nil)
	}
	if c.Status() != StatusUnconfigured {
		c.setStatus(StatusConnecting, nil)
	}

	err := c.client.Tick(ctx, elapsed)
	switch {
	case errors.Is(err, mattermost.ErrNoToken):
		c.setStatus(StatusUnconfigured, err)
		return nil
	case err != nil:
		c.setStatus(StatusDisconnected, err)
		return err
	case c.client.Ready():
		c.setStatus(StatusConnected, nil)
	}
	return nil
}

// Ready reports whether the client is connected.
func (c *Chat) Ready() bool {
	return c.client.Ready()
}

// OnMessage posts a message from another gateway to the chat platform.
func (c *Chat) OnMessage(ctx context.Context, origin string, msg message.Message) error {
	if origin == ChatName {
		return nil
	}
	if c.Status() == StatusUnconfigured {
		c.logger.Debug("dropping message for unconfigured chat", zap.String("sender", msg.SenderName))
		return nil
	}
	if err := c.client.SendMessage(ctx, msg); err != nil {
		return fmt.Errorf("relaying message from %s: %w", origin, err)
	}
	return nil
}

// OnCommand answers the channel list and selection commands while connected.
func (c *Chat) OnCommand(ctx context.Context, origin string, cmd message.Command) (*message.CommandResult, error) {
	if origin == ChatName {
		return nil, nil
	}
	switch cmd.Name {
	case "l", "c":
		if !c.client.Ready() {
			return nil, nil
		}
		return c.client.ListChannels(ctx, cmd)
	default:
		return nil, nil
	}
}

// receive publishes an inbound chat message through the bridge.
func (c *Chat) receive(msg message.Message) {
	c.mu.Lock()
	hub := c.hub
	c.mu.Unlock()
	if hub == nil {
		return
	}
	msg.Source = ChatName
	hub.Publish(context.Background(), ChatName, msg)
}

// Close ends the chat session.
func (c *Chat) Close() error {
	c.setStatus(StatusDisconnected, nil)
	return c.client.Close()
}
