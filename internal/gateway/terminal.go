// Package gateway adapts the terminal server and the chat platform to the
// bridge's Source and Observer capabilities.
package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/retrobridge/internal/bridge"
	"github.com/cory-johannsen/retrobridge/internal/frontend/session"
	"github.com/cory-johannsen/retrobridge/internal/message"
)

// TerminalName is the origin of everything typed on a terminal.
const TerminalName = "telnet"

// Listener is the lifecycle of the terminal acceptor.
type Listener interface {
	Listen() error
	Serve() error
	IsRunning() bool
	Stop()
}

// Terminal exposes the terminal sessions to the bridge. It starts the
// acceptor lazily on the first tick and retries on every tick until the
// listener is bound.
type Terminal struct {
	sessions *session.Manager
	acceptor Listener
	logger   *zap.Logger

	mu  sync.Mutex
	hub bridge.Hub
}

// NewTerminal builds the terminal gateway and installs it as the manager's forwarder.
//
// Precondition: sessions, acceptor and logger must be non-nil.
func NewTerminal(sessions *session.Manager, acceptor Listener, logger *zap.Logger) *Terminal {
	t := &Terminal{
		sessions: sessions,
		acceptor: acceptor,
		logger:   logger,
	}
	sessions.SetForwarder(t)
	return t
}

// Name returns TerminalName.
func (t *Terminal) Name() string {
	return TerminalName
}

// Attach records the hub terminal traffic is published to.
func (t *Terminal) Attach(hub bridge.Hub) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.hub = hub
}

func (t *Terminal) currentHub() bridge.Hub {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.hub
}

// Tick binds the acceptor when it is not running and starts serving.
func (t *Terminal) Tick(_ context.Context, elapsed time.Duration) error {
	if t.acceptor.IsRunning() {
		return nil
	}
	if err := t.acceptor.Listen(); err != nil {
		return fmt.Errorf("starting terminal acceptor: %w", err)
	}
	t.logger.Info("terminal acceptor started", zap.Duration("elapsed", elapsed))
	go func() {
		if err := t.acceptor.Serve(); err != nil {
			t.logger.Error("terminal acceptor stopped", zap.Error(err))
		}
	}()
	return nil
}

// Ready reports whether the acceptor is listening.
func (t *Terminal) Ready() bool {
	return t.acceptor.IsRunning()
}

// OnMessage shows a message from another gateway on every terminal.
func (t *Terminal) OnMessage(_ context.Context, origin string, msg message.Message) error {
	if origin == TerminalName {
		return nil
	}
	t.sessions.Broadcast(msg)
	return nil
}

// OnCommand never answers; terminals only issue commands.
func (t *Terminal) OnCommand(context.Context, string, message.Command) (*message.CommandResult, error) {
	return nil, nil
}

// ForwardMessage publishes a terminal chat line through the bridge.
func (t *Terminal) ForwardMessage(ctx context.Context, msg message.Message) {
	if hub := t.currentHub(); hub != nil {
		hub.Publish(ctx, TerminalName, msg)
	}
}

// ForwardCommand dispatches a terminal command through the bridge.
func (t *Terminal) ForwardCommand(ctx context.Context, cmd message.Command) (*message.CommandResult, error) {
	hub := t.currentHub()
	if hub == nil {
		return nil, nil
	}
	return hub.Dispatch(ctx, TerminalName, cmd), nil
}

// Stop closes the acceptor and every terminal connection.
func (t *Terminal) Stop() {
	t.acceptor.Stop()
}
