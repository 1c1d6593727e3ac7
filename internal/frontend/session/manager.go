package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/cory-johannsen/retrobridge/internal/frontend/telnet"
	"github.com/cory-johannsen/retrobridge/internal/message"
)

// Forwarder carries terminal traffic beyond the local sessions.
type Forwarder interface {
	// ForwardMessage hands a chat message typed on a terminal to the bridge.
	ForwardMessage(ctx context.Context, msg message.Message)
	// ForwardCommand asks the bridge to answer a terminal command.
	ForwardCommand(ctx context.Context, cmd message.Command) (*message.CommandResult, error)
}

// Manager owns every live terminal session, in creation order.
// All methods are safe for concurrent use.
type Manager struct {
	source  string
	opts    Options
	profile telnet.Profile
	logger  *zap.Logger

	mu        sync.Mutex
	sessions  []*Session
	forwarder Forwarder
}

// NewManager creates an empty Manager. source is the origin name stamped on
// every message relayed from a terminal.
//
// Precondition: source must be non-empty; logger must be non-nil.
// Postcondition: Returns a Manager with no sessions and no forwarder.
func NewManager(source string, opts Options, profile telnet.Profile, logger *zap.Logger) *Manager {
	return &Manager{
		source:  source,
		opts:    opts,
		profile: profile,
		logger:  logger,
	}
}

// SetForwarder installs the target of relayed traffic.
func (m *Manager) SetForwarder(f Forwarder) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.forwarder = f
}

// Create builds a session over transport using the compatibility profile and
// appends it to the managed set.
//
// Postcondition: The returned session is included in Sessions until removed.
func (m *Manager) Create(transport Transport, profile telnet.Profile) *Session {
	opts := m.opts
	opts.Echo = profile.Echo
	s := New(transport, m, opts, m.logger.Named("session"))

	m.mu.Lock()
	m.sessions = append(m.sessions, s)
	count := len(m.sessions)
	m.mu.Unlock()

	m.logger.Info("session created",
		zap.String("session_id", s.ID()),
		zap.Int("sessions", count),
	)
	return s
}

// Remove drops the session with the given ID. Removing an unknown ID is a no-op.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	before := len(m.sessions)
	m.sessions = lo.Filter(m.sessions, func(s *Session, _ int) bool {
		return s.ID() != id
	})
	removed := before != len(m.sessions)
	count := len(m.sessions)
	m.mu.Unlock()

	if removed {
		m.logger.Info("session removed",
			zap.String("session_id", id),
			zap.Int("sessions", count),
		)
	}
}

// Sessions returns a snapshot of the managed sessions in creation order.
func (m *Manager) Sessions() []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Session(nil), m.sessions...)
}

// Count returns the number of managed sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Broadcast delivers msg to every session. A failing session does not stop
// delivery to the others.
func (m *Manager) Broadcast(msg message.Message) {
	for _, s := range m.Sessions() {
		if err := s.Deliver(msg); err != nil {
			m.logger.Warn("broadcast delivery failed",
				zap.String("session_id", s.ID()),
				zap.Error(err),
			)
		}
	}
}

// RelayChat turns a line typed on s into a Message, shows it on every local
// terminal and forwards it to the bridge.
func (m *Manager) RelayChat(ctx context.Context, s *Session, text string) {
	msg := message.Message{
		SenderID:   s.ID(),
		SenderName: s.Nickname(),
		Channel:    s.Channel(),
		Content:    text,
		Source:     m.source,
	}
	m.Broadcast(msg)
	if f := m.currentForwarder(); f != nil {
		f.ForwardMessage(ctx, msg)
	}
}

// RelayCommand forwards cmd and returns the first answer, or nil when no
// forwarder is installed or nobody answers.
func (m *Manager) RelayCommand(ctx context.Context, s *Session, cmd message.Command) (*message.CommandResult, error) {
	f := m.currentForwarder()
	if f == nil {
		return nil, nil
	}
	result, err := f.ForwardCommand(ctx, cmd)
	if err != nil {
		return nil, fmt.Errorf("forwarding command %q from session %s: %w", cmd.Name, s.ID(), err)
	}
	return result, nil
}

func (m *Manager) currentForwarder() Forwarder {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.forwarder
}

// HandleSession owns the read loop of one terminal connection: it creates the
// session, negotiates options, sends the welcome prompt and feeds every chunk
// to the session until the connection ends.
//
// Postcondition: The session is removed before HandleSession returns.
func (m *Manager) HandleSession(ctx context.Context, conn *telnet.Conn) error {
	s := m.Create(conn, m.profile)
	defer m.Remove(s.ID())
	defer s.Close()

	if err := conn.Negotiate(m.profile); err != nil {
		return fmt.Errorf("negotiating telnet options: %w", err)
	}
	if err := s.Welcome(); err != nil {
		return err
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		data, err := conn.Read()
		if err != nil {
			if s.Closed() || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("reading from %s: %w", conn.RemoteAddr(), err)
		}
		if err := s.Receive(ctx, data); err != nil {
			return err
		}
		if s.Closed() {
			return nil
		}
	}
}
