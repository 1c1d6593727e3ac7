// Package session implements the per-connection terminal state machine and
// the manager that owns every live terminal session.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cory-johannsen/retrobridge/internal/codec"
	"github.com/cory-johannsen/retrobridge/internal/message"
)

// SystemSender is the sender name of every server-generated line.
const SystemSender = "RetroBridge"

// ErrLineTooLong is returned by Receive when the pending input exceeds the
// configured bound without a delimiter.
var ErrLineTooLong = errors.New("input line too long")

// State is the position of a session in its lifecycle.
type State int

const (
	// StateAwaitingNickname waits for the first non-empty line.
	StateAwaitingNickname State = iota
	// StateAwaitingChannel has a nickname but no selected channel.
	StateAwaitingChannel
	// StateActive relays chat lines to the selected channel.
	StateActive
)

// String returns the state name for logging.
func (s State) String() string {
	switch s {
	case StateAwaitingNickname:
		return "awaiting_nickname"
	case StateAwaitingChannel:
		return "awaiting_channel"
	case StateActive:
		return "active"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Transport is the byte sink of one terminal connection.
type Transport interface {
	Write(data []byte) error
	Close() error
}

// Relay receives what a session cannot handle on its own.
type Relay interface {
	// RelayChat forwards a chat line typed by s.
	RelayChat(ctx context.Context, s *Session, text string)
	// RelayCommand forwards a command issued by s and returns the first answer,
	// or nil when nobody handles it.
	RelayCommand(ctx context.Context, s *Session, cmd message.Command) (*message.CommandResult, error)
}

// Options configure the byte handling of a session.
type Options struct {
	// Codec translates between terminal bytes and text. Nil means raw passthrough.
	Codec codec.Codec
	// Framing holds the delimiter and backspace byte values.
	Framing Framing
	// Echo sends every received byte back to the terminal.
	Echo bool
	// MaxLineBytes bounds the pending input. Zero means unbounded.
	MaxLineBytes int
}

// Session is the state machine of one terminal connection.
// Receive must be called from a single goroutine; every other method is safe
// for concurrent use.
type Session struct {
	id        string
	transport Transport
	relay     Relay
	codec     codec.Codec
	opts      Options
	logger    *zap.Logger

	mu       sync.Mutex
	nickname string
	channel  message.Channel
	state    State
	pending  []byte
	closed   bool
}

// New creates a session bound to transport.
//
// Precondition: transport, relay and logger must be non-nil.
// Postcondition: Returns a session in StateAwaitingNickname with a fresh ID.
func New(transport Transport, relay Relay, opts Options, logger *zap.Logger) *Session {
	if opts.Codec == nil {
		opts.Codec = codec.Raw()
	}
	if opts.Framing == (Framing{}) {
		opts.Framing = DefaultFraming()
	}
	id := uuid.New().String()
	return &Session{
		id:        id,
		transport: transport,
		relay:     relay,
		codec:     opts.Codec,
		opts:      opts,
		logger:    logger.With(zap.String("session_id", id)),
		state:     StateAwaitingNickname,
	}
}

// ID returns the stable session identifier.
func (s *Session) ID() string {
	return s.id
}

// Nickname returns the chosen nickname, or the session ID until one is set.
func (s *Session) Nickname() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.nickname == "" {
		return s.id
	}
	return s.nickname
}

// Channel returns the selected channel; the zero Channel when none is selected.
func (s *Session) Channel() message.Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channel
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Closed reports whether Close has been called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Welcome sends the nickname prompt.
func (s *Session) Welcome() error {
	return s.render(message.Message{
		SenderName: SystemSender,
		Content:    "Welcome to RetroBridge, please type in your nickname:",
	})
}

// Receive feeds clean transport bytes into the session. Every complete line
// is decoded and handled in arrival order before Receive returns.
//
// Postcondition: Returns ErrLineTooLong after notifying the user when the
// pending input outgrows MaxLineBytes; the caller must then close the session.
func (s *Session) Receive(ctx context.Context, data []byte) error {
	if s.opts.Echo && len(data) > 0 {
		if err := s.transport.Write(data); err != nil {
			s.logger.Debug("echo failed", zap.Error(err))
		}
	}

	s.mu.Lock()
	s.pending = append(s.pending, data...)
	var lines [][]byte
	for {
		line, rest, ok := SplitLine(s.pending, s.opts.Framing.Delimiter)
		if !ok {
			break
		}
		lines = append(lines, ApplyBackspace(line, s.opts.Framing.Backspace))
		s.pending = rest
	}
	if len(s.pending) == 0 {
		s.pending = nil
	}
	overflow := s.opts.MaxLineBytes > 0 && len(s.pending) > s.opts.MaxLineBytes
	if overflow {
		s.pending = nil
	}
	s.mu.Unlock()

	for _, raw := range lines {
		if s.Closed() {
			return nil
		}
		text := s.codec.Decode(raw)
		s.logger.Debug("decoded line",
			zap.String("text", text),
			zap.Binary("raw", raw),
		)
		s.handleLine(ctx, text)
	}

	if overflow {
		s.system("Line too long, disconnecting.")
		return fmt.Errorf("session %s: %w", s.id, ErrLineTooLong)
	}
	return nil
}

// Deliver renders msg to the terminal. Messages from a channel other than the
// selected one carry a [C:<name>] prefix.
//
// Postcondition: Returns the transport error, if any; the session stays open.
func (s *Session) Deliver(msg message.Message) error {
	if s.Closed() {
		return nil
	}
	return s.render(msg)
}

// Close ends the terminal connection.
//
// Postcondition: The transport is closed once; later deliveries are no-ops.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	return s.transport.Close()
}

// Format builds the terminal line for msg as seen by a session whose selected
// channel is current.
func Format(msg message.Message, current message.Channel) string {
	if !msg.Channel.IsZero() && !msg.Channel.Equal(current) {
		return fmt.Sprintf("[C:%s]%s: %s\r", msg.Channel.Name, msg.SenderName, msg.Content)
	}
	return fmt.Sprintf("%s: %s\r", msg.SenderName, msg.Content)
}

func (s *Session) render(msg message.Message) error {
	text := Format(msg, s.Channel())
	if err := s.transport.Write(s.codec.Encode(text)); err != nil {
		s.logger.Warn("sending message to terminal",
			zap.String("sender", msg.SenderName),
			zap.Error(err),
		)
		return fmt.Errorf("writing to session %s: %w", s.id, err)
	}
	return nil
}

func (s *Session) system(content string) {
	_ = s.render(message.Message{SenderName: SystemSender, Content: content})
}

func (s *Session) handleLine(ctx context.Context, text string) {
	state := s.State()

	if state == StateAwaitingNickname {
		if text == "" {
			return
		}
		s.mu.Lock()
		s.nickname = text
		s.state = StateAwaitingChannel
		s.mu.Unlock()
		s.logger.Info("nickname set", zap.String("nickname", text))
		s.system("Your nickname was set to " + text)
		return
	}

	if cmd, ok := message.ParseCommand(text); ok {
		s.handleCommand(ctx, cmd)
		return
	}

	if state == StateAwaitingChannel {
		s.sendHelp()
		return
	}
	if text == "" {
		return
	}
	s.relay.RelayChat(ctx, s, text)
}

func (s *Session) handleCommand(ctx context.Context, cmd message.Command) {
	s.logger.Debug("command", zap.String("name", cmd.Name), zap.String("args", cmd.Args))

	switch cmd.Name {
	case "q":
		if err := s.Close(); err != nil {
			s.logger.Debug("closing on quit", zap.Error(err))
		}
	case "l":
		result := s.relayCommand(ctx, cmd)
		if result == nil {
			s.sendHelp()
			return
		}
		s.system(result.Message)
	case "c":
		result := s.relayCommand(ctx, cmd)
		if result == nil {
			s.sendHelp()
			return
		}
		if ch, ok := result.Channel(); ok && result.Handled {
			s.mu.Lock()
			s.channel = ch
			s.state = StateActive
			s.mu.Unlock()
			s.logger.Info("channel selected",
				zap.String("channel_id", ch.ID),
				zap.String("channel_name", ch.Name),
			)
		}
		if result.Message != "" {
			s.system(result.Message)
		}
	case "n":
		if cmd.Args == "" {
			s.sendHelp()
			return
		}
		s.mu.Lock()
		s.nickname = cmd.Args
		s.mu.Unlock()
		s.system("Nickname changed to " + cmd.Args)
	default:
		s.sendHelp()
	}
}

func (s *Session) relayCommand(ctx context.Context, cmd message.Command) *message.CommandResult {
	result, err := s.relay.RelayCommand(ctx, s, cmd)
	if err != nil {
		s.logger.Warn("relaying command",
			zap.String("command", cmd.Name),
			zap.Error(err),
		)
		return nil
	}
	return result
}

func (s *Session) sendHelp() {
	channelName := "[not selected]"
	if ch := s.Channel(); !ch.IsZero() {
		channelName = ch.Name
	}
	s.system(HelpText(channelName, s.Nickname()))
}

// HelpText lists the current selection and the available commands.
func HelpText(channelName, nickname string) string {
	t := message.CommandToken
	return fmt.Sprintf("Current channel: %s. Your nickname is %s. To display channels type '%sl'.\r"+
		"To select a channel type '%sc [channel name]'.\r"+
		"To change nickname type '%sn [nickname]'.\r"+
		"To quit type '%sq'", channelName, nickname, t, t, t, t)
}
