package session

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cory-johannsen/retrobridge/internal/frontend/telnet"
	"github.com/cory-johannsen/retrobridge/internal/message"
)

// fakeForwarder records forwarded traffic and answers every command with result.
type fakeForwarder struct {
	mu       sync.Mutex
	messages []message.Message
	commands []message.Command
	result   *message.CommandResult
	err      error
}

func (f *fakeForwarder) ForwardMessage(_ context.Context, msg message.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, msg)
}

func (f *fakeForwarder) ForwardCommand(_ context.Context, cmd message.Command) (*message.CommandResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, cmd)
	return f.result, f.err
}

func (f *fakeForwarder) forwarded() []message.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]message.Message(nil), f.messages...)
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager("telnet", Options{}, telnet.Profile{}, zaptest.NewLogger(t))
}

func TestManager_CreateAndRemove(t *testing.T) {
	m := newTestManager(t)
	a := m.Create(&fakeTransport{}, telnet.Profile{})
	b := m.Create(&fakeTransport{}, telnet.Profile{})
	assert.Equal(t, 2, m.Count())
	assert.Equal(t, []*Session{a, b}, m.Sessions())

	m.Remove(a.ID())
	assert.Equal(t, []*Session{b}, m.Sessions())

	m.Remove(a.ID())
	assert.Equal(t, 1, m.Count(), "removing twice is a no-op")
}

func TestManager_CreateAppliesProfileEcho(t *testing.T) {
	m := newTestManager(t)
	tr := &fakeTransport{}
	s := m.Create(tr, telnet.Profile{Echo: true})
	require.NoError(t, s.Receive(context.Background(), []byte("x")))
	assert.Equal(t, "x", tr.output())
}

func TestManager_BroadcastIsolatesFailures(t *testing.T) {
	m := newTestManager(t)
	broken := &fakeTransport{writeErr: errors.New("broken")}
	healthy := &fakeTransport{}
	m.Create(broken, telnet.Profile{})
	m.Create(healthy, telnet.Profile{})

	m.Broadcast(message.Message{SenderName: "Bob", Content: "hi"})
	assert.Equal(t, "Bob: hi\r", healthy.output())
}

func TestManager_RelayChat(t *testing.T) {
	m := newTestManager(t)
	fwd := &fakeForwarder{}
	m.SetForwarder(fwd)

	senderTr := &fakeTransport{}
	otherTr := &fakeTransport{}
	sender := m.Create(senderTr, telnet.Profile{})
	m.Create(otherTr, telnet.Profile{})

	m.RelayChat(context.Background(), sender, "hello")

	require.Len(t, fwd.forwarded(), 1)
	msg := fwd.forwarded()[0]
	assert.Equal(t, "telnet", msg.Source)
	assert.Equal(t, sender.ID(), msg.SenderID)
	assert.Equal(t, sender.ID(), msg.SenderName, "nickname falls back to the session ID")
	assert.Equal(t, "hello", msg.Content)

	assert.Contains(t, senderTr.output(), ": hello\r")
	assert.Contains(t, otherTr.output(), ": hello\r")
}

func TestManager_RelayCommand(t *testing.T) {
	m := newTestManager(t)
	s := m.Create(&fakeTransport{}, telnet.Profile{})
	cmd := message.Command{Name: "l"}

	result, err := m.RelayCommand(context.Background(), s, cmd)
	require.NoError(t, err)
	assert.Nil(t, result, "no forwarder means no answer")

	want := &message.CommandResult{Command: cmd, Handled: true, Message: "Lobby"}
	m.SetForwarder(&fakeForwarder{result: want})
	result, err = m.RelayCommand(context.Background(), s, cmd)
	require.NoError(t, err)
	assert.Equal(t, want, result)

	m.SetForwarder(&fakeForwarder{err: errors.New("down")})
	_, err = m.RelayCommand(context.Background(), s, cmd)
	assert.Error(t, err)
}

func TestManager_HandleSession(t *testing.T) {
	m := NewManager("telnet", Options{}, telnet.DefaultProfile(), zaptest.NewLogger(t))
	server, client := net.Pipe()
	defer client.Close()

	conn := telnet.NewConn(server, 2*time.Second, 2*time.Second)
	done := make(chan error, 1)
	go func() {
		done <- m.HandleSession(context.Background(), conn)
	}()

	// Drain everything the server writes.
	var mu sync.Mutex
	var out []byte
	go func() {
		buf := make([]byte, 512)
		for {
			n, err := client.Read(buf)
			mu.Lock()
			out = append(out, buf[:n]...)
			mu.Unlock()
			if err != nil {
				return
			}
		}
	}()

	require.Eventually(t, func() bool { return m.Count() == 1 }, 2*time.Second, 10*time.Millisecond)

	_, err := client.Write([]byte("Alice\r"))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		sessions := m.Sessions()
		return len(sessions) == 1 && sessions[0].Nickname() == "Alice"
	}, 2*time.Second, 10*time.Millisecond)

	_, err = client.Write([]byte("←q\r"))
	require.NoError(t, err)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("HandleSession did not return after quit")
	}
	assert.Equal(t, 0, m.Count())

	mu.Lock()
	defer mu.Unlock()
	text := string(telnet.FilterIAC(out))
	assert.Contains(t, text, "Welcome to RetroBridge")
	assert.Contains(t, text, "Your nickname was set to Alice")
}
