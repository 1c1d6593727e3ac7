package gateway

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cory-johannsen/retrobridge/internal/chat/mattermost"
	"github.com/cory-johannsen/retrobridge/internal/message"
)

// fakeChatClient is an in-memory ChatClient.
type fakeChatClient struct {
	mu       sync.Mutex
	token    string
	ready    bool
	failNext error
	handler  func(msg message.Message)
	sent     []message.Message
	channels []message.Channel
	closed   bool
}

func newFakeChatClient(token string, channels ...message.Channel) *fakeChatClient {
	return &fakeChatClient{token: token, channels: channels}
}

func (f *fakeChatClient) Connect(context.Context, time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.token == "" {
		return mattermost.ErrNoToken
	}
	if f.failNext != nil {
		err := f.failNext
		f.failNext = nil
		return err
	}
	f.ready = true
	return nil
}

func (f *fakeChatClient) Tick(ctx context.Context, elapsed time.Duration) error {
	if f.Ready() {
		return nil
	}
	return f.Connect(ctx, elapsed)
}

func (f *fakeChatClient) Ready() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ready
}

func (f *fakeChatClient) SendMessage(_ context.Context, msg message.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.ready {
		return mattermost.ErrNotConnected
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeChatClient) ListChannels(_ context.Context, cmd message.Command) (*message.CommandResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.ready {
		return nil, mattermost.ErrNotConnected
	}
	return message.ResolveChannels(cmd, f.channels), nil
}

func (f *fakeChatClient) SetHandler(h func(msg message.Message)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = h
}

func (f *fakeChatClient) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.ready = false
	return nil
}

// deliver simulates an inbound post.
func (f *fakeChatClient) deliver(msg message.Message) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	h(msg)
}

func (f *fakeChatClient) sentMessages() []message.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]message.Message(nil), f.sent...)
}

func (f *fakeChatClient) disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ready = false
}

// fakeListener is an in-memory Listener.
type fakeListener struct {
	mu       sync.Mutex
	running  bool
	failures int
	listens  int
	serving  chan struct{}
	stopped  bool
}

func newFakeListener(failures int) *fakeListener {
	return &fakeListener{failures: failures, serving: make(chan struct{})}
}

func (l *fakeListener) Listen() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.listens++
	if l.failures > 0 {
		l.failures--
		return errors.New("address already in use")
	}
	l.running = true
	return nil
}

func (l *fakeListener) Serve() error {
	<-l.serving
	return nil
}

func (l *fakeListener) IsRunning() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

func (l *fakeListener) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.stopped {
		l.stopped = true
		l.running = false
		close(l.serving)
	}
}

func (l *fakeListener) listenCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.listens
}

// recordingHub records everything published and answers commands from answer.
type recordingHub struct {
	mu        sync.Mutex
	published []message.Message
	origins   []string
	answer    *message.CommandResult
}

func (h *recordingHub) Publish(_ context.Context, origin string, msg message.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.published = append(h.published, msg)
	h.origins = append(h.origins, origin)
}

func (h *recordingHub) Dispatch(context.Context, string, message.Command) *message.CommandResult {
	return h.answer
}
