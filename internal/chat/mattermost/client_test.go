package mattermost

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mattermost/mattermost/server/public/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cory-johannsen/retrobridge/internal/config"
	"github.com/cory-johannsen/retrobridge/internal/message"
)

const (
	testToken  = "bot-token"
	botUserID  = "bot"
	testTeamID = "team1"
)

// fakeMattermost is an httptest server answering the REST v4 endpoints the client uses.
type fakeMattermost struct {
	server *httptest.Server

	mu       sync.Mutex
	channels []*model.Channel
	users    map[string]*model.User
	posts    []*model.Post
	failPath string
}

func newFakeMattermost(t *testing.T) *fakeMattermost {
	t.Helper()
	f := &fakeMattermost{
		channels: []*model.Channel{
			{Id: "c-lobby", Name: "lobby", Type: model.ChannelTypeOpen, TeamId: testTeamID},
			{Id: "c-random", Name: "random", Type: model.ChannelTypePrivate, TeamId: testTeamID},
			{Id: "c-dm", Name: "bot__alice", Type: model.ChannelTypeDirect},
			{Id: "c-old", Name: "archive", Type: model.ChannelTypeOpen, DeleteAt: 1},
		},
		users: map[string]*model.User{
			botUserID: {Id: botUserID, Username: "retrobridge"},
			"u-alice": {Id: "u-alice", Username: "alice", Nickname: "Alice"},
			"u-bob":   {Id: "u-bob", Username: "bob"},
		},
	}
	f.server = httptest.NewServer(http.HandlerFunc(f.handler))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeMattermost) handler(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := r.URL.Path
	if f.failPath != "" && strings.Contains(path, f.failPath) {
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "fake error"})
		return
	}
	if !strings.EqualFold(r.Header.Get("Authorization"), "Bearer "+testToken) {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "unauthorized"})
		return
	}

	switch {
	// GET /api/v4/users/me
	case r.Method == "GET" && path == "/api/v4/users/me":
		_ = json.NewEncoder(w).Encode(f.users[botUserID])

	// GET /api/v4/users/{user_id}/teams/{team_id}/channels
	case r.Method == "GET" && strings.Contains(path, "/teams/") && strings.HasSuffix(path, "/channels"):
		_ = json.NewEncoder(w).Encode(f.channels)

	// GET /api/v4/users/{user_id}/teams
	case r.Method == "GET" && strings.HasSuffix(path, "/teams"):
		_ = json.NewEncoder(w).Encode([]*model.Team{{Id: testTeamID, Name: "retro"}})

	// GET /api/v4/users/{user_id}
	case r.Method == "GET" && strings.HasPrefix(path, "/api/v4/users/"):
		if u, ok := f.users[path[len("/api/v4/users/"):]]; ok {
			_ = json.NewEncoder(w).Encode(u)
			return
		}
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "not found"})

	// POST /api/v4/posts
	case r.Method == "POST" && path == "/api/v4/posts":
		body, _ := io.ReadAll(r.Body)
		var post model.Post
		_ = json.Unmarshal(body, &post)
		post.Id = "p1"
		f.posts = append(f.posts, &post)
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(&post)

	default:
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "not found: " + path})
	}
}

func (f *fakeMattermost) createdPosts() []*model.Post {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*model.Post(nil), f.posts...)
}

// fakeStream is an in-memory event stream.
type fakeStream struct {
	events chan *model.WebSocketEvent
	once   sync.Once
}

func newFakeStream() *fakeStream {
	return &fakeStream{events: make(chan *model.WebSocketEvent, 8)}
}

func (s *fakeStream) Events() <-chan *model.WebSocketEvent { return s.events }
func (s *fakeStream) Close()                               { s.once.Do(func() { close(s.events) }) }

func newTestClient(t *testing.T, f *fakeMattermost, token string) (*Client, *fakeStream) {
	t.Helper()
	c := New(config.MattermostConfig{ServerURL: f.server.URL, Token: token}, zaptest.NewLogger(t))
	stream := newFakeStream()
	c.dial = func(url, tok string) (eventStream, error) {
		assert.True(t, strings.HasPrefix(url, "ws://"))
		assert.Equal(t, token, tok)
		return stream, nil
	}
	return c, stream
}

func postedEvent(t *testing.T, post *model.Post, senderName string) *model.WebSocketEvent {
	t.Helper()
	raw, err := json.Marshal(post)
	require.NoError(t, err)
	evt := model.NewWebSocketEvent(model.WebsocketEventPosted, "", post.ChannelId, "", nil, "")
	return evt.SetData(map[string]any{"post": string(raw), "sender_name": senderName})
}

func TestConnect_NoToken(t *testing.T) {
	f := newFakeMattermost(t)
	c, _ := newTestClient(t, f, "")
	assert.ErrorIs(t, c.Connect(context.Background(), 0), ErrNoToken)
	assert.ErrorIs(t, c.Tick(context.Background(), time.Second), ErrNoToken)
	assert.False(t, c.Ready())
}

func TestConnect_InvalidToken(t *testing.T) {
	f := newFakeMattermost(t)
	c, _ := newTestClient(t, f, "wrong")
	assert.Error(t, c.Connect(context.Background(), 0))
	assert.False(t, c.Ready())
}

func TestConnect_Success(t *testing.T) {
	f := newFakeMattermost(t)
	c, _ := newTestClient(t, f, testToken)
	require.NoError(t, c.Connect(context.Background(), 0))
	assert.True(t, c.Ready())
	assert.Equal(t, testTeamID, c.teamID)
	assert.Equal(t, []message.Channel{
		{ID: "c-lobby", Name: "lobby"},
		{ID: "c-random", Name: "random"},
	}, c.channels, "only live open and private channels are bridged")
}

func TestTick_SkipsWhenConnected(t *testing.T) {
	f := newFakeMattermost(t)
	c, _ := newTestClient(t, f, testToken)
	dials := 0
	dial := c.dial
	c.dial = func(url, tok string) (eventStream, error) {
		dials++
		return dial(url, tok)
	}

	require.NoError(t, c.Tick(context.Background(), time.Second))
	require.NoError(t, c.Tick(context.Background(), 2*time.Second))
	assert.Equal(t, 1, dials)
}

func TestStreamClosedMarksDisconnected(t *testing.T) {
	f := newFakeMattermost(t)
	c, stream := newTestClient(t, f, testToken)
	require.NoError(t, c.Connect(context.Background(), 0))

	stream.Close()
	require.Eventually(t, func() bool { return !c.Ready() }, 2*time.Second, 10*time.Millisecond)
}

func TestInboundPost(t *testing.T) {
	f := newFakeMattermost(t)
	c, stream := newTestClient(t, f, testToken)

	received := make(chan message.Message, 4)
	c.SetHandler(func(msg message.Message) { received <- msg })
	require.NoError(t, c.Connect(context.Background(), 0))

	stream.events <- postedEvent(t, &model.Post{UserId: botUserID, ChannelId: "c-lobby", Message: "own"}, "@retrobridge")
	stream.events <- postedEvent(t, &model.Post{UserId: "u-bob", ChannelId: "c-lobby", Message: "joined", Type: model.PostTypeJoinChannel}, "@bob")
	stream.events <- postedEvent(t, &model.Post{UserId: "u-bob", ChannelId: "c-dm", Message: "secret"}, "@bob")
	stream.events <- postedEvent(t, &model.Post{UserId: "u-alice", ChannelId: "c-lobby", Message: "hi"}, "@alice")
	stream.events <- postedEvent(t, &model.Post{UserId: "u-bob", ChannelId: "c-random", Message: "yo"}, "@bob")
	stream.events <- postedEvent(t, &model.Post{UserId: "u-ghost", ChannelId: "c-random", Message: "boo"}, "@ghost")

	want := []message.Message{
		{SenderID: "u-alice", SenderName: "Alice", Channel: message.Channel{ID: "c-lobby", Name: "lobby"}, Content: "hi"},
		{SenderID: "u-bob", SenderName: "bob", Channel: message.Channel{ID: "c-random", Name: "random"}, Content: "yo"},
		{SenderID: "u-ghost", SenderName: "ghost", Channel: message.Channel{ID: "c-random", Name: "random"}, Content: "boo"},
	}
	for _, w := range want {
		select {
		case got := <-received:
			assert.Equal(t, w, got)
		case <-time.After(2 * time.Second):
			t.Fatalf("message %q not received", w.Content)
		}
	}
	select {
	case extra := <-received:
		t.Fatalf("unexpected message %+v", extra)
	default:
	}
}

func TestSendMessage(t *testing.T) {
	f := newFakeMattermost(t)
	c, _ := newTestClient(t, f, testToken)

	msg := message.Message{
		SenderName: "Alice",
		Channel:    message.Channel{ID: "c-lobby", Name: "lobby"},
		Content:    "Hello",
	}
	assert.ErrorIs(t, c.SendMessage(context.Background(), msg), ErrNotConnected)

	require.NoError(t, c.Connect(context.Background(), 0))
	require.NoError(t, c.SendMessage(context.Background(), msg))

	posts := f.createdPosts()
	require.Len(t, posts, 1)
	assert.Equal(t, "c-lobby", posts[0].ChannelId)
	assert.Equal(t, "Alice: Hello", posts[0].Message)
	assert.Equal(t, "Alice", posts[0].GetProp(PropOverrideUsername))
}

func TestSendMessage_NoChannel(t *testing.T) {
	f := newFakeMattermost(t)
	c, _ := newTestClient(t, f, testToken)
	require.NoError(t, c.Connect(context.Background(), 0))
	assert.Error(t, c.SendMessage(context.Background(), message.Message{SenderName: "Alice", Content: "x"}))
}

func TestListChannels(t *testing.T) {
	f := newFakeMattermost(t)
	c, _ := newTestClient(t, f, testToken)

	_, err := c.ListChannels(context.Background(), message.Command{Name: "l"})
	assert.ErrorIs(t, err, ErrNotConnected)

	require.NoError(t, c.Connect(context.Background(), 0))

	list, err := c.ListChannels(context.Background(), message.Command{Name: "l"})
	require.NoError(t, err)
	assert.True(t, list.Handled)
	assert.Equal(t, "lobby\rrandom", list.Message)

	found, err := c.ListChannels(context.Background(), message.Command{Name: "c", Args: "ran"})
	require.NoError(t, err)
	assert.True(t, found.Handled)
	assert.Equal(t, message.ReplyChannelFound, found.Message)
	assert.Equal(t, "c-random", found.Properties[message.PropChannelID])
	assert.Equal(t, "random", found.Properties[message.PropChannelName])
}

func TestListChannels_FallsBackToCache(t *testing.T) {
	f := newFakeMattermost(t)
	c, _ := newTestClient(t, f, testToken)
	require.NoError(t, c.Connect(context.Background(), 0))

	f.mu.Lock()
	f.failPath = "/channels"
	f.mu.Unlock()

	result, err := c.ListChannels(context.Background(), message.Command{Name: "c", Args: "lob"})
	require.NoError(t, err)
	assert.True(t, result.Handled)
}

func TestClose(t *testing.T) {
	f := newFakeMattermost(t)
	c, _ := newTestClient(t, f, testToken)
	require.NoError(t, c.Connect(context.Background(), 0))
	require.NoError(t, c.Close())
	assert.False(t, c.Ready())
	require.NoError(t, c.Close())
}

func TestWebsocketURL(t *testing.T) {
	assert.Equal(t, "wss://chat.example.com", websocketURL("https://chat.example.com"))
	assert.Equal(t, "ws://localhost:8065", websocketURL("http://localhost:8065"))
	assert.Equal(t, "ws://already", websocketURL("ws://already"))
}
