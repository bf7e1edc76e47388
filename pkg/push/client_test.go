package push

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type fakeServer struct {
	srv   *httptest.Server
	conns chan *websocket.Conn
	auth  chan string
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	up := websocket.Upgrader{}
	fs := &fakeServer{
		conns: make(chan *websocket.Conn, 4),
		auth:  make(chan string, 4),
	}
	fs.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fs.auth <- r.Header.Get("Authorization")
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		fs.conns <- conn
	}))
	t.Cleanup(fs.srv.Close)
	return fs
}

func (fs *fakeServer) url() string {
	return "ws" + strings.TrimPrefix(fs.srv.URL, "http")
}

func recv[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting")
		var zero T
		return zero
	}
}

func waitConnected(t *testing.T, c *Client) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !c.Connected() {
		if time.Now().After(deadline) {
			t.Fatal("client never connected")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func run(t *testing.T, c *Client) (cancel func(), done <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- c.Run(ctx) }()
	t.Cleanup(cancel)
	return cancel, errc
}

func TestDispatchesInArrivalOrder(t *testing.T) {
	fs := newFakeServer(t)
	c := New(fs.url(), WithToken("tok"), WithReconnectDelay(10*time.Millisecond))

	got := make(chan string, 8)
	On(c, EventPostCommentAdded, "u1", DecodeCommentAdded, func(ev CommentAdded) {
		got <- ev.Comment.ID
	})
	run(t, c)

	if auth := recv(t, fs.auth); auth != "Bearer tok" {
		t.Errorf("handshake Authorization = %q", auth)
	}
	conn := recv(t, fs.conns)
	defer conn.Close()

	frames := []string{
		`{"event": "post-comment-added", "data": {"postId": "p1", "comment": {"_id": "c1", "text": "first"}}}`,
		`not json`,
		`{"event": "post-comment-added", "data": {"postId": "p1"}}`,
		`{"event": "post-comment-added", "data": {"_id": "c2", "postId": "p1", "text": "second"}}`,
	}
	for _, f := range frames {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	if id := recv(t, got); id != "c1" {
		t.Errorf("first event = %q, want c1", id)
	}
	if id := recv(t, got); id != "c2" {
		t.Errorf("second event = %q, want c2", id)
	}
}

func TestReconnectsAfterDrop(t *testing.T) {
	fs := newFakeServer(t)
	c := New(fs.url(), WithReconnectDelay(10*time.Millisecond))

	got := make(chan string, 4)
	c.Subscribe(EventPostDeleted, func(env Envelope) { got <- string(env.Data) })
	run(t, c)

	first := recv(t, fs.conns)
	first.Close()

	second := recv(t, fs.conns)
	defer second.Close()
	if err := second.WriteJSON(Envelope{Event: EventPostDeleted, Data: []byte(`{"postId":"p1"}`)}); err != nil {
		t.Fatal(err)
	}
	if data := recv(t, got); data != `{"postId":"p1"}` {
		t.Errorf("data = %s", data)
	}
}

func TestEmit(t *testing.T) {
	c := New("ws://127.0.0.1:1")
	if err := c.Emit("typing", nil); !errors.Is(err, ErrClosed) {
		t.Errorf("Emit before connect = %v, want ErrClosed", err)
	}

	fs := newFakeServer(t)
	c = New(fs.url())
	run(t, c)
	conn := recv(t, fs.conns)
	defer conn.Close()
	waitConnected(t, c)

	if err := c.Emit("typing", map[string]string{"conversationId": "a_b"}); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	var env Envelope
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("server read: %v", err)
	}
	if env.Event != "typing" || string(env.Data) != `{"conversationId":"a_b"}` {
		t.Errorf("server got %+v", env)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	fs := newFakeServer(t)
	c := New(fs.url())
	cancel, done := run(t, c)
	conn := recv(t, fs.conns)
	defer conn.Close()
	waitConnected(t, c)

	cancel()
	if err := recv(t, done); !errors.Is(err, context.Canceled) {
		t.Errorf("Run = %v, want context.Canceled", err)
	}
	if c.Connected() {
		t.Error("still connected after cancel")
	}
}

func TestSubscribeAndUnsubscribe(t *testing.T) {
	c := New("ws://unused")
	var calls []string

	unsubA := c.Subscribe(EventNewPost, func(Envelope) { calls = append(calls, "a") })
	c.Subscribe(EventNewPost, func(Envelope) { calls = append(calls, "b") })
	if n := c.Subscribers(EventNewPost); n != 2 {
		t.Fatalf("Subscribers = %d, want 2", n)
	}

	c.Deliver(Envelope{Event: EventNewPost})
	unsubA()
	unsubA()
	c.Deliver(Envelope{Event: EventNewPost})
	c.Deliver(Envelope{Event: EventPostDeleted})

	want := []string{"a", "b", "b"}
	if strings.Join(calls, ",") != strings.Join(want, ",") {
		t.Errorf("calls = %v, want %v", calls, want)
	}
	if n := c.Subscribers(EventNewPost); n != 1 {
		t.Errorf("Subscribers after unsubscribe = %d, want 1", n)
	}
}
