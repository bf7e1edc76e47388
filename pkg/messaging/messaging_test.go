package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	apperrors "github.com/shotonme/shotonme/internal/errors"
	"github.com/shotonme/shotonme/pkg/api"
	"github.com/shotonme/shotonme/pkg/conversation"
	"github.com/shotonme/shotonme/pkg/model"
	"github.com/shotonme/shotonme/pkg/push"
	"github.com/shotonme/shotonme/pkg/toast"
)

const viewer = "u1"

var sentAt = time.Date(2026, 1, 2, 21, 0, 0, 0, time.UTC)

type fakeAPI struct {
	mu       sync.Mutex
	convs    []model.Conversation
	messages map[string][]model.Message
	nextID   int
	err      error
	readErr  error
	calls    int
	reads    []string
	echoTemp bool
	before   func()
	onRead   func()
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{messages: make(map[string][]model.Message), echoTemp: true}
}

func (f *fakeAPI) ListConversations(context.Context) ([]model.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.convs, nil
}

func (f *fakeAPI) ListMessages(_ context.Context, id string, page int) (api.Page[model.Message], error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return api.Page[model.Message]{Items: f.messages[id], Page: page}, nil
}

func (f *fakeAPI) store(convID, sender, recipient, group, text, temp string) (model.Message, error) {
	f.mu.Lock()
	f.calls++
	before, err := f.before, f.err
	f.mu.Unlock()
	if before != nil {
		before()
	}
	if err != nil {
		return model.Message{}, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	m := model.Message{
		ID:             fmt.Sprintf("m%d", f.nextID),
		ConversationID: convID,
		SenderID:       sender,
		RecipientID:    recipient,
		GroupID:        group,
		Text:           text,
		CreatedAt:      sentAt,
	}
	if f.echoTemp {
		m.TempID = temp
	}
	f.messages[convID] = append(f.messages[convID], m)
	return m, nil
}

func (f *fakeAPI) SendMessage(_ context.Context, req api.SendMessageRequest) (model.Message, error) {
	return f.store(conversation.DirectID(viewer, req.RecipientID), viewer, req.RecipientID, "", req.Text, req.ClientTempID)
}

func (f *fakeAPI) SendGroupMessage(_ context.Context, groupID, text, temp string) (model.Message, error) {
	return f.store(conversation.GroupID(groupID), viewer, "", groupID, text, temp)
}

func (f *fakeAPI) MarkRead(_ context.Context, id string) error {
	f.mu.Lock()
	f.calls++
	f.reads = append(f.reads, id)
	onRead, err := f.onRead, f.readErr
	f.mu.Unlock()
	if onRead != nil {
		onRead()
	}
	return err
}

func newInbox(t *testing.T, fake *fakeAPI) (*Inbox, *push.Client, *toast.Recorder) {
	t.Helper()
	rec := &toast.Recorder{}
	n := 0
	in := New(fake, viewer,
		WithNotifier(rec),
		WithTempIDs(func() string { n++; return fmt.Sprintf("tmp-%d", n) }),
		WithClock(func() time.Time { return sentAt }),
	)
	c := push.New("ws://unused")
	in.Mount(c)
	t.Cleanup(in.Unmount)
	return in, c, rec
}

func deliver(t *testing.T, c *push.Client, event string, payload any) {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatal(err)
	}
	c.Deliver(push.Envelope{Event: event, Data: data})
}

func ids(msgs []model.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.ID)
	}
	return out
}

func TestOpenDerivesConversationLocally(t *testing.T) {
	fake := newFakeAPI()
	in, _, _ := newInbox(t, fake)

	a, err := in.Open("u2")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	b, err := in.Open("u2")
	if err != nil {
		t.Fatalf("Open again: %v", err)
	}
	if a != b {
		t.Error("opening the same person twice returned two threads")
	}
	if a.ID() != "u1_u2" || a.Other() != "u2" || a.IsGroup() {
		t.Errorf("thread = %q other %q group %v", a.ID(), a.Other(), a.IsGroup())
	}
	if fake.calls != 0 {
		t.Errorf("API called %d times, want 0", fake.calls)
	}
	if got := len(in.Conversations()); got != 1 {
		t.Errorf("conversations = %d, want 1", got)
	}

	for _, other := range []string{"", viewer} {
		if _, err := in.Open(other); !apperrors.HasCode(err, "S022") {
			t.Errorf("Open(%q) err = %v, want S022", other, err)
		}
	}
}

func TestSendRaceOrders(t *testing.T) {
	echo := func(t *testing.T, c *push.Client, withTemp bool) {
		payload := map[string]any{
			"_id":         "m1",
			"senderId":    viewer,
			"recipientId": "u2",
			"text":        "on my way",
			"created_at":  sentAt.Format(time.RFC3339),
		}
		if withTemp {
			payload["clientTempId"] = "tmp-1"
		}
		deliver(t, c, push.EventNewMessage, payload)
	}

	tests := []struct {
		name     string
		echoTemp bool
		push     string // "before", "after" or "none"
	}{
		{"response only", true, "none"},
		{"echo after response", true, "after"},
		{"echo before response", true, "before"},
		{"echo without temp id before response", false, "before"},
		{"echo without temp id after response", false, "after"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := newFakeAPI()
			fake.echoTemp = tt.echoTemp
			in, c, _ := newInbox(t, fake)
			th, _ := in.Open("u2")

			fake.before = func() {
				got := th.Messages()
				if len(got) != 1 || got[0].ID != "tmp-1" || !got[0].Pending {
					t.Errorf("optimistic message not visible: %+v", got)
				}
				if tt.push == "before" {
					echo(t, c, tt.echoTemp)
				}
			}

			if _, err := th.Send(context.Background(), " on my way "); err != nil {
				t.Fatalf("Send: %v", err)
			}
			if tt.push == "after" {
				echo(t, c, tt.echoTemp)
			}

			got := th.Messages()
			if diff := cmp.Diff([]string{"m1"}, ids(got)); diff != "" {
				t.Fatalf("messages (-want +got):\n%s", diff)
			}
			if got[0].Pending || got[0].Text != "on my way" {
				t.Errorf("message = %+v", got[0])
			}
			if n := in.Unread(th.ID()); n != 0 {
				t.Errorf("own message counted as unread: %d", n)
			}
			conv, _ := in.Conversation(th.ID())
			if conv.LastMessageText != "on my way" {
				t.Errorf("preview = %q", conv.LastMessageText)
			}
		})
	}
}

func TestSendFailureRollsBack(t *testing.T) {
	fake := newFakeAPI()
	fake.err = apperrors.New("S002")
	in, _, rec := newInbox(t, fake)
	th, _ := in.Open("u2")

	if _, err := th.Send(context.Background(), "hello"); err == nil {
		t.Fatal("Send succeeded, want error")
	}
	if n := len(th.Messages()); n != 0 {
		t.Errorf("messages = %d, want 0", n)
	}
	conv, _ := in.Conversation(th.ID())
	if conv.LastMessageText != "" {
		t.Errorf("preview kept after failure: %q", conv.LastMessageText)
	}
	if n, ok := rec.Last(); !ok || n.Level != toast.TypeError {
		t.Errorf("last notice = %+v, want error", n)
	}
}

func TestSendValidatesFirst(t *testing.T) {
	fake := newFakeAPI()
	in, _, _ := newInbox(t, fake)
	th, _ := in.Open("u2")

	if _, err := th.Send(context.Background(), "   "); !apperrors.HasCode(err, "S020") {
		t.Errorf("err = %v, want S020", err)
	}
	if fake.calls != 0 || len(th.Messages()) != 0 {
		t.Errorf("calls = %d, messages = %d", fake.calls, len(th.Messages()))
	}
}

func TestGroupSend(t *testing.T) {
	fake := newFakeAPI()
	in, _, _ := newInbox(t, fake)
	th, err := in.OpenGroup("g1")
	if err != nil {
		t.Fatalf("OpenGroup: %v", err)
	}
	if !th.IsGroup() || th.ID() != conversation.GroupID("g1") {
		t.Errorf("thread = %q group %v", th.ID(), th.IsGroup())
	}

	m, err := th.Send(context.Background(), "round two")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if m.GroupID != "g1" || m.ConversationID != th.ID() {
		t.Errorf("message = %+v", m)
	}
	if diff := cmp.Diff([]string{"m1"}, ids(th.Messages())); diff != "" {
		t.Errorf("messages (-want +got):\n%s", diff)
	}
}

func TestIncomingMessagesCountUnread(t *testing.T) {
	fake := newFakeAPI()
	in, c, _ := newInbox(t, fake)

	msg := map[string]any{
		"_id":        "m9",
		"senderId":   "u3",
		"receiver":   map[string]string{"_id": viewer},
		"text":       "where are you",
		"created_at": sentAt.Format(time.RFC3339),
	}
	deliver(t, c, push.EventNewMessage, msg)
	deliver(t, c, push.EventNewMessage, msg)

	id := conversation.DirectID(viewer, "u3")
	th, ok := in.Thread(id)
	if !ok {
		t.Fatalf("thread %s not created", id)
	}
	if diff := cmp.Diff([]string{"m9"}, ids(th.Messages())); diff != "" {
		t.Errorf("messages (-want +got):\n%s", diff)
	}
	if n := in.Unread(id); n != 1 {
		t.Errorf("unread = %d, want 1", n)
	}
	if n := in.TotalUnread(); n != 1 {
		t.Errorf("total unread = %d, want 1", n)
	}

	if err := th.MarkRead(context.Background()); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	if n := in.Unread(id); n != 0 {
		t.Errorf("unread after MarkRead = %d", n)
	}
	if diff := cmp.Diff([]string{id}, fake.reads); diff != "" {
		t.Errorf("reads (-want +got):\n%s", diff)
	}
}

func TestMessageDuringMarkReadStaysUnread(t *testing.T) {
	fake := newFakeAPI()
	in, c, _ := newInbox(t, fake)
	incoming := func(id string, at time.Time) map[string]any {
		return map[string]any{
			"_id":         id,
			"senderId":    "u3",
			"recipientId": viewer,
			"text":        "still coming?",
			"created_at":  at.Format(time.RFC3339),
		}
	}
	deliver(t, c, push.EventNewMessage, incoming("m1", sentAt))
	id := conversation.DirectID(viewer, "u3")
	th, _ := in.Thread(id)

	fake.onRead = func() {
		deliver(t, c, push.EventNewMessage, incoming("m2", sentAt.Add(time.Minute)))
		deliver(t, c, push.EventMessageRead, map[string]any{
			"conversationId": id,
			"readerId":       viewer,
			"messageIds":     []string{"m1"},
		})
	}
	if err := th.MarkRead(context.Background()); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	if n := in.Unread(id); n != 1 {
		t.Errorf("unread = %d, want 1", n)
	}
	got := th.Messages()
	if diff := cmp.Diff([]string{"m1", "m2"}, ids(got)); diff != "" {
		t.Fatalf("messages (-want +got):\n%s", diff)
	}
	if !got[0].ReadByUser(viewer) || got[1].ReadByUser(viewer) {
		t.Errorf("read state: m1 %v, m2 %v", got[0].ReadBy, got[1].ReadBy)
	}

	deliver(t, c, push.EventMessageRead, map[string]any{
		"conversationId": id,
		"readerId":       viewer,
		"messageIds":     []string{"m2"},
	})
	if n := in.Unread(id); n != 0 {
		t.Errorf("unread after second receipt = %d, want 0", n)
	}
}

func TestMarkReadFailureRestoresCount(t *testing.T) {
	fake := newFakeAPI()
	fake.convs = []model.Conversation{{ID: "u1_u4", Participants: []string{"u1", "u4"}, UnreadCount: 3}}
	fake.readErr = apperrors.New("S002")
	in, _, rec := newInbox(t, fake)
	if err := in.LoadConversations(context.Background()); err != nil {
		t.Fatalf("LoadConversations: %v", err)
	}
	th, _ := in.Open("u4")

	if err := th.MarkRead(context.Background()); err == nil {
		t.Fatal("MarkRead succeeded, want error")
	}
	if n := in.Unread("u1_u4"); n != 3 {
		t.Errorf("unread = %d, want 3", n)
	}
	if _, ok := rec.Last(); !ok {
		t.Error("expected a notice")
	}
}

func TestReadReceipts(t *testing.T) {
	fake := newFakeAPI()
	fake.messages["u1_u2"] = []model.Message{
		{ID: "m1", ConversationID: "u1_u2", SenderID: viewer, Text: "a"},
		{ID: "m2", ConversationID: "u1_u2", SenderID: viewer, Text: "b"},
	}
	in, c, _ := newInbox(t, fake)
	th, _ := in.Open("u2")
	if err := th.Load(context.Background(), 1); err != nil {
		t.Fatalf("Load: %v", err)
	}

	deliver(t, c, push.EventMessageRead, map[string]any{
		"conversationId": "u1_u2",
		"readerId":       "u2",
		"messageIds":     []string{"m1"},
	})
	got := th.Messages()
	if !got[0].ReadByUser("u2") || got[1].ReadByUser("u2") {
		t.Errorf("after partial receipt: %+v", got)
	}

	deliver(t, c, push.EventMessageRead, map[string]any{"conversationId": "u1_u2", "readerId": "u2"})
	for _, m := range th.Messages() {
		if !m.ReadByUser("u2") || len(m.ReadBy) != 1 {
			t.Errorf("message %s readBy = %v", m.ID, m.ReadBy)
		}
	}
}

func TestUnmountStopsUpdates(t *testing.T) {
	fake := newFakeAPI()
	in, c, _ := newInbox(t, fake)
	in.Unmount()

	deliver(t, c, push.EventNewMessage, map[string]any{"_id": "m1", "senderId": "u3", "recipientId": viewer, "text": "hi"})
	if n := len(in.Conversations()); n != 0 {
		t.Errorf("conversations = %d after unmount", n)
	}
	for _, ev := range []string{push.EventNewMessage, push.EventNewGroupMessage, push.EventMessageRead} {
		if n := c.Subscribers(ev); n != 0 {
			t.Errorf("%s subscribers = %d", ev, n)
		}
	}
}
