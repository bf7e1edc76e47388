// Package messaging is the direct and group messaging view.
//
// An Inbox holds the conversation list and one Thread per open conversation.
// Direct threads are keyed by conversation.DirectID, so opening a thread with
// someone never waits for the server and never creates a second thread for
// the same pair. Sent messages show immediately under a temporary id and are
// replaced, never duplicated, once the server or the push channel confirms
// them.
package messaging

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	apperrors "github.com/shotonme/shotonme/internal/errors"
	"github.com/shotonme/shotonme/pkg/api"
	"github.com/shotonme/shotonme/pkg/conversation"
	"github.com/shotonme/shotonme/pkg/metrics"
	"github.com/shotonme/shotonme/pkg/model"
	"github.com/shotonme/shotonme/pkg/optimistic"
	"github.com/shotonme/shotonme/pkg/push"
	"github.com/shotonme/shotonme/pkg/reconcile"
	"github.com/shotonme/shotonme/pkg/store"
	"github.com/shotonme/shotonme/pkg/toast"
)

// API is the part of the REST client messaging uses.
type API interface {
	ListConversations(ctx context.Context) ([]model.Conversation, error)
	ListMessages(ctx context.Context, conversationID string, page int) (api.Page[model.Message], error)
	SendMessage(ctx context.Context, req api.SendMessageRequest) (model.Message, error)
	SendGroupMessage(ctx context.Context, groupID, text, clientTempID string) (model.Message, error)
	MarkRead(ctx context.Context, conversationID string) error
}

// Option configures an Inbox.
type Option func(*options)

type options struct {
	notifier  toast.Notifier
	logger    *slog.Logger
	metrics   *metrics.Metrics
	reconcile []reconcile.Option
	now       func() time.Time
	tempID    func() string
}

// WithNotifier sets where user-facing notices go.
func WithNotifier(n toast.Notifier) Option {
	return func(o *options) { o.notifier = n }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics records sync metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithReconcileOptions passes options to every reconciler.
func WithReconcileOptions(opts ...reconcile.Option) Option {
	return func(o *options) { o.reconcile = append(o.reconcile, opts...) }
}

// WithClock overrides the time source for optimistic timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithTempIDs overrides temporary id generation.
func WithTempIDs(fn func() string) Option {
	return func(o *options) { o.tempID = fn }
}

// Inbox is the viewer's conversation list and open threads.
type Inbox struct {
	api    API
	viewer string
	opts   options

	convs       *store.Store[model.Conversation]
	convApplier *optimistic.Applier[model.Conversation]
	convsRec    *reconcile.Reconciler[model.Conversation]

	mu      sync.Mutex
	threads map[string]*Thread

	subs push.Subscriptions
}

// New creates an empty inbox for viewer.
func New(client API, viewer string, opts ...Option) *Inbox {
	o := options{
		logger: slog.Default(),
		now:    time.Now,
		tempID: optimistic.NewTempID,
	}
	for _, opt := range opts {
		opt(&o)
	}

	in := &Inbox{
		api:     client,
		viewer:  viewer,
		opts:    o,
		convs:   store.New[model.Conversation](),
		threads: make(map[string]*Thread),
	}
	in.convApplier = optimistic.New(in.convs,
		optimistic.WithEntityName("conversation"),
		optimistic.WithCreateAtFront(),
		optimistic.WithMetrics(o.metrics),
		optimistic.WithLogger(o.logger),
	)
	in.convsRec = reconcile.New(in.convApplier, in.reconcileOptions()...)
	return in
}

func (in *Inbox) reconcileOptions() []reconcile.Option {
	return append([]reconcile.Option{
		reconcile.WithMetrics(in.opts.metrics),
		reconcile.WithLogger(in.opts.logger),
	}, in.opts.reconcile...)
}

// Viewer returns the signed-in user id.
func (in *Inbox) Viewer() string { return in.viewer }

// Conversations returns the conversation list.
func (in *Inbox) Conversations() []model.Conversation { return in.convs.Slice() }

// Conversation returns one conversation.
func (in *Inbox) Conversation(id string) (model.Conversation, bool) { return in.convs.Get(id) }

// Unread returns the unread count of a conversation.
func (in *Inbox) Unread(id string) int {
	c, _ := in.convs.Get(id)
	return c.UnreadCount
}

// TotalUnread sums unread counts across conversations.
func (in *Inbox) TotalUnread() int {
	n := 0
	for c := range in.convs.All() {
		n += c.UnreadCount
	}
	return n
}

// LoadConversations fetches the conversation list.
func (in *Inbox) LoadConversations(ctx context.Context) error {
	list, err := in.api.ListConversations(ctx)
	if err != nil {
		toast.FromError(in.opts.notifier, err, "Could not load conversations")
		return err
	}
	_, err = in.convsRec.MergeLoaded(list...)
	return err
}

// Open returns the direct thread with other. The conversation id is derived
// locally, so no request is made.
func (in *Inbox) Open(other string) (*Thread, error) {
	if other == "" || other == in.viewer {
		return nil, apperrors.New("S022")
	}
	id := conversation.DirectID(in.viewer, other)
	participants := []string{in.viewer, other}
	slices.Sort(participants)
	in.ensureConversation(model.Conversation{ID: id, Participants: participants})
	return in.thread(id), nil
}

// OpenGroup returns the thread of a group.
func (in *Inbox) OpenGroup(groupID string) (*Thread, error) {
	if groupID == "" {
		return nil, apperrors.New("S022")
	}
	id := conversation.GroupID(groupID)
	in.ensureConversation(model.Conversation{ID: id, IsGroup: true})
	return in.thread(id), nil
}

// Thread returns an already open thread.
func (in *Inbox) Thread(id string) (*Thread, bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	t, ok := in.threads[id]
	return t, ok
}

func (in *Inbox) ensureConversation(c model.Conversation) {
	if in.convs.Has(c.ID) {
		return
	}
	if _, err := in.convsRec.MergeCreate(c, ""); err != nil {
		in.opts.logger.Warn("conversation not stored", "id", c.ID, "error", err)
	}
}

// thread returns the thread for id, creating it on first use.
func (in *Inbox) thread(id string) *Thread {
	in.mu.Lock()
	defer in.mu.Unlock()

	if t, ok := in.threads[id]; ok {
		return t
	}
	t := &Thread{
		inbox:    in,
		id:       id,
		messages: store.New[model.Message](),
		hasMore:  true,
	}
	if conversation.IsGroup(id) {
		t.group = strings.TrimPrefix(id, conversation.GroupPrefix)
	} else {
		t.other, _ = conversation.Other(id, in.viewer)
	}
	t.applier = optimistic.New(t.messages,
		optimistic.WithEntityName("message"),
		optimistic.WithMetrics(in.opts.metrics),
		optimistic.WithLogger(in.opts.logger),
	)
	t.rec = reconcile.New(t.applier, in.reconcileOptions()...)
	in.threads[id] = t
	return t
}

// Mount subscribes the inbox to push events. Call Unmount to stop.
func (in *Inbox) Mount(c *push.Client) {
	onMessage := func(ev push.MessageEvent) { in.receive(ev.Message) }
	in.subs.Add(
		push.On(c, push.EventNewMessage, in.viewer, push.DecodeMessageEvent, onMessage),
		push.On(c, push.EventNewGroupMessage, in.viewer, push.DecodeMessageEvent, onMessage),
		push.On(c, push.EventMessageRead, in.viewer, push.DecodeMessageRead, in.read),
	)
}

// Unmount drops every push subscription made by Mount.
func (in *Inbox) Unmount() {
	in.subs.Close()
}

// Sweep discards buffered push updates that outlived their TTL.
func (in *Inbox) Sweep() int {
	n := in.convsRec.Sweep()
	in.mu.Lock()
	threads := make([]*Thread, 0, len(in.threads))
	for _, t := range in.threads {
		threads = append(threads, t)
	}
	in.mu.Unlock()
	for _, t := range threads {
		n += t.rec.Sweep()
	}
	return n
}

// receive merges a message from the push channel.
func (in *Inbox) receive(msg model.Message) {
	if msg.ConversationID == "" {
		in.opts.logger.Warn("message without conversation dropped", "id", msg.ID)
		return
	}
	msg.Pending = false

	c := model.Conversation{ID: msg.ConversationID, IsGroup: conversation.IsGroup(msg.ConversationID)}
	if a, b, ok := conversation.Participants(msg.ConversationID); ok {
		c.Participants = []string{a, b}
	}
	in.ensureConversation(c)

	t := in.thread(msg.ConversationID)
	res, err := t.rec.MergeCreate(msg, msg.TempID)
	if err != nil {
		in.opts.logger.Warn("message rejected", "error", err)
		return
	}
	if res == optimistic.Duplicate {
		return
	}

	fromOther := msg.SenderID != in.viewer && res == optimistic.Inserted
	in.convsRec.MergeUpdate(msg.ConversationID, func(c model.Conversation) model.Conversation {
		c = preview(msg.Text, msg.CreatedAt)(c)
		if fromOther {
			c.UnreadCount++
		}
		return c
	})
}

// read applies a message-read receipt.
func (in *Inbox) read(ev push.MessageRead) {
	t, ok := in.Thread(ev.ConversationID)
	if ev.ReaderID == in.viewer {
		switch {
		case len(ev.MessageIDs) == 0:
			in.convsRec.MergeUpdate(ev.ConversationID, func(c model.Conversation) model.Conversation {
				c.UnreadCount = 0
				return c
			})
		case ok:
			// Messages already shown as read were subtracted by MarkRead.
			if n := t.unreadAmong(ev.MessageIDs); n > 0 {
				in.convsRec.MergeUpdate(ev.ConversationID, clearUnread(n))
			}
		}
	}
	if !ok || ev.ReaderID == "" {
		return
	}
	ids := ev.MessageIDs
	if len(ids) == 0 {
		ids = t.messages.IDs()
	}
	for _, id := range ids {
		if optimistic.IsTempID(id) {
			continue
		}
		t.rec.MergeUpdate(id, func(m model.Message) model.Message {
			return m.MarkRead(ev.ReaderID)
		})
	}
}

// Thread is one conversation's messages, oldest first.
type Thread struct {
	inbox *Inbox
	id    string
	other string
	group string

	messages *store.Store[model.Message]
	applier  *optimistic.Applier[model.Message]
	rec      *reconcile.Reconciler[model.Message]

	mu      sync.Mutex
	page    int
	hasMore bool
}

// ID returns the conversation id.
func (t *Thread) ID() string { return t.id }

// IsGroup reports whether the thread is a group conversation.
func (t *Thread) IsGroup() bool { return t.group != "" }

// Other returns the other participant of a direct thread.
func (t *Thread) Other() string { return t.other }

// Store returns the message store the view renders from.
func (t *Thread) Store() *store.Store[model.Message] { return t.messages }

// Messages returns the messages in display order.
func (t *Thread) Messages() []model.Message { return t.messages.Slice() }

// HasMore reports whether another page may exist.
func (t *Thread) HasMore() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.hasMore
}

// Load fetches one page of messages.
func (t *Thread) Load(ctx context.Context, page int) error {
	res, err := t.inbox.api.ListMessages(ctx, t.id, page)
	if err != nil {
		toast.FromError(t.inbox.opts.notifier, err, "Could not load messages")
		return err
	}
	if _, err := t.rec.MergeLoaded(res.Items...); err != nil {
		return err
	}
	t.mu.Lock()
	t.page, t.hasMore = res.Page, res.HasMore
	t.mu.Unlock()
	return nil
}

// LoadMore fetches the page after the last one loaded.
func (t *Thread) LoadMore(ctx context.Context) error {
	t.mu.Lock()
	next, more := t.page+1, t.hasMore
	t.mu.Unlock()
	if !more {
		return nil
	}
	return t.Load(ctx, next)
}

// Send posts text to the conversation. The message is visible at once and is
// replaced in place by the server's copy; on failure it is removed again.
func (t *Thread) Send(ctx context.Context, text string) (model.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return model.Message{}, apperrors.New("S020")
	}
	in := t.inbox
	temp := in.opts.tempID()
	now := in.opts.now()

	m, err := t.applier.ApplyCreate(model.Message{
		ID:             temp,
		TempID:         temp,
		ConversationID: t.id,
		SenderID:       in.viewer,
		RecipientID:    t.other,
		GroupID:        t.group,
		Text:           text,
		CreatedAt:      now,
		Pending:        true,
	})
	if err != nil {
		return model.Message{}, err
	}
	cm, cerr := in.convApplier.Apply(t.id, preview(text, now))
	if cerr != nil {
		in.opts.logger.Debug("conversation preview skipped", "id", t.id, "error", cerr)
	}

	var msg model.Message
	if t.group != "" {
		msg, err = in.api.SendGroupMessage(ctx, t.group, text, temp)
	} else {
		msg, err = in.api.SendMessage(ctx, api.SendMessageRequest{
			ConversationID: t.id,
			RecipientID:    t.other,
			Text:           text,
			ClientTempID:   temp,
		})
	}
	if err != nil {
		t.rollback(m)
		if cm != nil {
			t.inbox.rollbackConversation(cm)
		}
		toast.FromError(in.opts.notifier, err, "Message not sent")
		return model.Message{}, err
	}

	msg.Pending = false
	if msg.TempID == "" {
		msg.TempID = temp
	}
	switch {
	case msg.ConversationID == "":
		msg.ConversationID = t.id
	case msg.ConversationID != t.id:
		in.opts.logger.Warn("server conversation id differs from derived id", "derived", t.id, "server", msg.ConversationID)
	}
	settle(in.opts.logger, t.applier.Commit(m, msg))
	if cm != nil {
		settle(in.opts.logger, in.convApplier.Commit(cm, model.Conversation{}))
	}
	return msg, nil
}

// MarkRead clears the unread messages shown now. Messages that arrive while
// the request is in flight stay unread.
func (t *Thread) MarkRead(ctx context.Context) error {
	in := t.inbox
	cleared := in.Unread(t.id)
	if cleared == 0 {
		return nil
	}
	cm, err := in.convApplier.Apply(t.id, clearUnread(cleared))
	if err != nil {
		return err
	}
	var marks []*optimistic.Mutation[model.Message]
	for _, msg := range t.messages.Slice() {
		if msg.SenderID == in.viewer || msg.ReadByUser(in.viewer) || optimistic.IsTempID(msg.ID) {
			continue
		}
		viewer := in.viewer
		m, err := t.applier.Apply(msg.ID, func(m model.Message) model.Message { return m.MarkRead(viewer) })
		if err != nil {
			continue
		}
		marks = append(marks, m)
	}

	if err := in.api.MarkRead(ctx, t.id); err != nil {
		for _, m := range marks {
			t.rollback(m)
		}
		in.rollbackConversation(cm)
		toast.FromError(in.opts.notifier, err, "Could not mark as read")
		return err
	}
	for _, m := range marks {
		settle(in.opts.logger, t.applier.Commit(m, model.Message{}))
	}
	settle(in.opts.logger, in.convApplier.Commit(cm, model.Conversation{}))
	return nil
}

// unreadAmong counts the listed messages from others the viewer has not read.
func (t *Thread) unreadAmong(ids []string) int {
	n := 0
	for _, id := range ids {
		msg, ok := t.messages.Get(id)
		if ok && msg.SenderID != t.inbox.viewer && !msg.ReadByUser(t.inbox.viewer) {
			n++
		}
	}
	return n
}

func (t *Thread) rollback(m *optimistic.Mutation[model.Message]) {
	if err := t.applier.Rollback(m); err != nil && !errors.Is(err, optimistic.ErrSettled) {
		t.inbox.opts.logger.Error("rollback failed", "id", m.TargetID(), "error", err)
	}
}

func (in *Inbox) rollbackConversation(m *optimistic.Mutation[model.Conversation]) {
	if err := in.convApplier.Rollback(m); err != nil && !errors.Is(err, optimistic.ErrSettled) {
		in.opts.logger.Error("rollback failed", "id", m.TargetID(), "error", err)
	}
}

// clearUnread subtracts n from the unread count.
func clearUnread(n int) optimistic.Transform[model.Conversation] {
	return func(c model.Conversation) model.Conversation {
		c.UnreadCount = max(0, c.UnreadCount-n)
		return c
	}
}

// preview sets the conversation's last message unless a newer one is shown.
func preview(text string, at time.Time) optimistic.Transform[model.Conversation] {
	return func(c model.Conversation) model.Conversation {
		if at.Before(c.LastMessageAt) {
			return c
		}
		c.LastMessageText = text
		c.LastMessageAt = at
		return c
	}
}

// settle logs commit errors. A settled handle means a push event resolved the
// mutation first, which is expected.
func settle(logger *slog.Logger, err error) {
	if err != nil && !errors.Is(err, optimistic.ErrSettled) {
		logger.Warn("commit failed", "error", err)
	}
}
