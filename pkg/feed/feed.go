// Package feed is the social feed view: posts with reactions, likes and
// threaded comments.
//
// Every user action is applied optimistically through the shared applier and
// settled from the HTTP response. Push events flow through the same
// reconciler, so a response and an event for one change converge instead of
// counting twice. The view never refetches after a mutation.
package feed

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	apperrors "github.com/shotonme/shotonme/internal/errors"
	"github.com/shotonme/shotonme/pkg/api"
	"github.com/shotonme/shotonme/pkg/metrics"
	"github.com/shotonme/shotonme/pkg/model"
	"github.com/shotonme/shotonme/pkg/optimistic"
	"github.com/shotonme/shotonme/pkg/pref"
	"github.com/shotonme/shotonme/pkg/push"
	"github.com/shotonme/shotonme/pkg/reaction"
	"github.com/shotonme/shotonme/pkg/reconcile"
	"github.com/shotonme/shotonme/pkg/store"
	"github.com/shotonme/shotonme/pkg/toast"
)

// API is the part of the REST client the feed uses.
type API interface {
	ListPosts(ctx context.Context, page int) (api.Page[model.Post], error)
	CreatePost(ctx context.Context, req api.CreatePostRequest) (model.Post, error)
	DeletePost(ctx context.Context, postID string) error
	ReactToPost(ctx context.Context, postID, kind string) (model.Post, error)
	LikePost(ctx context.Context, postID string) (model.Post, error)
	AddComment(ctx context.Context, postID string, req api.AddCommentRequest) (model.Comment, error)
	ReactToComment(ctx context.Context, postID, commentID, kind string) (model.Comment, error)
	FriendSuggestions(ctx context.Context) ([]model.User, error)
	SendFriendRequest(ctx context.Context, userID string) error
}

// Option configures a Feed.
type Option func(*options)

type options struct {
	notifier  toast.Notifier
	logger    *slog.Logger
	metrics   *metrics.Metrics
	prefs     pref.Backend
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

// WithPreferences reads UI preferences from b.
func WithPreferences(b pref.Backend) Option {
	return func(o *options) { o.prefs = b }
}

// WithReconcileOptions passes options to the post reconciler.
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

// Feed holds the posts of the signed-in viewer's feed.
type Feed struct {
	api    API
	viewer string

	posts   *store.Store[model.Post]
	applier *optimistic.Applier[model.Post]
	rec     *reconcile.Reconciler[model.Post]

	suggestions *pref.Pref[bool]
	notify      toast.Notifier
	logger      *slog.Logger
	now         func() time.Time
	tempID      func() string

	subs    push.Subscriptions
	page    int
	hasMore bool
}

// New creates an empty feed for viewer.
func New(client API, viewer string, opts ...Option) *Feed {
	o := options{
		logger: slog.Default(),
		now:    time.Now,
		tempID: optimistic.NewTempID,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.prefs == nil {
		o.prefs = pref.NewMemoryBackend()
	}

	posts := store.New[model.Post]()
	applier := optimistic.New(posts,
		optimistic.WithEntityName("post"),
		optimistic.WithCreateAtFront(),
		optimistic.WithMetrics(o.metrics),
		optimistic.WithLogger(o.logger),
	)
	recOpts := append([]reconcile.Option{
		reconcile.WithMetrics(o.metrics),
		reconcile.WithLogger(o.logger),
	}, o.reconcile...)

	return &Feed{
		api:         client,
		viewer:      viewer,
		posts:       posts,
		applier:     applier,
		rec:         reconcile.New(applier, recOpts...),
		suggestions: pref.FriendSuggestions(o.prefs),
		notify:      o.notifier,
		logger:      o.logger,
		now:         o.now,
		tempID:      o.tempID,
		hasMore:     true,
	}
}

// Store returns the post store the view renders from.
func (f *Feed) Store() *store.Store[model.Post] { return f.posts }

// Posts returns the posts in display order.
func (f *Feed) Posts() []model.Post { return f.posts.Slice() }

// Post returns one post.
func (f *Feed) Post(id string) (model.Post, bool) { return f.posts.Get(id) }

// HasMore reports whether another page may exist.
func (f *Feed) HasMore() bool { return f.hasMore }

// Load fetches page and merges it below the posts already shown. Posts that
// are already stored adopt the listed state.
func (f *Feed) Load(ctx context.Context, page int) error {
	res, err := f.api.ListPosts(ctx, page)
	if err != nil {
		toast.FromError(f.notify, err, "Could not load the feed")
		return err
	}
	if _, err := f.rec.MergeLoaded(res.Items...); err != nil {
		return err
	}
	f.page, f.hasMore = res.Page, res.HasMore
	return nil
}

// LoadMore fetches the page after the last one loaded.
func (f *Feed) LoadMore(ctx context.Context) error {
	if !f.hasMore {
		return nil
	}
	return f.Load(ctx, f.page+1)
}

// CreatePost publishes a post. It appears at the top of the feed immediately
// under a temporary id and is replaced in place by the server's post.
func (f *Feed) CreatePost(ctx context.Context, content, mediaURL, venueID string) (model.Post, error) {
	content = strings.TrimSpace(content)
	if content == "" && mediaURL == "" {
		return model.Post{}, apperrors.New("S025")
	}

	temp := f.tempID()
	m, err := f.applier.ApplyCreate(model.Post{
		ID:        temp,
		TempID:    temp,
		AuthorID:  f.viewer,
		Content:   content,
		MediaURL:  mediaURL,
		VenueID:   venueID,
		CreatedAt: f.now(),
		Pending:   true,
	})
	if err != nil {
		return model.Post{}, err
	}

	p, err := f.api.CreatePost(ctx, api.CreatePostRequest{
		Content:      content,
		MediaURL:     mediaURL,
		VenueID:      venueID,
		ClientTempID: temp,
	})
	if err != nil {
		f.fail(m, err, "Could not publish your post")
		return model.Post{}, err
	}
	p.Pending = false
	if p.TempID == "" {
		p.TempID = temp
	}
	f.settle(f.applier.Commit(m, p))
	toast.Success(f.notify, "Posted")
	return p, nil
}

// Delete removes one of the viewer's posts once the server confirms it.
func (f *Feed) Delete(ctx context.Context, postID string) error {
	if err := f.api.DeletePost(ctx, postID); err != nil {
		toast.FromError(f.notify, err, "Could not delete the post")
		return err
	}
	f.rec.MergeDelete(postID)
	return nil
}

// React toggles the viewer's reaction kind on a post.
func (f *Feed) React(ctx context.Context, postID, kind string) error {
	if kind == "" {
		return apperrors.New("S026")
	}
	cur, err := f.published(postID)
	if err != nil {
		return err
	}

	on := !cur.Reactions.Has(kind)
	m, err := f.applier.Apply(postID, func(p model.Post) model.Post {
		p.Reactions = p.Reactions.With(f.viewer, kind, on)
		return p
	})
	if err != nil {
		return err
	}

	auth, err := f.api.ReactToPost(ctx, postID, kind)
	if err != nil {
		f.fail(m, err, "Could not save your reaction")
		return err
	}
	f.settle(f.applier.CommitPatch(m, func(p model.Post) model.Post {
		p.Reactions = auth.Reactions
		return p
	}))
	return nil
}

// Like toggles the viewer's like on a post.
func (f *Feed) Like(ctx context.Context, postID string) error {
	cur, err := f.published(postID)
	if err != nil {
		return err
	}

	on := !cur.Likes.Has(reaction.Like)
	m, err := f.applier.Apply(postID, func(p model.Post) model.Post {
		p.Likes = p.Likes.With(f.viewer, reaction.Like, on)
		return p
	})
	if err != nil {
		return err
	}

	auth, err := f.api.LikePost(ctx, postID)
	if err != nil {
		f.fail(m, err, "Could not save your like")
		return err
	}
	f.settle(f.applier.CommitPatch(m, func(p model.Post) model.Post {
		p.Likes = auth.Likes
		return p
	}))
	return nil
}

// Comment adds a comment to a post, or a reply when replyTo names one of its
// comments. Invalid input is rejected before anything changes.
func (f *Feed) Comment(ctx context.Context, postID, text, replyTo string) (model.Comment, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return model.Comment{}, apperrors.New("S023")
	}
	cur, err := f.published(postID)
	if err != nil {
		return model.Comment{}, err
	}
	if replyTo != "" {
		if _, ok := cur.Comment(replyTo); !ok {
			return model.Comment{}, apperrors.New("S024")
		}
	}

	temp := f.tempID()
	draft := model.Comment{
		ID:        temp,
		TempID:    temp,
		PostID:    postID,
		AuthorID:  f.viewer,
		Text:      text,
		ReplyTo:   replyTo,
		CreatedAt: f.now(),
	}
	m, err := f.applier.Apply(postID, func(p model.Post) model.Post {
		if hasComment(p, temp) {
			return p
		}
		out, err := p.UpsertComment(draft)
		if err != nil {
			return p
		}
		return out
	})
	if err != nil {
		return model.Comment{}, err
	}

	c, err := f.api.AddComment(ctx, postID, api.AddCommentRequest{Text: text, ReplyTo: replyTo, ClientTempID: temp})
	if err != nil {
		f.fail(m, err, "Could not post your comment")
		return model.Comment{}, err
	}
	if c.TempID == "" {
		c.TempID = temp
	}
	f.settle(f.applier.CommitPatch(m, mergeComment(c)))
	return c, nil
}

// ReactToComment toggles the viewer's reaction kind on a comment.
func (f *Feed) ReactToComment(ctx context.Context, postID, commentID, kind string) error {
	if kind == "" {
		return apperrors.New("S026")
	}
	cur, err := f.published(postID)
	if err != nil {
		return err
	}
	c, ok := cur.Comment(commentID)
	if !ok || optimistic.IsTempID(commentID) {
		return apperrors.New("S082").WithDetail("comment " + commentID)
	}

	on := !c.Reactions.Has(kind)
	m, err := f.applier.Apply(postID, func(p model.Post) model.Post {
		return p.UpdateComment(commentID, func(c model.Comment) model.Comment {
			c.Reactions = c.Reactions.With(f.viewer, kind, on)
			return c
		})
	})
	if err != nil {
		return err
	}

	auth, err := f.api.ReactToComment(ctx, postID, commentID, kind)
	if err != nil {
		f.fail(m, err, "Could not save your reaction")
		return err
	}
	f.settle(f.applier.CommitPatch(m, setCommentReactions(commentID, auth.Reactions)))
	return nil
}

// Suggestions returns friend suggestions, or nothing when the viewer has
// hidden them.
func (f *Feed) Suggestions(ctx context.Context) ([]model.User, error) {
	if !f.suggestions.Get() {
		return nil, nil
	}
	users, err := f.api.FriendSuggestions(ctx)
	if err != nil {
		f.logger.Debug("friend suggestions unavailable", "error", err)
		return nil, err
	}
	return users, nil
}

// SetShowSuggestions stores whether friend suggestions are shown.
func (f *Feed) SetShowSuggestions(show bool) error {
	return f.suggestions.Set(show)
}

// ShowSuggestions reports whether friend suggestions are shown.
func (f *Feed) ShowSuggestions() bool {
	return f.suggestions.Get()
}

// AddFriend sends a friend request. A repeated request is reported as a
// warning rather than a failure.
func (f *Feed) AddFriend(ctx context.Context, userID string) error {
	err := f.api.SendFriendRequest(ctx, userID)
	switch {
	case err == nil:
		toast.Success(f.notify, "Friend request sent")
	case errors.Is(err, api.ErrDuplicateRequest):
		toast.Warning(f.notify, "Friend request already sent")
	default:
		toast.FromError(f.notify, err, "Could not send the friend request")
	}
	return err
}

// Mount subscribes the feed to push events. Call Unmount to stop.
func (f *Feed) Mount(c *push.Client) {
	f.subs.Add(
		push.On(c, push.EventNewPost, f.viewer, push.DecodePostEvent, func(ev push.PostEvent) {
			ev.Post.Pending = false
			if _, err := f.rec.MergeCreate(ev.Post, ev.Post.TempID); err != nil {
				f.logger.Warn("new post rejected", "error", err)
			}
		}),
		push.On(c, push.EventPostDeleted, f.viewer, push.DecodePostDeleted, func(ev push.PostDeleted) {
			f.rec.MergeDelete(ev.PostID)
		}),
		push.On(c, push.EventPostReactionUpdated, f.viewer, push.DecodePostReactions, func(ev push.PostReactions) {
			f.rec.MergeUpdate(ev.PostID, func(p model.Post) model.Post {
				p.Reactions = ev.Reactions
				return p
			})
		}),
		push.On(c, push.EventPostLikeUpdated, f.viewer, push.DecodePostLikes, func(ev push.PostLikes) {
			f.rec.MergeUpdate(ev.PostID, func(p model.Post) model.Post {
				p.Likes = ev.Likes
				return p
			})
		}),
		push.On(c, push.EventPostCommentAdded, f.viewer, push.DecodeCommentAdded, func(ev push.CommentAdded) {
			f.rec.MergeUpdate(ev.PostID, mergeComment(ev.Comment))
		}),
		push.On(c, push.EventCommentReactionUpdated, f.viewer, push.DecodeCommentReactions, func(ev push.CommentReactions) {
			f.rec.MergeUpdate(ev.PostID, setCommentReactions(ev.CommentID, ev.Reactions))
		}),
	)
}

// Unmount drops every push subscription made by Mount.
func (f *Feed) Unmount() {
	f.subs.Close()
}

// Sweep discards buffered push updates that outlived their TTL.
func (f *Feed) Sweep() int {
	return f.rec.Sweep()
}

// published returns the stored post, refusing posts still being created.
func (f *Feed) published(postID string) (model.Post, error) {
	p, ok := f.posts.Get(postID)
	if !ok {
		return model.Post{}, apperrors.New("S082").WithDetail("post " + postID)
	}
	if p.Pending {
		return model.Post{}, apperrors.Newf(apperrors.CategoryState, "post %s is still being published", postID)
	}
	return p, nil
}

func (f *Feed) fail(m *optimistic.Mutation[model.Post], err error, msg string) {
	if rerr := f.applier.Rollback(m); rerr != nil && !errors.Is(rerr, optimistic.ErrSettled) {
		f.logger.Error("rollback failed", "id", m.TargetID(), "error", rerr)
	}
	toast.FromError(f.notify, err, msg)
}

// settle logs commit errors. A settled handle means a push event resolved the
// mutation first, which is expected.
func (f *Feed) settle(err error) {
	if err != nil && !errors.Is(err, optimistic.ErrSettled) {
		f.logger.Warn("commit failed", "error", err)
	}
}

// mergeComment stores c, replacing an earlier copy in place. A reply whose
// parent is unknown is dropped.
func mergeComment(c model.Comment) optimistic.Transform[model.Post] {
	return func(p model.Post) model.Post {
		out, err := p.UpsertComment(c)
		if err != nil {
			return p
		}
		return out
	}
}

func setCommentReactions(commentID string, set reaction.Set) optimistic.Transform[model.Post] {
	return func(p model.Post) model.Post {
		return p.UpdateComment(commentID, func(c model.Comment) model.Comment {
			c.Reactions = set
			return c
		})
	}
}

// hasComment reports whether p holds a comment with id, or one whose
// temporary id was id.
func hasComment(p model.Post, id string) bool {
	for _, c := range p.Comments {
		if c.ID == id || c.TempID == id {
			return true
		}
	}
	return false
}
