package push

import (
	"encoding/json"
	"time"

	apperrors "github.com/shotonme/shotonme/internal/errors"
	"github.com/shotonme/shotonme/pkg/api"
	"github.com/shotonme/shotonme/pkg/model"
	"github.com/shotonme/shotonme/pkg/reaction"
)

// Event names.
const (
	EventNewPost                = "new-post"
	EventPostDeleted            = "post-deleted"
	EventPostReactionUpdated    = "post-reaction-updated"
	EventPostLikeUpdated        = "post-like-updated"
	EventPostCommentAdded       = "post-comment-added"
	EventCommentReactionUpdated = "comment-reaction-updated"
	EventNewMessage             = "new-message"
	EventNewGroupMessage        = "new-group-message"
	EventMessageRead            = "message-read"
	EventWalletUpdated          = "wallet-updated"
	EventLocationUpdated        = "location-updated"
)

// Events lists every event name the client understands.
var Events = []string{
	EventNewPost,
	EventPostDeleted,
	EventPostReactionUpdated,
	EventPostLikeUpdated,
	EventPostCommentAdded,
	EventCommentReactionUpdated,
	EventNewMessage,
	EventNewGroupMessage,
	EventMessageRead,
	EventWalletUpdated,
	EventLocationUpdated,
}

// Decoder turns an event payload into a typed value. viewer is the signed-in
// user, used to derive "my reactions" from aggregates.
type Decoder[T any] func(data json.RawMessage, viewer string) (T, error)

// On subscribes fn to event with typed decoding. Payloads that fail to decode
// are logged and skipped.
func On[T any](c *Client, event, viewer string, decode Decoder[T], fn func(T)) (unsubscribe func()) {
	return c.Subscribe(event, func(env Envelope) {
		v, err := decode(env.Data, viewer)
		if err != nil {
			c.logger.Warn("push payload dropped", "event", env.Event, "error", apperrors.New("S061").Wrap(err))
			return
		}
		fn(v)
	})
}

// PostEvent carries a full post (new-post).
type PostEvent struct {
	Post model.Post
}

// PostDeleted names a removed post (post-deleted).
type PostDeleted struct {
	PostID string
}

// PostReactions is the authoritative reaction aggregate of a post
// (post-reaction-updated).
type PostReactions struct {
	PostID    string
	Reactions reaction.Set
}

// PostLikes is the authoritative like set of a post (post-like-updated).
type PostLikes struct {
	PostID string
	Likes  reaction.Set
}

// CommentAdded carries a new comment or reply (post-comment-added).
type CommentAdded struct {
	PostID  string
	Comment model.Comment
}

// CommentReactions is the authoritative reaction aggregate of a comment
// (comment-reaction-updated).
type CommentReactions struct {
	PostID    string
	CommentID string
	Reactions reaction.Set
}

// MessageEvent carries a new direct or group message. Message.TempID holds
// the sender's client temp id when the server echoes it.
type MessageEvent struct {
	Message model.Message
}

// MessageRead reports that a reader has seen messages in a conversation
// (message-read). An empty MessageIDs means every message.
type MessageRead struct {
	ConversationID string
	ReaderID       string
	MessageIDs     []string
	At             time.Time
}

// WalletUpdated carries the new wallet and, when the change came from a
// payment, its transaction (wallet-updated).
type WalletUpdated struct {
	Wallet         model.Wallet
	Transaction    model.Transaction
	HasTransaction bool
}

// LocationUpdated carries a friend's new position (location-updated).
type LocationUpdated struct {
	Location model.FriendLocation
}

// payload is the union of the ids and nested objects events carry.
type payload struct {
	PostID         string          `json:"postId"`
	ID             string          `json:"id"`
	OID            string          `json:"_id"`
	CommentID      string          `json:"commentId"`
	ConversationID string          `json:"conversationId"`
	ReaderID       string          `json:"readerId"`
	UserID         string          `json:"userId"`
	MessageIDs     []string        `json:"messageIds"`
	ReadAt         *time.Time      `json:"readAt"`
	Post           json.RawMessage `json:"post"`
	Comment        json.RawMessage `json:"comment"`
	Reactions      json.RawMessage `json:"reactions"`
	Likes          json.RawMessage `json:"likes"`
	LikeCount      *int            `json:"likeCount"`
	Wallet         json.RawMessage `json:"wallet"`
	Transaction    json.RawMessage `json:"transaction"`
}

func decodePayload(data json.RawMessage) (payload, error) {
	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		return p, err
	}
	return p, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func isObject(raw json.RawMessage) bool {
	for _, b := range raw {
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		case '{':
			return true
		default:
			return false
		}
	}
	return false
}

// DecodePostEvent decodes new-post.
func DecodePostEvent(data json.RawMessage, viewer string) (PostEvent, error) {
	p, err := api.DecodePost(data, viewer)
	if err != nil {
		return PostEvent{}, err
	}
	if p.ID == "" {
		return PostEvent{}, apperrors.New("S061").WithDetail("new-post without id")
	}
	return PostEvent{Post: p}, nil
}

// DecodePostDeleted decodes post-deleted.
func DecodePostDeleted(data json.RawMessage, _ string) (PostDeleted, error) {
	p, err := decodePayload(data)
	if err != nil {
		return PostDeleted{}, err
	}
	id := firstNonEmpty(p.PostID, p.ID, p.OID)
	if id == "" {
		return PostDeleted{}, apperrors.New("S061").WithDetail("post-deleted without id")
	}
	return PostDeleted{PostID: id}, nil
}

// DecodePostReactions decodes post-reaction-updated. The payload is either
// {postId, reactions} or {post: {...}}.
func DecodePostReactions(data json.RawMessage, viewer string) (PostReactions, error) {
	p, err := decodePayload(data)
	if err != nil {
		return PostReactions{}, err
	}
	if isObject(p.Post) {
		post, err := api.DecodePost(p.Post, viewer)
		if err != nil {
			return PostReactions{}, err
		}
		return PostReactions{PostID: post.ID, Reactions: post.Reactions}, nil
	}
	set, err := api.DecodeReactions(p.Reactions, viewer)
	if err != nil {
		return PostReactions{}, err
	}
	id := firstNonEmpty(p.PostID, p.ID, p.OID)
	if id == "" {
		return PostReactions{}, apperrors.New("S061").WithDetail("post-reaction-updated without post id")
	}
	return PostReactions{PostID: id, Reactions: set}, nil
}

// DecodePostLikes decodes post-like-updated.
func DecodePostLikes(data json.RawMessage, viewer string) (PostLikes, error) {
	p, err := decodePayload(data)
	if err != nil {
		return PostLikes{}, err
	}
	if isObject(p.Post) {
		post, err := api.DecodePost(p.Post, viewer)
		if err != nil {
			return PostLikes{}, err
		}
		return PostLikes{PostID: post.ID, Likes: post.Likes}, nil
	}
	likes, err := api.DecodeLikes(p.Likes, p.LikeCount, viewer)
	if err != nil {
		return PostLikes{}, err
	}
	id := firstNonEmpty(p.PostID, p.ID, p.OID)
	if id == "" {
		return PostLikes{}, apperrors.New("S061").WithDetail("post-like-updated without post id")
	}
	return PostLikes{PostID: id, Likes: likes}, nil
}

// DecodeCommentAdded decodes post-comment-added. The payload is
// {postId, comment} or a bare comment carrying its postId.
func DecodeCommentAdded(data json.RawMessage, viewer string) (CommentAdded, error) {
	p, err := decodePayload(data)
	if err != nil {
		return CommentAdded{}, err
	}
	raw := data
	if isObject(p.Comment) {
		raw = p.Comment
	}
	c, err := api.DecodeComment(raw, viewer)
	if err != nil {
		return CommentAdded{}, err
	}
	postID := firstNonEmpty(p.PostID, c.PostID)
	if postID == "" || c.ID == "" {
		return CommentAdded{}, apperrors.New("S061").WithDetail("post-comment-added without post or comment id")
	}
	c.PostID = postID
	return CommentAdded{PostID: postID, Comment: c}, nil
}

// DecodeCommentReactions decodes comment-reaction-updated.
func DecodeCommentReactions(data json.RawMessage, viewer string) (CommentReactions, error) {
	p, err := decodePayload(data)
	if err != nil {
		return CommentReactions{}, err
	}
	if isObject(p.Comment) {
		c, err := api.DecodeComment(p.Comment, viewer)
		if err != nil {
			return CommentReactions{}, err
		}
		return CommentReactions{PostID: firstNonEmpty(p.PostID, c.PostID), CommentID: c.ID, Reactions: c.Reactions}, nil
	}
	set, err := api.DecodeReactions(p.Reactions, viewer)
	if err != nil {
		return CommentReactions{}, err
	}
	if p.PostID == "" || p.CommentID == "" {
		return CommentReactions{}, apperrors.New("S061").WithDetail("comment-reaction-updated without post or comment id")
	}
	return CommentReactions{PostID: p.PostID, CommentID: p.CommentID, Reactions: set}, nil
}

// DecodeMessageEvent decodes new-message and new-group-message.
func DecodeMessageEvent(data json.RawMessage, _ string) (MessageEvent, error) {
	m, err := api.DecodeMessage(data)
	if err != nil {
		return MessageEvent{}, err
	}
	if m.ID == "" {
		return MessageEvent{}, apperrors.New("S061").WithDetail("message without id")
	}
	return MessageEvent{Message: m}, nil
}

// DecodeMessageRead decodes message-read.
func DecodeMessageRead(data json.RawMessage, _ string) (MessageRead, error) {
	p, err := decodePayload(data)
	if err != nil {
		return MessageRead{}, err
	}
	if p.ConversationID == "" {
		return MessageRead{}, apperrors.New("S061").WithDetail("message-read without conversation id")
	}
	ev := MessageRead{
		ConversationID: p.ConversationID,
		ReaderID:       firstNonEmpty(p.ReaderID, p.UserID),
		MessageIDs:     p.MessageIDs,
	}
	if p.ReadAt != nil {
		ev.At = *p.ReadAt
	}
	return ev, nil
}

// DecodeWalletUpdated decodes wallet-updated. The payload is {wallet,
// transaction} or a bare wallet.
func DecodeWalletUpdated(data json.RawMessage, viewer string) (WalletUpdated, error) {
	p, err := decodePayload(data)
	if err != nil {
		return WalletUpdated{}, err
	}
	raw := data
	if isObject(p.Wallet) {
		raw = p.Wallet
	}
	w, err := api.DecodeWallet(raw)
	if err != nil {
		return WalletUpdated{}, err
	}
	if w.UserID == "" {
		w.UserID = viewer
	}
	ev := WalletUpdated{Wallet: w}
	if isObject(p.Transaction) {
		tx, err := api.DecodeTransaction(p.Transaction)
		if err != nil {
			return WalletUpdated{}, err
		}
		ev.Transaction, ev.HasTransaction = tx, tx.ID != ""
	}
	return ev, nil
}

// DecodeLocationUpdated decodes location-updated.
func DecodeLocationUpdated(data json.RawMessage, _ string) (LocationUpdated, error) {
	loc, err := api.DecodeLocation(data)
	if err != nil {
		return LocationUpdated{}, err
	}
	if loc.UserID == "" {
		return LocationUpdated{}, apperrors.New("S061").WithDetail("location-updated without user id")
	}
	return LocationUpdated{Location: loc}, nil
}
