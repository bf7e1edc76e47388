package model

import (
	"errors"
	"slices"
	"time"

	"github.com/shotonme/shotonme/pkg/reaction"
)

// ErrOrphanReply is returned when a reply names a parent comment that is not
// part of the same post.
var ErrOrphanReply = errors.New("model: reply parent not found")

// Post is a feed entry.
type Post struct {
	ID         string       `json:"id"`
	TempID     string       `json:"clientTempId,omitempty"`
	AuthorID   string       `json:"authorId"`
	AuthorName string       `json:"authorName,omitempty"`
	Content    string       `json:"content"`
	MediaURL   string       `json:"mediaUrl,omitempty"`
	VenueID    string       `json:"venueId,omitempty"`
	CreatedAt  time.Time    `json:"createdAt"`
	Reactions  reaction.Set `json:"reactions"`
	Likes      reaction.Set `json:"likes"`
	Comments   []Comment    `json:"comments,omitempty"`
	Pending    bool         `json:"-"`
}

// EntityID implements store.Entity.
func (p Post) EntityID() string { return p.ID }

// Clone implements store.Entity.
func (p Post) Clone() Post {
	out := p
	out.Reactions = p.Reactions.Clone()
	out.Likes = p.Likes.Clone()
	if p.Comments != nil {
		out.Comments = make([]Comment, len(p.Comments))
		for i, c := range p.Comments {
			out.Comments[i] = c.Clone()
		}
	}
	return out
}

// Comment returns the comment with id.
func (p Post) Comment(id string) (Comment, bool) {
	i := p.commentIndex(id)
	if i < 0 {
		return Comment{}, false
	}
	return p.Comments[i], true
}

// UpsertComment adds c, or replaces the comment with the same id in place.
// A reply must point at a comment already on the post.
func (p Post) UpsertComment(c Comment) (Post, error) {
	if c.ReplyTo != "" && p.commentIndex(c.ReplyTo) < 0 {
		return p, ErrOrphanReply
	}
	out := p.Clone()
	if i := out.commentIndex(c.ID); i >= 0 {
		out.Comments[i] = c.Clone()
		return out, nil
	}
	out.Comments = append(out.Comments, c.Clone())
	return out, nil
}

// ReplaceComment swaps the comment identified by oldID for c, keeping its position.
// If oldID is absent it behaves like UpsertComment.
func (p Post) ReplaceComment(oldID string, c Comment) (Post, error) {
	i := p.commentIndex(oldID)
	if i < 0 {
		return p.UpsertComment(c)
	}
	out := p.Clone()
	if j := out.commentIndex(c.ID); j >= 0 && j != i {
		out.Comments = slices.Delete(out.Comments, i, i+1)
		return out, nil
	}
	out.Comments[i] = c.Clone()
	return out, nil
}

// UpdateComment applies fn to the comment with id. Missing comments are left alone.
func (p Post) UpdateComment(id string, fn func(Comment) Comment) Post {
	i := p.commentIndex(id)
	if i < 0 {
		return p
	}
	out := p.Clone()
	out.Comments[i] = fn(out.Comments[i])
	return out
}

// RemoveComment drops the comment with id and every reply beneath it.
func (p Post) RemoveComment(id string) Post {
	if p.commentIndex(id) < 0 {
		return p
	}
	drop := map[string]bool{id: true}
	for changed := true; changed; {
		changed = false
		for _, c := range p.Comments {
			if !drop[c.ID] && drop[c.ReplyTo] {
				drop[c.ID] = true
				changed = true
			}
		}
	}
	out := p.Clone()
	out.Comments = slices.DeleteFunc(out.Comments, func(c Comment) bool { return drop[c.ID] })
	return out
}

// Replies returns the direct replies to comment id, in insertion order.
func (p Post) Replies(id string) []Comment {
	var out []Comment
	for _, c := range p.Comments {
		if c.ReplyTo == id {
			out = append(out, c)
		}
	}
	return out
}

func (p Post) commentIndex(id string) int {
	if id == "" {
		return -1
	}
	return slices.IndexFunc(p.Comments, func(c Comment) bool { return c.ID == id })
}

// Comment belongs to a post. ReplyTo is a weak back-reference to the parent
// comment; top-level comments leave it empty.
type Comment struct {
	ID         string       `json:"id"`
	TempID     string       `json:"clientTempId,omitempty"`
	PostID     string       `json:"postId"`
	AuthorID   string       `json:"authorId"`
	AuthorName string       `json:"authorName,omitempty"`
	Text       string       `json:"text"`
	ReplyTo    string       `json:"replyTo,omitempty"`
	CreatedAt  time.Time    `json:"createdAt"`
	Reactions  reaction.Set `json:"reactions"`
}

// Clone returns a deep copy of the comment.
func (c Comment) Clone() Comment {
	out := c
	out.Reactions = c.Reactions.Clone()
	return out
}
