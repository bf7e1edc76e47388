package api

import (
	"context"
	"net/http"

	"github.com/shotonme/shotonme/pkg/model"
)

// CreatePostRequest is the body of CreatePost.
type CreatePostRequest struct {
	Content      string `json:"content"`
	MediaURL     string `json:"mediaUrl,omitempty"`
	VenueID      string `json:"venueId,omitempty"`
	ClientTempID string `json:"clientTempId,omitempty"`
}

// ListPosts returns one page of the feed, newest first.
func (c *Client) ListPosts(ctx context.Context, page int) (Page[model.Post], error) {
	body, err := c.do(ctx, request{op: "list_posts", method: http.MethodGet, path: "/posts", query: pageQuery(page)})
	if err != nil {
		return Page[model.Post]{}, err
	}
	wire, err := decodeList[wirePost](body)
	if err != nil {
		return Page[model.Post]{}, malformed("list_posts", err)
	}
	posts := make([]model.Post, 0, len(wire))
	for _, w := range wire {
		posts = append(posts, w.model(c.viewer))
	}
	return newPage(posts, page), nil
}

// CreatePost publishes a post and returns it with its server id.
func (c *Client) CreatePost(ctx context.Context, req CreatePostRequest) (model.Post, error) {
	return c.post(ctx, "create_post", http.MethodPost, "/posts", req)
}

// DeletePost deletes one of the viewer's posts.
func (c *Client) DeletePost(ctx context.Context, postID string) error {
	_, err := c.do(ctx, request{op: "delete_post", method: http.MethodDelete, path: "/posts/" + escape(postID)})
	return err
}

// ReactToPost toggles the viewer's reaction and returns the post with its
// authoritative reaction counts.
func (c *Client) ReactToPost(ctx context.Context, postID, kind string) (model.Post, error) {
	return c.post(ctx, "react_post", http.MethodPost, "/posts/"+escape(postID)+"/reactions", map[string]string{"kind": kind})
}

// LikePost toggles the viewer's like and returns the post.
func (c *Client) LikePost(ctx context.Context, postID string) (model.Post, error) {
	return c.post(ctx, "like_post", http.MethodPost, "/posts/"+escape(postID)+"/like", nil)
}

// AddCommentRequest is the body of AddComment.
type AddCommentRequest struct {
	Text         string `json:"text"`
	ReplyTo      string `json:"replyTo,omitempty"`
	ClientTempID string `json:"clientTempId,omitempty"`
}

// AddComment adds a comment, or a reply when ReplyTo is set, and returns it.
func (c *Client) AddComment(ctx context.Context, postID string, req AddCommentRequest) (model.Comment, error) {
	return c.comment(ctx, "add_comment", "/posts/"+escape(postID)+"/comments", req, postID)
}

// ReactToComment toggles the viewer's reaction on a comment and returns the
// comment with authoritative counts.
func (c *Client) ReactToComment(ctx context.Context, postID, commentID, kind string) (model.Comment, error) {
	path := "/posts/" + escape(postID) + "/comments/" + escape(commentID) + "/reactions"
	return c.comment(ctx, "react_comment", path, map[string]string{"kind": kind}, postID)
}

func (c *Client) post(ctx context.Context, op, method, path string, body any) (model.Post, error) {
	raw, err := c.do(ctx, request{op: op, method: method, path: path, body: body})
	if err != nil {
		return model.Post{}, err
	}
	w, err := decodeOne[wirePost](raw, "post")
	if err != nil {
		return model.Post{}, malformed(op, err)
	}
	return w.model(c.viewer), nil
}

func (c *Client) comment(ctx context.Context, op, path string, body any, postID string) (model.Comment, error) {
	raw, err := c.do(ctx, request{op: op, method: http.MethodPost, path: path, body: body})
	if err != nil {
		return model.Comment{}, err
	}
	w, err := decodeOne[wireComment](raw, "comment")
	if err != nil {
		return model.Comment{}, malformed(op, err)
	}
	cm := w.model(c.viewer)
	if cm.PostID == "" {
		cm.PostID = postID
	}
	return cm, nil
}
