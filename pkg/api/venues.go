package api

import (
	"context"
	"net/http"

	"github.com/shotonme/shotonme/pkg/model"
)

// ListVenues returns one page of venues with their promotions.
func (c *Client) ListVenues(ctx context.Context, page int) (Page[model.Venue], error) {
	body, err := c.do(ctx, request{op: "list_venues", method: http.MethodGet, path: "/venues", query: pageQuery(page)})
	if err != nil {
		return Page[model.Venue]{}, err
	}
	wire, err := decodeList[wireVenue](body)
	if err != nil {
		return Page[model.Venue]{}, malformed("list_venues", err)
	}
	venues := make([]model.Venue, 0, len(wire))
	for _, w := range wire {
		venues = append(venues, w.model())
	}
	return newPage(venues, page), nil
}

// FriendLocations returns the last known positions of the viewer's friends.
func (c *Client) FriendLocations(ctx context.Context) ([]model.FriendLocation, error) {
	body, err := c.do(ctx, request{op: "friend_locations", method: http.MethodGet, path: "/friends/locations"})
	if err != nil {
		return nil, err
	}
	wire, err := decodeList[wireLocation](body)
	if err != nil {
		return nil, malformed("friend_locations", err)
	}
	out := make([]model.FriendLocation, 0, len(wire))
	for _, w := range wire {
		out = append(out, w.model())
	}
	return out, nil
}

// FriendSuggestions returns people the viewer may know.
func (c *Client) FriendSuggestions(ctx context.Context) ([]model.User, error) {
	body, err := c.do(ctx, request{op: "friend_suggestions", method: http.MethodGet, path: "/friends/suggestions"})
	if err != nil {
		return nil, err
	}
	wire, err := decodeList[wireUser](body)
	if err != nil {
		return nil, malformed("friend_suggestions", err)
	}
	out := make([]model.User, 0, len(wire))
	for _, w := range wire {
		out = append(out, w.model())
	}
	return out, nil
}

// SendFriendRequest asks userID to be friends. Asking twice yields a
// *BusinessError matching ErrDuplicateRequest.
func (c *Client) SendFriendRequest(ctx context.Context, userID string) error {
	_, err := c.do(ctx, request{
		op:     "friend_request",
		method: http.MethodPost,
		path:   "/friends/requests",
		body:   map[string]string{"userId": userID},
	})
	return err
}
