package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"

	"github.com/shotonme/shotonme/pkg/conversation"
	"github.com/shotonme/shotonme/pkg/model"
	"github.com/shotonme/shotonme/pkg/reaction"
)

var null = []byte("null")

// flexTime accepts RFC 3339, most human layouts and unix seconds or millis.
type flexTime struct{ time.Time }

func (t *flexTime) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, null) {
		return nil
	}
	s := string(b)
	if len(b) > 0 && b[0] == '"' {
		var err error
		if s, err = strconv.Unquote(s); err != nil {
			return err
		}
	}
	if s == "" {
		return nil
	}
	parsed, err := dateparse.ParseIn(s, time.UTC)
	if err != nil {
		return err
	}
	t.Time = parsed.UTC()
	return nil
}

// ref is a user reference sent either as a bare id or as an object.
type ref struct {
	ID   string
	Name string
}

func (r *ref) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, null) {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		return json.Unmarshal(b, &r.ID)
	}
	var obj struct {
		ID          string `json:"id"`
		OID         string `json:"_id"`
		Name        string `json:"name"`
		DisplayName string `json:"displayName"`
		Username    string `json:"username"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	r.ID = first(obj.ID, obj.OID)
	r.Name = first(obj.DisplayName, obj.Name, obj.Username)
	return nil
}

// refs is a list of user references.
type refs []ref

func (r refs) ids() []string {
	if len(r) == 0 {
		return nil
	}
	out := make([]string, 0, len(r))
	for _, x := range r {
		if x.ID != "" {
			out = append(out, x.ID)
		}
	}
	return out
}

// reactions accepts the three shapes the backend has used:
//
//	{"❤️": {"count": 2, "users": ["a", "b"]}}
//	{"❤️": ["a", "b"]}
//	[{"emoji": "❤️", "count": 2, "users": ["a", "b"]}]
//
// optionally wrapped as {"counts": {...}}.
type reactions map[string]reaction.Aggregate

func (r *reactions) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, null) {
		return nil
	}
	out := reactions{}

	if b[0] == '[' {
		var list []struct {
			Emoji string `json:"emoji"`
			Kind  string `json:"kind"`
			Type  string `json:"type"`
			Count *int   `json:"count"`
			Users refs   `json:"users"`
		}
		if err := json.Unmarshal(b, &list); err != nil {
			return err
		}
		for _, e := range list {
			kind := first(e.Emoji, e.Kind, e.Type)
			if kind == "" {
				continue
			}
			out[kind] = aggregate(e.Count, e.Users)
		}
		*r = out
		return nil
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if inner, ok := raw["counts"]; ok && len(raw) == 1 {
		return r.UnmarshalJSON(inner)
	}
	for kind, v := range raw {
		v = bytes.TrimSpace(v)
		if len(v) == 0 {
			continue
		}
		switch v[0] {
		case '[':
			var users refs
			if err := json.Unmarshal(v, &users); err != nil {
				return err
			}
			out[kind] = aggregate(nil, users)
		case '{':
			var agg struct {
				Count *int `json:"count"`
				Users refs `json:"users"`
			}
			if err := json.Unmarshal(v, &agg); err != nil {
				return err
			}
			out[kind] = aggregate(agg.Count, agg.Users)
		default:
			var n int
			if err := json.Unmarshal(v, &n); err != nil {
				return err
			}
			out[kind] = reaction.Aggregate{Count: n}
		}
	}
	*r = out
	return nil
}

func aggregate(count *int, users refs) reaction.Aggregate {
	ids := users.ids()
	n := len(ids)
	if count != nil && *count > n {
		n = *count
	}
	return reaction.Aggregate{Count: n, Users: ids}
}

func (r reactions) set(viewer string) reaction.Set {
	return reaction.Replace(r, viewer)
}

// entity carries the fields every payload shares.
type entity struct {
	ID            string   `json:"id"`
	OID           string   `json:"_id"`
	CreatedAt     flexTime `json:"createdAt"`
	CreatedAtAlt  flexTime `json:"created_at"`
	ClientTempID  string   `json:"clientTempId"`
	ClientTempAlt string   `json:"client_temp_id"`
}

func (e entity) id() string     { return first(e.ID, e.OID) }
func (e entity) tempID() string { return first(e.ClientTempID, e.ClientTempAlt) }

func (e entity) created() time.Time {
	if !e.CreatedAt.IsZero() {
		return e.CreatedAt.Time
	}
	return e.CreatedAtAlt.Time
}

type wirePost struct {
	entity
	Author    ref           `json:"author"`
	User      ref           `json:"user"`
	AuthorID  string        `json:"authorId"`
	Content   string        `json:"content"`
	Text      string        `json:"text"`
	Caption   string        `json:"caption"`
	MediaURL  string        `json:"mediaUrl"`
	Media     string        `json:"media"`
	ImageURL  string        `json:"image"`
	VenueID   string        `json:"venueId"`
	Venue     ref           `json:"venue"`
	Reactions reactions     `json:"reactions"`
	Likes     refs          `json:"likes"`
	LikeCount *int          `json:"likeCount"`
	Comments  []wireComment `json:"comments"`
}

func (w wirePost) model(viewer string) model.Post {
	id := w.id()
	p := model.Post{
		ID:         id,
		TempID:     w.tempID(),
		AuthorID:   first(w.Author.ID, w.User.ID, w.AuthorID),
		AuthorName: first(w.Author.Name, w.User.Name),
		Content:    first(w.Content, w.Text, w.Caption),
		MediaURL:   first(w.MediaURL, w.Media, w.ImageURL),
		VenueID:    first(w.VenueID, w.Venue.ID),
		CreatedAt:  w.created(),
		Reactions:  w.Reactions.set(viewer),
	}
	if len(w.Likes) > 0 || w.LikeCount != nil {
		p.Likes = reaction.Replace(map[string]reaction.Aggregate{
			reaction.Like: aggregate(w.LikeCount, w.Likes),
		}, viewer)
	}
	comments := make([]model.Comment, 0, len(w.Comments))
	for _, wc := range w.Comments {
		c := wc.model(viewer)
		if c.PostID == "" {
			c.PostID = id
		}
		comments = append(comments, c)
	}
	return attachComments(p, comments)
}

// attachComments adds cs to p so that every reply follows its parent.
// Replies whose parent is not in cs become top-level comments.
func attachComments(p model.Post, cs []model.Comment) model.Post {
	known := make(map[string]bool, len(cs))
	for _, c := range cs {
		known[c.ID] = true
	}
	for i := range cs {
		if cs[i].ReplyTo != "" && !known[cs[i].ReplyTo] {
			cs[i].ReplyTo = ""
		}
	}

	pending := cs
	for len(pending) > 0 {
		var later []model.Comment
		for _, c := range pending {
			next, err := p.UpsertComment(c)
			if errors.Is(err, model.ErrOrphanReply) {
				later = append(later, c)
				continue
			}
			p = next
		}
		if len(later) == len(pending) {
			// Reply cycle: keep them visible as top level.
			for _, c := range later {
				c.ReplyTo = ""
				p, _ = p.UpsertComment(c)
			}
			break
		}
		pending = later
	}
	return p
}

type wireComment struct {
	entity
	PostID    string    `json:"postId"`
	Post      string    `json:"post"`
	Author    ref       `json:"author"`
	User      ref       `json:"user"`
	AuthorID  string    `json:"authorId"`
	Text      string    `json:"text"`
	Content   string    `json:"content"`
	ReplyTo   string    `json:"replyTo"`
	ParentID  string    `json:"parentId"`
	Reactions reactions `json:"reactions"`
}

func (w wireComment) model(viewer string) model.Comment {
	return model.Comment{
		ID:         w.id(),
		TempID:     w.tempID(),
		PostID:     first(w.PostID, w.Post),
		AuthorID:   first(w.Author.ID, w.User.ID, w.AuthorID),
		AuthorName: first(w.Author.Name, w.User.Name),
		Text:       first(w.Text, w.Content),
		ReplyTo:    first(w.ReplyTo, w.ParentID),
		CreatedAt:  w.created(),
		Reactions:  w.Reactions.set(viewer),
	}
}

type wireMessage struct {
	entity
	ConversationID string `json:"conversationId"`
	ChatID         string `json:"chatId"`
	Sender         ref    `json:"sender"`
	SenderID       string `json:"senderId"`
	Recipient      ref    `json:"recipient"`
	Receiver       ref    `json:"receiver"`
	RecipientID    string `json:"recipientId"`
	GroupID        string `json:"groupId"`
	Group          ref    `json:"group"`
	Text           string `json:"text"`
	Content        string `json:"content"`
	Message        string `json:"message"`
	ReadBy         refs   `json:"readBy"`
}

func (w wireMessage) model() model.Message {
	m := model.Message{
		ID:             w.id(),
		TempID:         w.tempID(),
		ConversationID: first(w.ConversationID, w.ChatID),
		SenderID:       first(w.Sender.ID, w.SenderID),
		RecipientID:    first(w.Recipient.ID, w.Receiver.ID, w.RecipientID),
		GroupID:        first(w.GroupID, w.Group.ID),
		Text:           first(w.Text, w.Content, w.Message),
		CreatedAt:      w.created(),
		ReadBy:         w.ReadBy.ids(),
	}
	if m.ConversationID == "" {
		switch {
		case m.GroupID != "":
			m.ConversationID = conversation.GroupID(m.GroupID)
		case m.SenderID != "" && m.RecipientID != "":
			m.ConversationID = conversation.DirectID(m.SenderID, m.RecipientID)
		}
	}
	return m
}

type wireConversation struct {
	entity
	Participants    refs         `json:"participants"`
	Members         refs         `json:"members"`
	IsGroup         bool         `json:"isGroup"`
	GroupID         string       `json:"groupId"`
	Name            string       `json:"name"`
	LastMessage     *wireMessage `json:"lastMessage"`
	LastMessageText string       `json:"lastMessageText"`
	LastMessageAt   flexTime     `json:"lastMessageAt"`
	UpdatedAt       flexTime     `json:"updatedAt"`
	UnreadCount     int          `json:"unreadCount"`
	Unread          int          `json:"unread"`
}

func (w wireConversation) model() model.Conversation {
	c := model.Conversation{
		ID:              w.id(),
		Participants:    w.Participants.ids(),
		IsGroup:         w.IsGroup || w.GroupID != "",
		Name:            w.Name,
		LastMessageText: w.LastMessageText,
		LastMessageAt:   w.LastMessageAt.Time,
		UnreadCount:     max(w.UnreadCount, w.Unread),
	}
	if len(c.Participants) == 0 {
		c.Participants = w.Members.ids()
	}
	if w.LastMessage != nil {
		last := w.LastMessage.model()
		c.LastMessageText = first(c.LastMessageText, last.Text)
		if c.LastMessageAt.IsZero() {
			c.LastMessageAt = last.CreatedAt
		}
	}
	if c.LastMessageAt.IsZero() {
		c.LastMessageAt = w.UpdatedAt.Time
	}
	switch {
	case c.ID == "" && w.GroupID != "":
		c.ID = conversation.GroupID(w.GroupID)
	case c.ID == "" && !c.IsGroup && len(c.Participants) == 2:
		c.ID = conversation.DirectID(c.Participants[0], c.Participants[1])
	}
	return c
}

type wireTransaction struct {
	entity
	From        ref      `json:"from"`
	Sender      ref      `json:"sender"`
	FromID      string   `json:"fromId"`
	To          ref      `json:"to"`
	Recipient   ref      `json:"recipient"`
	ToID        string   `json:"toId"`
	AmountCents *int64   `json:"amountCents"`
	Amount      *float64 `json:"amount"`
	Note        string   `json:"note"`
	Description string   `json:"description"`
	Status      string   `json:"status"`
}

func (w wireTransaction) model() model.Transaction {
	status := strings.ToLower(w.Status)
	switch status {
	case "", "success", "succeeded", "complete":
		status = model.TxCompleted
	}
	return model.Transaction{
		ID:          w.id(),
		TempID:      w.tempID(),
		FromID:      first(w.From.ID, w.Sender.ID, w.FromID),
		ToID:        first(w.To.ID, w.Recipient.ID, w.ToID),
		AmountCents: cents(w.AmountCents, w.Amount),
		Note:        first(w.Note, w.Description),
		Status:      status,
		CreatedAt:   w.created(),
	}
}

type wireWallet struct {
	UserID       string   `json:"userId"`
	User         ref      `json:"user"`
	BalanceCents *int64   `json:"balanceCents"`
	Balance      *float64 `json:"balance"`
	UpdatedAt    flexTime `json:"updatedAt"`
	UpdatedAlt   flexTime `json:"updated_at"`
}

func (w wireWallet) model() model.Wallet {
	updated := w.UpdatedAt.Time
	if updated.IsZero() {
		updated = w.UpdatedAlt.Time
	}
	return model.Wallet{
		UserID:       first(w.UserID, w.User.ID),
		BalanceCents: cents(w.BalanceCents, w.Balance),
		UpdatedAt:    updated,
	}
}

// sendResult is the response to a payment: the recorded transaction and the
// sender's wallet after it.
type wireSendResult struct {
	Transaction *wireTransaction `json:"transaction"`
	Wallet      *wireWallet      `json:"wallet"`
}

type wirePromotion struct {
	entity
	Title       string   `json:"title"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	EndsAt      flexTime `json:"endsAt"`
	EndsAtAlt   flexTime `json:"ends_at"`
	ExpiresAt   flexTime `json:"expiresAt"`
}

func (w wirePromotion) model() model.Promotion {
	ends := w.EndsAt.Time
	for _, t := range []flexTime{w.EndsAtAlt, w.ExpiresAt} {
		if ends.IsZero() {
			ends = t.Time
		}
	}
	return model.Promotion{
		ID:          w.id(),
		Title:       first(w.Title, w.Name),
		Description: w.Description,
		EndsAt:      ends,
	}
}

// point is a coordinate sent flat, as {lat,lng}, or as a GeoJSON point.
type point struct {
	Lat         *float64  `json:"lat"`
	Latitude    *float64  `json:"latitude"`
	Lng         *float64  `json:"lng"`
	Longitude   *float64  `json:"longitude"`
	Coordinates []float64 `json:"coordinates"`
}

func (p point) latLng() (float64, float64) {
	if len(p.Coordinates) == 2 {
		// GeoJSON order is [lng, lat].
		return p.Coordinates[1], p.Coordinates[0]
	}
	return deref(p.Lat, p.Latitude), deref(p.Lng, p.Longitude)
}

func (p point) set() bool {
	return len(p.Coordinates) == 2 || p.Lat != nil || p.Latitude != nil
}

type wireVenue struct {
	entity
	point
	Name       string          `json:"name"`
	Address    string          `json:"address"`
	Location   point           `json:"location"`
	Promotions []wirePromotion `json:"promotions"`
}

func (w wireVenue) model() model.Venue {
	lat, lng := w.point.latLng()
	if w.Location.set() {
		lat, lng = w.Location.latLng()
	}
	v := model.Venue{
		ID:      w.id(),
		Name:    w.Name,
		Address: w.Address,
		Lat:     lat,
		Lng:     lng,
	}
	for _, p := range w.Promotions {
		v.Promotions = append(v.Promotions, p.model())
	}
	return v
}

type wireLocation struct {
	point
	UserID     string   `json:"userId"`
	User       ref      `json:"user"`
	VenueID    string   `json:"venueId"`
	Location   point    `json:"location"`
	UpdatedAt  flexTime `json:"updatedAt"`
	UpdatedAlt flexTime `json:"updated_at"`
}

func (w wireLocation) model() model.FriendLocation {
	lat, lng := w.point.latLng()
	if w.Location.set() {
		lat, lng = w.Location.latLng()
	}
	updated := w.UpdatedAt.Time
	if updated.IsZero() {
		updated = w.UpdatedAlt.Time
	}
	return model.FriendLocation{
		UserID:    first(w.UserID, w.User.ID),
		Lat:       lat,
		Lng:       lng,
		VenueID:   w.VenueID,
		UpdatedAt: updated,
	}
}

type wireUser struct {
	entity
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	Name        string `json:"name"`
	AvatarURL   string `json:"avatarUrl"`
	Avatar      string `json:"avatar"`
}

func (w wireUser) model() model.User {
	return model.User{
		ID:          w.id(),
		Username:    w.Username,
		DisplayName: first(w.DisplayName, w.Name),
		AvatarURL:   first(w.AvatarURL, w.Avatar),
	}
}

// listKeys are the envelope keys list endpoints have wrapped arrays in.
var listKeys = []string{"data", "items", "results", "posts", "messages", "transactions", "venues", "users"}

// decodeList decodes a bare array or an array wrapped in one of listKeys.
func decodeList[W any](b []byte) ([]W, error) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, null) {
		return nil, nil
	}
	if b[0] != '[' {
		var env map[string]json.RawMessage
		if err := json.Unmarshal(b, &env); err != nil {
			return nil, err
		}
		b = nil
		for _, k := range listKeys {
			if v, ok := env[k]; ok {
				b = v
				break
			}
		}
		if b == nil {
			return nil, nil
		}
	}
	var out []W
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// decodeOne decodes an object, unwrapping {"data": {...}} when present.
func decodeOne[W any](b []byte, keys ...string) (W, error) {
	var out W
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '{' {
		var env map[string]json.RawMessage
		if err := json.Unmarshal(b, &env); err == nil {
			for _, k := range append(keys, "data") {
				if v, ok := env[k]; ok && len(v) > 0 && v[0] == '{' {
					b = v
					break
				}
			}
		}
	}
	err := json.Unmarshal(b, &out)
	return out, err
}

// cents prefers an explicit cent amount and falls back to a decimal amount.
func cents(c *int64, amount *float64) int64 {
	if c != nil {
		return *c
	}
	if amount != nil {
		return int64(math.Round(*amount * 100))
	}
	return 0
}

func deref(vals ...*float64) float64 {
	for _, v := range vals {
		if v != nil {
			return *v
		}
	}
	return 0
}

func first(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
