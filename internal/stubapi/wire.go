package stubapi

import (
	"sort"
	"time"

	"github.com/shotonme/shotonme/pkg/model"
)

// The backend speaks a loose JSON dialect: Mongo-style _id keys, snake_case
// timestamps, user references as objects and amounts in dollars. The client
// normalizes all of it.

type userRef struct {
	ID       string `json:"_id"`
	Username string `json:"username,omitempty"`
	Name     string `json:"displayName,omitempty"`
}

type reactionOut struct {
	Emoji string   `json:"emoji"`
	Count int      `json:"count"`
	Users []string `json:"users"`
}

type commentOut struct {
	ID           string        `json:"_id"`
	ClientTempID string        `json:"clientTempId,omitempty"`
	PostID       string        `json:"postId"`
	Author       userRef       `json:"author"`
	Text         string        `json:"text"`
	ReplyTo      string        `json:"replyTo,omitempty"`
	CreatedAt    string        `json:"created_at"`
	Reactions    []reactionOut `json:"reactions"`
}

type postOut struct {
	ID           string        `json:"_id"`
	ClientTempID string        `json:"clientTempId,omitempty"`
	Author       userRef       `json:"author"`
	Content      string        `json:"content"`
	MediaURL     string        `json:"mediaUrl,omitempty"`
	VenueID      string        `json:"venueId,omitempty"`
	CreatedAt    string        `json:"created_at"`
	Reactions    []reactionOut `json:"reactions"`
	Likes        []string      `json:"likes"`
	LikeCount    int           `json:"likeCount"`
	Comments     []commentOut  `json:"comments"`
}

type messageOut struct {
	ID             string   `json:"_id"`
	ClientTempID   string   `json:"clientTempId,omitempty"`
	ConversationID string   `json:"conversationId"`
	Sender         userRef  `json:"sender"`
	RecipientID    string   `json:"recipientId,omitempty"`
	GroupID        string   `json:"groupId,omitempty"`
	Text           string   `json:"text"`
	CreatedAt      string   `json:"created_at"`
	ReadBy         []string `json:"readBy"`
}

type conversationOut struct {
	ID           string      `json:"_id"`
	Participants []string    `json:"participants"`
	IsGroup      bool        `json:"isGroup,omitempty"`
	GroupID      string      `json:"groupId,omitempty"`
	Name         string      `json:"name,omitempty"`
	LastMessage  *messageOut `json:"lastMessage,omitempty"`
	UnreadCount  int         `json:"unreadCount"`
}

type walletOut struct {
	UserID    string  `json:"userId"`
	Balance   float64 `json:"balance"`
	UpdatedAt string  `json:"updated_at"`
}

type transactionOut struct {
	ID           string  `json:"_id"`
	ClientTempID string  `json:"clientTempId,omitempty"`
	From         string  `json:"from"`
	To           string  `json:"to"`
	AmountCents  int64   `json:"amountCents"`
	Amount       float64 `json:"amount"`
	Note         string  `json:"note,omitempty"`
	Status       string  `json:"status"`
	CreatedAt    string  `json:"created_at"`
}

type promotionOut struct {
	ID          string `json:"_id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	EndsAt      string `json:"ends_at,omitempty"`
}

type venueOut struct {
	ID         string         `json:"_id"`
	Name       string         `json:"name"`
	Address    string         `json:"address,omitempty"`
	Location   geoPoint       `json:"location"`
	Promotions []promotionOut `json:"promotions"`
}

type geoPoint struct {
	Type        string    `json:"type"`
	Coordinates []float64 `json:"coordinates"`
}

type locationOut struct {
	User      userRef `json:"user"`
	Lat       float64 `json:"latitude"`
	Lng       float64 `json:"longitude"`
	VenueID   string  `json:"venueId,omitempty"`
	UpdatedAt string  `json:"updated_at"`
}

func stamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func dollars(cents int64) float64 { return float64(cents) / 100 }

func (s *Server) ref(id string) userRef {
	u := s.st.users[id]
	return userRef{ID: id, Username: u.Username, Name: u.DisplayName}
}

func reactionsOut(r map[string][]string) []reactionOut {
	kinds := make([]string, 0, len(r))
	for k := range r {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	out := make([]reactionOut, 0, len(kinds))
	for _, k := range kinds {
		out = append(out, reactionOut{Emoji: k, Count: len(r[k]), Users: r[k]})
	}
	return out
}

func (s *Server) commentOut(c *comment) commentOut {
	return commentOut{
		ID:           c.ID,
		ClientTempID: c.TempID,
		PostID:       c.PostID,
		Author:       s.ref(c.AuthorID),
		Text:         c.Text,
		ReplyTo:      c.ReplyTo,
		CreatedAt:    stamp(c.CreatedAt),
		Reactions:    reactionsOut(c.Reactions),
	}
}

func (s *Server) postOut(p *post) postOut {
	out := postOut{
		ID:           p.ID,
		ClientTempID: p.TempID,
		Author:       s.ref(p.AuthorID),
		Content:      p.Content,
		MediaURL:     p.MediaURL,
		VenueID:      p.VenueID,
		CreatedAt:    stamp(p.CreatedAt),
		Reactions:    reactionsOut(p.Reactions),
		Likes:        append([]string{}, p.Likes...),
		LikeCount:    len(p.Likes),
		Comments:     make([]commentOut, 0, len(p.Comments)),
	}
	for _, c := range p.Comments {
		out.Comments = append(out.Comments, s.commentOut(c))
	}
	return out
}

func (s *Server) messageOut(m *message) messageOut {
	return messageOut{
		ID:             m.ID,
		ClientTempID:   m.TempID,
		ConversationID: m.ConversationID,
		Sender:         s.ref(m.SenderID),
		RecipientID:    m.RecipientID,
		GroupID:        m.GroupID,
		Text:           m.Text,
		CreatedAt:      stamp(m.CreatedAt),
		ReadBy:         append([]string{}, m.ReadBy...),
	}
}

func (s *Server) conversationOut(c conversationSummary) conversationOut {
	out := conversationOut{
		ID:           c.ID,
		Participants: c.Participants,
		IsGroup:      c.GroupID != "",
		GroupID:      c.GroupID,
		Name:         c.Name,
		UnreadCount:  c.Unread,
	}
	if c.Last != nil {
		m := s.messageOut(c.Last)
		out.LastMessage = &m
	}
	return out
}

func (s *Server) walletOut(user string) walletOut {
	return walletOut{UserID: user, Balance: dollars(s.st.wallets[user]), UpdatedAt: stamp(s.now())}
}

func transactionToOut(t transaction) transactionOut {
	return transactionOut{
		ID:           t.ID,
		ClientTempID: t.TempID,
		From:         t.FromID,
		To:           t.ToID,
		AmountCents:  t.AmountCents,
		Amount:       dollars(t.AmountCents),
		Note:         t.Note,
		Status:       "success",
		CreatedAt:    stamp(t.CreatedAt),
	}
}

func venueToOut(v model.Venue) venueOut {
	out := venueOut{
		ID:         v.ID,
		Name:       v.Name,
		Address:    v.Address,
		Location:   geoPoint{Type: "Point", Coordinates: []float64{v.Lng, v.Lat}},
		Promotions: make([]promotionOut, 0, len(v.Promotions)),
	}
	for _, p := range v.Promotions {
		out.Promotions = append(out.Promotions, promotionOut{ID: p.ID, Title: p.Title, Description: p.Description, EndsAt: stamp(p.EndsAt)})
	}
	return out
}

func (s *Server) locationOut(l model.FriendLocation) locationOut {
	return locationOut{User: s.ref(l.UserID), Lat: l.Lat, Lng: l.Lng, VenueID: l.VenueID, UpdatedAt: stamp(l.UpdatedAt)}
}
