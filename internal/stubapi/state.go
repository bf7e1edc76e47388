package stubapi

import (
	"slices"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/shotonme/shotonme/pkg/conversation"
	"github.com/shotonme/shotonme/pkg/model"
)

// DefaultStartingBalanceCents is every seeded user's balance.
const DefaultStartingBalanceCents = 5000

type comment struct {
	ID        string
	TempID    string
	PostID    string
	AuthorID  string
	Text      string
	ReplyTo   string
	CreatedAt time.Time
	Reactions map[string][]string
}

type post struct {
	ID        string
	TempID    string
	AuthorID  string
	Content   string
	MediaURL  string
	VenueID   string
	CreatedAt time.Time
	Reactions map[string][]string
	Likes     []string
	Comments  []*comment
}

func (p *post) comment(id string) *comment {
	for _, c := range p.Comments {
		if c.ID == id {
			return c
		}
	}
	return nil
}

type message struct {
	ID             string
	TempID         string
	ConversationID string
	SenderID       string
	RecipientID    string
	GroupID        string
	Text           string
	CreatedAt      time.Time
	ReadBy         []string
}

type group struct {
	ID      string
	Name    string
	Members []string
}

type transaction struct {
	ID          string
	TempID      string
	FromID      string
	ToID        string
	AmountCents int64
	Note        string
	CreatedAt   time.Time
}

// state is the whole in-memory backend. The Server's mutex guards it.
type state struct {
	users     map[string]model.User
	friends   map[string]map[string]bool
	requests  map[[2]string]bool
	posts     []*post
	messages  []*message
	groups    map[string]group
	wallets   map[string]int64
	txs       []transaction
	venues    []model.Venue
	locations map[string]model.FriendLocation
}

func newID() string { return uuid.NewString() }

// seed returns a small world: four users, a group, two venues and a post.
func seed(now time.Time, balance int64) *state {
	st := &state{
		users:     make(map[string]model.User),
		friends:   make(map[string]map[string]bool),
		requests:  make(map[[2]string]bool),
		groups:    make(map[string]group),
		wallets:   make(map[string]int64),
		locations: make(map[string]model.FriendLocation),
	}
	for _, u := range []model.User{
		{ID: "u1", Username: "alex", DisplayName: "Alex"},
		{ID: "u2", Username: "blair", DisplayName: "Blair"},
		{ID: "u3", Username: "casey", DisplayName: "Casey"},
		{ID: "u4", Username: "drew", DisplayName: "Drew"},
	} {
		st.users[u.ID] = u
		st.wallets[u.ID] = balance
	}
	st.befriend("u1", "u2")
	st.befriend("u1", "u3")
	st.groups["g1"] = group{ID: "g1", Name: "Friday crew", Members: []string{"u1", "u2", "u3"}}

	st.venues = []model.Venue{
		{
			ID: "v1", Name: "The Blue Note", Address: "131 W 3rd St", Lat: 40.7308, Lng: -74.0006,
			Promotions: []model.Promotion{{ID: "pr1", Title: "Two for one", Description: "Well drinks until 9", EndsAt: now.Add(3 * time.Hour)}},
		},
		{ID: "v2", Name: "Rooftop 42", Address: "42 Skyline Ave", Lat: 40.7527, Lng: -73.9772},
	}
	st.locations["u2"] = model.FriendLocation{UserID: "u2", Lat: 40.7308, Lng: -74.0006, VenueID: "v1", UpdatedAt: now.Add(-10 * time.Minute)}
	st.locations["u3"] = model.FriendLocation{UserID: "u3", Lat: 40.7527, Lng: -73.9772, VenueID: "v2", UpdatedAt: now.Add(-25 * time.Minute)}

	st.posts = []*post{{
		ID:        newID(),
		AuthorID:  "u2",
		Content:   "First round is on me tonight",
		VenueID:   "v1",
		CreatedAt: now.Add(-time.Hour),
		Reactions: map[string][]string{"🍻": {"u3"}},
	}}
	return st
}

func (st *state) befriend(a, b string) {
	for _, pair := range [][2]string{{a, b}, {b, a}} {
		if st.friends[pair[0]] == nil {
			st.friends[pair[0]] = make(map[string]bool)
		}
		st.friends[pair[0]][pair[1]] = true
	}
}

func (st *state) post(id string) *post {
	for _, p := range st.posts {
		if p.ID == id {
			return p
		}
	}
	return nil
}

// participants returns who may read conversation id.
func (st *state) participants(id string) []string {
	if conversation.IsGroup(id) {
		g, ok := st.groups[id[len(conversation.GroupPrefix):]]
		if !ok {
			return nil
		}
		return g.Members
	}
	a, b, ok := conversation.Participants(id)
	if !ok {
		return nil
	}
	return []string{a, b}
}

// conversations summarizes every thread viewer takes part in, most recent first.
func (st *state) conversations(viewer string) []conversationSummary {
	byID := make(map[string]*conversationSummary)
	for _, g := range st.groups {
		if slices.Contains(g.Members, viewer) {
			id := conversation.GroupID(g.ID)
			byID[id] = &conversationSummary{ID: id, Participants: g.Members, GroupID: g.ID, Name: g.Name}
		}
	}
	for _, m := range st.messages {
		if !slices.Contains(st.participants(m.ConversationID), viewer) {
			continue
		}
		cs := byID[m.ConversationID]
		if cs == nil {
			cs = &conversationSummary{ID: m.ConversationID, Participants: st.participants(m.ConversationID)}
			byID[m.ConversationID] = cs
		}
		cs.Last = m
		if m.SenderID != viewer && !slices.Contains(m.ReadBy, viewer) {
			cs.Unread++
		}
	}

	out := make([]conversationSummary, 0, len(byID))
	for _, cs := range byID {
		out = append(out, *cs)
	}
	sort.Slice(out, func(i, j int) bool {
		ti, tj := out[i].lastAt(), out[j].lastAt()
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

type conversationSummary struct {
	ID           string
	Participants []string
	GroupID      string
	Name         string
	Last         *message
	Unread       int
}

func (c conversationSummary) lastAt() time.Time {
	if c.Last == nil {
		return time.Time{}
	}
	return c.Last.CreatedAt
}

// toggle flips user's membership in users.
func toggle(users []string, user string) []string {
	if i := slices.Index(users, user); i >= 0 {
		return slices.Delete(slices.Clone(users), i, i+1)
	}
	return append(slices.Clone(users), user)
}

func toggleReaction(r map[string][]string, user, kind string) map[string][]string {
	out := make(map[string][]string, len(r)+1)
	for k, v := range r {
		out[k] = v
	}
	out[kind] = toggle(out[kind], user)
	if len(out[kind]) == 0 {
		delete(out, kind)
	}
	return out
}

// paginate returns the page-th slice of size limit.
func paginate[T any](items []T, page, limit int) []T {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = 20
	}
	start := (page - 1) * limit
	if start >= len(items) {
		return []T{}
	}
	end := min(start+limit, len(items))
	return items[start:end]
}
