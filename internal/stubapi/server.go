// Package stubapi is an in-memory backend that speaks the same REST and push
// dialect as the production service. It backs the CLI's stub command and the
// end-to-end tests.
package stubapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/shotonme/shotonme/pkg/conversation"
	"github.com/shotonme/shotonme/pkg/middleware"
	"github.com/shotonme/shotonme/pkg/push"
)

// DefaultUser is the viewer of requests without a bearer token.
const DefaultUser = "u1"

// Server is the stub backend.
type Server struct {
	mu  sync.Mutex
	st  *state
	hub *Hub

	now         func() time.Time
	logger      *slog.Logger
	metrics     *middleware.Metrics
	balance     int64
	defaultUser string
}

// Option configures a Server.
type Option func(*Server)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithMetrics records HTTP and push metrics.
func WithMetrics(m *middleware.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithStartingBalance sets every seeded wallet's balance.
func WithStartingBalance(cents int64) Option {
	return func(s *Server) {
		if cents > 0 {
			s.balance = cents
		}
	}
}

// WithDefaultUser sets the viewer of unauthenticated requests.
func WithDefaultUser(id string) Option {
	return func(s *Server) { s.defaultUser = id }
}

// New creates a seeded server.
func New(opts ...Option) *Server {
	s := &Server{
		now:         time.Now,
		logger:      slog.Default(),
		balance:     DefaultStartingBalanceCents,
		defaultUser: DefaultUser,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.st = seed(s.now(), s.balance)
	s.hub = NewHub(s.metrics, s.logger)
	return s
}

// Hub returns the push hub.
func (s *Server) Hub() *Hub { return s.hub }

// Handler returns the HTTP handler: the REST API under /api and the push
// channel at /ws.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(middleware.OpenTelemetry(
		middleware.WithTracerName("shotonme/stub"),
		middleware.WithUserResolver(s.viewerOf),
		middleware.WithRequestFilter(func(r *http.Request) bool { return r.URL.Path != "/healthz" }),
	))
	r.Use(s.metrics.Middleware)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/ws", func(w http.ResponseWriter, r *http.Request) {
		user, ok := s.authenticate(w, r)
		if !ok {
			return
		}
		s.hub.Serve(w, r, user)
	})

	r.Route("/api", func(r chi.Router) {
		r.Route("/posts", func(r chi.Router) {
			r.Get("/", s.handle(s.listPosts))
			r.Post("/", s.handle(s.createPost))
			r.Route("/{postID}", func(r chi.Router) {
				r.Delete("/", s.handle(s.deletePost))
				r.Post("/reactions", s.handle(s.reactPost))
				r.Post("/like", s.handle(s.likePost))
				r.Post("/comments", s.handle(s.addComment))
				r.Post("/comments/{commentID}/reactions", s.handle(s.reactComment))
			})
		})

		r.Get("/conversations", s.handle(s.listConversations))
		r.Get("/conversations/{convID}/messages", s.handle(s.listMessages))
		r.Post("/conversations/{convID}/read", s.handle(s.markRead))
		r.Post("/messages", s.handle(s.sendMessage))
		r.Post("/groups/{groupID}/messages", s.handle(s.sendGroupMessage))

		r.Get("/wallet", s.handle(s.wallet))
		r.Get("/wallet/transactions", s.handle(s.listTransactions))
		r.Post("/wallet/send", s.handle(s.sendPayment))
		r.Post("/wallet/fund", s.handle(s.addFunds))

		r.Get("/venues", s.handle(s.listVenues))
		r.Get("/friends/locations", s.handle(s.friendLocations))
		r.Get("/friends/suggestions", s.handle(s.friendSuggestions))
		r.Post("/friends/requests", s.handle(s.friendRequest))
		r.Post("/locations", s.handle(s.updateLocation))
	})
	return r
}

// call is one authenticated request.
type call struct {
	w      http.ResponseWriter
	r      *http.Request
	viewer string
}

func (c call) param(name string) string { return chi.URLParam(c.r, name) }

func (c call) page() (page, limit int) {
	page, _ = strconv.Atoi(c.r.URL.Query().Get("page"))
	limit, _ = strconv.Atoi(c.r.URL.Query().Get("limit"))
	return page, limit
}

func (c call) decode(v any) bool {
	if c.r.Body == nil || c.r.ContentLength == 0 {
		return true
	}
	if err := json.NewDecoder(c.r.Body).Decode(v); err != nil {
		writeError(c.w, http.StatusBadRequest, "invalid_body", "request body is not valid JSON")
		return false
	}
	return true
}

func (s *Server) handle(fn func(call)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		viewer, ok := s.authenticate(w, r)
		if !ok {
			return
		}
		fn(call{w: w, r: r, viewer: viewer})
	}
}

// viewerOf reads the bearer token, which the stub treats as the user id.
func (s *Server) viewerOf(r *http.Request) string {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || strings.TrimSpace(token) == "" {
		return s.defaultUser
	}
	return strings.TrimSpace(token)
}

func (s *Server) authenticate(w http.ResponseWriter, r *http.Request) (string, bool) {
	viewer := s.viewerOf(r)
	s.mu.Lock()
	_, known := s.st.users[viewer]
	s.mu.Unlock()
	if !known {
		writeError(w, http.StatusUnauthorized, "unauthorized", "unknown user")
		return "", false
	}
	return viewer, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{"code": code, "message": message})
}

// Posts

func (s *Server) listPosts(c call) {
	page, limit := c.page()
	s.mu.Lock()
	out := make([]postOut, 0)
	for _, p := range paginate(s.st.posts, page, limit) {
		out = append(out, s.postOut(p))
	}
	s.mu.Unlock()
	writeJSON(c.w, http.StatusOK, map[string]any{"posts": out})
}

func (s *Server) createPost(c call) {
	var body struct {
		Content      string `json:"content"`
		MediaURL     string `json:"mediaUrl"`
		VenueID      string `json:"venueId"`
		ClientTempID string `json:"clientTempId"`
	}
	if !c.decode(&body) {
		return
	}
	if strings.TrimSpace(body.Content) == "" && body.MediaURL == "" {
		writeError(c.w, http.StatusBadRequest, "empty_post", "post needs content or media")
		return
	}

	s.mu.Lock()
	p := &post{
		ID:        newID(),
		TempID:    body.ClientTempID,
		AuthorID:  c.viewer,
		Content:   body.Content,
		MediaURL:  body.MediaURL,
		VenueID:   body.VenueID,
		CreatedAt: s.now(),
	}
	s.st.posts = append([]*post{p}, s.st.posts...)
	out := s.postOut(p)
	s.mu.Unlock()

	writeJSON(c.w, http.StatusCreated, out)
	s.hub.Publish(push.EventNewPost, out)
}

func (s *Server) deletePost(c call) {
	id := c.param("postID")
	s.mu.Lock()
	i := slices.IndexFunc(s.st.posts, func(p *post) bool { return p.ID == id })
	if i < 0 {
		s.mu.Unlock()
		writeError(c.w, http.StatusNotFound, "not_found", "post not found")
		return
	}
	if s.st.posts[i].AuthorID != c.viewer {
		s.mu.Unlock()
		writeError(c.w, http.StatusForbidden, "forbidden", "only the author can delete a post")
		return
	}
	s.st.posts = slices.Delete(s.st.posts, i, i+1)
	s.mu.Unlock()

	c.w.WriteHeader(http.StatusNoContent)
	s.hub.Publish(push.EventPostDeleted, map[string]string{"postId": id})
}

// kindBody is the request of both reaction endpoints.
type kindBody struct {
	Kind string `json:"kind"`
}

func (s *Server) reactPost(c call) {
	var body kindBody
	if !c.decode(&body) {
		return
	}
	if body.Kind == "" {
		writeError(c.w, http.StatusBadRequest, "invalid_reaction", "kind is required")
		return
	}
	id := c.param("postID")
	s.mu.Lock()
	p := s.st.post(id)
	if p == nil {
		s.mu.Unlock()
		writeError(c.w, http.StatusNotFound, "not_found", "post not found")
		return
	}
	p.Reactions = toggleReaction(p.Reactions, c.viewer, body.Kind)
	out := s.postOut(p)
	s.mu.Unlock()

	writeJSON(c.w, http.StatusOK, out)
	s.hub.Publish(push.EventPostReactionUpdated, map[string]any{"postId": id, "reactions": out.Reactions})
}

func (s *Server) likePost(c call) {
	id := c.param("postID")
	s.mu.Lock()
	p := s.st.post(id)
	if p == nil {
		s.mu.Unlock()
		writeError(c.w, http.StatusNotFound, "not_found", "post not found")
		return
	}
	p.Likes = toggle(p.Likes, c.viewer)
	out := s.postOut(p)
	s.mu.Unlock()

	writeJSON(c.w, http.StatusOK, out)
	s.hub.Publish(push.EventPostLikeUpdated, map[string]any{"postId": id, "likes": out.Likes, "likeCount": out.LikeCount})
}

func (s *Server) addComment(c call) {
	var body struct {
		Text         string `json:"text"`
		ReplyTo      string `json:"replyTo"`
		ClientTempID string `json:"clientTempId"`
	}
	if !c.decode(&body) {
		return
	}
	if strings.TrimSpace(body.Text) == "" {
		writeError(c.w, http.StatusBadRequest, "empty_comment", "comment text is required")
		return
	}
	id := c.param("postID")
	s.mu.Lock()
	p := s.st.post(id)
	if p == nil {
		s.mu.Unlock()
		writeError(c.w, http.StatusNotFound, "not_found", "post not found")
		return
	}
	if body.ReplyTo != "" && p.comment(body.ReplyTo) == nil {
		s.mu.Unlock()
		writeError(c.w, http.StatusNotFound, "not_found", "parent comment not found")
		return
	}
	cm := &comment{
		ID:        newID(),
		TempID:    body.ClientTempID,
		PostID:    id,
		AuthorID:  c.viewer,
		Text:      body.Text,
		ReplyTo:   body.ReplyTo,
		CreatedAt: s.now(),
	}
	p.Comments = append(p.Comments, cm)
	out := s.commentOut(cm)
	s.mu.Unlock()

	writeJSON(c.w, http.StatusCreated, out)
	s.hub.Publish(push.EventPostCommentAdded, map[string]any{"postId": id, "comment": out})
}

func (s *Server) reactComment(c call) {
	var body kindBody
	if !c.decode(&body) {
		return
	}
	if body.Kind == "" {
		writeError(c.w, http.StatusBadRequest, "invalid_reaction", "kind is required")
		return
	}
	postID, commentID := c.param("postID"), c.param("commentID")
	s.mu.Lock()
	var cm *comment
	if p := s.st.post(postID); p != nil {
		cm = p.comment(commentID)
	}
	if cm == nil {
		s.mu.Unlock()
		writeError(c.w, http.StatusNotFound, "not_found", "comment not found")
		return
	}
	cm.Reactions = toggleReaction(cm.Reactions, c.viewer, body.Kind)
	out := s.commentOut(cm)
	s.mu.Unlock()

	writeJSON(c.w, http.StatusOK, out)
	s.hub.Publish(push.EventCommentReactionUpdated, map[string]any{
		"postId":    postID,
		"commentId": commentID,
		"reactions": out.Reactions,
	})
}

// Messaging

func (s *Server) listConversations(c call) {
	s.mu.Lock()
	out := make([]conversationOut, 0)
	for _, cs := range s.st.conversations(c.viewer) {
		out = append(out, s.conversationOut(cs))
	}
	s.mu.Unlock()
	writeJSON(c.w, http.StatusOK, out)
}

func (s *Server) listMessages(c call) {
	id := c.param("convID")
	page, limit := c.page()
	s.mu.Lock()
	if !slices.Contains(s.st.participants(id), c.viewer) {
		s.mu.Unlock()
		writeError(c.w, http.StatusForbidden, "forbidden", "not a participant")
		return
	}
	var thread []*message
	for _, m := range s.st.messages {
		if m.ConversationID == id {
			thread = append(thread, m)
		}
	}
	// Newest page first, each page in chronological order.
	slices.Reverse(thread)
	pageItems := slices.Clone(paginate(thread, page, limit))
	slices.Reverse(pageItems)
	out := make([]messageOut, 0, len(pageItems))
	for _, m := range pageItems {
		out = append(out, s.messageOut(m))
	}
	s.mu.Unlock()
	writeJSON(c.w, http.StatusOK, map[string]any{"messages": out})
}

func (s *Server) sendMessage(c call) {
	var body struct {
		ConversationID string `json:"conversationId"`
		RecipientID    string `json:"recipientId"`
		Text           string `json:"text"`
		ClientTempID   string `json:"clientTempId"`
	}
	if !c.decode(&body) {
		return
	}
	if strings.TrimSpace(body.Text) == "" {
		writeError(c.w, http.StatusBadRequest, "empty_message", "message text is required")
		return
	}
	to := body.RecipientID
	if to == "" {
		to, _ = conversation.Other(body.ConversationID, c.viewer)
	}
	if to == c.viewer {
		writeError(c.w, http.StatusBadRequest, "invalid_recipient", "cannot message yourself")
		return
	}

	s.mu.Lock()
	if _, ok := s.st.users[to]; !ok {
		s.mu.Unlock()
		writeError(c.w, http.StatusNotFound, "not_found", "recipient not found")
		return
	}
	m := &message{
		ID:             newID(),
		TempID:         body.ClientTempID,
		ConversationID: conversation.DirectID(c.viewer, to),
		SenderID:       c.viewer,
		RecipientID:    to,
		Text:           body.Text,
		CreatedAt:      s.now(),
		ReadBy:         []string{c.viewer},
	}
	s.st.messages = append(s.st.messages, m)
	out := s.messageOut(m)
	s.mu.Unlock()

	writeJSON(c.w, http.StatusCreated, out)
	s.hub.Publish(push.EventNewMessage, out, c.viewer, to)
}

func (s *Server) sendGroupMessage(c call) {
	var body struct {
		Text         string `json:"text"`
		ClientTempID string `json:"clientTempId"`
	}
	if !c.decode(&body) {
		return
	}
	if strings.TrimSpace(body.Text) == "" {
		writeError(c.w, http.StatusBadRequest, "empty_message", "message text is required")
		return
	}
	groupID := strings.TrimPrefix(c.param("groupID"), conversation.GroupPrefix)

	s.mu.Lock()
	g, ok := s.st.groups[groupID]
	if !ok {
		s.mu.Unlock()
		writeError(c.w, http.StatusNotFound, "not_found", "group not found")
		return
	}
	if !slices.Contains(g.Members, c.viewer) {
		s.mu.Unlock()
		writeError(c.w, http.StatusForbidden, "forbidden", "not a group member")
		return
	}
	m := &message{
		ID:             newID(),
		TempID:         body.ClientTempID,
		ConversationID: conversation.GroupID(groupID),
		SenderID:       c.viewer,
		GroupID:        groupID,
		Text:           body.Text,
		CreatedAt:      s.now(),
		ReadBy:         []string{c.viewer},
	}
	s.st.messages = append(s.st.messages, m)
	out := s.messageOut(m)
	members := slices.Clone(g.Members)
	s.mu.Unlock()

	writeJSON(c.w, http.StatusCreated, out)
	s.hub.Publish(push.EventNewGroupMessage, out, members...)
}

func (s *Server) markRead(c call) {
	id := c.param("convID")
	s.mu.Lock()
	members := slices.Clone(s.st.participants(id))
	if !slices.Contains(members, c.viewer) {
		s.mu.Unlock()
		writeError(c.w, http.StatusForbidden, "forbidden", "not a participant")
		return
	}
	var ids []string
	for _, m := range s.st.messages {
		if m.ConversationID != id || m.SenderID == c.viewer || slices.Contains(m.ReadBy, c.viewer) {
			continue
		}
		m.ReadBy = append(m.ReadBy, c.viewer)
		ids = append(ids, m.ID)
	}
	at := s.now()
	s.mu.Unlock()

	c.w.WriteHeader(http.StatusNoContent)
	if len(ids) == 0 {
		return
	}
	s.hub.Publish(push.EventMessageRead, map[string]any{
		"conversationId": id,
		"readerId":       c.viewer,
		"messageIds":     ids,
		"readAt":         at.UTC(),
	}, members...)
}

// Wallet

func (s *Server) wallet(c call) {
	s.mu.Lock()
	out := s.walletOut(c.viewer)
	s.mu.Unlock()
	writeJSON(c.w, http.StatusOK, out)
}

func (s *Server) listTransactions(c call) {
	page, limit := c.page()
	s.mu.Lock()
	var mine []transaction
	for _, t := range s.st.txs {
		if t.FromID == c.viewer || t.ToID == c.viewer {
			mine = append(mine, t)
		}
	}
	out := make([]transactionOut, 0)
	for _, t := range paginate(mine, page, limit) {
		out = append(out, transactionToOut(t))
	}
	s.mu.Unlock()
	writeJSON(c.w, http.StatusOK, map[string]any{"transactions": out})
}

func (s *Server) sendPayment(c call) {
	var body struct {
		ToID         string `json:"toId"`
		AmountCents  int64  `json:"amountCents"`
		Note         string `json:"note"`
		ClientTempID string `json:"clientTempId"`
	}
	if !c.decode(&body) {
		return
	}
	switch {
	case body.AmountCents <= 0:
		writeError(c.w, http.StatusBadRequest, "invalid_amount", "amount must be positive")
		return
	case body.ToID == c.viewer:
		writeError(c.w, http.StatusBadRequest, "invalid_recipient", "cannot pay yourself")
		return
	}

	s.mu.Lock()
	if _, ok := s.st.users[body.ToID]; !ok {
		s.mu.Unlock()
		writeError(c.w, http.StatusNotFound, "not_found", "recipient not found")
		return
	}
	if balance := s.st.wallets[c.viewer]; balance < body.AmountCents {
		s.mu.Unlock()
		writeJSON(c.w, http.StatusPaymentRequired, map[string]any{
			"code":      "insufficient_balance",
			"message":   "Insufficient balance",
			"shortfall": dollars(body.AmountCents - balance),
		})
		return
	}
	s.st.wallets[c.viewer] -= body.AmountCents
	s.st.wallets[body.ToID] += body.AmountCents
	tx := transaction{
		ID:          newID(),
		TempID:      body.ClientTempID,
		FromID:      c.viewer,
		ToID:        body.ToID,
		AmountCents: body.AmountCents,
		Note:        body.Note,
		CreatedAt:   s.now(),
	}
	s.st.txs = append([]transaction{tx}, s.st.txs...)
	txOut := transactionToOut(tx)
	senderWallet, recipientWallet := s.walletOut(c.viewer), s.walletOut(body.ToID)
	s.mu.Unlock()

	writeJSON(c.w, http.StatusCreated, map[string]any{"transaction": txOut, "wallet": senderWallet})
	s.hub.Publish(push.EventWalletUpdated, map[string]any{"wallet": senderWallet, "transaction": txOut}, c.viewer)
	s.hub.Publish(push.EventWalletUpdated, map[string]any{"wallet": recipientWallet, "transaction": txOut}, body.ToID)
}

func (s *Server) addFunds(c call) {
	var body struct {
		AmountCents int64 `json:"amountCents"`
	}
	if !c.decode(&body) {
		return
	}
	if body.AmountCents <= 0 {
		writeError(c.w, http.StatusBadRequest, "invalid_amount", "amount must be positive")
		return
	}
	s.mu.Lock()
	s.st.wallets[c.viewer] += body.AmountCents
	out := s.walletOut(c.viewer)
	s.mu.Unlock()

	writeJSON(c.w, http.StatusOK, map[string]any{"wallet": out})
	s.hub.Publish(push.EventWalletUpdated, map[string]any{"wallet": out}, c.viewer)
}

// Venues and friends

func (s *Server) listVenues(c call) {
	page, limit := c.page()
	s.mu.Lock()
	out := make([]venueOut, 0)
	for _, v := range paginate(s.st.venues, page, limit) {
		out = append(out, venueToOut(v))
	}
	s.mu.Unlock()
	writeJSON(c.w, http.StatusOK, map[string]any{"venues": out})
}

func (s *Server) friendLocations(c call) {
	s.mu.Lock()
	out := make([]locationOut, 0)
	for friend := range s.st.friends[c.viewer] {
		if loc, ok := s.st.locations[friend]; ok {
			out = append(out, s.locationOut(loc))
		}
	}
	s.mu.Unlock()
	slices.SortFunc(out, func(a, b locationOut) int { return strings.Compare(a.User.ID, b.User.ID) })
	writeJSON(c.w, http.StatusOK, out)
}

func (s *Server) friendSuggestions(c call) {
	s.mu.Lock()
	out := make([]userRef, 0)
	for id := range s.st.users {
		if id == c.viewer || s.st.friends[c.viewer][id] {
			continue
		}
		out = append(out, s.ref(id))
	}
	s.mu.Unlock()
	slices.SortFunc(out, func(a, b userRef) int { return strings.Compare(a.ID, b.ID) })
	writeJSON(c.w, http.StatusOK, out)
}

func (s *Server) friendRequest(c call) {
	var body struct {
		UserID string `json:"userId"`
	}
	if !c.decode(&body) {
		return
	}
	if body.UserID == "" || body.UserID == c.viewer {
		writeError(c.w, http.StatusBadRequest, "invalid_user", "cannot befriend yourself")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.st.users[body.UserID]; !ok {
		writeError(c.w, http.StatusNotFound, "not_found", "user not found")
		return
	}
	key := [2]string{c.viewer, body.UserID}
	if s.st.friends[c.viewer][body.UserID] || s.st.requests[key] {
		writeError(c.w, http.StatusConflict, "duplicate_friend_request", "Friend request already sent")
		return
	}
	s.st.requests[key] = true
	c.w.WriteHeader(http.StatusCreated)
}

func (s *Server) updateLocation(c call) {
	var body struct {
		Lat     float64 `json:"lat"`
		Lng     float64 `json:"lng"`
		VenueID string  `json:"venueId"`
	}
	if !c.decode(&body) {
		return
	}
	s.mu.Lock()
	loc := s.st.locations[c.viewer]
	loc.UserID, loc.Lat, loc.Lng, loc.VenueID, loc.UpdatedAt = c.viewer, body.Lat, body.Lng, body.VenueID, s.now()
	s.st.locations[c.viewer] = loc
	out := s.locationOut(loc)
	var friends []string
	for f := range s.st.friends[c.viewer] {
		friends = append(friends, f)
	}
	s.mu.Unlock()

	c.w.WriteHeader(http.StatusNoContent)
	if len(friends) > 0 {
		s.hub.Publish(push.EventLocationUpdated, out, friends...)
	}
}
