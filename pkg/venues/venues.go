// Package venues is the map view: venues with their promotions and the last
// known positions of the viewer's friends.
package venues

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/shotonme/shotonme/pkg/api"
	"github.com/shotonme/shotonme/pkg/metrics"
	"github.com/shotonme/shotonme/pkg/model"
	"github.com/shotonme/shotonme/pkg/optimistic"
	"github.com/shotonme/shotonme/pkg/push"
	"github.com/shotonme/shotonme/pkg/reconcile"
	"github.com/shotonme/shotonme/pkg/store"
	"github.com/shotonme/shotonme/pkg/toast"
)

// API is the part of the REST client the map uses.
type API interface {
	ListVenues(ctx context.Context, page int) (api.Page[model.Venue], error)
	FriendLocations(ctx context.Context) ([]model.FriendLocation, error)
}

// Option configures a Map.
type Option func(*options)

type options struct {
	notifier toast.Notifier
	logger   *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
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

// WithClock sets the time used to decide which promotions are running.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// Map holds venues and friend locations.
type Map struct {
	api  API
	opts options

	venues   *store.Store[model.Venue]
	venueRec *reconcile.Reconciler[model.Venue]

	friends *store.Store[model.FriendLocation]

	mu      sync.Mutex
	page    int
	hasMore bool

	subs push.Subscriptions
}

// New creates an empty map.
func New(client API, opts ...Option) *Map {
	o := options{logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	venues := store.New[model.Venue]()
	applier := optimistic.New(venues,
		optimistic.WithEntityName("venue"),
		optimistic.WithMetrics(o.metrics),
		optimistic.WithLogger(o.logger),
	)
	rec := reconcile.New(applier,
		reconcile.WithBufferTTL(0),
		reconcile.WithMetrics(o.metrics),
		reconcile.WithLogger(o.logger),
	)
	return &Map{
		api:      client,
		opts:     o,
		venues:   venues,
		venueRec: rec,
		friends:  store.New[model.FriendLocation](),
		hasMore:  true,
	}
}

// Venues returns the loaded venues in listing order.
func (m *Map) Venues() []model.Venue { return m.venues.Slice() }

// Venue returns one venue.
func (m *Map) Venue(id string) (model.Venue, bool) { return m.venues.Get(id) }

// Promoting returns the venues with at least one running promotion.
func (m *Map) Promoting() []model.Venue {
	now := m.opts.now()
	var out []model.Venue
	for v := range m.venues.All() {
		if len(v.ActivePromotions(now)) > 0 {
			out = append(out, v)
		}
	}
	return out
}

// HasMore reports whether another page of venues may exist.
func (m *Map) HasMore() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hasMore
}

// Load fetches one page of venues.
func (m *Map) Load(ctx context.Context, page int) error {
	res, err := m.api.ListVenues(ctx, page)
	if err != nil {
		toast.FromError(m.opts.notifier, err, "Could not load venues")
		return err
	}
	if _, err := m.venueRec.MergeLoaded(res.Items...); err != nil {
		return err
	}
	m.mu.Lock()
	m.page, m.hasMore = res.Page, res.HasMore
	m.mu.Unlock()
	return nil
}

// LoadMore fetches the page after the last one loaded.
func (m *Map) LoadMore(ctx context.Context) error {
	m.mu.Lock()
	next, more := m.page+1, m.hasMore
	m.mu.Unlock()
	if !more {
		return nil
	}
	return m.Load(ctx, next)
}

// LoadFriends fetches the friends' last known positions.
func (m *Map) LoadFriends(ctx context.Context) error {
	locs, err := m.api.FriendLocations(ctx)
	if err != nil {
		toast.FromError(m.opts.notifier, err, "Could not load friends")
		return err
	}
	for _, loc := range locs {
		m.locate(loc)
	}
	return nil
}

// Friends returns every known friend location, most recent first.
func (m *Map) Friends() []model.FriendLocation {
	out := m.friends.Slice()
	sort.SliceStable(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out
}

// Friend returns one friend's location.
func (m *Map) Friend(userID string) (model.FriendLocation, bool) { return m.friends.Get(userID) }

// FriendsAt returns the friends last seen at venueID.
func (m *Map) FriendsAt(venueID string) []model.FriendLocation {
	var out []model.FriendLocation
	for _, loc := range m.Friends() {
		if loc.VenueID == venueID {
			out = append(out, loc)
		}
	}
	return out
}

// Mount subscribes the map to push events. Call Unmount to stop.
func (m *Map) Mount(c *push.Client) {
	m.subs.Add(push.On(c, push.EventLocationUpdated, "", push.DecodeLocationUpdated, func(ev push.LocationUpdated) {
		m.locate(ev.Location)
	}))
}

// Unmount drops the push subscriptions made by Mount.
func (m *Map) Unmount() {
	m.subs.Close()
}

// locate stores loc unless a newer position is already known. Positions
// without a timestamp always win.
func (m *Map) locate(loc model.FriendLocation) {
	if cur, ok := m.friends.Get(loc.UserID); ok && !loc.UpdatedAt.IsZero() && loc.UpdatedAt.Before(cur.UpdatedAt) {
		m.opts.logger.Debug("stale location ignored", "user", loc.UserID, "at", loc.UpdatedAt)
		return
	}
	m.friends.Upsert(loc)
}
