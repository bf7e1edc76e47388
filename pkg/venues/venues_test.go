package venues

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	apperrors "github.com/shotonme/shotonme/internal/errors"
	"github.com/shotonme/shotonme/pkg/api"
	"github.com/shotonme/shotonme/pkg/model"
	"github.com/shotonme/shotonme/pkg/push"
	"github.com/shotonme/shotonme/pkg/toast"
)

var now = time.Date(2026, 1, 2, 21, 0, 0, 0, time.UTC)

type fakeAPI struct {
	pages   [][]model.Venue
	friends []model.FriendLocation
	err     error
}

func (f *fakeAPI) ListVenues(_ context.Context, page int) (api.Page[model.Venue], error) {
	if f.err != nil {
		return api.Page[model.Venue]{}, f.err
	}
	if page < 1 || page > len(f.pages) {
		return api.Page[model.Venue]{Page: page}, nil
	}
	return api.Page[model.Venue]{Items: f.pages[page-1], Page: page, HasMore: page < len(f.pages)}, nil
}

func (f *fakeAPI) FriendLocations(context.Context) ([]model.FriendLocation, error) {
	return f.friends, f.err
}

func venueIDs(vs []model.Venue) []string {
	var out []string
	for _, v := range vs {
		out = append(out, v.ID)
	}
	return out
}

func TestLoadPages(t *testing.T) {
	fake := &fakeAPI{pages: [][]model.Venue{
		{{ID: "v1", Name: "Blue Note"}, {ID: "v2", Name: "Dive"}},
		{{ID: "v3", Name: "Rooftop"}, {ID: "v1", Name: "Blue Note Bar"}},
	}}
	m := New(fake, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	if err := m.Load(ctx, 1); err != nil {
		t.Fatalf("Load: %v", err)
	}
	for m.HasMore() {
		if err := m.LoadMore(ctx); err != nil {
			t.Fatalf("LoadMore: %v", err)
		}
	}
	if diff := cmp.Diff([]string{"v1", "v2", "v3"}, venueIDs(m.Venues())); diff != "" {
		t.Errorf("venues (-want +got):\n%s", diff)
	}
	if v, _ := m.Venue("v1"); v.Name != "Blue Note Bar" {
		t.Errorf("v1 not refreshed: %+v", v)
	}
}

func TestPromoting(t *testing.T) {
	fake := &fakeAPI{pages: [][]model.Venue{{
		{ID: "v1", Promotions: []model.Promotion{{ID: "p1", EndsAt: now.Add(time.Hour)}}},
		{ID: "v2", Promotions: []model.Promotion{{ID: "p2", EndsAt: now.Add(-time.Hour)}}},
		{ID: "v3", Promotions: []model.Promotion{{ID: "p3"}}},
		{ID: "v4"},
	}}}
	m := New(fake, WithClock(func() time.Time { return now }))
	if err := m.Load(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"v1", "v3"}, venueIDs(m.Promoting())); diff != "" {
		t.Errorf("promoting (-want +got):\n%s", diff)
	}
}

func TestLoadFailureNotifies(t *testing.T) {
	rec := &toast.Recorder{}
	m := New(&fakeAPI{err: apperrors.New("S001")}, WithNotifier(rec))
	if err := m.Load(context.Background(), 1); err == nil {
		t.Fatal("Load succeeded, want error")
	}
	if n, ok := rec.Last(); !ok || n.Level != toast.TypeError {
		t.Errorf("notice = %+v", n)
	}
}

func TestFriendLocations(t *testing.T) {
	fake := &fakeAPI{friends: []model.FriendLocation{
		{UserID: "u2", VenueID: "v1", UpdatedAt: now.Add(-10 * time.Minute)},
		{UserID: "u3", VenueID: "v2", UpdatedAt: now.Add(-5 * time.Minute)},
	}}
	m := New(fake)
	if err := m.LoadFriends(context.Background()); err != nil {
		t.Fatalf("LoadFriends: %v", err)
	}
	c := push.New("ws://unused")
	m.Mount(c)
	defer m.Unmount()

	send := func(payload any) {
		data, err := json.Marshal(payload)
		if err != nil {
			t.Fatal(err)
		}
		c.Deliver(push.Envelope{Event: push.EventLocationUpdated, Data: data})
	}

	send(map[string]any{"userId": "u2", "venueId": "v2", "lat": 1.5, "lng": 2.5, "updatedAt": now.Format(time.RFC3339)})
	send(map[string]any{"userId": "u3", "venueId": "v9", "updatedAt": now.Add(-time.Hour).Format(time.RFC3339)})

	got := m.FriendsAt("v2")
	var users []string
	for _, loc := range got {
		users = append(users, loc.UserID)
	}
	if diff := cmp.Diff([]string{"u2", "u3"}, users); diff != "" {
		t.Errorf("friends at v2 (-want +got):\n%s", diff)
	}
	if loc, _ := m.Friend("u2"); loc.Lat != 1.5 {
		t.Errorf("u2 = %+v", loc)
	}
	if len(m.FriendsAt("v9")) != 0 {
		t.Error("stale location applied")
	}
}
