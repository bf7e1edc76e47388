package reconcile

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/shotonme/shotonme/pkg/model"
	"github.com/shotonme/shotonme/pkg/optimistic"
	"github.com/shotonme/shotonme/pkg/reaction"
	"github.com/shotonme/shotonme/pkg/store"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newPosts(opts ...Option) (*store.Store[model.Post], *Reconciler[model.Post]) {
	s := store.New[model.Post]()
	a := optimistic.New(s, optimistic.WithEntityName("post"), optimistic.WithCreateAtFront())
	return s, New(a, opts...)
}

func addComment(c model.Comment) optimistic.Transform[model.Post] {
	return func(p model.Post) model.Post {
		out, err := p.UpsertComment(c)
		if err != nil {
			return p
		}
		return out
	}
}

func setContent(text string) optimistic.Transform[model.Post] {
	return func(p model.Post) model.Post {
		p.Content = text
		return p
	}
}

func TestMergeCreateIsIdempotent(t *testing.T) {
	tests := []struct {
		name        string
		placeholder bool
	}{
		{"without placeholder", false},
		{"with optimistic placeholder", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, r := newPosts()
			if tt.placeholder {
				if _, err := r.Applier().ApplyCreate(model.Post{ID: "tmp-1", Pending: true}); err != nil {
					t.Fatalf("ApplyCreate: %v", err)
				}
			}

			ev := model.Post{ID: "p1", TempID: "tmp-1", Content: "hello"}
			first, err := r.MergeCreate(ev, ev.TempID)
			if err != nil {
				t.Fatalf("first MergeCreate: %v", err)
			}
			second, err := r.MergeCreate(ev, ev.TempID)
			if err != nil {
				t.Fatalf("second MergeCreate: %v", err)
			}

			wantFirst := optimistic.Inserted
			if tt.placeholder {
				wantFirst = optimistic.Resolved
			}
			if first != wantFirst || second != optimistic.Duplicate {
				t.Errorf("results = %v, %v; want %v, duplicate", first, second, wantFirst)
			}
			if !cmp.Equal(s.IDs(), []string{"p1"}) {
				t.Errorf("ids = %v, want exactly [p1]", s.IDs())
			}
		})
	}
}

func TestMergeCreateKeepsArrivalOrder(t *testing.T) {
	s, r := newPosts()
	for _, id := range []string{"p1", "p2", "p3"} {
		if _, err := r.MergeCreate(model.Post{ID: id}, ""); err != nil {
			t.Fatal(err)
		}
	}
	// Feed applier inserts at the front: newest first.
	if want := []string{"p3", "p2", "p1"}; !cmp.Equal(s.IDs(), want) {
		t.Errorf("ids = %v, want %v", s.IDs(), want)
	}
}

func TestRedeliveredCommentAddedOnce(t *testing.T) {
	s, r := newPosts()
	if _, err := r.MergeCreate(model.Post{ID: "p1"}, ""); err != nil {
		t.Fatal(err)
	}

	c := model.Comment{ID: "c7", PostID: "p1", AuthorID: "u2", Text: "see you there"}
	for i := 0; i < 2; i++ {
		if got := r.MergeUpdate("p1", addComment(c)); got != Applied {
			t.Fatalf("delivery %d: outcome = %v", i, got)
		}
	}

	p, _ := s.Get("p1")
	if len(p.Comments) != 1 || p.Comments[0].ID != "c7" {
		t.Errorf("comments = %+v, want exactly one c7", p.Comments)
	}
}

func TestHTTPAndPushConverge(t *testing.T) {
	counts := map[string]reaction.Aggregate{"❤️": {Count: 1, Users: []string{"u1"}}}
	authoritative := func(p model.Post) model.Post {
		p.Reactions = reaction.Replace(counts, "u1")
		return p
	}

	orders := map[string][]string{
		"http only":      {"http"},
		"push only":      {"push"},
		"http then push": {"http", "push"},
		"push then http": {"push", "http"},
	}
	for name, order := range orders {
		t.Run(name, func(t *testing.T) {
			s, r := newPosts()
			r.MergeCreate(model.Post{ID: "p1"}, "")
			a := r.Applier()

			cur, _ := s.Get("p1")
			on := !cur.Reactions.Has("❤️")
			m, err := a.Apply("p1", func(p model.Post) model.Post {
				p.Reactions = p.Reactions.With("u1", "❤️", on)
				return p
			})
			if err != nil {
				t.Fatal(err)
			}
			for _, src := range order {
				switch src {
				case "http":
					cur, _ := s.Get("p1")
					if err := a.Commit(m, authoritative(cur)); err != nil {
						t.Fatal(err)
					}
				case "push":
					r.MergeUpdate("p1", authoritative)
				}
			}
			if m.Status() == optimistic.Pending {
				if err := a.Commit(m, model.Post{}); err != nil {
					t.Fatal(err)
				}
			}

			p, _ := s.Get("p1")
			if p.Reactions.Count("❤️") != 1 || !p.Reactions.Has("❤️") {
				t.Errorf("reactions = %+v, want ❤️:1 mine", p.Reactions)
			}
		})
	}
}

func TestMergeUpdateBuffersUntilCreate(t *testing.T) {
	s, r := newPosts()

	if got := r.MergeUpdate("p1", setContent("v1")); got != Buffered {
		t.Fatalf("outcome = %v, want buffered", got)
	}
	r.MergeUpdate("p1", setContent("v2"))
	if r.Buffered("p1") != 2 {
		t.Fatalf("Buffered = %d, want 2", r.Buffered("p1"))
	}
	if s.Has("p1") {
		t.Fatal("early update created the entity")
	}

	if _, err := r.MergeCreate(model.Post{ID: "p1", Content: "v0"}, ""); err != nil {
		t.Fatal(err)
	}
	p, _ := s.Get("p1")
	if p.Content != "v2" {
		t.Errorf("content = %q, want last buffered update v2", p.Content)
	}
	if r.Buffered("p1") != 0 {
		t.Errorf("buffer not drained: %d", r.Buffered("p1"))
	}
}

func TestBufferLimits(t *testing.T) {
	t.Run("ttl expiry", func(t *testing.T) {
		c := &clock{t: time.Unix(1000, 0)}
		s, r := newPosts(WithBufferTTL(time.Minute), WithClock(c.now))

		r.MergeUpdate("p1", setContent("stale"))
		c.advance(2 * time.Minute)
		r.MergeUpdate("p2", setContent("fresh"))

		if dropped := r.Sweep(); dropped != 1 {
			t.Errorf("Sweep dropped %d, want 1", dropped)
		}
		r.MergeCreate(model.Post{ID: "p1", Content: "v0"}, "")
		if p, _ := s.Get("p1"); p.Content != "v0" {
			t.Errorf("expired update applied: %q", p.Content)
		}
		if r.Buffered("p2") != 1 {
			t.Errorf("fresh update swept")
		}
	})

	t.Run("expired update skipped on replay", func(t *testing.T) {
		c := &clock{t: time.Unix(1000, 0)}
		s, r := newPosts(WithBufferTTL(time.Minute), WithClock(c.now))

		r.MergeUpdate("p1", setContent("stale"))
		c.advance(2 * time.Minute)
		r.MergeCreate(model.Post{ID: "p1", Content: "v0"}, "")
		if p, _ := s.Get("p1"); p.Content != "v0" {
			t.Errorf("content = %q, want v0", p.Content)
		}
	})

	t.Run("per-entity cap drops oldest", func(t *testing.T) {
		s, r := newPosts(WithMaxBuffered(2))
		r.MergeUpdate("p1", setContent("a"))
		r.MergeUpdate("p1", addComment(model.Comment{ID: "c1", PostID: "p1"}))
		r.MergeUpdate("p1", addComment(model.Comment{ID: "c2", PostID: "p1"}))
		if r.Buffered("p1") != 2 {
			t.Fatalf("Buffered = %d, want 2", r.Buffered("p1"))
		}
		r.MergeCreate(model.Post{ID: "p1", Content: "v0"}, "")
		p, _ := s.Get("p1")
		if p.Content != "v0" || len(p.Comments) != 2 {
			t.Errorf("content %q comments %d; want oldest dropped", p.Content, len(p.Comments))
		}
	})

	t.Run("buffering disabled", func(t *testing.T) {
		_, r := newPosts(WithBufferTTL(0))
		if got := r.MergeUpdate("p1", setContent("x")); got != Dropped {
			t.Errorf("outcome = %v, want dropped", got)
		}
		if r.Buffered("p1") != 0 {
			t.Error("update buffered with ttl 0")
		}
	})
}

func TestMergeDelete(t *testing.T) {
	s, r := newPosts()
	r.MergeCreate(model.Post{ID: "p1"}, "")
	r.MergeCreate(model.Post{ID: "p2"}, "")
	m, _ := r.Applier().Apply("p1", setContent("draft"))
	r.MergeUpdate("p9", setContent("orphan"))

	r.MergeDelete("p1")
	r.MergeDelete("p9")

	if !cmp.Equal(s.IDs(), []string{"p2"}) {
		t.Errorf("ids = %v, want [p2]", s.IDs())
	}
	if m.Status() != optimistic.Failed {
		t.Errorf("pending mutation status = %v, want failed", m.Status())
	}
	if r.Buffered("p9") != 0 {
		t.Error("buffered updates survived delete")
	}
}

func TestMergeLoaded(t *testing.T) {
	s, r := newPosts()
	r.MergeCreate(model.Post{ID: "p0", Content: "pushed"}, "")
	m, _ := r.Applier().Apply("p0", setContent("editing"))
	r.MergeUpdate("p2", setContent("early"))

	added, err := r.MergeLoaded(
		model.Post{ID: "p0", Content: "listed"},
		model.Post{ID: "p1"},
		model.Post{ID: "p2", Content: "listed"},
	)
	if err != nil {
		t.Fatalf("MergeLoaded: %v", err)
	}
	if added != 2 {
		t.Errorf("added = %d, want 2", added)
	}
	if !cmp.Equal(s.IDs(), []string{"p0", "p1", "p2"}) {
		t.Errorf("ids = %v, want listing order after existing", s.IDs())
	}
	if p, _ := s.Get("p0"); p.Content != "editing" {
		t.Errorf("p0 = %q, pending edit should replay over the refresh", p.Content)
	}
	if p, _ := s.Get("p2"); p.Content != "early" {
		t.Errorf("p2 = %q, buffered update should replay", p.Content)
	}

	if err := r.Applier().Rollback(m); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if p, _ := s.Get("p0"); p.Content != "listed" {
		t.Errorf("p0 after rollback = %q, want the refreshed base", p.Content)
	}
}
