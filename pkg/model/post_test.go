package model

import (
	"errors"
	"testing"

	"github.com/shotonme/shotonme/pkg/reaction"
)

func TestUpsertCommentIsIdempotent(t *testing.T) {
	p := Post{ID: "p1"}
	c := Comment{ID: "c1", PostID: "p1", Text: "first"}

	p, err := p.UpsertComment(c)
	if err != nil {
		t.Fatalf("UpsertComment() error: %v", err)
	}
	p, err = p.UpsertComment(c)
	if err != nil {
		t.Fatalf("UpsertComment() second call error: %v", err)
	}
	if len(p.Comments) != 1 {
		t.Fatalf("len(Comments) = %d, want 1", len(p.Comments))
	}
}

func TestUpsertCommentRejectsOrphanReply(t *testing.T) {
	p := Post{ID: "p1"}
	_, err := p.UpsertComment(Comment{ID: "c2", ReplyTo: "missing"})
	if !errors.Is(err, ErrOrphanReply) {
		t.Fatalf("err = %v, want ErrOrphanReply", err)
	}

	p, _ = p.UpsertComment(Comment{ID: "c1"})
	p, err = p.UpsertComment(Comment{ID: "c2", ReplyTo: "c1"})
	if err != nil {
		t.Fatalf("reply to existing parent: %v", err)
	}
	if got := p.Replies("c1"); len(got) != 1 || got[0].ID != "c2" {
		t.Fatalf("Replies(c1) = %+v", got)
	}
}

func TestReplaceCommentKeepsPosition(t *testing.T) {
	p := Post{ID: "p1"}
	p, _ = p.UpsertComment(Comment{ID: "c1"})
	p, _ = p.UpsertComment(Comment{ID: "tmp-1", TempID: "tmp-1", Text: "hi"})
	p, _ = p.UpsertComment(Comment{ID: "c3"})

	p, err := p.ReplaceComment("tmp-1", Comment{ID: "c2", Text: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	ids := []string{}
	for _, c := range p.Comments {
		ids = append(ids, c.ID)
	}
	if len(ids) != 3 || ids[1] != "c2" {
		t.Fatalf("ids = %v, want [c1 c2 c3]", ids)
	}

	// The real comment already arrived by push: the temp entry is dropped.
	p, _ = p.UpsertComment(Comment{ID: "tmp-4"})
	p, _ = p.UpsertComment(Comment{ID: "c4"})
	p, _ = p.ReplaceComment("tmp-4", Comment{ID: "c4"})
	if len(p.Comments) != 4 {
		t.Fatalf("len(Comments) = %d, want 4", len(p.Comments))
	}
}

func TestRemoveCommentCascades(t *testing.T) {
	p := Post{ID: "p1"}
	p, _ = p.UpsertComment(Comment{ID: "c1"})
	p, _ = p.UpsertComment(Comment{ID: "c2", ReplyTo: "c1"})
	p, _ = p.UpsertComment(Comment{ID: "c3", ReplyTo: "c2"})
	p, _ = p.UpsertComment(Comment{ID: "c4"})

	p = p.RemoveComment("c1")
	if len(p.Comments) != 1 || p.Comments[0].ID != "c4" {
		t.Fatalf("Comments = %+v, want only c4", p.Comments)
	}
}

func TestPostCloneIsDeep(t *testing.T) {
	p := Post{ID: "p1", Likes: reaction.Set{}.Toggle("alice", reaction.Like)}
	p, _ = p.UpsertComment(Comment{ID: "c1", Text: "orig"})

	c := p.Clone()
	c.Comments[0].Text = "changed"
	c.Likes = c.Likes.Toggle("alice", reaction.Like)

	if p.Comments[0].Text != "orig" {
		t.Error("clone shares comments slice")
	}
	if p.Likes.Count(reaction.Like) != 1 {
		t.Error("clone shares likes")
	}
}

func TestMessageMarkRead(t *testing.T) {
	m := Message{ID: "m1"}
	m2 := m.MarkRead("bob").MarkRead("bob")
	if len(m2.ReadBy) != 1 {
		t.Fatalf("ReadBy = %v, want [bob]", m2.ReadBy)
	}
	if len(m.ReadBy) != 0 {
		t.Fatal("MarkRead mutated receiver")
	}
}
