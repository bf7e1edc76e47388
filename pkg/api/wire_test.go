package api

import (
	"encoding/json"
	"testing"
	"time"
)

func TestFlexTime(t *testing.T) {
	want := time.Date(2024, 5, 1, 20, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		in   string
	}{
		{"rfc3339", `"2024-05-01T20:00:00Z"`},
		{"space separated", `"2024-05-01 20:00:00"`},
		{"unix seconds", `1714593600`},
		{"unix millis", `1714593600000`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ft flexTime
			if err := json.Unmarshal([]byte(tt.in), &ft); err != nil {
				t.Fatalf("Unmarshal: %v", err)
			}
			if !ft.Equal(want) {
				t.Errorf("got %v, want %v", ft.Time, want)
			}
		})
	}

	var empty flexTime
	if err := json.Unmarshal([]byte(`null`), &empty); err != nil || !empty.IsZero() {
		t.Errorf("null = %v, %v", empty.Time, err)
	}
}

func TestReactionShapes(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"aggregate map", `{"🔥": {"count": 2, "users": ["u1", "u2"]}}`},
		{"user list map", `{"🔥": ["u1", "u2"]}`},
		{"emoji list", `[{"emoji": "🔥", "count": 2, "users": [{"_id": "u1"}, "u2"]}]`},
		{"wrapped counts", `{"counts": {"🔥": {"count": 2, "users": ["u1", "u2"]}}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var r reactions
			if err := json.Unmarshal([]byte(tt.in), &r); err != nil {
				t.Fatalf("Unmarshal: %v", err)
			}
			s := r.set("u1")
			if s.Count("🔥") != 2 || !s.Has("🔥") {
				t.Errorf("set = %+v", s)
			}
		})
	}
}

func TestAttachCommentsDropsUnknownParent(t *testing.T) {
	var w wirePost
	in := `{"id": "p1", "comments": [{"id": "c1", "replyTo": "gone", "text": "x"}]}`
	if err := json.Unmarshal([]byte(in), &w); err != nil {
		t.Fatal(err)
	}
	p := w.model("u1")
	if len(p.Comments) != 1 || p.Comments[0].ReplyTo != "" {
		t.Errorf("comments = %+v", p.Comments)
	}
}

func TestCents(t *testing.T) {
	c := int64(250)
	d := 19.99
	if got := cents(&c, &d); got != 250 {
		t.Errorf("explicit cents = %d", got)
	}
	if got := cents(nil, &d); got != 1999 {
		t.Errorf("dollars = %d, want 1999", got)
	}
	if got := cents(nil, nil); got != 0 {
		t.Errorf("missing = %d", got)
	}
}
