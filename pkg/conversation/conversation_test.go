package conversation

import "testing"

func TestDirectIDIsSymmetric(t *testing.T) {
	pairs := [][2]string{
		{"alice", "bob"},
		{"bob", "alice"},
		{"64b7f0c2", "64b7f0c1"},
		{"u1", "u1"},
		{"", "u2"},
		{"Zed", "amy"},
	}
	for _, p := range pairs {
		ab, ba := DirectID(p[0], p[1]), DirectID(p[1], p[0])
		if ab != ba {
			t.Errorf("DirectID(%q,%q)=%q but DirectID(%q,%q)=%q", p[0], p[1], ab, p[1], p[0], ba)
		}
	}
}

func TestDirectIDFormat(t *testing.T) {
	tests := []struct {
		a, b, want string
	}{
		{"bob", "alice", "alice_bob"},
		{"alice", "bob", "alice_bob"},
		{"u10", "u9", "u10_u9"},
		{"Zed", "amy", "Zed_amy"},
	}
	for _, tt := range tests {
		if got := DirectID(tt.a, tt.b); got != tt.want {
			t.Errorf("DirectID(%q, %q) = %q, want %q", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestParticipants(t *testing.T) {
	tests := []struct {
		name   string
		id     string
		a, b   string
		wantOK bool
	}{
		{"direct", "alice_bob", "alice", "bob", true},
		{"group", "group:42", "", "", false},
		{"unsorted", "bob_alice", "", "", false},
		{"ambiguous", "a_b_c", "", "", false},
		{"empty half", "_bob", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, b, ok := Participants(tt.id)
			if a != tt.a || b != tt.b || ok != tt.wantOK {
				t.Errorf("Participants(%q) = %q, %q, %v", tt.id, a, b, ok)
			}
		})
	}

	if a, b, ok := Participants(DirectID("u2", "u1")); !ok || a != "u1" || b != "u2" {
		t.Errorf("round trip = %q %q %v", a, b, ok)
	}
}

func TestGroupID(t *testing.T) {
	if got := GroupID("42"); got != "group:42" {
		t.Errorf("GroupID = %q", got)
	}
	if got := GroupID("group:42"); got != "group:42" {
		t.Errorf("GroupID not idempotent: %q", got)
	}
	if !IsGroup(GroupID("x")) || IsGroup(DirectID("a", "b")) {
		t.Error("IsGroup misclassified")
	}
}

func TestOther(t *testing.T) {
	id := DirectID("me", "you")
	if o, ok := Other(id, "me"); !ok || o != "you" {
		t.Errorf("Other(me) = %q %v", o, ok)
	}
	if o, ok := Other(id, "you"); !ok || o != "me" {
		t.Errorf("Other(you) = %q %v", o, ok)
	}
	if _, ok := Other(id, "stranger"); ok {
		t.Error("Other for non-participant reported ok")
	}
}
