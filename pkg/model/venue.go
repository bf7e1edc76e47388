package model

import (
	"slices"
	"time"
)

// Venue is a place on the map, with its running promotions.
type Venue struct {
	ID         string      `json:"id"`
	Name       string      `json:"name"`
	Address    string      `json:"address,omitempty"`
	Lat        float64     `json:"lat"`
	Lng        float64     `json:"lng"`
	Promotions []Promotion `json:"promotions,omitempty"`
}

// Promotion is a time-boxed offer at a venue.
type Promotion struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	EndsAt      time.Time `json:"endsAt,omitempty"`
}

// EntityID implements store.Entity.
func (v Venue) EntityID() string { return v.ID }

// Clone implements store.Entity.
func (v Venue) Clone() Venue {
	out := v
	out.Promotions = slices.Clone(v.Promotions)
	return out
}

// ActivePromotions returns promotions that have not ended at now.
// Promotions without an end time are always active.
func (v Venue) ActivePromotions(now time.Time) []Promotion {
	var out []Promotion
	for _, p := range v.Promotions {
		if p.EndsAt.IsZero() || p.EndsAt.After(now) {
			out = append(out, p)
		}
	}
	return out
}

// FriendLocation is the last reported position of a friend.
type FriendLocation struct {
	UserID    string    `json:"userId"`
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	VenueID   string    `json:"venueId,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// EntityID implements store.Entity.
func (f FriendLocation) EntityID() string { return f.UserID }

// Clone implements store.Entity.
func (f FriendLocation) Clone() FriendLocation { return f }

// User is a minimal user profile.
type User struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName,omitempty"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
}

// EntityID implements store.Entity.
func (u User) EntityID() string { return u.ID }

// Clone implements store.Entity.
func (u User) Clone() User { return u }
