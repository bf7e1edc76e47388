package pref

// Well-known preference keys.
const (
	KeyShowFriendSuggestions = "show_friend_suggestions"
)

// FriendSuggestions returns the "show friend suggestions" flag stored in b.
// It defaults to true.
func FriendSuggestions(b Backend, opts ...Option) *Pref[bool] {
	return New(KeyShowFriendSuggestions, true, append([]Option{WithBackend(b)}, opts...)...)
}
