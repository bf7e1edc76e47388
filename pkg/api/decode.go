package api

import (
	"encoding/json"

	"github.com/shotonme/shotonme/pkg/model"
	"github.com/shotonme/shotonme/pkg/reaction"
)

// The Decode functions apply the client's payload normalization to raw JSON
// from other sources, such as push events. An object wrapped under its own
// name or under "data" is unwrapped.

// DecodePost decodes a post as seen by viewer.
func DecodePost(raw []byte, viewer string) (model.Post, error) {
	w, err := decodeOne[wirePost](raw, "post")
	if err != nil {
		return model.Post{}, malformed("post", err)
	}
	return w.model(viewer), nil
}

// DecodeComment decodes a comment as seen by viewer.
func DecodeComment(raw []byte, viewer string) (model.Comment, error) {
	w, err := decodeOne[wireComment](raw, "comment")
	if err != nil {
		return model.Comment{}, malformed("comment", err)
	}
	return w.model(viewer), nil
}

// DecodeMessage decodes a message.
func DecodeMessage(raw []byte) (model.Message, error) {
	w, err := decodeOne[wireMessage](raw, "message")
	if err != nil {
		return model.Message{}, malformed("message", err)
	}
	return w.model(), nil
}

// DecodeTransaction decodes a wallet transaction.
func DecodeTransaction(raw []byte) (model.Transaction, error) {
	w, err := decodeOne[wireTransaction](raw, "transaction")
	if err != nil {
		return model.Transaction{}, malformed("transaction", err)
	}
	return w.model(), nil
}

// DecodeWallet decodes a wallet.
func DecodeWallet(raw []byte) (model.Wallet, error) {
	w, err := decodeOne[wireWallet](raw, "wallet")
	if err != nil {
		return model.Wallet{}, malformed("wallet", err)
	}
	return w.model(), nil
}

// DecodeLocation decodes a friend location.
func DecodeLocation(raw []byte) (model.FriendLocation, error) {
	w, err := decodeOne[wireLocation](raw)
	if err != nil {
		return model.FriendLocation{}, malformed("location", err)
	}
	return w.model(), nil
}

// DecodeReactions decodes a reaction aggregate in any supported shape.
func DecodeReactions(raw []byte, viewer string) (reaction.Set, error) {
	var r reactions
	if err := json.Unmarshal(raw, &r); err != nil {
		return reaction.Set{}, malformed("reactions", err)
	}
	return r.set(viewer), nil
}

// DecodeLikes decodes a like list (user ids or user objects) with an optional
// count into a like set.
func DecodeLikes(raw []byte, count *int, viewer string) (reaction.Set, error) {
	var users refs
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &users); err != nil {
			return reaction.Set{}, malformed("likes", err)
		}
	}
	return reaction.Replace(map[string]reaction.Aggregate{
		reaction.Like: aggregate(count, users),
	}, viewer), nil
}
