package api

import (
	"context"
	"net/http"

	"github.com/shotonme/shotonme/pkg/model"
)

// SendMessageRequest is the body of SendMessage. ClientTempID is echoed back
// on the authoritative message and its push event so the optimistic entry can
// be replaced.
type SendMessageRequest struct {
	ConversationID string `json:"conversationId"`
	RecipientID    string `json:"recipientId,omitempty"`
	Text           string `json:"text"`
	ClientTempID   string `json:"clientTempId,omitempty"`
}

// ListMessages returns one page of a conversation, oldest first.
func (c *Client) ListMessages(ctx context.Context, conversationID string, page int) (Page[model.Message], error) {
	body, err := c.do(ctx, request{
		op:     "list_messages",
		method: http.MethodGet,
		path:   "/conversations/" + escape(conversationID) + "/messages",
		query:  pageQuery(page),
	})
	if err != nil {
		return Page[model.Message]{}, err
	}
	wire, err := decodeList[wireMessage](body)
	if err != nil {
		return Page[model.Message]{}, malformed("list_messages", err)
	}
	msgs := make([]model.Message, 0, len(wire))
	for _, w := range wire {
		m := w.model()
		if m.ConversationID == "" {
			m.ConversationID = conversationID
		}
		msgs = append(msgs, m)
	}
	return newPage(msgs, page), nil
}

// ListConversations returns the viewer's threads.
func (c *Client) ListConversations(ctx context.Context) ([]model.Conversation, error) {
	body, err := c.do(ctx, request{op: "list_conversations", method: http.MethodGet, path: "/conversations"})
	if err != nil {
		return nil, err
	}
	wire, err := decodeList[wireConversation](body)
	if err != nil {
		return nil, malformed("list_conversations", err)
	}
	out := make([]model.Conversation, 0, len(wire))
	for _, w := range wire {
		out = append(out, w.model())
	}
	return out, nil
}

// SendMessage sends a direct message and returns the stored message.
func (c *Client) SendMessage(ctx context.Context, req SendMessageRequest) (model.Message, error) {
	return c.message(ctx, "send_message", "/messages", req)
}

// SendGroupMessage sends a message to a group and returns the stored message.
func (c *Client) SendGroupMessage(ctx context.Context, groupID, text, clientTempID string) (model.Message, error) {
	body := map[string]string{"text": text}
	if clientTempID != "" {
		body["clientTempId"] = clientTempID
	}
	return c.message(ctx, "send_group_message", "/groups/"+escape(groupID)+"/messages", body)
}

// MarkRead marks every message in a conversation as read by the viewer.
func (c *Client) MarkRead(ctx context.Context, conversationID string) error {
	_, err := c.do(ctx, request{
		op:     "mark_read",
		method: http.MethodPost,
		path:   "/conversations/" + escape(conversationID) + "/read",
	})
	return err
}

func (c *Client) message(ctx context.Context, op, path string, body any) (model.Message, error) {
	raw, err := c.do(ctx, request{op: op, method: http.MethodPost, path: path, body: body})
	if err != nil {
		return model.Message{}, err
	}
	w, err := decodeOne[wireMessage](raw, "message")
	if err != nil {
		return model.Message{}, malformed(op, err)
	}
	return w.model(), nil
}
