package api

import (
	"context"
	"fmt"
)

// GetConversations gets all conversation summaries for the current user
func (c *Client) GetConversations(ctx context.Context) ([]*Conversation, error) {
	var result []*Conversation
	if err := c.get(ctx, "/messages/conversations", nil, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// GetConversationMessages gets the message history of one conversation
func (c *Client) GetConversationMessages(ctx context.Context, conversationID int64) ([]*Message, error) {
	var result []*Message
	path := fmt.Sprintf("/messages/conversations/%d", conversationID)
	if err := c.get(ctx, path, nil, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// SendMessage sends a message and returns the server-confirmed copy
func (c *Client) SendMessage(ctx context.Context, req *SendMessageRequest) (*Message, error) {
	var result Message
	if err := c.post(ctx, "/messages", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// MarkMessageRead marks a single regular message as read
func (c *Client) MarkMessageRead(ctx context.Context, messageID int64) error {
	return c.put(ctx, fmt.Sprintf("/messages/%d/read", messageID), nil, nil)
}

// MarkConversationRead marks a whole conversation as read
func (c *Client) MarkConversationRead(ctx context.Context, conversationID int64) error {
	return c.post(ctx, fmt.Sprintf("/messages/conversations/%d/mark-read", conversationID), nil, nil)
}

// DeleteMessage deletes a single regular message
func (c *Client) DeleteMessage(ctx context.Context, messageID int64) error {
	return c.delete(ctx, fmt.Sprintf("/messages/%d", messageID))
}

// DeleteConversation deletes a whole conversation thread
func (c *Client) DeleteConversation(ctx context.Context, conversationID int64) error {
	return c.delete(ctx, fmt.Sprintf("/messages/conversations/%d", conversationID))
}

// GetMessageUnreadCount gets the unread count over regular messages
func (c *Client) GetMessageUnreadCount(ctx context.Context) (int, error) {
	var result CountResponse
	if err := c.get(ctx, "/messages/unread/count", nil, &result); err != nil {
		return 0, err
	}
	return result.Count, nil
}
