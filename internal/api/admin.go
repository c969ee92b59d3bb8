package api

import (
	"context"
	"fmt"
)

// GetAdminReceived gets the bulk list of admin messages received by the
// current user. There is no per-admin history endpoint; callers filter
// client-side.
func (c *Client) GetAdminReceived(ctx context.Context) ([]*AdminMessage, error) {
	var result []*AdminMessage
	if err := c.get(ctx, "/messages/admin/received", nil, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// MarkAdminMessageRead marks a single admin message as read
func (c *Client) MarkAdminMessageRead(ctx context.Context, messageID int64) error {
	return c.put(ctx, fmt.Sprintf("/messages/admin/%d/read", messageID), nil, nil)
}

// DeleteAdminReceived removes an admin message from the user's received list
func (c *Client) DeleteAdminReceived(ctx context.Context, messageID int64) error {
	return c.delete(ctx, fmt.Sprintf("/messages/admin/%d/delete-received", messageID))
}

// GetAdminUnreadCount gets the unread count over admin messages
func (c *Client) GetAdminUnreadCount(ctx context.Context) (int, error) {
	var result CountResponse
	if err := c.get(ctx, "/messages/admin/unread/count", nil, &result); err != nil {
		return 0, err
	}
	return result.Count, nil
}
