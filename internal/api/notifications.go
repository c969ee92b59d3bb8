package api

import (
	"context"
	"fmt"
)

// GetNotifications gets all notifications for the current user
func (c *Client) GetNotifications(ctx context.Context) ([]*Notification, error) {
	var result []*Notification
	if err := c.get(ctx, "/notifications", nil, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// MarkNotificationRead marks one notification as read
func (c *Client) MarkNotificationRead(ctx context.Context, notificationID int64) error {
	return c.put(ctx, fmt.Sprintf("/notifications/%d/read", notificationID), nil, nil)
}

// MarkAllNotificationsRead marks every notification as read
func (c *Client) MarkAllNotificationsRead(ctx context.Context) error {
	return c.put(ctx, "/notifications/mark-all-read", nil, nil)
}

// DeleteNotification deletes one notification
func (c *Client) DeleteNotification(ctx context.Context, notificationID int64) error {
	return c.delete(ctx, fmt.Sprintf("/notifications/%d", notificationID))
}

// GetNotificationUnreadCount gets the unread notification count
func (c *Client) GetNotificationUnreadCount(ctx context.Context) (int, error) {
	var result CountResponse
	if err := c.get(ctx, "/notifications/unread/count", nil, &result); err != nil {
		return 0, err
	}
	return result.Count, nil
}
