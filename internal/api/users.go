package api

import (
	"context"
	"fmt"
)

// GetUser gets the public profile of a user
func (c *Client) GetUser(ctx context.Context, userID int64) (*UserProfile, error) {
	var result UserProfile
	if err := c.get(ctx, fmt.Sprintf("/users/%d", userID), nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Logout notifies the server that the session is ending. Best effort; the
// caller bounds it with a context deadline and completes logout locally
// regardless of the outcome.
func (c *Client) Logout(ctx context.Context) error {
	return c.post(ctx, "/auth/logout", nil, nil)
}
