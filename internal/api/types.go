package api

import (
	"encoding/json"
	"time"
)

// UserProfile represents the public profile of a counterpart
type UserProfile struct {
	ID           int64  `json:"id"`
	FullName     string `json:"full_name"`
	ProfilePhoto string `json:"profile_photo,omitempty"`
	IsAdmin      bool   `json:"is_admin,omitempty"`
}

// Message represents one chat message
type Message struct {
	ID          int64     `json:"id"`
	SenderID    int64     `json:"sender_id"`
	ReceiverID  int64     `json:"receiver_id"`
	Content     string    `json:"content"`
	ReplyToID   *int64    `json:"reply_to_id,omitempty"`
	IsRead      bool      `json:"is_read"`
	ClientMsgID string    `json:"client_msg_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// AdminMessage represents one admin broadcast message received by the user.
// There is no two-way admin thread on the server; these arrive as standalone
// rows keyed by the sending admin.
type AdminMessage struct {
	ID         int64        `json:"id"`
	AdminID    int64        `json:"admin_id"`
	ReceiverID int64        `json:"receiver_id"`
	Content    string       `json:"content"`
	IsRead     bool         `json:"is_read"`
	CreatedAt  time.Time    `json:"created_at"`
	Admin      *UserProfile `json:"admin,omitempty"`
}

// Conversation represents a server-side conversation summary row
type Conversation struct {
	ID            int64        `json:"id"`
	User2         *UserProfile `json:"user2"`
	LastMessage   string       `json:"last_message"`
	LastMessageAt time.Time    `json:"last_message_at"`
	UnreadCount   int          `json:"unread_count"`
}

// Notification types pushed by the backend
const (
	NotificationNewMessage        = "new_message"
	NotificationJobRecommendation = "job_recommendation"
	NotificationJobApplication    = "job_application"
	NotificationAppUpdate         = "application_update"
	NotificationJobCompleted      = "job_completed"
	NotificationReviewReceived    = "review_received"
)

// Notification represents a system notification as it arrives on the wire.
// The read flag historically arrives under two different names depending on
// the endpoint; both are captured here and normalized at ingestion.
type Notification struct {
	ID        int64           `json:"id"`
	Type      string          `json:"type"`
	Title     string          `json:"title"`
	Message   string          `json:"message"`
	Data      json.RawMessage `json:"data,omitempty"`
	IsRead    *bool           `json:"is_read,omitempty"`
	Read      *bool           `json:"read,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// SendMessageRequest represents the send message request body
type SendMessageRequest struct {
	ReceiverID  int64  `json:"receiver_id"`
	Content     string `json:"content"`
	ReplyToID   *int64 `json:"reply_to_id,omitempty"`
	ClientMsgID string `json:"client_msg_id,omitempty"`
}

// CountResponse represents an unread count response
type CountResponse struct {
	Count int `json:"count"`
}
