package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mbeoliero/kit/log"

	"github.com/mbeoliero/prolinq/internal/api"
	"github.com/mbeoliero/prolinq/internal/bus"
	"github.com/mbeoliero/prolinq/pkg/errcode"
	"github.com/mbeoliero/prolinq/pkg/localstate"
)

// Conversation is one row of the merged conversation list
type Conversation struct {
	Key           ThreadKey
	Counterpart   api.UserProfile
	LastMessage   string
	LastMessageAt time.Time
	UnreadCount   int
	Pinned        bool
	Muted         bool
	Archived      bool
}

// IsAdmin reports whether the row is a read-only admin conversation
func (c *Conversation) IsAdmin() bool {
	return c.Key.IsAdmin()
}

// FilterClass selects which conversations Filter returns
type FilterClass string

const (
	FilterAll      FilterClass = "all"
	FilterUnread   FilterClass = "unread"
	FilterPinned   FilterClass = "pinned"
	FilterAdmin    FilterClass = "admin"
	FilterMuted    FilterClass = "muted"
	FilterArchived FilterClass = "archived"
)

// ConversationAPI is the slice of the REST client the store depends on
type ConversationAPI interface {
	GetConversations(ctx context.Context) ([]*api.Conversation, error)
	GetAdminReceived(ctx context.Context) ([]*api.AdminMessage, error)
	DeleteConversation(ctx context.Context, conversationID int64) error
}

// ConversationStore maintains the ordered set of conversations: server
// rows merged with synthesized admin threads, amended incrementally from
// push events and reconciled by full refreshes. Pin/mute/archive are
// client-only flags persisted in local state; this store is the only
// reader and writer of those lists.
type ConversationStore struct {
	apiClient ConversationAPI
	bus       *bus.Bus
	state     *localstate.Store
	selfID    int64

	mu            sync.Mutex
	conversations []*Conversation
	lastRegular   []*api.Conversation
	pinned        map[string]bool
	muted         map[string]bool
	archived      map[string]bool
	loaded        bool
}

// NewConversationStore creates the store and subscribes it to incoming
// message events.
func NewConversationStore(apiClient ConversationAPI, b *bus.Bus, state *localstate.Store, selfID int64) *ConversationStore {
	s := &ConversationStore{
		apiClient: apiClient,
		bus:       b,
		state:     state,
		selfID:    selfID,
		pinned:    flagSet(state.PinnedIDs()),
		muted:     flagSet(state.MutedIDs()),
		archived:  flagSet(state.ArchivedIDs()),
	}

	b.On(bus.EventNewMessage, func(payload interface{}) {
		if msg, ok := payload.(*api.Message); ok {
			s.ApplyIncoming(msg)
		}
	})

	return s
}

func flagSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

// Refresh fetches regular conversations and admin messages and rebuilds
// the merged list. A failed admin fetch yields zero admin conversations; a
// failed regular fetch keeps the last known list and returns a retryable
// error.
func (s *ConversationStore) Refresh(ctx context.Context) error {
	regular, regErr := s.apiClient.GetConversations(ctx)
	if regErr != nil {
		log.CtxWarn(ctx, "conversation refresh failed, retaining last known state: %v", regErr)
		s.mu.Lock()
		regular = s.lastRegular
		loaded := s.loaded
		s.mu.Unlock()
		if !loaded {
			return errcode.ErrConversationsStale.Wrap(regErr)
		}
	}

	adminMsgs, adminErr := s.apiClient.GetAdminReceived(ctx)
	if adminErr != nil {
		log.CtxWarn(ctx, "admin message fetch failed, showing no admin conversations: %v", adminErr)
		adminMsgs = nil
	}

	merged := s.merge(regular, adminMsgs)

	s.mu.Lock()
	s.conversations = merged
	s.lastRegular = regular
	s.loaded = true
	s.mu.Unlock()

	if regErr != nil {
		return errcode.ErrConversationsStale.Wrap(regErr)
	}
	return nil
}

// merge unions regular rows with per-admin summaries and sorts the result
func (s *ConversationStore) merge(regular []*api.Conversation, adminMsgs []*api.AdminMessage) []*Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Conversation, 0, len(regular)+4)

	for _, conv := range regular {
		row := &Conversation{
			Key:           RegularKey(conv.ID),
			LastMessage:   conv.LastMessage,
			LastMessageAt: conv.LastMessageAt,
			UnreadCount:   conv.UnreadCount,
		}
		if conv.User2 != nil {
			row.Counterpart = *conv.User2
		}
		s.applyFlags(row)
		out = append(out, row)
	}

	// Group admin messages by sender admin, keeping the latest as the
	// summary row and counting that admin's unread messages.
	latest := make(map[int64]*api.AdminMessage)
	unread := make(map[int64]int)
	for _, msg := range adminMsgs {
		cur, ok := latest[msg.AdminID]
		if !ok || msg.CreatedAt.After(cur.CreatedAt) {
			latest[msg.AdminID] = msg
		}
		if !msg.IsRead {
			unread[msg.AdminID]++
		}
	}

	for adminID, msg := range latest {
		row := &Conversation{
			Key:           AdminKey(adminID),
			LastMessage:   msg.Content,
			LastMessageAt: msg.CreatedAt,
			UnreadCount:   unread[adminID],
			Counterpart: api.UserProfile{
				ID:       adminID,
				FullName: "Admin Support",
				IsAdmin:  true,
			},
		}
		if msg.Admin != nil {
			row.Counterpart.FullName = msg.Admin.FullName
			row.Counterpart.ProfilePhoto = msg.Admin.ProfilePhoto
			row.Counterpart.IsAdmin = true
		}
		s.applyFlags(row)
		out = append(out, row)
	}

	sortConversations(out)
	return out
}

// applyFlags must be called with s.mu held
func (s *ConversationStore) applyFlags(row *Conversation) {
	key := row.Key.String()
	row.Pinned = s.pinned[key]
	row.Muted = s.muted[key]
	row.Archived = s.archived[key]
}

// sortConversations orders pinned first, then most recent message first
func sortConversations(rows []*Conversation) {
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Pinned != rows[j].Pinned {
			return rows[i].Pinned
		}
		return rows[i].LastMessageAt.After(rows[j].LastMessageAt)
	})
}

// ApplyIncoming amends the affected conversation from a pushed message,
// then schedules a full refresh so missed intermediate events reconcile.
// Either arrival order of the push and the refresh yields the same final
// state.
func (s *ConversationStore) ApplyIncoming(msg *api.Message) {
	// A pushed copy of the user's own send carries the counterpart in the
	// receiver field.
	counterpart := msg.SenderID
	if msg.SenderID == s.selfID {
		counterpart = msg.ReceiverID
	}

	s.mu.Lock()
	for _, row := range s.conversations {
		if row.IsAdmin() || row.Counterpart.ID != counterpart {
			continue
		}
		row.LastMessage = msg.Content
		row.LastMessageAt = msg.CreatedAt
		if msg.SenderID != s.selfID && !msg.IsRead {
			row.UnreadCount++
		}
		break
	}
	sortConversations(s.conversations)
	s.mu.Unlock()

	go func() {
		if err := s.Refresh(context.Background()); err != nil {
			log.Debug("post-push conversation refresh failed: %v", err)
		}
	}()
}

// TogglePin flips the pinned flag of a conversation. Client-side only;
// affects sort order.
func (s *ConversationStore) TogglePin(key ThreadKey) bool {
	return s.toggleFlag(key, s.pinned, s.state.SetPinnedIDs)
}

// ToggleMute flips the muted flag of a conversation. Client-side only.
func (s *ConversationStore) ToggleMute(key ThreadKey) bool {
	return s.toggleFlag(key, s.muted, s.state.SetMutedIDs)
}

// ToggleArchive flips the archived flag of a conversation. Client-side only.
func (s *ConversationStore) ToggleArchive(key ThreadKey) bool {
	return s.toggleFlag(key, s.archived, s.state.SetArchivedIDs)
}

func (s *ConversationStore) toggleFlag(key ThreadKey, set map[string]bool, persist func([]string) error) bool {
	s.mu.Lock()
	id := key.String()
	now := !set[id]
	if now {
		set[id] = true
	} else {
		delete(set, id)
	}

	ids := make([]string, 0, len(set))
	for k := range set {
		ids = append(ids, k)
	}
	sort.Strings(ids)

	for _, row := range s.conversations {
		if row.Key == key {
			s.applyFlags(row)
		}
	}
	sortConversations(s.conversations)
	s.mu.Unlock()

	if err := persist(ids); err != nil {
		// Local persistence failure loses the flag across restarts, not
		// the in-memory toggle. Last-writer-wins across tabs is accepted.
		log.Warn("failed to persist conversation flags: %v", err)
	}
	return now
}

// Delete removes a regular conversation on the server and locally
func (s *ConversationStore) Delete(ctx context.Context, key ThreadKey) error {
	if key.IsAdmin() {
		return errcode.ErrInvalidParam
	}
	if err := s.apiClient.DeleteConversation(ctx, key.ID); err != nil {
		return errcode.ErrDeleteFailed.Wrap(err)
	}

	s.mu.Lock()
	for i, row := range s.conversations {
		if row.Key == key {
			s.conversations = append(s.conversations[:i:i], s.conversations[i+1:]...)
			break
		}
	}
	s.mu.Unlock()
	return nil
}

// Conversations returns the current sorted list
func (s *ConversationStore) Conversations() []*Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Conversation(nil), s.conversations...)
}

// Filter returns conversations matching a class and a case-insensitive
// substring search over counterpart name and last message text.
func (s *ConversationStore) Filter(class FilterClass, search string) []*Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := strings.ToLower(strings.TrimSpace(search))
	out := make([]*Conversation, 0, len(s.conversations))

	for _, row := range s.conversations {
		switch class {
		case FilterUnread:
			if row.UnreadCount == 0 {
				continue
			}
		case FilterPinned:
			if !row.Pinned {
				continue
			}
		case FilterAdmin:
			if !row.IsAdmin() {
				continue
			}
		case FilterMuted:
			if !row.Muted {
				continue
			}
		case FilterArchived:
			if !row.Archived {
				continue
			}
		}

		if query != "" {
			name := strings.ToLower(row.Counterpart.FullName)
			last := strings.ToLower(row.LastMessage)
			if !strings.Contains(name, query) && !strings.Contains(last, query) {
				continue
			}
		}

		out = append(out, row)
	}
	return out
}
