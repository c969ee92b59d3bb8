package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/mbeoliero/kit/log"

	"github.com/mbeoliero/prolinq/internal/api"
	"github.com/mbeoliero/prolinq/internal/bus"
	"github.com/mbeoliero/prolinq/pkg/errcode"
)

// BadgeAPI is the slice of the REST client the badge store depends on
type BadgeAPI interface {
	GetNotifications(ctx context.Context) ([]*api.Notification, error)
	GetMessageUnreadCount(ctx context.Context) (int, error)
	GetAdminUnreadCount(ctx context.Context) (int, error)
	GetNotificationUnreadCount(ctx context.Context) (int, error)
	MarkNotificationRead(ctx context.Context, notificationID int64) error
	MarkAllNotificationsRead(ctx context.Context) error
	DeleteNotification(ctx context.Context, notificationID int64) error
}

// Counts are the three navigation badge values. They come from three
// isolated endpoints; one failing leaves the others intact.
type Counts struct {
	Messages      int
	AdminMessages int
	Notifications int
}

// Total sums the three badges for a single aggregate indicator
func (c Counts) Total() int {
	return c.Messages + c.AdminMessages + c.Notifications
}

// Notification is a normalized notification row. Read is a plain bool
// regardless of which wire field carried it, and Data is always a decoded
// map, possibly empty.
type Notification struct {
	ID        int64
	Type      string
	Title     string
	Message   string
	Data      map[string]interface{}
	Read      bool
	CreatedAt time.Time
}

// BadgeStore aggregates unread counts for navigation badges and keeps the
// notification list. Counts refresh on a fixed interval and on demand when
// a signal reports that something unread-related changed.
type BadgeStore struct {
	apiClient BadgeAPI
	bus       *bus.Bus
	interval  time.Duration

	mu            sync.Mutex
	counts        Counts
	notifications []*Notification
	fetchSeq      uint64
}

// NewBadgeStore creates the store and wires its signal subscriptions. Each
// wired signal triggers an immediate recount on top of the periodic poll.
func NewBadgeStore(apiClient BadgeAPI, b *bus.Bus, pollInterval time.Duration) *BadgeStore {
	s := &BadgeStore{
		apiClient: apiClient,
		bus:       b,
		interval:  pollInterval,
	}

	recount := func(interface{}) {
		// Off the bus goroutine; publishers must not block on HTTP.
		go func() {
			if err := s.PollCounts(context.Background()); err != nil {
				log.Debug("signal-triggered badge poll failed: %v", err)
			}
		}()
	}
	b.On(bus.SignalNewMessage, recount)
	b.On(bus.SignalMessageRead, recount)
	b.On(bus.SignalNotificationRead, recount)
	b.On(bus.SignalNotification, func(payload interface{}) {
		if n, ok := payload.(*api.Notification); ok {
			s.Ingest(n)
		}
		recount(nil)
	})

	return s
}

// Run polls counts until ctx is cancelled. An immediate poll runs before
// the first tick so badges are populated at startup.
func (s *BadgeStore) Run(ctx context.Context) {
	if err := s.PollCounts(ctx); err != nil {
		log.CtxWarn(ctx, "initial badge poll failed: %v", err)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.PollCounts(ctx); err != nil {
				log.CtxDebug(ctx, "badge poll failed: %v", err)
			}
		}
	}
}

// PollCounts fetches the three unread counts. The endpoints are isolated:
// one failing reports zero for its badge without touching the other two.
// When polls overlap, only the newest poll's results land.
func (s *BadgeStore) PollCounts(ctx context.Context) error {
	s.mu.Lock()
	s.fetchSeq++
	seq := s.fetchSeq
	s.mu.Unlock()

	var firstErr error
	fetch := func(name string, f func(context.Context) (int, error)) int {
		n, err := f(ctx)
		if err != nil {
			log.CtxDebug(ctx, "%s unread count fetch failed: %v", name, err)
			if firstErr == nil {
				firstErr = err
			}
			return 0
		}
		return n
	}

	counts := Counts{
		Messages:      fetch("message", s.apiClient.GetMessageUnreadCount),
		AdminMessages: fetch("admin message", s.apiClient.GetAdminUnreadCount),
		Notifications: fetch("notification", s.apiClient.GetNotificationUnreadCount),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if seq != s.fetchSeq {
		// A newer poll already started; its results win
		return nil
	}
	s.counts = counts

	if firstErr != nil {
		return errcode.ErrFetchFailed.Wrap(firstErr)
	}
	return nil
}

// Counts returns the current badge values
func (s *BadgeStore) Counts() Counts {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts
}

// RefreshNotifications reloads the notification list from the server
func (s *BadgeStore) RefreshNotifications(ctx context.Context) error {
	wire, err := s.apiClient.GetNotifications(ctx)
	if err != nil {
		return errcode.ErrFetchFailed.Wrap(err)
	}

	rows := make([]*Notification, 0, len(wire))
	for _, n := range wire {
		rows = append(rows, normalize(n))
	}
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].CreatedAt.After(rows[j].CreatedAt)
	})

	s.mu.Lock()
	s.notifications = rows
	s.mu.Unlock()
	return nil
}

// Ingest folds one pushed notification into the list, newest first. A
// duplicate id is dropped.
func (s *BadgeStore) Ingest(wire *api.Notification) {
	row := normalize(wire)

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.notifications {
		if existing.ID == row.ID {
			return
		}
	}
	s.notifications = append([]*Notification{row}, s.notifications...)
}

// normalize maps a wire notification to the internal shape: whichever read
// flag the endpoint sent wins, and the data payload decodes to a map with
// an empty map standing in for anything undecodable.
func normalize(wire *api.Notification) *Notification {
	row := &Notification{
		ID:        wire.ID,
		Type:      wire.Type,
		Title:     wire.Title,
		Message:   wire.Message,
		Data:      decodeData(wire.Data),
		CreatedAt: wire.CreatedAt,
	}
	switch {
	case wire.IsRead != nil:
		row.Read = *wire.IsRead
	case wire.Read != nil:
		row.Read = *wire.Read
	}
	return row
}

// decodeData tolerates the two shapes the backend has emitted: a JSON
// object, or a JSON string containing an encoded object. Anything else,
// including corrupt nested JSON, yields an empty map.
func decodeData(raw json.RawMessage) map[string]interface{} {
	if len(raw) == 0 {
		return map[string]interface{}{}
	}

	var direct map[string]interface{}
	if err := json.Unmarshal(raw, &direct); err == nil {
		return direct
	}

	var nested string
	if err := json.Unmarshal(raw, &nested); err == nil {
		var decoded map[string]interface{}
		if err := json.Unmarshal([]byte(nested), &decoded); err == nil {
			return decoded
		}
	}

	log.Debug("undecodable notification data payload, dropping: %s", string(raw))
	return map[string]interface{}{}
}

// Notifications returns the current list, newest first
func (s *BadgeStore) Notifications() []*Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Notification(nil), s.notifications...)
}

// MarkRead marks one notification read, optimistically flipping the local
// flag and reverting on failure, then raises the notification-read signal.
func (s *BadgeStore) MarkRead(ctx context.Context, notificationID int64) error {
	s.mu.Lock()
	var target *Notification
	for _, n := range s.notifications {
		if n.ID == notificationID {
			target = n
			break
		}
	}
	if target == nil {
		s.mu.Unlock()
		return errcode.ErrNotFound
	}
	if target.Read {
		s.mu.Unlock()
		return nil
	}
	target.Read = true
	s.mu.Unlock()

	if err := s.apiClient.MarkNotificationRead(ctx, notificationID); err != nil {
		s.mu.Lock()
		target.Read = false
		s.mu.Unlock()
		return errcode.ErrMarkReadFailed.Wrap(err)
	}

	s.bus.Publish(bus.SignalNotificationRead, notificationID)
	return nil
}

// MarkAllRead marks every notification read on the server, then locally,
// and raises the notification-read signal.
func (s *BadgeStore) MarkAllRead(ctx context.Context) error {
	if err := s.apiClient.MarkAllNotificationsRead(ctx); err != nil {
		return errcode.ErrMarkReadFailed.Wrap(err)
	}

	s.mu.Lock()
	for _, n := range s.notifications {
		n.Read = true
	}
	s.mu.Unlock()

	s.bus.Publish(bus.SignalNotificationRead, int64(0))
	return nil
}

// Delete removes one notification on the server and locally. Deleting an
// unread notification also updates the badge via the read signal.
func (s *BadgeStore) Delete(ctx context.Context, notificationID int64) error {
	if err := s.apiClient.DeleteNotification(ctx, notificationID); err != nil {
		return errcode.ErrDeleteFailed.Wrap(err)
	}

	s.mu.Lock()
	for i, n := range s.notifications {
		if n.ID == notificationID {
			s.notifications = append(s.notifications[:i:i], s.notifications[i+1:]...)
			break
		}
	}
	s.mu.Unlock()

	s.bus.Publish(bus.SignalNotificationRead, notificationID)
	return nil
}
