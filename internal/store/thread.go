package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mbeoliero/kit/log"

	"github.com/mbeoliero/prolinq/internal/api"
	"github.com/mbeoliero/prolinq/internal/bus"
	"github.com/mbeoliero/prolinq/internal/conn"
	"github.com/mbeoliero/prolinq/pkg/errcode"
	"github.com/mbeoliero/prolinq/pkg/idgen"
)

// ThreadAPI is the slice of the REST client the thread store depends on
type ThreadAPI interface {
	GetConversationMessages(ctx context.Context, conversationID int64) ([]*api.Message, error)
	GetAdminReceived(ctx context.Context) ([]*api.AdminMessage, error)
	SendMessage(ctx context.Context, req *api.SendMessageRequest) (*api.Message, error)
	MarkMessageRead(ctx context.Context, messageID int64) error
	MarkAdminMessageRead(ctx context.Context, messageID int64) error
	MarkConversationRead(ctx context.Context, conversationID int64) error
	DeleteMessage(ctx context.Context, messageID int64) error
	DeleteAdminReceived(ctx context.Context, messageID int64) error
	GetUser(ctx context.Context, userID int64) (*api.UserProfile, error)
}

// TypingEmitter sends typing indicators over the socket. Satisfied by
// conn.Manager.
type TypingEmitter interface {
	EmitTyping(receiverID int64, isTyping bool) error
}

// Message is one rendered message of the open thread
type Message struct {
	ID             int64
	SenderID       int64
	ReceiverID     int64
	Content        string
	ReplyToID      *int64
	IsRead         bool
	IsAdminMessage bool
	ClientMsgID    string
	CreatedAt      time.Time
}

// ThreadStore maintains the message list of the currently open
// conversation. Messages render in ascending created_at order regardless of
// whether they arrived over REST or the socket, and each message id appears
// at most once no matter how many paths deliver it.
type ThreadStore struct {
	apiClient ThreadAPI
	bus       *bus.Bus
	emitter   TypingEmitter
	selfID    int64
	highlight time.Duration
	typingTTL time.Duration

	mu          sync.Mutex
	key         *ThreadKey
	counterpart int64
	profile     *api.UserProfile
	messages    []*Message
	replyTo     *Message
	highlighted int64
	hlTimer     *time.Timer
	typing      map[int64]bool
	typingTimer *time.Timer
	generation  uint64
}

// NewThreadStore creates the store and wires its socket subscriptions
func NewThreadStore(apiClient ThreadAPI, b *bus.Bus, emitter TypingEmitter, selfID int64, highlightWindow, typingIdle time.Duration) *ThreadStore {
	s := &ThreadStore{
		apiClient: apiClient,
		bus:       b,
		emitter:   emitter,
		selfID:    selfID,
		highlight: highlightWindow,
		typingTTL: typingIdle,
		typing:    make(map[int64]bool),
	}

	b.On(bus.EventNewMessage, func(payload interface{}) {
		if msg, ok := payload.(*api.Message); ok {
			s.applyIncoming(msg)
		}
	})
	b.On(bus.EventMessageRead, func(payload interface{}) {
		if r, ok := payload.(*conn.MessageReadPayload); ok {
			s.applyReadReceipt(r.MessageID)
		}
	})
	b.On(bus.EventTyping, func(payload interface{}) {
		if t, ok := payload.(*conn.TypingPayload); ok {
			s.applyTyping(t.SenderID, t.IsTyping)
		}
	})
	b.On(bus.EventConnected, func(interface{}) {
		// Typing state across a reconnect is unknowable; reset it.
		s.mu.Lock()
		s.typing = make(map[int64]bool)
		s.mu.Unlock()
	})

	return s
}

// Open loads the history of one conversation. Calling Open again before a
// prior load resolves abandons the stale fetch: its result never renders
// over the newly selected thread.
func (s *ThreadStore) Open(ctx context.Context, key ThreadKey, counterpartID int64) error {
	s.mu.Lock()
	s.generation++
	gen := s.generation
	s.key = &key
	s.counterpart = counterpartID
	s.profile = nil
	s.messages = nil
	s.replyTo = nil
	s.clearHighlightLocked()
	s.mu.Unlock()

	// Header profile; a miss leaves the header on whatever the
	// conversation row already carried.
	go func() {
		fetchCtx := context.Background()
		profile, err := s.apiClient.GetUser(fetchCtx, counterpartID)
		if err != nil {
			log.CtxDebug(fetchCtx, "counterpart profile fetch failed: %v", err)
			return
		}
		s.mu.Lock()
		if s.generation == gen {
			s.profile = profile
		}
		s.mu.Unlock()
	}()

	var loaded []*Message
	if key.IsAdmin() {
		// No two-way admin history endpoint exists; filter the bulk
		// received list down to this admin.
		adminMsgs, err := s.apiClient.GetAdminReceived(ctx)
		if err != nil {
			return errcode.ErrThreadLoadFailed.Wrap(err)
		}
		for _, m := range adminMsgs {
			if m.AdminID != key.ID {
				continue
			}
			loaded = append(loaded, &Message{
				ID:             m.ID,
				SenderID:       m.AdminID,
				ReceiverID:     m.ReceiverID,
				Content:        m.Content,
				IsRead:         m.IsRead,
				IsAdminMessage: true,
				CreatedAt:      m.CreatedAt,
			})
		}
	} else {
		msgs, err := s.apiClient.GetConversationMessages(ctx, key.ID)
		if err != nil {
			return errcode.ErrThreadLoadFailed.Wrap(err)
		}
		for _, m := range msgs {
			loaded = append(loaded, fromWire(m))
		}
	}

	sortMessages(loaded)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation != gen {
		// A newer Open superseded this load
		return nil
	}
	s.messages = loaded
	return nil
}

func fromWire(m *api.Message) *Message {
	return &Message{
		ID:          m.ID,
		SenderID:    m.SenderID,
		ReceiverID:  m.ReceiverID,
		Content:     m.Content,
		ReplyToID:   m.ReplyToID,
		IsRead:      m.IsRead,
		ClientMsgID: m.ClientMsgID,
		CreatedAt:   m.CreatedAt,
	}
}

func sortMessages(msgs []*Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
}

// Send sends a message to the open thread's counterpart. Admin threads are
// read-only: the rejection happens before any network call. The confirmed
// message appends once even when a push copy races the REST response.
func (s *ThreadStore) Send(ctx context.Context, content string) (*Message, error) {
	s.mu.Lock()
	if s.key == nil {
		s.mu.Unlock()
		return nil, errcode.ErrInvalidParam
	}
	if s.key.IsAdmin() {
		s.mu.Unlock()
		return nil, errcode.ErrAdminReadOnly
	}
	receiver := s.counterpart
	gen := s.generation
	var replyToID *int64
	if s.replyTo != nil {
		id := s.replyTo.ID
		replyToID = &id
	}
	s.mu.Unlock()

	clientMsgID, err := idgen.NextID()
	if err != nil {
		return nil, errcode.ErrInternal.Wrap(err)
	}

	confirmed, err := s.apiClient.SendMessage(ctx, &api.SendMessageRequest{
		ReceiverID:  receiver,
		Content:     content,
		ReplyToID:   replyToID,
		ClientMsgID: clientMsgID,
	})
	if err != nil {
		return nil, errcode.ErrSendFailed.Wrap(err)
	}

	msg := fromWire(confirmed)
	if msg.ClientMsgID == "" {
		msg.ClientMsgID = clientMsgID
	}

	s.mu.Lock()
	if s.generation == gen {
		// A thread switched mid-flight keeps the confirmation out of the
		// newly opened thread; the message still exists server-side and
		// arrives with that thread's next load.
		s.insertLocked(msg)
		s.replyTo = nil
	}
	s.mu.Unlock()

	// Best effort: the counterpart stops seeing us as typing
	if emitErr := s.emitter.EmitTyping(receiver, false); emitErr != nil {
		log.CtxDebug(ctx, "typing stop emit failed: %v", emitErr)
	}

	return msg, nil
}

// insertLocked appends msg unless an entry with the same server id or the
// same client message id already exists. Must be called with s.mu held.
func (s *ThreadStore) insertLocked(msg *Message) {
	for _, existing := range s.messages {
		if existing.ID == msg.ID {
			return
		}
		if msg.ClientMsgID != "" && existing.ClientMsgID == msg.ClientMsgID {
			// Push copy of a send we already appended (or vice versa);
			// adopt the server-confirmed fields instead of duplicating.
			*existing = *msg
			return
		}
	}
	s.messages = append(s.messages, msg)
	sortMessages(s.messages)
}

// applyIncoming folds a pushed message into the open thread
func (s *ThreadStore) applyIncoming(wire *api.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.key == nil || s.key.IsAdmin() {
		return
	}
	belongs := (wire.SenderID == s.counterpart && wire.ReceiverID == s.selfID) ||
		(wire.SenderID == s.selfID && wire.ReceiverID == s.counterpart)
	if !belongs {
		return
	}

	msg := fromWire(wire)
	s.insertLocked(msg)

	// A reply draws attention to the message it answers, for a bounded
	// window. An unresolvable reply id simply highlights nothing.
	if msg.ReplyToID != nil {
		for _, existing := range s.messages {
			if existing.ID == *msg.ReplyToID {
				s.setHighlightLocked(existing.ID)
				break
			}
		}
	}
}

// setHighlightLocked must be called with s.mu held
func (s *ThreadStore) setHighlightLocked(id int64) {
	if s.hlTimer != nil {
		s.hlTimer.Stop()
	}
	s.highlighted = id
	s.hlTimer = time.AfterFunc(s.highlight, func() {
		s.mu.Lock()
		if s.highlighted == id {
			s.highlighted = 0
		}
		s.mu.Unlock()
	})
}

// clearHighlightLocked must be called with s.mu held
func (s *ThreadStore) clearHighlightLocked() {
	if s.hlTimer != nil {
		s.hlTimer.Stop()
		s.hlTimer = nil
	}
	s.highlighted = 0
}

// applyReadReceipt marks one of our sent messages as read by the receiver
func (s *ThreadStore) applyReadReceipt(messageID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, msg := range s.messages {
		if msg.ID == messageID {
			msg.IsRead = true
			return
		}
	}
}

// applyTyping records a counterpart's typing state
func (s *ThreadStore) applyTyping(senderID int64, isTyping bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if isTyping {
		s.typing[senderID] = true
	} else {
		delete(s.typing, senderID)
	}
}

// MarkRead marks one message read, routing to the admin or regular endpoint
// by message class, and raises the message-read signal so badges refresh.
func (s *ThreadStore) MarkRead(ctx context.Context, messageID int64) error {
	s.mu.Lock()
	var target *Message
	for _, msg := range s.messages {
		if msg.ID == messageID {
			target = msg
			break
		}
	}
	s.mu.Unlock()

	if target == nil {
		return errcode.ErrNotFound
	}
	if target.IsRead {
		return nil
	}

	var err error
	if target.IsAdminMessage {
		err = s.apiClient.MarkAdminMessageRead(ctx, messageID)
	} else {
		err = s.apiClient.MarkMessageRead(ctx, messageID)
	}
	if err != nil {
		return errcode.ErrMarkReadFailed.Wrap(err)
	}

	s.mu.Lock()
	target.IsRead = true
	s.mu.Unlock()

	s.bus.Publish(bus.SignalMessageRead, messageID)
	return nil
}

// MarkThreadRead marks every unread message of the open thread as read.
// Admin threads have no bulk endpoint, so each message is marked
// individually.
func (s *ThreadStore) MarkThreadRead(ctx context.Context) error {
	s.mu.Lock()
	if s.key == nil {
		s.mu.Unlock()
		return errcode.ErrInvalidParam
	}
	key := *s.key
	var unread []*Message
	for _, msg := range s.messages {
		if !msg.IsRead && msg.SenderID != s.selfID {
			unread = append(unread, msg)
		}
	}
	s.mu.Unlock()

	if key.IsAdmin() {
		for _, msg := range unread {
			if err := s.apiClient.MarkAdminMessageRead(ctx, msg.ID); err != nil {
				return errcode.ErrMarkReadFailed.Wrap(err)
			}
			s.mu.Lock()
			msg.IsRead = true
			s.mu.Unlock()
		}
	} else {
		if err := s.apiClient.MarkConversationRead(ctx, key.ID); err != nil {
			return errcode.ErrMarkReadFailed.Wrap(err)
		}
		s.mu.Lock()
		for _, msg := range unread {
			msg.IsRead = true
		}
		s.mu.Unlock()
	}

	s.bus.Publish(bus.SignalMessageRead, int64(0))
	return nil
}

// Delete removes one message, routing by message class, and drops it
// locally on success.
func (s *ThreadStore) Delete(ctx context.Context, messageID int64) error {
	s.mu.Lock()
	var target *Message
	for _, msg := range s.messages {
		if msg.ID == messageID {
			target = msg
			break
		}
	}
	s.mu.Unlock()

	if target == nil {
		return errcode.ErrNotFound
	}

	var err error
	if target.IsAdminMessage {
		err = s.apiClient.DeleteAdminReceived(ctx, messageID)
	} else {
		err = s.apiClient.DeleteMessage(ctx, messageID)
	}
	if err != nil {
		return errcode.ErrDeleteFailed.Wrap(err)
	}

	s.mu.Lock()
	for i, msg := range s.messages {
		if msg.ID == messageID {
			s.messages = append(s.messages[:i:i], s.messages[i+1:]...)
			break
		}
	}
	s.mu.Unlock()
	return nil
}

// Reply sets the in-progress reply context; the next Send attaches the
// reply id.
func (s *ThreadStore) Reply(messageID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, msg := range s.messages {
		if msg.ID == messageID {
			s.replyTo = msg
			return nil
		}
	}
	return errcode.ErrNotFound
}

// CancelReply clears the reply context
func (s *ThreadStore) CancelReply() {
	s.mu.Lock()
	s.replyTo = nil
	s.mu.Unlock()
}

// ReplyingTo returns the message currently being replied to, if any
func (s *ThreadStore) ReplyingTo() *Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.replyTo
}

// ReplyPreview resolves a message's reply target within the loaded window.
// Returns nil when the target is not loaded; the caller hides the preview.
func (s *ThreadStore) ReplyPreview(msg *Message) *Message {
	if msg.ReplyToID == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.messages {
		if existing.ID == *msg.ReplyToID {
			return existing
		}
	}
	return nil
}

// SetTyping emits a typing indicator for the open thread and schedules the
// automatic stop after the idle timeout.
func (s *ThreadStore) SetTyping() error {
	s.mu.Lock()
	if s.key == nil || s.key.IsAdmin() {
		s.mu.Unlock()
		return errcode.ErrInvalidParam
	}
	receiver := s.counterpart
	if s.typingTimer != nil {
		s.typingTimer.Stop()
	}
	s.typingTimer = time.AfterFunc(s.typingTTL, func() {
		if err := s.emitter.EmitTyping(receiver, false); err != nil {
			log.Debug("typing stop emit failed: %v", err)
		}
	})
	s.mu.Unlock()

	return s.emitter.EmitTyping(receiver, true)
}

// TypingCounterpart reports whether the open thread's counterpart is typing
func (s *ThreadStore) TypingCounterpart() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.typing[s.counterpart]
}

// Messages returns the rendered message list, ascending by created_at
func (s *ThreadStore) Messages() []*Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Message(nil), s.messages...)
}

// HighlightedMessageID returns the id currently highlighted by a reply
// arrival, 0 when none.
func (s *ThreadStore) HighlightedMessageID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.highlighted
}

// Counterpart returns the open thread counterpart's profile, nil until the
// profile fetch resolves.
func (s *ThreadStore) Counterpart() *api.UserProfile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profile
}

// ActiveKey returns the open thread's key, nil when no thread is open
func (s *ThreadStore) ActiveKey() *ThreadKey {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.key == nil {
		return nil
	}
	key := *s.key
	return &key
}
