package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mbeoliero/prolinq/internal/api"
	"github.com/mbeoliero/prolinq/internal/bus"
	"github.com/mbeoliero/prolinq/internal/conn"
	"github.com/mbeoliero/prolinq/pkg/errcode"
)

type fakeThreadAPI struct {
	mu           sync.Mutex
	messages     []*api.Message
	adminMsgs    []*api.AdminMessage
	loadErr      error
	sendErr      error
	sendCalls    int
	lastSend     *api.SendMessageRequest
	nextID       int64
	markedRead   []int64
	adminMarked  []int64
	convMarked   []int64
	deleted      []int64
	adminDeleted []int64
	loadGate     chan struct{}
	loadStarted  chan struct{}
	sendGate     chan struct{}
	sendStarted  chan struct{}
	userErr      error
}

func (f *fakeThreadAPI) GetConversationMessages(ctx context.Context, conversationID int64) ([]*api.Message, error) {
	f.mu.Lock()
	gate := f.loadGate
	started := f.loadStarted
	err := f.loadErr
	msgs := append([]*api.Message(nil), f.messages...)
	f.mu.Unlock()
	if gate != nil {
		if started != nil {
			close(started)
		}
		<-gate
	}
	if err != nil {
		return nil, err
	}
	return msgs, nil
}

func (f *fakeThreadAPI) GetAdminReceived(ctx context.Context) ([]*api.AdminMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	return append([]*api.AdminMessage(nil), f.adminMsgs...), nil
}

func (f *fakeThreadAPI) SendMessage(ctx context.Context, req *api.SendMessageRequest) (*api.Message, error) {
	f.mu.Lock()
	f.sendCalls++
	f.lastSend = req
	gate := f.sendGate
	started := f.sendStarted
	err := f.sendErr
	f.nextID++
	id := f.nextID + 100
	f.mu.Unlock()
	if gate != nil {
		if started != nil {
			close(started)
		}
		<-gate
	}
	if err != nil {
		return nil, err
	}
	return &api.Message{
		ID:          id,
		SenderID:    1,
		ReceiverID:  req.ReceiverID,
		Content:     req.Content,
		ReplyToID:   req.ReplyToID,
		ClientMsgID: req.ClientMsgID,
		CreatedAt:   time.Now(),
	}, nil
}

func (f *fakeThreadAPI) MarkMessageRead(ctx context.Context, messageID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markedRead = append(f.markedRead, messageID)
	return nil
}

func (f *fakeThreadAPI) MarkAdminMessageRead(ctx context.Context, messageID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.adminMarked = append(f.adminMarked, messageID)
	return nil
}

func (f *fakeThreadAPI) MarkConversationRead(ctx context.Context, conversationID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.convMarked = append(f.convMarked, conversationID)
	return nil
}

func (f *fakeThreadAPI) DeleteMessage(ctx context.Context, messageID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, messageID)
	return nil
}

func (f *fakeThreadAPI) DeleteAdminReceived(ctx context.Context, messageID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.adminDeleted = append(f.adminDeleted, messageID)
	return nil
}

func (f *fakeThreadAPI) GetUser(ctx context.Context, userID int64) (*api.UserProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.userErr != nil {
		return nil, f.userErr
	}
	return &api.UserProfile{ID: userID, FullName: "Counterpart"}, nil
}

type fakeEmitter struct {
	mu    sync.Mutex
	calls []bool
	err   error
}

func (f *fakeEmitter) EmitTyping(receiverID int64, isTyping bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, isTyping)
	return f.err
}

func (f *fakeEmitter) states() []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]bool(nil), f.calls...)
}

func wireMsg(id, sender, receiver int64, content string, minutesAgo int) *api.Message {
	return &api.Message{
		ID: id, SenderID: sender, ReceiverID: receiver,
		Content: content, CreatedAt: at(minutesAgo),
	}
}

func newTestThreadStore(fake *fakeThreadAPI, b *bus.Bus) *ThreadStore {
	return NewThreadStore(fake, b, &fakeEmitter{}, 1, 50*time.Millisecond, 20*time.Millisecond)
}

func TestOpenOrdersByCreatedAt(t *testing.T) {
	fake := &fakeThreadAPI{messages: []*api.Message{
		wireMsg(3, 2, 1, "third", 1),
		wireMsg(1, 1, 2, "first", 30),
		wireMsg(2, 2, 1, "second", 10),
	}}

	s := newTestThreadStore(fake, bus.New())
	require.NoError(t, s.Open(context.Background(), RegularKey(5), 2))

	msgs := s.Messages()
	require.Len(t, msgs, 3)
	require.Equal(t, "first", msgs[0].Content)
	require.Equal(t, "second", msgs[1].Content)
	require.Equal(t, "third", msgs[2].Content)
}

func TestOpenAdminFiltersByAdmin(t *testing.T) {
	fake := &fakeThreadAPI{adminMsgs: []*api.AdminMessage{
		{ID: 1, AdminID: 100, ReceiverID: 1, Content: "from 100", CreatedAt: at(10)},
		{ID: 2, AdminID: 200, ReceiverID: 1, Content: "from 200", CreatedAt: at(5)},
		{ID: 3, AdminID: 100, ReceiverID: 1, Content: "more from 100", CreatedAt: at(1)},
	}}

	s := newTestThreadStore(fake, bus.New())
	require.NoError(t, s.Open(context.Background(), AdminKey(100), 100))

	msgs := s.Messages()
	require.Len(t, msgs, 2)
	require.True(t, msgs[0].IsAdminMessage)
	require.Equal(t, "from 100", msgs[0].Content)
	require.Equal(t, "more from 100", msgs[1].Content)
}

func TestOpenResolvesCounterpartProfile(t *testing.T) {
	s := newTestThreadStore(&fakeThreadAPI{}, bus.New())
	require.NoError(t, s.Open(context.Background(), RegularKey(5), 2))

	require.Eventually(t, func() bool {
		p := s.Counterpart()
		return p != nil && p.ID == 2
	}, time.Second, 5*time.Millisecond)
}

func TestOpenProfileFailureNonFatal(t *testing.T) {
	fake := &fakeThreadAPI{userErr: errors.New("backend down")}
	s := newTestThreadStore(fake, bus.New())

	require.NoError(t, s.Open(context.Background(), RegularKey(5), 2))
	require.Nil(t, s.Counterpart())
}

func TestOpenLoadFailure(t *testing.T) {
	fake := &fakeThreadAPI{loadErr: errors.New("backend down")}
	s := newTestThreadStore(fake, bus.New())

	err := s.Open(context.Background(), RegularKey(5), 2)
	require.ErrorIs(t, err, errcode.ErrThreadLoadFailed)
}

func TestStaleOpenDiscarded(t *testing.T) {
	gate := make(chan struct{})
	started := make(chan struct{})
	slow := &fakeThreadAPI{
		messages:    []*api.Message{wireMsg(1, 2, 1, "stale history", 10)},
		loadGate:    gate,
		loadStarted: started,
	}

	s := newTestThreadStore(slow, bus.New())

	done := make(chan error, 1)
	go func() { done <- s.Open(context.Background(), RegularKey(5), 2) }()
	<-started

	// Switch threads while the first load is in flight
	slow.mu.Lock()
	slow.loadGate = nil
	slow.messages = []*api.Message{wireMsg(2, 3, 1, "fresh history", 1)}
	slow.mu.Unlock()
	require.NoError(t, s.Open(context.Background(), RegularKey(6), 3))

	close(gate)
	require.NoError(t, <-done)

	msgs := s.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "fresh history", msgs[0].Content)
	require.Equal(t, RegularKey(6), *s.ActiveKey())
}

func TestPushDuplicatesIgnored(t *testing.T) {
	fake := &fakeThreadAPI{messages: []*api.Message{
		wireMsg(1, 2, 1, "one", 30),
		wireMsg(2, 2, 1, "two", 20),
		wireMsg(3, 2, 1, "three", 10),
	}}
	b := bus.New()

	s := newTestThreadStore(fake, b)
	require.NoError(t, s.Open(context.Background(), RegularKey(5), 2))

	b.Publish(bus.EventNewMessage, wireMsg(2, 2, 1, "two", 20))

	msgs := s.Messages()
	require.Len(t, msgs, 3)
	require.Equal(t, []int64{1, 2, 3}, []int64{msgs[0].ID, msgs[1].ID, msgs[2].ID})
}

func TestPushForOtherThreadIgnored(t *testing.T) {
	fake := &fakeThreadAPI{}
	b := bus.New()

	s := newTestThreadStore(fake, b)
	require.NoError(t, s.Open(context.Background(), RegularKey(5), 2))

	b.Publish(bus.EventNewMessage, wireMsg(9, 7, 1, "different sender", 1))
	require.Empty(t, s.Messages())
}

func TestSendAppendsOnce(t *testing.T) {
	fake := &fakeThreadAPI{}
	b := bus.New()

	s := newTestThreadStore(fake, b)
	require.NoError(t, s.Open(context.Background(), RegularKey(5), 2))

	sent, err := s.Send(context.Background(), "hello")
	require.NoError(t, err)
	require.NotEmpty(t, sent.ClientMsgID)
	require.Len(t, s.Messages(), 1)

	// The push copy of our own send races the REST confirmation
	b.Publish(bus.EventNewMessage, &api.Message{
		ID: sent.ID, SenderID: 1, ReceiverID: 2,
		Content: "hello", ClientMsgID: sent.ClientMsgID, CreatedAt: sent.CreatedAt,
	})
	require.Len(t, s.Messages(), 1)
}

func TestStaleSendNotRenderedAfterThreadSwitch(t *testing.T) {
	gate := make(chan struct{})
	started := make(chan struct{})
	fake := &fakeThreadAPI{sendGate: gate, sendStarted: started}

	s := newTestThreadStore(fake, bus.New())
	require.NoError(t, s.Open(context.Background(), RegularKey(5), 2))

	done := make(chan error, 1)
	go func() {
		_, err := s.Send(context.Background(), "meant for counterpart 2")
		done <- err
	}()
	<-started

	// Switch threads while the send confirmation is in flight
	fake.mu.Lock()
	fake.sendGate = nil
	fake.sendStarted = nil
	fake.mu.Unlock()
	require.NoError(t, s.Open(context.Background(), RegularKey(6), 3))

	close(gate)
	require.NoError(t, <-done)

	require.Empty(t, s.Messages())
	require.Equal(t, RegularKey(6), *s.ActiveKey())
}

func TestSendToAdminRejectedBeforeNetwork(t *testing.T) {
	fake := &fakeThreadAPI{adminMsgs: []*api.AdminMessage{
		{ID: 1, AdminID: 100, ReceiverID: 1, Content: "notice", CreatedAt: at(1)},
	}}

	s := newTestThreadStore(fake, bus.New())
	require.NoError(t, s.Open(context.Background(), AdminKey(100), 100))

	_, err := s.Send(context.Background(), "can I reply?")
	require.ErrorIs(t, err, errcode.ErrAdminReadOnly)
	require.Equal(t, 0, fake.sendCalls)
}

func TestSendWithoutOpenThread(t *testing.T) {
	s := newTestThreadStore(&fakeThreadAPI{}, bus.New())
	_, err := s.Send(context.Background(), "hello")
	require.ErrorIs(t, err, errcode.ErrInvalidParam)
}

func TestSendFailureLeavesThreadUntouched(t *testing.T) {
	fake := &fakeThreadAPI{sendErr: errors.New("backend down")}

	s := newTestThreadStore(fake, bus.New())
	require.NoError(t, s.Open(context.Background(), RegularKey(5), 2))

	_, err := s.Send(context.Background(), "hello")
	require.ErrorIs(t, err, errcode.ErrSendFailed)
	require.Empty(t, s.Messages())
}

func TestReplyAttachesAndClears(t *testing.T) {
	fake := &fakeThreadAPI{messages: []*api.Message{wireMsg(7, 2, 1, "question", 5)}}

	s := newTestThreadStore(fake, bus.New())
	require.NoError(t, s.Open(context.Background(), RegularKey(5), 2))

	require.NoError(t, s.Reply(7))
	require.Equal(t, int64(7), s.ReplyingTo().ID)

	sent, err := s.Send(context.Background(), "answer")
	require.NoError(t, err)
	require.NotNil(t, sent.ReplyToID)
	require.Equal(t, int64(7), *sent.ReplyToID)
	require.Nil(t, s.ReplyingTo())
}

func TestReplyToUnknownMessage(t *testing.T) {
	s := newTestThreadStore(&fakeThreadAPI{}, bus.New())
	require.NoError(t, s.Open(context.Background(), RegularKey(5), 2))
	require.ErrorIs(t, s.Reply(99), errcode.ErrNotFound)
}

func TestReplyPreviewResolvesWithinWindow(t *testing.T) {
	fake := &fakeThreadAPI{messages: []*api.Message{wireMsg(7, 2, 1, "question", 5)}}

	s := newTestThreadStore(fake, bus.New())
	require.NoError(t, s.Open(context.Background(), RegularKey(5), 2))

	unknown := int64(99)
	require.Nil(t, s.ReplyPreview(&Message{ReplyToID: &unknown}))

	known := int64(7)
	preview := s.ReplyPreview(&Message{ReplyToID: &known})
	require.NotNil(t, preview)
	require.Equal(t, "question", preview.Content)
}

func TestIncomingReplyHighlights(t *testing.T) {
	fake := &fakeThreadAPI{messages: []*api.Message{wireMsg(7, 1, 2, "question", 5)}}
	b := bus.New()

	s := newTestThreadStore(fake, b)
	require.NoError(t, s.Open(context.Background(), RegularKey(5), 2))

	replyTo := int64(7)
	push := wireMsg(8, 2, 1, "answer", 0)
	push.ReplyToID = &replyTo
	b.Publish(bus.EventNewMessage, push)

	require.Equal(t, int64(7), s.HighlightedMessageID())

	// The highlight clears after its window
	require.Eventually(t, func() bool { return s.HighlightedMessageID() == 0 },
		time.Second, 5*time.Millisecond)
}

func TestReadReceiptMarksMessage(t *testing.T) {
	fake := &fakeThreadAPI{messages: []*api.Message{wireMsg(7, 1, 2, "sent by me", 5)}}
	b := bus.New()

	s := newTestThreadStore(fake, b)
	require.NoError(t, s.Open(context.Background(), RegularKey(5), 2))
	require.False(t, s.Messages()[0].IsRead)

	b.Publish(bus.EventMessageRead, &conn.MessageReadPayload{MessageID: 7})
	require.True(t, s.Messages()[0].IsRead)
}

func TestMarkReadRoutesByMessageClass(t *testing.T) {
	fake := &fakeThreadAPI{adminMsgs: []*api.AdminMessage{
		{ID: 4, AdminID: 100, ReceiverID: 1, Content: "notice", CreatedAt: at(1)},
	}}
	b := bus.New()
	signals := 0
	b.On(bus.SignalMessageRead, func(interface{}) { signals++ })

	s := newTestThreadStore(fake, b)
	require.NoError(t, s.Open(context.Background(), AdminKey(100), 100))

	require.NoError(t, s.MarkRead(context.Background(), 4))
	require.Equal(t, []int64{4}, fake.adminMarked)
	require.Empty(t, fake.markedRead)
	require.Equal(t, 1, signals)

	// Already-read messages skip the round trip
	require.NoError(t, s.MarkRead(context.Background(), 4))
	require.Len(t, fake.adminMarked, 1)
	require.Equal(t, 1, signals)
}

func TestMarkThreadReadRegularUsesBulkEndpoint(t *testing.T) {
	fake := &fakeThreadAPI{messages: []*api.Message{
		wireMsg(1, 2, 1, "one", 10),
		wireMsg(2, 2, 1, "two", 5),
		wireMsg(3, 1, 2, "mine", 1),
	}}

	s := newTestThreadStore(fake, bus.New())
	require.NoError(t, s.Open(context.Background(), RegularKey(5), 2))

	require.NoError(t, s.MarkThreadRead(context.Background()))
	require.Equal(t, []int64{5}, fake.convMarked)

	msgs := s.Messages()
	require.True(t, msgs[0].IsRead)
	require.True(t, msgs[1].IsRead)
	require.False(t, msgs[2].IsRead)
}

func TestMarkThreadReadAdminMarksEach(t *testing.T) {
	fake := &fakeThreadAPI{adminMsgs: []*api.AdminMessage{
		{ID: 4, AdminID: 100, ReceiverID: 1, Content: "a", CreatedAt: at(2)},
		{ID: 5, AdminID: 100, ReceiverID: 1, Content: "b", IsRead: true, CreatedAt: at(1)},
		{ID: 6, AdminID: 100, ReceiverID: 1, Content: "c", CreatedAt: at(0)},
	}}

	s := newTestThreadStore(fake, bus.New())
	require.NoError(t, s.Open(context.Background(), AdminKey(100), 100))

	require.NoError(t, s.MarkThreadRead(context.Background()))
	require.ElementsMatch(t, []int64{4, 6}, fake.adminMarked)
	require.Empty(t, fake.convMarked)
}

func TestDeleteRoutesByMessageClass(t *testing.T) {
	fake := &fakeThreadAPI{
		messages: []*api.Message{wireMsg(1, 2, 1, "one", 10)},
	}

	s := newTestThreadStore(fake, bus.New())
	require.NoError(t, s.Open(context.Background(), RegularKey(5), 2))

	require.NoError(t, s.Delete(context.Background(), 1))
	require.Equal(t, []int64{1}, fake.deleted)
	require.Empty(t, s.Messages())

	require.ErrorIs(t, s.Delete(context.Background(), 1), errcode.ErrNotFound)
}

func TestTypingIndicatorLifecycle(t *testing.T) {
	fake := &fakeThreadAPI{}
	emitter := &fakeEmitter{}
	b := bus.New()

	s := NewThreadStore(fake, b, emitter, 1, 50*time.Millisecond, 20*time.Millisecond)
	require.NoError(t, s.Open(context.Background(), RegularKey(5), 2))

	require.NoError(t, s.SetTyping())
	require.Equal(t, []bool{true}, emitter.states())

	// The stop fires automatically after the idle timeout
	require.Eventually(t, func() bool {
		states := emitter.states()
		return len(states) == 2 && !states[1]
	}, time.Second, 5*time.Millisecond)
}

func TestCounterpartTypingClearsOnReconnect(t *testing.T) {
	b := bus.New()
	s := newTestThreadStore(&fakeThreadAPI{}, b)
	require.NoError(t, s.Open(context.Background(), RegularKey(5), 2))

	b.Publish(bus.EventTyping, &conn.TypingPayload{SenderID: 2, IsTyping: true})
	require.True(t, s.TypingCounterpart())

	b.Publish(bus.EventTyping, &conn.TypingPayload{SenderID: 2, IsTyping: false})
	require.False(t, s.TypingCounterpart())

	b.Publish(bus.EventTyping, &conn.TypingPayload{SenderID: 2, IsTyping: true})
	b.Publish(bus.EventConnected, "websocket")
	require.False(t, s.TypingCounterpart())
}
