package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/npezzotti/go-teamchat/internal/stats"
	"github.com/npezzotti/go-teamchat/internal/store"
	"github.com/npezzotti/go-teamchat/internal/types"
)

const (
	statActiveConnections = "ActiveConnections"
	statActiveRooms       = "ActiveRooms"
	statMessagesSent      = "MessagesSent"
	statEventsPublished   = "EventsPublished"
)

// ChatServer owns the live side of the system: the presence router and
// the components that mutate delivery state, thread counts and
// invitations. It is created at process start and torn down once at
// shutdown; no state lives in package globals.
type ChatServer struct {
	log   *log.Logger
	db    store.ChatRepository
	stats stats.StatsProvider

	router        *PresenceRouter
	delivery      *DeliveryTracker
	threads       *ThreadAggregator
	notifications *NotificationDispatcher

	sessionsLock sync.Mutex
	sessions     map[*Session]struct{}
	wg           sync.WaitGroup
}

func NewChatServer(logger *log.Logger, db store.ChatRepository, su stats.StatsProvider) (*ChatServer, error) {
	su.RegisterMetric(statActiveConnections)
	su.RegisterMetric(statActiveRooms)
	su.RegisterMetric(statMessagesSent)
	su.RegisterMetric(statEventsPublished)

	router := NewPresenceRouter(logger, db, su)

	return &ChatServer{
		log:           logger,
		db:            db,
		stats:         su,
		router:        router,
		delivery:      NewDeliveryTracker(logger, db, router),
		threads:       NewThreadAggregator(logger, db, router),
		notifications: NewNotificationDispatcher(logger, db, router),
		sessions:      make(map[*Session]struct{}),
	}, nil
}

func (cs *ChatServer) Router() *PresenceRouter                { return cs.router }
func (cs *ChatServer) Delivery() *DeliveryTracker             { return cs.delivery }
func (cs *ChatServer) Threads() *ThreadAggregator             { return cs.threads }
func (cs *ChatServer) Notifications() *NotificationDispatcher { return cs.notifications }

// RegisterSession connects the session to the router (subscribing its
// personal room and a snapshot of its channel rooms) and starts tracking
// it for shutdown.
func (cs *ChatServer) RegisterSession(s *Session) error {
	if err := cs.router.Connect(s); err != nil {
		return fmt.Errorf("connect session: %w", err)
	}

	cs.sessionsLock.Lock()
	cs.sessions[s] = struct{}{}
	cs.sessionsLock.Unlock()

	cs.wg.Add(1)
	cs.stats.Incr(statActiveConnections)
	cs.log.Printf("registered session for %q", s.user.Username)
	return nil
}

func (cs *ChatServer) deregisterSession(s *Session) {
	cs.sessionsLock.Lock()
	_, ok := cs.sessions[s]
	delete(cs.sessions, s)
	cs.sessionsLock.Unlock()

	if !ok {
		return
	}

	cs.router.Disconnect(s)
	cs.stats.Decr(statActiveConnections)
	cs.wg.Done()
	cs.log.Printf("deregistered session for %q", s.user.Username)
}

// SendMessage persists a top-level message and publishes it to the
// channel room. The sender must be a channel member.
func (cs *ChatServer) SendMessage(channelId, senderId, content, messageType string) (types.Message, error) {
	channel, err := cs.db.GetChannel(channelId)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.Message{}, fmt.Errorf("channel %q: %w", channelId, ErrNotFound)
		}
		return types.Message{}, fmt.Errorf("get channel: %w", err)
	}
	if !channel.HasMember(senderId) {
		return types.Message{}, fmt.Errorf("user %q not in channel %q: %w", senderId, channelId, ErrPermission)
	}

	if messageType == "" {
		messageType = types.MessageTypeText
	}

	ts := Now()
	msg, err := cs.db.InsertMessage(types.Message{
		ChannelId:      channelId,
		SenderId:       senderId,
		Content:        content,
		MessageType:    messageType,
		CreatedAt:      ts,
		DeliveryStatus: types.NewDeliveryStatus(ts),
	})
	if err != nil {
		return types.Message{}, fmt.Errorf("insert message: %w", err)
	}

	if _, err := cs.db.UpdateChannel(channelId, func(c *types.Channel) error {
		c.LastMessageAt = &msg.CreatedAt
		return nil
	}); err != nil {
		cs.log.Printf("update last_message_at on %q: %v", channelId, err)
	}

	cs.router.Publish(ChannelRoom(channelId), &ServerEvent{
		BaseEvent:      BaseEvent{Timestamp: Now()},
		MessageCreated: &msg,
	})
	cs.stats.Incr(statMessagesSent)

	return msg, nil
}

// EditMessage updates a message's content. Only the sender may edit.
func (cs *ChatServer) EditMessage(messageId, userId, content string) (types.Message, error) {
	cur, err := cs.db.GetMessage(messageId)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.Message{}, fmt.Errorf("message %q: %w", messageId, ErrNotFound)
		}
		return types.Message{}, fmt.Errorf("get message: %w", err)
	}
	if cur.SenderId != userId {
		return types.Message{}, fmt.Errorf("user %q is not the sender: %w", userId, ErrPermission)
	}

	msg, err := cs.db.UpdateMessage(messageId, func(m *types.Message) error {
		m.Content = content
		return nil
	})
	if err != nil {
		return types.Message{}, fmt.Errorf("update message: %w", err)
	}

	evt := &ServerEvent{
		BaseEvent:      BaseEvent{Timestamp: Now()},
		MessageUpdated: &msg,
	}
	cs.router.Publish(ChannelRoom(msg.ChannelId), evt)
	if msg.ParentId != "" {
		cs.router.Publish(ThreadRoom(msg.ParentId), evt)
	}

	return msg, nil
}

// DeleteMessage removes a message. Only the sender may delete. Deleting
// a reply does not touch the parent's cached reply_count; the count
// corrects itself on the next thread read.
func (cs *ChatServer) DeleteMessage(messageId, userId string) error {
	msg, err := cs.db.GetMessage(messageId)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("message %q: %w", messageId, ErrNotFound)
		}
		return fmt.Errorf("get message: %w", err)
	}
	if msg.SenderId != userId {
		return fmt.Errorf("user %q is not the sender: %w", userId, ErrPermission)
	}

	if err := cs.db.DeleteMessage(messageId); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}

	evt := &ServerEvent{
		BaseEvent: BaseEvent{Timestamp: Now()},
		MessageDeleted: &MessageDeleted{
			MessageId: messageId,
			ChannelId: msg.ChannelId,
		},
	}
	cs.router.Publish(ChannelRoom(msg.ChannelId), evt)
	if msg.ParentId != "" {
		cs.router.Publish(ThreadRoom(msg.ParentId), evt)
	}

	return nil
}

// ListChannelMessages returns a channel page for a member, newest first,
// recounting each message's replies before returning.
func (cs *ChatServer) ListChannelMessages(channelId, userId string, before time.Time, limit int) ([]types.Message, error) {
	isMember, err := cs.db.IsMember(channelId, userId)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("channel %q: %w", channelId, ErrNotFound)
		}
		return nil, fmt.Errorf("check membership: %w", err)
	}
	if !isMember {
		return nil, fmt.Errorf("user %q not in channel %q: %w", userId, channelId, ErrPermission)
	}

	messages, err := cs.db.ListChannelMessages(channelId, before, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	if err := cs.threads.RefreshCounts(messages); err != nil {
		return nil, err
	}

	return messages, nil
}

// UpdateChannel applies metadata changes and publishes the updated
// channel to its room. Only members may update.
func (cs *ChatServer) UpdateChannel(channelId, userId string, mutate func(*types.Channel) error) (types.Channel, error) {
	isMember, err := cs.db.IsMember(channelId, userId)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.Channel{}, fmt.Errorf("channel %q: %w", channelId, ErrNotFound)
		}
		return types.Channel{}, fmt.Errorf("check membership: %w", err)
	}
	if !isMember {
		return types.Channel{}, fmt.Errorf("user %q not in channel %q: %w", userId, channelId, ErrPermission)
	}

	channel, err := cs.db.UpdateChannel(channelId, mutate)
	if err != nil {
		return types.Channel{}, fmt.Errorf("update channel: %w", err)
	}

	cs.router.Publish(ChannelRoom(channelId), &ServerEvent{
		BaseEvent:      BaseEvent{Timestamp: Now()},
		ChannelUpdated: &channel,
	})

	return channel, nil
}

// Typing relays a typing indicator to the channel room, skipping the
// originating session.
func (cs *ChatServer) Typing(sess *Session, channelId string, stopped bool) {
	change := &TypingChange{User: sess.user, ChannelId: channelId}
	evt := &ServerEvent{
		BaseEvent: BaseEvent{Timestamp: Now()},
		skip:      sess,
	}
	if stopped {
		evt.UserStopTyping = change
	} else {
		evt.UserTyping = change
	}

	cs.router.Publish(ChannelRoom(channelId), evt)
}

// Shutdown stops every live session and waits for their teardown, or
// returns the context's error if that takes too long.
func (cs *ChatServer) Shutdown(ctx context.Context) error {
	cs.sessionsLock.Lock()
	for s := range cs.sessions {
		s.stopSession()
	}
	cs.sessionsLock.Unlock()

	done := make(chan struct{})
	go func() {
		cs.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
