package server

import (
	"fmt"
	"log"
	"sync"

	"github.com/npezzotti/go-teamchat/internal/stats"
	"github.com/npezzotti/go-teamchat/internal/store"
)

// RoomKind distinguishes the three broadcast namespaces. Keeping the
// kind explicit prevents a channel id and a message id from colliding in
// one flat key space.
type RoomKind int

const (
	RoomUser RoomKind = iota
	RoomChannel
	RoomThread
)

// RoomKey identifies a broadcast group. Rooms have no state of their
// own: a room exists exactly while at least one session is subscribed.
type RoomKey struct {
	kind RoomKind
	id   string
}

func UserRoom(userId string) RoomKey       { return RoomKey{kind: RoomUser, id: userId} }
func ChannelRoom(channelId string) RoomKey { return RoomKey{kind: RoomChannel, id: channelId} }
func ThreadRoom(messageId string) RoomKey  { return RoomKey{kind: RoomThread, id: messageId} }

func (k RoomKey) String() string {
	switch k.kind {
	case RoomUser:
		return "user:" + k.id
	case RoomChannel:
		return "channel:" + k.id
	case RoomThread:
		return "thread:" + k.id
	default:
		return fmt.Sprintf("unknown(%d):%s", k.kind, k.id)
	}
}

// PresenceRouter owns the mapping between live sessions and the rooms
// they are subscribed to, and routes outbound events to the sessions
// currently in a room. Delivery is at-most-once: publishing to a room
// with no subscribers is a silent drop, there is no replay.
type PresenceRouter struct {
	log   *log.Logger
	db    store.ChatRepository
	stats stats.StatsProvider

	mu       sync.Mutex
	rooms    map[RoomKey]map[*Session]struct{}
	sessions map[*Session]map[RoomKey]struct{}
}

func NewPresenceRouter(logger *log.Logger, db store.ChatRepository, su stats.StatsProvider) *PresenceRouter {
	return &PresenceRouter{
		log:      logger,
		db:       db,
		stats:    su,
		rooms:    make(map[RoomKey]map[*Session]struct{}),
		sessions: make(map[*Session]map[RoomKey]struct{}),
	}
}

// Connect registers a session, subscribing it to its personal room and
// to the channel rooms the membership store reports at this instant.
// The snapshot is not tracked afterwards: membership changes require an
// explicit Subscribe or Unsubscribe.
func (pr *PresenceRouter) Connect(sess *Session) error {
	channels, err := pr.db.ListUserChannels(sess.user.Id)
	if err != nil {
		return fmt.Errorf("list user channels: %w", err)
	}

	pr.Subscribe(sess, UserRoom(sess.user.Id))
	for _, ch := range channels {
		pr.Subscribe(sess, ChannelRoom(ch.Id))
	}

	return nil
}

// Disconnect removes the session from every room it holds.
func (pr *PresenceRouter) Disconnect(sess *Session) {
	pr.mu.Lock()
	defer pr.mu.Unlock()

	for room := range pr.sessions[sess] {
		pr.leaveLocked(sess, room)
	}
	delete(pr.sessions, sess)
}

// Subscribe adds the session to a room. Duplicate subscribes are no-ops.
func (pr *PresenceRouter) Subscribe(sess *Session, room RoomKey) {
	pr.mu.Lock()
	defer pr.mu.Unlock()

	if pr.rooms[room] == nil {
		pr.rooms[room] = make(map[*Session]struct{})
		pr.stats.Incr(statActiveRooms)
	}
	pr.rooms[room][sess] = struct{}{}

	if pr.sessions[sess] == nil {
		pr.sessions[sess] = make(map[RoomKey]struct{})
	}
	pr.sessions[sess][room] = struct{}{}
}

// Unsubscribe removes the session from a room. Leaving a room the
// session never joined is a no-op so duplicate leave events are
// harmless.
func (pr *PresenceRouter) Unsubscribe(sess *Session, room RoomKey) {
	pr.mu.Lock()
	defer pr.mu.Unlock()

	pr.leaveLocked(sess, room)
	if subs := pr.sessions[sess]; subs != nil {
		delete(subs, room)
	}
}

func (pr *PresenceRouter) leaveLocked(sess *Session, room RoomKey) {
	members, ok := pr.rooms[room]
	if !ok {
		return
	}

	delete(members, sess)
	if len(members) == 0 {
		delete(pr.rooms, room)
		pr.stats.Decr(statActiveRooms)
	}
}

// InRoom reports whether the session currently holds a subscription to
// the room.
func (pr *PresenceRouter) InRoom(sess *Session, room RoomKey) bool {
	pr.mu.Lock()
	defer pr.mu.Unlock()

	_, ok := pr.sessions[sess][room]
	return ok
}

// Publish delivers the event to every session subscribed to the room at
// the time of the call. The subscriber set is snapshotted under the lock
// and iterated outside it, so a concurrent unsubscribe or disconnect
// cannot corrupt the iteration; a session that tears down mid-publish
// simply drops the queued event.
func (pr *PresenceRouter) Publish(room RoomKey, evt *ServerEvent) {
	pr.mu.Lock()
	subscribers := make([]*Session, 0, len(pr.rooms[room]))
	for sess := range pr.rooms[room] {
		subscribers = append(subscribers, sess)
	}
	pr.mu.Unlock()

	for _, sess := range subscribers {
		if sess == evt.skip {
			continue
		}
		if !sess.queueEvent(evt) {
			pr.log.Printf("dropping event for %q in room %q: send buffer full", sess.user.Username, room)
		}
	}

	pr.stats.Incr(statEventsPublished)
}
