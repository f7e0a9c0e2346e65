package server

import (
	"net/http"
	"testing"

	"github.com/npezzotti/go-teamchat/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDispatchSession(t *testing.T, cs *ChatServer, user types.User) *Session {
	t.Helper()

	sess := newTestSession(t, user)
	sess.chatServer = cs
	return sess
}

func TestSession_JoinChannel(t *testing.T) {
	cs, repo := newStoreChatServer(t)

	member := createTestUser(t, repo, "member")
	watcher := createTestUser(t, repo, "watcher")
	outsider := createTestUser(t, repo, "outsider")
	channel := createTestChannel(t, repo, "general", member.Id, watcher.Id)

	watcherSess := newDispatchSession(t, cs, watcher)
	cs.Router().Subscribe(watcherSess, ChannelRoom(channel.Id))

	sess := newDispatchSession(t, cs, member)
	sess.dispatch(&ClientEvent{
		BaseEvent: BaseEvent{Id: 1},
		Join:      &Join{ChannelId: channel.Id},
	})

	assert.True(t, cs.Router().InRoom(sess, ChannelRoom(channel.Id)), "expected session subscribed to the channel room")

	evt := nextEvent(t, sess)
	require.NotNil(t, evt.Response, "expected an ack response")
	assert.Equal(t, 1, evt.Id, "expected ack correlated to the request")
	assert.Equal(t, http.StatusOK, evt.Response.ResponseCode)

	// Other members see the join; the joiner does not see their own.
	evt = nextEvent(t, watcherSess)
	require.NotNil(t, evt.UserJoined, "expected user_joined event")
	assert.Equal(t, member.Id, evt.UserJoined.User.Id)
	assert.Empty(t, sess.send, "expected no presence echo to the joiner")

	// Non-members cannot join the channel room.
	outsiderSess := newDispatchSession(t, cs, outsider)
	outsiderSess.dispatch(&ClientEvent{
		BaseEvent: BaseEvent{Id: 2},
		Join:      &Join{ChannelId: channel.Id},
	})
	assert.False(t, cs.Router().InRoom(outsiderSess, ChannelRoom(channel.Id)))

	evt = nextEvent(t, outsiderSess)
	require.NotNil(t, evt.Response)
	assert.Equal(t, http.StatusForbidden, evt.Response.ResponseCode, "expected forbidden response")

	outsiderSess.dispatch(&ClientEvent{
		BaseEvent: BaseEvent{Id: 3},
		Join:      &Join{ChannelId: "missing"},
	})
	evt = nextEvent(t, outsiderSess)
	require.NotNil(t, evt.Response)
	assert.Equal(t, http.StatusNotFound, evt.Response.ResponseCode, "expected not found response")
}

func TestSession_JoinThread(t *testing.T) {
	cs, repo := newStoreChatServer(t)

	member := createTestUser(t, repo, "member")
	channel := createTestChannel(t, repo, "general", member.Id)
	parent, err := cs.SendMessage(channel.Id, member.Id, "parent", "")
	require.NoError(t, err)

	sess := newDispatchSession(t, cs, member)
	sess.dispatch(&ClientEvent{
		BaseEvent: BaseEvent{Id: 1},
		Join:      &Join{ThreadId: parent.Id},
	})

	assert.True(t, cs.Router().InRoom(sess, ThreadRoom(parent.Id)), "expected session subscribed to the thread room")

	evt := nextEvent(t, sess)
	require.NotNil(t, evt.Response)
	assert.Equal(t, http.StatusOK, evt.Response.ResponseCode)

	sess.dispatch(&ClientEvent{
		BaseEvent: BaseEvent{Id: 2},
		Join:      &Join{ThreadId: "missing"},
	})
	evt = nextEvent(t, sess)
	require.NotNil(t, evt.Response)
	assert.Equal(t, http.StatusNotFound, evt.Response.ResponseCode, "expected not found for unknown thread")
}

func TestSession_Leave(t *testing.T) {
	cs, repo := newStoreChatServer(t)

	member := createTestUser(t, repo, "member")
	watcher := createTestUser(t, repo, "watcher")
	channel := createTestChannel(t, repo, "general", member.Id, watcher.Id)

	sess := newDispatchSession(t, cs, member)
	watcherSess := newDispatchSession(t, cs, watcher)
	cs.Router().Subscribe(sess, ChannelRoom(channel.Id))
	cs.Router().Subscribe(watcherSess, ChannelRoom(channel.Id))

	sess.dispatch(&ClientEvent{
		BaseEvent: BaseEvent{Id: 1},
		Leave:     &Leave{ChannelId: channel.Id},
	})

	assert.False(t, cs.Router().InRoom(sess, ChannelRoom(channel.Id)), "expected session unsubscribed")

	evt := nextEvent(t, sess)
	require.NotNil(t, evt.Response)
	assert.Equal(t, http.StatusOK, evt.Response.ResponseCode)

	evt = nextEvent(t, watcherSess)
	require.NotNil(t, evt.UserLeft, "expected user_left event")
	assert.Equal(t, member.Id, evt.UserLeft.User.Id)

	// Leaving a channel never joined is still acknowledged.
	sess.dispatch(&ClientEvent{
		BaseEvent: BaseEvent{Id: 2},
		Leave:     &Leave{ChannelId: "never-joined"},
	})
	evt = nextEvent(t, sess)
	require.NotNil(t, evt.Response)
	assert.Equal(t, http.StatusOK, evt.Response.ResponseCode)
}

func TestSession_DeliveryReceipts(t *testing.T) {
	cs, repo := newStoreChatServer(t)

	sender := createTestUser(t, repo, "sender")
	recipient := createTestUser(t, repo, "recipient")
	channel := createTestChannel(t, repo, "general", sender.Id, recipient.Id)

	msg, err := cs.SendMessage(channel.Id, sender.Id, "hello", "")
	require.NoError(t, err)

	sess := newDispatchSession(t, cs, recipient)
	sess.dispatch(&ClientEvent{
		BaseEvent: BaseEvent{Id: 1},
		Delivered: &DeliveryReceipt{MessageId: msg.Id},
	})
	sess.dispatch(&ClientEvent{
		BaseEvent: BaseEvent{Id: 2},
		Read:      &DeliveryReceipt{MessageId: msg.Id},
	})

	got, err := repo.GetMessage(msg.Id)
	require.NoError(t, err)
	assert.Equal(t, []string{recipient.Id}, got.DeliveryStatus.DeliveredTo)
	assert.Equal(t, []string{recipient.Id}, got.DeliveryStatus.ReadBy)

	// A receipt for an unknown message is answered with an error.
	sess.dispatch(&ClientEvent{
		BaseEvent: BaseEvent{Id: 3},
		Delivered: &DeliveryReceipt{MessageId: "missing"},
	})
	evt := nextEvent(t, sess)
	require.NotNil(t, evt.Response)
	assert.Equal(t, http.StatusNotFound, evt.Response.ResponseCode)
}

func TestSession_DispatchInvalidEvent(t *testing.T) {
	cs, repo := newStoreChatServer(t)

	user := createTestUser(t, repo, "testuser")
	sess := newDispatchSession(t, cs, user)

	sess.dispatch(&ClientEvent{BaseEvent: BaseEvent{Id: 7}})

	evt := nextEvent(t, sess)
	require.NotNil(t, evt.Response)
	assert.Equal(t, http.StatusBadRequest, evt.Response.ResponseCode, "expected bad request for empty event")
	assert.Equal(t, 7, evt.Id)

	// A join with neither a channel nor a thread is also invalid.
	sess.dispatch(&ClientEvent{BaseEvent: BaseEvent{Id: 8}, Join: &Join{}})
	evt = nextEvent(t, sess)
	require.NotNil(t, evt.Response)
	assert.Equal(t, http.StatusBadRequest, evt.Response.ResponseCode)
}

func TestSession_QueueEvent(t *testing.T) {
	sess := newTestSession(t, types.User{Id: "u1", Username: "testuser"})
	sess.send = make(chan *ServerEvent, 1)

	assert.True(t, sess.queueEvent(&ServerEvent{}), "expected queue to accept while buffer has room")
	assert.False(t, sess.queueEvent(&ServerEvent{}), "expected queue to reject when buffer is full")
}

func TestSession_StopSession(t *testing.T) {
	sess := newTestSession(t, types.User{Id: "u1", Username: "testuser"})

	sess.stopSession()
	select {
	case <-sess.stop:
	default:
		t.Fatal("expected stop channel to be closed")
	}

	// Stopping twice must not panic.
	sess.stopSession()
}
