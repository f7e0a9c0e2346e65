package server

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestThreadAggregator_CreateReply(t *testing.T) {
	cs, repo := newStoreChatServer(t)

	sender := createTestUser(t, repo, "sender")
	outsider := createTestUser(t, repo, "outsider")
	channel := createTestChannel(t, repo, "general", sender.Id)

	parent, err := cs.SendMessage(channel.Id, sender.Id, "parent", "")
	require.NoError(t, err)

	channelSess := newTestSession(t, sender)
	threadSess := newTestSession(t, sender)
	cs.Router().Subscribe(channelSess, ChannelRoom(channel.Id))
	cs.Router().Subscribe(threadSess, ThreadRoom(parent.Id))

	reply, err := cs.Threads().CreateReply(parent.Id, sender.Id, "a reply", "")
	assert.NoError(t, err, "expected no error creating reply")
	assert.Equal(t, parent.Id, reply.ParentId, "expected reply linked to parent")
	assert.Equal(t, channel.Id, reply.ChannelId, "expected reply to inherit the parent's channel")

	// The reply lands in both the channel room and the thread room.
	for _, sess := range []*Session{channelSess, threadSess} {
		evt := nextEvent(t, sess)
		require.NotNil(t, evt.NewReply, "expected new_reply event")
		assert.Equal(t, reply.Id, evt.NewReply.Reply.Id)
		assert.Equal(t, parent.Id, evt.NewReply.ParentId)
		assert.Equal(t, 1, evt.NewReply.ParentReplyCount, "expected recounted parent reply count")
	}

	got, err := repo.GetMessage(parent.Id)
	require.NoError(t, err)
	assert.Equal(t, 1, got.ReplyCount, "expected parent reply count persisted")

	_, err = cs.Threads().CreateReply("missing", sender.Id, "a reply", "")
	assert.ErrorIs(t, err, ErrNotFound, "expected missing parent to be rejected")

	_, err = cs.Threads().CreateReply(parent.Id, outsider.Id, "a reply", "")
	assert.ErrorIs(t, err, ErrPermission, "expected non-member reply to be rejected")
}

func TestThreadAggregator_GetReplies(t *testing.T) {
	cs, repo := newStoreChatServer(t)

	sender := createTestUser(t, repo, "sender")
	channel := createTestChannel(t, repo, "general", sender.Id)

	parent, err := cs.SendMessage(channel.Id, sender.Id, "parent", "")
	require.NoError(t, err)

	first, err := cs.Threads().CreateReply(parent.Id, sender.Id, "first", "")
	require.NoError(t, err)
	second, err := cs.Threads().CreateReply(parent.Id, sender.Id, "second", "")
	require.NoError(t, err)

	replies, err := cs.Threads().GetReplies(parent.Id)
	assert.NoError(t, err, "expected no error listing replies")
	require.Len(t, replies, 2, "expected both replies listed")
	assert.Equal(t, first.Id, replies[0].Id, "expected replies ordered oldest first")
	assert.Equal(t, second.Id, replies[1].Id)

	// Deleting a reply leaves the cached count stale until the next read
	// recounts it.
	require.NoError(t, cs.DeleteMessage(second.Id, sender.Id))

	got, err := repo.GetMessage(parent.Id)
	require.NoError(t, err)
	assert.Equal(t, 2, got.ReplyCount, "expected cached count untouched by the delete")

	sess := newTestSession(t, sender)
	cs.Router().Subscribe(sess, ThreadRoom(parent.Id))

	replies, err = cs.Threads().GetReplies(parent.Id)
	assert.NoError(t, err)
	assert.Len(t, replies, 1, "expected deleted reply gone from the listing")

	evt := nextEvent(t, sess)
	require.NotNil(t, evt.ReplyCountUpdate, "expected reply_count_update event")
	assert.Equal(t, parent.Id, evt.ReplyCountUpdate.MessageId)
	assert.Equal(t, 1, evt.ReplyCountUpdate.ReplyCount, "expected corrected count published")

	got, err = repo.GetMessage(parent.Id)
	require.NoError(t, err)
	assert.Equal(t, 1, got.ReplyCount, "expected count corrected on read")
}

func TestThreadAggregator_ConcurrentReplies(t *testing.T) {
	cs, repo := newStoreChatServer(t)

	sender := createTestUser(t, repo, "sender")
	channel := createTestChannel(t, repo, "general", sender.Id)

	parent, err := cs.SendMessage(channel.Id, sender.Id, "parent", "")
	require.NoError(t, err)

	const replies = 10

	var wg sync.WaitGroup
	for i := 0; i < replies; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := cs.Threads().CreateReply(parent.Id, sender.Id, "concurrent", ""); err != nil {
				t.Errorf("create reply: %v", err)
			}
		}()
	}
	wg.Wait()

	// The recount-on-read converges the cached count to the true total
	// regardless of how the concurrent recounts interleaved.
	listed, err := cs.Threads().GetReplies(parent.Id)
	assert.NoError(t, err)
	assert.Len(t, listed, replies, "expected every concurrent reply stored")

	got, err := repo.GetMessage(parent.Id)
	require.NoError(t, err)
	assert.Equal(t, replies, got.ReplyCount, "expected count converged to the true total")
}

func TestThreadAggregator_RefreshCounts(t *testing.T) {
	cs, repo := newStoreChatServer(t)

	sender := createTestUser(t, repo, "sender")
	channel := createTestChannel(t, repo, "general", sender.Id)

	parent, err := cs.SendMessage(channel.Id, sender.Id, "parent", "")
	require.NoError(t, err)
	_, err = cs.Threads().CreateReply(parent.Id, sender.Id, "a reply", "")
	require.NoError(t, err)

	messages, err := repo.ListChannelMessages(channel.Id, time.Time{}, 0)
	require.NoError(t, err)
	require.Len(t, messages, 1)

	err = cs.Threads().RefreshCounts(messages)
	assert.NoError(t, err, "expected no error refreshing counts")
	assert.Equal(t, 1, messages[0].ReplyCount, "expected count refreshed in place")

	// Messages deleted mid-listing are skipped rather than failing the
	// whole page.
	missing := messages
	missing[0].Id = "missing"
	assert.NoError(t, cs.Threads().RefreshCounts(missing), "expected missing message to be skipped")
}
