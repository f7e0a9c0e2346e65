package server

import (
	"errors"
	"fmt"
	"log"

	"github.com/npezzotti/go-teamchat/internal/store"
	"github.com/npezzotti/go-teamchat/internal/types"
)

// ThreadAggregator keeps a parent message's reply_count consistent with
// the actual number of stored replies. The count is a cache, not a
// counter: every write and every read of a thread triggers a full
// recount, so concurrent reply creation converges to the true count
// without any lock across store round-trips.
type ThreadAggregator struct {
	log    *log.Logger
	db     store.ChatRepository
	router *PresenceRouter
}

func NewThreadAggregator(logger *log.Logger, db store.ChatRepository, router *PresenceRouter) *ThreadAggregator {
	return &ThreadAggregator{log: logger, db: db, router: router}
}

// CreateReply inserts a reply under the parent message, recounts the
// parent's replies and publishes the reply to the parent's channel room
// and thread room. The sender must be a member of the parent's channel.
func (ta *ThreadAggregator) CreateReply(parentId, senderId, content, messageType string) (types.Message, error) {
	parent, err := ta.db.GetMessage(parentId)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.Message{}, fmt.Errorf("parent message %q: %w", parentId, ErrNotFound)
		}
		return types.Message{}, fmt.Errorf("get parent: %w", err)
	}

	isMember, err := ta.db.IsMember(parent.ChannelId, senderId)
	if err != nil {
		return types.Message{}, fmt.Errorf("check membership: %w", err)
	}
	if !isMember {
		return types.Message{}, fmt.Errorf("user %q not in channel %q: %w", senderId, parent.ChannelId, ErrPermission)
	}

	if messageType == "" {
		messageType = types.MessageTypeText
	}

	ts := Now()
	reply, err := ta.db.InsertMessage(types.Message{
		ChannelId:      parent.ChannelId,
		SenderId:       senderId,
		Content:        content,
		MessageType:    messageType,
		ParentId:       parentId,
		CreatedAt:      ts,
		DeliveryStatus: types.NewDeliveryStatus(ts),
	})
	if err != nil {
		return types.Message{}, fmt.Errorf("insert reply: %w", err)
	}

	// Fresh recount rather than an increment: a concurrent reply's
	// recount may overwrite ours with an equally derived value, and the
	// read path recounts again, so the stored count converges.
	parent, err = ta.recount(parentId)
	if err != nil {
		return types.Message{}, err
	}

	evt := &ServerEvent{
		BaseEvent: BaseEvent{Timestamp: Now()},
		NewReply: &NewReply{
			Reply:            reply,
			ParentId:         parentId,
			ParentReplyCount: parent.ReplyCount,
		},
	}
	ta.router.Publish(ChannelRoom(parent.ChannelId), evt)
	ta.router.Publish(ThreadRoom(parentId), evt)

	return reply, nil
}

// GetReplies returns the parent's replies ordered oldest first and, as a
// side effect, recounts and persists reply_count, publishing the
// corrected value to the parent's channel room and thread room.
func (ta *ThreadAggregator) GetReplies(parentId string) ([]types.Message, error) {
	replies, err := ta.db.ListReplies(parentId)
	if err != nil {
		return nil, fmt.Errorf("list replies: %w", err)
	}

	parent, err := ta.recount(parentId)
	if err != nil {
		return nil, err
	}

	evt := &ServerEvent{
		BaseEvent: BaseEvent{Timestamp: Now()},
		ReplyCountUpdate: &ReplyCountUpdate{
			MessageId:  parent.Id,
			ChannelId:  parent.ChannelId,
			ReplyCount: parent.ReplyCount,
		},
	}
	ta.router.Publish(ChannelRoom(parent.ChannelId), evt)
	ta.router.Publish(ThreadRoom(parentId), evt)

	return replies, nil
}

// RefreshCounts recounts each message in place. Used when listing a
// channel page: one extra count query per message, accepted in exchange
// for counts that self-correct on every read.
func (ta *ThreadAggregator) RefreshCounts(messages []types.Message) error {
	for i := range messages {
		msg, err := ta.recount(messages[i].Id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return err
		}
		messages[i] = msg
	}

	return nil
}

func (ta *ThreadAggregator) recount(parentId string) (types.Message, error) {
	n, err := ta.db.CountReplies(parentId)
	if err != nil {
		return types.Message{}, fmt.Errorf("count replies: %w", err)
	}

	parent, err := ta.db.UpdateMessage(parentId, func(m *types.Message) error {
		m.ReplyCount = n
		return nil
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.Message{}, fmt.Errorf("parent message %q: %w", parentId, ErrNotFound)
		}
		return types.Message{}, fmt.Errorf("persist reply count: %w", err)
	}

	return parent, nil
}
