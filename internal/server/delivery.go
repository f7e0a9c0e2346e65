package server

import (
	"errors"
	"fmt"
	"log"
	"slices"

	"github.com/npezzotti/go-teamchat/internal/store"
	"github.com/npezzotti/go-teamchat/internal/types"
)

// DeliveryTracker applies delivered and read transitions to a message's
// delivery status exactly once per recipient, regardless of event
// ordering or duplication. Each transition is one atomic update against
// the message store, so two recipients marking state concurrently are
// both reflected in the final sets.
type DeliveryTracker struct {
	log    *log.Logger
	db     store.ChatRepository
	router *PresenceRouter
}

func NewDeliveryTracker(logger *log.Logger, db store.ChatRepository, router *PresenceRouter) *DeliveryTracker {
	return &DeliveryTracker{log: logger, db: db, router: router}
}

// MarkDelivered records that userId received the message. The first
// transition sets delivered_at; repeat calls for the same recipient are
// no-ops and never move the timestamp. The updated snapshot is published
// to the message's channel room.
func (dt *DeliveryTracker) MarkDelivered(messageId, userId string) (types.Message, error) {
	msg, err := dt.db.UpdateMessage(messageId, func(m *types.Message) error {
		ds := &m.DeliveryStatus
		if slices.Contains(ds.DeliveredTo, userId) {
			return nil
		}
		ds.DeliveredTo = append(ds.DeliveredTo, userId)
		ds.Delivered = true
		if ds.DeliveredAt == nil {
			ts := Now()
			ds.DeliveredAt = &ts
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.Message{}, fmt.Errorf("message %q: %w", messageId, ErrNotFound)
		}
		return types.Message{}, fmt.Errorf("mark delivered: %w", err)
	}

	dt.router.Publish(ChannelRoom(msg.ChannelId), &ServerEvent{
		BaseEvent:       BaseEvent{Timestamp: Now()},
		DeliveryUpdated: &msg,
	})

	return msg, nil
}

// MarkRead records that userId read the message. Read does not imply or
// require a prior delivered transition.
func (dt *DeliveryTracker) MarkRead(messageId, userId string) (types.Message, error) {
	msg, err := dt.db.UpdateMessage(messageId, func(m *types.Message) error {
		ds := &m.DeliveryStatus
		if slices.Contains(ds.ReadBy, userId) {
			return nil
		}
		ds.ReadBy = append(ds.ReadBy, userId)
		ds.Read = true
		if ds.ReadAt == nil {
			ts := Now()
			ds.ReadAt = &ts
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.Message{}, fmt.Errorf("message %q: %w", messageId, ErrNotFound)
		}
		return types.Message{}, fmt.Errorf("mark read: %w", err)
	}

	dt.router.Publish(ChannelRoom(msg.ChannelId), &ServerEvent{
		BaseEvent:   BaseEvent{Timestamp: Now()},
		ReadUpdated: &msg,
	})

	return msg, nil
}
