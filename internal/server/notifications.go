package server

import (
	"errors"
	"fmt"
	"log"

	"github.com/npezzotti/go-teamchat/internal/store"
	"github.com/npezzotti/go-teamchat/internal/types"
)

// NotificationDispatcher delivers point-to-point events (invitations,
// membership changes) to a single user's personal room, independent of
// which channel rooms the user is currently watching.
type NotificationDispatcher struct {
	log    *log.Logger
	db     store.ChatRepository
	router *PresenceRouter
}

func NewNotificationDispatcher(logger *log.Logger, db store.ChatRepository, router *PresenceRouter) *NotificationDispatcher {
	return &NotificationDispatcher{log: logger, db: db, router: router}
}

// Invite creates a pending invitation and notifies the invitee's
// personal room only; the channel is never broadcast to. The inviter
// must be a member. Inviting an existing member, or re-inviting a user
// with a pending invitation for the same channel, is a conflict.
func (nd *NotificationDispatcher) Invite(channelId, inviterId, inviteeId string) (types.Invitation, error) {
	channel, err := nd.db.GetChannel(channelId)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.Invitation{}, fmt.Errorf("channel %q: %w", channelId, ErrNotFound)
		}
		return types.Invitation{}, fmt.Errorf("get channel: %w", err)
	}

	if !channel.HasMember(inviterId) {
		return types.Invitation{}, fmt.Errorf("inviter %q not in channel %q: %w", inviterId, channelId, ErrPermission)
	}
	if channel.HasMember(inviteeId) {
		return types.Invitation{}, fmt.Errorf("user %q already in channel %q: %w", inviteeId, channelId, ErrConflict)
	}

	pending, err := nd.db.HasPendingInvitation(channelId, inviteeId)
	if err != nil {
		return types.Invitation{}, fmt.Errorf("check pending invitation: %w", err)
	}
	if pending {
		return types.Invitation{}, fmt.Errorf("invitation for %q to channel %q already pending: %w", inviteeId, channelId, ErrConflict)
	}

	inv, err := nd.db.CreateInvitation(channelId, inviterId, inviteeId)
	if err != nil {
		return types.Invitation{}, fmt.Errorf("create invitation: %w", err)
	}

	nd.router.Publish(UserRoom(inviteeId), &ServerEvent{
		BaseEvent:     BaseEvent{Timestamp: Now()},
		NewInvitation: &inv,
	})

	return inv, nil
}

// Accept transitions a pending invitation to accepted, adds the invitee
// to the channel and notifies the inviter's personal room plus every
// member's personal room with the updated channel. Only the invitee may
// accept; a terminal invitation cannot be accepted again.
func (nd *NotificationDispatcher) Accept(invitationId, userId string) (types.Invitation, error) {
	inv, err := nd.transition(invitationId, userId, types.InvitationAccepted)
	if err != nil {
		return types.Invitation{}, err
	}

	channel, err := nd.db.AddMember(inv.ChannelId, userId)
	if err != nil {
		return types.Invitation{}, fmt.Errorf("add member: %w", err)
	}

	nd.router.Publish(UserRoom(inv.InviterId), &ServerEvent{
		BaseEvent:          BaseEvent{Timestamp: Now()},
		InvitationAccepted: &inv,
	})

	// Personal rooms rather than the channel room: the new member has not
	// subscribed to the channel room yet.
	for _, member := range channel.Members {
		nd.router.Publish(UserRoom(member), &ServerEvent{
			BaseEvent:      BaseEvent{Timestamp: Now()},
			ChannelUpdated: &channel,
		})
	}

	return inv, nil
}

// Reject transitions a pending invitation to rejected and notifies the
// inviter's personal room. Membership is unchanged.
func (nd *NotificationDispatcher) Reject(invitationId, userId string) (types.Invitation, error) {
	inv, err := nd.transition(invitationId, userId, types.InvitationRejected)
	if err != nil {
		return types.Invitation{}, err
	}

	nd.router.Publish(UserRoom(inv.InviterId), &ServerEvent{
		BaseEvent:          BaseEvent{Timestamp: Now()},
		InvitationRejected: &inv,
	})

	return inv, nil
}

// transition performs the pending → terminal state change as one
// conditional update: checking pending and writing the new status happen
// under the store's single-document atomicity, so a concurrent second
// accept observes the terminal state and fails.
func (nd *NotificationDispatcher) transition(invitationId, userId string, to types.InvitationStatus) (types.Invitation, error) {
	cur, err := nd.db.GetInvitation(invitationId)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.Invitation{}, fmt.Errorf("invitation %q: %w", invitationId, ErrNotFound)
		}
		return types.Invitation{}, fmt.Errorf("get invitation: %w", err)
	}
	if cur.InviteeId != userId {
		return types.Invitation{}, fmt.Errorf("user %q is not the invitee: %w", userId, ErrPermission)
	}

	inv, err := nd.db.UpdateInvitation(invitationId, func(i *types.Invitation) error {
		if i.Status != types.InvitationPending {
			return fmt.Errorf("invitation is %s: %w", i.Status, ErrInvalidState)
		}
		i.Status = to
		return nil
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.Invitation{}, fmt.Errorf("invitation %q: %w", invitationId, ErrNotFound)
		}
		return types.Invitation{}, err
	}

	return inv, nil
}
