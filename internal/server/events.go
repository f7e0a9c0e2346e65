package server

import (
	"net/http"
	"time"

	"github.com/npezzotti/go-teamchat/internal/types"
)

type BaseEvent struct {
	Id        int       `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ClientEvent is the inbound event union. Exactly one payload field is
// set per event; the session dispatcher switches on which.
type ClientEvent struct {
	BaseEvent
	Join       *Join            `json:"join,omitempty"`
	Leave      *Leave           `json:"leave,omitempty"`
	Typing     *Typing          `json:"typing,omitempty"`
	StopTyping *Typing          `json:"stop_typing,omitempty"`
	Delivered  *DeliveryReceipt `json:"message_delivered,omitempty"`
	Read       *DeliveryReceipt `json:"message_read,omitempty"`

	session *Session
}

// Join subscribes the session to a channel room or a thread room.
type Join struct {
	ChannelId string `json:"channel_id,omitempty"`
	ThreadId  string `json:"thread_id,omitempty"`
}

type Leave struct {
	ChannelId string `json:"channel_id,omitempty"`
	ThreadId  string `json:"thread_id,omitempty"`
}

type Typing struct {
	ChannelId string `json:"channel_id"`
}

type DeliveryReceipt struct {
	MessageId string `json:"message_id"`
}

// ServerEvent is the outbound event union relayed to clients. As with
// ClientEvent, exactly one payload field is set.
type ServerEvent struct {
	BaseEvent
	Response *Response `json:"response,omitempty"`

	MessageCreated     *types.Message    `json:"message_created,omitempty"`
	MessageUpdated     *types.Message    `json:"message_updated,omitempty"`
	MessageDeleted     *MessageDeleted   `json:"message_deleted,omitempty"`
	DeliveryUpdated    *types.Message    `json:"message_delivery_updated,omitempty"`
	ReadUpdated        *types.Message    `json:"message_read_updated,omitempty"`
	NewReply           *NewReply         `json:"new_reply,omitempty"`
	ReplyCountUpdate   *ReplyCountUpdate `json:"reply_count_update,omitempty"`
	NewInvitation      *types.Invitation `json:"new_invitation,omitempty"`
	InvitationAccepted *types.Invitation `json:"invitation_accepted,omitempty"`
	InvitationRejected *types.Invitation `json:"invitation_rejected,omitempty"`
	ChannelUpdated     *types.Channel    `json:"channel_updated,omitempty"`
	UserTyping         *TypingChange     `json:"user_typing,omitempty"`
	UserStopTyping     *TypingChange     `json:"user_stop_typing,omitempty"`
	UserJoined         *PresenceChange   `json:"user_joined,omitempty"`
	UserLeft           *PresenceChange   `json:"user_left,omitempty"`

	// skip is excluded from delivery, used to avoid echoing an event back
	// to its originating session.
	skip *Session
}

type Response struct {
	ResponseCode int    `json:"response_code"`
	Error        string `json:"error,omitempty"`
	Data         any    `json:"data,omitempty"`
}

type MessageDeleted struct {
	MessageId string `json:"message_id"`
	ChannelId string `json:"channel_id"`
}

type NewReply struct {
	Reply            types.Message `json:"reply"`
	ParentId         string        `json:"parent_id"`
	ParentReplyCount int           `json:"parent_reply_count"`
}

type ReplyCountUpdate struct {
	MessageId  string `json:"message_id"`
	ChannelId  string `json:"channel_id"`
	ReplyCount int    `json:"reply_count"`
}

type TypingChange struct {
	User      types.User `json:"user"`
	ChannelId string     `json:"channel_id"`
}

type PresenceChange struct {
	User      types.User `json:"user"`
	ChannelId string     `json:"channel_id"`
}

func NoErrOK(id int, data any) *ServerEvent {
	return &ServerEvent{
		BaseEvent: BaseEvent{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusOK,
			Data:         data,
		},
	}
}

func errResponse(id, code int, msg string) *ServerEvent {
	return &ServerEvent{
		BaseEvent: BaseEvent{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: code,
			Error:        msg,
		},
	}
}

func ErrChannelNotFound(id int) *ServerEvent {
	return errResponse(id, http.StatusNotFound, "channel not found")
}

func ErrMessageNotFound(id int) *ServerEvent {
	return errResponse(id, http.StatusNotFound, "message not found")
}

func ErrNotAMember(id int) *ServerEvent {
	return errResponse(id, http.StatusForbidden, "not a channel member")
}

func ErrInvalidEvent(id int) *ServerEvent {
	return errResponse(id, http.StatusBadRequest, "invalid event format")
}

func ErrRateLimited(id int) *ServerEvent {
	return errResponse(id, http.StatusTooManyRequests, "rate limit exceeded")
}

func ErrInternalError(id int) *ServerEvent {
	return errResponse(id, http.StatusInternalServerError, "internal server error")
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
