package store

import (
	"errors"
	"time"

	"github.com/npezzotti/go-teamchat/internal/types"
)

// ErrNotFound is returned when a referenced document does not exist.
var ErrNotFound = errors.New("document not found")

// ErrAlreadyExists is returned when a create would violate a uniqueness
// constraint, such as a duplicate account email.
var ErrAlreadyExists = errors.New("document already exists")

type CreateUserParams struct {
	Username     string
	EmailAddress string
	PasswordHash string
}

type CreateChannelParams struct {
	Name        string
	Description string
	CreatedBy   string
	IsPrivate   bool
	IsDirect    bool
	Members     []string
}

// ChatRepository is the storage contract the chat core runs against. All
// Update* methods apply the mutation as a single atomic read-modify-write
// on one document: concurrent updates to the same document are serialized
// by the store, never lost. If the mutation function returns an error the
// document is left unchanged and the error is returned as-is.
type ChatRepository interface {
	Ping() error

	CreateUser(params CreateUserParams) (types.User, error)
	GetUserById(id string) (types.User, error)
	GetUserByEmail(email string) (types.User, error)

	CreateChannel(params CreateChannelParams) (types.Channel, error)
	GetChannel(id string) (types.Channel, error)
	UpdateChannel(id string, mutate func(*types.Channel) error) (types.Channel, error)
	ListUserChannels(userId string) ([]types.Channel, error)
	MembersOf(channelId string) ([]string, error)
	IsMember(channelId, userId string) (bool, error)
	AddMember(channelId, userId string) (types.Channel, error)
	GetOrCreateDirectChannel(userId, otherId string) (types.Channel, error)

	InsertMessage(msg types.Message) (types.Message, error)
	GetMessage(id string) (types.Message, error)
	UpdateMessage(id string, mutate func(*types.Message) error) (types.Message, error)
	DeleteMessage(id string) error
	ListChannelMessages(channelId string, before time.Time, limit int) ([]types.Message, error)
	ListReplies(parentId string) ([]types.Message, error)
	CountReplies(parentId string) (int, error)

	CreateInvitation(channelId, inviterId, inviteeId string) (types.Invitation, error)
	GetInvitation(id string) (types.Invitation, error)
	UpdateInvitation(id string, mutate func(*types.Invitation) error) (types.Invitation, error)
	ListPendingInvitations(inviteeId string) ([]types.Invitation, error)
	HasPendingInvitation(channelId, inviteeId string) (bool, error)
}
