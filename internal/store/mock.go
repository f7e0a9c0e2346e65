package store

import (
	"time"

	"github.com/npezzotti/go-teamchat/internal/types"
	"github.com/stretchr/testify/mock"
)

type MockChatRepository struct {
	mock.Mock
}

func (m *MockChatRepository) Ping() error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockChatRepository) CreateUser(params CreateUserParams) (types.User, error) {
	args := m.Called(params)
	return args.Get(0).(types.User), args.Error(1)
}
func (m *MockChatRepository) GetUserById(id string) (types.User, error) {
	args := m.Called(id)
	return args.Get(0).(types.User), args.Error(1)
}
func (m *MockChatRepository) GetUserByEmail(email string) (types.User, error) {
	args := m.Called(email)
	return args.Get(0).(types.User), args.Error(1)
}
func (m *MockChatRepository) CreateChannel(params CreateChannelParams) (types.Channel, error) {
	args := m.Called(params)
	return args.Get(0).(types.Channel), args.Error(1)
}
func (m *MockChatRepository) GetChannel(id string) (types.Channel, error) {
	args := m.Called(id)
	return args.Get(0).(types.Channel), args.Error(1)
}
func (m *MockChatRepository) UpdateChannel(id string, mutate func(*types.Channel) error) (types.Channel, error) {
	args := m.Called(id, mutate)
	return args.Get(0).(types.Channel), args.Error(1)
}
func (m *MockChatRepository) ListUserChannels(userId string) ([]types.Channel, error) {
	args := m.Called(userId)
	return args.Get(0).([]types.Channel), args.Error(1)
}
func (m *MockChatRepository) MembersOf(channelId string) ([]string, error) {
	args := m.Called(channelId)
	return args.Get(0).([]string), args.Error(1)
}
func (m *MockChatRepository) IsMember(channelId, userId string) (bool, error) {
	args := m.Called(channelId, userId)
	return args.Bool(0), args.Error(1)
}
func (m *MockChatRepository) AddMember(channelId, userId string) (types.Channel, error) {
	args := m.Called(channelId, userId)
	return args.Get(0).(types.Channel), args.Error(1)
}
func (m *MockChatRepository) GetOrCreateDirectChannel(userId, otherId string) (types.Channel, error) {
	args := m.Called(userId, otherId)
	return args.Get(0).(types.Channel), args.Error(1)
}
func (m *MockChatRepository) InsertMessage(msg types.Message) (types.Message, error) {
	args := m.Called(msg)
	return args.Get(0).(types.Message), args.Error(1)
}
func (m *MockChatRepository) GetMessage(id string) (types.Message, error) {
	args := m.Called(id)
	return args.Get(0).(types.Message), args.Error(1)
}
func (m *MockChatRepository) UpdateMessage(id string, mutate func(*types.Message) error) (types.Message, error) {
	args := m.Called(id, mutate)
	return args.Get(0).(types.Message), args.Error(1)
}
func (m *MockChatRepository) DeleteMessage(id string) error {
	args := m.Called(id)
	return args.Error(0)
}
func (m *MockChatRepository) ListChannelMessages(channelId string, before time.Time, limit int) ([]types.Message, error) {
	args := m.Called(channelId, before, limit)
	return args.Get(0).([]types.Message), args.Error(1)
}
func (m *MockChatRepository) ListReplies(parentId string) ([]types.Message, error) {
	args := m.Called(parentId)
	return args.Get(0).([]types.Message), args.Error(1)
}
func (m *MockChatRepository) CountReplies(parentId string) (int, error) {
	args := m.Called(parentId)
	return args.Int(0), args.Error(1)
}
func (m *MockChatRepository) CreateInvitation(channelId, inviterId, inviteeId string) (types.Invitation, error) {
	args := m.Called(channelId, inviterId, inviteeId)
	return args.Get(0).(types.Invitation), args.Error(1)
}
func (m *MockChatRepository) GetInvitation(id string) (types.Invitation, error) {
	args := m.Called(id)
	return args.Get(0).(types.Invitation), args.Error(1)
}
func (m *MockChatRepository) UpdateInvitation(id string, mutate func(*types.Invitation) error) (types.Invitation, error) {
	args := m.Called(id, mutate)
	return args.Get(0).(types.Invitation), args.Error(1)
}
func (m *MockChatRepository) ListPendingInvitations(inviteeId string) ([]types.Invitation, error) {
	args := m.Called(inviteeId)
	return args.Get(0).([]types.Invitation), args.Error(1)
}
func (m *MockChatRepository) HasPendingInvitation(channelId, inviteeId string) (bool, error) {
	args := m.Called(channelId, inviteeId)
	return args.Bool(0), args.Error(1)
}
