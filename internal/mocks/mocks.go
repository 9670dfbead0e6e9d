package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"chat-engine/internal/models"
	"chat-engine/internal/repositories"
)

type MembershipRepositoryMock struct {
	mock.Mock
}

func (m *MembershipRepositoryMock) CreateRoom(ctx context.Context, p repositories.CreateRoomParams) (models.Room, []models.Membership, error) {
	args := m.Called(ctx, p)
	var v0 models.Room
	if val := args.Get(0); val != nil {
		v0 = val.(models.Room)
	}
	var v1 []models.Membership
	if val := args.Get(1); val != nil {
		v1 = val.([]models.Membership)
	}
	return v0, v1, args.Error(2)
}

func (m *MembershipRepositoryMock) GetRoom(ctx context.Context, roomID int64) (models.Room, error) {
	args := m.Called(ctx, roomID)
	var v models.Room
	if val := args.Get(0); val != nil {
		v = val.(models.Room)
	}
	return v, args.Error(1)
}

func (m *MembershipRepositoryMock) DeleteRoom(ctx context.Context, roomID int64, actorID int64) error {
	args := m.Called(ctx, roomID, actorID)
	return args.Error(0)
}

func (m *MembershipRepositoryMock) RoomsForUser(ctx context.Context, userID int64) ([]models.Room, error) {
	args := m.Called(ctx, userID)
	var v []models.Room
	if val := args.Get(0); val != nil {
		v = val.([]models.Room)
	}
	return v, args.Error(1)
}

func (m *MembershipRepositoryMock) GetMembership(ctx context.Context, roomID int64, userID int64) (models.Membership, error) {
	args := m.Called(ctx, roomID, userID)
	var v models.Membership
	if val := args.Get(0); val != nil {
		v = val.(models.Membership)
	}
	return v, args.Error(1)
}

func (m *MembershipRepositoryMock) IsPermitted(ctx context.Context, roomID int64, userID int64, c models.Capability) (bool, error) {
	args := m.Called(ctx, roomID, userID, c)
	return args.Bool(0), args.Error(1)
}

func (m *MembershipRepositoryMock) ActiveMembers(ctx context.Context, roomID int64) ([]models.Membership, error) {
	args := m.Called(ctx, roomID)
	var v []models.Membership
	if val := args.Get(0); val != nil {
		v = val.([]models.Membership)
	}
	return v, args.Error(1)
}

func (m *MembershipRepositoryMock) AddMember(ctx context.Context, roomID int64, actorID int64, member models.Identity) (models.Membership, error) {
	args := m.Called(ctx, roomID, actorID, member)
	var v models.Membership
	if val := args.Get(0); val != nil {
		v = val.(models.Membership)
	}
	return v, args.Error(1)
}

func (m *MembershipRepositoryMock) RemoveMember(ctx context.Context, roomID int64, actorID int64, userID int64, block bool) (models.Membership, error) {
	args := m.Called(ctx, roomID, actorID, userID, block)
	var v models.Membership
	if val := args.Get(0); val != nil {
		v = val.(models.Membership)
	}
	return v, args.Error(1)
}

func (m *MembershipRepositoryMock) UpdateRole(ctx context.Context, roomID int64, actorID int64, userID int64, role models.Role) (models.Membership, error) {
	args := m.Called(ctx, roomID, actorID, userID, role)
	var v models.Membership
	if val := args.Get(0); val != nil {
		v = val.(models.Membership)
	}
	return v, args.Error(1)
}

func (m *MembershipRepositoryMock) UpdatePermissions(ctx context.Context, roomID int64, actorID int64, userID int64, perms models.PermissionSet) (models.Membership, error) {
	args := m.Called(ctx, roomID, actorID, userID, perms)
	var v models.Membership
	if val := args.Get(0); val != nil {
		v = val.(models.Membership)
	}
	return v, args.Error(1)
}

func (m *MembershipRepositoryMock) UpdateRoom(ctx context.Context, roomID int64, actorID int64, p repositories.RoomUpdate) (models.Room, error) {
	args := m.Called(ctx, roomID, actorID, p)
	var v models.Room
	if val := args.Get(0); val != nil {
		v = val.(models.Room)
	}
	return v, args.Error(1)
}

func (m *MembershipRepositoryMock) SetMuted(ctx context.Context, roomID int64, userID int64, muted bool) (models.Membership, error) {
	args := m.Called(ctx, roomID, userID, muted)
	var v models.Membership
	if val := args.Get(0); val != nil {
		v = val.(models.Membership)
	}
	return v, args.Error(1)
}

type MessageRepositoryMock struct {
	mock.Mock
}

func (m *MessageRepositoryMock) Append(ctx context.Context, p repositories.AppendParams) (models.Message, error) {
	args := m.Called(ctx, p)
	var v models.Message
	if val := args.Get(0); val != nil {
		v = val.(models.Message)
	}
	return v, args.Error(1)
}

func (m *MessageRepositoryMock) Get(ctx context.Context, messageID int64) (models.Message, error) {
	args := m.Called(ctx, messageID)
	var v models.Message
	if val := args.Get(0); val != nil {
		v = val.(models.Message)
	}
	return v, args.Error(1)
}

func (m *MessageRepositoryMock) Edit(ctx context.Context, messageID int64, actorID int64, content models.Content) (models.Message, error) {
	args := m.Called(ctx, messageID, actorID, content)
	var v models.Message
	if val := args.Get(0); val != nil {
		v = val.(models.Message)
	}
	return v, args.Error(1)
}

func (m *MessageRepositoryMock) SoftDelete(ctx context.Context, messageID int64, actorID int64) (models.Message, bool, error) {
	args := m.Called(ctx, messageID, actorID)
	var v0 models.Message
	if val := args.Get(0); val != nil {
		v0 = val.(models.Message)
	}
	return v0, args.Bool(1), args.Error(2)
}

func (m *MessageRepositoryMock) Forward(ctx context.Context, messageID int64, actorID int64, toRoomID int64) (models.Message, error) {
	args := m.Called(ctx, messageID, actorID, toRoomID)
	var v models.Message
	if val := args.Get(0); val != nil {
		v = val.(models.Message)
	}
	return v, args.Error(1)
}

func (m *MessageRepositoryMock) List(ctx context.Context, roomID int64, beforeID int64, limit int) ([]models.Message, error) {
	args := m.Called(ctx, roomID, beforeID, limit)
	var v []models.Message
	if val := args.Get(0); val != nil {
		v = val.([]models.Message)
	}
	return v, args.Error(1)
}

func (m *MessageRepositoryMock) Search(ctx context.Context, p repositories.SearchParams) ([]models.Message, error) {
	args := m.Called(ctx, p)
	var v []models.Message
	if val := args.Get(0); val != nil {
		v = val.([]models.Message)
	}
	return v, args.Error(1)
}

func (m *MessageRepositoryMock) EditHistory(ctx context.Context, messageID int64) ([]models.MessageEditHistory, error) {
	args := m.Called(ctx, messageID)
	var v []models.MessageEditHistory
	if val := args.Get(0); val != nil {
		v = val.([]models.MessageEditHistory)
	}
	return v, args.Error(1)
}

func (m *MessageRepositoryMock) ToggleReaction(ctx context.Context, messageID int64, userID int64, emoji string) (models.Reaction, bool, error) {
	args := m.Called(ctx, messageID, userID, emoji)
	var v0 models.Reaction
	if val := args.Get(0); val != nil {
		v0 = val.(models.Reaction)
	}
	return v0, args.Bool(1), args.Error(2)
}

func (m *MessageRepositoryMock) Reactions(ctx context.Context, messageID int64) ([]models.Reaction, error) {
	args := m.Called(ctx, messageID)
	var v []models.Reaction
	if val := args.Get(0); val != nil {
		v = val.([]models.Reaction)
	}
	return v, args.Error(1)
}

func (m *MessageRepositoryMock) RoomReactions(ctx context.Context, roomID int64) ([]models.Reaction, error) {
	args := m.Called(ctx, roomID)
	var v []models.Reaction
	if val := args.Get(0); val != nil {
		v = val.([]models.Reaction)
	}
	return v, args.Error(1)
}

func (m *MessageRepositoryMock) MarkRead(ctx context.Context, messageID int64, userID int64, at time.Time) (models.ReadReceipt, bool, error) {
	args := m.Called(ctx, messageID, userID, at)
	var v0 models.ReadReceipt
	if val := args.Get(0); val != nil {
		v0 = val.(models.ReadReceipt)
	}
	return v0, args.Bool(1), args.Error(2)
}

func (m *MessageRepositoryMock) ReadReceipts(ctx context.Context, messageID int64) ([]models.ReadReceipt, error) {
	args := m.Called(ctx, messageID)
	var v []models.ReadReceipt
	if val := args.Get(0); val != nil {
		v = val.([]models.ReadReceipt)
	}
	return v, args.Error(1)
}

func (m *MessageRepositoryMock) UnreadCount(ctx context.Context, roomID int64, userID int64) (int, error) {
	args := m.Called(ctx, roomID, userID)
	return args.Int(0), args.Error(1)
}

func (m *MessageRepositoryMock) Pin(ctx context.Context, messageID int64, actorID int64) (models.PinnedMessage, error) {
	args := m.Called(ctx, messageID, actorID)
	var v models.PinnedMessage
	if val := args.Get(0); val != nil {
		v = val.(models.PinnedMessage)
	}
	return v, args.Error(1)
}

func (m *MessageRepositoryMock) Unpin(ctx context.Context, messageID int64, actorID int64) (bool, error) {
	args := m.Called(ctx, messageID, actorID)
	return args.Bool(0), args.Error(1)
}

func (m *MessageRepositoryMock) Pinned(ctx context.Context, roomID int64) ([]models.PinnedMessage, error) {
	args := m.Called(ctx, roomID)
	var v []models.PinnedMessage
	if val := args.Get(0); val != nil {
		v = val.([]models.PinnedMessage)
	}
	return v, args.Error(1)
}

func (m *MessageRepositoryMock) PromoteDue(ctx context.Context, now time.Time) ([]models.Message, error) {
	args := m.Called(ctx, now)
	var v []models.Message
	if val := args.Get(0); val != nil {
		v = val.([]models.Message)
	}
	return v, args.Error(1)
}

func (m *MessageRepositoryMock) ExpireDue(ctx context.Context, now time.Time) ([]models.Message, error) {
	args := m.Called(ctx, now)
	var v []models.Message
	if val := args.Get(0); val != nil {
		v = val.([]models.Message)
	}
	return v, args.Error(1)
}

func (m *MessageRepositoryMock) PurgeRoom(ctx context.Context, roomID int64) error {
	args := m.Called(ctx, roomID)
	return args.Error(0)
}
