// Package room manages the one chat room of each meetup group and its memberships.
package room

import (
	"context"
	"errors"

	"github.com/real-rm/golog"

	"github.com/real-rm/meetupchat/internal/chat"
	chaterrors "github.com/real-rm/meetupchat/internal/errors"
	"github.com/real-rm/meetupchat/internal/storage"
	"github.com/real-rm/meetupchat/internal/util"
)

// Registry creates rooms on demand and tracks who joined them. Rooms are never
// mutated or deleted once created.
type Registry struct {
	backend storage.Backend
	logger  *golog.Logger
}

// NewRegistry creates a registry over backend
func NewRegistry(backend storage.Backend, logger *golog.Logger) *Registry {
	return &Registry{
		backend: backend,
		logger:  logger.WithGroup("room-registry"),
	}
}

// Create returns the room of groupID, creating it on first use
func (r *Registry) Create(ctx context.Context, groupID chat.GroupID) (*chat.ChatRoom, error) {
	// No else needed: early return pattern (guard clause)
	if groupID <= 0 {
		return nil, chaterrors.ErrInvalidMessageFormat("groupId must be positive", nil)
	}

	room, created, err := r.backend.CreateRoom(ctx, groupID)
	if err != nil {
		util.LogError(r.logger, "room", "create", err, "group_id", groupID)
		return nil, chaterrors.ErrDatabaseError(err)
	}
	// No else needed: optional operation (log first creation only)
	if created {
		r.logger.Info("Chat room created", "room_id", room.ID, "group_id", groupID)
	}
	return room, nil
}

// GetByGroup returns the room of groupID
func (r *Registry) GetByGroup(ctx context.Context, groupID chat.GroupID) (*chat.ChatRoom, error) {
	room, err := r.backend.FindRoomByGroup(ctx, groupID)
	if err != nil {
		return nil, r.lookupError("chat room", err)
	}
	return room, nil
}

// Get returns the room with roomID
func (r *Registry) Get(ctx context.Context, roomID chat.RoomID) (*chat.ChatRoom, error) {
	room, err := r.backend.FindRoom(ctx, roomID)
	if err != nil {
		return nil, r.lookupError("chat room", err)
	}
	return room, nil
}

// Join adds memberID to the room of groupID. Joining twice returns the existing
// membership.
func (r *Registry) Join(ctx context.Context, memberID chat.MemberID, groupID chat.GroupID) (*chat.RoomMembership, error) {
	room, err := r.GetByGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}

	membership, err := r.backend.AddMember(ctx, room.ID, memberID)
	if err != nil {
		util.LogError(r.logger, "room", "join", err, "room_id", room.ID, "member_id", memberID)
		return nil, chaterrors.ErrDatabaseError(err)
	}
	r.logger.Debug("Member joined room", "room_id", room.ID, "member_id", memberID)
	return membership, nil
}

// Leave removes memberID from the room of groupID
func (r *Registry) Leave(ctx context.Context, memberID chat.MemberID, groupID chat.GroupID) error {
	room, err := r.GetByGroup(ctx, groupID)
	if err != nil {
		return err
	}

	if err := r.backend.RemoveMember(ctx, room.ID, memberID); err != nil {
		return r.lookupError("membership", err)
	}
	r.logger.Debug("Member left room", "room_id", room.ID, "member_id", memberID)
	return nil
}

// IsMember reports whether memberID joined roomID
func (r *Registry) IsMember(ctx context.Context, roomID chat.RoomID, memberID chat.MemberID) (bool, error) {
	_, err := r.backend.FindMembership(ctx, roomID, memberID)
	// No else needed: early return pattern (guard clause)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	// No else needed: early return pattern (guard clause)
	if err != nil {
		return false, chaterrors.ErrDatabaseError(err)
	}
	return true, nil
}

func (r *Registry) lookupError(entity string, err error) error {
	// No else needed: early return pattern (guard clause)
	if errors.Is(err, storage.ErrNotFound) {
		return chaterrors.ErrNotFound(entity, err)
	}
	util.LogError(r.logger, "room", "lookup", err, "entity", entity)
	return chaterrors.ErrDatabaseError(err)
}
