package repositories

import (
	"context"
	"sort"
	"sync"
	"time"

	"chat-engine/internal/models"
)

// MemoryMembershipStore is an in-process MembershipRepository.
type MemoryMembershipStore struct {
	mu      sync.RWMutex
	seq     int64
	rooms   map[int64]*models.Room
	members map[int64]map[int64]*models.Membership
	now     func() time.Time
}

// NewMemoryMembershipStore constructs an empty store.
func NewMemoryMembershipStore() *MemoryMembershipStore {
	return &MemoryMembershipStore{
		rooms:   make(map[int64]*models.Room),
		members: make(map[int64]map[int64]*models.Membership),
		now:     models.Now,
	}
}

// CreateRoom creates a room together with its first members.
func (s *MemoryMembershipStore) CreateRoom(ctx context.Context, p CreateRoomParams) (models.Room, []models.Membership, error) {
	planned, err := planRoom(p)
	if err != nil {
		return models.Room{}, nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	now := s.now()
	room := &models.Room{
		ID:        s.seq,
		Kind:      p.Kind,
		Name:      p.Name,
		Settings:  p.Settings,
		Visible:   true,
		CreatedAt: now,
	}
	s.rooms[room.ID] = room

	members := make(map[int64]*models.Membership, len(planned))
	out := make([]models.Membership, 0, len(planned))
	for _, m := range planned {
		m.RoomID = room.ID
		m.JoinedAt = now
		stored := m
		members[m.UserID] = &stored
		out = append(out, m)
	}
	s.members[room.ID] = members
	return *room, out, nil
}

// GetRoom returns a visible room.
func (s *MemoryMembershipStore) GetRoom(ctx context.Context, roomID int64) (models.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	room, ok := s.rooms[roomID]
	if !ok || !room.Visible {
		return models.Room{}, roomNotFound(roomID)
	}
	return *room, nil
}

// DeleteRoom hides the room and drops every membership.
func (s *MemoryMembershipStore) DeleteRoom(ctx context.Context, roomID, actorID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, err := s.visibleRoomLocked(roomID)
	if err != nil {
		return err
	}
	actor, _ := s.membershipLocked(roomID, actorID)
	if err := checkDeleteRoom(actor); err != nil {
		return err
	}
	room.Visible = false
	delete(s.members, roomID)
	return nil
}

// RoomsForUser lists visible rooms where the user is active, newest first.
func (s *MemoryMembershipStore) RoomsForUser(ctx context.Context, userID int64) ([]models.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var rooms []models.Room
	for roomID, members := range s.members {
		m, ok := members[userID]
		if !ok || !m.Active() {
			continue
		}
		if room, ok := s.rooms[roomID]; ok && room.Visible {
			rooms = append(rooms, *room)
		}
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].ID > rooms[j].ID })
	return rooms, nil
}

// GetMembership returns the membership row regardless of status.
func (s *MemoryMembershipStore) GetMembership(ctx context.Context, roomID, userID int64) (models.Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.membershipLocked(roomID, userID)
}

// IsPermitted reports whether the user may exercise c in the room.
func (s *MemoryMembershipStore) IsPermitted(ctx context.Context, roomID, userID int64, c models.Capability) (bool, error) {
	m, err := s.GetMembership(ctx, roomID, userID)
	if err != nil {
		return false, nil
	}
	return m.Permits(c), nil
}

// ActiveMembers returns a copy of the room's active memberships ordered by user id.
func (s *MemoryMembershipStore) ActiveMembers(ctx context.Context, roomID int64) ([]models.Membership, error) {
	s.mu.RLock()
	members := s.members[roomID]
	out := make([]models.Membership, 0, len(members))
	for _, m := range members {
		if m.Active() {
			out = append(out, *m)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

// AddMember adds or reactivates a member.
func (s *MemoryMembershipStore) AddMember(ctx context.Context, roomID, actorID int64, member models.Identity) (models.Membership, error) {
	if err := checkIdentity(member); err != nil {
		return models.Membership{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	room, err := s.visibleRoomLocked(roomID)
	if err != nil {
		return models.Membership{}, err
	}
	actor, _ := s.membershipLocked(roomID, actorID)
	existing := s.members[roomID][member.UserID]
	if err := checkAdd(*room, s.countsLocked(roomID), actor, existing); err != nil {
		return models.Membership{}, err
	}

	m := &models.Membership{
		RoomID:      roomID,
		UserID:      member.UserID,
		DisplayName: member.DisplayName,
		Role:        models.RoleMember,
		Permissions: models.DefaultPermissions,
		Status:      models.StatusActive,
		JoinedAt:    s.now(),
	}
	s.members[roomID][member.UserID] = m
	return *m, nil
}

// RemoveMember marks a member as left, or blocked when block is set.
func (s *MemoryMembershipStore) RemoveMember(ctx context.Context, roomID, actorID, userID int64, block bool) (models.Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, err := s.visibleRoomLocked(roomID)
	if err != nil {
		return models.Membership{}, err
	}
	actor, _ := s.membershipLocked(roomID, actorID)
	target, ok := s.members[roomID][userID]
	if !ok || !target.Active() {
		return models.Membership{}, memberNotFound(roomID, userID)
	}
	if err := checkRemove(*room, s.countsLocked(roomID), actor, *target, block); err != nil {
		return models.Membership{}, err
	}

	target.Status = models.StatusLeft
	if block {
		target.Status = models.StatusBlocked
	}
	return *target, nil
}

// UpdateRole changes a member's role.
func (s *MemoryMembershipStore) UpdateRole(ctx context.Context, roomID, actorID, userID int64, role models.Role) (models.Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, err := s.visibleRoomLocked(roomID)
	if err != nil {
		return models.Membership{}, err
	}
	actor, _ := s.membershipLocked(roomID, actorID)
	target, ok := s.members[roomID][userID]
	if !ok || !target.Active() {
		return models.Membership{}, memberNotFound(roomID, userID)
	}
	if err := checkRole(*room, s.countsLocked(roomID), actor, *target, role); err != nil {
		return models.Membership{}, err
	}
	target.Role = role
	return *target, nil
}

// UpdatePermissions replaces a member's explicit permission set.
func (s *MemoryMembershipStore) UpdatePermissions(ctx context.Context, roomID, actorID, userID int64, perms models.PermissionSet) (models.Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.visibleRoomLocked(roomID); err != nil {
		return models.Membership{}, err
	}
	actor, _ := s.membershipLocked(roomID, actorID)
	target, ok := s.members[roomID][userID]
	if !ok || !target.Active() {
		return models.Membership{}, memberNotFound(roomID, userID)
	}
	if err := checkPermissions(actor); err != nil {
		return models.Membership{}, err
	}
	target.Permissions = perms
	return *target, nil
}

// UpdateRoom changes the room's name or settings.
func (s *MemoryMembershipStore) UpdateRoom(ctx context.Context, roomID, actorID int64, p RoomUpdate) (models.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, err := s.visibleRoomLocked(roomID)
	if err != nil {
		return models.Room{}, err
	}
	actor, _ := s.membershipLocked(roomID, actorID)
	if err := checkUpdateRoom(*room, s.countsLocked(roomID), actor, p); err != nil {
		return models.Room{}, err
	}
	*room = p.Apply(*room)
	return *room, nil
}

// SetMuted flips the muted flag on the user's active membership.
func (s *MemoryMembershipStore) SetMuted(ctx context.Context, roomID, userID int64, muted bool) (models.Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.visibleRoomLocked(roomID); err != nil {
		return models.Membership{}, err
	}
	m, ok := s.members[roomID][userID]
	if !ok || !m.Active() {
		return models.Membership{}, memberNotFound(roomID, userID)
	}
	m.Muted = muted
	return *m, nil
}

func (s *MemoryMembershipStore) visibleRoomLocked(roomID int64) (*models.Room, error) {
	room, ok := s.rooms[roomID]
	if !ok || !room.Visible {
		return nil, roomNotFound(roomID)
	}
	return room, nil
}

// membershipLocked returns a zero Membership for non-members, which fails every permission check.
func (s *MemoryMembershipStore) membershipLocked(roomID, userID int64) (models.Membership, error) {
	m, ok := s.members[roomID][userID]
	if !ok {
		return models.Membership{}, memberNotFound(roomID, userID)
	}
	return *m, nil
}

func (s *MemoryMembershipStore) countsLocked(roomID int64) roomCounts {
	var c roomCounts
	for _, m := range s.members[roomID] {
		if !m.Active() {
			continue
		}
		c.active++
		if m.Role == models.RoleOwner {
			c.owners++
		}
	}
	return c
}

var _ MembershipRepository = (*MemoryMembershipStore)(nil)
