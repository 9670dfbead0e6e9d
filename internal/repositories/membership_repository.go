package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"chat-engine/internal/models"
)

// CreateRoomParams describes a new room and its initial members.
type CreateRoomParams struct {
	Kind     models.RoomKind
	Name     string
	Settings models.RoomSettings
	Creator  models.Identity
	Members  []models.Identity
}

// MembershipRepository is the authoritative user<->room mapping.
type MembershipRepository interface {
	CreateRoom(ctx context.Context, p CreateRoomParams) (models.Room, []models.Membership, error)
	GetRoom(ctx context.Context, roomID int64) (models.Room, error)
	DeleteRoom(ctx context.Context, roomID, actorID int64) error
	RoomsForUser(ctx context.Context, userID int64) ([]models.Room, error)
	GetMembership(ctx context.Context, roomID, userID int64) (models.Membership, error)
	IsPermitted(ctx context.Context, roomID, userID int64, c models.Capability) (bool, error)
	// ActiveMembers returns a snapshot the caller owns.
	ActiveMembers(ctx context.Context, roomID int64) ([]models.Membership, error)
	AddMember(ctx context.Context, roomID, actorID int64, member models.Identity) (models.Membership, error)
	RemoveMember(ctx context.Context, roomID, actorID, userID int64, block bool) (models.Membership, error)
	UpdateRole(ctx context.Context, roomID, actorID, userID int64, role models.Role) (models.Membership, error)
	UpdatePermissions(ctx context.Context, roomID, actorID, userID int64, perms models.PermissionSet) (models.Membership, error)
	UpdateRoom(ctx context.Context, roomID, actorID int64, p RoomUpdate) (models.Room, error)
	// SetMuted toggles notification muting for the caller's own active membership.
	SetMuted(ctx context.Context, roomID, userID int64, muted bool) (models.Membership, error)
}

// Authorizer answers capability questions for the message store.
type Authorizer interface {
	IsPermitted(ctx context.Context, roomID, userID int64, c models.Capability) (bool, error)
}

const (
	roomColumns   = `id, kind, name, encryption_enabled, max_members, auto_delete_seconds, visible, created_at`
	memberColumns = `room_id, user_id, display_name, role, permissions, status, muted, joined_at`
)

type roomRow struct {
	models.Room
	models.RoomSettings
}

func (r roomRow) toModel() models.Room {
	room := r.Room
	room.Settings = r.RoomSettings
	return room
}

// MembershipRepo is a sqlx implementation of MembershipRepository. Mutations lock the room row
// so invariant checks and writes see the same member set.
type MembershipRepo struct {
	db *sqlx.DB
}

// NewMembershipRepo constructs a MembershipRepo.
func NewMembershipRepo(db *sqlx.DB) *MembershipRepo {
	return &MembershipRepo{db: db}
}

// CreateRoom inserts the room and its first members atomically.
func (r *MembershipRepo) CreateRoom(ctx context.Context, p CreateRoomParams) (models.Room, []models.Membership, error) {
	planned, err := planRoom(p)
	if err != nil {
		return models.Room{}, nil, err
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Room{}, nil, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var row roomRow
	if err = tx.GetContext(ctx, &row, `INSERT INTO rooms (kind, name, encryption_enabled, max_members, auto_delete_seconds)
        VALUES ($1, $2, $3, $4, $5) RETURNING `+roomColumns,
		p.Kind, p.Name, p.Settings.EncryptionEnabled, p.Settings.MaxMembers, p.Settings.AutoDeleteSeconds); err != nil {
		return models.Room{}, nil, err
	}
	room := row.toModel()

	members := make([]models.Membership, 0, len(planned))
	for _, m := range planned {
		var stored models.Membership
		if err = tx.GetContext(ctx, &stored, `INSERT INTO room_members (room_id, user_id, display_name, role, permissions, status)
            VALUES ($1, $2, $3, $4, $5, $6) RETURNING `+memberColumns,
			room.ID, m.UserID, m.DisplayName, m.Role, m.Permissions, m.Status); err != nil {
			return models.Room{}, nil, err
		}
		members = append(members, stored)
	}

	if err = tx.Commit(); err != nil {
		return models.Room{}, nil, err
	}
	return room, members, nil
}

// GetRoom fetches a visible room by id.
func (r *MembershipRepo) GetRoom(ctx context.Context, roomID int64) (models.Room, error) {
	var row roomRow
	err := r.db.GetContext(ctx, &row, `SELECT `+roomColumns+` FROM rooms WHERE id=$1 AND visible`, roomID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Room{}, roomNotFound(roomID)
	}
	if err != nil {
		return models.Room{}, err
	}
	return row.toModel(), nil
}

// DeleteRoom hides the room and removes its memberships.
func (r *MembershipRepo) DeleteRoom(ctx context.Context, roomID, actorID int64) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if _, err = lockRoom(ctx, tx, roomID); err != nil {
		return err
	}
	actor, _ := getMembership(ctx, tx, roomID, actorID)
	if err = checkDeleteRoom(actor); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, `UPDATE rooms SET visible = FALSE WHERE id=$1`, roomID); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM room_members WHERE room_id=$1`, roomID); err != nil {
		return err
	}
	return tx.Commit()
}

// RoomsForUser lists visible rooms where the user is active, newest first.
func (r *MembershipRepo) RoomsForUser(ctx context.Context, userID int64) ([]models.Room, error) {
	var rows []roomRow
	err := r.db.SelectContext(ctx, &rows, `SELECT r.id, r.kind, r.name, r.encryption_enabled, r.max_members, r.auto_delete_seconds, r.visible, r.created_at
        FROM rooms r INNER JOIN room_members rm ON rm.room_id = r.id
        WHERE rm.user_id=$1 AND rm.status='active' AND r.visible
        ORDER BY r.id DESC`, userID)
	if err != nil {
		return nil, err
	}
	rooms := make([]models.Room, 0, len(rows))
	for _, row := range rows {
		rooms = append(rooms, row.toModel())
	}
	return rooms, nil
}

// GetMembership returns the membership row regardless of status.
func (r *MembershipRepo) GetMembership(ctx context.Context, roomID, userID int64) (models.Membership, error) {
	return getMembership(ctx, r.db, roomID, userID)
}

// IsPermitted reports whether the user may exercise c in the room.
func (r *MembershipRepo) IsPermitted(ctx context.Context, roomID, userID int64, c models.Capability) (bool, error) {
	m, err := r.GetMembership(ctx, roomID, userID)
	if isNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return m.Permits(c), nil
}

// ActiveMembers returns the active memberships ordered by user id.
func (r *MembershipRepo) ActiveMembers(ctx context.Context, roomID int64) ([]models.Membership, error) {
	var members []models.Membership
	err := r.db.SelectContext(ctx, &members, `SELECT `+memberColumns+` FROM room_members WHERE room_id=$1 AND status='active' ORDER BY user_id`, roomID)
	return members, err
}

// AddMember adds or reactivates a member.
func (r *MembershipRepo) AddMember(ctx context.Context, roomID, actorID int64, member models.Identity) (models.Membership, error) {
	if err := checkIdentity(member); err != nil {
		return models.Membership{}, err
	}
	var added models.Membership
	err := r.mutate(ctx, roomID, func(tx *sqlx.Tx, room models.Room, counts roomCounts) error {
		actor, _ := getMembership(ctx, tx, roomID, actorID)
		var existing *models.Membership
		if m, err := getMembership(ctx, tx, roomID, member.UserID); err == nil {
			existing = &m
		}
		if err := checkAdd(room, counts, actor, existing); err != nil {
			return err
		}
		return tx.GetContext(ctx, &added, `INSERT INTO room_members (room_id, user_id, display_name, role, permissions, status)
            VALUES ($1, $2, $3, $4, $5, $6)
            ON CONFLICT (room_id, user_id) DO UPDATE SET display_name = EXCLUDED.display_name, role = EXCLUDED.role,
                permissions = EXCLUDED.permissions, status = EXCLUDED.status, muted = FALSE, joined_at = NOW()
            RETURNING `+memberColumns,
			roomID, member.UserID, member.DisplayName, models.RoleMember, models.DefaultPermissions, models.StatusActive)
	})
	return added, err
}

// RemoveMember marks a member as left, or blocked when block is set.
func (r *MembershipRepo) RemoveMember(ctx context.Context, roomID, actorID, userID int64, block bool) (models.Membership, error) {
	status := models.StatusLeft
	if block {
		status = models.StatusBlocked
	}
	var removed models.Membership
	err := r.mutate(ctx, roomID, func(tx *sqlx.Tx, room models.Room, counts roomCounts) error {
		actor, _ := getMembership(ctx, tx, roomID, actorID)
		target, err := activeMembership(ctx, tx, roomID, userID)
		if err != nil {
			return err
		}
		if err := checkRemove(room, counts, actor, target, block); err != nil {
			return err
		}
		return tx.GetContext(ctx, &removed, `UPDATE room_members SET status=$3 WHERE room_id=$1 AND user_id=$2 RETURNING `+memberColumns,
			roomID, userID, status)
	})
	return removed, err
}

// UpdateRole changes a member's role.
func (r *MembershipRepo) UpdateRole(ctx context.Context, roomID, actorID, userID int64, role models.Role) (models.Membership, error) {
	var updated models.Membership
	err := r.mutate(ctx, roomID, func(tx *sqlx.Tx, room models.Room, counts roomCounts) error {
		actor, _ := getMembership(ctx, tx, roomID, actorID)
		target, err := activeMembership(ctx, tx, roomID, userID)
		if err != nil {
			return err
		}
		if err := checkRole(room, counts, actor, target, role); err != nil {
			return err
		}
		return tx.GetContext(ctx, &updated, `UPDATE room_members SET role=$3 WHERE room_id=$1 AND user_id=$2 RETURNING `+memberColumns,
			roomID, userID, role)
	})
	return updated, err
}

// UpdatePermissions replaces a member's explicit permission set.
func (r *MembershipRepo) UpdatePermissions(ctx context.Context, roomID, actorID, userID int64, perms models.PermissionSet) (models.Membership, error) {
	var updated models.Membership
	err := r.mutate(ctx, roomID, func(tx *sqlx.Tx, room models.Room, counts roomCounts) error {
		actor, _ := getMembership(ctx, tx, roomID, actorID)
		if _, err := activeMembership(ctx, tx, roomID, userID); err != nil {
			return err
		}
		if err := checkPermissions(actor); err != nil {
			return err
		}
		return tx.GetContext(ctx, &updated, `UPDATE room_members SET permissions=$3 WHERE room_id=$1 AND user_id=$2 RETURNING `+memberColumns,
			roomID, userID, perms)
	})
	return updated, err
}

// UpdateRoom changes the room's name or settings.
func (r *MembershipRepo) UpdateRoom(ctx context.Context, roomID, actorID int64, p RoomUpdate) (models.Room, error) {
	var updated models.Room
	err := r.mutate(ctx, roomID, func(tx *sqlx.Tx, room models.Room, counts roomCounts) error {
		actor, _ := getMembership(ctx, tx, roomID, actorID)
		if err := checkUpdateRoom(room, counts, actor, p); err != nil {
			return err
		}
		next := p.Apply(room)
		var row roomRow
		if err := tx.GetContext(ctx, &row, `UPDATE rooms SET name=$2, encryption_enabled=$3, max_members=$4, auto_delete_seconds=$5
            WHERE id=$1 RETURNING `+roomColumns,
			roomID, next.Name, next.Settings.EncryptionEnabled, next.Settings.MaxMembers, next.Settings.AutoDeleteSeconds); err != nil {
			return err
		}
		updated = row.toModel()
		return nil
	})
	return updated, err
}

// SetMuted flips the muted flag on the user's active membership.
func (r *MembershipRepo) SetMuted(ctx context.Context, roomID, userID int64, muted bool) (models.Membership, error) {
	var m models.Membership
	err := r.db.GetContext(ctx, &m, `UPDATE room_members rm SET muted=$3
        FROM rooms r
        WHERE rm.room_id=$1 AND rm.user_id=$2 AND rm.status='active' AND r.id = rm.room_id AND r.visible
        RETURNING rm.room_id, rm.user_id, rm.display_name, rm.role, rm.permissions, rm.status, rm.muted, rm.joined_at`,
		roomID, userID, muted)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Membership{}, memberNotFound(roomID, userID)
	}
	return m, err
}

// mutate runs fn in a transaction holding the room row lock.
func (r *MembershipRepo) mutate(ctx context.Context, roomID int64, fn func(tx *sqlx.Tx, room models.Room, counts roomCounts) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	room, err := lockRoom(ctx, tx, roomID)
	if err != nil {
		return err
	}
	var counts roomCounts
	if err = tx.QueryRowxContext(ctx, `SELECT COUNT(*), COUNT(*) FILTER (WHERE role='owner') FROM room_members WHERE room_id=$1 AND status='active'`, roomID).
		Scan(&counts.active, &counts.owners); err != nil {
		return err
	}
	if err = fn(tx, room, counts); err != nil {
		return err
	}
	return tx.Commit()
}

func lockRoom(ctx context.Context, tx *sqlx.Tx, roomID int64) (models.Room, error) {
	var row roomRow
	err := tx.GetContext(ctx, &row, `SELECT `+roomColumns+` FROM rooms WHERE id=$1 AND visible FOR UPDATE`, roomID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Room{}, roomNotFound(roomID)
	}
	if err != nil {
		return models.Room{}, err
	}
	return row.toModel(), nil
}

func getMembership(ctx context.Context, q sqlx.QueryerContext, roomID, userID int64) (models.Membership, error) {
	var m models.Membership
	err := sqlx.GetContext(ctx, q, &m, `SELECT `+memberColumns+` FROM room_members WHERE room_id=$1 AND user_id=$2`, roomID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Membership{}, memberNotFound(roomID, userID)
	}
	return m, err
}

func activeMembership(ctx context.Context, q sqlx.QueryerContext, roomID, userID int64) (models.Membership, error) {
	m, err := getMembership(ctx, q, roomID, userID)
	if err != nil {
		return models.Membership{}, err
	}
	if !m.Active() {
		return models.Membership{}, memberNotFound(roomID, userID)
	}
	return m, nil
}

var _ MembershipRepository = (*MembershipRepo)(nil)
