package domain

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// ErrMemberNotFound is returned when no member_tracking row exists for a user.
var ErrMemberNotFound = errors.New("member not tracked")

// MemberRecord is the persisted engagement state of one community member.
type MemberRecord struct {
	UserID           string       `json:"user_id"`
	IsVerified       bool         `json:"is_verified"`
	HasClosedDmsRole bool         `json:"has_closed_dms_role"`
	WelcomeDMSent    bool         `json:"welcome_dm_sent"`
	StillInServer    bool         `json:"still_in_server"`
	JoinedAt         time.Time    `json:"joined_at"`
	DMSentAt         sql.NullTime `json:"dm_sent_at,omitempty"`
	UpdatedAt        time.Time    `json:"updated_at"`
}

// MemberUpdate is a partial update; nil fields are left unchanged.
type MemberUpdate struct {
	IsVerified       *bool
	HasClosedDmsRole *bool
	StillInServer    *bool
}

// IsEmpty reports whether the update would change nothing.
func (u MemberUpdate) IsEmpty() bool {
	return u.IsVerified == nil && u.HasClosedDmsRole == nil && u.StillInServer == nil
}

// EventType is the kind of membership change reported by the chat gateway.
type EventType string

const (
	EventJoined       EventType = "joined"
	EventLeft         EventType = "left"
	EventRolesUpdated EventType = "roles_updated"
)

// MemberEvent is consumed from the broker.
type MemberEvent struct {
	Type   EventType `json:"type" validate:"required,oneof=joined left roles_updated"`
	UserID string    `json:"user_id" validate:"required"`
	Roles  []string  `json:"roles"`
	At     time.Time `json:"at"`
}

// HasRole reports whether the event's role list contains roleID.
func (e *MemberEvent) HasRole(roleID string) bool {
	if roleID == "" {
		return false
	}
	for _, r := range e.Roles {
		if r == roleID {
			return true
		}
	}
	return false
}

type MemberRepository interface {
	GetMember(ctx context.Context, userID string) (*MemberRecord, error)
	// UpsertMember inserts or refreshes a member on join. It never clears welcome_dm_sent.
	UpsertMember(ctx context.Context, m *MemberRecord) error
	UpdateMemberFields(ctx context.Context, userID string, u MemberUpdate) error
	// ClaimWelcomeDM sets welcome_dm_sent if it was still false. claimed is false
	// when another producer got there first.
	ClaimWelcomeDM(ctx context.Context, userID string, at time.Time) (claimed bool, err error)
	// ReleaseWelcomeDM undoes a claim whose enqueue failed.
	ReleaseWelcomeDM(ctx context.Context, userID string) error
	// ListWelcomeCandidates returns present, not opted out, not yet welcomed
	// members who joined at or before joinedBefore, oldest first.
	ListWelcomeCandidates(ctx context.Context, joinedBefore time.Time, limit int) ([]*MemberRecord, error)
}
