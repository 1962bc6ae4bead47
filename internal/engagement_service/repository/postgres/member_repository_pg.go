package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopbridge/golang_services/internal/engagement_service/domain"
	"github.com/shopbridge/golang_services/internal/platform/database"
)

const memberColumns = `user_id, is_verified, has_closed_dms_role, welcome_dm_sent, still_in_server, joined_at, dm_sent_at, updated_at`

// PgMemberRepository stores member engagement state in member_tracking.
type PgMemberRepository struct {
	db     database.DBTX
	logger *slog.Logger
	now    func() time.Time
}

func NewPgMemberRepository(db database.DBTX, logger *slog.Logger) *PgMemberRepository {
	return &PgMemberRepository{db: db, logger: logger.With("repository", "member_tracking"), now: time.Now}
}

func (r *PgMemberRepository) GetMember(ctx context.Context, userID string) (*domain.MemberRecord, error) {
	query := `SELECT ` + memberColumns + ` FROM member_tracking WHERE user_id = $1`
	m, err := scanMember(r.db.QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrMemberNotFound
		}
		r.logger.ErrorContext(ctx, "Error getting member", "error", err, "user_id", userID)
		return nil, err
	}
	return m, nil
}

func (r *PgMemberRepository) UpsertMember(ctx context.Context, m *domain.MemberRecord) error {
	query := `
		INSERT INTO member_tracking (user_id, is_verified, has_closed_dms_role, still_in_server, joined_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id) DO UPDATE SET
			is_verified = EXCLUDED.is_verified,
			has_closed_dms_role = EXCLUDED.has_closed_dms_role,
			still_in_server = EXCLUDED.still_in_server,
			joined_at = EXCLUDED.joined_at,
			updated_at = EXCLUDED.updated_at
	`
	_, err := r.db.Exec(ctx, query, m.UserID, m.IsVerified, m.HasClosedDmsRole, m.StillInServer, m.JoinedAt, r.now().UTC())
	if err != nil {
		r.logger.ErrorContext(ctx, "Error upserting member", "error", err, "user_id", m.UserID)
		return fmt.Errorf("upsert member %s: %w", m.UserID, err)
	}
	return nil
}

// UpdateMemberFields applies the non-nil fields of u.
func (r *PgMemberRepository) UpdateMemberFields(ctx context.Context, userID string, u domain.MemberUpdate) error {
	if u.IsEmpty() {
		return nil
	}
	var (
		sets []string
		args []any
	)
	add := func(column string, v bool) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if u.IsVerified != nil {
		add("is_verified", *u.IsVerified)
	}
	if u.HasClosedDmsRole != nil {
		add("has_closed_dms_role", *u.HasClosedDmsRole)
	}
	if u.StillInServer != nil {
		add("still_in_server", *u.StillInServer)
	}
	args = append(args, r.now().UTC(), userID)
	query := fmt.Sprintf(`UPDATE member_tracking SET %s, updated_at = $%d WHERE user_id = $%d`,
		strings.Join(sets, ", "), len(args)-1, len(args))

	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error updating member", "error", err, "user_id", userID)
		return fmt.Errorf("update member %s: %w", userID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrMemberNotFound
	}
	return nil
}

func (r *PgMemberRepository) ClaimWelcomeDM(ctx context.Context, userID string, at time.Time) (bool, error) {
	query := `
		UPDATE member_tracking SET welcome_dm_sent = TRUE, dm_sent_at = $2, updated_at = $2
		WHERE user_id = $1 AND welcome_dm_sent = FALSE
		RETURNING user_id
	`
	var claimed string
	err := r.db.QueryRow(ctx, query, userID, at).Scan(&claimed)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		r.logger.ErrorContext(ctx, "Error claiming welcome DM", "error", err, "user_id", userID)
		return false, err
	}
	return true, nil
}

func (r *PgMemberRepository) ReleaseWelcomeDM(ctx context.Context, userID string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE member_tracking SET welcome_dm_sent = FALSE, dm_sent_at = NULL, updated_at = $2 WHERE user_id = $1`,
		userID, r.now().UTC())
	if err != nil {
		r.logger.ErrorContext(ctx, "Error releasing welcome DM claim", "error", err, "user_id", userID)
	}
	return err
}

func (r *PgMemberRepository) ListWelcomeCandidates(ctx context.Context, joinedBefore time.Time, limit int) ([]*domain.MemberRecord, error) {
	query := `
		SELECT ` + memberColumns + `
		FROM member_tracking
		WHERE welcome_dm_sent = FALSE AND has_closed_dms_role = FALSE AND still_in_server = TRUE
			AND joined_at <= $1
		ORDER BY joined_at ASC
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, joinedBefore, limit)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error listing welcome candidates", "error", err)
		return nil, err
	}
	defer rows.Close()

	var members []*domain.MemberRecord
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

func scanMember(row pgx.Row) (*domain.MemberRecord, error) {
	var m domain.MemberRecord
	err := row.Scan(&m.UserID, &m.IsVerified, &m.HasClosedDmsRole, &m.WelcomeDMSent, &m.StillInServer,
		&m.JoinedAt, &m.DMSentAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}
