package repository

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/locolive/socialgraph/internal/domain"
)

//go:embed schema.sql
var schema string

// PostgresRepository implements domain.RelationshipStore and
// domain.MembershipStore using PostgreSQL.
type PostgresRepository struct {
	db           *pgxpool.Pool
	queryTimeout time.Duration
}

// NewPostgresRepository creates a new PostgreSQL repository. Every call is
// bounded by queryTimeout when it is positive.
func NewPostgresRepository(db *pgxpool.Pool, queryTimeout time.Duration) *PostgresRepository {
	return &PostgresRepository{db: db, queryTimeout: queryTimeout}
}

// Migrate creates the tables if they do not exist.
func (r *PostgresRepository) Migrate(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	ctx, cancel := r.bound(ctx)
	defer cancel()
	return r.db.Ping(ctx)
}

const edgeColumns = `user_low, user_high, status, requester_id, requested_at, updated_at`

// MutateEdge implements domain.RelationshipStore. The advisory lock covers
// the case where the pair has no row yet and FOR UPDATE has nothing to lock.
func (r *PostgresRepository) MutateEdge(ctx context.Context, a, b uuid.UUID, fn domain.EdgeMutation) (*domain.FriendEdge, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	low, high := domain.OrderPair(a, b)
	var result *domain.FriendEdge

	err := pgx.BeginTxFunc(ctx, r.db, pgx.TxOptions{}, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, low.String()+":"+high.String()); err != nil {
			return fmt.Errorf("failed to lock pair: %w", err)
		}

		current, err := scanEdge(tx.QueryRow(ctx,
			`SELECT `+edgeColumns+` FROM friend_edges WHERE user_low = $1 AND user_high = $2 FOR UPDATE`,
			low, high,
		))
		if err != nil {
			return err
		}

		change, err := fn(current)
		if err != nil {
			return err
		}

		switch change.Op {
		case domain.EdgePut:
			e := change.Edge
			_, err = tx.Exec(ctx, `
				INSERT INTO friend_edges (`+edgeColumns+`)
				VALUES ($1, $2, $3, $4, $5, $6)
				ON CONFLICT (user_low, user_high) DO UPDATE SET
					status = EXCLUDED.status,
					requester_id = EXCLUDED.requester_id,
					requested_at = EXCLUDED.requested_at,
					updated_at = EXCLUDED.updated_at
			`, e.UserLow, e.UserHigh, e.Status, e.RequesterID, e.RequestedAt, e.UpdatedAt)
			if err != nil {
				return fmt.Errorf("failed to store edge: %w", err)
			}
			result = e
		case domain.EdgeDelete:
			if _, err := tx.Exec(ctx, `DELETE FROM friend_edges WHERE user_low = $1 AND user_high = $2`, low, high); err != nil {
				return fmt.Errorf("failed to delete edge: %w", err)
			}
		default:
			result = current
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// GetEdge implements domain.RelationshipStore.
func (r *PostgresRepository) GetEdge(ctx context.Context, a, b uuid.UUID) (*domain.FriendEdge, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	low, high := domain.OrderPair(a, b)
	return scanEdge(r.db.QueryRow(ctx,
		`SELECT `+edgeColumns+` FROM friend_edges WHERE user_low = $1 AND user_high = $2`,
		low, high,
	))
}

// ListEdges implements domain.RelationshipStore, newest first.
func (r *PostgresRepository) ListEdges(ctx context.Context, userID uuid.UUID, filter domain.EdgeFilter, limit, offset int) ([]*domain.FriendEdge, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	query := `
		SELECT ` + edgeColumns + ` FROM friend_edges
		WHERE (user_low = $1 OR user_high = $1)
		  AND ($2 = '' OR status = $2)
		  AND (status <> 'pending' OR $3 = ''
		       OR ($3 = 'incoming' AND requester_id <> $1)
		       OR ($3 = 'outgoing' AND requester_id = $1))
		ORDER BY updated_at DESC
		LIMIT NULLIF($4::int, 0) OFFSET $5
	`
	rows, err := r.db.Query(ctx, query, userID, string(filter.Status), string(filter.Direction), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list edges: %w", err)
	}
	defer rows.Close()

	var edges []*domain.FriendEdge
	for rows.Next() {
		edge, err := scanEdge(rows)
		if err != nil {
			return nil, err
		}
		edges = append(edges, edge)
	}
	return edges, rows.Err()
}

const membershipColumns = `group_id, user_id, role, status, created_at, updated_at`
const groupColumns = `id, name, privacy, creator_id, member_count, created_at, updated_at`

// CreateGroup implements domain.MembershipStore.
func (r *PostgresRepository) CreateGroup(ctx context.Context, params domain.CreateGroupParams) (*domain.Group, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	var group *domain.Group
	err := pgx.BeginTxFunc(ctx, r.db, pgx.TxOptions{}, func(tx pgx.Tx) error {
		var err error
		group, err = scanGroup(tx.QueryRow(ctx, `
			INSERT INTO groups (id, name, privacy, creator_id, member_count, created_at, updated_at)
			VALUES ($1, $2, $3, $4, 1, $5, $5)
			RETURNING `+groupColumns,
			uuid.New(), params.Name, params.Privacy, params.CreatorID, params.CreatedAt,
		))
		if err != nil {
			return err
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO group_memberships (`+membershipColumns+`)
			VALUES ($1, $2, $3, $4, $5, $5)
		`, group.ID, params.CreatorID, domain.RoleAdmin, domain.MembershipActive, params.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to create creator membership: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return group, nil
}

// GetGroup implements domain.MembershipStore.
func (r *PostgresRepository) GetGroup(ctx context.Context, groupID uuid.UUID) (*domain.Group, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	return scanGroup(r.db.QueryRow(ctx, `SELECT `+groupColumns+` FROM groups WHERE id = $1`, groupID))
}

// GetMembership implements domain.MembershipStore.
func (r *PostgresRepository) GetMembership(ctx context.Context, groupID, userID uuid.UUID) (*domain.Membership, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	if _, err := scanGroup(r.db.QueryRow(ctx, `SELECT `+groupColumns+` FROM groups WHERE id = $1`, groupID)); err != nil {
		return nil, err
	}

	m, err := scanMembership(r.db.QueryRow(ctx,
		`SELECT `+membershipColumns+` FROM group_memberships WHERE group_id = $1 AND user_id = $2`,
		groupID, userID,
	))
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, domain.ErrMembershipNotFound
	}
	return m, nil
}

// ListMemberships implements domain.MembershipStore, oldest first.
func (r *PostgresRepository) ListMemberships(ctx context.Context, groupID uuid.UUID, filter domain.MembershipFilter, limit, offset int) ([]*domain.Membership, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	rows, err := r.db.Query(ctx, `
		SELECT `+membershipColumns+` FROM group_memberships
		WHERE group_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY created_at, user_id
		LIMIT NULLIF($3::int, 0) OFFSET $4
	`, groupID, string(filter.Status), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list memberships: %w", err)
	}
	defer rows.Close()

	var members []*domain.Membership
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// MutateMembership implements domain.MembershipStore. Locking the group row
// serializes every transition of the group, which keeps member_count and the
// admin count consistent with the rows.
func (r *PostgresRepository) MutateMembership(ctx context.Context, groupID, actorID, targetID uuid.UUID, fn domain.MembershipMutation) (*domain.MembershipSnapshot, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	var snap *domain.MembershipSnapshot
	err := pgx.BeginTxFunc(ctx, r.db, pgx.TxOptions{}, func(tx pgx.Tx) error {
		group, err := scanGroup(tx.QueryRow(ctx, `SELECT `+groupColumns+` FROM groups WHERE id = $1 FOR UPDATE`, groupID))
		if err != nil {
			return err
		}
		snap = &domain.MembershipSnapshot{Group: group}

		if snap.Actor, err = r.membershipTx(ctx, tx, groupID, actorID); err != nil {
			return err
		}
		if snap.Target, err = r.membershipTx(ctx, tx, groupID, targetID); err != nil {
			return err
		}
		if err := r.loadStaff(ctx, tx, snap); err != nil {
			return err
		}

		change, err := fn(snap)
		if err != nil {
			return err
		}

		if t := change.Target; t != nil {
			_, err := tx.Exec(ctx, `
				INSERT INTO group_memberships (`+membershipColumns+`)
				VALUES ($1, $2, $3, $4, $5, $6)
				ON CONFLICT (group_id, user_id) DO UPDATE SET
					role = EXCLUDED.role,
					status = EXCLUDED.status,
					updated_at = EXCLUDED.updated_at
			`, t.GroupID, t.UserID, t.Role, t.Status, t.CreatedAt, t.UpdatedAt)
			if err != nil {
				return fmt.Errorf("failed to store membership: %w", err)
			}
			snap.Target = t
		}

		if change.CountDelta != 0 {
			snap.Group, err = scanGroup(tx.QueryRow(ctx, `
				UPDATE groups SET member_count = member_count + $2, updated_at = NOW()
				WHERE id = $1
				RETURNING `+groupColumns,
				groupID, change.CountDelta,
			))
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

func (r *PostgresRepository) membershipTx(ctx context.Context, tx pgx.Tx, groupID, userID uuid.UUID) (*domain.Membership, error) {
	return scanMembership(tx.QueryRow(ctx,
		`SELECT `+membershipColumns+` FROM group_memberships WHERE group_id = $1 AND user_id = $2`,
		groupID, userID,
	))
}

func (r *PostgresRepository) loadStaff(ctx context.Context, tx pgx.Tx, snap *domain.MembershipSnapshot) error {
	rows, err := tx.Query(ctx, `
		SELECT user_id, role FROM group_memberships
		WHERE group_id = $1 AND status = 'active' AND role IN ('admin', 'moderator')
		ORDER BY created_at, user_id
	`, snap.Group.ID)
	if err != nil {
		return fmt.Errorf("failed to load group staff: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var userID uuid.UUID
		var role domain.Role
		if err := rows.Scan(&userID, &role); err != nil {
			return err
		}
		if role == domain.RoleAdmin {
			snap.ActiveAdmins++
		}
		snap.Staff = append(snap.Staff, userID)
	}
	return rows.Err()
}

func (r *PostgresRepository) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.queryTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.queryTimeout)
}

// Helper functions for scanning rows

// scanEdge returns nil, nil when the pair has no row.
func scanEdge(row pgx.Row) (*domain.FriendEdge, error) {
	var edge domain.FriendEdge
	err := row.Scan(
		&edge.UserLow,
		&edge.UserHigh,
		&edge.Status,
		&edge.RequesterID,
		&edge.RequestedAt,
		&edge.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &edge, nil
}

func scanGroup(row pgx.Row) (*domain.Group, error) {
	var group domain.Group
	err := row.Scan(
		&group.ID,
		&group.Name,
		&group.Privacy,
		&group.CreatorID,
		&group.MemberCount,
		&group.CreatedAt,
		&group.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrGroupNotFound
		}
		return nil, err
	}
	return &group, nil
}

// scanMembership returns nil, nil when there is no row.
func scanMembership(row pgx.Row) (*domain.Membership, error) {
	var m domain.Membership
	err := row.Scan(
		&m.GroupID,
		&m.UserID,
		&m.Role,
		&m.Status,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &m, nil
}
