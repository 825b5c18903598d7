package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/locolive/socialgraph/internal/domain"
)

// MemoryRepository implements domain.RelationshipStore and
// domain.MembershipStore in process memory. One mutex serializes every
// mutation, which is stronger than the per-pair and per-group isolation the
// domain needs.
type MemoryRepository struct {
	mu          sync.RWMutex
	edges       map[edgeKey]domain.FriendEdge
	groups      map[uuid.UUID]domain.Group
	memberships map[uuid.UUID]map[uuid.UUID]domain.Membership
}

type edgeKey struct {
	low, high uuid.UUID
}

func newEdgeKey(a, b uuid.UUID) edgeKey {
	low, high := domain.OrderPair(a, b)
	return edgeKey{low: low, high: high}
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		edges:       make(map[edgeKey]domain.FriendEdge),
		groups:      make(map[uuid.UUID]domain.Group),
		memberships: make(map[uuid.UUID]map[uuid.UUID]domain.Membership),
	}
}

// Ping always succeeds.
func (r *MemoryRepository) Ping(ctx context.Context) error {
	return ctx.Err()
}

// MutateEdge implements domain.RelationshipStore.
func (r *MemoryRepository) MutateEdge(ctx context.Context, a, b uuid.UUID, fn domain.EdgeMutation) (*domain.FriendEdge, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := newEdgeKey(a, b)
	var current *domain.FriendEdge
	if edge, ok := r.edges[key]; ok {
		current = &edge
	}

	change, err := fn(cloneEdge(current))
	if err != nil {
		return nil, err
	}

	switch change.Op {
	case domain.EdgePut:
		r.edges[key] = *change.Edge
		return cloneEdge(change.Edge), nil
	case domain.EdgeDelete:
		delete(r.edges, key)
		return nil, nil
	default:
		return current, nil
	}
}

// GetEdge implements domain.RelationshipStore.
func (r *MemoryRepository) GetEdge(ctx context.Context, a, b uuid.UUID) (*domain.FriendEdge, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if edge, ok := r.edges[newEdgeKey(a, b)]; ok {
		return &edge, nil
	}
	return nil, nil
}

// ListEdges implements domain.RelationshipStore, newest first.
func (r *MemoryRepository) ListEdges(ctx context.Context, userID uuid.UUID, filter domain.EdgeFilter, limit, offset int) ([]*domain.FriendEdge, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	var result []*domain.FriendEdge
	for key, edge := range r.edges {
		if key.low != userID && key.high != userID {
			continue
		}
		if filter.Status != "" && edge.Status != filter.Status {
			continue
		}
		if edge.Status == domain.EdgeStatusPending {
			switch filter.Direction {
			case domain.DirectionIncoming:
				if edge.RequesterID == userID {
					continue
				}
			case domain.DirectionOutgoing:
				if edge.RequesterID != userID {
					continue
				}
			}
		}
		e := edge
		result = append(result, &e)
	}
	r.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		return result[i].UpdatedAt.After(result[j].UpdatedAt)
	})
	return paginate(result, limit, offset), nil
}

// CreateGroup implements domain.MembershipStore.
func (r *MemoryRepository) CreateGroup(ctx context.Context, params domain.CreateGroupParams) (*domain.Group, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	group := domain.Group{
		ID:          uuid.New(),
		Name:        params.Name,
		Privacy:     params.Privacy,
		CreatorID:   params.CreatorID,
		MemberCount: 1,
		CreatedAt:   params.CreatedAt,
		UpdatedAt:   params.CreatedAt,
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.groups[group.ID] = group
	r.memberships[group.ID] = map[uuid.UUID]domain.Membership{
		params.CreatorID: {
			GroupID:   group.ID,
			UserID:    params.CreatorID,
			Role:      domain.RoleAdmin,
			Status:    domain.MembershipActive,
			CreatedAt: params.CreatedAt,
			UpdatedAt: params.CreatedAt,
		},
	}
	return &group, nil
}

// GetGroup implements domain.MembershipStore.
func (r *MemoryRepository) GetGroup(ctx context.Context, groupID uuid.UUID) (*domain.Group, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	group, ok := r.groups[groupID]
	if !ok {
		return nil, domain.ErrGroupNotFound
	}
	return &group, nil
}

// GetMembership implements domain.MembershipStore.
func (r *MemoryRepository) GetMembership(ctx context.Context, groupID, userID uuid.UUID) (*domain.Membership, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.groups[groupID]; !ok {
		return nil, domain.ErrGroupNotFound
	}
	m, ok := r.memberships[groupID][userID]
	if !ok {
		return nil, domain.ErrMembershipNotFound
	}
	return &m, nil
}

// ListMemberships implements domain.MembershipStore, oldest first.
func (r *MemoryRepository) ListMemberships(ctx context.Context, groupID uuid.UUID, filter domain.MembershipFilter, limit, offset int) ([]*domain.Membership, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	var result []*domain.Membership
	for _, m := range r.memberships[groupID] {
		if filter.Status != "" && m.Status != filter.Status {
			continue
		}
		row := m
		result = append(result, &row)
	}
	r.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].UserID.String() < result[j].UserID.String()
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return paginate(result, limit, offset), nil
}

// MutateMembership implements domain.MembershipStore.
func (r *MemoryRepository) MutateMembership(ctx context.Context, groupID, actorID, targetID uuid.UUID, fn domain.MembershipMutation) (*domain.MembershipSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	group, ok := r.groups[groupID]
	if !ok {
		return nil, domain.ErrGroupNotFound
	}
	rows := r.memberships[groupID]

	snap := &domain.MembershipSnapshot{Group: &group}
	if m, ok := rows[actorID]; ok {
		snap.Actor = &m
	}
	if m, ok := rows[targetID]; ok {
		snap.Target = &m
	}
	for _, m := range sortedRows(rows) {
		if m.Status != domain.MembershipActive {
			continue
		}
		if m.Role == domain.RoleAdmin {
			snap.ActiveAdmins++
		}
		if m.Role.IsStaff() {
			snap.Staff = append(snap.Staff, m.UserID)
		}
	}

	change, err := fn(snap)
	if err != nil {
		return nil, err
	}

	if change.Target != nil {
		rows[change.Target.UserID] = *change.Target
		target := *change.Target
		snap.Target = &target
	}
	if change.CountDelta != 0 {
		group.MemberCount += change.CountDelta
		if change.Target != nil {
			group.UpdatedAt = change.Target.UpdatedAt
		}
		r.groups[groupID] = group
	}
	return snap, nil
}

func sortedRows(rows map[uuid.UUID]domain.Membership) []domain.Membership {
	out := make([]domain.Membership, 0, len(rows))
	for _, m := range rows {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].UserID.String() < out[j].UserID.String()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func cloneEdge(e *domain.FriendEdge) *domain.FriendEdge {
	if e == nil {
		return nil
	}
	c := *e
	return &c
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
