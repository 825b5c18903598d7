package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/locolive/socialgraph/internal/domain"
	"github.com/locolive/socialgraph/internal/middleware"
	"github.com/locolive/socialgraph/pkg/response"
	"github.com/locolive/socialgraph/pkg/validator"
)

type GroupHandler struct {
	memberships *domain.MembershipService
	logger      *zap.Logger
}

func NewGroupHandler(memberships *domain.MembershipService, logger *zap.Logger) *GroupHandler {
	return &GroupHandler{
		memberships: memberships,
		logger:      logger,
	}
}

type createGroupBody struct {
	Name    string `json:"name" validate:"notblank,max=100"`
	Privacy string `json:"privacy" validate:"required,oneof=public private secret"`
}

type memberActionBody struct {
	Action string `json:"action" validate:"required,oneof=approve reject remove promote demote"`
	Role   string `json:"role" validate:"omitempty,oneof=member moderator admin"`
}

// CreateGroup handles POST /groups
func (h *GroupHandler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "not authenticated")
		return
	}

	var req createGroupBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid request")
		return
	}
	if errs := validator.Struct(req); errs.HasErrors() {
		writeError(w, h.logger, "create group", errs)
		return
	}

	group, err := h.memberships.CreateGroup(r.Context(), userID, req.Name, domain.Privacy(req.Privacy))
	if err != nil {
		writeError(w, h.logger, "create group", err)
		return
	}
	response.Created(w, group)
}

// GetGroup handles GET /groups/{groupID}. Secret groups are only visible to
// users holding a pending or active row.
func (h *GroupHandler) GetGroup(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "not authenticated")
		return
	}
	groupID, ok := pathUUID(w, chi.URLParam(r, "groupID"), "group id")
	if !ok {
		return
	}

	group, err := h.visibleGroup(r, groupID, userID)
	if err != nil {
		writeError(w, h.logger, "get group", err)
		return
	}
	response.OK(w, group)
}

// GetMembers handles GET /groups/{groupID}/members?status=. Only active staff
// may list pending or removed rows.
func (h *GroupHandler) GetMembers(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "not authenticated")
		return
	}
	groupID, ok := pathUUID(w, chi.URLParam(r, "groupID"), "group id")
	if !ok {
		return
	}

	status := domain.MembershipStatus(r.URL.Query().Get("status"))
	switch status {
	case "":
		status = domain.MembershipActive
	case domain.MembershipActive, domain.MembershipPending, domain.MembershipRemoved:
	default:
		response.BadRequest(w, "status must be active, pending or removed")
		return
	}

	if _, err := h.visibleGroup(r, groupID, userID); err != nil {
		writeError(w, h.logger, "get members", err)
		return
	}
	if status != domain.MembershipActive {
		viewer, err := h.memberships.Membership(r.Context(), groupID, userID)
		if err != nil && !errors.Is(err, domain.ErrMembershipNotFound) {
			writeError(w, h.logger, "get members", err)
			return
		}
		if !viewer.ActiveStaff() {
			writeError(w, h.logger, "get members", domain.ErrForbidden)
			return
		}
	}

	limit, offset := pagination(r)
	members, err := h.memberships.Members(r.Context(), groupID, status, limit, offset)
	if err != nil {
		writeError(w, h.logger, "get members", err)
		return
	}
	response.OK(w, members)
}

// Join handles POST /groups/{groupID}/join
func (h *GroupHandler) Join(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "not authenticated")
		return
	}
	groupID, ok := pathUUID(w, chi.URLParam(r, "groupID"), "group id")
	if !ok {
		return
	}

	membership, err := h.memberships.RequestJoin(r.Context(), userID, groupID)
	if err != nil {
		writeError(w, h.logger, "join group", err)
		return
	}
	response.OK(w, membership)
}

// Leave handles POST /groups/{groupID}/leave
func (h *GroupHandler) Leave(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "not authenticated")
		return
	}
	groupID, ok := pathUUID(w, chi.URLParam(r, "groupID"), "group id")
	if !ok {
		return
	}

	membership, err := h.memberships.LeaveGroup(r.Context(), userID, groupID)
	if err != nil {
		writeError(w, h.logger, "leave group", err)
		return
	}
	response.OK(w, membership)
}

// MemberAction handles POST /groups/{groupID}/members/{userID}/actions
func (h *GroupHandler) MemberAction(w http.ResponseWriter, r *http.Request) {
	actorID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "not authenticated")
		return
	}
	groupID, ok := pathUUID(w, chi.URLParam(r, "groupID"), "group id")
	if !ok {
		return
	}
	targetID, ok := pathUUID(w, chi.URLParam(r, "userID"), "user id")
	if !ok {
		return
	}

	var req memberActionBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid request")
		return
	}
	if errs := validator.Struct(req); errs.HasErrors() {
		writeError(w, h.logger, "apply member action", errs)
		return
	}

	membership, err := h.memberships.MemberAction(r.Context(), actorID, groupID, targetID,
		domain.MemberAction(req.Action), domain.Role(req.Role))
	if err != nil {
		writeError(w, h.logger, "apply member action", err)
		return
	}
	response.OK(w, membership)
}

func (h *GroupHandler) visibleGroup(r *http.Request, groupID, userID uuid.UUID) (*domain.Group, error) {
	group, err := h.memberships.Group(r.Context(), groupID)
	if err != nil {
		return nil, err
	}
	if group.Privacy != domain.PrivacySecret {
		return group, nil
	}

	m, err := h.memberships.Membership(r.Context(), groupID, userID)
	if err != nil {
		if errors.Is(err, domain.ErrMembershipNotFound) {
			return nil, domain.ErrGroupNotFound
		}
		return nil, err
	}
	if m.Status == domain.MembershipRemoved {
		return nil, domain.ErrGroupNotFound
	}
	return group, nil
}
