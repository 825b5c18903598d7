package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/locolive/socialgraph/internal/domain"
	"github.com/locolive/socialgraph/internal/middleware"
	"github.com/locolive/socialgraph/pkg/response"
	"github.com/locolive/socialgraph/pkg/validator"
)

type FriendHandler struct {
	graph  *domain.GraphService
	logger *zap.Logger
}

func NewFriendHandler(graph *domain.GraphService, logger *zap.Logger) *FriendHandler {
	return &FriendHandler{
		graph:  graph,
		logger: logger,
	}
}

// FriendView is a friend edge as seen by one side of the pair.
type FriendView struct {
	UserID      uuid.UUID             `json:"user_id"`
	Status      domain.RelationStatus `json:"status"`
	RequestedAt time.Time             `json:"requested_at"`
	UpdatedAt   time.Time             `json:"updated_at"`
}

func viewOf(viewer uuid.UUID, edge *domain.FriendEdge) *FriendView {
	if edge == nil {
		return nil
	}
	return &FriendView{
		UserID:      edge.Other(viewer),
		Status:      edge.StatusFor(viewer),
		RequestedAt: edge.RequestedAt,
		UpdatedAt:   edge.UpdatedAt,
	}
}

func viewsOf(viewer uuid.UUID, edges []*domain.FriendEdge) []*FriendView {
	out := make([]*FriendView, 0, len(edges))
	for _, e := range edges {
		out = append(out, viewOf(viewer, e))
	}
	return out
}

type sendRequestBody struct {
	TargetUserID string `json:"target_user_id" validate:"required,uuid"`
}

// SendRequest handles POST /friends/requests
func (h *FriendHandler) SendRequest(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "not authenticated")
		return
	}

	var req sendRequestBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid request")
		return
	}
	if errs := validator.Struct(req); errs.HasErrors() {
		writeError(w, h.logger, "send request", errs)
		return
	}
	targetID := uuid.MustParse(req.TargetUserID)

	edge, err := h.graph.SendRequest(r.Context(), userID, targetID)
	if err != nil {
		writeError(w, h.logger, "send request", err)
		return
	}

	response.OK(w, viewOf(userID, edge))
}

// CancelRequest handles DELETE /friends/requests/{userID}
func (h *FriendHandler) CancelRequest(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "not authenticated")
		return
	}
	targetID, ok := pathUUID(w, chi.URLParam(r, "userID"), "user id")
	if !ok {
		return
	}

	if err := h.graph.CancelRequest(r.Context(), userID, targetID); err != nil {
		writeError(w, h.logger, "cancel request", err)
		return
	}
	response.NoContent(w)
}

// AcceptRequest handles POST /friends/requests/{userID}/accept
func (h *FriendHandler) AcceptRequest(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "not authenticated")
		return
	}
	fromID, ok := pathUUID(w, chi.URLParam(r, "userID"), "user id")
	if !ok {
		return
	}

	edge, err := h.graph.AcceptRequest(r.Context(), userID, fromID)
	if err != nil {
		writeError(w, h.logger, "accept request", err)
		return
	}
	response.OK(w, viewOf(userID, edge))
}

// RejectRequest handles POST /friends/requests/{userID}/reject
func (h *FriendHandler) RejectRequest(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "not authenticated")
		return
	}
	fromID, ok := pathUUID(w, chi.URLParam(r, "userID"), "user id")
	if !ok {
		return
	}

	if err := h.graph.RejectRequest(r.Context(), userID, fromID); err != nil {
		writeError(w, h.logger, "reject request", err)
		return
	}
	response.NoContent(w)
}

// RemoveFriend handles DELETE /friends/{userID}
func (h *FriendHandler) RemoveFriend(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "not authenticated")
		return
	}
	otherID, ok := pathUUID(w, chi.URLParam(r, "userID"), "user id")
	if !ok {
		return
	}

	if err := h.graph.RemoveFriend(r.Context(), userID, otherID); err != nil {
		writeError(w, h.logger, "remove friend", err)
		return
	}
	response.NoContent(w)
}

// GetFriends handles GET /friends
func (h *FriendHandler) GetFriends(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "not authenticated")
		return
	}

	limit, offset := pagination(r)
	edges, err := h.graph.Friends(r.Context(), userID, limit, offset)
	if err != nil {
		writeError(w, h.logger, "get friends", err)
		return
	}
	response.OK(w, viewsOf(userID, edges))
}

// GetRequests handles GET /friends/requests?direction=incoming|outgoing
func (h *FriendHandler) GetRequests(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "not authenticated")
		return
	}

	direction := domain.RequestDirection(r.URL.Query().Get("direction"))
	switch direction {
	case "", domain.DirectionIncoming, domain.DirectionOutgoing:
	default:
		response.BadRequest(w, "direction must be incoming or outgoing")
		return
	}

	limit, offset := pagination(r)
	edges, err := h.graph.PendingRequests(r.Context(), userID, direction, limit, offset)
	if err != nil {
		writeError(w, h.logger, "get requests", err)
		return
	}
	response.OK(w, viewsOf(userID, edges))
}

// GetStatus handles GET /friends/{userID}/status
func (h *FriendHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "not authenticated")
		return
	}
	otherID, ok := pathUUID(w, chi.URLParam(r, "userID"), "user id")
	if !ok {
		return
	}

	status, err := h.graph.Relationship(r.Context(), userID, otherID)
	if err != nil {
		writeError(w, h.logger, "get status", err)
		return
	}
	response.OK(w, map[string]interface{}{
		"user_id": otherID,
		"status":  status,
	})
}
