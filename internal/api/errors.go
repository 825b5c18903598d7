package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/locolive/socialgraph/internal/domain"
	"github.com/locolive/socialgraph/pkg/response"
	"github.com/locolive/socialgraph/pkg/validator"
)

// writeError maps domain errors onto the response envelope. Anything not
// recognised is logged and reported as an internal error.
func writeError(w http.ResponseWriter, logger *zap.Logger, op string, err error) {
	var verrs validator.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		response.Invalid(w, verrs.Error(), verrs)
	case errors.Is(err, domain.ErrAlreadyFriends):
		response.Conflict(w, "ALREADY_FRIENDS", err.Error())
	case errors.Is(err, domain.ErrInvalidTransition):
		response.Conflict(w, "INVALID_TRANSITION", err.Error())
	case errors.Is(err, domain.ErrCannotRemoveLastAdmin):
		response.Conflict(w, "CANNOT_REMOVE_LAST_ADMIN", err.Error())
	case errors.Is(err, domain.ErrNoSuchRequest):
		response.NotFound(w, "NO_SUCH_REQUEST", err.Error())
	case errors.Is(err, domain.ErrNotFriends):
		response.NotFound(w, "NOT_FRIENDS", err.Error())
	case errors.Is(err, domain.ErrGroupNotFound):
		response.NotFound(w, "GROUP_NOT_FOUND", err.Error())
	case errors.Is(err, domain.ErrMembershipNotFound):
		response.NotFound(w, "MEMBERSHIP_NOT_FOUND", err.Error())
	case errors.Is(err, domain.ErrForbidden):
		response.Forbidden(w, err.Error())
	case errors.Is(err, domain.ErrSelfRelation),
		errors.Is(err, domain.ErrInvalidRole),
		errors.Is(err, domain.ErrInvalidAction),
		errors.Is(err, domain.ErrInvalidPrivacy),
		errors.Is(err, domain.ErrInvalidGroupName):
		response.BadRequest(w, err.Error())
	default:
		logger.Error("request failed", zap.String("op", op), zap.Error(err))
		response.InternalError(w, "failed to "+op)
	}
}

// pathUUID parses a uuid route parameter, answering 400 when it is malformed.
func pathUUID(w http.ResponseWriter, raw, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(raw)
	if err != nil {
		response.BadRequest(w, "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

// pagination reads page and limit query parameters.
func pagination(r *http.Request) (limit, offset int) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	return limit, (page - 1) * limit
}
