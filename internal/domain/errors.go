package domain

import "errors"

// State-machine errors. All of them leave stored state unchanged.
var (
	ErrInvalidTransition     = errors.New("invalid transition")
	ErrNoSuchRequest         = errors.New("no such friend request")
	ErrNotFriends            = errors.New("users are not friends")
	ErrAlreadyFriends        = errors.New("users are already friends")
	ErrForbidden             = errors.New("forbidden")
	ErrCannotRemoveLastAdmin = errors.New("cannot remove the last admin of a group")
	ErrSelfRelation          = errors.New("cannot target yourself")
	ErrGroupNotFound         = errors.New("group not found")
	ErrMembershipNotFound    = errors.New("membership not found")
	ErrInvalidRole           = errors.New("invalid role")
	ErrInvalidAction         = errors.New("invalid member action")
	ErrInvalidPrivacy        = errors.New("invalid group privacy")
	ErrInvalidGroupName      = errors.New("group name must not be empty")
)
