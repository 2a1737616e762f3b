package authorization

import (
	"context"
	"errors"

	devicedomain "github.com/digitraceslab/koota/internal/device/domain"
)

const (
	ObjectData  = "data"
	ObjectGroup = "group"
)

const (
	ActionDataRead    = "data.read"
	ActionGroupManage = "group.manage"
)

// Roles a user may hold within a study group.
const (
	RoleResearcher = "researcher"
	RoleAdmin      = "admin"
)

type Service interface {
	// Grant gives user role within the group.
	Grant(ctx context.Context, user, groupSlug, role string) error
	Revoke(ctx context.Context, user, groupSlug, role string) error
	Authorize(ctx context.Context, user, groupSlug, object, action string) error
	// CanReadDevice checks that user may read the data of d, either as its
	// owner or as a researcher of a group the owner is an active subject
	// of. A non-empty groupSlug restricts the check to that group.
	CanReadDevice(ctx context.Context, user string, d *devicedomain.Device, groupSlug string) error
}

var (
	ErrInvalidActor  = errors.New("invalid_actor")
	ErrInvalidGroup  = errors.New("invalid_group")
	ErrInvalidRole   = errors.New("invalid_role")
	ErrInvalidObject = errors.New("invalid_object")
	ErrInvalidAction = errors.New("invalid_action")
	ErrForbidden     = errors.New("forbidden")
)
