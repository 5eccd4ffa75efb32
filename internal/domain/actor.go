package domain

import (
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

type Role string

const (
	RoleCustomer Role = "customer"
	RoleAdmin    Role = "admin"
	RoleSystem   Role = "system"
)

// Actor is the already-authenticated caller of an engine operation.
type Actor struct {
	ID   uuid.UUID
	Role Role
	Name string
}

func Customer(id uuid.UUID) Actor {
	return Actor{ID: id, Role: RoleCustomer}
}

func Admin(id uuid.UUID) Actor {
	return Actor{ID: id, Role: RoleAdmin}
}

// System identifies an internal caller such as the expiry sweeper or a
// payment gateway adapter.
func System(name string) Actor {
	return Actor{Role: RoleSystem, Name: name}
}

func (a Actor) Privileged() bool {
	return a.Role == RoleAdmin || a.Role == RoleSystem
}

// CanAccess is the owner-or-admin identity check.
func (a Actor) CanAccess(b *Booking) bool {
	if a.Privileged() {
		return true
	}
	return a.Role == RoleCustomer && a.ID != uuid.Nil && a.ID == b.UserID
}

func (a Actor) String() string {
	if a.Role == RoleSystem {
		return "system:" + a.Name
	}
	return string(a.Role) + ":" + a.ID.String()
}

func ParseRole(v string) (Role, error) {
	switch r := Role(v); r {
	case RoleCustomer, RoleAdmin, RoleSystem:
		return r, nil
	}
	return "", errors.Wrapf(ErrInvalidInput, "unknown role %q", v)
}
