// Package domain holds the identity model: who a principal is and what role
// they carry through the platform.
package domain

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Role is the closed set of platform roles. Route requirements and access
// claims both use this enumeration; there is no dynamic role metadata.
type Role string

const (
	RoleLearner Role = "LEARNER"
	RoleMentor  Role = "MENTOR"
	RoleCompany Role = "COMPANY"
	RoleAdmin   Role = "ADMIN"
)

// ParseRole maps a string onto the role enumeration, case-insensitively.
func ParseRole(s string) (Role, error) {
	switch Role(strings.ToUpper(strings.TrimSpace(s))) {
	case RoleLearner:
		return RoleLearner, nil
	case RoleMentor:
		return RoleMentor, nil
	case RoleCompany:
		return RoleCompany, nil
	case RoleAdmin:
		return RoleAdmin, nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

// Identity represents a principal. Email is stored case-normalized and
// unique. PasswordHash is the bcrypt hash; the plaintext never leaves the
// register/login/reset handlers.
type Identity struct {
	ID           string
	Email        string
	Name         string
	PasswordHash string
	Role         Role
	DepartmentID string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

var emailRe = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// NormalizeEmail lower-cases and trims an email for storage and lookup.
func NormalizeEmail(email string) string {
	return strings.TrimSpace(strings.ToLower(email))
}

// ValidEmail reports whether the (normalized) email has a plausible shape.
func ValidEmail(email string) bool {
	return emailRe.MatchString(email)
}

// Validate checks the invariants a stored identity must satisfy.
func (i *Identity) Validate() error {
	if i.ID == "" {
		return errors.New("identity: id is required")
	}
	if !emailRe.MatchString(i.Email) {
		return fmt.Errorf("identity: invalid email %q", i.Email)
	}
	if i.PasswordHash == "" {
		return errors.New("identity: password hash is required")
	}
	if _, err := ParseRole(string(i.Role)); err != nil {
		return err
	}
	return nil
}

// Profile is the public projection of an identity. It never carries the
// password hash and is what login/refresh responses return.
type Profile struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name,omitempty"`
	Role         Role      `json:"role"`
	DepartmentID string    `json:"department_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Public returns the identity's public profile.
func (i *Identity) Public() Profile {
	return Profile{
		ID:           i.ID,
		Email:        i.Email,
		Name:         i.Name,
		Role:         i.Role,
		DepartmentID: i.DepartmentID,
		CreatedAt:    i.CreatedAt,
	}
}
