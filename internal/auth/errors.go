package auth

import "errors"

var (
	ErrNotFound           = errors.New("auth: not found")
	ErrDuplicateEmail     = errors.New("auth: email already in use")
	ErrDuplicateName      = errors.New("auth: role name already in use")
	ErrEmailTaken         = errors.New("auth: email already registered")
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrRoleInUse          = errors.New("auth: role has assigned users")
	ErrRoleProtected      = errors.New("auth: built-in role cannot be deleted")
	ErrInvalidInput       = errors.New("auth: invalid input")
	ErrUnauthorized       = errors.New("auth: unauthorized")
	ErrInvalidToken       = errors.New("auth: invalid token")
)
