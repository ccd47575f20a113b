package auth

import "errors"

var (
	// ErrUnauthenticated covers every credential failure: missing, malformed,
	// expired, mis-signed, or revoked. Callers present it as HTTP 401 with a
	// generic message and never distinguish the sub-cause.
	ErrUnauthenticated = errors.New("auth: unauthenticated")

	// ErrForbidden means the credential is valid but the resolved permission
	// set does not include the requested action. Presented as HTTP 403.
	ErrForbidden = errors.New("auth: forbidden")

	// ErrInvalidToken indicates the token failed structural, signature, or
	// expiry validation.
	ErrInvalidToken = errors.New("auth: invalid token")

	ErrNotFound     = errors.New("auth: not found")
	ErrInvalidInput = errors.New("auth: invalid input")
	ErrConflict     = errors.New("auth: already exists")
)
