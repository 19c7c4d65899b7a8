package httpapi

import (
	"crypto/subtle"
	"strings"
)

type authError struct {
	status  int
	code    string
	message string
}

func (e *authError) Error() string {
	return e.message
}

// authorizeWrite checks the bearer token on mutating endpoints. An
// empty configured token disables write auth entirely (development
// mode); reads never pass through here.
func authorizeWrite(authHeader, writeToken string) *authError {
	if writeToken == "" {
		return nil
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return &authError{status: 401, code: "unauthorized", message: "missing or invalid bearer token"}
	}
	presented := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if subtle.ConstantTimeCompare([]byte(presented), []byte(writeToken)) != 1 {
		return &authError{status: 403, code: "forbidden", message: "invalid write token"}
	}
	return nil
}
