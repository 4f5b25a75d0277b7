// Package op is the boundary to the OIDC authorization-server engine. The
// engine itself is an external collaborator: this package defines the
// interfaces the broker consumes, the protocol error contract the engine
// expects, and the registry through which custom grant types are plugged into
// its token endpoint.
package op

import "fmt"

// ProtocolError is the engine's thrown-error contract for token endpoint
// failures, rendered as the standard OAuth2 error/error_description JSON
// body. Domain errors are translated into it at exactly one seam, the grant
// handler adapter.
type ProtocolError struct {
	Code        string
	Description string
	Status      int
}

func (e *ProtocolError) Error() string {
	if e.Description == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

func (e *ProtocolError) Is(target error) bool {
	t, ok := target.(*ProtocolError)
	if !ok {
		return false
	}
	return t.Code == "" || t.Code == e.Code
}

// NewInvalidGrant reports an unusable grant or subject token.
func NewInvalidGrant(description string) *ProtocolError {
	return &ProtocolError{Code: "invalid_grant", Description: description, Status: 400}
}

// NewInvalidTarget reports an RFC 8693 exchange whose target account cannot
// be resolved to a token.
func NewInvalidTarget(description string) *ProtocolError {
	return &ProtocolError{Code: "invalid_target", Description: description, Status: 400}
}

// NewInvalidRequest reports a malformed token request.
func NewInvalidRequest(description string) *ProtocolError {
	return &ProtocolError{Code: "invalid_request", Description: description, Status: 400}
}

// NewUnsupportedGrantType reports a grant_type no handler is registered for.
func NewUnsupportedGrantType(grantType string) *ProtocolError {
	return &ProtocolError{Code: "unsupported_grant_type", Description: grantType, Status: 400}
}
