package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Collaborator clients return these
// (optionally wrapped) so callers can branch with errors.Is without knowing
// the transport.
//
// For business rejections carrying a reason code, use pkg/domain-errors.
var ErrUnavailable = errors.New("unavailable")
